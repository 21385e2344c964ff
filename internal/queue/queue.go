package queue

import (
	"fmt"
	"sync"
)

// ErrTaskLimitReached is returned by SubmitTask when the occurrence
// already has MaxActiveTasks tasks in pending/active status.
var ErrTaskLimitReached = fmt.Errorf("queue: max_active_tasks reached")

// Queue is a per-occurrence FIFO of Tasks, each with a nested bounded
// thought queue (spec §4.5). A single processor goroutine owns writes;
// observation producers enqueue through channel-safe methods guarded by a
// mutex (spec §5: "Task/thought queue: single processor thread writes;
// observation adapters send via a channel" — we use a mutex-guarded struct
// rather than a raw channel so SubmitObservation can also return a task_id
// synchronously, and updated_info_available can be set on an existing task
// without racing the processor's pop loop).
type Queue struct {
	maxActiveTasks    int
	maxActiveThoughts int

	mu          sync.Mutex
	order       []string // task IDs in creation order, across all statuses
	tasks       map[string]*Task
	byChannel   map[string]string // channelRef -> active/pending task ID
	thoughts    map[string][]*Thought
}

// New builds a Queue bounded by maxActiveTasks concurrently pending/active
// tasks and maxActiveThoughts popped per processor round.
func New(maxActiveTasks, maxActiveThoughts int) *Queue {
	return &Queue{
		maxActiveTasks:    maxActiveTasks,
		maxActiveThoughts: maxActiveThoughts,
		tasks:             make(map[string]*Task),
		byChannel:         make(map[string]string),
		thoughts:          make(map[string][]*Thought),
	}
}

// SubmitTask enqueues a new task, or — if the channel already has an
// active/pending task — marks that existing task's UpdatedInfoAvailable
// flag instead of creating a new one (spec §4.5: "Observations arriving on
// the same channel for an already-active task do NOT create a new task").
// Returns the task ID that now owns the observation.
func (q *Queue) SubmitTask(task *Task) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if existingID, ok := q.byChannel[task.ChannelRef]; ok {
		if existing := q.tasks[existingID]; existing != nil &&
			(existing.Status == TaskPending || existing.Status == TaskActive) {
			existing.UpdatedInfoAvailable = true
			existing.UpdatedAt = task.CreatedAt
			return existing.TaskID, nil
		}
	}

	if q.activeOrPendingCountLocked() >= q.maxActiveTasks {
		return "", ErrTaskLimitReached
	}

	task.Status = TaskPending
	q.tasks[task.TaskID] = task
	q.order = append(q.order, task.TaskID)
	q.byChannel[task.ChannelRef] = task.TaskID
	return task.TaskID, nil
}

func (q *Queue) activeOrPendingCountLocked() int {
	n := 0
	for _, id := range q.order {
		t := q.tasks[id]
		if t.Status == TaskPending || t.Status == TaskActive {
			n++
		}
	}
	return n
}

// NextPendingTask returns (and transitions to active) the oldest pending
// task, or nil if none. Tasks within a channel are naturally serialized
// because SubmitTask never creates a second concurrently-live task for the
// same channel (spec §5 ordering guarantees).
func (q *Queue) NextPendingTask() *Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, id := range q.order {
		t := q.tasks[id]
		if t.Status == TaskPending {
			t.Status = TaskActive
			return t
		}
	}
	return nil
}

// Task returns a task by ID, or nil.
func (q *Queue) Task(id string) *Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.tasks[id]
}

// Transition moves a task to a new status, enforcing the status graph
// (spec §3). authorityApproved must be true to move Deferred -> Pending.
func (q *Queue) Transition(taskID string, to TaskStatus, authorityApproved bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	t := q.tasks[taskID]
	if t == nil {
		return fmt.Errorf("queue: unknown task %s", taskID)
	}
	if !CanTransition(t.Status, to) {
		return fmt.Errorf("queue: illegal transition %s -> %s for task %s", t.Status, to, taskID)
	}
	if t.Status == TaskDeferred && to == TaskPending && !authorityApproved {
		return fmt.Errorf("queue: deferred->pending requires authority resolution for task %s", taskID)
	}
	t.Status = to
	if to == TaskCompleted || to == TaskRejected {
		delete(q.byChannel, t.ChannelRef)
	}
	return nil
}

// PushThought appends a thought to its task's nested thought queue.
func (q *Queue) PushThought(th *Thought) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.thoughts[th.TaskID] = append(q.thoughts[th.TaskID], th)
}

// PopThoughts removes and returns up to maxActiveThoughts thoughts across
// all tasks, oldest-task-first then insertion order within a task, so that
// "within a single Task, Thoughts are processed in insertion order" (spec
// §5) while still bounding a single round's work.
func (q *Queue) PopThoughts() []*Thought {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []*Thought
	for _, taskID := range q.order {
		if len(out) >= q.maxActiveThoughts {
			break
		}
		pending := q.thoughts[taskID]
		if len(pending) == 0 {
			continue
		}
		take := q.maxActiveThoughts - len(out)
		if take > len(pending) {
			take = len(pending)
		}
		out = append(out, pending[:take]...)
		q.thoughts[taskID] = pending[take:]
	}
	return out
}

// PendingThoughtCount reports the total number of thoughts still queued
// across all tasks.
func (q *Queue) PendingThoughtCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, ts := range q.thoughts {
		n += len(ts)
	}
	return n
}

// ActiveTaskCount reports the number of pending+active tasks (used by
// tests, e.g. multi-occurrence isolation, spec §8 S5).
func (q *Queue) ActiveTaskCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.activeOrPendingCountLocked()
}
