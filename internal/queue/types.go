// Package queue implements the Task & Thought data model and the per-
// occurrence bounded FIFO queue that feeds the DMA cascade (spec §4.5,
// §3). The runtime owns this queue; Thoughts reference their Task by ID
// only (spec Design Notes §9: "store IDs only; resolve via lookups ...
// never hold back-pointers", replacing the source's cyclic thought -> task
// -> thought-list references).
package queue

import "time"

// TaskStatus is the lifecycle state of a Task (spec §3).
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskActive    TaskStatus = "active"
	TaskDeferred  TaskStatus = "deferred"
	TaskCompleted TaskStatus = "completed"
	TaskRejected  TaskStatus = "rejected"
)

// Task is the outer unit of work (spec §3).
type Task struct {
	TaskID       string
	OccurrenceID string
	ChannelRef   string
	Status       TaskStatus
	Context      map[string]any
	Images       []string
	CreatedAt    time.Time
	UpdatedAt    time.Time

	// UpdatedInfoAvailable is set when a new observation lands on this
	// task's channel while it is already active (spec §4.5); the
	// conscience's updated-info check (spec §4.6) reads this flag.
	UpdatedInfoAvailable bool
}

// validTaskTransitions encodes the allowed status graph (spec §3 invariant:
// "status transitions obey {pending->active->(completed|deferred|rejected)};
// deferred->pending only via authority resolution").
var validTaskTransitions = map[TaskStatus]map[TaskStatus]bool{
	TaskPending:   {TaskActive: true},
	TaskActive:    {TaskCompleted: true, TaskDeferred: true, TaskRejected: true},
	TaskDeferred:  {TaskPending: true}, // only via authority resolution; caller must gate this
	TaskCompleted: {},
	TaskRejected:  {},
}

// CanTransition reports whether moving from -> to is allowed by the status
// graph. Callers enforcing the "authority resolution only" rule for
// deferred->pending must additionally check authorization before calling
// Transition.
func CanTransition(from, to TaskStatus) bool {
	return validTaskTransitions[from][to]
}

// Thought is one reasoning step inside a Task (spec §3).
type Thought struct {
	ThoughtID         string
	TaskID            string
	ParentThoughtID   string // empty for the task's initial thought
	Content           string
	Depth             int
	PonderNotes       []string
	ConscienceFeedback []string
	CreatedAt         time.Time
}

// IsInitial reports whether this is depth-0 thought (the task's first).
func (t *Thought) IsInitial() bool { return t.Depth == 0 && t.ParentThoughtID == "" }
