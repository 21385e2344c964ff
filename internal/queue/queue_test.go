package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSubmitTaskDedupesByChannel(t *testing.T) {
	q := New(10, 50)
	id1, err := q.SubmitTask(&Task{TaskID: "t1", ChannelRef: "api:c1", CreatedAt: time.Now()})
	require.NoError(t, err)

	id2, err := q.SubmitTask(&Task{TaskID: "t2", ChannelRef: "api:c1", CreatedAt: time.Now()})
	require.NoError(t, err)
	require.Equal(t, id1, id2)

	task := q.Task(id1)
	require.True(t, task.UpdatedInfoAvailable)
	require.Equal(t, 1, q.ActiveTaskCount())
}

func TestSubmitTaskEnforcesMaxActiveTasks(t *testing.T) {
	q := New(1, 50)
	_, err := q.SubmitTask(&Task{TaskID: "t1", ChannelRef: "api:c1", CreatedAt: time.Now()})
	require.NoError(t, err)

	_, err = q.SubmitTask(&Task{TaskID: "t2", ChannelRef: "api:c2", CreatedAt: time.Now()})
	require.ErrorIs(t, err, ErrTaskLimitReached)
}

func TestTaskStatusGraph(t *testing.T) {
	q := New(10, 50)
	_, err := q.SubmitTask(&Task{TaskID: "t1", ChannelRef: "api:c1", CreatedAt: time.Now()})
	require.NoError(t, err)

	require.NoError(t, q.Transition("t1", TaskActive, false))
	require.NoError(t, q.Transition("t1", TaskDeferred, false))

	err = q.Transition("t1", TaskPending, false)
	require.Error(t, err, "deferred->pending without authority must be rejected")

	require.NoError(t, q.Transition("t1", TaskPending, true))

	require.NoError(t, q.Transition("t1", TaskActive, false))
	require.NoError(t, q.Transition("t1", TaskCompleted, false))
	require.Error(t, q.Transition("t1", TaskActive, false), "completed is terminal")
}

func TestPopThoughtsRespectsInsertionOrderPerTask(t *testing.T) {
	q := New(10, 50)
	_, err := q.SubmitTask(&Task{TaskID: "t1", ChannelRef: "api:c1", CreatedAt: time.Now()})
	require.NoError(t, err)

	q.PushThought(&Thought{ThoughtID: "th1", TaskID: "t1", Depth: 0})
	q.PushThought(&Thought{ThoughtID: "th2", TaskID: "t1", Depth: 1})

	out := q.PopThoughts()
	require.Len(t, out, 2)
	require.Equal(t, "th1", out[0].ThoughtID)
	require.Equal(t, "th2", out[1].ThoughtID)
}

func TestPopThoughtsBoundedPerRound(t *testing.T) {
	q := New(10, 1)
	_, err := q.SubmitTask(&Task{TaskID: "t1", ChannelRef: "api:c1", CreatedAt: time.Now()})
	require.NoError(t, err)
	q.PushThought(&Thought{ThoughtID: "th1", TaskID: "t1"})
	q.PushThought(&Thought{ThoughtID: "th2", TaskID: "t1"})

	first := q.PopThoughts()
	require.Len(t, first, 1)
	require.Equal(t, 1, q.PendingThoughtCount())

	second := q.PopThoughts()
	require.Len(t, second, 1)
	require.Equal(t, "th2", second[0].ThoughtID)
}
