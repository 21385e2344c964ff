// Package action implements the ten-verb action dispatcher (spec §4.7):
// translating an accepted dma.Selection into side effects on the message
// buses, and into either task-terminal status changes or a follow-up
// Thought fed back into the queue.
package action

import (
	"github.com/CIRISAI/CIRISAgent/internal/queue"
)

// Status is the outcome of dispatching one Selection.
type Status string

const (
	// StatusFollowUp means a new Thought was queued for the same task.
	StatusFollowUp Status = "follow_up"
	// StatusTaskTerminal means the owning task moved to a terminal status
	// (completed, deferred, rejected) and no follow-up thought was queued.
	StatusTaskTerminal Status = "task_terminal"
)

// HandlerResult is what every verb handler returns (spec §4.7: "handlers
// return {status, follow_up_thought?, side_effects}").
type HandlerResult struct {
	Status         Status
	FollowUpThought *queue.Thought
	SideEffects    []string
	TaskStatus     queue.TaskStatus // meaningful only when Status == StatusTaskTerminal
}
