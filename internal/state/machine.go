// Package state implements the cognitive state machine (spec §4.8):
// WAKEUP -> WORK -> {PLAY, SOLITUDE, DREAM} -> ... -> SHUTDOWN, with
// explicit, logged, and validated transitions. Grounded on the teacher's
// core/autonomous/autonomous_consciousness.go state-flag switching (Awake/
// Dreaming/Reflecting booleans driving behavior), generalized here into an
// actual enum-valued state machine with a transition table instead of
// independent booleans that could go out of sync.
package state

import (
	"context"
	"fmt"
	"sync"
)

// State is one of the six cognitive states (spec §4.8).
type State string

const (
	StateWakeup   State = "WAKEUP"
	StateWork     State = "WORK"
	StatePlay     State = "PLAY"
	StateSolitude State = "SOLITUDE"
	StateDream    State = "DREAM"
	StateShutdown State = "SHUTDOWN"
)

// ErrIllegalTransition is returned when a requested transition is not in
// the allowed table, or when DREAM is requested while tasks are active.
type ErrIllegalTransition struct {
	From, To State
	Reason   string
}

func (e ErrIllegalTransition) Error() string {
	return fmt.Sprintf("state: illegal transition %s -> %s: %s", e.From, e.To, e.Reason)
}

// validTransitions encodes spec §4.8's prose into a table. SHUTDOWN is
// reachable from every non-terminal state (the emergency path), and is
// itself terminal.
var validTransitions = map[State]map[State]bool{
	StateWakeup:   {StateWork: true, StateShutdown: true},
	StateWork:     {StatePlay: true, StateSolitude: true, StateDream: true, StateShutdown: true},
	StatePlay:     {StateWork: true, StateShutdown: true},
	StateSolitude: {StateWork: true, StateDream: true, StateShutdown: true},
	StateDream:    {StateWork: true, StateShutdown: true},
	StateShutdown: {},
}

// TransitionLogger records a state change to the audit chain (spec §4.8:
// "Transitions are explicit and logged to the audit chain"). Implemented
// by the audit package's Writer; kept as a narrow interface here so state
// does not import audit.
type TransitionLogger interface {
	LogTransition(ctx context.Context, from, to State, reason string) error
}

// noopLogger is used when no logger is supplied (e.g. in tests): NewMachine
// substitutes it for a nil logger, and transitions are then recorded
// nowhere.
type noopLogger struct{}

func (noopLogger) LogTransition(ctx context.Context, from, to State, reason string) error { return nil }

// Machine owns the single current cognitive state for one occurrence.
type Machine struct {
	mu      sync.Mutex
	current State
	logger  TransitionLogger
}

// NewMachine starts a Machine in WAKEUP (spec §4.8: every occurrence boots
// through WAKEUP). A nil logger is replaced with a no-op.
func NewMachine(logger TransitionLogger) *Machine {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Machine{current: StateWakeup, logger: logger}
}

// Current returns the active state.
func (m *Machine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Transition moves the machine from its current state to to, validating
// against the transition table and, for DREAM specifically, against
// activeTaskCount (spec §4.8: "cannot be entered while tasks are active").
// A successful transition is logged via the Machine's TransitionLogger
// before the in-memory state is updated, so a logger failure leaves the
// machine in its prior, consistent state.
func (m *Machine) Transition(ctx context.Context, to State, activeTaskCount int, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := m.current
	if !validTransitions[from][to] {
		return ErrIllegalTransition{From: from, To: to, Reason: "not in the allowed transition table"}
	}
	if to == StateDream && activeTaskCount > 0 {
		return ErrIllegalTransition{From: from, To: to, Reason: fmt.Sprintf("%d task(s) still active", activeTaskCount)}
	}
	if err := m.logger.LogTransition(ctx, from, to, reason); err != nil {
		return fmt.Errorf("state: log transition %s -> %s: %w", from, to, err)
	}
	m.current = to
	return nil
}
