package state

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingLogger struct {
	events []string
	fail   bool
}

func (l *recordingLogger) LogTransition(ctx context.Context, from, to State, reason string) error {
	if l.fail {
		return context.DeadlineExceeded
	}
	l.events = append(l.events, string(from)+"->"+string(to))
	return nil
}

func TestMachineStartsInWakeup(t *testing.T) {
	m := NewMachine(nil)
	require.Equal(t, StateWakeup, m.Current())
}

func TestMachineHappyPathTransitions(t *testing.T) {
	logger := &recordingLogger{}
	m := NewMachine(logger)
	ctx := context.Background()

	require.NoError(t, m.Transition(ctx, StateWork, 0, "boot complete"))
	require.NoError(t, m.Transition(ctx, StateSolitude, 0, "reflection window"))
	require.NoError(t, m.Transition(ctx, StateDream, 0, "no active tasks"))
	require.NoError(t, m.Transition(ctx, StateWork, 0, "dream cycle complete"))
	require.Equal(t, StateWork, m.Current())
	require.Equal(t, []string{"WAKEUP->WORK", "WORK->SOLITUDE", "SOLITUDE->DREAM", "DREAM->WORK"}, logger.events)
}

func TestMachineRejectsIllegalTransition(t *testing.T) {
	m := NewMachine(nil)
	ctx := context.Background()
	err := m.Transition(ctx, StateDream, 0, "skip WORK entirely")
	require.Error(t, err)
	var target ErrIllegalTransition
	require.ErrorAs(t, err, &target)
	require.Equal(t, StateWakeup, m.Current())
}

func TestMachineRejectsDreamWithActiveTasks(t *testing.T) {
	m := NewMachine(nil)
	ctx := context.Background()
	require.NoError(t, m.Transition(ctx, StateWork, 0, "boot complete"))

	err := m.Transition(ctx, StateDream, 2, "attempting dream while busy")
	require.Error(t, err)
	require.Equal(t, StateWork, m.Current())
}

func TestMachineEmergencyShutdownFromAnyState(t *testing.T) {
	for _, from := range []State{StateWakeup, StateWork, StatePlay, StateSolitude, StateDream} {
		m := NewMachine(nil)
		ctx := context.Background()
		switch from {
		case StateWork:
			require.NoError(t, m.Transition(ctx, StateWork, 0, "setup"))
		case StatePlay:
			require.NoError(t, m.Transition(ctx, StateWork, 0, "setup"))
			require.NoError(t, m.Transition(ctx, StatePlay, 0, "setup"))
		case StateSolitude:
			require.NoError(t, m.Transition(ctx, StateWork, 0, "setup"))
			require.NoError(t, m.Transition(ctx, StateSolitude, 0, "setup"))
		case StateDream:
			require.NoError(t, m.Transition(ctx, StateWork, 0, "setup"))
			require.NoError(t, m.Transition(ctx, StateDream, 0, "setup"))
		}
		require.NoError(t, m.Transition(ctx, StateShutdown, 0, "emergency"))
		require.Equal(t, StateShutdown, m.Current())
	}
}

func TestMachineLoggerFailureLeavesStateUnchanged(t *testing.T) {
	m := NewMachine(&recordingLogger{fail: true})
	ctx := context.Background()
	err := m.Transition(ctx, StateWork, 0, "boot complete")
	require.Error(t, err)
	require.Equal(t, StateWakeup, m.Current())
}
