package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCoordinatorRunsPhasesInOrder(t *testing.T) {
	ctx := context.Background()
	c := NewCoordinator()

	var mu sync.Mutex
	var order []Phase

	record := func(p Phase) func(context.Context) error {
		return func(context.Context) error {
			mu.Lock()
			order = append(order, p)
			mu.Unlock()
			return nil
		}
	}

	for _, p := range PhaseOrder {
		c.Register(p, Step{Name: string(p) + "-step", Handler: record(p)})
	}

	failures, err := c.Run(ctx)
	require.NoError(t, err)
	require.Empty(t, failures)
	require.Equal(t, PhaseOrder, order)
}

func TestCoordinatorCriticalStepAbortsPhase(t *testing.T) {
	ctx := context.Background()
	c := NewCoordinator()

	c.Register(PhaseInfrastructure, Step{
		Name:    "boom",
		Handler: func(context.Context) error { return errors.New("disk unavailable") },
	})

	var laterRan bool
	c.Register(PhaseDatabase, Step{
		Name:    "open-db",
		Handler: func(context.Context) error { laterRan = true; return nil },
	})

	_, err := c.Run(ctx)
	require.Error(t, err)
	require.False(t, laterRan, "phases after an aborted critical phase must not run")
}

func TestCoordinatorNonCriticalStepContinues(t *testing.T) {
	ctx := context.Background()
	c := NewCoordinator()

	c.Register(PhaseServices, Step{
		Name:        "optional-metrics-exporter",
		NonCritical: true,
		Handler:     func(context.Context) error { return errors.New("exporter unreachable") },
	})

	var laterRan bool
	c.Register(PhaseComponents, Step{
		Name:    "start-components",
		Handler: func(context.Context) error { laterRan = true; return nil },
	})

	failures, err := c.Run(ctx)
	require.NoError(t, err)
	require.True(t, laterRan)
	require.Len(t, failures, 1)
	require.False(t, failures[0].Critical)
	require.Equal(t, "optional-metrics-exporter", failures[0].Step)
}

func TestCoordinatorVerifierFailureIsCriticalByDefault(t *testing.T) {
	ctx := context.Background()
	c := NewCoordinator()

	c.Register(PhaseMemory, Step{
		Name:     "open-graph-store",
		Handler:  func(context.Context) error { return nil },
		Verifier: func(context.Context) error { return errors.New("ping failed") },
	})

	_, err := c.Run(ctx)
	require.Error(t, err)
}

func TestCoordinatorStepTimeoutIsEnforced(t *testing.T) {
	ctx := context.Background()
	c := NewCoordinator()
	c.stepTimeout = 10 * time.Millisecond

	c.Register(PhaseInfrastructure, Step{
		Name: "hangs",
		Handler: func(sctx context.Context) error {
			<-sctx.Done()
			return sctx.Err()
		},
	})

	start := time.Now()
	_, err := c.Run(ctx)
	require.Error(t, err)
	require.Less(t, time.Since(start), time.Second)
}

func TestCoordinatorSkipsPhasesWithNoRegisteredSteps(t *testing.T) {
	ctx := context.Background()
	c := NewCoordinator()
	c.Register(PhaseVerification, Step{Name: "final-check", Handler: func(context.Context) error { return nil }})

	failures, err := c.Run(ctx)
	require.NoError(t, err)
	require.Empty(t, failures)
}
