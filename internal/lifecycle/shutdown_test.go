package lifecycle

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ed25519"
)

func TestShutdownDrainRunsSyncThenAsyncHandlers(t *testing.T) {
	ctx := context.Background()
	c := NewShutdownCoordinator(time.Second, func() {})

	var mu sync.Mutex
	var order []string
	asyncDone := make(chan struct{})

	c.Register(ShutdownHandler{
		Name: "audit-flush",
		Sync: func(context.Context) error {
			mu.Lock()
			order = append(order, "sync")
			mu.Unlock()
			return nil
		},
	})
	c.Register(ShutdownHandler{
		Name: "telemetry-final-push",
		Async: func(context.Context) error {
			mu.Lock()
			order = append(order, "async")
			mu.Unlock()
			close(asyncDone)
			return nil
		},
	})

	err := c.Drain(ctx,
		func(context.Context) error { return nil },
		func(context.Context) error { return nil },
	)
	require.NoError(t, err)

	select {
	case <-asyncDone:
	case <-time.After(time.Second):
		t.Fatal("async handler never ran")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, "sync", order[0])
}

func TestShutdownDrainStopsAcceptingObservationsAfterSyncStage(t *testing.T) {
	ctx := context.Background()
	c := NewShutdownCoordinator(time.Second, func() {})
	require.True(t, c.AcceptingObservations())

	err := c.Drain(ctx,
		func(context.Context) error { return nil },
		func(context.Context) error { return nil },
	)
	require.NoError(t, err)
	require.False(t, c.AcceptingObservations())
}

func TestShutdownDrainAbortsOnSyncHandlerFailure(t *testing.T) {
	ctx := context.Background()
	c := NewShutdownCoordinator(time.Second, func() {})
	c.Register(ShutdownHandler{
		Name: "critical-flush",
		Sync: func(context.Context) error { return errors.New("flush failed") },
	})

	var persisted bool
	err := c.Drain(ctx,
		func(context.Context) error { return nil },
		func(context.Context) error { persisted = true; return nil },
	)
	require.Error(t, err)
	require.False(t, persisted, "persist should not run if a sync handler aborts the drain")
}

func TestShutdownDrainPersistsEvenWhenActiveDrainTimesOut(t *testing.T) {
	ctx := context.Background()
	c := NewShutdownCoordinator(20*time.Millisecond, func() {})

	var persisted atomic.Bool
	err := c.Drain(ctx,
		func(gctx context.Context) error {
			<-gctx.Done()
			return gctx.Err()
		},
		func(context.Context) error { persisted.Store(true); return nil },
	)
	require.Error(t, err)
	require.True(t, persisted.Load())
}

func TestEmergencyShutdownInvokesKillAfterBestEffort(t *testing.T) {
	ctx := context.Background()
	killed := make(chan struct{})
	c := NewShutdownCoordinator(time.Second, func() { close(killed) })

	var bestEffortRan atomic.Bool
	c.EmergencyShutdown(ctx, func(context.Context) error {
		bestEffortRan.Store(true)
		return nil
	})

	select {
	case <-killed:
	case <-time.After(time.Second):
		t.Fatal("kill was never invoked")
	}
	require.True(t, bestEffortRan.Load())
}

func TestEmergencyShutdownKillsEvenIfBestEffortHangs(t *testing.T) {
	ctx := context.Background()
	killed := make(chan struct{})
	c := NewShutdownCoordinator(time.Second, func() { close(killed) })

	start := time.Now()
	c.EmergencyShutdown(ctx, func(bctx context.Context) error {
		time.Sleep(2 * time.Second)
		return nil
	})

	select {
	case <-killed:
	case <-time.After(7 * time.Second):
		t.Fatal("kill was never invoked within the emergency timeout")
	}
	require.Less(t, time.Since(start), 7*time.Second)
}

func TestVerifyEmergencyCommandAcceptsValidUnexpiredSignature(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	cmd := EmergencyCommand{
		Command:   "force-shutdown",
		IssuedAt:  now,
		ExpiresAt: now.Add(5 * time.Minute),
	}
	cmd.Signature = ed25519.Sign(priv, cmd.canonicalBytes())

	require.NoError(t, VerifyEmergencyCommand(pub, cmd, now.Add(time.Minute)))
}

func TestVerifyEmergencyCommandRejectsExpired(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	cmd := EmergencyCommand{
		Command:   "force-shutdown",
		IssuedAt:  now,
		ExpiresAt: now.Add(5 * time.Minute),
	}
	cmd.Signature = ed25519.Sign(priv, cmd.canonicalBytes())

	err = VerifyEmergencyCommand(pub, cmd, now.Add(10*time.Minute))
	require.Error(t, err)
	var rejected ErrEmergencyCommandRejected
	require.ErrorAs(t, err, &rejected)
}

func TestVerifyEmergencyCommandRejectsBadSignature(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	_, otherPriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	cmd := EmergencyCommand{
		Command:   "force-shutdown",
		IssuedAt:  now,
		ExpiresAt: now.Add(5 * time.Minute),
	}
	cmd.Signature = ed25519.Sign(otherPriv, cmd.canonicalBytes())

	err = VerifyEmergencyCommand(pub, cmd, now)
	require.Error(t, err)
}

func TestVerifyEmergencyCommandRejectsMissingSignature(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	cmd := EmergencyCommand{
		Command:   "force-shutdown",
		IssuedAt:  now,
		ExpiresAt: now.Add(5 * time.Minute),
	}

	err = VerifyEmergencyCommand(pub, cmd, now)
	require.Error(t, err)
}
