package lifecycle

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/crypto/ed25519"
)

// ShutdownHandler is one registered participant in the drain sequence
// (spec §4.10: "broadcast to every registered shutdown handler, sync
// first then async").
type ShutdownHandler struct {
	Name  string
	Sync  func(ctx context.Context) error // run and awaited before the drain proceeds
	Async func(ctx context.Context) error // fired without waiting for completion
}

// ShutdownCoordinator runs the five-stage drain sequence (spec §4.10):
// mark SHUTDOWN + broadcast, stop accepting observations, grace-window
// drain of active thoughts, persist state, and an emergency hard-kill
// fallback.
type ShutdownCoordinator struct {
	handlers []ShutdownHandler
	grace    time.Duration
	kill     func()

	mu        sync.Mutex
	accepting bool
}

// NewShutdownCoordinator builds a ShutdownCoordinator with the given
// grace window (spec §6 config shutdown_grace, default 30s). kill is the
// OS-level process-kill path invoked by EmergencyShutdown (spec §4.10
// step 5); passing nil defaults to os.Exit(1).
func NewShutdownCoordinator(grace time.Duration, kill func()) *ShutdownCoordinator {
	if kill == nil {
		kill = func() { os.Exit(1) }
	}
	return &ShutdownCoordinator{grace: grace, kill: kill, accepting: true}
}

func (c *ShutdownCoordinator) Register(h ShutdownHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, h)
}

// AcceptingObservations reports whether new observations should still be
// admitted (spec §4.10 step 2: "cease accepting new observations").
func (c *ShutdownCoordinator) AcceptingObservations() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accepting
}

// Drain runs the coordinated shutdown: stage 1 (mark + broadcast sync
// then async), stage 2 (stop accepting), stage 3 (wait on drainActive up
// to the grace window), stage 4 (persist via the persist callback).
// drainActive should block until every active thought has terminated or
// ctx/the grace deadline fires, whichever comes first.
func (c *ShutdownCoordinator) Drain(ctx context.Context, drainActive func(ctx context.Context) error, persist func(ctx context.Context) error) error {
	c.mu.Lock()
	handlers := append([]ShutdownHandler(nil), c.handlers...)
	c.mu.Unlock()

	for _, h := range handlers {
		if h.Sync == nil {
			continue
		}
		if err := h.Sync(ctx); err != nil {
			return fmt.Errorf("lifecycle: sync shutdown handler %q failed: %w", h.Name, err)
		}
	}
	for _, h := range handlers {
		if h.Async == nil {
			continue
		}
		go func(h ShutdownHandler) { _ = h.Async(ctx) }(h)
	}

	c.mu.Lock()
	c.accepting = false
	c.mu.Unlock()

	gctx, cancel := context.WithTimeout(ctx, c.grace)
	defer cancel()
	if drainActive != nil {
		if err := drainActive(gctx); err != nil {
			// Grace window exceeded or drain failed: persist whatever state
			// exists and surface the error; caller decides whether to call
			// EmergencyShutdown.
			_ = persist(ctx)
			return fmt.Errorf("lifecycle: drain active thoughts: %w", err)
		}
	}

	if persist != nil {
		if err := persist(ctx); err != nil {
			return fmt.Errorf("lifecycle: persist state: %w", err)
		}
	}
	return nil
}

// EmergencyShutdown forces termination after a 5s timeout via the OS-level
// process-kill path (spec §4.10 step 5), running bestEffort (e.g. a final
// persist attempt) first but never letting it block past the timeout.
func (c *ShutdownCoordinator) EmergencyShutdown(ctx context.Context, bestEffort func(ctx context.Context) error) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if bestEffort != nil {
			_ = bestEffort(ctx)
		}
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
	}
	c.kill()
}

// EmergencyCommand is an operator-issued override (e.g. force shutdown
// now), accepted only with a valid, unexpired Ed25519 signature from a
// known authority key (spec §4.10).
type EmergencyCommand struct {
	Command   string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Signature []byte
}

// canonicalBytes is what Signature must cover: Command, IssuedAt and
// ExpiresAt as RFC3339Nano, concatenated with '|' separators. Fixed and
// simple by design — emergency commands carry no free-form payload for an
// attacker to smuggle additional semantics into.
func (cmd EmergencyCommand) canonicalBytes() []byte {
	return []byte(fmt.Sprintf("%s|%s|%s", cmd.Command, cmd.IssuedAt.UTC().Format(time.RFC3339Nano), cmd.ExpiresAt.UTC().Format(time.RFC3339Nano)))
}

// ErrEmergencyCommandRejected is returned by VerifyEmergencyCommand for
// every rejection reason; per spec §4.10 the caller must not log unsigned
// or expired commands beyond this returned error (no separate audit
// trail for rejected emergency commands).
type ErrEmergencyCommandRejected struct{ Reason string }

func (e ErrEmergencyCommandRejected) Error() string {
	return "lifecycle: emergency command rejected: " + e.Reason
}

// VerifyEmergencyCommand checks cmd's signature against authorityKey and
// its expiry against now, returning ErrEmergencyCommandRejected if either
// check fails.
func VerifyEmergencyCommand(authorityKey ed25519.PublicKey, cmd EmergencyCommand, now time.Time) error {
	if now.After(cmd.ExpiresAt) {
		return ErrEmergencyCommandRejected{Reason: "command expired"}
	}
	if len(cmd.Signature) == 0 || !ed25519.Verify(authorityKey, cmd.canonicalBytes(), cmd.Signature) {
		return ErrEmergencyCommandRejected{Reason: "invalid or missing signature"}
	}
	return nil
}
