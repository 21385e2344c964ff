// Package clockid is the single source of truth for wall/monotonic time and
// for generating sortable, collision-resistant identifiers. No other
// component reads the OS clock directly; every timestamp passed between
// components originates here.
package clockid

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Clock produces UTC wall-clock timestamps. Now converts to UTC, which drops
// Go's monotonic clock reading, so Since is a wall-clock difference, not a
// monotonic one. Construct a Clock with New or NewFrozen: the zero value
// has no time source. NewFrozen gives tests deterministic time without
// touching global state.
type Clock struct {
	mu  sync.Mutex
	now func() time.Time
}

// New returns a Clock backed by the real OS clock.
func New() *Clock {
	return &Clock{now: time.Now}
}

// NewFrozen returns a Clock that always reports t, for deterministic tests.
func NewFrozen(t time.Time) *Clock {
	return &Clock{now: func() time.Time { return t }}
}

// Now returns the current UTC time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now().UTC()
}

// Since returns the wall-clock duration elapsed since t (Now() minus t).
func (c *Clock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

// IDGenerator produces time-prefixed, collision-resistant identifiers of the
// form "<prefix>-<RFC3339Nano-ish sortable stamp>-<32 hex digits of a v4 UUID>".
// The time prefix keeps IDs lexicographically sortable by creation order,
// which the typed graph store's previous-in-chain lookup (graph.Store)
// depends on.
type IDGenerator struct {
	clock *Clock
}

// NewIDGenerator builds an IDGenerator over the given clock.
func NewIDGenerator(clock *Clock) *IDGenerator {
	if clock == nil {
		clock = New()
	}
	return &IDGenerator{clock: clock}
}

// New generates a new ID with the given logical prefix (e.g. "task",
// "thought", "summary/incident"). The prefix becomes part of the sortable
// key space used by id-prefix search and temporal-chain lookups. The
// random suffix is a v4 UUID's hex digits (dashes stripped so it doesn't
// collide with the "-" field separator) rather than hand-rolled
// crypto/rand bytes.
func (g *IDGenerator) New(prefix string) string {
	stamp := g.clock.Now().Format("20060102T150405.000000000Z")
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("%s-%s-%s", prefix, stamp, suffix)
}
