package bus

import (
	"context"
	"time"

	"github.com/CIRISAI/CIRISAgent/internal/graph"
	"github.com/CIRISAI/CIRISAgent/internal/registry"
)

// MemoryProvider is the registry-facing contract a graph backend must
// satisfy to sit behind the memory bus.
type MemoryProvider interface {
	registry.Provider
	Put(ctx context.Context, node *graph.Node) (*graph.Node, error)
	Get(ctx context.Context, occurrenceID, id string) (*graph.Node, error)
	Search(ctx context.Context, occurrenceID string, filter graph.Filter) ([]*graph.Node, error)
	Forget(ctx context.Context, occurrenceID, id string) error
}

// MemoryBus fronts MEMORIZE/RECALL/FORGET (spec §4.4, §4.7) over whichever
// graph store the registry has registered under registry.KindMemory.
type MemoryBus struct {
	registry *registry.Registry
	timeout  time.Duration
	strategy registry.Strategy
}

// NewMemoryBus builds a MemoryBus. A production deployment registers
// exactly one MemoryProvider (the SQLite-backed graph.Store); multiple
// registrations can sit alongside it, but every MemoryBus call asks the
// registry with no capability and StrategyFirst, so the highest-priority
// registration whose breaker is not open serves it.
func NewMemoryBus(r *registry.Registry, timeout time.Duration) *MemoryBus {
	return &MemoryBus{registry: r, timeout: timeout, strategy: registry.StrategyFirst}
}

func (b *MemoryBus) Memorize(ctx context.Context, node *graph.Node) (*graph.Node, error) {
	return call(ctx, b.registry, registry.KindMemory, "", b.strategy, b.timeout,
		func(cctx context.Context, p registry.Provider) (*graph.Node, error) {
			return p.(MemoryProvider).Put(cctx, node)
		})
}

func (b *MemoryBus) Recall(ctx context.Context, occurrenceID string, filter graph.Filter) ([]*graph.Node, error) {
	return call(ctx, b.registry, registry.KindMemory, "", b.strategy, b.timeout,
		func(cctx context.Context, p registry.Provider) ([]*graph.Node, error) {
			return p.(MemoryProvider).Search(cctx, occurrenceID, filter)
		})
}

func (b *MemoryBus) RecallOne(ctx context.Context, occurrenceID, id string) (*graph.Node, error) {
	return call(ctx, b.registry, registry.KindMemory, "", b.strategy, b.timeout,
		func(cctx context.Context, p registry.Provider) (*graph.Node, error) {
			return p.(MemoryProvider).Get(cctx, occurrenceID, id)
		})
}

func (b *MemoryBus) Forget(ctx context.Context, occurrenceID, id string) error {
	_, err := call(ctx, b.registry, registry.KindMemory, "", b.strategy, b.timeout,
		func(cctx context.Context, p registry.Provider) (struct{}, error) {
			return struct{}{}, p.(MemoryProvider).Forget(cctx, occurrenceID, id)
		})
	return err
}

// StoreAdapter wraps a graph.Store so it can register as a MemoryProvider;
// graph.Store itself carries no provider identity or health check, since
// those are registry/bus concerns, not storage-layer ones.
type StoreAdapter struct {
	graph.Store
	id string
}

func NewStoreAdapter(id string, s graph.Store) *StoreAdapter {
	return &StoreAdapter{Store: s, id: id}
}

func (a *StoreAdapter) ProviderID() string { return a.id }

func (a *StoreAdapter) Healthy(ctx context.Context) bool {
	_, err := a.Store.Search(ctx, "__health__", graph.Filter{Limit: 1})
	return err == nil
}
