// Package bus implements the six message buses (spec §4.4): thin
// coordinators that pick a provider from the service registry, invoke it
// under a deadline, and record the outcome back onto the breaker. It is
// grounded on the teacher's core/llm/multi_provider.go MultiProviderLLM,
// which tries providers "in order of priority" and falls back on error —
// generalized here to operate over registry.Registry instead of a fixed
// provider slice, and split across the six service kinds the spec defines.
package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/CIRISAI/CIRISAgent/internal/ciriserr"
	"github.com/CIRISAI/CIRISAgent/internal/registry"
)

// ErrNoProvider is returned when the registry has no healthy provider for
// the requested kind/capability.
type ErrNoProvider struct {
	Kind       registry.Kind
	Capability string
}

func (e ErrNoProvider) Error() string {
	return fmt.Sprintf("bus: no provider for kind=%s capability=%q", e.Kind, e.Capability)
}

// call resolves a provider for kind/capability via strategy, invokes fn
// under timeout, and records success/failure on the returned provider's
// breaker — the shared shape every bus method below follows.
func call[T any](ctx context.Context, r *registry.Registry, kind registry.Kind, capability string, strategy registry.Strategy, timeout time.Duration, fn func(ctx context.Context, p registry.Provider) (T, error)) (T, error) {
	var zero T
	p, err := r.Get(ctx, kind, capability, strategy)
	if err != nil {
		return zero, ciriserr.New(ciriserr.KindTransientService, fmt.Sprintf("bus.%s", kind), ErrNoProvider{Kind: kind, Capability: capability})
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, callErr := fn(cctx, p)
	if callErr != nil {
		r.RecordFailure(kind, p.ProviderID())
		return zero, ciriserr.New(ciriserr.KindTransientService, fmt.Sprintf("bus.%s", kind), callErr)
	}
	r.RecordSuccess(kind, p.ProviderID())
	return result, nil
}
