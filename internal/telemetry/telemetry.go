// Package telemetry implements the pull-model metrics aggregator (spec
// §4.11): on request, fan out in parallel to every registered service and
// bus, tolerate individual failures, and return one unified snapshot.
// Grounded on the teacher's core/consciousness/interest_pattern_tracker.go-
// style periodic stats collection, generalized from a single in-process
// tracker to a registry-wide parallel pull using registry.Broadcast.
package telemetry

import (
	"context"
	"log/slog"
	"time"

	"github.com/CIRISAI/CIRISAgent/internal/registry"
)

// BusMetrics extends the standard registry.Metrics with the three
// bus-specific fields spec §4.11 calls out ("Buses additionally report
// active_subscriptions, queue_depth, average_latency").
type BusMetrics struct {
	registry.Metrics
	ActiveSubscriptions int
	QueueDepth          int
	AverageLatency      time.Duration
}

// ServiceSnapshot pairs one provider's identity with whatever metrics it
// reported (or a healthy=false placeholder if the provider reported itself
// unhealthy).
type ServiceSnapshot struct {
	Kind       registry.Kind
	ProviderID string
	Metrics    registry.Metrics
}

// Snapshot is the unified result of one aggregation pass.
type Snapshot struct {
	TakenAt  time.Time
	Services []ServiceSnapshot
}

// Aggregator pulls Metrics from every MetricsProvider registered across
// every Kind.
type Aggregator struct {
	registry *registry.Registry
	kinds    []registry.Kind
	timeout  time.Duration
}

// NewAggregator builds an Aggregator over the given registry, polling the
// six bus-fronted kinds (spec §4.4); no other kinds are polled.
func NewAggregator(r *registry.Registry, timeout time.Duration) *Aggregator {
	return &Aggregator{
		registry: r,
		timeout:  timeout,
		kinds: []registry.Kind{
			registry.KindMemory, registry.KindLanguageModel, registry.KindWisdom,
			registry.KindTool, registry.KindCommunication, registry.KindRuntimeControl,
		},
	}
}

// Collect fans out to every eligible provider of every tracked kind in
// parallel (via registry.Broadcast, one call per kind so a provider
// registered under several kinds is polled once per registration), and
// returns a Snapshot of whatever succeeded — a failed pull never discards
// the rest of that kind's results, since registry.Broadcast always
// returns every success alongside a (possibly non-nil) *multierror.Error
// for the failures. Those per-provider errors are logged, not swallowed.
func (a *Aggregator) Collect(ctx context.Context) Snapshot {
	cctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	var all []ServiceSnapshot
	for _, kind := range a.kinds {
		kind := kind
		results, err := registry.Broadcast(cctx, a.registry, kind, "", func(gctx context.Context, p registry.Provider) (ServiceSnapshot, error) {
			if !p.Healthy(gctx) {
				// Tolerated individually (spec §4.11): an unhealthy provider
				// still gets a slot in the snapshot, just with Healthy=false,
				// rather than vanishing from it. Returning it as a plain
				// value (not an error) also means registry.Broadcast records
				// it as a success and does not trip its circuit breaker —
				// the provider answered honestly about its own health, which
				// is not a transport failure.
				return ServiceSnapshot{Kind: kind, ProviderID: p.ProviderID(), Metrics: registry.Metrics{Healthy: false}}, nil
			}
			mp, ok := p.(registry.MetricsProvider)
			if !ok {
				return ServiceSnapshot{Kind: kind, ProviderID: p.ProviderID(), Metrics: registry.Metrics{Healthy: true}}, nil
			}
			return ServiceSnapshot{Kind: kind, ProviderID: p.ProviderID(), Metrics: mp.GetMetrics(gctx)}, nil
		})
		if err != nil {
			slog.Warn("telemetry: some providers failed to report metrics", "kind", kind, "error", err)
		}
		all = append(all, results...)
	}
	return Snapshot{TakenAt: time.Now().UTC(), Services: all}
}
