// Package registry implements the service registry (spec §4.3): a mapping
// from (service kind, optional capability) to an ordered list of providers,
// with health tracking and circuit breakers per provider.
//
// The provider-pool-with-fallback shape is grounded on the teacher's
// core/llm/multi_provider.go MultiProviderLLM, which keeps a slice of
// Provider plus a per-provider ProviderStats map and auto-detects/falls
// back across them; we generalize that from "LLM providers only" to any
// service kind, and add the priority-tier + circuit-breaker selection
// algorithm spec §4.3 requires.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
)

// Kind identifies one of the six bus-fronted service kinds (spec §4.4).
type Kind string

const (
	KindMemory          Kind = "memory"
	KindLanguageModel    Kind = "language_model"
	KindWisdom          Kind = "wisdom"
	KindTool            Kind = "tool"
	KindCommunication   Kind = "communication"
	KindRuntimeControl  Kind = "runtime_control"
)

// BreakerState is the circuit-breaker state machine for one provider.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// Strategy selects among multiple healthy, same-priority-tier providers.
type Strategy string

const (
	StrategyFirst       Strategy = "first"
	StrategyRoundRobin  Strategy = "round_robin"
	StrategyLeastLoaded Strategy = "least_loaded"
)

// Provider is the minimal contract every registered service implements, per
// spec Design Notes §9: "every service implements a Lifecycle contract + a
// service-kind contract + a Metrics contract."
type Provider interface {
	ProviderID() string
	Healthy(ctx context.Context) bool
}

// Metrics is the standard + extension metrics record every service
// produces (spec §4.11).
type Metrics struct {
	Uptime     time.Duration
	Requests   int64
	Errors     int64
	ErrorRate  float64
	Healthy    bool
	Extension  map[string]any
}

// MetricsProvider is implemented by services that can report Metrics.
type MetricsProvider interface {
	GetMetrics(ctx context.Context) Metrics
}

type registration struct {
	provider     Provider
	kind         Kind
	capabilities map[string]bool
	priority     int

	mu               sync.Mutex
	breakerState     BreakerState
	consecutiveFails int
	lastFailure      time.Time
	load             int64 // in-flight request count, for least-loaded strategy
}

// Registry maintains providers per Kind with capability filtering, priority
// ordering, and circuit breakers (spec §4.3).
type Registry struct {
	failureThreshold int
	cooldown         time.Duration

	mu    sync.RWMutex
	byKind map[Kind][]*registration
	rrIdx  map[Kind]int
}

// New builds a Registry. failureThreshold (F) and cooldown (C) govern every
// provider's circuit breaker, per spec §4.3 defaults (3, 60s).
func New(failureThreshold int, cooldown time.Duration) *Registry {
	if failureThreshold <= 0 {
		failureThreshold = 3
	}
	if cooldown <= 0 {
		cooldown = 60 * time.Second
	}
	return &Registry{
		failureThreshold: failureThreshold,
		cooldown:         cooldown,
		byKind:           make(map[Kind][]*registration),
		rrIdx:            make(map[Kind]int),
	}
}

// Register adds a provider for kind with the given priority tier (lower is
// preferred) and capability set.
func (r *Registry) Register(kind Kind, p Provider, priority int, capabilities ...string) {
	caps := make(map[string]bool, len(capabilities))
	for _, c := range capabilities {
		caps[c] = true
	}
	reg := &registration{
		provider:     p,
		kind:         kind,
		capabilities: caps,
		priority:     priority,
		breakerState: BreakerClosed,
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byKind[kind] = append(r.byKind[kind], reg)
	sort.SliceStable(r.byKind[kind], func(i, j int) bool {
		return r.byKind[kind][i].priority < r.byKind[kind][j].priority
	})
}

// Unregister removes a provider by ID from kind.
func (r *Registry) Unregister(kind Kind, providerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	regs := r.byKind[kind]
	out := regs[:0]
	for _, reg := range regs {
		if reg.provider.ProviderID() != providerID {
			out = append(out, reg)
		}
	}
	r.byKind[kind] = out
}

// Get selects one healthy provider for kind (optionally filtered by
// capability), per the spec §4.3 algorithm: filter by capability -> drop
// OPEN breakers -> sort by priority tier -> apply Strategy -> return first.
func (r *Registry) Get(ctx context.Context, kind Kind, capability string, strategy Strategy) (Provider, error) {
	r.mu.Lock()
	candidates := r.eligibleLocked(kind, capability)
	if len(candidates) == 0 {
		r.mu.Unlock()
		return nil, fmt.Errorf("registry: no healthy provider for kind=%s capability=%q", kind, capability)
	}
	chosen := r.pickLocked(kind, candidates, strategy)
	r.mu.Unlock()
	return chosen.provider, nil
}

// eligibleLocked must be called with r.mu held.
func (r *Registry) eligibleLocked(kind Kind, capability string) []*registration {
	var out []*registration
	for _, reg := range r.byKind[kind] {
		if capability != "" && !reg.capabilities[capability] {
			continue
		}
		reg.mu.Lock()
		r.maybeHalfOpenLocked(reg)
		state := reg.breakerState
		reg.mu.Unlock()
		if state == BreakerOpen {
			continue
		}
		out = append(out, reg)
	}
	return out
}

func (r *Registry) pickLocked(kind Kind, candidates []*registration, strategy Strategy) *registration {
	topPriority := candidates[0].priority
	var tier []*registration
	for _, c := range candidates {
		if c.priority == topPriority {
			tier = append(tier, c)
		}
	}
	switch strategy {
	case StrategyRoundRobin:
		idx := r.rrIdx[kind] % len(tier)
		r.rrIdx[kind]++
		return tier[idx]
	case StrategyLeastLoaded:
		best := tier[0]
		for _, c := range tier[1:] {
			if c.load < best.load {
				best = c
			}
		}
		return best
	default: // StrategyFirst
		return tier[0]
	}
}

// maybeHalfOpenLocked transitions an OPEN breaker to HALF_OPEN once the
// cooldown has elapsed. Caller must hold reg.mu.
func (r *Registry) maybeHalfOpenLocked(reg *registration) {
	if reg.breakerState == BreakerOpen && time.Since(reg.lastFailure) >= r.cooldown {
		reg.breakerState = BreakerHalfOpen
	}
}

// RecordSuccess closes the breaker (if half-open) and resets the failure
// count.
func (r *Registry) RecordSuccess(kind Kind, providerID string) {
	reg := r.find(kind, providerID)
	if reg == nil {
		return
	}
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.consecutiveFails = 0
	reg.breakerState = BreakerClosed
}

// RecordFailure increments the failure count and opens the breaker once it
// reaches the configured threshold.
func (r *Registry) RecordFailure(kind Kind, providerID string) {
	reg := r.find(kind, providerID)
	if reg == nil {
		return
	}
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.consecutiveFails++
	reg.lastFailure = time.Now()
	if reg.breakerState == BreakerHalfOpen || reg.consecutiveFails >= r.failureThreshold {
		reg.breakerState = BreakerOpen
	}
}

// BreakerStateOf reports the current breaker state for a provider, for
// tests and telemetry.
func (r *Registry) BreakerStateOf(kind Kind, providerID string) BreakerState {
	reg := r.find(kind, providerID)
	if reg == nil {
		return BreakerClosed
	}
	reg.mu.Lock()
	defer reg.mu.Unlock()
	r.mu.Lock()
	r.maybeHalfOpenLocked(reg)
	r.mu.Unlock()
	return reg.breakerState
}

func (r *Registry) find(kind Kind, providerID string) *registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, reg := range r.byKind[kind] {
		if reg.provider.ProviderID() == providerID {
			return reg
		}
	}
	return nil
}

// Broadcast fans out to every provider of kind whose breaker is not open
// (Healthy is not consulted), in parallel, and
// collects each provider's result, tolerating individual failures (used by
// the wisdom bus's guidance broadcast and the telemetry pull, spec §4.3).
// The returned error is never fatal to the call — results always holds
// every successful response — but when one or more providers failed it is
// a non-nil *multierror.Error wrapping each one (tagged with its provider
// ID) so a caller that wants to know what was lost can, without the
// all-or-nothing failure mode a plain combined error would force.
func Broadcast[T any](ctx context.Context, r *Registry, kind Kind, capability string, call func(ctx context.Context, p Provider) (T, error)) ([]T, error) {
	r.mu.Lock()
	candidates := r.eligibleLocked(kind, capability)
	r.mu.Unlock()

	results := make([]T, len(candidates))
	ok := make([]bool, len(candidates))
	errs := make([]error, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	for i, reg := range candidates {
		i, reg := i, reg
		g.Go(func() error {
			v, err := call(gctx, reg.provider)
			if err != nil {
				r.RecordFailure(kind, reg.provider.ProviderID())
				errs[i] = fmt.Errorf("provider %s: %w", reg.provider.ProviderID(), err)
				return nil // tolerate individual failures; don't abort the group
			}
			r.RecordSuccess(kind, reg.provider.ProviderID())
			results[i] = v
			ok[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	out := make([]T, 0, len(results))
	var combined *multierror.Error
	for i, v := range results {
		if ok[i] {
			out = append(out, v)
		} else if errs[i] != nil {
			combined = multierror.Append(combined, errs[i])
		}
	}
	return out, combined.ErrorOrNil()
}
