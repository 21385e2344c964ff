package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/CIRISAI/CIRISAgent/internal/graph"
	"github.com/CIRISAI/CIRISAgent/internal/registry"
)

// WisdomAdvice is one external wisdom source's non-binding input into a
// DEFER decision (spec §4.4: "wisdom bus ... broadcast_guidance returns
// advice from every registered source; the agent is never bound by it").
type WisdomAdvice struct {
	ProviderID string
	Capability string
	Confidence float64
	Disclaimer string
	Guidance   string
}

// WisdomProvider is the registry-facing contract a wisdom source (a human
// review queue, a policy service, a second model acting as reviewer)
// implements.
type WisdomProvider interface {
	registry.Provider
	Capability() string
	Guidance(ctx context.Context, question string) (WisdomAdvice, error)
}

// DeferralRecord is the escalation-to-authority record a DEFER creates
// (spec §3: deferral_id, task_id, thought_id, reason, defer_until,
// requires_authority, resolution). It is durable across restarts — it
// lives in the same graph store as every other persisted node — and is
// looked up by ID when an authority resolves it.
type DeferralRecord struct {
	DeferralID        string
	TaskID            string
	ThoughtID         string
	Reason            string
	DeferUntil        time.Time
	RequiresAuthority bool
	Resolution        *DeferralResolution
}

// DeferralResolution records what an authority decided about a
// DeferralRecord, and when (spec §3).
type DeferralResolution struct {
	Approved   bool
	ResolverID string
	ResolvedAt time.Time
	Guidance   string
}

func deferralToNode(rec DeferralRecord, occurrenceID string) *graph.Node {
	attrs := map[string]any{
		"task_id":            rec.TaskID,
		"thought_id":         rec.ThoughtID,
		"reason":             rec.Reason,
		"defer_until":        rec.DeferUntil,
		"requires_authority": rec.RequiresAuthority,
	}
	if rec.Resolution != nil {
		attrs["resolution"] = map[string]any{
			"approved":    rec.Resolution.Approved,
			"resolver_id": rec.Resolution.ResolverID,
			"resolved_at": rec.Resolution.ResolvedAt,
			"guidance":    rec.Resolution.Guidance,
		}
	}
	return &graph.Node{
		ID:           rec.DeferralID,
		NodeType:     graph.NodeTypeDeferral,
		Scope:        graph.ScopeLocal,
		OccurrenceID: occurrenceID,
		Attributes:   attrs,
	}
}

// attrTime reads a time.Time attribute that may still be a live time.Time
// (a node just returned from Put) or have round-tripped through the store's
// JSON encoding as an RFC3339Nano string (a node returned from Get/Search).
func attrTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		parsed, _ := time.Parse(time.RFC3339Nano, t)
		return parsed
	default:
		return time.Time{}
	}
}

func nodeToDeferral(n *graph.Node) DeferralRecord {
	rec := DeferralRecord{DeferralID: n.ID}
	if v, ok := n.Attributes["task_id"].(string); ok {
		rec.TaskID = v
	}
	if v, ok := n.Attributes["thought_id"].(string); ok {
		rec.ThoughtID = v
	}
	if v, ok := n.Attributes["reason"].(string); ok {
		rec.Reason = v
	}
	rec.DeferUntil = attrTime(n.Attributes["defer_until"])
	if v, ok := n.Attributes["requires_authority"].(bool); ok {
		rec.RequiresAuthority = v
	}
	if raw, ok := n.Attributes["resolution"].(map[string]any); ok {
		res := &DeferralResolution{}
		if v, ok := raw["approved"].(bool); ok {
			res.Approved = v
		}
		if v, ok := raw["resolver_id"].(string); ok {
			res.ResolverID = v
		}
		res.ResolvedAt = attrTime(raw["resolved_at"])
		if v, ok := raw["guidance"].(string); ok {
			res.Guidance = v
		}
		rec.Resolution = res
	}
	return rec
}

// WisdomBus fronts wisdom-seeking on DEFER (spec §4.4, §4.7). Unlike the
// other buses it fans out to every registered provider rather than picking
// one for BroadcastGuidance, since wisdom is explicitly advisory and
// non-exclusive; its deferral submit/poll/resolve surface (spec §6
// "wisdom deferral submit + poll") instead persists through the memory
// bus as a DeferralRecord node, since a DeferralRecord must survive a
// restart and no wisdom provider itself owns durable storage.
type WisdomBus struct {
	registry *registry.Registry
	memory   *MemoryBus
	timeout  time.Duration
}

func NewWisdomBus(r *registry.Registry, memory *MemoryBus, timeout time.Duration) *WisdomBus {
	return &WisdomBus{registry: r, memory: memory, timeout: timeout}
}

// BroadcastGuidance asks every wisdom provider whose breaker is not open for advice on
// question and returns whatever came back, tolerating individual failures
// (registry.Broadcast). An empty result is not an error: the caller
// proceeds with DEFER regardless, since wisdom is advisory only — the
// *multierror.Error Broadcast collects for failed providers is therefore
// deliberately dropped here rather than surfaced to the dispatcher.
func (b *WisdomBus) BroadcastGuidance(ctx context.Context, question string) ([]WisdomAdvice, error) {
	cctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	advice, _ := registry.Broadcast(cctx, b.registry, registry.KindWisdom, "", func(gctx context.Context, p registry.Provider) (WisdomAdvice, error) {
		return p.(WisdomProvider).Guidance(gctx, question)
	})
	return advice, nil
}

// SubmitDeferral persists rec as a new DeferralRecord node, scoped to
// occurrenceID (spec §4.7: DEFER "Create DeferralRecord via wisdom bus").
func (b *WisdomBus) SubmitDeferral(ctx context.Context, occurrenceID string, rec DeferralRecord) (DeferralRecord, error) {
	n, err := b.memory.Memorize(ctx, deferralToNode(rec, occurrenceID))
	if err != nil {
		return DeferralRecord{}, fmt.Errorf("bus: submit deferral %s: %w", rec.DeferralID, err)
	}
	return nodeToDeferral(n), nil
}

// PollDeferral retrieves a DeferralRecord by ID, scoped to occurrenceID.
func (b *WisdomBus) PollDeferral(ctx context.Context, occurrenceID, deferralID string) (DeferralRecord, error) {
	n, err := b.memory.RecallOne(ctx, occurrenceID, deferralID)
	if err != nil {
		return DeferralRecord{}, fmt.Errorf("bus: poll deferral %s: %w", deferralID, err)
	}
	return nodeToDeferral(n), nil
}

// ResolveDeferral attaches resolution to the DeferralRecord identified by
// deferralID and persists it. Callers that receive an approved resolution
// are responsible for moving the owning task back to pending (spec §3:
// "deferred->pending only via authority resolution").
func (b *WisdomBus) ResolveDeferral(ctx context.Context, occurrenceID, deferralID string, resolution DeferralResolution) (DeferralRecord, error) {
	if resolution.ResolvedAt.IsZero() {
		resolution.ResolvedAt = time.Now().UTC()
	}
	n, err := b.memory.RecallOne(ctx, occurrenceID, deferralID)
	if err != nil {
		return DeferralRecord{}, fmt.Errorf("bus: resolve deferral %s: %w", deferralID, err)
	}
	rec := nodeToDeferral(n)
	rec.Resolution = &resolution
	updated := deferralToNode(rec, occurrenceID)
	updated.Version = n.Version
	saved, err := b.memory.Memorize(ctx, updated)
	if err != nil {
		return DeferralRecord{}, fmt.Errorf("bus: persist deferral resolution %s: %w", deferralID, err)
	}
	return nodeToDeferral(saved), nil
}
