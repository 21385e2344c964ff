package graph

import (
	"context"
	"fmt"
	"time"
)

// Consolidator periodically reduces fine-grained nodes into summary nodes
// with temporal edges (spec §4.2 Consolidation policy). The algorithm is
// grounded on the teacher's core/echodream/consolidation.go
// ConsolidationEngine.Consolidate, which buffers episodic memories and
// folds them into pattern/wisdom records on a cadence; here the buffer is
// the graph store itself (queried by window) rather than an in-process
// slice, and the "pattern extraction" step is replaced by the spec's
// strict requirement: deterministic summary ID, SUMMARIZES edges to every
// constituent, and a TEMPORAL_PREV/TEMPORAL_NEXT link to the prior summary.
type Consolidator struct {
	store Store
}

// NewConsolidator builds a Consolidator over store.
func NewConsolidator(store Store) *Consolidator {
	return &Consolidator{store: store}
}

// SummaryPrefix is the node-type/ID prefix used for the temporal chain of
// consolidation summaries.
const SummaryPrefix = "summary-"

// Consolidate reduces every node created in [windowStart, windowEnd) into a
// single summary node. The summary ID is derived deterministically from
// windowStart, so rerunning Consolidate over the same window is a no-op
// after the first run (spec §8 property 7: "running consolidation twice
// over the same window leaves the graph byte-identical after the second
// run") — Link ignores an edge that already exists, and an existing
// summary node found by Get is reused, so a second run is already-done
// rather than erroring.
func (c *Consolidator) Consolidate(ctx context.Context, occurrenceID string, windowStart, windowEnd time.Time) (*Node, error) {
	summaryID := fmt.Sprintf("%s%s", SummaryPrefix, windowStart.UTC().Format("20060102T150405Z"))

	constituents, err := c.store.Search(ctx, occurrenceID, Filter{
		CreatedAfter: windowStart.Add(-time.Nanosecond),
		Limit:        100000,
	})
	if err != nil {
		return nil, fmt.Errorf("consolidate: search window: %w", err)
	}
	var inWindow []*Node
	for _, n := range constituents {
		if n.NodeType == NodeTypeSummary {
			continue
		}
		if (n.CreatedAt.Equal(windowStart) || n.CreatedAt.After(windowStart)) && n.CreatedAt.Before(windowEnd) {
			inWindow = append(inWindow, n)
		}
	}

	existing, err := c.store.Get(ctx, occurrenceID, summaryID)
	var summary *Node
	switch {
	case err == nil:
		summary = existing
	case err == ErrNotFound:
		summary, err = c.store.Put(ctx, &Node{
			ID:       summaryID,
			NodeType: NodeTypeSummary,
			Scope:    ScopeLocal,
			Attributes: map[string]any{
				"window_start":      windowStart.UTC().Format(time.RFC3339),
				"window_end":        windowEnd.UTC().Format(time.RFC3339),
				"constituent_count": len(inWindow),
			},
			OccurrenceID: occurrenceID,
		})
		if err != nil {
			return nil, fmt.Errorf("consolidate: create summary node: %w", err)
		}
	default:
		return nil, fmt.Errorf("consolidate: lookup existing summary: %w", err)
	}

	for _, n := range inWindow {
		if err := c.store.Link(ctx, &Edge{
			SourceID:     summary.ID,
			TargetID:     n.ID,
			EdgeType:     EdgeSummarizes,
			OccurrenceID: occurrenceID,
		}); err != nil {
			return nil, fmt.Errorf("consolidate: link summarizes %s: %w", n.ID, err)
		}
	}

	prev, err := c.store.PreviousInChain(ctx, occurrenceID, SummaryPrefix, summary.ID)
	if err != nil && err != ErrNotFound {
		return nil, fmt.Errorf("consolidate: previous in chain: %w", err)
	}
	if err == nil {
		if err := c.store.Link(ctx, &Edge{
			SourceID:     summary.ID,
			TargetID:     prev.ID,
			EdgeType:     EdgeTemporalPrev,
			OccurrenceID: occurrenceID,
		}); err != nil {
			return nil, fmt.Errorf("consolidate: link temporal_prev: %w", err)
		}
		if err := c.store.Link(ctx, &Edge{
			SourceID:     prev.ID,
			TargetID:     summary.ID,
			EdgeType:     EdgeTemporalNext,
			OccurrenceID: occurrenceID,
		}); err != nil {
			return nil, fmt.Errorf("consolidate: link temporal_next: %w", err)
		}
	}

	return summary, nil
}
