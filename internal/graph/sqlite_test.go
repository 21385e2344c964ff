package graph

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	n, err := s.Put(ctx, &Node{
		ID: "thought-1", NodeType: NodeTypeThought, Scope: ScopeLocal,
		Attributes:   map[string]any{"content": "hello"},
		OccurrenceID: "occ-a",
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), n.Version)

	got, err := s.Get(ctx, "occ-a", "thought-1")
	require.NoError(t, err)
	require.Equal(t, "hello", got.Attributes["content"])

	_, err = s.Get(ctx, "occ-b", "thought-1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestPutVersionConflict(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	n, err := s.Put(ctx, &Node{ID: "n1", NodeType: NodeTypeContext, Scope: ScopeLocal, OccurrenceID: "occ"})
	require.NoError(t, err)

	_, err = s.Put(ctx, &Node{ID: "n1", NodeType: NodeTypeContext, Scope: ScopeLocal, OccurrenceID: "occ", Version: n.Version})
	require.NoError(t, err)

	_, err = s.Put(ctx, &Node{ID: "n1", NodeType: NodeTypeContext, Scope: ScopeLocal, OccurrenceID: "occ", Version: 1})
	require.ErrorIs(t, err, ErrVersionConflict)
}

func TestOccurrenceIsolation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Put(ctx, &Node{ID: "shared-id", NodeType: NodeTypeThought, Scope: ScopeLocal, OccurrenceID: "occ-a"})
	require.NoError(t, err)
	_, err = s.Put(ctx, &Node{ID: "shared-id", NodeType: NodeTypeThought, Scope: ScopeLocal, OccurrenceID: "occ-b"})
	require.NoError(t, err)

	resA, err := s.Search(ctx, "occ-a", Filter{})
	require.NoError(t, err)
	require.Len(t, resA, 1)

	resB, err := s.Search(ctx, "occ-b", Filter{})
	require.NoError(t, err)
	require.Len(t, resB, 1)
}

func TestSearchIDPrefix(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for _, id := range []string{"task-1", "task-2", "thought-1"} {
		_, err := s.Put(ctx, &Node{ID: id, NodeType: NodeTypeThought, Scope: ScopeLocal, OccurrenceID: "occ"})
		require.NoError(t, err)
	}

	res, err := s.Search(ctx, "occ", Filter{IDPrefix: "task-"})
	require.NoError(t, err)
	require.Len(t, res, 2)
	for _, n := range res {
		require.Contains(t, n.ID, "task-")
	}
}

func TestPreviousInChainSkipsGaps(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for _, id := range []string{"D-01", "D-03", "D-09"} {
		_, err := s.Put(ctx, &Node{ID: id, NodeType: NodeTypeSummary, Scope: ScopeLocal, OccurrenceID: "occ"})
		require.NoError(t, err)
	}

	prev, err := s.PreviousInChain(ctx, "occ", "D-", "D-17")
	require.NoError(t, err)
	require.Equal(t, "D-09", prev.ID)

	_, err = s.PreviousInChain(ctx, "occ", "D-", "D-01")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestForgetRemovesNodeAndEdges(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Put(ctx, &Node{ID: "a", NodeType: NodeTypeThought, Scope: ScopeLocal, OccurrenceID: "occ"})
	require.NoError(t, err)
	_, err = s.Put(ctx, &Node{ID: "b", NodeType: NodeTypeThought, Scope: ScopeLocal, OccurrenceID: "occ"})
	require.NoError(t, err)
	require.NoError(t, s.Link(ctx, &Edge{SourceID: "a", TargetID: "b", EdgeType: EdgeRelatedTo, OccurrenceID: "occ"}))

	require.NoError(t, s.Forget(ctx, "occ", "a"))

	_, err = s.Get(ctx, "occ", "a")
	require.ErrorIs(t, err, ErrNotFound)

	err = s.Link(ctx, &Edge{SourceID: "a", TargetID: "b", EdgeType: EdgeRelatedTo, OccurrenceID: "occ"})
	require.ErrorIs(t, err, ErrDanglingEdge)

	// Forgetting an already-absent node is a no-op, not an error.
	require.NoError(t, s.Forget(ctx, "occ", "a"))
}

func TestLinkRejectsDanglingEdge(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	err := s.Link(ctx, &Edge{SourceID: "missing-a", TargetID: "missing-b", EdgeType: EdgeRelatedTo, OccurrenceID: "occ"})
	require.ErrorIs(t, err, ErrDanglingEdge)
}

func TestConsolidateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	windowStart := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	windowEnd := windowStart.Add(6 * time.Hour)

	_, err := s.Put(ctx, &Node{
		ID: "thought-a", NodeType: NodeTypeThought, Scope: ScopeLocal, OccurrenceID: "occ",
		CreatedAt: windowStart.Add(time.Hour),
	})
	require.NoError(t, err)
	_, err = s.Put(ctx, &Node{
		ID: "thought-b", NodeType: NodeTypeThought, Scope: ScopeLocal, OccurrenceID: "occ",
		CreatedAt: windowStart.Add(2 * time.Hour),
	})
	require.NoError(t, err)

	c := NewConsolidator(s)
	first, err := c.Consolidate(ctx, "occ", windowStart, windowEnd)
	require.NoError(t, err)

	before, err := s.Search(ctx, "occ", Filter{NodeType: NodeTypeSummary, Limit: 10})
	require.NoError(t, err)
	require.Len(t, before, 1)

	second, err := c.Consolidate(ctx, "occ", windowStart, windowEnd)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	after, err := s.Search(ctx, "occ", Filter{NodeType: NodeTypeSummary, Limit: 10})
	require.NoError(t, err)
	require.Len(t, after, 1)
}

func TestConsolidateChainsTemporalEdges(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	c := NewConsolidator(s)

	day := func(n int) time.Time { return time.Date(2026, 7, n, 0, 0, 0, 0, time.UTC) }

	_, err := c.Consolidate(ctx, "occ", day(1), day(2))
	require.NoError(t, err)
	_, err = c.Consolidate(ctx, "occ", day(3), day(4))
	require.NoError(t, err)
	third, err := c.Consolidate(ctx, "occ", day(9), day(10))
	require.NoError(t, err)

	prev, err := s.PreviousInChain(ctx, "occ", SummaryPrefix, third.ID)
	require.NoError(t, err)
	require.Contains(t, prev.ID, "0703")
}

func TestGetReturnsStructurallyIdenticalNodeAfterRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	created := time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC)
	want := &Node{
		ID:           "thought-structural",
		NodeType:     NodeTypeThought,
		Scope:        ScopeLocal,
		Attributes:   map[string]any{"content": "hello", "score": 0.75},
		OccurrenceID: "occ-structural",
		CreatedAt:    created,
		UpdatedAt:    created,
	}

	_, err := s.Put(ctx, want)
	require.NoError(t, err)

	got, err := s.Get(ctx, "occ-structural", "thought-structural")
	require.NoError(t, err)

	diff := cmp.Diff(want, got,
		cmpopts.IgnoreFields(Node{}, "Version"),
		cmpopts.EquateApproxTime(time.Millisecond),
	)
	require.Empty(t, diff, "node should round-trip through the store unchanged (besides Version)")
}
