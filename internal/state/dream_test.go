package state

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/CIRISAI/CIRISAgent/internal/clockid"
	"github.com/CIRISAI/CIRISAgent/internal/graph"
)

func newIncident(id, occurrenceID, summary, component string, createdAt time.Time) *graph.Node {
	return &graph.Node{
		ID: id, NodeType: graph.NodeTypeIncident, Scope: graph.ScopeLocal, OccurrenceID: occurrenceID,
		Attributes: map[string]any{"summary": summary, "component": component},
		CreatedAt:  createdAt,
	}
}

func TestIncidentAnalyzerEmitsProblemAboveSimilarityThreshold(t *testing.T) {
	ctx := context.Background()
	store, err := graph.OpenSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	windowEnd := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	base := windowEnd.Add(-time.Hour)

	for i, summary := range []string{"timeout connecting to db", "timeout waiting on lock", "timeout reading socket"} {
		n := newIncident("inc-sim-"+string(rune('a'+i)), "occ", summary, "svc-a", base.Add(time.Duration(i)*time.Minute))
		_, err := store.Put(ctx, n)
		require.NoError(t, err)
	}
	// A dissimilar, different-component incident that must not be grouped in.
	_, err = store.Put(ctx, newIncident("inc-other", "occ", "disk full on node-3", "svc-b", base))
	require.NoError(t, err)

	analyzer := NewIncidentAnalyzer(store, clockid.NewIDGenerator(clockid.NewFrozen(windowEnd)), 24*time.Hour)
	problems, insight, err := analyzer.Analyze(ctx, "occ", windowEnd)
	require.NoError(t, err)
	require.NotEmpty(t, problems)
	require.NotNil(t, insight)

	var sawSimilarity bool
	for _, p := range problems {
		if p.Attributes["dimension"] == "similarity" && p.Attributes["group_key"] == "timeout" {
			sawSimilarity = true
			require.EqualValues(t, 3, p.Attributes["member_count"])
		}
	}
	require.True(t, sawSimilarity, "expected a similarity-dimension problem node for the 'timeout' group")
}

func TestIncidentAnalyzerIgnoresIncidentsOutsideWindow(t *testing.T) {
	ctx := context.Background()
	store, err := graph.OpenSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	windowEnd := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	tooOld := windowEnd.Add(-25 * time.Hour)

	for i := 0; i < 5; i++ {
		n := newIncident("inc-old-"+string(rune('a'+i)), "occ", "timeout old incident", "svc-a", tooOld)
		_, err := store.Put(ctx, n)
		require.NoError(t, err)
	}

	analyzer := NewIncidentAnalyzer(store, clockid.NewIDGenerator(clockid.NewFrozen(windowEnd)), 24*time.Hour)
	problems, insight, err := analyzer.Analyze(ctx, "occ", windowEnd)
	require.NoError(t, err)
	require.Empty(t, problems)
	require.EqualValues(t, 0, insight.Attributes["incidents_analyzed"])
}
