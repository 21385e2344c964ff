package state

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/CIRISAI/CIRISAgent/internal/clockid"
	"github.com/CIRISAI/CIRISAgent/internal/graph"
)

// IncidentAnalyzer implements the DREAM-state incident-analysis subroutine
// (spec §4.8): within a window, group incident nodes by similarity of
// first tokens, source component, and 5-minute time buckets, emitting
// problem nodes for groups past threshold and an insight node with
// recommendations. Grounded on the teacher's core/echodream/
// consolidation_algorithms.go pattern-grouping helpers, generalized from
// memory-consolidation clustering to incident clustering.
type IncidentAnalyzer struct {
	store  graph.Store
	ids    *clockid.IDGenerator
	window time.Duration
}

// NewIncidentAnalyzer builds an IncidentAnalyzer that groups incidents
// within the trailing window ending at Analyze's windowEnd argument (spec
// §4.8; default 24h, configurable via Config.IncidentAnalysisWindow).
func NewIncidentAnalyzer(store graph.Store, ids *clockid.IDGenerator, window time.Duration) *IncidentAnalyzer {
	return &IncidentAnalyzer{store: store, ids: ids, window: window}
}

const (
	similarityThreshold = 3
	componentThreshold  = 5
	timeBucketThreshold = 5
	timeBucketWidth     = 5 * time.Minute
)

// Analyze groups every incident node created within [windowEnd-window,
// windowEnd) by the three dimensions spec §4.8 names, and persists a
// problem node for each group that crosses its threshold plus one insight
// node summarizing the run. Returns the persisted problem and insight
// nodes.
func (a *IncidentAnalyzer) Analyze(ctx context.Context, occurrenceID string, windowEnd time.Time) ([]*graph.Node, *graph.Node, error) {
	windowStart := windowEnd.Add(-a.window)
	incidents, err := a.store.Search(ctx, occurrenceID, graph.Filter{
		NodeType:     graph.NodeTypeIncident,
		CreatedAfter: windowStart.Add(-time.Nanosecond),
		Limit:        10000,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("state: search incidents: %w", err)
	}

	var inWindow []*graph.Node
	for _, n := range incidents {
		if n.CreatedAt.Before(windowEnd) {
			inWindow = append(inWindow, n)
		}
	}

	bySimilarity := groupBy(inWindow, firstTokenKey)
	byComponent := groupBy(inWindow, componentKey)
	byTimeBucket := groupBy(inWindow, timeBucketKey)

	var problems []*graph.Node
	problems = append(problems, a.emitProblems(ctx, occurrenceID, "similarity", bySimilarity, similarityThreshold)...)
	problems = append(problems, a.emitProblems(ctx, occurrenceID, "component", byComponent, componentThreshold)...)
	problems = append(problems, a.emitProblems(ctx, occurrenceID, "time_bucket", byTimeBucket, timeBucketThreshold)...)

	insight, err := a.emitInsight(ctx, occurrenceID, len(inWindow), problems)
	if err != nil {
		return problems, nil, err
	}
	return problems, insight, nil
}

func (a *IncidentAnalyzer) emitProblems(ctx context.Context, occurrenceID, dimension string, groups map[string][]*graph.Node, threshold int) []*graph.Node {
	var keys []string
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys) // deterministic emission order

	var out []*graph.Node
	for _, key := range keys {
		members := groups[key]
		if len(members) < threshold {
			continue
		}
		ids := make([]string, len(members))
		for i, m := range members {
			ids[i] = m.ID
		}
		node := &graph.Node{
			ID:           a.ids.New("problem"),
			NodeType:     graph.NodeTypeProblem,
			Scope:        graph.ScopeLocal,
			OccurrenceID: occurrenceID,
			Attributes: map[string]any{
				"dimension":    dimension,
				"group_key":    key,
				"member_count": len(members),
				"incident_ids": ids,
			},
		}
		if _, err := a.store.Put(ctx, node); err == nil {
			out = append(out, node)
		}
	}
	return out
}

func (a *IncidentAnalyzer) emitInsight(ctx context.Context, occurrenceID string, incidentCount int, problems []*graph.Node) (*graph.Node, error) {
	recommendation := "no recurring incident patterns crossed threshold in this window"
	if len(problems) > 0 {
		recommendation = fmt.Sprintf("%d recurring incident pattern(s) identified; review the linked problem nodes for remediation", len(problems))
	}
	node := &graph.Node{
		ID:           a.ids.New("insight"),
		NodeType:     graph.NodeTypeInsight,
		Scope:        graph.ScopeLocal,
		OccurrenceID: occurrenceID,
		Attributes: map[string]any{
			"incidents_analyzed": incidentCount,
			"problems_found":     len(problems),
			"recommendation":     recommendation,
		},
	}
	n, err := a.store.Put(ctx, node)
	if err != nil {
		return nil, fmt.Errorf("state: persist insight node: %w", err)
	}
	return n, nil
}

func groupBy(nodes []*graph.Node, keyFn func(*graph.Node) string) map[string][]*graph.Node {
	out := make(map[string][]*graph.Node)
	for _, n := range nodes {
		k := keyFn(n)
		out[k] = append(out[k], n)
	}
	return out
}

func firstTokenKey(n *graph.Node) string {
	summary, _ := n.Attributes["summary"].(string)
	fields := strings.Fields(strings.ToLower(summary))
	if len(fields) == 0 {
		return "(empty)"
	}
	return fields[0]
}

func componentKey(n *graph.Node) string {
	component, _ := n.Attributes["component"].(string)
	if component == "" {
		return "(unknown)"
	}
	return component
}

func timeBucketKey(n *graph.Node) string {
	bucket := n.CreatedAt.Truncate(timeBucketWidth)
	return bucket.Format(time.RFC3339)
}
