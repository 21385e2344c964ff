// Package graph implements the typed graph store backing identity,
// configuration, audit, and telemetry as typed nodes with temporal edges
// (spec §4.2). The concrete backend is a relational table of nodes and a
// table of edges, per spec §6's persisted-state layout; every operation is
// scoped by OccurrenceID so multiple runtime instances sharing the store
// never see each other's work (spec §5 Multi-occurrence).
package graph

import "time"

// NodeType enumerates the kinds of GraphNode the runtime persists. The set
// is open-ended in the prose spec ("…"); these are the concrete members
// this runtime actually writes.
type NodeType string

const (
	NodeTypeThought  NodeType = "thought"
	NodeTypeMessage  NodeType = "message"
	NodeTypeContext  NodeType = "context"
	NodeTypeAction   NodeType = "action"
	NodeTypeMetric   NodeType = "metric"
	NodeTypeAudit    NodeType = "audit"
	NodeTypeConfig   NodeType = "config"
	NodeTypeIncident NodeType = "incident"
	NodeTypeProblem  NodeType = "problem"
	NodeTypeInsight  NodeType = "insight"
	NodeTypeSummary  NodeType = "summary"
	NodeTypeIdentity NodeType = "identity"
	NodeTypeDeferral NodeType = "deferral"
)

// Scope controls who may read/write a node and whether changing it requires
// authority approval (spec: "scope transitions require authority approval").
type Scope string

const (
	ScopeLocal       Scope = "local"
	ScopeEnvironment Scope = "environment"
	ScopeIdentity    Scope = "identity"
)

// EdgeType enumerates the relations a GraphEdge may express.
type EdgeType string

const (
	EdgeFollows      EdgeType = "FOLLOWS"
	EdgeRespondsTo   EdgeType = "RESPONDS_TO"
	EdgeTriggeredBy  EdgeType = "TRIGGERED_BY"
	EdgeRelatedTo    EdgeType = "RELATED_TO"
	EdgeMeasuredBy   EdgeType = "MEASURED_BY"
	EdgeTemporalNext EdgeType = "TEMPORAL_NEXT"
	EdgeTemporalPrev EdgeType = "TEMPORAL_PREV"
	EdgeSummarizes   EdgeType = "SUMMARIZES"
)

// Node is the identity-is-the-graph substrate unit (spec §3 GraphNode).
// Attributes is a typed record serialized to JSON at rest; callers are
// expected to decode it against the schema for NodeType rather than treat
// it as a free-form bag, per spec's invariant.
type Node struct {
	ID           string
	NodeType     NodeType
	Scope        Scope
	Attributes   map[string]any
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Version      int64
	OccurrenceID string
}

// Edge connects two nodes (spec §3 GraphEdge).
type Edge struct {
	ID           string
	SourceID     string
	TargetID     string
	EdgeType     EdgeType
	Attributes   map[string]any
	CreatedAt    time.Time
	OccurrenceID string
}

// Filter selects nodes for Search. A zero-value field means "unconstrained"
// except Limit, where 0 means "use the store's default limit".
type Filter struct {
	NodeType     NodeType
	Scope        Scope
	CreatedAfter time.Time
	IDPrefix     string
	Limit        int
}
