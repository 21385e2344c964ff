package graph

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when no node with the given ID exists in
// the caller's occurrence.
var ErrNotFound = errors.New("graph: node not found")

// ErrVersionConflict is returned by Put when the supplied node's Version
// does not match the currently-stored version, per the optimistic-
// concurrency policy in spec §5 ("single writer at a time per node id
// (optimistic-version check on updates)").
var ErrVersionConflict = errors.New("graph: version conflict")

// ErrDanglingEdge is returned by Link when either endpoint does not already
// exist, per spec §4.2's invariant "edge endpoints must pre-exist".
var ErrDanglingEdge = errors.New("graph: edge endpoint does not exist")

// Store is the typed graph store contract (spec §4.2). Every method is
// implicitly scoped to the OccurrenceID carried on the argument (for writes)
// or on the Filter/explicit parameter (for reads); implementations must
// never leak across occurrences.
type Store interface {
	// Put creates or updates a node. A node with Version == 0 is treated as
	// a new node (assigned Version 1). A node with Version > 0 must match
	// the stored version exactly, else ErrVersionConflict.
	Put(ctx context.Context, node *Node) (*Node, error)

	// Get retrieves a node by ID, scoped to occurrenceID. Returns
	// ErrNotFound if absent or owned by a different occurrence.
	Get(ctx context.Context, occurrenceID, id string) (*Node, error)

	// Search returns nodes matching filter, scoped to occurrenceID, newest
	// first.
	Search(ctx context.Context, occurrenceID string, filter Filter) ([]*Node, error)

	// Link creates an edge. Returns ErrDanglingEdge if either endpoint is
	// absent. Creating the same (source, target, edgeType) triple twice is
	// a no-op (idempotent), which is what makes Consolidate idempotent.
	Link(ctx context.Context, edge *Edge) error

	// PreviousInChain returns the node with the greatest ID satisfying
	// "ID GLOB prefix+'*'" and "ID < currentID", or ErrNotFound if none
	// exists. It makes no assumption about fixed sampling intervals —
	// gaps in the lineage are expected (spec §4.2).
	PreviousInChain(ctx context.Context, occurrenceID, prefix, currentID string) (*Node, error)

	// Forget deletes a node and any edges touching it, scoped to
	// occurrenceID. A no-op (not an error) if the node is already absent,
	// so FORGET is safely retryable (spec §4.7).
	Forget(ctx context.Context, occurrenceID, id string) error

	// Close releases the underlying connection.
	Close() error
}
