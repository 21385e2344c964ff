// Package audit implements the Ed25519-signed append-only trace chain
// (spec §4.9): every cascade run produces a CompleteTrace, persisted as a
// GraphNode whose hash chains to the previous entry's hash and is signed,
// so tampering with any entry breaks verification from that point forward.
// Grounded on the teacher's core/persistence/state_manager.go append-only
// JSON-file state log, generalized from "append JSON, trust the
// filesystem" to "append a signed, hash-chained GraphNode, trust nothing".
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/ed25519"

	"github.com/CIRISAI/CIRISAgent/internal/clockid"
	"github.com/CIRISAI/CIRISAgent/internal/graph"
)

// TracePrefix is the ID prefix every audit GraphNode carries; it doubles
// as the GLOB prefix used to walk the chain in creation order.
const TracePrefix = "trace"

// TraceComponents is the fixed six-part payload every cascade run records
// (spec §4.9: "components=[observation, context, dma_results, action,
// conscience, outcome]").
type TraceComponents struct {
	Observation map[string]any `json:"observation"`
	Context     map[string]any `json:"context"`
	DMAResults  map[string]any `json:"dma_results"`
	Action      map[string]any `json:"action"`
	Conscience  map[string]any `json:"conscience"`
	Outcome     map[string]any `json:"outcome"`
}

// CompleteTrace is one cascade run's full record.
type CompleteTrace struct {
	TraceID      string          `json:"trace_id"`
	ThoughtID    string          `json:"thought_id"`
	TaskID       string          `json:"task_id"`
	OccurrenceID string          `json:"occurrence_id"`
	Components   TraceComponents `json:"components"`
	CreatedAt    time.Time       `json:"created_at"`
}

// ErrChainBroken is returned by Verify when an entry's hash or signature
// does not match what the chain predicts.
type ErrChainBroken struct {
	NodeID string
	Reason string
}

func (e ErrChainBroken) Error() string {
	return fmt.Sprintf("audit: chain broken at %s: %s", e.NodeID, e.Reason)
}

type chainState struct {
	lastHash []byte
}

// Writer appends signed, hash-chained trace entries to a graph.Store.
type Writer struct {
	store graph.Store
	ids   *clockid.IDGenerator
	priv  ed25519.PrivateKey
	pub   ed25519.PublicKey

	mu     sync.Mutex
	chains map[string]*chainState // occurrenceID -> tail state, lazily populated
}

// NewWriter builds a Writer signing with priv (its paired public key is
// derived and embedded in every entry so Verify is self-contained).
func NewWriter(store graph.Store, ids *clockid.IDGenerator, priv ed25519.PrivateKey) *Writer {
	return &Writer{
		store:  store,
		ids:    ids,
		priv:   priv,
		pub:    priv.Public().(ed25519.PublicKey),
		chains: make(map[string]*chainState),
	}
}

// Write appends trace to occurrenceID's chain, computing hash = SHA-256
// over the canonical JSON encoding of trace concatenated with the
// previous entry's hash (or 32 zero bytes for the chain's first entry),
// then signing hash with the Writer's Ed25519 key.
func (w *Writer) Write(ctx context.Context, trace CompleteTrace) (*graph.Node, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	state, err := w.tailLocked(ctx, trace.OccurrenceID)
	if err != nil {
		return nil, err
	}

	// Round-trip through a generic map first: Attributes survives a
	// marshal/unmarshal cycle on every Put/Search (graph.Store has no
	// notion of nested typed structs), so the hash must be computed over
	// that same map-shaped, key-sorted representation — not over the
	// struct's field-declaration order — or Verify's recomputation would
	// never match what Write signed.
	structJSON, err := json.Marshal(trace)
	if err != nil {
		return nil, fmt.Errorf("audit: marshal trace: %w", err)
	}
	var traceMap map[string]any
	if err := json.Unmarshal(structJSON, &traceMap); err != nil {
		return nil, fmt.Errorf("audit: normalize trace: %w", err)
	}
	canonical, err := json.Marshal(traceMap)
	if err != nil {
		return nil, fmt.Errorf("audit: canonicalize trace: %w", err)
	}
	h := sha256.New()
	h.Write(canonical)
	h.Write(state.lastHash)
	hash := h.Sum(nil)
	sig := ed25519.Sign(w.priv, hash)

	node := &graph.Node{
		ID:           w.ids.New(TracePrefix),
		NodeType:     graph.NodeTypeAudit,
		Scope:        graph.ScopeLocal,
		OccurrenceID: trace.OccurrenceID,
		Attributes: map[string]any{
			"trace":      traceMap,
			"prev_hash":  hex.EncodeToString(state.lastHash),
			"hash":       hex.EncodeToString(hash),
			"signature":  hex.EncodeToString(sig),
			"public_key": hex.EncodeToString(w.pub),
		},
	}
	out, err := w.store.Put(ctx, node)
	if err != nil {
		return nil, fmt.Errorf("audit: persist trace entry: %w", err)
	}
	state.lastHash = hash
	return out, nil
}

// LogTransition records a cognitive-state change as a trace entry (spec
// §4.8: "Transitions are explicit and logged to the audit chain"),
// satisfying state.TransitionLogger without the state package needing to
// import audit.
func (w *Writer) LogTransition(ctx context.Context, occurrenceID, from, to, reason string) error {
	_, err := w.Write(ctx, CompleteTrace{
		OccurrenceID: occurrenceID,
		CreatedAt:    time.Now().UTC(),
		Components: TraceComponents{
			Outcome: map[string]any{
				"kind":   "state_transition",
				"from":   from,
				"to":     to,
				"reason": reason,
			},
		},
	})
	return err
}

// tailLocked returns the running chain state for occurrenceID, loading it
// from the store's most recent audit entry on first use. Caller must hold
// w.mu.
func (w *Writer) tailLocked(ctx context.Context, occurrenceID string) (*chainState, error) {
	if s, ok := w.chains[occurrenceID]; ok {
		return s, nil
	}
	entries, err := w.store.Search(ctx, occurrenceID, graph.Filter{NodeType: graph.NodeTypeAudit, IDPrefix: TracePrefix, Limit: 1})
	if err != nil {
		return nil, fmt.Errorf("audit: load chain tail: %w", err)
	}
	s := &chainState{lastHash: make([]byte, sha256.Size)}
	if len(entries) > 0 {
		hashHex, _ := entries[0].Attributes["hash"].(string)
		if decoded, err := hex.DecodeString(hashHex); err == nil {
			s.lastHash = decoded
		}
	}
	w.chains[occurrenceID] = s
	return s, nil
}

// Verify walks occurrenceID's chain from genesis, recomputing each
// entry's expected hash and verifying its signature, returning the first
// ErrChainBroken it finds (nil if the whole chain is intact).
func Verify(ctx context.Context, store graph.Store, occurrenceID string) error {
	entries, err := store.Search(ctx, occurrenceID, graph.Filter{NodeType: graph.NodeTypeAudit, IDPrefix: TracePrefix, Limit: 100000})
	if err != nil {
		return fmt.Errorf("audit: load chain: %w", err)
	}
	// Search returns newest-first; walk oldest-first to verify forward.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}

	prevHash := make([]byte, sha256.Size)
	for _, n := range entries {
		traceRaw, ok := n.Attributes["trace"]
		if !ok {
			return ErrChainBroken{NodeID: n.ID, Reason: "missing trace payload"}
		}
		canonical, err := json.Marshal(traceRaw)
		if err != nil {
			return ErrChainBroken{NodeID: n.ID, Reason: "trace payload not serializable"}
		}

		pubHex, _ := n.Attributes["public_key"].(string)
		pub, err := hex.DecodeString(pubHex)
		if err != nil || len(pub) != ed25519.PublicKeySize {
			return ErrChainBroken{NodeID: n.ID, Reason: "invalid public key"}
		}
		sigHex, _ := n.Attributes["signature"].(string)
		sig, err := hex.DecodeString(sigHex)
		if err != nil {
			return ErrChainBroken{NodeID: n.ID, Reason: "invalid signature encoding"}
		}
		hashHex, _ := n.Attributes["hash"].(string)
		hash, err := hex.DecodeString(hashHex)
		if err != nil {
			return ErrChainBroken{NodeID: n.ID, Reason: "invalid hash encoding"}
		}
		prevHashHex, _ := n.Attributes["prev_hash"].(string)
		storedPrevHash, err := hex.DecodeString(prevHashHex)
		if err != nil {
			return ErrChainBroken{NodeID: n.ID, Reason: "invalid prev_hash encoding"}
		}

		h := sha256.New()
		h.Write(canonical)
		h.Write(prevHash)
		expected := h.Sum(nil)

		if string(storedPrevHash) != string(prevHash) {
			return ErrChainBroken{NodeID: n.ID, Reason: "prev_hash does not match predecessor's hash"}
		}
		if string(expected) != string(hash) {
			return ErrChainBroken{NodeID: n.ID, Reason: "recomputed hash does not match stored hash"}
		}
		if !ed25519.Verify(pub, hash, sig) {
			return ErrChainBroken{NodeID: n.ID, Reason: "signature verification failed"}
		}
		prevHash = hash
	}
	return nil
}
