// Package dma implements the DMA cascade + conscience (spec §4.6): PDMA,
// CSDMA, DSDMA run in parallel and feed ASPDMA, whose output is guarded by
// a four-faculty conscience plus two structural checks before the selected
// action reaches the dispatcher.
package dma

import "context"

// Verb is one of the ten action-dispatcher verbs (spec §4.7).
type Verb string

const (
	VerbSpeak        Verb = "SPEAK"
	VerbTool         Verb = "TOOL"
	VerbObserve      Verb = "OBSERVE"
	VerbMemorize     Verb = "MEMORIZE"
	VerbRecall       Verb = "RECALL"
	VerbForget       Verb = "FORGET"
	VerbPonder       Verb = "PONDER"
	VerbDefer        Verb = "DEFER"
	VerbReject       Verb = "REJECT"
	VerbTaskComplete Verb = "TASK_COMPLETE"
)

// Terminal reports whether v ends the owning task's lineage without a
// follow-up thought (spec §4.7).
func (v Verb) Terminal() bool {
	switch v {
	case VerbDefer, VerbReject, VerbTaskComplete:
		return true
	default:
		return false
	}
}

// ConscienceBypass lists the five verbs that skip conscience entirely
// because they "cannot produce harm" (spec §4.6). This spec resolves the
// Open Question in spec §9 by using exactly this list.
var ConscienceBypass = map[Verb]bool{
	VerbRecall:       true,
	VerbObserve:      true,
	VerbDefer:        true,
	VerbReject:       true,
	VerbTaskComplete: true,
}

// Kind identifies which of the three parallel DMAs produced a Result.
type Kind string

const (
	KindPDMA  Kind = "pdma"
	KindCSDMA Kind = "csdma"
	KindDSDMA Kind = "dsdma"
)

// EvaluationInput is what every DMA and ASPDMA sees for one thought. Task
// and Thought fields are the minimal read-only projections the cascade
// needs, not live pointers into the queue, per spec Design Notes §9
// ("store IDs only ... never hold back-pointers") — callers pass snapshots.
type EvaluationInput struct {
	ThoughtID            string
	TaskID               string
	Content              string
	Depth                int
	UpdatedInfoAvailable bool
}

// Result is a tagged-variant evaluation record (spec Design Notes §9:
// "use tagged-variant records for every cross-component payload" in place
// of duck-typed dicts).
type Result struct {
	Kind         Kind
	Alignment    float64
	Plausibility float64
	DomainFit    float64
	Notes        string
}

// DMA is the contract every Principled/Common-Sense/Domain-Specific
// evaluator implements.
type DMA interface {
	Kind() Kind
	Evaluate(ctx context.Context, in EvaluationInput) (Result, error)
}

// Selection is ASPDMA's output (spec §4.6 step 2).
type Selection struct {
	Action     Verb
	Parameters map[string]any
	Rationale  string
}

// ASPDMAInput is what ASPDMA (and RECURSIVE_ASPDMA retries) sees: the three
// DMA results in the fixed deterministic order PDMA, CSDMA, DSDMA (spec
// §4.6 "Tie-break and ordering"), plus any conscience feedback accumulated
// from prior attempts on this same thought.
type ASPDMAInput struct {
	Content            string
	PDMA               Result
	CSDMA              Result
	DSDMA              Result
	ConscienceFeedback []string
}

// ASPDMA selects one of the ten verbs given the three DMA outputs.
type ASPDMA interface {
	SelectAction(ctx context.Context, in ASPDMAInput) (Selection, error)
}
