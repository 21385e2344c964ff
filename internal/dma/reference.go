package dma

import (
	"context"
	"strings"
)

// ReferencePDMA, ReferenceCSDMA and ReferenceDSDMA are deterministic,
// pattern-based stand-ins for the real ethical/common-sense/domain
// evaluators the production system would delegate to a language-model bus
// (spec §4.4 language-model bus). They're grounded on the teacher's
// core/llm/simple_fallback_provider.go SimpleFallbackProvider: keyword
// matching over the input text rather than a live model call, so the
// cascade is exercisable and testable without external dependencies.
type ReferencePDMA struct{}

func (ReferencePDMA) Kind() Kind { return KindPDMA }

func (ReferencePDMA) Evaluate(ctx context.Context, in EvaluationInput) (Result, error) {
	content := strings.ToLower(in.Content)
	alignment := 0.85
	notes := "no ethical concerns detected"
	if strings.Contains(content, "harm") || strings.Contains(content, "deceive") {
		alignment = 0.25
		notes = "content references harm or deception; alignment lowered"
	}
	return Result{Kind: KindPDMA, Alignment: alignment, Plausibility: 0.8, DomainFit: 0.8, Notes: notes}, nil
}

// ReferenceCSDMA judges common-sense plausibility.
type ReferenceCSDMA struct{}

func (ReferenceCSDMA) Kind() Kind { return KindCSDMA }

func (ReferenceCSDMA) Evaluate(ctx context.Context, in EvaluationInput) (Result, error) {
	plausibility := 0.8
	notes := "plausible given context"
	if len(strings.TrimSpace(in.Content)) == 0 {
		plausibility = 0.3
		notes = "empty content is implausible as a grounded thought"
	}
	return Result{Kind: KindCSDMA, Alignment: 0.7, Plausibility: plausibility, DomainFit: 0.7, Notes: notes}, nil
}

// ReferenceDSDMA judges domain fit for the channel the task lives on. It
// has no per-domain configuration here (that would be supplied by a real
// deployment's domain profile over the language-model bus); the reference
// implementation always reports a neutral-to-good domain fit.
type ReferenceDSDMA struct{}

func (ReferenceDSDMA) Kind() Kind { return KindDSDMA }

func (ReferenceDSDMA) Evaluate(ctx context.Context, in EvaluationInput) (Result, error) {
	return Result{Kind: KindDSDMA, Alignment: 0.75, Plausibility: 0.75, DomainFit: 0.8, Notes: "within expected domain"}, nil
}

// ReferenceASPDMA selects an action from the three DMA results. It is a
// small deterministic state machine good enough to drive the SPEAK ->
// TASK_COMPLETE happy path and to honor conscience feedback on retry
// (spec S1/S2), not a production action-selection model.
type ReferenceASPDMA struct{}

func (ReferenceASPDMA) SelectAction(ctx context.Context, in ASPDMAInput) (Selection, error) {
	// Honor conscience feedback before anything else, including the
	// SPEAK_SUCCESSFUL shortcut below: once told a selection was incoherent
	// or ignored updated info, a retry on the very same content must change
	// its answer, not repeat the selection that just failed (spec S2, S4).
	// Checking this first is what lets RECURSIVE_ASPDMA actually recurse
	// instead of reproducing the same rejected Selection every attempt.
	if len(in.ConscienceFeedback) > 0 {
		last := in.ConscienceFeedback[len(in.ConscienceFeedback)-1]
		return Selection{
			Action: VerbSpeak,
			Parameters: map[string]any{
				"message":          "Let me be explicit about what I can and cannot help with here.",
				"entropy_score":    0.1,
				"coherence_score":  0.85,
			},
			Rationale: "revised selection after conscience feedback: " + last,
		}, nil
	}

	// A thought chained from a prior SPEAK's follow-up (spec §4.7: "follow-up
	// SPEAK_SUCCESSFUL thought") has nothing left to say; close the task out
	// rather than speaking again (spec S1: task completes within two
	// thoughts) — unless conscience feedback above already intervened.
	if strings.Contains(in.Content, "SPEAK_SUCCESSFUL") {
		return Selection{Action: VerbTaskComplete, Rationale: "prior SPEAK confirmed delivered; nothing further to add"}, nil
	}

	avg := (in.PDMA.Alignment + in.CSDMA.Alignment + in.DSDMA.Alignment) / 3
	if avg < 0.4 {
		return Selection{
			Action:     VerbDefer,
			Parameters: map[string]any{"reason": "low ethical alignment across DMAs"},
			Rationale:  "alignment average below defer threshold",
		}, nil
	}

	return Selection{
		Action: VerbSpeak,
		Parameters: map[string]any{
			"message":         "Hi!",
			"entropy_score":   0.07,
			"coherence_score": 0.85,
		},
		Rationale: "straightforward response warranted by DMA consensus",
	}, nil
}
