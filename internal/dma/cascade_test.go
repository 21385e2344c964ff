package dma

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestCascade(aspdma ASPDMA, conscienceRetryLimit, maxDepth int) *Cascade {
	conscience := NewConscience(DefaultFaculties(0.40, 0.60), 50*time.Millisecond, maxDepth)
	return NewCascade(ReferencePDMA{}, ReferenceCSDMA{}, ReferenceDSDMA{}, aspdma, conscience, 50*time.Millisecond, 2, conscienceRetryLimit)
}

// TestCascadeHappyPath mirrors scenario S1: a well-formed SPEAK passes
// conscience on the first ASPDMA attempt with zero retries.
func TestCascadeHappyPath(t *testing.T) {
	c := newTestCascade(ReferenceASPDMA{}, 2, 20)
	out := c.Run(context.Background(), EvaluationInput{ThoughtID: "th-1", TaskID: "task-1", Content: "hello", Depth: 0})
	require.True(t, out.Verdict.Passed)
	require.Equal(t, VerbSpeak, out.Selection.Action)
	require.Equal(t, 0, out.ASPDMARetries)
}

// flakyASPDMA proposes an incoherent SPEAK once, then a coherent one once
// conscience feedback is present — exercises RECURSIVE_ASPDMA (spec S2).
type flakyASPDMA struct{ calls int }

func (f *flakyASPDMA) SelectAction(ctx context.Context, in ASPDMAInput) (Selection, error) {
	f.calls++
	if len(in.ConscienceFeedback) == 0 {
		return Selection{
			Action:     VerbSpeak,
			Parameters: map[string]any{"entropy_score": 0.1, "coherence_score": 0.2},
			Rationale:  "first pass, low coherence",
		}, nil
	}
	return Selection{
		Action:     VerbSpeak,
		Parameters: map[string]any{"entropy_score": 0.1, "coherence_score": 0.9},
		Rationale:  "revised after feedback",
	}, nil
}

func TestCascadeRecursiveASPDMAExactlyOneRetry(t *testing.T) {
	aspdma := &flakyASPDMA{}
	c := newTestCascade(aspdma, 2, 20)
	out := c.Run(context.Background(), EvaluationInput{ThoughtID: "th-2", TaskID: "task-2", Content: "hello", Depth: 0})
	require.True(t, out.Verdict.Passed)
	require.Equal(t, VerbSpeak, out.Selection.Action)
	require.Equal(t, 1, out.ASPDMARetries)
	require.Equal(t, 2, aspdma.calls)
}

// stubbornASPDMA always proposes an incoherent SPEAK, never responding to
// feedback — exhausts the conscience_retry_limit and forces DEFER.
type stubbornASPDMA struct{ calls int }

func (s *stubbornASPDMA) SelectAction(ctx context.Context, in ASPDMAInput) (Selection, error) {
	s.calls++
	return Selection{
		Action:     VerbSpeak,
		Parameters: map[string]any{"entropy_score": 0.1, "coherence_score": 0.1},
		Rationale:  "never improves",
	}, nil
}

func TestCascadeConscienceRetryLimitExhaustedForcesDefer(t *testing.T) {
	aspdma := &stubbornASPDMA{}
	c := newTestCascade(aspdma, 2, 20)
	out := c.Run(context.Background(), EvaluationInput{ThoughtID: "th-3", TaskID: "task-3", Content: "hello", Depth: 0})
	require.False(t, out.Verdict.Passed)
	require.Equal(t, VerbDefer, out.Selection.Action)
	require.Equal(t, 2, out.ASPDMARetries)
	require.Equal(t, 3, aspdma.calls) // initial attempt + 2 retries
}

// bypassVerbASPDMA always selects a bypass-listed verb, to confirm the
// depth ceiling overrides it anyway (spec S3, §8 property 2).
type bypassVerbASPDMA struct{}

func (bypassVerbASPDMA) SelectAction(ctx context.Context, in ASPDMAInput) (Selection, error) {
	return Selection{Action: VerbObserve, Rationale: "just observing"}, nil
}

func TestCascadeDepthCeilingForcesDeferEvenForBypassVerb(t *testing.T) {
	c := newTestCascade(bypassVerbASPDMA{}, 2, 20)
	out := c.Run(context.Background(), EvaluationInput{ThoughtID: "th-4", TaskID: "task-4", Content: "hello", Depth: 20})
	require.False(t, out.Verdict.Passed)
	require.Equal(t, VerbDefer, out.Selection.Action)
	require.Equal(t, 0, out.ASPDMARetries)
}

// alwaysFailDMA simulates a DMA whose underlying call never succeeds
// within dmaRetryLimit attempts (spec §4.6 force-DEFER on repeated failure).
type alwaysFailDMA struct{ kind Kind }

func (d alwaysFailDMA) Kind() Kind { return d.kind }
func (d alwaysFailDMA) Evaluate(ctx context.Context, in EvaluationInput) (Result, error) {
	return Result{}, errors.New("upstream model unavailable")
}

func TestCascadeDMAFailureExhaustsRetryForcesDefer(t *testing.T) {
	conscience := NewConscience(DefaultFaculties(0.40, 0.60), 50*time.Millisecond, 20)
	c := NewCascade(alwaysFailDMA{kind: KindPDMA}, ReferenceCSDMA{}, ReferenceDSDMA{}, ReferenceASPDMA{}, conscience, 10*time.Millisecond, 1, 2)
	out := c.Run(context.Background(), EvaluationInput{ThoughtID: "th-5", TaskID: "task-5", Content: "hello", Depth: 0})
	require.False(t, out.Verdict.Passed)
	require.Equal(t, VerbDefer, out.Selection.Action)
}

// updatedInfoASPDMA selects a terminal verb that ignores fresh channel
// info once, then SPEAKs once conscience feedback arrives (spec S4).
type updatedInfoASPDMA struct{ calls int }

func (u *updatedInfoASPDMA) SelectAction(ctx context.Context, in ASPDMAInput) (Selection, error) {
	u.calls++
	if len(in.ConscienceFeedback) == 0 {
		return Selection{Action: VerbTaskComplete, Rationale: "done"}, nil
	}
	return Selection{
		Action:     VerbSpeak,
		Parameters: map[string]any{"entropy_score": 0.1, "coherence_score": 0.9},
		Rationale:  "addressing the update before completing",
	}, nil
}

func TestCascadeUpdatedInfoOverrideTriggersOneRecursiveASPDMA(t *testing.T) {
	aspdma := &updatedInfoASPDMA{}
	c := newTestCascade(aspdma, 2, 20)
	out := c.Run(context.Background(), EvaluationInput{ThoughtID: "th-6", TaskID: "task-6", Content: "hello", Depth: 0, UpdatedInfoAvailable: true})
	require.True(t, out.Verdict.Passed)
	require.Equal(t, VerbSpeak, out.Selection.Action)
	require.Equal(t, 1, out.ASPDMARetries)
	require.Equal(t, 2, aspdma.calls)
}
