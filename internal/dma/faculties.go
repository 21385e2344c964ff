package dma

import (
	"context"
	"fmt"
	"strings"
)

// EntropyFaculty fails when a selection's output is too chaotic (spec
// §4.6: "fails if > 0.40 (configurable)"). The score comes from
// Selection.Parameters["entropy_score"] when the selecting ASPDMA supplied
// one (a real deployment's ASPDMA would attach a self-assessed score from
// its underlying model call); absent that, the selection scores 1.0
// (maximally uncertain) so faculties never silently pass ungraded output.
type EntropyFaculty struct{ Threshold float64 }

func (EntropyFaculty) Name() FacultyName { return FacultyEntropy }

func (f EntropyFaculty) Evaluate(ctx context.Context, sel Selection, in EvaluationInput) FacultyResult {
	score := paramFloat(sel.Parameters, "entropy_score", 1.0)
	if score > f.Threshold {
		return FacultyResult{Passed: false, Reason: fmt.Sprintf("entropy %.2f exceeds threshold %.2f", score, f.Threshold)}
	}
	return FacultyResult{Passed: true}
}

// CoherenceFaculty fails when alignment with identity is too low (spec
// §4.6: "fails if < 0.60").
type CoherenceFaculty struct{ Threshold float64 }

func (CoherenceFaculty) Name() FacultyName { return FacultyCoherence }

func (f CoherenceFaculty) Evaluate(ctx context.Context, sel Selection, in EvaluationInput) FacultyResult {
	score := paramFloat(sel.Parameters, "coherence_score", 0.0)
	if score < f.Threshold {
		return FacultyResult{Passed: false, Reason: fmt.Sprintf("coherence %.2f below threshold %.2f; incoherent—be explicit about limits", score, f.Threshold)}
	}
	return FacultyResult{Passed: true}
}

// OptimizationVetoFaculty flags selections that over-optimize at the
// expense of human agency (spec §4.6).
type OptimizationVetoFaculty struct{}

func (OptimizationVetoFaculty) Name() FacultyName { return FacultyOptimizationVeto }

func (OptimizationVetoFaculty) Evaluate(ctx context.Context, sel Selection, in EvaluationInput) FacultyResult {
	rationale := strings.ToLower(sel.Rationale)
	for _, phrase := range []string{"override their choice", "without asking", "regardless of their wishes"} {
		if strings.Contains(rationale, phrase) {
			return FacultyResult{Passed: false, Reason: "rationale suggests eroding human agency: " + phrase}
		}
	}
	return FacultyResult{Passed: true}
}

// EpistemicHumilityFaculty flags over-confident claims (spec §4.6).
type EpistemicHumilityFaculty struct{}

func (EpistemicHumilityFaculty) Name() FacultyName { return FacultyEpistemicHumility }

func (EpistemicHumilityFaculty) Evaluate(ctx context.Context, sel Selection, in EvaluationInput) FacultyResult {
	rationale := strings.ToLower(sel.Rationale)
	for _, phrase := range []string{"i am certain", "definitely true", "100% correct", "guaranteed"} {
		if strings.Contains(rationale, phrase) {
			return FacultyResult{Passed: false, Reason: "rationale overstates certainty: " + phrase}
		}
	}
	return FacultyResult{Passed: true}
}

// DefaultFaculties returns the four epistemic faculties configured from
// entropyThreshold/coherenceThreshold (spec §6 config options).
func DefaultFaculties(entropyThreshold, coherenceThreshold float64) []Faculty {
	return []Faculty{
		EntropyFaculty{Threshold: entropyThreshold},
		CoherenceFaculty{Threshold: coherenceThreshold},
		OptimizationVetoFaculty{},
		EpistemicHumilityFaculty{},
	}
}

func paramFloat(params map[string]any, key string, fallback float64) float64 {
	if params == nil {
		return fallback
	}
	v, ok := params[key]
	if !ok {
		return fallback
	}
	f, ok := v.(float64)
	if !ok {
		return fallback
	}
	return f
}
