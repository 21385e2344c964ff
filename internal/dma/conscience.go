package dma

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// FacultyName identifies one of the four epistemic conscience faculties.
type FacultyName string

const (
	FacultyEntropy           FacultyName = "entropy"
	FacultyCoherence         FacultyName = "coherence"
	FacultyOptimizationVeto  FacultyName = "optimization_veto"
	FacultyEpistemicHumility FacultyName = "epistemic_humility"
	facultyUpdatedInfo       FacultyName = "updated_info"
	facultyDepth             FacultyName = "depth"
)

// facultyPriorityOrder is the fixed tie-break order (spec §4.6: "Conscience
// faculties are evaluated in priority order (entropy, coherence,
// optimization_veto, epistemic_humility, depth); the FIRST failing faculty
// dictates the feedback text."). The depth check is handled separately as
// an unconditional pre-check (see Evaluate), since spec §8 property 2
// requires it to override regardless of the selected verb, even bypass
// verbs; updated_info is the other "always-on structural check" spec §4.6
// describes alongside depth, and is likewise a pre-check in Evaluate, run
// before the bypass list and the faculties; the faculty loop skips its
// entry in this list.
var facultyPriorityOrder = []FacultyName{
	FacultyEntropy, FacultyCoherence, FacultyOptimizationVeto, FacultyEpistemicHumility, facultyUpdatedInfo,
}

// FacultyResult is one faculty's verdict on a Selection.
type FacultyResult struct {
	Passed bool
	Reason string
}

// Faculty evaluates one epistemic dimension of an ASPDMA Selection.
type Faculty interface {
	Name() FacultyName
	Evaluate(ctx context.Context, sel Selection, in EvaluationInput) FacultyResult
}

// Verdict is the conscience's decision on one Selection.
type Verdict struct {
	Passed bool
	// ForcedAction, when non-nil, is a terminal override that bypasses the
	// recursive-ASPDMA retry loop entirely (only the depth check produces
	// this; spec §4.6/§8 property 2).
	ForcedAction  *Verb
	Reason        string
	FailedFaculty FacultyName
}

// Conscience runs the four epistemic faculties plus the two structural
// checks (spec §4.6).
type Conscience struct {
	faculties []Faculty
	timeout   time.Duration
	maxDepth  int
}

// NewConscience builds a Conscience over the given faculties (order
// irrelevant; facultyPriorityOrder governs tie-break), with a per-faculty
// timeout and the runtime's configured max thought depth.
func NewConscience(faculties []Faculty, timeout time.Duration, maxDepth int) *Conscience {
	return &Conscience{faculties: faculties, timeout: timeout, maxDepth: maxDepth}
}

// Evaluate judges sel against thought in (spec §4.6).
func (c *Conscience) Evaluate(ctx context.Context, sel Selection, in EvaluationInput) Verdict {
	if in.Depth >= c.maxDepth {
		d := VerbDefer
		return Verdict{
			Passed:        false,
			ForcedAction:  &d,
			Reason:        fmt.Sprintf("thought depth %d >= max_depth %d; forcing DEFER", in.Depth, c.maxDepth),
			FailedFaculty: facultyDepth,
		}
	}

	// updated_info is, like depth, an unconditional structural check (spec
	// §4.6): it applies even to bypass-listed verbs like TASK_COMPLETE,
	// since those are exactly the selections that would otherwise let a
	// task close over stale information (scenario S4). Unlike depth it
	// feeds the normal recursive-ASPDMA retry loop rather than forcing a
	// terminal action.
	if in.UpdatedInfoAvailable && ignoresUpdatedInfo(sel.Action) {
		return Verdict{
			Passed: false,
			Reason: "task has updated_info_available but the proposed action " +
				string(sel.Action) + " does not account for it; re-evaluation needed",
			FailedFaculty: facultyUpdatedInfo,
		}
	}

	if ConscienceBypass[sel.Action] {
		return Verdict{Passed: true}
	}

	results := c.runFacultiesParallel(ctx, sel, in)

	for _, name := range facultyPriorityOrder {
		if name == facultyUpdatedInfo {
			continue
		}
		if r, ok := results[name]; ok && !r.Passed {
			return Verdict{Passed: false, Reason: r.Reason, FailedFaculty: name}
		}
	}
	return Verdict{Passed: true}
}

func (c *Conscience) runFacultiesParallel(ctx context.Context, sel Selection, in EvaluationInput) map[FacultyName]FacultyResult {
	results := make(map[FacultyName]FacultyResult, len(c.faculties))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, f := range c.faculties {
		f := f
		g.Go(func() error {
			fctx, cancel := context.WithTimeout(gctx, c.timeout)
			defer cancel()
			done := make(chan FacultyResult, 1)
			go func() { done <- f.Evaluate(fctx, sel, in) }()
			select {
			case r := <-done:
				mu.Lock()
				results[f.Name()] = r
				mu.Unlock()
			case <-fctx.Done():
				mu.Lock()
				results[f.Name()] = FacultyResult{Passed: false, Reason: string(f.Name()) + " faculty timed out"}
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// ignoresUpdatedInfo reports whether action is one that would leave fresh
// channel information unaddressed (spec §4.6: "terminal ... or otherwise
// ignores the new information"). This runtime treats the three terminal
// verbs as the concrete case; a production deployment could extend this
// with a per-action "addresses new info" signal from ASPDMA's parameters.
func ignoresUpdatedInfo(v Verb) bool {
	return v.Terminal()
}
