// Package lifecycle implements the initialization and shutdown
// coordinator (spec §4.10): a fixed-phase startup sequence with
// critical/non-critical step policy, and a coordinated multi-stage
// shutdown drain. Grounded on the teacher's cmd/echo.go startup sequence
// (detect providers -> init core -> init autonomous layer -> start loop),
// generalized from one hardcoded sequence of function calls into a
// registrable, phase-ordered, verifiable coordinator.
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// Phase is one of the eight fixed startup phases, executed strictly in
// order (spec §4.10).
type Phase string

const (
	PhaseInfrastructure Phase = "infrastructure"
	PhaseDatabase       Phase = "database"
	PhaseMemory         Phase = "memory"
	PhaseIdentity       Phase = "identity"
	PhaseSecurity       Phase = "security"
	PhaseServices       Phase = "services"
	PhaseComponents     Phase = "components"
	PhaseVerification   Phase = "verification"
)

// PhaseOrder is the fixed execution order (spec §4.10: "infrastructure ->
// database -> memory -> identity -> security -> services -> components ->
// verification").
var PhaseOrder = []Phase{
	PhaseInfrastructure, PhaseDatabase, PhaseMemory, PhaseIdentity,
	PhaseSecurity, PhaseServices, PhaseComponents, PhaseVerification,
}

// Step is one named unit of startup work within a Phase. Steps are
// critical by default (spec §4.10: "critical steps (default) abort the
// phase on failure"); set NonCritical to opt a step out of that so the
// Go zero value matches the spec's stated default instead of inverting it.
type Step struct {
	Name        string
	NonCritical bool
	Handler     func(ctx context.Context) error
	Verifier    func(ctx context.Context) error // optional
}

const (
	defaultStepTimeout       = 30 * time.Second
	defaultVerificationTimeout = 10 * time.Second
)

// StepFailure records one step's handler or verifier error, for a phase
// result's non-critical-failure log (spec §4.10: "non-critical steps log
// but continue").
type StepFailure struct {
	Phase    Phase
	Step     string
	Stage    string // "handler" or "verifier"
	Critical bool
	Err      error
}

func (s Step) critical() bool { return !s.NonCritical }

func (f StepFailure) Error() string {
	return fmt.Sprintf("lifecycle: phase %s step %q %s failed: %v", f.Phase, f.Step, f.Stage, f.Err)
}

// Coordinator runs registered Steps through PhaseOrder.
type Coordinator struct {
	steps               map[Phase][]Step
	stepTimeout         time.Duration
	verificationTimeout time.Duration
}

// NewCoordinator builds a Coordinator with spec §4.10's default timeouts.
func NewCoordinator() *Coordinator {
	return &Coordinator{
		steps:               make(map[Phase][]Step),
		stepTimeout:         defaultStepTimeout,
		verificationTimeout: defaultVerificationTimeout,
	}
}

// Register adds step to phase, appended after any already registered for
// that phase.
func (c *Coordinator) Register(phase Phase, step Step) {
	c.steps[phase] = append(c.steps[phase], step)
}

// Run executes every phase in PhaseOrder. Within a phase, every step's
// Handler runs concurrently (spec §4.10: "handler (async)"); once all
// handlers for the phase complete, every step's Verifier (if any) also
// runs concurrently. A critical step's handler or verifier failure
// aborts the whole Run; a non-critical step's failure is collected and
// returned alongside a nil error so startup can continue past it.
func (c *Coordinator) Run(ctx context.Context) ([]StepFailure, error) {
	var failures []StepFailure
	for _, phase := range PhaseOrder {
		steps := c.steps[phase]
		if len(steps) == 0 {
			continue
		}
		phaseFailures, err := c.runPhase(ctx, phase, steps)
		failures = append(failures, phaseFailures...)
		if err != nil {
			return failures, fmt.Errorf("lifecycle: phase %s aborted: %w", phase, err)
		}
	}
	return failures, nil
}

func (c *Coordinator) runPhase(ctx context.Context, phase Phase, steps []Step) ([]StepFailure, error) {
	var failures []StepFailure

	if err := c.runStage(ctx, phase, steps, "handler", c.stepTimeout, func(s Step) func(context.Context) error { return s.Handler }, &failures); err != nil {
		return failures, err
	}
	if err := c.runStage(ctx, phase, steps, "verifier", c.verificationTimeout, func(s Step) func(context.Context) error { return s.Verifier }, &failures); err != nil {
		return failures, err
	}
	return failures, nil
}

func (c *Coordinator) runStage(ctx context.Context, phase Phase, steps []Step, stage string, timeout time.Duration, pick func(Step) func(context.Context) error, failures *[]StepFailure) error {
	g, gctx := errgroup.WithContext(ctx)
	type outcome struct {
		step Step
		err  error
	}
	outcomes := make(chan outcome, len(steps))

	for _, s := range steps {
		s := s
		fn := pick(s)
		if fn == nil {
			continue
		}
		g.Go(func() error {
			sctx, cancel := context.WithTimeout(gctx, timeout)
			defer cancel()
			err := fn(sctx)
			outcomes <- outcome{step: s, err: err}
			if err != nil && s.critical() {
				return StepFailure{Phase: phase, Step: s.Name, Stage: stage, Critical: true, Err: err}
			}
			return nil
		})
	}
	err := g.Wait()
	close(outcomes)
	for o := range outcomes {
		if o.err != nil && !o.step.critical() {
			*failures = append(*failures, StepFailure{Phase: phase, Step: o.step.Name, Stage: stage, Critical: false, Err: o.err})
		}
	}
	return err
}
