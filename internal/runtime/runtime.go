// Package runtime is the composition root: it wires the service registry,
// the six message buses, the graph store, the task/thought queue, the DMA
// cascade, the action dispatcher, the cognitive state machine, the audit
// writer, and the telemetry aggregator into one running occurrence.
// Grounded on the teacher's cmd/echo.go, which performs the same kind of
// "construct every subsystem, wire it into the next" assembly for a single
// binary entrypoint — generalized here from one fixed wiring into a
// Runtime type so cmd/ and tests can both construct it.
package runtime

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/crypto/ed25519"

	"github.com/CIRISAI/CIRISAgent/internal/action"
	"github.com/CIRISAI/CIRISAgent/internal/audit"
	"github.com/CIRISAI/CIRISAgent/internal/bus"
	"github.com/CIRISAI/CIRISAgent/internal/ciriserr"
	"github.com/CIRISAI/CIRISAgent/internal/clockid"
	"github.com/CIRISAI/CIRISAgent/internal/config"
	"github.com/CIRISAI/CIRISAgent/internal/dma"
	"github.com/CIRISAI/CIRISAgent/internal/graph"
	"github.com/CIRISAI/CIRISAgent/internal/lifecycle"
	"github.com/CIRISAI/CIRISAgent/internal/queue"
	"github.com/CIRISAI/CIRISAgent/internal/registry"
	"github.com/CIRISAI/CIRISAgent/internal/state"
	"github.com/CIRISAI/CIRISAgent/internal/telemetry"
)

// Runtime owns every live subsystem for one occurrence.
type Runtime struct {
	Config *config.Config

	Registry   *registry.Registry
	Memory     *bus.MemoryBus
	LanguageModel *bus.LanguageModelBus
	Wisdom     *bus.WisdomBus
	Tool       *bus.ToolBus
	Comm       *bus.CommunicationBus
	RuntimeCtl *bus.RuntimeControlBus

	Store graph.Store
	Queue *queue.Queue
	IDs   *clockid.IDGenerator

	Cascade    *dma.Cascade
	Dispatcher *action.Dispatcher
	Machine    *state.Machine
	Incidents  *state.IncidentAnalyzer
	Audit      *audit.Writer
	Telemetry  *telemetry.Aggregator

	Lifecycle *lifecycle.Coordinator
	Shutdown  *lifecycle.ShutdownCoordinator
}

// transitionLogAdapter closes a state.Machine's TransitionLogger over the
// audit.Writer, which needs an occurrenceID that state.TransitionLogger's
// narrower signature does not carry.
type transitionLogAdapter struct {
	writer       *audit.Writer
	occurrenceID string
}

func (a transitionLogAdapter) LogTransition(ctx context.Context, from, to state.State, reason string) error {
	return a.writer.LogTransition(ctx, a.occurrenceID, string(from), string(to), reason)
}

// New wires a full Runtime around store for one occurrence, using cfg's
// tunables and signingKey for the audit chain. Callers needing custom DMAs
// (a real language-model-backed PDMA/CSDMA/DSDMA/ASPDMA, say) can replace
// the returned Runtime's Cascade with one built by dma.NewCascade; New
// always starts from the deterministic reference DMAs.
func New(cfg *config.Config, store graph.Store, signingKey ed25519.PrivateKey) *Runtime {
	clock := clockid.New()
	ids := clockid.NewIDGenerator(clock)

	reg := registry.New(cfg.CircuitBreakerFailureThreshold, cfg.CircuitBreakerCooldown)
	reg.Register(registry.KindMemory, bus.NewStoreAdapter("primary-store", store), 0)

	memBus := bus.NewMemoryBus(reg, cfg.DMATimeout)
	lmBus := bus.NewLanguageModelBus(reg, cfg.DMATimeout)
	wisdomBus := bus.NewWisdomBus(reg, memBus, cfg.DMATimeout)
	toolBus := bus.NewToolBus(reg, cfg.DMATimeout)
	commBus := bus.NewCommunicationBus(reg, cfg.DMATimeout)
	rcBus := bus.NewRuntimeControlBus(reg, cfg.DMATimeout)

	conscience := dma.NewConscience(dma.DefaultFaculties(cfg.EntropyThreshold, cfg.CoherenceThreshold), cfg.ConscienceTimeout, cfg.MaxDepth)
	cascade := dma.NewCascade(dma.ReferencePDMA{}, dma.ReferenceCSDMA{}, dma.ReferenceDSDMA{}, dma.ReferenceASPDMA{}, conscience, cfg.DMATimeout, cfg.DMARetryLimit, cfg.ConscienceRetryLimit)

	dispatcher := action.NewDispatcher(memBus, commBus, toolBus, wisdomBus, ids)

	auditWriter := audit.NewWriter(store, ids, signingKey)
	machine := state.NewMachine(transitionLogAdapter{writer: auditWriter, occurrenceID: cfg.OccurrenceID})

	return &Runtime{
		Config:        cfg,
		Registry:      reg,
		Memory:        memBus,
		LanguageModel: lmBus,
		Wisdom:        wisdomBus,
		Tool:          toolBus,
		Comm:          commBus,
		RuntimeCtl:    rcBus,
		Store:         store,
		Queue:         queue.New(cfg.MaxActiveTasks, cfg.MaxActiveThoughts),
		IDs:           ids,
		Cascade:       cascade,
		Dispatcher:    dispatcher,
		Machine:       machine,
		Incidents:     state.NewIncidentAnalyzer(store, ids, cfg.IncidentAnalysisWindow),
		Audit:         auditWriter,
		Telemetry:     telemetry.NewAggregator(reg, cfg.DMATimeout),
		Lifecycle:     lifecycle.NewCoordinator(),
		Shutdown:      lifecycle.NewShutdownCoordinator(cfg.ShutdownGrace, nil),
	}
}

// SubmitObservation enqueues a new task for channelRef carrying content,
// or folds it into an already-active task on the same channel (spec
// §4.5). It refuses new tasks while the shutdown drain has stopped
// accepting observations (spec §4.10 step 2).
func (r *Runtime) SubmitObservation(ctx context.Context, channelRef, content string, images []string) (string, error) {
	if !r.Shutdown.AcceptingObservations() {
		return "", ciriserr.New(ciriserr.KindValidation, "runtime.SubmitObservation", fmt.Errorf("runtime is shutting down"))
	}

	now := time.Now().UTC()
	candidate := &queue.Task{
		TaskID:       r.IDs.New("task"),
		OccurrenceID: r.Config.OccurrenceID,
		ChannelRef:   channelRef,
		Context:      map[string]any{"content": content},
		Images:       images,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	ownerID, err := r.Queue.SubmitTask(candidate)
	if err != nil {
		return "", ciriserr.New(ciriserr.KindValidation, "runtime.SubmitObservation", err)
	}

	if ownerID == candidate.TaskID {
		r.Queue.PushThought(&queue.Thought{
			ThoughtID: r.IDs.New("th"),
			TaskID:    candidate.TaskID,
			Content:   content,
			CreatedAt: now,
		})
	}
	return ownerID, nil
}

// ProcessRound pops up to MaxActiveThoughts thoughts, runs each through
// the cascade and dispatcher, persists an audit trace per thought, and
// applies the resulting task/thought-graph change. It returns the number
// of thoughts processed, so callers (the round-delay loop, tests) can
// tell an empty queue from a busy one.
func (r *Runtime) ProcessRound(ctx context.Context) (int, error) {
	// Promote every pending task to active before popping thoughts: a
	// thought pushed at submission time belongs to a task that is still
	// Pending until this happens, and Transition to a terminal status only
	// succeeds from Active (spec §3 status graph).
	for r.Queue.NextPendingTask() != nil {
	}

	thoughts := r.Queue.PopThoughts()
	for _, th := range thoughts {
		task := r.Queue.Task(th.TaskID)
		if task == nil {
			continue
		}
		if err := r.processThought(ctx, task, th); err != nil {
			return len(thoughts), err
		}
	}
	return len(thoughts), nil
}

func (r *Runtime) processThought(ctx context.Context, task *queue.Task, th *queue.Thought) error {
	in := dma.EvaluationInput{
		ThoughtID:            th.ThoughtID,
		TaskID:               th.TaskID,
		Content:              th.Content,
		Depth:                th.Depth,
		UpdatedInfoAvailable: task.UpdatedInfoAvailable,
	}
	// The flag is consumed exactly once per re-evaluation: this thought's
	// cascade run has now seen it, so a terminal selection it produces is
	// judged against the information that was actually available, and a
	// later observation on the same channel sets it again independently
	// (spec §4.5/§4.6; a task with updated info must eventually complete,
	// not DEFER forever — scenario S4).
	task.UpdatedInfoAvailable = false
	outcome := r.Cascade.Run(ctx, in)

	result, err := r.Dispatcher.Dispatch(ctx, outcome.Selection, th, task)
	if err != nil {
		return err
	}

	if _, err := r.Audit.Write(ctx, auditTraceFor(task, th, outcome, result)); err != nil {
		return err
	}

	switch result.Status {
	case action.StatusFollowUp:
		if result.FollowUpThought != nil {
			r.Queue.PushThought(result.FollowUpThought)
		}
	case action.StatusTaskTerminal:
		if err := r.Queue.Transition(task.TaskID, result.TaskStatus, false); err != nil {
			return err
		}
	}
	return nil
}

// ResolveDeferral records an authority's decision on a DeferralRecord and,
// if approved, moves the owning task back to pending so it re-enters the
// processor loop (spec §3: "deferred->pending only via authority
// resolution"). A denied resolution leaves the task deferred.
func (r *Runtime) ResolveDeferral(ctx context.Context, deferralID string, resolution bus.DeferralResolution) (bus.DeferralRecord, error) {
	rec, err := r.Wisdom.ResolveDeferral(ctx, r.Config.OccurrenceID, deferralID, resolution)
	if err != nil {
		return bus.DeferralRecord{}, err
	}
	if resolution.Approved {
		if err := r.Queue.Transition(rec.TaskID, queue.TaskPending, true); err != nil {
			return rec, fmt.Errorf("runtime: resume task %s after deferral resolution: %w", rec.TaskID, err)
		}
	}
	return rec, nil
}

func auditTraceFor(task *queue.Task, th *queue.Thought, outcome dma.Outcome, result action.HandlerResult) audit.CompleteTrace {
	return audit.CompleteTrace{
		ThoughtID:    th.ThoughtID,
		TaskID:       task.TaskID,
		OccurrenceID: task.OccurrenceID,
		CreatedAt:    time.Now().UTC(),
		Components: audit.TraceComponents{
			Observation: map[string]any{"content": th.Content},
			Context:     task.Context,
			DMAResults: map[string]any{
				"pdma":  outcome.PDMA,
				"csdma": outcome.CSDMA,
				"dsdma": outcome.DSDMA,
			},
			Action:     map[string]any{"verb": string(outcome.Selection.Action), "rationale": outcome.Selection.Rationale},
			Conscience: map[string]any{"passed": outcome.Verdict.Passed, "reason": outcome.Verdict.Reason, "retries": outcome.ASPDMARetries},
			Outcome:    map[string]any{"status": string(result.Status), "side_effects": result.SideEffects},
		},
	}
}
