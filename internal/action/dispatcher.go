package action

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/CIRISAI/CIRISAgent/internal/bus"
	"github.com/CIRISAI/CIRISAgent/internal/ciriserr"
	"github.com/CIRISAI/CIRISAgent/internal/clockid"
	"github.com/CIRISAI/CIRISAgent/internal/dma"
	"github.com/CIRISAI/CIRISAgent/internal/graph"
	"github.com/CIRISAI/CIRISAgent/internal/queue"
)

// defaultDeferralWindow is how far out a fresh DeferralRecord's DeferUntil
// is set when the selection itself carries no explicit deadline.
const defaultDeferralWindow = 24 * time.Hour

// Dispatcher routes an accepted dma.Selection to the bus (or buses) that
// verb touches, per spec §4.7's per-verb table. It is grounded on the
// teacher's core/autonomous/agent_orchestrator.go, which maps a decision
// onto one of a fixed set of execution paths; here the "decision" is a
// dma.Selection and the execution paths are the six buses.
type Dispatcher struct {
	memory *bus.MemoryBus
	comm   *bus.CommunicationBus
	tool   *bus.ToolBus
	wisdom *bus.WisdomBus
	ids    *clockid.IDGenerator

	mu   sync.Mutex
	seen map[string]HandlerResult // correlation ID -> cached result, for crash-recovery replay
}

func NewDispatcher(memory *bus.MemoryBus, comm *bus.CommunicationBus, tool *bus.ToolBus, wisdom *bus.WisdomBus, ids *clockid.IDGenerator) *Dispatcher {
	return &Dispatcher{memory: memory, comm: comm, tool: tool, wisdom: wisdom, ids: ids, seen: make(map[string]HandlerResult)}
}

// correlationID identifies one (thought, verb) dispatch. Replaying the
// same thought through the same verb after a crash must not re-send a
// message or re-invoke a tool a second time (spec §4.7 Design Notes).
func correlationID(thought *queue.Thought, sel dma.Selection) string {
	return thought.ThoughtID + ":" + string(sel.Action)
}

// Dispatch executes sel's side effects and reports the resulting
// HandlerResult. Calling Dispatch twice with the same thought/sel pair
// returns the cached result on the second call without re-running side
// effects.
func (d *Dispatcher) Dispatch(ctx context.Context, sel dma.Selection, thought *queue.Thought, task *queue.Task) (HandlerResult, error) {
	cid := correlationID(thought, sel)

	d.mu.Lock()
	if cached, ok := d.seen[cid]; ok {
		d.mu.Unlock()
		return cached, nil
	}
	d.mu.Unlock()

	result, err := d.dispatch(ctx, sel, thought, task)
	if err != nil {
		return HandlerResult{}, err
	}

	d.mu.Lock()
	d.seen[cid] = result
	d.mu.Unlock()
	return result, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, sel dma.Selection, thought *queue.Thought, task *queue.Task) (HandlerResult, error) {
	switch sel.Action {
	case dma.VerbSpeak:
		return d.handleSpeak(ctx, sel, thought, task)
	case dma.VerbTool:
		return d.handleTool(ctx, sel, thought)
	case dma.VerbObserve:
		return d.handleObserve(ctx, sel, thought, task)
	case dma.VerbMemorize:
		return d.handleMemorize(ctx, sel, thought, task)
	case dma.VerbRecall:
		return d.handleRecall(ctx, sel, thought, task)
	case dma.VerbForget:
		return d.handleForget(ctx, sel, thought, task)
	case dma.VerbPonder:
		return d.handlePonder(sel, thought), nil
	case dma.VerbDefer:
		return d.handleDefer(ctx, sel, thought, task)
	case dma.VerbReject:
		return HandlerResult{Status: StatusTaskTerminal, TaskStatus: queue.TaskRejected, SideEffects: []string{"task rejected: " + sel.Rationale}}, nil
	case dma.VerbTaskComplete:
		return HandlerResult{Status: StatusTaskTerminal, TaskStatus: queue.TaskCompleted, SideEffects: []string{"task completed"}}, nil
	default:
		return HandlerResult{}, ciriserr.New(ciriserr.KindValidation, "action.Dispatch", fmt.Errorf("unknown verb %q", sel.Action))
	}
}

func (d *Dispatcher) handleSpeak(ctx context.Context, sel dma.Selection, thought *queue.Thought, task *queue.Task) (HandlerResult, error) {
	content, _ := sel.Parameters["message"].(string)
	if content == "" {
		content = sel.Rationale
	}
	if err := d.comm.Send(ctx, bus.OutgoingMessage{ChannelRef: task.ChannelRef, Content: content}); err != nil {
		return HandlerResult{}, err
	}
	follow := &queue.Thought{
		ThoughtID:       d.ids.New("th"),
		TaskID:          thought.TaskID,
		ParentThoughtID: thought.ThoughtID,
		Content:         "SPEAK_SUCCESSFUL: sent \"" + content + "\" to " + task.ChannelRef,
		Depth:           thought.Depth + 1,
	}
	return HandlerResult{Status: StatusFollowUp, FollowUpThought: follow, SideEffects: []string{"sent message to " + task.ChannelRef}}, nil
}

func (d *Dispatcher) handleTool(ctx context.Context, sel dma.Selection, thought *queue.Thought) (HandlerResult, error) {
	name, _ := sel.Parameters["tool_name"].(string)
	res, err := d.tool.Invoke(ctx, name, sel.Parameters)
	if err != nil {
		return HandlerResult{}, err
	}
	follow := &queue.Thought{
		ThoughtID:       d.ids.New("th"),
		TaskID:          thought.TaskID,
		ParentThoughtID: thought.ThoughtID,
		Content:         fmt.Sprintf("tool %q returned exit_code=%d output=%v", name, res.ExitCode, res.Output),
		Depth:           thought.Depth + 1,
	}
	return HandlerResult{Status: StatusFollowUp, FollowUpThought: follow, SideEffects: []string{"invoked tool " + name}}, nil
}

func (d *Dispatcher) handleObserve(ctx context.Context, sel dma.Selection, thought *queue.Thought, task *queue.Task) (HandlerResult, error) {
	nodes, err := d.memory.Recall(ctx, task.OccurrenceID, graph.Filter{NodeType: graph.NodeTypeMessage, Limit: 10})
	if err != nil {
		return HandlerResult{}, err
	}
	follow := &queue.Thought{
		ThoughtID:       d.ids.New("th"),
		TaskID:          thought.TaskID,
		ParentThoughtID: thought.ThoughtID,
		Content:         fmt.Sprintf("observed %d recent messages on channel %s", len(nodes), task.ChannelRef),
		Depth:           thought.Depth + 1,
	}
	return HandlerResult{Status: StatusFollowUp, FollowUpThought: follow, SideEffects: []string{"observed channel"}}, nil
}

func (d *Dispatcher) handleMemorize(ctx context.Context, sel dma.Selection, thought *queue.Thought, task *queue.Task) (HandlerResult, error) {
	node := &graph.Node{
		ID:           d.ids.New("mem"),
		NodeType:     graph.NodeTypeThought,
		Scope:        graph.ScopeLocal,
		OccurrenceID: task.OccurrenceID,
		Attributes:   map[string]any{"content": thought.Content, "task_id": thought.TaskID},
	}
	if _, err := d.memory.Memorize(ctx, node); err != nil {
		return HandlerResult{}, err
	}
	follow := &queue.Thought{
		ThoughtID:       d.ids.New("th"),
		TaskID:          thought.TaskID,
		ParentThoughtID: thought.ThoughtID,
		Content:         "memorized node " + node.ID,
		Depth:           thought.Depth + 1,
	}
	return HandlerResult{Status: StatusFollowUp, FollowUpThought: follow, SideEffects: []string{"memorized node " + node.ID}}, nil
}

func (d *Dispatcher) handleRecall(ctx context.Context, sel dma.Selection, thought *queue.Thought, task *queue.Task) (HandlerResult, error) {
	prefix, _ := sel.Parameters["id_prefix"].(string)
	nodes, err := d.memory.Recall(ctx, task.OccurrenceID, graph.Filter{IDPrefix: prefix, Limit: 10})
	if err != nil {
		return HandlerResult{}, err
	}
	follow := &queue.Thought{
		ThoughtID:       d.ids.New("th"),
		TaskID:          thought.TaskID,
		ParentThoughtID: thought.ThoughtID,
		Content:         fmt.Sprintf("recalled %d nodes matching %q", len(nodes), prefix),
		Depth:           thought.Depth + 1,
	}
	return HandlerResult{Status: StatusFollowUp, FollowUpThought: follow, SideEffects: []string{"recalled from memory"}}, nil
}

func (d *Dispatcher) handleForget(ctx context.Context, sel dma.Selection, thought *queue.Thought, task *queue.Task) (HandlerResult, error) {
	nodeID, _ := sel.Parameters["node_id"].(string)
	if nodeID == "" {
		return HandlerResult{}, ciriserr.New(ciriserr.KindValidation, "action.FORGET", fmt.Errorf("missing node_id parameter"))
	}
	if err := d.memory.Forget(ctx, task.OccurrenceID, nodeID); err != nil {
		return HandlerResult{}, err
	}
	follow := &queue.Thought{
		ThoughtID:       d.ids.New("th"),
		TaskID:          thought.TaskID,
		ParentThoughtID: thought.ThoughtID,
		Content:         "forgot node " + nodeID,
		Depth:           thought.Depth + 1,
	}
	return HandlerResult{Status: StatusFollowUp, FollowUpThought: follow, SideEffects: []string{"forgot node " + nodeID}}, nil
}

func (d *Dispatcher) handlePonder(sel dma.Selection, thought *queue.Thought) HandlerResult {
	notes := append(append([]string{}, thought.PonderNotes...), sel.Rationale)
	follow := &queue.Thought{
		ThoughtID:       d.ids.New("th"),
		TaskID:          thought.TaskID,
		ParentThoughtID: thought.ThoughtID,
		Content:         thought.Content,
		Depth:           thought.Depth + 1,
		PonderNotes:     notes,
	}
	return HandlerResult{Status: StatusFollowUp, FollowUpThought: follow, SideEffects: []string{"pondered"}}
}

func (d *Dispatcher) handleDefer(ctx context.Context, sel dma.Selection, thought *queue.Thought, task *queue.Task) (HandlerResult, error) {
	// Wisdom is advisory only (spec §4.4): a failed or empty broadcast
	// never blocks the defer itself, so its error is deliberately dropped.
	advice, _ := d.wisdom.BroadcastGuidance(ctx, thought.Content)

	reason := sel.Rationale
	if reason == "" {
		reason = "deferred"
	}
	rec := bus.DeferralRecord{
		DeferralID:        d.ids.New("defer"),
		TaskID:            thought.TaskID,
		ThoughtID:         thought.ThoughtID,
		Reason:            reason,
		DeferUntil:        time.Now().UTC().Add(defaultDeferralWindow),
		RequiresAuthority: true,
	}
	if _, err := d.wisdom.SubmitDeferral(ctx, task.OccurrenceID, rec); err != nil {
		return HandlerResult{}, err
	}

	effects := []string{"task deferred: " + reason, "deferral record " + rec.DeferralID + " submitted"}
	for _, a := range advice {
		effects = append(effects, fmt.Sprintf("wisdom from %s: %s", a.ProviderID, a.Guidance))
	}
	return HandlerResult{Status: StatusTaskTerminal, TaskStatus: queue.TaskDeferred, SideEffects: effects}, nil
}
