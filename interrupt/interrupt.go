// Package interrupt implements the pause/resume protocol for human-in-the-loop
// orchestration (§4.4): a serializable checkpoint of per-node state that lets
// a paused Swarm or Graph resume exactly where it left off. It is adapted from
// the teacher's Temporal-signal Controller (runtime/agent/interrupt) to a
// plain mutex-guarded in-process state, since this module's concurrency model is
// single-process cooperative rather than a durable, replay-based workflow
// engine (§5, §9).
package interrupt

import "sync"

// Source distinguishes why a node's execution was interrupted, which governs
// how the orchestrator re-enters it on resume (§4.4).
type Source string

const (
	// SourceHook marks an interrupt raised by the orchestrator's
	// beforeNodeCall hook, before the node's executor ever ran. Such a node
	// re-executes from the start with no input mutation.
	SourceHook Source = "hook"
	// SourceExecutor marks an interrupt raised by the node's own agent
	// executor. Such a node's executor state is restored from its saved
	// context and re-entered with the matching resume responses as input.
	SourceExecutor Source = "executor"
)

// NodeContext carries the saved state needed to resume one interrupted node:
// its message/scratch snapshot at the moment of interruption, the ids of the
// interrupts it raised, which raised them, and (for a nested-orchestrator
// node) that orchestrator's own nested interrupt state.
type NodeContext struct {
	Source      Source
	Interrupts  []string
	Messages    []any
	Scratch     map[string]any
	Nested      *State
	CompletedAt []string // completed_nodes snapshot at interrupt time (graph only, §4.3)
}

// Request is the payload a consumer supplies to resume a run: either a plain
// task value (single/swarm) or, per node id, the external responses that
// answer that node's open interrupts.
type Request struct {
	Responses map[string][]any
}

// State is the serializable checkpoint of an orchestrator's interrupt
// condition (§3 Interrupt state, §4.4 serialization shape).
type State struct {
	mu sync.Mutex

	open      map[string]struct{}     // currently-open interrupt ids
	perNode   map[string]*NodeContext // node id -> saved context
	activated bool
	resume    *Request
}

// NewState builds an empty, non-activated interrupt state.
func NewState() *State {
	return &State{open: map[string]struct{}{}, perNode: map[string]*NodeContext{}}
}

// Activated reports whether the orchestrator owning this state is currently
// paused awaiting resume.
func (s *State) Activated() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activated
}

// Activate records that one or more interrupts are open for nodeID and marks
// the state activated. Safe to call multiple times across a batch (graph).
func (s *State) Activate(nodeID string, ctx NodeContext) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activated = true
	for _, id := range ctx.Interrupts {
		s.open[id] = struct{}{}
	}
	s.perNode[nodeID] = &ctx
}

// Deactivate clears the activated flag and all open interrupts once every
// previously-interrupted node has completed without re-interrupting (§4.4).
func (s *State) Deactivate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activated = false
	s.open = map[string]struct{}{}
	s.perNode = map[string]*NodeContext{}
	s.resume = nil
}

// SetResume stores the latest resume payload a consumer supplied.
func (s *State) SetResume(req Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resume = &req
}

// ResponsesFor returns the resume responses addressed to nodeID, if any.
func (s *State) ResponsesFor(nodeID string) ([]any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resume == nil {
		return nil, false
	}
	r, ok := s.resume.Responses[nodeID]
	return r, ok
}

// NodeContextFor returns the saved context for a previously-interrupted node.
func (s *State) NodeContextFor(nodeID string) (NodeContext, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx, ok := s.perNode[nodeID]
	if !ok {
		return NodeContext{}, false
	}
	return *ctx, true
}

// InterruptedNodes returns the ids of every node with an open interrupt
// context, in no particular order.
func (s *State) InterruptedNodes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.perNode))
	for id := range s.perNode {
		out = append(out, id)
	}
	return out
}

// IsOpen reports whether the given interrupt id is still awaiting resolution.
func (s *State) IsOpen(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.open[id]
	return ok
}

// Snapshot is the plain-record serialization shape from §4.4: suitable for
// session persistence and round-tripping through encoding/json.
type Snapshot struct {
	Type               string                `json:"type"`
	ID                 string                `json:"id"`
	Status             string                `json:"status"`
	NodeHistory        []string              `json:"nodeHistory,omitempty"`
	CompletedNodes     []string              `json:"completedNodes,omitempty"`
	FailedNodes        []string              `json:"failedNodes,omitempty"`
	InterruptedNodes   []string              `json:"interruptedNodes,omitempty"`
	NodeResults        map[string]any        `json:"nodeResults,omitempty"`
	NextNodesToExecute []string              `json:"nextNodesToExecute,omitempty"`
	CurrentTask        any                   `json:"currentTask,omitempty"`
	ExecutionOrder     []string              `json:"executionOrder,omitempty"`
	Internal           InternalStateSnapshot `json:"_internalState"`
}

// InternalStateSnapshot carries the interrupt-state-specific fields nested
// under `_internalState` in §4.4's serialization shape.
type InternalStateSnapshot struct {
	Activated  bool                    `json:"activated"`
	Open       []string                `json:"open,omitempty"`
	PerNode    map[string]NodeSnapshot `json:"perNode,omitempty"`
	ResumeTask any                     `json:"resumeTask,omitempty"`
}

// NodeSnapshot is the serializable form of a NodeContext. Nested is omitted
// here; nested-orchestrator checkpoints are serialized recursively by the
// caller, which knows the concrete nested orchestrator type.
type NodeSnapshot struct {
	Source      Source         `json:"source"`
	Interrupts  []string       `json:"interrupts,omitempty"`
	Messages    []any          `json:"messages,omitempty"`
	Scratch     map[string]any `json:"scratch,omitempty"`
	CompletedAt []string       `json:"completedAt,omitempty"`
}

// Serialize produces the `_internalState.interruptState` fragment of §4.4's
// serialization shape.
func (s *State) Serialize() InternalStateSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := InternalStateSnapshot{Activated: s.activated}
	for id := range s.open {
		out.Open = append(out.Open, id)
	}
	if len(s.perNode) > 0 {
		out.PerNode = make(map[string]NodeSnapshot, len(s.perNode))
		for id, ctx := range s.perNode {
			out.PerNode[id] = NodeSnapshot{
				Source:      ctx.Source,
				Interrupts:  append([]string{}, ctx.Interrupts...),
				Messages:    append([]any{}, ctx.Messages...),
				Scratch:     ctx.Scratch,
				CompletedAt: append([]string{}, ctx.CompletedAt...),
			}
		}
	}
	if s.resume != nil {
		out.ResumeTask = s.resume
	}
	return out
}

// Deserialize restores a State from a previously-serialized fragment. If the
// snapshot's NextNodesToExecute was absent when the caller built `snap`
// (i.e. the caller passes a zero InternalStateSnapshot), the result is a
// fresh, non-activated state (§4.4: "If nextNodesToExecute is absent, state
// is reset to pending").
func Deserialize(snap InternalStateSnapshot) *State {
	s := NewState()
	s.activated = snap.Activated
	for _, id := range snap.Open {
		s.open[id] = struct{}{}
	}
	for id, ns := range snap.PerNode {
		s.perNode[id] = &NodeContext{
			Source:      ns.Source,
			Interrupts:  ns.Interrupts,
			Messages:    ns.Messages,
			Scratch:     ns.Scratch,
			CompletedAt: ns.CompletedAt,
		}
	}
	return s
}
