// Package swarm implements the self-organizing hand-off orchestrator (§4.2):
// agents hand off control to one another via an injected coordination tool,
// a shared two-level context map, and repetitive-handoff detection.
package swarm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/agentrun/runtime/agent"
	"github.com/agentrun/runtime/event"
	"github.com/agentrun/runtime/interrupt"
	"github.com/agentrun/runtime/node"
)

// CoordinationToolName is the tool injected into every node's registry.
const CoordinationToolName = "handoff_to_agent"

// BeforeNodeCall is consulted before each node turn begins. A non-empty
// return raises a hook interrupt (§4.4 SourceHook) instead of running the
// node's executor for this turn.
type BeforeNodeCall func(ctx context.Context, nodeID string, input any) []string

// Options configures a Swarm's continuation limits. Zero values take the
// documented defaults.
type Options struct {
	MaxHandoffs      int
	MaxIterations    int
	ExecutionTimeout time.Duration
	// RepetitiveWindow and MinUniqueAgents implement repetitive-handoff
	// detection; both zero (the default) disables it.
	RepetitiveWindow int
	MinUniqueAgents  int
	// BeforeNodeCall, if set, runs before every node turn (§4.4).
	BeforeNodeCall BeforeNodeCall
}

func (o Options) withDefaults() Options {
	if o.MaxHandoffs <= 0 {
		o.MaxHandoffs = 20
	}
	if o.MaxIterations <= 0 {
		o.MaxIterations = 20
	}
	if o.ExecutionTimeout <= 0 {
		o.ExecutionTimeout = 900 * time.Second
	}
	return o
}

// sharedContext is the swarm's two-level node id -> key -> value map (§3).
type sharedContext struct {
	data map[string]map[string]any
}

func newSharedContext() *sharedContext { return &sharedContext{data: map[string]map[string]any{}} }

func (c *sharedContext) merge(nodeID string, values map[string]any) error {
	if len(values) == 0 {
		return nil
	}
	bucket, ok := c.data[nodeID]
	if !ok {
		bucket = map[string]any{}
		c.data[nodeID] = bucket
	}
	for k, v := range values {
		if k == "" {
			return fmt.Errorf("shared context key must be non-empty")
		}
		bucket[k] = v
	}
	return nil
}

func (c *sharedContext) dump() string {
	if len(c.data) == 0 {
		return "(empty)"
	}
	b, _ := json.Marshal(c.data)
	return string(b)
}

// handoffRequest is the structured intent a coordination-tool invocation
// records. The orchestrator applies it between turns; the tool handler reads
// the Swarm only to check that the target node exists, and records the
// intent on the per-turn coordinator below.
type handoffRequest struct {
	ToAgent string
	Message string
}

// turnCoordinator holds just enough state to record an intent and merge
// shared-context values; it does not reference the Swarm instance itself
// (§9 design note on closure-carrying tools).
type turnCoordinator struct {
	fromNodeID string
	ctx        *sharedContext
	pending    *handoffRequest
}

func (c *turnCoordinator) invoke(agentName, message string, extra map[string]any) (any, error) {
	if err := c.ctx.merge(c.fromNodeID, extra); err != nil {
		return nil, err
	}
	c.pending = &handoffRequest{ToAgent: agentName, Message: message}
	return map[string]any{"acknowledged": true}, nil
}

// Swarm is the self-organizing hand-off orchestrator.
type Swarm struct {
	opts         Options
	nodes        map[string]*node.Node
	order        []string
	ctx          *sharedContext
	history      []string
	coordinators map[string]*turnCoordinator
	interrupts   *interrupt.State
	task         any
}

// New builds a Swarm over the given agents, injecting the coordination tool
// into each one. Construction fails if any agent already defines a tool
// named CoordinationToolName.
func New(agents []agent.Agent, opts Options) (*Swarm, error) {
	if len(agents) == 0 {
		return nil, fmt.Errorf("swarm requires at least one agent")
	}
	s := &Swarm{
		opts:       opts.withDefaults(),
		nodes:      make(map[string]*node.Node, len(agents)),
		ctx:        newSharedContext(),
		interrupts: interrupt.NewState(),
	}
	names := make(map[string]bool, len(agents))
	for _, a := range agents {
		if names[a.Name()] {
			return nil, fmt.Errorf("duplicate agent name %q", a.Name())
		}
		names[a.Name()] = true
		if _, exists := a.Tools()[CoordinationToolName]; exists {
			return nil, fmt.Errorf("agent %q already defines tool %q", a.Name(), CoordinationToolName)
		}
		s.order = append(s.order, a.Name())
		s.nodes[a.Name()] = node.New(a.Name(), a, agent.State{})
	}
	for _, a := range agents {
		if err := s.injectCoordinationTool(a); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Swarm) injectCoordinationTool(a agent.Agent) error {
	coord := &turnCoordinator{fromNodeID: a.Name(), ctx: s.ctx}
	spec := agent.ToolSpec{
		Name:        CoordinationToolName,
		Description: "Hand off the conversation to another named agent.",
		InputSchema: map[string]any{
			"agent_name": "string", "message": "string", "context": "object?",
		},
	}
	handler := func(_ context.Context, input any) (any, error) {
		args, _ := input.(map[string]any)
		name, _ := args["agent_name"].(string)
		message, _ := args["message"].(string)
		extra, _ := args["context"].(map[string]any)
		if _, ok := s.nodes[name]; !ok {
			return nil, fmt.Errorf("handoff target %q does not exist", name)
		}
		return coord.invoke(name, message, extra)
	}
	if err := a.AddTool(spec, handler); err != nil {
		return err
	}
	s.pendingFor(a.Name(), coord)
	return nil
}

// pendingFor records each node's coordinator so the turn loop can
// inspect whether a handoff was requested during that node's turn.
func (s *Swarm) pendingFor(nodeID string, coord *turnCoordinator) {
	if s.coordinators == nil {
		s.coordinators = map[string]*turnCoordinator{}
	}
	s.coordinators[nodeID] = coord
}

// Stream drives the turn loop starting from the first agent in the roster.
func (s *Swarm) Stream(ctx context.Context, task any) (<-chan event.Event, func() event.Result) {
	s.task = task
	return s.run(ctx, task, s.order[0], false)
}

// ResumeFrom re-enters the turn loop at a specific node with resume input,
// used after an interrupt (§4.4).
func (s *Swarm) ResumeFrom(ctx context.Context, nodeID string, responses []any) (<-chan event.Event, func() event.Result) {
	return s.run(ctx, responses, nodeID, true)
}

// Interrupts exposes the swarm's interrupt checkpoint, for serialization and
// inspection by the run supervisor (§4.4, §4.8).
func (s *Swarm) Interrupts() *interrupt.State { return s.interrupts }

// Resume re-enters the swarm after an interrupt, using the saved interrupt
// checkpoint to decide how: a hook-raised interrupt (SourceHook) re-executes
// the interrupted node from scratch with the original task; an
// executor-raised interrupt (SourceExecutor) re-enters that node's executor
// with the supplied resume responses as input (§4.4).
func (s *Swarm) Resume(ctx context.Context, req interrupt.Request) (<-chan event.Event, func() event.Result) {
	s.interrupts.SetResume(req)
	nodes := s.interrupts.InterruptedNodes()
	if len(nodes) == 0 {
		out := make(chan event.Event)
		close(out)
		return out, func() event.Result {
			return event.Result{Status: event.NodeStatusFailed, Text: "swarm: no interrupt to resume"}
		}
	}
	nodeID := nodes[0]
	nodeCtx, _ := s.interrupts.NodeContextFor(nodeID)
	responses, _ := s.interrupts.ResponsesFor(nodeID)
	s.interrupts.Deactivate()

	if nodeCtx.Source == interrupt.SourceHook {
		return s.run(ctx, s.task, nodeID, false)
	}
	return s.ResumeFrom(ctx, nodeID, responses)
}
