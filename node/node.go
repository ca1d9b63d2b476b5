// Package node turns an executor (an agent or a nested orchestrator) into a
// uniform streaming unit that emits the core event kinds and returns a
// NodeResult (§4.1).
package node

import (
	"context"
	"time"

	"github.com/agentrun/runtime/agent"
	"github.com/agentrun/runtime/event"
)

// Nested is the contract a nested orchestrator exposes to a Node. Swarm and
// Graph both satisfy it.
type Nested interface {
	Stream(ctx context.Context, input any) (<-chan event.Event, func() event.Result)
}

// Executor is a tagged union: exactly one of Agent or Nested is set. This
// renders the teacher's instanceof-style branching between agent and
// nested-orchestrator executors as an explicit match in Node.Run.
type Executor struct {
	Agent  agent.Agent
	Nested Nested
}

// Kind reports which arm of the Executor union is populated.
func (e Executor) Kind() event.NodeType {
	if e.Agent != nil {
		return event.NodeTypeAgent
	}
	return event.NodeTypeNested
}

// Status is the lifecycle state of a Node, independent of any one
// invocation's outcome.
type Status string

const (
	StatusPending     Status = "pending"
	StatusExecuting   Status = "executing"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusInterrupted Status = "interrupted"
)

// Node wraps an Executor with identity and a reset-stable initial snapshot.
// The initial snapshot is immutable for the orchestrator's lifetime; it is
// what reset-on-revisit restores an agent executor to.
type Node struct {
	ID       string
	executor Executor
	initial  agent.State

	Status   Status
	Result   *event.NodeResult
	ExecTime time.Duration
}

// New builds a Node wrapping an agent executor, capturing its initial state
// snapshot at construction time.
func New(id string, ex agent.Agent, initial agent.State) *Node {
	return &Node{ID: id, executor: Executor{Agent: ex}, initial: initial.Clone(), Status: StatusPending}
}

// NewNested builds a Node wrapping a nested orchestrator executor.
func NewNested(id string, ex Nested) *Node {
	return &Node{ID: id, executor: Executor{Nested: ex}, Status: StatusPending}
}

// Reset returns the node to pending status and clears its last result and
// execution time; agent state needs no restoring, since every Run starts
// from the node's immutable initial snapshot. Used by the graph orchestrator when resetOnRevisit re-selects a completed node.
func (n *Node) Reset() {
	n.Status = StatusPending
	n.Result = nil
	n.ExecTime = 0
}

// InitialSnapshot returns a defensive copy of the node's immutable initial
// agent state. Meaningless (zero value) for nested-orchestrator nodes.
func (n *Node) InitialSnapshot() agent.State { return n.initial.Clone() }

// Kind reports whether this node wraps an agent or a nested orchestrator.
func (n *Node) Kind() event.NodeType { return n.executor.Kind() }

// Run streams the node's executor and returns the event channel plus a
// blocking accessor for the terminal NodeResult. Any failure from the
// executor is preserved on the result rather than swallowed; callers that
// need to propagate it (the graph path) do so explicitly after reading the
// result.
func (n *Node) Run(ctx context.Context, runID string, input any) (<-chan event.Event, func() event.NodeResult) {
	return n.run(ctx, runID, input, n.initial)
}

// RunFrom streams the node's executor starting from an explicitly supplied
// agent state rather than the node's immutable initial snapshot. The
// orchestrators in this module do not call it: they resume an interrupted
// node through Run, with the resume responses as input.
func (n *Node) RunFrom(ctx context.Context, runID string, input any, state agent.State) (<-chan event.Event, func() event.NodeResult) {
	return n.run(ctx, runID, input, state)
}

func (n *Node) run(ctx context.Context, runID string, input any, state agent.State) (<-chan event.Event, func() event.NodeResult) {
	n.Status = StatusExecuting
	out := make(chan event.Event, 8)
	started := time.Now()

	switch n.executor.Kind() {
	case event.NodeTypeAgent:
		return n.runAgent(ctx, runID, input, state, out, started)
	default:
		return n.runNested(ctx, runID, input, out, started)
	}
}

func (n *Node) runAgent(ctx context.Context, runID string, input any, state agent.State, out chan event.Event, started time.Time) (<-chan event.Event, func() event.NodeResult) {
	deltas, await := n.executor.Agent.Stream(ctx, input, state.Clone())

	go func() {
		defer close(out)
		for d := range deltas {
			select {
			case out <- event.NewNodeStreamEvent(runID, n.ID, d):
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, func() event.NodeResult {
		res := await()
		result := event.NodeResult{
			Duration:         time.Since(started),
			Content:          res.Content,
			AccumulatedUsage: res.Metrics.AccumulatedUsage,
			ExecutionCount:   1,
			Interrupts:       res.Interrupts,
			Err:              res.Err,
		}
		switch {
		case res.Err != nil:
			result.Status = event.NodeStatusFailed
			n.Status = StatusFailed
		case len(res.Interrupts) > 0:
			result.Status = event.NodeStatusInterrupted
			n.Status = StatusInterrupted
		default:
			result.Status = event.NodeStatusCompleted
			n.Status = StatusCompleted
		}
		n.Result = &result
		n.ExecTime = result.Duration
		return result
	}
}

func (n *Node) runNested(ctx context.Context, runID string, input any, out chan event.Event, started time.Time) (<-chan event.Event, func() event.NodeResult) {
	inner, await := n.executor.Nested.Stream(ctx, input)

	go func() {
		defer close(out)
		for ev := range inner {
			select {
			case out <- event.NewNodeStreamEvent(runID, n.ID, ev):
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, func() event.NodeResult {
		res := await()
		result := event.NodeResult{
			Duration:         time.Since(started),
			Content:          res.Text,
			AccumulatedUsage: res.Usage,
			ExecutionCount:   1,
		}
		if res.Status == "" {
			res.Status = event.NodeStatusCompleted
		}
		result.Status = res.Status
		switch res.Status {
		case event.NodeStatusFailed:
			n.Status = StatusFailed
		case event.NodeStatusInterrupted:
			n.Status = StatusInterrupted
		default:
			n.Status = StatusCompleted
		}
		n.Result = &result
		n.ExecTime = result.Duration
		return result
	}
}
