// Package single implements the trivial single-agent topology: one node, one
// turn, no handoff and no dependency graph. It exists so the run supervisor
// can drive all three topologies (§1) through the same Orchestrator contract
// that swarm.Swarm and graph.Graph satisfy.
package single

import (
	"context"
	"time"

	"github.com/agentrun/runtime/agent"
	"github.com/agentrun/runtime/event"
	"github.com/agentrun/runtime/interrupt"
	"github.com/agentrun/runtime/node"
)

type runIDKey struct{}

// WithRunID attaches a run id to the context passed to Stream, so emitted
// events carry the supervisor's run identifier.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

func runIDFrom(ctx context.Context) string {
	if v := ctx.Value(runIDKey{}); v != nil {
		if id, ok := v.(string); ok && id != "" {
			return id
		}
	}
	return "run"
}

// Single wraps exactly one agent as a one-node orchestrator.
type Single struct {
	node       *node.Node
	interrupts *interrupt.State
	task       any
}

// New builds a Single orchestrator over one agent.
func New(a agent.Agent) *Single {
	return &Single{node: node.New(a.Name(), a, agent.State{}), interrupts: interrupt.NewState()}
}

// Interrupts exposes the node's interrupt checkpoint (§4.4).
func (s *Single) Interrupts() *interrupt.State { return s.interrupts }

// Stream runs the single node once to completion.
func (s *Single) Stream(ctx context.Context, task any) (<-chan event.Event, func() event.Result) {
	s.task = task
	return s.run(ctx, task, false)
}

// Resume re-enters the node with the supplied resume responses, per §4.4.
func (s *Single) Resume(ctx context.Context, req interrupt.Request) (<-chan event.Event, func() event.Result) {
	s.interrupts.SetResume(req)
	responses, _ := s.interrupts.ResponsesFor(s.node.ID)
	s.interrupts.Deactivate()
	return s.run(ctx, responses, true)
}

func (s *Single) run(ctx context.Context, input any, resuming bool) (<-chan event.Event, func() event.Result) {
	runID := runIDFrom(ctx)
	out := make(chan event.Event, 16)
	resultCh := make(chan event.Result, 1)
	started := time.Now()

	go func() {
		defer close(out)
		out <- event.NewNodeStartEvent(runID, s.node.ID, event.NodeTypeAgent)
		out <- event.NewNodeInputEvent(runID, s.node.ID, input)

		deltas, await := s.node.Run(ctx, runID, input)
		for ev := range deltas {
			out <- ev
		}
		res := await()
		out <- event.NewNodeStopEvent(runID, s.node.ID, res)

		switch res.Status {
		case event.NodeStatusInterrupted:
			s.interrupts.Activate(s.node.ID, interrupt.NodeContext{Source: interrupt.SourceExecutor, Interrupts: res.Interrupts})
			out <- event.NewNodeInterruptEvent(runID, s.node.ID, res.Interrupts)
			resultCh <- event.Result{Status: event.NodeStatusInterrupted, Usage: res.AccumulatedUsage, NodeIDs: []string{s.node.ID}}
			_ = started
			return
		case event.NodeStatusFailed:
			resultCh <- event.Result{Status: event.NodeStatusFailed, Text: "node execution failed", Usage: res.AccumulatedUsage, NodeIDs: []string{s.node.ID}}
			return
		}

		result := event.Result{
			Status:  event.NodeStatusCompleted,
			Text:    toText(res.Content),
			Usage:   res.AccumulatedUsage,
			NodeIDs: []string{s.node.ID},
		}
		if res.Content != nil {
			result.Metadata = map[string]any{"content": res.Content}
		}
		out <- event.NewResultEvent(runID, result)
		resultCh <- result
	}()

	return out, func() event.Result { return <-resultCh }
}

func toText(content any) string {
	if s, ok := content.(string); ok {
		return s
	}
	if content == nil {
		return ""
	}
	return ""
}
