// Package scripted provides a deterministic Agent test double used across
// orchestrator package tests: it replays a fixed script of deltas and a
// terminal result, optionally invoking a tool by name before completing.
package scripted

import (
	"context"
	"fmt"
	"sync"

	"github.com/agentrun/runtime/agent"
)

// Step describes one scripted turn's behavior.
type Step struct {
	Deltas     []agent.Delta
	Result     agent.Result
	InvokeTool string
	ToolInput  any
}

// Agent replays Steps in order, one per call to Stream; calling Stream more
// times than there are Steps repeats the last Step.
type Agent struct {
	name  string
	steps []Step

	mu    sync.Mutex
	calls int
	tools map[string]agent.ToolSpec
	exec  map[string]agent.ToolHandler
}

// New builds a scripted Agent named name that replays steps in order.
func New(name string, steps ...Step) *Agent {
	return &Agent{name: name, steps: steps, tools: map[string]agent.ToolSpec{}, exec: map[string]agent.ToolHandler{}}
}

func (a *Agent) Name() string { return a.name }

func (a *Agent) Tools() map[string]agent.ToolSpec {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]agent.ToolSpec, len(a.tools))
	for k, v := range a.tools {
		out[k] = v
	}
	return out
}

func (a *Agent) AddTool(spec agent.ToolSpec, handler agent.ToolHandler) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.tools[spec.Name]; exists {
		return fmt.Errorf("tool %q already registered", spec.Name)
	}
	a.tools[spec.Name] = spec
	a.exec[spec.Name] = handler
	return nil
}

// Calls returns how many times Stream has been invoked.
func (a *Agent) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func (a *Agent) Stream(ctx context.Context, _ any, _ agent.State) (<-chan agent.Delta, func() agent.Result) {
	a.mu.Lock()
	idx := a.calls
	if idx >= len(a.steps) {
		idx = len(a.steps) - 1
	}
	a.calls++
	step := a.steps[idx]
	handler := a.exec[step.InvokeTool]
	a.mu.Unlock()

	ch := make(chan agent.Delta, len(step.Deltas))
	for _, d := range step.Deltas {
		ch <- d
	}
	close(ch)

	result := step.Result
	return ch, func() agent.Result {
		if handler != nil {
			if _, err := handler(ctx, step.ToolInput); err != nil {
				result.Err = err
			}
		}
		return result
	}
}
