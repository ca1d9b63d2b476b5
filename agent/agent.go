// Package agent defines the Agent capability the orchestrator core consumes.
// Concrete agent implementations (provider-backed planners, test doubles)
// live outside this module's scope; the core only needs the contract below.
package agent

import (
	"context"

	"github.com/agentrun/runtime/event"
)

// StopReason is the terminal reason an agent's stream ended.
type StopReason string

const (
	StopReasonEndTurn     StopReason = "endTurn"
	StopReasonToolUse     StopReason = "toolUse"
	StopReasonMaxTokens   StopReason = "maxTokens"
	StopReasonInterrupted StopReason = "interrupted"
	StopReasonIncomplete  StopReason = "incomplete"
)

// Metrics carries the aggregated usage an agent reports at the end of a
// stream.
type Metrics struct {
	AccumulatedUsage event.Usage
}

// Result is the terminal value an agent's stream produces.
type Result struct {
	StopReason StopReason
	Metrics    Metrics
	Interrupts []string
	Content    any
	Err        error
}

// State is a snapshot of an agent's mutable conversation state: its message
// history plus free-form scratch state. It is opaque to the orchestrator
// core beyond being copyable and restorable.
type State struct {
	Messages []any
	Scratch  map[string]any
}

// Clone makes an independent deep-enough copy so that node invocation can be
// made side-effect-free on the wrapped agent (§4.1).
func (s State) Clone() State {
	out := State{Messages: make([]any, len(s.Messages))}
	copy(out.Messages, s.Messages)
	if s.Scratch != nil {
		out.Scratch = make(map[string]any, len(s.Scratch))
		for k, v := range s.Scratch {
			out.Scratch[k] = v
		}
	}
	return out
}

// ToolSpec describes a tool entry in an agent's registry.
type ToolSpec struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// Delta is a single item an agent's stream yields before its terminal
// Result; shape is provider-specific and consumed only via event's probing
// extractors.
type Delta = any

// Agent is the capability the orchestrator core drives. Implementations
// typically wrap a Model client plus a tool-calling loop; none of that is
// visible to the core.
type Agent interface {
	// Name uniquely identifies the agent within a run's roster.
	Name() string

	// Stream executes one turn for the given input and state snapshot. It
	// returns a channel of deltas and a function that blocks for the
	// terminal Result. The channel is closed once the terminal Result is
	// available or ctx is cancelled.
	Stream(ctx context.Context, input any, state State) (<-chan Delta, func() Result)

	// Tools returns the agent's current tool registry, keyed by name.
	Tools() map[string]ToolSpec

	// AddTool injects a tool into the agent's registry. Returns an error if
	// a tool with the same name already exists.
	AddTool(spec ToolSpec, handler ToolHandler) error
}

// ToolHandler executes a tool invocation and returns its result value.
type ToolHandler func(ctx context.Context, input any) (any, error)
