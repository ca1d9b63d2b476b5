// Package policy codifies tool-use policy evaluation for a run (§4.7): which
// tools remain available to an agent on a given turn, and the resource caps
// (total and per-tool use counts) the run supervisor enforces as it observes
// tool-use-start events.
package policy

import (
	"context"
	"time"
)

// Engine decides which tools remain available to an agent's next turn.
// Neither the run supervisor nor httpapi calls an Engine: httpapi resolves
// tool caps with Resolve and the supervisor enforces them with a Counter.
// The basic implementation
// in policy/basic has no notion of "turn" the way a planner-driven runtime
// would: each Decide call filters the candidate tools it is given.
type Engine interface {
	Decide(ctx context.Context, input Input) (Decision, error)
}

// ToolMetadata describes a candidate tool available to an agent.
type ToolMetadata struct {
	Name        string
	Description string
	Tags        []string
}

// RetryReason categorizes why a node's prior tool use failed, when known.
type RetryReason string

const (
	RetryReasonInvalidArguments RetryReason = "invalid_arguments"
	RetryReasonToolUnavailable  RetryReason = "tool_unavailable"
	RetryReasonRateLimited      RetryReason = "rate_limited"
	RetryReasonTimeout          RetryReason = "timeout"
)

// RetryHint communicates guidance gathered after a tool failure, allowing
// the engine to react (e.g. drop the offending tool for the rest of the run).
type RetryHint struct {
	Reason         RetryReason
	Tool           string
	RestrictToTool bool
}

// CapsState tracks the remaining resource budget for tool invocations (§4.7).
type CapsState struct {
	MaxTotalToolUses       int
	RemainingTotalToolUses int
	DefaultPerToolLimit    int
	PerToolRemaining       map[string]int
	ExpiresAt              time.Time
}

// Input groups everything the policy engine needs to compute a Decision.
type Input struct {
	// Mode is the run's orchestration topology: "single", "swarm", or "graph".
	Mode string
	// Tools lists the candidate tools the run's agents registered.
	Tools []ToolMetadata
	// RetryHint carries guidance from a prior tool failure, if any.
	RetryHint *RetryHint
	// RemainingCaps reflects the current budget state.
	RemainingCaps CapsState
	// Requested restricts candidates to these tool names, if non-empty.
	Requested []string
	// Labels are arbitrary run labels the engine may use for routing.
	Labels map[string]string
}

// Decision is the outcome of a policy evaluation.
type Decision struct {
	AllowedTools []string
	Caps         CapsState
	DisableTools bool
	Labels       map[string]string
	Metadata     map[string]any
}
