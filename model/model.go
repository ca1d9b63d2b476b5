// Package model defines the provider-agnostic capability an Agent wraps: a
// lazy stream of provider deltas terminating in an aggregated Result. Deltas
// are intentionally untyped (§9 "dynamic JSON without schema") — callers
// probe them with event.Extract* rather than a shared provider schema.
package model

import (
	"context"
	"errors"
)

// ErrRateLimited is wrapped by adapters when the upstream provider reports a
// rate-limit response, so callers can distinguish it from other failures
// (e.g. to drive a retry-hint through the tool-use policy engine).
var ErrRateLimited = errors.New("model: rate limited")

// Role is the role of a Message in a conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolSpec describes a tool the model may call, in provider-neutral form.
type ToolSpec struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// Message is one turn of conversation. Content is a slice of provider-opaque
// parts (text blocks, tool_use blocks, tool_result blocks); adapters are
// responsible for translating to and from their wire format.
type Message struct {
	Role    Role
	Content []any
}

// Request is a provider-neutral chat request.
type Request struct {
	System    string
	Messages  []Message
	Tools     []ToolSpec
	Model     string
	MaxTokens int
}

// Usage mirrors event.Usage so adapters don't need to import the event
// package just to report token counts.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// StopReason is the provider-neutral reason a turn ended.
type StopReason string

const (
	StopReasonEndTurn   StopReason = "endTurn"
	StopReasonToolUse   StopReason = "toolUse"
	StopReasonMaxTokens StopReason = "maxTokens"
)

// ToolCall is one tool invocation the model requested.
type ToolCall struct {
	ID    string
	Name  string
	Input map[string]any
}

// Result is the terminal aggregated value of a streamed turn.
type Result struct {
	StopReason StopReason
	Text       string
	ToolCalls  []ToolCall
	Usage      Usage
	ModelID    string
}

// Delta is a single provider-specific streaming item. Its shape is probed
// with event.ExtractEventNodeID-style helpers, never asserted to a concrete
// provider type outside the adapter that produced it.
type Delta = any

// Client is the capability a provider adapter exposes to an Agent
// implementation: a lazy delta sequence terminating in an aggregated Result.
type Client interface {
	Stream(ctx context.Context, req Request) (<-chan Delta, func() (Result, error))
}
