// Package event defines the tagged union of events emitted by orchestrators
// and consumed by the run supervisor and SSE streamer.
package event

import "time"

// Type identifies the concrete shape of an Event.
type Type string

const (
	TypeNodeStart             Type = "multiAgentNodeStartEvent"
	TypeNodeInput             Type = "multiAgentNodeInputEvent"
	TypeNodeStream            Type = "multiAgentNodeStreamEvent"
	TypeNodeStop              Type = "multiAgentNodeStopEvent"
	TypeHandoff               Type = "multiAgentHandoffEvent"
	TypeNodeCancel            Type = "multiAgentNodeCancelEvent"
	TypeNodeInterrupt         Type = "multiAgentNodeInterruptEvent"
	TypeResult                Type = "multiAgentResultEvent"
	TypeNodeStreamEventCapped Type = "multiAgentNodeStreamEventCapped"
)

// Event is implemented by every concrete event kind. RunID ties an event to
// the run that produced it; Timestamp is the wall-clock time the event was
// constructed, in unix milliseconds.
type Event interface {
	Type() Type
	RunID() string
	Timestamp() int64
}

// baseEvent supplies the common Event fields. Concrete event types embed it
// anonymously, following the pattern used for every event kind.
type baseEvent struct {
	runID string
	ts    int64
}

func newBase(runID string) baseEvent {
	return baseEvent{runID: runID, ts: time.Now().UnixMilli()}
}

func (b baseEvent) RunID() string    { return b.runID }
func (b baseEvent) Timestamp() int64 { return b.ts }

// NodeType distinguishes what a node wraps.
type NodeType string

const (
	NodeTypeAgent  NodeType = "agent"
	NodeTypeNested NodeType = "nested"
)

// NodeStartEvent announces that a node has begun executing.
type NodeStartEvent struct {
	baseEvent
	NodeID   string
	NodeType NodeType
}

func NewNodeStartEvent(runID, nodeID string, nodeType NodeType) NodeStartEvent {
	return NodeStartEvent{baseEvent: newBase(runID), NodeID: nodeID, NodeType: nodeType}
}

func (NodeStartEvent) Type() Type { return TypeNodeStart }

// NodeInputEvent carries the input a node was invoked with.
type NodeInputEvent struct {
	baseEvent
	NodeID string
	Input  any
}

func NewNodeInputEvent(runID, nodeID string, input any) NodeInputEvent {
	return NodeInputEvent{baseEvent: newBase(runID), NodeID: nodeID, Input: input}
}

func (NodeInputEvent) Type() Type { return TypeNodeInput }

// NodeStreamEvent forwards a delta produced by the node's executor: either a
// raw agent stream event, or (for a nested orchestrator node) another Event
// from the inner orchestrator.
type NodeStreamEvent struct {
	baseEvent
	NodeID string
	Inner  any
}

func NewNodeStreamEvent(runID, nodeID string, inner any) NodeStreamEvent {
	return NodeStreamEvent{baseEvent: newBase(runID), NodeID: nodeID, Inner: inner}
}

func (NodeStreamEvent) Type() Type { return TypeNodeStream }

// InnerEvent returns the wrapped inner Event when the node is a nested
// orchestrator, and ok=false otherwise (e.g. a raw agent delta).
func (e NodeStreamEvent) InnerEvent() (Event, bool) {
	inner, ok := e.Inner.(Event)
	return inner, ok
}

// NodeStatus is the terminal or in-flight status of a node execution.
type NodeStatus string

const (
	NodeStatusPending     NodeStatus = "pending"
	NodeStatusExecuting   NodeStatus = "executing"
	NodeStatusCompleted   NodeStatus = "completed"
	NodeStatusFailed      NodeStatus = "failed"
	NodeStatusInterrupted NodeStatus = "interrupted"
)

// Usage captures token accounting for a single aggregated result.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// NodeResult is the terminal outcome of a node invocation.
type NodeResult struct {
	Status           NodeStatus
	Duration         time.Duration
	Content          any
	AccumulatedUsage Usage
	ExecutionCount   int
	Interrupts       []string
	Err              error
}

// NodeStopEvent announces that a node reached a terminal status.
type NodeStopEvent struct {
	baseEvent
	NodeID     string
	NodeResult NodeResult
}

func NewNodeStopEvent(runID, nodeID string, result NodeResult) NodeStopEvent {
	return NodeStopEvent{baseEvent: newBase(runID), NodeID: nodeID, NodeResult: result}
}

func (NodeStopEvent) Type() Type { return TypeNodeStop }

// HandoffEvent marks a transfer of control between node sets.
type HandoffEvent struct {
	baseEvent
	FromNodeIDs []string
	ToNodeIDs   []string
	Message     string
}

func NewHandoffEvent(runID string, from, to []string, message string) HandoffEvent {
	return HandoffEvent{baseEvent: newBase(runID), FromNodeIDs: from, ToNodeIDs: to, Message: message}
}

func (HandoffEvent) Type() Type { return TypeHandoff }

// NodeCancelEvent announces a node was cancelled before completion.
type NodeCancelEvent struct {
	baseEvent
	NodeID  string
	Message string
}

func NewNodeCancelEvent(runID, nodeID, message string) NodeCancelEvent {
	return NodeCancelEvent{baseEvent: newBase(runID), NodeID: nodeID, Message: message}
}

func (NodeCancelEvent) Type() Type { return TypeNodeCancel }

// NodeInterruptEvent announces that a node raised one or more interrupts.
type NodeInterruptEvent struct {
	baseEvent
	NodeID     string
	Interrupts []string
}

func NewNodeInterruptEvent(runID, nodeID string, interrupts []string) NodeInterruptEvent {
	return NodeInterruptEvent{baseEvent: newBase(runID), NodeID: nodeID, Interrupts: interrupts}
}

func (NodeInterruptEvent) Type() Type { return TypeNodeInterrupt }

// Result is the terminal payload of a run.
type Result struct {
	Status   NodeStatus
	Text     string
	Usage    Usage
	NodeIDs  []string
	Metadata map[string]any
}

// ResultEvent is the single terminal event for a run.
type ResultEvent struct {
	baseEvent
	Result Result
}

func NewResultEvent(runID string, result Result) ResultEvent {
	return ResultEvent{baseEvent: newBase(runID), Result: result}
}

func (ResultEvent) Type() Type { return TypeResult }

// NodeStreamEventCappedEvent is the synthetic marker persisted the first time
// a node's stream-event persistence cap is reached (§4.7). It is never sent
// to the consumer; it exists only in the persisted history log.
type NodeStreamEventCappedEvent struct {
	baseEvent
	NodeID string
	Cap    int
}

func NewNodeStreamEventCappedEvent(runID, nodeID string, cap int) NodeStreamEventCappedEvent {
	return NodeStreamEventCappedEvent{baseEvent: newBase(runID), NodeID: nodeID, Cap: cap}
}

func (NodeStreamEventCappedEvent) Type() Type { return TypeNodeStreamEventCapped }
