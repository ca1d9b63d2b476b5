// Package llm provides a model.Client-backed Agent implementation: a
// tool-calling loop that streams a provider's deltas through unchanged for
// display, while interleaving synthesized facts (tool-use starts, usage
// snapshots, the model id) that event's probing extractors recognize. This
// is the concrete collaborator agent.Agent's own doc comment defers to
// "outside this module's scope" — the core drives any Agent, this is simply
// the one cmd/server wires in.
package llm

import (
	"context"
	"fmt"
	"sync"

	"github.com/agentrun/runtime/agent"
	"github.com/agentrun/runtime/event"
	"github.com/agentrun/runtime/model"
)

// MaxToolTurns bounds how many tool-call/response round trips one Stream
// call will make; past that it stops with StopReasonMaxTokens and an error,
// independent of and in addition to the run supervisor's own tool-use
// policy ceiling.
const MaxToolTurns = 12

// Agent wraps a model.Client with a system prompt and a tool registry,
// implementing the tool-calling loop the orchestrator core's agent.Agent
// contract expects.
type Agent struct {
	name         string
	client       model.Client
	systemPrompt string
	modelID      string
	maxTokens    int

	mu       sync.RWMutex
	tools    map[string]agent.ToolSpec
	handlers map[string]agent.ToolHandler

	// memory accumulates the conversation across repeated Stream calls on
	// the same Agent instance (e.g. successive swarm handoff turns), since
	// a Node re-invokes its executor from its immutable initial snapshot
	// and has no way to hand back an updated agent.State between turns.
	memory []model.Message
}

// New builds an Agent named name, backed by client, using modelID for every
// request unless the wrapped client substitutes its own default.
func New(name string, client model.Client, systemPrompt, modelID string) *Agent {
	return &Agent{
		name:         name,
		client:       client,
		systemPrompt: systemPrompt,
		modelID:      modelID,
		tools:        map[string]agent.ToolSpec{},
		handlers:     map[string]agent.ToolHandler{},
	}
}

func (a *Agent) Name() string { return a.name }

func (a *Agent) Tools() map[string]agent.ToolSpec {
	a.mu.RLock()
	defer a.mu.RUnlock()
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
		return fmt.Errorf("llm: tool %q already registered", spec.Name)
	}
	a.tools[spec.Name] = spec
	a.handlers[spec.Name] = handler
	return nil
}

// Stream runs the tool-calling loop for one turn: it appends input to the
// conversation, streams the model's response, executes any requested tools,
// and loops until the model stops requesting tools or MaxToolTurns is hit.
func (a *Agent) Stream(ctx context.Context, input any, state agent.State) (<-chan agent.Delta, func() agent.Result) {
	out := make(chan agent.Delta, 16)

	a.mu.Lock()
	if len(a.memory) == 0 {
		a.memory = restoreMessages(state)
	}
	if input != nil {
		a.memory = append(a.memory, model.Message{Role: model.RoleUser, Content: []any{input}})
	}
	messages := append([]model.Message(nil), a.memory...)
	a.mu.Unlock()

	toolSpecs, handlers := a.snapshotTools()

	result := make(chan agent.Result, 1)
	go func() {
		defer close(out)
		res := a.run(ctx, messages, toolSpecs, handlers, out, &state)
		result <- res
	}()

	return out, func() agent.Result { return <-result }
}

func (a *Agent) snapshotTools() ([]model.ToolSpec, map[string]agent.ToolHandler) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	specs := make([]model.ToolSpec, 0, len(a.tools))
	for _, t := range a.tools {
		specs = append(specs, model.ToolSpec{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema})
	}
	handlers := make(map[string]agent.ToolHandler, len(a.handlers))
	for k, v := range a.handlers {
		handlers[k] = v
	}
	return specs, handlers
}

func (a *Agent) run(ctx context.Context, messages []model.Message, tools []model.ToolSpec, handlers map[string]agent.ToolHandler, out chan agent.Delta, state *agent.State) agent.Result {
	var accumulated model.Usage

	for turn := 0; turn < MaxToolTurns; turn++ {
		req := model.Request{
			System:    a.systemPrompt,
			Messages:  messages,
			Tools:     tools,
			Model:     a.modelID,
			MaxTokens: a.maxTokens,
		}

		deltas, await := a.client.Stream(ctx, req)
		for d := range deltas {
			select {
			case out <- d:
			case <-ctx.Done():
				return agent.Result{StopReason: agent.StopReasonIncomplete, Err: ctx.Err()}
			}
		}

		res, err := await()
		if err != nil {
			return agent.Result{StopReason: agent.StopReasonIncomplete, Err: err}
		}

		accumulated.InputTokens += res.Usage.InputTokens
		accumulated.OutputTokens += res.Usage.OutputTokens
		accumulated.TotalTokens += res.Usage.TotalTokens
		emit(ctx, out, map[string]any{
			"modelId": firstNonEmpty(res.ModelID, a.modelID),
			"usage": map[string]any{
				"inputTokens":  res.Usage.InputTokens,
				"outputTokens": res.Usage.OutputTokens,
				"totalTokens":  res.Usage.TotalTokens,
			},
		})

		assistantContent := make([]any, 0, 1+len(res.ToolCalls))
		if res.Text != "" {
			assistantContent = append(assistantContent, res.Text)
		}
		for _, tc := range res.ToolCalls {
			assistantContent = append(assistantContent, map[string]any{"toolUseId": tc.ID, "toolName": tc.Name, "input": tc.Input})
		}
		messages = append(messages, model.Message{Role: model.RoleAssistant, Content: assistantContent})

		if res.StopReason != model.StopReasonToolUse || len(res.ToolCalls) == 0 {
			a.commitMemory(messages)
			state.Messages = messagesToAny(messages)
			return agent.Result{
				StopReason: mapStopReason(res.StopReason),
				Metrics:    agent.Metrics{AccumulatedUsage: usageFrom(accumulated)},
				Content:    res.Text,
			}
		}

		for _, tc := range res.ToolCalls {
			emit(ctx, out, map[string]any{"toolUse": map[string]any{"toolUseId": tc.ID, "toolName": tc.Name}})

			handler, ok := handlers[tc.Name]
			if !ok {
				messages = append(messages, toolResultMessage(tc.ID, nil, fmt.Errorf("llm: no handler registered for tool %q", tc.Name)))
				continue
			}
			value, err := handler(ctx, tc.Input)
			messages = append(messages, toolResultMessage(tc.ID, value, err))
		}
	}

	a.commitMemory(messages)
	state.Messages = messagesToAny(messages)
	return agent.Result{
		StopReason: agent.StopReasonMaxTokens,
		Metrics:    agent.Metrics{AccumulatedUsage: usageFrom(accumulated)},
		Content:    "",
		Err:        fmt.Errorf("llm: exceeded %d tool-calling turns without a final response", MaxToolTurns),
	}
}

func (a *Agent) commitMemory(messages []model.Message) {
	a.mu.Lock()
	a.memory = append([]model.Message(nil), messages...)
	a.mu.Unlock()
}

func toolResultMessage(toolUseID string, value any, err error) model.Message {
	entry := map[string]any{"toolUseId": toolUseID}
	if err != nil {
		entry["error"] = err.Error()
	} else {
		entry["result"] = value
	}
	return model.Message{Role: model.RoleTool, Content: []any{entry}}
}

func emit(ctx context.Context, out chan agent.Delta, d agent.Delta) {
	select {
	case out <- d:
	case <-ctx.Done():
	}
}

func restoreMessages(state agent.State) []model.Message {
	out := make([]model.Message, 0, len(state.Messages))
	for _, m := range state.Messages {
		if msg, ok := m.(model.Message); ok {
			out = append(out, msg)
		}
	}
	return out
}

func messagesToAny(messages []model.Message) []any {
	out := make([]any, len(messages))
	for i, m := range messages {
		out[i] = m
	}
	return out
}

func usageFrom(u model.Usage) event.Usage {
	return event.Usage{InputTokens: u.InputTokens, OutputTokens: u.OutputTokens, TotalTokens: u.TotalTokens}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func mapStopReason(r model.StopReason) agent.StopReason {
	switch r {
	case model.StopReasonToolUse:
		return agent.StopReasonToolUse
	case model.StopReasonMaxTokens:
		return agent.StopReasonMaxTokens
	default:
		return agent.StopReasonEndTurn
	}
}
