// Package openai implements model.Client on top of the OpenAI Chat
// Completions API via github.com/openai/openai-go. It mirrors the structure
// of model/anthropic: a streaming delta channel plus a terminal aggregated
// Result built from an accumulator.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/openai/openai-go/shared"

	"github.com/agentrun/runtime/model"
)

// ChatClient captures the subset of the OpenAI SDK used by the adapter, so
// callers can substitute a fake in tests.
type ChatClient interface {
	NewStreaming(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) *ssestream.Stream[openai.ChatCompletionChunk]
}

// Options configures the adapter. DefaultModel is required.
type Options struct {
	DefaultModel string
}

// Client implements model.Client against OpenAI Chat Completions.
type Client struct {
	chat         ChatClient
	defaultModel string
}

// New builds an adapter from an already-constructed OpenAI chat client.
func New(chat ChatClient, opts Options) (*Client, error) {
	if chat == nil {
		return nil, errors.New("openai: chat client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("openai: default model is required")
	}
	return &Client{chat: chat, defaultModel: opts.DefaultModel}, nil
}

// NewFromAPIKey builds an adapter using the SDK's default HTTP client.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	sc := openai.NewClient(option.WithAPIKey(apiKey))
	return New(&sc.Chat.Completions, Options{DefaultModel: defaultModel})
}

// Stream issues a streaming chat completion and forwards each raw SDK chunk
// as a model.Delta, aggregating the terminal model.Result via the SDK's
// accumulator once the stream ends.
func (c *Client) Stream(ctx context.Context, req model.Request) (<-chan model.Delta, func() (model.Result, error)) {
	out := make(chan model.Delta, 16)
	errCh := make(chan error, 1)
	resultCh := make(chan model.Result, 1)

	params, err := c.prepareRequest(req)
	if err != nil {
		close(out)
		errCh <- err
		return out, func() (model.Result, error) { return model.Result{}, <-errCh }
	}

	go func() {
		defer close(out)
		stream := c.chat.NewStreaming(ctx, *params)
		acc := openai.ChatCompletionAccumulator{}
		for stream.Next() {
			chunk := stream.Current()
			acc.AddChunk(chunk)
			select {
			case out <- chunk:
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			}
		}
		if err := stream.Err(); err != nil {
			if isRateLimited(err) {
				errCh <- fmt.Errorf("%w: %w", model.ErrRateLimited, err)
			} else {
				errCh <- err
			}
			return
		}
		resultCh <- translateCompletion(acc.ChatCompletion)
	}()

	return out, func() (model.Result, error) {
		select {
		case err := <-errCh:
			return model.Result{}, err
		case res := <-resultCh:
			return res, nil
		}
	}
}

func (c *Client) prepareRequest(req model.Request) (*openai.ChatCompletionNewParams, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("openai: messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.defaultModel
	}

	var messages []openai.ChatCompletionMessageParamUnion
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		msg, err := encodeMessage(m)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(modelID),
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	tools, err := encodeTools(req.Tools)
	if err != nil {
		return nil, err
	}
	if len(tools) > 0 {
		params.Tools = tools
	}
	return &params, nil
}

func encodeMessage(m model.Message) (openai.ChatCompletionMessageParamUnion, error) {
	text := flattenContent(m.Content)
	switch m.Role {
	case model.RoleUser:
		return openai.UserMessage(text), nil
	case model.RoleAssistant:
		return openai.AssistantMessage(text), nil
	case model.RoleTool:
		return openai.UserMessage(text), nil
	default:
		return openai.ChatCompletionMessageParamUnion{}, fmt.Errorf("openai: unsupported role %q", m.Role)
	}
}

func flattenContent(parts []any) string {
	var b strings.Builder
	for i, part := range parts {
		if i > 0 {
			b.WriteString("\n")
		}
		switch v := part.(type) {
		case string:
			b.WriteString(v)
		default:
			data, _ := json.Marshal(v)
			b.Write(data)
		}
	}
	return b.String()
}

func encodeTools(specs []model.ToolSpec) ([]openai.ChatCompletionToolUnionParam, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	out := make([]openai.ChatCompletionToolUnionParam, 0, len(specs))
	for _, spec := range specs {
		out = append(out, openai.ChatCompletionFunctionTool(shared.FunctionDefinitionParam{
			Name:        spec.Name,
			Description: openai.String(spec.Description),
			Parameters:  spec.InputSchema,
		}))
	}
	return out, nil
}

func translateCompletion(cc openai.ChatCompletion) model.Result {
	res := model.Result{ModelID: cc.Model}
	if len(cc.Choices) == 0 {
		res.StopReason = model.StopReasonEndTurn
		return res
	}
	choice := cc.Choices[0]
	res.Text = choice.Message.Content
	for _, call := range choice.Message.ToolCalls {
		var input map[string]any
		_ = json.Unmarshal([]byte(call.Function.Arguments), &input)
		res.ToolCalls = append(res.ToolCalls, model.ToolCall{ID: call.ID, Name: call.Function.Name, Input: input})
	}
	switch choice.FinishReason {
	case "tool_calls":
		res.StopReason = model.StopReasonToolUse
	case "length":
		res.StopReason = model.StopReasonMaxTokens
	default:
		res.StopReason = model.StopReasonEndTurn
	}
	res.Usage = model.Usage{
		InputTokens:  int(cc.Usage.PromptTokens),
		OutputTokens: int(cc.Usage.CompletionTokens),
		TotalTokens:  int(cc.Usage.TotalTokens),
	}
	return res
}

func isRateLimited(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}
