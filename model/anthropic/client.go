// Package anthropic implements model.Client on top of the Anthropic Claude
// Messages API via github.com/anthropics/anthropic-sdk-go.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/agentrun/runtime/model"
)

// MessagesClient captures the subset of the Anthropic SDK used by the
// adapter, so callers can substitute a fake in tests.
type MessagesClient interface {
	NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
}

// Options configures the adapter. DefaultModel is required; it is used
// whenever a Request does not name a model explicitly.
type Options struct {
	DefaultModel string
	MaxTokens    int
}

// Client implements model.Client against Anthropic Messages.
type Client struct {
	msg          MessagesClient
	defaultModel string
	maxTokens    int
}

// New builds an adapter from an already-constructed Anthropic client.
func New(msg MessagesClient, opts Options) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic: messages client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("anthropic: default model is required")
	}
	return &Client{msg: msg, defaultModel: opts.DefaultModel, maxTokens: opts.MaxTokens}, nil
}

// NewFromAPIKey builds an adapter using the SDK's default HTTP client.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	sc := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&sc.Messages, Options{DefaultModel: defaultModel})
}

// Stream issues Messages.NewStreaming and forwards each raw SDK event as a
// model.Delta, aggregating the terminal model.Result from the accumulated
// message once the stream ends.
func (c *Client) Stream(ctx context.Context, req model.Request) (<-chan model.Delta, func() (model.Result, error)) {
	out := make(chan model.Delta, 16)
	errCh := make(chan error, 1)
	resultCh := make(chan model.Result, 1)

	params, nameMap, err := c.prepareRequest(req)
	if err != nil {
		close(out)
		errCh <- err
		return out, func() (model.Result, error) { return model.Result{}, <-errCh }
	}

	go func() {
		defer close(out)
		stream := c.msg.NewStreaming(ctx, *params)
		var msg sdk.Message
		for stream.Next() {
			ev := stream.Current()
			if err := msg.Accumulate(ev); err != nil {
				errCh <- fmt.Errorf("anthropic: accumulate event: %w", err)
				return
			}
			select {
			case out <- ev:
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
		resultCh <- translateMessage(&msg, nameMap)
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

func (c *Client) prepareRequest(req model.Request) (*sdk.MessageNewParams, map[string]string, error) {
	if len(req.Messages) == 0 {
		return nil, nil, errors.New("anthropic: messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	if maxTokens <= 0 {
		return nil, nil, errors.New("anthropic: max_tokens must be positive")
	}

	toolParams, nameMap, err := encodeTools(req.Tools)
	if err != nil {
		return nil, nil, err
	}
	msgs, err := encodeMessages(req.Messages)
	if err != nil {
		return nil, nil, err
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(modelID),
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}
	if len(toolParams) > 0 {
		params.Tools = toolParams
	}
	return &params, nameMap, nil
}

func encodeMessages(msgs []model.Message) ([]sdk.MessageParam, error) {
	out := make([]sdk.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		blocks := make([]sdk.ContentBlockParamUnion, 0, len(m.Content))
		for _, part := range m.Content {
			switch v := part.(type) {
			case string:
				blocks = append(blocks, sdk.NewTextBlock(v))
			case model.ToolCall:
				blocks = append(blocks, sdk.NewToolUseBlock(v.ID, v.Input, sanitizeToolName(v.Name)))
			default:
				data, err := json.Marshal(v)
				if err != nil {
					return nil, fmt.Errorf("anthropic: encode message part: %w", err)
				}
				blocks = append(blocks, sdk.NewTextBlock(string(data)))
			}
		}
		switch m.Role {
		case model.RoleUser, model.RoleTool:
			out = append(out, sdk.NewUserMessage(blocks...))
		case model.RoleAssistant:
			out = append(out, sdk.NewAssistantMessage(blocks...))
		default:
			return nil, fmt.Errorf("anthropic: unsupported role %q", m.Role)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("anthropic: at least one user/assistant message is required")
	}
	return out, nil
}

func encodeTools(specs []model.ToolSpec) ([]sdk.ToolUnionParam, map[string]string, error) {
	if len(specs) == 0 {
		return nil, nil, nil
	}
	out := make([]sdk.ToolUnionParam, 0, len(specs))
	nameMap := make(map[string]string, len(specs))
	for _, spec := range specs {
		sanitized := sanitizeToolName(spec.Name)
		if prev, exists := nameMap[sanitized]; exists && prev != spec.Name {
			return nil, nil, fmt.Errorf("anthropic: tool name %q sanitizes to %q, colliding with %q", spec.Name, sanitized, prev)
		}
		nameMap[sanitized] = spec.Name
		u := sdk.ToolUnionParamOfTool(sdk.ToolInputSchemaParam{ExtraFields: spec.InputSchema}, sanitized)
		if u.OfTool != nil {
			u.OfTool.Description = sdk.String(spec.Description)
		}
		out = append(out, u)
	}
	return out, nameMap, nil
}

// sanitizeToolName maps a tool name to the character set Anthropic accepts
// for tool identifiers, replacing any disallowed rune with '_'.
func sanitizeToolName(in string) string {
	if in == "" {
		return in
	}
	out := make([]rune, 0, len(in))
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}

func translateMessage(msg *sdk.Message, nameMap map[string]string) model.Result {
	res := model.Result{ModelID: string(msg.Model)}
	var b strings.Builder
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			b.WriteString(block.Text)
		case "tool_use":
			name := block.Name
			if canonical, ok := nameMap[name]; ok {
				name = canonical
			}
			var input map[string]any
			_ = json.Unmarshal(block.Input, &input)
			res.ToolCalls = append(res.ToolCalls, model.ToolCall{ID: block.ID, Name: name, Input: input})
		}
	}
	res.Text = b.String()
	res.Usage = model.Usage{
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
		TotalTokens:  int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
	}
	switch msg.StopReason {
	case sdk.StopReasonToolUse:
		res.StopReason = model.StopReasonToolUse
	case sdk.StopReasonMaxTokens:
		res.StopReason = model.StopReasonMaxTokens
	default:
		res.StopReason = model.StopReasonEndTurn
	}
	return res
}

func isRateLimited(err error) bool {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}
