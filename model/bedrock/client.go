// Package bedrock implements model.Client on top of the AWS Bedrock Converse
// API via github.com/aws/aws-sdk-go-v2/service/bedrockruntime. It mirrors
// model/anthropic's structure, adapted to Converse's request/response shape:
// split system vs. conversational messages, encode tool schemas into
// Bedrock's ToolConfiguration, and translate Converse output (text +
// tool_use blocks) back into model.Result.
package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"

	"github.com/agentrun/runtime/model"
)

// RuntimeClient mirrors the subset of the AWS Bedrock runtime client used by
// the adapter, so callers can substitute a fake in tests.
type RuntimeClient interface {
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

// Options configures the Bedrock adapter.
type Options struct {
	DefaultModel string
	MaxTokens    int
	Temperature  float32
}

// Client implements model.Client on top of AWS Bedrock Converse.
type Client struct {
	runtime      RuntimeClient
	defaultModel string
	maxTokens    int
	temperature  float32
}

// New builds an adapter from an already-constructed Bedrock runtime client.
func New(runtime RuntimeClient, opts Options) (*Client, error) {
	if runtime == nil {
		return nil, errors.New("bedrock: runtime client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("bedrock: default model is required")
	}
	return &Client{runtime: runtime, defaultModel: opts.DefaultModel, maxTokens: opts.MaxTokens, temperature: opts.Temperature}, nil
}

// Stream issues ConverseStream and forwards each Bedrock event as a
// model.Delta, aggregating the terminal model.Result from the accumulated
// stream once it closes.
func (c *Client) Stream(ctx context.Context, req model.Request) (<-chan model.Delta, func() (model.Result, error)) {
	out := make(chan model.Delta, 16)
	errCh := make(chan error, 1)
	resultCh := make(chan model.Result, 1)

	parts, err := c.prepareRequest(req)
	if err != nil {
		close(out)
		errCh <- err
		return out, func() (model.Result, error) { return model.Result{}, <-errCh }
	}

	go func() {
		defer close(out)
		input := &bedrockruntime.ConverseStreamInput{
			ModelId:    aws.String(parts.modelID),
			Messages:   parts.messages,
			System:     parts.system,
			ToolConfig: parts.toolConfig,
		}
		output, err := c.runtime.ConverseStream(ctx, input)
		if err != nil {
			if isRateLimited(err) {
				errCh <- fmt.Errorf("%w: %w", model.ErrRateLimited, err)
			} else {
				errCh <- err
			}
			return
		}
		stream := output.GetStream()
		defer stream.Close()

		acc := &accumulator{modelID: parts.modelID}
		for ev := range stream.Events() {
			acc.apply(ev)
			select {
			case out <- ev:
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			}
		}
		if err := stream.Err(); err != nil {
			errCh <- err
			return
		}
		resultCh <- acc.result()
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

type requestParts struct {
	modelID    string
	messages   []brtypes.Message
	system     []brtypes.SystemContentBlock
	toolConfig *brtypes.ToolConfiguration
}

func (c *Client) prepareRequest(req model.Request) (*requestParts, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("bedrock: messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.defaultModel
	}

	parts := &requestParts{modelID: modelID}
	if req.System != "" {
		parts.system = []brtypes.SystemContentBlock{&brtypes.SystemContentBlockMemberText{Value: req.System}}
	}
	for _, m := range req.Messages {
		msg, err := encodeMessage(m)
		if err != nil {
			return nil, err
		}
		parts.messages = append(parts.messages, msg)
	}
	if tc, err := encodeTools(req.Tools); err != nil {
		return nil, err
	} else {
		parts.toolConfig = tc
	}
	return parts, nil
}

func encodeMessage(m model.Message) (brtypes.Message, error) {
	var role brtypes.ConversationRole
	switch m.Role {
	case model.RoleUser, model.RoleTool:
		role = brtypes.ConversationRoleUser
	case model.RoleAssistant:
		role = brtypes.ConversationRoleAssistant
	default:
		return brtypes.Message{}, fmt.Errorf("bedrock: unsupported role %q", m.Role)
	}
	blocks := make([]brtypes.ContentBlock, 0, len(m.Content))
	for _, part := range m.Content {
		switch v := part.(type) {
		case string:
			blocks = append(blocks, &brtypes.ContentBlockMemberText{Value: v})
		case model.ToolCall:
			blocks = append(blocks, &brtypes.ContentBlockMemberToolUse{
				Value: brtypes.ToolUseBlock{ToolUseId: aws.String(v.ID), Name: aws.String(v.Name), Input: document.NewLazyDocument(v.Input)},
			})
		default:
			blocks = append(blocks, &brtypes.ContentBlockMemberText{Value: fmt.Sprint(v)})
		}
	}
	return brtypes.Message{Role: role, Content: blocks}, nil
}

func encodeTools(specs []model.ToolSpec) (*brtypes.ToolConfiguration, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	tools := make([]brtypes.Tool, 0, len(specs))
	for _, spec := range specs {
		tools = append(tools, &brtypes.ToolMemberToolSpec{
			Value: brtypes.ToolSpecification{
				Name:        aws.String(spec.Name),
				Description: aws.String(spec.Description),
				InputSchema: &brtypes.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(spec.InputSchema)},
			},
		})
	}
	return &brtypes.ToolConfiguration{Tools: tools}, nil
}

// accumulator folds ConverseStream events into a terminal model.Result, the
// Converse analogue of the Anthropic SDK's Message.Accumulate.
type accumulator struct {
	modelID    string
	text       string
	toolCalls  []model.ToolCall
	curToolID  string
	curToolNm  string
	curToolBuf string
	stopReason model.StopReason
	usage      model.Usage
}

func (a *accumulator) apply(ev brtypes.ConverseStreamOutput) {
	switch v := ev.(type) {
	case *brtypes.ConverseStreamOutputMemberContentBlockStart:
		if start, ok := v.Value.Start.(*brtypes.ContentBlockStartMemberToolUse); ok {
			a.curToolID = aws.ToString(start.Value.ToolUseId)
			a.curToolNm = aws.ToString(start.Value.Name)
			a.curToolBuf = ""
		}
	case *brtypes.ConverseStreamOutputMemberContentBlockDelta:
		switch d := v.Value.Delta.(type) {
		case *brtypes.ContentBlockDeltaMemberText:
			a.text += d.Value
		case *brtypes.ContentBlockDeltaMemberToolUse:
			a.curToolBuf += aws.ToString(d.Value.Input)
		}
	case *brtypes.ConverseStreamOutputMemberContentBlockStop:
		if a.curToolID != "" {
			a.toolCalls = append(a.toolCalls, model.ToolCall{ID: a.curToolID, Name: a.curToolNm, Input: parseToolInput(a.curToolBuf)})
			a.curToolID, a.curToolNm, a.curToolBuf = "", "", ""
		}
	case *brtypes.ConverseStreamOutputMemberMessageStop:
		switch v.Value.StopReason {
		case brtypes.StopReasonToolUse:
			a.stopReason = model.StopReasonToolUse
		case brtypes.StopReasonMaxTokens:
			a.stopReason = model.StopReasonMaxTokens
		default:
			a.stopReason = model.StopReasonEndTurn
		}
	case *brtypes.ConverseStreamOutputMemberMetadata:
		if v.Value.Usage != nil {
			a.usage = model.Usage{
				InputTokens:  int(aws.ToInt32(v.Value.Usage.InputTokens)),
				OutputTokens: int(aws.ToInt32(v.Value.Usage.OutputTokens)),
				TotalTokens:  int(aws.ToInt32(v.Value.Usage.TotalTokens)),
			}
		}
	}
}

func (a *accumulator) result() model.Result {
	return model.Result{
		ModelID:    a.modelID,
		Text:       a.text,
		ToolCalls:  a.toolCalls,
		StopReason: a.stopReason,
		Usage:      a.usage,
	}
}

func parseToolInput(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return map[string]any{"raw": raw}
	}
	return out
}

func isRateLimited(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == "ThrottlingException"
	}
	return false
}
