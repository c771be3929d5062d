package llmwire

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicAdapter streams completions from the Anthropic Messages API.
type AnthropicAdapter struct {
	client *anthropic.Client
}

// NewAnthropicAdapter creates an adapter using ANTHROPIC_API_KEY when apiKey
// is empty.
func NewAnthropicAdapter(apiKey string) (*AnthropicAdapter, error) {
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, &AuthenticationError{ProviderError{
			Provider: "anthropic",
			Message:  "ANTHROPIC_API_KEY environment variable not set",
		}}
	}
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicAdapter{client: &client}, nil
}

func (a *AnthropicAdapter) Name() string { return "anthropic" }

// Stream opens a streaming Messages request and normalizes its SSE events.
func (a *AnthropicAdapter) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	params, err := a.encodeRequest(req)
	if err != nil {
		return nil, err
	}

	events := make(chan StreamEvent, 64)
	go func() {
		defer close(events)
		events <- StreamEvent{Type: StreamStart}

		stream := a.client.Messages.NewStreaming(ctx, params)

		// content_block index -> tool call id, so argument deltas can be
		// correlated after the start event.
		toolIDs := map[int64]string{}
		var finish FinishReason = FinishStop
		var usage Usage

		for stream.Next() {
			event := stream.Current()
			switch variant := event.AsAny().(type) {
			case anthropic.ContentBlockStartEvent:
				if variant.ContentBlock.Type != "tool_use" {
					continue
				}
				toolIDs[variant.Index] = variant.ContentBlock.ID
				events <- StreamEvent{
					Type:       ToolCallStart,
					ToolCallID: variant.ContentBlock.ID,
					ToolName:   variant.ContentBlock.Name,
				}
			case anthropic.ContentBlockDeltaEvent:
				switch delta := variant.Delta.AsAny().(type) {
				case anthropic.TextDelta:
					if delta.Text != "" {
						events <- StreamEvent{Type: TextDelta, Delta: delta.Text}
					}
				case anthropic.InputJSONDelta:
					if id, ok := toolIDs[variant.Index]; ok && delta.PartialJSON != "" {
						events <- StreamEvent{Type: ToolCallDelta, ToolCallID: id, Delta: delta.PartialJSON}
					}
				}
			case anthropic.ContentBlockStopEvent:
				if id, ok := toolIDs[variant.Index]; ok {
					events <- StreamEvent{Type: ToolCallEnd, ToolCallID: id}
				}
			case anthropic.MessageDeltaEvent:
				switch variant.Delta.StopReason {
				case "tool_use":
					finish = FinishToolCalls
				case "max_tokens":
					finish = FinishLength
				}
				usage.OutputTokens = int(variant.Usage.OutputTokens)
			case anthropic.MessageStartEvent:
				usage.InputTokens = int(variant.Message.Usage.InputTokens)
			}
		}
		if err := stream.Err(); err != nil {
			events <- StreamEvent{Type: StreamError, Err: a.mapError(err)}
			return
		}
		events <- StreamEvent{Type: TurnEnd, FinishReason: finish, Usage: &usage}
	}()
	return events, nil
}

func (a *AnthropicAdapter) encodeRequest(req Request) (anthropic.MessageNewParams, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(maxTokens),
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			// System text rides in params.System; a mid-conversation system
			// message folds into it.
			if params.System == nil {
				params.System = []anthropic.TextBlockParam{{Text: msg.TextContent()}}
			}
		case RoleUser:
			params.Messages = append(params.Messages, anthropic.NewUserMessage(
				anthropic.NewTextBlock(msg.TextContent()),
			))
		case RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			for _, block := range msg.Content {
				switch block.Kind {
				case BlockText:
					if block.Text != "" {
						blocks = append(blocks, anthropic.ContentBlockParamUnion{
							OfText: &anthropic.TextBlockParam{Text: block.Text},
						})
					}
				case BlockToolCall:
					blocks = append(blocks, anthropic.ContentBlockParamUnion{
						OfToolUse: &anthropic.ToolUseBlockParam{
							Type:  "tool_use",
							ID:    block.ToolCall.ID,
							Name:  block.ToolCall.Name,
							Input: json.RawMessage(block.ToolCall.Arguments),
						},
					})
				}
			}
			if len(blocks) == 0 {
				continue
			}
			params.Messages = append(params.Messages, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleAssistant,
				Content: blocks,
			})
		case RoleTool:
			// Tool results travel as user-role tool_result blocks. Results for
			// one assistant turn are batched into a single user message.
			var blocks []anthropic.ContentBlockParamUnion
			for _, block := range msg.Content {
				if block.Kind != BlockToolResult || block.ToolResult == nil {
					continue
				}
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfToolResult: &anthropic.ToolResultBlockParam{
						ToolUseID: block.ToolResult.ToolCallID,
						IsError:   anthropic.Bool(block.ToolResult.IsError),
						Content: []anthropic.ToolResultBlockParamContentUnion{{
							OfText: &anthropic.TextBlockParam{Text: block.ToolResult.Content},
						}},
					},
				})
			}
			if len(blocks) == 0 {
				continue
			}
			params.Messages = append(params.Messages, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleUser,
				Content: blocks,
			})
		}
	}

	for _, tool := range req.Tools {
		props, _ := tool.Parameters["properties"].(map[string]interface{})
		var required []string
		if raw, ok := tool.Parameters["required"].([]string); ok {
			required = raw
		} else if raw, ok := tool.Parameters["required"].([]interface{}); ok {
			for _, r := range raw {
				if s, ok := r.(string); ok {
					required = append(required, s)
				}
			}
		}
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        tool.Name,
				Description: anthropic.String(tool.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: props,
					Required:   required,
				},
			},
		})
	}
	return params, nil
}

func (a *AnthropicAdapter) mapError(err error) error {
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		var retryAfter *float64
		if apierr.Response != nil {
			if ra := apierr.Response.Header.Get("Retry-After"); ra != "" {
				if secs, perr := strconv.ParseFloat(ra, 64); perr == nil {
					retryAfter = &secs
				}
			}
		}
		return ErrorFromStatusCode("anthropic", apierr.StatusCode, apierr.Error(), retryAfter, err)
	}
	return &NetworkError{ProviderError{
		Provider:  "anthropic",
		Message:   fmt.Sprintf("stream failed: %v", err),
		Retryable: true,
		Cause:     err,
	}}
}
