package llmwire

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/smithy-go"
)

// BedrockAdapter invokes Anthropic models hosted on AWS Bedrock. The runtime
// API is blocking, so the adapter synthesizes the normalized event stream
// from the complete response: text becomes one delta, each tool_use block
// becomes a start, one argument fragment, and an end.
type BedrockAdapter struct {
	client *bedrockruntime.Client
}

const bedrockAnthropicVersion = "bedrock-2023-05-31"

// NewBedrockAdapter creates an adapter from the ambient AWS configuration.
func NewBedrockAdapter(ctx context.Context) (*BedrockAdapter, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, &AuthenticationError{ProviderError{
			Provider: "bedrock",
			Message:  "failed to load AWS config",
			Cause:    err,
		}}
	}
	return &BedrockAdapter{client: bedrockruntime.NewFromConfig(cfg)}, nil
}

func (b *BedrockAdapter) Name() string { return "bedrock" }

func (b *BedrockAdapter) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	body, err := b.encodeRequest(req)
	if err != nil {
		return nil, err
	}

	resp, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(req.Model),
		ContentType: aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, b.mapError(err)
	}

	events, err := b.decodeResponse(resp.Body)
	if err != nil {
		return nil, err
	}

	out := make(chan StreamEvent, len(events)+1)
	out <- StreamEvent{Type: StreamStart}
	for _, ev := range events {
		out <- ev
	}
	close(out)
	return out, nil
}

func (b *BedrockAdapter) encodeRequest(req Request) ([]byte, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	var messages []map[string]interface{}
	system := req.System
	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			if system == "" {
				system = msg.TextContent()
			}
		case RoleUser:
			messages = append(messages, map[string]interface{}{
				"role": "user",
				"content": []map[string]interface{}{
					{"type": "text", "text": msg.TextContent()},
				},
			})
		case RoleAssistant:
			var blocks []map[string]interface{}
			for _, block := range msg.Content {
				switch block.Kind {
				case BlockText:
					if block.Text != "" {
						blocks = append(blocks, map[string]interface{}{"type": "text", "text": block.Text})
					}
				case BlockToolCall:
					var input map[string]interface{}
					if err := json.Unmarshal(block.ToolCall.Arguments, &input); err != nil {
						input = map[string]interface{}{}
					}
					blocks = append(blocks, map[string]interface{}{
						"type":  "tool_use",
						"id":    block.ToolCall.ID,
						"name":  block.ToolCall.Name,
						"input": input,
					})
				}
			}
			if len(blocks) == 0 {
				continue
			}
			messages = append(messages, map[string]interface{}{"role": "assistant", "content": blocks})
		case RoleTool:
			var blocks []map[string]interface{}
			for _, block := range msg.Content {
				if block.Kind != BlockToolResult || block.ToolResult == nil {
					continue
				}
				blocks = append(blocks, map[string]interface{}{
					"type":        "tool_result",
					"tool_use_id": block.ToolResult.ToolCallID,
					"content":     block.ToolResult.Content,
					"is_error":    block.ToolResult.IsError,
				})
			}
			if len(blocks) == 0 {
				continue
			}
			messages = append(messages, map[string]interface{}{"role": "user", "content": blocks})
		}
	}

	request := map[string]interface{}{
		"anthropic_version": bedrockAnthropicVersion,
		"max_tokens":        maxTokens,
		"messages":          messages,
	}
	if system != "" {
		request["system"] = system
	}
	if req.Temperature != nil {
		request["temperature"] = *req.Temperature
	}
	if len(req.Tools) > 0 {
		var tools []map[string]interface{}
		for _, tool := range req.Tools {
			tools = append(tools, map[string]interface{}{
				"name":         tool.Name,
				"description":  tool.Description,
				"input_schema": tool.Parameters,
			})
		}
		request["tools"] = tools
	}
	return json.Marshal(request)
}

func (b *BedrockAdapter) decodeResponse(body []byte) ([]StreamEvent, error) {
	var response struct {
		Content []struct {
			Type  string          `json:"type"`
			Text  string          `json:"text"`
			ID    string          `json:"id"`
			Name  string          `json:"name"`
			Input json.RawMessage `json:"input"`
		} `json:"content"`
		StopReason string `json:"stop_reason"`
		Usage      struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, &MalformedResponseError{ProviderError{
			Provider: "bedrock",
			Message:  "failed to unmarshal response body",
			Cause:    err,
		}}
	}

	var events []StreamEvent
	for _, block := range response.Content {
		switch block.Type {
		case "text":
			if block.Text != "" {
				events = append(events, StreamEvent{Type: TextDelta, Delta: block.Text})
			}
		case "tool_use":
			args := block.Input
			if len(args) == 0 {
				args = json.RawMessage("{}")
			}
			events = append(events,
				StreamEvent{Type: ToolCallStart, ToolCallID: block.ID, ToolName: block.Name},
				StreamEvent{Type: ToolCallDelta, ToolCallID: block.ID, Delta: string(args)},
				StreamEvent{Type: ToolCallEnd, ToolCallID: block.ID},
			)
		}
	}

	finish := FinishStop
	switch response.StopReason {
	case "tool_use":
		finish = FinishToolCalls
	case "max_tokens":
		finish = FinishLength
	}
	events = append(events, StreamEvent{
		Type:         TurnEnd,
		FinishReason: finish,
		Usage:        &Usage{InputTokens: response.Usage.InputTokens, OutputTokens: response.Usage.OutputTokens},
	})
	return events, nil
}

func (b *BedrockAdapter) mapError(err error) error {
	var apierr smithy.APIError
	if errors.As(err, &apierr) {
		pe := ProviderError{
			Provider: "bedrock",
			Message:  apierr.ErrorMessage(),
			Cause:    err,
		}
		switch apierr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException":
			pe.Retryable = true
			return &RateLimitError{pe}
		case "AccessDeniedException", "UnrecognizedClientException":
			return &AuthenticationError{pe}
		case "ValidationException":
			return &InvalidRequestError{pe}
		case "ServiceUnavailableException", "InternalServerException", "ModelNotReadyException":
			pe.Retryable = true
			return &ServerError{pe}
		default:
			return &pe
		}
	}
	return &NetworkError{ProviderError{
		Provider:  "bedrock",
		Message:   fmt.Sprintf("invoke failed: %v", err),
		Retryable: true,
		Cause:     err,
	}}
}
