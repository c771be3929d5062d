package llmwire

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

// OpenAIAdapter streams completions from the OpenAI Chat Completions API.
// OPENAI_BASE_URL redirects it at any compatible endpoint.
type OpenAIAdapter struct {
	client *openai.Client
}

// NewOpenAIAdapter creates an adapter using OPENAI_API_KEY when apiKey is
// empty.
func NewOpenAIAdapter(apiKey string) (*OpenAIAdapter, error) {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, &AuthenticationError{ProviderError{
			Provider: "openai",
			Message:  "OPENAI_API_KEY environment variable not set",
		}}
	}

	options := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}
	c := openai.NewClient(options...)
	return &OpenAIAdapter{client: &c}, nil
}

func (o *OpenAIAdapter) Name() string { return "openai" }

// Stream opens a streaming chat completion and normalizes its chunks.
// Argument fragments arrive keyed by choice-local tool index; the adapter
// tracks index to id so downstream consumers only ever see ids.
func (o *OpenAIAdapter) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	params, err := o.encodeRequest(req)
	if err != nil {
		return nil, err
	}

	events := make(chan StreamEvent, 64)
	go func() {
		defer close(events)
		events <- StreamEvent{Type: StreamStart}

		stream := o.client.Chat.Completions.NewStreaming(ctx, params)

		idsByIndex := map[int64]string{}
		var openOrder []string
		var finish FinishReason = FinishStop
		var usage Usage

		closeCalls := func() {
			for _, id := range openOrder {
				events <- StreamEvent{Type: ToolCallEnd, ToolCallID: id}
			}
			openOrder = nil
		}

		for stream.Next() {
			chunk := stream.Current()
			if chunk.Usage.TotalTokens > 0 {
				usage.InputTokens = int(chunk.Usage.PromptTokens)
				usage.OutputTokens = int(chunk.Usage.CompletionTokens)
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]

			if choice.Delta.Content != "" {
				events <- StreamEvent{Type: TextDelta, Delta: choice.Delta.Content}
			}
			for _, tc := range choice.Delta.ToolCalls {
				if tc.ID != "" {
					idsByIndex[tc.Index] = tc.ID
					openOrder = append(openOrder, tc.ID)
					events <- StreamEvent{
						Type:       ToolCallStart,
						ToolCallID: tc.ID,
						ToolName:   tc.Function.Name,
					}
				}
				if tc.Function.Arguments != "" {
					if id, ok := idsByIndex[tc.Index]; ok {
						events <- StreamEvent{Type: ToolCallDelta, ToolCallID: id, Delta: tc.Function.Arguments}
					}
				}
			}

			switch choice.FinishReason {
			case "tool_calls":
				finish = FinishToolCalls
				closeCalls()
			case "length":
				finish = FinishLength
				closeCalls()
			case "stop":
				finish = FinishStop
				closeCalls()
			}
		}
		if err := stream.Err(); err != nil {
			events <- StreamEvent{Type: StreamError, Err: o.mapError(err)}
			return
		}
		closeCalls()
		events <- StreamEvent{Type: TurnEnd, FinishReason: finish, Usage: &usage}
	}()
	return events, nil
}

func (o *OpenAIAdapter) encodeRequest(req Request) (openai.ChatCompletionNewParams, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(req.Model),
		StreamOptions: openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		},
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if req.System != "" {
		params.Messages = append(params.Messages, openai.SystemMessage(req.System))
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			params.Messages = append(params.Messages, openai.SystemMessage(msg.TextContent()))
		case RoleUser:
			params.Messages = append(params.Messages, openai.UserMessage(msg.TextContent()))
		case RoleAssistant:
			assistant := openai.ChatCompletionMessage{
				Role:    "assistant",
				Content: msg.TextContent(),
			}
			for _, call := range msg.ToolCalls() {
				assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallUnion{
					ID:   call.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageFunctionToolCallFunction{
						Name:      call.Name,
						Arguments: string(call.Arguments),
					},
				})
			}
			params.Messages = append(params.Messages, assistant.ToParam())
		case RoleTool:
			// One tool message per result; the API correlates by call id.
			for _, block := range msg.Content {
				if block.Kind != BlockToolResult || block.ToolResult == nil {
					continue
				}
				params.Messages = append(params.Messages, openai.ToolMessage(block.ToolResult.Content, block.ToolResult.ToolCallID))
			}
		}
	}

	for _, tool := range req.Tools {
		params.Tools = append(params.Tools, openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        tool.Name,
			Description: openai.String(tool.Description),
			Parameters:  openai.FunctionParameters(tool.Parameters),
		}))
	}
	return params, nil
}

func (o *OpenAIAdapter) mapError(err error) error {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		var retryAfter *float64
		if apierr.Response != nil {
			if ra := apierr.Response.Header.Get("Retry-After"); ra != "" {
				if secs, perr := strconv.ParseFloat(ra, 64); perr == nil {
					retryAfter = &secs
				}
			}
		}
		return ErrorFromStatusCode("openai", apierr.StatusCode, apierr.Error(), retryAfter, err)
	}
	return &NetworkError{ProviderError{
		Provider:  "openai",
		Message:   fmt.Sprintf("stream failed: %v", err),
		Retryable: true,
		Cause:     err,
	}}
}
