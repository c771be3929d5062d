package llmwire

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/google/generative-ai-go/genai"
	"github.com/google/uuid"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GeminiAdapter streams completions from the Google Gemini API.
//
// Gemini has no tool call ids on the wire, so the adapter mints one per
// function call. Results are correlated back by function name, recovered from
// the conversation history at encode time.
type GeminiAdapter struct {
	client *genai.Client
}

// NewGeminiAdapter creates an adapter using GEMINI_API_KEY when apiKey is
// empty.
func NewGeminiAdapter(ctx context.Context, apiKey string) (*GeminiAdapter, error) {
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		return nil, &AuthenticationError{ProviderError{
			Provider: "gemini",
			Message:  "GEMINI_API_KEY environment variable not set",
		}}
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, &NetworkError{ProviderError{
			Provider: "gemini", Message: "failed to create genai client", Retryable: true, Cause: err,
		}}
	}
	return &GeminiAdapter{client: client}, nil
}

func (g *GeminiAdapter) Name() string { return "gemini" }

func (g *GeminiAdapter) Close() error { return g.client.Close() }

// Stream opens a streaming GenerateContent request. Function calls arrive as
// complete parts, so each one is normalized into a start, a single argument
// fragment holding the full JSON payload, and an end.
func (g *GeminiAdapter) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	model := g.client.GenerativeModel(req.Model)
	if req.System != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.System)}}
	}
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(req.MaxTokens))
	}
	if req.Temperature != nil {
		model.SetTemperature(float32(*req.Temperature))
	}
	model.Tools = encodeGeminiTools(req.Tools)

	contents, err := encodeGeminiContents(req.Messages)
	if err != nil {
		return nil, err
	}
	if len(contents) == 0 {
		return nil, &InvalidRequestError{ProviderError{
			Provider: "gemini", Message: "request has no messages",
		}}
	}

	session := model.StartChat()
	session.History = contents[:len(contents)-1]
	last := contents[len(contents)-1]

	events := make(chan StreamEvent, 64)
	go func() {
		defer close(events)
		events <- StreamEvent{Type: StreamStart}

		iter := session.SendMessageStream(ctx, last.Parts...)
		var finish FinishReason = FinishStop
		var usage Usage
		sawToolCall := false

		for {
			resp, err := iter.Next()
			if err == iterator.Done {
				break
			}
			if err != nil {
				events <- StreamEvent{Type: StreamError, Err: g.mapError(err)}
				return
			}
			if resp.UsageMetadata != nil {
				usage.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
				usage.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
			}
			if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
				continue
			}
			candidate := resp.Candidates[0]
			if candidate.FinishReason == genai.FinishReasonMaxTokens {
				finish = FinishLength
			}
			for _, part := range candidate.Content.Parts {
				switch v := part.(type) {
				case genai.Text:
					if v != "" {
						events <- StreamEvent{Type: TextDelta, Delta: string(v)}
					}
				case genai.FunctionCall:
					sawToolCall = true
					id := "gemini_call_" + uuid.NewString()
					args, merr := json.Marshal(v.Args)
					if merr != nil {
						args = []byte("{}")
					}
					events <- StreamEvent{Type: ToolCallStart, ToolCallID: id, ToolName: v.Name}
					events <- StreamEvent{Type: ToolCallDelta, ToolCallID: id, Delta: string(args)}
					events <- StreamEvent{Type: ToolCallEnd, ToolCallID: id}
				}
			}
		}
		if sawToolCall && finish == FinishStop {
			finish = FinishToolCalls
		}
		events <- StreamEvent{Type: TurnEnd, FinishReason: finish, Usage: &usage}
	}()
	return events, nil
}

// encodeGeminiContents converts abstract messages to Gemini content. Tool
// results become FunctionResponse parts in a function-role content, with the
// function name recovered from the originating call in the history.
func encodeGeminiContents(messages []Message) ([]*genai.Content, error) {
	namesByCallID := map[string]string{}
	for _, msg := range messages {
		for _, call := range msg.ToolCalls() {
			namesByCallID[call.ID] = call.Name
		}
	}

	var contents []*genai.Content
	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			// System text rides in SystemInstruction; skip here.
			continue
		case RoleUser:
			contents = append(contents, &genai.Content{
				Role:  "user",
				Parts: []genai.Part{genai.Text(msg.TextContent())},
			})
		case RoleAssistant:
			var parts []genai.Part
			for _, block := range msg.Content {
				switch block.Kind {
				case BlockText:
					if block.Text != "" {
						parts = append(parts, genai.Text(block.Text))
					}
				case BlockToolCall:
					var args map[string]any
					if err := json.Unmarshal(block.ToolCall.Arguments, &args); err != nil {
						args = map[string]any{}
					}
					parts = append(parts, genai.FunctionCall{Name: block.ToolCall.Name, Args: args})
				}
			}
			if len(parts) == 0 {
				continue
			}
			contents = append(contents, &genai.Content{Role: "model", Parts: parts})
		case RoleTool:
			var parts []genai.Part
			for _, block := range msg.Content {
				if block.Kind != BlockToolResult || block.ToolResult == nil {
					continue
				}
				name, ok := namesByCallID[block.ToolResult.ToolCallID]
				if !ok {
					return nil, &InvalidRequestError{ProviderError{
						Provider: "gemini",
						Message:  fmt.Sprintf("tool result %s has no matching tool call", block.ToolResult.ToolCallID),
					}}
				}
				parts = append(parts, genai.FunctionResponse{
					Name:     name,
					Response: map[string]any{"output": block.ToolResult.Content, "is_error": block.ToolResult.IsError},
				})
			}
			if len(parts) == 0 {
				continue
			}
			contents = append(contents, &genai.Content{Role: "function", Parts: parts})
		}
	}
	return contents, nil
}

func encodeGeminiTools(tools []ToolDefinition) []*genai.Tool {
	if len(tools) == 0 {
		return nil
	}
	var decls []*genai.FunctionDeclaration
	for _, tool := range tools {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  geminiSchema(tool.Parameters),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

// geminiSchema converts a JSON Schema fragment to the genai schema type.
func geminiSchema(schema map[string]interface{}) *genai.Schema {
	if schema == nil {
		return nil
	}
	out := &genai.Schema{}
	if t, ok := schema["type"].(string); ok {
		switch t {
		case "object":
			out.Type = genai.TypeObject
		case "array":
			out.Type = genai.TypeArray
		case "string":
			out.Type = genai.TypeString
		case "number":
			out.Type = genai.TypeNumber
		case "integer":
			out.Type = genai.TypeInteger
		case "boolean":
			out.Type = genai.TypeBoolean
		}
	}
	if desc, ok := schema["description"].(string); ok {
		out.Description = desc
	}
	if props, ok := schema["properties"].(map[string]interface{}); ok {
		out.Properties = map[string]*genai.Schema{}
		for name, raw := range props {
			if sub, ok := raw.(map[string]interface{}); ok {
				out.Properties[name] = geminiSchema(sub)
			}
		}
	}
	if items, ok := schema["items"].(map[string]interface{}); ok {
		out.Items = geminiSchema(items)
	}
	switch req := schema["required"].(type) {
	case []string:
		out.Required = req
	case []interface{}:
		for _, r := range req {
			if s, ok := r.(string); ok {
				out.Required = append(out.Required, s)
			}
		}
	}
	if enum, ok := schema["enum"].([]interface{}); ok {
		for _, e := range enum {
			if s, ok := e.(string); ok {
				out.Enum = append(out.Enum, s)
			}
		}
	}
	return out
}

func (g *GeminiAdapter) mapError(err error) error {
	var apierr *googleapi.Error
	if errors.As(err, &apierr) {
		var retryAfter *float64
		if ra := apierr.Header.Get("Retry-After"); ra != "" {
			if secs, perr := strconv.ParseFloat(ra, 64); perr == nil {
				retryAfter = &secs
			}
		}
		return ErrorFromStatusCode("gemini", apierr.Code, apierr.Message, retryAfter, err)
	}
	return &NetworkError{ProviderError{
		Provider:  "gemini",
		Message:   fmt.Sprintf("stream failed: %v", err),
		Retryable: true,
		Cause:     err,
	}}
}
