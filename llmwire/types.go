package llmwire

import (
	"encoding/json"
	"strings"
)

// Role identifies who produced a message in a conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// BlockKind is the discriminator tag for ContentBlock.
type BlockKind string

const (
	BlockText       BlockKind = "text"
	BlockToolCall   BlockKind = "tool_call"
	BlockToolResult BlockKind = "tool_result"
)

// ToolCall represents a model-initiated tool invocation. Arguments hold the
// raw JSON payload exactly as the backend produced it; validation happens at
// execution time, not here.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResult holds the outcome of executing a ToolCall. ToolCallID correlates
// 1:1 with the originating call.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error"`
}

// ContentBlock is a tagged union representing one block of a message.
type ContentBlock struct {
	Kind       BlockKind   `json:"kind"`
	Text       string      `json:"text,omitempty"`
	ToolCall   *ToolCall   `json:"tool_call,omitempty"`
	ToolResult *ToolResult `json:"tool_result,omitempty"`
}

// TextBlock creates a text ContentBlock.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Kind: BlockText, Text: text}
}

// ToolCallBlock creates a tool call ContentBlock.
func ToolCallBlock(id, name string, args json.RawMessage) ContentBlock {
	return ContentBlock{
		Kind:     BlockToolCall,
		ToolCall: &ToolCall{ID: id, Name: name, Arguments: args},
	}
}

// ToolResultBlock creates a tool result ContentBlock.
func ToolResultBlock(toolCallID, content string, isError bool) ContentBlock {
	return ContentBlock{
		Kind:       BlockToolResult,
		ToolResult: &ToolResult{ToolCallID: toolCallID, Content: content, IsError: isError},
	}
}

// Message is the fundamental unit of conversation. Messages are treated as
// immutable once appended to a conversation; adapters read them, nothing
// mutates them.
type Message struct {
	Role    Role           `json:"role"`
	Content []ContentBlock `json:"content"`
}

// TextContent returns the concatenation of all text blocks.
func (m Message) TextContent() string {
	var sb strings.Builder
	for _, block := range m.Content {
		if block.Kind == BlockText {
			sb.WriteString(block.Text)
		}
	}
	return sb.String()
}

// ToolCalls extracts all tool call blocks from the message.
func (m Message) ToolCalls() []ToolCall {
	var calls []ToolCall
	for _, block := range m.Content {
		if block.Kind == BlockToolCall && block.ToolCall != nil {
			calls = append(calls, *block.ToolCall)
		}
	}
	return calls
}

// SystemMessage creates a system Message.
func SystemMessage(text string) Message {
	return Message{Role: RoleSystem, Content: []ContentBlock{TextBlock(text)}}
}

// UserMessage creates a user Message with text content.
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Content: []ContentBlock{TextBlock(text)}}
}

// AssistantMessage creates an assistant Message with text content.
func AssistantMessage(text string) Message {
	return Message{Role: RoleAssistant, Content: []ContentBlock{TextBlock(text)}}
}

// ToolResultMessage creates a tool-role Message carrying one result.
func ToolResultMessage(toolCallID, content string, isError bool) Message {
	return Message{
		Role:    RoleTool,
		Content: []ContentBlock{ToolResultBlock(toolCallID, content, isError)},
	}
}

// ToolDefinition describes a tool to the backend (name plus JSON Schema for
// its arguments).
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// Request is the input to ProviderAdapter.Stream.
type Request struct {
	Model       string           `json:"model"`
	System      string           `json:"system,omitempty"`
	Messages    []Message        `json:"messages"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Temperature *float64         `json:"temperature,omitempty"`
	Provider    string           `json:"provider,omitempty"`
}

// FinishReason describes why the backend stopped generating.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishToolCalls FinishReason = "tool_calls"
	FinishLength    FinishReason = "length"
	FinishOther     FinishReason = "other"
)

// Usage tracks token consumption for one round-trip.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add returns the sum of u and other.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		InputTokens:  u.InputTokens + other.InputTokens,
		OutputTokens: u.OutputTokens + other.OutputTokens,
	}
}

// StreamEventType identifies the kind of normalized stream event. This
// vocabulary is mandatory for every adapter: the consumer never sees
// backend-specific event shapes.
type StreamEventType string

const (
	StreamStart   StreamEventType = "stream_start"
	TextDelta     StreamEventType = "text_delta"
	ToolCallStart StreamEventType = "tool_call_start"
	ToolCallDelta StreamEventType = "tool_call_delta"
	ToolCallEnd   StreamEventType = "tool_call_end"
	TurnEnd       StreamEventType = "turn_end"
	StreamError   StreamEventType = "error"
)

// StreamEvent is a single normalized event from a streaming response.
//
// TextDelta carries Delta. ToolCallStart carries ToolCallID and ToolName.
// ToolCallDelta carries ToolCallID and Delta (a raw JSON argument fragment).
// ToolCallEnd carries ToolCallID. TurnEnd carries FinishReason and, when the
// backend reports it, Usage. StreamError carries Err and terminates the
// stream.
type StreamEvent struct {
	Type         StreamEventType `json:"type"`
	Delta        string          `json:"delta,omitempty"`
	ToolCallID   string          `json:"tool_call_id,omitempty"`
	ToolName     string          `json:"tool_name,omitempty"`
	FinishReason FinishReason    `json:"finish_reason,omitempty"`
	Usage        *Usage          `json:"usage,omitempty"`
	Err          error           `json:"-"`
}

// EstimateTokens approximates the token footprint of a request. The usual
// 4-chars-per-token heuristic; good enough for the context-limit preflight,
// which only needs to catch conversations that are clearly over the window.
func EstimateTokens(req Request) int {
	total := len(req.System) / 4
	for _, msg := range req.Messages {
		for _, block := range msg.Content {
			switch block.Kind {
			case BlockText:
				total += len(block.Text) / 4
			case BlockToolCall:
				if block.ToolCall != nil {
					total += (len(block.ToolCall.Name) + len(block.ToolCall.Arguments)) / 4
				}
			case BlockToolResult:
				if block.ToolResult != nil {
					total += len(block.ToolResult.Content) / 4
				}
			}
		}
	}
	for _, tool := range req.Tools {
		raw, _ := json.Marshal(tool.Parameters)
		total += (len(tool.Description) + len(raw)) / 4
	}
	return total
}
