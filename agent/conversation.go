package agent

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/martinemde/patchwork/llmwire"
)

// Conversation is the append-only message history of a session. Messages are
// immutable once appended; Append enforces the tool call pairing rules so the
// history is always in a state every backend accepts.
type Conversation struct {
	messages []llmwire.Message
	mu       sync.RWMutex
}

// NewConversation creates an empty Conversation.
func NewConversation() *Conversation {
	return &Conversation{}
}

// conversationFile is the persisted shape of a conversation.
type conversationFile struct {
	Version  int               `json:"version"`
	SavedAt  time.Time         `json:"saved_at"`
	Messages []llmwire.Message `json:"messages"`
}

// Append adds a message to the history. A user message may not be appended
// while tool calls are still unanswered, and a tool message must answer calls
// from the immediately preceding assistant message.
func (c *Conversation) Append(msg llmwire.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	pending := c.pendingLocked()
	switch msg.Role {
	case llmwire.RoleUser:
		if len(pending) > 0 {
			return fmt.Errorf("cannot append user message: %d tool calls are unanswered", len(pending))
		}
	case llmwire.RoleTool:
		pendingIDs := make(map[string]bool, len(pending))
		for _, call := range pending {
			pendingIDs[call.ID] = true
		}
		for _, block := range msg.Content {
			if block.Kind != llmwire.BlockToolResult || block.ToolResult == nil {
				return fmt.Errorf("tool message may only contain tool results")
			}
			if !pendingIDs[block.ToolResult.ToolCallID] {
				return fmt.Errorf("tool result %s does not answer a pending tool call", block.ToolResult.ToolCallID)
			}
		}
	}

	c.messages = append(c.messages, msg)
	return nil
}

// Messages returns a copy of the history.
func (c *Conversation) Messages() []llmwire.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]llmwire.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Len returns the number of messages.
func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages)
}

// Clear removes all messages.
func (c *Conversation) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = nil
}

// Replace swaps the entire history, used by compaction. The replacement must
// not contain dangling tool calls.
func (c *Conversation) Replace(messages []llmwire.Message) error {
	if calls := danglingCalls(messages); len(calls) > 0 {
		return fmt.Errorf("replacement history leaves %d tool calls unanswered", len(calls))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = make([]llmwire.Message, len(messages))
	copy(c.messages, messages)
	return nil
}

// PendingToolCalls returns tool calls from the latest assistant message that
// have no result yet, in request order.
func (c *Conversation) PendingToolCalls() []llmwire.ToolCall {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pendingLocked()
}

func (c *Conversation) pendingLocked() []llmwire.ToolCall {
	return danglingCalls(c.messages)
}

// danglingCalls returns tool calls in the trailing assistant message that are
// not answered by subsequent tool messages.
func danglingCalls(messages []llmwire.Message) []llmwire.ToolCall {
	// Find the last assistant message; anything after it can only be tool
	// results for its calls.
	lastAssistant := -1
	for i := len(messages) - 1; i >= 0; i-- {
		switch messages[i].Role {
		case llmwire.RoleAssistant:
			lastAssistant = i
		case llmwire.RoleTool:
			continue
		default:
			lastAssistant = -1
		}
		if lastAssistant >= 0 || messages[i].Role != llmwire.RoleTool {
			break
		}
	}
	if lastAssistant < 0 {
		return nil
	}

	answered := make(map[string]bool)
	for _, msg := range messages[lastAssistant+1:] {
		if msg.Role != llmwire.RoleTool {
			continue
		}
		for _, block := range msg.Content {
			if block.Kind == llmwire.BlockToolResult && block.ToolResult != nil {
				answered[block.ToolResult.ToolCallID] = true
			}
		}
	}

	var pending []llmwire.ToolCall
	for _, call := range messages[lastAssistant].ToolCalls() {
		if !answered[call.ID] {
			pending = append(pending, call)
		}
	}
	return pending
}

// Save writes the conversation to path as JSON, creating parent directories.
func (c *Conversation) Save(path string) error {
	c.mu.RLock()
	file := conversationFile{
		Version:  1,
		SavedAt:  time.Now().UTC(),
		Messages: c.messages,
	}
	// Compact marshalling: MarshalIndent would re-indent the raw tool-call
	// argument bytes and break round-trip identity.
	data, err := json.Marshal(file)
	c.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshal conversation: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create conversation dir: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// LoadConversation reads a conversation previously written by Save.
func LoadConversation(path string) (*Conversation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read conversation: %w", err)
	}
	var file conversationFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse conversation: %w", err)
	}
	return &Conversation{messages: file.Messages}, nil
}
