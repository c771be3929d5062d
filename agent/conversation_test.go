package agent

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/martinemde/patchwork/llmwire"
)

func assistantWithCall(text, callID, toolName, args string) llmwire.Message {
	msg := llmwire.Message{Role: llmwire.RoleAssistant}
	if text != "" {
		msg.Content = append(msg.Content, llmwire.TextBlock(text))
	}
	msg.Content = append(msg.Content, llmwire.ContentBlock{
		Kind: llmwire.BlockToolCall,
		ToolCall: &llmwire.ToolCall{
			ID:        callID,
			Name:      toolName,
			Arguments: json.RawMessage(args),
		},
	})
	return msg
}

func TestConversationAppendAndPending(t *testing.T) {
	conv := NewConversation()

	if err := conv.Append(llmwire.UserMessage("list the files")); err != nil {
		t.Fatalf("append user: %v", err)
	}
	if err := conv.Append(assistantWithCall("", "call_1", "list_dir", `{"path":"."}`)); err != nil {
		t.Fatalf("append assistant: %v", err)
	}

	pending := conv.PendingToolCalls()
	if len(pending) != 1 || pending[0].ID != "call_1" {
		t.Fatalf("expected call_1 pending, got %+v", pending)
	}

	if err := conv.Append(llmwire.UserMessage("never mind")); err == nil {
		t.Error("user message must be rejected while tool calls are unanswered")
	}

	if err := conv.Append(llmwire.ToolResultMessage("call_1", "go.mod\nmain.go", false)); err != nil {
		t.Fatalf("append tool result: %v", err)
	}
	if pending := conv.PendingToolCalls(); len(pending) != 0 {
		t.Errorf("expected no pending calls, got %+v", pending)
	}
	if err := conv.Append(llmwire.UserMessage("thanks")); err != nil {
		t.Errorf("user message after results rejected: %v", err)
	}
}

func TestConversationRejectsUnmatchedToolResult(t *testing.T) {
	conv := NewConversation()
	if err := conv.Append(llmwire.ToolResultMessage("call_x", "output", false)); err == nil {
		t.Error("tool result without a matching call must be rejected")
	}
}

func TestConversationReplaceRejectsDanglingCalls(t *testing.T) {
	conv := NewConversation()
	dangling := []llmwire.Message{
		llmwire.UserMessage("hi"),
		assistantWithCall("", "call_1", "shell", `{"command":"ls"}`),
	}
	if err := conv.Replace(dangling); err == nil {
		t.Error("replacement with unanswered tool calls must be rejected")
	}

	complete := append(dangling, llmwire.ToolResultMessage("call_1", "ok", false))
	if err := conv.Replace(complete); err != nil {
		t.Errorf("valid replacement rejected: %v", err)
	}
	if conv.Len() != 3 {
		t.Errorf("expected 3 messages after replace, got %d", conv.Len())
	}
}

func TestConversationSaveLoadRoundTrip(t *testing.T) {
	conv := NewConversation()
	conv.Append(llmwire.UserMessage("read go.mod"))
	conv.Append(assistantWithCall("Reading it.", "call_1", "read_file", `{"path":"go.mod"}`))
	conv.Append(llmwire.ToolResultMessage("call_1", "module example.com/demo", false))
	conv.Append(llmwire.AssistantMessage("The module is example.com/demo."))

	path := filepath.Join(t.TempDir(), "state", "conversation.json")
	if err := conv.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := LoadConversation(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Len() != conv.Len() {
		t.Fatalf("expected %d messages, got %d", conv.Len(), loaded.Len())
	}

	got := loaded.Messages()
	want := conv.Messages()
	for i := range want {
		gotJSON, _ := json.Marshal(got[i])
		wantJSON, _ := json.Marshal(want[i])
		if string(gotJSON) != string(wantJSON) {
			t.Errorf("message %d changed across save/load:\n  want %s\n  got  %s", i, wantJSON, gotJSON)
		}
	}
	calls := got[1].ToolCalls()
	if len(calls) != 1 || string(calls[0].Arguments) != `{"path":"go.mod"}` {
		t.Errorf("raw arguments not preserved: %+v", calls)
	}
}
