package agent

import (
	"strings"
	"testing"

	"github.com/martinemde/patchwork/llmwire"
)

// exchange builds a user message plus a tool round, padded to a predictable
// size so token estimates are easy to reason about.
func exchange(id string, padChars int) []llmwire.Message {
	pad := strings.Repeat("x", padChars)
	return []llmwire.Message{
		llmwire.UserMessage("question " + id),
		assistantWithCall("", "call_"+id, "read_file", `{"path":"a.txt"}`),
		llmwire.ToolResultMessage("call_"+id, pad, false),
		llmwire.AssistantMessage("answer " + id),
	}
}

func TestDropOldestCompactorKeepsWholeExchanges(t *testing.T) {
	var messages []llmwire.Message
	messages = append(messages, exchange("1", 4000)...)
	messages = append(messages, exchange("2", 4000)...)
	messages = append(messages, exchange("3", 4000)...)

	// Each exchange is roughly 1000 tokens; a 2300 budget fits two plus the
	// pinned request and marker.
	compactor := &DropOldestCompactor{}
	compacted, dropped, err := compactor.Compact(messages, 2300)
	if err != nil {
		t.Fatalf("compact: %v", err)
	}
	if dropped != 3 {
		t.Errorf("expected 3 messages dropped from the first exchange, got %d", dropped)
	}
	if compacted[0].TextContent() != "question 1" {
		t.Errorf("leading user request must be pinned, got %q", compacted[0].TextContent())
	}
	if !strings.Contains(compacted[1].TextContent(), "compacted") {
		t.Errorf("expected elision marker after the pinned request, got %q", compacted[1].TextContent())
	}
	if compacted[2].TextContent() != "question 2" {
		t.Errorf("tail must resume at an exchange boundary, got %q", compacted[2].TextContent())
	}
	if calls := danglingCalls(compacted); len(calls) != 0 {
		t.Errorf("compaction left %d tool calls unanswered", len(calls))
	}
}

func TestDropOldestCompactorNoOpWhenUnderBudget(t *testing.T) {
	messages := exchange("1", 100)
	compactor := &DropOldestCompactor{}
	compacted, dropped, err := compactor.Compact(messages, 1000000)
	if err != nil {
		t.Fatalf("compact: %v", err)
	}
	if dropped != 0 || len(compacted) != len(messages) {
		t.Errorf("expected no-op, dropped %d", dropped)
	}
}

func TestDropOldestCompactorProtectsLastExchange(t *testing.T) {
	var messages []llmwire.Message
	messages = append(messages, exchange("1", 4000)...)
	messages = append(messages, exchange("2", 4000)...)

	// Budget too small even for one exchange: the trailing exchange is kept
	// anyway and the compactor reports failure.
	compactor := &DropOldestCompactor{}
	_, _, err := compactor.Compact(messages, 10)
	if err == nil {
		t.Error("expected an error when even the final exchange exceeds the budget")
	}
}

func TestDropOldestCompactorKeepExchangesOption(t *testing.T) {
	var messages []llmwire.Message
	for _, id := range []string{"1", "2", "3", "4"} {
		messages = append(messages, exchange(id, 4000)...)
	}

	compactor := &DropOldestCompactor{KeepExchanges: 3}
	compacted, dropped, err := compactor.Compact(messages, 2200)
	if err == nil {
		// Three protected exchanges cannot fit a two-exchange budget.
		t.Fatalf("expected budget failure, got dropped=%d len=%d", dropped, len(compacted))
	}
}
