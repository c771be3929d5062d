package agent

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/martinemde/patchwork/llmwire"
)

// Compactor reduces a conversation that no longer fits the model's context
// window. Implementations receive the full history and return the replacement;
// the returned history must not leave tool calls unanswered.
type Compactor interface {
	// Compact returns a history whose estimated size fits budget tokens.
	// dropped reports how many original messages were removed so the caller
	// can surface it to the host.
	Compact(messages []llmwire.Message, budget int) (compacted []llmwire.Message, dropped int, err error)
}

// DropOldestCompactor removes whole exchanges from the front of the history
// until the estimated token count fits the budget. An exchange is a user
// message together with every assistant and tool message up to the next user
// message, so tool call groups are never split. The leading user request is
// pinned: it survives compaction, followed by a marker noting the elision.
type DropOldestCompactor struct {
	// KeepExchanges is the minimum number of trailing exchanges that are
	// always preserved. Defaults to 1, the exchange in progress.
	KeepExchanges int
}

func (d *DropOldestCompactor) keep() int {
	if d.KeepExchanges < 1 {
		return 1
	}
	return d.KeepExchanges
}

// Compact drops the fewest oldest exchanges that bring the history under
// budget tokens.
func (d *DropOldestCompactor) Compact(messages []llmwire.Message, budget int) ([]llmwire.Message, int, error) {
	if estimateMessages(messages) <= budget {
		return messages, 0, nil
	}

	boundaries := exchangeBoundaries(messages)
	if len(boundaries) < 2 {
		return nil, 0, fmt.Errorf("history exceeds %d tokens but has nothing to drop", budget)
	}

	var pinned []llmwire.Message
	if messages[0].Role == llmwire.RoleUser {
		pinned = messages[:1]
	}

	for start := 1; start <= len(boundaries)-d.keep(); start++ {
		tail := messages[boundaries[start]:]
		dropped := boundaries[start] - len(pinned)

		candidate := make([]llmwire.Message, 0, len(pinned)+1+len(tail))
		candidate = append(candidate, pinned...)
		candidate = append(candidate, compactionMarker(dropped))
		candidate = append(candidate, tail...)

		if estimateMessages(candidate) <= budget {
			log.Debug().
				Int("dropped_messages", dropped).
				Int("remaining_messages", len(candidate)).
				Msg("compacted conversation")
			return candidate, dropped, nil
		}
	}

	return nil, 0, fmt.Errorf("history still exceeds %d tokens after compaction", budget)
}

func compactionMarker(dropped int) llmwire.Message {
	return llmwire.UserMessage(fmt.Sprintf(
		"[Conversation history compacted: %d earlier messages were removed to fit the context window.]",
		dropped))
}

// exchangeBoundaries returns the index of each user message that starts an
// exchange. Leading non-user messages belong to the first exchange.
func exchangeBoundaries(messages []llmwire.Message) []int {
	var boundaries []int
	for i, msg := range messages {
		if msg.Role == llmwire.RoleUser {
			boundaries = append(boundaries, i)
		} else if i == 0 {
			boundaries = append(boundaries, 0)
		}
	}
	return boundaries
}

func estimateMessages(messages []llmwire.Message) int {
	return llmwire.EstimateTokens(llmwire.Request{Messages: messages})
}
