package agent

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/martinemde/patchwork/llmwire"
)

// streamOutcome is the assembled result of one model stream.
type streamOutcome struct {
	Message      llmwire.Message
	FinishReason llmwire.FinishReason
	Usage        llmwire.Usage
}

// partialCall accumulates one tool call's argument fragments.
type partialCall struct {
	id       string
	name     string
	args     strings.Builder
	complete bool
}

// collectStream consumes a normalized event stream, forwarding display events
// to the emitter and assembling the assistant message. Text deltas are
// concatenated; tool call argument fragments are concatenated per call ID and
// calls appear in the message in the order they started.
//
// On cancellation the partial text collected so far is returned along with the
// context error; incomplete tool calls are discarded so the history never
// carries a call that was not executed.
func collectStream(ctx context.Context, events <-chan llmwire.StreamEvent, emitter *Emitter) (streamOutcome, error) {
	var (
		text    strings.Builder
		order   []string
		calls   = make(map[string]*partialCall)
		outcome streamOutcome
	)

	assemble := func(completeOnly bool) llmwire.Message {
		msg := llmwire.Message{Role: llmwire.RoleAssistant}
		if text.Len() > 0 {
			msg.Content = append(msg.Content, llmwire.ContentBlock{
				Kind: llmwire.BlockText,
				Text: text.String(),
			})
		}
		for _, id := range order {
			call := calls[id]
			if completeOnly && !call.complete {
				continue
			}
			args := call.args.String()
			if args == "" {
				args = "{}"
			}
			msg.Content = append(msg.Content, llmwire.ContentBlock{
				Kind: llmwire.BlockToolCall,
				ToolCall: &llmwire.ToolCall{
					ID:        call.id,
					Name:      call.name,
					Arguments: json.RawMessage(args),
				},
			})
		}
		return msg
	}

	for {
		select {
		case <-ctx.Done():
			outcome.Message = assemble(true)
			return outcome, ctx.Err()

		case event, ok := <-events:
			if !ok {
				// The adapter closes its channel on cancellation too, and
				// the select does not prefer the ctx case. Check the context
				// so a cancelled turn never reads as a completed one.
				if ctx.Err() != nil {
					outcome.Message = assemble(true)
					return outcome, ctx.Err()
				}
				// Stream closed without a TurnEnd; treat what we have as
				// a complete turn.
				outcome.Message = assemble(true)
				if outcome.FinishReason == "" {
					outcome.FinishReason = llmwire.FinishStop
				}
				return outcome, nil
			}

			switch event.Type {
			case llmwire.StreamStart:

			case llmwire.TextDelta:
				text.WriteString(event.Delta)
				emitter.Emit(EventTextDelta, map[string]interface{}{
					"text": event.Delta,
				})

			case llmwire.ToolCallStart:
				if _, exists := calls[event.ToolCallID]; !exists {
					calls[event.ToolCallID] = &partialCall{
						id:   event.ToolCallID,
						name: event.ToolName,
					}
					order = append(order, event.ToolCallID)
				}

			case llmwire.ToolCallDelta:
				if call, exists := calls[event.ToolCallID]; exists {
					call.args.WriteString(event.Delta)
				}

			case llmwire.ToolCallEnd:
				if call, exists := calls[event.ToolCallID]; exists {
					call.complete = true
				}

			case llmwire.TurnEnd:
				outcome.FinishReason = event.FinishReason
				if event.Usage != nil {
					outcome.Usage = *event.Usage
				}
				outcome.Message = assemble(false)
				return outcome, nil

			case llmwire.StreamError:
				return streamOutcome{}, event.Err
			}
		}
	}
}
