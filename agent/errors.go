package agent

import "fmt"

// TurnLimitError reports that a user turn hit the tool round-trip ceiling
// before the model produced a final answer.
type TurnLimitError struct {
	Rounds int
}

func (e *TurnLimitError) Error() string {
	return fmt.Sprintf("turn limit exceeded after %d tool round-trips", e.Rounds)
}

// CancelledError reports that the active turn was cancelled by the host.
type CancelledError struct{}

func (e *CancelledError) Error() string { return "turn cancelled" }
