package tools

import "fmt"

// ErrorKind classifies a tool failure.
type ErrorKind string

const (
	// KindValidation marks arguments that failed schema validation.
	KindValidation ErrorKind = "validation"
	// KindNotFound marks a missing file, directory, or tool.
	KindNotFound ErrorKind = "not_found"
	// KindPermissionDenied marks an operation outside the workspace policy.
	KindPermissionDenied ErrorKind = "permission_denied"
	// KindExecutionFailed marks a tool that started but failed.
	KindExecutionFailed ErrorKind = "execution_failed"
	// KindTimeout marks a tool killed by its deadline.
	KindTimeout ErrorKind = "timeout"
)

// ToolError is the error type every capability returns on failure. The agent
// converts these into error-flagged results for the model; they never abort
// the conversation.
type ToolError struct {
	Kind    ErrorKind
	Tool    string
	Message string
	Cause   error
}

func (e *ToolError) Error() string {
	if e.Tool != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Tool, e.Message, e.Kind)
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Kind)
}

func (e *ToolError) Unwrap() error { return e.Cause }

// Errf builds a ToolError with a formatted message.
func Errf(kind ErrorKind, tool, format string, args ...interface{}) *ToolError {
	return &ToolError{Kind: kind, Tool: tool, Message: fmt.Sprintf(format, args...)}
}
