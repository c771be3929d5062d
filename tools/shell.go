package tools

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Shell executes shell commands in the workspace. It is the only capability
// with side effects beyond the filesystem, so it always serializes.
type Shell struct {
	ws *Workspace
}

func NewShell(ws *Workspace) *Shell { return &Shell{ws: ws} }

func (t *Shell) Name() string { return "shell" }
func (t *Shell) Description() string {
	return "Execute a shell command in the workspace. Returns stdout, stderr, and exit code."
}
func (t *Shell) ReadOnly() bool { return false }

func (t *Shell) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"command": map[string]interface{}{
				"type":        "string",
				"description": "The command to run.",
			},
			"timeout_ms": map[string]interface{}{
				"type":        "integer",
				"description": "Override the default command timeout in milliseconds.",
			},
			"working_dir": map[string]interface{}{
				"type":        "string",
				"description": "Working directory for the command, relative to the workspace root.",
			},
		},
		"required": []string{"command"},
	}
}

func (t *Shell) Invoke(ctx context.Context, args map[string]interface{}) (string, error) {
	command, _ := stringArg(args, "command")
	if strings.TrimSpace(command) == "" {
		return "", Errf(KindValidation, t.Name(), "command must not be empty")
	}
	if !t.ws.CommandAllowed(command) {
		return "", Errf(KindPermissionDenied, t.Name(), "command %q is not in the allowlist", strings.Fields(command)[0])
	}

	timeout := t.ws.DefaultTimeout()
	if timeoutMs, ok := intArg(args, "timeout_ms"); ok && timeoutMs > 0 {
		timeout = time.Duration(timeoutMs) * time.Millisecond
	}
	workingDir, _ := stringArg(args, "working_dir")

	result, err := t.ws.ExecCommand(ctx, command, timeout, workingDir)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString(result.Output())

	if result.TimedOut {
		fmt.Fprintf(&sb, "\n\n[ERROR: Command timed out after %dms. Partial output is shown above.\n"+
			"You can retry with a longer timeout by setting the timeout_ms parameter.]", timeout.Milliseconds())
		return sb.String(), &ToolError{Kind: KindTimeout, Tool: t.Name(), Message: sb.String()}
	}
	if result.ExitCode != 0 {
		fmt.Fprintf(&sb, "\n\n[Exit code: %d]", result.ExitCode)
	}
	return sb.String(), nil
}
