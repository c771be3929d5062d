package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/martinemde/patchwork/llmwire"
	"github.com/martinemde/patchwork/tools"
)

// PermissionFunc decides whether a mutating tool call may run. Returning an
// error denies the call; the error message becomes the tool result.
type PermissionFunc func(call llmwire.ToolCall) error

// Executor runs the tool calls requested by one assistant message. Read-only
// tools run concurrently under a bounded pool; mutating tools run one at a
// time. Results always come back in request order.
type Executor struct {
	registry    *tools.Registry
	emitter     *Emitter
	permission  PermissionFunc
	maxParallel int
	charLimits  map[string]int
	lineLimits  map[string]int
}

// ExecutorOptions configures an Executor.
type ExecutorOptions struct {
	// MaxParallel bounds concurrent read-only tool calls. Defaults to 4.
	MaxParallel int
	// Permission gates mutating tools. Nil allows everything.
	Permission PermissionFunc
	// CharLimits and LineLimits override the default truncation limits.
	CharLimits map[string]int
	LineLimits map[string]int
}

// NewExecutor creates an Executor over a tool registry.
func NewExecutor(registry *tools.Registry, emitter *Emitter, opts ExecutorOptions) *Executor {
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = 4
	}
	return &Executor{
		registry:    registry,
		emitter:     emitter,
		permission:  opts.Permission,
		maxParallel: opts.MaxParallel,
		charLimits:  opts.CharLimits,
		lineLimits:  opts.LineLimits,
	}
}

// Execute runs every tool call and returns one result per call, in request
// order. Failures never abort the batch; they become error-flagged results
// the model can react to.
func (e *Executor) Execute(ctx context.Context, calls []llmwire.ToolCall) []llmwire.ToolResult {
	results := make([]llmwire.ToolResult, len(calls))

	var (
		wg  sync.WaitGroup
		sem = make(chan struct{}, e.maxParallel)
	)
	var serial []int
	for i, call := range calls {
		tool := e.registry.Get(call.Name)
		if tool != nil && tool.ReadOnly() {
			wg.Add(1)
			go func(i int, call llmwire.ToolCall) {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()
				results[i] = e.runOne(ctx, call)
			}(i, call)
		} else {
			serial = append(serial, i)
		}
	}
	wg.Wait()

	// Mutating and unknown tools run sequentially, after the read-only batch
	// so concurrent readers never observe a half-applied write.
	for _, i := range serial {
		results[i] = e.runOne(ctx, calls[i])
	}

	return results
}

// runOne executes a single tool call end to end: argument parsing, schema
// validation, the permission gate, invocation, and truncation.
func (e *Executor) runOne(ctx context.Context, call llmwire.ToolCall) llmwire.ToolResult {
	start := time.Now()
	e.emitter.Emit(EventToolCallStart, map[string]interface{}{
		"tool_call_id": call.ID,
		"tool_name":    call.Name,
		"arguments":    string(call.Arguments),
	})

	content, isError := e.invoke(ctx, call)

	e.emitter.Emit(EventToolCallEnd, map[string]interface{}{
		"tool_call_id": call.ID,
		"tool_name":    call.Name,
		"output":       content,
		"is_error":     isError,
		"duration_ms":  time.Since(start).Milliseconds(),
	})

	return llmwire.ToolResult{
		ToolCallID: call.ID,
		Content:    TruncateToolOutput(content, call.Name, e.charLimits, e.lineLimits),
		IsError:    isError,
	}
}

func (e *Executor) invoke(ctx context.Context, call llmwire.ToolCall) (content string, isError bool) {
	tool := e.registry.Get(call.Name)
	if tool == nil {
		return fmt.Sprintf("Error: unknown tool %q", call.Name), true
	}

	var args map[string]interface{}
	if len(call.Arguments) > 0 {
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			return fmt.Sprintf("Error: tool arguments are not valid JSON: %v", err), true
		}
	}
	if args == nil {
		args = map[string]interface{}{}
	}

	if err := e.registry.ValidateArgs(call.Name, args); err != nil {
		return fmt.Sprintf("Error: %v", err), true
	}

	if !tool.ReadOnly() && e.permission != nil {
		if err := e.permission(call); err != nil {
			return fmt.Sprintf("Error: permission denied: %v", err), true
		}
	}

	output, err := tool.Invoke(ctx, args)
	if err != nil {
		var toolErr *tools.ToolError
		if errors.As(err, &toolErr) {
			log.Debug().
				Str("tool", call.Name).
				Str("kind", string(toolErr.Kind)).
				Msg("tool call failed")
			// Timeout messages carry the partial output captured before the
			// deadline; pass them through untouched.
			if toolErr.Kind == tools.KindTimeout {
				return toolErr.Message, true
			}
			return fmt.Sprintf("Error: %s", toolErr.Message), true
		}
		return fmt.Sprintf("Error: %v", err), true
	}
	return output, false
}
