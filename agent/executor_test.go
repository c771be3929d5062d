package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/martinemde/patchwork/llmwire"
	"github.com/martinemde/patchwork/tools"
)

type fakeCap struct {
	name     string
	readOnly bool
	schema   map[string]interface{}
	fn       func(ctx context.Context, args map[string]interface{}) (string, error)
}

func (f *fakeCap) Name() string        { return f.name }
func (f *fakeCap) Description() string { return "test capability" }
func (f *fakeCap) ReadOnly() bool      { return f.readOnly }

func (f *fakeCap) Schema() map[string]interface{} {
	if f.schema != nil {
		return f.schema
	}
	return map[string]interface{}{
		"type":                 "object",
		"properties":           map[string]interface{}{},
		"additionalProperties": true,
	}
}

func (f *fakeCap) Invoke(ctx context.Context, args map[string]interface{}) (string, error) {
	return f.fn(ctx, args)
}

func testExecutor(t *testing.T, opts ExecutorOptions, caps ...*fakeCap) *Executor {
	t.Helper()
	reg := tools.NewRegistry()
	for _, tool := range caps {
		if err := reg.Register(tool); err != nil {
			t.Fatalf("register %s: %v", tool.name, err)
		}
	}
	return NewExecutor(reg, testEmitter(), opts)
}

func call(id, name, args string) llmwire.ToolCall {
	return llmwire.ToolCall{ID: id, Name: name, Arguments: json.RawMessage(args)}
}

func TestExecutorResultsInRequestOrder(t *testing.T) {
	slow := &fakeCap{name: "slow", readOnly: true, fn: func(ctx context.Context, args map[string]interface{}) (string, error) {
		time.Sleep(50 * time.Millisecond)
		return "slow done", nil
	}}
	fast := &fakeCap{name: "fast", readOnly: true, fn: func(ctx context.Context, args map[string]interface{}) (string, error) {
		return "fast done", nil
	}}
	exec := testExecutor(t, ExecutorOptions{}, slow, fast)

	results := exec.Execute(context.Background(), []llmwire.ToolCall{
		call("call_1", "slow", "{}"),
		call("call_2", "fast", "{}"),
	})

	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ToolCallID != "call_1" || results[0].Content != "slow done" {
		t.Errorf("first result out of order: %+v", results[0])
	}
	if results[1].ToolCallID != "call_2" || results[1].Content != "fast done" {
		t.Errorf("second result out of order: %+v", results[1])
	}
}

func TestExecutorReadOnlyRunsConcurrently(t *testing.T) {
	var (
		mu     sync.Mutex
		active int
		peak   int
	)
	tool := &fakeCap{name: "probe", readOnly: true, fn: func(ctx context.Context, args map[string]interface{}) (string, error) {
		mu.Lock()
		active++
		if active > peak {
			peak = active
		}
		mu.Unlock()
		time.Sleep(30 * time.Millisecond)
		mu.Lock()
		active--
		mu.Unlock()
		return "ok", nil
	}}
	exec := testExecutor(t, ExecutorOptions{MaxParallel: 4}, tool)

	var calls []llmwire.ToolCall
	for i := 0; i < 4; i++ {
		calls = append(calls, call(fmt.Sprintf("call_%d", i), "probe", "{}"))
	}
	exec.Execute(context.Background(), calls)

	if peak < 2 {
		t.Errorf("expected concurrent execution, peak was %d", peak)
	}
}

func TestExecutorMutatingRunsSerially(t *testing.T) {
	var (
		mu     sync.Mutex
		active int
		peak   int
	)
	tool := &fakeCap{name: "writer", readOnly: false, fn: func(ctx context.Context, args map[string]interface{}) (string, error) {
		mu.Lock()
		active++
		if active > peak {
			peak = active
		}
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		mu.Lock()
		active--
		mu.Unlock()
		return "written", nil
	}}
	exec := testExecutor(t, ExecutorOptions{MaxParallel: 4}, tool)

	var calls []llmwire.ToolCall
	for i := 0; i < 3; i++ {
		calls = append(calls, call(fmt.Sprintf("call_%d", i), "writer", "{}"))
	}
	exec.Execute(context.Background(), calls)

	if peak != 1 {
		t.Errorf("mutating tools must not overlap, peak was %d", peak)
	}
}

func TestExecutorUnknownTool(t *testing.T) {
	exec := testExecutor(t, ExecutorOptions{})
	results := exec.Execute(context.Background(), []llmwire.ToolCall{
		call("call_1", "no_such_tool", "{}"),
	})
	if !results[0].IsError || !strings.Contains(results[0].Content, "unknown tool") {
		t.Errorf("expected unknown tool error result, got %+v", results[0])
	}
}

func TestExecutorMalformedArguments(t *testing.T) {
	tool := &fakeCap{name: "echo", readOnly: true, fn: func(ctx context.Context, args map[string]interface{}) (string, error) {
		return "should not run", nil
	}}
	exec := testExecutor(t, ExecutorOptions{}, tool)

	results := exec.Execute(context.Background(), []llmwire.ToolCall{
		call("call_1", "echo", `{"broken`),
	})
	if !results[0].IsError || !strings.Contains(results[0].Content, "not valid JSON") {
		t.Errorf("expected malformed arguments error, got %+v", results[0])
	}
}

func TestExecutorSchemaValidation(t *testing.T) {
	tool := &fakeCap{
		name:     "strict",
		readOnly: true,
		schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"path": map[string]interface{}{"type": "string"},
			},
			"required": []interface{}{"path"},
		},
		fn: func(ctx context.Context, args map[string]interface{}) (string, error) {
			return "ran", nil
		},
	}
	exec := testExecutor(t, ExecutorOptions{}, tool)

	results := exec.Execute(context.Background(), []llmwire.ToolCall{
		call("call_1", "strict", `{}`),
		call("call_2", "strict", `{"path":"ok.txt"}`),
	})
	if !results[0].IsError {
		t.Errorf("missing required argument must be an error result: %+v", results[0])
	}
	if results[1].IsError || results[1].Content != "ran" {
		t.Errorf("valid arguments rejected: %+v", results[1])
	}
}

func TestExecutorPermissionGate(t *testing.T) {
	writer := &fakeCap{name: "writer", readOnly: false, fn: func(ctx context.Context, args map[string]interface{}) (string, error) {
		return "written", nil
	}}
	reader := &fakeCap{name: "reader", readOnly: true, fn: func(ctx context.Context, args map[string]interface{}) (string, error) {
		return "read", nil
	}}
	denied := 0
	exec := testExecutor(t, ExecutorOptions{
		Permission: func(call llmwire.ToolCall) error {
			denied++
			return fmt.Errorf("user declined %s", call.Name)
		},
	}, writer, reader)

	results := exec.Execute(context.Background(), []llmwire.ToolCall{
		call("call_1", "reader", "{}"),
		call("call_2", "writer", "{}"),
	})

	if results[0].IsError {
		t.Errorf("read-only tools bypass the permission gate: %+v", results[0])
	}
	if !results[1].IsError || !strings.Contains(results[1].Content, "permission denied") {
		t.Errorf("expected denial result, got %+v", results[1])
	}
	if denied != 1 {
		t.Errorf("gate should run once, ran %d times", denied)
	}
}

func TestExecutorTimeoutMessageBecomesContent(t *testing.T) {
	tool := &fakeCap{name: "shell", readOnly: false, fn: func(ctx context.Context, args map[string]interface{}) (string, error) {
		return "", &tools.ToolError{
			Kind:    tools.KindTimeout,
			Tool:    "shell",
			Message: "partial output here\n\n[ERROR: Command timed out after 200ms.]",
		}
	}}
	exec := testExecutor(t, ExecutorOptions{}, tool)

	results := exec.Execute(context.Background(), []llmwire.ToolCall{
		call("call_1", "shell", `{"command":"sleep 10"}`),
	})
	if !results[0].IsError {
		t.Fatal("timeout must be an error result")
	}
	if !strings.Contains(results[0].Content, "partial output here") {
		t.Errorf("partial output lost: %q", results[0].Content)
	}
	if !strings.Contains(results[0].Content, "timed out") {
		t.Errorf("timeout explanation lost: %q", results[0].Content)
	}
}

func TestExecutorTruncatesResults(t *testing.T) {
	tool := &fakeCap{name: "reader", readOnly: true, fn: func(ctx context.Context, args map[string]interface{}) (string, error) {
		return strings.Repeat("x", 5000), nil
	}}
	exec := testExecutor(t, ExecutorOptions{
		CharLimits: map[string]int{"reader": 1000},
	}, tool)

	results := exec.Execute(context.Background(), []llmwire.ToolCall{
		call("call_1", "reader", "{}"),
	})
	if len(results[0].Content) >= 5000 {
		t.Error("result not truncated")
	}
	if !strings.Contains(results[0].Content, "WARNING") {
		t.Errorf("truncated result must carry a warning: %q", results[0].Content[:100])
	}
}
