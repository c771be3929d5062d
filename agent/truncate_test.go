package agent

import (
	"strings"
	"testing"
)

func TestTruncateOutputUnderLimit(t *testing.T) {
	out := TruncateOutput("short", 100, TruncateHeadTail)
	if out != "short" {
		t.Errorf("expected untouched output, got %q", out)
	}
}

func TestTruncateOutputHeadTail(t *testing.T) {
	input := strings.Repeat("a", 500) + strings.Repeat("z", 500)
	out := TruncateOutput(input, 200, TruncateHeadTail)

	if !strings.HasPrefix(out, strings.Repeat("a", 100)) {
		t.Error("head not preserved")
	}
	if !strings.HasSuffix(out, strings.Repeat("z", 100)) {
		t.Error("tail not preserved")
	}
	if !strings.Contains(out, "800 characters were removed from the middle") {
		t.Errorf("expected removal warning, got %q", out)
	}
}

func TestTruncateOutputTail(t *testing.T) {
	input := strings.Repeat("a", 500) + strings.Repeat("z", 100)
	out := TruncateOutput(input, 100, TruncateTail)

	if !strings.HasSuffix(out, strings.Repeat("z", 100)) {
		t.Error("tail not preserved")
	}
	if !strings.Contains(out, "First 500 characters were removed") {
		t.Errorf("expected removal warning, got %q", out)
	}
}

func TestTruncateLines(t *testing.T) {
	var lines []string
	for i := 0; i < 100; i++ {
		lines = append(lines, "line")
	}
	out := TruncateLines(strings.Join(lines, "\n"), 10)

	if !strings.Contains(out, "[... 90 lines omitted ...]") {
		t.Errorf("expected omission marker, got %q", out)
	}
	if got := len(strings.Split(out, "\n")); got > 12 {
		t.Errorf("expected about 10 lines plus marker, got %d", got)
	}
}

func TestTruncateToolOutputPerToolLimits(t *testing.T) {
	big := strings.Repeat("x", 60000)

	// write_file has a tight 1000 character limit.
	out := TruncateToolOutput(big, "write_file", nil, nil)
	if len(out) >= 60000 {
		t.Error("write_file output not truncated")
	}

	// read_file allows up to 50000 characters.
	medium := strings.Repeat("x", 40000)
	if got := TruncateToolOutput(medium, "read_file", nil, nil); got != medium {
		t.Error("read_file output under the limit must be untouched")
	}

	// Unknown tools fall back to the 30000 character default.
	got := TruncateToolOutput(big, "mystery_tool", nil, nil)
	if len(got) >= 60000 {
		t.Error("fallback truncation did not shrink the output")
	}
	if !strings.Contains(got, "WARNING") {
		t.Error("fallback truncation must carry a warning")
	}
}

func TestTruncateToolOutputOverrides(t *testing.T) {
	input := strings.Repeat("x", 500)
	out := TruncateToolOutput(input, "shell", map[string]int{"shell": 100}, nil)
	if len(out) <= 100 {
		t.Errorf("expected warning marker plus head and tail, got %d chars", len(out))
	}
	if !strings.Contains(out, "400 characters were removed") {
		t.Errorf("override limit not applied: %q", out)
	}
}

func TestTruncateToolOutputLineLimit(t *testing.T) {
	var lines []string
	for i := 0; i < 1000; i++ {
		lines = append(lines, "match")
	}
	out := TruncateToolOutput(strings.Join(lines, "\n"), "grep", nil, nil)
	if !strings.Contains(out, "lines omitted") {
		t.Error("grep output must be line-truncated")
	}
}
