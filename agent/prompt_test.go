package agent

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0644)
}

func TestBuildEnvironmentContext(t *testing.T) {
	dir := t.TempDir()
	out := BuildEnvironmentContext(dir, "claude-opus-4-6")

	if !strings.HasPrefix(out, "<environment>") || !strings.HasSuffix(out, "</environment>") {
		t.Errorf("missing environment tags: %q", out)
	}
	if !strings.Contains(out, "Working directory: "+dir) {
		t.Error("missing working directory")
	}
	if !strings.Contains(out, "Model: claude-opus-4-6") {
		t.Error("missing model")
	}
}

func TestDiscoverProjectDocsAlwaysLoadsAgentsMD(t *testing.T) {
	dir := t.TempDir()
	if err := writeFile(filepath.Join(dir, "AGENTS.md"), "Always run the linter."); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(dir, "CLAUDE.md"), "Claude-specific notes."); err != nil {
		t.Fatal(err)
	}

	docs := DiscoverProjectDocs(dir, "openai")
	if !strings.Contains(docs, "Always run the linter.") {
		t.Error("AGENTS.md must load for every provider")
	}
	if strings.Contains(docs, "Claude-specific notes.") {
		t.Error("CLAUDE.md must not load for openai")
	}

	docs = DiscoverProjectDocs(dir, "anthropic")
	if !strings.Contains(docs, "Claude-specific notes.") {
		t.Error("CLAUDE.md must load for anthropic")
	}
}

func TestDiscoverProjectDocsProviderFiles(t *testing.T) {
	dir := t.TempDir()
	if err := writeFile(filepath.Join(dir, "GEMINI.md"), "Gemini notes."); err != nil {
		t.Fatal(err)
	}

	if docs := DiscoverProjectDocs(dir, "gemini"); !strings.Contains(docs, "Gemini notes.") {
		t.Error("GEMINI.md must load for gemini")
	}
	if docs := DiscoverProjectDocs(dir, "anthropic"); strings.Contains(docs, "Gemini notes.") {
		t.Error("GEMINI.md must not load for anthropic")
	}
}

func TestDiscoverProjectDocsTruncatesAt32KB(t *testing.T) {
	dir := t.TempDir()
	big := strings.Repeat("instructions\n", 5000) // ~65KB
	if err := writeFile(filepath.Join(dir, "AGENTS.md"), big); err != nil {
		t.Fatal(err)
	}

	docs := DiscoverProjectDocs(dir, "")
	if !strings.Contains(docs, "truncated at 32KB") {
		t.Error("expected truncation marker")
	}
	if len(docs) > 40*1024 {
		t.Errorf("docs too large after truncation: %d bytes", len(docs))
	}
}

func TestDiscoverProjectDocsEmpty(t *testing.T) {
	if docs := DiscoverProjectDocs(t.TempDir(), "anthropic"); docs != "" {
		t.Errorf("expected empty docs, got %q", docs)
	}
}

func TestCollectPathHierarchy(t *testing.T) {
	root := filepath.Join(string(filepath.Separator), "a")
	target := filepath.Join(root, "b", "c")

	dirs := collectPathHierarchy(root, target)
	if len(dirs) != 3 {
		t.Fatalf("expected 3 dirs, got %v", dirs)
	}
	if dirs[0] != root || dirs[2] != target {
		t.Errorf("hierarchy out of order: %v", dirs)
	}
}

func TestBuildSystemPromptIncludesSections(t *testing.T) {
	dir := t.TempDir()
	if err := writeFile(filepath.Join(dir, "AGENTS.md"), "House rules."); err != nil {
		t.Fatal(err)
	}

	prompt := BuildSystemPrompt(dir, "anthropic", "claude-opus-4-6")
	if !strings.Contains(prompt, "<environment>") {
		t.Error("missing environment block")
	}
	if !strings.Contains(prompt, "House rules.") {
		t.Error("missing project instructions")
	}
	if !strings.Contains(prompt, "coding agent") {
		t.Error("missing base prompt")
	}
}
