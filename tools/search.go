package tools

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// ListDir lists directory entries.
type ListDir struct {
	ws *Workspace
}

func NewListDir(ws *Workspace) *ListDir { return &ListDir{ws: ws} }

func (t *ListDir) Name() string { return "list_dir" }
func (t *ListDir) Description() string {
	return "List the entries of a directory. Directories are marked with a trailing slash."
}
func (t *ListDir) ReadOnly() bool { return true }

func (t *ListDir) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Directory to list, relative to the workspace root. Default: workspace root.",
			},
		},
	}
}

func (t *ListDir) Invoke(ctx context.Context, args map[string]interface{}) (string, error) {
	path, _ := stringArg(args, "path")
	resolved, err := t.ws.Resolve(t.Name(), path)
	if err != nil {
		return "", err
	}

	entries, err := os.ReadDir(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return "", Errf(KindNotFound, t.Name(), "directory not found: %s", path)
		}
		return "", &ToolError{Kind: KindExecutionFailed, Tool: t.Name(), Message: fmt.Sprintf("list %s failed", path), Cause: err}
	}

	if len(entries) == 0 {
		return "(empty directory)", nil
	}
	var sb strings.Builder
	for _, entry := range entries {
		if entry.IsDir() {
			fmt.Fprintf(&sb, "%s/\n", entry.Name())
			continue
		}
		size := int64(0)
		if info, ierr := entry.Info(); ierr == nil {
			size = info.Size()
		}
		fmt.Fprintf(&sb, "%s (%d bytes)\n", entry.Name(), size)
	}
	return sb.String(), nil
}

// Glob finds files matching a glob pattern, newest first.
type Glob struct {
	ws *Workspace
}

func NewGlob(ws *Workspace) *Glob { return &Glob{ws: ws} }

func (t *Glob) Name() string { return "glob" }
func (t *Glob) Description() string {
	return "Find files matching a glob pattern. Supports ** recursion. Returns paths sorted by modification time, newest first."
}
func (t *Glob) ReadOnly() bool { return true }

func (t *Glob) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"pattern": map[string]interface{}{
				"type":        "string",
				"description": "Glob pattern (e.g., \"**/*.go\").",
			},
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Base directory. Default: workspace root.",
			},
		},
		"required": []string{"pattern"},
	}
}

func (t *Glob) Invoke(ctx context.Context, args map[string]interface{}) (string, error) {
	pattern, _ := stringArg(args, "pattern")
	path, _ := stringArg(args, "path")

	matches, err := t.ws.Glob(pattern, path)
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "No files matched the pattern.", nil
	}
	return strings.Join(matches, "\n"), nil
}

// Grep searches file contents with regex patterns.
type Grep struct {
	ws *Workspace
}

func NewGrep(ws *Workspace) *Grep { return &Grep{ws: ws} }

func (t *Grep) Name() string { return "grep" }
func (t *Grep) Description() string {
	return "Search file contents using regex patterns. Returns matching lines with file paths and line numbers."
}
func (t *Grep) ReadOnly() bool { return true }

func (t *Grep) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"pattern": map[string]interface{}{
				"type":        "string",
				"description": "Regex pattern to search for.",
			},
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Directory or file to search. Default: workspace root.",
			},
			"glob_filter": map[string]interface{}{
				"type":        "string",
				"description": "File pattern filter (e.g., \"*.go\").",
			},
			"case_insensitive": map[string]interface{}{
				"type":        "boolean",
				"description": "Case insensitive search. Default: false.",
			},
			"max_results": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum number of results per file. Default: 100.",
			},
		},
		"required": []string{"pattern"},
	}
}

func (t *Grep) Invoke(ctx context.Context, args map[string]interface{}) (string, error) {
	pattern, _ := stringArg(args, "pattern")
	path, _ := stringArg(args, "path")
	globFilter, _ := stringArg(args, "glob_filter")
	caseInsensitive, _ := boolArg(args, "case_insensitive")
	maxResults, _ := intArg(args, "max_results")
	if maxResults <= 0 {
		maxResults = 100
	}

	out, err := t.ws.Grep(ctx, pattern, path, GrepOptions{
		GlobFilter:      globFilter,
		CaseInsensitive: caseInsensitive,
		MaxResults:      maxResults,
	})
	if err != nil {
		return "", err
	}
	if out == "" {
		return "No matches found.", nil
	}
	return out, nil
}
