package tools

import (
	"context"
	"fmt"
	"strings"
)

const defaultReadLimit = 2000

// ReadFile returns line-numbered file content with optional offset and limit.
type ReadFile struct {
	ws *Workspace
}

func NewReadFile(ws *Workspace) *ReadFile { return &ReadFile{ws: ws} }

func (t *ReadFile) Name() string { return "read_file" }
func (t *ReadFile) Description() string {
	return "Read a file from the workspace. Returns line-numbered content."
}
func (t *ReadFile) ReadOnly() bool { return true }

func (t *ReadFile) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Path to the file, relative to the workspace root.",
			},
			"offset": map[string]interface{}{
				"type":        "integer",
				"description": "1-based line number to start reading from.",
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum number of lines to read. Default: 2000.",
			},
		},
		"required": []string{"path"},
	}
}

func (t *ReadFile) Invoke(ctx context.Context, args map[string]interface{}) (string, error) {
	path, _ := stringArg(args, "path")
	offset, _ := intArg(args, "offset")
	limit, _ := intArg(args, "limit")
	if limit <= 0 {
		limit = defaultReadLimit
	}

	raw, err := t.ws.ReadFileRaw(t.Name(), path)
	if err != nil {
		return "", err
	}

	lines := strings.Split(raw, "\n")
	start := 0
	if offset > 0 {
		start = offset - 1
	}
	if start >= len(lines) {
		return "", nil
	}
	end := len(lines)
	if start+limit < end {
		end = start + limit
	}

	var sb strings.Builder
	for i := start; i < end; i++ {
		fmt.Fprintf(&sb, "%d | %s\n", i+1, lines[i])
	}
	return sb.String(), nil
}

// WriteFile writes full file content, creating parent directories.
type WriteFile struct {
	ws *Workspace
}

func NewWriteFile(ws *Workspace) *WriteFile { return &WriteFile{ws: ws} }

func (t *WriteFile) Name() string { return "write_file" }
func (t *WriteFile) Description() string {
	return "Write content to a file. Creates the file and parent directories if needed."
}
func (t *WriteFile) ReadOnly() bool { return false }

func (t *WriteFile) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Path to write to, relative to the workspace root.",
			},
			"content": map[string]interface{}{
				"type":        "string",
				"description": "The full file content to write.",
			},
		},
		"required": []string{"path", "content"},
	}
}

func (t *WriteFile) Invoke(ctx context.Context, args map[string]interface{}) (string, error) {
	path, _ := stringArg(args, "path")
	content, _ := stringArg(args, "content")
	if err := t.ws.WriteFile(t.Name(), path, content); err != nil {
		return "", err
	}
	return fmt.Sprintf("Successfully wrote %d bytes to %s", len(content), path), nil
}

// EditFile replaces an exact string occurrence in a file.
type EditFile struct {
	ws *Workspace
}

func NewEditFile(ws *Workspace) *EditFile { return &EditFile{ws: ws} }

func (t *EditFile) Name() string { return "edit_file" }
func (t *EditFile) Description() string {
	return "Replace an exact string occurrence in a file. The old_string must be unique in the file unless replace_all is true."
}
func (t *EditFile) ReadOnly() bool { return false }

func (t *EditFile) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Path to the file to edit.",
			},
			"old_string": map[string]interface{}{
				"type":        "string",
				"description": "Exact text to find in the file.",
			},
			"new_string": map[string]interface{}{
				"type":        "string",
				"description": "Replacement text.",
			},
			"replace_all": map[string]interface{}{
				"type":        "boolean",
				"description": "Replace all occurrences. Default: false.",
			},
		},
		"required": []string{"path", "old_string", "new_string"},
	}
}

func (t *EditFile) Invoke(ctx context.Context, args map[string]interface{}) (string, error) {
	path, _ := stringArg(args, "path")
	oldString, _ := stringArg(args, "old_string")
	newString, _ := stringArg(args, "new_string")
	replaceAll, _ := boolArg(args, "replace_all")

	if oldString == "" {
		return "", Errf(KindValidation, t.Name(), "old_string must not be empty")
	}
	if oldString == newString {
		return "", Errf(KindValidation, t.Name(), "old_string and new_string are identical")
	}

	content, err := t.ws.ReadFileRaw(t.Name(), path)
	if err != nil {
		return "", err
	}

	count := strings.Count(content, oldString)
	if count == 0 {
		return "", Errf(KindNotFound, t.Name(), "old_string not found in %s", path)
	}
	if count > 1 && !replaceAll {
		return "", Errf(KindValidation, t.Name(),
			"old_string found %d times in %s; provide more context or set replace_all=true", count, path)
	}

	var updated string
	if replaceAll {
		updated = strings.ReplaceAll(content, oldString, newString)
	} else {
		updated = strings.Replace(content, oldString, newString, 1)
	}
	if err := t.ws.WriteFile(t.Name(), path, updated); err != nil {
		return "", err
	}

	replacements := 1
	if replaceAll {
		replacements = count
	}
	return fmt.Sprintf("Successfully replaced %d occurrence(s) in %s", replacements, path), nil
}
