package tools

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog/log"
)

// ExecResult holds the outcome of a shell command.
type ExecResult struct {
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ExitCode   int    `json:"exit_code"`
	TimedOut   bool   `json:"timed_out"`
	DurationMs int64  `json:"duration_ms"`
}

// Output returns combined stdout and stderr.
func (r ExecResult) Output() string {
	if r.Stderr == "" {
		return r.Stdout
	}
	if r.Stdout == "" {
		return r.Stderr
	}
	return r.Stdout + "\n" + r.Stderr
}

// GrepOptions configures content search.
type GrepOptions struct {
	GlobFilter      string `json:"glob_filter,omitempty"`
	CaseInsensitive bool   `json:"case_insensitive,omitempty"`
	MaxResults      int    `json:"max_results,omitempty"`
}

// sensitiveEnvPatterns are case-insensitive suffixes for environment
// variables excluded from child processes.
var sensitiveEnvPatterns = []string{
	"_API_KEY",
	"_SECRET",
	"_TOKEN",
	"_PASSWORD",
	"_CREDENTIAL",
}

// safeEnvVars are always passed through regardless of filtering.
var safeEnvVars = map[string]bool{
	"PATH": true, "HOME": true, "USER": true, "SHELL": true,
	"LANG": true, "TERM": true, "TMPDIR": true,
	"GOPATH": true, "GOROOT": true, "CARGO_HOME": true,
	"NVM_DIR": true, "RUSTUP_HOME": true, "PYENV_ROOT": true,
	"XDG_CONFIG_HOME": true, "XDG_DATA_HOME": true, "XDG_CACHE_HOME": true,
}

func isSensitiveEnvVar(name string) bool {
	upper := strings.ToUpper(name)
	for _, pattern := range sensitiveEnvPatterns {
		if strings.HasSuffix(upper, pattern) {
			return true
		}
	}
	return false
}

func filterEnvironment() []string {
	var filtered []string
	for _, env := range os.Environ() {
		parts := strings.SplitN(env, "=", 2)
		if len(parts) != 2 {
			continue
		}
		name := parts[0]
		if safeEnvVars[name] || !isSensitiveEnvVar(name) {
			filtered = append(filtered, env)
		}
	}
	return filtered
}

// WorkspaceOptions configure policy on a Workspace.
type WorkspaceOptions struct {
	// RestrictedGlobs are doublestar patterns (matched against workspace-
	// relative paths) that no capability may read or write.
	RestrictedGlobs []string
	// AllowedCommands, when non-empty, restricts shell to commands whose
	// first token appears in the list.
	AllowedCommands []string
	// DefaultTimeout applies to shell commands with no explicit timeout.
	DefaultTimeout time.Duration
	// MaxTimeout caps any per-call timeout override.
	MaxTimeout time.Duration
}

// Workspace is the filesystem and process sandbox all capabilities operate
// in. Paths resolve relative to the root and may not escape it.
type Workspace struct {
	root string
	opts WorkspaceOptions
}

// NewWorkspace creates a Workspace rooted at dir. An empty dir means the
// current working directory.
func NewWorkspace(dir string, opts WorkspaceOptions) (*Workspace, error) {
	if dir == "" {
		var err error
		dir, err = os.Getwd()
		if err != nil {
			return nil, Errf(KindExecutionFailed, "", "cannot determine working directory: %v", err)
		}
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, Errf(KindValidation, "", "invalid workspace root %q: %v", dir, err)
	}
	if opts.DefaultTimeout == 0 {
		opts.DefaultTimeout = 2 * time.Minute
	}
	if opts.MaxTimeout == 0 {
		opts.MaxTimeout = 10 * time.Minute
	}
	return &Workspace{root: abs, opts: opts}, nil
}

// Root returns the workspace root directory.
func (w *Workspace) Root() string { return w.root }

// DefaultTimeout returns the default shell timeout.
func (w *Workspace) DefaultTimeout() time.Duration { return w.opts.DefaultTimeout }

// MaxTimeout returns the shell timeout ceiling.
func (w *Workspace) MaxTimeout() time.Duration { return w.opts.MaxTimeout }

// Resolve turns a tool-supplied path into an absolute path inside the
// workspace, rejecting escapes and restricted paths.
func (w *Workspace) Resolve(tool, path string) (string, error) {
	if path == "" {
		return w.root, nil
	}
	resolved := path
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(w.root, resolved)
	}
	resolved = filepath.Clean(resolved)

	rel, err := filepath.Rel(w.root, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", Errf(KindPermissionDenied, tool, "path %q is outside the workspace", path)
	}
	for _, pattern := range w.opts.RestrictedGlobs {
		if ok, _ := doublestar.Match(pattern, filepath.ToSlash(rel)); ok {
			return "", Errf(KindPermissionDenied, tool, "path %q is restricted", path)
		}
	}
	return resolved, nil
}

// CommandAllowed reports whether the shell policy permits the command. An
// empty allowlist permits everything.
func (w *Workspace) CommandAllowed(command string) bool {
	if len(w.opts.AllowedCommands) == 0 {
		return true
	}
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return false
	}
	for _, allowed := range w.opts.AllowedCommands {
		if fields[0] == allowed {
			return true
		}
	}
	return false
}

// ReadFileRaw reads a file's full content with no line numbering.
func (w *Workspace) ReadFileRaw(tool, path string) (string, error) {
	resolved, err := w.Resolve(tool, path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return "", Errf(KindNotFound, tool, "file not found: %s", path)
		}
		return "", &ToolError{Kind: KindExecutionFailed, Tool: tool, Message: fmt.Sprintf("read %s failed", path), Cause: err}
	}
	return string(data), nil
}

// WriteFile writes content, creating parent directories as needed.
func (w *Workspace) WriteFile(tool, path, content string) error {
	resolved, err := w.Resolve(tool, path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0755); err != nil {
		return &ToolError{Kind: KindExecutionFailed, Tool: tool, Message: "failed to create parent directory", Cause: err}
	}
	if err := os.WriteFile(resolved, []byte(content), 0644); err != nil {
		return &ToolError{Kind: KindExecutionFailed, Tool: tool, Message: fmt.Sprintf("write %s failed", path), Cause: err}
	}
	return nil
}

// FileExists reports whether the path exists inside the workspace.
func (w *Workspace) FileExists(path string) bool {
	resolved, err := w.Resolve("", path)
	if err != nil {
		return false
	}
	_, err = os.Stat(resolved)
	return err == nil
}

// ExecCommand runs a shell command in the workspace. The child gets its own
// process group so a timeout kills the whole tree, and sensitive environment
// variables are stripped.
func (w *Workspace) ExecCommand(ctx context.Context, command string, timeout time.Duration, workingDir string) (*ExecResult, error) {
	dir := w.root
	if workingDir != "" {
		resolved, err := w.Resolve("shell", workingDir)
		if err != nil {
			return nil, err
		}
		dir = resolved
	}

	if timeout <= 0 {
		timeout = w.opts.DefaultTimeout
	}
	if timeout > w.opts.MaxTimeout {
		timeout = w.opts.MaxTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	shell := "/bin/bash"
	shellArg := "-c"
	if runtime.GOOS == "windows" {
		shell = "cmd.exe"
		shellArg = "/c"
	}

	cmd := exec.CommandContext(ctx, shell, shellArg, command)
	cmd.Dir = dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Env = filterEnvironment()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	result := &ExecResult{
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		DurationMs: duration.Milliseconds(),
	}

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			result.TimedOut = true
			result.ExitCode = -1
			if cmd.Process != nil {
				_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
			}
			log.Warn().Str("command", command).Dur("timeout", timeout).Msg("shell command timed out")
		} else if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
		} else {
			return nil, &ToolError{Kind: KindExecutionFailed, Tool: "shell", Message: "command failed to start", Cause: err}
		}
	}
	return result, nil
}

// Grep searches file contents, preferring ripgrep with a grep fallback.
func (w *Workspace) Grep(ctx context.Context, pattern, path string, options GrepOptions) (string, error) {
	searchPath, err := w.Resolve("grep", path)
	if err != nil {
		return "", err
	}

	rgPath, lookErr := exec.LookPath("rg")
	if lookErr != nil {
		return w.grepFallback(ctx, pattern, searchPath, options)
	}

	args := []string{pattern, searchPath, "--line-number", "--no-heading"}
	if options.CaseInsensitive {
		args = append(args, "-i")
	}
	if options.GlobFilter != "" {
		args = append(args, "--glob", options.GlobFilter)
	}
	if options.MaxResults > 0 {
		args = append(args, "--max-count", fmt.Sprintf("%d", options.MaxResults))
	}

	cmd := exec.CommandContext(ctx, rgPath, args...)
	cmd.Dir = w.root
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	_ = cmd.Run() // rg exits 1 on no matches
	return stdout.String(), nil
}

func (w *Workspace) grepFallback(ctx context.Context, pattern, path string, options GrepOptions) (string, error) {
	args := []string{"-rn", pattern, path}
	if options.CaseInsensitive {
		args = append([]string{"-i"}, args...)
	}
	cmd := exec.CommandContext(ctx, "grep", args...)
	cmd.Dir = w.root
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	_ = cmd.Run()
	return stdout.String(), nil
}

// Glob finds files matching a doublestar pattern under base, newest first.
// Paths come back relative to the workspace root.
func (w *Workspace) Glob(pattern, base string) ([]string, error) {
	searchBase, err := w.Resolve("glob", base)
	if err != nil {
		return nil, err
	}

	matches, err := doublestar.Glob(os.DirFS(searchBase), pattern)
	if err != nil {
		return nil, Errf(KindValidation, "glob", "bad pattern %q: %v", pattern, err)
	}

	type matchInfo struct {
		rel string
		mod time.Time
	}
	var infos []matchInfo
	for _, m := range matches {
		full := filepath.Join(searchBase, filepath.FromSlash(m))
		info, statErr := os.Stat(full)
		if statErr != nil || info.IsDir() {
			continue
		}
		rel, relErr := filepath.Rel(w.root, full)
		if relErr != nil {
			rel = full
		}
		infos = append(infos, matchInfo{rel: rel, mod: info.ModTime()})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].mod.After(infos[j].mod) })

	result := make([]string, len(infos))
	for i, mi := range infos {
		result[i] = mi.rel
	}
	return result, nil
}
