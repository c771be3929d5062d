package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeProjectConfig(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".patchwork"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".patchwork", "config.yaml"), []byte(content), 0644))
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "anthropic", cfg.Provider)
	assert.Equal(t, "claude-sonnet-4-5", cfg.Model)
	assert.Equal(t, 40, cfg.Limits.MaxToolRounds)
	assert.Equal(t, 0.8, cfg.Limits.CompactThreshold)
	assert.Equal(t, 3, cfg.Retry.MaxRetries)
}

func TestLoadMissingFilesUsesDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, Default().Model, cfg.Model)
}

func TestLoadProjectConfigOverridesDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	writeProjectConfig(t, dir, `
provider: openai
model: gpt-5.2
log_level: debug
allowed_commands:
  - go
  - git
limits:
  max_tool_rounds: 10
  max_tokens: 4096
retry:
  max_retries: 5
`)

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.Provider)
	assert.Equal(t, "gpt-5.2", cfg.Model)
	assert.Equal(t, []string{"go", "git"}, cfg.AllowedCommands)
	assert.Equal(t, 10, cfg.Limits.MaxToolRounds)
	assert.Equal(t, 4096, cfg.Limits.MaxTokens)
	assert.Equal(t, 5, cfg.Retry.MaxRetries)
	assert.Equal(t, zerolog.DebugLevel, cfg.ZerologLevel())
	// Fields absent from the file keep their defaults.
	assert.Equal(t, 0.8, cfg.Limits.CompactThreshold)
}

func TestProjectConfigOverridesUserConfig(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	require.NoError(t, os.MkdirAll(filepath.Join(home, ".patchwork"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(home, ".patchwork", "config.yaml"),
		[]byte("provider: gemini\nmodel: gemini-3-pro-preview\n"), 0644))

	dir := t.TempDir()
	writeProjectConfig(t, dir, "model: gemini-3-flash-preview\n")

	cfg, err := Load(dir)
	require.NoError(t, err)
	// Provider from the user file survives; model comes from the project file.
	assert.Equal(t, "gemini", cfg.Provider)
	assert.Equal(t, "gemini-3-flash-preview", cfg.Model)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown provider", func(c *Config) { c.Provider = "mystery" }},
		{"empty model", func(c *Config) { c.Model = "" }},
		{"threshold too high", func(c *Config) { c.Limits.CompactThreshold = 1.5 }},
		{"timeout above max", func(c *Config) {
			c.Limits.ToolTimeoutMs = 700_000
			c.Limits.MaxToolTimeoutMs = 600_000
		}},
		{"bad log level", func(c *Config) { c.LogLevel = "shout" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadFileRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("provider: [unclosed"), 0644))
	_, err := LoadFile(path)
	assert.Error(t, err)
}

func TestAPIKeyFromEnvironment(t *testing.T) {
	cfg := Default()
	cfg.Provider = "openai"
	t.Setenv("OPENAI_API_KEY", "sk-test")
	assert.Equal(t, "sk-test", cfg.APIKey())

	cfg.Provider = "bedrock"
	assert.Empty(t, cfg.APIKey(), "bedrock uses the AWS credential chain")
}
