// Package config loads patchwork configuration from YAML files and the
// environment. User-level config (~/.patchwork/config.yaml) is read first,
// then project-level config (.patchwork/config.yaml), with the project file
// taking precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// FilesystemAccess restricts what the tool capabilities may touch, expressed
// as doublestar glob patterns relative to the workspace root.
type FilesystemAccess struct {
	Restricted []string `yaml:"restricted"`
}

// RetryConfig tunes the provider retry policy.
type RetryConfig struct {
	MaxRetries        int     `yaml:"max_retries"`
	BaseDelaySeconds  float64 `yaml:"base_delay_seconds"`
	MaxDelaySeconds   float64 `yaml:"max_delay_seconds"`
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`
}

// Limits bounds a single turn.
type Limits struct {
	MaxToolRounds    int     `yaml:"max_tool_rounds"`
	MaxTokens        int     `yaml:"max_tokens"`
	CompactThreshold float64 `yaml:"compact_threshold"`
	// Tool timeouts in milliseconds.
	ToolTimeoutMs    int `yaml:"tool_timeout_ms"`
	MaxToolTimeoutMs int `yaml:"max_tool_timeout_ms"`
	MaxParallelTools int `yaml:"max_parallel_tools"`
}

// Config is the root configuration document.
type Config struct {
	Provider         string           `yaml:"provider"`
	Model            string           `yaml:"model"`
	LogLevel         string           `yaml:"log_level"`
	AllowedCommands  []string         `yaml:"allowed_commands"`
	FilesystemAccess FilesystemAccess `yaml:"filesystem_access"`
	Limits           Limits           `yaml:"limits"`
	Retry            RetryConfig      `yaml:"retry"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Provider: "anthropic",
		Model:    "claude-sonnet-4-5",
		LogLevel: "info",
		FilesystemAccess: FilesystemAccess{
			Restricted: []string{".patchwork", ".patchwork/**"},
		},
		Limits: Limits{
			MaxToolRounds:    40,
			MaxTokens:        8192,
			CompactThreshold: 0.8,
			ToolTimeoutMs:    120_000,
			MaxToolTimeoutMs: 600_000,
			MaxParallelTools: 4,
		},
		Retry: RetryConfig{
			MaxRetries:        3,
			BaseDelaySeconds:  1.0,
			MaxDelaySeconds:   30.0,
			BackoffMultiplier: 2.0,
		},
	}
}

// Load reads configuration from the user's home directory and workDir, with
// the latter taking precedence. Missing files are not an error; the defaults
// apply.
func Load(workDir string) (*Config, error) {
	cfg := Default()

	if home, err := os.UserHomeDir(); err == nil {
		userPath := filepath.Join(home, ".patchwork", "config.yaml")
		if err := loadFromFile(userPath, cfg); err != nil {
			return nil, fmt.Errorf("user config: %w", err)
		}
	}

	if workDir == "" {
		var err error
		workDir, err = os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve working directory: %w", err)
		}
	}
	projectPath := filepath.Join(workDir, ".patchwork", "config.yaml")
	if err := loadFromFile(projectPath, cfg); err != nil {
		return nil, fmt.Errorf("project config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads a single config file over the defaults, for hosts that
// manage their own config location.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFromFile merges one YAML file into cfg. Fields present in the YAML
// overwrite the current values; absent fields keep them.
func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// Validate rejects configurations the agent cannot run with.
func (c *Config) Validate() error {
	switch c.Provider {
	case "anthropic", "openai", "gemini", "bedrock", "":
	default:
		return fmt.Errorf("unknown provider %q", c.Provider)
	}
	if c.Model == "" {
		return fmt.Errorf("model must be set")
	}
	if c.Limits.CompactThreshold < 0 || c.Limits.CompactThreshold > 1 {
		return fmt.Errorf("compact_threshold must be between 0 and 1, got %v", c.Limits.CompactThreshold)
	}
	if c.Limits.MaxToolTimeoutMs > 0 && c.Limits.ToolTimeoutMs > c.Limits.MaxToolTimeoutMs {
		return fmt.Errorf("tool_timeout_ms %d exceeds max_tool_timeout_ms %d",
			c.Limits.ToolTimeoutMs, c.Limits.MaxToolTimeoutMs)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); c.LogLevel != "" && err != nil {
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	return nil
}

// ZerologLevel converts the configured log level, defaulting to info.
func (c *Config) ZerologLevel() zerolog.Level {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || c.LogLevel == "" {
		return zerolog.InfoLevel
	}
	return level
}

// APIKey returns the API key for the configured provider from the
// environment. Bedrock uses the ambient AWS credential chain and returns "".
func (c *Config) APIKey() string {
	switch c.Provider {
	case "anthropic":
		return os.Getenv("ANTHROPIC_API_KEY")
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	case "gemini":
		return os.Getenv("GEMINI_API_KEY")
	}
	return ""
}
