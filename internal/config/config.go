package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"goalline/internal/domain"
)

// Config models goalline.yml.
type Config struct {
	Defaults struct {
		ExecutionStyle      string `yaml:"execution_style"`
		CheckpointFrequency string `yaml:"checkpoint_frequency"`
	} `yaml:"defaults"`
	Provider struct {
		Name        string  `yaml:"name"`
		Model       string  `yaml:"model"`
		APIKeyEnv   string  `yaml:"api_key_env"`
		BaseURL     string  `yaml:"base_url"`
		Temperature float64 `yaml:"temperature"`
		MaxTokens   int     `yaml:"max_tokens"`
		Retry       Retry   `yaml:"retry"`
	} `yaml:"provider"`
	Runner struct {
		TaskTimeout time.Duration `yaml:"task_timeout"`
	} `yaml:"runner"`
}

// Retry bounds provider retries at the collaborator boundary. The
// orchestrator itself never retries.
type Retry struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	BackoffBase       time.Duration `yaml:"backoff_base"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	MaxBackoff        time.Duration `yaml:"max_backoff"`
}

var validStyles = map[string]bool{
	string(domain.StyleFullyAutonomous):  true,
	string(domain.StyleApprovalRequired): true,
	string(domain.StyleInteractive):      true,
	string(domain.StyleCollaborative):    true,
}

var validFrequencies = map[string]bool{
	string(domain.CheckpointAfterEachTask):  true,
	string(domain.CheckpointAfterMilestone): true,
	string(domain.CheckpointHourly):         true,
	string(domain.CheckpointManual):         true,
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if !validStyles[c.Defaults.ExecutionStyle] {
		return fmt.Errorf("defaults.execution_style %q is not a known execution style", c.Defaults.ExecutionStyle)
	}
	if !validFrequencies[c.Defaults.CheckpointFrequency] {
		return fmt.Errorf("defaults.checkpoint_frequency %q is not a known checkpoint frequency", c.Defaults.CheckpointFrequency)
	}
	if c.Provider.Model == "" {
		return fmt.Errorf("provider.model is required")
	}
	if c.Provider.MaxTokens <= 0 {
		return fmt.Errorf("provider.max_tokens must be positive")
	}
	if c.Provider.Temperature < 0 || c.Provider.Temperature > 2 {
		return fmt.Errorf("provider.temperature must be in [0, 2]")
	}
	if c.Provider.Retry.MaxAttempts < 1 {
		return fmt.Errorf("provider.retry.max_attempts must be at least 1")
	}
	if c.Runner.TaskTimeout <= 0 {
		return fmt.Errorf("runner.task_timeout must be positive")
	}
	return nil
}

// APIKey reads the provider API key from the configured environment
// variable, if any.
func (c *Config) APIKey() string {
	if c.Provider.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.Provider.APIKeyEnv)
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "goalline.yml")
}

// Load reads and validates config from workspace, falling back to
// defaults when the file does not exist.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes. Omitted
// sections keep their defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	cfg.Defaults.ExecutionStyle = string(domain.StyleApprovalRequired)
	cfg.Defaults.CheckpointFrequency = string(domain.CheckpointAfterMilestone)
	cfg.Provider.Name = "openai"
	cfg.Provider.Model = "gpt-4o-mini"
	cfg.Provider.APIKeyEnv = "OPENAI_API_KEY"
	cfg.Provider.Temperature = 0.2
	cfg.Provider.MaxTokens = 4096
	cfg.Provider.Retry = Retry{
		MaxAttempts:       3,
		BackoffBase:       2 * time.Second,
		BackoffMultiplier: 2.0,
		MaxBackoff:        30 * time.Second,
	}
	cfg.Runner.TaskTimeout = 10 * time.Minute
	return &cfg
}

// GenerateDefault returns default config YAML suitable for writing to a
// fresh workspace.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `defaults:
  execution_style: approval_required
  checkpoint_frequency: after_milestones

provider:
  name: openai
  model: gpt-4o-mini
  api_key_env: OPENAI_API_KEY
  base_url: ""
  temperature: 0.2
  max_tokens: 4096
  retry:
    max_attempts: 3
    backoff_base: 2s
    backoff_multiplier: 2
    max_backoff: 30s

runner:
  task_timeout: 10m
`
