// Package config provides configuration loading and management.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the orchestrator configuration (choragen.toml).
type Config struct {
	Project   ProjectConfig   `toml:"project"`
	LLM       LLMConfig       `toml:"llm"` // Default LLM settings
	Roles     map[string]Role `toml:"roles"`
	Session   SessionConfig   `toml:"session"`
	Workflow  WorkflowConfig  `toml:"workflow"`
	Storage   StorageConfig   `toml:"storage"`
	Events    EventsConfig    `toml:"events"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Timeouts  TimeoutsConfig  `toml:"timeouts"`
}

// ProjectConfig identifies the repository the orchestrator works in.
type ProjectConfig struct {
	Name string `toml:"name"`
	Root string `toml:"root"` // defaults to cwd
}

// LLMConfig contains LLM provider settings.
type LLMConfig struct {
	Provider     string  `toml:"provider"`
	Model        string  `toml:"model"`
	MaxTokens    int     `toml:"max_tokens"`
	Temperature  float64 `toml:"temperature"`   // 0 = provider default
	BaseURL      string  `toml:"base_url"`      // Custom API endpoint (OpenRouter, LiteLLM, Ollama, LMStudio)
	MaxRetries   int     `toml:"max_retries"`   // Max retry attempts (default 5)
	RetryBackoff string  `toml:"retry_backoff"` // Max backoff duration (default "60s")
}

// Role defines an agent role: the tools it may use and optional model
// and prompt overrides.
type Role struct {
	Description  string   `toml:"description"`
	AllowedTools []string `toml:"allowed_tools"`
	Provider     string   `toml:"provider"` // overrides llm.provider
	Model        string   `toml:"model"`    // overrides llm.model
	MaxTokens    int      `toml:"max_tokens"`
	Temperature  float64  `toml:"temperature"`
	Prompt       string   `toml:"prompt"`    // system prompt override
	MaxTurns     int      `toml:"max_turns"` // overrides session.max_turns
}

// SessionConfig contains agent session settings.
type SessionConfig struct {
	MaxTurns int    `toml:"max_turns"` // hard turn ceiling (default 25)
	Dir      string `toml:"dir"`       // session log directory
}

// WorkflowConfig contains workflow engine settings.
type WorkflowConfig struct {
	TemplatesDir string `toml:"templates_dir"`
	StateDir     string `toml:"state_dir"`
	ApprovalsDir string `toml:"approvals_dir"` // human-approval marker files
	// StageTools narrows tool sets by stage type. Subtractive only: a
	// stage filter can never grant a tool the role does not have.
	StageTools map[string][]string `toml:"stage_tools"`
}

// StorageConfig contains persistent storage settings.
type StorageConfig struct {
	Path    string `toml:"path"`     // base directory for all persistent data
	DBPath  string `toml:"db_path"`  // sqlite database (tasks/chains/requests)
	LockDir string `toml:"lock_dir"` // scope lock directory
}

// EventsConfig contains event stream settings.
type EventsConfig struct {
	LogPath     string `toml:"log_path"` // append-only JSONL event log
	NATSURL     string `toml:"nats_url"` // optional NATS publisher
	NATSSubject string `toml:"nats_subject"`
	BufferSize  int    `toml:"buffer_size"`
}

// TelemetryConfig contains telemetry settings.
type TelemetryConfig struct {
	Enabled  bool   `toml:"enabled"`
	Endpoint string `toml:"endpoint"` // OTLP endpoint (e.g., localhost:4317)
	Protocol string `toml:"protocol"` // grpc (default) or http
	Insecure bool   `toml:"insecure"`
}

// TimeoutsConfig contains timeout settings in seconds.
type TimeoutsConfig struct {
	Tool         int `toml:"tool"`         // per-tool execution timeout (default 120)
	Verification int `toml:"verification"` // per-verification-command timeout (default 300)
	Approval     int `toml:"approval"`     // human approval wait, 0 = no timeout
}

// New creates a new config with defaults.
func New() *Config {
	return &Config{
		LLM: LLMConfig{
			MaxTokens: 8192,
		},
		Session: SessionConfig{
			MaxTurns: 25,
		},
		Storage: StorageConfig{
			Path: ".choragen",
		},
		Events: EventsConfig{
			BufferSize:  256,
			NATSSubject: "choragen.events",
		},
		Telemetry: TelemetryConfig{
			Protocol: "noop",
		},
		Timeouts: TimeoutsConfig{
			Tool:         120,
			Verification: 300,
		},
	}
}

// Default returns a default configuration.
func Default() *Config {
	return New()
}

// LoadFile loads configuration from a TOML file.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyPathDefaults()
	return cfg, nil
}

// LoadDefault loads configuration from choragen.toml in the current directory.
func LoadDefault() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get current directory: %w", err)
	}
	path := filepath.Join(cwd, "choragen.toml")
	if _, err := os.Stat(path); err != nil {
		cfg := New()
		cfg.applyPathDefaults()
		return cfg, nil
	}
	return LoadFile(path)
}

// applyPathDefaults derives unset paths from the storage base directory.
func (c *Config) applyPathDefaults() {
	base := c.Storage.Path
	if base == "" {
		base = ".choragen"
		c.Storage.Path = base
	}
	if c.Storage.DBPath == "" {
		c.Storage.DBPath = filepath.Join(base, "choragen.db")
	}
	if c.Storage.LockDir == "" {
		c.Storage.LockDir = filepath.Join(base, "locks")
	}
	if c.Session.Dir == "" {
		c.Session.Dir = filepath.Join(base, "sessions")
	}
	if c.Workflow.TemplatesDir == "" {
		c.Workflow.TemplatesDir = filepath.Join(base, "workflows")
	}
	if c.Workflow.StateDir == "" {
		c.Workflow.StateDir = filepath.Join(base, "workflow-state")
	}
	if c.Workflow.ApprovalsDir == "" {
		c.Workflow.ApprovalsDir = filepath.Join(base, "approvals")
	}
	if c.Events.LogPath == "" {
		c.Events.LogPath = filepath.Join(base, "events.jsonl")
	}
}

// GetRole returns the role definition, or an error naming the role.
func (c *Config) GetRole(name string) (Role, error) {
	role, ok := c.Roles[name]
	if !ok {
		return Role{}, fmt.Errorf("role %q is not defined", name)
	}
	return role, nil
}

// RoleLLM returns the effective LLM config for a role, with role
// overrides applied on top of the defaults.
func (c *Config) RoleLLM(name string) LLMConfig {
	cfg := c.LLM
	role, ok := c.Roles[name]
	if !ok {
		return cfg
	}
	if role.Provider != "" {
		cfg.Provider = role.Provider
	}
	if role.Model != "" {
		cfg.Model = role.Model
	}
	if role.MaxTokens > 0 {
		cfg.MaxTokens = role.MaxTokens
	}
	if role.Temperature > 0 {
		cfg.Temperature = role.Temperature
	}
	return cfg
}

// RoleMaxTurns returns the effective turn ceiling for a role.
func (c *Config) RoleMaxTurns(name string) int {
	if role, ok := c.Roles[name]; ok && role.MaxTurns > 0 {
		return role.MaxTurns
	}
	if c.Session.MaxTurns > 0 {
		return c.Session.MaxTurns
	}
	return 25
}
