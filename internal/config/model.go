package config

import (
	"github.com/charmbracelet/catwalk/pkg/catwalk"
)

// ProviderConfig names one configured LLM backend: which catwalk.Type it
// speaks, its credentials, and any gateway-specific extras.
//
// Grounded on gentica's llm/config.go ProviderConfig, generalized from a
// standalone `llm` package config object into the core's AMBIENT STACK
// config layer — the core's ConfigureSessionParams.Provider/Model fields
// are resolved against a loaded Config to build provider.ClientOptions.
type ProviderConfig struct {
	ID                 string            `yaml:"id"`
	Type               catwalk.Type      `yaml:"type"`
	APIKey             string            `yaml:"api_key"`
	BaseURL            string            `yaml:"base_url"`
	ExtraHeaders       map[string]string `yaml:"extra_headers,omitempty"`
	ExtraParams        map[string]string `yaml:"extra_params,omitempty"`
	SystemPromptPrefix string            `yaml:"system_prompt_prefix,omitempty"`
}

// ModelConfig pairs a catwalk.Model with the provider that serves it.
type ModelConfig struct {
	Model           catwalk.Model  `yaml:"model"`
	Provider        ProviderConfig `yaml:"provider"`
	MaxTokens       int64          `yaml:"max_tokens,omitempty"`
	ReasoningEffort string         `yaml:"reasoning_effort,omitempty"`
}

// MCPType is the transport an MCP server connection uses (spec's external
// tool-server collaborator, see internal/toolserver).
type MCPType string

const (
	MCPStdio MCPType = "stdio"
	MCPHTTP  MCPType = "http"
	MCPSSE   MCPType = "sse"
)

// MCPConfig configures one MCP tool server connection.
type MCPConfig struct {
	Type     MCPType  `yaml:"type"`
	Command  string   `yaml:"command,omitempty"`
	Args     []string `yaml:"args,omitempty"`
	URL      string   `yaml:"url,omitempty"`
	TimeoutS int      `yaml:"timeout_seconds,omitempty"`
	Disabled bool     `yaml:"disabled,omitempty"`
}

// PluginRef configures one on-disk plugin directory (see internal/plugins).
type PluginRef struct {
	Name    string `yaml:"name"`
	Root    string `yaml:"root"`
	Enabled bool   `yaml:"enabled"`
}

// Config is the top-level, YAML-loaded, environment-overlaid
// configuration for the agent core binary (AMBIENT STACK: spec §6's
// ConfigureSession supplies per-session overrides; Config supplies the
// defaults and the static provider/model/MCP/plugin catalog).
type Config struct {
	Models  map[string]ModelConfig `yaml:"models"`
	MCP     map[string]MCPConfig   `yaml:"mcp"`
	Plugins map[string]PluginRef   `yaml:"plugins"`
	Notify  []string               `yaml:"notify,omitempty"`
	Debug   bool                   `yaml:"debug"`

	workingDir string
}

// ModelByName looks up a configured model by its key in Models.
func (c *Config) ModelByName(name string) (ModelConfig, bool) {
	m, ok := c.Models[name]
	return m, ok
}

// NotifyCommand returns the configured external notifier command+args
// vector (spec §6's Notifier), or nil if none is configured.
func (c *Config) NotifyCommand() []string {
	return c.Notify
}

// WorkingDir returns the directory Config was loaded relative to.
func (c *Config) WorkingDir() string {
	return c.workingDir
}

// WithWorkingDir returns a copy of c with workingDir set. Load (yaml.go)
// sets the field directly and does not call this.
func (c Config) WithWorkingDir(dir string) Config {
	c.workingDir = dir
	return c
}
