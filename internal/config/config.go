// Package config handles Mason configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./mason.yaml, ~/.config/mason/config.yaml, /etc/mason/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"mason.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "mason", "config.yaml"))
	}

	paths = append(paths, "/etc/mason/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Mason configuration.
type Config struct {
	Model     ModelConfig     `yaml:"model"`
	Anthropic AnthropicConfig `yaml:"anthropic"`
	Ollama    OllamaConfig    `yaml:"ollama"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	RunTests  RunTestsConfig  `yaml:"run_tests"`
	GitHub    GitHubConfig    `yaml:"github"`
	Fetch     FetchConfig     `yaml:"fetch"`
	MCP       MCPConfig       `yaml:"mcp"`
	DataDir   string          `yaml:"data_dir"`
	LogLevel  string          `yaml:"log_level"`
}

// ModelConfig selects the model and its generation parameters.
type ModelConfig struct {
	// Provider is the default provider: "anthropic" or "ollama".
	Provider string `yaml:"provider"`
	// Name is the model identifier sent to the provider.
	Name string `yaml:"name"`
	// MaxTokens caps response length (default 4096).
	MaxTokens int `yaml:"max_tokens"`
	// Temperature defaults to 0.3 — low enough for dependable tool use.
	Temperature float64 `yaml:"temperature"`
	// TimeoutSec bounds a single model call (default 120).
	TimeoutSec int `yaml:"timeout_sec"`
	// MaxToolRounds bounds tool rounds within one user turn (default 25).
	MaxToolRounds int `yaml:"max_tool_rounds"`
	// Overrides maps model names to providers, for routing specific
	// models away from the default provider.
	Overrides map[string]string `yaml:"overrides"`
}

// AnthropicConfig defines Anthropic API settings.
type AnthropicConfig struct {
	// APIKey usually arrives as ${ANTHROPIC_API_KEY}; env references are
	// expanded at load time.
	APIKey string `yaml:"api_key"`
	// BaseURL overrides the public endpoint (proxies, tests).
	BaseURL string `yaml:"base_url"`
}

// Configured reports whether the Anthropic provider is usable.
func (c AnthropicConfig) Configured() bool {
	return c.APIKey != ""
}

// OllamaConfig defines the local Ollama endpoint.
type OllamaConfig struct {
	URL string `yaml:"url"` // default http://localhost:11434
}

// WorkspaceConfig defines the agent's workspace for file operations.
type WorkspaceConfig struct {
	// Path is the root directory for file operations.
	// All file tool paths are relative to this directory.
	// If empty, the process working directory is used.
	Path string `yaml:"path"`
	// ReadOnlyDirs are additional directories the agent can read but not write.
	ReadOnlyDirs []string `yaml:"read_only_dirs"`
}

// RunTestsConfig defines the run_tests tool behavior.
type RunTestsConfig struct {
	// Command is the test command executed in the workspace
	// (default "go test ./...").
	Command string `yaml:"command"`
	// TimeoutSec bounds a test run (default 300).
	TimeoutSec int `yaml:"timeout_sec"`
}

// GitHubConfig defines GitHub access for the github_* tools.
type GitHubConfig struct {
	// Token is a personal access token; read-only scopes suffice.
	Token string `yaml:"token"`
	// BaseURL points at a GitHub Enterprise instance when set.
	BaseURL string `yaml:"base_url"`
}

// Configured reports whether GitHub tools should be registered.
func (c GitHubConfig) Configured() bool {
	return c.Token != ""
}

// FetchConfig defines web_fetch behavior.
type FetchConfig struct {
	// TimeoutSec bounds a fetch (default 30).
	TimeoutSec int `yaml:"timeout_sec"`
	// MaxBytes caps the downloaded body (default 2 MiB).
	MaxBytes int64 `yaml:"max_bytes"`
}

// MCPConfig defines external MCP tool servers.
type MCPConfig struct {
	Servers []MCPServerConfig `yaml:"servers"`
}

// MCPServerConfig defines one MCP server connection.
type MCPServerConfig struct {
	Name string `yaml:"name"`
	// Transport is "stdio" or "http".
	Transport string `yaml:"transport"`
	// Command, Args and Env apply to stdio servers.
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	Env     []string `yaml:"env"`
	// URL and Headers apply to http servers.
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
	// IncludeTools/ExcludeTools filter which tools get bridged.
	IncludeTools []string `yaml:"include_tools"`
	ExcludeTools []string `yaml:"exclude_tools"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()

	return cfg, nil
}

// ApplyDefaults fills zero-valued fields with working defaults.
func (c *Config) ApplyDefaults() {
	if c.Model.Provider == "" {
		c.Model.Provider = "anthropic"
	}
	if c.Model.Name == "" {
		c.Model.Name = "claude-3-7-sonnet-latest"
	}
	if c.Model.MaxTokens <= 0 {
		c.Model.MaxTokens = 4096
	}
	if c.Model.Temperature == 0 {
		c.Model.Temperature = 0.3
	}
	if c.Model.TimeoutSec <= 0 {
		c.Model.TimeoutSec = 120
	}
	if c.Model.MaxToolRounds <= 0 {
		c.Model.MaxToolRounds = 25
	}
	if c.Ollama.URL == "" {
		c.Ollama.URL = "http://localhost:11434"
	}
	if c.RunTests.Command == "" {
		c.RunTests.Command = "go test ./..."
	}
	if c.RunTests.TimeoutSec <= 0 {
		c.RunTests.TimeoutSec = 300
	}
	if c.Fetch.TimeoutSec <= 0 {
		c.Fetch.TimeoutSec = 30
	}
	if c.Fetch.MaxBytes <= 0 {
		c.Fetch.MaxBytes = 2 << 20
	}
	if c.DataDir == "" {
		c.DataDir = "."
	}
}

// Validate checks for configuration errors that must stop startup.
func (c *Config) Validate() error {
	switch c.Model.Provider {
	case "anthropic":
		if !c.Anthropic.Configured() {
			return fmt.Errorf("model.provider is anthropic but anthropic.api_key is not set")
		}
	case "ollama":
		// Reachability is checked at startup, not here.
	default:
		return fmt.Errorf("unknown model.provider %q (valid: anthropic, ollama)", c.Model.Provider)
	}

	for i, s := range c.MCP.Servers {
		if s.Name == "" {
			return fmt.Errorf("mcp.servers[%d]: name is required", i)
		}
		switch s.Transport {
		case "stdio":
			if s.Command == "" {
				return fmt.Errorf("mcp server %q: stdio transport requires command", s.Name)
			}
		case "http":
			if s.URL == "" {
				return fmt.Errorf("mcp server %q: http transport requires url", s.Name)
			}
		default:
			return fmt.Errorf("mcp server %q: unknown transport %q (valid: stdio, http)", s.Name, s.Transport)
		}
	}

	return nil
}

// Default returns a default configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}
