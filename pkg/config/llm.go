package config

import (
	"fmt"
	"os"
)

// LLMProvider identifies the LLM provider type.
type LLMProvider string

const (
	// LLMProviderClaude drives the locally installed Claude CLI (OAuth auth).
	LLMProviderClaude LLMProvider = "claude"

	// LLMProviderGemini talks to the Gemini REST API (API-key auth).
	LLMProviderGemini LLMProvider = "gemini"
)

// LLMConfig configures one LLM provider.
type LLMConfig struct {
	// Provider type (claude, gemini).
	Provider LLMProvider `yaml:"provider,omitempty" json:"provider,omitempty" jsonschema:"title=Provider,enum=claude,enum=gemini,default=gemini"`

	// Model name (e.g. "claude-sonnet-4-20250514", "gemini-2.0-flash").
	Model string `yaml:"model,omitempty" json:"model,omitempty" jsonschema:"title=Model,description=Model identifier"`

	// APIKey for API-key-backed providers. Supports ${VAR} expansion.
	APIKey string `yaml:"api_key,omitempty" json:"api_key,omitempty" jsonschema:"title=API Key,description=API key (use ${ENV_VAR})"`

	// Host overrides the default API endpoint.
	Host string `yaml:"host,omitempty" json:"host,omitempty" jsonschema:"title=Host,description=Custom API endpoint"`

	// CLIPath is the Claude CLI binary name or path (OAuth provider only).
	CLIPath string `yaml:"cli_path,omitempty" json:"cli_path,omitempty" jsonschema:"title=CLI Path,description=Claude CLI binary,default=claude"`

	// Temperature for generation.
	Temperature float64 `yaml:"temperature,omitempty" json:"temperature,omitempty" jsonschema:"title=Temperature,minimum=0,maximum=2,default=0.7"`

	// MaxTokens limits response length.
	MaxTokens int `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty" jsonschema:"title=Max Tokens,minimum=1,default=4096"`

	// Timeout in seconds for a single provider call.
	Timeout int `yaml:"timeout,omitempty" json:"timeout,omitempty" jsonschema:"title=Timeout,default=120"`

	// MaxRetries for transient provider failures.
	MaxRetries int `yaml:"max_retries,omitempty" json:"max_retries,omitempty" jsonschema:"title=Max Retries,default=3"`

	// RetryDelay is the base backoff delay in seconds.
	RetryDelay int `yaml:"retry_delay,omitempty" json:"retry_delay,omitempty" jsonschema:"title=Retry Delay,default=2"`
}

// SetDefaults applies default values, pulling API keys from the environment.
func (c *LLMConfig) SetDefaults() {
	if c.Model == "" {
		switch c.Provider {
		case LLMProviderClaude:
			c.Model = "claude-sonnet-4-20250514"
		case LLMProviderGemini:
			c.Model = "gemini-2.0-flash"
		}
	}
	if c.APIKey == "" && c.Provider == LLMProviderGemini {
		c.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if c.Host == "" && c.Provider == LLMProviderGemini {
		c.Host = "https://generativelanguage.googleapis.com"
	}
	if c.CLIPath == "" {
		c.CLIPath = "claude"
	}
	if c.Temperature == 0 {
		c.Temperature = 0.7
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 4096
	}
	if c.Timeout == 0 {
		c.Timeout = 120
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = 2
	}
}

// Validate checks the configuration.
func (c *LLMConfig) Validate() error {
	switch c.Provider {
	case LLMProviderClaude, LLMProviderGemini:
	default:
		return fmt.Errorf("unknown provider: %s", c.Provider)
	}
	if c.MaxTokens < 1 {
		return fmt.Errorf("max_tokens must be positive")
	}
	return nil
}
