package config

import (
	"fmt"
	"os"
	"time"
)

// GraphMode selects the graph backend implementation.
type GraphMode string

const (
	// GraphModeRemote talks to a graphiti-style HTTP service.
	GraphModeRemote GraphMode = "remote"

	// GraphModeLocal runs the embedded store (chromem vector index).
	// Intended for dev and single-node deployments.
	GraphModeLocal GraphMode = "local"
)

// GraphConfig configures the knowledge-graph backend client.
type GraphConfig struct {
	// Mode is "remote" or "local".
	Mode GraphMode `yaml:"mode,omitempty" json:"mode,omitempty" jsonschema:"title=Mode,enum=remote,enum=local,default=local"`

	// BaseURL of the remote graph service.
	BaseURL string `yaml:"base_url,omitempty" json:"base_url,omitempty" jsonschema:"title=Base URL,description=Remote graph service endpoint"`

	// APIKey for the remote graph service.
	APIKey string `yaml:"api_key,omitempty" json:"api_key,omitempty" jsonschema:"title=API Key"`

	// Timeout for graph calls in seconds.
	Timeout int `yaml:"timeout,omitempty" json:"timeout,omitempty" jsonschema:"title=Timeout,default=30"`

	// MaxRetries for transient graph failures.
	MaxRetries int `yaml:"max_retries,omitempty" json:"max_retries,omitempty" jsonschema:"title=Max Retries,default=3"`

	// DataDir persists the local store between runs. Empty keeps it in memory.
	DataDir string `yaml:"data_dir,omitempty" json:"data_dir,omitempty" jsonschema:"title=Data Dir,description=Persistence directory for the local store"`

	// Embedder configures embeddings for the local store.
	Embedder EmbedderConfig `yaml:"embedder,omitempty" json:"embedder,omitempty" jsonschema:"title=Embedder"`
}

// SetDefaults applies default values.
func (c *GraphConfig) SetDefaults() {
	if c.Mode == "" {
		if c.BaseURL != "" {
			c.Mode = GraphModeRemote
		} else {
			c.Mode = GraphModeLocal
		}
	}
	if c.Timeout == 0 {
		c.Timeout = 30
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	c.Embedder.SetDefaults()
}

// Validate checks the configuration.
func (c *GraphConfig) Validate() error {
	if c.Mode == GraphModeRemote && c.BaseURL == "" {
		return fmt.Errorf("base_url is required in remote mode")
	}
	return nil
}

// EmbedderConfig configures the embedding provider used by the local store.
type EmbedderConfig struct {
	// Provider is "gemini" or the offline "hash" fallback.
	Provider string `yaml:"provider,omitempty" json:"provider,omitempty" jsonschema:"title=Provider,enum=gemini,enum=hash,default=gemini"`

	// Model is the embedding model name.
	Model string `yaml:"model,omitempty" json:"model,omitempty" jsonschema:"title=Model,default=text-embedding-004"`

	// APIKey for the embedding API.
	APIKey string `yaml:"api_key,omitempty" json:"api_key,omitempty" jsonschema:"title=API Key"`
}

// SetDefaults applies default values.
func (c *EmbedderConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = "gemini"
	}
	if c.Model == "" {
		c.Model = "text-embedding-004"
	}
	if c.APIKey == "" {
		c.APIKey = os.Getenv("GEMINI_API_KEY")
	}
}

// StoreConfig configures the relational store.
type StoreConfig struct {
	// Driver is sqlite3, postgres, or mysql.
	Driver string `yaml:"driver,omitempty" json:"driver,omitempty" jsonschema:"title=Driver,enum=sqlite3,enum=postgres,enum=mysql,default=sqlite3"`

	// DSN is the driver-specific connection string.
	DSN string `yaml:"dsn,omitempty" json:"dsn,omitempty" jsonschema:"title=DSN,description=Connection string"`
}

// SetDefaults applies default values.
func (c *StoreConfig) SetDefaults() {
	if c.Driver == "" {
		c.Driver = "sqlite3"
	}
	if c.DSN == "" && c.Driver == "sqlite3" {
		c.DSN = "agenthub.db"
	}
}

// Validate checks the configuration.
func (c *StoreConfig) Validate() error {
	switch c.Driver {
	case "sqlite3", "postgres", "mysql":
	default:
		return fmt.Errorf("unknown store driver: %s", c.Driver)
	}
	if c.DSN == "" {
		return fmt.Errorf("dsn is required for driver %s", c.Driver)
	}
	return nil
}

// OrchestrationConfig configures multi-agent execution.
type OrchestrationConfig struct {
	// MaxConcurrency bounds parallel subagent execution.
	MaxConcurrency int `yaml:"max_concurrency,omitempty" json:"max_concurrency,omitempty" jsonschema:"title=Max Concurrency,default=5"`

	// SubagentTimeout bounds a single subagent run.
	SubagentTimeout time.Duration `yaml:"subagent_timeout,omitempty" json:"subagent_timeout,omitempty" jsonschema:"title=Subagent Timeout,default=300s"`

	// MaxTurns bounds the agent runner loop.
	MaxTurns int `yaml:"max_turns,omitempty" json:"max_turns,omitempty" jsonschema:"title=Max Turns,default=20"`

	// MaxIterations bounds maker-checker revision rounds.
	MaxIterations int `yaml:"max_iterations,omitempty" json:"max_iterations,omitempty" jsonschema:"title=Max Iterations,default=3"`

	// RoundtableMaxRounds bounds deliberation back-and-forth.
	RoundtableMaxRounds int `yaml:"roundtable_max_rounds,omitempty" json:"roundtable_max_rounds,omitempty" jsonschema:"title=Roundtable Max Rounds,default=3"`

	// RoundtableContextWindow is how many recent messages each speaker sees.
	RoundtableContextWindow int `yaml:"roundtable_context_window,omitempty" json:"roundtable_context_window,omitempty" jsonschema:"title=Roundtable Context Window,default=12"`
}

// SetDefaults applies default values.
func (c *OrchestrationConfig) SetDefaults() {
	if c.MaxConcurrency == 0 {
		c.MaxConcurrency = 5
	}
	if c.SubagentTimeout == 0 {
		c.SubagentTimeout = 300 * time.Second
	}
	if c.MaxTurns == 0 {
		c.MaxTurns = 20
	}
	if c.MaxIterations == 0 {
		c.MaxIterations = 3
	}
	if c.RoundtableMaxRounds == 0 {
		c.RoundtableMaxRounds = 3
	}
	if c.RoundtableContextWindow == 0 {
		c.RoundtableContextWindow = 12
	}
}

// Validate checks the configuration.
func (c *OrchestrationConfig) Validate() error {
	if c.MaxConcurrency < 1 {
		return fmt.Errorf("max_concurrency must be positive")
	}
	if c.MaxTurns < 1 {
		return fmt.Errorf("max_turns must be positive")
	}
	return nil
}
