// Package config defines the configuration surface for Agent Hub.
//
// Configuration is loaded from a YAML file with ${VAR} environment
// expansion, then defaulted and validated. Every section implements
// SetDefaults() and Validate() and is safe to use zero-valued.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the gateway.
type Config struct {
	// LLMs maps provider names to their configuration.
	LLMs map[string]*LLMConfig `yaml:"llms,omitempty" json:"llms,omitempty" jsonschema:"title=LLM Providers,description=Named LLM provider configurations"`

	// Memory configures the context injection engine.
	Memory MemoryConfig `yaml:"memory,omitempty" json:"memory,omitempty" jsonschema:"title=Memory,description=Memory and context injection settings"`

	// Optimizer configures the periodic tier optimizer.
	Optimizer OptimizerConfig `yaml:"optimizer,omitempty" json:"optimizer,omitempty" jsonschema:"title=Tier Optimizer,description=Tier promotion/demotion thresholds"`

	// Graph configures the knowledge-graph backend client.
	Graph GraphConfig `yaml:"graph,omitempty" json:"graph,omitempty" jsonschema:"title=Graph Backend,description=Knowledge graph backend connection"`

	// Store configures the relational store.
	Store StoreConfig `yaml:"store,omitempty" json:"store,omitempty" jsonschema:"title=Relational Store,description=SQL store for usage stats and audit logs"`

	// Orchestration configures multi-agent execution.
	Orchestration OrchestrationConfig `yaml:"orchestration,omitempty" json:"orchestration,omitempty" jsonschema:"title=Orchestration,description=Subagent and parallel execution settings"`

	// Server configures the HTTP control surface.
	Server ServerConfig `yaml:"server,omitempty" json:"server,omitempty" jsonschema:"title=Server,description=HTTP server settings"`

	// Observability configures metrics.
	Observability ObservabilityConfig `yaml:"observability,omitempty" json:"observability,omitempty" jsonschema:"title=Observability,description=Metrics settings"`

	// Logging configures the logger.
	Logging LoggingConfig `yaml:"logging,omitempty" json:"logging,omitempty" jsonschema:"title=Logging,description=Logging settings"`
}

// Load reads, expands, defaults, and validates a config file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := ExpandEnvVars(string(raw))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration usable without a config file, with
// providers auto-detected from the environment.
func Default() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults applies defaults to all sections.
func (c *Config) SetDefaults() {
	if c.LLMs == nil {
		c.LLMs = make(map[string]*LLMConfig)
	}
	if _, ok := c.LLMs["claude"]; !ok {
		c.LLMs["claude"] = &LLMConfig{Provider: LLMProviderClaude}
	}
	if _, ok := c.LLMs["gemini"]; !ok {
		c.LLMs["gemini"] = &LLMConfig{Provider: LLMProviderGemini}
	}
	for name, llm := range c.LLMs {
		if llm == nil {
			llm = &LLMConfig{}
			c.LLMs[name] = llm
		}
		if llm.Provider == "" {
			llm.Provider = LLMProvider(name)
		}
		llm.SetDefaults()
	}

	c.Memory.SetDefaults()
	c.Optimizer.SetDefaults()
	c.Graph.SetDefaults()
	c.Store.SetDefaults()
	c.Orchestration.SetDefaults()
	c.Server.SetDefaults()
	c.Observability.SetDefaults()
	c.Logging.SetDefaults()
}

// Validate checks all sections.
func (c *Config) Validate() error {
	for name, llm := range c.LLMs {
		if err := llm.Validate(); err != nil {
			return fmt.Errorf("llm %q: %w", name, err)
		}
	}
	if err := c.Memory.Validate(); err != nil {
		return fmt.Errorf("memory: %w", err)
	}
	if err := c.Optimizer.Validate(); err != nil {
		return fmt.Errorf("optimizer: %w", err)
	}
	if err := c.Graph.Validate(); err != nil {
		return fmt.Errorf("graph: %w", err)
	}
	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if err := c.Orchestration.Validate(); err != nil {
		return fmt.Errorf("orchestration: %w", err)
	}
	return nil
}

// ServerConfig configures the HTTP control surface.
type ServerConfig struct {
	// Host to bind.
	Host string `yaml:"host,omitempty" json:"host,omitempty" jsonschema:"title=Host,default=0.0.0.0"`

	// Port to listen on.
	Port int `yaml:"port,omitempty" json:"port,omitempty" jsonschema:"title=Port,default=8080"`
}

// SetDefaults applies default values.
func (c *ServerConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
}

// ObservabilityConfig configures metrics.
type ObservabilityConfig struct {
	// Enabled turns on the Prometheus metrics endpoint.
	Enabled bool `yaml:"enabled,omitempty" json:"enabled,omitempty" jsonschema:"title=Enabled,default=false"`

	// Port for the metrics endpoint.
	Port int `yaml:"port,omitempty" json:"port,omitempty" jsonschema:"title=Port,default=9090"`
}

// SetDefaults applies default values.
func (c *ObservabilityConfig) SetDefaults() {
	if c.Port == 0 {
		c.Port = 9090
	}
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level,omitempty" json:"level,omitempty" jsonschema:"title=Level,enum=debug,enum=info,enum=warn,enum=error,default=info"`

	// Format is "simple" or "verbose".
	Format string `yaml:"format,omitempty" json:"format,omitempty" jsonschema:"title=Format,enum=simple,enum=verbose,default=simple"`

	// File is an optional log file path; empty logs to stderr.
	File string `yaml:"file,omitempty" json:"file,omitempty" jsonschema:"title=File,description=Optional log file path"`
}

// SetDefaults applies default values.
func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "simple"
	}
}
