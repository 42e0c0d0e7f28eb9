package llms

import (
	"fmt"
	"sync"

	"github.com/agenthub-io/agenthub/pkg/config"
)

// Registry caches provider instances per name. Factories are idempotent:
// asking for the same name twice returns the same instance, so adapters are
// reused across runners.
type Registry struct {
	mu        sync.Mutex
	configs   map[string]*config.LLMConfig
	providers map[string]Provider
}

// NewRegistry creates a registry over the configured LLM entries.
func NewRegistry(configs map[string]*config.LLMConfig) *Registry {
	return &Registry{
		configs:   configs,
		providers: make(map[string]Provider),
	}
}

// Register installs a prebuilt provider under a name, replacing any cached
// instance. Used by tests and embedders of the hub.
func (r *Registry) Register(name string, provider Provider) error {
	if name == "" {
		return fmt.Errorf("provider name cannot be empty")
	}
	if provider == nil {
		return fmt.Errorf("provider cannot be nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = provider
	return nil
}

// Get returns the provider registered under name, constructing it from
// config on first use.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if provider, ok := r.providers[name]; ok {
		return provider, nil
	}

	cfg, ok := r.configs[name]
	if !ok {
		return nil, fmt.Errorf("LLM %q is not configured", name)
	}

	provider, err := newProvider(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider %q: %w", name, err)
	}
	r.providers[name] = provider
	return provider, nil
}

// List returns the names available in the registry.
func (r *Registry) List() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]struct{})
	var names []string
	for name := range r.configs {
		seen[name] = struct{}{}
		names = append(names, name)
	}
	for name := range r.providers {
		if _, ok := seen[name]; !ok {
			names = append(names, name)
		}
	}
	return names
}

// Close closes every constructed provider.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for name, provider := range r.providers {
		if err := provider.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close provider %q: %w", name, err)
		}
	}
	r.providers = make(map[string]Provider)
	return firstErr
}

func newProvider(cfg *config.LLMConfig) (Provider, error) {
	switch cfg.Provider {
	case config.LLMProviderClaude:
		return NewClaudeProvider(cfg.Model, WithCLIPath(cfg.CLIPath))
	case config.LLMProviderGemini:
		return NewGeminiProvider(cfg)
	default:
		return nil, fmt.Errorf("unsupported provider type: %s (supported: claude, gemini)", cfg.Provider)
	}
}
