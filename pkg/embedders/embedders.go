// Package embedders provides text embedding providers for the local graph
// store's vector index. The production graph backend embeds server-side;
// these providers only serve the embedded deployment mode.
package embedders

import (
	"context"
	"fmt"

	"github.com/agenthub-io/agenthub/pkg/config"
)

// Provider produces vector embeddings for text.
type Provider interface {
	// Embed returns the embedding vector for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimension returns the embedding dimensionality.
	Dimension() int

	// Close releases any resources held by the provider.
	Close() error
}

// New creates an embedder from configuration.
func New(cfg config.EmbedderConfig) (Provider, error) {
	switch cfg.Provider {
	case "gemini":
		return NewGeminiEmbedder(cfg)
	case "hash":
		return NewHashEmbedder(0), nil
	default:
		return nil, fmt.Errorf("unknown embedder provider: %s", cfg.Provider)
	}
}
