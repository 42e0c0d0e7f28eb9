package embedders

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/agenthub-io/agenthub/pkg/config"
)

const geminiEmbeddingDimension = 768

// GeminiEmbedder embeds text with the Gemini embedding API via the official
// genai SDK.
type GeminiEmbedder struct {
	client *genai.Client
	model  string
}

// NewGeminiEmbedder creates a Gemini embedder.
func NewGeminiEmbedder(cfg config.EmbedderConfig) (*GeminiEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Gemini API key is required for embeddings")
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = "text-embedding-004"
	}

	return &GeminiEmbedder{client: client, model: model}, nil
}

// Embed returns the embedding vector for the given text.
func (e *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.Models.EmbedContent(ctx, e.model, genai.Text(text), nil)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, fmt.Errorf("empty embedding response")
	}
	return resp.Embeddings[0].Values, nil
}

// Dimension returns the embedding dimensionality.
func (e *GeminiEmbedder) Dimension() int {
	return geminiEmbeddingDimension
}

// Close releases resources.
func (e *GeminiEmbedder) Close() error {
	return nil
}
