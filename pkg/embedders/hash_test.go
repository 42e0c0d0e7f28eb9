package embedders

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthub-io/agenthub/pkg/config"
)

func cosine(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

func TestHashEmbedderDeterministic(t *testing.T) {
	embedder := NewHashEmbedder(64)
	ctx := context.Background()

	first, err := embedder.Embed(ctx, "structured logging for workers")
	require.NoError(t, err)
	second, err := embedder.Embed(ctx, "structured logging for workers")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Len(t, first, 64)
	assert.Equal(t, 64, embedder.Dimension())

	// Unit length.
	assert.InDelta(t, 1.0, cosine(first, first), 1e-5)
}

func TestHashEmbedderSimilarityTracksOverlap(t *testing.T) {
	embedder := NewHashEmbedder(0)
	ctx := context.Background()

	query, err := embedder.Embed(ctx, "structured logging")
	require.NoError(t, err)
	near, err := embedder.Embed(ctx, "use structured logging everywhere")
	require.NoError(t, err)
	far, err := embedder.Embed(ctx, "database connection pooling")
	require.NoError(t, err)

	assert.Greater(t, cosine(query, near), cosine(query, far))
}

func TestHashEmbedderStopwordOnlyInput(t *testing.T) {
	embedder := NewHashEmbedder(8)
	vector, err := embedder.Embed(context.Background(), "a an to")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, cosine(vector, vector), 1e-5, "degenerate input still yields a unit vector")
}

func TestNewSelectsProvider(t *testing.T) {
	provider, err := New(config.EmbedderConfig{Provider: "hash"})
	require.NoError(t, err)
	assert.IsType(t, &HashEmbedder{}, provider)

	_, err = New(config.EmbedderConfig{Provider: "bogus"})
	assert.Error(t, err)
}
