package embedders

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

const defaultHashDimension = 128

// HashEmbedder produces deterministic embeddings without any network
// dependency. Each token is hashed into one of dim buckets and the bag of
// counts is L2-normalized, so cosine similarity tracks word overlap. It
// serves offline runs and tests; retrieval quality is far below a real
// embedding model.
type HashEmbedder struct {
	dim int
}

// NewHashEmbedder creates a hash embedder. dim <= 0 uses the default.
func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = defaultHashDimension
	}
	return &HashEmbedder{dim: dim}
}

// Embed hashes tokens into buckets and normalizes the counts.
func (h *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vector := make([]float32, h.dim)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,!?;:\"'()[]{}")
		if len(word) <= 2 {
			continue
		}
		digest := fnv.New32a()
		digest.Write([]byte(word))
		vector[int(digest.Sum32())%h.dim]++
	}

	var norm float64
	for _, v := range vector {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		// All-stopword input still needs a valid unit vector.
		vector[0] = 1
		return vector, nil
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range vector {
		vector[i] *= inv
	}
	return vector, nil
}

// Dimension returns the configured dimensionality.
func (h *HashEmbedder) Dimension() int { return h.dim }

// Close releases nothing; the embedder is stateless.
func (h *HashEmbedder) Close() error { return nil }

var _ Provider = (*HashEmbedder)(nil)
