package memory

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClustererNoMatchWritesAsIs(t *testing.T) {
	store := newTestStore(t)
	addMandate(t, store, "Errors are wrapped with context", "wrap errors")

	clusterer := NewClusterer(store, &stubLLM{}, 0.85)
	result, clusterID, err := clusterer.Check(context.Background(), "global",
		"Connections use TLS one point three minimum")
	require.NoError(t, err)
	assert.Equal(t, ClusterNone, result.Action)
	assert.Empty(t, clusterID)
}

func TestClustererRephraseAbsorbsSynonym(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	canonical := addMandate(t, store, "Database queries always use prepared statements", "sql rule")

	llm := &stubLLM{replies: []string{"rephrase"}}
	clusterer := NewClusterer(store, llm, 0.85)

	// Identical content scores 1.0 under the local store's matcher.
	result, _, err := clusterer.Check(ctx, "global", "Database queries always use prepared statements")
	require.NoError(t, err)
	assert.Equal(t, ClusterRephrase, result.Action)
	assert.Equal(t, canonical, result.CanonicalUUID)

	episode, err := store.GetEpisode(ctx, canonical)
	require.NoError(t, err)
	require.Len(t, episode.Synonyms, 1)
	assert.Equal(t, 1, episode.RefCount)
}

func TestClustererVariationGetsClusterID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	canonical := addMandate(t, store, "Database queries always use prepared statements", "sql rule")

	llm := &stubLLM{replies: []string{"variation"}}
	clusterer := NewClusterer(store, llm, 0.85)

	result, clusterID, err := clusterer.Check(ctx, "global", "Database queries always use prepared statements")
	require.NoError(t, err)
	assert.Equal(t, ClusterVariation, result.Action)
	assert.NotEmpty(t, clusterID)

	// The canonical got tagged with the new cluster id.
	episode, err := store.GetEpisode(ctx, canonical)
	require.NoError(t, err)
	assert.Equal(t, clusterID, ParseSourceTags(episode.SourceDescription).ClusterID)
}

func TestClustererLLMFailureDefaultsToVariation(t *testing.T) {
	store := newTestStore(t)
	addMandate(t, store, "Database queries always use prepared statements", "sql rule")

	llm := &stubLLM{err: assert.AnError}
	clusterer := NewClusterer(store, llm, 0.85)

	result, _, err := clusterer.Check(context.Background(), "global",
		"Database queries always use prepared statements")
	require.NoError(t, err)
	assert.Equal(t, ClusterVariation, result.Action)
}

func TestClustererUnrecognizedAnswerDefaultsToVariation(t *testing.T) {
	store := newTestStore(t)
	addMandate(t, store, "Database queries always use prepared statements", "sql rule")

	llm := &stubLLM{replies: []string{"these are completely unrelated"}}
	clusterer := NewClusterer(store, llm, 0.85)

	result, _, err := clusterer.Check(context.Background(), "global",
		"Database queries always use prepared statements")
	require.NoError(t, err)
	assert.Equal(t, ClusterVariation, result.Action)
}

func TestClustererSynonymTruncated(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	content := "Database queries always use prepared statements " + strings.Repeat("x", 600)
	canonical := addMandate(t, store, content, "sql rule")

	llm := &stubLLM{replies: []string{"rephrase"}}
	clusterer := NewClusterer(store, llm, 0.85)

	_, _, err := clusterer.Check(ctx, "global", content)
	require.NoError(t, err)

	episode, err := store.GetEpisode(ctx, canonical)
	require.NoError(t, err)
	require.Len(t, episode.Synonyms, 1)
	assert.LessOrEqual(t, len(episode.Synonyms[0]), maxSynonymLength)
}
