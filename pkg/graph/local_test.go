package graph

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthub-io/agenthub/pkg/embedders"
)

func newTestStore(t *testing.T) *LocalStore {
	t.Helper()
	store, err := NewLocalStore()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newVectorStore(t *testing.T) *LocalStore {
	t.Helper()
	store, err := NewLocalStore(WithEmbedder(embedders.NewHashEmbedder(64)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func addEpisode(t *testing.T, store *LocalStore, groupID, content string, props map[string]any) string {
	t.Helper()
	result, err := store.AddEpisode(context.Background(), AddEpisodeRequest{
		Name:              "test episode",
		EpisodeBody:       content,
		SourceType:        "text",
		SourceDescription: "golden_standard",
		GroupID:           groupID,
		Properties:        props,
	})
	require.NoError(t, err)
	return result.EpisodeUUID
}

func TestLocalStoreAddAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	uuid := addEpisode(t, store, "global", "Always run migrations before deploy", nil)

	episode, err := store.GetEpisode(ctx, uuid)
	require.NoError(t, err)
	assert.Equal(t, "Always run migrations before deploy", episode.Content)
	assert.Equal(t, TierReference, episode.InjectionTier)
	assert.True(t, episode.VectorIndexed)
	assert.False(t, episode.CreatedAt.IsZero())

	_, err = store.GetEpisode(ctx, "missing-uuid")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStoreKeywordSearch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	addEpisode(t, store, "global", "Use structured logging for background workers", nil)
	addEpisode(t, store, "global", "Database connection pooling requires tuning", nil)
	addEpisode(t, store, "project-api", "Structured logging belongs in the api gateway", nil)

	edges, err := store.Search(ctx, "structured logging", []string{"global"}, 10)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Contains(t, edges[0].Fact, "structured logging")
	assert.Greater(t, edges[0].Score, 0.0)

	// Both groups in scope returns both logging episodes.
	edges, err = store.Search(ctx, "structured logging", []string{"global", "project-api"}, 10)
	require.NoError(t, err)
	assert.Len(t, edges, 2)
}

func TestLocalStoreVectorSearch(t *testing.T) {
	store := newVectorStore(t)
	ctx := context.Background()

	addEpisode(t, store, "global", "Use structured logging for background workers", nil)
	addEpisode(t, store, "global", "Database connection pooling requires tuning", nil)

	edges, err := store.Search(ctx, "structured logging", []string{"global"}, 10)
	require.NoError(t, err)
	require.NotEmpty(t, edges)
	assert.Contains(t, edges[0].Fact, "structured logging")
	if len(edges) > 1 {
		assert.Greater(t, edges[0].Score, edges[1].Score)
	}
}

func TestLocalStoreVectorReindexOnPromotion(t *testing.T) {
	store := newVectorStore(t)
	ctx := context.Background()

	uuid := addEpisode(t, store, "global", "Deploy scripts always run the smoke suite", nil)

	edges, err := store.Search(ctx, "deploy smoke suite", []string{"global"}, 10)
	require.NoError(t, err)
	require.Len(t, edges, 1)

	// Demotion pulls the episode out of the vector index.
	require.NoError(t, store.UpdateEpisode(ctx, uuid, map[string]any{"vector_indexed": false}))
	edges, err = store.Search(ctx, "deploy smoke suite", []string{"global"}, 10)
	require.NoError(t, err)
	assert.Empty(t, edges)

	// Promotion puts it back; it must surface in semantic search again.
	require.NoError(t, store.UpdateEpisode(ctx, uuid, map[string]any{"vector_indexed": true}))
	edges, err = store.Search(ctx, "deploy smoke suite", []string{"global"}, 10)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, uuid, edges[0].UUID)
}

func TestLocalStoreSearchSkipsUnindexed(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	uuid := addEpisode(t, store, "global", "Retired advice about logging", nil)
	require.NoError(t, store.UpdateEpisode(ctx, uuid, map[string]any{"vector_indexed": false}))

	edges, err := store.Search(ctx, "retired advice logging", []string{"global"}, 10)
	require.NoError(t, err)
	assert.Empty(t, edges)

	// GetEpisode still returns it.
	episode, err := store.GetEpisode(ctx, uuid)
	require.NoError(t, err)
	assert.False(t, episode.VectorIndexed)
}

func TestLocalStoreResolvePrefix(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	uuid := addEpisode(t, store, "global", "some content here", nil)
	addEpisode(t, store, "project-api", "other content here", nil)

	resolved, err := store.ResolvePrefix(ctx, "global", uuid[:8])
	require.NoError(t, err)
	assert.Equal(t, uuid, resolved)

	// Prefix scoped to the wrong group does not resolve.
	_, err = store.ResolvePrefix(ctx, "project-api", uuid[:8])
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.ResolvePrefix(ctx, "global", "zzzzzzzz")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStoreResolvePrefixAmbiguous(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	addEpisode(t, store, "global", "first", nil)
	addEpisode(t, store, "global", "second", nil)

	// The empty prefix matches everything in the group.
	_, err := store.ResolvePrefix(ctx, "global", "")
	var ambiguous *AmbiguousPrefixError
	require.ErrorAs(t, err, &ambiguous)
	assert.Equal(t, 2, ambiguous.Matches)
	assert.Equal(t, "global", ambiguous.GroupID)
}

func TestLocalStoreApplyUsageDelta(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	uuid := addEpisode(t, store, "global", "content", nil)

	err := store.ApplyUsageDelta(ctx, uuid, UsageDelta{Loaded: 3, Referenced: 2, Success: 1})
	require.NoError(t, err)

	episode, err := store.GetEpisode(ctx, uuid)
	require.NoError(t, err)
	assert.Equal(t, 3, episode.LoadedCount)
	assert.Equal(t, 2, episode.ReferencedCount)
	assert.Equal(t, 1, episode.SuccessCount)
	assert.InDelta(t, 0.5, episode.UtilityScore, 0.001)
	require.NotNil(t, episode.LastUsedAt)

	// Zero deltas are a no-op even for missing UUIDs.
	assert.NoError(t, store.ApplyUsageDelta(ctx, "missing", UsageDelta{}))
	assert.ErrorIs(t, store.ApplyUsageDelta(ctx, "missing", UsageDelta{Loaded: 1}), ErrNotFound)
}

func TestLocalStoreListByTier(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	addEpisode(t, store, "global", "mandate two", map[string]any{
		"injection_tier": "mandate",
		"display_order":  2,
	})
	addEpisode(t, store, "global", "mandate one", map[string]any{
		"injection_tier": "mandate",
		"display_order":  1,
	})
	addEpisode(t, store, "global", "plain reference", nil)

	mandates, err := store.ListByTier(ctx, []string{"global"}, TierMandate)
	require.NoError(t, err)
	require.Len(t, mandates, 2)
	assert.Equal(t, "mandate one", mandates[0].Content)
	assert.Equal(t, "mandate two", mandates[1].Content)

	references, err := store.ListByTier(ctx, []string{"global"}, TierReference)
	require.NoError(t, err)
	assert.Len(t, references, 1)
}

func TestLocalStoreUpdateEpisode(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	uuid := addEpisode(t, store, "global", "content", nil)
	err := store.UpdateEpisode(ctx, uuid, map[string]any{
		"injection_tier": TierGuardrail,
		"pinned":         true,
		"summary":        "short form",
		"synonyms":       []string{"alias"},
	})
	require.NoError(t, err)

	episode, err := store.GetEpisode(ctx, uuid)
	require.NoError(t, err)
	assert.Equal(t, TierGuardrail, episode.InjectionTier)
	assert.True(t, episode.Pinned)
	assert.Equal(t, "short form", episode.Summary)
	assert.Equal(t, []string{"alias"}, episode.Synonyms)

	assert.ErrorIs(t, store.UpdateEpisode(ctx, "missing", nil), ErrNotFound)
}

func TestLocalStoreCreateEdge(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := addEpisode(t, store, "global", "old rule", nil)
	b := addEpisode(t, store, "global", "new rule", nil)

	assert.NoError(t, store.CreateEdge(ctx, EdgeReplaces, b, a))
	assert.Error(t, store.CreateEdge(ctx, EdgeType("BOGUS"), b, a))
	assert.ErrorIs(t, store.CreateEdge(ctx, EdgeRefines, "missing", a), ErrNotFound)
}

func TestLocalStoreRemoveEpisode(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	uuid := addEpisode(t, store, "global", "ephemeral", nil)
	require.NoError(t, store.RemoveEpisode(ctx, uuid))
	assert.ErrorIs(t, store.RemoveEpisode(ctx, uuid), ErrNotFound)

	_, err := store.GetEpisode(ctx, uuid)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStorePersistence(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := NewLocalStore(WithDataDir(filepath.Join(dir, "graph")))
	require.NoError(t, err)
	uuid := addEpisode(t, store, "global", "durable content", map[string]any{
		"injection_tier": "mandate",
	})
	require.NoError(t, store.Close())

	reopened, err := NewLocalStore(WithDataDir(filepath.Join(dir, "graph")))
	require.NoError(t, err)
	defer reopened.Close()

	episode, err := reopened.GetEpisode(ctx, uuid)
	require.NoError(t, err)
	assert.Equal(t, "durable content", episode.Content)
	assert.Equal(t, TierMandate, episode.InjectionTier)
}

func TestLocalStoreExecuteQueryUnsupported(t *testing.T) {
	store := newTestStore(t)
	_, err := store.ExecuteQuery(context.Background(), "MATCH (n) RETURN n", nil)
	assert.ErrorIs(t, err, ErrUnsupportedQuery)
}

func TestTierTransitions(t *testing.T) {
	tests := []struct {
		tier   Tier
		lower  Tier
		higher Tier
	}{
		{TierMandate, TierGuardrail, TierMandate},
		{TierGuardrail, TierReference, TierMandate},
		{TierReference, TierReference, TierGuardrail},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.lower, tt.tier.NextLower())
		assert.Equal(t, tt.higher, tt.tier.NextHigher())
		assert.True(t, tt.tier.Valid())
	}
	assert.False(t, Tier("bogus").Valid())
}

func TestEpisodeDerivedScores(t *testing.T) {
	episode := Episode{LoadedCount: 20, ReferencedCount: 4, SuccessCount: 3}
	assert.InDelta(t, 0.75, episode.ComputeUtility(), 0.001)
	assert.InDelta(t, 4.0, episode.GhostRatio(), 0.001)

	fresh := Episode{LoadedCount: 10}
	assert.Zero(t, fresh.ComputeUtility())
	assert.InDelta(t, 10.0, fresh.GhostRatio(), 0.001)
}

func TestUsageDelta(t *testing.T) {
	var d UsageDelta
	assert.True(t, d.IsZero())
	d.Add(UsageDelta{Loaded: 1, Harmful: 2})
	d.Add(UsageDelta{Referenced: 1})
	assert.False(t, d.IsZero())
	assert.Equal(t, UsageDelta{Loaded: 1, Referenced: 1, Harmful: 2}, d)
}

func TestEpisodeShortID(t *testing.T) {
	episode := Episode{UUID: "abcdef12-3456-7890-abcd-ef1234567890"}
	assert.Equal(t, "abcdef12", episode.ShortID())

	short := Episode{UUID: "abc"}
	assert.Equal(t, "abc", short.ShortID())
}
