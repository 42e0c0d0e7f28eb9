package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthub-io/agenthub/pkg/config"
	"github.com/agenthub-io/agenthub/pkg/graph"
	"github.com/agenthub-io/agenthub/pkg/store"
)

func optCfg() config.OptimizerConfig {
	cfg := config.OptimizerConfig{}
	cfg.SetDefaults()
	return cfg
}

func agedEpisode(tier graph.Tier, ageDays int) graph.Episode {
	return graph.Episode{
		UUID:          "aaaaaaaa-0000-0000-0000-000000000000",
		Name:          "rule",
		InjectionTier: tier,
		CreatedAt:     time.Now().Add(-time.Duration(ageDays) * 24 * time.Hour),
	}
}

func TestShouldDemote(t *testing.T) {
	optimizer := NewTierOptimizer(newTestStore(t), nil, nil, optCfg())
	now := time.Now()

	tests := []struct {
		name   string
		mutate func(*graph.Episode)
		want   bool
	}{
		{
			name:   "harmful ratings",
			mutate: func(e *graph.Episode) { e.HarmfulCount = 3 },
			want:   true,
		},
		{
			name: "low utility after many loads",
			mutate: func(e *graph.Episode) {
				e.LoadedCount = 60
				e.ReferencedCount = 40
				e.SuccessCount = 2 // utility 0.05
			},
			want: true,
		},
		{
			name: "zombie ghost ratio",
			mutate: func(e *graph.Episode) {
				e.LoadedCount = 60
				e.ReferencedCount = 4 // ghost 12, utility high enough
				e.SuccessCount = 4
			},
			want: true,
		},
		{
			name:   "pinned is exempt",
			mutate: func(e *graph.Episode) { e.Pinned = true; e.HarmfulCount = 10 },
			want:   false,
		},
		{
			name:   "healthy mandate stays",
			mutate: func(e *graph.Episode) { e.LoadedCount = 60; e.ReferencedCount = 30; e.SuccessCount = 25 },
			want:   false,
		},
		{
			name:   "too few loads for utility rules",
			mutate: func(e *graph.Episode) { e.LoadedCount = 10; e.ReferencedCount = 0 },
			want:   false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			episode := agedEpisode(graph.TierMandate, 30)
			tt.mutate(&episode)
			_, got := optimizer.shouldDemote(&episode, now)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestShouldDemoteAgeGates(t *testing.T) {
	optimizer := NewTierOptimizer(newTestStore(t), nil, nil, optCfg())
	now := time.Now()

	young := agedEpisode(graph.TierMandate, 1) // inside 48h grace
	young.HarmfulCount = 10
	_, ok := optimizer.shouldDemote(&young, now)
	assert.False(t, ok)

	fresh := agedEpisode(graph.TierMandate, 3) // past grace, under 7d min age
	fresh.HarmfulCount = 10
	_, ok = optimizer.shouldDemote(&fresh, now)
	assert.False(t, ok)

	reference := agedEpisode(graph.TierReference, 30)
	reference.HarmfulCount = 10
	_, ok = optimizer.shouldDemote(&reference, now)
	assert.False(t, ok, "reference is already the bottom tier")
}

func TestShouldPromote(t *testing.T) {
	optimizer := NewTierOptimizer(newTestStore(t), nil, nil, optCfg())
	now := time.Now()

	tests := []struct {
		name   string
		tier   graph.Tier
		age    int
		mutate func(*graph.Episode)
		want   bool
	}{
		{
			name:   "helpful ratings",
			tier:   graph.TierReference,
			age:    10,
			mutate: func(e *graph.Episode) { e.HelpfulCount = 5 },
			want:   true,
		},
		{
			name: "high utility",
			tier: graph.TierGuardrail,
			age:  10,
			mutate: func(e *graph.Episode) {
				e.ReferencedCount = 25
				e.SuccessCount = 20 // utility 0.8
			},
			want: true,
		},
		{
			name:   "mandate is the ceiling",
			tier:   graph.TierMandate,
			age:    10,
			mutate: func(e *graph.Episode) { e.HelpfulCount = 50 },
			want:   false,
		},
		{
			name:   "too young",
			tier:   graph.TierReference,
			age:    3,
			mutate: func(e *graph.Episode) { e.HelpfulCount = 50 },
			want:   false,
		},
		{
			name: "high utility needs referenced floor",
			tier: graph.TierReference,
			age:  10,
			mutate: func(e *graph.Episode) {
				e.ReferencedCount = 5
				e.SuccessCount = 5
			},
			want: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			episode := agedEpisode(tt.tier, tt.age)
			tt.mutate(&episode)
			_, got := optimizer.shouldPromote(&episode, now)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRunDryRunWritesNothing(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	uuid := addMandate(t, store, "Stale rule nobody cites", "stale rule")

	require.NoError(t, store.ApplyUsageDelta(ctx, uuid, graph.UsageDelta{Loaded: 60, Harmful: 3}))

	optimizer := NewTierOptimizer(store, nil, nil, optCfg())
	report, err := optimizer.Run(ctx, []string{"global"}, true)
	require.NoError(t, err)
	assert.True(t, report.DryRun)
	assert.Equal(t, 1, report.Scanned)

	episode, err := store.GetEpisode(ctx, uuid)
	require.NoError(t, err)
	assert.Equal(t, graph.TierMandate, episode.InjectionTier)
}

func TestRecordCorrection(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	originalUUID := addMandate(t, store, "Cache entries expire after one hour", "cache ttl")

	optimizer := NewTierOptimizer(store, nil, nil, optCfg())
	correctionUUID, err := optimizer.RecordCorrection(ctx, originalUUID, "Cache entries expire after five minutes")
	require.NoError(t, err)
	require.NotEmpty(t, correctionUUID)

	original, err := store.GetEpisode(ctx, originalUUID)
	require.NoError(t, err)
	assert.True(t, original.HasCorrection)
	assert.Equal(t, correctionUUID, original.CorrectionUUID)
	assert.False(t, original.VectorIndexed)

	correction, err := store.GetEpisode(ctx, correctionUUID)
	require.NoError(t, err)
	assert.True(t, correction.IsCorrection)
	assert.Equal(t, originalUUID, correction.CorrectsUUID)
	assert.Equal(t, original.InjectionTier, correction.InjectionTier)
	assert.Equal(t, "correction", ParseSourceTags(correction.SourceDescription).Source)
}

func newAuditLog(t *testing.T) *store.Store {
	t.Helper()
	logStore, err := store.New(config.StoreConfig{Driver: "sqlite3", DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = logStore.Close() })
	return logStore
}

func TestCorrectionAuditRow(t *testing.T) {
	graphStore := newTestStore(t)
	logStore := newAuditLog(t)
	ctx := context.Background()
	originalUUID := addMandate(t, graphStore, "Cache entries expire after one hour", "cache ttl")

	optimizer := NewTierOptimizer(graphStore, logStore, nil, optCfg())
	_, err := optimizer.RecordCorrection(ctx, originalUUID, "Cache entries expire after five minutes")
	require.NoError(t, err)

	history, err := logStore.TierHistory(ctx, originalUUID, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)

	// A correction stays in tier; its type must not read as a promotion.
	assert.Equal(t, ChangeCorrection, history[0].ChangeType)
	assert.Equal(t, history[0].FromTier, history[0].ToTier)
	assert.Equal(t, string(graph.TierMandate), history[0].FromTier)
	assert.Equal(t, "global", history[0].GroupID)
}

func TestLogTierChangeRecordsType(t *testing.T) {
	logStore := newAuditLog(t)
	ctx := context.Background()
	optimizer := NewTierOptimizer(newTestStore(t), logStore, nil, optCfg())

	optimizer.logTierChange(ctx, TierChange{
		UUID:       "ep-1",
		GroupID:    "project-api",
		FromTier:   graph.TierMandate,
		ToTier:     graph.TierGuardrail,
		Reason:     "harmful_ratings:3",
		ChangeType: ChangeDemotion,
	})
	optimizer.logTierChange(ctx, TierChange{
		UUID:       "ep-1",
		GroupID:    "project-api",
		FromTier:   graph.TierGuardrail,
		ToTier:     graph.TierMandate,
		Reason:     "helpful_ratings:5",
		ChangeType: ChangePromotion,
	})

	history, err := logStore.TierHistory(ctx, "ep-1", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	types := []string{history[0].ChangeType, history[1].ChangeType}
	assert.ElementsMatch(t, []string{ChangeDemotion, ChangePromotion}, types)
	assert.Equal(t, "project-api", history[0].GroupID)
}
