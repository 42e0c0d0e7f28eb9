package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthub-io/agenthub/pkg/graph"
)

// flakyStore fails ApplyUsageDelta until told otherwise.
type flakyStore struct {
	*graph.LocalStore
	failing bool
}

func (f *flakyStore) ApplyUsageDelta(ctx context.Context, uuid string, delta graph.UsageDelta) error {
	if f.failing {
		return errors.New("backend unavailable")
	}
	return f.LocalStore.ApplyUsageDelta(ctx, uuid, delta)
}

func addCounterEpisode(t *testing.T, store graph.Store, groupID string) string {
	t.Helper()
	result, err := store.AddEpisode(context.Background(), graph.AddEpisodeRequest{
		Name:          "rule",
		EpisodeBody:   "Retries use exponential backoff",
		SourceType:    "text",
		ReferenceTime: time.Now(),
		GroupID:       groupID,
		Properties:    map[string]any{"injection_tier": graph.TierReference, "vector_indexed": true},
	})
	require.NoError(t, err)
	return result.EpisodeUUID
}

func TestUsageBufferFlush(t *testing.T) {
	store := newTestStore(t)
	uuid := addCounterEpisode(t, store, "global")

	buffer := NewUsageBuffer(store, nil, 30*time.Second)
	buffer.IncrementLoaded(uuid, "global")
	buffer.IncrementLoaded(uuid, "global")
	buffer.IncrementReferenced(uuid, "global")
	buffer.IncrementHelpful(uuid, "global")
	assert.Equal(t, 1, buffer.PendingCount())

	buffer.Flush(context.Background())
	assert.Equal(t, 0, buffer.PendingCount())

	episode, err := store.GetEpisode(context.Background(), uuid)
	require.NoError(t, err)
	assert.Equal(t, 2, episode.LoadedCount)
	assert.Equal(t, 1, episode.ReferencedCount)
	assert.Equal(t, 1, episode.HelpfulCount)
	assert.NotNil(t, episode.LastUsedAt)
}

func TestUsageBufferFlushEmptyIsNoop(t *testing.T) {
	buffer := NewUsageBuffer(newTestStore(t), nil, 30*time.Second)
	buffer.Flush(context.Background())
	assert.Equal(t, 0, buffer.PendingCount())
}

func TestUsageBufferRequeuesOnGraphFailure(t *testing.T) {
	local := newTestStore(t)
	flaky := &flakyStore{LocalStore: local, failing: true}
	uuid := addCounterEpisode(t, local, "global")

	buffer := NewUsageBuffer(flaky, nil, 30*time.Second)
	buffer.IncrementLoaded(uuid, "global")

	// Failed flush folds the delta back in.
	buffer.Flush(context.Background())
	assert.Equal(t, 1, buffer.PendingCount())

	// Recovery drains it without losing or duplicating the increment.
	flaky.failing = false
	buffer.Flush(context.Background())
	assert.Equal(t, 0, buffer.PendingCount())

	episode, err := local.GetEpisode(context.Background(), uuid)
	require.NoError(t, err)
	assert.Equal(t, 1, episode.LoadedCount)
}

func TestUsageBufferStopFlushes(t *testing.T) {
	store := newTestStore(t)
	uuid := addCounterEpisode(t, store, "global")

	buffer := NewUsageBuffer(store, nil, time.Second)
	ctx := context.Background()
	buffer.Start(ctx)
	buffer.IncrementSuccess(uuid, "global")
	buffer.Stop(ctx)

	episode, err := store.GetEpisode(ctx, uuid)
	require.NoError(t, err)
	assert.Equal(t, 1, episode.SuccessCount)
}

func TestUsageBufferIntervalClamp(t *testing.T) {
	buffer := NewUsageBuffer(newTestStore(t), nil, 5*time.Minute)
	assert.Equal(t, 30*time.Second, buffer.interval)

	buffer = NewUsageBuffer(newTestStore(t), nil, 0)
	assert.Equal(t, 30*time.Second, buffer.interval)

	buffer = NewUsageBuffer(newTestStore(t), nil, 10*time.Second)
	assert.Equal(t, 10*time.Second, buffer.interval)
}
