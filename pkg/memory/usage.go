package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/agenthub-io/agenthub/pkg/graph"
	"github.com/agenthub-io/agenthub/pkg/observability"
	"github.com/agenthub-io/agenthub/pkg/store"
)

// UsageBuffer accumulates per-episode counter increments and flushes them
// in the background. It is the only hot-path mutable shared state; all
// access goes through the mutex.
//
// Flush swaps the buffer out atomically. If the graph write fails the
// deltas are folded back in, preserving at-least-once delivery. A failed
// relational write is logged and dropped: the graph is the source of truth
// and the audit log tolerates gaps.
type UsageBuffer struct {
	graph    graph.Store
	log      *store.Store // optional
	interval time.Duration

	mu      sync.Mutex
	pending map[string]*bufferedDelta

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

type bufferedDelta struct {
	groupID string
	delta   graph.UsageDelta
}

// NewUsageBuffer creates a buffer flushing every interval (clamped to 60 s).
func NewUsageBuffer(graphStore graph.Store, logStore *store.Store, interval time.Duration) *UsageBuffer {
	if interval <= 0 || interval > 60*time.Second {
		interval = 30 * time.Second
	}
	return &UsageBuffer{
		graph:    graphStore,
		log:      logStore,
		interval: interval,
		pending:  make(map[string]*bufferedDelta),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the background flush loop.
func (b *UsageBuffer) Start(ctx context.Context) {
	go func() {
		defer close(b.doneCh)
		ticker := time.NewTicker(b.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				b.Flush(ctx)
			case <-b.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the loop and performs a final flush.
func (b *UsageBuffer) Stop(ctx context.Context) {
	b.stopOnce.Do(func() { close(b.stopCh) })
	select {
	case <-b.doneCh:
	case <-time.After(2 * time.Second):
	}
	b.Flush(ctx)
}

func (b *UsageBuffer) add(uuid, groupID string, delta graph.UsageDelta) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entry, ok := b.pending[uuid]
	if !ok {
		entry = &bufferedDelta{groupID: groupID}
		b.pending[uuid] = entry
	}
	entry.delta.Add(delta)
}

// IncrementLoaded records that an episode was injected into context.
func (b *UsageBuffer) IncrementLoaded(uuid, groupID string) {
	b.add(uuid, groupID, graph.UsageDelta{Loaded: 1})
}

// IncrementReferenced records a resolved citation.
func (b *UsageBuffer) IncrementReferenced(uuid, groupID string) {
	b.add(uuid, groupID, graph.UsageDelta{Referenced: 1})
}

// IncrementSuccess records a successful task outcome for a cited episode.
func (b *UsageBuffer) IncrementSuccess(uuid, groupID string) {
	b.add(uuid, groupID, graph.UsageDelta{Success: 1})
}

// IncrementHelpful records an explicit helpful rating.
func (b *UsageBuffer) IncrementHelpful(uuid, groupID string) {
	b.add(uuid, groupID, graph.UsageDelta{Helpful: 1})
}

// IncrementHarmful records an explicit harmful rating.
func (b *UsageBuffer) IncrementHarmful(uuid, groupID string) {
	b.add(uuid, groupID, graph.UsageDelta{Harmful: 1})
}

// PendingCount reports how many episodes have unflushed deltas.
func (b *UsageBuffer) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Flush writes all pending deltas. Graph failures re-queue the failed
// episode's delta; relational-log failures do not.
func (b *UsageBuffer) Flush(ctx context.Context) {
	b.mu.Lock()
	batch := b.pending
	b.pending = make(map[string]*bufferedDelta)
	b.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	var records []store.UsageRecord
	failed := 0
	for uuid, entry := range batch {
		if err := b.graph.ApplyUsageDelta(ctx, uuid, entry.delta); err != nil {
			slog.Warn("Usage flush failed, re-queueing", "uuid", uuid, "error", err)
			b.add(uuid, entry.groupID, entry.delta)
			failed++
			continue
		}
		records = append(records, store.UsageRecord{
			EpisodeUUID: uuid,
			GroupID:     entry.groupID,
			Loaded:      entry.delta.Loaded,
			Referenced:  entry.delta.Referenced,
			Success:     entry.delta.Success,
			Helpful:     entry.delta.Helpful,
			Harmful:     entry.delta.Harmful,
		})
	}

	if b.log != nil && len(records) > 0 {
		if err := b.log.RecordUsage(ctx, records); err != nil {
			// Audit log only; the graph already has the counters.
			slog.Warn("Usage audit log write failed", "records", len(records), "error", err)
		}
	}
	observability.GetGlobalMetrics().RecordUsageFlush(ctx, len(records), failed)
}
