package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agenthub-io/agenthub/pkg/graph"
)

const (
	// minSamplesForDemotion is the per-entry load floor before an entry can
	// be considered for statistical demotion.
	minSamplesForDemotion = 10

	// minEntriesForStats is the population floor below which no demotions
	// happen at all.
	minEntriesForStats = 3

	// significantUtilityDelta invalidates the cache when a counter update
	// moves an entry's utility by at least this much.
	significantUtilityDelta = 0.1
)

// IndexEntry is one line of the adaptive mandate catalog.
type IndexEntry struct {
	UUID           string
	ShortID        string
	Summary        string
	Category       string
	LoadedCount    int
	ReferencedCount int
	RelevanceRatio float64
	IsDemoted      bool
}

// AdaptiveIndex maintains a compact always-injected catalog of mandates.
// Entries whose relevance ratio falls statistically below their peers are
// omitted from the rendered text but stay in the store.
type AdaptiveIndex struct {
	store graph.Store
	ttl   time.Duration

	mu        sync.Mutex
	cache     map[string][]IndexEntry // keyed by group id
	cachedAt  map[string]time.Time
	utilities map[string]float64
}

// NewAdaptiveIndex creates the index with the given cache TTL.
func NewAdaptiveIndex(store graph.Store, ttl time.Duration) *AdaptiveIndex {
	if ttl <= 0 {
		ttl = 300 * time.Second
	}
	return &AdaptiveIndex{
		store:     store,
		ttl:       ttl,
		cache:     make(map[string][]IndexEntry),
		cachedAt:  make(map[string]time.Time),
		utilities: make(map[string]float64),
	}
}

// Entries returns the current catalog for a group, refreshing the cache
// when the TTL expired.
func (a *AdaptiveIndex) Entries(ctx context.Context, groupID string) ([]IndexEntry, error) {
	a.mu.Lock()
	if entries, ok := a.cache[groupID]; ok && time.Since(a.cachedAt[groupID]) < a.ttl {
		a.mu.Unlock()
		return entries, nil
	}
	a.mu.Unlock()

	episodes, err := a.store.ListByTier(ctx, []string{groupID}, graph.TierMandate)
	if err != nil {
		return nil, fmt.Errorf("failed to list mandates: %w", err)
	}

	entries := make([]IndexEntry, 0, len(episodes))
	for _, episode := range episodes {
		if !episode.VectorIndexed {
			continue
		}
		summary := episode.Summary
		if summary == "" {
			summary = firstLine(episode.Content)
		}
		entries = append(entries, IndexEntry{
			UUID:            episode.UUID,
			ShortID:         episode.ShortID(),
			Summary:         summary,
			Category:        ParseSourceTags(episode.SourceDescription).Category,
			LoadedCount:     episode.LoadedCount,
			ReferencedCount: episode.ReferencedCount,
			RelevanceRatio:  relevanceRatio(episode.LoadedCount, episode.ReferencedCount),
		})
	}
	applyDemotions(entries)

	a.mu.Lock()
	a.cache[groupID] = entries
	a.cachedAt[groupID] = time.Now()
	a.mu.Unlock()
	return entries, nil
}

// Render returns the injected index text, omitting demoted entries.
func (a *AdaptiveIndex) Render(ctx context.Context, groupID string) (string, error) {
	entries, err := a.Entries(ctx, groupID)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, entry := range entries {
		if entry.IsDemoted {
			continue
		}
		fmt.Fprintf(&b, "[M:%s] %s", entry.ShortID, entry.Summary)
		if entry.Category != "" {
			fmt.Fprintf(&b, " (%s)", entry.Category)
		}
		b.WriteByte('\n')
	}
	return b.String(), nil
}

// ObserveUtility invalidates the cache for a group when an episode's
// utility moved by a significant delta.
func (a *AdaptiveIndex) ObserveUtility(groupID, uuid string, utility float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	previous, seen := a.utilities[uuid]
	a.utilities[uuid] = utility
	if seen && math.Abs(utility-previous) < significantUtilityDelta {
		return
	}
	if seen {
		delete(a.cache, groupID)
		delete(a.cachedAt, groupID)
	}
}

// Invalidate drops the cached catalog for a group.
func (a *AdaptiveIndex) Invalidate(groupID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.cache, groupID)
	delete(a.cachedAt, groupID)
}

func relevanceRatio(loaded, referenced int) float64 {
	if loaded == 0 {
		return 0
	}
	return float64(referenced) / float64(loaded)
}

// applyDemotions marks statistical underperformers. The threshold is
// median minus one standard deviation over entries meeting the sample
// floor; with fewer than three qualifying entries nothing is demoted.
func applyDemotions(entries []IndexEntry) {
	var ratios []float64
	for _, entry := range entries {
		if entry.LoadedCount >= minSamplesForDemotion {
			ratios = append(ratios, entry.RelevanceRatio)
		}
	}
	if len(ratios) < minEntriesForStats {
		return
	}

	threshold := math.Max(0, median(ratios)-stdev(ratios))
	for i := range entries {
		if entries[i].LoadedCount >= minSamplesForDemotion && entries[i].RelevanceRatio < threshold {
			entries[i].IsDemoted = true
		}
	}
}

func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func stdev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	variance := 0.0
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(values))
	return math.Sqrt(variance)
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return strings.TrimSpace(s[:idx])
	}
	return strings.TrimSpace(s)
}
