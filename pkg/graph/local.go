package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/philippgille/chromem-go"

	"github.com/agenthub-io/agenthub/pkg/embedders"
)

// LocalStore is the embedded graph backend for dev and single-node
// deployments. Episodes live in an in-process table; semantic search runs
// over a chromem vector index when an embedder is configured and falls back
// to keyword overlap otherwise.
//
// It does not run entity extraction: search results are edges synthesized
// from episodes (one edge per episode, fact = content).
type LocalStore struct {
	mu          sync.RWMutex
	episodes    map[string]*Episode
	db          *chromem.DB
	collections map[string]*chromem.Collection
	embedder    embedders.Provider
	dataDir     string
}

// LocalStoreOption configures a LocalStore.
type LocalStoreOption func(*LocalStore)

// WithEmbedder enables vector search with the given embedder.
func WithEmbedder(embedder embedders.Provider) LocalStoreOption {
	return func(s *LocalStore) { s.embedder = embedder }
}

// WithDataDir persists episodes and vectors under dir.
func WithDataDir(dir string) LocalStoreOption {
	return func(s *LocalStore) { s.dataDir = dir }
}

// NewLocalStore creates an embedded store.
func NewLocalStore(opts ...LocalStoreOption) (*LocalStore, error) {
	s := &LocalStore{
		episodes:    make(map[string]*Episode),
		collections: make(map[string]*chromem.Collection),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.dataDir != "" {
		if err := os.MkdirAll(s.dataDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data dir: %w", err)
		}
		db, err := chromem.NewPersistentDB(filepath.Join(s.dataDir, "vectors"), false)
		if err != nil {
			return nil, fmt.Errorf("failed to open vector database: %w", err)
		}
		s.db = db
		if err := s.loadEpisodes(); err != nil {
			return nil, err
		}
	} else {
		s.db = chromem.NewDB()
	}

	return s, nil
}

// AddEpisode writes a new episode.
func (s *LocalStore) AddEpisode(ctx context.Context, req AddEpisodeRequest) (*AddEpisodeResult, error) {
	episode := &Episode{
		UUID:              uuid.NewString(),
		Name:              req.Name,
		Content:           req.EpisodeBody,
		GroupID:           req.GroupID,
		SourceDescription: req.SourceDescription,
		InjectionTier:     TierReference,
		VectorIndexed:     true,
		CreatedAt:         time.Now().UTC(),
		ValidAt:           req.ReferenceTime,
	}
	if episode.ValidAt.IsZero() {
		episode.ValidAt = episode.CreatedAt
	}
	applyEpisodeProps(episode, req.Properties)

	s.mu.Lock()
	s.episodes[episode.UUID] = episode
	s.mu.Unlock()

	if episode.VectorIndexed {
		if err := s.indexEpisode(ctx, episode); err != nil {
			slog.Warn("Failed to index episode", "uuid", episode.UUID, "error", err)
		}
	}
	s.persist()

	return &AddEpisodeResult{EpisodeUUID: episode.UUID}, nil
}

// Search performs semantic (or keyword fallback) search over episodes.
func (s *LocalStore) Search(ctx context.Context, query string, groupIDs []string, numResults int) ([]EntityEdge, error) {
	if numResults <= 0 {
		numResults = 10
	}

	var edges []EntityEdge
	var err error
	if s.embedder != nil {
		edges, err = s.vectorSearch(ctx, query, groupIDs, numResults)
	} else {
		edges, err = s.keywordSearch(query, groupIDs)
	}
	if err != nil {
		return nil, err
	}

	sort.Slice(edges, func(i, j int) bool { return edges[i].Score > edges[j].Score })
	if len(edges) > numResults {
		edges = edges[:numResults]
	}
	return edges, nil
}

func (s *LocalStore) vectorSearch(ctx context.Context, query string, groupIDs []string, numResults int) ([]EntityEdge, error) {
	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	var edges []EntityEdge
	for _, groupID := range groupIDs {
		col := s.collection(groupID, false)
		if col == nil {
			continue
		}
		topK := numResults
		if count := col.Count(); count < topK {
			topK = count
		}
		if topK == 0 {
			continue
		}

		results, err := col.QueryEmbedding(ctx, vector, topK, nil, nil)
		if err != nil {
			return nil, fmt.Errorf("vector search failed: %w", err)
		}
		for _, r := range results {
			if edge, ok := s.edgeForEpisode(r.ID, float64(r.Similarity)); ok {
				edges = append(edges, edge)
			}
		}
	}
	return edges, nil
}

func (s *LocalStore) keywordSearch(query string, groupIDs []string) ([]EntityEdge, error) {
	queryWords := tokenize(query)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var edges []EntityEdge
	for _, episode := range s.episodes {
		if !episode.VectorIndexed || !containsString(groupIDs, episode.GroupID) {
			continue
		}
		score := overlapScore(queryWords, tokenize(episode.Content))
		if score <= 0 {
			continue
		}
		edges = append(edges, synthesizeEdge(episode, score))
	}
	return edges, nil
}

func (s *LocalStore) edgeForEpisode(uuid string, score float64) (EntityEdge, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	episode, ok := s.episodes[uuid]
	if !ok || !episode.VectorIndexed {
		return EntityEdge{}, false
	}
	return synthesizeEdge(episode, score), true
}

func synthesizeEdge(episode *Episode, score float64) EntityEdge {
	return EntityEdge{
		UUID:              episode.UUID,
		Fact:              episode.Content,
		CreatedAt:         episode.CreatedAt,
		Score:             score,
		SourceDescription: episode.SourceDescription,
		Episodes:          []string{episode.UUID},
		InjectionTier:     episode.InjectionTier,
	}
}

// RetrieveEpisodes returns the last n episodes before referenceTime.
func (s *LocalStore) RetrieveEpisodes(ctx context.Context, referenceTime time.Time, lastN int, groupIDs []string) ([]Episode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var episodes []Episode
	for _, episode := range s.episodes {
		if !containsString(groupIDs, episode.GroupID) {
			continue
		}
		if !referenceTime.IsZero() && episode.CreatedAt.After(referenceTime) {
			continue
		}
		episodes = append(episodes, *episode)
	}

	sort.Slice(episodes, func(i, j int) bool { return episodes[i].CreatedAt.After(episodes[j].CreatedAt) })
	if lastN > 0 && len(episodes) > lastN {
		episodes = episodes[:lastN]
	}
	return episodes, nil
}

// RemoveEpisode deletes an episode.
func (s *LocalStore) RemoveEpisode(ctx context.Context, uuid string) error {
	s.mu.Lock()
	episode, ok := s.episodes[uuid]
	if ok {
		delete(s.episodes, uuid)
	}
	s.mu.Unlock()

	if !ok {
		return ErrNotFound
	}
	if col := s.collection(episode.GroupID, false); col != nil {
		if err := col.Delete(ctx, nil, nil, uuid); err != nil {
			slog.Warn("Failed to remove episode from vector index", "uuid", uuid, "error", err)
		}
	}
	s.persist()
	return nil
}

// GetEpisode returns an episode by UUID regardless of vector_indexed.
func (s *LocalStore) GetEpisode(ctx context.Context, uuid string) (*Episode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	episode, ok := s.episodes[uuid]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *episode
	return &clone, nil
}

// ListByTier returns episodes in the given tier across groups.
func (s *LocalStore) ListByTier(ctx context.Context, groupIDs []string, tier Tier) ([]Episode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var episodes []Episode
	for _, episode := range s.episodes {
		if episode.InjectionTier != tier || !containsString(groupIDs, episode.GroupID) {
			continue
		}
		episodes = append(episodes, *episode)
	}
	sort.Slice(episodes, func(i, j int) bool {
		if episodes[i].DisplayOrder != episodes[j].DisplayOrder {
			return episodes[i].DisplayOrder < episodes[j].DisplayOrder
		}
		return episodes[i].CreatedAt.Before(episodes[j].CreatedAt)
	})
	return episodes, nil
}

// UpdateEpisode patches typed properties on an episode.
func (s *LocalStore) UpdateEpisode(ctx context.Context, uuid string, props map[string]any) error {
	s.mu.Lock()
	episode, ok := s.episodes[uuid]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	wasIndexed := episode.VectorIndexed
	applyEpisodeProps(episode, props)
	nowIndexed := episode.VectorIndexed
	clone := *episode
	s.mu.Unlock()

	if wasIndexed && !nowIndexed {
		if col := s.collection(clone.GroupID, false); col != nil {
			if err := col.Delete(ctx, nil, nil, uuid); err != nil {
				slog.Warn("Failed to unindex episode", "uuid", uuid, "error", err)
			}
		}
	}
	if !wasIndexed && nowIndexed {
		if err := s.indexEpisode(ctx, &clone); err != nil {
			slog.Warn("Failed to reindex episode", "uuid", uuid, "error", err)
		}
	}
	s.persist()
	return nil
}

// ApplyUsageDelta bumps counters atomically under the store lock.
func (s *LocalStore) ApplyUsageDelta(ctx context.Context, uuid string, delta UsageDelta) error {
	if delta.IsZero() {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	episode, ok := s.episodes[uuid]
	if !ok {
		return ErrNotFound
	}
	episode.LoadedCount += delta.Loaded
	episode.ReferencedCount += delta.Referenced
	episode.SuccessCount += delta.Success
	episode.HelpfulCount += delta.Helpful
	episode.HarmfulCount += delta.Harmful
	now := time.Now().UTC()
	episode.LastUsedAt = &now
	episode.UtilityScore = episode.ComputeUtility()
	return nil
}

// ResolvePrefix resolves an 8-char citation prefix within a group.
func (s *LocalStore) ResolvePrefix(ctx context.Context, groupID, prefix string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []string
	for id, episode := range s.episodes {
		if episode.GroupID == groupID && strings.HasPrefix(id, prefix) {
			matches = append(matches, id)
		}
	}

	switch len(matches) {
	case 0:
		return "", ErrNotFound
	case 1:
		return matches[0], nil
	default:
		return "", &AmbiguousPrefixError{Prefix: prefix, GroupID: groupID, Matches: len(matches)}
	}
}

// CreateEdge records a typed relationship. The local store keeps edges as
// episode properties only (REPLACES/REFINES are already mirrored there by
// the callers), so this is a validation no-op.
func (s *LocalStore) CreateEdge(ctx context.Context, edgeType EdgeType, fromUUID, toUUID string) error {
	switch edgeType {
	case EdgeReplaces, EdgeRefines:
	default:
		return fmt.Errorf("unknown edge type: %s", edgeType)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.episodes[fromUUID]; !ok {
		return ErrNotFound
	}
	if _, ok := s.episodes[toUUID]; !ok {
		return ErrNotFound
	}
	return nil
}

// ExecuteQuery is not supported by the local store.
func (s *LocalStore) ExecuteQuery(ctx context.Context, query string, params map[string]any) ([]map[string]any, error) {
	return nil, ErrUnsupportedQuery
}

// Close persists and releases resources.
func (s *LocalStore) Close() error {
	s.persist()
	if s.embedder != nil {
		return s.embedder.Close()
	}
	return nil
}

func (s *LocalStore) indexEpisode(ctx context.Context, episode *Episode) error {
	if s.embedder == nil {
		return nil
	}
	vector, err := s.embedder.Embed(ctx, episode.Content)
	if err != nil {
		return err
	}

	col := s.collection(episode.GroupID, true)
	doc := chromem.Document{
		ID:        episode.UUID,
		Content:   episode.Content,
		Metadata:  map[string]string{"group_id": episode.GroupID, "tier": string(episode.InjectionTier)},
		Embedding: vector,
	}
	return col.AddDocuments(ctx, []chromem.Document{doc}, runtime.NumCPU())
}

func (s *LocalStore) collection(groupID string, create bool) *chromem.Collection {
	name := collectionName(groupID)

	s.mu.RLock()
	col, ok := s.collections[name]
	s.mu.RUnlock()
	if ok {
		return col
	}
	if !create {
		if col := s.db.GetCollection(name, noEmbed); col != nil {
			s.mu.Lock()
			s.collections[name] = col
			s.mu.Unlock()
			return col
		}
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if col, ok := s.collections[name]; ok {
		return col
	}
	col, err := s.db.GetOrCreateCollection(name, nil, noEmbed)
	if err != nil {
		slog.Warn("Failed to create vector collection", "name", name, "error", err)
		return nil
	}
	s.collections[name] = col
	return col
}

func (s *LocalStore) persist() {
	if s.dataDir == "" {
		return
	}

	s.mu.RLock()
	episodes := make([]*Episode, 0, len(s.episodes))
	for _, episode := range s.episodes {
		clone := *episode
		episodes = append(episodes, &clone)
	}
	s.mu.RUnlock()

	payload, err := json.MarshalIndent(episodes, "", "  ")
	if err != nil {
		slog.Warn("Failed to encode episodes for persistence", "error", err)
		return
	}
	path := filepath.Join(s.dataDir, "episodes.json")
	if err := os.WriteFile(path, payload, 0644); err != nil {
		slog.Warn("Failed to persist episodes", "path", path, "error", err)
	}
}

func (s *LocalStore) loadEpisodes() error {
	path := filepath.Join(s.dataDir, "episodes.json")
	payload, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read episodes file: %w", err)
	}

	var episodes []*Episode
	if err := json.Unmarshal(payload, &episodes); err != nil {
		return fmt.Errorf("corrupt episodes file %s: %w", path, err)
	}
	for _, episode := range episodes {
		s.episodes[episode.UUID] = episode
	}
	return nil
}

// noEmbed is the collection embedding func; vectors are always pre-computed.
func noEmbed(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("embedding function called but vectors are pre-computed")
}

func applyEpisodeProps(episode *Episode, props map[string]any) {
	for key, value := range props {
		switch key {
		case "injection_tier":
			if t, ok := value.(Tier); ok {
				episode.InjectionTier = t
			} else if str, ok := value.(string); ok {
				episode.InjectionTier = Tier(str)
			}
		case "summary":
			episode.Summary, _ = value.(string)
		case "pinned":
			episode.Pinned, _ = value.(bool)
		case "auto_inject":
			episode.AutoInject, _ = value.(bool)
		case "display_order":
			episode.DisplayOrder = toInt(value)
		case "trigger_task_types":
			if list, ok := value.([]string); ok {
				episode.TriggerTaskTypes = list
			}
		case "vector_indexed":
			episode.VectorIndexed, _ = value.(bool)
		case "synonyms":
			if list, ok := value.([]string); ok {
				episode.Synonyms = list
			}
		case "ref_count":
			episode.RefCount = toInt(value)
		case "source_description":
			if str, ok := value.(string); ok {
				episode.SourceDescription = str
			}
		case "has_correction":
			episode.HasCorrection, _ = value.(bool)
		case "correction_uuid":
			episode.CorrectionUUID, _ = value.(string)
		case "is_correction":
			episode.IsCorrection, _ = value.(bool)
		case "corrects_uuid":
			episode.CorrectsUUID, _ = value.(string)
		case "demoted_at":
			if t, ok := value.(time.Time); ok {
				episode.DemotedAt = &t
			}
		case "demotion_reason":
			episode.DemotionReason, _ = value.(string)
		case "promoted_at":
			if t, ok := value.(time.Time); ok {
				episode.PromotedAt = &t
			}
		case "promotion_reason":
			episode.PromotionReason, _ = value.(string)
		}
	}
}

func toInt(value any) int {
	switch v := value.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

func collectionName(groupID string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, groupID)
	return "episodes-" + name
}

func tokenize(text string) map[string]struct{} {
	words := make(map[string]struct{})
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,!?;:\"'()[]{}")
		if len(word) > 2 {
			words[word] = struct{}{}
		}
	}
	return words
}

// overlapScore is Jaccard overlap, so identical texts score 1.0.
func overlapScore(query, doc map[string]struct{}) float64 {
	if len(query) == 0 || len(doc) == 0 {
		return 0
	}
	matches := 0
	for word := range query {
		if _, ok := doc[word]; ok {
			matches++
		}
	}
	union := len(query) + len(doc) - matches
	if union == 0 {
		return 0
	}
	return float64(matches) / float64(union)
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

// Ensure LocalStore implements Store.
var _ Store = (*LocalStore)(nil)
