package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/agenthub-io/agenthub/pkg/config"
	"github.com/agenthub-io/agenthub/pkg/graph"
	"github.com/agenthub-io/agenthub/pkg/llms"
	"github.com/agenthub-io/agenthub/pkg/store"
)

// Rating values accepted by Rate.
const (
	RatingHelpful = "helpful"
	RatingHarmful = "harmful"
	RatingUsed    = "used"
)

// Service is the scope-bound facade over the memory engine. One Service
// per (scope, scope id); heavyweight components (graph store, buffer,
// adaptive index, audit log) are shared across services by the Factory.
type Service struct {
	scope   Scope
	scopeID string
	groupID string

	graph    graph.Store
	log      *store.Store
	buffer   *UsageBuffer
	index    *AdaptiveIndex
	creator  *Creator
	injector *Injector
	cluster  *Clusterer
	learner  *LearningExtractor
}

// Create funnels one episode into this service's scope.
func (s *Service) Create(ctx context.Context, content, name string, cfg CreateConfig, source string) (*CreateResult, error) {
	return s.creator.Create(ctx, content, name, cfg, s.groupID, source, time.Now().UTC())
}

// CreateGoldenStandard ingests a mandate through canonical clustering. A
// rephrase of an existing standard is absorbed; a variation gets written
// and linked to its canonical.
func (s *Service) CreateGoldenStandard(ctx context.Context, content, name string) (*CreateResult, *ClusterResult, error) {
	clustered, clusterID, err := s.cluster.Check(ctx, s.groupID, content)
	if err != nil {
		slog.Warn("Clustering check failed, writing as-is", "group_id", s.groupID, "error", err)
		clustered = &ClusterResult{Action: ClusterNone}
	}
	if clustered.Action == ClusterRephrase {
		return &CreateResult{Success: true, UUID: clustered.CanonicalUUID, Deduplicated: true}, clustered, nil
	}

	created, err := s.Create(ctx, content, name, ProfileGoldenStandard, "golden_standard")
	if err != nil || !created.Success {
		return created, clustered, err
	}

	if clustered.Action == ClusterVariation {
		if clusterID != "" {
			episode, err := s.graph.GetEpisode(ctx, created.UUID)
			if err == nil {
				tags := ParseSourceTags(episode.SourceDescription)
				tags.ClusterID = clusterID
				if err := s.graph.UpdateEpisode(ctx, created.UUID, map[string]any{
					"source_description": tags.Format(),
				}); err != nil {
					slog.Warn("Failed to tag variation with cluster id", "uuid", created.UUID, "error", err)
				}
			}
		}
		if err := s.cluster.Link(ctx, created.UUID, clustered.CanonicalUUID); err != nil {
			slog.Warn("Failed to link variation", "uuid", created.UUID, "error", err)
		}
	}
	s.index.Invalidate(s.groupID)
	return created, clustered, nil
}

// Inject builds progressive context for a query in this scope.
func (s *Service) Inject(ctx context.Context, query string, opts InjectOptions) (*ProgressiveContext, error) {
	opts.Scope = s.scope
	opts.ScopeID = s.scopeID
	return s.injector.Inject(ctx, query, opts)
}

// RenderIndex returns the adaptive mandate catalog text for this scope.
func (s *Service) RenderIndex(ctx context.Context) (string, error) {
	return s.index.Render(ctx, s.groupID)
}

// RecordAssistantTurn parses citations out of assistant text, resolves
// them within this scope, and enqueues referenced increments. Returns the
// resolved UUIDs.
func (s *Service) RecordAssistantTurn(ctx context.Context, text string) []string {
	citations := ParseCitations(text)
	if len(citations) == 0 {
		return nil
	}
	uuids := ResolveCitations(ctx, s.graph, s.groupID, citations)
	for _, uuid := range uuids {
		s.buffer.IncrementReferenced(uuid, s.groupID)
	}
	return uuids
}

// RecordOutcome enqueues a success increment for each cited episode after
// a task succeeded.
func (s *Service) RecordOutcome(uuids []string) {
	for _, uuid := range uuids {
		s.buffer.IncrementSuccess(uuid, s.groupID)
	}
}

// Rate applies an explicit rating. Ratings skip the buffer and hit the
// graph immediately; a delayed helpful/harmful signal is worthless.
func (s *Service) Rate(ctx context.Context, uuid, rating string) error {
	var delta graph.UsageDelta
	switch rating {
	case RatingHelpful:
		delta.Helpful = 1
	case RatingHarmful:
		delta.Harmful = 1
	case RatingUsed:
		delta.Referenced = 1
	default:
		return fmt.Errorf("unknown rating %q", rating)
	}
	if err := s.graph.ApplyUsageDelta(ctx, uuid, delta); err != nil {
		return fmt.Errorf("failed to apply rating: %w", err)
	}

	if s.log != nil {
		record := store.UsageRecord{
			EpisodeUUID: uuid,
			GroupID:     s.groupID,
			Referenced:  delta.Referenced,
			Helpful:     delta.Helpful,
			Harmful:     delta.Harmful,
		}
		if err := s.log.RecordUsage(ctx, []store.UsageRecord{record}); err != nil {
			slog.Warn("Rating audit write failed", "uuid", uuid, "error", err)
		}
	}
	return nil
}

// ExtractLearnings mines a transcript into this scope.
func (s *Service) ExtractLearnings(ctx context.Context, transcript string) ([]LearningOutcome, error) {
	if s.learner == nil {
		return nil, fmt.Errorf("no LLM configured for learning extraction")
	}
	return s.learner.Extract(ctx, transcript, s.groupID)
}

// PromoteLearning manually promotes a provisional learning.
func (s *Service) PromoteLearning(ctx context.Context, uuid string) error {
	if s.learner == nil {
		return fmt.Errorf("no LLM configured for learning extraction")
	}
	return s.learner.Promote(ctx, uuid)
}

// Delete removes one episode.
func (s *Service) Delete(ctx context.Context, uuid string) error {
	if err := s.graph.RemoveEpisode(ctx, uuid); err != nil {
		return err
	}
	s.index.Invalidate(s.groupID)
	return nil
}

// BulkDelete removes several episodes, reporting how many succeeded.
func (s *Service) BulkDelete(ctx context.Context, uuids []string) (int, error) {
	deleted := 0
	var lastErr error
	for _, uuid := range uuids {
		if err := s.graph.RemoveEpisode(ctx, uuid); err != nil {
			lastErr = err
			continue
		}
		deleted++
	}
	s.index.Invalidate(s.groupID)
	return deleted, lastErr
}

// GroupID exposes the bound graph group id.
func (s *Service) GroupID() string {
	return s.groupID
}

// Factory builds and caches one Service per scope. The usage buffer, the
// adaptive index, and the stores are shared singletons; Start/Stop manage
// the buffer's flush loop.
type Factory struct {
	graph graph.Store
	log   *store.Store
	llm   llms.Provider

	buffer       *UsageBuffer
	index        *AdaptiveIndex
	creator      *Creator
	injector     *Injector
	cluster      *Clusterer
	learner      *LearningExtractor
	optimizer    *TierOptimizer
	consolidator *Consolidator

	mu       sync.Mutex
	services map[string]*Service
}

// NewFactory wires the memory engine. logStore and llm may be nil; the
// audit log and LLM-gated features degrade gracefully without them.
func NewFactory(graphStore graph.Store, logStore *store.Store, llm llms.Provider, memCfg config.MemoryConfig, optCfg config.OptimizerConfig) *Factory {
	memCfg.SetDefaults()
	optCfg.SetDefaults()

	buffer := NewUsageBuffer(graphStore, logStore, memCfg.FlushInterval)
	index := NewAdaptiveIndex(graphStore, memCfg.IndexTTL)
	creator := NewCreator(graphStore)

	f := &Factory{
		graph:        graphStore,
		log:          logStore,
		llm:          llm,
		buffer:       buffer,
		index:        index,
		creator:      creator,
		injector:     NewInjector(graphStore, buffer, logStore, memCfg),
		cluster:      NewClusterer(graphStore, llm, memCfg.ClusterSimilarityThreshold),
		optimizer:    NewTierOptimizer(graphStore, logStore, index, optCfg),
		consolidator: NewConsolidator(graphStore),
		services:     make(map[string]*Service),
	}
	if llm != nil {
		f.learner = NewLearningExtractor(graphStore, creator, llm)
	}
	return f
}

// Start launches the background flush loop.
func (f *Factory) Start(ctx context.Context) {
	f.buffer.Start(ctx)
}

// Stop flushes and shuts the engine down.
func (f *Factory) Stop(ctx context.Context) {
	f.buffer.Stop(ctx)
}

// Service returns the cached service for a scope, creating it on first use.
func (f *Factory) Service(scope Scope, scopeID string) (*Service, error) {
	groupID, err := GroupID(scope, scopeID)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if svc, ok := f.services[groupID]; ok {
		return svc, nil
	}

	svc := &Service{
		scope:    scope,
		scopeID:  scopeID,
		groupID:  groupID,
		graph:    f.graph,
		log:      f.log,
		buffer:   f.buffer,
		index:    f.index,
		creator:  f.creator,
		injector: f.injector,
		cluster:  f.cluster,
		learner:  f.learner,
	}
	f.services[groupID] = svc
	return svc, nil
}

// Optimizer exposes the shared tier optimizer.
func (f *Factory) Optimizer() *TierOptimizer {
	return f.optimizer
}

// Consolidator exposes the shared consolidator.
func (f *Factory) Consolidator() *Consolidator {
	return f.consolidator
}

// Buffer exposes the shared usage buffer, mainly for the agent runner.
func (f *Factory) Buffer() *UsageBuffer {
	return f.buffer
}
