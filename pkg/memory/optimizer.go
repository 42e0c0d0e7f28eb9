package memory

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/agenthub-io/agenthub/pkg/config"
	"github.com/agenthub-io/agenthub/pkg/graph"
	"github.com/agenthub-io/agenthub/pkg/observability"
	"github.com/agenthub-io/agenthub/pkg/store"
)

// Change types written to the tier change log.
const (
	ChangePromotion  = "promotion"
	ChangeDemotion   = "demotion"
	ChangeCorrection = "correction"
)

// TierChange summarizes one promotion, demotion, or correction decision.
// Corrections keep FromTier == ToTier.
type TierChange struct {
	UUID       string     `json:"uuid"`
	Name       string     `json:"name"`
	GroupID    string     `json:"group_id"`
	FromTier   graph.Tier `json:"from_tier"`
	ToTier     graph.Tier `json:"to_tier"`
	Reason     string     `json:"reason"`
	ChangeType string     `json:"change_type"`
}

// OptimizeReport is the outcome of one optimizer pass.
type OptimizeReport struct {
	Scanned    int          `json:"scanned"`
	Demotions  []TierChange `json:"demotions"`
	Promotions []TierChange `json:"promotions"`
	DryRun     bool         `json:"dry_run"`
}

// TierOptimizer is the usage-driven promotion/demotion control loop. It
// runs periodically, never touches pinned episodes on the demotion side,
// and records every change in the audit log.
type TierOptimizer struct {
	store graph.Store
	log   *store.Store // optional
	index *AdaptiveIndex
	cfg   config.OptimizerConfig
}

// NewTierOptimizer creates the optimizer. index may be nil.
func NewTierOptimizer(graphStore graph.Store, logStore *store.Store, index *AdaptiveIndex, cfg config.OptimizerConfig) *TierOptimizer {
	return &TierOptimizer{store: graphStore, log: logStore, index: index, cfg: cfg}
}

// Run performs one optimization pass over the given groups. With dryRun
// set, decisions are reported but nothing is written.
func (o *TierOptimizer) Run(ctx context.Context, groupIDs []string, dryRun bool) (*OptimizeReport, error) {
	report := &OptimizeReport{DryRun: dryRun}
	now := time.Now()

	for _, groupID := range groupIDs {
		for _, tier := range graph.TierHierarchy {
			episodes, err := o.store.ListByTier(ctx, []string{groupID}, tier)
			if err != nil {
				return nil, fmt.Errorf("failed to list %s episodes in %s: %w", tier, groupID, err)
			}
			report.Scanned += len(episodes)

			for _, episode := range episodes {
				if reason, ok := o.shouldDemote(&episode, now); ok {
					change := TierChange{
						UUID:       episode.UUID,
						Name:       episode.Name,
						GroupID:    episode.GroupID,
						FromTier:   episode.InjectionTier,
						ToTier:     episode.InjectionTier.NextLower(),
						Reason:     reason,
						ChangeType: ChangeDemotion,
					}
					if !dryRun {
						if err := o.demote(ctx, &episode, change); err != nil {
							slog.Warn("Demotion failed", "uuid", episode.UUID, "error", err)
							continue
						}
					}
					report.Demotions = append(report.Demotions, change)
					continue
				}
				if reason, ok := o.shouldPromote(&episode, now); ok {
					change := TierChange{
						UUID:       episode.UUID,
						Name:       episode.Name,
						GroupID:    episode.GroupID,
						FromTier:   episode.InjectionTier,
						ToTier:     episode.InjectionTier.NextHigher(),
						Reason:     reason,
						ChangeType: ChangePromotion,
					}
					if !dryRun {
						if err := o.promote(ctx, &episode, change); err != nil {
							slog.Warn("Promotion failed", "uuid", episode.UUID, "error", err)
							continue
						}
					}
					report.Promotions = append(report.Promotions, change)
				}
			}
		}
		if o.index != nil && !dryRun {
			o.index.Invalidate(groupID)
		}
	}
	return report, nil
}

// shouldDemote evaluates the demotion rules. Pinned episodes and episodes
// inside the grace window are never demoted, and reference is the floor.
func (o *TierOptimizer) shouldDemote(e *graph.Episode, now time.Time) (string, bool) {
	if e.Pinned || e.InjectionTier == graph.TierReference {
		return "", false
	}
	age := now.Sub(e.CreatedAt)
	if age < o.cfg.GracePeriod || age < o.cfg.MinAge {
		return "", false
	}

	if e.HarmfulCount >= o.cfg.HarmfulThreshold {
		return fmt.Sprintf("harmful_ratings:%d", e.HarmfulCount), true
	}
	if e.LoadedCount >= o.cfg.LoadedFloor {
		if utility := e.ComputeUtility(); utility < o.cfg.LowUtility {
			return fmt.Sprintf("low_utility:%.2f", utility), true
		}
		if ghost := e.GhostRatio(); ghost > o.cfg.GhostRatio {
			return fmt.Sprintf("zombie:ghost_ratio=%.1f", ghost), true
		}
	}
	return "", false
}

// shouldPromote evaluates the promotion rules; mandate is the ceiling.
func (o *TierOptimizer) shouldPromote(e *graph.Episode, now time.Time) (string, bool) {
	if e.InjectionTier == graph.TierMandate {
		return "", false
	}
	if now.Sub(e.CreatedAt) < o.cfg.MinAge {
		return "", false
	}

	if e.HelpfulCount >= o.cfg.HelpfulThreshold {
		return fmt.Sprintf("helpful_ratings:%d", e.HelpfulCount), true
	}
	if e.ReferencedCount >= o.cfg.ReferencedFloor {
		if utility := e.ComputeUtility(); utility > o.cfg.HighUtility {
			return fmt.Sprintf("high_utility:%.2f", utility), true
		}
	}
	return "", false
}

// demote moves the episode one tier down and pulls it out of the vector
// index so it stops surfacing in retrieval until re-promoted.
func (o *TierOptimizer) demote(ctx context.Context, e *graph.Episode, change TierChange) error {
	now := time.Now().UTC()
	props := map[string]any{
		"injection_tier":  string(change.ToTier),
		"vector_indexed":  false,
		"demoted_at":      now,
		"demotion_reason": change.Reason,
	}
	if err := o.store.UpdateEpisode(ctx, e.UUID, props); err != nil {
		return err
	}
	slog.Info("Demoted episode",
		"uuid", e.UUID, "from", change.FromTier, "to", change.ToTier, "reason", change.Reason)
	o.logTierChange(ctx, change)
	return nil
}

func (o *TierOptimizer) promote(ctx context.Context, e *graph.Episode, change TierChange) error {
	now := time.Now().UTC()
	props := map[string]any{
		"injection_tier":   string(change.ToTier),
		"vector_indexed":   true,
		"promoted_at":      now,
		"promotion_reason": change.Reason,
	}
	if err := o.store.UpdateEpisode(ctx, e.UUID, props); err != nil {
		return err
	}
	slog.Info("Promoted episode",
		"uuid", e.UUID, "from", change.FromTier, "to", change.ToTier, "reason", change.Reason)
	o.logTierChange(ctx, change)
	return nil
}

func (o *TierOptimizer) logTierChange(ctx context.Context, change TierChange) {
	observability.GetGlobalMetrics().RecordTierChange(ctx, change.ChangeType)
	if o.log == nil {
		return
	}
	record := store.TierChange{
		EpisodeUUID: change.UUID,
		GroupID:     change.GroupID,
		FromTier:    string(change.FromTier),
		ToTier:      string(change.ToTier),
		Reason:      change.Reason,
		ChangeType:  change.ChangeType,
	}
	if err := o.log.RecordTierChange(ctx, record); err != nil {
		slog.Warn("Tier change audit write failed", "uuid", change.UUID, "error", err)
	}
}

// RecordCorrection handles a harmful rating that carries corrected content.
// A correction episode is written in the same tier and group, linked with a
// REPLACES edge, and the original is flagged so retrieval can prefer the
// replacement.
func (o *TierOptimizer) RecordCorrection(ctx context.Context, originalUUID, correctedContent string) (string, error) {
	original, err := o.store.GetEpisode(ctx, originalUUID)
	if err != nil {
		return "", fmt.Errorf("failed to load corrected episode: %w", err)
	}

	tags := ParseSourceTags(original.SourceDescription)
	tags.Source = "correction"
	result, err := o.store.AddEpisode(ctx, graph.AddEpisodeRequest{
		Name:              original.Name + " (corrected)",
		EpisodeBody:       correctedContent,
		SourceType:        "text",
		SourceDescription: tags.Format(),
		ReferenceTime:     time.Now().UTC(),
		GroupID:           original.GroupID,
		Properties: map[string]any{
			"injection_tier": string(original.InjectionTier),
			"vector_indexed": true,
			"is_correction":  true,
			"corrects_uuid":  original.UUID,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to write correction: %w", err)
	}

	if err := o.store.CreateEdge(ctx, graph.EdgeReplaces, result.EpisodeUUID, original.UUID); err != nil {
		return "", fmt.Errorf("failed to link correction: %w", err)
	}
	if err := o.store.UpdateEpisode(ctx, original.UUID, map[string]any{
		"vector_indexed":  false,
		"has_correction":  true,
		"correction_uuid": result.EpisodeUUID,
	}); err != nil {
		return "", fmt.Errorf("failed to flag corrected episode: %w", err)
	}

	o.logTierChange(ctx, TierChange{
		UUID:       original.UUID,
		Name:       original.Name,
		GroupID:    original.GroupID,
		FromTier:   original.InjectionTier,
		ToTier:     original.InjectionTier,
		Reason:     "correction",
		ChangeType: ChangeCorrection,
	})
	slog.Info("Recorded correction", "original", original.UUID, "correction", result.EpisodeUUID)
	return result.EpisodeUUID, nil
}
