package memory

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/agenthub-io/agenthub/pkg/graph"
)

const (
	// consolidationConfidenceFloor keeps only episodes worth carrying into
	// the project scope when the task had no citation signal for them.
	consolidationConfidenceFloor = 70

	// taskEpisodeTTL is how long unconsolidated task episodes survive.
	taskEpisodeTTL = 72 * time.Hour
)

// ConsolidationReport summarizes one consolidation pass.
type ConsolidationReport struct {
	TaskID    string `json:"task_id"`
	Examined  int    `json:"examined"`
	Promoted  int    `json:"promoted"`
	Discarded int    `json:"discarded"`
}

// Consolidator moves knowledge written during a task out of its task scope
// when the task completes. Successful tasks promote their useful episodes
// into the project scope; failed tasks are cleaned up wholesale.
type Consolidator struct {
	store graph.Store
}

// NewConsolidator creates the consolidator.
func NewConsolidator(store graph.Store) *Consolidator {
	return &Consolidator{store: store}
}

// OnTaskComplete consolidates the task's scope. With succeeded=false every
// task episode is discarded; otherwise episodes that were cited or carry
// enough confidence are rewritten into the project group and the rest
// dropped. The task group is empty afterward either way.
func (c *Consolidator) OnTaskComplete(ctx context.Context, taskID, projectID string, succeeded bool) (*ConsolidationReport, error) {
	taskGroup, err := GroupID(ScopeTask, taskID)
	if err != nil {
		return nil, err
	}
	projectGroup, err := GroupID(ScopeProject, projectID)
	if err != nil {
		return nil, err
	}

	episodes, err := c.taskEpisodes(ctx, taskGroup)
	if err != nil {
		return nil, err
	}

	report := &ConsolidationReport{TaskID: taskID, Examined: len(episodes)}
	for _, episode := range episodes {
		if succeeded && c.worthKeeping(&episode) {
			if err := c.promote(ctx, &episode, taskGroup, projectGroup); err != nil {
				slog.Warn("Consolidation promote failed, keeping task episode",
					"uuid", episode.UUID, "error", err)
				continue
			}
			report.Promoted++
		} else {
			report.Discarded++
		}
		if err := c.store.RemoveEpisode(ctx, episode.UUID); err != nil {
			slog.Warn("Failed to remove task episode", "uuid", episode.UUID, "error", err)
		}
	}

	slog.Info("Consolidated task scope",
		"task_id", taskID, "succeeded", succeeded,
		"promoted", report.Promoted, "discarded", report.Discarded)
	return report, nil
}

// CleanupExpired removes task episodes older than the TTL from the given
// task groups. Runs alongside the tier optimizer.
func (c *Consolidator) CleanupExpired(ctx context.Context, taskIDs []string) (int, error) {
	cutoff := time.Now().Add(-taskEpisodeTTL)
	removed := 0
	for _, taskID := range taskIDs {
		taskGroup, err := GroupID(ScopeTask, taskID)
		if err != nil {
			return removed, err
		}
		episodes, err := c.taskEpisodes(ctx, taskGroup)
		if err != nil {
			return removed, err
		}
		for _, episode := range episodes {
			if episode.CreatedAt.After(cutoff) {
				continue
			}
			if err := c.store.RemoveEpisode(ctx, episode.UUID); err != nil {
				slog.Warn("TTL cleanup failed", "uuid", episode.UUID, "error", err)
				continue
			}
			removed++
		}
	}
	return removed, nil
}

func (c *Consolidator) taskEpisodes(ctx context.Context, taskGroup string) ([]graph.Episode, error) {
	var episodes []graph.Episode
	for _, tier := range graph.TierHierarchy {
		tiered, err := c.store.ListByTier(ctx, []string{taskGroup}, tier)
		if err != nil {
			return nil, fmt.Errorf("failed to list task episodes: %w", err)
		}
		episodes = append(episodes, tiered...)
	}
	return episodes, nil
}

// worthKeeping decides whether a task episode earned a place in the
// project scope: it was cited at least once, or it carries provisional-or-
// better confidence.
func (c *Consolidator) worthKeeping(e *graph.Episode) bool {
	if e.Pinned || e.ReferencedCount > 0 {
		return true
	}
	return ParseSourceTags(e.SourceDescription).Confidence >= consolidationConfidenceFloor
}

// promote rewrites the episode into the project group, tagging where it
// came from. Counters restart in the new scope.
func (c *Consolidator) promote(ctx context.Context, e *graph.Episode, taskGroup, projectGroup string) error {
	tags := ParseSourceTags(e.SourceDescription)
	tags.MigratedFrom = taskGroup

	_, err := c.store.AddEpisode(ctx, graph.AddEpisodeRequest{
		Name:              e.Name,
		EpisodeBody:       e.Content,
		SourceType:        "text",
		SourceDescription: tags.Format(),
		ReferenceTime:     time.Now().UTC(),
		GroupID:           projectGroup,
		Properties: map[string]any{
			"injection_tier":     string(e.InjectionTier),
			"summary":            e.Summary,
			"pinned":             e.Pinned,
			"auto_inject":        e.AutoInject,
			"trigger_task_types": e.TriggerTaskTypes,
			"vector_indexed":     true,
		},
	})
	return err
}
