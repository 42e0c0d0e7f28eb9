package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/agenthub-io/agenthub/pkg/graph"
)

// verbosePhrases rejects conversational filler. Episodes are declarative
// facts; anything addressed to a reader is noise at injection time.
var verbosePhrases = []string{
	"you should",
	"i recommend",
	"i suggest",
	"i think",
	"please",
	"thank you",
	"thanks",
	"let me know",
	"feel free",
	"you might want",
	"hope this helps",
	"as an ai",
}

// ValidationError reports rejected content with the phrases that tripped it.
type ValidationError struct {
	Message          string   `json:"message"`
	DetectedPatterns []string `json:"detected_patterns"`
	Hint             string   `json:"hint"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Message, strings.Join(e.DetectedPatterns, ", "))
}

// CreateConfig controls one ingestion.
type CreateConfig struct {
	Tier               graph.Tier
	Category           string
	Confidence         int
	Validate           bool
	Deduplicate        bool
	DedupWindowMinutes int // 0 = no window restriction
	Status             string
	AntiPattern        bool
	Pinned             bool
	AutoInject         bool
	Summary            string
	TriggerTaskTypes   []string
}

// Ingestion profiles. GoldenStandard dedups across all history; stream and
// learning ingestion only within a short window.
var (
	ProfileGoldenStandard = CreateConfig{
		Tier:        graph.TierMandate,
		Category:    "golden_standard",
		Confidence:  100,
		Validate:    true,
		Deduplicate: true,
		AutoInject:  true,
	}
	ProfileChatStream = CreateConfig{
		Tier:               graph.TierReference,
		Category:           "chat",
		Confidence:         60,
		Validate:           false,
		Deduplicate:        true,
		DedupWindowMinutes: 1,
	}
	ProfileLearning = CreateConfig{
		Tier:               graph.TierReference,
		Category:           "learning",
		Confidence:         70,
		Validate:           true,
		Deduplicate:        true,
		DedupWindowMinutes: 5,
		Status:             StatusProvisional,
	}
	ProfileToolDiscovery = CreateConfig{
		Tier:               graph.TierReference,
		Category:           "tool_discovery",
		Confidence:         80,
		Validate:           false,
		Deduplicate:        true,
		DedupWindowMinutes: 5,
	}
	ProfileToolGotcha = CreateConfig{
		Tier:               graph.TierGuardrail,
		Category:           "tool_gotcha",
		Confidence:         85,
		Validate:           false,
		Deduplicate:        true,
		DedupWindowMinutes: 5,
		AntiPattern:        true,
	}
)

// CreateResult is the outcome of one ingestion. A dedup hit is success with
// the existing UUID, not an error.
type CreateResult struct {
	Success         bool             `json:"success"`
	UUID            string           `json:"uuid,omitempty"`
	Deduplicated    bool             `json:"deduplicated"`
	ValidationError *ValidationError `json:"validation_error,omitempty"`
}

// Creator is the single ingestion funnel. Nothing else writes episodes.
type Creator struct {
	store graph.Store
}

// NewCreator creates the funnel over a graph store.
func NewCreator(store graph.Store) *Creator {
	return &Creator{store: store}
}

// Create validates, deduplicates, and writes one episode.
func (c *Creator) Create(ctx context.Context, content, name string, cfg CreateConfig, groupID, source string, referenceTime time.Time) (*CreateResult, error) {
	if cfg.Validate {
		if detected := detectVerbosePhrases(content); len(detected) > 0 {
			return &CreateResult{
				ValidationError: &ValidationError{
					Message:          "content is conversational, not declarative",
					DetectedPatterns: detected,
					Hint:             "state the fact directly, e.g. \"All I/O is async\" instead of \"you should use async I/O\"",
				},
			}, nil
		}
	}

	if cfg.Deduplicate {
		existing, err := c.findDuplicate(ctx, content, groupID, cfg.DedupWindowMinutes)
		if err != nil {
			slog.Warn("Dedup lookup failed, writing anyway", "group_id", groupID, "error", err)
		} else if existing != "" {
			return &CreateResult{Success: true, UUID: existing, Deduplicated: true}, nil
		}
	}

	tags := SourceTags{
		Category:    cfg.Category,
		Tier:        cfg.Tier,
		Source:      source,
		Confidence:  cfg.Confidence,
		AntiPattern: cfg.AntiPattern,
		Status:      cfg.Status,
	}

	result, err := c.store.AddEpisode(ctx, graph.AddEpisodeRequest{
		Name:              name,
		EpisodeBody:       content,
		SourceType:        "text",
		SourceDescription: tags.Format(),
		ReferenceTime:     referenceTime,
		GroupID:           groupID,
		Properties: map[string]any{
			"injection_tier":     cfg.Tier,
			"summary":            cfg.Summary,
			"pinned":             cfg.Pinned,
			"auto_inject":        cfg.AutoInject,
			"trigger_task_types": cfg.TriggerTaskTypes,
			"vector_indexed":     true,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to write episode: %w", err)
	}
	return &CreateResult{Success: true, UUID: result.EpisodeUUID}, nil
}

func detectVerbosePhrases(content string) []string {
	lower := strings.ToLower(content)
	var detected []string
	for _, phrase := range verbosePhrases {
		if strings.Contains(lower, phrase) {
			detected = append(detected, phrase)
		}
	}
	return detected
}

// ContentHash normalizes whitespace, lowercases, and hashes. Two contents
// with the same hash are duplicates regardless of formatting.
func ContentHash(content string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(content), " "))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// findDuplicate looks for a semantically similar episode whose normalized
// hash matches, created within the window (0 = any age).
func (c *Creator) findDuplicate(ctx context.Context, content, groupID string, windowMinutes int) (string, error) {
	edges, err := c.store.Search(ctx, content, []string{groupID}, 10)
	if err != nil {
		return "", err
	}

	hash := ContentHash(content)
	cutoff := time.Time{}
	if windowMinutes > 0 {
		cutoff = time.Now().Add(-time.Duration(windowMinutes) * time.Minute)
	}

	for _, edge := range edges {
		if len(edge.Episodes) == 0 {
			continue
		}
		episode, err := c.store.GetEpisode(ctx, edge.Episodes[0])
		if err != nil {
			continue
		}
		if !cutoff.IsZero() && episode.CreatedAt.Before(cutoff) {
			continue
		}
		if ContentHash(episode.Content) == hash {
			return episode.UUID, nil
		}
	}
	return "", nil
}
