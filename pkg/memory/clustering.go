package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agenthub-io/agenthub/pkg/graph"
	"github.com/agenthub-io/agenthub/pkg/llms"
)

// maxSynonymLength truncates stored synonym phrasings.
const maxSynonymLength = 500

// ClusterAction is the outcome of a canonical clustering check.
type ClusterAction string

const (
	// ClusterNone found no near-duplicate; the write proceeds normally.
	ClusterNone ClusterAction = "none"

	// ClusterRephrase absorbed the text as a synonym of the canonical.
	ClusterRephrase ClusterAction = "rephrase"

	// ClusterVariation created a new episode refining the canonical.
	ClusterVariation ClusterAction = "variation"
)

// ClusterResult reports what the clusterer did with one candidate write.
type ClusterResult struct {
	Action        ClusterAction `json:"action"`
	CanonicalUUID string        `json:"canonical_uuid,omitempty"`
	Similarity    float64       `json:"similarity,omitempty"`
}

const classifyPrompt = `Two coding standards are semantically similar. Decide their relationship.

Standard A (existing): %s

Standard B (new): %s

Answer with exactly one word:
rephrase - B says the same thing as A in different words
variation - B covers a related but distinct case

Answer:`

// Clusterer keeps golden-standard mandates canonical. A new standard that
// lands within the similarity threshold of an existing one is either
// absorbed as a synonym or linked as a variation, decided by an LLM call.
type Clusterer struct {
	store     graph.Store
	llm       llms.Provider // nil disables classification, treating matches as variations
	threshold float64
}

// NewClusterer creates the clusterer. llm may be nil.
func NewClusterer(store graph.Store, llm llms.Provider, threshold float64) *Clusterer {
	if threshold <= 0 || threshold > 1 {
		threshold = 0.85
	}
	return &Clusterer{store: store, llm: llm, threshold: threshold}
}

// Check inspects a candidate golden-standard write against existing
// mandates in the group. The caller only writes a fresh episode when the
// returned action is ClusterNone or ClusterVariation; ClusterVariation
// additionally gets a cluster id to tag the new episode with.
func (c *Clusterer) Check(ctx context.Context, groupID, content string) (*ClusterResult, string, error) {
	edges, err := c.store.Search(ctx, content, []string{groupID}, 5)
	if err != nil {
		return nil, "", fmt.Errorf("cluster search failed: %w", err)
	}

	var canonical *graph.Episode
	var similarity float64
	for _, edge := range edges {
		if edge.Score < c.threshold || len(edge.Episodes) == 0 {
			continue
		}
		episode, err := c.store.GetEpisode(ctx, edge.Episodes[0])
		if err != nil {
			continue
		}
		if episode.InjectionTier != graph.TierMandate {
			continue
		}
		if ParseSourceTags(episode.SourceDescription).Source != "golden_standard" {
			continue
		}
		canonical = episode
		similarity = edge.Score
		break
	}
	if canonical == nil {
		return &ClusterResult{Action: ClusterNone}, "", nil
	}

	action := c.classify(ctx, canonical.Content, content)
	result := &ClusterResult{
		Action:        action,
		CanonicalUUID: canonical.UUID,
		Similarity:    similarity,
	}

	if action == ClusterRephrase {
		if err := c.absorbSynonym(ctx, canonical, content); err != nil {
			return nil, "", err
		}
		return result, "", nil
	}

	clusterID := ParseSourceTags(canonical.SourceDescription).ClusterID
	if clusterID == "" {
		clusterID = uuid.NewString()[:8]
		tags := ParseSourceTags(canonical.SourceDescription)
		tags.ClusterID = clusterID
		if err := c.store.UpdateEpisode(ctx, canonical.UUID, map[string]any{
			"source_description": tags.Format(),
		}); err != nil {
			slog.Warn("Failed to tag canonical with cluster id", "uuid", canonical.UUID, "error", err)
		}
	}
	return result, clusterID, nil
}

// Link writes the REFINES edge from a freshly created variation to its
// canonical. Kept separate from Check because the variation's UUID only
// exists after the episode write.
func (c *Clusterer) Link(ctx context.Context, variationUUID, canonicalUUID string) error {
	if err := c.store.CreateEdge(ctx, graph.EdgeRefines, variationUUID, canonicalUUID); err != nil {
		return fmt.Errorf("failed to link variation: %w", err)
	}
	return nil
}

// classify asks the LLM whether the new text rephrases the canonical.
// Any failure or unrecognized answer falls back to variation, which only
// costs a redundant episode rather than losing content.
func (c *Clusterer) classify(ctx context.Context, canonical, candidate string) ClusterAction {
	if c.llm == nil {
		return ClusterVariation
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	result, err := c.llm.Complete(ctx, llms.CompletionRequest{
		Messages: []llms.Message{
			{Role: "user", Content: fmt.Sprintf(classifyPrompt, canonical, candidate)},
		},
		MaxTokens:   16,
		Temperature: 0,
	})
	if err != nil {
		slog.Warn("Cluster classification failed, assuming variation", "error", err)
		return ClusterVariation
	}

	if strings.Contains(strings.ToLower(result.Content), "rephrase") {
		return ClusterRephrase
	}
	return ClusterVariation
}

// absorbSynonym appends the rephrased text to the canonical's synonym list
// and bumps its reference count.
func (c *Clusterer) absorbSynonym(ctx context.Context, canonical *graph.Episode, content string) error {
	synonym := content
	if len(synonym) > maxSynonymLength {
		synonym = synonym[:maxSynonymLength]
	}
	synonyms := append(append([]string(nil), canonical.Synonyms...), synonym)

	if err := c.store.UpdateEpisode(ctx, canonical.UUID, map[string]any{
		"synonyms":  synonyms,
		"ref_count": canonical.RefCount + 1,
	}); err != nil {
		return fmt.Errorf("failed to absorb synonym: %w", err)
	}
	slog.Info("Absorbed rephrase as synonym", "canonical", canonical.UUID, "synonyms", len(synonyms))
	return nil
}
