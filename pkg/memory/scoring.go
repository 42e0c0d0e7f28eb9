package memory

import (
	"math"
	"sort"
	"time"

	"github.com/agenthub-io/agenthub/pkg/graph"
)

// Candidate is one scorable item produced by retrieval.
type Candidate struct {
	UUID               string
	Content            string
	Summary            string
	Tier               graph.Tier
	SemanticSimilarity float64 // [0,1]
	Confidence         int     // [0,100]
	LoadedCount        int
	ReferencedCount    int
	CreatedAt          time.Time
	LastUsedAt         *time.Time
	Pinned             bool
	HasTagMatch        bool
	IsGoldenStandard   bool
	TriggerTaskTypes   []string

	// FinalScore is filled by Score.
	FinalScore float64
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// Score computes the multi-factor score for one candidate under a variant.
func Score(c *Candidate, cfg VariantConfig, now time.Time) float64 {
	semantic := clamp01(c.SemanticSimilarity)

	// Neutral prior for episodes that were never loaded.
	usage := 0.5
	if c.LoadedCount > 0 {
		usage = math.Min(1, float64(c.ReferencedCount)/float64(c.LoadedCount))
	}

	confidence := clamp01(float64(c.Confidence) / 100)

	reference := c.CreatedAt
	if c.LastUsedAt != nil && c.LastUsedAt.After(reference) {
		reference = *c.LastUsedAt
	}
	ageDays := now.Sub(reference).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	halfLife := cfg.HalfLifeDays[c.Tier]
	if halfLife <= 0 {
		halfLife = 30
	}
	recency := math.Pow(0.5, ageDays/halfLife)

	base := cfg.WeightSemantic*semantic +
		cfg.WeightUsage*usage +
		cfg.WeightConfidence*confidence +
		cfg.WeightRecency*recency

	multiplier := cfg.TierMultipliers[c.Tier]
	if multiplier == 0 {
		multiplier = 1
	}
	final := base * multiplier
	if c.HasTagMatch {
		final *= cfg.TagBoost
	}
	return final
}

// Select scores candidates and returns those passing the threshold, sorted
// by final score descending. Tier multipliers bias scoring but never hard
// gate: a strong guardrail may outrank a weak mandate.
//
// Golden standards additionally require a minimum semantic similarity;
// confidence 100 multiplies the score but does not bypass that floor.
func Select(candidates []Candidate, cfg VariantConfig, now time.Time) []Candidate {
	var selected []Candidate
	for _, c := range candidates {
		if c.IsGoldenStandard && c.SemanticSimilarity < cfg.GoldenStandardMinSimilarity {
			continue
		}
		c.FinalScore = Score(&c, cfg, now)
		if c.FinalScore >= cfg.MinRelevanceThreshold {
			selected = append(selected, c)
		}
	}
	sort.SliceStable(selected, func(i, j int) bool {
		return selected[i].FinalScore > selected[j].FinalScore
	})
	return selected
}

// CandidateFromEpisode builds a scorable candidate from a stored episode.
func CandidateFromEpisode(episode graph.Episode, similarity float64) Candidate {
	tags := ParseSourceTags(episode.SourceDescription)
	return Candidate{
		UUID:               episode.UUID,
		Content:            episode.Content,
		Summary:            episode.Summary,
		Tier:               episode.InjectionTier,
		SemanticSimilarity: similarity,
		Confidence:         tags.Confidence,
		LoadedCount:        episode.LoadedCount,
		ReferencedCount:    episode.ReferencedCount,
		CreatedAt:          episode.CreatedAt,
		LastUsedAt:         episode.LastUsedAt,
		Pinned:             episode.Pinned,
		IsGoldenStandard:   tags.Source == "golden_standard",
		TriggerTaskTypes:   episode.TriggerTaskTypes,
	}
}
