package config

import (
	"fmt"
	"time"
)

// MemoryConfig configures the context injection engine.
type MemoryConfig struct {
	// TokenBudget caps total injected context tokens.
	TokenBudget int `yaml:"token_budget,omitempty" json:"token_budget,omitempty" jsonschema:"title=Token Budget,minimum=500,default=3000"`

	// MaxMandates is the per-injection soft cap on mandates.
	MaxMandates int `yaml:"max_mandates,omitempty" json:"max_mandates,omitempty" jsonschema:"title=Max Mandates,default=10"`

	// MaxGuardrails is the per-injection soft cap on guardrails.
	MaxGuardrails int `yaml:"max_guardrails,omitempty" json:"max_guardrails,omitempty" jsonschema:"title=Max Guardrails,default=8"`

	// SearchLimit is how many reference candidates semantic search returns.
	SearchLimit int `yaml:"search_limit,omitempty" json:"search_limit,omitempty" jsonschema:"title=Search Limit,default=20"`

	// IndexTTL is the adaptive index cache lifetime.
	IndexTTL time.Duration `yaml:"index_ttl,omitempty" json:"index_ttl,omitempty" jsonschema:"title=Index TTL,default=300s"`

	// FlushInterval is the usage buffer flush cadence (max 60s).
	FlushInterval time.Duration `yaml:"flush_interval,omitempty" json:"flush_interval,omitempty" jsonschema:"title=Flush Interval,default=30s"`

	// GoldenStandardMinSimilarity gates mandate injection on semantic match.
	GoldenStandardMinSimilarity float64 `yaml:"golden_standard_min_similarity,omitempty" json:"golden_standard_min_similarity,omitempty" jsonschema:"title=Golden Standard Min Similarity,default=0.25"`

	// ClusterSimilarityThreshold triggers LLM-gated dedup on golden writes.
	ClusterSimilarityThreshold float64 `yaml:"cluster_similarity_threshold,omitempty" json:"cluster_similarity_threshold,omitempty" jsonschema:"title=Cluster Similarity Threshold,default=0.85"`

	// VariantOverride pins all scoring to a named variant (testing escape hatch).
	VariantOverride string `yaml:"variant_override,omitempty" json:"variant_override,omitempty" jsonschema:"title=Variant Override,description=Force a scoring variant for all assignments"`

	// StateDir holds the durable session state file. Defaults to ~/.agenthub.
	StateDir string `yaml:"state_dir,omitempty" json:"state_dir,omitempty" jsonschema:"title=State Dir,description=Directory for session state files"`
}

// SetDefaults applies default values.
func (c *MemoryConfig) SetDefaults() {
	if c.TokenBudget == 0 {
		c.TokenBudget = 3000
	}
	if c.MaxMandates == 0 {
		c.MaxMandates = 10
	}
	if c.MaxGuardrails == 0 {
		c.MaxGuardrails = 8
	}
	if c.SearchLimit == 0 {
		c.SearchLimit = 20
	}
	if c.IndexTTL == 0 {
		c.IndexTTL = 300 * time.Second
	}
	if c.FlushInterval == 0 {
		c.FlushInterval = 30 * time.Second
	}
	if c.GoldenStandardMinSimilarity == 0 {
		c.GoldenStandardMinSimilarity = 0.25
	}
	if c.ClusterSimilarityThreshold == 0 {
		c.ClusterSimilarityThreshold = 0.85
	}
}

// Validate checks the configuration.
func (c *MemoryConfig) Validate() error {
	if c.FlushInterval > 60*time.Second {
		return fmt.Errorf("flush_interval must not exceed 60s")
	}
	if c.TokenBudget < 500 {
		return fmt.Errorf("token_budget must be at least 500")
	}
	return nil
}

// OptimizerConfig holds tier optimizer thresholds. These are the
// configurable constants; defaults match the documented control loop.
type OptimizerConfig struct {
	// Interval between optimizer runs.
	Interval time.Duration `yaml:"interval,omitempty" json:"interval,omitempty" jsonschema:"title=Interval,default=6h"`

	// GracePeriod before a new episode can be demoted.
	GracePeriod time.Duration `yaml:"grace_period,omitempty" json:"grace_period,omitempty" jsonschema:"title=Grace Period,default=48h"`

	// MinAge before any tier change.
	MinAge time.Duration `yaml:"min_age,omitempty" json:"min_age,omitempty" jsonschema:"title=Min Age,default=168h"`

	// HarmfulThreshold triggers demotion on harmful ratings.
	HarmfulThreshold int `yaml:"harmful_threshold,omitempty" json:"harmful_threshold,omitempty" jsonschema:"title=Harmful Threshold,default=3"`

	// HelpfulThreshold triggers promotion on helpful ratings.
	HelpfulThreshold int `yaml:"helpful_threshold,omitempty" json:"helpful_threshold,omitempty" jsonschema:"title=Helpful Threshold,default=5"`

	// LoadedFloor is the minimum loads before utility-based demotion.
	LoadedFloor int `yaml:"loaded_floor,omitempty" json:"loaded_floor,omitempty" jsonschema:"title=Loaded Floor,default=50"`

	// LowUtility demotes episodes below this utility score.
	LowUtility float64 `yaml:"low_utility,omitempty" json:"low_utility,omitempty" jsonschema:"title=Low Utility,default=0.15"`

	// GhostRatio demotes episodes loaded often but never cited.
	GhostRatio float64 `yaml:"ghost_ratio,omitempty" json:"ghost_ratio,omitempty" jsonschema:"title=Ghost Ratio,default=10"`

	// ReferencedFloor is the minimum references before utility-based promotion.
	ReferencedFloor int `yaml:"referenced_floor,omitempty" json:"referenced_floor,omitempty" jsonschema:"title=Referenced Floor,default=20"`

	// HighUtility promotes episodes above this utility score.
	HighUtility float64 `yaml:"high_utility,omitempty" json:"high_utility,omitempty" jsonschema:"title=High Utility,default=0.70"`
}

// SetDefaults applies default values.
func (c *OptimizerConfig) SetDefaults() {
	if c.Interval == 0 {
		c.Interval = 6 * time.Hour
	}
	if c.GracePeriod == 0 {
		c.GracePeriod = 48 * time.Hour
	}
	if c.MinAge == 0 {
		c.MinAge = 7 * 24 * time.Hour
	}
	if c.HarmfulThreshold == 0 {
		c.HarmfulThreshold = 3
	}
	if c.HelpfulThreshold == 0 {
		c.HelpfulThreshold = 5
	}
	if c.LoadedFloor == 0 {
		c.LoadedFloor = 50
	}
	if c.LowUtility == 0 {
		c.LowUtility = 0.15
	}
	if c.GhostRatio == 0 {
		c.GhostRatio = 10
	}
	if c.ReferencedFloor == 0 {
		c.ReferencedFloor = 20
	}
	if c.HighUtility == 0 {
		c.HighUtility = 0.70
	}
}

// Validate checks the configuration.
func (c *OptimizerConfig) Validate() error {
	if c.LowUtility >= c.HighUtility {
		return fmt.Errorf("low_utility must be below high_utility")
	}
	return nil
}
