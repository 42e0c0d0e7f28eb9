package memory

import (
	"hash/fnv"

	"github.com/agenthub-io/agenthub/pkg/graph"
)

// Variant names.
const (
	VariantBaseline   = "BASELINE"
	VariantEnhanced   = "ENHANCED"
	VariantMinimal    = "MINIMAL"
	VariantAggressive = "AGGRESSIVE"
)

// VariantConfig bundles the scoring knobs for one A/B arm. Weights sum to 1.
type VariantConfig struct {
	Name string

	WeightSemantic   float64
	WeightUsage      float64
	WeightConfidence float64
	WeightRecency    float64

	TierMultipliers map[graph.Tier]float64
	HalfLifeDays    map[graph.Tier]float64

	TagBoost                    float64
	MinRelevanceThreshold       float64
	GoldenStandardMinSimilarity float64
}

var variants = map[string]VariantConfig{
	VariantBaseline: {
		Name:             VariantBaseline,
		WeightSemantic:   0.40,
		WeightUsage:      0.25,
		WeightConfidence: 0.20,
		WeightRecency:    0.15,
		TierMultipliers: map[graph.Tier]float64{
			graph.TierMandate:   1.5,
			graph.TierGuardrail: 1.3,
			graph.TierReference: 1.0,
		},
		HalfLifeDays: map[graph.Tier]float64{
			graph.TierMandate:   180,
			graph.TierGuardrail: 90,
			graph.TierReference: 30,
		},
		TagBoost:                    1.2,
		MinRelevanceThreshold:       0.35,
		GoldenStandardMinSimilarity: 0.25,
	},
	VariantEnhanced: {
		Name:             VariantEnhanced,
		WeightSemantic:   0.50,
		WeightUsage:      0.20,
		WeightConfidence: 0.15,
		WeightRecency:    0.15,
		TierMultipliers: map[graph.Tier]float64{
			graph.TierMandate:   1.6,
			graph.TierGuardrail: 1.4,
			graph.TierReference: 1.0,
		},
		HalfLifeDays: map[graph.Tier]float64{
			graph.TierMandate:   240,
			graph.TierGuardrail: 120,
			graph.TierReference: 45,
		},
		TagBoost:                    1.3,
		MinRelevanceThreshold:       0.30,
		GoldenStandardMinSimilarity: 0.25,
	},
	VariantMinimal: {
		Name:             VariantMinimal,
		WeightSemantic:   0.60,
		WeightUsage:      0.15,
		WeightConfidence: 0.15,
		WeightRecency:    0.10,
		TierMultipliers: map[graph.Tier]float64{
			graph.TierMandate:   1.2,
			graph.TierGuardrail: 1.1,
			graph.TierReference: 1.0,
		},
		HalfLifeDays: map[graph.Tier]float64{
			graph.TierMandate:   120,
			graph.TierGuardrail: 60,
			graph.TierReference: 21,
		},
		TagBoost:                    1.1,
		MinRelevanceThreshold:       0.50,
		GoldenStandardMinSimilarity: 0.30,
	},
	VariantAggressive: {
		Name:             VariantAggressive,
		WeightSemantic:   0.30,
		WeightUsage:      0.30,
		WeightConfidence: 0.20,
		WeightRecency:    0.20,
		TierMultipliers: map[graph.Tier]float64{
			graph.TierMandate:   1.8,
			graph.TierGuardrail: 1.5,
			graph.TierReference: 1.0,
		},
		HalfLifeDays: map[graph.Tier]float64{
			graph.TierMandate:   365,
			graph.TierGuardrail: 180,
			graph.TierReference: 60,
		},
		TagBoost:                    1.4,
		MinRelevanceThreshold:       0.20,
		GoldenStandardMinSimilarity: 0.20,
	},
}

// variantBuckets maps hash mod 100 to a variant: 50% baseline, 30% enhanced,
// 10% minimal, 10% aggressive.
func bucketVariant(n uint32) string {
	switch mod := n % 100; {
	case mod < 50:
		return VariantBaseline
	case mod < 80:
		return VariantEnhanced
	case mod < 90:
		return VariantMinimal
	default:
		return VariantAggressive
	}
}

// AssignVariant deterministically assigns an A/B arm for the pair. The same
// inputs return the same variant across processes. A non-empty override
// short-circuits the hash.
func AssignVariant(externalID, projectID, override string) VariantConfig {
	if override != "" {
		if cfg, ok := variants[override]; ok {
			return cfg
		}
	}

	h := fnv.New32a()
	h.Write([]byte(externalID + ":" + projectID))
	return variants[bucketVariant(h.Sum32())]
}

// VariantByName returns a preset by name, falling back to baseline.
func VariantByName(name string) VariantConfig {
	if cfg, ok := variants[name]; ok {
		return cfg
	}
	return variants[VariantBaseline]
}
