// Package graph defines the client boundary to the knowledge-graph +
// vector backend. The backend itself (graph database, vector index,
// reranker) is external; this package only issues requests to it.
//
// Two implementations exist: Client talks to a remote graphiti-style
// service over HTTP, and LocalStore is an embedded fallback for dev and
// single-node deployments backed by a chromem vector index.
package graph

import (
	"errors"
	"fmt"
	"time"
)

// Tier is an episode's injection tier.
type Tier string

const (
	// TierMandate episodes are always-inject rules.
	TierMandate Tier = "mandate"

	// TierGuardrail episodes are anti-patterns and gotchas.
	TierGuardrail Tier = "guardrail"

	// TierReference episodes are retrievable patterns.
	TierReference Tier = "reference"
)

// TierHierarchy orders tiers from highest to lowest.
var TierHierarchy = []Tier{TierMandate, TierGuardrail, TierReference}

// NextLower returns the tier one step down, or the same tier at the bottom.
func (t Tier) NextLower() Tier {
	for i, tier := range TierHierarchy {
		if tier == t && i < len(TierHierarchy)-1 {
			return TierHierarchy[i+1]
		}
	}
	return t
}

// NextHigher returns the tier one step up, or the same tier at the top.
func (t Tier) NextHigher() Tier {
	for i, tier := range TierHierarchy {
		if tier == t && i > 0 {
			return TierHierarchy[i-1]
		}
	}
	return t
}

// Valid reports whether the tier is one of the three known tiers.
func (t Tier) Valid() bool {
	return t == TierMandate || t == TierGuardrail || t == TierReference
}

// Episode is the unit of stored knowledge.
type Episode struct {
	UUID              string     `json:"uuid"`
	Name              string     `json:"name"`
	Content           string     `json:"content"`
	GroupID           string     `json:"group_id"`
	SourceDescription string     `json:"source_description"`
	InjectionTier     Tier       `json:"injection_tier"`
	Summary           string     `json:"summary,omitempty"`
	Pinned            bool       `json:"pinned"`
	AutoInject        bool       `json:"auto_inject"`
	DisplayOrder      int        `json:"display_order"`
	TriggerTaskTypes  []string   `json:"trigger_task_types,omitempty"`
	VectorIndexed     bool       `json:"vector_indexed"`
	LoadedCount       int        `json:"loaded_count"`
	ReferencedCount   int        `json:"referenced_count"`
	HelpfulCount      int        `json:"helpful_count"`
	HarmfulCount      int        `json:"harmful_count"`
	SuccessCount      int        `json:"success_count"`
	UtilityScore      float64    `json:"utility_score"`
	Synonyms          []string   `json:"synonyms,omitempty"`
	RefCount          int        `json:"ref_count"`
	HasCorrection     bool       `json:"has_correction"`
	CorrectionUUID    string     `json:"correction_uuid,omitempty"`
	IsCorrection      bool       `json:"is_correction"`
	CorrectsUUID      string     `json:"corrects_uuid,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	ValidAt           time.Time  `json:"valid_at"`
	LastUsedAt        *time.Time `json:"last_used_at,omitempty"`
	DemotedAt         *time.Time `json:"demoted_at,omitempty"`
	DemotionReason    string     `json:"demotion_reason,omitempty"`
	PromotedAt        *time.Time `json:"promoted_at,omitempty"`
	PromotionReason   string     `json:"promotion_reason,omitempty"`
}

// ShortID returns the 8-char citation prefix of the episode UUID.
func (e *Episode) ShortID() string {
	if len(e.UUID) < 8 {
		return e.UUID
	}
	return e.UUID[:8]
}

// ComputeUtility derives the utility score from the current counters.
// Utility is success/referenced once referenced, else 0.
func (e *Episode) ComputeUtility() float64 {
	if e.ReferencedCount > 0 {
		return float64(e.SuccessCount) / float64(e.ReferencedCount)
	}
	return 0
}

// GhostRatio is loaded/(referenced+1); high values mean the episode is
// injected often but never cited.
func (e *Episode) GhostRatio() float64 {
	return float64(e.LoadedCount) / float64(e.ReferencedCount+1)
}

// EntityEdge relates two entities extracted by the graph backend.
type EntityEdge struct {
	UUID              string    `json:"uuid"`
	Fact              string    `json:"fact"`
	CreatedAt         time.Time `json:"created_at"`
	Score             float64   `json:"score"`
	SourceDescription string    `json:"source_description"`
	SourceNodeName    string    `json:"source_node_name,omitempty"`
	TargetNodeName    string    `json:"target_node_name,omitempty"`
	Episodes          []string  `json:"episodes,omitempty"`
	InjectionTier     Tier      `json:"injection_tier,omitempty"`
}

// AddEpisodeRequest carries a new episode write.
type AddEpisodeRequest struct {
	Name              string         `json:"name"`
	EpisodeBody       string         `json:"episode_body"`
	SourceType        string         `json:"source_type"`
	SourceDescription string         `json:"source_description"`
	ReferenceTime     time.Time      `json:"reference_time"`
	GroupID           string         `json:"group_id"`
	Properties        map[string]any `json:"properties,omitempty"`
}

// AddEpisodeResult is the backend's response to an episode write.
type AddEpisodeResult struct {
	EpisodeUUID string   `json:"episode_uuid"`
	NodeUUIDs   []string `json:"node_uuids,omitempty"`
	EdgeUUIDs   []string `json:"edge_uuids,omitempty"`
}

// UsageDelta is one flush unit of counter increments for a node.
type UsageDelta struct {
	Loaded     int
	Referenced int
	Success    int
	Helpful    int
	Harmful    int
}

// IsZero reports whether the delta carries no increments.
func (d UsageDelta) IsZero() bool {
	return d.Loaded == 0 && d.Referenced == 0 && d.Success == 0 && d.Helpful == 0 && d.Harmful == 0
}

// Add accumulates another delta into this one.
func (d *UsageDelta) Add(other UsageDelta) {
	d.Loaded += other.Loaded
	d.Referenced += other.Referenced
	d.Success += other.Success
	d.Helpful += other.Helpful
	d.Harmful += other.Harmful
}

// EdgeType names a typed relationship written by this core.
type EdgeType string

const (
	// EdgeReplaces links a harmful correction to the episode it replaces.
	EdgeReplaces EdgeType = "REPLACES"

	// EdgeRefines links a golden-standard variation to its canonical.
	EdgeRefines EdgeType = "REFINES"
)

// ErrNotFound is returned when an episode does not exist.
var ErrNotFound = errors.New("episode not found")

// ErrUnsupportedQuery is returned by the local store for raw queries it
// does not implement.
var ErrUnsupportedQuery = errors.New("raw query not supported by local store")

// AmbiguousPrefixError is returned when a citation prefix matches more than
// one episode within a group.
type AmbiguousPrefixError struct {
	Prefix  string
	GroupID string
	Matches int
}

func (e *AmbiguousPrefixError) Error() string {
	return fmt.Sprintf("prefix %q matches %d episodes in group %q", e.Prefix, e.Matches, e.GroupID)
}
