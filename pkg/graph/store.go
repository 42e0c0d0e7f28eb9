package graph

import (
	"context"
	"time"
)

// Store is the boundary to the knowledge-graph + vector backend.
//
// Counter math goes through ApplyUsageDelta as a single upsert so that
// concurrent processes rely on the backend's own concurrency control
// instead of read-modify-write cycles.
type Store interface {
	// AddEpisode writes a new episode and triggers backend entity extraction.
	AddEpisode(ctx context.Context, req AddEpisodeRequest) (*AddEpisodeResult, error)

	// Search performs semantic search and returns scored entity edges.
	// Episodes with vector_indexed=false never appear in results.
	Search(ctx context.Context, query string, groupIDs []string, numResults int) ([]EntityEdge, error)

	// RetrieveEpisodes returns the last n episodes before referenceTime.
	RetrieveEpisodes(ctx context.Context, referenceTime time.Time, lastN int, groupIDs []string) ([]Episode, error)

	// RemoveEpisode deletes an episode.
	RemoveEpisode(ctx context.Context, uuid string) error

	// GetEpisode returns an episode by UUID regardless of vector_indexed.
	GetEpisode(ctx context.Context, uuid string) (*Episode, error)

	// ListByTier returns episodes in the given tier across groups.
	ListByTier(ctx context.Context, groupIDs []string, tier Tier) ([]Episode, error)

	// UpdateEpisode patches typed properties on an episode node.
	UpdateEpisode(ctx context.Context, uuid string, props map[string]any) error

	// ApplyUsageDelta bumps the five counters in one upsert, stamps
	// last_used_at, and recomputes utility_score. The same UUID may address
	// an Episodic node, a mentioned Entity, or an Edge; the backend resolves
	// all three shapes.
	ApplyUsageDelta(ctx context.Context, uuid string, delta UsageDelta) error

	// ResolvePrefix resolves an 8-char citation prefix within a group.
	// Returns ErrNotFound when nothing matches and AmbiguousPrefixError
	// when more than one episode matches.
	ResolvePrefix(ctx context.Context, groupID, prefix string) (string, error)

	// CreateEdge writes a typed relationship between two episodes.
	CreateEdge(ctx context.Context, edgeType EdgeType, fromUUID, toUUID string) error

	// ExecuteQuery runs a raw backend query for specialized maintenance.
	ExecuteQuery(ctx context.Context, query string, params map[string]any) ([]map[string]any, error)

	// Close releases resources.
	Close() error
}
