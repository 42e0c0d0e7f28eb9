package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/agenthub-io/agenthub/pkg/config"
	"github.com/agenthub-io/agenthub/pkg/httpclient"
)

// Client talks to a remote graphiti-style graph service over HTTP.
// Specialized maintenance (counter upserts, prefix lookups, typed edges)
// is expressed as raw queries through the service's query endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *httpclient.Client
}

// NewClient creates a remote graph client.
func NewClient(cfg config.GraphConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("graph base_url is required")
	}

	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{
				Timeout: time.Duration(cfg.Timeout) * time.Second,
			}),
			httpclient.WithMaxRetries(cfg.MaxRetries),
		),
	}, nil
}

// AddEpisode writes a new episode.
func (c *Client) AddEpisode(ctx context.Context, req AddEpisodeRequest) (*AddEpisodeResult, error) {
	var result AddEpisodeResult
	if err := c.do(ctx, http.MethodPost, "/episodes", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Search performs semantic search over entity edges.
func (c *Client) Search(ctx context.Context, query string, groupIDs []string, numResults int) ([]EntityEdge, error) {
	body := map[string]any{
		"query":       query,
		"group_ids":   groupIDs,
		"num_results": numResults,
	}
	var result struct {
		Edges []EntityEdge `json:"edges"`
	}
	if err := c.do(ctx, http.MethodPost, "/search", body, &result); err != nil {
		return nil, err
	}
	return result.Edges, nil
}

// RetrieveEpisodes returns the last n episodes before referenceTime.
func (c *Client) RetrieveEpisodes(ctx context.Context, referenceTime time.Time, lastN int, groupIDs []string) ([]Episode, error) {
	body := map[string]any{
		"reference_time": referenceTime,
		"last_n":         lastN,
		"group_ids":      groupIDs,
	}
	var result struct {
		Episodes []Episode `json:"episodes"`
	}
	if err := c.do(ctx, http.MethodPost, "/episodes/retrieve", body, &result); err != nil {
		return nil, err
	}
	return result.Episodes, nil
}

// RemoveEpisode deletes an episode.
func (c *Client) RemoveEpisode(ctx context.Context, uuid string) error {
	return c.do(ctx, http.MethodDelete, "/episodes/"+url.PathEscape(uuid), nil, nil)
}

// GetEpisode returns an episode by UUID.
func (c *Client) GetEpisode(ctx context.Context, uuid string) (*Episode, error) {
	var episode Episode
	if err := c.do(ctx, http.MethodGet, "/episodes/"+url.PathEscape(uuid), nil, &episode); err != nil {
		return nil, err
	}
	return &episode, nil
}

// UpdateEpisode patches typed properties on an episode node.
func (c *Client) UpdateEpisode(ctx context.Context, uuid string, props map[string]any) error {
	return c.do(ctx, http.MethodPatch, "/episodes/"+url.PathEscape(uuid), props, nil)
}

// ListByTier returns episodes in the given tier across groups.
func (c *Client) ListByTier(ctx context.Context, groupIDs []string, tier Tier) ([]Episode, error) {
	records, err := c.ExecuteQuery(ctx, queryListByTier, map[string]any{
		"group_ids": groupIDs,
		"tier":      string(tier),
	})
	if err != nil {
		return nil, err
	}

	episodes := make([]Episode, 0, len(records))
	for _, record := range records {
		raw, ok := record["episode"].(map[string]any)
		if !ok {
			continue
		}
		episode, err := decodeEpisode(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to decode episode record: %w", err)
		}
		episodes = append(episodes, *episode)
	}
	return episodes, nil
}

// ApplyUsageDelta bumps counters in a single upsert. The query resolves the
// UUID against all three node shapes it could address.
func (c *Client) ApplyUsageDelta(ctx context.Context, uuid string, delta UsageDelta) error {
	if delta.IsZero() {
		return nil
	}
	_, err := c.ExecuteQuery(ctx, queryApplyUsageDelta, map[string]any{
		"uuid":       uuid,
		"loaded":     delta.Loaded,
		"referenced": delta.Referenced,
		"success":    delta.Success,
		"helpful":    delta.Helpful,
		"harmful":    delta.Harmful,
		"now":        time.Now().UTC().Format(time.RFC3339),
	})
	return err
}

// ResolvePrefix resolves an 8-char citation prefix within a group.
func (c *Client) ResolvePrefix(ctx context.Context, groupID, prefix string) (string, error) {
	records, err := c.ExecuteQuery(ctx, queryResolvePrefix, map[string]any{
		"group_id": groupID,
		"prefix":   prefix,
	})
	if err != nil {
		return "", err
	}

	switch len(records) {
	case 0:
		return "", ErrNotFound
	case 1:
		uuid, _ := records[0]["uuid"].(string)
		return uuid, nil
	default:
		return "", &AmbiguousPrefixError{Prefix: prefix, GroupID: groupID, Matches: len(records)}
	}
}

// CreateEdge writes a typed relationship between two episodes.
func (c *Client) CreateEdge(ctx context.Context, edgeType EdgeType, fromUUID, toUUID string) error {
	switch edgeType {
	case EdgeReplaces, EdgeRefines:
	default:
		return fmt.Errorf("unknown edge type: %s", edgeType)
	}

	// Relationship types cannot be parameterized; edgeType is validated above.
	query := fmt.Sprintf(queryCreateEdge, edgeType)
	_, err := c.ExecuteQuery(ctx, query, map[string]any{
		"from": fromUUID,
		"to":   toUUID,
		"now":  time.Now().UTC().Format(time.RFC3339),
	})
	return err
}

// ExecuteQuery runs a raw query against the backend.
func (c *Client) ExecuteQuery(ctx context.Context, query string, params map[string]any) ([]map[string]any, error) {
	body := map[string]any{
		"query":  query,
		"params": params,
	}
	var result struct {
		Records []map[string]any `json:"records"`
	}
	if err := c.do(ctx, http.MethodPost, "/query", body, &result); err != nil {
		return nil, err
	}
	return result.Records, nil
}

// Close releases resources.
func (c *Client) Close() error {
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("graph request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("graph service error (HTTP %d): %s", resp.StatusCode, string(payload))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode graph response: %w", err)
	}
	return nil
}

const queryApplyUsageDelta = `
OPTIONAL MATCH (e:Episodic {uuid: $uuid})
OPTIONAL MATCH (:Episodic)-[:MENTIONS]->(n:Entity {uuid: $uuid})
OPTIONAL MATCH ()-[r:RELATES_TO {uuid: $uuid}]-()
WITH coalesce(e, n, r) AS target
WHERE target IS NOT NULL
SET target.loaded_count     = coalesce(target.loaded_count, 0) + $loaded,
    target.referenced_count = coalesce(target.referenced_count, 0) + $referenced,
    target.success_count    = coalesce(target.success_count, 0) + $success,
    target.helpful_count    = coalesce(target.helpful_count, 0) + $helpful,
    target.harmful_count    = coalesce(target.harmful_count, 0) + $harmful,
    target.last_used_at     = $now,
    target.utility_score    = CASE
        WHEN coalesce(target.referenced_count, 0) + $referenced > 0
        THEN toFloat(coalesce(target.success_count, 0) + $success) /
             (coalesce(target.referenced_count, 0) + $referenced)
        ELSE 0.0 END
RETURN target.uuid AS uuid`

const queryResolvePrefix = `
MATCH (e:Episodic)
WHERE e.group_id = $group_id AND e.uuid STARTS WITH $prefix
RETURN e.uuid AS uuid
LIMIT 3`

const queryListByTier = `
MATCH (e:Episodic)
WHERE e.group_id IN $group_ids AND e.injection_tier = $tier
RETURN e {.*} AS episode
ORDER BY e.display_order, e.created_at`

const queryCreateEdge = `
MATCH (a:Episodic {uuid: $from}), (b:Episodic {uuid: $to})
CREATE (a)-[:%s {created_at: $now}]->(b)`

// Ensure Client implements Store.
var _ Store = (*Client)(nil)
