// Package store is the relational audit log. Usage flushes, tier changes,
// and injection metrics are appended here for offline analysis; the
// knowledge graph stays the source of truth for live counters.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/agenthub-io/agenthub/pkg/config"
)

// UsageRecord is one flushed usage event for an episode.
type UsageRecord struct {
	EpisodeUUID string
	GroupID     string
	Loaded      int
	Referenced  int
	Success     int
	Helpful     int
	Harmful     int
	RecordedAt  time.Time
}

// TierChange is one promotion, demotion, or correction decided by the
// optimizer. ChangeType is one of "promotion", "demotion", "correction".
type TierChange struct {
	ID          int64
	EpisodeUUID string
	GroupID     string
	FromTier    string
	ToTier      string
	Reason      string
	ChangeType  string
	ChangedAt   time.Time
}

// InjectionMetric is one context-injection outcome for a session turn.
// LoadedUUIDs holds the injected episodes; CitedUUIDs stays empty at write
// time and is filled by post-hoc analysis joining against usage_stats.
type InjectionMetric struct {
	ID             int64
	SessionID      string
	GroupID        string
	ExternalID     string
	Variant        string
	Query          string
	MandateCount   int
	GuardrailCount int
	ReferenceCount int
	TokensUsed     int
	TokenBudget    int
	LatencyMS      int64
	LoadedUUIDs    []string
	CitedUUIDs     []string
	CreatedAt      time.Time
}

// Store wraps the SQL database. All writes are append-only.
type Store struct {
	db     *sql.DB
	driver string
}

// New opens the database and ensures the schema exists.
func New(cfg config.StoreConfig) (*Store, error) {
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db, driver: cfg.Driver}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS usage_stats (
			episode_uuid     TEXT NOT NULL,
			group_id         TEXT NOT NULL,
			loaded_count     INTEGER NOT NULL DEFAULT 0,
			referenced_count INTEGER NOT NULL DEFAULT 0,
			success_count    INTEGER NOT NULL DEFAULT 0,
			helpful_count    INTEGER NOT NULL DEFAULT 0,
			harmful_count    INTEGER NOT NULL DEFAULT 0,
			recorded_at      TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS tier_change_log (
			id           ` + s.serialType() + `,
			episode_uuid TEXT NOT NULL,
			group_id     TEXT NOT NULL,
			from_tier    TEXT NOT NULL,
			to_tier      TEXT NOT NULL,
			reason       TEXT NOT NULL,
			change_type  TEXT NOT NULL DEFAULT '',
			changed_at   TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS memory_injection_metrics (
			id                   ` + s.serialType() + `,
			session_id           TEXT NOT NULL,
			group_id             TEXT NOT NULL,
			external_id          TEXT NOT NULL DEFAULT '',
			variant              TEXT NOT NULL,
			query                TEXT NOT NULL DEFAULT '',
			mandate_count        INTEGER NOT NULL DEFAULT 0,
			guardrail_count      INTEGER NOT NULL DEFAULT 0,
			reference_count      INTEGER NOT NULL DEFAULT 0,
			tokens_used          INTEGER NOT NULL DEFAULT 0,
			token_budget         INTEGER NOT NULL DEFAULT 0,
			injection_latency_ms INTEGER NOT NULL DEFAULT 0,
			memories_loaded      TEXT NOT NULL DEFAULT '[]',
			memories_cited       TEXT NOT NULL DEFAULT '[]',
			created_at           TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_episode ON usage_stats(episode_uuid)`,
		`CREATE INDEX IF NOT EXISTS idx_tier_change_episode ON tier_change_log(episode_uuid)`,
		`CREATE INDEX IF NOT EXISTS idx_injection_session ON memory_injection_metrics(session_id)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return nil
}

func (s *Store) serialType() string {
	switch s.driver {
	case "postgres":
		return "BIGSERIAL PRIMARY KEY"
	case "mysql":
		return "BIGINT AUTO_INCREMENT PRIMARY KEY"
	default:
		return "INTEGER PRIMARY KEY AUTOINCREMENT"
	}
}

// rebind converts ? placeholders to $n for postgres.
func (s *Store) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// RecordUsage appends flushed usage events in one transaction.
func (s *Store) RecordUsage(ctx context.Context, records []UsageRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.rebind(`
		INSERT INTO usage_stats
			(episode_uuid, group_id, loaded_count, referenced_count, success_count, helpful_count, harmful_count, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`))
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if r.RecordedAt.IsZero() {
			r.RecordedAt = time.Now().UTC()
		}
		if _, err := stmt.ExecContext(ctx,
			r.EpisodeUUID, r.GroupID, r.Loaded, r.Referenced, r.Success, r.Helpful, r.Harmful, r.RecordedAt,
		); err != nil {
			return fmt.Errorf("failed to record usage for %s: %w", r.EpisodeUUID, err)
		}
	}
	return tx.Commit()
}

// RecordTierChange appends one tier transition.
func (s *Store) RecordTierChange(ctx context.Context, change TierChange) error {
	if change.ChangedAt.IsZero() {
		change.ChangedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO tier_change_log (episode_uuid, group_id, from_tier, to_tier, reason, change_type, changed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		change.EpisodeUUID, change.GroupID, change.FromTier, change.ToTier, change.Reason, change.ChangeType, change.ChangedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record tier change: %w", err)
	}
	return nil
}

// RecordInjection appends one injection outcome.
func (s *Store) RecordInjection(ctx context.Context, metric InjectionMetric) error {
	if metric.CreatedAt.IsZero() {
		metric.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO memory_injection_metrics
			(session_id, group_id, external_id, variant, query, mandate_count, guardrail_count, reference_count, tokens_used, token_budget, injection_latency_ms, memories_loaded, memories_cited, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		metric.SessionID, metric.GroupID, metric.ExternalID, metric.Variant, metric.Query,
		metric.MandateCount, metric.GuardrailCount, metric.ReferenceCount,
		metric.TokensUsed, metric.TokenBudget, metric.LatencyMS,
		encodeUUIDList(metric.LoadedUUIDs), encodeUUIDList(metric.CitedUUIDs), metric.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record injection metric: %w", err)
	}
	return nil
}

// TierHistory returns the most recent tier changes for an episode.
func (s *Store) TierHistory(ctx context.Context, episodeUUID string, limit int) ([]TierChange, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, episode_uuid, group_id, from_tier, to_tier, reason, change_type, changed_at
		FROM tier_change_log
		WHERE episode_uuid = ?
		ORDER BY changed_at DESC
		LIMIT `+strconv.Itoa(limit)),
		episodeUUID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query tier history: %w", err)
	}
	defer rows.Close()

	var changes []TierChange
	for rows.Next() {
		var c TierChange
		if err := rows.Scan(&c.ID, &c.EpisodeUUID, &c.GroupID, &c.FromTier, &c.ToTier, &c.Reason, &c.ChangeType, &c.ChangedAt); err != nil {
			return nil, fmt.Errorf("failed to scan tier change: %w", err)
		}
		changes = append(changes, c)
	}
	return changes, rows.Err()
}

// RecentInjections returns the latest injection outcomes for a group.
func (s *Store) RecentInjections(ctx context.Context, groupID string, limit int) ([]InjectionMetric, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, session_id, group_id, external_id, variant, query, mandate_count, guardrail_count, reference_count, tokens_used, token_budget, injection_latency_ms, memories_loaded, memories_cited, created_at
		FROM memory_injection_metrics
		WHERE group_id = ?
		ORDER BY created_at DESC
		LIMIT `+strconv.Itoa(limit)),
		groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query injections: %w", err)
	}
	defer rows.Close()

	var metrics []InjectionMetric
	for rows.Next() {
		var m InjectionMetric
		var loaded, cited string
		if err := rows.Scan(&m.ID, &m.SessionID, &m.GroupID, &m.ExternalID, &m.Variant, &m.Query,
			&m.MandateCount, &m.GuardrailCount, &m.ReferenceCount,
			&m.TokensUsed, &m.TokenBudget, &m.LatencyMS,
			&loaded, &cited, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan injection metric: %w", err)
		}
		m.LoadedUUIDs = decodeUUIDList(loaded)
		m.CitedUUIDs = decodeUUIDList(cited)
		metrics = append(metrics, m)
	}
	return metrics, rows.Err()
}

func encodeUUIDList(uuids []string) string {
	if len(uuids) == 0 {
		return "[]"
	}
	payload, err := json.Marshal(uuids)
	if err != nil {
		return "[]"
	}
	return string(payload)
}

func decodeUUIDList(payload string) []string {
	if payload == "" || payload == "[]" {
		return nil
	}
	var uuids []string
	if err := json.Unmarshal([]byte(payload), &uuids); err != nil {
		return nil
	}
	return uuids
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
