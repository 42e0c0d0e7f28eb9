package memory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// stateFileName matches the layout local tools expect.
const stateFileName = ".graphiti_state.json"

// SessionState tracks per-session injection bookkeeping. It persists to a
// small JSON file so interactive tools keep their session across processes.
// Concurrent writers to the same session are not expected; last-writer-wins.
type SessionState struct {
	SessionID         string         `json:"session_id"`
	Scope             Scope          `json:"scope"`
	ScopeID           string         `json:"scope_id,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	LastInjectionAt   *time.Time     `json:"last_injection_at,omitempty"`
	InjectionCount    int            `json:"injection_count"`
	LoadedMemoryUUIDs []string       `json:"loaded_memory_uuids"`
	Metadata          map[string]any `json:"metadata"`

	dir string
}

// NewSessionState creates a fresh in-memory session.
func NewSessionState(scope Scope, scopeID string) *SessionState {
	return &SessionState{
		SessionID: uuid.NewString(),
		Scope:     scope,
		ScopeID:   scopeID,
		CreatedAt: time.Now().UTC(),
		Metadata:  make(map[string]any),
	}
}

// DefaultStateDir is ~/.agenthub.
func DefaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".agenthub")
}

// LoadSessionState reads the persisted session from dir, or creates a new
// one when no file exists.
func LoadSessionState(dir string, scope Scope, scopeID string) (*SessionState, error) {
	if dir == "" {
		dir = DefaultStateDir()
	}
	path := filepath.Join(dir, stateFileName)

	payload, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			state := NewSessionState(scope, scopeID)
			state.dir = dir
			return state, nil
		}
		return nil, fmt.Errorf("failed to read session state: %w", err)
	}

	var state SessionState
	if err := json.Unmarshal(payload, &state); err != nil {
		return nil, fmt.Errorf("corrupt session state file %s: %w", path, err)
	}
	state.dir = dir
	if state.Metadata == nil {
		state.Metadata = make(map[string]any)
	}
	return &state, nil
}

// Save persists the session to its state directory.
func (s *SessionState) Save() error {
	if s.dir == "" {
		s.dir = DefaultStateDir()
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("failed to create state dir: %w", err)
	}

	payload, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.dir, stateFileName), payload, 0644)
}

// RecordInjection accumulates the loaded UUIDs for this session.
func (s *SessionState) RecordInjection(uuids []string) {
	now := time.Now().UTC()
	s.LastInjectionAt = &now
	s.InjectionCount++

	seen := make(map[string]struct{}, len(s.LoadedMemoryUUIDs))
	for _, u := range s.LoadedMemoryUUIDs {
		seen[u] = struct{}{}
	}
	for _, u := range uuids {
		if _, ok := seen[u]; !ok {
			s.LoadedMemoryUUIDs = append(s.LoadedMemoryUUIDs, u)
			seen[u] = struct{}{}
		}
	}
}

// GroupID returns the session's graph group id.
func (s *SessionState) GroupID() (string, error) {
	return GroupID(s.Scope, s.ScopeID)
}
