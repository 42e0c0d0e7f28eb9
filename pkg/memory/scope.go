// Package memory implements the knowledge store: ingestion, scoring,
// progressive context injection, citation tracking, usage-driven tier
// optimization, canonical clustering, and learning extraction.
package memory

import (
	"fmt"
	"strings"
)

// Scope is the namespacing level for episodes.
type Scope string

const (
	ScopeGlobal  Scope = "global"
	ScopeProject Scope = "project"

	// ScopeTask holds episodes written during a single task. They live
	// there until consolidation promotes or discards them.
	ScopeTask Scope = "task"
)

// GroupIDGlobal is the group id of the global scope.
const GroupIDGlobal = "global"

// GroupID builds the graph group id for a scope. Project ids are sanitized
// so they stay safe as graph identifiers.
func GroupID(scope Scope, scopeID string) (string, error) {
	switch scope {
	case ScopeGlobal:
		return GroupIDGlobal, nil
	case ScopeProject:
		if scopeID == "" {
			return "", fmt.Errorf("project scope requires a scope id")
		}
		return "project-" + SanitizeScopeID(scopeID), nil
	case ScopeTask:
		if scopeID == "" {
			return "", fmt.Errorf("task scope requires a scope id")
		}
		return "task-" + SanitizeScopeID(scopeID), nil
	default:
		return "", fmt.Errorf("unknown scope: %s", scope)
	}
}

// SanitizeScopeID replaces characters that collide with graph id syntax.
func SanitizeScopeID(id string) string {
	id = strings.ReplaceAll(id, ":", "-")
	id = strings.ReplaceAll(id, "/", "-")
	return id
}

// SearchGroups returns the group ids a query should cover. Project scopes
// fold in global unless the caller asks for project-only.
func SearchGroups(scope Scope, scopeID string, includeGlobal bool) ([]string, error) {
	groupID, err := GroupID(scope, scopeID)
	if err != nil {
		return nil, err
	}
	if scope != ScopeGlobal && includeGlobal {
		return []string{groupID, GroupIDGlobal}, nil
	}
	return []string{groupID}, nil
}
