package memory

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionStatePersistence(t *testing.T) {
	dir := t.TempDir()

	state, err := LoadSessionState(dir, ScopeProject, "acme")
	require.NoError(t, err)
	assert.NotEmpty(t, state.SessionID)
	assert.Equal(t, 0, state.InjectionCount)

	state.RecordInjection([]string{"uuid-1", "uuid-2"})
	require.NoError(t, state.Save())

	reloaded, err := LoadSessionState(dir, ScopeProject, "acme")
	require.NoError(t, err)
	assert.Equal(t, state.SessionID, reloaded.SessionID)
	assert.Equal(t, 1, reloaded.InjectionCount)
	assert.Equal(t, []string{"uuid-1", "uuid-2"}, reloaded.LoadedMemoryUUIDs)
	assert.NotNil(t, reloaded.LastInjectionAt)
}

func TestRecordInjectionDeduplicates(t *testing.T) {
	state := NewSessionState(ScopeGlobal, "")
	state.RecordInjection([]string{"a", "b"})
	state.RecordInjection([]string{"b", "c"})

	assert.Equal(t, 2, state.InjectionCount)
	assert.Equal(t, []string{"a", "b", "c"}, state.LoadedMemoryUUIDs)
}

func TestLoadSessionStateCorruptFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, stateFileName), []byte("{not json"), 0644))

	_, err := LoadSessionState(dir, ScopeGlobal, "")
	assert.Error(t, err)
}

func TestSessionStateGroupID(t *testing.T) {
	state := NewSessionState(ScopeProject, "org/repo")
	groupID, err := state.GroupID()
	require.NoError(t, err)
	assert.Equal(t, "project-org-repo", groupID)
}
