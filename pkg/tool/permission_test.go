package tool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPreToolUseReadTools(t *testing.T) {
	policy := &Policy{} // everything off

	for _, name := range []string{"file-read", "code-search", "list-files", "project-structure"} {
		result := policy.PreToolUse(context.Background(), name, nil)
		assert.Equal(t, Allow, result.Decision, "read tool %s must always be allowed", name)
	}
}

func TestPreToolUseWriteTools(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		policy   Policy
		expected Decision
	}{
		{
			name:     "write disabled denies",
			policy:   Policy{WriteEnabled: false, YoloMode: true},
			expected: Deny,
		},
		{
			name:     "yolo mode allows",
			policy:   Policy{WriteEnabled: true, YoloMode: true},
			expected: Allow,
		},
		{
			name: "callback decision honored",
			policy: Policy{WriteEnabled: true, Callback: func(context.Context, string, map[string]any) PermissionResult {
				return PermissionResult{Decision: Allow}
			}},
			expected: Allow,
		},
		{
			name: "callback deny honored",
			policy: Policy{WriteEnabled: true, Callback: func(context.Context, string, map[string]any) PermissionResult {
				return PermissionResult{Decision: Deny, Reason: "nope"}
			}},
			expected: Deny,
		},
		{
			name:     "no callback denies for safety",
			policy:   Policy{WriteEnabled: true},
			expected: Deny,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.policy.PreToolUse(ctx, "file-write", map[string]any{"path": "x"})
			assert.Equal(t, tt.expected, result.Decision)
			if tt.expected == Deny {
				assert.NotEmpty(t, result.Reason)
			}
		})
	}
}

func TestPreToolUseUnknownToolsAllowed(t *testing.T) {
	policy := &Policy{}
	result := policy.PreToolUse(context.Background(), "provider-sandbox-thing", nil)
	assert.Equal(t, Allow, result.Decision)
}

func TestPostToolUseNeverBlocks(t *testing.T) {
	fired := false
	policy := &Policy{AfterTool: func(name string, input map[string]any, output string) {
		fired = true
	}}
	policy.PostToolUse("file-read", nil, "content")
	assert.True(t, fired)

	// A panicking callback is swallowed.
	policy.AfterTool = func(string, map[string]any, string) { panic("boom") }
	assert.NotPanics(t, func() { policy.PostToolUse("file-read", nil, "content") })

	// Nil callback is fine.
	policy.AfterTool = nil
	assert.NotPanics(t, func() { policy.PostToolUse("file-read", nil, "") })
}

func TestToolClassification(t *testing.T) {
	assert.True(t, IsReadTool("file-read"))
	assert.False(t, IsReadTool("file-write"))
	assert.True(t, IsWriteTool("mkdir"))
	assert.False(t, IsWriteTool("project-structure"))
	assert.False(t, IsWriteTool("totally-unknown"))
}
