package llms

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCountTokens(t *testing.T) {
	assert.Zero(t, CountTokens(""))
	assert.Positive(t, CountTokens("the quick brown fox jumps over the lazy dog"))
}

func TestCountMessages(t *testing.T) {
	messages := []Message{
		{Role: RoleSystem, Content: "be terse"},
		{Role: RoleUser, Content: "summarize the release notes"},
	}
	total := CountMessages(messages)
	assert.Greater(t, total, CountTokens("be terse"))
	assert.GreaterOrEqual(t, total, 8, "per-message overhead applies")
}

func TestStreamTokens(t *testing.T) {
	// Reported usage wins even when text is present.
	assert.Equal(t, 42, streamTokens(42, "some emitted text"))

	// Without usage the emitted text is counted.
	counted := streamTokens(0, "a longer run of streamed output text")
	assert.Equal(t, CountTokens("a longer run of streamed output text"), counted)
	assert.Positive(t, counted)

	assert.Zero(t, streamTokens(0, ""))
}
