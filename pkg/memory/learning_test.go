package memory

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const learningsJSON = `[
  {"content": "Build artifacts land in the dist directory", "learning_type": "verified", "confidence": 85, "category": "build"},
  {"content": "Flaky network tests retry three times", "learning_type": "pattern", "confidence": 95, "category": "testing"},
  {"content": "Probably uses webpack somewhere", "learning_type": "inference", "confidence": 40, "category": "build"}
]`

func TestExtractWritesLearnings(t *testing.T) {
	store := newTestStore(t)
	llm := &stubLLM{replies: []string{learningsJSON}}
	extractor := NewLearningExtractor(store, NewCreator(store), llm)

	outcomes, err := extractor.Extract(context.Background(),
		"session transcript about builds and tests", "project-acme")
	require.NoError(t, err)
	require.Len(t, outcomes, 3)

	assert.Equal(t, "created", outcomes[0].Action)
	assert.Equal(t, "created", outcomes[1].Action)
	assert.Equal(t, "skipped", outcomes[2].Action, "confidence below 70 is dropped")

	// 85 stays provisional, 95 is canonical at write time.
	provisional, err := store.GetEpisode(context.Background(), outcomes[0].UUID)
	require.NoError(t, err)
	assert.Equal(t, StatusProvisional, ParseSourceTags(provisional.SourceDescription).Status)

	canonical, err := store.GetEpisode(context.Background(), outcomes[1].UUID)
	require.NoError(t, err)
	assert.Equal(t, StatusCanonical, ParseSourceTags(canonical.SourceDescription).Status)
}

func TestExtractToleratesProseAroundJSON(t *testing.T) {
	store := newTestStore(t)
	llm := &stubLLM{replies: []string{"Here are the learnings:\n```json\n" + learningsJSON + "\n```\nDone."}}
	extractor := NewLearningExtractor(store, NewCreator(store), llm)

	outcomes, err := extractor.Extract(context.Background(), "transcript", "global")
	require.NoError(t, err)
	assert.Len(t, outcomes, 3)
}

func TestExtractReinforcesProvisional(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	content := "Build artifacts land in the dist directory"

	first := &stubLLM{replies: []string{`[{"content": "` + content + `", "learning_type": "verified", "confidence": 75, "category": "build"}]`}}
	extractor := NewLearningExtractor(store, NewCreator(store), first)
	outcomes, err := extractor.Extract(ctx, "transcript one", "global")
	require.NoError(t, err)
	require.Equal(t, "created", outcomes[0].Action)
	uuid := outcomes[0].UUID

	// Second sighting reinforces: (75+85)/2+10 = 90 → promoted.
	second := &stubLLM{replies: []string{`[{"content": "` + content + `", "learning_type": "verified", "confidence": 85, "category": "build"}]`}}
	extractor = NewLearningExtractor(store, NewCreator(store), second)
	outcomes, err = extractor.Extract(ctx, "transcript two", "global")
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, "promoted", outcomes[0].Action)
	assert.Equal(t, uuid, outcomes[0].UUID)
	assert.Equal(t, 90, outcomes[0].Confidence)

	episode, err := store.GetEpisode(ctx, uuid)
	require.NoError(t, err)
	tags := ParseSourceTags(episode.SourceDescription)
	assert.Equal(t, StatusCanonical, tags.Status)
	assert.Equal(t, 90, tags.Confidence)
}

func TestPromoteManual(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	creator := NewCreator(store)
	created, err := creator.Create(ctx, "Deploys happen from the main branch",
		"deploy rule", ProfileLearning, "global", "learning_verified", time.Now())
	require.NoError(t, err)
	require.True(t, created.Success)

	extractor := NewLearningExtractor(store, creator, &stubLLM{})
	require.NoError(t, extractor.Promote(ctx, created.UUID))

	episode, err := store.GetEpisode(ctx, created.UUID)
	require.NoError(t, err)
	tags := ParseSourceTags(episode.SourceDescription)
	assert.Equal(t, StatusCanonical, tags.Status)
	assert.Equal(t, "manual", tags.Promoted)
	assert.GreaterOrEqual(t, tags.Confidence, 90)

	// Promoting twice fails; it is no longer provisional.
	assert.Error(t, extractor.Promote(ctx, created.UUID))
}

func TestTruncateTranscript(t *testing.T) {
	short := strings.Repeat("a", 1000)
	assert.Equal(t, short, truncateTranscript(short))

	long := strings.Repeat("line of transcript text\n", 1000) // ~24k chars
	truncated := truncateTranscript(long)
	assert.LessOrEqual(t, len(truncated), transcriptTailChars)
	assert.True(t, strings.HasSuffix(long, truncated), "truncation keeps the tail")
}

func TestParseLearningsCapsAtTen(t *testing.T) {
	var items []string
	for i := 0; i < 15; i++ {
		items = append(items, `{"content": "fact", "learning_type": "verified", "confidence": 80, "category": "misc"}`)
	}
	learnings, err := parseLearnings("[" + strings.Join(items, ",") + "]")
	require.NoError(t, err)
	assert.Len(t, learnings, maxLearningsPerExtraction)
}

func TestParseLearningsRejectsGarbage(t *testing.T) {
	_, err := parseLearnings("no json here at all")
	assert.Error(t, err)
}

func TestParseLearningsSkipsMalformedItems(t *testing.T) {
	// One item with a string confidence must not sink its neighbors.
	learnings, err := parseLearnings(`[
	  {"content": "Build artifacts land in dist", "learning_type": "verified", "confidence": 85, "category": "build"},
	  {"content": "Broken item", "learning_type": "verified", "confidence": "high", "category": "build"},
	  {"content": "Flaky tests retry three times", "learning_type": "pattern", "confidence": 95, "category": "testing"}
	]`)
	require.NoError(t, err)
	require.Len(t, learnings, 2)
	assert.Equal(t, "Build artifacts land in dist", learnings[0].Content)
	assert.Equal(t, "Flaky tests retry three times", learnings[1].Content)
}
