package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/agenthub-io/agenthub/pkg/graph"
	"github.com/agenthub-io/agenthub/pkg/llms"
)

const (
	// Transcripts above this length are truncated before extraction.
	maxTranscriptChars = 15000

	// Truncation keeps roughly this many trailing characters, where the
	// conclusions of the conversation live.
	transcriptTailChars = 12000

	// Learnings below this confidence are discarded outright.
	minLearningConfidence = 70

	// reinforceSimilarity is the match floor for reinforcing an existing
	// provisional learning instead of writing a new one.
	reinforceSimilarity = 0.8

	// canonicalConfidence is the floor at which a learning is canonical.
	canonicalConfidence = 90

	maxLearningsPerExtraction = 10
)

// ExtractedLearning is one item of the extraction response.
type ExtractedLearning struct {
	Content      string `json:"content"`
	LearningType string `json:"learning_type"` // verified | inference | pattern
	Confidence   int    `json:"confidence"`
	SourceQuote  string `json:"source_quote,omitempty"`
	Category     string `json:"category"`
}

// LearningOutcome reports what happened to one extracted learning.
type LearningOutcome struct {
	Content    string `json:"content"`
	Action     string `json:"action"` // created | reinforced | promoted | skipped | rejected
	UUID       string `json:"uuid,omitempty"`
	Confidence int    `json:"confidence"`
}

const extractionPrompt = `Extract durable, reusable learnings from this coding session transcript.

Rules:
- Only include facts that will still be true in future sessions.
- Classify each as verified (directly observed), inference (deduced), or pattern (recurring behavior).
- Rate confidence 0-100. Omit anything below 70.
- At most %d learnings. Skip session-specific trivia.

Respond with a JSON array:
[{"content": "...", "learning_type": "verified", "confidence": 85, "source_quote": "...", "category": "build"}]

Transcript:
%s`

// LearningExtractor mines session transcripts for durable knowledge and
// writes it through the ingestion funnel. Repeated observations reinforce
// provisional learnings toward canonical status.
type LearningExtractor struct {
	store   graph.Store
	creator *Creator
	llm     llms.Provider
}

// NewLearningExtractor creates the extractor.
func NewLearningExtractor(store graph.Store, creator *Creator, llm llms.Provider) *LearningExtractor {
	return &LearningExtractor{store: store, creator: creator, llm: llm}
}

// Extract runs the extraction prompt over the transcript and folds each
// learning into the group. Individual failures are reported per learning,
// never aborting the batch.
func (x *LearningExtractor) Extract(ctx context.Context, transcript, groupID string) ([]LearningOutcome, error) {
	transcript = truncateTranscript(transcript)
	if strings.TrimSpace(transcript) == "" {
		return nil, nil
	}

	result, err := x.llm.Complete(ctx, llms.CompletionRequest{
		Messages: []llms.Message{
			{Role: "user", Content: fmt.Sprintf(extractionPrompt, maxLearningsPerExtraction, transcript)},
		},
		Temperature:    0,
		ResponseFormat: &llms.ResponseFormat{Type: "json_object"},
	})
	if err != nil {
		return nil, fmt.Errorf("learning extraction failed: %w", err)
	}

	learnings, err := parseLearnings(result.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to parse extraction response: %w", err)
	}

	var outcomes []LearningOutcome
	for _, learning := range learnings {
		outcome := x.ingest(ctx, learning, groupID)
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}

// ingest writes or reinforces one learning.
func (x *LearningExtractor) ingest(ctx context.Context, learning ExtractedLearning, groupID string) LearningOutcome {
	outcome := LearningOutcome{Content: learning.Content, Confidence: learning.Confidence}
	if learning.Confidence < minLearningConfidence {
		outcome.Action = "skipped"
		return outcome
	}

	if existing, similarity := x.findProvisional(ctx, learning.Content, groupID); existing != nil {
		reinforced, err := x.reinforce(ctx, existing, learning.Confidence)
		if err != nil {
			slog.Warn("Learning reinforcement failed", "uuid", existing.UUID, "error", err)
			outcome.Action = "rejected"
			return outcome
		}
		outcome.UUID = existing.UUID
		outcome.Confidence = reinforced
		outcome.Action = "reinforced"
		if reinforced >= canonicalConfidence {
			outcome.Action = "promoted"
		}
		slog.Debug("Reinforced learning",
			"uuid", existing.UUID, "similarity", similarity, "confidence", reinforced)
		return outcome
	}

	cfg := ProfileLearning
	cfg.Category = learning.Category
	if cfg.Category == "" {
		cfg.Category = ProfileLearning.Category
	}
	cfg.Confidence = learning.Confidence
	if learning.Confidence >= canonicalConfidence {
		cfg.Status = StatusCanonical
	}

	name := firstLine(learning.Content)
	if len(name) > 80 {
		name = name[:80]
	}
	created, err := x.creator.Create(ctx, learning.Content, name, cfg, groupID, "learning_"+learning.LearningType, time.Now().UTC())
	if err != nil {
		slog.Warn("Learning write failed", "error", err)
		outcome.Action = "rejected"
		return outcome
	}
	if created.ValidationError != nil {
		outcome.Action = "rejected"
		return outcome
	}
	outcome.UUID = created.UUID
	outcome.Action = "created"
	return outcome
}

// findProvisional locates an existing provisional learning close enough to
// reinforce.
func (x *LearningExtractor) findProvisional(ctx context.Context, content, groupID string) (*graph.Episode, float64) {
	edges, err := x.store.Search(ctx, content, []string{groupID}, 5)
	if err != nil {
		return nil, 0
	}
	for _, edge := range edges {
		if edge.Score < reinforceSimilarity || len(edge.Episodes) == 0 {
			continue
		}
		episode, err := x.store.GetEpisode(ctx, edge.Episodes[0])
		if err != nil {
			continue
		}
		if ParseSourceTags(episode.SourceDescription).Status == StatusProvisional {
			return episode, edge.Score
		}
	}
	return nil, 0
}

// reinforce averages confidences and adds a repeat bonus. Crossing the
// canonical floor promotes the learning in place.
func (x *LearningExtractor) reinforce(ctx context.Context, episode *graph.Episode, newConfidence int) (int, error) {
	old := ParseSourceTags(episode.SourceDescription).Confidence
	merged := (old + newConfidence) / 2
	confidence := merged + 10
	if confidence > 100 {
		confidence = 100
	}

	description := WithConfidence(episode.SourceDescription, confidence)
	if confidence >= canonicalConfidence {
		description = WithStatus(description, StatusCanonical, "reinforced")
	}
	if err := x.store.UpdateEpisode(ctx, episode.UUID, map[string]any{
		"source_description": description,
	}); err != nil {
		return 0, err
	}
	return confidence, nil
}

// Promote manually marks a provisional learning canonical.
func (x *LearningExtractor) Promote(ctx context.Context, uuid string) error {
	episode, err := x.store.GetEpisode(ctx, uuid)
	if err != nil {
		return err
	}
	tags := ParseSourceTags(episode.SourceDescription)
	if tags.Status != StatusProvisional {
		return fmt.Errorf("episode %s is not provisional", uuid)
	}

	description := WithStatus(episode.SourceDescription, StatusCanonical, "manual")
	if tags.Confidence < canonicalConfidence {
		description = WithConfidence(description, canonicalConfidence)
	}
	return x.store.UpdateEpisode(ctx, uuid, map[string]any{
		"source_description": description,
	})
}

// truncateTranscript keeps the trailing portion of oversized transcripts,
// cutting at a line boundary when one is nearby.
func truncateTranscript(transcript string) string {
	if len(transcript) <= maxTranscriptChars {
		return transcript
	}
	tail := transcript[len(transcript)-transcriptTailChars:]
	if idx := strings.IndexByte(tail, '\n'); idx >= 0 && idx < 200 {
		tail = tail[idx+1:]
	}
	return tail
}

// parseLearnings decodes the extraction response, tolerating prose around
// the JSON array. Items are decoded one by one so a single malformed entry
// never discards the valid ones around it.
func parseLearnings(response string) ([]ExtractedLearning, error) {
	payload, ok := llms.ExtractJSON(response)
	if !ok {
		return nil, fmt.Errorf("no JSON array in response")
	}

	var items []json.RawMessage
	if err := json.Unmarshal([]byte(payload), &items); err != nil {
		return nil, err
	}

	learnings := make([]ExtractedLearning, 0, len(items))
	for _, item := range items {
		var learning ExtractedLearning
		if err := json.Unmarshal(item, &learning); err != nil {
			slog.Warn("Skipping malformed learning", "error", err)
			continue
		}
		learnings = append(learnings, learning)
	}
	if len(learnings) > maxLearningsPerExtraction {
		learnings = learnings[:maxLearningsPerExtraction]
	}
	return learnings, nil
}
