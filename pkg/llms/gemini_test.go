package llms

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthub-io/agenthub/pkg/config"
)

func newTestGemini(t *testing.T, handler http.HandlerFunc) *GeminiProvider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	provider, err := NewGeminiProvider(&config.LLMConfig{
		Provider:    config.LLMProviderGemini,
		Model:       "gemini-2.0-flash",
		APIKey:      "test-key",
		Host:        server.URL,
		Temperature: 0.7,
		MaxTokens:   1024,
		Timeout:     5,
		MaxRetries:  0,
	})
	require.NoError(t, err)
	return provider
}

func TestGeminiRequiresAPIKey(t *testing.T) {
	_, err := NewGeminiProvider(&config.LLMConfig{Provider: config.LLMProviderGemini})
	var authErr *AuthenticationError
	require.ErrorAs(t, err, &authErr)
}

func TestGeminiComplete(t *testing.T) {
	provider := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "gemini-2.0-flash:generateContent")

		var req geminiRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Contents, 2) // system folded into user role
		assert.Equal(t, "user", req.Contents[0].Role)

		json.NewEncoder(w).Encode(geminiResponse{
			Candidates: []geminiCandidate{{
				Content:      geminiContent{Role: "model", Parts: []geminiPart{{"text": "hello back"}}},
				FinishReason: "STOP",
			}},
			UsageMetadata: &geminiUsageMetadata{PromptTokenCount: 12, CandidatesTokenCount: 4, TotalTokenCount: 16},
		})
	})

	result, err := provider.Complete(context.Background(), CompletionRequest{
		Messages: []Message{
			{Role: RoleSystem, Content: "be brief"},
			{Role: RoleUser, Content: "hello"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello back", result.Content)
	assert.Equal(t, "gemini", result.Provider)
	assert.Equal(t, FinishEndTurn, result.FinishReason)
	assert.Equal(t, 12, result.InputTokens)
	assert.Equal(t, 4, result.OutputTokens)
	assert.Equal(t, 16, result.TotalTokens())
}

func TestGeminiCompleteToolCall(t *testing.T) {
	provider := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(geminiResponse{
			Candidates: []geminiCandidate{{
				Content: geminiContent{Role: "model", Parts: []geminiPart{
					{"functionCall": map[string]any{"name": "search", "args": map[string]any{"q": "test"}}},
				}},
				FinishReason: "STOP",
			}},
		})
	})

	result, err := provider.Complete(context.Background(), CompletionRequest{
		Messages: []Message{{Role: RoleUser, Content: "find it"}},
		Tools:    []ToolDefinition{{Name: "search", Parameters: map[string]any{"type": "object"}}},
	})
	require.NoError(t, err)
	assert.Equal(t, FinishToolUse, result.FinishReason)
	require.Len(t, result.ToolCalls, 1)
	assert.Equal(t, "search", result.ToolCalls[0].Name)
	assert.Equal(t, "test", result.ToolCalls[0].Arguments["q"])
}

func TestGeminiStructuredOutputRequest(t *testing.T) {
	provider := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		var req geminiRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "application/json", req.GenerationConfig.ResponseMimeType)
		assert.Equal(t, "object", req.GenerationConfig.ResponseSchema["type"])

		json.NewEncoder(w).Encode(geminiResponse{
			Candidates: []geminiCandidate{{
				Content:      geminiContent{Role: "model", Parts: []geminiPart{{"text": `{"ok": true}`}}},
				FinishReason: "STOP",
			}},
		})
	})

	result, err := provider.Complete(context.Background(), CompletionRequest{
		Messages:       []Message{{Role: RoleUser, Content: "structured please"}},
		ResponseFormat: &ResponseFormat{Type: "json_object", Schema: map[string]any{"type": "object"}},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok": true}`, result.Content)
}

func TestGeminiErrorTranslation(t *testing.T) {
	tests := []struct {
		status int
		check  func(t *testing.T, err error)
	}{
		{http.StatusUnauthorized, func(t *testing.T, err error) {
			var authErr *AuthenticationError
			assert.ErrorAs(t, err, &authErr)
			assert.False(t, IsRetriable(err))
		}},
		{http.StatusBadRequest, func(t *testing.T, err error) {
			var provErr *ProviderError
			require.ErrorAs(t, err, &provErr)
			assert.False(t, provErr.Retriable)
		}},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			provider := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			})
			_, err := provider.Complete(context.Background(), CompletionRequest{
				Messages: []Message{{Role: RoleUser, Content: "hi"}},
			})
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestGeminiStream(t *testing.T) {
	provider := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.RawQuery, "alt=sse")
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "data: %s\n\n", mustJSON(t, geminiResponse{
			Candidates: []geminiCandidate{{Content: geminiContent{Parts: []geminiPart{{"text": "chunk one "}}}}},
		}))
		fmt.Fprintf(w, "data: %s\n\n", mustJSON(t, geminiResponse{
			Candidates:    []geminiCandidate{{Content: geminiContent{Parts: []geminiPart{{"text": "chunk two"}}}}},
			UsageMetadata: &geminiUsageMetadata{TotalTokenCount: 7},
		}))
	})

	events, err := provider.Stream(context.Background(), CompletionRequest{
		Messages: []Message{{Role: RoleUser, Content: "stream it"}},
	})
	require.NoError(t, err)

	var text string
	var done bool
	var tokens int
	for event := range events {
		switch event.Type {
		case EventContent:
			text += event.Content
		case EventDone:
			done = true
			tokens = event.Tokens
		case EventError:
			t.Fatalf("unexpected error event: %v", event.Err)
		}
	}
	assert.True(t, done)
	assert.Equal(t, "chunk one chunk two", text)
	assert.Equal(t, 7, tokens)
}

func TestGeminiStreamCountsTokensWithoutUsage(t *testing.T) {
	provider := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "data: %s\n\n", mustJSON(t, geminiResponse{
			Candidates: []geminiCandidate{{Content: geminiContent{Parts: []geminiPart{{"text": "streamed without usage metadata"}}}}},
		}))
	})

	events, err := provider.Stream(context.Background(), CompletionRequest{
		Messages: []Message{{Role: RoleUser, Content: "stream it"}},
	})
	require.NoError(t, err)

	tokens := -1
	for event := range events {
		if event.Type == EventDone {
			tokens = event.Tokens
		}
	}
	assert.Equal(t, CountTokens("streamed without usage metadata"), tokens)
	assert.Positive(t, tokens)
}

type scriptedHandler struct {
	results []ToolResult
	calls   []ToolCall
}

func (h *scriptedHandler) Execute(_ context.Context, call ToolCall) (ToolResult, error) {
	h.calls = append(h.calls, call)
	result := h.results[0]
	if len(h.results) > 1 {
		h.results = h.results[1:]
	}
	result.ToolCallID = call.ID
	return result, nil
}

func TestGeminiCompleteWithTools(t *testing.T) {
	requests := 0
	provider := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		requests++
		if requests == 1 {
			json.NewEncoder(w).Encode(geminiResponse{
				Candidates: []geminiCandidate{{
					Content: geminiContent{Parts: []geminiPart{
						{"functionCall": map[string]any{"name": "lookup", "args": map[string]any{}}},
					}},
				}},
			})
			return
		}

		// Second round should carry the tool results back.
		var req geminiRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		last := req.Contents[len(req.Contents)-1]
		text, _ := last.Parts[0]["text"].(string)
		assert.Contains(t, text, "Tool execution results:")

		json.NewEncoder(w).Encode(geminiResponse{
			Candidates: []geminiCandidate{{
				Content:      geminiContent{Parts: []geminiPart{{"text": "final answer"}}},
				FinishReason: "STOP",
			}},
		})
	})

	handler := &scriptedHandler{results: []ToolResult{{Content: "lookup says 42"}}}
	turns, err := provider.CompleteWithTools(context.Background(), CompletionRequest{
		Messages: []Message{{Role: RoleUser, Content: "use the tool"}},
	}, handler)
	require.NoError(t, err)

	var collected []ToolTurn
	for turn := range turns {
		collected = append(collected, turn)
	}
	require.Len(t, collected, 2)
	assert.Equal(t, FinishToolUse, collected[0].Message.FinishReason)
	assert.Equal(t, "final answer", collected[1].Message.Content)
	assert.Equal(t, collected[0].SessionID, collected[1].SessionID)
	assert.NotEmpty(t, collected[0].SessionID)
	require.Len(t, handler.calls, 1)
	assert.Equal(t, "lookup", handler.calls[0].Name)
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	payload, err := json.Marshal(v)
	require.NoError(t, err)
	return string(payload)
}
