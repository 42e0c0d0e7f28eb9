package llms

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agenthub-io/agenthub/pkg/config"
	"github.com/agenthub-io/agenthub/pkg/httpclient"
	"github.com/agenthub-io/agenthub/pkg/observability"
)

// GeminiProvider talks to the Gemini REST API with an API key.
// Tool calls are executed externally through the caller-supplied handler.
type GeminiProvider struct {
	cfg        *config.LLMConfig
	httpClient *httpclient.Client
}

type geminiRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
	Tools            []geminiToolSet         `json:"tools,omitempty"`
}

type geminiGenerationConfig struct {
	Temperature      *float64              `json:"temperature,omitempty"`
	MaxOutputTokens  int                   `json:"maxOutputTokens,omitempty"`
	ResponseMimeType string                `json:"responseMimeType,omitempty"`
	ResponseSchema   map[string]any        `json:"responseSchema,omitempty"`
	ThinkingConfig   *geminiThinkingConfig `json:"thinkingConfig,omitempty"`
}

type geminiThinkingConfig struct {
	ThinkingBudget  int  `json:"thinkingBudget"`
	IncludeThoughts bool `json:"includeThoughts,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart map[string]any

type geminiToolSet struct {
	FunctionDeclarations []geminiFunctionDeclaration `json:"functionDeclarations,omitempty"`
}

type geminiFunctionDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type geminiResponse struct {
	Candidates    []geminiCandidate    `json:"candidates"`
	UsageMetadata *geminiUsageMetadata `json:"usageMetadata,omitempty"`
	Error         *geminiError         `json:"error,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
}

type geminiUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	ThoughtsTokenCount   int `json:"thoughtsTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// NewGeminiProvider creates a Gemini provider from configuration.
func NewGeminiProvider(cfg *config.LLMConfig) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, &AuthenticationError{Provider: "gemini", Message: "API key is required"}
	}

	return &GeminiProvider{
		cfg: cfg,
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{
				Timeout: time.Duration(cfg.Timeout) * time.Second,
			}),
			httpclient.WithMaxRetries(cfg.MaxRetries),
			httpclient.WithBaseDelay(time.Duration(cfg.RetryDelay)*time.Second),
			httpclient.WithHeaderParser(httpclient.ParseGeminiHeaders),
		),
	}, nil
}

// Name returns "gemini".
func (p *GeminiProvider) Name() string { return "gemini" }

// ModelName returns the configured model.
func (p *GeminiProvider) ModelName() string { return p.cfg.Model }

// Complete performs a non-streaming completion.
func (p *GeminiProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error) {
	body := p.buildRequest(req)
	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s",
		p.cfg.Host, p.model(req), p.cfg.APIKey)

	started := time.Now()
	resp, err := p.post(ctx, url, body)
	if err != nil {
		observability.GetGlobalMetrics().RecordLLMCall(ctx, "gemini", p.model(req),
			time.Since(started), 0, 0, err)
		return nil, err
	}
	result, err := p.parseResponse(resp, p.model(req))
	if result != nil {
		observability.GetGlobalMetrics().RecordLLMCall(ctx, "gemini", result.Model,
			time.Since(started), result.InputTokens, result.OutputTokens, err)
	}
	return result, err
}

// Stream performs a streaming completion over SSE.
func (p *GeminiProvider) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error) {
	body := p.buildRequest(req)
	url := fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent?key=%s&alt=sse",
		p.cfg.Host, p.model(req), p.cfg.APIKey)

	events := make(chan StreamEvent, 10)
	go func() {
		defer close(events)

		payload, err := json.Marshal(body)
		if err != nil {
			events <- StreamEvent{Type: EventError, Err: err}
			return
		}
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			events <- StreamEvent{Type: EventError, Err: err}
			return
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := p.httpClient.Do(httpReq)
		if err != nil {
			events <- StreamEvent{Type: EventError, Err: p.translateTransportErr(err)}
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			payload, _ := io.ReadAll(resp.Body)
			events <- StreamEvent{Type: EventError, Err: p.statusError(resp.StatusCode, string(payload))}
			return
		}
		p.parseSSE(resp.Body, events)
	}()
	return events, nil
}

// CompleteWithTools runs the external-tool loop: each tool_call goes through
// the handler, results are appended as a synthetic user message, and the
// loop continues until the model stops asking for tools.
func (p *GeminiProvider) CompleteWithTools(ctx context.Context, req CompletionRequest, handler ToolHandler) (<-chan ToolTurn, error) {
	if handler == nil {
		return nil, fmt.Errorf("tool handler is required for gemini tool loops")
	}

	turns := make(chan ToolTurn, 4)
	sessionID := uuid.NewString()

	go func() {
		defer close(turns)

		messages := append([]Message(nil), req.Messages...)
		for {
			turnReq := req
			turnReq.Messages = messages

			result, err := p.Complete(ctx, turnReq)
			if err != nil {
				turns <- ToolTurn{
					Message:   &CompletionResult{Provider: "gemini", Content: err.Error(), FinishReason: FinishEndTurn},
					SessionID: sessionID,
				}
				return
			}
			result.SessionID = sessionID
			turns <- ToolTurn{Message: result, SessionID: sessionID}

			if result.FinishReason != FinishToolUse || len(result.ToolCalls) == 0 {
				return
			}

			messages = append(messages, Message{
				Role:      RoleAssistant,
				Content:   result.Content,
				ToolCalls: result.ToolCalls,
			})

			var lines []string
			for _, call := range result.ToolCalls {
				outcome, err := handler.Execute(ctx, call)
				if err != nil {
					outcome = ToolResult{ToolCallID: call.ID, Content: err.Error(), IsError: true}
				}
				lines = append(lines, fmt.Sprintf("%s: %s", call.ID, outcome.Content))
			}
			messages = append(messages, Message{
				Role:    RoleUser,
				Content: "Tool execution results:\n" + strings.Join(lines, "\n"),
			})

			if ctx.Err() != nil {
				return
			}
		}
	}()
	return turns, nil
}

// HealthCheck issues a minimal completion to verify the key.
func (p *GeminiProvider) HealthCheck(ctx context.Context) error {
	_, err := p.Complete(ctx, CompletionRequest{
		Messages:  []Message{{Role: RoleUser, Content: "ping"}},
		MaxTokens: 1,
	})
	return err
}

// Close releases resources.
func (p *GeminiProvider) Close() error { return nil }

func (p *GeminiProvider) model(req CompletionRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return p.cfg.Model
}

func (p *GeminiProvider) buildRequest(req CompletionRequest) *geminiRequest {
	out := &geminiRequest{
		Contents:         convertMessages(req.Messages),
		GenerationConfig: p.buildGenerationConfig(req),
	}
	if len(req.Tools) > 0 {
		var decls []geminiFunctionDeclaration
		for _, tool := range req.Tools {
			decls = append(decls, geminiFunctionDeclaration{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			})
		}
		out.Tools = []geminiToolSet{{FunctionDeclarations: decls}}
	}
	return out
}

func (p *GeminiProvider) buildGenerationConfig(req CompletionRequest) *geminiGenerationConfig {
	cfg := &geminiGenerationConfig{MaxOutputTokens: req.MaxTokens}
	if cfg.MaxOutputTokens == 0 {
		cfg.MaxOutputTokens = p.cfg.MaxTokens
	}

	temperature := req.Temperature
	if temperature == 0 {
		temperature = p.cfg.Temperature
	}
	if temperature > 0 {
		cfg.Temperature = &temperature
	}

	if budget := req.ThinkingLevel.TokenBudget(); budget > 0 {
		cfg.ThinkingConfig = &geminiThinkingConfig{ThinkingBudget: budget, IncludeThoughts: true}
	}

	if req.ResponseFormat != nil && req.ResponseFormat.Type == "json_object" {
		cfg.ResponseMimeType = "application/json"
		if req.ResponseFormat.Schema != nil {
			cfg.ResponseSchema = req.ResponseFormat.Schema
		}
	}
	return cfg
}

// convertMessages maps the uniform format to Gemini contents. Gemini has no
// system role, so system turns become user turns.
func convertMessages(messages []Message) []geminiContent {
	var contents []geminiContent
	for _, msg := range messages {
		role := msg.Role
		switch role {
		case RoleAssistant:
			role = "model"
		case RoleSystem:
			role = "user"
		}

		var parts []geminiPart
		if msg.Role == RoleTool {
			parts = append(parts, geminiPart{
				"functionResponse": map[string]any{
					"name":     msg.Name,
					"response": map[string]any{"content": msg.Content},
				},
			})
		} else if msg.Content != "" {
			parts = append(parts, geminiPart{"text": msg.Content})
		}
		for _, tc := range msg.ToolCalls {
			parts = append(parts, geminiPart{
				"functionCall": map[string]any{"name": tc.Name, "args": tc.Arguments},
			})
		}

		if len(parts) > 0 {
			contents = append(contents, geminiContent{Role: role, Parts: parts})
		}
	}
	return contents
}

func (p *GeminiProvider) post(ctx context.Context, url string, body *geminiRequest) (*geminiResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, p.translateTransportErr(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, p.statusError(resp.StatusCode, string(respBody))
	}

	var out geminiResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("failed to parse gemini response: %w", err)
	}
	if out.Error != nil {
		return nil, p.statusError(out.Error.Code, out.Error.Message)
	}
	return &out, nil
}

func (p *GeminiProvider) parseResponse(resp *geminiResponse, model string) (*CompletionResult, error) {
	if len(resp.Candidates) == 0 {
		return nil, &ProviderError{Provider: "gemini", Message: "no candidates in response", Retriable: true}
	}
	candidate := resp.Candidates[0]

	result := &CompletionResult{
		Model:    model,
		Provider: "gemini",
	}
	var textParts []string
	for _, part := range candidate.Content.Parts {
		if thought, _ := part["thought"].(bool); thought {
			if text, ok := part["text"].(string); ok {
				result.ThinkingContent += text
			}
			continue
		}
		if text, ok := part["text"].(string); ok {
			textParts = append(textParts, text)
		}
		if fc, ok := part["functionCall"].(map[string]any); ok {
			name, _ := fc["name"].(string)
			args, _ := fc["args"].(map[string]any)
			result.ToolCalls = append(result.ToolCalls, ToolCall{
				ID:        fmt.Sprintf("call_%d", len(result.ToolCalls)),
				Name:      name,
				Arguments: args,
			})
		}
	}
	result.Content = strings.Join(textParts, "")

	if resp.UsageMetadata != nil {
		result.InputTokens = resp.UsageMetadata.PromptTokenCount
		result.OutputTokens = resp.UsageMetadata.CandidatesTokenCount
		result.ThinkingTokens = resp.UsageMetadata.ThoughtsTokenCount
	}
	result.FinishReason = mapGeminiFinishReason(candidate.FinishReason, len(result.ToolCalls) > 0)
	return result, nil
}

func mapGeminiFinishReason(reason string, hasToolCalls bool) string {
	if hasToolCalls {
		return FinishToolUse
	}
	switch reason {
	case "MAX_TOKENS":
		return FinishMaxTokens
	case "STOP", "":
		return FinishEndTurn
	default:
		return FinishStopSequence
	}
}

func (p *GeminiProvider) parseSSE(body io.Reader, events chan<- StreamEvent) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	totalTokens := 0
	var emitted strings.Builder

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		var resp geminiResponse
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &resp); err != nil {
			continue
		}
		if resp.Error != nil {
			events <- StreamEvent{Type: EventError, Err: p.statusError(resp.Error.Code, resp.Error.Message)}
			return
		}

		for _, candidate := range resp.Candidates {
			for _, part := range candidate.Content.Parts {
				if text, ok := part["text"].(string); ok {
					eventType := EventContent
					if thought, _ := part["thought"].(bool); thought {
						eventType = EventThinking
					}
					emitted.WriteString(text)
					events <- StreamEvent{Type: eventType, Content: text}
				}
				if fc, ok := part["functionCall"].(map[string]any); ok {
					name, _ := fc["name"].(string)
					args, _ := fc["args"].(map[string]any)
					events <- StreamEvent{Type: EventToolCall, ToolCall: &ToolCall{
						ID:        fmt.Sprintf("call_%d", time.Now().UnixNano()),
						Name:      name,
						Arguments: args,
					}}
				}
			}
		}
		if resp.UsageMetadata != nil {
			totalTokens = resp.UsageMetadata.TotalTokenCount
		}
	}
	// Some responses drop usageMetadata; count the emitted text instead of
	// reporting a free stream.
	events <- StreamEvent{Type: EventDone, Tokens: streamTokens(totalTokens, emitted.String())}
}

func (p *GeminiProvider) statusError(status int, message string) error {
	switch {
	case status == http.StatusTooManyRequests:
		return &RateLimitError{Provider: "gemini"}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &AuthenticationError{Provider: "gemini", Message: message}
	default:
		return &ProviderError{
			Provider:   "gemini",
			StatusCode: status,
			Message:    message,
			Retriable:  status >= 500,
		}
	}
}

// translateTransportErr keeps the retry client's classification: exhausted
// retries on a 429 surface as a rate limit, everything else is retriable.
func (p *GeminiProvider) translateTransportErr(err error) error {
	var retryable *httpclient.RetryableError
	if errors.As(err, &retryable) {
		if retryable.StatusCode == http.StatusTooManyRequests {
			rateErr := &RateLimitError{Provider: "gemini"}
			if retryable.RetryAfter > 0 {
				after := retryable.RetryAfter
				rateErr.RetryAfter = &after
			}
			return rateErr
		}
		return p.statusError(retryable.StatusCode, retryable.Message)
	}
	return &ProviderError{Provider: "gemini", Message: err.Error(), Retriable: true}
}

var _ Provider = (*GeminiProvider)(nil)
