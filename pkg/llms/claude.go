package llms

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/agenthub-io/agenthub/pkg/observability"
)

// ClaudeProvider drives Claude through the locally installed CLI binary.
// Auth is the CLI's own OAuth session; no API key is held by this process.
// The CLI streams typed JSON events on stdout, one per line.
type ClaudeProvider struct {
	cfg cliConfig
}

type cliConfig struct {
	binary string
	model  string
}

// cliEvent is one line of CLI stream-json output.
type cliEvent struct {
	Type      string      `json:"type"`
	Subtype   string      `json:"subtype,omitempty"`
	SessionID string      `json:"session_id,omitempty"`
	Message   *cliMessage `json:"message,omitempty"`
	Result    string      `json:"result,omitempty"`
	NumTurns  int         `json:"num_turns,omitempty"`
	Usage     *cliUsage   `json:"usage,omitempty"`
	IsError   bool        `json:"is_error,omitempty"`
}

type cliMessage struct {
	Content    []cliContentBlock `json:"content"`
	StopReason string            `json:"stop_reason,omitempty"`
	Usage      *cliUsage         `json:"usage,omitempty"`
}

type cliContentBlock struct {
	Type     string         `json:"type"`
	Text     string         `json:"text,omitempty"`
	Thinking string         `json:"thinking,omitempty"`
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name,omitempty"`
	Input    map[string]any `json:"input,omitempty"`
}

type cliUsage struct {
	InputTokens         int `json:"input_tokens"`
	OutputTokens        int `json:"output_tokens"`
	CacheReadTokens     int `json:"cache_read_input_tokens"`
	CacheCreationTokens int `json:"cache_creation_input_tokens"`
}

// ClaudeOption configures the provider.
type ClaudeOption func(*cliConfig)

// WithCLIPath overrides the CLI binary name or path.
func WithCLIPath(path string) ClaudeOption {
	return func(c *cliConfig) { c.binary = path }
}

// NewClaudeProvider verifies the CLI is installed and returns the provider.
// A missing binary is an authentication failure: without the CLI there is no
// OAuth session to use.
func NewClaudeProvider(model string, opts ...ClaudeOption) (*ClaudeProvider, error) {
	cfg := cliConfig{binary: "claude", model: model}
	for _, opt := range opts {
		opt(&cfg)
	}

	resolved, err := exec.LookPath(cfg.binary)
	if err != nil {
		return nil, &AuthenticationError{
			Provider: "claude",
			Message:  fmt.Sprintf("CLI binary %q not found in PATH", cfg.binary),
		}
	}
	cfg.binary = resolved
	return &ClaudeProvider{cfg: cfg}, nil
}

// Name returns "claude".
func (p *ClaudeProvider) Name() string { return "claude" }

// ModelName returns the configured model.
func (p *ClaudeProvider) ModelName() string { return p.cfg.model }

// Complete runs the CLI for one turn and collects the result.
func (p *ClaudeProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error) {
	result := &CompletionResult{Model: p.model(req), Provider: "claude", FinishReason: FinishEndTurn}
	started := time.Now()

	err := p.run(ctx, req, false, func(event cliEvent) {
		p.collect(event, result)
	})
	observability.GetGlobalMetrics().RecordLLMCall(ctx, "claude", result.Model,
		time.Since(started), result.InputTokens, result.OutputTokens, err)
	if err != nil {
		return nil, err
	}

	if req.ResponseFormat != nil && req.ResponseFormat.Type == "json_object" {
		if !json.Valid([]byte(strings.TrimSpace(result.Content))) {
			if extracted, ok := ExtractJSON(result.Content); ok {
				result.Content = extracted
			}
		}
	}
	return result, nil
}

// Stream runs the CLI and emits events as they arrive.
func (p *ClaudeProvider) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error) {
	events := make(chan StreamEvent, 10)
	go func() {
		defer close(events)

		totalTokens := 0
		var emitted strings.Builder
		err := p.run(ctx, req, false, func(event cliEvent) {
			if event.Usage != nil {
				totalTokens = event.Usage.InputTokens + event.Usage.OutputTokens
			}
			if event.Message == nil {
				return
			}
			for _, block := range event.Message.Content {
				switch block.Type {
				case "text":
					emitted.WriteString(block.Text)
					events <- StreamEvent{Type: EventContent, Content: block.Text}
				case "thinking":
					emitted.WriteString(block.Thinking)
					events <- StreamEvent{Type: EventThinking, Content: block.Thinking}
				case "tool_use":
					events <- StreamEvent{Type: EventToolCall, ToolCall: &ToolCall{
						ID: block.ID, Name: block.Name, Arguments: block.Input,
					}}
				}
			}
		})
		if err != nil {
			events <- StreamEvent{Type: EventError, Err: err}
			return
		}
		// CLI builds older than the usage field report nothing; count the
		// emitted text so callers still see a spend.
		events <- StreamEvent{Type: EventDone, Tokens: streamTokens(totalTokens, emitted.String())}
	}()
	return events, nil
}

// CompleteWithTools runs the CLI's own sandboxed tool loop. Tools execute
// provider-side; each assistant message is emitted as one ToolTurn. The
// handler is unused on this provider.
func (p *ClaudeProvider) CompleteWithTools(ctx context.Context, req CompletionRequest, _ ToolHandler) (<-chan ToolTurn, error) {
	turns := make(chan ToolTurn, 4)
	go func() {
		defer close(turns)

		sessionID := ""
		err := p.run(ctx, req, true, func(event cliEvent) {
			if event.SessionID != "" {
				sessionID = event.SessionID
			}
			if event.Type != "assistant" || event.Message == nil {
				return
			}
			message := &CompletionResult{Model: p.model(req), Provider: "claude", SessionID: sessionID}
			p.collect(event, message)
			turns <- ToolTurn{Message: message, SessionID: sessionID}
		})
		if err != nil {
			turns <- ToolTurn{
				Message: &CompletionResult{
					Provider:     "claude",
					Content:      err.Error(),
					FinishReason: FinishEndTurn,
				},
				SessionID: sessionID,
			}
		}
	}()
	return turns, nil
}

// HealthCheck verifies the CLI still resolves and responds.
func (p *ClaudeProvider) HealthCheck(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, p.cfg.binary, "--version")
	if err := cmd.Run(); err != nil {
		return &AuthenticationError{Provider: "claude", Message: fmt.Sprintf("CLI check failed: %v", err)}
	}
	return nil
}

// Close releases resources.
func (p *ClaudeProvider) Close() error { return nil }

func (p *ClaudeProvider) model(req CompletionRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return p.cfg.model
}

// collect folds one CLI event into the accumulating result.
func (p *ClaudeProvider) collect(event cliEvent, result *CompletionResult) {
	if event.SessionID != "" {
		result.SessionID = event.SessionID
	}

	if event.Message != nil {
		for _, block := range event.Message.Content {
			switch block.Type {
			case "text":
				result.Content += block.Text
			case "thinking":
				result.ThinkingContent += block.Thinking
			case "tool_use":
				result.ToolCalls = append(result.ToolCalls, ToolCall{
					ID: block.ID, Name: block.Name, Arguments: block.Input,
				})
			}
		}
		if event.Message.StopReason != "" {
			result.FinishReason = mapClaudeStopReason(event.Message.StopReason)
		}
		if event.Message.Usage != nil {
			applyUsage(event.Message.Usage, result)
		}
	}

	if event.Type == "result" {
		if event.Result != "" && result.Content == "" {
			result.Content = event.Result
		}
		if event.Usage != nil {
			applyUsage(event.Usage, result)
		}
	}
}

func applyUsage(usage *cliUsage, result *CompletionResult) {
	result.InputTokens = usage.InputTokens
	result.OutputTokens = usage.OutputTokens
	if usage.CacheReadTokens > 0 || usage.CacheCreationTokens > 0 {
		result.CacheMetrics = &CacheMetrics{
			CacheReadTokens:     usage.CacheReadTokens,
			CacheCreationTokens: usage.CacheCreationTokens,
		}
	}
}

func mapClaudeStopReason(reason string) string {
	switch reason {
	case "max_tokens":
		return FinishMaxTokens
	case "tool_use":
		return FinishToolUse
	case "stop_sequence":
		return FinishStopSequence
	default:
		return FinishEndTurn
	}
}

// run executes one CLI invocation, decoding stream-json events line by line.
func (p *ClaudeProvider) run(ctx context.Context, req CompletionRequest, toolLoop bool, onEvent func(cliEvent)) error {
	args, env := p.buildArgs(req, toolLoop)

	cmd := exec.CommandContext(ctx, p.cfg.binary, args...)
	cmd.Env = append(os.Environ(), env...)
	if req.WorkingDir != "" {
		cmd.Dir = req.WorkingDir
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open CLI stdout: %w", err)
	}
	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return &ProviderError{Provider: "claude", Message: fmt.Sprintf("failed to start CLI: %v", err), Retriable: false}
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var event cliEvent
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			continue
		}
		if event.Type == "result" && event.IsError {
			_ = cmd.Wait()
			return p.classifyCLIError(event.Result)
		}
		onEvent(event)
	}

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return p.classifyCLIError(stderr.String())
	}
	return nil
}

func (p *ClaudeProvider) buildArgs(req CompletionRequest, toolLoop bool) ([]string, []string) {
	system, prompt := splitPrompt(req)

	args := []string{
		"-p", prompt,
		"--output-format", "stream-json",
		"--verbose",
		"--model", p.model(req),
	}
	if system != "" {
		args = append(args, "--append-system-prompt", system)
	}
	if req.ContainerID != "" {
		args = append(args, "--resume", req.ContainerID)
	}
	if req.ResponseFormat != nil && req.ResponseFormat.Type == "json_object" && req.ResponseFormat.Schema != nil {
		if schema, err := json.Marshal(req.ResponseFormat.Schema); err == nil {
			args = append(args, "--append-system-prompt",
				"Respond with a single JSON document matching this schema, no prose:\n"+string(schema))
		}
	}

	if toolLoop {
		switch {
		case req.YoloMode:
			args = append(args, "--dangerously-skip-permissions")
		case req.WriteEnabled:
			args = append(args, "--permission-mode", "acceptEdits")
		default:
			args = append(args, "--permission-mode", "default")
		}
	} else {
		args = append(args, "--max-turns", "1")
	}

	var env []string
	if budget := req.ThinkingLevel.TokenBudget(); budget > 0 {
		env = append(env, fmt.Sprintf("MAX_THINKING_TOKENS=%d", budget))
	}
	return args, env
}

// splitPrompt serializes the message list into a system prompt plus a single
// prompt string, since the CLI takes one prompt per invocation.
func splitPrompt(req CompletionRequest) (system, prompt string) {
	var systemParts, promptParts []string
	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			systemParts = append(systemParts, msg.Content)
		case RoleAssistant:
			if msg.Content != "" {
				promptParts = append(promptParts, "Assistant: "+msg.Content)
			}
		default:
			promptParts = append(promptParts, msg.Content)
		}
	}
	return strings.Join(systemParts, "\n\n"), strings.Join(promptParts, "\n\n")
}

func (p *ClaudeProvider) classifyCLIError(detail string) error {
	lower := strings.ToLower(detail)
	switch {
	case strings.Contains(lower, "rate limit") || strings.Contains(lower, "429"):
		return &RateLimitError{Provider: "claude"}
	case strings.Contains(lower, "not logged in") || strings.Contains(lower, "authentication") || strings.Contains(lower, "unauthorized"):
		return &AuthenticationError{Provider: "claude", Message: strings.TrimSpace(detail)}
	default:
		return &ProviderError{Provider: "claude", Message: strings.TrimSpace(detail), Retriable: true}
	}
}

var _ Provider = (*ClaudeProvider)(nil)
