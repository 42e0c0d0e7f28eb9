// Package llms provides a uniform provider abstraction over heterogeneous
// LLM backends. Two providers ship in-tree: Claude driven through the
// locally installed OAuth CLI, and Gemini through its REST API.
package llms

import (
	"context"
	"time"
)

// Role names for messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one conversation turn.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall is a model-requested tool invocation.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolResult is the outcome of executing one tool call.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// ToolDefinition describes a tool available to the model. Parameters is a
// JSON schema; providers convert it to their native format.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ToolHandler executes external tool calls on behalf of the provider loop.
type ToolHandler interface {
	Execute(ctx context.Context, call ToolCall) (ToolResult, error)
}

// ThinkingLevel is the semantic extended-thinking setting. Each provider
// maps it to its own token budget; minimal disables thinking entirely.
type ThinkingLevel string

const (
	ThinkingMinimal    ThinkingLevel = "minimal"
	ThinkingLow        ThinkingLevel = "low"
	ThinkingMedium     ThinkingLevel = "medium"
	ThinkingHigh       ThinkingLevel = "high"
	ThinkingUltrathink ThinkingLevel = "ultrathink"
)

// TokenBudget maps the level to a thinking token budget. Zero means
// extended thinking is disabled.
func (l ThinkingLevel) TokenBudget() int {
	switch l {
	case ThinkingLow:
		return 4096
	case ThinkingMedium:
		return 8192
	case ThinkingHigh:
		return 16384
	case ThinkingUltrathink:
		return 31999
	default:
		return 0
	}
}

// ResponseFormat requests structured output.
type ResponseFormat struct {
	Type   string         `json:"type"` // "json_object"
	Schema map[string]any `json:"schema,omitempty"`
}

// CompletionRequest carries everything one completion needs. Optional fields
// not supported by a provider are ignored, never an error.
type CompletionRequest struct {
	Messages                []Message        `json:"messages"`
	Model                   string           `json:"model,omitempty"`
	MaxTokens               int              `json:"max_tokens,omitempty"`
	Temperature             float64          `json:"temperature,omitempty"`
	ThinkingLevel           ThinkingLevel    `json:"thinking_level,omitempty"`
	Tools                   []ToolDefinition `json:"tools,omitempty"`
	ResponseFormat          *ResponseFormat  `json:"response_format,omitempty"`
	EnableProgrammaticTools bool             `json:"enable_programmatic_tools,omitempty"`
	ContainerID             string           `json:"container_id,omitempty"`

	// Tool-loop settings for CompleteWithTools.
	WriteEnabled bool   `json:"write_enabled,omitempty"`
	YoloMode     bool   `json:"yolo_mode,omitempty"`
	WorkingDir   string `json:"working_dir,omitempty"`
}

// Finish reasons.
const (
	FinishEndTurn      = "end_turn"
	FinishMaxTokens    = "max_tokens"
	FinishToolUse      = "tool_use"
	FinishStopSequence = "stop_sequence"
)

// Container is a provider-side execution container handle.
type Container struct {
	ID        string    `json:"id"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// CacheMetrics reports prompt-cache activity for a completion.
type CacheMetrics struct {
	CacheReadTokens     int `json:"cache_read_tokens,omitempty"`
	CacheCreationTokens int `json:"cache_creation_tokens,omitempty"`
}

// CompletionResult is the uniform completion response.
type CompletionResult struct {
	Content         string        `json:"content"`
	Model           string        `json:"model"`
	Provider        string        `json:"provider"`
	InputTokens     int           `json:"input_tokens"`
	OutputTokens    int           `json:"output_tokens"`
	FinishReason    string        `json:"finish_reason"`
	ThinkingContent string        `json:"thinking_content,omitempty"`
	ThinkingTokens  int           `json:"thinking_tokens,omitempty"`
	ToolCalls       []ToolCall    `json:"tool_calls,omitempty"`
	Container       *Container    `json:"container,omitempty"`
	CacheMetrics    *CacheMetrics `json:"cache_metrics,omitempty"`
	SessionID       string        `json:"session_id,omitempty"`
}

// TotalTokens is input plus output.
func (r *CompletionResult) TotalTokens() int {
	return r.InputTokens + r.OutputTokens
}

// StreamEvent types.
const (
	EventContent  = "content"
	EventThinking = "thinking"
	EventToolCall = "tool_call"
	EventDone     = "done"
	EventError    = "error"
)

// StreamEvent is one tagged event from a streaming completion.
type StreamEvent struct {
	Type     string    `json:"type"`
	Content  string    `json:"content,omitempty"`
	ToolCall *ToolCall `json:"tool_call,omitempty"`
	Tokens   int       `json:"tokens,omitempty"`
	Err      error     `json:"-"`
}

// ToolTurn is one provider message emitted by the CompleteWithTools loop,
// paired with the provider session it belongs to.
type ToolTurn struct {
	Message   *CompletionResult `json:"message"`
	SessionID string            `json:"session_id"`
}

// Provider is the uniform interface over LLM backends. Implementations must
// be safe for concurrent Complete calls.
type Provider interface {
	// Name returns the provider identifier ("claude", "gemini").
	Name() string

	// ModelName returns the configured model.
	ModelName() string

	// Complete performs a non-streaming completion.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error)

	// Stream performs a streaming completion. The channel is closed after a
	// done or error event.
	Stream(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error)

	// CompleteWithTools drives a provider-side tool loop and emits one
	// ToolTurn per provider message.
	CompleteWithTools(ctx context.Context, req CompletionRequest, handler ToolHandler) (<-chan ToolTurn, error)

	// HealthCheck verifies credentials and connectivity.
	HealthCheck(ctx context.Context) error

	// Close releases resources.
	Close() error
}
