// Package agent drives the turn-by-turn agentic loop: first-turn memory
// injection, citation tracking, tool-call dispatch, and terminal status
// reporting.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agenthub-io/agenthub/pkg/llms"
	"github.com/agenthub-io/agenthub/pkg/memory"
	"github.com/agenthub-io/agenthub/pkg/observability"
	"github.com/agenthub-io/agenthub/pkg/tool"
)

// Terminal statuses.
const (
	StatusSuccess  = "success"
	StatusError    = "error"
	StatusMaxTurns = "max_turns"
)

const defaultMaxTurns = 20

// Config parameterizes one runner.
type Config struct {
	// AgentID labels results; generated when empty.
	AgentID string

	// SystemPrompt is the base system message, augmented with injected
	// memory on turn one.
	SystemPrompt string

	// MaxTurns bounds the loop. Defaults to 20.
	MaxTurns int

	// TaskType elevates trigger-tagged memories during injection.
	TaskType string

	// ExternalID feeds variant assignment.
	ExternalID string

	// ToolHandler, when set, switches tool_use handling to the external
	// path: the runner executes each tool call and feeds results back as
	// a synthetic user message. Without it the provider is assumed to run
	// its own sandboxed tools.
	ToolHandler llms.ToolHandler

	// Model, Temperature, MaxTokens, and ThinkingLevel pass through to
	// the provider.
	Model         string
	Temperature   float64
	MaxTokens     int
	ThinkingLevel llms.ThinkingLevel

	// Tool-loop passthrough.
	WriteEnabled bool
	YoloMode     bool
	WorkingDir   string

	// Permissions gates external tool execution. Nil builds a policy from
	// WriteEnabled and YoloMode.
	Permissions *tool.Policy
}

// Result is the terminal report of one agent run.
type Result struct {
	AgentID        string   `json:"agent_id"`
	SessionID      string   `json:"session_id,omitempty"`
	Status         string   `json:"status"`
	Content        string   `json:"content"`
	Error          string   `json:"error,omitempty"`
	Turns          int      `json:"turns"`
	InputTokens    int      `json:"input_tokens"`
	OutputTokens   int      `json:"output_tokens"`
	ThinkingTokens int      `json:"thinking_tokens"`
	ToolCallsCount int      `json:"tool_calls_count"`
	ContainerID    string   `json:"container_id,omitempty"`
	MemoryUUIDs    []string `json:"memory_uuids,omitempty"`
	CitedUUIDs     []string `json:"cited_uuids,omitempty"`
	ProgressLog    []string `json:"progress_log,omitempty"`
}

// Runner executes the loop against one provider, optionally augmented by a
// scope-bound memory service.
type Runner struct {
	provider llms.Provider
	mem      *memory.Service // nil disables injection and citation tracking
	session  *memory.SessionState
	cfg      Config
}

// NewRunner creates a runner. mem and session may be nil.
func NewRunner(provider llms.Provider, mem *memory.Service, session *memory.SessionState, cfg Config) (*Runner, error) {
	if provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = defaultMaxTurns
	}
	if cfg.AgentID == "" {
		cfg.AgentID = "agent-" + uuid.NewString()[:8]
	}
	if cfg.Permissions == nil {
		cfg.Permissions = &tool.Policy{WriteEnabled: cfg.WriteEnabled, YoloMode: cfg.YoloMode}
	}
	return &Runner{provider: provider, mem: mem, session: session, cfg: cfg}, nil
}

// Run drives the loop for one task until end_turn, max_turns, or error.
func (r *Runner) Run(ctx context.Context, task string) (*Result, error) {
	result := &Result{AgentID: r.cfg.AgentID, Status: StatusError}
	started := time.Now()
	defer func() {
		observability.GetGlobalMetrics().RecordAgentRun(ctx, result.Status,
			time.Since(started), result.Turns, result.InputTokens+result.OutputTokens)
	}()

	systemPrompt := r.cfg.SystemPrompt
	if r.mem != nil {
		pc, err := r.mem.Inject(ctx, task, memory.InjectOptions{
			TaskType:   r.cfg.TaskType,
			ExternalID: r.cfg.ExternalID,
			Session:    r.session,
		})
		if err != nil {
			slog.Warn("Memory injection failed, continuing without context",
				"agent_id", r.cfg.AgentID, "error", err)
		} else if pc.Text != "" {
			// End of the system message: recency bias favors it there.
			if systemPrompt != "" {
				systemPrompt += "\n\n"
			}
			systemPrompt += pc.Text
			result.MemoryUUIDs = pc.LoadedUUIDs()
			r.progress(result, "injected %d memories (%d tokens)", len(result.MemoryUUIDs), pc.TotalTokens)
		}
	}

	var messages []llms.Message
	if systemPrompt != "" {
		messages = append(messages, llms.Message{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, llms.Message{Role: "user", Content: task})

	cited := make(map[string]struct{})
	var lastContent string

	for turn := 1; turn <= r.cfg.MaxTurns; turn++ {
		result.Turns = turn

		completion, err := r.provider.Complete(ctx, llms.CompletionRequest{
			Messages:      messages,
			Model:         r.cfg.Model,
			MaxTokens:     r.cfg.MaxTokens,
			Temperature:   r.cfg.Temperature,
			ThinkingLevel: r.cfg.ThinkingLevel,
			ContainerID:   result.ContainerID,
			WriteEnabled:  r.cfg.WriteEnabled,
			YoloMode:      r.cfg.YoloMode,
			WorkingDir:    r.cfg.WorkingDir,
		})
		if err != nil {
			result.Error = err.Error()
			r.progress(result, "turn %d failed: %v", turn, err)
			return result, nil
		}

		result.InputTokens += completion.InputTokens
		result.OutputTokens += completion.OutputTokens
		result.ThinkingTokens += completion.ThinkingTokens
		result.ToolCallsCount += len(completion.ToolCalls)
		if completion.SessionID != "" {
			result.SessionID = completion.SessionID
		}
		if completion.Container != nil {
			result.ContainerID = completion.Container.ID
		}
		if completion.Content != "" {
			lastContent = completion.Content
		}

		if r.mem != nil {
			for _, uuid := range r.mem.RecordAssistantTurn(ctx, completion.Content) {
				cited[uuid] = struct{}{}
			}
		}
		r.progress(result, "turn %d: finish=%s tokens=%d", turn, completion.FinishReason, completion.TotalTokens())

		switch completion.FinishReason {
		case llms.FinishEndTurn:
			result.Status = StatusSuccess
			result.Content = lastContent
			result.CitedUUIDs = setToSlice(cited)
			r.progress(result, "completed in %s", time.Since(started).Round(time.Millisecond))
			return result, nil

		case llms.FinishToolUse:
			messages = append(messages, llms.Message{
				Role:      "assistant",
				Content:   completion.Content,
				ToolCalls: completion.ToolCalls,
			})
			messages = append(messages, r.toolFollowup(ctx, completion.ToolCalls, result))

		case llms.FinishMaxTokens:
			result.Error = "Response truncated"
			result.Content = lastContent
			result.CitedUUIDs = setToSlice(cited)
			return result, nil

		default:
			messages = append(messages,
				llms.Message{Role: "assistant", Content: completion.Content},
				llms.Message{Role: "user", Content: "Please continue."})
		}
	}

	result.Status = StatusMaxTurns
	result.Error = fmt.Sprintf("reached max turns (%d)", r.cfg.MaxTurns)
	result.Content = lastContent
	result.CitedUUIDs = setToSlice(cited)
	return result, nil
}

// toolFollowup builds the user turn that follows a tool_use finish. With a
// handler the runner executes the calls itself; otherwise the provider ran
// them in its own sandbox and only needs a nudge.
func (r *Runner) toolFollowup(ctx context.Context, calls []llms.ToolCall, result *Result) llms.Message {
	if r.cfg.ToolHandler == nil {
		return llms.Message{Role: "user", Content: "Continue based on the tool results."}
	}

	var b strings.Builder
	b.WriteString("Tool execution results:\n")
	for _, call := range calls {
		if verdict := r.cfg.Permissions.PreToolUse(ctx, call.Name, call.Arguments); verdict.Decision == tool.Deny {
			fmt.Fprintf(&b, "%s: denied: %s\n", call.ID, verdict.Reason)
			r.progress(result, "tool %s denied: %s", call.Name, verdict.Reason)
			continue
		}
		toolResult, err := r.cfg.ToolHandler.Execute(ctx, call)
		if err != nil {
			toolResult = llms.ToolResult{ToolCallID: call.ID, Content: err.Error(), IsError: true}
		}
		r.cfg.Permissions.PostToolUse(call.Name, call.Arguments, toolResult.Content)
		fmt.Fprintf(&b, "%s: %s\n", call.ID, toolResult.Content)
		r.progress(result, "tool %s executed (error=%t)", call.Name, toolResult.IsError)
	}
	return llms.Message{Role: "user", Content: b.String()}
}

func (r *Runner) progress(result *Result, format string, args ...any) {
	result.ProgressLog = append(result.ProgressLog, fmt.Sprintf(format, args...))
}

func setToSlice(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}
