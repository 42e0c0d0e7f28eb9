// Package orchestration layers multi-agent patterns over the provider
// adapter: isolated subagents, bounded parallel fan-out, maker-checker
// verification, and the roundtable conversation.
package orchestration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agenthub-io/agenthub/pkg/llms"
)

// Subagent terminal statuses.
const (
	SubagentCompleted = "completed"
	SubagentError     = "error"
	SubagentTimeout   = "timeout"
	SubagentCancelled = "cancelled"
)

const defaultSubagentTimeout = 300 * time.Second

// SubagentConfig parameterizes one isolated call.
type SubagentConfig struct {
	SystemPrompt  string
	Model         string
	Temperature   float64
	MaxTokens     int
	ThinkingLevel llms.ThinkingLevel
	Timeout       time.Duration
}

// SubagentResult is the captured outcome. Provider failures land in Status
// and Error instead of being raised; orchestration always gets a result.
type SubagentResult struct {
	ID           string        `json:"id"`
	ParentID     string        `json:"parent_id,omitempty"`
	TraceID      string        `json:"trace_id,omitempty"`
	Status       string        `json:"status"`
	Content      string        `json:"content"`
	Error        string        `json:"error,omitempty"`
	InputTokens  int           `json:"input_tokens"`
	OutputTokens int           `json:"output_tokens"`
	Duration     time.Duration `json:"duration"`
	Index        int           `json:"index,omitempty"`
}

// Succeeded reports terminal success.
func (r *SubagentResult) Succeeded() bool {
	return r.Status == SubagentCompleted
}

// Spawner runs isolated subagent calls against one provider.
type Spawner struct {
	provider llms.Provider

	mu      sync.Mutex
	pending map[string]*backgroundRun
}

type backgroundRun struct {
	done   chan struct{}
	cancel context.CancelFunc
	result *SubagentResult
}

// NewSpawner creates a spawner.
func NewSpawner(provider llms.Provider) *Spawner {
	return &Spawner{provider: provider, pending: make(map[string]*backgroundRun)}
}

// Spawn runs one isolated call with its own message list and timeout.
// Timeouts and provider errors are captured as terminal status.
func (s *Spawner) Spawn(ctx context.Context, task string, cfg SubagentConfig, contextMsgs []llms.Message, parentID, traceID string) *SubagentResult {
	result := &SubagentResult{
		ID:       "sub-" + uuid.NewString()[:8],
		ParentID: parentID,
		TraceID:  traceID,
	}
	started := time.Now()

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultSubagentTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var messages []llms.Message
	if cfg.SystemPrompt != "" {
		messages = append(messages, llms.Message{Role: "system", Content: cfg.SystemPrompt})
	}
	messages = append(messages, contextMsgs...)
	messages = append(messages, llms.Message{Role: "user", Content: task})

	completion, err := s.provider.Complete(ctx, llms.CompletionRequest{
		Messages:      messages,
		Model:         cfg.Model,
		Temperature:   cfg.Temperature,
		MaxTokens:     cfg.MaxTokens,
		ThinkingLevel: cfg.ThinkingLevel,
	})
	result.Duration = time.Since(started)

	if err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			result.Status = SubagentTimeout
			result.Error = fmt.Sprintf("timed out after %s", timeout)
		case errors.Is(err, context.Canceled):
			result.Status = SubagentCancelled
			result.Error = "cancelled"
		default:
			result.Status = SubagentError
			result.Error = err.Error()
		}
		return result
	}

	result.Status = SubagentCompleted
	result.Content = completion.Content
	result.InputTokens = completion.InputTokens
	result.OutputTokens = completion.OutputTokens
	return result
}

// SpawnBackground starts a detached run and returns its id.
func (s *Spawner) SpawnBackground(ctx context.Context, task string, cfg SubagentConfig, contextMsgs []llms.Message, parentID, traceID string) string {
	runCtx, cancel := context.WithCancel(ctx)
	run := &backgroundRun{done: make(chan struct{}), cancel: cancel}
	id := "bg-" + uuid.NewString()[:8]

	s.mu.Lock()
	s.pending[id] = run
	s.mu.Unlock()

	go func() {
		defer close(run.done)
		run.result = s.Spawn(runCtx, task, cfg, contextMsgs, parentID, traceID)
	}()
	return id
}

// GetResult waits for a background run. A zero timeout waits forever.
func (s *Spawner) GetResult(id string, timeout time.Duration) (*SubagentResult, error) {
	s.mu.Lock()
	run, ok := s.pending[id]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown background run %q", id)
	}

	if timeout > 0 {
		select {
		case <-run.done:
		case <-time.After(timeout):
			return nil, fmt.Errorf("background run %q still pending after %s", id, timeout)
		}
	} else {
		<-run.done
	}

	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
	return run.result, nil
}

// Cancel aborts a background run. The run still produces a result with
// cancelled status, retrievable via GetResult.
func (s *Spawner) Cancel(id string) error {
	s.mu.Lock()
	run, ok := s.pending[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown background run %q", id)
	}
	run.cancel()
	return nil
}
