package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthub-io/agenthub/pkg/config"
	"github.com/agenthub-io/agenthub/pkg/graph"
	"github.com/agenthub-io/agenthub/pkg/llms"
	"github.com/agenthub-io/agenthub/pkg/memory"
)

// scriptedProvider replays canned completions and records every request.
type scriptedProvider struct {
	replies  []*llms.CompletionResult
	err      error
	requests []llms.CompletionRequest
}

func (p *scriptedProvider) Name() string      { return "scripted" }
func (p *scriptedProvider) ModelName() string { return "scripted-model" }

func (p *scriptedProvider) Complete(ctx context.Context, req llms.CompletionRequest) (*llms.CompletionResult, error) {
	p.requests = append(p.requests, req)
	if p.err != nil {
		return nil, p.err
	}
	if len(p.replies) == 0 {
		return nil, errors.New("scripted provider ran out of replies")
	}
	reply := p.replies[0]
	if len(p.replies) > 1 {
		p.replies = p.replies[1:]
	}
	return reply, nil
}

func (p *scriptedProvider) Stream(ctx context.Context, req llms.CompletionRequest) (<-chan llms.StreamEvent, error) {
	ch := make(chan llms.StreamEvent)
	close(ch)
	return ch, nil
}

func (p *scriptedProvider) CompleteWithTools(ctx context.Context, req llms.CompletionRequest, handler llms.ToolHandler) (<-chan llms.ToolTurn, error) {
	ch := make(chan llms.ToolTurn)
	close(ch)
	return ch, nil
}

func (p *scriptedProvider) HealthCheck(ctx context.Context) error { return nil }
func (p *scriptedProvider) Close() error                          { return nil }

// echoHandler returns a fixed payload for every tool call.
type echoHandler struct {
	calls []llms.ToolCall
}

func (h *echoHandler) Execute(ctx context.Context, call llms.ToolCall) (llms.ToolResult, error) {
	h.calls = append(h.calls, call)
	return llms.ToolResult{ToolCallID: call.ID, Content: "ok: " + call.Name}, nil
}

func done(content string) *llms.CompletionResult {
	return &llms.CompletionResult{
		Content:      content,
		FinishReason: llms.FinishEndTurn,
		InputTokens:  100,
		OutputTokens: 50,
	}
}

func TestRunSuccess(t *testing.T) {
	provider := &scriptedProvider{replies: []*llms.CompletionResult{done("all set")}}
	runner, err := NewRunner(provider, nil, nil, Config{SystemPrompt: "be terse"})
	require.NoError(t, err)

	result, err := runner.Run(context.Background(), "do the thing")
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, result.Status)
	assert.Equal(t, "all set", result.Content)
	assert.Equal(t, 1, result.Turns)
	assert.Equal(t, 100, result.InputTokens)
	assert.Equal(t, 50, result.OutputTokens)

	// System and user messages in order.
	require.Len(t, provider.requests, 1)
	msgs := provider.requests[0].Messages
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].Role)
	assert.Equal(t, "user", msgs[1].Role)
	assert.Equal(t, "do the thing", msgs[1].Content)
}

func TestRunProviderError(t *testing.T) {
	provider := &scriptedProvider{err: assert.AnError}
	runner, err := NewRunner(provider, nil, nil, Config{})
	require.NoError(t, err)

	result, err := runner.Run(context.Background(), "task")
	require.NoError(t, err)
	assert.Equal(t, StatusError, result.Status)
	assert.NotEmpty(t, result.Error)
}

func TestRunToolUseNativePath(t *testing.T) {
	provider := &scriptedProvider{replies: []*llms.CompletionResult{
		{Content: "running tools", FinishReason: llms.FinishToolUse,
			ToolCalls: []llms.ToolCall{{ID: "t1", Name: "file-read"}}},
		done("finished"),
	}}
	runner, err := NewRunner(provider, nil, nil, Config{})
	require.NoError(t, err)

	result, err := runner.Run(context.Background(), "task")
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, result.Status)
	assert.Equal(t, 2, result.Turns)
	assert.Equal(t, 1, result.ToolCallsCount)

	// Second request carries the continue nudge, not executed results.
	second := provider.requests[1].Messages
	last := second[len(second)-1]
	assert.Equal(t, "user", last.Role)
	assert.Equal(t, "Continue based on the tool results.", last.Content)
}

func TestRunToolUseExternalPath(t *testing.T) {
	provider := &scriptedProvider{replies: []*llms.CompletionResult{
		{Content: "need a file", FinishReason: llms.FinishToolUse,
			ToolCalls: []llms.ToolCall{
				{ID: "t1", Name: "file-read"},
				{ID: "t2", Name: "code-search"},
			}},
		done("finished"),
	}}
	handler := &echoHandler{}
	runner, err := NewRunner(provider, nil, nil, Config{ToolHandler: handler})
	require.NoError(t, err)

	result, err := runner.Run(context.Background(), "task")
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, result.Status)
	require.Len(t, handler.calls, 2)

	second := provider.requests[1].Messages
	last := second[len(second)-1]
	assert.Equal(t, "user", last.Role)
	assert.True(t, strings.HasPrefix(last.Content, "Tool execution results:\n"))
	assert.Contains(t, last.Content, "t1: ok: file-read")
	assert.Contains(t, last.Content, "t2: ok: code-search")
}

func TestRunToolUseWriteDenied(t *testing.T) {
	provider := &scriptedProvider{replies: []*llms.CompletionResult{
		{Content: "writing a file", FinishReason: llms.FinishToolUse,
			ToolCalls: []llms.ToolCall{{ID: "t1", Name: "file-write"}}},
		done("gave up"),
	}}
	handler := &echoHandler{}
	runner, err := NewRunner(provider, nil, nil, Config{ToolHandler: handler})
	require.NoError(t, err)

	result, err := runner.Run(context.Background(), "task")
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, result.Status)
	assert.Empty(t, handler.calls, "denied tool never executes")

	second := provider.requests[1].Messages
	last := second[len(second)-1]
	assert.Contains(t, last.Content, "t1: denied:")
}

func TestRunMaxTokensTruncated(t *testing.T) {
	provider := &scriptedProvider{replies: []*llms.CompletionResult{
		{Content: "partial", FinishReason: llms.FinishMaxTokens},
	}}
	runner, err := NewRunner(provider, nil, nil, Config{})
	require.NoError(t, err)

	result, err := runner.Run(context.Background(), "task")
	require.NoError(t, err)
	assert.Equal(t, StatusError, result.Status)
	assert.Equal(t, "Response truncated", result.Error)
	assert.Equal(t, "partial", result.Content)
}

func TestRunUnknownFinishNudges(t *testing.T) {
	provider := &scriptedProvider{replies: []*llms.CompletionResult{
		{Content: "hmm", FinishReason: llms.FinishStopSequence},
		done("ok then"),
	}}
	runner, err := NewRunner(provider, nil, nil, Config{})
	require.NoError(t, err)

	result, err := runner.Run(context.Background(), "task")
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, result.Status)

	second := provider.requests[1].Messages
	assert.Equal(t, "Please continue.", second[len(second)-1].Content)
}

func TestRunMaxTurnsExhausted(t *testing.T) {
	// A reply that never terminates.
	looping := &llms.CompletionResult{Content: "more", FinishReason: llms.FinishStopSequence}
	provider := &scriptedProvider{replies: []*llms.CompletionResult{looping}}
	runner, err := NewRunner(provider, nil, nil, Config{MaxTurns: 3})
	require.NoError(t, err)

	result, err := runner.Run(context.Background(), "task")
	require.NoError(t, err)
	assert.Equal(t, StatusMaxTurns, result.Status)
	assert.Equal(t, 3, result.Turns)
	assert.NotEmpty(t, result.Error)
	assert.Equal(t, "more", result.Content)
}

func TestRunFirstTurnInjection(t *testing.T) {
	store, err := graph.NewLocalStore()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	ctx := context.Background()

	factory := memory.NewFactory(store, nil, nil, config.MemoryConfig{VariantOverride: memory.VariantBaseline}, config.OptimizerConfig{})
	svc, err := factory.Service(memory.ScopeGlobal, "")
	require.NoError(t, err)

	created, err := svc.Create(ctx, "Deploy scripts always run the smoke suite",
		"deploy rule", memory.ProfileGoldenStandard, "manual")
	require.NoError(t, err)
	require.True(t, created.Success)

	citation := "[M:" + created.UUID[:8] + "]"
	provider := &scriptedProvider{replies: []*llms.CompletionResult{
		done("Per " + citation + " the smoke suite runs first."),
	}}

	runner, err := NewRunner(provider, svc, nil, Config{SystemPrompt: "base prompt"})
	require.NoError(t, err)

	result, err := runner.Run(ctx, "deploy scripts smoke suite ordering")
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, result.Status)
	assert.Contains(t, result.MemoryUUIDs, created.UUID)
	assert.Contains(t, result.CitedUUIDs, created.UUID)

	// The injected block landed at the end of the system message.
	system := provider.requests[0].Messages[0]
	assert.Equal(t, "system", system.Role)
	assert.True(t, strings.HasPrefix(system.Content, "base prompt"))
	assert.Contains(t, system.Content, "## Mandates")
}

func TestNewRunnerValidation(t *testing.T) {
	_, err := NewRunner(nil, nil, nil, Config{})
	assert.Error(t, err)

	runner, err := NewRunner(&scriptedProvider{}, nil, nil, Config{})
	require.NoError(t, err)
	assert.Equal(t, defaultMaxTurns, runner.cfg.MaxTurns)
	assert.NotEmpty(t, runner.cfg.AgentID)
}
