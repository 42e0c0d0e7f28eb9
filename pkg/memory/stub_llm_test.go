package memory

import (
	"context"

	"github.com/agenthub-io/agenthub/pkg/llms"
)

// stubLLM returns canned responses for LLM-gated paths.
type stubLLM struct {
	replies []string
	err     error
	prompts []string
}

func (s *stubLLM) Name() string      { return "stub" }
func (s *stubLLM) ModelName() string { return "stub-model" }

func (s *stubLLM) Complete(ctx context.Context, req llms.CompletionRequest) (*llms.CompletionResult, error) {
	if len(req.Messages) > 0 {
		s.prompts = append(s.prompts, req.Messages[len(req.Messages)-1].Content)
	}
	if s.err != nil {
		return nil, s.err
	}
	reply := ""
	if len(s.replies) > 0 {
		reply = s.replies[0]
		if len(s.replies) > 1 {
			s.replies = s.replies[1:]
		}
	}
	return &llms.CompletionResult{
		Content:      reply,
		Model:        "stub-model",
		Provider:     "stub",
		FinishReason: llms.FinishEndTurn,
	}, nil
}

func (s *stubLLM) Stream(ctx context.Context, req llms.CompletionRequest) (<-chan llms.StreamEvent, error) {
	ch := make(chan llms.StreamEvent, 2)
	result, err := s.Complete(ctx, req)
	if err != nil {
		ch <- llms.StreamEvent{Type: llms.EventError, Err: err}
	} else {
		ch <- llms.StreamEvent{Type: llms.EventContent, Content: result.Content}
		ch <- llms.StreamEvent{Type: llms.EventDone}
	}
	close(ch)
	return ch, nil
}

func (s *stubLLM) CompleteWithTools(ctx context.Context, req llms.CompletionRequest, handler llms.ToolHandler) (<-chan llms.ToolTurn, error) {
	ch := make(chan llms.ToolTurn, 1)
	result, err := s.Complete(ctx, req)
	if err == nil {
		ch <- llms.ToolTurn{Message: result, SessionID: "stub-session"}
	}
	close(ch)
	return ch, nil
}

func (s *stubLLM) HealthCheck(ctx context.Context) error { return s.err }
func (s *stubLLM) Close() error                          { return nil }
