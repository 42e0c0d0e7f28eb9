package orchestration

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/agenthub-io/agenthub/pkg/llms"
)

// fakeProvider replays scripted completions, records requests, and can be
// told to fail, block until cancelled, or stream content word by word.
type fakeProvider struct {
	mu       sync.Mutex
	name     string
	replies  []string
	err      error
	failOn   string
	block    bool
	requests []llms.CompletionRequest
}

func (p *fakeProvider) Name() string      { return p.name }
func (p *fakeProvider) ModelName() string { return p.name + "-model" }

func (p *fakeProvider) next() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	if len(p.replies) == 0 {
		return "", errors.New("fake provider ran out of replies")
	}
	reply := p.replies[0]
	if len(p.replies) > 1 {
		p.replies = p.replies[1:]
	}
	return reply, nil
}

func (p *fakeProvider) record(req llms.CompletionRequest) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	p.mu.Unlock()
}

func (p *fakeProvider) recorded() []llms.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]llms.CompletionRequest, len(p.requests))
	copy(out, p.requests)
	return out
}

func (p *fakeProvider) Complete(ctx context.Context, req llms.CompletionRequest) (*llms.CompletionResult, error) {
	p.record(req)
	if p.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.failOn != "" && len(req.Messages) > 0 &&
		strings.Contains(req.Messages[len(req.Messages)-1].Content, p.failOn) {
		return nil, errors.New("induced failure")
	}
	content, err := p.next()
	if err != nil {
		return nil, err
	}
	return &llms.CompletionResult{
		Content:      content,
		FinishReason: llms.FinishEndTurn,
		InputTokens:  10,
		OutputTokens: 5,
	}, nil
}

func (p *fakeProvider) Stream(ctx context.Context, req llms.CompletionRequest) (<-chan llms.StreamEvent, error) {
	p.record(req)
	content, err := p.next()
	if err != nil {
		return nil, err
	}
	ch := make(chan llms.StreamEvent)
	go func() {
		defer close(ch)
		for _, word := range strings.Fields(content) {
			ch <- llms.StreamEvent{Type: llms.EventContent, Content: word + " ", Tokens: 1}
		}
		ch <- llms.StreamEvent{Type: llms.EventDone, Tokens: 1}
	}()
	return ch, nil
}

func (p *fakeProvider) CompleteWithTools(ctx context.Context, req llms.CompletionRequest, handler llms.ToolHandler) (<-chan llms.ToolTurn, error) {
	ch := make(chan llms.ToolTurn)
	close(ch)
	return ch, nil
}

func (p *fakeProvider) HealthCheck(ctx context.Context) error { return nil }
func (p *fakeProvider) Close() error                          { return nil }
