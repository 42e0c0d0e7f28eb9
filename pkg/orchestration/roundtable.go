package orchestration

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/agenthub-io/agenthub/pkg/llms"
	"github.com/agenthub-io/agenthub/pkg/memory"
)

// Roundtable event types. EventVolleyComplete marks the end of one speaker
// rotation; the llms event names pass through unchanged otherwise.
const (
	EventMessage        = "message"
	EventThinking       = "thinking"
	EventToolCall       = "tool_call"
	EventError          = "error"
	EventDone           = "done"
	EventVolleyComplete = "volley_complete"
)

const defaultDeliberationRounds = 3

// RoundtableEvent is one unit of roundtable output, tagged with the
// speaker that produced it.
type RoundtableEvent struct {
	Type     string `json:"type"`
	Speaker  string `json:"speaker,omitempty"`
	Content  string `json:"content,omitempty"`
	Tokens   int    `json:"tokens,omitempty"`
	Error    string `json:"error,omitempty"`
	Complete bool   `json:"complete,omitempty"`
}

// RoundtableSession is a shared conversation across several named
// speakers. Memory context is fetched once at creation and reused for
// every volley; speakers never re-query the store mid-session.
type RoundtableSession struct {
	ID       string
	Topic    string
	speakers map[string]llms.Provider
	order    []string
	memory   string

	mu      sync.Mutex
	history []llms.Message
}

// RoundtableOptions parameterize session creation.
type RoundtableOptions struct {
	Topic        string
	SystemPrompt string
	TaskType     string
}

// NewRoundtableSession creates a session over named providers. mem may be
// nil; with it, scored context for the topic is pre-fetched once.
func NewRoundtableSession(ctx context.Context, speakers map[string]llms.Provider, mem *memory.Service, opts RoundtableOptions) (*RoundtableSession, error) {
	if len(speakers) == 0 {
		return nil, fmt.Errorf("at least one speaker is required")
	}

	session := &RoundtableSession{
		ID:       "rt-" + uuid.NewString()[:8],
		Topic:    opts.Topic,
		speakers: speakers,
	}
	for name := range speakers {
		session.order = append(session.order, name)
	}

	if mem != nil && opts.Topic != "" {
		pc, err := mem.Inject(ctx, opts.Topic, memory.InjectOptions{TaskType: opts.TaskType})
		if err != nil {
			return nil, fmt.Errorf("pre-fetching memory context: %w", err)
		}
		session.memory = pc.Text
	}

	system := opts.SystemPrompt
	if session.memory != "" {
		if system != "" {
			system += "\n\n"
		}
		system += session.memory
	}
	if system != "" {
		session.history = append(session.history, llms.Message{Role: "system", Content: system})
	}
	return session, nil
}

// Speakers returns the current rotation order.
func (s *RoundtableSession) Speakers() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// RouteMessage appends a user message and runs one volley: each selected
// speaker responds in turn, seeing everything said before it. target ""
// or "both" addresses all speakers in randomized order; a speaker name
// addresses only that speaker. Events stream on the returned channel,
// closed after volley_complete.
func (s *RoundtableSession) RouteMessage(ctx context.Context, content, target string) (<-chan RoundtableEvent, error) {
	speakers, err := s.volleyOrder(target)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.history = append(s.history, llms.Message{Role: "user", Content: content})
	s.mu.Unlock()

	events := make(chan RoundtableEvent, 16)
	go func() {
		defer close(events)
		for _, name := range speakers {
			s.speak(ctx, name, events)
		}
		events <- RoundtableEvent{Type: EventVolleyComplete}
	}()
	return events, nil
}

// Deliberate runs multi-round discussion on a question and closes with a
// consensus request. Rounds beyond the first prompt speakers to respond
// to each other rather than restate positions.
func (s *RoundtableSession) Deliberate(ctx context.Context, question string, maxRounds int) (<-chan RoundtableEvent, error) {
	if maxRounds <= 0 {
		maxRounds = defaultDeliberationRounds
	}
	speakers, err := s.volleyOrder("both")
	if err != nil {
		return nil, err
	}

	events := make(chan RoundtableEvent, 16)
	go func() {
		defer close(events)
		for round := 1; round <= maxRounds; round++ {
			prompt := question
			if round > 1 {
				prompt = "Respond to the other participants' points. Concede where they are right, push back where they are wrong."
			}
			s.mu.Lock()
			s.history = append(s.history, llms.Message{Role: "user", Content: prompt})
			s.mu.Unlock()

			// Fresh randomized order each round.
			rand.Shuffle(len(speakers), func(i, j int) { speakers[i], speakers[j] = speakers[j], speakers[i] })
			for _, name := range speakers {
				s.speak(ctx, name, events)
			}
			events <- RoundtableEvent{Type: EventVolleyComplete}
		}

		s.mu.Lock()
		s.history = append(s.history, llms.Message{Role: "user",
			Content: "State the consensus position in two or three sentences. Note any remaining disagreement."})
		s.mu.Unlock()
		s.speak(ctx, speakers[0], events)
		events <- RoundtableEvent{Type: EventDone}
	}()
	return events, nil
}

// speak streams one speaker's turn into events and appends the full
// response to shared history. An empty content event with nonzero tokens
// signals message completion for that speaker.
func (s *RoundtableSession) speak(ctx context.Context, name string, events chan<- RoundtableEvent) {
	provider := s.speakers[name]

	s.mu.Lock()
	messages := make([]llms.Message, len(s.history))
	copy(messages, s.history)
	s.mu.Unlock()

	stream, err := provider.Stream(ctx, llms.CompletionRequest{Messages: messages})
	if err != nil {
		events <- RoundtableEvent{Type: EventError, Speaker: name, Error: err.Error()}
		return
	}

	var full strings.Builder
	tokens := 0
	for event := range stream {
		switch event.Type {
		case llms.EventContent:
			full.WriteString(event.Content)
			tokens += event.Tokens
			events <- RoundtableEvent{Type: EventMessage, Speaker: name, Content: event.Content, Tokens: event.Tokens}
		case llms.EventThinking:
			events <- RoundtableEvent{Type: EventThinking, Speaker: name, Content: event.Content}
		case llms.EventToolCall:
			detail := ""
			if event.ToolCall != nil {
				detail = event.ToolCall.Name
			}
			events <- RoundtableEvent{Type: EventToolCall, Speaker: name, Content: detail}
		case llms.EventError:
			msg := "stream error"
			if event.Err != nil {
				msg = event.Err.Error()
			}
			events <- RoundtableEvent{Type: EventError, Speaker: name, Error: msg}
			return
		case llms.EventDone:
			tokens += event.Tokens
		}
	}

	s.mu.Lock()
	s.history = append(s.history, llms.Message{
		Role:    "assistant",
		Content: fmt.Sprintf("[%s] %s", name, full.String()),
	})
	s.mu.Unlock()

	events <- RoundtableEvent{Type: EventMessage, Speaker: name, Tokens: tokens, Complete: true}
}

// volleyOrder resolves a routing target into a concrete speaker list.
// Multi-speaker volleys are shuffled so no speaker always goes first.
func (s *RoundtableSession) volleyOrder(target string) ([]string, error) {
	switch target {
	case "", "both", "all":
		out := make([]string, len(s.order))
		copy(out, s.order)
		rand.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
		return out, nil
	default:
		if _, ok := s.speakers[target]; !ok {
			return nil, fmt.Errorf("unknown speaker %q", target)
		}
		return []string{target}, nil
	}
}

// HistoryLen reports the number of messages accumulated so far.
func (s *RoundtableSession) HistoryLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history)
}
