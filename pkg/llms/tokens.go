package llms

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

// CountTokens counts tokens with a cl100k encoding shared across providers.
// Neither backend publishes its exact tokenizer, so this is an accounting
// approximation; billing-grade counts come from the provider's usage fields.
func CountTokens(text string) int {
	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding(tiktoken.MODEL_CL100K_BASE)
		if err == nil {
			encoding = enc
		}
	})
	if encoding == nil {
		return EstimateTokens(text)
	}
	return len(encoding.Encode(text, nil, nil))
}

// EstimateTokens is the cheap chars/4 heuristic used on hot paths where
// loading a tokenizer is not worth it.
func EstimateTokens(text string) int {
	return len(text) / 4
}

// CountMessages sums token counts over a message list, adding a small
// per-message overhead for role framing.
func CountMessages(messages []Message) int {
	total := 0
	for _, msg := range messages {
		total += CountTokens(msg.Content) + 4
	}
	return total
}

// streamTokens picks the stream's reported usage when present and falls
// back to counting the emitted text when the backend omitted it.
func streamTokens(reported int, emitted string) int {
	if reported > 0 {
		return reported
	}
	if emitted == "" {
		return 0
	}
	return CountTokens(emitted)
}
