package llms

import (
	"errors"
	"fmt"
	"time"
)

// RateLimitError is a provider 429. RetryAfter is nil when the provider did
// not send a hint.
type RateLimitError struct {
	Provider   string
	RetryAfter *time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter != nil {
		return fmt.Sprintf("%s rate limited, retry after %s", e.Provider, *e.RetryAfter)
	}
	return fmt.Sprintf("%s rate limited", e.Provider)
}

// AuthenticationError covers missing or invalid credentials, including an
// absent CLI binary for OAuth-backed providers. Never retriable.
type AuthenticationError struct {
	Provider string
	Message  string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("%s authentication failed: %s", e.Provider, e.Message)
}

// ProviderError covers all other provider failures. The adapter sets
// Retriable; orchestration decides whether to retry.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
	Retriable  bool
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s provider error (HTTP %d): %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s provider error: %s", e.Provider, e.Message)
}

// IsRetriable reports whether orchestration should retry the error with
// backoff.
func IsRetriable(err error) bool {
	var rate *RateLimitError
	if errors.As(err, &rate) {
		return true
	}
	var provider *ProviderError
	if errors.As(err, &provider) {
		return provider.Retriable
	}
	return false
}

// RetryAfterHint extracts the provider's retry-after hint, if any.
func RetryAfterHint(err error) (time.Duration, bool) {
	var rate *RateLimitError
	if errors.As(err, &rate) && rate.RetryAfter != nil {
		return *rate.RetryAfter, true
	}
	return 0, false
}
