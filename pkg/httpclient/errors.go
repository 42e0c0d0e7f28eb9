package httpclient

import (
	"fmt"
	"time"
)

// RetryableError is returned when the retry budget is exhausted. Callers can
// translate it to their own error taxonomy via errors.As.
type RetryableError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *RetryableError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("HTTP %d: %s (retry after %v)", e.StatusCode, e.Message, e.RetryAfter)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether the underlying condition may succeed on retry.
func (e *RetryableError) IsRetryable() bool {
	return true
}
