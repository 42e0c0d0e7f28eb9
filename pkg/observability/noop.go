package observability

import (
	"context"
	"time"
)

// NoopMetrics drops every signal. It is the default global recorder so
// callers never nil-check.
type NoopMetrics struct{}

func (NoopMetrics) RecordInjection(context.Context, string, time.Duration, int, int) {}
func (NoopMetrics) RecordUsageFlush(context.Context, int, int)                       {}
func (NoopMetrics) RecordTierChange(context.Context, string)                         {}
func (NoopMetrics) RecordLLMCall(context.Context, string, string, time.Duration, int, int, error) {
}
func (NoopMetrics) RecordAgentRun(context.Context, string, time.Duration, int, int) {}
func (NoopMetrics) RecordHTTPRequest(string, string, int, time.Duration, int64)     {}

var (
	_ Metrics = NoopMetrics{}
	_ Metrics = (*PrometheusMetrics)(nil)
)
