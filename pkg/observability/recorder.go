package observability

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	globalMetrics Metrics = NoopMetrics{}
	metricsMu     sync.RWMutex
)

// Metrics records the gateway's operational signals. Implementations must
// tolerate partial initialization; a zero value records nothing.
type Metrics interface {
	RecordInjection(ctx context.Context, scope string, duration time.Duration, tokens, memories int)
	RecordUsageFlush(ctx context.Context, applied, failed int)
	RecordTierChange(ctx context.Context, direction string)
	RecordLLMCall(ctx context.Context, provider, model string, duration time.Duration, inputTokens, outputTokens int, err error)
	RecordAgentRun(ctx context.Context, status string, duration time.Duration, turns, tokens int)
	RecordHTTPRequest(method, path string, statusCode int, duration time.Duration, respSize int64)
}

// PrometheusMetrics backs Metrics with otel instruments exported through
// the prometheus reader.
type PrometheusMetrics struct {
	injectionDuration metric.Float64Histogram
	injectionTokens   metric.Int64Counter
	injectionMemories metric.Int64Counter

	flushApplied metric.Int64Counter
	flushFailed  metric.Int64Counter

	tierChanges metric.Int64Counter

	llmDuration     metric.Float64Histogram
	llmInputTokens  metric.Int64Counter
	llmOutputTokens metric.Int64Counter
	llmErrors       metric.Int64Counter

	agentDuration metric.Float64Histogram
	agentRuns     metric.Int64Counter
	agentTurns    metric.Int64Counter
	agentTokens   metric.Int64Counter

	httpDuration metric.Float64Histogram
	httpRequests metric.Int64Counter
}

func (m *PrometheusMetrics) RecordInjection(ctx context.Context, scope string, duration time.Duration, tokens, memories int) {
	if m == nil || m.injectionDuration == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String(AttrScope, scope))
	m.injectionDuration.Record(ctx, duration.Seconds(), attrs)
	m.injectionTokens.Add(ctx, int64(tokens), attrs)
	m.injectionMemories.Add(ctx, int64(memories), attrs)
}

func (m *PrometheusMetrics) RecordUsageFlush(ctx context.Context, applied, failed int) {
	if m == nil || m.flushApplied == nil {
		return
	}
	m.flushApplied.Add(ctx, int64(applied))
	if failed > 0 {
		m.flushFailed.Add(ctx, int64(failed))
	}
}

func (m *PrometheusMetrics) RecordTierChange(ctx context.Context, direction string) {
	if m == nil || m.tierChanges == nil {
		return
	}
	m.tierChanges.Add(ctx, 1, metric.WithAttributes(attribute.String("direction", direction)))
}

func (m *PrometheusMetrics) RecordLLMCall(ctx context.Context, provider, model string, duration time.Duration, inputTokens, outputTokens int, err error) {
	if m == nil || m.llmDuration == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(AttrProvider, provider),
		attribute.String(AttrModel, model),
	)
	m.llmDuration.Record(ctx, duration.Seconds(), attrs)
	m.llmInputTokens.Add(ctx, int64(inputTokens), attrs)
	m.llmOutputTokens.Add(ctx, int64(outputTokens), attrs)
	if err != nil {
		m.llmErrors.Add(ctx, 1, attrs)
	}
}

func (m *PrometheusMetrics) RecordAgentRun(ctx context.Context, status string, duration time.Duration, turns, tokens int) {
	if m == nil || m.agentDuration == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String(AttrAgentStatus, status))
	m.agentDuration.Record(ctx, duration.Seconds(), attrs)
	m.agentRuns.Add(ctx, 1, attrs)
	m.agentTurns.Add(ctx, int64(turns), attrs)
	m.agentTokens.Add(ctx, int64(tokens), attrs)
}

func (m *PrometheusMetrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration, respSize int64) {
	if m == nil || m.httpDuration == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(AttrHTTPMethod, method),
		attribute.String(AttrHTTPPath, path),
		attribute.Int(AttrHTTPStatus, statusCode),
	)
	m.httpDuration.Record(context.Background(), duration.Seconds(), attrs)
	m.httpRequests.Add(context.Background(), 1, attrs)
}

// SetGlobalMetrics installs the process-wide recorder.
func SetGlobalMetrics(m Metrics) {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	globalMetrics = m
}

// GetGlobalMetrics returns the process-wide recorder, never nil.
func GetGlobalMetrics() Metrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return globalMetrics
}
