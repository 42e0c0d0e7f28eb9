package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// MetricsConfig enables the prometheus-backed meter.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// InitMetrics builds the otel meter with a prometheus reader and registers
// every instrument. Disabled config yields a recorder that drops everything.
func InitMetrics(ctx context.Context, cfg MetricsConfig) (*PrometheusMetrics, error) {
	if !cfg.Enabled {
		return &PrometheusMetrics{}, nil
	}

	promExporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(promExporter),
	)
	meter := meterProvider.Meter("agenthub")

	m := &PrometheusMetrics{}

	if m.injectionDuration, err = meter.Float64Histogram(
		"agenthub_injection_duration_seconds",
		metric.WithDescription("Context injection latency in seconds"),
	); err != nil {
		return nil, fmt.Errorf("failed to create injection duration histogram: %w", err)
	}
	if m.injectionTokens, err = meter.Int64Counter(
		"agenthub_injection_tokens_total",
		metric.WithDescription("Total tokens injected into system prompts"),
	); err != nil {
		return nil, fmt.Errorf("failed to create injection tokens counter: %w", err)
	}
	if m.injectionMemories, err = meter.Int64Counter(
		"agenthub_injection_memories_total",
		metric.WithDescription("Total memories injected"),
	); err != nil {
		return nil, fmt.Errorf("failed to create injection memories counter: %w", err)
	}

	if m.flushApplied, err = meter.Int64Counter(
		"agenthub_usage_flush_applied_total",
		metric.WithDescription("Usage deltas applied to the graph"),
	); err != nil {
		return nil, fmt.Errorf("failed to create flush applied counter: %w", err)
	}
	if m.flushFailed, err = meter.Int64Counter(
		"agenthub_usage_flush_failed_total",
		metric.WithDescription("Usage deltas that failed to apply"),
	); err != nil {
		return nil, fmt.Errorf("failed to create flush failed counter: %w", err)
	}

	if m.tierChanges, err = meter.Int64Counter(
		"agenthub_tier_changes_total",
		metric.WithDescription("Tier promotions and demotions"),
	); err != nil {
		return nil, fmt.Errorf("failed to create tier changes counter: %w", err)
	}

	if m.llmDuration, err = meter.Float64Histogram(
		"agenthub_llm_request_duration_seconds",
		metric.WithDescription("Provider request duration in seconds"),
	); err != nil {
		return nil, fmt.Errorf("failed to create llm duration histogram: %w", err)
	}
	if m.llmInputTokens, err = meter.Int64Counter(
		"agenthub_llm_tokens_input_total",
		metric.WithDescription("Total input tokens sent to providers"),
	); err != nil {
		return nil, fmt.Errorf("failed to create llm input tokens counter: %w", err)
	}
	if m.llmOutputTokens, err = meter.Int64Counter(
		"agenthub_llm_tokens_output_total",
		metric.WithDescription("Total output tokens from providers"),
	); err != nil {
		return nil, fmt.Errorf("failed to create llm output tokens counter: %w", err)
	}
	if m.llmErrors, err = meter.Int64Counter(
		"agenthub_llm_errors_total",
		metric.WithDescription("Total provider errors"),
	); err != nil {
		return nil, fmt.Errorf("failed to create llm errors counter: %w", err)
	}

	if m.agentDuration, err = meter.Float64Histogram(
		"agenthub_agent_run_duration_seconds",
		metric.WithDescription("Agent run duration in seconds"),
	); err != nil {
		return nil, fmt.Errorf("failed to create agent duration histogram: %w", err)
	}
	if m.agentRuns, err = meter.Int64Counter(
		"agenthub_agent_runs_total",
		metric.WithDescription("Total agent runs"),
	); err != nil {
		return nil, fmt.Errorf("failed to create agent runs counter: %w", err)
	}
	if m.agentTurns, err = meter.Int64Counter(
		"agenthub_agent_turns_total",
		metric.WithDescription("Total agent loop turns"),
	); err != nil {
		return nil, fmt.Errorf("failed to create agent turns counter: %w", err)
	}
	if m.agentTokens, err = meter.Int64Counter(
		"agenthub_agent_tokens_total",
		metric.WithDescription("Total tokens used by agent runs"),
	); err != nil {
		return nil, fmt.Errorf("failed to create agent tokens counter: %w", err)
	}

	if m.httpDuration, err = meter.Float64Histogram(
		"agenthub_http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
	); err != nil {
		return nil, fmt.Errorf("failed to create http duration histogram: %w", err)
	}
	if m.httpRequests, err = meter.Int64Counter(
		"agenthub_http_requests_total",
		metric.WithDescription("Total HTTP requests"),
	); err != nil {
		return nil, fmt.Errorf("failed to create http requests counter: %w", err)
	}

	return m, nil
}
