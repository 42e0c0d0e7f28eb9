package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZeroValueMetricsAreSafe(t *testing.T) {
	ctx := context.Background()
	m := &PrometheusMetrics{}

	m.RecordInjection(ctx, "global", 10*time.Millisecond, 400, 5)
	m.RecordUsageFlush(ctx, 3, 1)
	m.RecordTierChange(ctx, "demotion")
	m.RecordLLMCall(ctx, "claude", "opus", 100*time.Millisecond, 10, 5, nil)
	m.RecordAgentRun(ctx, "success", time.Second, 4, 900)
	m.RecordHTTPRequest("GET", "/healthz", 200, time.Millisecond, 12)
}

func TestNoopMetrics(t *testing.T) {
	ctx := context.Background()
	var m Metrics = NoopMetrics{}

	m.RecordInjection(ctx, "project", time.Millisecond, 0, 0)
	m.RecordLLMCall(ctx, "gemini", "flash", time.Millisecond, 1, 1, assert.AnError)
}

func TestGlobalMetricsDefaultsToNoop(t *testing.T) {
	assert.NotNil(t, GetGlobalMetrics())

	SetGlobalMetrics(NoopMetrics{})
	assert.NotNil(t, GetGlobalMetrics())
}

func TestInitMetricsDisabled(t *testing.T) {
	m, err := InitMetrics(context.Background(), MetricsConfig{})
	require.NoError(t, err)
	require.NotNil(t, m)
	m.RecordTierChange(context.Background(), "promotion")
}

func TestManagerUninitialized(t *testing.T) {
	manager := NewManager(Config{})
	assert.NotNil(t, manager.GetMetrics())
	assert.NotNil(t, manager.GetTracer("test"))
	assert.NoError(t, manager.Shutdown(context.Background()))
}

func TestManagerInitializeDisabled(t *testing.T) {
	manager := NewManager(Config{})
	require.NoError(t, manager.Initialize(context.Background()))
	assert.NotNil(t, manager.GetMetrics())
	assert.NoError(t, manager.Shutdown(context.Background()))
}

func TestHTTPMiddlewareRecordsStatus(t *testing.T) {
	recorded := struct {
		method string
		path   string
		status int
	}{}
	metrics := recordingMetrics{onHTTP: func(method, path string, status int) {
		recorded.method, recorded.path, recorded.status = method, path, status
	}}

	handler := HTTPMiddleware(nil, metrics)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}))

	req := httptest.NewRequest("GET", "/v1/inject", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "GET", recorded.method)
	assert.Equal(t, "/v1/inject", recorded.path)
	assert.Equal(t, http.StatusTeapot, recorded.status)
}

type recordingMetrics struct {
	NoopMetrics
	onHTTP func(method, path string, status int)
}

func (m recordingMetrics) RecordHTTPRequest(method, path string, status int, _ time.Duration, _ int64) {
	if m.onHTTP != nil {
		m.onHTTP(method, path, status)
	}
}
