package observability_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	noopmetric "go.opentelemetry.io/otel/metric/noop"

	"github.com/codesync-dev/codesync/internal/observability"
)

func TestInit_NoEndpointUsesNoopProviders(t *testing.T) {
	cfg := observability.DefaultConfig()
	cfg.ServiceVersion = "1.2.3"
	cfg.Environment = "test"

	providers, err := observability.Init(cfg)
	require.NoError(t, err)
	require.NotNil(t, providers.Tracer)
	require.NotNil(t, providers.Meter)
	require.NotNil(t, providers.Logger)

	require.NoError(t, providers.Shutdown(context.Background()))
}

func TestTracingHandler_AttachesServiceMetadata(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	inner := slog.NewJSONHandler(&buf, nil)
	logger := slog.New(observability.NewTracingHandler(inner, "codesync", "dev", observability.ModeWorker))

	logger.Info("sync started", "project_id", "p1")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))

	assert.Equal(t, "codesync", record["service"])
	assert.Equal(t, "worker", record["mode"])
	assert.Equal(t, "dev", record["env"])
	assert.Equal(t, "p1", record["project_id"])
}

func TestSyncMetrics_RecordsWithoutError(t *testing.T) {
	t.Parallel()

	meter := noopmetric.NewMeterProvider().Meter("test")

	sm, err := observability.NewSyncMetrics(meter)
	require.NoError(t, err)

	ctx := context.Background()

	sm.RecordSync(ctx, "p1", "manual", "completed", 2*time.Second)
	sm.RecordChunks(ctx, "p1", 3, 1)
	sm.RecordError(ctx, "p1", "network")

	done := sm.TrackInflight(ctx, "p1")
	done()
}

func TestWorkerGauges(t *testing.T) {
	t.Parallel()

	meter := noopmetric.NewMeterProvider().Meter("test")

	_, err := observability.NewWorkerGauges(meter,
		func() int { return 2 },
		func() int { return 7 })
	require.NoError(t, err)
}

func TestHealthHandlers(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	observability.HealthHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	failing := func(context.Context) error { return errors.New("store down") }
	observability.ReadyHandler(failing).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	observability.ReadyHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPrometheusHandler(t *testing.T) {
	t.Parallel()

	handler, err := observability.PrometheusHandler()
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestParseOTLPHeaders(t *testing.T) {
	t.Parallel()

	assert.Nil(t, observability.ParseOTLPHeaders(""))
	assert.Nil(t, observability.ParseOTLPHeaders("garbage"))

	headers := observability.ParseOTLPHeaders("authorization=Bearer tok, x-team =sync")
	require.Len(t, headers, 2)
	assert.Equal(t, "Bearer tok", headers["authorization"])
	assert.Equal(t, "sync", headers["x-team"])
}
