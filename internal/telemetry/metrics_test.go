package telemetry

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/choreo/internal/engine"
	"github.com/roach88/choreo/internal/ir"
	"github.com/roach88/choreo/internal/ledger"
)

func TestMetricsObserveEngine(t *testing.T) {
	m := NewMetrics(DefaultMetricsConfig())

	m.Appended(ledger.Entry{Action: "Library.addUser", Outputs: ir.IRObject{}})
	m.Appended(ledger.Entry{Action: "Library.addUser", Outputs: ir.ErrorRecord("User 'u' already exists.")})
	m.Appended(ledger.Entry{Action: "Library.addUser", Outputs: ir.ErrorRecord("again")})
	m.Fired("AuthRegisterAddUser")
	m.Refused("AuthRegisterAddUser", engine.ErrCodeDuplicateFiring)

	assert.Equal(t, 1.0, promtest.ToFloat64(m.entries.WithLabelValues("Library.addUser", "success")))
	assert.Equal(t, 2.0, promtest.ToFloat64(m.entries.WithLabelValues("Library.addUser", "failure")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.firings.WithLabelValues("AuthRegisterAddUser")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.refusals.WithLabelValues("AuthRegisterAddUser", string(engine.ErrCodeDuplicateFiring))))
}

func TestMetricsRequests(t *testing.T) {
	m := NewMetrics(DefaultMetricsConfig())

	m.RequestStarted()
	m.RequestStarted()
	assert.Equal(t, 2.0, promtest.ToFloat64(m.inFlight))

	m.RequestFinished("request", http.StatusOK, 10*time.Millisecond)
	m.RequestFinished("request", http.StatusGatewayTimeout, time.Second)
	m.RequestUnanswered("/Nowhere/fire")

	assert.Equal(t, 0.0, promtest.ToFloat64(m.inFlight))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.requests.WithLabelValues("request", "504")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.unanswered.WithLabelValues("/Nowhere/fire")))
}

func TestMetricsHandler(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true, Namespace: "test"})
	m.Fired("R")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `test_rule_firings_total{rule="R"} 1`)
}

func TestDisabledMetrics(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: false})

	assert.NotPanics(t, func() {
		m.Appended(ledger.Entry{})
		m.Fired("R")
		m.Refused("R", engine.ErrCodeQuotaExceeded)
		m.RequestStarted()
		m.RequestFinished("request", http.StatusOK, time.Millisecond)
		m.RequestUnanswered("/x")
	})
	assert.Nil(t, m.Registry())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNewTracer(t *testing.T) {
	tests := []struct {
		name    string
		cfg     TracingConfig
		wantErr bool
	}{
		{name: "none", cfg: TracingConfig{Exporter: ExporterNone}},
		{name: "empty means none", cfg: TracingConfig{}},
		{name: "stdout", cfg: TracingConfig{Exporter: ExporterStdout, SamplingRate: 1, Writer: &bytes.Buffer{}}},
		{name: "unknown", cfg: TracingConfig{Exporter: "jaeger"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, err := NewTracer(tt.cfg, "choreo-test", "dev")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, tr.Tracer())

			_, span := tr.Tracer().Start(context.Background(), "op")
			span.End()
			assert.NoError(t, tr.Shutdown(context.Background()))
		})
	}
}

func TestStdoutTracerExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	tr, err := NewTracer(TracingConfig{Exporter: ExporterStdout, SamplingRate: 1, Writer: &buf}, "choreo-test", "dev")
	require.NoError(t, err)

	_, span := tr.Tracer().Start(context.Background(), "choreo.request")
	span.End()
	require.NoError(t, tr.Shutdown(context.Background()))

	assert.Contains(t, buf.String(), "choreo.request")
}
