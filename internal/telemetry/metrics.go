package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/choreo/internal/engine"
	"github.com/roach88/choreo/internal/ir"
	"github.com/roach88/choreo/internal/ledger"
)

// MetricsConfig configures Metrics.
type MetricsConfig struct {
	// Enabled controls whether metrics are collected. A disabled Metrics
	// accepts every call and records nothing.
	Enabled bool

	// Namespace prefixes every metric name.
	Namespace string

	// Buckets are the request latency buckets in seconds.
	Buckets []float64
}

// DefaultMetricsConfig returns the configuration used when none is given.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{Enabled: true, Namespace: "choreo"}
}

// Metrics collects engine and server metrics.
type Metrics struct {
	config MetricsConfig

	entries    *prometheus.CounterVec
	firings    *prometheus.CounterVec
	refusals   *prometheus.CounterVec
	requests   *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	unanswered *prometheus.CounterVec
	inFlight   prometheus.Gauge

	registry *prometheus.Registry
}

var _ engine.Observer = (*Metrics)(nil)

// NewMetrics creates a collector with its own registry.
func NewMetrics(cfg MetricsConfig) *Metrics {
	if !cfg.Enabled {
		return &Metrics{config: cfg}
	}

	ns := cfg.Namespace
	buckets := cfg.Buckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()
	m := &Metrics{
		config:   cfg,
		registry: registry,

		entries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "ledger_entries_total",
				Help:      "Ledger entries appended, by action and outcome",
			},
			[]string{"action", "outcome"},
		),
		firings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "rule_firings_total",
				Help:      "Rule then stages started, one per frame",
			},
			[]string{"rule"},
		),
		refusals: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "rule_refusals_total",
				Help:      "Frames skipped or abandoned, by rule and error code",
			},
			[]string{"rule", "code"},
		),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "http_requests_total",
				Help:      "HTTP requests served, by route kind and status code",
			},
			[]string{"kind", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: ns,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency in seconds",
				Buckets:   buckets,
			},
			[]string{"kind"},
		),
		unanswered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "requests_unanswered_total",
				Help:      "Requests no rule responded to before the deadline",
			},
			[]string{"path"},
		),
		inFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: ns,
				Name:      "requests_in_flight",
				Help:      "Requests awaiting a response",
			},
		),
	}

	registry.MustRegister(
		m.entries,
		m.firings,
		m.refusals,
		m.requests,
		m.duration,
		m.unanswered,
		m.inFlight,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Appended implements engine.Observer.
func (m *Metrics) Appended(e ledger.Entry) {
	if m.entries == nil {
		return
	}
	outcome := "success"
	if ir.IsError(e.Outputs) {
		outcome = "failure"
	}
	m.entries.WithLabelValues(string(e.Action), outcome).Inc()
}

// Fired implements engine.Observer.
func (m *Metrics) Fired(rule string) {
	if m.firings == nil {
		return
	}
	m.firings.WithLabelValues(rule).Inc()
}

// Refused implements engine.Observer.
func (m *Metrics) Refused(rule string, code engine.RuntimeErrorCode) {
	if m.refusals == nil {
		return
	}
	m.refusals.WithLabelValues(rule, string(code)).Inc()
}

// RequestStarted marks a request as in flight.
func (m *Metrics) RequestStarted() {
	if m.inFlight == nil {
		return
	}
	m.inFlight.Inc()
}

// RequestFinished records a served request. kind is "request" for
// choreographed routes and "passthrough" for direct calls.
func (m *Metrics) RequestFinished(kind string, status int, d time.Duration) {
	if m.requests == nil {
		return
	}
	m.inFlight.Dec()
	m.requests.WithLabelValues(kind, strconv.Itoa(status)).Inc()
	m.duration.WithLabelValues(kind).Observe(d.Seconds())
}

// RequestUnanswered counts a request that timed out.
func (m *Metrics) RequestUnanswered(path string) {
	if m.unanswered == nil {
		return
	}
	m.unanswered.WithLabelValues(path).Inc()
}

// Registry returns the private registry, or nil when disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
