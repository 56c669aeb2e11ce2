// Package server exposes an application over HTTP.
//
// Every concept action and query has the route POST /api/{Concept}/{action}.
// Routes included in the passthrough table call the concept directly. All
// others raise Requesting.request with path /{Concept}/{action} and the
// request body as payload, then wait for the response the rules produce.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/choreo/internal/app"
	"github.com/roach88/choreo/internal/concept"
	"github.com/roach88/choreo/internal/ir"
	"github.com/roach88/choreo/internal/telemetry"
)

const (
	tracerName = "github.com/roach88/choreo/internal/server"

	// DefaultMaxBodyBytes bounds request bodies.
	DefaultMaxBodyBytes = 1 << 20

	// FlowHeader carries the flow token of a choreographed request.
	FlowHeader = "X-Choreo-Flow"

	kindPassthrough = "passthrough"
	kindRequest     = "request"
)

// Server serves an App.
type Server struct {
	app     *app.App
	routes  Routes
	metrics *telemetry.Metrics
	tracer  trace.Tracer
	logger  *slog.Logger
	maxBody int64
}

// Option configures a Server.
type Option func(*Server)

// WithRoutes replaces the built-in passthrough table.
func WithRoutes(r Routes) Option {
	return func(s *Server) { s.routes = r }
}

// WithMetrics records request metrics and serves them on /metrics.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithTracer sets the tracer. Default: the global provider's.
func WithTracer(t trace.Tracer) Option {
	return func(s *Server) { s.tracer = t }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithMaxBodyBytes bounds request bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) { s.maxBody = n }
}

// New creates a server for a. The passthrough table is checked against the
// application's concepts; routes it does not mention are logged.
func New(a *app.App, opts ...Option) (*Server, error) {
	s := &Server{
		app:     a,
		routes:  DefaultRoutes(),
		metrics: telemetry.NewMetrics(telemetry.MetricsConfig{}),
		tracer:  otel.Tracer(tracerName),
		logger:  slog.Default(),
		maxBody: DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(s)
	}

	unlisted, err := s.routes.Check(a.Concepts.Signatures())
	if err != nil {
		return nil, fmt.Errorf("passthrough routes: %w", err)
	}
	for _, route := range unlisted {
		s.logger.Warn("route neither included nor excluded; serving it through the rules", "route", route)
	}
	return s, nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+RoutePrefix+"/{concept}/{action}", s.handleConcept)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", s.metrics.Handler())
	return mux
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.logger.Info("server listening", "addr", addr)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen on %s: %w", addr, err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		s.logger.Info("server shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, ir.Obj(ir.O("status", ir.IRString("ok"))))
}

func (s *Server) handleConcept(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ref := ir.NewActionRef(r.PathValue("concept"), r.PathValue("action"))
	route := Route(ref)

	kind := kindRequest
	if s.routes.Passthrough(route) {
		kind = kindPassthrough
	}

	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	ctx, span := s.tracer.Start(ctx, "choreo.http", trace.WithAttributes(
		attribute.String("choreo.route", route),
		attribute.String("choreo.kind", kind),
	))
	defer span.End()

	s.metrics.RequestStarted()
	status := http.StatusOK
	defer func() {
		span.SetAttributes(attribute.Int("http.status_code", status))
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
		s.metrics.RequestFinished(kind, status, time.Since(start))
		s.logger.Debug("http request", "route", route, "kind", kind, "status", status, "duration", time.Since(start))
	}()

	payload, err := decodeBody(r.Body, s.maxBody)
	if err != nil {
		status = http.StatusBadRequest
		writeError(w, status, err.Error())
		return
	}

	if kind == kindPassthrough {
		status = s.passthrough(ctx, w, ref, payload)
		return
	}
	status = s.request(ctx, w, "/"+ref.Concept()+"/"+ref.Name(), payload)
}

// passthrough calls the concept directly. Failure records are answered with
// 200 like any other record.
func (s *Server) passthrough(ctx context.Context, w http.ResponseWriter, ref ir.ActionRef, payload ir.IRObject) int {
	records, err := s.app.Call(ctx, ref, payload)
	switch {
	case errors.Is(err, concept.ErrUnknownAction):
		writeError(w, http.StatusNotFound, err.Error())
		return http.StatusNotFound
	case err != nil && len(records) == 0:
		s.logger.Error("passthrough call", "action", ref, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return http.StatusInternalServerError
	case err != nil:
		s.logger.Warn("passthrough cascade cut short", "action", ref, "error", err)
	}

	if ref.IsQuery() {
		results := make(ir.IRArray, len(records))
		for i, rec := range records {
			results[i] = rec
		}
		writeJSON(w, http.StatusOK, ir.Obj(ir.O("results", results)))
		return http.StatusOK
	}
	writeJSON(w, http.StatusOK, records[0])
	return http.StatusOK
}

func (s *Server) request(ctx context.Context, w http.ResponseWriter, path string, payload ir.IRObject) int {
	resp, flow, err := s.app.Request(ctx, path, payload)
	if flow != "" {
		w.Header().Set(FlowHeader, flow)
	}

	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, resp)
		return http.StatusOK
	case errors.Is(err, app.ErrRequestTimeout):
		s.metrics.RequestUnanswered(path)
		writeError(w, http.StatusGatewayTimeout, err.Error())
		return http.StatusGatewayTimeout
	case errors.Is(err, app.ErrBadRequest):
		writeError(w, http.StatusBadRequest, err.Error())
		return http.StatusBadRequest
	default:
		s.logger.Error("request failed", "path", path, "flow", flow, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return http.StatusInternalServerError
	}
}

// decodeBody reads a JSON object. An empty body is an empty object.
func decodeBody(body io.Reader, limit int64) (ir.IRObject, error) {
	data, err := io.ReadAll(io.LimitReader(body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("body exceeds %d bytes", limit)
	}
	if len(data) == 0 {
		return ir.IRObject{}, nil
	}
	obj, err := ir.ParseObject(data)
	if err != nil {
		return nil, fmt.Errorf("body must be a JSON object: %w", err)
	}
	if obj == nil {
		obj = ir.IRObject{}
	}
	return obj, nil
}

func writeJSON(w http.ResponseWriter, status int, v ir.IRObject) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ir.ErrorRecord(msg))
}
