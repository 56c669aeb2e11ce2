// Package telemetry provides Prometheus metrics and OpenTelemetry tracing.
//
// Metrics implements engine.Observer, so the engine reports ledger appends,
// rule firings and refused frames directly. The HTTP server records request
// outcomes on the same collector. Each Metrics owns a private registry;
// nothing is registered globally.
//
// NewTracer installs a global tracer provider when tracing is enabled. The
// engine and server take their tracer from it.
package telemetry
