package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/choreo/internal/concept"
	"github.com/roach88/choreo/internal/ir"
	"github.com/roach88/choreo/internal/ledger"
	"github.com/roach88/choreo/internal/rule"
)

// DefaultMaxSteps is the default maximum number of rule firings per flow.
const DefaultMaxSteps = 1000

const tracerName = "github.com/roach88/choreo/internal/engine"

// Engine evaluates rules over the action ledger.
//
// Thread-safety model:
//   - Invoke, Query, NewFlow: safe from any goroutine
//   - concepts and rules are read only after New
//   - ledger, firing guard and quota table synchronize internally
//
// INVARIANTS:
//   - rule order never changes after construction
//   - an entry is visible to joins before its own cascade starts
type Engine struct {
	concepts *concept.Registry
	rules    *rule.Registry
	ledger   *ledger.Ledger

	flowGen  FlowTokenGenerator
	guard    *FiringGuard
	quotas   *quotaTable
	maxSteps int

	inflightMu sync.Mutex
	inflight   map[string]int

	retention int
	ledgerOps []ledger.Option
	firings   FiringSink
	observer  Observer
	tracer    trace.Tracer
	logger    *slog.Logger
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithMaxSteps sets the maximum firings per flow.
func WithMaxSteps(maxSteps int) EngineOption {
	return func(e *Engine) { e.maxSteps = maxSteps }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = logger }
}

// WithFlowGenerator sets the flow token generator. Default: UUIDv7Generator.
func WithFlowGenerator(g FlowTokenGenerator) EngineOption {
	return func(e *Engine) { e.flowGen = g }
}

// WithRetention keeps entries of in-flight flows plus the last n finished
// flows in memory. Entries of actions used by global or keyed rules are
// never evicted. n <= 0 keeps everything (default).
func WithRetention(n int) EngineOption {
	return func(e *Engine) { e.retention = n }
}

// WithLedgerOptions passes options through to the ledger, e.g. a sink or a
// start sequence number.
func WithLedgerOptions(opts ...ledger.Option) EngineOption {
	return func(e *Engine) { e.ledgerOps = append(e.ledgerOps, opts...) }
}

// WithFiringSink records every rule firing.
func WithFiringSink(s FiringSink) EngineOption {
	return func(e *Engine) { e.firings = s }
}

// WithObserver sets the evaluation observer.
func WithObserver(o Observer) EngineOption {
	return func(e *Engine) { e.observer = o }
}

// WithTracer sets the OpenTelemetry tracer. Default: the global provider's.
func WithTracer(t trace.Tracer) EngineOption {
	return func(e *Engine) { e.tracer = t }
}

// New creates an engine over a concept registry and a rule registry.
func New(concepts *concept.Registry, rules *rule.Registry, opts ...EngineOption) *Engine {
	e := &Engine{
		concepts: concepts,
		rules:    rules,
		flowGen:  UUIDv7Generator{},
		guard:    NewFiringGuard(),
		maxSteps: DefaultMaxSteps,
		inflight: make(map[string]int),
		observer: noopObserver{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer(tracerName)
	}
	e.quotas = newQuotaTable(e.maxSteps)

	lopts := []ledger.Option{
		ledger.WithLogger(e.logger),
		ledger.WithRetention(e.retention),
		ledger.WithPinned(rules.Pinned),
	}
	e.ledger = ledger.New(append(lopts, e.ledgerOps...)...)
	return e
}

// NewFlow generates a new flow token for an external request.
func (e *Engine) NewFlow() string {
	return e.flowGen.Generate()
}

// Ledger returns the engine's ledger.
func (e *Engine) Ledger() *ledger.Ledger { return e.ledger }

// Concepts returns the concept registry.
func (e *Engine) Concepts() *concept.Registry { return e.concepts }

// Rules returns the rule registry.
func (e *Engine) Rules() *rule.Registry { return e.rules }

// Query runs a concept query. Queries are not recorded.
func (e *Engine) Query(ctx context.Context, query ir.ActionRef, args ir.IRObject) ([]ir.IRObject, error) {
	return e.concepts.Query(ctx, query, args)
}

// Invoke runs an external action in flow, records it, and evaluates the
// full cascade of rules it triggers before returning.
//
// A Go error with a zero Entry means the action could not run (unknown
// action, host fault). A Go error with a valid Entry means the action ran but
// the cascade was cut short by the flow's step quota.
func (e *Engine) Invoke(ctx context.Context, flow string, action ir.ActionRef, args ir.IRObject) (ledger.Entry, error) {
	if flow == "" {
		return ledger.Entry{}, fmt.Errorf("invoke %s: flow token is required", action)
	}

	e.enter(flow)
	defer e.leave(flow)

	ctx, span := e.tracer.Start(ctx, "choreo.invoke", trace.WithAttributes(
		attribute.String("choreo.flow", flow),
		attribute.String("choreo.action", string(action)),
	))
	defer span.End()

	out, err := e.concepts.Invoke(ctx, action, args)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return ledger.Entry{}, fmt.Errorf("invoke %s: %w", action, err)
	}

	entry := e.append(ctx, ledger.Entry{Flow: flow, Action: action, Inputs: args, Outputs: out})
	e.logger.Debug("external action recorded",
		"seq", entry.Seq,
		"action", action,
		"flow", flow,
		"failed", entry.IsError(),
	)

	if err := e.react(ctx, entry); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return entry, err
	}
	return entry, nil
}

func (e *Engine) append(ctx context.Context, entry ledger.Entry) ledger.Entry {
	entry = e.ledger.Append(ctx, entry)
	e.observer.Appended(entry)
	return entry
}

// enter and leave count top-level invocations per flow. When the last one
// returns, per-flow guard state is released and the ledger may evict the
// flow under the retention policy.
func (e *Engine) enter(flow string) {
	e.inflightMu.Lock()
	defer e.inflightMu.Unlock()
	e.inflight[flow]++
}

func (e *Engine) leave(flow string) {
	e.inflightMu.Lock()
	e.inflight[flow]--
	done := e.inflight[flow] == 0
	if done {
		delete(e.inflight, flow)
	}
	e.inflightMu.Unlock()

	if done {
		e.CleanupFlow(flow)
	}
}

// CleanupFlow releases firing history and quota for a finished flow and
// hands it to the ledger's retention policy.
func (e *Engine) CleanupFlow(flow string) {
	e.guard.Clear(flow)
	e.quotas.clear(flow)
	e.ledger.Retire(flow)
}

// react evaluates every rule slot the entry can fill. The join and where
// stages of all triggered rules complete before any then stage runs, so
// rules sharing a trigger observe the same state. Only a quota error stops
// the cascade; every other problem is local to one frame.
func (e *Engine) react(ctx context.Context, trigger ledger.Entry) error {
	type triggered struct {
		rule    *rule.Rule
		matches []match
	}

	var batch []triggered
	for _, slot := range e.rules.Triggered(trigger.Action) {
		matches := e.join(slot, trigger)
		if len(matches) == 0 {
			continue
		}
		if matches = e.where(ctx, slot.Rule, trigger, matches); len(matches) > 0 {
			batch = append(batch, triggered{rule: slot.Rule, matches: matches})
		}
	}

	for _, t := range batch {
		for _, m := range t.matches {
			if err := e.fire(ctx, t.rule, trigger, m); err != nil {
				return err
			}
		}
	}
	return nil
}

// report logs a runtime error and notifies the observer.
func (e *Engine) report(re *RuntimeError) {
	level := slog.LevelWarn
	switch re.Code {
	case ErrCodeDuplicateFiring:
		level = slog.LevelDebug
	case ErrCodeQuotaExceeded, ErrCodeHostFault, ErrCodeMissingAction:
		level = slog.LevelError
	}
	e.logger.Log(context.Background(), level, "rule frame refused",
		"code", re.Code,
		"rule", re.Rule,
		"flow", re.Flow,
		"error", re.Message,
	)
	e.observer.Refused(re.Rule, re.Code)
}

func classifyInvokeError(err error) RuntimeErrorCode {
	if errors.Is(err, concept.ErrUnknownAction) {
		return ErrCodeMissingAction
	}
	return ErrCodeHostFault
}
