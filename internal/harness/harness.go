package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/roach88/choreo/internal/app"
	"github.com/roach88/choreo/internal/concepts/auth"
	"github.com/roach88/choreo/internal/concepts/categorizing"
	"github.com/roach88/choreo/internal/concepts/library"
	"github.com/roach88/choreo/internal/concepts/requesting"
	"github.com/roach88/choreo/internal/engine"
	"github.com/roach88/choreo/internal/ir"
	"github.com/roach88/choreo/internal/ledger"
	"github.com/roach88/choreo/internal/store"
	"github.com/roach88/choreo/internal/testutil"
)

const (
	// DefaultFlowToken prefixes flow tokens when a scenario names none.
	DefaultFlowToken = "flow"

	// DefaultTimeout bounds request steps when a scenario sets no timeout.
	DefaultTimeout = 2 * time.Second
)

// Option configures Run.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger sets the logger handed to the application. Default: discard.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Run executes a scenario against a fresh application and returns the
// result. A Go error means the scenario could not be executed (bad rules,
// failing setup); failed expectations and assertions are reported in the
// result instead.
func Run(ctx context.Context, sc *Scenario, opts ...Option) (*Result, error) {
	o := options{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&o)
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	a, err := build(sc, st, o.logger)
	if err != nil {
		return nil, err
	}

	if err := runSetup(ctx, a, sc.Setup); err != nil {
		return nil, fmt.Errorf("failed to execute setup: %w", err)
	}

	result := NewResult()
	for i, step := range sc.Flow {
		sr, err := runStep(ctx, a, i, step)
		if err != nil {
			return nil, fmt.Errorf("flow[%d] %s: %w", i, step.Target(), err)
		}
		result.Steps = append(result.Steps, sr)
		if step.Expect != nil {
			for _, msg := range checkExpect(sr, *step.Expect) {
				result.AddError(msg)
			}
		}
		o.logger.Debug("flow step completed", "step", i, "target", sr.Target, "case", sr.Case())
	}

	entries, err := st.ReadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("read trace: %w", err)
	}
	for _, e := range entries {
		result.Trace = append(result.Trace, eventFromEntry(e))
	}

	for _, msg := range EvaluateAssertions(result, sc.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

// build assembles the application with deterministic identifiers. Entries
// and firings are archived in st.
func build(sc *Scenario, st *store.Store, logger *slog.Logger) (*app.App, error) {
	prefix := sc.FlowToken
	if prefix == "" {
		prefix = DefaultFlowToken
	}
	timeout := sc.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	opts := []app.Option{
		app.WithLogger(logger),
		app.WithAuthOptions(auth.WithIDs(testutil.NewSequentialIDs("user")), auth.WithCost(bcrypt.MinCost)),
		app.WithLibraryOptions(library.WithIDs(testutil.NewSequentialIDs("fic"))),
		app.WithRequestingOptions(requesting.WithIDs(testutil.NewSequentialIDs("req"))),
		app.WithCategorizingOptions(categorizing.WithVocabulary(sc.vocabulary())),
		app.WithEngineOptions(
			engine.WithFlowGenerator(&engine.SequentialGenerator{Prefix: prefix}),
			engine.WithLedgerOptions(ledger.WithSink(st)),
			engine.WithFiringSink(st),
		),
		app.WithRequestTimeout(timeout),
	}
	if sc.Rules != "" {
		opts = append(opts, app.WithRulesDir(sc.Rules))
	}

	a, err := app.Build(opts...)
	if err != nil {
		return nil, fmt.Errorf("build application: %w", err)
	}
	return a, nil
}

func runSetup(ctx context.Context, a *app.App, setup []ActionStep) error {
	for i, step := range setup {
		args, err := toObject(step.Args)
		if err != nil {
			return fmt.Errorf("setup[%d]: args: %w", i, err)
		}
		recs, err := a.Call(ctx, ir.ActionRef(step.Action), args)
		if err != nil {
			return fmt.Errorf("setup[%d] %s: %w", i, step.Action, err)
		}
		for _, rec := range recs {
			if msg, failed := ir.ErrorMessage(rec); failed {
				return fmt.Errorf("setup[%d] %s failed: %s", i, step.Action, msg)
			}
		}
	}
	return nil
}

func runStep(ctx context.Context, a *app.App, i int, step FlowStep) (StepResult, error) {
	sr := StepResult{Step: i, Target: step.Target()}

	args, err := toObject(step.Args)
	if err != nil {
		return sr, fmt.Errorf("args: %w", err)
	}

	if step.Invoke != "" {
		ref := ir.ActionRef(step.Invoke)
		recs, err := a.Call(ctx, ref, args)
		if err != nil && len(recs) == 0 {
			return sr, err
		}
		if ref.IsQuery() {
			results := make(ir.IRArray, len(recs))
			for j, rec := range recs {
				results[j] = rec
			}
			sr.Response = ir.Obj(ir.O("results", results))
		} else {
			sr.Response = recs[0]
		}
		return sr, nil
	}

	resp, flow, err := a.Request(ctx, step.Request, args)
	sr.Flow = flow
	switch {
	case err == nil:
		sr.Response = resp
	case errors.Is(err, app.ErrRequestTimeout):
		sr.TimedOut = true
	case errors.Is(err, app.ErrBadRequest):
		sr.Response = ir.ErrorRecord(err.Error())
	default:
		return sr, err
	}
	return sr, nil
}

func checkExpect(sr StepResult, want ExpectClause) []string {
	var errs []string
	if got := sr.Case(); got != want.Case {
		errs = append(errs, fmt.Sprintf("flow[%d] %s: expected case %s, got %s (response %v)",
			sr.Step, sr.Target, want.Case, got, sr.Response))
	}
	if len(want.Result) == 0 {
		return errs
	}

	expected, err := toObject(want.Result)
	if err != nil {
		return append(errs, fmt.Sprintf("flow[%d] %s: expected result: %v", sr.Step, sr.Target, err))
	}
	if key, ok := subset(sr.Response, expected); !ok {
		errs = append(errs, fmt.Sprintf("flow[%d] %s: response field %q: expected %v, got %v",
			sr.Step, sr.Target, key, expected[key], sr.Response[key]))
	}
	return errs
}
