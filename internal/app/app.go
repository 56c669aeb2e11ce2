// Package app assembles the fanfic application: its four concepts, the
// rules that choreograph them, and the engine that runs them.
//
// Declarative rules live in rules.cue and are compiled at startup. Rules
// that query concept state in a where stage are written in Go. Both kinds
// are registered once in an immutable rule registry.
package app

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/choreo/internal/compiler"
	"github.com/roach88/choreo/internal/concept"
	"github.com/roach88/choreo/internal/concepts/auth"
	"github.com/roach88/choreo/internal/concepts/categorizing"
	"github.com/roach88/choreo/internal/concepts/library"
	"github.com/roach88/choreo/internal/concepts/requesting"
	"github.com/roach88/choreo/internal/engine"
	"github.com/roach88/choreo/internal/ir"
	"github.com/roach88/choreo/internal/rule"
)

//go:embed rules.cue
var rulesCUE []byte

// DefaultRequestTimeout bounds how long Request waits for a response.
const DefaultRequestTimeout = 10 * time.Second

var (
	// ErrRequestTimeout is returned by Request when no rule responded in
	// time. The request handle has been expired.
	ErrRequestTimeout = errors.New("request timed out")

	// ErrBadRequest is returned when the request itself was refused.
	ErrBadRequest = errors.New("bad request")
)

// App is an assembled application.
type App struct {
	Engine   *engine.Engine
	Concepts *concept.Registry
	Rules    *rule.Registry

	Auth         *auth.Concept
	Library      *library.Concept
	Categorizing *categorizing.Concept
	Requesting   *requesting.Concept

	timeout time.Duration
	logger  *slog.Logger
}

// Option configures Build.
type Option func(*options)

type options struct {
	engineOpts   []engine.EngineOption
	authOpts     []auth.Option
	libraryOpts  []library.Option
	categoryOpts []categorizing.Option
	requestOpts  []requesting.Option
	rulesDir     string
	timeout      time.Duration
	logger       *slog.Logger
}

// WithEngineOptions passes options to engine.New.
func WithEngineOptions(opts ...engine.EngineOption) Option {
	return func(o *options) { o.engineOpts = append(o.engineOpts, opts...) }
}

// WithAuthOptions configures the UserAuthentication concept.
func WithAuthOptions(opts ...auth.Option) Option {
	return func(o *options) { o.authOpts = append(o.authOpts, opts...) }
}

// WithLibraryOptions configures the Library concept.
func WithLibraryOptions(opts ...library.Option) Option {
	return func(o *options) { o.libraryOpts = append(o.libraryOpts, opts...) }
}

// WithCategorizingOptions configures the Categorizing concept.
func WithCategorizingOptions(opts ...categorizing.Option) Option {
	return func(o *options) { o.categoryOpts = append(o.categoryOpts, opts...) }
}

// WithRequestingOptions configures the Requesting concept.
func WithRequestingOptions(opts ...requesting.Option) Option {
	return func(o *options) { o.requestOpts = append(o.requestOpts, opts...) }
}

// WithRulesDir adds the rules of every .cue file in dir. They may use the
// where stages of Stages.
func WithRulesDir(dir string) Option {
	return func(o *options) { o.rulesDir = dir }
}

// WithRequestTimeout sets the response deadline of Request.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithLogger sets the application logger. It is also handed to the engine.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Rules compiles the application's rule set: the embedded declarative rules
// followed by the Go rules.
func Rules() ([]rule.Rule, error) {
	declared, err := compiler.CompileSource("rules.cue", rulesCUE, Stages())
	if err != nil {
		return nil, fmt.Errorf("compile embedded rules: %w", err)
	}
	return append(declared, goRules()...), nil
}

// Build creates the concepts, compiles and registers the rules and starts
// an engine over them.
func Build(opts ...Option) (*App, error) {
	o := options{timeout: DefaultRequestTimeout, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{
		Auth:         auth.New(o.authOpts...),
		Library:      library.New(o.libraryOpts...),
		Categorizing: categorizing.New(append([]categorizing.Option{categorizing.WithLogger(o.logger)}, o.categoryOpts...)...),
		Requesting:   requesting.New(o.requestOpts...),
		timeout:      o.timeout,
		logger:       o.logger,
	}

	creg, err := concept.NewRegistry(a.Auth, a.Library, a.Categorizing, a.Requesting)
	if err != nil {
		return nil, fmt.Errorf("register concepts: %w", err)
	}
	a.Concepts = creg

	rules, err := Rules()
	if err != nil {
		return nil, err
	}
	if o.rulesDir != "" {
		extra, err := compiler.LoadDir(o.rulesDir, Stages())
		if err != nil {
			return nil, fmt.Errorf("load rules from %s: %w", o.rulesDir, err)
		}
		rules = append(rules, extra...)
	}

	rreg, err := rule.NewRegistry(rules, rule.WithSignatures(creg.Signatures()))
	if err != nil {
		return nil, fmt.Errorf("register rules: %w", err)
	}
	a.Rules = rreg

	engineOpts := append([]engine.EngineOption{engine.WithLogger(o.logger)}, o.engineOpts...)
	a.Engine = engine.New(creg, rreg, engineOpts...)
	return a, nil
}

// Request records an external request for path in a new flow and waits for
// the response the rules produce.
//
// If no rule responds before the deadline, the handle is expired (which is
// recorded in the ledger) and ErrRequestTimeout is returned.
func (a *App) Request(ctx context.Context, path string, payload ir.IRObject) (ir.IRObject, string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	flow := a.Engine.NewFlow()
	args := payload.Clone()
	args[requesting.FieldPath] = ir.IRString(path)

	entry, err := a.Engine.Invoke(ctx, flow, requesting.Request, args)
	if err != nil {
		if entry.Seq == 0 {
			return nil, flow, err
		}
		a.logger.Warn("request cascade cut short", "flow", flow, "path", path, "error", err)
	}
	if msg, ok := ir.ErrorMessage(entry.Outputs); ok {
		return nil, flow, fmt.Errorf("%w: %s", ErrBadRequest, msg)
	}

	handle, _ := entry.Outputs.String(requesting.FieldRequest)
	resp, err := a.Requesting.Await(ctx, handle)
	if err == nil {
		return resp, flow, nil
	}
	if !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		return nil, flow, err
	}

	if _, xerr := a.Engine.Invoke(context.WithoutCancel(ctx), flow, requesting.Expire,
		ir.Obj(ir.O(requesting.FieldRequest, ir.IRString(handle)))); xerr != nil {
		a.logger.Error("expire request", "flow", flow, "request", handle, "error", xerr)
	}
	a.logger.Warn("request unanswered", "flow", flow, "path", path, "request", handle, "timeout", a.timeout)
	return nil, flow, fmt.Errorf("%w: %s after %s", ErrRequestTimeout, path, a.timeout)
}

// Call invokes an action or query directly, bypassing the rules. Queries
// return their records; actions return a single record and run their
// cascade in a new flow.
func (a *App) Call(ctx context.Context, ref ir.ActionRef, args ir.IRObject) ([]ir.IRObject, error) {
	if ref.IsQuery() {
		return a.Engine.Query(ctx, ref, args)
	}
	entry, err := a.Engine.Invoke(ctx, a.Engine.NewFlow(), ref, args)
	if err != nil && entry.Seq == 0 {
		return nil, err
	}
	return []ir.IRObject{entry.Outputs}, err
}
