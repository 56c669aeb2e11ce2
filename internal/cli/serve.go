package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/choreo/internal/app"
	"github.com/roach88/choreo/internal/concepts/auth"
	"github.com/roach88/choreo/internal/concepts/categorizing"
	"github.com/roach88/choreo/internal/config"
	"github.com/roach88/choreo/internal/engine"
	"github.com/roach88/choreo/internal/ledger"
	"github.com/roach88/choreo/internal/server"
	"github.com/roach88/choreo/internal/store"
	"github.com/roach88/choreo/internal/telemetry"
)

const serviceName = "choreo"

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"run"},
		Short:   "Serve the application over HTTP",
		Long: `Serve the fanfic application over HTTP.

Every POST /api/{Concept}/{action} becomes a request answered by the
rules, unless the passthrough table routes it to the concept directly.
When store.path is set, every ledger entry and rule firing is archived
in SQLite and sequence numbers continue where the store left off.

Examples:
  choreo serve
  choreo serve --addr :9090 --db ./choreo.db
  CHOREO_LOG_FORMAT=json choreo serve --config ./prod.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, rootOpts, cmd)
		},
	}

	cmd.Flags().String("addr", "", "listen address (server.addr)")
	cmd.Flags().String("db", "", "SQLite ledger archive (store.path)")
	cmd.Flags().String("rules", "", "directory of extra CUE rules (rules.dir)")
	cmd.Flags().String("vocabulary", "", "tag vocabulary CSV (categorizing.vocabulary)")
	cmd.Flags().String("passthrough", "", "passthrough route table (passthrough.file)")
	rootOpts.bind(cmd, "server.addr", "addr")
	rootOpts.bind(cmd, "store.path", "db")
	rootOpts.bind(cmd, "rules.dir", "rules")
	rootOpts.bind(cmd, "categorizing.vocabulary", "vocabulary")
	rootOpts.bind(cmd, "passthrough.file", "passthrough")

	return cmd
}

func runServe(ctx context.Context, opts *RootOptions, cmd *cobra.Command) error {
	cfg, err := opts.config()
	if err != nil {
		return err
	}
	logger := opts.logger(cfg.Log, cmd.ErrOrStderr())
	slog.SetDefault(logger)

	srv, cleanup, err := buildServer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	logger.Info("serving", "addr", cfg.Server.Addr, "store", cfg.Store.Path, "version", Version)
	if err := srv.ListenAndServe(ctx, cfg.Server.Addr); err != nil {
		return WrapExitError(ExitFailure, "server error", err)
	}
	logger.Info("server stopped")
	return nil
}

// buildServer wires the configured application into a server. cleanup
// flushes spans and closes the store.
func buildServer(ctx context.Context, cfg config.Config, logger *slog.Logger) (*server.Server, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(code int, msg string, err error) (*server.Server, func(), error) {
		cleanup()
		return nil, nil, WrapExitError(code, msg, err)
	}

	tr := cfg.Telemetry.Tracing
	tracer, err := telemetry.NewTracer(telemetry.TracingConfig{
		Exporter:     tr.Exporter,
		Endpoint:     tr.Endpoint,
		Insecure:     tr.Insecure,
		SamplingRate: tr.SamplingRate,
	}, serviceName, Version)
	if err != nil {
		return fail(ExitCommandError, "failed to start tracing", err)
	}
	closers = append(closers, func() {
		if err := tracer.Shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Error("tracer shutdown failed", "error", err)
		}
	})

	metrics := telemetry.NewMetrics(telemetry.MetricsConfig{
		Enabled:   cfg.Telemetry.MetricsEnabled,
		Namespace: cfg.Telemetry.Namespace,
	})

	engineOpts := []engine.EngineOption{
		engine.WithMaxSteps(cfg.Engine.MaxSteps),
		engine.WithRetention(cfg.Engine.RetentionFlows),
		engine.WithObserver(metrics),
		engine.WithTracer(tracer.Tracer()),
	}
	if cfg.Store.Path != "" {
		st, err := store.Open(cfg.Store.Path)
		if err != nil {
			return fail(ExitCommandError, "failed to open store", err)
		}
		closers = append(closers, func() {
			if err := st.Close(); err != nil {
				logger.Error("store close failed", "error", err)
			}
		})
		last, err := st.LastSeq(ctx)
		if err != nil {
			return fail(ExitCommandError, "failed to read store", err)
		}
		engineOpts = append(engineOpts,
			engine.WithLedgerOptions(ledger.WithSink(st), ledger.WithStartSeq(last)),
			engine.WithFiringSink(st),
		)
	}

	appOpts := []app.Option{
		app.WithLogger(logger),
		app.WithEngineOptions(engineOpts...),
		app.WithAuthOptions(auth.WithCost(cfg.Auth.BcryptCost)),
		app.WithCategorizingOptions(categorizing.WithMaxDistance(cfg.Categorizing.MaxDistance)),
		app.WithRequestTimeout(cfg.Server.RequestTimeout),
	}
	if cfg.Rules.Dir != "" {
		appOpts = append(appOpts, app.WithRulesDir(cfg.Rules.Dir))
	}
	a, err := app.Build(appOpts...)
	if err != nil {
		return fail(ExitCommandError, "failed to build application", err)
	}

	if err := loadVocabulary(ctx, a.Categorizing, cfg.Categorizing); err != nil {
		return fail(ExitCommandError, "failed to load vocabulary", err)
	}

	routes := server.DefaultRoutes()
	if cfg.Passthrough.File != "" {
		if routes, err = server.LoadRoutes(cfg.Passthrough.File); err != nil {
			return fail(ExitCommandError, "failed to load passthrough table", err)
		}
	}

	srv, err := server.New(a,
		server.WithRoutes(routes),
		server.WithMetrics(metrics),
		server.WithTracer(tracer.Tracer()),
		server.WithLogger(logger),
	)
	if err != nil {
		return fail(ExitCommandError, "invalid passthrough table", err)
	}
	return srv, cleanup, nil
}

// loadVocabulary installs the configured vocabulary. With watch set, the
// file is reloaded on change until ctx ends.
func loadVocabulary(ctx context.Context, c *categorizing.Concept, cfg config.CategorizingConfig) error {
	if cfg.Vocabulary == "" {
		if cfg.Watch {
			return errors.New("categorizing.watch requires categorizing.vocabulary")
		}
		return nil
	}
	if cfg.Watch {
		return c.Watch(ctx, cfg.Vocabulary)
	}
	vocab, err := categorizing.LoadVocabulary(cfg.Vocabulary)
	if err != nil {
		return fmt.Errorf("load %s: %w", cfg.Vocabulary, err)
	}
	c.SetVocabulary(vocab)
	return nil
}
