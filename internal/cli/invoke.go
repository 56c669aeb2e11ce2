package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/choreo/internal/app"
	"github.com/roach88/choreo/internal/concepts/auth"
	"github.com/roach88/choreo/internal/concepts/categorizing"
	"github.com/roach88/choreo/internal/concepts/library"
	"github.com/roach88/choreo/internal/concepts/requesting"
	"github.com/roach88/choreo/internal/engine"
	"github.com/roach88/choreo/internal/ir"
	"github.com/roach88/choreo/internal/ledger"
	"github.com/roach88/choreo/internal/testutil"
)

// InvokeOptions holds flags for the invoke command.
type InvokeOptions struct {
	*RootOptions
	Args       string
	Request    bool
	Setup      []string
	Rules      string
	Vocabulary string
}

// InvokeResult is the outcome of one invocation and its cascade.
type InvokeResult struct {
	Target   string         `json:"target"`
	Response any            `json:"response,omitempty"`
	TimedOut bool           `json:"timed_out,omitempty"`
	Trace    []ledger.Entry `json:"trace"`
}

// NewInvokeCommand creates the invoke command.
func NewInvokeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InvokeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "invoke <Concept.action>",
		Short: "Invoke an action against a fresh application",
		Long: `Invoke an action against a fresh in-memory application and print
the resulting cascade. Identifiers are sequential (user-1, fic-1, req-1)
so setup results can be referred to by later arguments.

With --request the action is raised as a request for /Concept/action and
the command waits for the rules to answer it. --setup runs actions first,
each given as Concept.action=JSON.

Examples:
  choreo invoke UserAuthentication.register --args '{"username":"ada","password":"pw"}'
  choreo invoke Library.submitNewFic --request \
    --setup 'UserAuthentication.register={"username":"ada","password":"pw"}' \
    --args '{"user":"user-1","ficName":"Wings","ficText":"..."}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInvoke(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Args, "args", "{}", "action arguments as a JSON object")
	cmd.Flags().BoolVar(&opts.Request, "request", false, "raise a request instead of invoking the concept")
	cmd.Flags().StringArrayVar(&opts.Setup, "setup", nil, "action to run first, as Concept.action=JSON (repeatable)")
	cmd.Flags().StringVar(&opts.Rules, "rules", "", "directory of extra CUE rules")
	cmd.Flags().StringVar(&opts.Vocabulary, "vocabulary", "", "tag vocabulary CSV")

	return cmd
}

func runInvoke(opts *InvokeOptions, target string, cmd *cobra.Command) error {
	out := newFormatter(cmd, opts.RootOptions)
	ctx := cmd.Context()

	ref := ir.ActionRef(target)
	if !ref.Valid() {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid action %q: want Concept.action", target))
	}
	if opts.Request && ref.IsQuery() {
		return NewExitError(ExitCommandError, "queries cannot be requested")
	}
	args, err := ir.ParseObject([]byte(opts.Args))
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --args", err)
	}

	a, err := buildInvokeApp(opts, out)
	if err != nil {
		return err
	}

	for _, s := range opts.Setup {
		sref, sargs, err := parseSetup(s)
		if err != nil {
			return err
		}
		recs, err := a.Call(ctx, sref, sargs)
		if err != nil {
			return WrapExitError(ExitCommandError, "setup "+string(sref)+" failed", err)
		}
		for _, rec := range recs {
			if msg, failed := ir.ErrorMessage(rec); failed {
				return NewExitError(ExitCommandError, fmt.Sprintf("setup %s failed: %s", sref, msg))
			}
		}
		out.VerboseLog("setup %s ok", sref)
	}
	start := a.Engine.Ledger().LastSeq()

	result := InvokeResult{Target: target}
	switch {
	case opts.Request:
		path := "/" + ref.Concept() + "/" + ref.Name()
		result.Target = path
		resp, _, err := a.Request(ctx, path, args)
		switch {
		case err == nil:
			result.Response = resp
		case errors.Is(err, app.ErrRequestTimeout):
			result.TimedOut = true
		default:
			return WrapExitError(ExitFailure, "request failed", err)
		}
	default:
		recs, err := a.Call(ctx, ref, args)
		if err != nil && len(recs) == 0 {
			return WrapExitError(ExitCommandError, "invoke failed", err)
		}
		if ref.IsQuery() {
			result.Response = recs
		} else {
			result.Response = recs[0]
		}
	}
	result.Trace = a.Engine.Ledger().Since(start)

	return out.Success(result, func(w io.Writer) { writeInvokeText(w, result, opts.Verbose) })
}

func buildInvokeApp(opts *InvokeOptions, out *OutputFormatter) (*app.App, error) {
	cfg, err := opts.config()
	if err != nil {
		return nil, err
	}

	appOpts := []app.Option{
		app.WithLogger(opts.logger(cfg.Log, out.GetErrWriter())),
		app.WithEngineOptions(
			engine.WithFlowGenerator(&engine.SequentialGenerator{Prefix: "flow"}),
			engine.WithMaxSteps(cfg.Engine.MaxSteps),
		),
		app.WithAuthOptions(auth.WithIDs(testutil.NewSequentialIDs("user")), auth.WithCost(cfg.Auth.BcryptCost)),
		app.WithLibraryOptions(library.WithIDs(testutil.NewSequentialIDs("fic"))),
		app.WithRequestingOptions(requesting.WithIDs(testutil.NewSequentialIDs("req"))),
		app.WithRequestTimeout(cfg.Server.RequestTimeout),
	}
	if opts.Rules != "" {
		appOpts = append(appOpts, app.WithRulesDir(opts.Rules))
	}
	if opts.Vocabulary != "" {
		vocab, err := categorizing.LoadVocabulary(opts.Vocabulary)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to load vocabulary", err)
		}
		appOpts = append(appOpts, app.WithCategorizingOptions(categorizing.WithVocabulary(vocab)))
	}

	a, err := app.Build(appOpts...)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to build application", err)
	}
	return a, nil
}

// parseSetup splits "Concept.action={...}". A missing JSON part means {}.
func parseSetup(s string) (ir.ActionRef, ir.IRObject, error) {
	name, raw, found := strings.Cut(s, "=")
	ref := ir.ActionRef(name)
	if !ref.Valid() {
		return "", nil, NewExitError(ExitCommandError, fmt.Sprintf("invalid --setup %q: want Concept.action=JSON", s))
	}
	if !found {
		return ref, ir.IRObject{}, nil
	}
	args, err := ir.ParseObject([]byte(raw))
	if err != nil {
		return "", nil, WrapExitError(ExitCommandError, fmt.Sprintf("invalid --setup %q", s), err)
	}
	return ref, args, nil
}

func writeInvokeText(w io.Writer, r InvokeResult, verbose bool) {
	switch {
	case r.TimedOut:
		fmt.Fprintf(w, "%s -> (no response)\n", r.Target)
	default:
		fmt.Fprintf(w, "%s -> %s\n", r.Target, formatValue(r.Response))
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "=== Trace ===")
	writeEntries(w, r.Trace, verbose)
}
