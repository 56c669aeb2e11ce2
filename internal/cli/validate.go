package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/choreo/internal/app"
	"github.com/roach88/choreo/internal/compiler"
	"github.com/roach88/choreo/internal/rule"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	Strict bool // warnings fail validation
}

// ValidateResult is the outcome of validating a rule set.
type ValidateResult struct {
	Valid   bool            `json:"valid"`
	Rules   int             `json:"rules"`
	Files   []string        `json:"files,omitempty"`
	Compile []string        `json:"compile_errors,omitempty"`
	Report  compiler.Report `json:"report"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate [rules-dir]",
		Short: "Validate the application rules",
		Long: `Validate the application's rules together with the CUE rules in
rules-dir, if given.

Rules are checked against the concepts' action signatures as they would
be at startup. Request paths that no rule chain answers and rule cycles
are reported as warnings.

Exit codes:
  0 - Rules valid
  1 - Invalid rules (or warnings with --strict)
  2 - Command error (directory not found, etc.)

Examples:
  choreo validate
  choreo validate ./rules --strict
  choreo validate ./rules --format json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := ""
			if len(args) == 1 {
				dir = args[0]
			}
			return runValidate(opts, dir, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Strict, "strict", false, "treat warnings as errors")

	return cmd
}

func runValidate(opts *ValidateOptions, dir string, cmd *cobra.Command) error {
	out := newFormatter(cmd, opts.RootOptions)

	a, err := app.Build()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build application", err)
	}
	rules, err := app.Rules()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to compile application rules", err)
	}

	result := ValidateResult{}
	if dir != "" {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			return NewExitError(ExitCommandError, fmt.Sprintf("rules directory not found: %s", dir))
		}
		if result.Files, err = compiler.FindCUEFiles(dir); err != nil {
			return WrapExitError(ExitCommandError, "failed to list rules", err)
		}
		extra, err := compiler.LoadDir(dir, app.Stages())
		if err != nil {
			result.Compile = compileMessages(err)
		}
		rules = append(rules, extra...)
	}

	result.Rules = len(rules)
	result.Report = compiler.Validate(rules, a.Concepts.Signatures())
	result.Valid = len(result.Compile) == 0 && result.Report.OK() &&
		!(opts.Strict && result.Report.Warnings() > 0)

	text := func(w io.Writer) { writeValidateText(w, result) }
	if result.Valid {
		return out.Success(result, text)
	}

	msg := fmt.Sprintf("%d error(s), %d warning(s)",
		len(result.Compile)+len(result.Report.Errors), result.Report.Warnings())
	if err := out.Failure(CodeInvalidRules, msg, result, text); err != nil {
		return err
	}
	return NewExitError(ExitFailure, "validation failed: "+msg)
}

// compileMessages flattens compile errors, one message per problem.
func compileMessages(err error) []string {
	var verrs rule.ValidationErrors
	if errors.As(err, &verrs) {
		msgs := make([]string, len(verrs))
		for i, e := range verrs {
			msgs[i] = e.Error()
		}
		return msgs
	}
	return strings.Split(err.Error(), "\n")
}

func writeValidateText(w io.Writer, r ValidateResult) {
	for _, msg := range r.Compile {
		fmt.Fprintf(w, "error: %s\n", msg)
	}
	for _, e := range r.Report.Errors {
		fmt.Fprintf(w, "error: %s\n", e.Error())
	}
	for _, u := range r.Report.Uncovered {
		fmt.Fprintf(w, "warning: no rule chain responds to %s (matched by %s)\n", u.Path, strings.Join(u.Rules, ", "))
	}
	for _, c := range r.Report.Cycles {
		fmt.Fprintf(w, "%s: %s\n", c.Level, c.Message)
	}

	if r.Valid {
		fmt.Fprintf(w, "✓ All rules valid (%d rules)\n", r.Rules)
		return
	}
	fmt.Fprintln(w, "✗ Validation failed")
}
