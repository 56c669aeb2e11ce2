package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/choreo/internal/ir"
	"github.com/roach88/choreo/internal/ledger"
	"github.com/roach88/choreo/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database   string
	Flow       string
	Action     string // optional filter on the timeline
	Incomplete bool
}

// FlowTrace is the stored history of one flow.
type FlowTrace struct {
	Flow       string          `json:"flow"`
	Timeline   []ledger.Entry  `json:"timeline"`
	Firings    []ir.RuleFiring `json:"firings"`
	Unanswered []string        `json:"unanswered,omitempty"`
	Tampered   []int64         `json:"tampered,omitempty"`
	Stats      TraceStats      `json:"stats"`
}

// TraceStats summarizes a flow.
type TraceStats struct {
	Entries  int   `json:"entries"`
	Failures int   `json:"failures"`
	Firings  int   `json:"firings"`
	LastSeq  int64 `json:"last_seq"`
	Complete bool  `json:"complete"`
}

// FlowSummary is one line of the flow listing.
type FlowSummary struct {
	Flow       string `json:"flow"`
	Entries    int    `json:"entries"`
	LastSeq    int64  `json:"last_seq"`
	Unanswered int    `json:"unanswered"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Read flows from a ledger archive",
		Long: `Read flows from the SQLite ledger archive written by choreo serve.

Without --flow, every stored flow is listed. With --flow, the flow's
timeline is shown: each entry with the rule and triggering entry that
produced it, the rule firings, and the requests left unanswered.

Exit codes:
  0 - Success
  1 - --incomplete found unanswered requests
  2 - Command error (database not found, etc.)

Examples:
  choreo trace --db ./choreo.db
  choreo trace --db ./choreo.db --incomplete
  choreo trace --db ./choreo.db --flow 0190f3c2-... --action Library.submitNewFic
  choreo trace --db ./choreo.db --flow 0190f3c2-... --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Flow, "flow", "", "flow to show")
	cmd.Flags().StringVar(&opts.Action, "action", "", "only show entries of this action")
	cmd.Flags().BoolVar(&opts.Incomplete, "incomplete", false, "only list flows with unanswered requests")
	cmd.MarkFlagsMutuallyExclusive("flow", "incomplete")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	out := newFormatter(cmd, opts.RootOptions)
	ctx := cmd.Context()

	// store.Open creates missing databases.
	if _, err := os.Stat(opts.Database); err != nil {
		return WrapExitError(ExitCommandError, "database not found", err)
	}
	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	if opts.Flow != "" {
		state, err := st.GetFlowState(ctx, opts.Flow)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read flow", err)
		}
		ft := flowTrace(state, opts.Action)
		return out.Success(ft, func(w io.Writer) { writeFlowText(w, ft, opts.Verbose) })
	}

	var states []store.FlowState
	if opts.Incomplete {
		states, err = st.FindIncompleteFlows(ctx)
	} else {
		states, err = allFlows(cmd, st)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list flows", err)
	}

	summaries := make([]FlowSummary, len(states))
	for i, s := range states {
		summaries[i] = FlowSummary{Flow: s.Flow, Entries: len(s.Entries), LastSeq: s.LastSeq, Unanswered: len(s.Unanswered)}
	}
	text := func(w io.Writer) { writeFlowList(w, summaries) }

	if opts.Incomplete && len(summaries) > 0 {
		msg := fmt.Sprintf("%d flow(s) with unanswered requests", len(summaries))
		if err := out.Failure(CodeIncomplete, msg, summaries, text); err != nil {
			return err
		}
		return NewExitError(ExitFailure, msg)
	}
	return out.Success(summaries, text)
}

func allFlows(cmd *cobra.Command, st *store.Store) ([]store.FlowState, error) {
	flows, err := st.ListFlows(cmd.Context())
	if err != nil {
		return nil, err
	}
	states := make([]store.FlowState, 0, len(flows))
	for _, f := range flows {
		s, err := st.GetFlowState(cmd.Context(), f)
		if err != nil {
			return nil, err
		}
		states = append(states, s)
	}
	return states, nil
}

func flowTrace(state store.FlowState, action string) FlowTrace {
	ft := FlowTrace{
		Flow:       state.Flow,
		Timeline:   []ledger.Entry{},
		Firings:    state.Firings,
		Unanswered: state.Unanswered,
		Tampered:   state.Tampered,
		Stats: TraceStats{
			Entries:  len(state.Entries),
			Firings:  len(state.Firings),
			LastSeq:  state.LastSeq,
			Complete: state.Complete(),
		},
	}
	if ft.Firings == nil {
		ft.Firings = []ir.RuleFiring{}
	}
	for _, e := range state.Entries {
		if e.IsError() {
			ft.Stats.Failures++
		}
		if action == "" || string(e.Action) == action {
			ft.Timeline = append(ft.Timeline, e)
		}
	}
	return ft
}

func writeFlowText(w io.Writer, ft FlowTrace, verbose bool) {
	if ft.Stats.Entries == 0 {
		fmt.Fprintf(w, "No entries found for flow: %s\n", ft.Flow)
		return
	}

	fmt.Fprintf(w, "Trace for Flow: %s\n", ft.Flow)
	fmt.Fprintf(w, "Status: %s\n", completeStatus(ft.Stats.Complete))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Timeline ===")
	writeEntries(w, ft.Timeline, verbose)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Firings ===")
	if len(ft.Firings) == 0 {
		fmt.Fprintln(w, "  (no rule firings)")
	}
	for _, f := range ft.Firings {
		fmt.Fprintf(w, "  [%d] -> %s", f.TriggerSeq, f.Rule)
		if verbose {
			fmt.Fprintf(w, " (entries %s, binding %s)", f.Matched, f.BindingHash)
		}
		fmt.Fprintln(w)
	}

	if len(ft.Unanswered) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "=== Unanswered ===")
		for _, h := range ft.Unanswered {
			fmt.Fprintf(w, "  %s\n", h)
		}
	}
	if len(ft.Tampered) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "WARNING: stored IDs do not match content at seq %v\n", ft.Tampered)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "=== Stats ===")
	fmt.Fprintf(w, "  Entries:  %d\n", ft.Stats.Entries)
	fmt.Fprintf(w, "  Failures: %d\n", ft.Stats.Failures)
	fmt.Fprintf(w, "  Firings:  %d\n", ft.Stats.Firings)
}

func writeFlowList(w io.Writer, flows []FlowSummary) {
	if len(flows) == 0 {
		fmt.Fprintln(w, "No flows found.")
		return
	}
	for _, f := range flows {
		status := "complete"
		if f.Unanswered > 0 {
			status = fmt.Sprintf("%d unanswered", f.Unanswered)
		}
		fmt.Fprintf(w, "%s  entries=%d last_seq=%d  %s\n", f.Flow, f.Entries, f.LastSeq, status)
	}
}

// writeEntries prints one line per entry. Entries produced by a rule show
// the rule and the seq of the entry that fired it.
func writeEntries(w io.Writer, entries []ledger.Entry, verbose bool) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "  (no entries)")
		return
	}
	for _, e := range entries {
		marker := "OK "
		if e.IsError() {
			marker = "ERR"
		}
		fmt.Fprintf(w, "  [%d] %s %s", e.Seq, marker, e.Action)
		if e.Rule != "" {
			fmt.Fprintf(w, " <- %s@%d", e.Rule, e.Trigger)
		}
		fmt.Fprintln(w)
		if verbose {
			fmt.Fprintf(w, "       in:  %s\n", formatValue(e.Inputs))
			fmt.Fprintf(w, "       out: %s\n", formatValue(e.Outputs))
		}
	}
}

// formatValue renders IR values as canonical JSON.
func formatValue(v any) string {
	var val ir.IRValue
	switch x := v.(type) {
	case ir.IRValue:
		val = x
	case []ir.IRObject:
		arr := make(ir.IRArray, len(x))
		for i, o := range x {
			arr[i] = o
		}
		val = arr
	default:
		return fmt.Sprint(v)
	}
	if obj, ok := val.(ir.IRObject); ok && obj == nil {
		val = ir.IRObject{}
	}
	data, err := ir.MarshalCanonical(val)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

func completeStatus(complete bool) string {
	if complete {
		return "complete"
	}
	return "incomplete"
}
