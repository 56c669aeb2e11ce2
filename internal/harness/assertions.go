package harness

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/choreo/internal/concepts/requesting"
	"github.com/roach88/choreo/internal/ir"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, ev := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] %s %s %v -> %v\n", ev.Seq, ev.Flow, ev.Action, ev.Inputs, ev.Outputs)
	}
	return buf.String()
}

// EvaluateAssertions checks every assertion against the result's trace and
// returns the failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, a)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, a)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, a)
		case AssertResponseCount:
			err = assertResponseCount(result.Trace, a)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, a.Type)
		}
		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}

// assertTraceContains checks for an entry of the action whose inputs and
// outputs contain the expected fields.
func assertTraceContains(trace []TraceEvent, a Assertion) error {
	args, err := toObject(a.Args)
	if err != nil {
		return fmt.Errorf("trace_contains %s: args: %w", a.Action, err)
	}
	outputs, err := toObject(a.Outputs)
	if err != nil {
		return fmt.Errorf("trace_contains %s: outputs: %w", a.Action, err)
	}

	for _, ev := range trace {
		if ev.Action != a.Action {
			continue
		}
		if _, ok := subset(ev.Inputs, args); !ok {
			continue
		}
		if _, ok := subset(ev.Outputs, outputs); ok {
			return nil
		}
	}

	expected := fmt.Sprintf("action %s with args %v", a.Action, args)
	if len(outputs) > 0 {
		expected += fmt.Sprintf(" and outputs %v", outputs)
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: expected,
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that the first entries of the actions appear in
// the given order. Other entries may come in between.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	positions := make(map[string]int)
	for i, ev := range trace {
		if _, seen := positions[ev.Action]; !seen {
			positions[ev.Action] = i + 1
		}
	}

	for _, action := range a.Actions {
		if positions[action] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all actions present: %v", a.Actions),
				Actual:   fmt.Sprintf("missing action: %s", action),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(a.Actions); i++ {
		prev, curr := a.Actions[i-1], a.Actions[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("actions in order: %v", a.Actions),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, ev := range trace {
		if ev.Action == a.Action {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", a.Count, a.Action),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertResponseCount counts successful respond entries, restricted to
// requests for a.Path when it is set.
func assertResponseCount(trace []TraceEvent, a Assertion) error {
	paths := make(map[string]string)
	for _, ev := range trace {
		if ev.Action != string(requesting.Request) {
			continue
		}
		handle, _ := ev.Outputs.String(requesting.FieldRequest)
		path, _ := ev.Inputs.String(requesting.FieldPath)
		paths[handle] = path
	}

	count := 0
	for _, ev := range trace {
		if ev.Action != string(requesting.Respond) || ir.IsError(ev.Outputs) {
			continue
		}
		handle, _ := ev.Inputs.String(requesting.FieldRequest)
		if a.Path == "" || paths[handle] == a.Path {
			count++
		}
	}

	if count != a.Count {
		target := "all requests"
		if a.Path != "" {
			target = a.Path
		}
		return &AssertionError{
			Type:     AssertResponseCount,
			Expected: fmt.Sprintf("%d responses to %s", a.Count, target),
			Actual:   fmt.Sprintf("%d responses", count),
			Trace:    trace,
		}
	}
	return nil
}

// subset reports whether actual contains every field of expected with an
// equal value. On mismatch it returns the first differing key in sorted
// order.
func subset(actual, expected ir.IRObject) (string, bool) {
	keys := make([]string, 0, len(expected))
	for k := range expected {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		got, ok := actual[k]
		if !ok || !ir.Equal(got, expected[k]) {
			return k, false
		}
	}
	return "", true
}
