package harness

import (
	"github.com/roach88/choreo/internal/ir"
	"github.com/roach88/choreo/internal/ledger"
)

// TraceEvent is one archived ledger entry.
type TraceEvent struct {
	Seq     int64       `json:"seq"`
	Flow    string      `json:"flow"`
	Action  string      `json:"action"`
	Inputs  ir.IRObject `json:"inputs"`
	Outputs ir.IRObject `json:"outputs"`
	Rule    string      `json:"rule,omitempty"`
	Trigger int64       `json:"trigger,omitempty"`
}

func eventFromEntry(e ledger.Entry) TraceEvent {
	return TraceEvent{
		Seq:     e.Seq,
		Flow:    e.Flow,
		Action:  string(e.Action),
		Inputs:  e.Inputs,
		Outputs: e.Outputs,
		Rule:    e.Rule,
		Trigger: e.Trigger,
	}
}

// object returns the event as an IR object for canonical serialization.
// Empty provenance fields are left out.
func (ev TraceEvent) object() ir.IRObject {
	obj := ir.Obj(
		ir.O("seq", ir.IRInt(ev.Seq)),
		ir.O("flow", ir.IRString(ev.Flow)),
		ir.O("action", ir.IRString(ev.Action)),
		ir.O("inputs", orEmpty(ev.Inputs)),
		ir.O("outputs", orEmpty(ev.Outputs)),
	)
	if ev.Rule != "" {
		obj["rule"] = ir.IRString(ev.Rule)
	}
	if ev.Trigger != 0 {
		obj["trigger"] = ir.IRInt(ev.Trigger)
	}
	return obj
}

func orEmpty(obj ir.IRObject) ir.IRObject {
	if obj == nil {
		return ir.IRObject{}
	}
	return obj
}

// StepResult is the observed outcome of one flow step.
type StepResult struct {
	Step int `json:"step"`

	// Target is the invoked action or the requested path.
	Target string `json:"target"`

	// Flow is the flow of a request step.
	Flow string `json:"flow,omitempty"`

	// Response is the action's record, {"results": [...]} for a query, or
	// the response payload of a request.
	Response ir.IRObject `json:"response,omitempty"`

	// TimedOut is set when no rule answered a request before the deadline.
	TimedOut bool `json:"timed_out,omitempty"`
}

// Case classifies the step outcome as success, error or timeout.
func (s StepResult) Case() string {
	switch {
	case s.TimedOut:
		return CaseTimeout
	case ir.IsError(s.Response):
		return CaseError
	default:
		return CaseSuccess
	}
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace holds every archived entry in seq order, setup included.
	Trace []TraceEvent `json:"trace"`

	// Steps holds one result per flow step.
	Steps []StepResult `json:"steps"`

	// Errors lists failed expectations and assertions.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a passing, empty result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Steps:  []StepResult{},
		Errors: []string{},
	}
}

// AddError records a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
