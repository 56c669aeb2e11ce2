package rule

import (
	"errors"
	"fmt"

	"github.com/roach88/choreo/internal/frame"
	"github.com/roach88/choreo/internal/ir"
)

// Outcome restricts a pattern to success records, failure records, or both.
type Outcome int

const (
	Any Outcome = iota
	Success
	Failure
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Failure:
		return "failure"
	default:
		return "any"
	}
}

// accepts reports whether a record with the given outputs has this outcome.
func (o Outcome) accepts(outputs ir.IRObject) bool {
	switch o {
	case Success:
		return !ir.IsError(outputs)
	case Failure:
		return ir.IsError(outputs)
	default:
		return true
	}
}

// Pattern describes an action entry: which action, and constraints on its
// inputs and outputs.
type Pattern struct {
	Action  ir.ActionRef
	Inputs  Fields
	Outputs Fields
	Outcome Outcome
}

// Errors reported while binding then-stage outputs or substituting inputs.
var (
	ErrMissingOutput  = errors.New("missing output field")
	ErrOutputMismatch = errors.New("output does not match pattern")
	ErrUnboundVar     = errors.New("unbound variable")
)

// MatchLiterals reports whether an entry satisfies the pattern's outcome and
// literal constraints. It ignores variables and is used to prune candidates
// before the join.
func (p Pattern) MatchLiterals(inputs, outputs ir.IRObject) bool {
	if !p.Outcome.accepts(outputs) {
		return false
	}
	return literalsHold(p.Inputs, inputs) && literalsHold(p.Outputs, outputs)
}

func literalsHold(fs Fields, rec ir.IRObject) bool {
	for name, t := range fs {
		lit, ok := t.Literal()
		if !ok {
			continue
		}
		val, present := rec[name]
		if !present || !ir.Equal(lit, val) {
			return false
		}
	}
	return true
}

// Match extends f with the bindings produced by matching an entry's inputs
// and outputs. ok is false if the entry does not satisfy the pattern or a
// binding conflicts with f.
func (p Pattern) Match(f frame.Frame, inputs, outputs ir.IRObject) (frame.Frame, bool) {
	if !p.Outcome.accepts(outputs) {
		return f, false
	}
	f, ok := matchFields(f, p.Inputs, inputs)
	if !ok {
		return f, false
	}
	return matchFields(f, p.Outputs, outputs)
}

func matchFields(f frame.Frame, fs Fields, rec ir.IRObject) (frame.Frame, bool) {
	for _, name := range sortedFieldNames(fs) {
		t := fs[name]
		val, present := rec[name]
		switch t.kind {
		case termLit:
			if !present || !ir.Equal(t.lit, val) {
				return f, false
			}
		case termVar:
			if !present {
				return f, false
			}
			var ok bool
			if f, ok = f.Bind(t.v, val); !ok {
				return f, false
			}
		case termOpt:
			if !present {
				val = ir.IRNull{}
			}
			var ok bool
			if f, ok = f.Bind(t.v, val); !ok {
				return f, false
			}
		}
	}
	return f, true
}

// Substitute builds the input record of a then pattern from f.
func (p Pattern) Substitute(f frame.Frame) (ir.IRObject, error) {
	args := make(ir.IRObject, len(p.Inputs))
	for name, t := range p.Inputs {
		if lit, ok := t.Literal(); ok {
			args[name] = lit
			continue
		}
		val, ok := f.Get(t.v)
		if !ok {
			return nil, fmt.Errorf("%w %s for input %q of %s", ErrUnboundVar, t.v.Name(), name, p.Action)
		}
		args[name] = val
	}
	return args, nil
}

// BindOutputs binds the variables of a then pattern's outputs from the
// record the action returned.
func (p Pattern) BindOutputs(f frame.Frame, outputs ir.IRObject) (frame.Frame, error) {
	if !p.Outcome.accepts(outputs) {
		return f, fmt.Errorf("%w: %s returned %s record", ErrOutputMismatch, p.Action, outcomeOf(outputs))
	}
	for _, name := range sortedFieldNames(p.Outputs) {
		t := p.Outputs[name]
		val, present := outputs[name]
		if !present {
			return f, fmt.Errorf("%w %q from %s", ErrMissingOutput, name, p.Action)
		}
		if lit, ok := t.Literal(); ok {
			if !ir.Equal(lit, val) {
				return f, fmt.Errorf("%w: field %q of %s", ErrOutputMismatch, name, p.Action)
			}
			continue
		}
		var ok bool
		if f, ok = f.Bind(t.v, val); !ok {
			return f, fmt.Errorf("%w: field %q of %s conflicts with %s", ErrOutputMismatch, name, p.Action, t.v.Name())
		}
	}
	return f, nil
}

func outcomeOf(outputs ir.IRObject) Outcome {
	if ir.IsError(outputs) {
		return Failure
	}
	return Success
}

// When is shorthand for a when pattern of any outcome.
func When(action ir.ActionRef, inputs, outputs Fields) Pattern {
	return Pattern{Action: action, Inputs: inputs, Outputs: outputs}
}

// Then is shorthand for a then pattern.
func Then(action ir.ActionRef, inputs Fields) Pattern {
	return Pattern{Action: action, Inputs: inputs}
}
