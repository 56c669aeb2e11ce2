package ir

import (
	"fmt"
	"strings"
)

// ValidTypes defines the allowed type strings for args and output fields.
// NO "float" - floats are forbidden (breaks determinism).
var ValidTypes = map[string]bool{
	"string": true,
	"int":    true,
	"bool":   true,
	"array":  true,
	"object": true,
	"any":    true,
}

// ValidationError represents a validation error with field path and message.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks an ActionSig against schema rules.
// Returns all errors (not fail-fast) for better developer experience.
func (a *ActionSig) Validate() []ValidationError {
	var errs []ValidationError

	if a.Name == "" {
		errs = append(errs, ValidationError{Field: "name", Message: "name is required"})
	}

	switch a.Kind {
	case KindAction:
		if strings.HasPrefix(a.Name, "_") {
			errs = append(errs, ValidationError{
				Field:   "name",
				Message: fmt.Sprintf("action %q must not start with '_'", a.Name),
			})
		}
	case KindQuery:
		if !strings.HasPrefix(a.Name, "_") {
			errs = append(errs, ValidationError{
				Field:   "name",
				Message: fmt.Sprintf("query %q must start with '_'", a.Name),
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "kind",
			Message: fmt.Sprintf("invalid kind %q, must be action or query", a.Kind),
		})
	}

	if len(a.Outputs) == 0 {
		errs = append(errs, ValidationError{
			Field:   "outputs",
			Message: "at least one output case is required",
		})
	}

	seenCases := make(map[string]bool)
	for i, out := range a.Outputs {
		if seenCases[out.Case] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("outputs[%d].case", i),
				Message: fmt.Sprintf("duplicate output case name: %q", out.Case),
			})
		}
		seenCases[out.Case] = true

		for fieldName, fieldType := range out.Fields {
			if !ValidTypes[fieldType] {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("outputs[%d].fields.%s", i, fieldName),
					Message: fmt.Sprintf("invalid type %q", fieldType),
				})
			}
		}
	}

	for i, arg := range a.Args {
		if !ValidTypes[arg.Type] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("args[%d].type", i),
				Message: fmt.Sprintf("invalid type %q for arg %q", arg.Type, arg.Name),
			})
		}
	}

	return errs
}

// Action builds an action signature whose success case carries outs and whose
// error case carries the reserved error field.
func Action(name string, args []NamedArg, outs map[string]string) ActionSig {
	return ActionSig{
		Name: name,
		Kind: KindAction,
		Args: args,
		Outputs: []OutputCase{
			{Case: "success", Fields: outs},
			{Case: "error", Fields: map[string]string{ErrorField: "string"}},
		},
	}
}

// Query builds a query signature.
func Query(name string, args []NamedArg, outs map[string]string) ActionSig {
	sig := Action(name, args, outs)
	sig.Kind = KindQuery
	return sig
}

// Args is a shorthand for a list of required, untyped arguments.
func Args(names ...string) []NamedArg {
	out := make([]NamedArg, len(names))
	for i, n := range names {
		out[i] = NamedArg{Name: n, Type: "any"}
	}
	return out
}
