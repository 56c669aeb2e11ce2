package compiler

import (
	"errors"

	"github.com/roach88/choreo/internal/ir"
	"github.com/roach88/choreo/internal/rule"
)

// Report collects everything a static check of a rule set finds.
// Errors make the rule set unusable; uncovered paths and cycles are
// warnings.
type Report struct {
	Errors    []rule.ValidationError `json:"errors,omitempty"`
	Uncovered []UncoveredPath        `json:"uncovered,omitempty"`
	Cycles    []CycleWarning         `json:"cycles,omitempty"`
}

// OK reports whether the rule set can be registered.
func (r Report) OK() bool { return len(r.Errors) == 0 }

// Warnings counts non-fatal findings.
func (r Report) Warnings() int { return len(r.Uncovered) + len(r.Cycles) }

// Validate runs registration checks against sigs, responder coverage and
// cycle analysis. Returns all findings (does not fail-fast).
func Validate(rules []rule.Rule, sigs map[ir.ActionRef]ir.ActionSig) Report {
	var rep Report

	if _, err := rule.NewRegistry(rules, rule.WithSignatures(sigs)); err != nil {
		var verrs rule.ValidationErrors
		if errors.As(err, &verrs) {
			rep.Errors = append(rep.Errors, verrs...)
		} else {
			rep.Errors = append(rep.Errors, rule.ValidationError{Field: "rules", Message: err.Error()})
		}
	}

	rep.Uncovered = CheckResponders(rules)
	rep.Cycles = AnalyzeCycles(rules)
	return rep
}
