package rule

import (
	"errors"
	"fmt"

	"github.com/roach88/choreo/internal/frame"
	"github.com/roach88/choreo/internal/ir"
)

// Slot identifies one when pattern of one rule.
type Slot struct {
	Rule  *Rule
	Index int
}

// Registry is the validated, immutable rule set.
//
// Thread-safety: read-only after NewRegistry, safe for concurrent use.
type Registry struct {
	rules    []*Rule
	byName   map[string]*Rule
	byAction map[ir.ActionRef][]Slot
	pinned   map[ir.ActionRef]bool
}

// RegistryOption configures validation.
type RegistryOption func(*registryConfig)

type registryConfig struct {
	sigs map[ir.ActionRef]ir.ActionSig
}

// WithSignatures enables checking that every pattern names a known action.
func WithSignatures(sigs map[ir.ActionRef]ir.ActionSig) RegistryOption {
	return func(c *registryConfig) {
		c.sigs = sigs
	}
}

// NewRegistry validates rules and indexes them by when action. All problems
// are reported together as ValidationErrors.
func NewRegistry(rules []Rule, opts ...RegistryOption) (*Registry, error) {
	var cfg registryConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	r := &Registry{
		byName:   make(map[string]*Rule, len(rules)),
		byAction: make(map[ir.ActionRef][]Slot),
		pinned:   make(map[ir.ActionRef]bool),
	}

	var errs ValidationErrors
	for i := range rules {
		rl := rules[i]
		rl.Scope = rl.Scope.Normalize()
		errs = append(errs, validateRule(&rl, cfg.sigs)...)

		if rl.Name != "" {
			if _, dup := r.byName[rl.Name]; dup {
				errs = append(errs, ValidationError{
					Rule:    rl.Name,
					Field:   "name",
					Message: fmt.Sprintf("duplicate rule name %q", rl.Name),
					Code:    ErrDuplicateRule,
				})
				continue
			}
		}

		stored := &rl
		r.rules = append(r.rules, stored)
		r.byName[rl.Name] = stored
		for idx, p := range rl.When {
			r.byAction[p.Action] = append(r.byAction[p.Action], Slot{Rule: stored, Index: idx})
			if rl.Scope.CrossFlow() {
				r.pinned[p.Action] = true
			}
		}
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return r, nil
}

// Rules returns the rules in declaration order.
func (r *Registry) Rules() []*Rule { return r.rules }

// Get returns a rule by name.
func (r *Registry) Get(name string) (*Rule, bool) {
	rl, ok := r.byName[name]
	return rl, ok
}

// Triggered returns the when slots an entry of action can fill, in rule
// declaration order then slot order.
func (r *Registry) Triggered(action ir.ActionRef) []Slot {
	return r.byAction[action]
}

// Pinned reports whether entries of action may be joined across flows by
// some rule, so they must never be evicted from the ledger.
func (r *Registry) Pinned(action ir.ActionRef) bool {
	return r.pinned[action]
}

// PinnedActions returns every pinned action.
func (r *Registry) PinnedActions() []ir.ActionRef {
	out := make([]ir.ActionRef, 0, len(r.pinned))
	for a := range r.pinned {
		out = append(out, a)
	}
	return out
}

// IsValidationError reports whether err came from registry validation.
func IsValidationError(err error) bool {
	var ve ValidationErrors
	return errors.As(err, &ve)
}

func validateRule(rl *Rule, sigs map[ir.ActionRef]ir.ActionSig) []ValidationError {
	var errs []ValidationError
	add := func(field, code, format string, args ...any) {
		errs = append(errs, ValidationError{
			Rule:    rl.Name,
			Field:   field,
			Message: fmt.Sprintf(format, args...),
			Code:    code,
		})
	}

	if rl.Name == "" {
		add("name", ErrRuleNameEmpty, "rule name is required")
	}
	if len(rl.When) == 0 {
		add("when", ErrMissingClause, "at least one when pattern is required")
	}
	if len(rl.Then) == 0 {
		add("then", ErrMissingClause, "at least one then pattern is required")
	}
	if err := rl.Scope.Validate(); err != nil {
		add("scope", ErrInvalidScope, "%v", err)
	}

	checkAction := func(field string, a ir.ActionRef) {
		if !a.Valid() {
			add(field, ErrInvalidActionRef, "invalid action reference %q: must be Concept.action", a)
			return
		}
		if a.IsQuery() {
			add(field, ErrQueryInPattern, "%s is a query; queries belong in where stages", a)
			return
		}
		if sigs != nil {
			if _, ok := sigs[a]; !ok {
				add(field, ErrUnknownAction, "unknown action %s", a)
			}
		}
	}

	bound := make(map[frame.Var]bool)
	for i, p := range rl.When {
		checkAction(fmt.Sprintf("when[%d].action", i), p.Action)
		for _, v := range p.Inputs.vars() {
			bound[v] = true
		}
		for _, v := range p.Outputs.vars() {
			bound[v] = true
		}
	}
	for _, v := range rl.Declares {
		bound[v] = true
	}

	for i, p := range rl.Then {
		checkAction(fmt.Sprintf("then[%d].action", i), p.Action)
		for _, name := range sortedFieldNames(p.Inputs) {
			t := p.Inputs[name]
			if t.IsOptional() {
				add(fmt.Sprintf("then[%d].inputs.%s", i, name), ErrOptionalInThen, "optional term %s is only allowed in when patterns", t)
				continue
			}
			if v, ok := t.Var(); ok && !bound[v] {
				add(fmt.Sprintf("then[%d].inputs.%s", i, name), ErrUnboundThenVariable, "variable %s is not bound by when, where or an earlier then output", v.Name())
			}
		}
		for _, name := range sortedFieldNames(p.Outputs) {
			t := p.Outputs[name]
			if t.IsOptional() {
				add(fmt.Sprintf("then[%d].outputs.%s", i, name), ErrOptionalInThen, "optional term %s is only allowed in when patterns", t)
			}
		}
		for _, v := range p.Outputs.vars() {
			bound[v] = true
		}
	}

	return errs
}
