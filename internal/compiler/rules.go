package compiler

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/roach88/choreo/internal/frame"
	"github.com/roach88/choreo/internal/ir"
	"github.com/roach88/choreo/internal/rule"
)

// Term prefixes inside pattern field maps. Any other value is a literal.
const (
	varPrefix      = "$"
	optionalPrefix = "?$"
)

// Vars hands out the variables of one rule by name. The same name always
// yields the same variable within a rule and never aliases a variable of
// another rule.
type Vars struct {
	byName map[string]frame.Var
}

func newVars() *Vars {
	return &Vars{byName: make(map[string]frame.Var)}
}

// Get returns the rule variable called name, creating it on first use.
func (vs *Vars) Get(name string) frame.Var {
	v, ok := vs.byName[name]
	if !ok {
		v = frame.NewVar(name)
		vs.byName[name] = v
	}
	return v
}

// Stage builds a where stage over the variables of the rule it is used in.
type Stage func(vars *Vars) rule.WhereFunc

// Catalog names the where stages a rule file may reference.
type Catalog map[string]Stage

// CompileRule parses a CUE value into a rule.
//
// The CUE value is one entry of the top-level rule struct, e.g.:
//
//	rule: AuthRegisterAddUser: {
//		when: [{action: "UserAuthentication.register", outputs: {user: "$user"}}]
//		then: [{action: "Library.addUser", inputs: {user: "$user"}}]
//	}
//
// Terms are "$name" (variable), "?$name" (optional variable, when only) or
// any other value (literal). where names a stage from catalog.
func CompileRule(v cue.Value, catalog Catalog) (rule.Rule, error) {
	if err := v.Err(); err != nil {
		return rule.Rule{}, formatCUEError(err)
	}

	rl := rule.Rule{}
	if labels := v.Path().Selectors(); len(labels) > 0 {
		rl.Name = strings.Trim(labels[len(labels)-1].String(), `"`)
	}

	vars := newVars()

	var err error
	if rl.Scope, err = parseScope(v); err != nil {
		return rl, err
	}

	whenVal := v.LookupPath(cue.ParsePath("when"))
	if !whenVal.Exists() {
		return rl, &CompileError{Field: "when", Message: "when clause is required", Pos: v.Pos()}
	}
	if rl.When, err = parsePatterns(whenVal, "when", vars, true); err != nil {
		return rl, err
	}

	if whereVal := v.LookupPath(cue.ParsePath("where")); whereVal.Exists() {
		if rl.Where, err = parseWhere(whereVal, catalog, vars); err != nil {
			return rl, err
		}
	}

	if declVal := v.LookupPath(cue.ParsePath("declares")); declVal.Exists() {
		var names []string
		if err := declVal.Decode(&names); err != nil {
			return rl, &CompileError{Field: "declares", Message: "declares must be a list of variable names", Pos: declVal.Pos()}
		}
		for _, n := range names {
			rl.Declares = append(rl.Declares, vars.Get(strings.TrimPrefix(n, varPrefix)))
		}
	}

	thenVal := v.LookupPath(cue.ParsePath("then"))
	if !thenVal.Exists() {
		return rl, &CompileError{Field: "then", Message: "then clause is required", Pos: v.Pos()}
	}
	if rl.Then, err = parsePatterns(thenVal, "then", vars, false); err != nil {
		return rl, err
	}

	return rl, nil
}

// CompileRules compiles every entry of the top-level rule struct, in source
// order. All compile errors are returned together.
func CompileRules(v cue.Value, catalog Catalog) ([]rule.Rule, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	rulesVal := v.LookupPath(cue.ParsePath("rule"))
	if !rulesVal.Exists() {
		return nil, nil
	}

	iter, err := rulesVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var (
		rules []rule.Rule
		errs  []error
	)
	for iter.Next() {
		rl, err := CompileRule(iter.Value(), catalog)
		if err != nil {
			errs = append(errs, fmt.Errorf("rule %s: %w", iter.Label(), err))
			continue
		}
		rules = append(rules, rl)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return rules, nil
}

// CompileSource compiles rules from CUE source text. filename is used in
// error positions.
func CompileSource(filename string, src []byte, catalog Catalog) ([]rule.Rule, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(src, cue.Filename(filename))
	return CompileRules(v, catalog)
}

func parseScope(v cue.Value) (rule.Scope, error) {
	scopeVal := v.LookupPath(cue.ParsePath("scope"))
	if !scopeVal.Exists() {
		return rule.FlowScope(), nil
	}

	s, err := scopeVal.String()
	if err != nil {
		return rule.Scope{}, formatCUEError(err)
	}
	scope, err := rule.ParseScope(s)
	if err != nil {
		return rule.Scope{}, &CompileError{Field: "scope", Message: err.Error(), Pos: scopeVal.Pos()}
	}
	return scope, nil
}

func parsePatterns(list cue.Value, clause string, vars *Vars, when bool) ([]rule.Pattern, error) {
	if list.IncompleteKind() != cue.ListKind {
		return nil, &CompileError{Field: clause, Message: clause + " must be a list of patterns", Pos: list.Pos()}
	}

	iter, err := list.List()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var out []rule.Pattern
	for i := 0; iter.Next(); i++ {
		field := fmt.Sprintf("%s[%d]", clause, i)
		p, err := parsePattern(iter.Value(), field, vars, when)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil, &CompileError{Field: clause, Message: clause + " needs at least one pattern", Pos: list.Pos()}
	}
	return out, nil
}

func parsePattern(v cue.Value, field string, vars *Vars, when bool) (rule.Pattern, error) {
	var p rule.Pattern

	actionVal := v.LookupPath(cue.ParsePath("action"))
	if !actionVal.Exists() {
		return p, &CompileError{Field: field + ".action", Message: "pattern requires 'action' field", Pos: v.Pos()}
	}
	action, err := actionVal.String()
	if err != nil {
		return p, formatCUEError(err)
	}
	p.Action = ir.ActionRef(action)
	if !p.Action.Valid() {
		return p, &CompileError{
			Field:   field + ".action",
			Message: fmt.Sprintf("invalid action reference %q: must be Concept.action", action),
			Pos:     actionVal.Pos(),
		}
	}

	if outcomeVal := v.LookupPath(cue.ParsePath("outcome")); outcomeVal.Exists() {
		s, err := outcomeVal.String()
		if err != nil {
			return p, formatCUEError(err)
		}
		switch s {
		case "any":
			p.Outcome = rule.Any
		case "success":
			p.Outcome = rule.Success
		case "failure":
			p.Outcome = rule.Failure
		default:
			return p, &CompileError{
				Field:   field + ".outcome",
				Message: fmt.Sprintf("invalid outcome %q, must be \"any\", \"success\" or \"failure\"", s),
				Pos:     outcomeVal.Pos(),
			}
		}
	}

	if p.Inputs, err = parseFields(v.LookupPath(cue.ParsePath("inputs")), field+".inputs", vars, when); err != nil {
		return p, err
	}
	if p.Outputs, err = parseFields(v.LookupPath(cue.ParsePath("outputs")), field+".outputs", vars, when); err != nil {
		return p, err
	}
	return p, nil
}

func parseFields(v cue.Value, field string, vars *Vars, when bool) (rule.Fields, error) {
	if !v.Exists() {
		return nil, nil
	}
	if v.IncompleteKind() != cue.StructKind {
		return nil, &CompileError{Field: field, Message: "must be a struct of field terms", Pos: v.Pos()}
	}

	iter, err := v.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	fs := rule.Fields{}
	for iter.Next() {
		name := iter.Label()
		t, err := parseTerm(iter.Value(), field+"."+name, vars, when)
		if err != nil {
			return nil, err
		}
		fs[name] = t
	}
	return fs, nil
}

func parseTerm(v cue.Value, field string, vars *Vars, when bool) (rule.Term, error) {
	if v.IncompleteKind() == cue.StringKind {
		s, err := v.String()
		if err != nil {
			return rule.Term{}, formatCUEError(err)
		}
		switch {
		case strings.HasPrefix(s, optionalPrefix):
			if !when {
				return rule.Term{}, &CompileError{Field: field, Message: fmt.Sprintf("optional term %q is only allowed in when patterns", s), Pos: v.Pos()}
			}
			return rule.Opt(vars.Get(strings.TrimPrefix(s, optionalPrefix))), nil
		case strings.HasPrefix(s, varPrefix) && len(s) > len(varPrefix):
			return rule.V(vars.Get(strings.TrimPrefix(s, varPrefix))), nil
		}
	}

	lit, err := toIRValue(v, field)
	if err != nil {
		return rule.Term{}, err
	}
	return rule.Lit(lit), nil
}

func parseWhere(v cue.Value, catalog Catalog, vars *Vars) (rule.WhereFunc, error) {
	var names []string
	switch v.IncompleteKind() {
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		names = []string{s}
	case cue.ListKind:
		if err := v.Decode(&names); err != nil {
			return nil, &CompileError{Field: "where", Message: "where must be a stage name or a list of stage names", Pos: v.Pos()}
		}
	default:
		return nil, &CompileError{Field: "where", Message: "where must be a stage name or a list of stage names", Pos: v.Pos()}
	}

	stages := make([]rule.WhereFunc, 0, len(names))
	for _, n := range names {
		build, ok := catalog[n]
		if !ok {
			return nil, &CompileError{
				Field:   "where",
				Message: fmt.Sprintf("unknown where stage %q (known: %s)", n, strings.Join(catalog.names(), ", ")),
				Pos:     v.Pos(),
			}
		}
		stages = append(stages, build(vars))
	}
	if len(stages) == 1 {
		return stages[0], nil
	}
	return rule.Chain(stages...), nil
}

func (c Catalog) names() []string {
	out := make([]string, 0, len(c))
	for n := range c {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// toIRValue converts a concrete CUE value into an IRValue.
func toIRValue(v cue.Value, field string) (ir.IRValue, error) {
	switch v.IncompleteKind() {
	case cue.NullKind:
		return ir.IRNull{}, nil
	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.IRBool(b), nil
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.IRString(s), nil
	case cue.IntKind:
		n, err := v.Int64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.IRInt(n), nil
	case cue.ListKind:
		iter, err := v.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		arr := ir.IRArray{}
		for i := 0; iter.Next(); i++ {
			elem, err := toIRValue(iter.Value(), fmt.Sprintf("%s[%d]", field, i))
			if err != nil {
				return nil, err
			}
			arr = append(arr, elem)
		}
		return arr, nil
	case cue.StructKind:
		iter, err := v.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		obj := ir.IRObject{}
		for iter.Next() {
			name := iter.Label()
			elem, err := toIRValue(iter.Value(), field+"."+name)
			if err != nil {
				return nil, err
			}
			obj[name] = elem
		}
		return obj, nil
	case cue.FloatKind, cue.NumberKind:
		return nil, &CompileError{Field: field, Message: "float literals are forbidden, use int instead", Pos: v.Pos()}
	default:
		return nil, &CompileError{Field: field, Message: fmt.Sprintf("literal must be concrete, got %v", v.IncompleteKind()), Pos: v.Pos()}
	}
}
