package rule

import (
	"fmt"

	"github.com/roach88/choreo/internal/frame"
	"github.com/roach88/choreo/internal/ir"
)

type termKind int

const (
	termVar termKind = iota
	termOpt
	termLit
)

// Term is one field constraint of a pattern: a variable, an optional
// variable, or a literal.
type Term struct {
	kind termKind
	v    frame.Var
	lit  ir.IRValue
}

// V matches any value and binds it to v. The field must be present.
func V(v frame.Var) Term { return Term{kind: termVar, v: v} }

// Opt binds v to the field value, or to null when the field is absent.
// Only valid in when patterns.
func Opt(v frame.Var) Term { return Term{kind: termOpt, v: v} }

// Lit matches only the given value.
func Lit(val ir.IRValue) Term { return Term{kind: termLit, lit: val} }

// Str is shorthand for Lit(ir.IRString(s)).
func Str(s string) Term { return Lit(ir.IRString(s)) }

// Var returns the variable of a variable term.
func (t Term) Var() (frame.Var, bool) {
	return t.v, t.kind != termLit
}

// Literal returns the value of a literal term.
func (t Term) Literal() (ir.IRValue, bool) {
	return t.lit, t.kind == termLit
}

// IsOptional reports whether t was built with Opt.
func (t Term) IsOptional() bool { return t.kind == termOpt }

func (t Term) String() string {
	switch t.kind {
	case termVar:
		return "$" + t.v.Name()
	case termOpt:
		return "?$" + t.v.Name()
	default:
		b, err := ir.MarshalIRValue(t.lit)
		if err != nil {
			return fmt.Sprintf("%v", t.lit)
		}
		return string(b)
	}
}

// Fields maps record field names to terms.
type Fields map[string]Term

// vars returns the variables referenced by fs.
func (fs Fields) vars() []frame.Var {
	var out []frame.Var
	for _, k := range sortedFieldNames(fs) {
		if v, ok := fs[k].Var(); ok {
			out = append(out, v)
		}
	}
	return out
}

func sortedFieldNames(fs Fields) []string {
	obj := make(ir.IRObject, len(fs))
	for k := range fs {
		obj[k] = ir.IRNull{}
	}
	return obj.SortedKeys()
}
