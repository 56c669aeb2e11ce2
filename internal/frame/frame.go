// Package frame provides rule variables and the immutable binding frames
// produced by the join.
//
// A Frame is an ordered association list from Var to ir.IRValue. Frames are
// never mutated in place: Bind and With return new frames, so a frame can be
// shared between sibling branches of the join without copying.
package frame

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/roach88/choreo/internal/ir"
)

var varSeq atomic.Uint64

// Var is an opaque rule variable. Two variables are the same only if they
// were created by the same NewVar call; the name is for display.
type Var struct {
	id   uint64
	name string
}

// NewVar creates a globally unique variable.
func NewVar(name string) Var {
	return Var{id: varSeq.Add(1), name: name}
}

// Vars creates one variable per name, keyed by name.
func Vars(names ...string) map[string]Var {
	out := make(map[string]Var, len(names))
	for _, n := range names {
		out[n] = NewVar(n)
	}
	return out
}

// Name returns the display name.
func (v Var) Name() string { return v.name }

// IsZero reports whether v was never created.
func (v Var) IsZero() bool { return v.id == 0 }

func (v Var) String() string { return fmt.Sprintf("%s#%d", v.name, v.id) }

type binding struct {
	v   Var
	val ir.IRValue
}

// Frame is an immutable set of variable bindings.
type Frame struct {
	b []binding
}

// Empty is the frame with no bindings.
var Empty = Frame{}

// Len returns the number of bound variables.
func (f Frame) Len() int { return len(f.b) }

// Get returns the value bound to v.
func (f Frame) Get(v Var) (ir.IRValue, bool) {
	for _, b := range f.b {
		if b.v.id == v.id {
			return b.val, true
		}
	}
	return nil, false
}

// Has reports whether v is bound.
func (f Frame) Has(v Var) bool {
	_, ok := f.Get(v)
	return ok
}

// Bind binds v to val. If v is already bound, the frame is returned unchanged
// when the values are equal and ok is false when they differ.
func (f Frame) Bind(v Var, val ir.IRValue) (Frame, bool) {
	if cur, ok := f.Get(v); ok {
		return f, ir.Equal(cur, val)
	}
	return f.append(v, val), true
}

// With binds v to val, overriding any previous binding.
func (f Frame) With(v Var, val ir.IRValue) Frame {
	for i, b := range f.b {
		if b.v.id == v.id {
			nb := make([]binding, len(f.b))
			copy(nb, f.b)
			nb[i].val = val
			return Frame{b: nb}
		}
	}
	return f.append(v, val)
}

func (f Frame) append(v Var, val ir.IRValue) Frame {
	nb := make([]binding, len(f.b), len(f.b)+1)
	copy(nb, f.b)
	return Frame{b: append(nb, binding{v: v, val: val})}
}

// Vars returns the bound variables in binding order.
func (f Frame) Vars() []Var {
	out := make([]Var, len(f.b))
	for i, b := range f.b {
		out[i] = b.v
	}
	return out
}

// Object renders the frame as an object keyed by "name#id". Keys are unique
// per variable so the result is a faithful basis for the binding hash.
func (f Frame) Object() ir.IRObject {
	obj := make(ir.IRObject, len(f.b))
	for _, b := range f.b {
		obj[b.v.String()] = b.val
	}
	return obj
}

// Display renders the frame keyed by variable name only, for logs and traces.
func (f Frame) Display() ir.IRObject {
	obj := make(ir.IRObject, len(f.b))
	for _, b := range f.b {
		obj[b.v.name] = b.val
	}
	return obj
}

func (f Frame) String() string {
	parts := make([]string, len(f.b))
	for i, b := range f.b {
		val, err := ir.MarshalIRValue(b.val)
		if err != nil {
			val = []byte("?")
		}
		parts[i] = b.v.name + "=" + string(val)
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// Set is an ordered collection of frames.
type Set []Frame
