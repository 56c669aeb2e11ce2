// Package concept defines the module interface every concept implements and
// the registry that routes action references to concepts.
//
// A concept owns its state and exposes actions (state changing, recorded in
// the ledger) and queries (side-effect free, used by where stages). Every
// action returns exactly one record: a success record, or the failure record
// {error: message}. Failures are data, never Go errors. Go errors from this
// package signal host faults: unknown actions, contract violations, panics.
package concept

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"slices"

	"github.com/roach88/choreo/internal/ir"
)

// Concept is a self-contained module of state and behavior.
type Concept interface {
	Name() string
	Signatures() []ir.ActionSig
	Invoke(ctx context.Context, action string, args ir.IRObject) ir.IRObject
	Query(ctx context.Context, query string, args ir.IRObject) []ir.IRObject
}

var (
	// ErrUnknownAction is returned for references no concept exposes.
	ErrUnknownAction = errors.New("unknown action")

	// ErrContractViolation is returned when a record carries error plus
	// other fields, or an action is called as a query (or vice versa).
	ErrContractViolation = errors.New("concept contract violation")
)

// PanicError wraps a panic recovered from concept code.
type PanicError struct {
	Action ir.ActionRef
	Value  any
	Stack  []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic in %s: %v", e.Action, e.Value)
}

// Registry is the immutable set of concepts of an application.
//
// Thread-safety: read-only after NewRegistry. Concepts serialize access to
// their own state.
type Registry struct {
	concepts map[string]Concept
	order    []string
	sigs     map[ir.ActionRef]ir.ActionSig
}

// NewRegistry indexes concepts by name and validates their signatures.
func NewRegistry(concepts ...Concept) (*Registry, error) {
	r := &Registry{
		concepts: make(map[string]Concept, len(concepts)),
		sigs:     make(map[ir.ActionRef]ir.ActionSig),
	}
	for _, c := range concepts {
		name := c.Name()
		if name == "" {
			return nil, fmt.Errorf("concept with empty name")
		}
		if _, dup := r.concepts[name]; dup {
			return nil, fmt.Errorf("duplicate concept %q", name)
		}
		r.concepts[name] = c
		r.order = append(r.order, name)

		for _, sig := range c.Signatures() {
			if errs := sig.Validate(); len(errs) > 0 {
				return nil, fmt.Errorf("concept %s: signature %q: %w", name, sig.Name, errors.Join(asErrors(errs)...))
			}
			ref := ir.NewActionRef(name, sig.Name)
			if _, dup := r.sigs[ref]; dup {
				return nil, fmt.Errorf("concept %s: duplicate signature %q", name, sig.Name)
			}
			r.sigs[ref] = sig
		}
	}
	return r, nil
}

func asErrors(errs []ir.ValidationError) []error {
	out := make([]error, len(errs))
	for i, e := range errs {
		out[i] = e
	}
	return out
}

// Concept returns a concept by name.
func (r *Registry) Concept(name string) (Concept, bool) {
	c, ok := r.concepts[name]
	return c, ok
}

// Names returns concept names in registration order.
func (r *Registry) Names() []string { return slices.Clone(r.order) }

// Signatures returns every action and query signature keyed by reference.
func (r *Registry) Signatures() map[ir.ActionRef]ir.ActionSig {
	out := make(map[ir.ActionRef]ir.ActionSig, len(r.sigs))
	for k, v := range r.sigs {
		out[k] = v
	}
	return out
}

// Lookup returns the signature for ref.
func (r *Registry) Lookup(ref ir.ActionRef) (ir.ActionSig, bool) {
	sig, ok := r.sigs[ref]
	return sig, ok
}

// Invoke calls an action and returns its record.
func (r *Registry) Invoke(ctx context.Context, ref ir.ActionRef, args ir.IRObject) (out ir.IRObject, err error) {
	c, err := r.resolve(ref, ir.KindAction)
	if err != nil {
		return nil, err
	}
	defer recoverInto(ref, &err)

	out = c.Invoke(ctx, ref.Name(), orEmpty(args))
	if out == nil {
		out = ir.IRObject{}
	}
	if verr := ir.ValidateResult(out); verr != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrContractViolation, ref, verr)
	}
	return out, nil
}

// Query runs a query. A nil result is normalized to an empty slice.
func (r *Registry) Query(ctx context.Context, ref ir.ActionRef, args ir.IRObject) (out []ir.IRObject, err error) {
	c, err := r.resolve(ref, ir.KindQuery)
	if err != nil {
		return nil, err
	}
	defer recoverInto(ref, &err)

	out = c.Query(ctx, ref.Name(), orEmpty(args))
	if out == nil {
		out = []ir.IRObject{}
	}
	return out, nil
}

func (r *Registry) resolve(ref ir.ActionRef, kind ir.SigKind) (Concept, error) {
	c, ok := r.concepts[ref.Concept()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAction, ref)
	}
	sig, ok := r.sigs[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAction, ref)
	}
	if sig.Kind != kind {
		return nil, fmt.Errorf("%w: %s is a %s, not a %s", ErrContractViolation, ref, sig.Kind, kind)
	}
	return c, nil
}

func recoverInto(ref ir.ActionRef, err *error) {
	if p := recover(); p != nil {
		*err = &PanicError{Action: ref, Value: p, Stack: debug.Stack()}
	}
}

func orEmpty(obj ir.IRObject) ir.IRObject {
	if obj == nil {
		return ir.IRObject{}
	}
	return obj
}
