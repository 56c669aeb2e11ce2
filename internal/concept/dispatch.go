package concept

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/roach88/choreo/internal/ir"
)

// ActionFunc implements one action.
type ActionFunc func(ctx context.Context, args ir.IRObject) ir.IRObject

// QueryFunc implements one query.
type QueryFunc func(ctx context.Context, args ir.IRObject) []ir.IRObject

// Dispatch implements the Concept interface from a table of functions.
// Concepts embed it and register their actions in their constructor.
type Dispatch struct {
	name    string
	sigs    []ir.ActionSig
	actions map[string]ActionFunc
	queries map[string]QueryFunc
}

// NewDispatch creates an empty table for the named concept.
func NewDispatch(name string) Dispatch {
	return Dispatch{
		name:    name,
		actions: make(map[string]ActionFunc),
		queries: make(map[string]QueryFunc),
	}
}

// HandleAction registers an action.
func (d *Dispatch) HandleAction(sig ir.ActionSig, fn ActionFunc) {
	sig.Kind = ir.KindAction
	d.sigs = append(d.sigs, sig)
	d.actions[sig.Name] = fn
}

// HandleQuery registers a query.
func (d *Dispatch) HandleQuery(sig ir.ActionSig, fn QueryFunc) {
	sig.Kind = ir.KindQuery
	d.sigs = append(d.sigs, sig)
	d.queries[sig.Name] = fn
}

// Name implements Concept.
func (d *Dispatch) Name() string { return d.name }

// Signatures implements Concept.
func (d *Dispatch) Signatures() []ir.ActionSig { return d.sigs }

// Invoke implements Concept.
func (d *Dispatch) Invoke(ctx context.Context, action string, args ir.IRObject) ir.IRObject {
	fn, ok := d.actions[action]
	if !ok {
		return ir.ErrorRecord(fmt.Sprintf("Unknown action '%s.%s'.", d.name, action))
	}
	return fn(ctx, args)
}

// Query implements Concept.
func (d *Dispatch) Query(ctx context.Context, query string, args ir.IRObject) []ir.IRObject {
	fn, ok := d.queries[query]
	if !ok {
		return []ir.IRObject{ir.ErrorRecord(fmt.Sprintf("Unknown query '%s.%s'.", d.name, query))}
	}
	return fn(ctx, args)
}

// IDGenerator produces identifiers for concept-owned entities.
type IDGenerator interface {
	NewID() string
}

// UUIDs generates random UUIDv4 identifiers.
type UUIDs struct{}

// NewID implements IDGenerator.
func (UUIDs) NewID() string { return uuid.NewString() }
