package testutil

import (
	"context"
	"sync"

	"github.com/roach88/choreo/internal/ir"
)

// Call is one recorded invocation.
type Call struct {
	Action string
	Args   ir.IRObject
}

// Recorder is a scriptable concept for engine tests. Every action returns the
// result of its handler (or an empty success record) and is recorded.
//
// Thread-safety: safe for concurrent use.
type Recorder struct {
	name string

	mu       sync.Mutex
	sigs     []ir.ActionSig
	handlers map[string]func(ir.IRObject) ir.IRObject
	queries  map[string]func(ir.IRObject) []ir.IRObject
	calls    []Call
}

// NewRecorder creates a recorder concept with the given name.
func NewRecorder(name string) *Recorder {
	return &Recorder{
		name:     name,
		handlers: make(map[string]func(ir.IRObject) ir.IRObject),
		queries:  make(map[string]func(ir.IRObject) []ir.IRObject),
	}
}

// On registers an action handler.
func (r *Recorder) On(action string, fn func(args ir.IRObject) ir.IRObject) *Recorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sigs = append(r.sigs, ir.Action(action, nil, nil))
	r.handlers[action] = fn
	return r
}

// Returns registers an action that always returns rec.
func (r *Recorder) Returns(action string, rec ir.IRObject) *Recorder {
	return r.On(action, func(ir.IRObject) ir.IRObject { return rec.Clone() })
}

// Echo registers an action that returns its arguments.
func (r *Recorder) Echo(action string) *Recorder {
	return r.On(action, func(args ir.IRObject) ir.IRObject { return args.Clone() })
}

// OnQuery registers a query handler.
func (r *Recorder) OnQuery(query string, fn func(args ir.IRObject) []ir.IRObject) *Recorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sigs = append(r.sigs, ir.Query(query, nil, nil))
	r.queries[query] = fn
	return r
}

// Name implements concept.Concept.
func (r *Recorder) Name() string { return r.name }

// Signatures implements concept.Concept.
func (r *Recorder) Signatures() []ir.ActionSig {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ir.ActionSig(nil), r.sigs...)
}

// Invoke implements concept.Concept.
func (r *Recorder) Invoke(_ context.Context, action string, args ir.IRObject) ir.IRObject {
	r.mu.Lock()
	r.calls = append(r.calls, Call{Action: action, Args: args})
	fn := r.handlers[action]
	r.mu.Unlock()

	if fn == nil {
		return ir.IRObject{}
	}
	return fn(args)
}

// Query implements concept.Concept.
func (r *Recorder) Query(_ context.Context, query string, args ir.IRObject) []ir.IRObject {
	r.mu.Lock()
	fn := r.queries[query]
	r.mu.Unlock()

	if fn == nil {
		return nil
	}
	return fn(args)
}

// Calls returns a copy of every recorded invocation in order.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// CallsTo returns the recorded invocations of one action.
func (r *Recorder) CallsTo(action string) []Call {
	var out []Call
	for _, c := range r.Calls() {
		if c.Action == action {
			out = append(out, c)
		}
	}
	return out
}
