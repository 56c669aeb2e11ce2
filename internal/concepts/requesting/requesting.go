// Package requesting implements the Requesting concept, the boundary between
// an external transport and the rule engine.
//
// An incoming call becomes a request action whose handle is returned to the
// transport. Rules answer it by invoking respond with the handle; the
// transport collects the answer with Await. Each handle is answered at most
// once.
//
// An answer waits for Await in a bounded buffer; when the buffer is full the
// oldest uncollected answer is dropped. Requests raised without a transport
// (scenario runs, the invoke command) never leave state behind.
package requesting

import (
	"context"
	"errors"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/roach88/choreo/internal/concept"
	"github.com/roach88/choreo/internal/ir"
)

// Name is the concept name used in action references.
const Name = "Requesting"

// Action references of the concept.
var (
	Request = ir.NewActionRef(Name, "request")
	Respond = ir.NewActionRef(Name, "respond")
	Expire  = ir.NewActionRef(Name, "expire")
)

// Field names with fixed meaning in request and respond records.
const (
	FieldPath    = "path"
	FieldRequest = "request"
)

// ErrUnknownRequest is returned by Await for handles that do not exist or
// were already collected.
var ErrUnknownRequest = errors.New("unknown request")

// DefaultAnswerBuffer is the number of uncollected answers kept for Await.
const DefaultAnswerBuffer = 1024

type pending struct {
	answer chan ir.IRObject
}

// Concept is the Requesting concept.
//
// Thread-safety: safe for concurrent use via internal mutex.
type Concept struct {
	concept.Dispatch

	ids          concept.IDGenerator
	answerBuffer int

	mu      sync.Mutex
	pending map[string]*pending // open, not yet answered
	answers *lru.Cache[string, ir.IRObject]
}

// Option configures the concept.
type Option func(*Concept)

// WithIDs sets the request handle generator. Default: random UUIDs.
func WithIDs(g concept.IDGenerator) Option {
	return func(c *Concept) { c.ids = g }
}

// WithAnswerBuffer sets how many answered but uncollected requests are kept.
// Default: DefaultAnswerBuffer.
func WithAnswerBuffer(n int) Option {
	return func(c *Concept) { c.answerBuffer = n }
}

// New creates a Requesting concept with no open requests.
func New(opts ...Option) *Concept {
	c := &Concept{
		Dispatch:     concept.NewDispatch(Name),
		ids:          concept.UUIDs{},
		answerBuffer: DefaultAnswerBuffer,
		pending:      make(map[string]*pending),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.answerBuffer <= 0 {
		c.answerBuffer = DefaultAnswerBuffer
	}
	answers, err := lru.New[string, ir.IRObject](c.answerBuffer)
	if err != nil {
		panic(err) // size is positive
	}
	c.answers = answers

	out := map[string]string{FieldRequest: "string"}
	c.HandleAction(ir.Action("request", ir.Args(FieldPath), out), c.request)
	c.HandleAction(ir.Action("respond", ir.Args(FieldRequest), out), c.respond)
	c.HandleAction(ir.Action("expire", ir.Args(FieldRequest), out), c.expire)
	return c
}

func (c *Concept) request(_ context.Context, args ir.IRObject) ir.IRObject {
	if path, _ := args.String(FieldPath); path == "" {
		return ir.ErrorRecord("Request path is required.")
	}

	handle := c.ids.NewID()
	c.mu.Lock()
	c.pending[handle] = &pending{answer: make(chan ir.IRObject, 1)}
	c.mu.Unlock()
	return ir.Obj(ir.O(FieldRequest, ir.IRString(handle)))
}

func (c *Concept) respond(_ context.Context, args ir.IRObject) ir.IRObject {
	handle, _ := args.String(FieldRequest)

	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[handle]
	if !ok {
		return c.closed(handle)
	}

	payload := args.Clone()
	delete(payload, FieldRequest)
	delete(c.pending, handle)
	c.answers.Add(handle, payload)
	p.answer <- payload
	return ir.Obj(ir.O(FieldRequest, ir.IRString(handle)))
}

func (c *Concept) expire(_ context.Context, args ir.IRObject) ir.IRObject {
	handle, _ := args.String(FieldRequest)

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pending[handle]; !ok {
		return c.closed(handle)
	}
	delete(c.pending, handle)
	return ir.Obj(ir.O(FieldRequest, ir.IRString(handle)))
}

// closed explains why handle is not open. Callers hold c.mu.
func (c *Concept) closed(handle string) ir.IRObject {
	if c.answers.Contains(handle) {
		return ir.ErrorRecordf("Request '%s' was already answered.", handle)
	}
	return ir.ErrorRecordf("Request '%s' does not exist.", handle)
}

// Await blocks until the request is answered or ctx is done, and returns the
// response payload (the respond record without the handle). A collected
// handle is forgotten, so a later respond yields an error record.
func (c *Concept) Await(ctx context.Context, handle string) (ir.IRObject, error) {
	c.mu.Lock()
	if payload, ok := c.answers.Peek(handle); ok {
		c.answers.Remove(handle)
		c.mu.Unlock()
		return payload, nil
	}
	p, ok := c.pending[handle]
	c.mu.Unlock()
	if !ok {
		return nil, ErrUnknownRequest
	}

	select {
	case payload := <-p.answer:
		c.mu.Lock()
		c.answers.Remove(handle)
		c.mu.Unlock()
		return payload, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Pending returns the number of open requests, not counting answers waiting
// to be collected.
func (c *Concept) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
