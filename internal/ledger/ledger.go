// Package ledger implements the append-only action ledger.
//
// Every action invocation, external or rule-triggered, becomes one immutable
// Entry. The ledger assigns a strictly increasing sequence number at append
// time and indexes entries by action reference so the engine's incremental
// join only scans entries that can fill a pattern.
//
// Thread-safety: all methods are safe for concurrent use. Appends take the
// write lock; scans take the read lock. An entry is assigned its sequence
// number and becomes visible in the same critical section.
package ledger

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/roach88/choreo/internal/ir"
)

// Entry is one recorded action invocation with its result and provenance.
type Entry struct {
	Seq     int64        `json:"seq"`
	ID      string       `json:"id"`
	Flow    string       `json:"flow"`
	Action  ir.ActionRef `json:"action"`
	Inputs  ir.IRObject  `json:"inputs"`
	Outputs ir.IRObject  `json:"outputs"`

	// Rule names the rule whose then stage produced this entry; empty for
	// external invocations.
	Rule string `json:"rule,omitempty"`

	// Trigger is the Seq of the entry that fired Rule.
	Trigger int64 `json:"trigger,omitempty"`
}

// IsError reports whether the entry's outputs are a failure record.
func (e Entry) IsError() bool { return ir.IsError(e.Outputs) }

// Sink receives every appended entry, e.g. a durable store.
type Sink interface {
	WriteEntry(ctx context.Context, e Entry) error
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithSink forwards appended entries to s. Sink failures are logged and do
// not affect the in-memory ledger.
func WithSink(s Sink) Option {
	return func(l *Ledger) { l.sink = s }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// WithStartSeq makes the first appended entry receive start+1.
func WithStartSeq(start int64) Option {
	return func(l *Ledger) { l.seq = start }
}

// WithRetention keeps entries of the last n finished flows (see Retire).
// n <= 0 keeps everything.
func WithRetention(n int) Option {
	return func(l *Ledger) { l.retain = n }
}

// WithPinned marks actions whose entries are never evicted.
func WithPinned(pinned func(ir.ActionRef) bool) Option {
	return func(l *Ledger) { l.pinned = pinned }
}

// Ledger is the in-memory, action-indexed entry log.
type Ledger struct {
	mu       sync.RWMutex
	seq      int64
	entries  []*Entry
	bySeq    map[int64]*Entry
	byAction map[ir.ActionRef][]*Entry

	retain   int
	pinned   func(ir.ActionRef) bool
	finished []string
	isDone   map[string]bool

	sink   Sink
	logger *slog.Logger
}

// New creates an empty ledger.
func New(opts ...Option) *Ledger {
	l := &Ledger{
		bySeq:    make(map[int64]*Entry),
		byAction: make(map[ir.ActionRef][]*Entry),
		isDone:   make(map[string]bool),
		pinned:   func(ir.ActionRef) bool { return false },
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append assigns the next sequence number and content ID to e, records it,
// and returns the stored entry. Appends never fail.
func (l *Ledger) Append(ctx context.Context, e Entry) Entry {
	if e.Inputs == nil {
		e.Inputs = ir.IRObject{}
	}
	if e.Outputs == nil {
		e.Outputs = ir.IRObject{}
	}

	l.mu.Lock()
	l.seq++
	e.Seq = l.seq
	id, err := ir.EntryID(ir.EntryContent{
		Seq:     e.Seq,
		Flow:    e.Flow,
		Action:  e.Action,
		Inputs:  e.Inputs,
		Outputs: e.Outputs,
		Rule:    e.Rule,
		Trigger: e.Trigger,
	})
	if err != nil {
		l.logger.Error("entry id", "seq", e.Seq, "action", e.Action, "error", err)
	}
	e.ID = id

	stored := &e
	l.entries = append(l.entries, stored)
	l.bySeq[e.Seq] = stored
	l.byAction[e.Action] = append(l.byAction[e.Action], stored)
	if l.isDone[e.Flow] {
		l.reopen(e.Flow)
	}
	l.mu.Unlock()

	if l.sink != nil {
		if err := l.sink.WriteEntry(ctx, e); err != nil {
			l.logger.Error("ledger sink write failed",
				"seq", e.Seq,
				"action", e.Action,
				"flow", e.Flow,
				"error", err,
			)
		}
	}
	return e
}

// Scan returns the entries of action with Seq < before that satisfy pred,
// in ledger order. A nil pred accepts everything.
func (l *Ledger) Scan(action ir.ActionRef, before int64, pred func(Entry) bool) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	list := l.byAction[action]
	end := sort.Search(len(list), func(i int) bool { return list[i].Seq >= before })

	var out []Entry
	for _, e := range list[:end] {
		if pred == nil || pred(*e) {
			out = append(out, *e)
		}
	}
	return out
}

// Since returns entries with Seq > seq in ledger order.
func (l *Ledger) Since(seq int64) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	start := sort.Search(len(l.entries), func(i int) bool { return l.entries[i].Seq > seq })
	out := make([]Entry, 0, len(l.entries)-start)
	for _, e := range l.entries[start:] {
		out = append(out, *e)
	}
	return out
}

// Get returns the entry with the given sequence number.
func (l *Ledger) Get(seq int64) (Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	e, ok := l.bySeq[seq]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Flow returns the retained entries of one flow in ledger order.
func (l *Ledger) Flow(flow string) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []Entry
	for _, e := range l.entries {
		if e.Flow == flow {
			out = append(out, *e)
		}
	}
	return out
}

// Len returns the number of retained entries.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// LastSeq returns the most recently assigned sequence number.
func (l *Ledger) LastSeq() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.seq
}
