package ledger

import (
	"slices"

	"github.com/roach88/choreo/internal/ir"
)

// Retire marks a flow as finished. When more than the configured number of
// flows are finished, the unpinned entries of the oldest one are evicted.
// Without a retention limit Retire is a no-op.
func (l *Ledger) Retire(flow string) {
	if l.retain <= 0 {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.isDone[flow] {
		return
	}
	l.isDone[flow] = true
	l.finished = append(l.finished, flow)

	for len(l.finished) > l.retain {
		oldest := l.finished[0]
		l.finished = l.finished[1:]
		delete(l.isDone, oldest)
		l.evict(oldest)
	}
}

// reopen removes flow from the finished list; new entries arrived for it.
// Caller holds the write lock.
func (l *Ledger) reopen(flow string) {
	delete(l.isDone, flow)
	l.finished = slices.DeleteFunc(l.finished, func(f string) bool { return f == flow })
}

// evict drops every unpinned entry of flow. Caller holds the write lock.
func (l *Ledger) evict(flow string) {
	drop := func(e *Entry) bool {
		return e.Flow == flow && !l.pinned(e.Action)
	}

	touched := make(map[ir.ActionRef]bool)
	l.entries = slices.DeleteFunc(l.entries, func(e *Entry) bool {
		if drop(e) {
			delete(l.bySeq, e.Seq)
			touched[e.Action] = true
			return true
		}
		return false
	})
	for action := range touched {
		list := slices.DeleteFunc(l.byAction[action], drop)
		if len(list) == 0 {
			delete(l.byAction, action)
		} else {
			l.byAction[action] = list
		}
	}
}
