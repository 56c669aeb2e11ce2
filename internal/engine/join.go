package engine

import (
	"slices"
	"strconv"
	"strings"

	"github.com/roach88/choreo/internal/frame"
	"github.com/roach88/choreo/internal/ir"
	"github.com/roach88/choreo/internal/ledger"
	"github.com/roach88/choreo/internal/rule"
)

// match is one complete when assignment: the bindings and the seq of the
// entry filling each slot, in slot order.
type match struct {
	frame frame.Frame
	seqs  []int64
}

// uses reports whether the entry with seq already fills a slot of m.
func (m match) uses(seq int64) bool { return slices.Contains(m.seqs, seq) }

// key identifies the assignment, e.g. "7,3" for a two-slot rule.
func (m match) key() string {
	parts := make([]string, len(m.seqs))
	for i, s := range m.seqs {
		parts[i] = strconv.FormatInt(s, 10)
	}
	return strings.Join(parts, ",")
}

// join computes every assignment in which trigger fills slot and each other
// when pattern is filled by a distinct earlier entry in scope.
//
// Matches are ordered by slot, then by ledger order within a slot, so the
// result is deterministic for a given ledger.
func (e *Engine) join(slot rule.Slot, trigger ledger.Entry) []match {
	rl := slot.Rule
	first, ok := rl.When[slot.Index].Match(frame.Empty, trigger.Inputs, trigger.Outputs)
	if !ok {
		return nil
	}

	seqs := make([]int64, len(rl.When))
	seqs[slot.Index] = trigger.Seq
	matches := []match{{frame: first, seqs: seqs}}
	for i, p := range rl.When {
		if i == slot.Index {
			continue
		}

		candidates := e.ledger.Scan(p.Action, trigger.Seq, func(c ledger.Entry) bool {
			return inScope(rl.Scope, trigger, c) && p.MatchLiterals(c.Inputs, c.Outputs)
		})
		if len(candidates) == 0 {
			return nil
		}

		var next []match
		for _, m := range matches {
			for _, c := range candidates {
				if m.uses(c.Seq) {
					continue
				}
				if nf, ok := p.Match(m.frame, c.Inputs, c.Outputs); ok {
					filled := slices.Clone(m.seqs)
					filled[i] = c.Seq
					next = append(next, match{frame: nf, seqs: filled})
				}
			}
		}
		if len(next) == 0 {
			return nil
		}
		matches = next
	}
	return matches
}

// inScope reports whether candidate may join with trigger under scope.
func inScope(scope rule.Scope, trigger, candidate ledger.Entry) bool {
	switch scope.Mode {
	case rule.ScopeModeGlobal:
		return true
	case rule.ScopeModeKeyed:
		want, ok := trigger.Inputs[scope.Key]
		if !ok {
			return false
		}
		got, ok := candidate.Inputs[scope.Key]
		return ok && ir.Equal(want, got)
	default:
		return trigger.Flow == candidate.Flow
	}
}
