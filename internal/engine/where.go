package engine

import (
	"context"
	"fmt"

	"github.com/roach88/choreo/internal/frame"
	"github.com/roach88/choreo/internal/ledger"
	"github.com/roach88/choreo/internal/rule"
)

// where runs the rule's where stage on every match. A failing frame is
// dropped and reported; its siblings are unaffected. Frames split from one
// match keep that match's slot entries.
func (e *Engine) where(ctx context.Context, rl *rule.Rule, trigger ledger.Entry, matches []match) []match {
	if rl.Where == nil {
		return matches
	}

	var out []match
	for _, m := range matches {
		res, err := runWhere(ctx, rl.Where, e.concepts, m.frame)
		if err != nil {
			e.report(newRuntimeError(ErrCodeWhereFault, trigger.Flow, rl.Name, err))
			continue
		}
		for _, f := range res {
			out = append(out, match{frame: f, seqs: m.seqs})
		}
	}
	return out
}

func runWhere(ctx context.Context, fn rule.WhereFunc, q rule.Querier, f frame.Frame) (out []frame.Frame, err error) {
	defer func() {
		if p := recover(); p != nil {
			out, err = nil, fmt.Errorf("where stage panicked: %v", p)
		}
	}()
	return fn(ctx, q, f)
}
