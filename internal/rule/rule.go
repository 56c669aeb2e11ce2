package rule

import (
	"context"

	"github.com/roach88/choreo/internal/frame"
	"github.com/roach88/choreo/internal/ir"
)

// Querier runs side-effect-free concept queries from where stages.
type Querier interface {
	Query(ctx context.Context, query ir.ActionRef, args ir.IRObject) ([]ir.IRObject, error)
}

// WhereFunc transforms one frame into zero, one, or many frames.
// Returning zero frames drops the frame; an error is a fault that drops the
// frame and is logged by the engine.
type WhereFunc func(ctx context.Context, q Querier, f frame.Frame) ([]frame.Frame, error)

// Rule is a synchronization: when the When patterns jointly match entries of
// the ledger, run Where per frame, then invoke Then per surviving frame.
type Rule struct {
	Name  string
	Scope Scope
	When  []Pattern
	Where WhereFunc

	// Declares lists the variables the where stage binds.
	Declares []frame.Var

	Then []Pattern
}

// Chain composes where stages left to right. Each stage runs on every frame
// produced by the previous one.
func Chain(stages ...WhereFunc) WhereFunc {
	return func(ctx context.Context, q Querier, f frame.Frame) ([]frame.Frame, error) {
		frames := []frame.Frame{f}
		for _, stage := range stages {
			var next []frame.Frame
			for _, cur := range frames {
				out, err := stage(ctx, q, cur)
				if err != nil {
					return nil, err
				}
				next = append(next, out...)
			}
			frames = next
		}
		return frames, nil
	}
}
