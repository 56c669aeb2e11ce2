package engine

import (
	"context"

	"github.com/roach88/choreo/internal/ir"
	"github.com/roach88/choreo/internal/ledger"
)

// Observer receives evaluation events, e.g. for metrics.
// Implementations must be safe for concurrent use.
type Observer interface {
	// Appended is called for every ledger entry.
	Appended(e ledger.Entry)

	// Fired is called when a rule's then stage starts for one frame.
	Fired(rule string)

	// Refused is called when a frame is skipped or abandoned.
	Refused(rule string, code RuntimeErrorCode)
}

// FiringSink persists rule firings, e.g. a durable store.
type FiringSink interface {
	WriteFiring(ctx context.Context, f ir.RuleFiring) error
}

type noopObserver struct{}

func (noopObserver) Appended(ledger.Entry)            {}
func (noopObserver) Fired(string)                     {}
func (noopObserver) Refused(string, RuntimeErrorCode) {}
