package store

import (
	"context"
	"fmt"

	"github.com/roach88/choreo/internal/ir"
	"github.com/roach88/choreo/internal/ledger"
)

// WriteEntry archives a ledger entry. Writing an entry whose ID is already
// stored is a no-op; a different entry reusing a stored seq is an error.
func (s *Store) WriteEntry(ctx context.Context, e ledger.Entry) error {
	inputs, err := marshalObject(e.Inputs)
	if err != nil {
		return fmt.Errorf("write entry %d: %w", e.Seq, err)
	}
	outputs, err := marshalObject(e.Outputs)
	if err != nil {
		return fmt.Errorf("write entry %d: %w", e.Seq, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO entries (seq, id, flow, action, inputs, outputs, failed, rule, trigger_seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		e.Seq,
		e.ID,
		e.Flow,
		string(e.Action),
		inputs,
		outputs,
		ir.IsError(e.Outputs),
		e.Rule,
		e.Trigger,
	)
	if err != nil {
		return fmt.Errorf("write entry %d: %w", e.Seq, err)
	}
	return nil
}

// WriteFiring records a rule firing. A firing is identified by its rule,
// the entries it matched and its bindings; a repeated write is a no-op.
func (s *Store) WriteFiring(ctx context.Context, f ir.RuleFiring) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rule_firings (flow, rule, matched, binding_hash, trigger_seq)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(flow, rule, matched, binding_hash) DO NOTHING
	`, f.Flow, f.Rule, f.Matched, f.BindingHash, f.TriggerSeq)
	if err != nil {
		return fmt.Errorf("write firing %s: %w", f.Rule, err)
	}
	return nil
}
