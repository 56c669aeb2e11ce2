package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/choreo/internal/ir"
	"github.com/roach88/choreo/internal/ledger"
)

const entryColumns = "seq, id, flow, action, inputs, outputs, rule, trigger_seq"

// ReadFlow returns the entries of flow ordered by seq.
// Returns an empty slice (not nil) if the flow has no entries.
func (s *Store) ReadFlow(ctx context.Context, flow string) ([]ledger.Entry, error) {
	return s.readEntries(ctx, `
		SELECT `+entryColumns+`
		FROM entries
		WHERE flow = ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, flow)
}

// ReadAll returns every stored entry ordered by seq.
func (s *Store) ReadAll(ctx context.Context) ([]ledger.Entry, error) {
	return s.readEntries(ctx, `
		SELECT `+entryColumns+`
		FROM entries
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`)
}

// ReadFailures returns the entries whose outputs are failure records.
func (s *Store) ReadFailures(ctx context.Context) ([]ledger.Entry, error) {
	return s.readEntries(ctx, `
		SELECT `+entryColumns+`
		FROM entries
		WHERE failed = 1
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`)
}

// ReadTriggered returns the entries produced by rules that fired on the
// entry with the given seq.
func (s *Store) ReadTriggered(ctx context.Context, seq int64) ([]ledger.Entry, error) {
	return s.readEntries(ctx, `
		SELECT `+entryColumns+`
		FROM entries
		WHERE trigger_seq = ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, seq)
}

// ReadEntry returns the entry with the given seq, or ErrNotFound.
func (s *Store) ReadEntry(ctx context.Context, seq int64) (ledger.Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM entries WHERE seq = ?`, seq)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Entry{}, fmt.Errorf("entry %d: %w", seq, ErrNotFound)
	}
	return e, err
}

// ReadFirings returns the rule firings of flow in the order they happened.
func (s *Store) ReadFirings(ctx context.Context, flow string) ([]ir.RuleFiring, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT flow, rule, matched, binding_hash, trigger_seq
		FROM rule_firings
		WHERE flow = ?
		ORDER BY id ASC
	`, flow)
	if err != nil {
		return nil, fmt.Errorf("query firings: %w", err)
	}
	defer rows.Close()

	firings := []ir.RuleFiring{}
	for rows.Next() {
		var f ir.RuleFiring
		if err := rows.Scan(&f.Flow, &f.Rule, &f.Matched, &f.BindingHash, &f.TriggerSeq); err != nil {
			return nil, fmt.Errorf("scan firing: %w", err)
		}
		firings = append(firings, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate firings: %w", err)
	}
	return firings, nil
}

// ListFlows returns every flow token, ordered by the seq of its first entry.
func (s *Store) ListFlows(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT flow
		FROM entries
		GROUP BY flow
		ORDER BY MIN(seq) ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query flows: %w", err)
	}
	defer rows.Close()

	flows := []string{}
	for rows.Next() {
		var flow string
		if err := rows.Scan(&flow); err != nil {
			return nil, fmt.Errorf("scan flow: %w", err)
		}
		flows = append(flows, flow)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate flows: %w", err)
	}
	return flows, nil
}

// LastSeq returns the highest stored seq, or 0 for an empty store. A ledger
// created with ledger.WithStartSeq(LastSeq) continues the sequence.
func (s *Store) LastSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, "SELECT MAX(seq) FROM entries").Scan(&seq); err != nil {
		return 0, fmt.Errorf("last seq: %w", err)
	}
	return seq.Int64, nil
}

func (s *Store) readEntries(ctx context.Context, query string, args ...any) ([]ledger.Entry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	entries := []ledger.Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return entries, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (ledger.Entry, error) {
	var e ledger.Entry
	var action, inputs, outputs string
	if err := row.Scan(&e.Seq, &e.ID, &e.Flow, &action, &inputs, &outputs, &e.Rule, &e.Trigger); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return e, err
		}
		return e, fmt.Errorf("scan entry: %w", err)
	}
	e.Action = ir.ActionRef(action)

	var err error
	if e.Inputs, err = unmarshalObject(inputs); err != nil {
		return e, fmt.Errorf("entry %d inputs: %w", e.Seq, err)
	}
	if e.Outputs, err = unmarshalObject(outputs); err != nil {
		return e, fmt.Errorf("entry %d outputs: %w", e.Seq, err)
	}
	return e, nil
}
