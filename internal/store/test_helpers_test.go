package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/roach88/choreo/internal/ir"
	"github.com/roach88/choreo/internal/ledger"
)

// createTestStore opens a fresh store in a temporary directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestEntry builds an entry with a correct content ID.
func createTestEntry(seq int64, flow, action string, inputs, outputs ir.IRObject) ledger.Entry {
	if inputs == nil {
		inputs = ir.IRObject{}
	}
	if outputs == nil {
		outputs = ir.IRObject{}
	}
	e := ledger.Entry{
		Seq:     seq,
		Flow:    flow,
		Action:  ir.ActionRef(action),
		Inputs:  inputs,
		Outputs: outputs,
	}
	e.ID = entryID(e)
	return e
}

// triggered marks e as produced by rule firing on trigger.
func triggered(e ledger.Entry, rule string, trigger int64) ledger.Entry {
	e.Rule, e.Trigger = rule, trigger
	e.ID = entryID(e)
	return e
}

func entryID(e ledger.Entry) string {
	return ir.MustEntryID(ir.EntryContent{
		Seq:     e.Seq,
		Flow:    e.Flow,
		Action:  e.Action,
		Inputs:  e.Inputs,
		Outputs: e.Outputs,
		Rule:    e.Rule,
		Trigger: e.Trigger,
	})
}

func mustWrite(t *testing.T, s *Store, entries ...ledger.Entry) {
	t.Helper()
	for _, e := range entries {
		if err := s.WriteEntry(context.Background(), e); err != nil {
			t.Fatalf("WriteEntry(%d) failed: %v", e.Seq, err)
		}
	}
}
