package store

import (
	"context"
	"fmt"

	"github.com/roach88/choreo/internal/concepts/requesting"
	"github.com/roach88/choreo/internal/ir"
	"github.com/roach88/choreo/internal/ledger"
)

// FlowState summarizes a stored flow.
type FlowState struct {
	Flow    string
	Entries []ledger.Entry
	Firings []ir.RuleFiring
	LastSeq int64

	// Unanswered lists request handles with neither a respond nor an
	// expire entry.
	Unanswered []string

	// Tampered lists the seqs whose stored ID does not match their content.
	Tampered []int64
}

// Complete reports whether every request of the flow was closed.
func (s FlowState) Complete() bool { return len(s.Unanswered) == 0 }

// GetFlowState reads a flow and analyzes it.
func (s *Store) GetFlowState(ctx context.Context, flow string) (FlowState, error) {
	state := FlowState{Flow: flow}

	entries, err := s.ReadFlow(ctx, flow)
	if err != nil {
		return state, fmt.Errorf("get flow state: %w", err)
	}
	state.Entries = entries

	firings, err := s.ReadFirings(ctx, flow)
	if err != nil {
		return state, fmt.Errorf("get flow state: %w", err)
	}
	state.Firings = firings

	closed := make(map[string]bool)
	var opened []string
	for _, e := range entries {
		if e.Seq > state.LastSeq {
			state.LastSeq = e.Seq
		}

		id, err := ir.EntryID(ir.EntryContent{
			Seq:     e.Seq,
			Flow:    e.Flow,
			Action:  e.Action,
			Inputs:  e.Inputs,
			Outputs: e.Outputs,
			Rule:    e.Rule,
			Trigger: e.Trigger,
		})
		if err != nil || id != e.ID {
			state.Tampered = append(state.Tampered, e.Seq)
		}

		handle, ok := e.Outputs.String(requesting.FieldRequest)
		if !ok {
			continue
		}
		switch e.Action {
		case requesting.Request:
			opened = append(opened, handle)
		case requesting.Respond, requesting.Expire:
			closed[handle] = true
		}
	}

	for _, h := range opened {
		if !closed[h] {
			state.Unanswered = append(state.Unanswered, h)
		}
	}
	return state, nil
}

// FindIncompleteFlows returns the state of every flow with an unanswered
// request, in flow order.
func (s *Store) FindIncompleteFlows(ctx context.Context) ([]FlowState, error) {
	flows, err := s.ListFlows(ctx)
	if err != nil {
		return nil, fmt.Errorf("find incomplete flows: %w", err)
	}

	var incomplete []FlowState
	for _, flow := range flows {
		state, err := s.GetFlowState(ctx, flow)
		if err != nil {
			return nil, fmt.Errorf("find incomplete flows: %w", err)
		}
		if !state.Complete() {
			incomplete = append(incomplete, state)
		}
	}
	return incomplete, nil
}
