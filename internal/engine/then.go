package engine

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/choreo/internal/ir"
	"github.com/roach88/choreo/internal/ledger"
	"github.com/roach88/choreo/internal/rule"
)

// fire runs the then stage of rl for one match.
//
// Each then action is invoked, appended, and its own cascade evaluated
// before its outputs are bound into the frame for the next action. Any
// problem abandons the rest of this frame's list. Only an exceeded quota is
// returned, because it stops the whole flow.
func (e *Engine) fire(ctx context.Context, rl *rule.Rule, trigger ledger.Entry, m match) error {
	flow := trigger.Flow
	f := m.frame
	matched := m.key()

	hash, err := ir.BindingHash(f.Object())
	if err != nil {
		e.report(newRuntimeError(ErrCodeHostFault, flow, rl.Name, err))
		return nil
	}
	if !e.guard.TryFire(flow, rl.Name, matched, hash) {
		e.report(NewDuplicateFiringError(flow, rl.Name, matched, hash))
		return nil
	}
	if err := e.quotas.check(flow); err != nil {
		var se *StepsExceededError
		errors.As(err, &se)
		re := NewQuotaError(flow, rl.Name, se)
		e.report(re)
		return re
	}

	ctx, span := e.tracer.Start(ctx, "choreo.rule", trace.WithAttributes(
		attribute.String("choreo.rule", rl.Name),
		attribute.String("choreo.flow", flow),
		attribute.Int64("choreo.trigger_seq", trigger.Seq),
	))
	defer span.End()

	e.observer.Fired(rl.Name)
	e.logger.Info("rule fired",
		"rule", rl.Name,
		"flow", flow,
		"trigger_seq", trigger.Seq,
		"matched", matched,
		"binding_hash", hash,
	)
	if e.firings != nil {
		firing := ir.RuleFiring{
			Flow:        flow,
			Rule:        rl.Name,
			Matched:     matched,
			BindingHash: hash,
			TriggerSeq:  trigger.Seq,
		}
		if err := e.firings.WriteFiring(ctx, firing); err != nil {
			e.logger.Error("write rule firing", "rule", rl.Name, "flow", flow, "error", err)
		}
	}

	for _, p := range rl.Then {
		args, err := p.Substitute(f)
		if err != nil {
			e.report(newRuntimeError(ErrCodeUnboundVariable, flow, rl.Name, err))
			return nil
		}

		out, err := e.concepts.Invoke(ctx, p.Action, args)
		if err != nil {
			span.RecordError(err)
			e.report(newRuntimeError(classifyInvokeError(err), flow, rl.Name, err))
			return nil
		}

		entry := e.append(ctx, ledger.Entry{
			Flow:    flow,
			Action:  p.Action,
			Inputs:  args,
			Outputs: out,
			Rule:    rl.Name,
			Trigger: trigger.Seq,
		})
		if err := e.react(ctx, entry); err != nil {
			return err
		}

		if f, err = p.BindOutputs(f, out); err != nil {
			e.report(newRuntimeError(ErrCodeOutputMismatch, flow, rl.Name, err))
			return nil
		}
	}
	return nil
}
