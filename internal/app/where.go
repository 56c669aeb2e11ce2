package app

import (
	"context"
	"fmt"

	"github.com/roach88/choreo/internal/compiler"
	"github.com/roach88/choreo/internal/concepts/auth"
	"github.com/roach88/choreo/internal/frame"
	"github.com/roach88/choreo/internal/ir"
	"github.com/roach88/choreo/internal/rule"
)

// Messages produced by where stages rather than by concepts.
const (
	msgCredentialsRequired = "Username and password are required for authentication."
	msgAuthFailedPrefix    = "Authentication failed: "
)

var authenticateQuery = ir.NewActionRef(auth.Name, "_authenticate")

// decision inspects one frame. It either returns the frame extended with
// the success bindings, or a non-empty message explaining the failure.
//
// A success rule and its error twin are built from the same decision, so
// for any frame exactly one of them survives.
type decision func(ctx context.Context, q rule.Querier, f frame.Frame) (frame.Frame, string)

// guarded turns a panic inside d into a failure message, so the error twin
// still answers.
func guarded(d decision) decision {
	return func(ctx context.Context, q rule.Querier, f frame.Frame) (out frame.Frame, msg string) {
		defer func() {
			if p := recover(); p != nil {
				out, msg = f, fmt.Sprintf("internal error: %v", p)
			}
		}()
		return d(ctx, q, f)
	}
}

// succeeded keeps the frames d accepts.
func succeeded(d decision) rule.WhereFunc {
	d = guarded(d)
	return func(ctx context.Context, q rule.Querier, f frame.Frame) ([]frame.Frame, error) {
		out, msg := d(ctx, q, f)
		if msg != "" {
			return nil, nil
		}
		return []frame.Frame{out}, nil
	}
}

// failed keeps the frames d rejects, with the message bound to errVar.
func failed(d decision, errVar frame.Var) rule.WhereFunc {
	d = guarded(d)
	return func(ctx context.Context, q rule.Querier, f frame.Frame) ([]frame.Frame, error) {
		if _, msg := d(ctx, q, f); msg != "" {
			return []frame.Frame{f.With(errVar, ir.IRString(msg))}, nil
		}
		return nil, nil
	}
}

// value returns the binding of v, or null.
func value(f frame.Frame, v frame.Var) ir.IRValue {
	if val, ok := f.Get(v); ok {
		return val
	}
	return ir.IRNull{}
}

func text(f frame.Frame, v frame.Var) string {
	s, _ := value(f, v).(ir.IRString)
	return string(s)
}

// queryOne runs a query that answers with a single record, translating
// every kind of failure into a message.
func queryOne(ctx context.Context, q rule.Querier, ref ir.ActionRef, args ir.IRObject) (ir.IRObject, string) {
	rows, err := q.Query(ctx, ref, args)
	if err != nil {
		return nil, err.Error()
	}
	if len(rows) == 0 {
		return nil, fmt.Sprintf("%s returned no result.", ref)
	}
	if msg, ok := ir.ErrorMessage(rows[0]); ok {
		return nil, msg
	}
	return rows[0], ""
}

// authenticate checks the credentials bound to username and password.
func authenticate(ctx context.Context, q rule.Querier, f frame.Frame, username, password frame.Var) (ir.IRValue, string) {
	name, pass := text(f, username), text(f, password)
	if name == "" || pass == "" {
		return nil, msgCredentialsRequired
	}
	rec, msg := queryOne(ctx, q, authenticateQuery, ir.Obj(
		ir.O("username", ir.IRString(name)),
		ir.O("password", ir.IRString(pass)),
	))
	if msg != "" {
		return nil, msgAuthFailedPrefix + msg
	}
	return rec["user"], ""
}

// Stages returns the where stages available to rule files loaded from disk.
//
//	authenticated          binds $user from $username and $password
//	authenticationFailed   binds $error when the credentials are rejected
func Stages() compiler.Catalog {
	check := func(vars *compiler.Vars) decision {
		username, password, user := vars.Get("username"), vars.Get("password"), vars.Get("user")
		return func(ctx context.Context, q rule.Querier, f frame.Frame) (frame.Frame, string) {
			u, msg := authenticate(ctx, q, f, username, password)
			if msg != "" {
				return f, msg
			}
			return f.With(user, u), ""
		}
	}
	return compiler.Catalog{
		"authenticated": func(vars *compiler.Vars) rule.WhereFunc {
			return succeeded(check(vars))
		},
		"authenticationFailed": func(vars *compiler.Vars) rule.WhereFunc {
			return failed(check(vars), vars.Get("error"))
		},
	}
}
