// Package engine implements the choreo synchronization engine.
//
// The engine owns the action ledger and evaluates rules against it. An
// external request becomes one call to Invoke, which runs the concept action,
// appends the entry, and evaluates every rule the entry can trigger before
// returning. Nothing is queued: the whole cascade runs on the caller's
// goroutine.
//
// EVALUATION:
//
// For each new entry E, every when slot whose action equals E.Action is
// evaluated in rule declaration order, then slot order. E fills that slot and
// every other slot is filled from entries with Seq < E.Seq that satisfy the
// pattern's literals and the rule's scope. All consistent combinations are
// produced, each exactly once, ordered by slot and then by ledger order. An
// entry fills at most one slot of a match.
//
// The where stages of every rule E triggers run on all their frames before
// any then action runs, so twin success and error rules decide over the same
// state. The then
// stage runs per frame, in list order, depth first: an action's own cascade
// completes before the next then action of the same frame is invoked.
//
// TERMINATION:
//
// Each match fires at most once per flow (FiringGuard). Rules that trigger
// themselves must stop through literal or variable mismatches; a flow that
// never settles is cut off by its firing quota (QuotaEnforcer).
//
// CONCURRENCY:
//
// Invoke is safe for concurrent use. Unrelated requests run concurrently;
// within one cascade all effects are strictly ordered. The ledger, the rule
// registry (read only), the firing guard and the quota table are the only
// engine state shared between goroutines.
package engine
