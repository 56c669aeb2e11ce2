// Package store persists the action ledger in SQLite.
//
// A Store is a ledger.Sink and an engine.FiringSink: every appended entry
// and every rule firing is written as it happens. The in-memory ledger
// remains the engine's source of truth; the store is for traces, audits and
// continuing the sequence across restarts.
//
// # Ordering
//
// Reads order by seq, then id. Seq is the ledger's logical clock and never a
// timestamp, so a trace reads the same however long the run took.
//
// # Idempotency
//
// Entries are keyed by their content-addressed ID and firings by
// (flow, rule, matched, binding_hash). Writing either twice is a no-op.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL
//   - busy_timeout=5000
//   - schema managed by golang-migrate from embedded SQL files
package store
