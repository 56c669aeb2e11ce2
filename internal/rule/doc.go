// Package rule defines synchronization rules and the immutable registry the
// engine evaluates.
//
// A rule has three stages:
//
//	when   one or more patterns over ledger entries, joined on shared variables
//	where  an optional per-frame transformer that may query concept state
//	then   an ordered list of actions to invoke for every surviving frame
//
// Variables are frame.Var values, so identically named variables in
// different rules never alias. Rules are validated once by NewRegistry and
// never change afterwards.
package rule
