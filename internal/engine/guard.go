package engine

import "sync"

// FiringGuard makes every rule firing happen at most once per flow.
//
// A firing is identified by the rule, the entries filling its when slots
// (the match key) and the binding hash of the frame. Two matches over
// different entries are different firings even when they bind equal values.
// Where stages that return the same frame twice fire it once.
//
// Self-triggering rules always produce new entries, so the guard does not
// stop them; the per-flow quota does.
//
// Thread-safety: safe for concurrent use.
type FiringGuard struct {
	mu    sync.Mutex
	fired map[string]map[string]struct{} // flow -> rule|match|hash
}

// NewFiringGuard creates an empty guard.
func NewFiringGuard() *FiringGuard {
	return &FiringGuard{fired: make(map[string]map[string]struct{})}
}

// TryFire records the firing and reports whether it is new. Concurrent
// callers racing on the same firing see exactly one true.
func (g *FiringGuard) TryFire(flow, rule, matchKey, bindingHash string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := rule + "|" + matchKey + "|" + bindingHash
	seen := g.fired[flow]
	if seen == nil {
		seen = make(map[string]struct{})
		g.fired[flow] = seen
	}
	if _, ok := seen[key]; ok {
		return false
	}
	seen[key] = struct{}{}
	return true
}

// Clear forgets the firings of a finished flow.
func (g *FiringGuard) Clear(flow string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.fired, flow)
}

// flows returns the number of flows with recorded firings.
func (g *FiringGuard) flows() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.fired)
}
