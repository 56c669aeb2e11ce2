package compiler

import (
	"sort"

	"github.com/roach88/choreo/internal/concepts/requesting"
	"github.com/roach88/choreo/internal/ir"
	"github.com/roach88/choreo/internal/rule"
)

// UncoveredPath is a request path that some rule listens for but no rule
// chain ever answers.
type UncoveredPath struct {
	Path  string   `json:"path"`
	Rules []string `json:"rules"` // rules matching the path
}

// CheckResponders reports every literal request path that cannot reach
// Requesting.respond. A path is covered when some rule with a when pattern
// on that path responds itself, or triggers a chain of rules that does.
//
// Requests for uncovered paths would wait until their deadline.
func CheckResponders(rules []rule.Rule) []UncoveredPath {
	graph := buildDependencyGraph(rules)

	responds := make(map[string]bool)
	for _, rl := range rules {
		for _, p := range rl.Then {
			if p.Action == requesting.Respond {
				responds[rl.Name] = true
			}
		}
	}

	listeners := make(map[string][]string)
	for _, rl := range rules {
		for _, p := range rl.When {
			if path, ok := requestPath(p); ok {
				listeners[path] = appendUnique(listeners[path], rl.Name)
			}
		}
	}

	var out []UncoveredPath
	for path, names := range listeners {
		if !anyReaches(names, graph, responds) {
			out = append(out, UncoveredPath{Path: path, Rules: names})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func requestPath(p rule.Pattern) (string, bool) {
	if p.Action != requesting.Request {
		return "", false
	}
	t, ok := p.Inputs[requesting.FieldPath]
	if !ok {
		return "", false
	}
	lit, ok := t.Literal()
	if !ok {
		return "", false
	}
	s, ok := lit.(ir.IRString)
	return string(s), ok
}

// anyReaches runs a breadth-first search from starts over the rule graph.
func anyReaches(starts []string, graph dependencyGraph, goal map[string]bool) bool {
	seen := make(map[string]bool)
	queue := append([]string(nil), starts...)
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if seen[cur] {
			continue
		}
		seen[cur] = true
		if goal[cur] {
			return true
		}
		queue = append(queue, graph[cur]...)
	}
	return false
}

func appendUnique(list []string, s string) []string {
	for _, x := range list {
		if x == s {
			return list
		}
	}
	return append(list, s)
}
