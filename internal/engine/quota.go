package engine

import (
	"errors"
	"fmt"
	"sync"
)

// QuotaEnforcer counts rule firings of one flow against a limit.
//
// The firing guard stops a match from firing twice; the quota stops flows
// that keep producing new matches, whether by recursion (A → B → A) or by
// linear explosion (A → B → C → ... → Z).
type QuotaEnforcer struct {
	maxSteps int
	current  int
}

// NewQuotaEnforcer creates a quota enforcer with the given limit.
func NewQuotaEnforcer(maxSteps int) *QuotaEnforcer {
	return &QuotaEnforcer{maxSteps: maxSteps}
}

// Check increments the step counter and validates against the limit.
func (q *QuotaEnforcer) Check(flow string) error {
	q.current++
	if q.current > q.maxSteps {
		return &StepsExceededError{
			Flow:  flow,
			Steps: q.current,
			Limit: q.maxSteps,
		}
	}
	return nil
}

// Current returns the current step count.
func (q *QuotaEnforcer) Current() int { return q.current }

// MaxSteps returns the limit.
func (q *QuotaEnforcer) MaxSteps() int { return q.maxSteps }

// StepsExceededError is returned when a flow exceeds the max steps quota.
// Unlike a duplicate firing, which is skipped alone, an exceeded quota stops every
// further firing in the flow.
type StepsExceededError struct {
	Flow  string
	Steps int
	Limit int
}

// Error implements the error interface.
func (e *StepsExceededError) Error() string {
	return fmt.Sprintf("flow %s exceeded max steps quota: %d steps > %d limit", e.Flow, e.Steps, e.Limit)
}

// IsStepsExceededError returns true if the error is a StepsExceededError.
func IsStepsExceededError(err error) bool {
	var se *StepsExceededError
	return errors.As(err, &se)
}

// quotaTable holds one enforcer per live flow.
type quotaTable struct {
	mu       sync.Mutex
	maxSteps int
	flows    map[string]*QuotaEnforcer
}

func newQuotaTable(maxSteps int) *quotaTable {
	return &quotaTable{maxSteps: maxSteps, flows: make(map[string]*QuotaEnforcer)}
}

func (t *quotaTable) check(flow string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	q, ok := t.flows[flow]
	if !ok {
		q = NewQuotaEnforcer(t.maxSteps)
		t.flows[flow] = q
	}
	return q.Check(flow)
}

func (t *quotaTable) clear(flow string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.flows, flow)
}
