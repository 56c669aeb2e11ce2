package engine

import (
	"errors"
	"fmt"
)

// RuntimeError represents a problem detected while evaluating rules.
//
// Runtime errors are logged and counted. Except for QUOTA_EXCEEDED they
// affect only the frame being fired; sibling frames and other rules continue.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// Flow identifies the affected flow.
	Flow string

	// Rule identifies the rule being evaluated.
	Rule string

	// BindingHash identifies the frame (for duplicate firings).
	BindingHash string

	// Match lists the seqs of the entries filling the when slots (for
	// duplicate firings).
	Match string

	// Details contains additional context.
	Details map[string]string

	err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeDuplicateFiring indicates a firing that already happened in the
	// flow: same rule, same slot entries, same bindings.
	ErrCodeDuplicateFiring RuntimeErrorCode = "DUPLICATE_FIRING"

	// ErrCodeQuotaExceeded indicates the flow exceeded its firing quota.
	ErrCodeQuotaExceeded RuntimeErrorCode = "QUOTA_EXCEEDED"

	// ErrCodeMissingAction indicates a then action no concept exposes.
	ErrCodeMissingAction RuntimeErrorCode = "MISSING_ACTION"

	// ErrCodeUnboundVariable indicates a then input variable had no value.
	ErrCodeUnboundVariable RuntimeErrorCode = "UNBOUND_VARIABLE"

	// ErrCodeOutputMismatch indicates a then action's record did not fit
	// the pattern's outputs.
	ErrCodeOutputMismatch RuntimeErrorCode = "OUTPUT_MISMATCH"

	// ErrCodeWhereFault indicates the where stage failed or panicked.
	ErrCodeWhereFault RuntimeErrorCode = "WHERE_FAULT"

	// ErrCodeHostFault indicates a concept failed outside the record
	// contract (panic, malformed record).
	ErrCodeHostFault RuntimeErrorCode = "HOST_FAULT"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	if e.Flow != "" && e.Rule != "" {
		return fmt.Sprintf("%s: %s (flow=%s, rule=%s)", e.Code, e.Message, e.Flow, e.Rule)
	}
	if e.Flow != "" {
		return fmt.Sprintf("%s: %s (flow=%s)", e.Code, e.Message, e.Flow)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *RuntimeError) Unwrap() error { return e.err }

// IsDuplicateFiringError returns true if the error is a refused duplicate
// firing.
func IsDuplicateFiringError(err error) bool {
	return hasCode(err, ErrCodeDuplicateFiring)
}

// IsQuotaError returns true if the error is a quota exceeded error.
func IsQuotaError(err error) bool {
	if hasCode(err, ErrCodeQuotaExceeded) {
		return true
	}
	var se *StepsExceededError
	return errors.As(err, &se)
}

func hasCode(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// NewDuplicateFiringError creates a RuntimeError for a repeated firing.
func NewDuplicateFiringError(flow, rule, match, bindingHash string) *RuntimeError {
	return &RuntimeError{
		Code:        ErrCodeDuplicateFiring,
		Message:     fmt.Sprintf("rule already fired for entries [%s] with the same bindings", match),
		Flow:        flow,
		Rule:        rule,
		BindingHash: bindingHash,
		Match:       match,
	}
}

// NewQuotaError creates a RuntimeError for quota exceeded.
func NewQuotaError(flow, rule string, cause *StepsExceededError) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeQuotaExceeded,
		Message: fmt.Sprintf("flow exceeded max steps (%d > %d)", cause.Steps, cause.Limit),
		Flow:    flow,
		Rule:    rule,
		Details: map[string]string{
			"steps":     fmt.Sprintf("%d", cause.Steps),
			"max_steps": fmt.Sprintf("%d", cause.Limit),
		},
		err: cause,
	}
}

func newRuntimeError(code RuntimeErrorCode, flow, rule string, cause error) *RuntimeError {
	return &RuntimeError{
		Code:    code,
		Message: cause.Error(),
		Flow:    flow,
		Rule:    rule,
		err:     cause,
	}
}
