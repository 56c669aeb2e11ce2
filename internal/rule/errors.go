package rule

import (
	"fmt"
	"strings"
)

// Validation error codes (E100-E199)
const (
	ErrRuleNameEmpty       = "E101" // rule name is required
	ErrDuplicateRule       = "E102" // rule names must be unique
	ErrMissingClause       = "E103" // when and then each need a pattern
	ErrInvalidActionRef    = "E104" // action reference is not Concept.action
	ErrInvalidScope        = "E105" // invalid scope mode or missing keyed key
	ErrUnboundThenVariable = "E106" // then input variable is never bound
	ErrOptionalInThen      = "E107" // optional terms only make sense in when
	ErrUnknownAction       = "E108" // action not exposed by any concept
	ErrQueryInPattern      = "E109" // queries never reach the ledger
)

// ValidationError describes one problem found while registering a rule.
type ValidationError struct {
	Rule    string `json:"rule"`
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s.%s: %s", e.Code, e.Rule, e.Field, e.Message)
}

// ValidationErrors is returned by NewRegistry when any rule is invalid.
type ValidationErrors []ValidationError

func (es ValidationErrors) Error() string {
	msgs := make([]string, len(es))
	for i, e := range es {
		msgs[i] = e.Error()
	}
	return fmt.Sprintf("%d invalid rule definition(s):\n  %s", len(es), strings.Join(msgs, "\n  "))
}
