package rule

import (
	"fmt"
	"regexp"
)

// ScopeMode defines how a rule matches entries across flows.
type ScopeMode string

const (
	// ScopeModeFlow matches only entries sharing the trigger's flow token
	// (default). Prevents accidental cross-request joins.
	ScopeModeFlow ScopeMode = "flow"

	// ScopeModeGlobal matches entries regardless of flow token.
	ScopeModeGlobal ScopeMode = "global"

	// ScopeModeKeyed matches entries sharing the trigger's value for an
	// input field, across flows.
	ScopeModeKeyed ScopeMode = "keyed"
)

// Scope is a rule's cross-flow matching policy.
type Scope struct {
	Mode ScopeMode
	Key  string // input field for keyed mode
}

// FlowScope returns the default scope.
func FlowScope() Scope { return Scope{Mode: ScopeModeFlow} }

// GlobalScope matches across all flows.
func GlobalScope() Scope { return Scope{Mode: ScopeModeGlobal} }

// Keyed matches across flows on equal values of the input field.
func Keyed(field string) Scope { return Scope{Mode: ScopeModeKeyed, Key: field} }

// Normalize defaults an empty mode to flow.
func (s Scope) Normalize() Scope {
	if s.Mode == "" {
		s.Mode = ScopeModeFlow
	}
	return s
}

// CrossFlow reports whether the scope can join entries of different flows.
func (s Scope) CrossFlow() bool {
	m := s.Normalize().Mode
	return m == ScopeModeGlobal || m == ScopeModeKeyed
}

// Validate checks mode and key.
func (s Scope) Validate() error {
	switch s.Normalize().Mode {
	case ScopeModeFlow, ScopeModeGlobal:
		if s.Key != "" {
			return fmt.Errorf("scope %q does not take a key", s.Mode)
		}
		return nil
	case ScopeModeKeyed:
		if s.Key == "" {
			return fmt.Errorf("keyed scope requires non-empty key field")
		}
		return nil
	default:
		return fmt.Errorf("invalid scope mode %q: must be flow, global, or keyed", s.Mode)
	}
}

func (s Scope) String() string {
	s = s.Normalize()
	if s.Mode == ScopeModeKeyed {
		return fmt.Sprintf("keyed(%q)", s.Key)
	}
	return string(s.Mode)
}

var keyedPattern = regexp.MustCompile(`^keyed\("([^"]+)"\)$`)

// ParseScope parses "flow", "global" or `keyed("field")`. Empty means flow.
func ParseScope(s string) (Scope, error) {
	switch s {
	case "", "flow":
		return FlowScope(), nil
	case "global":
		return GlobalScope(), nil
	}
	if m := keyedPattern.FindStringSubmatch(s); m != nil {
		return Keyed(m[1]), nil
	}
	return Scope{}, fmt.Errorf("invalid scope %q: must be \"flow\", \"global\", or keyed(\"field\")", s)
}
