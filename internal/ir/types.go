package ir

import "strings"

// ActionRef names a concept action or query as "Concept.action".
type ActionRef string

// NewActionRef joins a concept name and an action name.
func NewActionRef(concept, action string) ActionRef {
	return ActionRef(concept + "." + action)
}

// Concept returns the part before the first dot.
func (r ActionRef) Concept() string {
	c, _, _ := strings.Cut(string(r), ".")
	return c
}

// Name returns the part after the first dot.
func (r ActionRef) Name() string {
	_, n, _ := strings.Cut(string(r), ".")
	return n
}

// Valid reports whether r has a non-empty concept and action name and
// exactly one separator.
func (r ActionRef) Valid() bool {
	c, n, ok := strings.Cut(string(r), ".")
	return ok && c != "" && n != "" && !strings.Contains(n, ".")
}

// IsQuery reports whether r names a query. Query names start with "_".
func (r ActionRef) IsQuery() bool {
	return strings.HasPrefix(r.Name(), "_")
}

func (r ActionRef) String() string { return string(r) }

// SigKind distinguishes state-changing actions from side-effect-free queries.
type SigKind string

const (
	KindAction SigKind = "action"
	KindQuery  SigKind = "query"
)

// ActionSig describes one action or query a concept exposes.
type ActionSig struct {
	Name    string       `json:"name"`
	Kind    SigKind      `json:"kind"`
	Args    []NamedArg   `json:"args"`
	Outputs []OutputCase `json:"outputs"`
}

// OutputCase represents a typed output variant ("success" or "error").
type OutputCase struct {
	Case   string            `json:"case"`
	Fields map[string]string `json:"fields"` // field name -> type name
}

// NamedArg represents a named argument with type.
type NamedArg struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Optional bool   `json:"optional,omitempty"`
}

// RuleFiring records one then-stage execution of a rule for one match.
// Matched lists the seqs of the entries filling the when slots, in slot
// order, comma separated.
type RuleFiring struct {
	Flow        string `json:"flow"`
	Rule        string `json:"rule"`
	Matched     string `json:"matched"`
	BindingHash string `json:"binding_hash"`
	TriggerSeq  int64  `json:"trigger_seq"`
}
