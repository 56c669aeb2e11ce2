package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/choreo/internal/concepts/categorizing"
	"github.com/roach88/choreo/internal/ir"
)

// Scenario defines one harness run.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario checks.
	Description string `yaml:"description"`

	// FlowToken prefixes the deterministic flow tokens. Default: "flow".
	FlowToken string `yaml:"flow_token,omitempty"`

	// Rules is a directory of extra CUE rules, relative to the scenario file.
	Rules string `yaml:"rules,omitempty"`

	// Vocabulary is the Categorizing tag vocabulary.
	Vocabulary []VocabularyTag `yaml:"vocabulary,omitempty"`

	// Timeout bounds each request step. Default: DefaultTimeout.
	Timeout time.Duration `yaml:"timeout,omitempty"`

	// Setup contains actions invoked before the flow. They must succeed.
	Setup []ActionStep `yaml:"setup,omitempty"`

	// Flow contains the steps under test.
	Flow []FlowStep `yaml:"flow"`

	// Assertions validate the final trace.
	Assertions []Assertion `yaml:"assertions"`
}

// VocabularyTag is one vocabulary entry.
type VocabularyTag struct {
	Tag      string `yaml:"tag"`
	Category string `yaml:"category"`
}

// ActionStep is a setup invocation.
type ActionStep struct {
	// Action is the action reference (e.g. "UserAuthentication.register").
	Action string `yaml:"action"`

	// Args are the action arguments.
	Args map[string]any `yaml:"args"`
}

// FlowStep invokes an action or raises a request. Exactly one of Invoke
// and Request is set.
type FlowStep struct {
	Invoke  string         `yaml:"invoke,omitempty"`
	Request string         `yaml:"request,omitempty"`
	Args    map[string]any `yaml:"args"`

	// Expect checks the step's response. Nil means no check.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// Target returns the invoked action or the requested path.
func (s FlowStep) Target() string {
	if s.Invoke != "" {
		return s.Invoke
	}
	return s.Request
}

// Expected step outcomes.
const (
	CaseSuccess = "success"
	CaseError   = "error"
	CaseTimeout = "timeout"
)

// ExpectClause specifies the expected response of a step.
type ExpectClause struct {
	// Case is success, error or timeout.
	Case string `yaml:"case"`

	// Result lists fields the response must contain (subset match).
	Result map[string]any `yaml:"result,omitempty"`
}

// Assertion validates the final trace.
type Assertion struct {
	Type string `yaml:"type"`

	// Action is used by trace_contains and trace_count.
	Action string `yaml:"action,omitempty"`

	// Args and Outputs are subset matches on the entry (trace_contains).
	Args    map[string]any `yaml:"args,omitempty"`
	Outputs map[string]any `yaml:"outputs,omitempty"`

	// Actions is the expected order (trace_order).
	Actions []string `yaml:"actions,omitempty"`

	// Path restricts response_count to requests for one path.
	Path string `yaml:"path,omitempty"`

	// Count is the expected number of entries (trace_count, response_count).
	Count int `yaml:"count"`
}

// Assertion types.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertResponseCount = "response_count"
)

// LoadScenario reads and validates a scenario file. A relative Rules
// directory is resolved against the file's directory.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	sc, err := ParseScenario(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if sc.Rules != "" && !filepath.IsAbs(sc.Rules) {
		sc.Rules = filepath.Join(filepath.Dir(path), sc.Rules)
	}
	return sc, nil
}

// ParseScenario decodes and validates a scenario. Unknown fields are
// rejected so typos surface as errors.
func ParseScenario(data []byte) (*Scenario, error) {
	var sc Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&sc); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &sc, nil
}

// FindScenarios returns the .yaml and .yml files under dir whose base name
// (without extension) matches filter, sorted. An empty filter matches all.
func FindScenarios(dir, filter string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		if filter != "" {
			matched, err := filepath.Match(filter, strings.TrimSuffix(d.Name(), ext))
			if err != nil {
				return fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				return nil
			}
		}
		files = append(files, path)
		return nil
	})
	sort.Strings(files)
	return files, err
}

func (s *Scenario) vocabulary() categorizing.Vocabulary {
	v := make(categorizing.Vocabulary, len(s.Vocabulary))
	for i, t := range s.Vocabulary {
		v[i] = categorizing.Tag{Name: t.Tag, Category: t.Category}
	}
	return v
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	if s.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}

	for i, t := range s.Vocabulary {
		if t.Tag == "" {
			return fmt.Errorf("vocabulary[%d]: tag is required", i)
		}
	}

	for i, step := range s.Setup {
		if !ir.ActionRef(step.Action).Valid() {
			return fmt.Errorf("setup[%d]: action %q is not a Concept.action reference", i, step.Action)
		}
		if step.Args == nil {
			return fmt.Errorf("setup[%d]: args is required (use {} if no args)", i)
		}
	}

	for i, step := range s.Flow {
		switch {
		case step.Invoke == "" && step.Request == "":
			return fmt.Errorf("flow[%d]: invoke or request is required", i)
		case step.Invoke != "" && step.Request != "":
			return fmt.Errorf("flow[%d]: invoke and request are mutually exclusive", i)
		case step.Invoke != "" && !ir.ActionRef(step.Invoke).Valid():
			return fmt.Errorf("flow[%d]: action %q is not a Concept.action reference", i, step.Invoke)
		case step.Request != "" && !strings.HasPrefix(step.Request, "/"):
			return fmt.Errorf("flow[%d]: request path %q must start with /", i, step.Request)
		}
		if step.Args == nil {
			return fmt.Errorf("flow[%d]: args is required (use {} if no args)", i)
		}
		if step.Expect != nil {
			switch step.Expect.Case {
			case CaseSuccess, CaseError:
			case CaseTimeout:
				if step.Request == "" {
					return fmt.Errorf("flow[%d].expect: only requests can time out", i)
				}
			default:
				return fmt.Errorf("flow[%d].expect: case must be success, error or timeout", i)
			}
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(index int, a Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertTraceContains:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Actions) == 0 {
			return fmt.Errorf("assertions[%d]: actions list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertResponseCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for response_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

// toObject converts YAML-decoded arguments to an IR object.
func toObject(m map[string]any) (ir.IRObject, error) {
	if m == nil {
		return ir.IRObject{}, nil
	}
	v, err := ir.FromGo(m)
	if err != nil {
		return nil, err
	}
	return v.(ir.IRObject), nil
}
