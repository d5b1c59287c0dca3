package harness

import (
	"bytes"
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/xcore/internal/config"
	"github.com/roach88/xcore/internal/update"
	"github.com/roach88/xcore/internal/xerr"
)

// Scenario is one scenario file.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// PageCapacity overrides the store's slots per page when positive.
	PageCapacity int `yaml:"page_capacity,omitempty"`

	// FragmentationLimit overrides the controller's limit when set.
	FragmentationLimit *int64 `yaml:"fragmentation_limit,omitempty"`

	// TxnID fixes the transaction id reported by update steps.
	// Default: "test-txn-default".
	TxnID string `yaml:"txn_id,omitempty"`

	Documents []DocumentStep         `yaml:"documents"`
	Triggers  []config.TriggerConfig `yaml:"triggers,omitempty"`
	Flow      []FlowStep             `yaml:"flow"`
}

// DocumentStep is a document imported before the flow runs.
type DocumentStep struct {
	// Collection defaults to "/db".
	Collection string `yaml:"collection,omitempty"`
	Name       string `yaml:"name"`

	// Owner defaults to the admin subject.
	Owner string `yaml:"owner,omitempty"`
	XML   string `yaml:"xml"`
}

// FlowStep is one query, update or check.
type FlowStep struct {
	Query  string            `yaml:"query,omitempty"`
	Vars   map[string]string `yaml:"vars,omitempty"`
	Update *UpdateStep       `yaml:"update,omitempty"`
	Check  bool              `yaml:"check,omitempty"`
	Expect *ExpectClause     `yaml:"expect,omitempty"`
}

// Op returns the step's operation name.
func (s FlowStep) Op() string {
	switch {
	case s.Update != nil:
		return OpUpdate
	case s.Check:
		return OpCheck
	default:
		return OpQuery
	}
}

// UpdateStep describes a modification.
type UpdateStep struct {
	Kind   string `yaml:"kind"`
	Select string `yaml:"select"`
	Value  string `yaml:"value,omitempty"`
	As     string `yaml:"as,omitempty"`
}

// ExpectClause is checked against a step's result. Nil fields are not
// checked; an empty Error expects success.
type ExpectClause struct {
	Items     []string `yaml:"items,omitempty"`
	Count     *int     `yaml:"count,omitempty"`
	Relocated *int     `yaml:"relocated,omitempty"`
	Error     string   `yaml:"error,omitempty"`
	Changed   *bool    `yaml:"changed,omitempty"`
}

// LoadScenario reads and validates a scenario file. Unknown fields are
// rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	s, err := ParseScenario(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// ParseScenario decodes and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

var errorKinds = []xerr.Kind{
	xerr.KindAccessDenied,
	xerr.KindLockFailure,
	xerr.KindTypeMismatch,
	xerr.KindEvaluation,
	xerr.KindTriggerFailure,
	xerr.KindInternalStore,
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}

	for i, d := range s.Documents {
		if d.Name == "" {
			return fmt.Errorf("documents[%d]: name is required", i)
		}
		if strings.TrimSpace(d.XML) == "" {
			return fmt.Errorf("documents[%d]: xml is required", i)
		}
		if d.Collection != "" && !strings.HasPrefix(d.Collection, "/") {
			return fmt.Errorf("documents[%d]: collection must be absolute", i)
		}
	}

	for i, step := range s.Flow {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("flow[%d]: %w", i, err)
		}
	}
	return nil
}

func validateStep(step FlowStep) error {
	ops := 0
	if step.Query != "" {
		ops++
	}
	if step.Update != nil {
		ops++
	}
	if step.Check {
		ops++
	}
	if ops != 1 {
		return fmt.Errorf("exactly one of query, update or check is required")
	}
	if len(step.Vars) > 0 && step.Query == "" {
		return fmt.Errorf("vars only apply to query steps")
	}

	if u := step.Update; u != nil {
		if _, err := update.ParseKind(u.Kind); err != nil {
			return err
		}
		if u.Select == "" {
			return fmt.Errorf("update.select is required")
		}
	}

	if e := step.Expect; e != nil {
		if e.Error != "" && !slices.Contains(errorKinds, xerr.Kind(e.Error)) {
			return fmt.Errorf("expect.error: unknown error kind %q", e.Error)
		}
		if e.Count != nil && *e.Count < 0 {
			return fmt.Errorf("expect.count must be non-negative")
		}
	}
	return nil
}

