package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario is one end-to-end lending scenario.
type Scenario struct {
	// Name uniquely identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	Description string `yaml:"description"`

	// Setup steps must succeed. They are not traced.
	Setup []Step `yaml:"setup,omitempty"`

	// Flow steps are traced and may carry expectations.
	Flow []Step `yaml:"flow"`

	Assertions []Assertion `yaml:"assertions"`
}

// Step invokes one lending operation.
type Step struct {
	Action string         `yaml:"action"`
	Actor  string         `yaml:"actor,omitempty"`
	Args   map[string]any `yaml:"args,omitempty"`

	// As binds the id of the step's result for later "$name" references.
	As string `yaml:"as,omitempty"`

	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect describes the outcome a flow step must have. Without Error the
// step must succeed.
type Expect struct {
	// Error is the expected error code, e.g. INVALID_TRANSITION.
	Error string `yaml:"error,omitempty"`

	// Result is matched as a subset of the result's JSON fields.
	Result map[string]any `yaml:"result,omitempty"`
}

// Assertion checks the settled state.
type Assertion struct {
	Type       string         `yaml:"type"`
	Collection string         `yaml:"collection,omitempty"`
	ID         string         `yaml:"id,omitempty"`
	Where      map[string]any `yaml:"where,omitempty"`
	Expect     map[string]any `yaml:"expect,omitempty"`
	Count      int            `yaml:"count,omitempty"`
	Total      int64          `yaml:"total,omitempty"`
}

// Assertion type constants.
const (
	AssertDocument     = "document"
	AssertAbsent       = "absent"
	AssertCount        = "count"
	AssertTicketsTotal = "tickets_total"
	AssertMailCount    = "mail_count"
	AssertSettled      = "settled"
)

// LoadScenario reads and validates a scenario file. Unknown fields are
// rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
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

	for i, step := range s.Setup {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("setup[%d]: %w", i, err)
		}
		if step.Expect != nil {
			return fmt.Errorf("setup[%d]: expect is not allowed in setup", i)
		}
	}
	for i, step := range s.Flow {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("flow[%d]: %w", i, err)
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(a); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

func validateStep(step Step) error {
	if step.Action == "" {
		return fmt.Errorf("action is required")
	}
	if _, ok := actions[step.Action]; !ok {
		return fmt.Errorf("unknown action %q", step.Action)
	}
	return nil
}

func validateAssertion(a Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("type is required")
	case AssertDocument:
		if a.Collection == "" || a.ID == "" {
			return fmt.Errorf("collection and id are required for document")
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("expect is required for document")
		}
	case AssertAbsent:
		if a.Collection == "" || a.ID == "" {
			return fmt.Errorf("collection and id are required for absent")
		}
	case AssertCount:
		if a.Collection == "" {
			return fmt.Errorf("collection is required for count")
		}
		if a.Count < 0 {
			return fmt.Errorf("count must be non-negative")
		}
	case AssertTicketsTotal, AssertMailCount, AssertSettled:
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}
