package harness

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Scenario is one sync scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Steps run in order against one store.
	Steps []Step `yaml:"steps"`

	// Assertions are evaluated after the last step.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step is exactly one of a push or a pull, with optional expectations.
type Step struct {
	Push   *PushStep `yaml:"push,omitempty"`
	Pull   *PullStep `yaml:"pull,omitempty"`
	Expect *Expect   `yaml:"expect,omitempty"`
}

// Kind returns "push" or "pull".
func (s Step) Kind() string {
	if s.Push != nil {
		return StepPush
	}
	return StepPull
}

const (
	StepPush = "push"
	StepPull = "pull"
)

// PushStep submits a batch of mutations.
type PushStep struct {
	As          string         `yaml:"as,omitempty"`
	ClientGroup string         `yaml:"client_group"`
	Space       string         `yaml:"space"`
	Subspaces   []string       `yaml:"subspaces,omitempty"`
	Mutations   []MutationStep `yaml:"mutations"`
}

// MutationStep is one mutation of a push.
type MutationStep struct {
	Client string         `yaml:"client"`
	ID     int64          `yaml:"id"`
	Name   string         `yaml:"name"`
	Args   map[string]any `yaml:"args"`
}

// PullStep pulls one space scope.
type PullStep struct {
	As          string   `yaml:"as,omitempty"`
	ClientGroup string   `yaml:"client_group"`
	Space       string   `yaml:"space"`
	Subspaces   []string `yaml:"subspaces,omitempty"`

	// Cookie is "last" (default) to send the cookie this client group last
	// received for the space, or "none" to pull from scratch.
	Cookie string `yaml:"cookie,omitempty"`
}

// Expect describes the expected result of a step. Unset fields are not
// checked.
type Expect struct {
	// Outcome is "ok" for a successful push, "changed" or "unchanged" for
	// a pull, or the error code a failing step must return.
	Outcome string `yaml:"outcome,omitempty"`

	// Affected lists "space/subspace" pairs a push must report, in order.
	Affected []string `yaml:"affected,omitempty"`

	// Order is the expected cookie order of a pull.
	Order *int64 `yaml:"order,omitempty"`

	// Puts and Dels list the patch keys of a pull, in patch order.
	Puts []string `yaml:"puts,omitempty"`
	Dels []string `yaml:"dels,omitempty"`

	// Clear requires the patch to start with a clear operation.
	Clear *bool `yaml:"clear,omitempty"`

	// LastMutationIDChanges must equal the pull's changes exactly.
	LastMutationIDChanges map[string]int64 `yaml:"last_mutation_id_changes,omitempty"`
}

// Assertion types.
const (
	AssertFinalState      = "final_state"
	AssertLastMutationIDs = "last_mutation_ids"
	AssertTraceCount      = "trace_count"
)

// Assertion is evaluated against the store and trace after all steps.
type Assertion struct {
	Type string `yaml:"type"`

	// Entities is used by final_state.
	Entities map[string]int64 `yaml:"entities,omitempty"`

	// Clients is used by last_mutation_ids.
	Clients map[string]int64 `yaml:"clients,omitempty"`

	// Step, Outcome and Count are used by trace_count.
	Step    string `yaml:"step,omitempty"`
	Outcome string `yaml:"outcome,omitempty"`
	Count   int    `yaml:"count,omitempty"`
}

// LoadScenario reads and parses a scenario YAML file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Parse YAML with strict field validation (catches typos like "assertion:" vs "assertions:")
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
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
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, step); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(i int, step Step) error {
	switch {
	case step.Push != nil && step.Pull != nil:
		return fmt.Errorf("steps[%d]: push and pull are mutually exclusive", i)
	case step.Push != nil:
		if step.Push.ClientGroup == "" || step.Push.Space == "" {
			return fmt.Errorf("steps[%d].push: client_group and space are required", i)
		}
		for j, m := range step.Push.Mutations {
			if m.Client == "" || m.Name == "" {
				return fmt.Errorf("steps[%d].push.mutations[%d]: client and name are required", i, j)
			}
		}
	case step.Pull != nil:
		if step.Pull.ClientGroup == "" || step.Pull.Space == "" {
			return fmt.Errorf("steps[%d].pull: client_group and space are required", i)
		}
		switch step.Pull.Cookie {
		case "", "last", "none":
		default:
			return fmt.Errorf("steps[%d].pull: cookie must be last or none, got %q", i, step.Pull.Cookie)
		}
	default:
		return fmt.Errorf("steps[%d]: one of push or pull is required", i)
	}

	if e := step.Expect; e != nil && step.Push != nil {
		if e.Order != nil || e.Puts != nil || e.Dels != nil || e.Clear != nil || e.LastMutationIDChanges != nil {
			return fmt.Errorf("steps[%d].expect: only outcome and affected apply to a push", i)
		}
	}
	if e := step.Expect; e != nil && step.Pull != nil && e.Affected != nil {
		return fmt.Errorf("steps[%d].expect: affected applies to a push only", i)
	}
	for _, pair := range expectAffected(step) {
		if _, _, ok := strings.Cut(pair, "/"); !ok {
			return fmt.Errorf("steps[%d].expect.affected: %q is not space/subspace", i, pair)
		}
	}
	return nil
}

func expectAffected(step Step) []string {
	if step.Expect == nil {
		return nil
	}
	return step.Expect.Affected
}

func validateAssertion(index int, a Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertFinalState:
		if len(a.Entities) == 0 {
			return fmt.Errorf("assertions[%d]: entities is required for final_state", index)
		}
	case AssertLastMutationIDs:
		if len(a.Clients) == 0 {
			return fmt.Errorf("assertions[%d]: clients is required for last_mutation_ids", index)
		}
	case AssertTraceCount:
		if a.Step != StepPush && a.Step != StepPull {
			return fmt.Errorf("assertions[%d]: step must be push or pull for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
