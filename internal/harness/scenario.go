package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/ade/internal/ir"
	"github.com/roach88/ade/internal/lock"
	"github.com/roach88/ade/internal/scheduler"
)

// Scenario defines a conformance test scenario: a world built from CUE
// specs, a list of goals submitted one after another, and assertions on
// the resulting trace and final facts.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Specs lists CUE spec files, relative to the scenario file.
	Specs []string `yaml:"specs"`

	// Facts are asserted after the specs' own facts.
	Facts []string `yaml:"facts,omitempty"`

	// Policy is the scheduling policy name; empty means linear.
	Policy string `yaml:"policy,omitempty"`

	// LockPolicy is the lock policy name; empty means fcfs.
	LockPolicy string `yaml:"lock_policy,omitempty"`

	// Planner enables the PABT planner for goals without a direct action.
	Planner bool `yaml:"planner,omitempty"`

	// Fail lists primitives whose execution fails.
	Fail []string `yaml:"fail,omitempty"`

	// ForbiddenActions are added to the specs' forbidden actions.
	ForbiddenActions []string `yaml:"forbidden_actions,omitempty"`

	// Tokens are handed to goals in submission order; later goals get
	// "token-<n>".
	Tokens []string `yaml:"tokens,omitempty"`

	// Timeout bounds each goal's wait; zero means DefaultGoalTimeout.
	Timeout time.Duration `yaml:"timeout,omitempty"`

	// Goals are submitted one at a time, each awaited before the next.
	Goals []GoalStep `yaml:"goals"`

	// Assertions validate the final trace, facts and goal logs.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// GoalStep is one goal submission.
type GoalStep struct {
	Goal string         `yaml:"goal"`
	Args map[string]any `yaml:"args,omitempty"`
	Wait []string       `yaml:"wait,omitempty"`
	Fail []string       `yaml:"fail,omitempty"`

	// Expect checks the goal's terminal record. Nil skips the check.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies a goal's expected outcome.
type ExpectClause struct {
	// Status is the expected terminal status name.
	Status string `yaml:"status"`

	// Action, when set, is the expected resolved action type.
	Action string `yaml:"action,omitempty"`

	// Updates, when non-nil, must equal the goal's updates exactly.
	Updates []string `yaml:"updates,omitempty"`
}

// Assertion validates trace, final facts or the stored goal log.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Action names a primitive (trace_contains, trace_count).
	Action string `yaml:"action,omitempty"`

	// Args is a prefix of the call's arguments (trace_contains).
	Args []string `yaml:"args,omitempty"`

	// Count is the exact number of calls (trace_count).
	Count int `yaml:"count,omitempty"`

	// Actions must be called in this order (trace_order).
	Actions []string `yaml:"actions,omitempty"`

	// Holds and Absent are predicates checked against the final facts
	// (final_state).
	Holds  []string `yaml:"holds,omitempty"`
	Absent []string `yaml:"absent,omitempty"`

	// Goal is a 1-based goal index and Events its expected event kinds
	// (goal_events).
	Goal   int      `yaml:"goal,omitempty"`
	Events []string `yaml:"events,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
	AssertGoalEvents    = "goal_events"
)

// DefaultGoalTimeout bounds a goal's wait when the scenario sets none.
const DefaultGoalTimeout = 10 * time.Second

// LoadScenario reads and parses a scenario YAML file. Spec paths are
// resolved relative to the file's directory. Unknown fields are rejected.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving relative spec paths against basePath.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data, basePath)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte, basePath string) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	for i, specPath := range scenario.Specs {
		if !filepath.IsAbs(specPath) && basePath != "" {
			scenario.Specs[i] = filepath.Join(basePath, specPath)
		}
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Specs) == 0 {
		return fmt.Errorf("specs list is required and must be non-empty")
	}
	if len(s.Goals) == 0 {
		return fmt.Errorf("goals list is required and must be non-empty")
	}
	if s.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}

	for _, specPath := range s.Specs {
		if _, err := os.Stat(specPath); os.IsNotExist(err) {
			return fmt.Errorf("spec file not found: %s", specPath)
		}
	}
	if _, err := scheduler.ParsePolicy(s.Policy); err != nil {
		return err
	}
	if _, err := lock.ParsePolicy(s.LockPolicy); err != nil {
		return err
	}
	if _, err := ir.ParsePredicates(s.Facts); err != nil {
		return fmt.Errorf("facts: %w", err)
	}

	for i, step := range s.Goals {
		if err := validateGoal(i, &step); err != nil {
			return err
		}
	}
	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i], len(s.Goals)); err != nil {
			return err
		}
	}
	return nil
}

func validateGoal(index int, g *GoalStep) error {
	if g.Goal == "" {
		return fmt.Errorf("goals[%d]: goal is required", index)
	}
	if _, err := ir.ParsePredicate(g.Goal); err != nil {
		return fmt.Errorf("goals[%d]: %w", index, err)
	}
	if _, err := ir.ParsePredicates(g.Wait); err != nil {
		return fmt.Errorf("goals[%d].wait: %w", index, err)
	}
	if _, err := ir.ParsePredicates(g.Fail); err != nil {
		return fmt.Errorf("goals[%d].fail: %w", index, err)
	}
	if g.Expect != nil {
		st, err := ir.ParseGoalStatus(g.Expect.Status)
		if err != nil {
			return fmt.Errorf("goals[%d].expect: %w", index, err)
		}
		if !st.Terminal() {
			return fmt.Errorf("goals[%d].expect: status %q is not terminal", index, g.Expect.Status)
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion, goals int) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
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
	case AssertFinalState:
		if len(a.Holds) == 0 && len(a.Absent) == 0 {
			return fmt.Errorf("assertions[%d]: holds or absent is required for final_state", index)
		}
		if _, err := ir.ParsePredicates(append(append([]string{}, a.Holds...), a.Absent...)); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
	case AssertGoalEvents:
		if a.Goal < 1 || a.Goal > goals {
			return fmt.Errorf("assertions[%d]: goal must be between 1 and %d", index, goals)
		}
		if len(a.Events) == 0 {
			return fmt.Errorf("assertions[%d]: events list is required for goal_events", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
