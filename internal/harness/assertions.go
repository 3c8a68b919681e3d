package harness

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/ade/internal/actiondb"
	"github.com/roach88/ade/internal/ir"
	"github.com/roach88/ade/internal/scheduler"
	"github.com/roach88/ade/internal/store"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for i, event := range e.Trace {
			switch event.Type {
			case EventCall:
				fmt.Fprintf(&buf, "  [%d] %s %s\n", i+1, event.Action, strings.Join(event.Args, " "))
			case EventGoal:
				fmt.Fprintf(&buf, "  [%d] goal %d %s -> %s\n", i+1, event.Goal, event.Action, event.Status)
			}
		}
	}

	return buf.String()
}

func calls(trace []TraceEvent) []TraceEvent {
	var out []TraceEvent
	for _, ev := range trace {
		if ev.Type == EventCall {
			out = append(out, ev)
		}
	}
	return out
}

// assertTraceContains checks for a call to the action whose arguments
// start with the assertion's args.
func assertTraceContains(trace []TraceEvent, assertion Assertion) error {
	action := strings.ToLower(assertion.Action)
	for _, event := range calls(trace) {
		if event.Action == action && hasPrefix(event.Args, assertion.Args) {
			return nil
		}
	}

	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("call %s with args %v", assertion.Action, assertion.Args),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that the first call of each action appears in
// the given order. Other calls may intervene.
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	positions := make(map[string]int)
	for i, event := range calls(trace) {
		if _, seen := positions[event.Action]; !seen {
			positions[event.Action] = i + 1
		}
	}

	for _, action := range assertion.Actions {
		if positions[strings.ToLower(action)] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all actions present: %v", assertion.Actions),
				Actual:   fmt.Sprintf("missing action: %s", action),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(assertion.Actions); i++ {
		prev := strings.ToLower(assertion.Actions[i-1])
		curr := strings.ToLower(assertion.Actions[i])
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("actions in order: %v", assertion.Actions),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}

	return nil
}

// assertTraceCount checks that the action was called exactly Count times.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	action := strings.ToLower(assertion.Action)
	count := 0
	for _, event := range calls(trace) {
		if event.Action == action {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", assertion.Count, assertion.Action),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertFinalState checks the final facts: every Holds predicate holds
// and no Absent predicate does.
func assertFinalState(db *actiondb.Database, facts []string, assertion Assertion) error {
	check := func(texts []string, want bool) error {
		for _, text := range texts {
			p, err := ir.ParsePredicate(text)
			if err != nil {
				return err
			}
			if db.Holds(p) == want {
				continue
			}
			expected := "holds"
			if !want {
				expected = "absent"
			}
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("%s %s", p.Ground(), expected),
				Actual:   fmt.Sprintf("facts: [%s]", strings.Join(facts, ", ")),
			}
		}
		return nil
	}
	if err := check(assertion.Holds, true); err != nil {
		return err
	}
	return check(assertion.Absent, false)
}

// assertGoalEvents checks the event kinds persisted for a goal.
func assertGoalEvents(ctx context.Context, st *store.Store, id scheduler.GoalID, assertion Assertion) error {
	events, err := st.ReadEvents(ctx, int64(id))
	if err != nil {
		return fmt.Errorf("read events for goal %d: %w", assertion.Goal, err)
	}
	got := make([]string, len(events))
	for i, ev := range events {
		got[i] = string(ev.Kind)
	}
	want := make([]string, len(assertion.Events))
	for i, k := range assertion.Events {
		want[i] = strings.ToLower(k)
	}
	if !slices.Equal(got, want) {
		return &AssertionError{
			Type:     AssertGoalEvents,
			Expected: fmt.Sprintf("goal %d events %v", assertion.Goal, want),
			Actual:   fmt.Sprintf("%v", got),
		}
	}
	return nil
}

func hasPrefix(args, prefix []string) bool {
	if len(prefix) > len(args) {
		return false
	}
	for i, p := range prefix {
		if !strings.EqualFold(args[i], p) {
			return false
		}
	}
	return true
}

// AssertionContext provides what state assertions read: the store for
// goal logs, the database for facts and the scenario's goal IDs.
type AssertionContext struct {
	Ctx   context.Context
	Store *store.Store
	DB    *actiondb.Database
	Goals []scheduler.GoalID
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertFinalState:
			if actx == nil || actx.DB == nil {
				err = fmt.Errorf("assertion[%d]: final_state requires a database", i)
			} else {
				err = assertFinalState(actx.DB, result.Facts, assertion)
			}
		case AssertGoalEvents:
			switch {
			case actx == nil || actx.Store == nil:
				err = fmt.Errorf("assertion[%d]: goal_events requires a store", i)
			case assertion.Goal < 1 || assertion.Goal > len(actx.Goals):
				err = fmt.Errorf("assertion[%d]: no goal %d", i, assertion.Goal)
			default:
				err = assertGoalEvents(actx.Ctx, actx.Store, actx.Goals[assertion.Goal-1], assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
