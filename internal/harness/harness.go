package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/roach88/ade/internal/actiondb"
	"github.com/roach88/ade/internal/compiler"
	"github.com/roach88/ade/internal/interp"
	"github.com/roach88/ade/internal/ir"
	"github.com/roach88/ade/internal/lock"
	"github.com/roach88/ade/internal/planner"
	"github.com/roach88/ade/internal/scheduler"
	"github.com/roach88/ade/internal/store"
	"github.com/roach88/ade/internal/testutil"
)

// Harness holds one scenario's isolated world.
type Harness struct {
	scenario *Scenario
	db       *actiondb.Database
	sched    *scheduler.Scheduler
	actuator *interp.Recorder
	ids      []scheduler.GoalID
	seen     int
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh database and in-memory store. Goals
// are submitted in order and each is awaited before the next, so the trace
// is reproducible. An error is returned only when the scenario could not
// be executed at all; failed expectations are reported in the Result.
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a caller-supplied context.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h, err := newHarness(scenario, st)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- h.sched.Run(runCtx) }()

	result := NewResult()
	execErr := h.executeGoals(runCtx, result)

	cancel()
	if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
		return nil, fmt.Errorf("scheduler: %w", err)
	}
	if execErr != nil {
		return nil, execErr
	}
	h.collectCalls(result)
	result.Facts = formatFacts(h.db.Facts())

	actx := &AssertionContext{Ctx: ctx, Store: st, DB: h.db, Goals: h.ids}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

func newHarness(scenario *Scenario, st *store.Store) (*Harness, error) {
	spec, err := compiler.LoadFiles(scenario.Specs...)
	if err != nil {
		return nil, fmt.Errorf("failed to load specs: %w", err)
	}

	db := actiondb.New(actiondb.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if errs := spec.Apply(db); len(errs) > 0 {
		return nil, fmt.Errorf("failed to apply specs: %w", errors.Join(errs...))
	}
	facts, err := ir.ParsePredicates(scenario.Facts)
	if err != nil {
		return nil, fmt.Errorf("facts: %w", err)
	}
	for _, f := range facts {
		if err := db.Assert(f, nil); err != nil {
			return nil, fmt.Errorf("fact %s: %w", f, err)
		}
	}
	if len(scenario.ForbiddenActions) > 0 {
		db.SetForbiddenActions(append(append([]string{}, spec.ForbiddenActions...), scenario.ForbiddenActions...))
	}

	policy, err := scheduler.ParsePolicy(scenario.Policy)
	if err != nil {
		return nil, err
	}
	lockPolicy, err := lock.ParsePolicy(scenario.LockPolicy)
	if err != nil {
		return nil, err
	}

	rec := &interp.Recorder{Fail: make(map[string]bool, len(scenario.Fail))}
	for _, name := range scenario.Fail {
		rec.Fail[strings.ToLower(name)] = true
	}

	opts := []scheduler.Option{
		scheduler.WithPolicy(policy),
		scheduler.WithTokens(testutil.NewFixedTokens(scenario.Tokens...)),
		scheduler.WithActuator(rec),
		scheduler.WithRecorder(st),
		scheduler.WithTickInterval(time.Millisecond),
	}
	if scenario.Planner {
		opts = append(opts, scheduler.WithPlanner(planner.NewPABTPlanner(0)))
	}

	return &Harness{
		scenario: scenario,
		db:       db,
		sched:    scheduler.New(db, lock.NewRegistry(lockPolicy), opts...),
		actuator: rec,
	}, nil
}

// executeGoals submits each goal, waits for it and traces the calls it
// caused followed by its termination.
func (h *Harness) executeGoals(ctx context.Context, result *Result) error {
	timeout := h.scenario.Timeout
	if timeout == 0 {
		timeout = DefaultGoalTimeout
	}

	for i, step := range h.scenario.Goals {
		n := i + 1
		id, err := h.submit(ctx, step)
		if err != nil && !errors.Is(err, scheduler.ErrUnachievable) {
			return fmt.Errorf("goals[%d]: %w", i, err)
		}
		h.ids = append(h.ids, id)

		waitCtx, cancel := context.WithTimeout(ctx, timeout)
		_, err = h.sched.Wait(waitCtx, id)
		cancel()
		if err != nil {
			result.AddError(fmt.Sprintf("goal %d (%s) did not terminate within %s", n, step.Goal, timeout))
			if cerr := h.sched.Cancel(id); cerr != nil {
				slog.Debug("cancel after timeout failed", "goal", id, "error", cerr)
			}
			continue
		}

		h.collectCalls(result)
		rec, _ := h.sched.Goal(id)
		updates := updateStrings(rec.Updates)
		result.AddGoalTrace(n, rec.Action, rec.Token, rec.Status.String(), updates)

		if step.Expect != nil {
			for _, msg := range checkExpect(n, step, rec, updates) {
				result.AddError(msg)
			}
		}
	}
	return nil
}

func (h *Harness) submit(ctx context.Context, step GoalStep) (scheduler.GoalID, error) {
	pred, err := ir.ParsePredicate(step.Goal)
	if err != nil {
		return 0, err
	}
	var opts []scheduler.SubmitOption
	if len(step.Wait) > 0 {
		wait, err := ir.ParsePredicates(step.Wait)
		if err != nil {
			return 0, err
		}
		opts = append(opts, scheduler.WithWaitConditions(wait...))
	}
	if len(step.Fail) > 0 {
		fail, err := ir.ParsePredicates(step.Fail)
		if err != nil {
			return 0, err
		}
		opts = append(opts, scheduler.WithFailConditions(fail...))
	}
	if len(step.Args) > 0 {
		args := make(map[string]ir.IRValue, len(step.Args))
		for k, v := range step.Args {
			args[k] = ir.FromNative(v)
		}
		opts = append(opts, scheduler.WithArgs(args))
	}
	return h.sched.Submit(ctx, pred, opts...)
}

// collectCalls moves actuator calls not yet traced into result.
func (h *Harness) collectCalls(result *Result) {
	calls := h.actuator.Calls()
	for _, c := range calls[h.seen:] {
		result.AddCallTrace(c.Name, c.Args)
	}
	h.seen = len(calls)
}

func checkExpect(n int, step GoalStep, rec ir.GoalRecord, updates []string) []string {
	var errs []string
	want, _ := ir.ParseGoalStatus(step.Expect.Status)
	if rec.Status != want {
		msg := fmt.Sprintf("goal %d (%s): expected status %s, got %s", n, step.Goal, want, rec.Status)
		if rec.Error != "" {
			msg += ": " + rec.Error
		}
		errs = append(errs, msg)
	}
	if step.Expect.Action != "" && !strings.EqualFold(step.Expect.Action, rec.Action) {
		errs = append(errs, fmt.Sprintf("goal %d (%s): expected action %s, got %s", n, step.Goal, step.Expect.Action, rec.Action))
	}
	if step.Expect.Updates != nil && !slices.Equal(normalize(step.Expect.Updates), updates) {
		errs = append(errs, fmt.Sprintf("goal %d (%s): expected updates %v, got %v", n, step.Goal, step.Expect.Updates, updates))
	}
	return errs
}

// updateStrings renders updates without argument types.
func updateStrings(ps []ir.Predicate) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.Ground().String()
	}
	return out
}

// normalize re-renders predicate texts so spacing and types in scenario
// files do not matter. Unparsable texts are kept as written.
func normalize(texts []string) []string {
	out := make([]string, len(texts))
	for i, t := range texts {
		p, err := ir.ParsePredicate(t)
		if err != nil {
			out[i] = t
			continue
		}
		out[i] = p.Ground().String()
	}
	return out
}

func formatFacts(facts []actiondb.Fact) []string {
	out := make([]string, 0, len(facts))
	for _, f := range facts {
		text := f.Predicate.Ground().String()
		if _, null := f.Value.(ir.IRNull); f.Value != nil && !null {
			text += " = " + ir.ValueString(f.Value)
		}
		out = append(out, text)
	}
	return out
}
