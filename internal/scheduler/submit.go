package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/ade/internal/actiondb"
	"github.com/roach88/ade/internal/interp"
	"github.com/roach88/ade/internal/ir"
	"github.com/roach88/ade/internal/planner"
)

type submitOptions struct {
	wait   []ir.Predicate
	fail   []ir.Predicate
	parent GoalID
	args   map[string]ir.IRValue
}

// SubmitOption modifies a single submission.
type SubmitOption func(*submitOptions)

// WithWaitConditions delays the goal until every condition holds.
func WithWaitConditions(conds ...ir.Predicate) SubmitOption {
	return func(o *submitOptions) { o.wait = append(o.wait, conds...) }
}

// WithFailConditions terminates the goal as failed once any condition holds.
func WithFailConditions(conds ...ir.Predicate) SubmitOption {
	return func(o *submitOptions) { o.fail = append(o.fail, conds...) }
}

// WithParent attaches the goal to an aggregating parent.
func WithParent(id GoalID) SubmitOption {
	return func(o *submitOptions) { o.parent = id }
}

// WithArgs binds extra roles of the selected action, e.g. locals the goal
// predicate does not mention. Values from the goal's arguments win.
func WithArgs(args map[string]ir.IRValue) SubmitOption {
	return func(o *submitOptions) {
		if o.args == nil {
			o.args = make(map[string]ir.IRValue, len(args))
		}
		for k, v := range args {
			o.args[k] = v
		}
	}
}

// Submit resolves pred to an action and registers a live goal for it.
//
// A goal whose first typed argument is a variable is open-world: one child
// goal is submitted per known object of that type and the returned parent
// succeeds when every child does (vacuously when there are none).
//
// When no action matches and a planner is configured, the plan it returns is
// learned as a new action. Goals that remain unachievable are recorded as
// failed and the error wraps ErrUnachievable.
func (s *Scheduler) Submit(ctx context.Context, pred ir.Predicate, opts ...SubmitOption) (GoalID, error) {
	var o submitOptions
	for _, opt := range opts {
		opt(&o)
	}

	if idx, ok := openVar(pred); ok {
		return s.submitOpenWorld(ctx, pred, idx, o)
	}

	g := s.newGoal(pred, o)

	m, err := interp.ResolveGoal(s.db, s.overrider, pred)
	switch {
	case s.planner == nil:
	case err != nil && errors.Is(err, actiondb.ErrNoAction):
		m, err = s.plan(ctx, pred)
	case err == nil && !s.startConditionsHold(m, pred):
		// Not reactively achievable now; keep the direct match if planning fails.
		if pm, perr := s.plan(ctx, pred); perr == nil {
			m = pm
		} else {
			slog.Debug("planner fallback failed", "predicate", pred.String(), "error", perr)
		}
	}
	if err != nil {
		g.rec.Error = err.Error()
		s.register(g, nil)
		s.mu.Lock()
		recs := s.terminateLocked(g, ir.StatusFailed)
		s.mu.Unlock()
		s.persist(recs...)
		return GoalID(g.rec.ID), fmt.Errorf("goal %s: %w: %w", pred, ErrUnachievable, err)
	}
	g.rec.Action = m.Entry.Type()

	if !pred.HasVars() && s.db.Holds(pred) {
		slog.Info("goal already holds", "predicate", pred.String())
		s.register(g, nil)
		s.mu.Lock()
		recs := s.terminateLocked(g, ir.StatusSucceeded)
		s.mu.Unlock()
		s.persist(recs...)
		return GoalID(g.rec.ID), nil
	}

	in := interp.New(s.db, GoalID(g.rec.ID).String(), s.interpOptions()...)
	bindings := interp.TermBindings(m.Bindings(pred))
	for k, v := range o.args {
		if _, ok := bindings[k]; !ok {
			bindings[k] = v
		}
	}
	in.Start(m.Entry, pred, bindings)
	start, deadline := in.Timing()
	g.rec.StartedAt = start
	g.inst = &Instance{
		ID:          GoalID(g.rec.ID),
		Seq:         g.seq,
		Entry:       m.Entry,
		Start:       start,
		Deadline:    deadline,
		Priority:    m.Entry.Utility(),
		Affect:      in.Affect,
		DecayAffect: in.DecayAffect,
	}
	in.SetPriority(g.inst.Priority)
	g.rec.Priority = g.inst.Priority
	s.register(g, in)
	return GoalID(g.rec.ID), nil
}

func (s *Scheduler) interpOptions() []interp.Option {
	opts := []interp.Option{
		interp.WithClock(s.clock),
		interp.WithLocks(s.locks),
	}
	if s.overrider != nil {
		opts = append(opts, interp.WithOverrider(s.overrider))
	}
	return append(opts, s.interpOpts...)
}

func (s *Scheduler) newGoal(pred ir.Predicate, o submitOptions) *goal {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextIDLocked()
	s.nextSeq++
	return &goal{
		rec: ir.GoalRecord{
			ID:             int64(id),
			Token:          s.tokens.Generate(),
			Predicate:      pred,
			Parent:         int64(o.parent),
			WaitConditions: o.wait,
			FailConditions: o.fail,
			Status:         ir.StatusPending,
			StartedAt:      s.clock.Now(),
		},
		seq:  s.nextSeq,
		done: make(chan struct{}),
	}
}

// register persists g's submission, then makes it visible and, while Run
// is active, starts its driver.
func (s *Scheduler) register(g *goal, in *interp.Interpreter) {
	if in != nil {
		g.rec.Status = ir.StatusRunning
	}
	rec := g.rec
	slog.Info("goal submitted",
		"goal", rec.ID,
		"token", rec.Token,
		"predicate", rec.Predicate.String(),
		"action", rec.Action,
		"parent", rec.Parent,
	)
	if s.recorder != nil {
		if err := s.recorder.RecordGoal(context.Background(), rec); err != nil {
			slog.Error("goal record write failed", "goal", rec.ID, "error", err)
		}
	}
	s.event(rec.ID, ir.EventSubmitted, rec.Status, rec.Predicate.String())

	s.mu.Lock()
	defer s.mu.Unlock()
	g.in = in
	s.goals[GoalID(g.rec.ID)] = g
	s.order = append(s.order, GoalID(g.rec.ID))
	if in != nil {
		s.readmitLocked()
		if s.running {
			s.startDriverLocked(g)
		}
	}
}

// openVar returns the index of the first typed variable argument.
func openVar(p ir.Predicate) (int, bool) {
	for i, a := range p.Args {
		if a.Var && a.Typed() {
			return i, true
		}
	}
	return 0, false
}

// instancesOf returns the leaf entries below typ, excluding typ itself.
func (s *Scheduler) instancesOf(typ string) []*actiondb.Entry {
	var out []*actiondb.Entry
	for _, e := range s.db.Entries() {
		if ir.SameName(e.Type(), typ) || !e.IsA(typ) {
			continue
		}
		if len(s.db.Children(e)) == 0 {
			out = append(out, e)
		}
	}
	return out
}

func (s *Scheduler) submitOpenWorld(ctx context.Context, pred ir.Predicate, idx int, o submitOptions) (GoalID, error) {
	typ := pred.Args[idx].Type
	objs := s.instancesOf(typ)

	parent := s.newGoal(pred, o)
	parent.rec.Action = "forall " + typ
	parent.rec.Status = ir.StatusRunning
	parent.children = len(objs)
	s.register(parent, nil)
	id := GoalID(parent.rec.ID)

	if len(objs) == 0 {
		s.mu.Lock()
		recs := s.terminateLocked(parent, ir.StatusSucceeded)
		s.mu.Unlock()
		s.persist(recs...)
		return id, nil
	}

	for _, obj := range objs {
		child := pred
		child.Args = append([]ir.Term(nil), pred.Args...)
		child.Args[idx] = ir.Term{Name: obj.Type(), Type: typ}
		childOpts := []SubmitOption{
			WithParent(id),
			WithWaitConditions(o.wait...),
			WithFailConditions(o.fail...),
			WithArgs(o.args),
		}
		if _, err := s.Submit(ctx, child, childOpts...); err != nil {
			slog.Warn("open-world child unachievable", "goal", int64(id), "predicate", child.String(), "error", err)
		}
	}
	return id, nil
}

// plan asks the planner for a step sequence achieving goal and learns it
// as a new action.
func (s *Scheduler) plan(ctx context.Context, goal ir.Predicate) (actiondb.Match, error) {
	domain := planner.BuildDomain(s.db)
	problem := planner.BuildProblem(s.db, goal)
	steps, err := s.planner.Plan(ctx, domain, problem)
	if err != nil {
		return actiondb.Match{}, err
	}
	events := make([][]string, 0, len(steps))
	for _, st := range steps {
		ev := []string{st.Name}
		for _, a := range st.Args {
			ev = append(ev, a.Name)
		}
		events = append(events, ev)
	}
	e, err := s.db.Learn("", events, []ir.Predicate{goal})
	if err != nil {
		return actiondb.Match{}, err
	}
	slog.Info("plan learned",
		"action", e.Type(),
		"goal", goal.String(),
		"steps", len(steps),
	)
	return actiondb.Match{Entry: e, Template: goal}, nil
}

// startConditionsHold reports whether m's start conditions, bound to the
// goal's arguments, hold against the current facts.
func (s *Scheduler) startConditionsHold(m actiondb.Match, goal ir.Predicate) bool {
	b := m.Bindings(goal)
	lookup := func(name string) (string, bool) {
		t, ok := b[name]
		if !ok || t.Pred != nil {
			return "", false
		}
		return t.Name, true
	}
	for _, c := range m.Entry.StartConditions() {
		if !s.holds(c.Substitute(lookup)) {
			return false
		}
	}
	return true
}
