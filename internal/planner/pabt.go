package planner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	bt "github.com/joeycumines/go-behaviortree"
	pabt "github.com/joeycumines/go-pabt"

	"github.com/roach88/ade/internal/ir"
)

// Planner produces a step sequence achieving the problem's goal. Each step
// is an action name applied to constant arguments.
type Planner interface {
	Plan(ctx context.Context, d *Domain, p *Problem) ([]ir.Predicate, error)
}

// ErrNoPlan is wrapped by planner errors when no step sequence was found.
var ErrNoPlan = errors.New("no plan found")

// Error reports a planning failure. It is never fatal: the goal that asked
// for the plan fails with the error recorded.
type Error struct {
	Goal string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("planner: goal %s: %v", e.Goal, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

const (
	// DefaultMaxTicks bounds plan execution over the simulated state.
	DefaultMaxTicks = 100

	maxGroundings = 256
)

// PABTPlanner plans with a postcondition-action behavior tree over a
// simulated copy of the facts. Actions are grounded on demand by unifying
// their end effects with the condition the tree failed on; the plan is the
// order in which the simulation executed them.
type PABTPlanner struct {
	MaxTicks int
}

// NewPABTPlanner returns a planner ticking at most maxTicks times
// (DefaultMaxTicks when not positive).
func NewPABTPlanner(maxTicks int) *PABTPlanner {
	if maxTicks <= 0 {
		maxTicks = DefaultMaxTicks
	}
	return &PABTPlanner{MaxTicks: maxTicks}
}

func (p *PABTPlanner) Plan(ctx context.Context, d *Domain, pr *Problem) ([]ir.Predicate, error) {
	if open := pr.Of(KindOpen); len(open) > 0 {
		return nil, &Error{Goal: open[0].Name, Err: errors.New("quantified goals are not planned")}
	}
	goals := pr.Of(KindGoal)
	if len(goals) == 0 {
		return nil, &Error{Err: errors.New("problem has no goal")}
	}
	name := goals[0].AtStart[0].String()

	w := newWorld(d, pr)
	var target pabt.IConditions
	for _, g := range goals {
		for _, c := range g.AtStart {
			if c.HasVars() {
				return nil, &Error{Goal: name, Err: fmt.Errorf("goal condition %s is not ground", c)}
			}
			target = append(target, newCond(c))
		}
	}

	plan, err := pabt.INew(w, []pabt.IConditions{target})
	if err != nil {
		return nil, &Error{Goal: name, Err: err}
	}
	node := plan.Node()

	limit := p.MaxTicks
	if limit <= 0 {
		limit = DefaultMaxTicks
	}
	for tick := 1; tick <= limit; tick++ {
		if err := ctx.Err(); err != nil {
			return nil, &Error{Goal: name, Err: err}
		}
		status, err := node.Tick()
		if err != nil {
			return nil, &Error{Goal: name, Err: err}
		}
		switch status {
		case bt.Success:
			slog.Debug("plan found", "goal", name, "steps", len(w.trace), "ticks", tick)
			return w.trace, nil
		case bt.Failure:
			return nil, &Error{Goal: name, Err: ErrNoPlan}
		}
	}
	return nil, &Error{Goal: name, Err: fmt.Errorf("%w within %d ticks", ErrNoPlan, limit)}
}

func factKey(p ir.Predicate) string {
	return p.Positive().Ground().Key()
}

// cond holds when the fact's presence equals want.
type cond struct {
	key  string
	pred ir.Predicate
	want bool
}

func newCond(p ir.Predicate) *cond {
	return &cond{key: factKey(p), pred: p.Positive().Ground(), want: !p.Negated}
}

func (c *cond) Key() any { return c.key }

func (c *cond) Match(v any) bool {
	b, _ := v.(bool)
	return b == c.want
}

type effect struct {
	key   string
	value bool
}

func (e *effect) Key() any   { return e.key }
func (e *effect) Value() any { return e.value }

type step struct {
	conds   []pabt.IConditions
	effects pabt.Effects
	node    bt.Node
}

func (s *step) Conditions() []pabt.IConditions { return s.conds }
func (s *step) Effects() pabt.Effects          { return s.effects }
func (s *step) Node() bt.Node                  { return s.node }

// world is the simulated fact state the tree runs against.
type world struct {
	facts     map[string]bool
	supers    map[string]string
	constants []Record
	actions   []Record
	trace     []ir.Predicate
}

var _ pabt.IState = (*world)(nil)

func newWorld(d *Domain, pr *Problem) *world {
	w := &world{
		facts:     make(map[string]bool),
		supers:    make(map[string]string),
		constants: pr.Of(KindConstant),
		actions:   d.Of(KindAction),
	}
	for _, r := range append(d.Of(KindType), w.constants...) {
		if r.Super != "" {
			w.supers[ir.FoldName(r.Name)] = ir.FoldName(r.Super)
		}
	}
	for _, st := range pr.Of(KindState) {
		for _, p := range st.AtStart {
			w.facts[factKey(p)] = !p.Negated
		}
	}
	return w
}

func (w *world) Variable(key any) (any, error) {
	k, ok := key.(string)
	if !ok {
		return nil, fmt.Errorf("invalid key (%T): %v", key, key)
	}
	return w.facts[k], nil
}

func (w *world) Actions(failed pabt.Condition) ([]pabt.IAction, error) {
	c, ok := failed.(*cond)
	if !ok {
		return nil, fmt.Errorf("invalid condition (%T): %v", failed, failed)
	}
	var out []pabt.IAction
	for _, a := range w.actions {
		for _, eff := range a.EndEffects {
			// A negated effect can only make a condition false.
			if eff.Negated == c.want {
				continue
			}
			b := make(map[string]string)
			if !w.unify(a, eff.Positive(), c.pred, b) {
				continue
			}
			for _, g := range w.groundings(a, b) {
				if s := w.ground(a, g); s != nil {
					out = append(out, s)
				}
			}
		}
	}
	return out, nil
}

// isA walks the super chain of name.
func (w *world) isA(name, typ string) bool {
	if typ == "" {
		return true
	}
	want := ir.FoldName(typ)
	cur := ir.FoldName(name)
	for range 64 {
		if cur == want {
			return true
		}
		next, ok := w.supers[cur]
		if !ok {
			return false
		}
		cur = next
	}
	return false
}

func varType(a Record, t ir.Term) string {
	if t.Type != "" {
		return t.Type
	}
	for _, v := range a.Vars {
		if ir.SameName(v.Name, t.Name) {
			return v.Type
		}
	}
	return ""
}

func (w *world) unify(a Record, tpl, ground ir.Predicate, b map[string]string) bool {
	if !ir.SameName(tpl.Name, ground.Name) || len(tpl.Args) != len(ground.Args) {
		return false
	}
	for i, t := range tpl.Args {
		g := ground.Args[i]
		switch {
		case t.Pred != nil || g.Pred != nil:
			if t.Pred == nil || g.Pred == nil || !w.unify(a, *t.Pred, *g.Pred, b) {
				return false
			}
		case t.Var:
			if !w.isA(g.Name, varType(a, t)) {
				return false
			}
			k := ir.FoldName(t.Name)
			if prev, ok := b[k]; ok && !ir.SameName(prev, g.Name) {
				return false
			}
			b[k] = g.Name
		default:
			if !ir.SameName(t.Name, g.Name) {
				return false
			}
		}
	}
	return true
}

// groundings extends b over the variables of a's conditions and effects
// that b leaves unbound, one constant of the variable's type at a time.
func (w *world) groundings(a Record, b map[string]string) []map[string]string {
	var free []ir.Term
	seen := make(map[string]bool)
	var collect func(ps []ir.Predicate)
	collect = func(ps []ir.Predicate) {
		for _, p := range ps {
			for _, t := range p.Args {
				if t.Pred != nil {
					collect([]ir.Predicate{*t.Pred})
					continue
				}
				k := ir.FoldName(t.Name)
				if !t.Var || seen[k] {
					continue
				}
				seen[k] = true
				if _, ok := b[k]; !ok {
					free = append(free, t)
				}
			}
		}
	}
	collect(a.AtStart)
	collect(a.OverAll)
	collect(a.EndEffects)

	out := []map[string]string{b}
	for _, v := range free {
		typ := varType(a, v)
		var next []map[string]string
		for _, partial := range out {
			for _, c := range w.constants {
				if !w.isA(c.Name, typ) || len(next) >= maxGroundings {
					continue
				}
				m := make(map[string]string, len(partial)+1)
				for k, val := range partial {
					m[k] = val
				}
				m[ir.FoldName(v.Name)] = c.Name
				next = append(next, m)
			}
		}
		out = next
	}
	return out
}

// ground instantiates a under g. It returns nil when a condition or
// effect stays non-ground.
func (w *world) ground(a Record, g map[string]string) *step {
	lookup := func(name string) (string, bool) {
		v, ok := g[ir.FoldName(name)]
		return v, ok
	}

	var conds pabt.IConditions
	for _, p := range append(append([]ir.Predicate(nil), a.AtStart...), a.OverAll...) {
		p = p.Substitute(lookup)
		if p.HasVars() {
			return nil
		}
		conds = append(conds, newCond(p))
	}
	var effects pabt.Effects
	for _, p := range a.EndEffects {
		p = p.Substitute(lookup)
		if p.HasVars() {
			return nil
		}
		effects = append(effects, &effect{key: factKey(p), value: !p.Negated})
	}

	call := ir.Predicate{Name: a.Name}
	for _, v := range a.Vars {
		val, ok := lookup(v.Name)
		if !ok {
			break
		}
		call.Args = append(call.Args, ir.Term{Name: val})
	}

	s := &step{effects: effects}
	if len(conds) > 0 {
		s.conds = []pabt.IConditions{conds}
	}
	s.node = bt.New(func([]bt.Node) (bt.Status, error) {
		for _, e := range effects {
			ef := e.(*effect)
			w.facts[ef.key] = ef.value
		}
		w.trace = append(w.trace, call)
		return bt.Success, nil
	})
	return s
}
