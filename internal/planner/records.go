// Package planner translates the action database into planner records and
// asks a planner for step sequences achieving goals no single action does.
package planner

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/roach88/ade/internal/actiondb"
	"github.com/roach88/ade/internal/ir"
)

// Kind classifies a planner record.
type Kind string

const (
	KindType      Kind = "TYPE"
	KindAction    Kind = "ACTION"
	KindPredicate Kind = "PREDICATE"
	KindConstant  Kind = "CONSTANT"
	KindState     Kind = "STATE"
	KindGoal      Kind = "GOAL"
	KindOpen      Kind = "OPEN"
)

// Record is one element of a planning domain or problem.
type Record struct {
	Kind         Kind           `json:"kind"`
	Name         string         `json:"name"`
	Super        string         `json:"super,omitempty"`
	Vars         []ir.Term      `json:"vars,omitempty"`
	AtStart      []ir.Predicate `json:"at_start,omitempty"`
	OverAll      []ir.Predicate `json:"over_all,omitempty"`
	StartEffects []ir.Predicate `json:"start_effects,omitempty"`
	EndEffects   []ir.Predicate `json:"end_effects,omitempty"`
	Utility      float64        `json:"utility,omitempty"`
	Deadline     time.Duration  `json:"deadline,omitempty"`
}

func (r Record) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", r.Kind, r.Name)
	if r.Super != "" {
		fmt.Fprintf(&b, " - %s", r.Super)
	}
	if len(r.Vars) > 0 {
		vars := make([]string, len(r.Vars))
		for i, v := range r.Vars {
			vars[i] = v.String()
		}
		fmt.Fprintf(&b, " (%s)", strings.Join(vars, ", "))
	}
	return b.String()
}

// Domain holds the TYPE, PREDICATE and ACTION records.
type Domain struct {
	Records []Record
}

// Problem holds the CONSTANT, STATE and GOAL/OPEN records.
type Problem struct {
	Records []Record
}

// Of returns the records of the given kind in order.
func (d *Domain) Of(k Kind) []Record { return filter(d.Records, k) }

// Of returns the records of the given kind in order.
func (p *Problem) Of(k Kind) []Record { return filter(p.Records, k) }

func filter(recs []Record, k Kind) []Record {
	var out []Record
	for _, r := range recs {
		if r.Kind == k {
			out = append(out, r)
		}
	}
	return out
}

func isAction(e *actiondb.Entry) bool { return e.IsA(actiondb.TypeAction) }

func superName(e *actiondb.Entry) string {
	if p := e.Parent(); p != nil {
		return p.Type()
	}
	return ""
}

// BuildDomain emits a TYPE record per non-action type with subtypes (and
// per root), an ACTION record per action with postconditions, and a
// PREDICATE record per declared or referenced predicate name.
func BuildDomain(db *actiondb.Database) *Domain {
	d := &Domain{}
	preds := make(map[string]ir.Predicate)
	notePred := func(ps []ir.Predicate) {
		for _, p := range ps {
			k := ir.FoldName(p.Name)
			if _, ok := preds[k]; !ok {
				preds[k] = p.Positive()
			}
		}
	}
	notePred(db.Predicates())

	for _, e := range db.Entries() {
		switch {
		case isAction(e):
			post := e.Postconditions()
			if len(post) == 0 || ir.SameName(e.Type(), actiondb.TypeAction) {
				continue
			}
			vars := make([]ir.Term, 0, len(e.Roles()))
			for _, r := range e.Roles() {
				if r.Local {
					continue
				}
				vars = append(vars, ir.Term{Name: strings.TrimPrefix(r.Name, "?"), Type: r.Type, Var: true})
			}
			d.Records = append(d.Records, Record{
				Kind:       KindAction,
				Name:       e.Type(),
				Super:      superName(e),
				Vars:       vars,
				AtStart:    e.StartConditions(),
				OverAll:    e.OverAllConditions(),
				EndEffects: post,
				Utility:    e.Utility(),
				Deadline:   time.Duration(e.TimeoutMillis()) * time.Millisecond,
			})
			notePred(e.StartConditions())
			notePred(e.OverAllConditions())
			notePred(post)
		case e.Parent() == nil || len(db.Children(e)) > 0:
			d.Records = append(d.Records, Record{Kind: KindType, Name: e.Type(), Super: superName(e)})
		}
	}

	names := make([]string, 0, len(preds))
	for k := range preds {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		p := preds[k]
		d.Records = append(d.Records, Record{Kind: KindPredicate, Name: p.Name, Vars: p.Args})
	}
	return d
}

// BuildProblem emits a CONSTANT record per leaf non-action entry, a STATE
// record per fact and the goal: OPEN when it quantifies over a typed
// variable, GOAL otherwise.
func BuildProblem(db *actiondb.Database, goal ir.Predicate) *Problem {
	p := &Problem{}
	for _, e := range db.Entries() {
		if isAction(e) || e.IsA(actiondb.TypeFact) || e.Parent() == nil || len(db.Children(e)) > 0 {
			continue
		}
		p.Records = append(p.Records, Record{Kind: KindConstant, Name: e.Type(), Super: superName(e)})
	}
	for _, f := range db.Facts() {
		p.Records = append(p.Records, Record{Kind: KindState, Name: f.Predicate.Name, AtStart: []ir.Predicate{f.Predicate}})
	}

	rec := Record{Kind: KindGoal, Name: goal.Name, AtStart: []ir.Predicate{goal}}
	for _, a := range goal.Args {
		if a.Var && a.Typed() {
			rec.Kind = KindOpen
			rec.Vars = append(rec.Vars, a)
		}
	}
	p.Records = append(p.Records, rec)
	return p
}
