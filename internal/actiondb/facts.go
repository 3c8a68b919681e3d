package actiondb

import (
	"fmt"
	"sort"

	"github.com/roach88/ade/internal/ir"
)

// Fact is an asserted ground predicate with an optional value.
type Fact struct {
	Predicate ir.Predicate `json:"predicate"`
	Value     ir.IRValue   `json:"value,omitempty"`
	Seq       int64        `json:"seq"`
}

// FactMatch is a fact matched against a template, with the template's
// variables bound to the fact's arguments.
type FactMatch struct {
	Fact     Fact
	Bindings map[string]string
}

func factKey(p ir.Predicate) string {
	return p.Positive().Ground().Key()
}

// Assert records p as true with an optional value. Asserting a negated
// predicate retracts its positive form. The predicate must be ground and,
// when a schema was declared for its name, compatible with that schema.
func (db *Database) Assert(p ir.Predicate, value ir.IRValue) error {
	if p.HasVars() {
		return &DefinitionError{Code: ErrCodeInvalidPredicate, Message: fmt.Sprintf("fact %s is not ground", p)}
	}
	db.mu.Lock()
	defer db.mu.Unlock()

	if p.Negated {
		delete(db.facts, factKey(p))
		return nil
	}
	if schema, ok := db.predicates[ir.FoldName(p.Name)]; ok {
		if !db.predicateMatchLocked(db.typedLocked(p, schema), schema) {
			return &DefinitionError{Code: ErrCodeInvalidPredicate, Message: fmt.Sprintf("fact %s does not match declared predicate %s", p, schema)}
		}
	}
	db.factSeq++
	db.facts[factKey(p)] = &Fact{Predicate: p, Value: value, Seq: db.factSeq}
	return nil
}

// typedLocked fills each untyped argument of p with its known type. Where
// the type is unknown the template's type is assumed, so only known types
// are checked against the template.
func (db *Database) typedLocked(p ir.Predicate, template ir.Predicate) ir.Predicate {
	out := p
	out.Args = make([]ir.Term, len(p.Args))
	for i, a := range p.Args {
		if a.Pred == nil && a.Type == "" {
			a.Type = db.termTypeLocked(a)
			if a.Type == "" && i < len(template.Args) {
				a.Type = template.Args[i].Type
			}
		}
		out.Args[i] = a
	}
	return out
}

// AssertFact parses name as a predicate and asserts it. value may be nil.
// It returns false, logging why, when the fact is rejected.
func (db *Database) AssertFact(name string, value ir.IRValue) bool {
	p, err := ir.ParsePredicate(name)
	if err == nil {
		err = db.Assert(p, value)
	}
	if err != nil {
		db.logger.Warn("assert fact rejected", "fact", name, "error", err)
		return false
	}
	return true
}

// Retract removes p. It reports whether p was present.
func (db *Database) Retract(p ir.Predicate) bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	k := factKey(p)
	if _, ok := db.facts[k]; !ok {
		return false
	}
	delete(db.facts, k)
	return true
}

// RetractFact parses name and retracts it.
func (db *Database) RetractFact(name string) bool {
	p, err := ir.ParsePredicate(name)
	if err != nil {
		return false
	}
	return db.Retract(p)
}

// Holds reports whether the ground predicate p is currently true. A negated
// predicate holds when its positive form is absent.
func (db *Database) Holds(p ir.Predicate) bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	_, ok := db.facts[factKey(p)]
	if p.Negated {
		return !ok
	}
	return ok
}

// QueryFact returns the value of a fact and whether it is present. A fact
// asserted without a value reports IRBool(true). Entries that descend from
// the fact root type and carry a value act as facts too.
func (db *Database) QueryFact(name string) (ir.IRValue, bool) {
	p, err := ir.ParsePredicate(name)
	if err != nil {
		return nil, false
	}
	db.mu.RLock()
	defer db.mu.RUnlock()
	if f, ok := db.facts[factKey(p)]; ok {
		if f.Value == nil {
			return ir.IRBool(true), true
		}
		return f.Value, true
	}
	if e, ok := db.entries[ir.FoldName(p.Name)]; ok && len(p.Args) == 0 && e.IsA(TypeFact) && e.def.Value != nil {
		return e.def.Value, true
	}
	return nil, false
}

// Facts returns all facts in assertion order.
func (db *Database) Facts() []Fact {
	db.mu.RLock()
	defer db.mu.RUnlock()
	out := make([]Fact, 0, len(db.facts))
	for _, f := range db.facts {
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// MatchFacts returns the facts compatible with template, in assertion order.
// Template constants must equal the fact's arguments; template variables
// bind to them consistently; typed variables reject facts whose argument
// type is known and not a subtype.
func (db *Database) MatchFacts(template ir.Predicate) []FactMatch {
	facts := db.Facts()

	db.mu.RLock()
	defer db.mu.RUnlock()
	var out []FactMatch
	for _, f := range facts {
		if !db.predicateMatchLocked(db.typedLocked(f.Predicate, template), template.Positive()) {
			continue
		}
		b := make(map[string]string)
		if unify(template.Args, f.Predicate.Args, b) {
			out = append(out, FactMatch{Fact: f, Bindings: b})
		}
	}
	return out
}

func unify(tpl, cand []ir.Term, b map[string]string) bool {
	if len(tpl) != len(cand) {
		return false
	}
	for i, t := range tpl {
		c := cand[i]
		switch {
		case t.Pred != nil:
			if c.Pred == nil || !ir.SameName(t.Pred.Name, c.Pred.Name) || !unify(t.Pred.Args, c.Pred.Args, b) {
				return false
			}
		case t.Var:
			val := c.String()
			if c.Pred == nil {
				val = c.Name
			}
			if prev, ok := b[t.Name]; ok && !ir.SameName(prev, val) {
				return false
			}
			b[t.Name] = val
		default:
			if c.Pred != nil || !ir.SameName(t.Name, c.Name) {
				return false
			}
		}
	}
	return true
}

// DeclarePredicate registers a schema for facts named template.Name.
func (db *Database) DeclarePredicate(template ir.Predicate) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.predicates[ir.FoldName(template.Name)] = template.Positive()
}

// Predicates returns the declared predicate schemas.
func (db *Database) Predicates() []ir.Predicate {
	db.mu.RLock()
	defer db.mu.RUnlock()
	out := make([]ir.Predicate, 0, len(db.predicates))
	for _, p := range db.predicates {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}
