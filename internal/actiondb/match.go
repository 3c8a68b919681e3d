package actiondb

import (
	"fmt"
	"slices"

	"github.com/roach88/ade/internal/ir"
)

// PredicateMatch tests whether candidate is compatible with template.
//
// Names must match case-insensitively and arities must be equal. Per
// argument: an untyped template variable accepts anything; an untyped template
// constant accepts a variable or a constant of the same name; a typed template
// argument requires a typed candidate argument whose type IsA the template
// type (string equality when either type is unknown). An untyped candidate
// symbol that names an entry is typed by that entry. Two constants must also
// agree on name.
//
// The test is asymmetric: likes(?a:person,?b:dog) matches the template
// likes(?x:person,?y:entity), but not the other way round.
func (db *Database) PredicateMatch(candidate, template ir.Predicate) bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.predicateMatchLocked(candidate, template)
}

func (db *Database) predicateMatchLocked(candidate, template ir.Predicate) bool {
	if !ir.SameName(candidate.Name, template.Name) {
		return false
	}
	if candidate.Negated != template.Negated || len(candidate.Args) != len(template.Args) {
		return false
	}
	for i := range template.Args {
		if !db.argMatchLocked(candidate.Args[i], template.Args[i]) {
			return false
		}
	}
	return true
}

func (db *Database) argMatchLocked(cand, tpl ir.Term) bool {
	if tpl.Pred != nil {
		if cand.Pred == nil {
			return cand.Var && !cand.Typed()
		}
		return db.predicateMatchLocked(*cand.Pred, *tpl.Pred)
	}
	if !tpl.Typed() {
		if tpl.Var {
			return true
		}
		if cand.Pred != nil {
			return false
		}
		return cand.Var || ir.SameName(tpl.Name, cand.Name)
	}
	if cand.Pred != nil {
		return false
	}
	if !tpl.Var && !cand.Var && !ir.SameName(tpl.Name, cand.Name) {
		return false
	}
	ctype := db.termTypeLocked(cand)
	if ctype == "" {
		return false
	}
	return db.typeIsALocked(ctype, tpl.Type)
}

// termTypeLocked returns the declared type of t, or for an untyped constant
// naming an entry, that entry's type.
func (db *Database) termTypeLocked(t ir.Term) string {
	if t.Type != "" {
		return t.Type
	}
	if t.Var || t.Pred != nil {
		return ""
	}
	if e, ok := db.entries[ir.FoldName(t.Name)]; ok {
		return e.Type()
	}
	return ""
}

// Match is a postcondition index hit.
type Match struct {
	Entry     *Entry
	Template  ir.Predicate   // the postcondition that matched
	Forbidden bool           // entry is a forbidden action
	Conflicts []ir.Predicate // forbidden states among the entry's postconditions
}

// Permitted reports whether the match survived forbidden filtering.
func (m Match) Permitted() bool {
	return !m.Forbidden && len(m.Conflicts) == 0
}

// Bindings maps the template's variables to the goal's arguments.
func (m Match) Bindings(goal ir.Predicate) map[string]ir.Term {
	out := make(map[string]ir.Term)
	for i, a := range m.Template.Args {
		if a.Var && i < len(goal.Args) {
			out[a.Name] = goal.Args[i]
		}
	}
	return out
}

// Candidates returns every entry with a postcondition matching goal, in
// registration order, annotated with forbidden filtering.
func (db *Database) Candidates(goal ir.Predicate) []Match {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var out []Match
	seen := make(map[*Entry]bool)
	for _, ref := range db.postIndex[ir.FoldName(goal.Name)] {
		if seen[ref.entry] || !db.predicateMatchLocked(goal, ref.template) {
			continue
		}
		seen[ref.entry] = true
		out = append(out, Match{
			Entry:     ref.entry,
			Template:  ref.template,
			Forbidden: db.forbiddenActionLocked(ref.entry),
			Conflicts: db.forbiddenConflictsLocked(ref.entry),
		})
	}
	return out
}

// LookupPostcondition selects the permissible action with the highest
// utility (benefit - cost) whose postcondition matches goal. Ties favor the
// earliest registered entry.
//
// Returns ErrNoAction when nothing matches and ErrNoPermissibleAction when
// every match was forbidden.
func (db *Database) LookupPostcondition(goal ir.Predicate) (Match, error) {
	cands := db.Candidates(goal)
	if len(cands) == 0 {
		return Match{}, fmt.Errorf("%s: %w", goal, ErrNoAction)
	}
	best := -1
	for i, m := range cands {
		if !m.Permitted() {
			continue
		}
		if best < 0 || m.Entry.Utility() > cands[best].Entry.Utility() {
			best = i
		}
	}
	if best < 0 {
		return Match{}, fmt.Errorf("%s: %d candidates filtered: %w", goal, len(cands), ErrNoPermissibleAction)
	}
	return cands[best], nil
}

// SetForbiddenActions replaces the set of forbidden action types. An entry
// is forbidden when it IsA any listed type.
func (db *Database) SetForbiddenActions(types []string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.forbiddenActions = make(map[string]bool, len(types))
	for _, t := range types {
		db.forbiddenActions[ir.FoldName(t)] = true
	}
}

// SetForbiddenStates replaces the set of forbidden states.
func (db *Database) SetForbiddenStates(states []ir.Predicate) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.forbiddenStates = slices.Clone(states)
}

// ForbiddenStates returns the forbidden state templates.
func (db *Database) ForbiddenStates() []ir.Predicate {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return slices.Clone(db.forbiddenStates)
}

// IsForbidden reports whether e is a forbidden action.
func (db *Database) IsForbidden(e *Entry) bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.forbiddenActionLocked(e)
}

func (db *Database) forbiddenActionLocked(e *Entry) bool {
	for cur := e; cur != nil; cur = cur.parent {
		if db.forbiddenActions[cur.key] {
			return true
		}
	}
	return false
}

// ForbiddenConflicts returns the postconditions of e that match a forbidden state.
func (db *Database) ForbiddenConflicts(e *Entry) []ir.Predicate {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.forbiddenConflictsLocked(e)
}

func (db *Database) forbiddenConflictsLocked(e *Entry) []ir.Predicate {
	var out []ir.Predicate
	for _, p := range e.Postconditions() {
		for _, s := range db.forbiddenStates {
			if db.predicateMatchLocked(p, s) {
				out = append(out, p)
				break
			}
		}
	}
	return out
}

// StateForbidden reports whether a concrete predicate matches a forbidden state.
func (db *Database) StateForbidden(p ir.Predicate) bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	for _, s := range db.forbiddenStates {
		if db.predicateMatchLocked(p, s) {
			return true
		}
	}
	return false
}
