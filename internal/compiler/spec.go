package compiler

import (
	"fmt"

	"cuelang.org/go/cue"

	"github.com/roach88/ade/internal/actiondb"
	"github.com/roach88/ade/internal/ir"
)

// Spec is everything one CUE source contributes to a Database.
type Spec struct {
	Defs             []ir.ActionDef
	Facts            []Fact
	Predicates       []ir.Predicate
	ForbiddenActions []string
	ForbiddenStates  []ir.Predicate
}

// Fact is an initial world fact. A nil Value marks a plain truth.
type Fact struct {
	Predicate ir.Predicate
	Value     ir.IRValue
}

// Compile parses the top-level sections of a CUE value:
//
//	type: cup: { super: "object" }
//	action: pickup: { roles: [...], script: [...], effects: [...] }
//	fact: "at(self, hall)": true
//	predicate: ["at(?a:actor, ?l:location)"]
//	forbidden: { actions: ["harm"], states: ["broken(?x)"] }
//
// Types default to supertype "object" and actions to "action".
func Compile(v cue.Value) (*Spec, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	spec := &Spec{}

	types, err := compileSection(v, "type", actiondb.TypeObject)
	if err != nil {
		return nil, err
	}
	actions, err := compileSection(v, "action", actiondb.TypeAction)
	if err != nil {
		return nil, err
	}
	spec.Defs = append(types, actions...)

	if spec.Facts, err = CompileFacts(v.LookupPath(cue.ParsePath("fact"))); err != nil {
		return nil, err
	}

	preds, err := optStrings(v, "predicate")
	if err != nil {
		return nil, err
	}
	if spec.Predicates, err = parsePredicates(v, "predicate", preds); err != nil {
		return nil, err
	}

	if fv := v.LookupPath(cue.ParsePath("forbidden")); fv.Exists() {
		if spec.ForbiddenActions, err = optStrings(fv, "actions"); err != nil {
			return nil, err
		}
		states, err := optStrings(fv, "states")
		if err != nil {
			return nil, err
		}
		if spec.ForbiddenStates, err = parsePredicates(fv, "forbidden.states", states); err != nil {
			return nil, err
		}
	}
	return spec, nil
}

func compileSection(v cue.Value, section, super string) ([]ir.ActionDef, error) {
	sv := v.LookupPath(cue.ParsePath(section))
	if !sv.Exists() {
		return nil, nil
	}
	iter, err := sv.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var defs []ir.ActionDef
	for iter.Next() {
		def, err := CompileAction(iter.Value())
		if err != nil {
			return nil, err
		}
		if def.Super == "" {
			def.Super = super
		}
		defs = append(defs, *def)
	}
	return defs, nil
}

// CompileFacts parses a struct of predicate-labelled values. true records
// a plain fact; false is skipped; anything else becomes the fact's value.
func CompileFacts(v cue.Value) ([]Fact, error) {
	if !v.Exists() {
		return nil, nil
	}
	iter, err := v.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var facts []Fact
	for iter.Next() {
		fv := iter.Value()
		p, err := ir.ParsePredicate(iter.Label())
		if err != nil {
			return nil, &CompileError{Field: "fact", Message: err.Error(), Pos: fv.Pos()}
		}
		if p.HasVars() {
			return nil, &CompileError{Field: "fact", Message: fmt.Sprintf("fact %s is not ground", p), Pos: fv.Pos()}
		}
		val, err := ToIRValue(fv)
		if err != nil {
			return nil, err
		}
		if b, ok := val.(ir.IRBool); ok {
			if !b {
				continue
			}
			val = nil
		}
		facts = append(facts, Fact{Predicate: p, Value: val})
	}
	return facts, nil
}

func parsePredicates(v cue.Value, field string, texts []string) ([]ir.Predicate, error) {
	ps, err := ir.ParsePredicates(texts)
	if err != nil {
		return nil, &CompileError{Field: field, Message: err.Error(), Pos: v.Pos()}
	}
	return ps, nil
}

// Merge appends other's contents to s.
func (s *Spec) Merge(other *Spec) {
	s.Defs = append(s.Defs, other.Defs...)
	s.Facts = append(s.Facts, other.Facts...)
	s.Predicates = append(s.Predicates, other.Predicates...)
	s.ForbiddenActions = append(s.ForbiddenActions, other.ForbiddenActions...)
	s.ForbiddenStates = append(s.ForbiddenStates, other.ForbiddenStates...)
}

// Apply registers the spec into db: definitions in dependency order, then
// predicate schemas, facts and forbidden lists. Definition errors do not
// stop the load; every one is returned.
func (s *Spec) Apply(db *actiondb.Database) []error {
	_, errs := db.PutAll(s.Defs)
	for _, p := range s.Predicates {
		db.DeclarePredicate(p)
	}
	for _, f := range s.Facts {
		if err := db.Assert(f.Predicate, f.Value); err != nil {
			errs = append(errs, err)
		}
	}
	if len(s.ForbiddenActions) > 0 {
		db.SetForbiddenActions(s.ForbiddenActions)
	}
	if len(s.ForbiddenStates) > 0 {
		db.SetForbiddenStates(s.ForbiddenStates)
	}
	return errs
}
