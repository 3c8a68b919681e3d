package actiondb

import (
	"github.com/roach88/ade/internal/ir"
)

// Entry is a prototype: an immutable action or type definition.
//
// Entries form a single-parent type tree. Running instances never copy an
// Entry; they reference it and allocate their own mutable frame state.
type Entry struct {
	def    ir.ActionDef
	key    string
	parent *Entry
	order  int

	startConds   []ir.Predicate
	overAllConds []ir.Predicate
	effects      []ir.Predicate
	success      []ir.Predicate
	failure      []ir.Predicate
}

// Type returns the entry's type name as declared.
func (e *Entry) Type() string { return e.def.Type }

// Key returns the case-folded type name.
func (e *Entry) Key() string { return e.key }

// Def returns a copy of the definition the entry was built from.
func (e *Entry) Def() ir.ActionDef { return e.def }

// Parent returns the supertype entry, or nil for a root.
func (e *Entry) Parent() *Entry { return e.parent }

// Order is the registration sequence number. Earlier entries win ties.
func (e *Entry) Order() int { return e.order }

func (e *Entry) Roles() []ir.RoleDef               { return e.def.Roles }
func (e *Entry) Events() [][]string                { return e.def.Events }
func (e *Entry) Locks() []string                   { return e.def.Locks }
func (e *Entry) Transparent() bool                 { return e.def.Transparent }
func (e *Entry) Primitive() bool                   { return e.def.Primitive }
func (e *Entry) TimeoutMillis() int64              { return e.def.TimeoutMillis }
func (e *Entry) Cost() float64                     { return e.def.Cost }
func (e *Entry) Benefit() float64                  { return e.def.Benefit }
func (e *Entry) Urgency() (lo, hi float64)         { return e.def.MinUrgency, e.def.MaxUrgency }
func (e *Entry) StartConditions() []ir.Predicate   { return e.startConds }
func (e *Entry) OverAllConditions() []ir.Predicate { return e.overAllConds }
func (e *Entry) Effects() []ir.Predicate           { return e.effects }
func (e *Entry) SuccessEffects() []ir.Predicate    { return e.success }
func (e *Entry) FailureEffects() []ir.Predicate    { return e.failure }

// Utility is benefit minus cost.
func (e *Entry) Utility() float64 {
	return e.def.Benefit - e.def.Cost
}

// Postconditions are the predicates indexed for reverse lookup: effects
// followed by success effects.
func (e *Entry) Postconditions() []ir.Predicate {
	out := make([]ir.Predicate, 0, len(e.effects)+len(e.success))
	out = append(out, e.effects...)
	return append(out, e.success...)
}

// IsA reports whether the entry's type equals typ, case-insensitively, or
// any ancestor's does.
func (e *Entry) IsA(typ string) bool {
	return e.IsADepth(typ, -1)
}

// IsADepth is IsA bounded to depth ancestor hops. Depth 0 checks only the
// entry itself; a negative depth is unbounded.
func (e *Entry) IsADepth(typ string, depth int) bool {
	key := ir.FoldName(typ)
	for cur, hops := e, 0; cur != nil; cur, hops = cur.parent, hops+1 {
		if depth >= 0 && hops > depth {
			return false
		}
		if cur.key == key {
			return true
		}
	}
	return false
}

// Depth is the number of ancestors above the entry.
func (e *Entry) Depth() int {
	d := 0
	for cur := e.parent; cur != nil; cur = cur.parent {
		d++
	}
	return d
}

// Ancestors returns the entry followed by its supertypes, nearest first.
func (e *Entry) Ancestors() []*Entry {
	var out []*Entry
	for cur := e; cur != nil; cur = cur.parent {
		out = append(out, cur)
	}
	return out
}

func (e *Entry) String() string {
	return e.def.Type
}
