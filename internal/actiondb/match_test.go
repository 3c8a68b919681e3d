package actiondb

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ade/internal/ir"
)

func animalDB(t *testing.T) *Database {
	return newTestDB(t,
		ir.ActionDef{Type: "person", Super: "entity"},
		ir.ActionDef{Type: "dog", Super: "entity"},
		ir.ActionDef{Type: "actor", Super: "entity"},
	)
}

func TestPredicateMatchAsymmetric(t *testing.T) {
	db := animalDB(t)
	template := ir.MustParsePredicate("likes(?x:person, ?y:entity)")

	assert.True(t, db.PredicateMatch(ir.MustParsePredicate("likes(?a:person, ?b:dog)"), template))
	assert.False(t, db.PredicateMatch(ir.MustParsePredicate("likes(?a:dog, ?b:person)"), template),
		"dog is not a person")
	assert.False(t, db.PredicateMatch(template, ir.MustParsePredicate("likes(?a:person, ?b:dog)")),
		"entity is not a dog")
}

func TestPredicateMatchUntypedTemplateVariableAcceptsAnything(t *testing.T) {
	db := animalDB(t)
	template := ir.MustParsePredicate("near(?x, place)")
	assert.True(t, db.PredicateMatch(ir.MustParsePredicate("near(?a:dog, place)"), template))
	assert.True(t, db.PredicateMatch(ir.MustParsePredicate("near(rex, PLACE)"), template))
	assert.True(t, db.PredicateMatch(ir.MustParsePredicate("near(rex, ?where)"), template))
}

func TestPredicateMatchUntypedTemplateConstantNeedsSameName(t *testing.T) {
	db := animalDB(t)
	assert.False(t, db.PredicateMatch(ir.MustParsePredicate("done(tidy)"), ir.MustParsePredicate("done(rescue)")))
	assert.False(t, db.PredicateMatch(ir.MustParsePredicate("near(rex, kitchen:room)"), ir.MustParsePredicate("near(?x, place)")))
	assert.True(t, db.PredicateMatch(ir.MustParsePredicate("done(Rescue)"), ir.MustParsePredicate("done(rescue)")))
}

func TestLookupPostconditionSkipsOtherConstants(t *testing.T) {
	db := newTestDB(t,
		ir.ActionDef{Type: "tidy", Super: "action", Effects: []string{"done(tidy)"}, Benefit: 1},
		ir.ActionDef{Type: "rescue", Super: "action", Effects: []string{"done(rescue)"}, Benefit: 10},
	)
	m, err := db.LookupPostcondition(ir.MustParsePredicate("done(tidy)"))
	require.NoError(t, err)
	assert.Equal(t, "tidy", m.Entry.Type())
}

func TestPredicateMatchNameAndArity(t *testing.T) {
	db := animalDB(t)
	template := ir.MustParsePredicate("likes(?x:person, ?y:entity)")
	assert.True(t, db.PredicateMatch(ir.MustParsePredicate("LIKES(?a:person, ?b:dog)"), template))
	assert.False(t, db.PredicateMatch(ir.MustParsePredicate("loves(?a:person, ?b:dog)"), template))
	assert.False(t, db.PredicateMatch(ir.MustParsePredicate("likes(?a:person)"), template))
	assert.False(t, db.PredicateMatch(ir.MustParsePredicate("not(likes(?a:person, ?b:dog))"), template))
}

func TestPredicateMatchUnknownTypesCompareByName(t *testing.T) {
	db := New()
	template := ir.MustParsePredicate("at(?r:robot, ?p:place)")
	assert.True(t, db.PredicateMatch(ir.MustParsePredicate("at(r2:Robot, kitchen:place)"), template))
	assert.False(t, db.PredicateMatch(ir.MustParsePredicate("at(r2:drone, kitchen:place)"), template))
	assert.False(t, db.PredicateMatch(ir.MustParsePredicate("at(r2, kitchen:place)"), template),
		"an untyped candidate of unknown type cannot satisfy a typed template")
}

func TestPredicateMatchEntryTypesUntypedSymbol(t *testing.T) {
	db := newTestDB(t, ir.ActionDef{Type: "cup1", Super: "object"})
	template := ir.MustParsePredicate("holding(?o:object)")
	assert.True(t, db.PredicateMatch(ir.MustParsePredicate("holding(cup1)"), template))
}

func pickupDefs() []ir.ActionDef {
	return []ir.ActionDef{
		{Type: "actor", Super: "entity"},
		{Type: "pickup-slow", Super: "action", Effects: []string{"holding(?a:actor, ?o:object)"}, Benefit: 5, Cost: 1},
		{Type: "pickup-fast", Super: "action", Effects: []string{"holding(?a:actor, ?o:object)"}, Benefit: 10, Cost: 2},
		{Type: "smash", Super: "action", SuccessEffects: []string{"holding(?a:actor, ?o:object)", "broken(?o:object)"}, Benefit: 20},
	}
}

func TestLookupPostconditionPicksBestUtility(t *testing.T) {
	db := newTestDB(t, pickupDefs()[:3]...)
	goal := ir.MustParsePredicate("holding(self:actor, cup1:object)")

	m, err := db.LookupPostcondition(goal)
	require.NoError(t, err)
	assert.Equal(t, "pickup-fast", m.Entry.Type())
	assert.Equal(t, map[string]ir.Term{
		"a": {Name: "self", Type: "actor"},
		"o": {Name: "cup1", Type: "object"},
	}, m.Bindings(goal))
}

func TestLookupPostconditionTiesFavorEarliest(t *testing.T) {
	db := newTestDB(t,
		ir.ActionDef{Type: "first", Effects: []string{"done(?x)"}, Benefit: 4, Cost: 1},
		ir.ActionDef{Type: "second", Effects: []string{"done(?x)"}, Benefit: 5, Cost: 2},
	)
	m, err := db.LookupPostcondition(ir.MustParsePredicate("done(it)"))
	require.NoError(t, err)
	assert.Equal(t, "first", m.Entry.Type())
}

func TestLookupPostconditionNoAction(t *testing.T) {
	db := newTestDB(t, pickupDefs()...)
	_, err := db.LookupPostcondition(ir.MustParsePredicate("flying(self:actor)"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoAction))
	assert.False(t, errors.Is(err, ErrNoPermissibleAction))

	_, err = db.LookupPostcondition(ir.MustParsePredicate("holding(self:actor)"))
	assert.True(t, errors.Is(err, ErrNoAction), "arity mismatch is no match")
}

func TestLookupPostconditionForbiddenAction(t *testing.T) {
	db := newTestDB(t, pickupDefs()...)
	db.SetForbiddenActions([]string{"PICKUP-FAST", "smash"})

	m, err := db.LookupPostcondition(ir.MustParsePredicate("holding(self:actor, cup1:object)"))
	require.NoError(t, err)
	assert.Equal(t, "pickup-slow", m.Entry.Type())
}

func TestLookupPostconditionForbiddenSupertype(t *testing.T) {
	db := newTestDB(t,
		ir.ActionDef{Type: "violent", Super: "action"},
		ir.ActionDef{Type: "shove", Super: "violent", Effects: []string{"moved(?x)"}},
	)
	db.SetForbiddenActions([]string{"violent"})
	_, err := db.LookupPostcondition(ir.MustParsePredicate("moved(box)"))
	assert.True(t, errors.Is(err, ErrNoPermissibleAction))
}

func TestLookupPostconditionForbiddenState(t *testing.T) {
	db := newTestDB(t, pickupDefs()...)
	db.SetForbiddenStates([]ir.Predicate{ir.MustParsePredicate("broken(?x:object)")})

	goal := ir.MustParsePredicate("holding(self:actor, cup1:object)")
	cands := db.Candidates(goal)
	require.Len(t, cands, 3)
	assert.Equal(t, "smash", cands[2].Entry.Type())
	assert.False(t, cands[2].Permitted())
	require.Len(t, cands[2].Conflicts, 1)
	assert.Equal(t, "broken", cands[2].Conflicts[0].Name)

	m, err := db.LookupPostcondition(goal)
	require.NoError(t, err)
	assert.Equal(t, "pickup-fast", m.Entry.Type(), "smash has the best utility but is filtered")
}

func TestLookupPostconditionAllFiltered(t *testing.T) {
	db := newTestDB(t, pickupDefs()...)
	db.SetForbiddenActions([]string{"action"})

	_, err := db.LookupPostcondition(ir.MustParsePredicate("holding(self:actor, cup1:object)"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoPermissibleAction))
	assert.False(t, errors.Is(err, ErrNoAction))
}

func TestStateForbidden(t *testing.T) {
	db := New()
	db.SetForbiddenStates([]ir.Predicate{ir.MustParsePredicate("harmed(?x:person)")})
	assert.True(t, db.StateForbidden(ir.MustParsePredicate("harmed(bob:person)")))
	assert.False(t, db.StateForbidden(ir.MustParsePredicate("harmed(box:crate)")))
	assert.Len(t, db.ForbiddenStates(), 1)
}
