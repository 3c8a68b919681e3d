package planner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ade/internal/actiondb"
	"github.com/roach88/ade/internal/ir"
)

func kitchenDB(t *testing.T) *actiondb.Database {
	t.Helper()
	db := actiondb.New()
	defs := []ir.ActionDef{
		{Type: "actor", Super: actiondb.TypeObject},
		{Type: "self", Super: "actor"},
		{Type: "location", Super: actiondb.TypeObject},
		{Type: "kitchen", Super: "location"},
		{Type: "hall", Super: "location"},
		{Type: "cup", Super: actiondb.TypeObject},
		{Type: "cup1", Super: "cup"},
		{
			Type:    "goto",
			Super:   actiondb.TypeAction,
			Roles:   []ir.RoleDef{{Name: "l", Type: "location"}},
			Effects: []string{"at(self, ?l:location)"},
			Cost:    1,
			Benefit: 2,
		},
		{
			Type:            "pick",
			Super:           actiondb.TypeAction,
			Roles:           []ir.RoleDef{{Name: "o", Type: "object"}},
			StartConditions: []string{"at(self, kitchen)"},
			Effects:         []string{"holding(self, ?o:object)"},
			TimeoutMillis:   5000,
		},
		{Type: "idle", Super: actiondb.TypeAction},
	}
	for _, d := range defs {
		_, err := db.Put(d)
		require.NoError(t, err, "put %s", d.Type)
	}
	return db
}

func names(recs []Record) []string {
	var out []string
	for _, r := range recs {
		out = append(out, r.Name)
	}
	return out
}

func TestBuildDomain(t *testing.T) {
	d := BuildDomain(kitchenDB(t))

	actions := d.Of(KindAction)
	assert.Equal(t, []string{"goto", "pick"}, names(actions), "actions without postconditions are omitted")

	pick := actions[1]
	assert.Equal(t, actiondb.TypeAction, pick.Super)
	require.Len(t, pick.Vars, 1)
	assert.Equal(t, "?o:object", pick.Vars[0].String())
	require.Len(t, pick.AtStart, 1)
	assert.Equal(t, "at(self,kitchen)", pick.AtStart[0].Ground().String())
	assert.Equal(t, "holding(self,?o)", pick.EndEffects[0].Ground().String())
	assert.Equal(t, int64(5000), pick.Deadline.Milliseconds())
	assert.Equal(t, 1.0, actions[0].Utility)

	types := names(d.Of(KindType))
	assert.Contains(t, types, "actor")
	assert.Contains(t, types, "location")
	assert.Contains(t, types, actiondb.TypeEntity)
	assert.NotContains(t, types, "kitchen", "leaves are constants")

	assert.Equal(t, []string{"at", "holding"}, names(d.Of(KindPredicate)))
}

func TestBuildProblem(t *testing.T) {
	db := kitchenDB(t)
	require.NoError(t, db.Assert(ir.MustParsePredicate("at(self, hall)"), nil))

	p := BuildProblem(db, ir.MustParsePredicate("holding(self:actor, cup1:object)"))

	consts := names(p.Of(KindConstant))
	assert.ElementsMatch(t, []string{"self", "kitchen", "hall", "cup1"}, consts)

	states := p.Of(KindState)
	require.Len(t, states, 1)
	assert.Equal(t, "at(self,hall)", states[0].AtStart[0].Ground().String())

	goals := p.Of(KindGoal)
	require.Len(t, goals, 1)
	assert.Equal(t, "holding", goals[0].Name)
	assert.Empty(t, p.Of(KindOpen))
}

func TestBuildProblemOpenGoal(t *testing.T) {
	p := BuildProblem(kitchenDB(t), ir.MustParsePredicate("holding(self, ?c:cup)"))
	open := p.Of(KindOpen)
	require.Len(t, open, 1)
	require.Len(t, open[0].Vars, 1)
	assert.Equal(t, "cup", open[0].Vars[0].Type)
}

func TestPABTPlansTwoSteps(t *testing.T) {
	db := kitchenDB(t)
	require.NoError(t, db.Assert(ir.MustParsePredicate("at(self, hall)"), nil))
	goal := ir.MustParsePredicate("holding(self:actor, cup1:object)")

	steps, err := NewPABTPlanner(0).Plan(context.Background(), BuildDomain(db), BuildProblem(db, goal))
	require.NoError(t, err)

	var got []string
	for _, s := range steps {
		got = append(got, s.Ground().String())
	}
	assert.Equal(t, []string{"goto(kitchen)", "pick(cup1)"}, got)
}

func TestPABTGoalAlreadyHolds(t *testing.T) {
	db := kitchenDB(t)
	require.NoError(t, db.Assert(ir.MustParsePredicate("holding(self, cup1)"), nil))
	goal := ir.MustParsePredicate("holding(self, cup1)")

	steps, err := NewPABTPlanner(0).Plan(context.Background(), BuildDomain(db), BuildProblem(db, goal))
	require.NoError(t, err)
	assert.Empty(t, steps)
}

func TestPABTNoPlan(t *testing.T) {
	db := kitchenDB(t)
	goal := ir.MustParsePredicate("broken(cup1)")

	_, err := NewPABTPlanner(20).Plan(context.Background(), BuildDomain(db), BuildProblem(db, goal))
	var pe *Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "broken(cup1)", pe.Goal)
}

func TestPABTRejectsOpenGoal(t *testing.T) {
	db := kitchenDB(t)
	goal := ir.MustParsePredicate("holding(self, ?c:cup)")

	_, err := NewPABTPlanner(0).Plan(context.Background(), BuildDomain(db), BuildProblem(db, goal))
	var pe *Error
	require.ErrorAs(t, err, &pe)
	assert.Contains(t, pe.Error(), "quantified")
}

func TestPABTHonorsContext(t *testing.T) {
	db := kitchenDB(t)
	goal := ir.MustParsePredicate("holding(self, cup1)")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewPABTPlanner(0).Plan(ctx, BuildDomain(db), BuildProblem(db, goal))
	require.ErrorIs(t, err, context.Canceled)
}
