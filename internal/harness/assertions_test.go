package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ade/internal/actiondb"
	"github.com/roach88/ade/internal/ir"
)

func sampleResult() *Result {
	r := NewResult()
	r.AddCallTrace("Move", []string{"kitchen"})
	r.AddCallTrace("grasp", []string{"cup1", "left"})
	r.AddGoalTrace(1, "fetch", "tok", "succeeded", []string{"holding(self,cup1)"})
	r.AddCallTrace("grasp", []string{"cup2"})
	return r
}

func TestResultTrace(t *testing.T) {
	r := sampleResult()
	require.Len(t, r.Trace, 4)
	assert.Equal(t, "move", r.Trace[0].Action, "call names are folded")
	for i, ev := range r.Trace {
		assert.Equal(t, int64(i+1), ev.Seq)
	}
	assert.True(t, r.Pass)
	r.AddError("boom")
	assert.False(t, r.Pass)
}

func TestAssertTraceContains(t *testing.T) {
	trace := sampleResult().Trace
	assert.NoError(t, assertTraceContains(trace, Assertion{Action: "grasp"}))
	assert.NoError(t, assertTraceContains(trace, Assertion{Action: "GRASP", Args: []string{"cup1"}}), "args are a prefix")
	assert.NoError(t, assertTraceContains(trace, Assertion{Action: "grasp", Args: []string{"cup2"}}))

	err := assertTraceContains(trace, Assertion{Action: "grasp", Args: []string{"cup3"}})
	var ae *AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, AssertTraceContains, ae.Type)
	assert.Contains(t, err.Error(), "[1] move kitchen")
	assert.Contains(t, err.Error(), "goal 1 fetch -> succeeded")

	assert.Error(t, assertTraceContains(trace, Assertion{Action: "fetch"}), "goal events are not calls")
}

func TestAssertTraceOrder(t *testing.T) {
	trace := sampleResult().Trace
	assert.NoError(t, assertTraceOrder(trace, Assertion{Actions: []string{"move", "grasp"}}))

	err := assertTraceOrder(trace, Assertion{Actions: []string{"grasp", "move"}})
	assert.ErrorContains(t, err, "should be before")

	err = assertTraceOrder(trace, Assertion{Actions: []string{"move", "wave"}})
	assert.ErrorContains(t, err, "missing action: wave")
}

func TestAssertTraceCount(t *testing.T) {
	trace := sampleResult().Trace
	assert.NoError(t, assertTraceCount(trace, Assertion{Action: "grasp", Count: 2}))
	assert.NoError(t, assertTraceCount(trace, Assertion{Action: "wave", Count: 0}))
	assert.ErrorContains(t, assertTraceCount(trace, Assertion{Action: "move", Count: 2}), "1 occurrences")
}

func TestAssertFinalState(t *testing.T) {
	db := actiondb.New()
	require.NoError(t, db.Assert(ir.MustParsePredicate("holding(self, cup1)"), nil))
	facts := formatFacts(db.Facts())
	assert.Equal(t, []string{"holding(self,cup1)"}, facts)

	assert.NoError(t, assertFinalState(db, facts, Assertion{
		Holds:  []string{"holding(self,cup1)"},
		Absent: []string{"holding(self,cup2)"},
	}))

	err := assertFinalState(db, facts, Assertion{Holds: []string{"at(self, kitchen)"}})
	assert.ErrorContains(t, err, "at(self,kitchen) holds")
	assert.ErrorContains(t, err, "facts: [holding(self,cup1)]")

	err = assertFinalState(db, facts, Assertion{Absent: []string{"holding(self, cup1)"}})
	assert.ErrorContains(t, err, "holding(self,cup1) absent")
}

func TestFormatFactsWithValues(t *testing.T) {
	db := actiondb.New()
	require.NoError(t, db.Assert(ir.MustParsePredicate("charge(self)"), ir.IRInt(80)))
	assert.Equal(t, []string{"charge(self) = 80"}, formatFacts(db.Facts()))
}

func TestEvaluateAssertions(t *testing.T) {
	r := sampleResult()
	errs := EvaluateAssertions(r, []Assertion{
		{Type: AssertTraceCount, Action: "move", Count: 1},
		{Type: AssertFinalState, Holds: []string{"x"}},
		{Type: AssertGoalEvents, Goal: 1, Events: []string{"submitted"}},
		{Type: "bogus"},
	}, nil)
	require.Len(t, errs, 3)
	assert.Contains(t, errs[0], "requires a database")
	assert.Contains(t, errs[1], "requires a store")
	assert.Contains(t, errs[2], "unknown assertion type")
}

func TestMarshalSnapshot(t *testing.T) {
	r := NewResult()
	r.AddCallTrace("grasp", nil)
	r.AddGoalTrace(1, "fetch", "tok", "failed", nil)

	data, err := MarshalSnapshot("s", r)
	require.NoError(t, err)
	assert.Equal(t,
		`{"scenario_name":"s","trace":[{"action":"grasp","args":[],"seq":1,"type":"call"},`+
			`{"action":"fetch","goal":1,"seq":2,"status":"failed","token":"tok","type":"goal","updates":[]}]}`,
		string(data))
}
