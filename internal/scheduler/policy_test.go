package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ade/internal/actiondb"
	"github.com/roach88/ade/internal/ir"
	"github.com/roach88/ade/internal/testutil"
)

func entry(t *testing.T, def ir.ActionDef) *actiondb.Entry {
	t.Helper()
	def.Super = actiondb.TypeAction
	e, err := actiondb.New().Put(def)
	require.NoError(t, err)
	return e
}

func TestUrgency(t *testing.T) {
	e := entry(t, ir.ActionDef{Type: "fetch", MinUrgency: 1, MaxUrgency: 3})
	in := &Instance{Entry: e, Start: testutil.Epoch, Deadline: testutil.Epoch.Add(10 * time.Second)}

	assert.InDelta(t, 1.0, Urgency(testutil.Epoch, in), 1e-9)
	assert.InDelta(t, 2.0, Urgency(testutil.Epoch.Add(5*time.Second), in), 1e-9)
	assert.InDelta(t, 3.0, Urgency(testutil.Epoch.Add(time.Minute), in), 1e-9, "clamped")

	in.Deadline = time.Time{}
	assert.InDelta(t, 1.0, Urgency(testutil.Epoch.Add(time.Hour), in), 1e-9, "no deadline: minimum")

	neutral := &Instance{Entry: entry(t, ir.ActionDef{Type: "idle"}), Start: testutil.Epoch}
	assert.InDelta(t, 1.0, Urgency(testutil.Epoch, neutral), 1e-9)

	floor := &Instance{
		Entry:    entry(t, ir.ActionDef{Type: "patrol", MinUrgency: 2}),
		Start:    testutil.Epoch,
		Deadline: testutil.Epoch.Add(10 * time.Second),
	}
	assert.InDelta(t, 2.0, Urgency(testutil.Epoch, floor), 1e-9)
	assert.InDelta(t, 2.0, Urgency(testutil.Epoch.Add(time.Minute), floor), 1e-9, "minimum only: constant")
}

func TestExpired(t *testing.T) {
	in := &Instance{Start: testutil.Epoch, Deadline: testutil.Epoch.Add(time.Second)}
	assert.False(t, Expired(testutil.Epoch, in))
	assert.True(t, Expired(testutil.Epoch.Add(time.Second), in))
	assert.False(t, Expired(testutil.Epoch.Add(time.Hour), &Instance{Start: testutil.Epoch}))
}

func TestPriorityPolicy(t *testing.T) {
	e := entry(t, ir.ActionDef{Type: "fetch", Benefit: 5, Cost: 1, MinUrgency: 1, MaxUrgency: 2})
	in := &Instance{Entry: e, Start: testutil.Epoch, Deadline: testutil.Epoch.Add(10 * time.Second), Priority: -1}

	Priority{}.Prioritize(testutil.Epoch.Add(5*time.Second), []*Instance{in})
	assert.InDelta(t, 6.0, in.Priority, 1e-9, "1.5 * 4")

	Priority{}.Prioritize(testutil.Epoch.Add(20*time.Second), []*Instance{in})
	assert.InDelta(t, 6.0, in.Priority, 1e-9, "expired instances keep their priority")
}

func TestLinearKeepsPriority(t *testing.T) {
	in := &Instance{Entry: entry(t, ir.ActionDef{Type: "fetch", Benefit: 5}), Priority: 7}
	Linear{}.Prioritize(testutil.Epoch, []*Instance{in})
	assert.Equal(t, 7.0, in.Priority)
	assert.False(t, Linear{}.Ordered())
}

func TestAffectivePolicy(t *testing.T) {
	e := entry(t, ir.ActionDef{Type: "play", Benefit: 2, Cost: 1})
	var decayed float64
	in := &Instance{
		Entry:       e,
		Start:       testutil.Epoch,
		Affect:      func() (float64, float64) { return 0.5, 0 },
		DecayAffect: func(step float64) { decayed = step },
	}
	a := NewAffective()
	a.Prioritize(testutil.Epoch, []*Instance{in})

	assert.InDelta(t, 1.5, in.Priority, 1e-9, "(1 + 0.25) * 2 - 1")
	assert.InDelta(t, 0.01, decayed, 1e-12)
	pos, neg := a.Mood()
	assert.InDelta(t, 0.004, pos, 1e-12)
	assert.Equal(t, 0.0, neg)

	sad := &Instance{Entry: e, Start: testutil.Epoch, Affect: func() (float64, float64) { return 0, 1 }}
	a.Prioritize(testutil.Epoch, []*Instance{sad})
	assert.InDelta(t, -1.0, sad.Priority, 1e-9, "(1 - 1) * 2 - 1")
}

func TestParsePolicy(t *testing.T) {
	for name, want := range map[string]string{"": "linear", "Linear": "linear", "priority": "priority", " AFFECTIVE ": "affective"} {
		p, err := ParsePolicy(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, p.Name())
	}
	_, err := ParsePolicy("random")
	assert.Error(t, err)
}
