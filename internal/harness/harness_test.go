package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadScenario(t *testing.T, name string) *Scenario {
	t.Helper()
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", name))
	require.NoError(t, err)
	return s
}

func TestRun_FetchCup(t *testing.T) {
	result, err := Run(loadScenario(t, "fetch_cup.yaml"))
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)

	var goals []TraceEvent
	for _, ev := range result.Trace {
		if ev.Type == EventGoal {
			goals = append(goals, ev)
		}
	}
	require.Len(t, goals, 2)
	assert.Equal(t, "fetch-1", goals[0].Token)
	assert.Equal(t, "token-2", goals[1].Token)
	assert.Empty(t, goals[1].Updates, "a goal that already holds changes nothing")
	assert.Contains(t, result.Facts, "holding(self,cup1)")
}

func TestRun_FetchCupGolden(t *testing.T) {
	result, err := RunWithGolden(t, loadScenario(t, "fetch_cup.yaml"))
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_FailingPrimitive(t *testing.T) {
	result, err := Run(loadScenario(t, "fetch_fails.yaml"))
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.NotContains(t, result.Facts, "holding(self,cup2)")
}

func TestRun_ReportsUnmetExpectations(t *testing.T) {
	s := loadScenario(t, "fetch_cup.yaml")
	s.Fail = []string{"grasp"}
	s.Assertions = []Assertion{{Type: AssertTraceCount, Action: "move", Count: 3}}

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)

	var joined string
	for _, e := range result.Errors {
		joined += e + "\n"
	}
	assert.Contains(t, joined, "expected status succeeded, got failed")
	assert.Contains(t, joined, "3 occurrences of move")
}

func TestRun_PriorityPolicy(t *testing.T) {
	s := loadScenario(t, "fetch_cup.yaml")
	s.Policy = "priority"
	s.LockPolicy = "preemptive"

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_MissingSpec(t *testing.T) {
	s := loadScenario(t, "fetch_cup.yaml")
	s.Specs = []string{filepath.Join(t.TempDir(), "missing.cue")}

	_, err := Run(s)
	assert.ErrorContains(t, err, "failed to load specs")
}
