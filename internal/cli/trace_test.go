package cli

import (
	"encoding/json"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedDatabase runs the kitchen goal once against a fresh database file.
func seedDatabase(t *testing.T) string {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "ade.db")
	stdout, _, code := execute(t, "run", kitchenSpec, "--db", dbPath, "--goal", cupGoal)
	require.Equal(t, ExitSuccess, code, stdout)
	return dbPath
}

func traceJSON(t *testing.T, args ...string) TraceResult {
	t.Helper()
	stdout, stderr, code := execute(t, append([]string{"--format", "json", "trace"}, args...)...)
	require.Equal(t, ExitSuccess, code, stdout+stderr)
	var resp struct {
		Data TraceResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	return resp.Data
}

func TestTrace_AllGoals(t *testing.T) {
	dbPath := seedDatabase(t)

	result := traceJSON(t, "--db", dbPath)
	require.Len(t, result.Goals, 1)
	gt := result.Goals[0]
	assert.Equal(t, "fetch", gt.Goal.Action)
	assert.Equal(t, "succeeded", gt.Goal.Status.String())

	kinds := make([]string, len(gt.Events))
	for i, ev := range gt.Events {
		kinds[i] = string(ev.Kind)
	}
	assert.Equal(t, []string{"submitted", "update", "terminated"}, kinds)
	assert.Equal(t, TraceStats{Goals: 1, Events: 3, Succeeded: 1}, result.Stats)
	assert.Len(t, gt.Hash, 64)
}

func TestTrace_ByIDAndToken(t *testing.T) {
	dbPath := seedDatabase(t)
	goal := traceJSON(t, "--db", dbPath).Goals[0].Goal

	byID := traceJSON(t, "--db", dbPath, "--goal", strconv.FormatInt(goal.ID, 10))
	require.Len(t, byID.Goals, 1)
	assert.Equal(t, goal.Token, byID.Goals[0].Goal.Token)

	byToken := traceJSON(t, "--db", dbPath, "--token", goal.Token)
	require.Len(t, byToken.Goals, 1)
	assert.Equal(t, goal.ID, byToken.Goals[0].Goal.ID)
}

func TestTrace_Text(t *testing.T) {
	dbPath := seedDatabase(t)
	stdout, _, code := execute(t, "trace", "--db", dbPath)
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, ": succeeded via fetch")
	assert.Contains(t, stdout, "+ holding(self,cup1)")
	assert.Contains(t, stdout, "1 goal(s), 3 event(s): 1 succeeded, 0 failed, 0 open")
}

func TestTrace_NotFound(t *testing.T) {
	dbPath := seedDatabase(t)

	_, _, code := execute(t, "trace", "--db", dbPath, "--goal", "42")
	assert.Equal(t, ExitFailure, code)

	_, _, code = execute(t, "trace", "--db", dbPath, "--token", "nope")
	assert.Equal(t, ExitFailure, code)

	_, _, code = execute(t, "trace", "--db", filepath.Join(t.TempDir(), "none.db"))
	assert.Equal(t, ExitCommandError, code)
}
