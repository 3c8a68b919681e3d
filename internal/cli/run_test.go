package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ade/internal/testutil"
)

const cupGoal = "holding(self:actor, cup1:object)"

func TestRun_AchievesGoal(t *testing.T) {
	stdout, stderr, code := execute(t, "run", kitchenSpec, "--goal", cupGoal)
	require.Equal(t, ExitSuccess, code, stdout+stderr)
	assert.Contains(t, stdout, "succeeded via fetch")
	assert.Contains(t, stdout, "  move kitchen\n  grasp cup1\n")
	assert.Contains(t, stdout, "holding(self,cup1)")
	assert.Contains(t, stdout, "at(self,hall)")
}

func TestRun_FailingPrimitive(t *testing.T) {
	stdout, stderr, code := execute(t, "run", kitchenSpec, "--goal", cupGoal, "--fail", "grasp")
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, stdout, "✗ goal")
	assert.Contains(t, stdout, "failed")
	assert.Contains(t, stderr, "1 of 1 goal(s) not achieved")
}

func TestRun_UnachievableGoal(t *testing.T) {
	stdout, _, code := execute(t, "run", kitchenSpec, "--goal", "flying(self)")
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, stdout, "flying(self): failed")
}

func TestRun_JSON(t *testing.T) {
	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetContext(context.Background())

	opts := &RunOptions{
		RootOptions: &RootOptions{Format: "json"},
		Goals:       []string{cupGoal},
		Timeout:     10 * time.Second,
		Tokens:      testutil.NewFixedTokens("fetch-1"),
	}
	require.NoError(t, runGoals(opts, kitchenSpec, cmd))

	var resp struct {
		Status string    `json:"status"`
		Data   RunResult `json:"data"`
		Goals  GoalTally `json:"goals"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, GoalTally{Total: 1, Succeeded: 1}, resp.Goals)
	require.Len(t, resp.Data.Goals, 1)
	g := resp.Data.Goals[0]
	assert.Equal(t, "fetch-1", g.Token)
	assert.Equal(t, "fetch", g.Action)
	assert.Equal(t, "succeeded", g.Status)
	assert.Equal(t, []string{"holding(self,cup1)"}, g.Updates)
	assert.Len(t, g.UpdatesHash, 64)
	assert.Equal(t, []string{"move kitchen", "grasp cup1"}, resp.Data.Calls)
	assert.Equal(t, []string{"at(self,hall)", "holding(self,cup1)"}, resp.Data.Facts)
}

func TestRun_JSONReportsFailedGoals(t *testing.T) {
	stdout, _, code := execute(t, "--format", "json", "run", kitchenSpec, "--goal", cupGoal, "--goal", "flying(self)")
	assert.Equal(t, ExitFailure, code)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Goals)
	assert.Equal(t, GoalTally{Total: 2, Succeeded: 1, Failed: 1}, *resp.Goals)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeGoal, resp.Error.Code)
}

func TestRun_PersistsFactsAcrossRuns(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "ade.db")

	stdout, _, code := execute(t, "run", kitchenSpec, "--db", dbPath, "--goal", cupGoal)
	require.Equal(t, ExitSuccess, code, stdout)
	assert.Contains(t, stdout, "Calls:")

	// The restored fact already holds, so nothing runs the second time.
	stdout, _, code = execute(t, "run", kitchenSpec, "--db", dbPath, "--goal", cupGoal)
	require.Equal(t, ExitSuccess, code, stdout)
	assert.Contains(t, stdout, "succeeded")
	assert.NotContains(t, stdout, "Calls:")
}

func TestRun_Config(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "ade.toml")
	dbPath := filepath.Join(dir, "from-config.db")
	cfg := "policy = \"priority\"\nlock_policy = \"preemptive\"\ndatabase = \"" + filepath.ToSlash(dbPath) + "\"\nforbidden_actions = [\"fetch\"]\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o644))

	stdout, _, code := execute(t, "run", kitchenSpec, "--config", cfgPath, "--goal", cupGoal)
	assert.Equal(t, ExitFailure, code, "the only achieving action is forbidden")
	assert.Contains(t, stdout, "failed")
	_, err := os.Stat(dbPath)
	assert.NoError(t, err, "database path comes from the config file")
}

func TestRun_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		code int
		want string
	}{
		{"bad goal", []string{"run", kitchenSpec, "--goal", "holding(self"}, ExitCommandError, ErrCodeGoal},
		{"missing specs", []string{"run", "nope", "--goal", cupGoal}, ExitCommandError, ErrCodeNotFound},
		{"bad policy", []string{"run", kitchenSpec, "--goal", cupGoal, "--policy", "random"}, ExitCommandError, ""},
		{"missing config", []string{"run", kitchenSpec, "--goal", cupGoal, "--config", "nope.yaml"}, ExitCommandError, ErrCodeConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stdout, _, code := execute(t, tt.args...)
			assert.Equal(t, tt.code, code)
			assert.Contains(t, stdout, tt.want)
		})
	}
}

func TestRun_RequiresGoal(t *testing.T) {
	_, stderr, code := execute(t, "run", kitchenSpec)
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, stderr, "goal")
}
