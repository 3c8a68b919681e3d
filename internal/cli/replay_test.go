package cli

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ade/internal/ir"
	"github.com/roach88/ade/internal/store"
)

func replayJSON(t *testing.T, args ...string) ReplayResult {
	t.Helper()
	stdout, stderr, code := execute(t, append([]string{"--format", "json", "replay"}, args...)...)
	require.Equal(t, ExitSuccess, code, stdout+stderr)
	var resp struct {
		Data ReplayResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	return resp.Data
}

func TestReplay_Log(t *testing.T) {
	dbPath := seedDatabase(t)

	result := replayJSON(t, "--db", dbPath)
	require.Len(t, result.Events, 3)
	assert.True(t, result.Deterministic)
	assert.Equal(t, result.Events[2].Seq, result.LastSeq)
	assert.Equal(t, 2, result.FactsRestored)
	assert.Equal(t, []string{"at(self,hall)", "holding(self,cup1)"}, result.Facts)
	assert.Empty(t, result.Interrupted)

	tail := replayJSON(t, "--db", dbPath, "--after", "1")
	assert.Len(t, tail.Events, 2)
}

func TestReplay_Interrupted(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "ade.db")
	st, err := store.Open(dbPath)
	require.NoError(t, err)
	rec := ir.GoalRecord{
		ID:        7,
		Token:     "tok-7",
		Predicate: ir.MustParsePredicate("at(self, kitchen)"),
		Status:    ir.StatusRunning,
		StartedAt: time.UnixMilli(1_000),
	}
	require.NoError(t, st.RecordGoal(context.Background(), rec))
	require.NoError(t, st.Close())

	result := replayJSON(t, "--db", dbPath)
	assert.Equal(t, []int64{7}, result.Interrupted)
	assert.Empty(t, result.Events)
	assert.Equal(t, []string{}, result.Facts)
}

func TestReplay_Text(t *testing.T) {
	dbPath := seedDatabase(t)
	stdout, _, code := execute(t, "replay", "--db", dbPath)
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, "Replayed 3 event(s)")
	assert.Contains(t, stdout, "Restored 2 fact(s)")
	assert.Contains(t, stdout, "✓ Log replays identically")
}

func TestReplay_MissingDatabase(t *testing.T) {
	_, _, code := execute(t, "replay", "--db", filepath.Join(t.TempDir(), "none.db"))
	assert.Equal(t, ExitCommandError, code)
}
