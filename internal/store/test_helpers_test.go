package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/ade/internal/ir"
)

// createTestStore creates a new store in a temp dir for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var testEpoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// createTestGoal creates a running goal record with minimal required fields.
func createTestGoal(id int64, predicate string) ir.GoalRecord {
	return ir.GoalRecord{
		ID:        id,
		Token:     "token-1",
		Predicate: ir.MustParsePredicate(predicate),
		Status:    ir.StatusRunning,
		StartedAt: testEpoch,
	}
}
