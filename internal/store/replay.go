package store

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/ade/internal/actiondb"
	"github.com/roach88/ade/internal/ir"
)

// RestoreFacts asserts the stored fact snapshot into db in assertion order.
// Returns the number of facts restored.
func (s *Store) RestoreFacts(ctx context.Context, db *actiondb.Database) (int, error) {
	facts, err := s.ReadFacts(ctx)
	if err != nil {
		return 0, fmt.Errorf("restore facts: %w", err)
	}
	for _, f := range facts {
		if err := db.Assert(f.Predicate, f.Value); err != nil {
			return 0, fmt.Errorf("restore fact %s: %w", f.Predicate, err)
		}
	}
	return len(facts), nil
}

// FindInterrupted returns goals that were never terminated. After a crash
// these are goals whose driver died with the process.
func (s *Store) FindInterrupted(ctx context.Context) ([]ir.GoalRecord, error) {
	var rows []goalRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+goalColumns+` FROM goals WHERE terminated = 0 ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("find interrupted goals: %w", err)
	}
	return records(rows)
}

// AbortInterrupted terminates every interrupted goal as Cancelled, appending
// a terminated event after the current end of the log. Returns the aborted
// goal IDs.
func (s *Store) AbortInterrupted(ctx context.Context, at time.Time) ([]int64, error) {
	recs, err := s.FindInterrupted(ctx)
	if err != nil {
		return nil, err
	}
	seq, err := s.MaxSeq(ctx)
	if err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(recs))
	for _, rec := range recs {
		seq++
		rec.Status = ir.StatusCancelled
		rec.Terminated = true
		rec.EndedAt = at
		rec.Error = "interrupted"
		if err := s.RecordEvent(ctx, ir.GoalEvent{
			GoalID: rec.ID,
			Seq:    seq,
			Kind:   ir.EventTerminated,
			Status: rec.Status,
			Detail: rec.Error,
			At:     at,
		}); err != nil {
			return ids, err
		}
		if err := s.RecordGoal(ctx, rec); err != nil {
			return ids, err
		}
		ids = append(ids, rec.ID)
	}
	return ids, nil
}
