package store

import (
	"context"
	"fmt"

	"github.com/roach88/ade/internal/actiondb"
	"github.com/roach88/ade/internal/ir"
)

// RecordGoal upserts a goal record. A record already marked terminated is
// frozen: later writes for the same ID are ignored.
func (s *Store) RecordGoal(ctx context.Context, rec ir.GoalRecord) error {
	waitJSON, err := marshalPredicates(rec.WaitConditions)
	if err != nil {
		return fmt.Errorf("record goal %d: %w", rec.ID, err)
	}
	failJSON, err := marshalPredicates(rec.FailConditions)
	if err != nil {
		return fmt.Errorf("record goal %d: %w", rec.ID, err)
	}
	updatesJSON, err := marshalPredicates(rec.Updates)
	if err != nil {
		return fmt.Errorf("record goal %d: %w", rec.ID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO goals
		(id, token, predicate, action, parent, wait_conditions, fail_conditions,
		 status, priority, started_at, ended_at, terminated, updates, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			action = excluded.action,
			status = excluded.status,
			priority = excluded.priority,
			ended_at = excluded.ended_at,
			terminated = excluded.terminated,
			updates = excluded.updates,
			error = excluded.error
		WHERE goals.terminated = 0
	`,
		rec.ID,
		rec.Token,
		rec.Predicate.String(),
		rec.Action,
		rec.Parent,
		waitJSON,
		failJSON,
		rec.Status.String(),
		rec.Priority,
		toMillis(rec.StartedAt),
		toMillis(rec.EndedAt),
		rec.Terminated,
		updatesJSON,
		rec.Error,
	)
	if err != nil {
		return fmt.Errorf("record goal %d: %w", rec.ID, err)
	}
	return nil
}

// RecordEvent appends a lifecycle event. Uses ON CONFLICT DO NOTHING so a
// replayed event with the same (goal_id, seq) is silently ignored.
//
// Note: The goal referenced by GoalID must exist (foreign key constraint).
func (s *Store) RecordEvent(ctx context.Context, ev ir.GoalEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO goal_events (goal_id, seq, kind, status, detail, at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(goal_id, seq) DO NOTHING
	`,
		ev.GoalID,
		ev.Seq,
		string(ev.Kind),
		ev.Status.String(),
		ev.Detail,
		toMillis(ev.At),
	)
	if err != nil {
		return fmt.Errorf("record event %d/%d: %w", ev.GoalID, ev.Seq, err)
	}
	return nil
}

// WriteFacts replaces the stored fact snapshot with facts in a single
// transaction.
func (s *Store) WriteFacts(ctx context.Context, facts []actiondb.Fact) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write facts: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM facts`); err != nil {
		return fmt.Errorf("write facts: clear: %w", err)
	}

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO facts (key, predicate, value, seq) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, seq = excluded.seq
	`)
	if err != nil {
		return fmt.Errorf("write facts: prepare: %w", err)
	}
	defer stmt.Close()

	for _, f := range facts {
		valueJSON, err := marshalValue(f.Value)
		if err != nil {
			return fmt.Errorf("write fact %s: %w", f.Predicate, err)
		}
		p := f.Predicate.Positive().Ground()
		if _, err := stmt.ExecContext(ctx, p.Key(), p.String(), valueJSON, f.Seq); err != nil {
			return fmt.Errorf("write fact %s: %w", f.Predicate, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write facts: commit: %w", err)
	}
	return nil
}
