package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/ade/internal/actiondb"
	"github.com/roach88/ade/internal/ir"
)

// ErrNotFound is returned when a requested goal does not exist.
var ErrNotFound = errors.New("not found")

type goalRow struct {
	ID             int64   `db:"id"`
	Token          string  `db:"token"`
	Predicate      string  `db:"predicate"`
	Action         string  `db:"action"`
	Parent         int64   `db:"parent"`
	WaitConditions string  `db:"wait_conditions"`
	FailConditions string  `db:"fail_conditions"`
	Status         string  `db:"status"`
	Priority       float64 `db:"priority"`
	StartedAt      int64   `db:"started_at"`
	EndedAt        int64   `db:"ended_at"`
	Terminated     bool    `db:"terminated"`
	Updates        string  `db:"updates"`
	Error          string  `db:"error"`
}

const goalColumns = `id, token, predicate, action, parent, wait_conditions, fail_conditions,
	status, priority, started_at, ended_at, terminated, updates, error`

func (r goalRow) record() (ir.GoalRecord, error) {
	rec := ir.GoalRecord{
		ID:         r.ID,
		Token:      r.Token,
		Action:     r.Action,
		Parent:     r.Parent,
		Priority:   r.Priority,
		StartedAt:  fromMillis(r.StartedAt),
		EndedAt:    fromMillis(r.EndedAt),
		Terminated: r.Terminated,
		Error:      r.Error,
	}
	var err error
	if rec.Predicate, err = ir.ParsePredicate(r.Predicate); err != nil {
		return rec, fmt.Errorf("goal %d predicate: %w", r.ID, err)
	}
	if rec.Status, err = ir.ParseGoalStatus(r.Status); err != nil {
		return rec, fmt.Errorf("goal %d: %w", r.ID, err)
	}
	if rec.WaitConditions, err = unmarshalPredicates(r.WaitConditions); err != nil {
		return rec, fmt.Errorf("goal %d wait conditions: %w", r.ID, err)
	}
	if rec.FailConditions, err = unmarshalPredicates(r.FailConditions); err != nil {
		return rec, fmt.Errorf("goal %d fail conditions: %w", r.ID, err)
	}
	if rec.Updates, err = unmarshalPredicates(r.Updates); err != nil {
		return rec, fmt.Errorf("goal %d updates: %w", r.ID, err)
	}
	return rec, nil
}

func records(rows []goalRow) ([]ir.GoalRecord, error) {
	out := make([]ir.GoalRecord, 0, len(rows))
	for _, r := range rows {
		rec, err := r.record()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// ReadGoal returns the goal with the given ID, or ErrNotFound.
func (s *Store) ReadGoal(ctx context.Context, id int64) (ir.GoalRecord, error) {
	var row goalRow
	err := s.db.GetContext(ctx, &row, `SELECT `+goalColumns+` FROM goals WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.GoalRecord{}, fmt.Errorf("goal %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return ir.GoalRecord{}, fmt.Errorf("read goal %d: %w", id, err)
	}
	return row.record()
}

// ReadGoals returns all goals ordered by ID.
// Returns an empty slice (not nil) if none exist.
func (s *Store) ReadGoals(ctx context.Context) ([]ir.GoalRecord, error) {
	var rows []goalRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+goalColumns+` FROM goals ORDER BY id ASC`); err != nil {
		return nil, fmt.Errorf("read goals: %w", err)
	}
	return records(rows)
}

// ReadChildren returns the goals spawned by an open-world parent.
func (s *Store) ReadChildren(ctx context.Context, parent int64) ([]ir.GoalRecord, error) {
	var rows []goalRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+goalColumns+` FROM goals WHERE parent = ? ORDER BY id ASC`, parent)
	if err != nil {
		return nil, fmt.Errorf("read children of %d: %w", parent, err)
	}
	return records(rows)
}

type eventRow struct {
	GoalID int64  `db:"goal_id"`
	Seq    int64  `db:"seq"`
	Kind   string `db:"kind"`
	Status string `db:"status"`
	Detail string `db:"detail"`
	At     int64  `db:"at"`
}

func (r eventRow) event() (ir.GoalEvent, error) {
	status, err := ir.ParseGoalStatus(r.Status)
	if err != nil {
		return ir.GoalEvent{}, fmt.Errorf("event %d/%d: %w", r.GoalID, r.Seq, err)
	}
	return ir.GoalEvent{
		GoalID: r.GoalID,
		Seq:    r.Seq,
		Kind:   ir.GoalEventKind(r.Kind),
		Status: status,
		Detail: r.Detail,
		At:     fromMillis(r.At),
	}, nil
}

// ReadEvents returns the lifecycle log of one goal in seq order.
func (s *Store) ReadEvents(ctx context.Context, goalID int64) ([]ir.GoalEvent, error) {
	var rows []eventRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT goal_id, seq, kind, status, detail, at
		FROM goal_events
		WHERE goal_id = ?
		ORDER BY seq ASC
	`, goalID)
	if err != nil {
		return nil, fmt.Errorf("read events of %d: %w", goalID, err)
	}
	return events(rows)
}

// ReadLog returns every event with seq greater than after, across goals.
func (s *Store) ReadLog(ctx context.Context, after int64) ([]ir.GoalEvent, error) {
	var rows []eventRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT goal_id, seq, kind, status, detail, at
		FROM goal_events
		WHERE seq > ?
		ORDER BY seq ASC, goal_id ASC
	`, after)
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	return events(rows)
}

func events(rows []eventRow) ([]ir.GoalEvent, error) {
	out := make([]ir.GoalEvent, 0, len(rows))
	for _, r := range rows {
		ev, err := r.event()
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

// MaxSeq returns the highest event seq recorded, or 0 for an empty log.
func (s *Store) MaxSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := s.db.GetContext(ctx, &seq, `SELECT MAX(seq) FROM goal_events`); err != nil {
		return 0, fmt.Errorf("max seq: %w", err)
	}
	return seq.Int64, nil
}

type factRow struct {
	Key       string `db:"key"`
	Predicate string `db:"predicate"`
	Value     string `db:"value"`
	Seq       int64  `db:"seq"`
}

// ReadFacts returns the stored fact snapshot in assertion order.
func (s *Store) ReadFacts(ctx context.Context) ([]actiondb.Fact, error) {
	var rows []factRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT key, predicate, value, seq FROM facts ORDER BY seq ASC, key ASC
	`); err != nil {
		return nil, fmt.Errorf("read facts: %w", err)
	}
	out := make([]actiondb.Fact, 0, len(rows))
	for _, r := range rows {
		p, err := ir.ParsePredicate(r.Predicate)
		if err != nil {
			return nil, fmt.Errorf("fact %s: %w", r.Key, err)
		}
		v, err := unmarshalValue(r.Value)
		if err != nil {
			return nil, fmt.Errorf("fact %s: %w", r.Key, err)
		}
		out = append(out, actiondb.Fact{Predicate: p, Value: v, Seq: r.Seq})
	}
	return out, nil
}
