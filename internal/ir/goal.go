package ir

import "time"

// GoalRecord is the durable view of a submitted goal.
//
// Once Terminated is set the record is frozen: Status, Updates and EndedAt
// never change again.
type GoalRecord struct {
	ID             int64       `json:"id"`
	Token          string      `json:"token"`
	Predicate      Predicate   `json:"predicate"`
	Action         string      `json:"action,omitempty"`
	Parent         int64       `json:"parent,omitempty"`
	WaitConditions []Predicate `json:"wait_conditions,omitempty"`
	FailConditions []Predicate `json:"fail_conditions,omitempty"`
	Status         GoalStatus  `json:"status"`
	Priority       float64     `json:"priority"`
	StartedAt      time.Time   `json:"started_at"`
	EndedAt        time.Time   `json:"ended_at,omitzero"`
	Terminated     bool        `json:"terminated"`
	Updates        []Predicate `json:"updates,omitempty"`
	Error          string      `json:"error,omitempty"`
}

// GoalEventKind names a goal lifecycle event.
type GoalEventKind string

const (
	EventSubmitted  GoalEventKind = "submitted"
	EventUpdate     GoalEventKind = "update"
	EventTerminated GoalEventKind = "terminated"
)

// GoalEvent is one entry of a goal's lifecycle log. Seq is strictly
// increasing across all goals of one scheduler.
type GoalEvent struct {
	GoalID int64         `json:"goal_id"`
	Seq    int64         `json:"seq"`
	Kind   GoalEventKind `json:"kind"`
	Status GoalStatus    `json:"status"`
	Detail string        `json:"detail,omitempty"`
	At     time.Time     `json:"at"`
}
