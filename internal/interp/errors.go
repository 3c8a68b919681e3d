package interp

import (
	"errors"
	"fmt"
)

// RuntimeError represents a failure detected while running a script.
//
// Runtime errors never escape as panics; they become the failing frame's
// status and propagate up the caller chain into the goal record.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// Goal identifies the interpreter (goal) that failed.
	Goal string

	// Action is the type name of the frame that failed.
	Action string

	// Details contains additional context.
	Details map[string]string
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeLockUnavailable indicates a lock was not acquired within its attempt budget.
	ErrCodeLockUnavailable RuntimeErrorCode = "LOCK_UNAVAILABLE"

	// ErrCodeCancelled indicates the goal was cancelled or a lock wait was interrupted.
	ErrCodeCancelled RuntimeErrorCode = "CANCELLED"

	// ErrCodeTimeout indicates a frame ran past its deadline.
	ErrCodeTimeout RuntimeErrorCode = "TIMEOUT"

	// ErrCodeUnknownAction indicates a script step names neither an entry nor a primitive.
	ErrCodeUnknownAction RuntimeErrorCode = "UNKNOWN_ACTION"

	// ErrCodeUnachievable indicates a nested goal has no (permissible) action.
	ErrCodeUnachievable RuntimeErrorCode = "UNACHIEVABLE"

	// ErrCodePreconditionFailed indicates a start or over-all condition does not hold.
	ErrCodePreconditionFailed RuntimeErrorCode = "PRECONDITION_FAILED"

	// ErrCodeConditionError indicates a condition expression failed to compile or run.
	ErrCodeConditionError RuntimeErrorCode = "CONDITION_ERROR"

	// ErrCodeActuatorFailed indicates a primitive returned an error.
	ErrCodeActuatorFailed RuntimeErrorCode = "ACTUATOR_FAILED"

	// ErrCodeQuotaExceeded indicates the goal exceeded its step budget.
	ErrCodeQuotaExceeded RuntimeErrorCode = "QUOTA_EXCEEDED"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	if e.Goal != "" && e.Action != "" {
		return fmt.Sprintf("%s: %s (goal=%s, action=%s)", e.Code, e.Message, e.Goal, e.Action)
	}
	if e.Goal != "" {
		return fmt.Sprintf("%s: %s (goal=%s)", e.Code, e.Message, e.Goal)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// CodeOf returns the code of the RuntimeError wrapped by err, or "".
func CodeOf(err error) RuntimeErrorCode {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}

// IsCancelled returns true if the error is a cancellation.
// Uses errors.As to handle wrapped errors.
func IsCancelled(err error) bool {
	return CodeOf(err) == ErrCodeCancelled
}

// IsTimeout returns true if the error is a deadline failure.
func IsTimeout(err error) bool {
	return CodeOf(err) == ErrCodeTimeout
}

// IsUnachievable returns true if no permissible action could be found.
func IsUnachievable(err error) bool {
	return CodeOf(err) == ErrCodeUnachievable
}

// quota counts script steps per goal and enforces a limit.
//
// Scripts can loop (while) and recurse (sub-actions, nested goals), so a
// budget is the only termination guarantee for a misbehaving definition.
type quota struct {
	maxSteps int // 0 means unlimited
	current  int
}

// check increments the step counter and validates against the limit.
func (q *quota) check(goal string) error {
	q.current++
	if q.maxSteps > 0 && q.current > q.maxSteps {
		return &RuntimeError{
			Code:    ErrCodeQuotaExceeded,
			Message: fmt.Sprintf("goal exceeded max steps (%d > %d)", q.current, q.maxSteps),
			Goal:    goal,
			Details: map[string]string{
				"steps":     fmt.Sprintf("%d", q.current),
				"max_steps": fmt.Sprintf("%d", q.maxSteps),
			},
		}
	}
	return nil
}
