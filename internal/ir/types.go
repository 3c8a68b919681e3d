package ir

import (
	"fmt"
	"strings"
)

// NumericTypes are the declared slot types that coerce values to numbers.
var NumericTypes = map[string]bool{
	"double":  true,
	"float":   true,
	"long":    true,
	"integer": true,
	"int":     true,
}

// RoleDef declares a typed, named parameter slot of an action.
type RoleDef struct {
	Name    string  `json:"name"`
	Type    string  `json:"type"`
	Default IRValue `json:"default,omitempty"`
	Local   bool    `json:"local,omitempty"`  // not an argument; scratch variable
	Return  bool    `json:"return,omitempty"` // copied back to the caller on exit
}

// ActionDef is an action or type definition as produced by a loader.
// Script steps are pre-tokenized: Events[i][0] is the head token.
type ActionDef struct {
	Type              string     `json:"type"`
	Super             string     `json:"super,omitempty"`
	Description       string     `json:"description,omitempty"`
	Roles             []RoleDef  `json:"roles,omitempty"`
	Events            [][]string `json:"events,omitempty"`
	StartConditions   []string   `json:"start_conditions,omitempty"`
	OverAllConditions []string   `json:"overall_conditions,omitempty"`
	Effects           []string   `json:"effects,omitempty"`
	SuccessEffects    []string   `json:"success_effects,omitempty"`
	FailureEffects    []string   `json:"failure_effects,omitempty"`
	Cost              float64    `json:"cost,omitempty"`
	Benefit           float64    `json:"benefit,omitempty"`
	MinUrgency        float64    `json:"min_urgency,omitempty"`
	MaxUrgency        float64    `json:"max_urgency,omitempty"`
	TimeoutMillis     int64      `json:"timeout_ms,omitempty"`
	Locks             []string   `json:"locks,omitempty"`
	Transparent       bool       `json:"transparent,omitempty"`
	Primitive         bool       `json:"primitive,omitempty"`
	Value             IRValue    `json:"value,omitempty"` // facts only
}

// ValidationError represents a validation error with field path and message.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks an ActionDef for structural problems.
// Returns all errors rather than stopping at the first.
func (a *ActionDef) Validate() []ValidationError {
	var errs []ValidationError

	if strings.TrimSpace(a.Type) == "" {
		errs = append(errs, ValidationError{Field: "type", Message: "type name is required"})
	}
	if a.Super != "" && SameName(a.Super, a.Type) {
		errs = append(errs, ValidationError{Field: "super", Message: fmt.Sprintf("%q cannot be its own supertype", a.Type)})
	}

	seen := make(map[string]bool)
	for i, r := range a.Roles {
		if r.Name == "" {
			errs = append(errs, ValidationError{Field: fmt.Sprintf("roles[%d].name", i), Message: "role name is required"})
			continue
		}
		key := FoldName(r.Name)
		if seen[key] {
			errs = append(errs, ValidationError{Field: fmt.Sprintf("roles[%d].name", i), Message: fmt.Sprintf("duplicate role %q", r.Name)})
		}
		seen[key] = true
	}

	for i, ev := range a.Events {
		if len(ev) == 0 || strings.TrimSpace(ev[0]) == "" {
			errs = append(errs, ValidationError{Field: fmt.Sprintf("events[%d]", i), Message: "empty script step"})
		}
	}

	lists := []struct {
		field string
		preds []string
	}{
		{"start_conditions", a.StartConditions},
		{"overall_conditions", a.OverAllConditions},
		{"effects", a.Effects},
		{"success_effects", a.SuccessEffects},
		{"failure_effects", a.FailureEffects},
	}
	for _, l := range lists {
		for i, text := range l.preds {
			if _, err := ParsePredicate(text); err != nil {
				errs = append(errs, ValidationError{Field: fmt.Sprintf("%s[%d]", l.field, i), Message: err.Error()})
			}
		}
	}

	if a.Cost < 0 {
		errs = append(errs, ValidationError{Field: "cost", Message: "must not be negative"})
	}
	if a.MinUrgency > a.MaxUrgency && a.MaxUrgency != 0 {
		errs = append(errs, ValidationError{Field: "urgency", Message: fmt.Sprintf("min %g exceeds max %g", a.MinUrgency, a.MaxUrgency)})
	}
	if a.TimeoutMillis < 0 {
		errs = append(errs, ValidationError{Field: "timeout_ms", Message: "must not be negative"})
	}
	return errs
}

// GoalStatus is the lifecycle state of a submitted goal.
type GoalStatus int

const (
	StatusUnknown GoalStatus = iota
	StatusPending
	StatusRunning
	StatusSucceeded
	StatusFailed
	StatusCancelled
	StatusSuspended
)

var goalStatusNames = [...]string{
	StatusUnknown:   "unknown",
	StatusPending:   "pending",
	StatusRunning:   "running",
	StatusSucceeded: "succeeded",
	StatusFailed:    "failed",
	StatusCancelled: "cancelled",
	StatusSuspended: "suspended",
}

func (s GoalStatus) String() string {
	if s < 0 || int(s) >= len(goalStatusNames) {
		return fmt.Sprintf("GoalStatus(%d)", int(s))
	}
	return goalStatusNames[s]
}

// Terminal reports whether the status is final.
func (s GoalStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCancelled
}

// MarshalText implements encoding.TextMarshaler.
func (s GoalStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *GoalStatus) UnmarshalText(text []byte) error {
	v, err := ParseGoalStatus(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseGoalStatus parses a status name case-insensitively.
func ParseGoalStatus(name string) (GoalStatus, error) {
	for i, n := range goalStatusNames {
		if strings.EqualFold(n, strings.TrimSpace(name)) {
			return GoalStatus(i), nil
		}
	}
	return StatusUnknown, fmt.Errorf("unknown goal status %q", name)
}
