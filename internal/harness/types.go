package harness

import "strings"

// Trace event types.
const (
	EventCall = "call"
	EventGoal = "goal"
)

// TraceEvent is one entry of a scenario trace: a primitive call seen by
// the actuator, or a scenario goal reaching a terminal status.
type TraceEvent struct {
	Type    string   `json:"type"`
	Action  string   `json:"action,omitempty"`
	Args    []string `json:"args,omitempty"`
	Goal    int      `json:"goal,omitempty"` // 1-based index into Scenario.Goals
	Token   string   `json:"token,omitempty"`
	Status  string   `json:"status,omitempty"`
	Updates []string `json:"updates,omitempty"`
	Seq     int64    `json:"seq"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every goal expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace holds calls and goal terminations in the order observed.
	Trace []TraceEvent `json:"trace"`

	// Errors describes each failed expectation or assertion.
	Errors []string `json:"errors,omitempty"`

	// Facts is the final world state, one "predicate" or
	// "predicate = value" line per fact, in assertion order.
	Facts []string `json:"facts,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddCallTrace appends a primitive call.
func (r *Result) AddCallTrace(action string, args []string) {
	r.Trace = append(r.Trace, TraceEvent{
		Type:   EventCall,
		Action: strings.ToLower(action),
		Args:   args,
		Seq:    r.nextSeq(),
	})
}

// AddGoalTrace appends a goal termination.
func (r *Result) AddGoalTrace(goal int, action, token, status string, updates []string) {
	r.Trace = append(r.Trace, TraceEvent{
		Type:    EventGoal,
		Action:  action,
		Goal:    goal,
		Token:   token,
		Status:  status,
		Updates: updates,
		Seq:     r.nextSeq(),
	})
}

func (r *Result) nextSeq() int64 {
	return int64(len(r.Trace) + 1)
}
