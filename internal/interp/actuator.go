package interp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/roach88/ade/internal/ir"
)

// ErrUnknownPrimitive is returned by an Actuator that has no primitive of
// the requested name.
var ErrUnknownPrimitive = errors.New("unknown primitive")

// Actuator dispatches primitive actions to the robot by name.
type Actuator interface {
	Execute(ctx context.Context, name string, args []ir.IRValue) error
}

// PrimitiveFunc implements one primitive.
type PrimitiveFunc func(ctx context.Context, args []ir.IRValue) error

// Primitives is an Actuator backed by a map of functions. Names are
// matched case-insensitively.
type Primitives map[string]PrimitiveFunc

// Execute runs the named primitive.
func (p Primitives) Execute(ctx context.Context, name string, args []ir.IRValue) error {
	fn, ok := p[strings.ToLower(name)]
	if !ok {
		return fmt.Errorf("%s: %w", name, ErrUnknownPrimitive)
	}
	return fn(ctx, args)
}

// Clock supplies wall time for deadlines, waits and urgency.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the real wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }

// Call is a recorded primitive invocation.
type Call struct {
	Name string
	Args []string
}

// Recorder is an Actuator that records every call and succeeds, except for
// names listed in Fail. It is what dry runs and scenarios execute against.
type Recorder struct {
	mu    sync.Mutex
	calls []Call
	Fail  map[string]bool
}

// Execute records the call.
func (r *Recorder) Execute(_ context.Context, name string, args []ir.IRValue) error {
	c := Call{Name: name, Args: make([]string, len(args))}
	for i, a := range args {
		c.Args[i] = ir.ValueString(a)
	}
	r.mu.Lock()
	r.calls = append(r.calls, c)
	fail := r.Fail[strings.ToLower(name)]
	r.mu.Unlock()
	if fail {
		return fmt.Errorf("primitive %s failed", name)
	}
	return nil
}

// Calls returns the recorded calls in order.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, len(r.calls))
	copy(out, r.calls)
	return out
}

// Overrider is the moral-override hook. Given a conflicting predicate and
// the goal that provoked it, it decides whether to proceed anyway.
type Overrider interface {
	Override(conflict, goal ir.Predicate) bool
}

// OverrideFunc adapts a function to Overrider.
type OverrideFunc func(conflict, goal ir.Predicate) bool

// Override calls f.
func (f OverrideFunc) Override(conflict, goal ir.Predicate) bool { return f(conflict, goal) }
