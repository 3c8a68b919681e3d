package interp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/ade/internal/actiondb"
	"github.com/roach88/ade/internal/ir"
	"github.com/roach88/ade/internal/lock"
)

// StepResult reports what a call to Step did.
type StepResult int

const (
	// StepRan means progress was made.
	StepRan StepResult = iota
	// StepBlocked means the goal is waiting (timer, condition or preemption).
	StepBlocked
	// StepDone means the goal has terminated.
	StepDone
)

// DefaultLockAttempts bounds entry-declared lock acquisition.
const DefaultLockAttempts = 10

// Interpreter runs one goal's action script and everything it spawns.
// Step is not safe for concurrent use; the status accessors and the
// lock.Requester methods are.
type Interpreter struct {
	id        string
	db        *actiondb.Database
	locks     *lock.Registry
	clock     Clock
	actuator  Actuator
	overrider Overrider

	lockAttempts int
	affectStep   float64
	poll         time.Duration
	quota        quota

	frames  []*Frame
	root    FrameID
	current FrameID
	goal    ir.Predicate
	entry   *actiondb.Entry

	start    time.Time
	deadline time.Time

	cancelled atomic.Bool

	mu        sync.Mutex
	status    ir.GoalStatus
	err       error
	updates   []ir.Predicate
	priority  float64
	posAffect float64
	negAffect float64
}

// Option configures an Interpreter.
type Option func(*Interpreter)

// WithClock sets the wall clock used for deadlines and waits.
func WithClock(c Clock) Option {
	return func(i *Interpreter) { i.clock = c }
}

// WithActuator sets the primitive dispatcher.
func WithActuator(a Actuator) Option {
	return func(i *Interpreter) { i.actuator = a }
}

// WithLocks sets the lock registry shared with other goals.
func WithLocks(r *lock.Registry) Option {
	return func(i *Interpreter) { i.locks = r }
}

// WithOverrider installs the moral-override hook.
func WithOverrider(o Overrider) Option {
	return func(i *Interpreter) { i.overrider = o }
}

// WithMaxSteps limits how many script steps the goal may execute.
// Zero means unlimited.
func WithMaxSteps(n int) Option {
	return func(i *Interpreter) { i.quota.maxSteps = n }
}

// WithLockAttempts sets the attempt budget for entry-declared locks.
func WithLockAttempts(n int) Option {
	return func(i *Interpreter) { i.lockAttempts = n }
}

// WithAffectStep sets how far one child success or failure moves affect.
func WithAffectStep(s float64) Option {
	return func(i *Interpreter) { i.affectStep = s }
}

// WithPollInterval sets how long Run sleeps while the goal is blocked.
func WithPollInterval(d time.Duration) Option {
	return func(i *Interpreter) { i.poll = d }
}

// New creates an interpreter for the goal identified by id.
func New(db *actiondb.Database, id string, opts ...Option) *Interpreter {
	i := &Interpreter{
		id:           id,
		db:           db,
		clock:        SystemClock{},
		lockAttempts: DefaultLockAttempts,
		affectStep:   0.1,
		poll:         10 * time.Millisecond,
		root:         NoFrame,
		current:      NoFrame,
		status:       ir.StatusPending,
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.locks == nil {
		i.locks = lock.NewRegistry(lock.PolicyFCFS)
	}
	return i
}

// ID implements lock.Requester.
func (i *Interpreter) ID() string { return i.id }

// Priority implements lock.Requester.
func (i *Interpreter) Priority() float64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.priority
}

// SetPriority updates the goal's scheduling priority.
func (i *Interpreter) SetPriority(p float64) {
	i.mu.Lock()
	i.priority = p
	i.mu.Unlock()
}

// Cancel implements lock.Requester. The goal stops at its next step.
func (i *Interpreter) Cancel() {
	i.cancelled.Store(true)
}

// Cancelled reports whether Cancel was called.
func (i *Interpreter) Cancelled() bool { return i.cancelled.Load() }

// Status returns the goal's lifecycle status.
func (i *Interpreter) Status() ir.GoalStatus {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.status
}

// Err returns the error that failed the goal, if any.
func (i *Interpreter) Err() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.err
}

// Updates returns the ground effects applied so far, in order.
func (i *Interpreter) Updates() []ir.Predicate {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]ir.Predicate, len(i.updates))
	copy(out, i.updates)
	return out
}

// Affect returns the instance's positive and negative affect.
func (i *Interpreter) Affect() (pos, neg float64) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.posAffect, i.negAffect
}

// DecayAffect moves both affect values toward zero by step.
func (i *Interpreter) DecayAffect(step float64) {
	i.mu.Lock()
	i.posAffect = max(0, i.posAffect-step)
	i.negAffect = max(0, i.negAffect-step)
	i.mu.Unlock()
}

func (i *Interpreter) addAffect(success bool) {
	i.mu.Lock()
	if success {
		i.posAffect = min(1, i.posAffect+i.affectStep)
	} else {
		i.negAffect = min(1, i.negAffect+i.affectStep)
	}
	i.mu.Unlock()
}

// Goal returns the goal predicate the interpreter was started for.
func (i *Interpreter) Goal() ir.Predicate { return i.goal }

// Entry returns the root action.
func (i *Interpreter) Entry() *actiondb.Entry { return i.entry }

// Timing returns the root frame's start and deadline. The zero deadline
// means the goal has no timeout.
func (i *Interpreter) Timing() (start, deadline time.Time) {
	return i.start, i.deadline
}

// Steps returns how many script steps have executed.
func (i *Interpreter) Steps() int { return i.quota.current }

// Start creates the root frame for e, binding roles from the goal match.
// bindings maps role names to values; unknown names become local cells.
func (i *Interpreter) Start(e *actiondb.Entry, goal ir.Predicate, bindings map[string]ir.IRValue) FrameID {
	f := i.newFrame(e, NoFrame)
	f.start = i.clock.Now()
	if t := e.TimeoutMillis(); t > 0 {
		f.deadline = f.start.Add(time.Duration(t) * time.Millisecond)
	}
	for name, v := range bindings {
		c := i.cellFor(f, name, "")
		if err := c.Bind(v); err != nil {
			slog.Warn("role coercion failed", "goal", i.id, "role", name, "error", err)
		}
	}
	i.root, i.current = f.id, f.id
	i.goal, i.entry = goal, e
	i.start, i.deadline = f.start, f.deadline

	i.mu.Lock()
	i.status = ir.StatusRunning
	i.mu.Unlock()

	slog.Info("goal started",
		"goal", i.id,
		"action", e.Type(),
		"predicate", goal.String(),
	)
	return f.id
}

// TermBindings converts match bindings to role values.
func TermBindings(m map[string]ir.Term) map[string]ir.IRValue {
	out := make(map[string]ir.IRValue, len(m))
	for k, t := range m {
		if t.Pred != nil {
			out[k] = ir.IRString(t.Pred.String())
			continue
		}
		out[k] = literal(t.Name)
	}
	return out
}

// Run steps the goal until it terminates or ctx is cancelled. Blocked steps
// sleep for the poll interval.
func (i *Interpreter) Run(ctx context.Context) error {
	for {
		switch i.Step(ctx) {
		case StepDone:
			if i.Status() == ir.StatusSucceeded {
				return nil
			}
			if err := i.Err(); err != nil {
				return err
			}
			return fmt.Errorf("goal %s %s", i.id, i.Status())
		case StepBlocked:
			t := time.NewTimer(i.poll)
			select {
			case <-ctx.Done():
			case <-t.C:
			}
			t.Stop()
		}
	}
}

// Step executes one unit of work on the current frame.
func (i *Interpreter) Step(ctx context.Context) StepResult {
	if i.current == NoFrame {
		return StepDone
	}
	if i.cancelled.Load() || ctx.Err() != nil {
		i.abort()
		return StepDone
	}

	f := i.frames[i.current]
	if f.done {
		i.finish(f)
		if i.current == NoFrame {
			return StepDone
		}
		return StepRan
	}

	now := i.clock.Now()
	if !f.deadline.IsZero() && !now.Before(f.deadline) {
		i.fail(f, ErrCodeTimeout, fmt.Sprintf("deadline %s passed", f.deadline.Format(time.RFC3339Nano)))
		return StepRan
	}

	if !f.started {
		i.begin(ctx, f)
		return StepRan
	}

	if names, owner := i.locks.Held(i); len(names) > 0 && !owner {
		return StepBlocked
	}

	if !f.waitUntil.IsZero() {
		if now.Before(f.waitUntil) {
			return StepBlocked
		}
		f.waitUntil = time.Time{}
	}
	if f.waitCond != nil {
		ok, err := i.evalCondition(f, f.waitCond)
		if err != nil {
			i.fail(f, ErrCodeConditionError, err.Error())
			return StepRan
		}
		if !ok {
			return StepBlocked
		}
		f.waitCond = nil
	}

	if f.pending != pendingNone {
		kind := f.pending
		f.pending = pendingNone
		i.branch(f, kind, f.childStatus)
		return StepRan
	}

	for _, c := range f.entry.OverAllConditions() {
		if !i.conditionHolds(f, c) {
			i.fail(f, ErrCodePreconditionFailed, fmt.Sprintf("over-all condition %s no longer holds", c))
			return StepRan
		}
	}

	events := f.events()
	if f.pc >= len(events) {
		f.done = true
		return StepRan
	}
	if err := i.quota.check(i.id); err != nil {
		i.failWith(f, err)
		return StepRan
	}
	ev := events[f.pc]
	f.pc++
	i.execute(ctx, f, ev)
	return StepRan
}

// begin checks start conditions, takes the entry's locks and, for a
// primitive, dispatches it.
func (i *Interpreter) begin(ctx context.Context, f *Frame) {
	f.started = true
	e := f.entry

	for _, c := range e.StartConditions() {
		if i.conditionHolds(f, c) {
			continue
		}
		sub := c.Substitute(f.roles.Resolve)
		if i.overrider != nil && i.overrider.Override(sub, i.goal) {
			slog.Info("start condition overridden",
				"goal", i.id,
				"action", e.Type(),
				"condition", sub.String(),
			)
			continue
		}
		i.fail(f, ErrCodePreconditionFailed, fmt.Sprintf("start condition %s does not hold", sub))
		return
	}

	for _, name := range e.Locks() {
		if !i.acquire(ctx, f, name, i.lockAttempts) {
			return
		}
	}

	if e.Primitive() {
		if err := i.dispatch(ctx, f, e.Type(), i.argValues(f)); err != nil {
			return
		}
		f.done = true
		return
	}
	if len(e.Events()) == 0 {
		f.done = true
	}
}

func (i *Interpreter) argValues(f *Frame) []ir.IRValue {
	args := f.roles.Args()
	out := make([]ir.IRValue, len(args))
	for j, c := range args {
		out[j] = c.GetDeep()
	}
	return out
}

func (i *Interpreter) dispatch(ctx context.Context, f *Frame, name string, args []ir.IRValue) error {
	if i.actuator == nil {
		i.fail(f, ErrCodeUnknownAction, fmt.Sprintf("no actuator for primitive %s", name))
		return ErrUnknownPrimitive
	}
	err := i.actuator.Execute(ctx, name, args)
	switch {
	case err == nil:
		slog.Debug("primitive executed", "goal", i.id, "primitive", name)
		return nil
	case errors.Is(err, ErrUnknownPrimitive):
		i.fail(f, ErrCodeUnknownAction, err.Error())
	default:
		i.fail(f, ErrCodeActuatorFailed, err.Error())
	}
	return err
}

// acquire takes the named lock for f, failing f on refusal.
func (i *Interpreter) acquire(ctx context.Context, f *Frame, name string, attempts int) bool {
	if i.locks.Get(name).Acquire(ctx, i, attempts) {
		f.heldLocks = append(f.heldLocks, name)
		slog.Debug("lock acquired", "goal", i.id, "lock", name)
		return true
	}
	if i.cancelled.Load() {
		i.fail(f, ErrCodeCancelled, fmt.Sprintf("interrupted waiting for lock %s", name))
		return false
	}
	i.fail(f, ErrCodeLockUnavailable, fmt.Sprintf("lock %s unavailable after %d attempts", name, attempts))
	return false
}

func (i *Interpreter) releaseLock(f *Frame, name string) {
	for j := len(f.heldLocks) - 1; j >= 0; j-- {
		if ir.SameName(f.heldLocks[j], name) {
			f.heldLocks = append(f.heldLocks[:j], f.heldLocks[j+1:]...)
			i.locks.Get(name).Release(i)
			return
		}
	}
	slog.Warn("release of lock not held", "goal", i.id, "lock", name)
}

func (i *Interpreter) releaseFrameLocks(f *Frame) {
	for j := len(f.heldLocks) - 1; j >= 0; j-- {
		i.locks.Get(f.heldLocks[j]).Release(i)
	}
	f.heldLocks = nil
}

// fail terminates f unsuccessfully with a runtime error.
func (i *Interpreter) fail(f *Frame, code RuntimeErrorCode, msg string) {
	i.failWith(f, &RuntimeError{Code: code, Message: msg, Goal: i.id, Action: f.action()})
}

func (i *Interpreter) failWith(f *Frame, err error) {
	f.status = false
	f.done = true
	if f.condition {
		slog.Debug("condition frame failed", "goal", i.id, "action", f.action(), "error", err)
		return
	}
	i.mu.Lock()
	if i.err == nil {
		i.err = err
	}
	i.mu.Unlock()
	slog.Info("frame failed", "goal", i.id, "action", f.action(), "error", err)
}

// finish retires a terminated frame: locks released, effects applied, and
// control returned to the caller.
func (i *Interpreter) finish(f *Frame) {
	i.releaseFrameLocks(f)
	i.applyEffects(f)

	if f.caller == NoFrame {
		i.current = NoFrame
		i.complete(f.status)
		return
	}
	c := i.frames[f.caller]
	c.child = NoFrame
	i.current = c.id
	i.addAffect(f.status)
	if c.done {
		return
	}
	c.childStatus = f.status
	if !f.status && !f.condition {
		i.Exit(f.id, false)
	}
}

func (i *Interpreter) complete(success bool) {
	released := i.locks.ReleaseAll(i)
	i.mu.Lock()
	switch {
	case success:
		i.status = ir.StatusSucceeded
	default:
		i.status = ir.StatusFailed
	}
	status, err := i.status, i.err
	i.mu.Unlock()

	slog.Info("goal finished",
		"goal", i.id,
		"status", status.String(),
		"steps", i.quota.current,
		"leaked_locks", len(released),
		"error", err,
	)
}

// abort stops a cancelled goal: every live frame releases its locks and
// no effects are applied.
func (i *Interpreter) abort() {
	for id := i.current; id != NoFrame; id = i.frames[id].caller {
		f := i.frames[id]
		f.status = false
		f.done = true
		i.releaseFrameLocks(f)
	}
	i.locks.ReleaseAll(i)
	i.current = NoFrame

	i.mu.Lock()
	i.status = ir.StatusCancelled
	if i.err == nil {
		i.err = &RuntimeError{Code: ErrCodeCancelled, Message: "goal cancelled", Goal: i.id}
	}
	i.mu.Unlock()
	slog.Info("goal cancelled", "goal", i.id)
}

// applyEffects asserts f's effects according to its outcome and records
// them as updates. Effects with unbound variables are skipped.
func (i *Interpreter) applyEffects(f *Frame) {
	if f.entry == nil {
		return
	}
	var effs []ir.Predicate
	if f.status {
		effs = append(effs, f.entry.Effects()...)
		effs = append(effs, f.entry.SuccessEffects()...)
	} else {
		effs = f.entry.FailureEffects()
	}
	for _, p := range effs {
		g := p.Substitute(f.roles.Resolve).Ground()
		if g.HasVars() {
			slog.Warn("effect has unbound variables",
				"goal", i.id,
				"action", f.entry.Type(),
				"effect", p.String(),
			)
			continue
		}
		if err := i.db.Assert(g, nil); err != nil {
			slog.Warn("effect rejected", "goal", i.id, "effect", g.String(), "error", err)
			continue
		}
		i.mu.Lock()
		i.updates = append(i.updates, g)
		i.mu.Unlock()
		slog.Debug("effect applied", "goal", i.id, "effect", g.String())
	}
}

// conditionHolds tests c against the fact base. Unbound variables bind to
// the first matching fact; a negated condition holds when nothing matches.
func (i *Interpreter) conditionHolds(f *Frame, c ir.Predicate) bool {
	s := c.Substitute(f.roles.Resolve)
	if !s.HasVars() {
		return i.db.Holds(s)
	}
	matches := i.db.MatchFacts(s.Positive())
	if s.Negated {
		return len(matches) == 0
	}
	if len(matches) == 0 {
		return false
	}
	for name, v := range matches[0].Bindings {
		cell := i.cellFor(f, name, "")
		if !cell.IsBound() {
			i.bindFailed(f, cell, cell.BindDeep(literal(v)))
		}
	}
	return true
}
