package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/roach88/ade/internal/actiondb"
	"github.com/roach88/ade/internal/interp"
	"github.com/roach88/ade/internal/ir"
	"github.com/roach88/ade/internal/lock"
	"github.com/roach88/ade/internal/planner"
)

// GoalID identifies a submitted goal. IDs are time-derived and strictly
// increasing: max(previous+1, now in milliseconds).
type GoalID int64

var (
	// ErrUnachievable is returned by Submit when no permissible action (and
	// no plan) achieves the goal. The goal is still recorded, as failed.
	ErrUnachievable = errors.New("goal unachievable")

	// ErrUnknownGoal is returned for IDs the scheduler never issued.
	ErrUnknownGoal = errors.New("unknown goal")
)

// Recorder persists goal lifecycle. store.Store implements it.
type Recorder interface {
	RecordGoal(ctx context.Context, g ir.GoalRecord) error
	RecordEvent(ctx context.Context, ev ir.GoalEvent) error
}

// DefaultTickInterval is how often Run recomputes priorities.
const DefaultTickInterval = 10 * time.Millisecond

type goal struct {
	rec      ir.GoalRecord
	seq      int
	in       *interp.Interpreter // nil once terminated, and for open-world parents
	inst     *Instance
	admitted bool
	driving  bool
	failCond bool
	done     chan struct{}

	// open-world parents
	children    int
	childFailed bool
}

// Scheduler owns the live goals: it resolves submitted predicates to
// actions, runs one interpreter per goal on its own goroutine, and on every
// tick recomputes priorities and decides which goals may step.
//
// Thread-safety model:
//   - Submit, Cancel, Tick and the query methods: safe from any goroutine
//   - Run: must be called from exactly one goroutine
type Scheduler struct {
	db           *actiondb.Database
	locks        *lock.Registry
	policy       Policy
	clock        interp.Clock
	tokens       TokenGenerator
	seq          *Sequence
	recorder     Recorder
	planner      planner.Planner
	overrider    interp.Overrider
	tickInterval time.Duration
	concurrency  int
	interpOpts   []interp.Option

	mu      sync.Mutex
	goals   map[GoalID]*goal
	order   []GoalID
	lastID  int64
	nextSeq int
	changed chan struct{} // closed and replaced on every admission change
	running bool
	runCtx  context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithPolicy sets the scheduling policy. Default: Linear.
func WithPolicy(p Policy) Option {
	return func(s *Scheduler) { s.policy = p }
}

// WithClock sets the wall clock for goal IDs, urgency and interpreters.
func WithClock(c interp.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithTokens sets the goal token generator. Default: UUIDv7Tokens.
func WithTokens(g TokenGenerator) Option {
	return func(s *Scheduler) { s.tokens = g }
}

// WithSequence sets the event sequence, e.g. to resume a persisted log.
func WithSequence(seq *Sequence) Option {
	return func(s *Scheduler) { s.seq = seq }
}

// WithRecorder persists goal records and events.
func WithRecorder(r Recorder) Option {
	return func(s *Scheduler) { s.recorder = r }
}

// WithPlanner enables the planner fallback for goals no action achieves.
func WithPlanner(p planner.Planner) Option {
	return func(s *Scheduler) { s.planner = p }
}

// WithOverrider installs the moral-override hook for goals and interpreters.
func WithOverrider(o interp.Overrider) Option {
	return func(s *Scheduler) { s.overrider = o }
}

// WithActuator sets the primitive dispatcher used by every goal.
func WithActuator(a interp.Actuator) Option {
	return func(s *Scheduler) { s.interpOpts = append(s.interpOpts, interp.WithActuator(a)) }
}

// WithTickInterval sets how often Run ticks.
func WithTickInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.tickInterval = d }
}

// WithConcurrency caps how many goals ordered policies admit at once.
// Zero admits all runnable goals.
func WithConcurrency(n int) Option {
	return func(s *Scheduler) { s.concurrency = n }
}

// WithInterpreterOptions passes options to every goal's interpreter.
func WithInterpreterOptions(opts ...interp.Option) Option {
	return func(s *Scheduler) { s.interpOpts = append(s.interpOpts, opts...) }
}

// New creates a scheduler over db. A nil registry gets an FCFS one.
func New(db *actiondb.Database, locks *lock.Registry, opts ...Option) *Scheduler {
	s := &Scheduler{
		db:           db,
		locks:        locks,
		policy:       Linear{},
		clock:        interp.SystemClock{},
		tokens:       UUIDv7Tokens{},
		seq:          NewSequence(),
		tickInterval: DefaultTickInterval,
		goals:        make(map[GoalID]*goal),
		changed:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.locks == nil {
		s.locks = lock.NewRegistry(lock.PolicyFCFS)
	}
	return s
}

// Policy returns the active policy.
func (s *Scheduler) Policy() Policy { return s.policy }

// Database returns the action database goals run against.
func (s *Scheduler) Database() *actiondb.Database { return s.db }

func (s *Scheduler) nextIDLocked() GoalID {
	id := max(s.lastID+1, s.clock.Now().UnixMilli())
	s.lastID = id
	return GoalID(id)
}

// Run starts a driver goroutine per goal and ticks until ctx is cancelled.
// Cancelling ctx cancels every live goal; Run returns once all drivers
// have stopped.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("scheduler already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.running = true
	s.runCtx = ctx
	s.stop = cancel
	for _, id := range s.order {
		s.startDriverLocked(s.goals[id])
	}
	s.mu.Unlock()

	slog.Info("scheduler starting",
		"policy", s.policy.Name(),
		"tick_interval", s.tickInterval.String(),
		"concurrency", s.concurrency,
	)

	s.Tick(s.clock.Now())
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.running = false
			s.broadcastLocked()
			s.mu.Unlock()
			s.wg.Wait()
			slog.Info("scheduler stopped", "reason", ctx.Err())
			return ctx.Err()
		case <-ticker.C:
			s.Tick(s.clock.Now())
		}
	}
}

// Stop makes a running Run return as if its context was cancelled.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	stop := s.stop
	s.mu.Unlock()
	if stop != nil {
		stop()
	}
}

func (s *Scheduler) startDriverLocked(g *goal) {
	if g == nil || g.in == nil || g.driving || g.rec.Terminated {
		return
	}
	g.driving = true
	s.wg.Add(1)
	go s.drive(s.runCtx, g)
}

// drive is a goal's own goroutine: it steps the interpreter whenever the
// goal is admitted and parks on the change channel otherwise.
func (s *Scheduler) drive(ctx context.Context, g *goal) {
	defer s.wg.Done()
	in := g.in
	for {
		s.awaitTurn(ctx, g, in)
		switch in.Step(ctx) {
		case interp.StepDone:
			s.finalize(g, in)
			return
		case interp.StepBlocked:
			s.mu.Lock()
			ch := s.changed
			s.mu.Unlock()
			select {
			case <-ch:
			case <-ctx.Done():
			}
		}
	}
}

func (s *Scheduler) awaitTurn(ctx context.Context, g *goal, in *interp.Interpreter) {
	for {
		s.mu.Lock()
		ok := g.admitted || in.Cancelled()
		ch := s.changed
		s.mu.Unlock()
		if ok || ctx.Err() != nil {
			return
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return
		}
	}
}

// Tick checks fail conditions, lets the policy recompute priorities and
// updates the admitted set.
func (s *Scheduler) Tick(now time.Time) {
	s.mu.Lock()
	var live []*Instance
	var orphans []*goal
	for _, id := range s.order {
		g := s.goals[id]
		if g.rec.Terminated || g.in == nil {
			continue
		}
		if !g.failCond && s.anyHolds(g.rec.FailConditions) {
			g.failCond = true
			g.in.Cancel()
			slog.Info("goal fail condition holds", "goal", int64(g.rec.ID))
		}
		if g.in.Cancelled() && !g.driving {
			orphans = append(orphans, g)
			continue
		}
		live = append(live, g.inst)
	}
	s.policy.Prioritize(now, live)
	for _, in := range live {
		g := s.goals[in.ID]
		g.in.SetPriority(in.Priority)
		g.rec.Priority = in.Priority
	}
	s.readmitLocked()
	for _, g := range orphans {
		g.driving = true
	}
	s.mu.Unlock()

	for _, g := range orphans {
		s.abortUndriven(g)
	}
}

// abortUndriven terminates a cancelled goal that has no driver goroutine.
// The caller has set g.driving.
func (s *Scheduler) abortUndriven(g *goal) {
	in := g.in
	ctx := context.Background()
	for in.Step(ctx) != interp.StepDone {
	}
	s.finalize(g, in)
}

// readmitLocked recomputes which goals may step and wakes the drivers.
// Lock holders are always admitted so their waiters can make progress.
func (s *Scheduler) readmitLocked() {
	var runnable []*goal
	for _, id := range s.order {
		g := s.goals[id]
		if g.rec.Terminated || g.in == nil {
			continue
		}
		g.admitted = false
		if s.allHold(g.rec.WaitConditions) {
			runnable = append(runnable, g)
		}
	}

	switch {
	case len(runnable) == 0:
	case !s.policy.Ordered():
		runnable[len(runnable)-1].admitted = true
	default:
		sort.SliceStable(runnable, func(a, b int) bool {
			return runnable[a].inst.Priority > runnable[b].inst.Priority
		})
		n := len(runnable)
		if s.concurrency > 0 {
			n = min(n, s.concurrency)
		}
		for _, g := range runnable[:n] {
			g.admitted = true
		}
	}
	for _, g := range runnable {
		if names, _ := s.locks.Held(g.in); len(names) > 0 {
			g.admitted = true
		}
	}
	s.broadcastLocked()
}

func (s *Scheduler) broadcastLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

// finalize freezes a finished goal's record and severs its interpreter.
func (s *Scheduler) finalize(g *goal, in *interp.Interpreter) {
	status := in.Status()
	errText := ""
	if err := in.Err(); err != nil {
		errText = err.Error()
	}

	s.mu.Lock()
	if g.failCond && status == ir.StatusCancelled {
		status = ir.StatusFailed
		errText = "fail condition holds"
	}
	g.rec.Updates = in.Updates()
	g.rec.Error = errText
	g.driving = false
	recs := s.terminateLocked(g, status)
	s.readmitLocked()
	s.mu.Unlock()

	for _, u := range g.rec.Updates {
		s.event(g.rec.ID, ir.EventUpdate, ir.StatusRunning, u.String())
	}
	s.persist(recs...)
}

// terminateLocked freezes g and, for the last child of an open-world
// parent, the parent. It returns the records to persist.
func (s *Scheduler) terminateLocked(g *goal, status ir.GoalStatus) []ir.GoalRecord {
	g.rec.Status = status
	g.rec.Terminated = true
	g.rec.EndedAt = s.clock.Now()
	g.in = nil
	g.admitted = false
	close(g.done)

	slog.Info("goal terminated",
		"goal", g.rec.ID,
		"predicate", g.rec.Predicate.String(),
		"status", status.String(),
		"updates", len(g.rec.Updates),
		"error", g.rec.Error,
	)
	out := []ir.GoalRecord{g.rec}

	if g.rec.Parent == 0 {
		return out
	}
	p, ok := s.goals[GoalID(g.rec.Parent)]
	if !ok || p.rec.Terminated {
		return out
	}
	p.children--
	if status != ir.StatusSucceeded {
		p.childFailed = true
	}
	p.rec.Updates = append(p.rec.Updates, g.rec.Updates...)
	if p.children <= 0 {
		final := ir.StatusSucceeded
		if p.childFailed {
			final = ir.StatusFailed
		}
		out = append(out, s.terminateLocked(p, final)...)
	}
	return out
}

func (s *Scheduler) persist(recs ...ir.GoalRecord) {
	for _, r := range recs {
		if r.Terminated {
			s.event(r.ID, ir.EventTerminated, r.Status, r.Error)
		}
		if s.recorder == nil {
			continue
		}
		if err := s.recorder.RecordGoal(context.Background(), r); err != nil {
			slog.Error("goal record write failed", "goal", r.ID, "error", err)
		}
	}
}

func (s *Scheduler) event(id int64, kind ir.GoalEventKind, status ir.GoalStatus, detail string) {
	if s.recorder == nil {
		return
	}
	ev := ir.GoalEvent{
		GoalID: id,
		Seq:    s.seq.Next(),
		Kind:   kind,
		Status: status,
		Detail: detail,
		At:     s.clock.Now(),
	}
	if err := s.recorder.RecordEvent(context.Background(), ev); err != nil {
		slog.Error("goal event write failed", "goal", id, "kind", string(kind), "error", err)
	}
}

func (s *Scheduler) anyHolds(conds []ir.Predicate) bool {
	for _, c := range conds {
		if s.holds(c) {
			return true
		}
	}
	return false
}

func (s *Scheduler) allHold(conds []ir.Predicate) bool {
	for _, c := range conds {
		if !s.holds(c) {
			return false
		}
	}
	return true
}

func (s *Scheduler) holds(c ir.Predicate) bool {
	if !c.HasVars() {
		return s.db.Holds(c)
	}
	n := len(s.db.MatchFacts(c.Positive()))
	if c.Negated {
		return n == 0
	}
	return n > 0
}

// Cancel stops a live goal. Its status becomes cancelled.
func (s *Scheduler) Cancel(id GoalID) error {
	s.mu.Lock()
	g, ok := s.goals[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("cancel %d: %w", id, ErrUnknownGoal)
	}
	if g.rec.Terminated {
		s.mu.Unlock()
		return nil
	}
	if g.in == nil {
		// Open-world parent: cancel every live child.
		var kids []GoalID
		for _, cid := range s.order {
			if c := s.goals[cid]; c.rec.Parent == int64(id) && !c.rec.Terminated {
				kids = append(kids, cid)
			}
		}
		s.mu.Unlock()
		for _, k := range kids {
			if err := s.Cancel(k); err != nil {
				return err
			}
		}
		return nil
	}
	g.in.Cancel()
	undriven := !g.driving
	if undriven {
		g.driving = true
	}
	s.broadcastLocked()
	s.mu.Unlock()

	slog.Info("goal cancel requested", "goal", int64(id))
	if undriven {
		s.abortUndriven(g)
	}
	return nil
}

// Wait blocks until the goal terminates or ctx is done.
func (s *Scheduler) Wait(ctx context.Context, id GoalID) (ir.GoalStatus, error) {
	s.mu.Lock()
	g, ok := s.goals[id]
	s.mu.Unlock()
	if !ok {
		return ir.StatusUnknown, fmt.Errorf("wait %d: %w", id, ErrUnknownGoal)
	}
	select {
	case <-g.done:
		return s.GoalStatus(id), nil
	case <-ctx.Done():
		return s.GoalStatus(id), ctx.Err()
	}
}

// WaitAll blocks until every goal submitted so far has terminated.
func (s *Scheduler) WaitAll(ctx context.Context) error {
	s.mu.Lock()
	ids := append([]GoalID(nil), s.order...)
	s.mu.Unlock()
	for _, id := range ids {
		if _, err := s.Wait(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// GoalStatus returns the frozen status of a terminated goal, the live
// interpreter's status otherwise, and unknown for IDs never issued.
func (s *Scheduler) GoalStatus(id GoalID) ir.GoalStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.goals[id]
	switch {
	case !ok:
		return ir.StatusUnknown
	case g.rec.Terminated:
		return g.rec.Status
	case g.in == nil:
		return g.rec.Status
	default:
		return g.in.Status()
	}
}

// GoalFailConds returns the goal's fail conditions.
func (s *Scheduler) GoalFailConds(id GoalID) []ir.Predicate {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g, ok := s.goals[id]; ok {
		return append([]ir.Predicate(nil), g.rec.FailConditions...)
	}
	return nil
}

// GoalQuery returns the predicates of all live goals in submission order.
func (s *Scheduler) GoalQuery() []ir.Predicate {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ir.Predicate
	for _, id := range s.order {
		if g := s.goals[id]; !g.rec.Terminated {
			out = append(out, g.rec.Predicate)
		}
	}
	return out
}

// Goal returns a snapshot of the goal's record.
func (s *Scheduler) Goal(id GoalID) (ir.GoalRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.goals[id]
	if !ok {
		return ir.GoalRecord{}, false
	}
	return s.snapshotLocked(g), true
}

// Goals returns snapshots of every goal in submission order.
func (s *Scheduler) Goals() []ir.GoalRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ir.GoalRecord, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.snapshotLocked(s.goals[id]))
	}
	return out
}

func (s *Scheduler) snapshotLocked(g *goal) ir.GoalRecord {
	r := g.rec
	if !r.Terminated && g.in != nil {
		r.Status = g.in.Status()
		r.Updates = g.in.Updates()
	}
	return r
}

// Ranked returns the live goals in admission order: by priority for
// ordered policies, newest first for Linear.
func (s *Scheduler) Ranked() []ir.GoalRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var live []*goal
	for _, id := range s.order {
		if g := s.goals[id]; !g.rec.Terminated && g.in != nil {
			live = append(live, g)
		}
	}
	if s.policy.Ordered() {
		sort.SliceStable(live, func(a, b int) bool {
			return live[a].inst.Priority > live[b].inst.Priority
		})
	} else {
		for l, r := 0, len(live)-1; l < r; l, r = l+1, r-1 {
			live[l], live[r] = live[r], live[l]
		}
	}
	out := make([]ir.GoalRecord, len(live))
	for i, g := range live {
		out[i] = s.snapshotLocked(g)
	}
	return out
}

// Admitted reports whether the goal is currently allowed to step.
func (s *Scheduler) Admitted(id GoalID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.goals[id]
	return ok && g.admitted
}

// Mood returns the global affect accumulators of an Affective policy.
func (s *Scheduler) Mood() (pos, neg float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.policy.(*Affective); ok {
		return a.Mood()
	}
	return 0, 0
}

func (id GoalID) String() string {
	return strconv.FormatInt(int64(id), 10)
}
