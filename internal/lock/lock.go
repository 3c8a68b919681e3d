// Package lock arbitrates named resources among concurrently running
// action instances.
//
// A lock keeps an ownership stack: the most recent holder is on top and is
// the only one permitted to proceed. Acquisition is reentrant for the top
// holder and bounded by an explicit attempt count, so callers can express
// "never" (0), "try once" (1) or "wait" (Forever).
//
// Two policies are provided. FCFS grants in arrival order. Preemptive also
// grants immediately to a requester whose priority exceeds the top holder's;
// the displaced holder stays on the stack beneath the new one. Its nested
// state is not checkpointed, so an enclosing script that assumes it still
// owns the resource may observe the preemption only through Owner.
package lock

import (
	"context"
	"log/slog"
	"math"
	"slices"
	"sync"
)

// Forever is an attempt count that waits until granted or interrupted.
const Forever = math.MaxInt

// Requester is an entity competing for locks, typically a running goal.
type Requester interface {
	ID() string
	Priority() float64
	// Cancel marks the requester cancelled. Called when a blocked wait is
	// interrupted.
	Cancel()
}

// Lock is a named resource lock.
type Lock interface {
	Name() string
	// Acquire tries up to maxAttempts times, waiting for a release between
	// attempts. Cancelling ctx interrupts the wait, cancels r and fails.
	Acquire(ctx context.Context, r Requester, maxAttempts int) bool
	// Release removes r's most recent entry from the ownership stack.
	Release(r Requester)
	// Owner returns the top of the ownership stack, or nil.
	Owner() Requester
	// Holders returns the ownership stack, bottom first.
	Holders() []Requester
}

// grantFunc decides whether r may take the lock. Called with mu held and r
// already in the waiter queue.
type grantFunc func(l *stack, r Requester) bool

// stack is the state and wait/notify machinery shared by both policies.
type stack struct {
	name    string
	mu      sync.Mutex
	holders []Requester
	waiters []Requester
	changed chan struct{} // closed and replaced whenever the lock state changes
	grant   grantFunc
	// ordered inserts waiters by descending priority instead of arrival.
	ordered bool
}

func newStack(name string, grant grantFunc, ordered bool) *stack {
	return &stack{name: name, grant: grant, ordered: ordered, changed: make(chan struct{})}
}

func (l *stack) Name() string { return l.name }

func (l *stack) top() Requester {
	if len(l.holders) == 0 {
		return nil
	}
	return l.holders[len(l.holders)-1]
}

// broadcast wakes every waiter. Called with mu held.
func (l *stack) broadcast() {
	close(l.changed)
	l.changed = make(chan struct{})
}

func (l *stack) enqueue(r Requester) {
	if !l.ordered {
		l.waiters = append(l.waiters, r)
		return
	}
	i := len(l.waiters)
	for i > 0 && l.waiters[i-1].Priority() < r.Priority() {
		i--
	}
	l.waiters = slices.Insert(l.waiters, i, r)
}

func (l *stack) dequeue(r Requester) {
	for i, w := range l.waiters {
		if w.ID() == r.ID() {
			l.waiters = slices.Delete(l.waiters, i, i+1)
			if i == 0 {
				l.broadcast()
			}
			return
		}
	}
}

func (l *stack) Acquire(ctx context.Context, r Requester, maxAttempts int) bool {
	if maxAttempts <= 0 {
		return false
	}
	l.mu.Lock()
	if top := l.top(); top != nil && top.ID() == r.ID() {
		l.holders = append(l.holders, r)
		l.mu.Unlock()
		return true
	}
	l.enqueue(r)
	for attempt := 1; ; attempt++ {
		if l.grant(l, r) {
			if top := l.top(); top != nil {
				slog.Debug("lock preempted", "lock", l.name, "holder", top.ID(), "by", r.ID())
			}
			l.dequeue(r)
			l.holders = append(l.holders, r)
			l.mu.Unlock()
			return true
		}
		if attempt >= maxAttempts {
			l.dequeue(r)
			l.mu.Unlock()
			return false
		}
		ch := l.changed
		l.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			l.mu.Lock()
			l.dequeue(r)
			l.mu.Unlock()
			slog.Debug("lock wait interrupted", "lock", l.name, "requester", r.ID())
			r.Cancel()
			return false
		}
		l.mu.Lock()
	}
}

func (l *stack) Release(r Requester) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.holders) - 1; i >= 0; i-- {
		if l.holders[i].ID() == r.ID() {
			l.holders = slices.Delete(l.holders, i, i+1)
			l.broadcast()
			return
		}
	}
}

// releaseAll removes every entry of r and reports how many were removed.
func (l *stack) releaseAll(r Requester) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := len(l.holders)
	l.holders = slices.DeleteFunc(l.holders, func(h Requester) bool { return h.ID() == r.ID() })
	removed := n - len(l.holders)
	if removed > 0 {
		l.broadcast()
	}
	return removed
}

func (l *stack) Owner() Requester {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.top()
}

func (l *stack) Holders() []Requester {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.holders)
}

// Waiting returns the number of blocked requesters.
func (l *stack) Waiting() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.waiters)
}

// FCFS is a first-come first-served lock.
type FCFS struct{ *stack }

// NewFCFS creates an FCFS lock. The lock is granted when the ownership
// stack is empty and the requester is the longest-waiting one.
func NewFCFS(name string) *FCFS {
	return &FCFS{newStack(name, func(l *stack, r Requester) bool {
		return len(l.holders) == 0 && l.waiters[0].ID() == r.ID()
	}, false)}
}

// Preemptive is a priority-preemptive lock.
type Preemptive struct{ *stack }

// NewPreemptive creates a preemptive lock. Besides the FCFS rule (applied
// to a priority-ordered waiter queue), a requester whose priority exceeds
// the top holder's is granted immediately and pushed above it.
func NewPreemptive(name string) *Preemptive {
	return &Preemptive{newStack(name, func(l *stack, r Requester) bool {
		if top := l.top(); top != nil {
			return r.Priority() > top.Priority()
		}
		return l.waiters[0].ID() == r.ID()
	}, true)}
}
