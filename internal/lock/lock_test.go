package lock

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testRequester struct {
	id        string
	priority  float64
	cancelled atomic.Bool
}

func newReq(id string, priority float64) *testRequester {
	return &testRequester{id: id, priority: priority}
}

func (r *testRequester) ID() string        { return r.id }
func (r *testRequester) Priority() float64 { return r.priority }
func (r *testRequester) Cancel()           { r.cancelled.Store(true) }

func ids(rs []Requester) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.ID()
	}
	return out
}

func TestFCFSGrantsWhenFree(t *testing.T) {
	l := NewFCFS("arm")
	h := newReq("h", 1)

	assert.True(t, l.Acquire(context.Background(), h, 1))
	assert.Equal(t, "h", l.Owner().ID())
	assert.Equal(t, "arm", l.Name())
}

func TestZeroAttemptsNeverSucceeds(t *testing.T) {
	for _, l := range []Lock{NewFCFS("a"), NewPreemptive("b")} {
		assert.False(t, l.Acquire(context.Background(), newReq("x", 10), 0))
		assert.Nil(t, l.Owner())
	}
}

func TestReentrantAcquire(t *testing.T) {
	l := NewFCFS("arm")
	h := newReq("h", 1)
	require.True(t, l.Acquire(context.Background(), h, 1))
	require.True(t, l.Acquire(context.Background(), h, 1))
	assert.Equal(t, []string{"h", "h"}, ids(l.Holders()))

	l.Release(h)
	assert.Equal(t, "h", l.Owner().ID(), "one nested release leaves the outer hold")
	l.Release(h)
	assert.Nil(t, l.Owner())
}

func TestTryOnceFailsWhenHeld(t *testing.T) {
	l := NewFCFS("arm")
	require.True(t, l.Acquire(context.Background(), newReq("h", 1), 1))

	start := time.Now()
	assert.False(t, l.Acquire(context.Background(), newReq("w", 1), 1))
	assert.Less(t, time.Since(start), time.Second, "a single attempt does not block")
	assert.Equal(t, 0, l.Waiting())
}

func TestFCFSOrder(t *testing.T) {
	l := NewFCFS("arm")
	ctx := context.Background()
	h := newReq("h", 1)
	w1 := newReq("w1", 1)
	w2 := newReq("w2", 100) // priority is ignored by FCFS
	require.True(t, l.Acquire(ctx, h, 1))

	granted := make(chan string, 2)
	go func() {
		if l.Acquire(ctx, w1, Forever) {
			granted <- "w1"
		}
	}()
	require.Eventually(t, func() bool { return l.Waiting() == 1 }, time.Second, time.Millisecond)
	go func() {
		if l.Acquire(ctx, w2, Forever) {
			granted <- "w2"
		}
	}()
	require.Eventually(t, func() bool { return l.Waiting() == 2 }, time.Second, time.Millisecond)

	l.Release(h)
	select {
	case got := <-granted:
		assert.Equal(t, "w1", got)
	case <-time.After(time.Second):
		t.Fatal("no waiter granted")
	}
	assert.Equal(t, "w1", l.Owner().ID())
	assert.Equal(t, 1, l.Waiting())

	l.Release(w1)
	select {
	case got := <-granted:
		assert.Equal(t, "w2", got)
	case <-time.After(time.Second):
		t.Fatal("second waiter not granted")
	}
}

func TestBoundedAttemptsGiveUp(t *testing.T) {
	l := NewFCFS("arm")
	ctx := context.Background()
	h := newReq("h", 1)
	require.True(t, l.Acquire(ctx, h, 1))

	done := make(chan bool, 1)
	go func() { done <- l.Acquire(ctx, newReq("w", 1), 2) }()
	require.Eventually(t, func() bool { return l.Waiting() == 1 }, time.Second, time.Millisecond)

	// Reentrant acquire by the holder changes nothing for the waiter; a
	// state change wakes it for its second and last attempt.
	require.True(t, l.Acquire(ctx, h, 1))
	l.Release(h)

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("waiter did not give up")
	}
	assert.Equal(t, 0, l.Waiting())
}

func TestInterruptCancelsRequester(t *testing.T) {
	l := NewFCFS("arm")
	require.True(t, l.Acquire(context.Background(), newReq("h", 1), 1))

	ctx, cancel := context.WithCancel(context.Background())
	w := newReq("w", 1)
	done := make(chan bool, 1)
	go func() { done <- l.Acquire(ctx, w, Forever) }()
	require.Eventually(t, func() bool { return l.Waiting() == 1 }, time.Second, time.Millisecond)

	cancel()
	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("interrupted wait did not return")
	}
	assert.True(t, w.cancelled.Load())
	assert.Equal(t, 0, l.Waiting())
	assert.Equal(t, "h", l.Owner().ID())
}

func TestPreemptiveHigherPriorityJumps(t *testing.T) {
	l := NewPreemptive("arm")
	ctx := context.Background()
	h1 := newReq("h1", 1)
	w2 := newReq("w2", 5)
	require.True(t, l.Acquire(ctx, h1, 1))

	assert.True(t, l.Acquire(ctx, w2, 1), "higher priority acquires immediately")
	assert.Equal(t, "w2", l.Owner().ID())
	assert.Equal(t, []string{"h1", "w2"}, ids(l.Holders()), "displaced holder stays beneath")

	l.Release(w2)
	assert.Equal(t, "h1", l.Owner().ID())
}

func TestPreemptiveLowerPriorityWaits(t *testing.T) {
	l := NewPreemptive("arm")
	ctx := context.Background()
	require.True(t, l.Acquire(ctx, newReq("h", 5), 1))
	assert.False(t, l.Acquire(ctx, newReq("low", 1), 1))
	assert.False(t, l.Acquire(ctx, newReq("equal", 5), 1), "equal priority does not preempt")
}

func TestPreemptiveWaitersByPriority(t *testing.T) {
	l := NewPreemptive("arm")
	ctx := context.Background()
	h := newReq("h", 10)
	require.True(t, l.Acquire(ctx, h, 1))

	granted := make(chan string, 2)
	lo := newReq("lo", 1)
	hi := newReq("hi", 3)
	go func() {
		if l.Acquire(ctx, lo, Forever) {
			granted <- "lo"
		}
	}()
	require.Eventually(t, func() bool { return l.Waiting() == 1 }, time.Second, time.Millisecond)
	go func() {
		if l.Acquire(ctx, hi, Forever) {
			granted <- "hi"
		}
	}()
	require.Eventually(t, func() bool { return l.Waiting() == 2 }, time.Second, time.Millisecond)

	l.Release(h)
	select {
	case got := <-granted:
		assert.Equal(t, "hi", got, "later but higher priority waiter goes first")
	case <-time.After(time.Second):
		t.Fatal("no waiter granted")
	}
}

func TestReleaseByNonHolderIsNoop(t *testing.T) {
	l := NewFCFS("arm")
	require.True(t, l.Acquire(context.Background(), newReq("h", 1), 1))
	l.Release(newReq("stranger", 1))
	assert.Equal(t, "h", l.Owner().ID())
}
