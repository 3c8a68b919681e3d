package testutil

import (
	"strconv"
	"sync"
	"time"
)

// Epoch is the instant every FakeClock starts at unless told otherwise.
var Epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// FakeClock is a wall clock that only moves when a test moves it.
//
// Deadlines, waits and urgency all read Now(), so a test can place a goal
// at any point of its time budget without sleeping.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock creates a clock reading Epoch.
func NewFakeClock() *FakeClock {
	return &FakeClock{now: Epoch}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d and returns the new time.
func (c *FakeClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// Set moves the clock to t. Used to rewind between scenario runs.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// FixedTokens returns predetermined goal tokens, then "token-<n>" once the
// list is exhausted. Golden output stays byte-identical across runs.
type FixedTokens struct {
	mu     sync.Mutex
	tokens []string
	n      int
}

// NewFixedTokens creates a generator that returns tokens in order.
func NewFixedTokens(tokens ...string) *FixedTokens {
	return &FixedTokens{tokens: tokens}
}

// Generate returns the next token.
func (g *FixedTokens) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	if g.n <= len(g.tokens) {
		return g.tokens[g.n-1]
	}
	return "token-" + strconv.Itoa(g.n)
}
