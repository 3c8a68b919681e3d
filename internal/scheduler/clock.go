package scheduler

import "sync/atomic"

// Sequence stamps goal events with strictly increasing numbers.
//
// Goals step on their own goroutines, so wall time alone cannot order the
// event log; the sequence can. A store-backed scheduler resumes from the
// last persisted value with NewSequenceAt.
//
// Thread-safety: Sequence is safe for concurrent use (atomic operations).
type Sequence struct {
	seq atomic.Int64
}

// NewSequence creates a sequence starting at 0.
func NewSequence() *Sequence {
	return &Sequence{}
}

// NewSequenceAt creates a sequence that continues after start.
func NewSequenceAt(start int64) *Sequence {
	s := &Sequence{}
	s.seq.Store(start)
	return s
}

// Next returns the next sequence number.
func (s *Sequence) Next() int64 {
	return s.seq.Add(1)
}

// Current returns the last issued number without incrementing.
func (s *Sequence) Current() int64 {
	return s.seq.Load()
}
