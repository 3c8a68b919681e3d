package scheduler

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequence(t *testing.T) {
	s := NewSequence()
	assert.Equal(t, int64(0), s.Current())
	assert.Equal(t, int64(1), s.Next())
	assert.Equal(t, int64(2), s.Next())
	assert.Equal(t, int64(2), s.Current())

	r := NewSequenceAt(100)
	assert.Equal(t, int64(101), r.Next())
}

func TestSequence_ConcurrentUnique(t *testing.T) {
	s := NewSequence()
	const workers, per = 20, 50

	var mu sync.Mutex
	seen := make(map[int64]bool)
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range per {
				n := s.Next()
				mu.Lock()
				seen[n] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, workers*per)
	assert.Equal(t, int64(workers*per), s.Current())
}

func TestUUIDv7Tokens(t *testing.T) {
	tok := UUIDv7Tokens{}.Generate()
	u, err := uuid.Parse(tok)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), u.Version())
}
