package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/evsync/internal/testutil"
)

func TestStampClock_FollowsWallClock(t *testing.T) {
	clock := testutil.NewManualClock(t0)
	s := newStampClock(clock)

	assert.Equal(t, t0, s.Next())

	clock.Advance(time.Minute)
	assert.Equal(t, t0.Add(time.Minute), s.Next())
}

func TestStampClock_StrictlyIncreasing(t *testing.T) {
	s := newStampClock(testutil.NewManualClock(t0))

	first := s.Next()
	second := s.Next()
	third := s.Next()

	assert.True(t, second.After(first))
	assert.True(t, third.After(second))
	assert.Equal(t, time.Nanosecond, third.Sub(second))
}

func TestStampClock_WallClockGoesBack(t *testing.T) {
	clock := testutil.NewManualClock(t0)
	s := newStampClock(clock)

	before := s.Next()
	clock.Set(t0.Add(-time.Hour))
	assert.True(t, s.Next().After(before), "stamps must not go back with the wall clock")
}

func TestStampClock_ThreadSafe(t *testing.T) {
	s := newStampClock(testutil.NewManualClock(t0))
	const goroutines = 50
	const callsPerGoroutine = 100

	var wg sync.WaitGroup
	stamps := make(chan int64, goroutines*callsPerGoroutine)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < callsPerGoroutine; j++ {
				stamps <- s.Next().UnixNano()
			}
		}()
	}
	wg.Wait()
	close(stamps)

	seen := make(map[int64]bool)
	for ns := range stamps {
		assert.False(t, seen[ns], "stamp %d issued twice", ns)
		seen[ns] = true
	}
	assert.Len(t, seen, goroutines*callsPerGoroutine)
}
