package engine

import (
	"sync/atomic"
	"time"
)

// Clock supplies wall-clock time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the system clock in UTC.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// stampClock hands out strictly increasing timestamps so that actions
// enqueued in quick succession keep their order when sorted by time.
//
// Thread-safety: Next is safe for concurrent use.
type stampClock struct {
	clock Clock
	last  atomic.Int64 // unix nanoseconds of the last stamp
}

func newStampClock(c Clock) *stampClock {
	return &stampClock{clock: c}
}

// Next returns max(now, last+1ns).
func (s *stampClock) Next() time.Time {
	for {
		now := s.clock.Now()
		last := s.last.Load()
		next := now.UnixNano()
		if next <= last {
			next = last + 1
		}
		if s.last.CompareAndSwap(last, next) {
			if next == now.UnixNano() {
				return now
			}
			return time.Unix(0, next).In(now.Location())
		}
	}
}
