package engine

import "sync"

// wakeQueue collects event ids with fresh mutations and wakes the delivery
// loop. The durable outbox is the source of truth; the ids only feed
// diagnostics and spare the loop a full retry interval of sleep.
//
// Thread-safety: all methods are safe for concurrent use.
type wakeQueue struct {
	mu     sync.Mutex
	ids    []string
	closed bool
	signal chan struct{} // buffered, size 1
}

func newWakeQueue() *wakeQueue {
	return &wakeQueue{
		signal: make(chan struct{}, 1),
	}
}

// Notify records eventID and wakes the loop. Returns false once closed.
func (q *wakeQueue) Notify(eventID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.ids = append(q.ids, eventID)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// Drain returns and clears the recorded ids.
func (q *wakeQueue) Drain() []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	ids := q.ids
	q.ids = nil
	return ids
}

// Wait returns the wake-up channel. It is closed by Close.
func (q *wakeQueue) Wait() <-chan struct{} {
	return q.signal
}

// Close stops accepting notifications and wakes every waiter.
func (q *wakeQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
