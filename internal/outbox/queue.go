package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/roach88/evsync/internal/cache"
	"github.com/roach88/evsync/internal/event"
	"github.com/roach88/evsync/internal/store"
)

// ErrEntryNotFound is returned when no entry carries a transaction id.
var ErrEntryNotFound = errors.New("outbox entry not found")

// Queue is the durable mutation queue.
//
// Thread-safety: all state lives in the cache; every method runs in its own
// cache transaction. Methods with a Txn suffix join a caller's transaction.
type Queue struct {
	cache *cache.Cache
}

// New returns a queue over c.
func New(c *cache.Cache) *Queue {
	return &Queue{cache: c}
}

// Enqueue appends e, assigning its sequence number and payload hash.
//
// Redelivering a transaction id with the same payload is a no-op that
// returns the stored entry and false. Reusing it for a different payload
// returns an *IdempotencyError.
func (q *Queue) Enqueue(ctx context.Context, e Entry) (Entry, bool, error) {
	var (
		out   Entry
		added bool
	)
	err := q.cache.Update(ctx, func(txn *cache.Txn) error {
		var err error
		out, added, err = EnqueueTxn(txn, e)
		return err
	})
	return out, added, err
}

// EnqueueTxn is Enqueue inside an existing transaction.
func EnqueueTxn(txn *cache.Txn, e Entry) (Entry, bool, error) {
	if e.TransactionID == "" {
		return Entry{}, false, errors.New("enqueue: transaction id is required")
	}
	hash, err := e.Hash()
	if err != nil {
		return Entry{}, false, fmt.Errorf("enqueue: %w", err)
	}

	existing, _, err := find(txn, e.TransactionID)
	switch {
	case err == nil:
		if existing.PayloadHash != hash {
			return Entry{}, false, &IdempotencyError{
				TransactionID: e.TransactionID,
				ExistingHash:  existing.PayloadHash,
				NewHash:       hash,
			}
		}
		return existing, false, nil
	case !errors.Is(err, ErrEntryNotFound):
		return Entry{}, false, err
	}

	seq, err := nextSeq(txn)
	if err != nil {
		return Entry{}, false, err
	}
	e.Seq = seq
	e.PayloadHash = hash
	e.State = StatePending
	e.Attempts = 0
	e.LastError = ""
	if err := txn.SetJSON(cache.OutboxKey(seq), e); err != nil {
		return Entry{}, false, fmt.Errorf("enqueue: %w", err)
	}
	return e, true, nil
}

// Pending returns queued entries in enqueue order.
func (q *Queue) Pending(ctx context.Context) ([]Entry, error) {
	var entries []Entry
	err := q.cache.View(ctx, func(txn *cache.Txn) error {
		var err error
		entries, err = scan(txn, cache.PrefixOutbox)
		return err
	})
	return entries, err
}

// Failed returns permanently failed entries in enqueue order.
func (q *Queue) Failed(ctx context.Context) ([]Entry, error) {
	var entries []Entry
	err := q.cache.View(ctx, func(txn *cache.Txn) error {
		var err error
		entries, err = scan(txn, cache.PrefixFailed)
		return err
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(entries, func(a, b Entry) int {
		return compareInt64(a.Seq, b.Seq)
	})
	return entries, nil
}

// Get returns the pending or failed entry with transactionID.
func (q *Queue) Get(ctx context.Context, transactionID string) (Entry, error) {
	var e Entry
	err := q.cache.View(ctx, func(txn *cache.Txn) error {
		var err error
		e, _, err = find(txn, transactionID)
		return err
	})
	return e, err
}

// Remove deletes the entry with transactionID after confirmed delivery.
func (q *Queue) Remove(ctx context.Context, transactionID string) error {
	return q.cache.Update(ctx, func(txn *cache.Txn) error {
		return RemoveTxn(txn, transactionID)
	})
}

// RemoveTxn is Remove inside an existing transaction. Removing an unknown
// transaction id is not an error.
func RemoveTxn(txn *cache.Txn, transactionID string) error {
	_, key, err := find(txn, transactionID)
	if errors.Is(err, ErrEntryNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return txn.Remove(key)
}

// MarkRetry records a failed attempt and schedules the next one.
func (q *Queue) MarkRetry(ctx context.Context, transactionID string, cause error, next time.Time) (Entry, error) {
	var e Entry
	err := q.cache.Update(ctx, func(txn *cache.Txn) error {
		var key string
		var err error
		e, key, err = find(txn, transactionID)
		if err != nil {
			return err
		}
		e.Attempts++
		e.LastError = cause.Error()
		e.NextAttemptAt = next
		return txn.SetJSON(key, e)
	})
	return e, err
}

// MarkFailed moves the entry to the failed set.
func (q *Queue) MarkFailed(ctx context.Context, transactionID string, cause error, at time.Time) (Entry, error) {
	var e Entry
	err := q.cache.Update(ctx, func(txn *cache.Txn) error {
		var key string
		var err error
		e, key, err = find(txn, transactionID)
		if err != nil {
			return err
		}
		e.Attempts++
		e.LastError = cause.Error()
		e.State = StateFailed
		e.FailedAt = at
		e.NextAttemptAt = time.Time{}
		if err := txn.Remove(key); err != nil {
			return err
		}
		return txn.SetJSON(cache.FailedKey(transactionID), e)
	})
	return e, err
}

// Dismiss drops a failed entry the user has acknowledged.
func (q *Queue) Dismiss(ctx context.Context, transactionID string) error {
	return q.cache.Update(ctx, func(txn *cache.Txn) error {
		if _, err := txn.Get(cache.FailedKey(transactionID)); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrEntryNotFound
			}
			return err
		}
		return txn.Remove(cache.FailedKey(transactionID))
	})
}

// HasPending reports whether any queued entry targets eventID.
func (q *Queue) HasPending(ctx context.Context, eventID string) (bool, error) {
	entries, err := q.ForEvent(ctx, eventID)
	return len(entries) > 0, err
}

// ForEvent returns the queued entries targeting eventID in enqueue order.
func (q *Queue) ForEvent(ctx context.Context, eventID string) ([]Entry, error) {
	pending, err := q.Pending(ctx)
	if err != nil {
		return nil, err
	}
	out := []Entry{}
	for _, e := range pending {
		if e.EventID == eventID {
			out = append(out, e)
		}
	}
	return out, nil
}

// RewriteEventID points every pending and failed entry for tmpID at
// canonicalID. Returns the number of rewritten entries.
func RewriteEventID(txn *cache.Txn, tmpID, canonicalID string) (int, error) {
	n := 0
	for _, prefix := range []string{cache.PrefixOutbox, cache.PrefixFailed} {
		items, err := txn.Scan(prefix)
		if err != nil {
			return n, err
		}
		for _, it := range items {
			var e Entry
			if err := json.Unmarshal(it.Value, &e); err != nil {
				return n, fmt.Errorf("decode %s: %w", it.Key, err)
			}
			if e.EventID != tmpID {
				continue
			}
			e.EventID = canonicalID
			if err := txn.SetJSON(it.Key, e); err != nil {
				return n, err
			}
			n++
		}
	}
	return n, nil
}

// Load prepares the queue after a restart: the sequence counter is moved
// past every stored entry, and the pending entries are returned in their
// original enqueue order for replay.
func (q *Queue) Load(ctx context.Context) ([]Entry, error) {
	var pending []Entry
	err := q.cache.Update(ctx, func(txn *cache.Txn) error {
		var err error
		pending, err = scan(txn, cache.PrefixOutbox)
		if err != nil {
			return err
		}
		failed, err := scan(txn, cache.PrefixFailed)
		if err != nil {
			return err
		}

		current, err := currentSeq(txn)
		if err != nil {
			return err
		}
		high := current
		for _, e := range append(slices.Clone(pending), failed...) {
			high = max(high, e.Seq)
		}
		if high != current {
			return txn.Set(cache.KeyOutboxSeq, []byte(strconv.FormatInt(high, 10)))
		}
		return nil
	})
	return pending, err
}

// Ready selects the entries a delivery pass may attempt at now: entries
// whose retry time has come, excluding any entry queued behind an earlier
// pending entry for the same event. Input must be in enqueue order.
func Ready(pending []Entry, now time.Time) []Entry {
	blocked := make(map[string]bool)
	out := []Entry{}
	for _, e := range pending {
		if blocked[e.EventID] {
			continue
		}
		blocked[e.EventID] = true
		if e.NextAttemptAt.After(now) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// find locates a pending or failed entry by transaction id and returns it
// with its key.
func find(txn *cache.Txn, transactionID string) (Entry, string, error) {
	var failed Entry
	err := txn.GetJSON(cache.FailedKey(transactionID), &failed)
	if err == nil {
		return failed, cache.FailedKey(transactionID), nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return Entry{}, "", err
	}

	items, err := txn.Scan(cache.PrefixOutbox)
	if err != nil {
		return Entry{}, "", err
	}
	for _, it := range items {
		var e Entry
		if err := json.Unmarshal(it.Value, &e); err != nil {
			return Entry{}, "", fmt.Errorf("decode %s: %w", it.Key, err)
		}
		if e.TransactionID == transactionID {
			return e, it.Key, nil
		}
	}
	return Entry{}, "", ErrEntryNotFound
}

func scan(txn *cache.Txn, prefix string) ([]Entry, error) {
	items, err := txn.Scan(prefix)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(items))
	for _, it := range items {
		var e Entry
		if err := json.Unmarshal(it.Value, &e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", it.Key, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func currentSeq(txn *cache.Txn) (int64, error) {
	b, err := txn.Get(cache.KeyOutboxSeq)
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	seq, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("decode %s: %w", cache.KeyOutboxSeq, err)
	}
	return seq, nil
}

func nextSeq(txn *cache.Txn) (int64, error) {
	seq, err := currentSeq(txn)
	if err != nil {
		return 0, err
	}
	seq++
	if err := txn.Set(cache.KeyOutboxSeq, []byte(strconv.FormatInt(seq, 10))); err != nil {
		return 0, err
	}
	return seq, nil
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// ForEventTxn returns pending entries for eventID inside txn.
func ForEventTxn(txn *cache.Txn, eventID string) ([]Entry, error) {
	pending, err := scan(txn, cache.PrefixOutbox)
	if err != nil {
		return nil, err
	}
	out := []Entry{}
	for _, e := range pending {
		if e.EventID == eventID {
			out = append(out, e)
		}
	}
	return out, nil
}

// HasPendingCreate reports whether a CREATE for eventID is still queued.
func HasPendingCreate(pending []Entry, eventID string) bool {
	for _, e := range pending {
		if e.EventID == eventID && e.Action == event.ActionCreate {
			return true
		}
	}
	return false
}
