// Package cache is the observable document store shared by the sync
// engine's components.
//
// Documents are whole JSON values under path-like keys (see keys.go).
// Writers replace whole documents inside Update; there are no partial field
// writes. After an Update commits, subscribers whose prefix matches a
// touched key are notified with the list of changes.
package cache

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/roach88/evsync/internal/store"
)

// Change describes one key touched by a committed Update.
type Change struct {
	Key     string
	Removed bool
}

type subscription struct {
	prefix string
	fn     func([]Change)
}

// Cache wraps a store.KV with change notification.
//
// Thread-safety: Cache is safe for concurrent use. Subscriber callbacks run
// on the goroutine that called Update, after the commit, without locks held.
type Cache struct {
	kv     store.KV
	logger *slog.Logger

	mu   sync.Mutex
	subs map[int]subscription
	next int
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger used for subscriber diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = l
	}
}

// New wraps kv.
func New(kv store.KV, opts ...Option) *Cache {
	c := &Cache{
		kv:     kv,
		logger: slog.Default(),
		subs:   make(map[int]subscription),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Close closes the underlying store.
func (c *Cache) Close() error {
	return c.kv.Close()
}

// View runs fn in a read-only transaction.
func (c *Cache) View(ctx context.Context, fn func(*Txn) error) error {
	return c.kv.View(ctx, func(t store.Txn) error {
		return fn(&Txn{Txn: t})
	})
}

// Update runs fn in a read-write transaction. When it commits, subscribers
// are notified of every key fn set or removed.
func (c *Cache) Update(ctx context.Context, fn func(*Txn) error) error {
	var txn *Txn
	err := c.kv.Update(ctx, func(t store.Txn) error {
		// Badger may retry the function on conflict; start clean each time.
		txn = &Txn{Txn: t, touched: make(map[string]bool)}
		return fn(txn)
	})
	if err != nil {
		return err
	}
	c.notify(txn.changes())
	return nil
}

// Get reads and decodes one document.
func (c *Cache) Get(ctx context.Context, key string, v any) error {
	return c.View(ctx, func(txn *Txn) error {
		return txn.GetJSON(key, v)
	})
}

// Set encodes and writes one document.
func (c *Cache) Set(ctx context.Context, key string, v any) error {
	return c.Update(ctx, func(txn *Txn) error {
		return txn.SetJSON(key, v)
	})
}

// Remove deletes one document.
func (c *Cache) Remove(ctx context.Context, key string) error {
	return c.Update(ctx, func(txn *Txn) error {
		return txn.Remove(key)
	})
}

// Subscribe registers fn for changes under prefix. The returned function
// cancels the subscription.
func (c *Cache) Subscribe(prefix string, fn func([]Change)) (cancel func()) {
	c.mu.Lock()
	id := c.next
	c.next++
	c.subs[id] = subscription{prefix: prefix, fn: fn}
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

func (c *Cache) notify(changes []Change) {
	if len(changes) == 0 {
		return
	}

	c.mu.Lock()
	ids := make([]int, 0, len(c.subs))
	for id := range c.subs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	subs := make([]subscription, 0, len(ids))
	for _, id := range ids {
		subs = append(subs, c.subs[id])
	}
	c.mu.Unlock()

	for _, sub := range subs {
		var matched []Change
		for _, ch := range changes {
			if strings.HasPrefix(ch.Key, sub.prefix) {
				matched = append(matched, ch)
			}
		}
		if len(matched) > 0 {
			c.logger.Debug("cache notify", "prefix", sub.prefix, "changes", len(matched))
			sub.fn(matched)
		}
	}
}

// Txn is a store transaction that records the keys it touches.
type Txn struct {
	store.Txn
	touched map[string]bool // key -> removed
}

// Set writes value under key.
func (t *Txn) Set(key string, value []byte) error {
	if err := t.Txn.Set(key, value); err != nil {
		return err
	}
	if t.touched != nil {
		t.touched[key] = false
	}
	return nil
}

// Remove deletes key.
func (t *Txn) Remove(key string) error {
	if err := t.Txn.Remove(key); err != nil {
		return err
	}
	if t.touched != nil {
		t.touched[key] = true
	}
	return nil
}

// GetJSON reads key and decodes it into v.
func (t *Txn) GetJSON(key string, v any) error {
	return store.GetJSON(t, key, v)
}

// SetJSON encodes v and writes it under key.
func (t *Txn) SetJSON(key string, v any) error {
	return store.SetJSON(t, key, v)
}

func (t *Txn) changes() []Change {
	out := make([]Change, 0, len(t.touched))
	for k, removed := range t.touched {
		out = append(out, Change{Key: k, Removed: removed})
	}
	slices.SortFunc(out, func(a, b Change) int {
		return strings.Compare(a.Key, b.Key)
	})
	return out
}
