// Package memstore implements store.KV in memory.
//
// Transactions are serialized by a mutex. Writes go to a staged overlay
// that is applied to the committed map only when the transaction function
// returns nil, matching the commit semantics of the durable stores.
package memstore

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/roach88/evsync/internal/store"
)

// Store is an in-memory store.KV.
type Store struct {
	mu   sync.Mutex
	data map[string][]byte
}

var _ store.KV = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{data: make(map[string][]byte)}
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

// View runs fn against the committed state.
func (s *Store) View(ctx context.Context, fn func(store.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&memTxn{s: s, readOnly: true})
}

// Update runs fn and applies its writes if fn returns nil.
func (s *Store) Update(ctx context.Context, fn func(store.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	txn := &memTxn{s: s, staged: make(map[string][]byte)}
	if err := fn(txn); err != nil {
		return err
	}
	for k, v := range txn.staged {
		if v == nil {
			delete(s.data, k)
			continue
		}
		s.data[k] = v
	}
	return nil
}

// memTxn overlays staged writes on the committed map. A nil staged value
// marks a removal.
type memTxn struct {
	s        *Store
	staged   map[string][]byte
	readOnly bool
}

func (t *memTxn) lookup(key string) ([]byte, bool) {
	if v, ok := t.staged[key]; ok {
		return v, v != nil
	}
	v, ok := t.s.data[key]
	return v, ok
}

func (t *memTxn) Get(key string) ([]byte, error) {
	v, ok := t.lookup(key)
	if !ok {
		return nil, store.ErrNotFound
	}
	return slices.Clone(v), nil
}

func (t *memTxn) Set(key string, value []byte) error {
	if t.readOnly {
		return store.ErrReadOnly
	}
	v := slices.Clone(value)
	if v == nil {
		v = []byte{}
	}
	t.staged[key] = v
	return nil
}

func (t *memTxn) Remove(key string) error {
	if t.readOnly {
		return store.ErrReadOnly
	}
	t.staged[key] = nil
	return nil
}

func (t *memTxn) Scan(prefix string) ([]store.Item, error) {
	keys := make(map[string]struct{})
	for k := range t.s.data {
		if strings.HasPrefix(k, prefix) {
			keys[k] = struct{}{}
		}
	}
	for k := range t.staged {
		if strings.HasPrefix(k, prefix) {
			keys[k] = struct{}{}
		}
	}

	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	slices.Sort(sorted)

	items := []store.Item{}
	for _, k := range sorted {
		if v, ok := t.lookup(k); ok {
			items = append(items, store.Item{Key: k, Value: slices.Clone(v)})
		}
	}
	return items, nil
}
