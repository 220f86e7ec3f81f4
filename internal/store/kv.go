package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Txn.Get when a key is absent.
var ErrNotFound = errors.New("key not found")

// Item is one key-value pair returned by Scan.
type Item struct {
	Key   string
	Value []byte
}

// Txn is a transaction over the store. A Txn must not be used after the
// function it was passed to returns.
type Txn interface {
	// Get returns the value for key, or ErrNotFound.
	Get(key string) ([]byte, error)
	// Set writes value under key, replacing any previous value.
	Set(key string, value []byte) error
	// Remove deletes key. Removing an absent key is not an error.
	Remove(key string) error
	// Scan returns every item whose key starts with prefix, in key order.
	// Returns an empty slice (not nil) when nothing matches.
	Scan(prefix string) ([]Item, error)
}

// KV is the durable key-value storage collaborator.
//
// Update runs fn in a read-write transaction that commits only when fn
// returns nil. View runs fn in a read-only transaction.
type KV interface {
	View(ctx context.Context, fn func(Txn) error) error
	Update(ctx context.Context, fn func(Txn) error) error
	Close() error
}

// ErrReadOnly is returned by writes attempted inside View.
var ErrReadOnly = errors.New("write in read-only transaction")

// GetJSON reads key and decodes it into v.
func GetJSON(txn Txn, key string, v any) error {
	b, err := txn.Get(key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// SetJSON encodes v and writes it under key.
func SetJSON(txn Txn, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return txn.Set(key, b)
}

// PrefixEnd returns the smallest key greater than every key with the given
// prefix, or "" when no such bound exists.
func PrefixEnd(prefix string) string {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xff {
			b[i]++
			return string(b[:i+1])
		}
	}
	return ""
}
