// Package storetest is a conformance suite shared by every store.KV
// implementation.
package storetest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/evsync/internal/store"
)

// Run exercises the KV contract against stores built by open. Each subtest
// gets a fresh store.
func Run(t *testing.T, open func(t *testing.T) store.KV) {
	t.Helper()
	ctx := context.Background()

	t.Run("get missing", func(t *testing.T) {
		kv := open(t)
		err := kv.View(ctx, func(txn store.Txn) error {
			_, err := txn.Get("event/absent")
			return err
		})
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("set then get", func(t *testing.T) {
		kv := open(t)
		require.NoError(t, kv.Update(ctx, func(txn store.Txn) error {
			return txn.Set("event/1", []byte(`{"id":"1"}`))
		}))

		var got []byte
		require.NoError(t, kv.View(ctx, func(txn store.Txn) error {
			var err error
			got, err = txn.Get("event/1")
			return err
		}))
		assert.Equal(t, `{"id":"1"}`, string(got))
	})

	t.Run("overwrite", func(t *testing.T) {
		kv := open(t)
		require.NoError(t, kv.Update(ctx, func(txn store.Txn) error {
			if err := txn.Set("k", []byte("a")); err != nil {
				return err
			}
			return txn.Set("k", []byte("b"))
		}))
		require.NoError(t, kv.View(ctx, func(txn store.Txn) error {
			got, err := txn.Get("k")
			require.NoError(t, err)
			assert.Equal(t, "b", string(got))
			return nil
		}))
	})

	t.Run("read your writes", func(t *testing.T) {
		kv := open(t)
		require.NoError(t, kv.Update(ctx, func(txn store.Txn) error {
			if err := txn.Set("outbox/1", []byte("x")); err != nil {
				return err
			}
			got, err := txn.Get("outbox/1")
			if err != nil {
				return err
			}
			assert.Equal(t, "x", string(got))

			items, err := txn.Scan("outbox/")
			if err != nil {
				return err
			}
			assert.Len(t, items, 1)
			return nil
		}))
	})

	t.Run("remove", func(t *testing.T) {
		kv := open(t)
		require.NoError(t, kv.Update(ctx, func(txn store.Txn) error {
			return txn.Set("k", []byte("v"))
		}))
		require.NoError(t, kv.Update(ctx, func(txn store.Txn) error {
			if err := txn.Remove("k"); err != nil {
				return err
			}
			return txn.Remove("never-existed")
		}))
		err := kv.View(ctx, func(txn store.Txn) error {
			_, err := txn.Get("k")
			return err
		})
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("rollback on error", func(t *testing.T) {
		kv := open(t)
		require.NoError(t, kv.Update(ctx, func(txn store.Txn) error {
			return txn.Set("keep", []byte("1"))
		}))

		boom := errors.New("boom")
		err := kv.Update(ctx, func(txn store.Txn) error {
			if err := txn.Set("discard", []byte("1")); err != nil {
				return err
			}
			if err := txn.Remove("keep"); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)

		require.NoError(t, kv.View(ctx, func(txn store.Txn) error {
			_, err := txn.Get("discard")
			assert.ErrorIs(t, err, store.ErrNotFound)
			_, err = txn.Get("keep")
			assert.NoError(t, err)
			return nil
		}))
	})

	t.Run("scan prefix in key order", func(t *testing.T) {
		kv := open(t)
		require.NoError(t, kv.Update(ctx, func(txn store.Txn) error {
			for _, k := range []string{"outbox/0003", "outbox/0001", "event/a", "outbox/0002", "outboxx"} {
				if err := txn.Set(k, []byte(k)); err != nil {
					return err
				}
			}
			return nil
		}))

		require.NoError(t, kv.View(ctx, func(txn store.Txn) error {
			items, err := txn.Scan("outbox/")
			require.NoError(t, err)
			keys := make([]string, len(items))
			for i, it := range items {
				keys[i] = it.Key
				assert.Equal(t, it.Key, string(it.Value))
			}
			assert.Equal(t, []string{"outbox/0001", "outbox/0002", "outbox/0003"}, keys)

			none, err := txn.Scan("draft/")
			require.NoError(t, err)
			assert.NotNil(t, none)
			assert.Empty(t, none)

			all, err := txn.Scan("")
			require.NoError(t, err)
			assert.Len(t, all, 5)
			return nil
		}))
	})

	t.Run("writes rejected in view", func(t *testing.T) {
		kv := open(t)
		err := kv.View(ctx, func(txn store.Txn) error {
			return txn.Set("k", []byte("v"))
		})
		assert.ErrorIs(t, err, store.ErrReadOnly)
	})

	t.Run("json helpers", func(t *testing.T) {
		kv := open(t)
		type doc struct {
			ID    string `json:"id"`
			Count int    `json:"count"`
		}
		require.NoError(t, kv.Update(ctx, func(txn store.Txn) error {
			return store.SetJSON(txn, "doc/1", doc{ID: "1", Count: 2})
		}))
		var got doc
		require.NoError(t, kv.View(ctx, func(txn store.Txn) error {
			return store.GetJSON(txn, "doc/1", &got)
		}))
		assert.Equal(t, doc{ID: "1", Count: 2}, got)
	})
}
