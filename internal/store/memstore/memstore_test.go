package memstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/evsync/internal/store"
	"github.com/roach88/evsync/internal/store/storetest"
)

func TestStore_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.KV {
		return New()
	})
}

func TestStore_ValuesAreCopied(t *testing.T) {
	ctx := context.Background()
	s := New()

	buf := []byte("abc")
	require.NoError(t, s.Update(ctx, func(txn store.Txn) error {
		return txn.Set("k", buf)
	}))
	buf[0] = 'X'

	require.NoError(t, s.View(ctx, func(txn store.Txn) error {
		got, err := txn.Get("k")
		require.NoError(t, err)
		assert.Equal(t, "abc", string(got))
		got[1] = 'Y'
		return nil
	}))

	require.NoError(t, s.View(ctx, func(txn store.Txn) error {
		got, err := txn.Get("k")
		require.NoError(t, err)
		assert.Equal(t, "abc", string(got))
		return nil
	}))
}

func TestStore_EmptyValue(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.Update(ctx, func(txn store.Txn) error {
		return txn.Set("k", nil)
	}))
	require.NoError(t, s.View(ctx, func(txn store.Txn) error {
		got, err := txn.Get("k")
		require.NoError(t, err)
		assert.Empty(t, got)
		return nil
	}))
}
