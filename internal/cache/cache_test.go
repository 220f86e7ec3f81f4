package cache

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/evsync/internal/store"
	"github.com/roach88/evsync/internal/store/memstore"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	c := New(memstore.New())
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCache_GetSet(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	type doc struct {
		ID string `json:"id"`
	}
	require.NoError(t, c.Set(ctx, EventKey("e1"), doc{ID: "e1"}))

	var got doc
	require.NoError(t, c.Get(ctx, EventKey("e1"), &got))
	assert.Equal(t, "e1", got.ID)

	require.NoError(t, c.Remove(ctx, EventKey("e1")))
	assert.ErrorIs(t, c.Get(ctx, EventKey("e1"), &got), store.ErrNotFound)
}

func TestCache_SubscribeMatchesPrefix(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	var events, outbox [][]Change
	c.Subscribe(PrefixEvent, func(ch []Change) { events = append(events, ch) })
	c.Subscribe(PrefixOutbox, func(ch []Change) { outbox = append(outbox, ch) })

	require.NoError(t, c.Update(ctx, func(txn *Txn) error {
		if err := txn.Set(EventKey("b"), []byte("{}")); err != nil {
			return err
		}
		if err := txn.Set(EventKey("a"), []byte("{}")); err != nil {
			return err
		}
		return txn.Remove(EventKey("c"))
	}))

	require.Len(t, events, 1)
	assert.Equal(t, []Change{
		{Key: "event/a"},
		{Key: "event/b"},
		{Key: "event/c", Removed: true},
	}, events[0])
	assert.Empty(t, outbox)
}

func TestCache_NoNotifyOnRollback(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	called := false
	c.Subscribe("", func([]Change) { called = true })

	err := c.Update(ctx, func(txn *Txn) error {
		if err := txn.Set("event/x", []byte("{}")); err != nil {
			return err
		}
		return errors.New("abort")
	})
	require.Error(t, err)
	assert.False(t, called)
}

func TestCache_Unsubscribe(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	count := 0
	cancel := c.Subscribe(PrefixEvent, func([]Change) { count++ })
	require.NoError(t, c.Set(ctx, EventKey("a"), map[string]string{}))
	cancel()
	require.NoError(t, c.Set(ctx, EventKey("a"), map[string]string{}))

	assert.Equal(t, 1, count)
}

func TestCache_SubscriberMayReadBack(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	var seen string
	c.Subscribe(PrefixEvent, func(ch []Change) {
		var v map[string]string
		require.NoError(t, c.Get(ctx, ch[0].Key, &v))
		seen = v["id"]
	})
	require.NoError(t, c.Set(ctx, EventKey("a"), map[string]string{"id": "a"}))

	assert.Equal(t, "a", seen)
}

func TestOutboxKey_SortsByEnqueueOrder(t *testing.T) {
	assert.Less(t, OutboxKey(9), OutboxKey(10))
	assert.Equal(t, "outbox/00000000000000000042", OutboxKey(42))
}
