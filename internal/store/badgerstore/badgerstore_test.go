package badgerstore

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/evsync/internal/store"
	"github.com/roach88/evsync/internal/store/storetest"
)

func TestStore_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.KV {
		s, err := Open(InMemoryConfig())
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}

func TestOpen_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s1, err := Open(DefaultConfig(dir))
	require.NoError(t, err)
	require.NoError(t, s1.Update(ctx, func(txn store.Txn) error {
		return txn.Set("draft/active", []byte(`{"id":"d1"}`))
	}))
	require.NoError(t, s1.Close())

	s2, err := Open(DefaultConfig(dir))
	require.NoError(t, err)
	defer s2.Close()

	require.NoError(t, s2.View(ctx, func(txn store.Txn) error {
		got, err := txn.Get("draft/active")
		require.NoError(t, err)
		assert.Equal(t, `{"id":"d1"}`, string(got))
		return nil
	}))
}

func TestOpen_CancelledContext(t *testing.T) {
	s, err := Open(InMemoryConfig())
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = s.Update(ctx, func(store.Txn) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBadgerLogger(t *testing.T) {
	var buf bytes.Buffer
	l := &badgerLogger{logger: slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))}

	l.Warningf("value log %d", 3)
	l.Debugf("compaction %s", "done")

	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), "value log 3")
	assert.Contains(t, buf.String(), "compaction done")
}
