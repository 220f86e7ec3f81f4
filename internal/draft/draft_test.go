package draft

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/evsync/internal/cache"
	"github.com/roach88/evsync/internal/event"
	"github.com/roach88/evsync/internal/store/memstore"
	"github.com/roach88/evsync/internal/val"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	c := cache.New(memstore.New())
	t.Cleanup(func() { c.Close() })
	return New(c)
}

func testDraft(id, eventID, tx string, at time.Duration, decl val.Object) event.Draft {
	return event.Draft{
		ID:            id,
		EventID:       eventID,
		TransactionID: tx,
		Action: event.DraftAction{
			Type:        event.ActionDeclare,
			CreatedAt:   t0.Add(at),
			Declaration: decl,
		},
		CreatedAt: t0.Add(at),
	}
}

func TestMergeDrafts_NewerWinsSharedFields(t *testing.T) {
	remote := testDraft("r1", "e1", "tx-r", time.Minute, val.Obj(
		val.P("child.name", val.String("Remote")),
		val.P("child.dob", val.String("2026-01-01")),
	))
	local := testDraft("l1", "e1", "tx-l", 2*time.Minute, val.Obj(
		val.P("child.name", val.String("Local")),
		val.P("child.weight", val.Int(3)),
	))

	merged := MergeDrafts(remote, local, t0.Add(3*time.Minute))

	assert.Equal(t, val.Object{
		"child.name":   val.String("Local"),
		"child.dob":    val.String("2026-01-01"),
		"child.weight": val.Int(3),
	}, merged.Action.Declaration)
	assert.Equal(t, "l1", merged.ID)
	assert.Equal(t, "tx-l", merged.TransactionID)
	assert.Equal(t, t0.Add(3*time.Minute), merged.CreatedAt)
}

func TestMergeDrafts_RemoteNewer(t *testing.T) {
	remote := testDraft("r1", "e1", "tx-r", 5*time.Minute, val.Obj(val.P("x", val.String("remote"))))
	local := testDraft("l1", "e1", "tx-l", time.Minute, val.Obj(val.P("x", val.String("local"))))

	merged := MergeDrafts(remote, local, t0)

	assert.Equal(t, val.String("remote"), merged.Action.Declaration["x"])
	assert.Equal(t, t0.Add(5*time.Minute+time.Nanosecond), merged.CreatedAt,
		"a stale clock still yields a timestamp after both inputs")
	assert.Equal(t, merged.CreatedAt, merged.Action.CreatedAt)
}

func TestMergeDrafts_KeepsExplicitNull(t *testing.T) {
	remote := testDraft("r1", "e1", "tx-r", time.Minute, val.Obj(val.P("x", val.String("old"))))
	local := testDraft("l1", "e1", "tx-l", 2*time.Minute, val.Obj(val.P("x", val.Null{})))

	merged := MergeDrafts(remote, local, t0.Add(time.Hour))

	assert.Equal(t, val.Null{}, merged.Action.Declaration["x"])
}

func TestMergeDrafts_DoesNotMutateInputs(t *testing.T) {
	remote := testDraft("r1", "e1", "tx-r", time.Minute, val.Obj(val.P("x", val.Object{"y": val.Int(1)})))
	local := testDraft("l1", "e1", "tx-l", 2*time.Minute, val.Obj(val.P("z", val.Int(2))))

	merged := MergeDrafts(remote, local, t0.Add(time.Hour))
	merged.Action.Declaration["x"].(val.Object)["y"] = val.Int(9)

	assert.Equal(t, val.Int(1), remote.Action.Declaration["x"].(val.Object)["y"])
	assert.NotContains(t, local.Action.Declaration, "x")
}

func TestStore_ActiveRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Active(ctx)
	assert.ErrorIs(t, err, ErrNoActiveDraft)

	d := testDraft("d1", "e1", "tx-1", 0, val.Obj(val.P("x", val.Int(1))))
	require.NoError(t, s.SaveActive(ctx, d))

	got, err := s.Active(ctx)
	require.NoError(t, err)
	assert.Equal(t, "d1", got.ID)
	assert.Equal(t, val.Int(1), got.Action.Declaration["x"])

	require.NoError(t, s.ClearActive(ctx))
	_, err = s.Active(ctx)
	assert.ErrorIs(t, err, ErrNoActiveDraft)
}

func TestStore_Merged(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, found, err := s.Merged(ctx, "e1", t0)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.SetRemote(ctx, testDraft("r1", "e1", "tx-r", time.Minute, val.Obj(val.P("a", val.Int(1))))))
	got, found, err := s.Merged(ctx, "e1", t0)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "r1", got.ID)

	require.NoError(t, s.SaveActive(ctx, testDraft("l1", "e1", "tx-l", 2*time.Minute, val.Obj(val.P("b", val.Int(2))))))
	got, found, err = s.Merged(ctx, "e1", t0.Add(time.Hour))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "l1", got.ID)
	assert.Equal(t, val.Object{"a": val.Int(1), "b": val.Int(2)}, got.Action.Declaration)

	_, found, err = s.Merged(ctx, "e2", t0)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStore_AdoptRemoteMintsFreshTransaction(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.SetRemote(ctx, testDraft("r1", "e1", "tx-r", time.Minute, val.Obj(val.P("a", val.Int(1))))))

	_, err := s.AdoptRemote(ctx, "e1", "tx-r", t0)
	assert.Error(t, err, "reusing the remote transaction id must be refused")

	adopted, err := s.AdoptRemote(ctx, "e1", "tx-new", t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "tx-new", adopted.TransactionID)

	active, err := s.Active(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tx-new", active.TransactionID)
	assert.Equal(t, val.Int(1), active.Action.Declaration["a"])

	_, err = s.AdoptRemote(ctx, "e9", "tx-x", t0)
	assert.ErrorIs(t, err, ErrNoRemoteDraft)
}

func TestStore_DiscardSettled(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.SaveActive(ctx, testDraft("l1", "e1", "tx-l", time.Minute, nil)))
	require.NoError(t, s.SetRemote(ctx, testDraft("r1", "e1", "tx-r", time.Minute, nil)))

	doc := event.Document{ID: "e1", Actions: []event.Action{
		{Type: event.ActionCreate, ID: "a1", TransactionID: "tx-c", CreatedAt: t0.Add(10 * time.Minute), Status: event.ActionAccepted},
	}}
	discarded, err := s.DiscardSettled(ctx, doc)
	require.NoError(t, err)
	assert.Empty(t, discarded, "a late CREATE must not settle a draft")

	doc.Actions = append(doc.Actions, event.Action{
		Type: event.ActionDeclare, ID: "a2", TransactionID: "tx-l", CreatedAt: t0.Add(11 * time.Minute), Status: event.ActionAccepted,
	})
	discarded, err = s.DiscardSettled(ctx, doc)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"l1", "r1"}, discarded)

	all, err := s.All(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestSettled(t *testing.T) {
	d := testDraft("d1", "e1", "tx-d", 5*time.Minute, nil)

	pending := event.Document{ID: "e1", Actions: []event.Action{
		{Type: event.ActionDeclare, TransactionID: "tx-d", Status: event.ActionRejected, CreatedAt: t0},
		{Type: event.ActionValidate, TransactionID: "tx-v", Status: event.ActionAccepted, CreatedAt: t0.Add(time.Minute)},
	}}
	assert.False(t, Settled(pending, d))

	accepted := event.Document{ID: "e1", Actions: []event.Action{
		{Type: event.ActionDeclare, TransactionID: "tx-d", Status: event.ActionAccepted, CreatedAt: t0},
	}}
	assert.True(t, Settled(accepted, d))

	superseded := event.Document{ID: "e1", Actions: []event.Action{
		{Type: event.ActionValidate, TransactionID: "tx-v", Status: event.ActionAccepted, CreatedAt: t0.Add(6 * time.Minute)},
	}}
	assert.True(t, Settled(superseded, d))
}

func TestRewriteEventID(t *testing.T) {
	ctx := context.Background()
	c := cache.New(memstore.New())
	s := New(c)

	require.NoError(t, s.SaveActive(ctx, testDraft("l1", "tmp-1", "tx-l", 0, nil)))
	require.NoError(t, s.SetRemote(ctx, testDraft("r1", "tmp-1", "tx-r", 0, nil)))

	require.NoError(t, c.Update(ctx, func(txn *cache.Txn) error {
		return RewriteEventID(txn, "tmp-1", "evt-1")
	}))

	active, err := s.Active(ctx)
	require.NoError(t, err)
	assert.Equal(t, "evt-1", active.EventID)

	remote, err := s.Remote(ctx, "evt-1")
	require.NoError(t, err)
	assert.Equal(t, "evt-1", remote.EventID)

	_, err = s.Remote(ctx, "tmp-1")
	assert.ErrorIs(t, err, ErrNoRemoteDraft)
}
