package outbox

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/evsync/internal/cache"
	"github.com/roach88/evsync/internal/event"
	"github.com/roach88/evsync/internal/form"
	"github.com/roach88/evsync/internal/store/memstore"
	"github.com/roach88/evsync/internal/val"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestQueue(t *testing.T) (*Queue, *cache.Cache) {
	t.Helper()
	c := cache.New(memstore.New())
	t.Cleanup(func() { c.Close() })
	return New(c), c
}

func declare(tx, eventID, name string) Entry {
	return Entry{
		TransactionID: tx,
		EventID:       eventID,
		EventType:     "birth",
		Action:        event.ActionDeclare,
		Declaration:   val.Obj(val.P("child.firstname", val.String(name))),
		EnqueuedAt:    t0,
	}
}

type statusErr struct{ code int }

func (e statusErr) Error() string   { return fmt.Sprintf("status %d", e.code) }
func (e statusErr) Permanent() bool { return e.code == 400 || e.code == 404 }

func TestEnqueue_AssignsSeqAndHash(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	a, added, err := q.Enqueue(ctx, declare("tx-1", "e1", "Ada"))
	require.NoError(t, err)
	assert.True(t, added)
	b, _, err := q.Enqueue(ctx, declare("tx-2", "e2", "Bo"))
	require.NoError(t, err)

	assert.Equal(t, int64(1), a.Seq)
	assert.Equal(t, int64(2), b.Seq)
	assert.Equal(t, StatePending, a.State)
	assert.Len(t, a.PayloadHash, 64)

	pending, err := q.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "tx-1", pending[0].TransactionID)
	assert.Equal(t, "tx-2", pending[1].TransactionID)
}

func TestEnqueue_SameTransactionSamePayloadIsNoop(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	first, _, err := q.Enqueue(ctx, declare("tx-1", "e1", "Ada"))
	require.NoError(t, err)
	again, added, err := q.Enqueue(ctx, declare("tx-1", "e1", "Ada"))
	require.NoError(t, err)

	assert.False(t, added)
	assert.Equal(t, first.Seq, again.Seq)
	pending, err := q.Pending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestEnqueue_SameTransactionDifferentPayload(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	_, _, err := q.Enqueue(ctx, declare("tx-1", "e1", "Ada"))
	require.NoError(t, err)
	_, _, err = q.Enqueue(ctx, declare("tx-1", "e1", "Grace"))

	var idem *IdempotencyError
	require.ErrorAs(t, err, &idem)
	assert.Equal(t, "tx-1", idem.TransactionID)
	assert.NotEqual(t, idem.ExistingHash, idem.NewHash)
	assert.Contains(t, err.Error(), "IDEMPOTENCY_VIOLATION")
}

func TestEnqueue_RejectsFailedTransactionReuse(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	_, _, err := q.Enqueue(ctx, declare("tx-1", "e1", "Ada"))
	require.NoError(t, err)
	_, err = q.MarkFailed(ctx, "tx-1", errors.New("bad request"), t0)
	require.NoError(t, err)

	_, _, err = q.Enqueue(ctx, declare("tx-1", "e1", "Grace"))
	var idem *IdempotencyError
	assert.ErrorAs(t, err, &idem)
}

func TestEnqueue_RequiresTransactionID(t *testing.T) {
	q, _ := newTestQueue(t)
	_, _, err := q.Enqueue(context.Background(), declare("", "e1", "Ada"))
	assert.Error(t, err)
}

func TestMarkRetry(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	_, _, err := q.Enqueue(ctx, declare("tx-1", "e1", "Ada"))
	require.NoError(t, err)

	e, err := q.MarkRetry(ctx, "tx-1", errors.New("connection refused"), t0.Add(10*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, e.Attempts)
	assert.Equal(t, "connection refused", e.LastError)
	assert.Equal(t, t0.Add(10*time.Second), e.NextAttemptAt)

	got, err := q.Get(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, e, got)
}

func TestMarkFailed_MovesToFailedSet(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	_, _, err := q.Enqueue(ctx, declare("tx-1", "e1", "Ada"))
	require.NoError(t, err)
	_, _, err = q.Enqueue(ctx, declare("tx-2", "e1", "Ada"))
	require.NoError(t, err)

	_, err = q.MarkFailed(ctx, "tx-1", statusErr{400}, t0)
	require.NoError(t, err)

	pending, err := q.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "tx-2", pending[0].TransactionID)

	failed, err := q.Failed(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, StateFailed, failed[0].State)
	assert.Equal(t, "status 400", failed[0].LastError)
	assert.Equal(t, t0, failed[0].FailedAt)

	require.NoError(t, q.Dismiss(ctx, "tx-1"))
	failed, err = q.Failed(ctx)
	require.NoError(t, err)
	assert.Empty(t, failed)
	assert.ErrorIs(t, q.Dismiss(ctx, "tx-1"), ErrEntryNotFound)
}

func TestRemove(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	_, _, err := q.Enqueue(ctx, declare("tx-1", "e1", "Ada"))
	require.NoError(t, err)
	require.NoError(t, q.Remove(ctx, "tx-1"))
	require.NoError(t, q.Remove(ctx, "tx-1"), "removing twice is not an error")

	_, err = q.Get(ctx, "tx-1")
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestHasPendingAndForEvent(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	_, _, err := q.Enqueue(ctx, declare("tx-1", "e1", "Ada"))
	require.NoError(t, err)
	_, _, err = q.Enqueue(ctx, declare("tx-2", "e2", "Bo"))
	require.NoError(t, err)

	ok, err := q.HasPending(ctx, "e1")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = q.HasPending(ctx, "e3")
	require.NoError(t, err)
	assert.False(t, ok)

	entries, err := q.ForEvent(ctx, "e2")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "tx-2", entries[0].TransactionID)
}

func TestRewriteEventID(t *testing.T) {
	q, c := newTestQueue(t)
	ctx := context.Background()

	_, _, err := q.Enqueue(ctx, declare("tx-1", "tmp-1", "Ada"))
	require.NoError(t, err)
	_, _, err = q.Enqueue(ctx, declare("tx-2", "e2", "Bo"))
	require.NoError(t, err)

	var n int
	err = c.Update(ctx, func(txn *cache.Txn) error {
		var err error
		n, err = RewriteEventID(txn, "tmp-1", "e1")
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := q.Get(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, "e1", got.EventID)
	assert.Equal(t, int64(1), got.Seq, "rewrite keeps the enqueue position")
}

func TestLoad_RepairsSequence(t *testing.T) {
	q, c := newTestQueue(t)
	ctx := context.Background()

	_, _, err := q.Enqueue(ctx, declare("tx-1", "e1", "Ada"))
	require.NoError(t, err)
	_, _, err = q.Enqueue(ctx, declare("tx-2", "e1", "Ada"))
	require.NoError(t, err)
	require.NoError(t, c.Remove(ctx, cache.KeyOutboxSeq))

	pending, err := q.Load(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "tx-1", pending[0].TransactionID)

	e, _, err := q.Enqueue(ctx, declare("tx-3", "e2", "Bo"))
	require.NoError(t, err)
	assert.Equal(t, int64(3), e.Seq)
}

func TestReady_PerEventFIFO(t *testing.T) {
	pending := []Entry{
		{Seq: 1, TransactionID: "a1", EventID: "a", NextAttemptAt: t0.Add(time.Minute)},
		{Seq: 2, TransactionID: "b1", EventID: "b"},
		{Seq: 3, TransactionID: "a2", EventID: "a"},
		{Seq: 4, TransactionID: "b2", EventID: "b"},
		{Seq: 5, TransactionID: "c1", EventID: "c", NextAttemptAt: t0},
	}

	ready := Ready(pending, t0)

	var txs []string
	for _, e := range ready {
		txs = append(txs, e.TransactionID)
	}
	assert.Equal(t, []string{"b1", "c1"}, txs)

	ready = Ready(pending, t0.Add(time.Minute))
	assert.Equal(t, "a1", ready[0].TransactionID)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Outcome
	}{
		{"bad request", statusErr{400}, OutcomePermanent},
		{"not found wrapped", fmt.Errorf("declare: %w", statusErr{404}), OutcomePermanent},
		{"server error", statusErr{503}, OutcomeRetry},
		{"network", errors.New("dial tcp: connection refused"), OutcomeRetry},
		{"deadline", context.DeadlineExceeded, OutcomeRetry},
		{"canceled", context.Canceled, OutcomeBlocked},
		{"blocked", fmt.Errorf("tx-1: %w", ErrBlocked), OutcomeBlocked},
		{"not created", ErrEventNotCreated, OutcomePermanent},
		{"strip", &StripError{TransactionID: "tx-1", Err: errors.New("eval: no such key")}, OutcomePermanent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestStrip(t *testing.T) {
	cfg, err := form.CompileString(`
event: birth: fields: [
	{id: "informant.type"},
	{id: "informant.email", conditions: [{type: "SHOW", expr: "form['informant.type'] != 'MOTHER'"}]},
]
`)
	require.NoError(t, err)
	ec, _ := cfg.Event("birth")
	ev, err := form.NewEvaluator()
	require.NoError(t, err)

	e := declare("tx-1", "e1", "Ada")
	e.Declaration = val.Obj(
		val.P("informant.type", val.String("MOTHER")),
		val.P("informant.email", val.String("m@example.org")),
	)

	stripped, removed, err := Strip(ev, ec, e, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"informant.email"}, removed)
	assert.NotContains(t, stripped.Declaration, "informant.email")
	assert.Contains(t, e.Declaration, "informant.email", "input entry is unchanged")
}

func TestStrip_UsesEventValues(t *testing.T) {
	cfg, err := form.CompileString(`
event: birth: fields: [
	{id: "informant.type"},
	{id: "informant.email", conditions: [{type: "SHOW", expr: "form['informant.type'] != 'MOTHER'"}]},
]
`)
	require.NoError(t, err)
	ec, _ := cfg.Event("birth")
	ev, err := form.NewEvaluator()
	require.NoError(t, err)

	e := declare("tx-2", "e1", "Ada")
	e.Action = event.ActionValidate
	e.Declaration = val.Obj(val.P("informant.email", val.String("bro@example.org")))

	stripped, removed, err := Strip(ev, ec, e, val.Obj(val.P("informant.type", val.String("BROTHER"))), nil)
	require.NoError(t, err)
	assert.Empty(t, removed)
	assert.Equal(t, val.String("bro@example.org"), stripped.Declaration["informant.email"])

	_, removed, err = Strip(ev, ec, e, val.Obj(val.P("informant.type", val.String("MOTHER"))), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"informant.email"}, removed)
}

func TestStrip_EvalErrorIsPermanent(t *testing.T) {
	ec := form.EventConfig{Type: "birth", Fields: []form.Field{
		{ID: "informant.email", Kind: form.KindDeclaration, Conditions: []form.Condition{
			{Type: form.ConditionShow, Expr: "form['informant.email'] > 3"},
		}},
	}}
	ev, err := form.NewEvaluator()
	require.NoError(t, err)

	e := declare("tx-3", "e1", "Ada")
	e.Declaration = val.Obj(val.P("informant.email", val.String("bro@example.org")))

	_, _, err = Strip(ev, ec, e, nil, nil)
	require.Error(t, err)
	var se *StripError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "tx-3", se.TransactionID)
	assert.Equal(t, OutcomePermanent, Classify(err))
}
