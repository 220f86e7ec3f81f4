package engine

import (
	"context"
	"fmt"

	"github.com/roach88/evsync/internal/cache"
	"github.com/roach88/evsync/internal/event"
	"github.com/roach88/evsync/internal/guard"
	"github.com/roach88/evsync/internal/outbox"
	"github.com/roach88/evsync/internal/projection"
	"github.com/roach88/evsync/internal/val"
)

// MutationInput is the payload of one action.
type MutationInput struct {
	EventID string

	// TransactionID makes the mutation idempotent. A fresh id is minted
	// when empty. Resubmitting an id with the same payload returns the
	// queued entry.
	TransactionID string

	Declaration      val.Object
	Annotation       val.Object
	OriginalActionID string
}

// Action performs one action type.
type Action struct {
	engine *Engine
	typ    event.ActionType
}

// Actions returns the handle for an action type.
func (e *Engine) Actions(t event.ActionType) Action {
	return Action{engine: e, typ: t}
}

// Type returns the action type.
func (a Action) Type() event.ActionType {
	return a.typ
}

// Mutate checks the action against the event's optimistic state and the
// actor's scopes, then queues it. The guard runs inside the same cache
// transaction as the enqueue, so the state it sees is the state the
// mutation is queued against.
//
// Delivery happens later; its errors are recorded on the outbox entry,
// never returned here.
func (a Action) Mutate(ctx context.Context, in MutationInput) (outbox.Entry, error) {
	e := a.engine
	if !a.typ.Valid() {
		return outbox.Entry{}, fmt.Errorf("mutate: unknown action type %q", a.typ)
	}
	if a.typ == event.ActionCreate {
		return outbox.Entry{}, fmt.Errorf("mutate: use CreateEvent for %s", a.typ)
	}

	tx := in.TransactionID
	if tx == "" {
		tx = e.idGen.Generate()
	}
	now := e.stamps.Next()

	var (
		entry outbox.Entry
		added bool
	)
	err := e.cache.Update(ctx, func(txn *cache.Txn) error {
		doc, err := loadEvent(txn, in.EventID)
		if err != nil {
			return err
		}
		pending, err := outbox.ForEventTxn(txn, doc.ID)
		if err != nil {
			return err
		}

		if !queued(pending, tx) {
			st, err := projection.Fold(withPending(doc, pending))
			if err != nil {
				return err
			}
			if err := e.guard.Check(ctx, st, a.typ); err != nil {
				return err
			}
		}

		entry, added, err = outbox.EnqueueTxn(txn, outbox.Entry{
			TransactionID:    tx,
			EventID:          doc.ID,
			EventType:        doc.Type,
			Action:           a.typ,
			Declaration:      in.Declaration,
			Annotation:       in.Annotation,
			OriginalActionID: in.OriginalActionID,
			EnqueuedAt:       now,
		})
		return err
	})
	if err != nil {
		return outbox.Entry{}, err
	}

	if added {
		e.logger.Info("mutation queued",
			"event_id", entry.EventID,
			"action", entry.Action,
			"transaction_id", entry.TransactionID,
			"seq", entry.Seq)
		e.metrics.EnqueuedTotal.WithLabelValues(string(a.typ)).Inc()
		e.metrics.Pending.Inc()
		e.wake.Notify(entry.EventID)
	}
	return entry, nil
}

// Available returns the action types the event's optimistic state allows,
// regardless of scopes.
func (e *Engine) Available(ctx context.Context, id string) ([]event.ActionType, error) {
	v, err := e.View(ctx, id)
	if err != nil {
		return nil, err
	}
	return guard.Available(v.Optimistic), nil
}

// AllowedActions returns the available action types the actor's scopes
// also grant. This is the first guard invocation, used to decide what the
// UI offers; Mutate checks again.
func (e *Engine) AllowedActions(ctx context.Context, id string) ([]event.ActionType, error) {
	v, err := e.View(ctx, id)
	if err != nil {
		return nil, err
	}
	return e.guard.AllowedActions(ctx, v.Optimistic)
}

// Outbox returns the queued mutations in enqueue order.
func (e *Engine) Outbox(ctx context.Context) ([]outbox.Entry, error) {
	return e.outbox.Pending(ctx)
}

// FailedMutations returns mutations that failed permanently.
func (e *Engine) FailedMutations(ctx context.Context) ([]outbox.Entry, error) {
	return e.outbox.Failed(ctx)
}

// DismissFailed drops an acknowledged failed mutation.
func (e *Engine) DismissFailed(ctx context.Context, transactionID string) error {
	if err := e.outbox.Dismiss(ctx, transactionID); err != nil {
		return err
	}
	e.metrics.Failed.Dec()
	return nil
}

func queued(pending []outbox.Entry, transactionID string) bool {
	for _, p := range pending {
		if p.TransactionID == transactionID {
			return true
		}
	}
	return false
}
