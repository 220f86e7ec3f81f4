package engine

import (
	"context"
	"fmt"

	"github.com/roach88/evsync/internal/cache"
	"github.com/roach88/evsync/internal/draft"
	"github.com/roach88/evsync/internal/event"
	"github.com/roach88/evsync/internal/outbox"
	"github.com/roach88/evsync/internal/projection"
	"github.com/roach88/evsync/internal/remote"
)

// FlushResult counts the outcomes of one Flush.
type FlushResult struct {
	Delivered int
	Retried   int
	Failed    int
	Blocked   int
}

// Flush delivers every entry that is due, in enqueue order with at most one
// entry per event in flight. Passes repeat while entries are delivered, so
// actions queued behind a CREATE go out as soon as it is confirmed.
//
// Returns an error only when the local cache fails or ctx is cancelled;
// delivery errors are recorded on the entries.
func (e *Engine) Flush(ctx context.Context) (FlushResult, error) {
	e.flushMu.Lock()
	defer e.flushMu.Unlock()
	defer e.refreshGauges(context.WithoutCancel(ctx))

	var res FlushResult
	for {
		pending, err := e.outbox.Pending(ctx)
		if err != nil {
			return res, err
		}
		ready := outbox.Ready(pending, e.clock.Now())
		if len(ready) == 0 {
			return res, nil
		}

		delivered := 0
		for _, entry := range ready {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			outcome, err := e.deliver(ctx, pending, entry)
			if err != nil {
				return res, err
			}
			switch outcome {
			case outcomeDelivered:
				res.Delivered++
				delivered++
			case outbox.OutcomeRetry:
				res.Retried++
			case outbox.OutcomePermanent:
				res.Failed++
			case outbox.OutcomeBlocked:
				res.Blocked++
			}
		}
		if delivered == 0 {
			return res, nil
		}
	}
}

// outcomeDelivered extends the outbox outcomes with success.
const outcomeDelivered outbox.Outcome = -1

func outcomeLabel(o outbox.Outcome) string {
	if o == outcomeDelivered {
		return "delivered"
	}
	return o.String()
}

// deliver sends one entry and records the result. The returned error is
// reserved for local failures.
func (e *Engine) deliver(ctx context.Context, pending []outbox.Entry, entry outbox.Entry) (outbox.Outcome, error) {
	doc, sendErr := e.send(ctx, pending, entry)
	outcome := outcomeDelivered
	if sendErr != nil {
		outcome = outbox.Classify(sendErr)
		// A failed CREATE keeps its event visible and retries forever.
		if entry.Action == event.ActionCreate && outcome == outbox.OutcomePermanent {
			outcome = outbox.OutcomeRetry
		}
	}
	e.metrics.DeliveriesTotal.WithLabelValues(string(entry.Action), outcomeLabel(outcome)).Inc()

	log := e.logger.With(
		"transaction_id", entry.TransactionID,
		"event_id", entry.EventID,
		"action", entry.Action,
		"attempt", entry.Attempts+1)

	switch outcome {
	case outcomeDelivered:
		stored, err := e.apply(ctx, entry, doc)
		if err != nil {
			return outcome, fmt.Errorf("apply %s: %w", entry.TransactionID, err)
		}
		e.cacheFiles(ctx, stored)
		log.Info("mutation delivered", "canonical_id", doc.ID)

	case outbox.OutcomeRetry:
		next := e.clock.Now().Add(e.retryInterval)
		if _, err := e.outbox.MarkRetry(ctx, entry.TransactionID, sendErr, next); err != nil {
			return outcome, err
		}
		log.Warn("delivery failed, will retry", "error", sendErr, "next_attempt", next)

	case outbox.OutcomePermanent:
		if _, err := e.outbox.MarkFailed(ctx, entry.TransactionID, sendErr, e.clock.Now()); err != nil {
			return outcome, err
		}
		log.Error("delivery failed permanently", "error", sendErr)

	case outbox.OutcomeBlocked:
		log.Debug("delivery blocked", "error", sendErr)
	}
	return outcome, nil
}

// send transmits entry. Actions against an unconfirmed temporary id are
// rewritten to the canonical id, and fields hidden or disabled by the
// current form configuration are stripped. Conditions see the entry's
// payload over the event's accepted values.
func (e *Engine) send(ctx context.Context, pending []outbox.Entry, entry outbox.Entry) (event.Document, error) {
	if entry.Action == event.ActionCreate {
		return e.client.CreateEvent(ctx, remote.CreateRequest{
			TransactionID: entry.TransactionID,
			Type:          entry.EventType,
			Actor:         e.actor,
		})
	}

	target, ok, err := e.ids.Resolve(ctx, entry.EventID)
	if err != nil {
		return event.Document{}, err
	}
	if !ok {
		if outbox.HasPendingCreate(pending, entry.EventID) {
			return event.Document{}, outbox.ErrBlocked
		}
		return event.Document{}, outbox.ErrEventNotCreated
	}

	if cfg, found := e.eventConfig(entry.EventType); found {
		doc, err := e.GetEvent(ctx, target)
		if err != nil {
			return event.Document{}, err
		}
		current, err := projection.Fold(doc)
		if err != nil {
			return event.Document{}, err
		}
		stripped, removed, err := outbox.Strip(e.eval, cfg, entry, current.Declaration, current.Annotation)
		if err != nil {
			return event.Document{}, err
		}
		if len(removed) > 0 {
			e.logger.Debug("fields stripped", "transaction_id", entry.TransactionID, "fields", removed)
		}
		entry = stripped
	}

	return e.client.Act(ctx, remote.ActionRequest{
		EventID:          target,
		EventType:        entry.EventType,
		TransactionID:    entry.TransactionID,
		Action:           entry.Action,
		Declaration:      entry.Declaration,
		Annotation:       entry.Annotation,
		OriginalActionID: entry.OriginalActionID,
		Actor:            e.actor,
	})
}

// apply replaces the optimistic copy with the server's document in one
// cache transaction: a confirmed CREATE rewrites the temporary id
// everywhere, the entry leaves the queue, settled drafts are discarded and
// cached list rows patched. Returns the stored document.
func (e *Engine) apply(ctx context.Context, entry outbox.Entry, doc event.Document) (event.Document, error) {
	stored := doc
	err := e.cache.Update(ctx, func(txn *cache.Txn) error {
		if event.IsTemporaryID(entry.EventID) && !event.IsTemporaryID(doc.ID) {
			if err := e.ids.ConfirmTxn(txn, entry.EventID, doc); err != nil {
				return err
			}
		} else {
			var err error
			if stored, err = mergeCached(txn, doc); err != nil {
				return err
			}
			if err := txn.SetJSON(cache.EventKey(stored.ID), stored); err != nil {
				return err
			}
		}
		if err := outbox.RemoveTxn(txn, entry.TransactionID); err != nil {
			return err
		}
		if _, err := draft.DiscardSettledTxn(txn, stored); err != nil {
			return err
		}
		return e.patchLists(txn, stored)
	})
	return stored, err
}
