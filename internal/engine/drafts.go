package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/evsync/internal/cache"
	"github.com/roach88/evsync/internal/draft"
	"github.com/roach88/evsync/internal/event"
	"github.com/roach88/evsync/internal/outbox"
)

// Drafts returns the cached remote drafts followed by the active draft.
func (e *Engine) Drafts(ctx context.Context) ([]event.Draft, error) {
	return e.drafts.All(ctx)
}

// SaveDraft persists d as the active draft and returns the stored copy.
//
// Every save is a new revision: it gets a fresh transaction id so that a
// later push is not deduplicated against an earlier one, and the action
// timestamp is taken from the engine clock.
func (e *Engine) SaveDraft(ctx context.Context, d event.Draft) (event.Draft, error) {
	if !d.Action.Type.Valid() || d.Action.Type == event.ActionCreate {
		return event.Draft{}, fmt.Errorf("save draft: invalid action type %q", d.Action.Type)
	}
	doc, err := e.GetEvent(ctx, d.EventID)
	if err != nil {
		return event.Draft{}, err
	}

	out := d.Clone()
	out.EventID = doc.ID
	if out.ID == "" {
		out.ID = e.idGen.Generate()
	}
	out.TransactionID = e.idGen.Generate()
	now := e.stamps.Next()
	out.Action.CreatedAt = now
	if out.CreatedAt.IsZero() {
		out.CreatedAt = now
	}

	if err := e.drafts.SaveActive(ctx, out); err != nil {
		return event.Draft{}, err
	}
	e.logger.Debug("draft saved", "draft_id", out.ID, "event_id", out.EventID, "action", out.Action.Type)
	return out, nil
}

// SubmitDraft queues the effective draft of the active draft's event as a
// mutation. The draft stays until its action is accepted.
func (e *Engine) SubmitDraft(ctx context.Context) (outbox.Entry, error) {
	active, err := e.drafts.Active(ctx)
	if err != nil {
		if errors.Is(err, draft.ErrNoActiveDraft) {
			return outbox.Entry{}, &NotFoundLocallyError{Kind: NotFoundDraft, ID: "active"}
		}
		return outbox.Entry{}, err
	}
	d, _, err := e.drafts.Merged(ctx, active.EventID, e.clock.Now())
	if err != nil {
		return outbox.Entry{}, err
	}
	d.TransactionID = active.TransactionID

	return e.Actions(d.Action.Type).Mutate(ctx, MutationInput{
		EventID:       d.EventID,
		TransactionID: d.TransactionID,
		Declaration:   d.Action.Declaration,
		Annotation:    d.Action.Annotation,
	})
}

// SyncDrafts pushes the active draft to the server, then refreshes the
// cached remote drafts. Drafts of events whose history has moved past
// them are not cached. Returns the number of remote drafts cached.
func (e *Engine) SyncDrafts(ctx context.Context) (int, error) {
	active, err := e.drafts.Active(ctx)
	switch {
	case errors.Is(err, draft.ErrNoActiveDraft):
	case err != nil:
		return 0, err
	default:
		if err := e.pushDraft(ctx, active); err != nil {
			return 0, err
		}
	}

	remoteDrafts, err := e.client.ListDrafts(ctx)
	if err != nil {
		return 0, fmt.Errorf("list drafts: %w", err)
	}

	n := 0
	err = e.cache.Update(ctx, func(txn *cache.Txn) error {
		n = 0
		for _, d := range remoteDrafts {
			doc, err := loadEvent(txn, d.EventID)
			if err == nil && draft.Settled(doc, d) {
				continue
			}
			if err != nil && !IsNotFoundLocally(err) {
				return err
			}
			if err := txn.SetJSON(cache.RemoteDraftKey(d.EventID), d); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	e.logger.Info("drafts synced", "remote", n)
	return n, nil
}

func (e *Engine) pushDraft(ctx context.Context, d event.Draft) error {
	canonical, ok, err := e.ids.Resolve(ctx, d.EventID)
	if err != nil {
		return err
	}
	if !ok {
		e.logger.Debug("draft push deferred until event is created", "event_id", d.EventID)
		return nil
	}
	d.EventID = canonical
	if _, err := e.client.CreateDraft(ctx, d); err != nil {
		return fmt.Errorf("push draft %s: %w", d.ID, err)
	}
	return nil
}

// AdoptRemoteDraft makes the cached remote draft of an event the active
// draft, merged with any local edits, under a fresh transaction id.
func (e *Engine) AdoptRemoteDraft(ctx context.Context, eventID string) (event.Draft, error) {
	doc, err := e.GetEvent(ctx, eventID)
	if err != nil {
		return event.Draft{}, err
	}
	d, err := e.drafts.AdoptRemote(ctx, doc.ID, e.idGen.Generate(), e.stamps.Next())
	if errors.Is(err, draft.ErrNoRemoteDraft) {
		return event.Draft{}, &NotFoundLocallyError{Kind: NotFoundDraft, ID: doc.ID}
	}
	return d, err
}
