package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/roach88/evsync/internal/cache"
	"github.com/roach88/evsync/internal/draft"
	"github.com/roach88/evsync/internal/event"
	"github.com/roach88/evsync/internal/listcache"
	"github.com/roach88/evsync/internal/outbox"
	"github.com/roach88/evsync/internal/projection"
	"github.com/roach88/evsync/internal/remote"
	"github.com/roach88/evsync/internal/store"
	"github.com/roach88/evsync/internal/tempid"
)

// EventView is an event as the UI shows it.
type EventView struct {
	// Document is the cached copy: server history, or the optimistic
	// CREATE of an event not yet confirmed.
	Document event.Document

	// State folds only the accepted actions of Document.
	State projection.State

	// Optimistic folds Document plus every queued mutation. It is for
	// display and guard checks and is never stored.
	Optimistic projection.State

	// Pending and Failed are the event's queued and failed mutations.
	Pending []outbox.Entry
	Failed  []outbox.Entry

	// InOutbox is true while any mutation for the event awaits delivery.
	InOutbox bool
}

// GetEvent returns the cached document of an event. A confirmed temporary
// id resolves to the canonical copy.
func (e *Engine) GetEvent(ctx context.Context, id string) (event.Document, error) {
	var doc event.Document
	err := e.cache.View(ctx, func(txn *cache.Txn) error {
		var err error
		doc, err = loadEvent(txn, id)
		return err
	})
	return doc, err
}

// FetchEvent downloads an event from the server and replaces the cached
// copy. Concurrent fetches of one id share a single request.
func (e *Engine) FetchEvent(ctx context.Context, id string) (event.Document, error) {
	canonical, ok, err := e.ids.Resolve(ctx, id)
	if err != nil {
		return event.Document{}, err
	}
	if !ok {
		return event.Document{}, fmt.Errorf("fetch %s: %w", id, outbox.ErrEventNotCreated)
	}

	v, err, shared := e.fetches.Do(canonical, func() (any, error) {
		doc, err := e.client.GetEvent(ctx, canonical)
		if err != nil {
			return nil, err
		}
		return e.storeCanonical(ctx, doc)
	})
	if err != nil {
		return event.Document{}, fmt.Errorf("fetch %s: %w", canonical, err)
	}
	e.logger.Debug("event fetched", "event_id", canonical, "shared", shared)
	return v.(event.Document).Clone(), nil
}

// storeCanonical writes a server document and everything derived from it:
// settled drafts are discarded and cached list rows patched. Actions in the
// cached copy that doc lacks are kept, so a response that left the server
// before a delivery completed cannot drop the delivered action. Returns the
// stored document.
func (e *Engine) storeCanonical(ctx context.Context, doc event.Document) (event.Document, error) {
	var stored event.Document
	err := e.cache.Update(ctx, func(txn *cache.Txn) error {
		var err error
		stored, err = mergeCached(txn, doc)
		if err != nil {
			return err
		}
		if err := txn.SetJSON(cache.EventKey(stored.ID), stored); err != nil {
			return err
		}
		if _, err := draft.DiscardSettledTxn(txn, stored); err != nil {
			return err
		}
		return e.patchLists(txn, stored)
	})
	if err != nil {
		return event.Document{}, err
	}
	e.cacheFiles(ctx, stored)
	return stored, nil
}

// mergeCached returns doc with every action of the cached copy under the
// same id that doc does not already hold.
func mergeCached(txn *cache.Txn, doc event.Document) (event.Document, error) {
	var cached event.Document
	err := txn.GetJSON(cache.EventKey(doc.ID), &cached)
	if errors.Is(err, store.ErrNotFound) {
		return doc, nil
	}
	if err != nil {
		return event.Document{}, err
	}

	log := projection.NewLog(doc.Actions)
	added := false
	for _, a := range cached.Actions {
		if log.Append(a) {
			added = true
		}
	}
	if !added {
		return doc, nil
	}
	out := doc.Clone()
	out.Actions = log.Actions()
	if cached.UpdatedAt.After(out.UpdatedAt) {
		out.UpdatedAt = cached.UpdatedAt
	}
	return out, nil
}

// patchLists updates doc's row in every cached list page.
func (e *Engine) patchLists(txn *cache.Txn, doc event.Document) error {
	idx, err := e.index(doc)
	if err != nil {
		e.logger.Warn("index event", "event_id", doc.ID, "error", err)
		return nil
	}
	_, err = listcache.PatchTxn(txn, idx)
	return err
}

// View returns an event with its canonical and optimistic states.
func (e *Engine) View(ctx context.Context, id string) (EventView, error) {
	var v EventView
	err := e.cache.View(ctx, func(txn *cache.Txn) error {
		doc, err := loadEvent(txn, id)
		if err != nil {
			return err
		}
		pending, err := outbox.ForEventTxn(txn, doc.ID)
		if err != nil {
			return err
		}
		v.Document = doc
		v.Pending = pending
		v.InOutbox = len(pending) > 0
		return nil
	})
	if err != nil {
		return EventView{}, err
	}

	if v.State, err = projection.Fold(v.Document); err != nil {
		return EventView{}, err
	}
	if v.Optimistic, err = projection.Fold(withPending(v.Document, v.Pending)); err != nil {
		return EventView{}, err
	}

	failed, err := e.outbox.Failed(ctx)
	if err != nil {
		return EventView{}, err
	}
	v.Failed = []outbox.Entry{}
	for _, f := range failed {
		if f.EventID == v.Document.ID {
			v.Failed = append(v.Failed, f)
		}
	}
	return v, nil
}

// Preview folds the effective draft of an event on top of its optimistic
// history. The result is never stored.
func (e *Engine) Preview(ctx context.Context, id string) (projection.Preview, error) {
	v, err := e.View(ctx, id)
	if err != nil {
		return projection.Preview{}, err
	}
	d, ok, err := e.drafts.Merged(ctx, v.Document.ID, e.clock.Now())
	if err != nil {
		return projection.Preview{}, err
	}
	if !ok {
		return projection.Preview{}, &NotFoundLocallyError{Kind: NotFoundDraft, ID: v.Document.ID}
	}
	return projection.FoldWithDraft(withPending(v.Document, v.Pending), d)
}

// CreateEvent stores a new event under a temporary id and queues its
// CREATE. The returned document is usable immediately.
func (e *Engine) CreateEvent(ctx context.Context, eventType string) (event.Document, error) {
	if e.forms != nil {
		if _, ok := e.forms.Event(eventType); !ok {
			return event.Document{}, fmt.Errorf("create: unknown event type %q", eventType)
		}
	}
	if err := e.guard.CheckScope(ctx, "", event.ActionCreate); err != nil {
		return event.Document{}, err
	}

	tx := e.idGen.Generate()
	now := e.stamps.Next()
	var doc event.Document
	err := e.cache.Update(ctx, func(txn *cache.Txn) error {
		var err error
		doc, err = e.ids.CreateOptimisticTxn(txn, eventType, tx, e.actor, now)
		if err != nil {
			return err
		}
		_, _, err = outbox.EnqueueTxn(txn, outbox.Entry{
			TransactionID: tx,
			EventID:       doc.ID,
			EventType:     eventType,
			Action:        event.ActionCreate,
			EnqueuedAt:    now,
		})
		return err
	})
	if err != nil {
		return event.Document{}, fmt.Errorf("create %s: %w", eventType, err)
	}

	e.logger.Info("event created locally", "event_id", doc.ID, "type", eventType, "transaction_id", tx)
	e.metrics.EnqueuedTotal.WithLabelValues(string(event.ActionCreate)).Inc()
	e.metrics.Pending.Inc()
	e.wake.Notify(doc.ID)
	return doc, nil
}

// DeleteEvent removes an event that was never synced, along with its
// queued mutations and drafts. Synced events return ErrEventSynced.
//
// Deleting waits for an in-flight delivery pass so a CREATE cannot be
// confirmed for an event that no longer exists locally.
func (e *Engine) DeleteEvent(ctx context.Context, id string) error {
	if !event.IsTemporaryID(id) {
		return ErrEventSynced
	}

	e.flushMu.Lock()
	defer e.flushMu.Unlock()

	removed := 0
	err := e.cache.Update(ctx, func(txn *cache.Txn) error {
		removed = 0
		if _, ok, err := tempid.ResolveTxn(txn, id); err != nil {
			return err
		} else if ok {
			return ErrEventSynced
		}
		if _, err := txn.Get(cache.EventKey(id)); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return &NotFoundLocallyError{Kind: NotFoundEvent, ID: id}
			}
			return err
		}

		pending, err := outbox.ForEventTxn(txn, id)
		if err != nil {
			return err
		}
		for _, p := range pending {
			if err := outbox.RemoveTxn(txn, p.TransactionID); err != nil {
				return err
			}
			removed++
		}
		if err := draft.ForgetTxn(txn, id); err != nil {
			return err
		}
		return tempid.ForgetTxn(txn, id)
	})
	if err != nil {
		return err
	}

	e.logger.Info("unsynced event deleted", "event_id", id, "outbox_entries", removed)
	e.metrics.Pending.Sub(float64(removed))
	return nil
}

// SearchResult is a page of search results and where it came from.
type SearchResult struct {
	Page event.Page

	// Cached is true when the server could not be reached and the page
	// was served from the list cache.
	Cached bool
}

// SearchEvents queries the server and caches the page. When the server is
// unreachable a previously cached page for the same query is returned.
func (e *Engine) SearchEvents(ctx context.Context, req remote.SearchRequest) (SearchResult, error) {
	params := make(map[string]string, len(req.Query)+2)
	for k, v := range req.Query {
		params[k] = v
	}
	if req.Offset > 0 {
		params["offset"] = strconv.Itoa(req.Offset)
	}
	if req.Limit > 0 {
		params["limit"] = strconv.Itoa(req.Limit)
	}
	key := listcache.QueryKey(req.EventType, params)

	page, err := e.client.Search(ctx, req)
	if err != nil {
		if outbox.Classify(err) == outbox.OutcomePermanent {
			return SearchResult{}, fmt.Errorf("search %s: %w", key, err)
		}
		cached, cerr := e.lists.Get(ctx, key)
		if cerr != nil {
			return SearchResult{}, fmt.Errorf("search %s: %w", key, errors.Join(err, cerr))
		}
		e.logger.Info("search served from cache", "query", key, "error", err)
		return SearchResult{Page: cached, Cached: true}, nil
	}

	if err := e.lists.Put(ctx, key, page); err != nil {
		return SearchResult{}, err
	}
	for _, idx := range page.Results {
		if err := e.files.CacheIndex(ctx, idx); err != nil {
			e.logger.Warn("cache files", "event_id", idx.ID, "error", err)
		}
	}
	return SearchResult{Page: page}, nil
}

// loadEvent reads an event by id, following a confirmed temporary id to
// its canonical copy.
func loadEvent(txn *cache.Txn, id string) (event.Document, error) {
	canonical, ok, err := tempid.ResolveTxn(txn, id)
	if err != nil {
		return event.Document{}, err
	}
	if !ok {
		canonical = id
	}
	var doc event.Document
	err = txn.GetJSON(cache.EventKey(canonical), &doc)
	if errors.Is(err, store.ErrNotFound) {
		return event.Document{}, &NotFoundLocallyError{Kind: NotFoundEvent, ID: id}
	}
	return doc, err
}

// withPending returns doc with queued mutations appended as accepted
// actions after its history. CREATE entries are already represented by the
// optimistic document.
func withPending(doc event.Document, pending []outbox.Entry) event.Document {
	out := doc.Clone()
	var last time.Time
	for _, a := range out.Actions {
		if a.CreatedAt.After(last) {
			last = a.CreatedAt
		}
	}
	for _, p := range pending {
		if p.Action == event.ActionCreate {
			continue
		}
		at := p.EnqueuedAt
		if !at.After(last) {
			at = last.Add(time.Nanosecond)
		}
		last = at
		out.Actions = append(out.Actions, event.Action{
			Type:             p.Action,
			ID:               "pending/" + p.TransactionID,
			TransactionID:    p.TransactionID,
			CreatedAt:        at,
			Status:           event.ActionAccepted,
			Declaration:      p.Declaration,
			Annotation:       p.Annotation,
			OriginalActionID: p.OriginalActionID,
		})
	}
	return out
}

func (e *Engine) index(doc event.Document) (event.Index, error) {
	cfg, _ := e.eventConfig(doc.Type)
	return projection.BuildIndex(doc, cfg)
}

func (e *Engine) cacheFiles(ctx context.Context, doc event.Document) {
	if err := e.files.CacheDocument(ctx, doc); err != nil {
		e.logger.Warn("cache files", "event_id", doc.ID, "error", err)
	}
}
