// Package draft persists in-progress action payloads.
//
// There is one active local draft at a time, plus a cache of remote drafts
// (synced earlier, possibly from another session) keyed by event id. Every
// mutation is written through to the store before returning.
package draft

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/evsync/internal/cache"
	"github.com/roach88/evsync/internal/event"
	"github.com/roach88/evsync/internal/store"
)

var (
	// ErrNoActiveDraft is returned when no local draft exists.
	ErrNoActiveDraft = errors.New("no active draft")

	// ErrNoRemoteDraft is returned when no remote draft is cached for an event.
	ErrNoRemoteDraft = errors.New("no remote draft")
)

// Store is the draft store.
type Store struct {
	cache *cache.Cache
}

// New returns a draft store over c.
func New(c *cache.Cache) *Store {
	return &Store{cache: c}
}

// Active returns the active local draft.
func (s *Store) Active(ctx context.Context) (event.Draft, error) {
	var d event.Draft
	err := s.cache.View(ctx, func(txn *cache.Txn) error {
		var ok bool
		var err error
		d, ok, err = activeDraft(txn)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNoActiveDraft
		}
		return nil
	})
	return d, err
}

// SaveActive replaces the active local draft.
func (s *Store) SaveActive(ctx context.Context, d event.Draft) error {
	return s.cache.Update(ctx, func(txn *cache.Txn) error {
		return txn.SetJSON(cache.KeyActiveDraft, d)
	})
}

// ClearActive removes the active local draft.
func (s *Store) ClearActive(ctx context.Context) error {
	return s.cache.Remove(ctx, cache.KeyActiveDraft)
}

// Remote returns the cached remote draft of an event.
func (s *Store) Remote(ctx context.Context, eventID string) (event.Draft, error) {
	var d event.Draft
	err := s.cache.Get(ctx, cache.RemoteDraftKey(eventID), &d)
	if errors.Is(err, store.ErrNotFound) {
		return event.Draft{}, ErrNoRemoteDraft
	}
	return d, err
}

// SetRemote caches a remote draft, replacing any previous one for the event.
func (s *Store) SetRemote(ctx context.Context, d event.Draft) error {
	return s.cache.Set(ctx, cache.RemoteDraftKey(d.EventID), d)
}

// RemoveRemote drops the cached remote draft of an event.
func (s *Store) RemoveRemote(ctx context.Context, eventID string) error {
	return s.cache.Remove(ctx, cache.RemoteDraftKey(eventID))
}

// All returns every remote draft in event id order, followed by the active
// draft if there is one.
func (s *Store) All(ctx context.Context) ([]event.Draft, error) {
	drafts := []event.Draft{}
	err := s.cache.View(ctx, func(txn *cache.Txn) error {
		remote, err := remoteDrafts(txn)
		if err != nil {
			return err
		}
		drafts = append(drafts, remote...)

		active, ok, err := activeDraft(txn)
		if err != nil {
			return err
		}
		if ok {
			drafts = append(drafts, active)
		}
		return nil
	})
	return drafts, err
}

// Merged returns the effective draft of an event: the merge of its remote
// and active drafts when both exist, otherwise whichever exists.
func (s *Store) Merged(ctx context.Context, eventID string, now time.Time) (event.Draft, bool, error) {
	var (
		out   event.Draft
		found bool
	)
	err := s.cache.View(ctx, func(txn *cache.Txn) error {
		active, hasActive, err := activeDraft(txn)
		if err != nil {
			return err
		}
		hasActive = hasActive && active.EventID == eventID

		var remote event.Draft
		err = txn.GetJSON(cache.RemoteDraftKey(eventID), &remote)
		hasRemote := err == nil
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}

		switch {
		case hasActive && hasRemote:
			out, found = MergeDrafts(remote, active, now), true
		case hasActive:
			out, found = active, true
		case hasRemote:
			out, found = remote, true
		}
		return nil
	})
	return out, found, err
}

// AdoptRemote makes the remote draft of an event the new local baseline.
// An active draft for the same event is merged in. The result carries
// transactionID, which must be freshly minted: reusing the remote draft's
// id would be deduplicated by the server.
func (s *Store) AdoptRemote(ctx context.Context, eventID, transactionID string, now time.Time) (event.Draft, error) {
	var adopted event.Draft
	err := s.cache.Update(ctx, func(txn *cache.Txn) error {
		var remote event.Draft
		if err := txn.GetJSON(cache.RemoteDraftKey(eventID), &remote); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrNoRemoteDraft
			}
			return err
		}
		if remote.TransactionID == transactionID {
			return fmt.Errorf("adopt draft for %s: transaction id %s is reused", eventID, transactionID)
		}

		adopted = remote.Clone()
		adopted.CreatedAt = now
		active, ok, err := activeDraft(txn)
		if err != nil {
			return err
		}
		if ok && active.EventID == eventID {
			adopted = MergeDrafts(remote, active, now)
		}
		adopted.TransactionID = transactionID
		return txn.SetJSON(cache.KeyActiveDraft, adopted)
	})
	return adopted, err
}

// DiscardSettled removes drafts of doc that are no longer pending. Returns
// the ids of discarded drafts.
func (s *Store) DiscardSettled(ctx context.Context, doc event.Document) ([]string, error) {
	var discarded []string
	err := s.cache.Update(ctx, func(txn *cache.Txn) error {
		var err error
		discarded, err = DiscardSettledTxn(txn, doc)
		return err
	})
	return discarded, err
}

// DiscardSettledTxn is DiscardSettled inside an existing transaction.
//
// A draft is settled when its transaction id was accepted, or when an
// accepted non-CREATE action was created after the draft's action.
func DiscardSettledTxn(txn *cache.Txn, doc event.Document) ([]string, error) {
	var discarded []string

	active, ok, err := activeDraft(txn)
	if err != nil {
		return nil, err
	}
	if ok && active.EventID == doc.ID && Settled(doc, active) {
		if err := txn.Remove(cache.KeyActiveDraft); err != nil {
			return nil, err
		}
		discarded = append(discarded, active.ID)
	}

	var remote event.Draft
	err = txn.GetJSON(cache.RemoteDraftKey(doc.ID), &remote)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return nil, err
	case Settled(doc, remote):
		if err := txn.Remove(cache.RemoteDraftKey(doc.ID)); err != nil {
			return nil, err
		}
		discarded = append(discarded, remote.ID)
	}
	return discarded, nil
}

// Settled reports whether doc's accepted history has caught up with d.
func Settled(doc event.Document, d event.Draft) bool {
	if d.TransactionID != "" && doc.HasTransaction(d.TransactionID) {
		return true
	}
	for _, a := range doc.Actions {
		if a.Accepted() && a.Type != event.ActionCreate && a.CreatedAt.After(d.Action.CreatedAt) {
			return true
		}
	}
	return false
}

// RewriteEventID points drafts of tmpID at canonicalID inside txn.
func RewriteEventID(txn *cache.Txn, tmpID, canonicalID string) error {
	active, ok, err := activeDraft(txn)
	if err != nil {
		return err
	}
	if ok && active.EventID == tmpID {
		active.EventID = canonicalID
		if err := txn.SetJSON(cache.KeyActiveDraft, active); err != nil {
			return err
		}
	}

	var remote event.Draft
	err = txn.GetJSON(cache.RemoteDraftKey(tmpID), &remote)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	remote.EventID = canonicalID
	if err := txn.Remove(cache.RemoteDraftKey(tmpID)); err != nil {
		return err
	}
	return txn.SetJSON(cache.RemoteDraftKey(canonicalID), remote)
}

func activeDraft(txn *cache.Txn) (event.Draft, bool, error) {
	var d event.Draft
	err := txn.GetJSON(cache.KeyActiveDraft, &d)
	if errors.Is(err, store.ErrNotFound) {
		return event.Draft{}, false, nil
	}
	if err != nil {
		return event.Draft{}, false, err
	}
	return d, true, nil
}

func remoteDrafts(txn *cache.Txn) ([]event.Draft, error) {
	items, err := txn.Scan(cache.PrefixRemoteDraft)
	if err != nil {
		return nil, err
	}
	drafts := make([]event.Draft, 0, len(items))
	for _, it := range items {
		var d event.Draft
		if err := json.Unmarshal(it.Value, &d); err != nil {
			return nil, fmt.Errorf("decode %s: %w", it.Key, err)
		}
		drafts = append(drafts, d)
	}
	return drafts, nil
}

// ForgetTxn removes every draft of eventID inside txn.
func ForgetTxn(txn *cache.Txn, eventID string) error {
	active, ok, err := activeDraft(txn)
	if err != nil {
		return err
	}
	if ok && active.EventID == eventID {
		if err := txn.Remove(cache.KeyActiveDraft); err != nil {
			return err
		}
	}
	return txn.Remove(cache.RemoteDraftKey(eventID))
}
