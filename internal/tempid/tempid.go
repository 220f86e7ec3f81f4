// Package tempid mints placeholder event ids and reconciles them with the
// canonical ids the server issues.
//
// An optimistic event is stored under its temporary id as soon as it is
// created. When the server confirms the CREATE, Confirm rewrites every
// cache location that references the temporary id in a single cache
// transaction and records the mapping, so there is no moment at which the
// two ids resolve to different copies.
package tempid

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/evsync/internal/cache"
	"github.com/roach88/evsync/internal/draft"
	"github.com/roach88/evsync/internal/event"
	"github.com/roach88/evsync/internal/listcache"
	"github.com/roach88/evsync/internal/outbox"
	"github.com/roach88/evsync/internal/store"
)

// New returns a fresh temporary id.
func New() string {
	return event.TemporaryIDPrefix + uuid.NewString()
}

// Reconciler creates optimistic events and confirms them.
type Reconciler struct {
	cache  *cache.Cache
	newID  func() string
	logger *slog.Logger
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithIDFunc replaces the temporary id source. Ids it returns must carry
// the temporary prefix.
func WithIDFunc(fn func() string) Option {
	return func(r *Reconciler) {
		r.newID = fn
	}
}

// WithLogger sets the reconciler's logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) {
		r.logger = l
	}
}

// NewReconciler returns a reconciler over c.
func NewReconciler(c *cache.Cache, opts ...Option) *Reconciler {
	r := &Reconciler{
		cache:  c,
		newID:  New,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Mint returns a new temporary id from the configured source.
func (r *Reconciler) Mint() string {
	return r.newID()
}

// CreateOptimistic stores a new event under a fresh temporary id with a
// local CREATE action and returns it.
func (r *Reconciler) CreateOptimistic(ctx context.Context, eventType, transactionID string, actor event.Actor, now time.Time) (event.Document, error) {
	var doc event.Document
	err := r.cache.Update(ctx, func(txn *cache.Txn) error {
		var err error
		doc, err = r.CreateOptimisticTxn(txn, eventType, transactionID, actor, now)
		return err
	})
	return doc, err
}

// CreateOptimisticTxn is CreateOptimistic inside an existing transaction.
func (r *Reconciler) CreateOptimisticTxn(txn *cache.Txn, eventType, transactionID string, actor event.Actor, now time.Time) (event.Document, error) {
	id := r.newID()
	if !event.IsTemporaryID(id) {
		return event.Document{}, fmt.Errorf("minted id %q lacks prefix %q", id, event.TemporaryIDPrefix)
	}
	doc := event.Document{
		ID:            id,
		TransactionID: transactionID,
		Type:          eventType,
		CreatedAt:     now,
		UpdatedAt:     now,
		Actions: []event.Action{{
			Type:              event.ActionCreate,
			ID:                id + "/create",
			TransactionID:     transactionID,
			CreatedAt:         now,
			CreatedBy:         actor.ID,
			CreatedByRole:     actor.Role,
			CreatedAtLocation: actor.Location,
			Status:            event.ActionAccepted,
		}},
	}
	if err := txn.SetJSON(cache.EventKey(id), doc); err != nil {
		return event.Document{}, err
	}
	return doc, nil
}

// Resolve maps id to its canonical id. Canonical ids resolve to
// themselves. A temporary id resolves only once it has been confirmed;
// ok is false while it is still pending.
func (r *Reconciler) Resolve(ctx context.Context, id string) (canonical string, ok bool, err error) {
	err = r.cache.View(ctx, func(txn *cache.Txn) error {
		canonical, ok, err = ResolveTxn(txn, id)
		return err
	})
	return canonical, ok, err
}

// ResolveTxn is Resolve inside an existing transaction.
func ResolveTxn(txn *cache.Txn, id string) (string, bool, error) {
	if !event.IsTemporaryID(id) {
		return id, true, nil
	}
	var canonical string
	err := txn.GetJSON(cache.IDMapKey(id), &canonical)
	if errors.Is(err, store.ErrNotFound) {
		return id, false, nil
	}
	if err != nil {
		return "", false, err
	}
	return canonical, true, nil
}

// Confirm replaces the optimistic copy of tmpID with doc, the server's
// canonical document. The get-by-id entry, cached list pages, queued
// mutations and drafts are rewritten and the id mapping recorded in one
// transaction. Confirming an already confirmed id again refreshes the
// canonical entry.
func (r *Reconciler) Confirm(ctx context.Context, tmpID string, doc event.Document) error {
	return r.cache.Update(ctx, func(txn *cache.Txn) error {
		return r.ConfirmTxn(txn, tmpID, doc)
	})
}

// ConfirmTxn is Confirm inside an existing transaction.
func (r *Reconciler) ConfirmTxn(txn *cache.Txn, tmpID string, doc event.Document) error {
	if !event.IsTemporaryID(tmpID) {
		return fmt.Errorf("confirm: %q is not a temporary id", tmpID)
	}
	if doc.ID == "" || event.IsTemporaryID(doc.ID) {
		return fmt.Errorf("confirm %s: server returned non-canonical id %q", tmpID, doc.ID)
	}

	prev, mapped, err := ResolveTxn(txn, tmpID)
	if err != nil {
		return err
	}
	if mapped && prev != doc.ID {
		return fmt.Errorf("confirm %s: already confirmed as %s, not %s", tmpID, prev, doc.ID)
	}

	if err := txn.SetJSON(cache.EventKey(doc.ID), doc); err != nil {
		return err
	}
	if err := txn.Remove(cache.EventKey(tmpID)); err != nil {
		return err
	}
	pages, err := listcache.ReplaceIDTxn(txn, tmpID, doc.ID)
	if err != nil {
		return fmt.Errorf("confirm %s: list pages: %w", tmpID, err)
	}
	entries, err := outbox.RewriteEventID(txn, tmpID, doc.ID)
	if err != nil {
		return fmt.Errorf("confirm %s: outbox: %w", tmpID, err)
	}
	if err := draft.RewriteEventID(txn, tmpID, doc.ID); err != nil {
		return fmt.Errorf("confirm %s: drafts: %w", tmpID, err)
	}
	if err := txn.SetJSON(cache.IDMapKey(tmpID), doc.ID); err != nil {
		return err
	}

	r.logger.Debug("temporary id confirmed",
		"tmp_id", tmpID,
		"event_id", doc.ID,
		"list_pages", pages,
		"outbox_entries", entries)
	return nil
}

// ForgetTxn deletes the optimistic copy of an unconfirmed temporary id.
func ForgetTxn(txn *cache.Txn, tmpID string) error {
	if !event.IsTemporaryID(tmpID) {
		return fmt.Errorf("forget: %q is not a temporary id", tmpID)
	}
	if err := txn.Remove(cache.EventKey(tmpID)); err != nil {
		return err
	}
	if _, err := listcache.RemoveTxn(txn, tmpID); err != nil {
		return err
	}
	return nil
}
