// Package server is a reference implementation of the remote action API:
// an in-memory, authoritative event ledger plus gin routes that expose it
// to the HTTP client. It backs the CLI's serve command and end-to-end
// tests of the sync engine.
package server

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/evsync/internal/event"
	"github.com/roach88/evsync/internal/form"
	"github.com/roach88/evsync/internal/guard"
	"github.com/roach88/evsync/internal/projection"
	"github.com/roach88/evsync/internal/remote"
)

// Ledger holds the authoritative copy of every event.
//
// Thread-safety: Ledger is safe for concurrent use.
type Ledger struct {
	mu     sync.Mutex
	events map[string]event.Document
	order  []string
	txs    map[string]string // transaction id -> event id
	drafts map[string]event.Draft
	forms  *form.Config

	now   func() time.Time
	newID func() string
}

var _ remote.Client = (*Ledger)(nil)

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock sets the ledger's time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

// WithIDFunc sets the source of event and action ids.
func WithIDFunc(fn func() string) Option {
	return func(l *Ledger) {
		l.newID = fn
	}
}

// WithForms sets the form configuration used to index events for search.
func WithForms(cfg *form.Config) Option {
	return func(l *Ledger) {
		l.forms = cfg
	}
}

// NewLedger returns an empty ledger.
func NewLedger(opts ...Option) *Ledger {
	l := &Ledger{
		events: make(map[string]event.Document),
		txs:    make(map[string]string),
		drafts: make(map[string]event.Draft),
		now:    func() time.Time { return time.Now().UTC() },
		newID: func() string {
			return uuid.Must(uuid.NewV7()).String()
		},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CreateEvent implements remote.Client. A redelivered transaction id
// returns the event it created.
func (l *Ledger) CreateEvent(_ context.Context, req remote.CreateRequest) (event.Document, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := checkRequest(req); err != nil {
		return event.Document{}, err
	}
	if id, ok := l.txs[req.TransactionID]; ok {
		return l.events[id].Clone(), nil
	}

	now := l.now()
	id := l.newID()
	doc := event.Document{
		ID:            id,
		TransactionID: req.TransactionID,
		Type:          req.Type,
		CreatedAt:     now,
		UpdatedAt:     now,
		Actions: []event.Action{{
			Type:              event.ActionCreate,
			ID:                l.newID(),
			TransactionID:     req.TransactionID,
			CreatedAt:         now,
			CreatedBy:         req.Actor.ID,
			CreatedByRole:     req.Actor.Role,
			CreatedAtLocation: req.Actor.Location,
			Status:            event.ActionAccepted,
		}},
	}
	l.events[id] = doc
	l.order = append(l.order, id)
	l.txs[req.TransactionID] = id
	return doc.Clone(), nil
}

// Act implements remote.Client. The action must be available in the
// event's current state; a redelivered transaction id returns the event
// without appending.
func (l *Ledger) Act(_ context.Context, req remote.ActionRequest) (event.Document, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := checkRequest(req); err != nil {
		return event.Document{}, err
	}
	if id, ok := l.txs[req.TransactionID]; ok {
		if id != req.EventID {
			return event.Document{}, badRequest(fmt.Sprintf("transaction %s belongs to event %s", req.TransactionID, id))
		}
		return l.events[id].Clone(), nil
	}
	if !req.Action.Valid() || req.Action == event.ActionCreate {
		return event.Document{}, badRequest(fmt.Sprintf("unsupported action %q", req.Action))
	}

	doc, ok := l.events[req.EventID]
	if !ok {
		return event.Document{}, &remote.StatusError{Code: http.StatusNotFound, Message: "event " + req.EventID + " not found"}
	}
	if req.EventType != "" && req.EventType != doc.Type {
		return event.Document{}, badRequest(fmt.Sprintf("event %s is of type %s, not %s", doc.ID, doc.Type, req.EventType))
	}

	st, err := projection.Fold(doc)
	if err != nil {
		return event.Document{}, fmt.Errorf("fold %s: %w", doc.ID, err)
	}
	if !guard.IsAvailable(st, req.Action) {
		return event.Document{}, badRequest((&guard.ActionNotAvailableError{
			EventID: st.EventID,
			Action:  req.Action,
			Status:  st.Status,
			Flags:   st.Flags,
		}).Error())
	}

	now := l.now()
	doc = doc.Clone()
	doc.Actions = append(doc.Actions, event.Action{
		Type:              req.Action,
		ID:                l.newID(),
		TransactionID:     req.TransactionID,
		CreatedAt:         now,
		CreatedBy:         req.Actor.ID,
		CreatedByRole:     req.Actor.Role,
		CreatedAtLocation: req.Actor.Location,
		Status:            event.ActionAccepted,
		Declaration:       req.Declaration,
		Annotation:        req.Annotation,
		OriginalActionID:  req.OriginalActionID,
	})
	doc.UpdatedAt = now
	l.events[doc.ID] = doc
	l.txs[req.TransactionID] = doc.ID
	delete(l.drafts, doc.ID)
	return doc.Clone(), nil
}

// GetEvent implements remote.Client.
func (l *Ledger) GetEvent(_ context.Context, id string) (event.Document, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	doc, ok := l.events[id]
	if !ok {
		return event.Document{}, &remote.StatusError{Code: http.StatusNotFound, Message: "event " + id + " not found"}
	}
	return doc.Clone(), nil
}

// Search implements remote.Client. Results are in creation order; Total
// counts every match regardless of Offset and Limit.
func (l *Ledger) Search(_ context.Context, req remote.SearchRequest) (event.Page, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cfg, _ := l.forms.Event(req.EventType)
	var matches []event.Index
	for _, id := range l.order {
		doc := l.events[id]
		if req.EventType != "" && doc.Type != req.EventType {
			continue
		}
		idx, err := projection.BuildIndex(doc, cfg)
		if err != nil {
			return event.Page{}, fmt.Errorf("index %s: %w", id, err)
		}
		if projection.MatchSearch(idx, req.Query) {
			matches = append(matches, idx)
		}
	}

	page := event.Page{Total: len(matches), Results: []event.Index{}}
	start := min(max(req.Offset, 0), len(matches))
	end := len(matches)
	if req.Limit > 0 {
		end = min(start+req.Limit, end)
	}
	page.Results = append(page.Results, matches[start:end]...)
	return page, nil
}

// ListDrafts implements remote.Client.
func (l *Ledger) ListDrafts(context.Context) ([]event.Draft, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]event.Draft, 0, len(l.drafts))
	for _, d := range l.drafts {
		out = append(out, d.Clone())
	}
	slices.SortFunc(out, func(a, b event.Draft) int {
		return strings.Compare(a.EventID, b.EventID)
	})
	return out, nil
}

// CreateDraft implements remote.Client. A draft replaces any earlier draft
// of the same event; resubmitting a stored transaction id returns the
// stored draft unchanged.
func (l *Ledger) CreateDraft(_ context.Context, d event.Draft) (event.Draft, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := checkRequest(d); err != nil {
		return event.Draft{}, err
	}
	if _, ok := l.events[d.EventID]; !ok {
		return event.Draft{}, &remote.StatusError{Code: http.StatusNotFound, Message: "event " + d.EventID + " not found"}
	}
	if prev, ok := l.drafts[d.EventID]; ok && prev.TransactionID == d.TransactionID {
		return prev.Clone(), nil
	}
	if d.ID == "" {
		d.ID = l.newID()
	}
	l.drafts[d.EventID] = d.Clone()
	return d.Clone(), nil
}

// Len returns the number of events.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

func badRequest(msg string) *remote.StatusError {
	return &remote.StatusError{Code: http.StatusBadRequest, Message: msg}
}
