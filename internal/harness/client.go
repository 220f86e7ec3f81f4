package harness

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/roach88/evsync/internal/event"
	"github.com/roach88/evsync/internal/remote"
)

var errOffline = errors.New("harness: network offline")

// recordingClient sits between the engine and the reference ledger. It
// records every call, and can drop the connection or answer an action type
// with an error status instead of forwarding.
type recordingClient struct {
	next remote.Client

	mu      sync.Mutex
	seq     int64
	offline bool
	fail    map[event.ActionType]int
	trace   []TraceEvent
}

var _ remote.Client = (*recordingClient)(nil)

func newRecordingClient(next remote.Client) *recordingClient {
	return &recordingClient{next: next, fail: make(map[event.ActionType]int)}
}

func (c *recordingClient) setOffline(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offline = v
}

func (c *recordingClient) failWith(t event.ActionType, code int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if code == 0 {
		delete(c.fail, t)
		return
	}
	c.fail[t] = code
}

func (c *recordingClient) events() []TraceEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]TraceEvent{}, c.trace...)
}

// call records one request and either rejects it or forwards it through do.
func (c *recordingClient) call(name, target, tx string, action event.ActionType, do func() error) error {
	c.mu.Lock()
	c.seq++
	ev := TraceEvent{Seq: c.seq, Call: name, Target: target, TransactionID: tx}
	offline := c.offline
	code := c.fail[action]
	c.mu.Unlock()

	var err error
	switch {
	case offline:
		err = errOffline
	case action != "" && code != 0:
		err = &remote.StatusError{Code: code, Message: "injected by scenario"}
	default:
		err = do()
	}
	ev.Outcome = outcomeOf(err)

	c.mu.Lock()
	c.trace = append(c.trace, ev)
	c.mu.Unlock()
	return err
}

func outcomeOf(err error) string {
	if err == nil {
		return OutcomeOK
	}
	if errors.Is(err, errOffline) {
		return OutcomeOffline
	}
	var se *remote.StatusError
	if errors.As(err, &se) {
		return fmt.Sprintf("status %d", se.Code)
	}
	return "error"
}

func (c *recordingClient) CreateEvent(ctx context.Context, req remote.CreateRequest) (event.Document, error) {
	var doc event.Document
	err := c.call(string(event.ActionCreate), req.Type, req.TransactionID, event.ActionCreate, func() error {
		var err error
		doc, err = c.next.CreateEvent(ctx, req)
		return err
	})
	return doc, err
}

func (c *recordingClient) Act(ctx context.Context, req remote.ActionRequest) (event.Document, error) {
	var doc event.Document
	err := c.call(string(req.Action), req.EventID, req.TransactionID, req.Action, func() error {
		var err error
		doc, err = c.next.Act(ctx, req)
		return err
	})
	return doc, err
}

func (c *recordingClient) GetEvent(ctx context.Context, id string) (event.Document, error) {
	var doc event.Document
	err := c.call("GET", id, "", "", func() error {
		var err error
		doc, err = c.next.GetEvent(ctx, id)
		return err
	})
	return doc, err
}

func (c *recordingClient) Search(ctx context.Context, req remote.SearchRequest) (event.Page, error) {
	var page event.Page
	err := c.call("SEARCH", req.EventType, "", "", func() error {
		var err error
		page, err = c.next.Search(ctx, req)
		return err
	})
	return page, err
}

func (c *recordingClient) ListDrafts(ctx context.Context) ([]event.Draft, error) {
	var drafts []event.Draft
	err := c.call("LIST_DRAFTS", "", "", "", func() error {
		var err error
		drafts, err = c.next.ListDrafts(ctx)
		return err
	})
	return drafts, err
}

func (c *recordingClient) CreateDraft(ctx context.Context, d event.Draft) (event.Draft, error) {
	var out event.Draft
	err := c.call("CREATE_DRAFT", d.EventID, d.TransactionID, "", func() error {
		var err error
		out, err = c.next.CreateDraft(ctx, d)
		return err
	})
	return out, err
}
