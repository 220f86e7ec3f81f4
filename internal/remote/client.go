// Package remote is the client side of the remote action API.
//
// There is one route per action type. Every mutating request carries a
// transaction id; the server answers a redelivered id with the stored
// result instead of applying the action again.
package remote

import (
	"context"
	"strings"

	"github.com/roach88/evsync/internal/event"
	"github.com/roach88/evsync/internal/val"
)

// Client is the remote action API.
type Client interface {
	CreateEvent(ctx context.Context, req CreateRequest) (event.Document, error)
	Act(ctx context.Context, req ActionRequest) (event.Document, error)
	GetEvent(ctx context.Context, id string) (event.Document, error)
	Search(ctx context.Context, req SearchRequest) (event.Page, error)
	ListDrafts(ctx context.Context) ([]event.Draft, error)
	CreateDraft(ctx context.Context, d event.Draft) (event.Draft, error)
}

// CreateRequest creates an event. Actor is filled in by the server from
// the session token when the request travels over HTTP.
type CreateRequest struct {
	TransactionID string      `json:"transactionId" binding:"required"`
	Type          string      `json:"type" binding:"required"`
	Actor         event.Actor `json:"-"`
}

// ActionRequest performs one action on an event.
type ActionRequest struct {
	EventID          string           `json:"eventId"`
	EventType        string           `json:"type"`
	TransactionID    string           `json:"transactionId" binding:"required"`
	Action           event.ActionType `json:"-"`
	Declaration      val.Object       `json:"declaration,omitempty"`
	Annotation       val.Object       `json:"annotation,omitempty"`
	OriginalActionID string           `json:"originalActionId,omitempty"`
	Actor            event.Actor      `json:"-"`
}

// SearchRequest filters events of one type by folded search fields.
type SearchRequest struct {
	EventType string            `json:"type"`
	Query     map[string]string `json:"query,omitempty"`
	Offset    int               `json:"offset,omitempty"`
	Limit     int               `json:"limit,omitempty"`
}

// ActionSlug is the route segment of an action type.
func ActionSlug(t event.ActionType) string {
	return strings.ReplaceAll(strings.ToLower(string(t)), "_", "-")
}
