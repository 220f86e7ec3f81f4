package engine

import (
	"errors"
	"fmt"
)

// ErrEventSynced is returned when deleting an event the server already
// knows about. Only unsynced, temporary-id events can be deleted locally.
var ErrEventSynced = errors.New("event is already synced and cannot be deleted locally")

// NotFoundKind names what was missing from the local cache.
type NotFoundKind string

const (
	NotFoundEvent NotFoundKind = "event"
	NotFoundDraft NotFoundKind = "draft"
)

// NotFoundLocallyError reports an event or draft absent from the local
// cache. It is not retried; the caller can offer to download the event
// again (FetchEvent).
type NotFoundLocallyError struct {
	Kind NotFoundKind
	ID   string
}

func (e *NotFoundLocallyError) Error() string {
	return fmt.Sprintf("NOT_FOUND_LOCALLY: %s %s is not in the local cache", e.Kind, e.ID)
}

// IsNotFoundLocally reports whether err is a NotFoundLocallyError.
// Uses errors.As to handle wrapped errors.
func IsNotFoundLocally(err error) bool {
	var e *NotFoundLocallyError
	return errors.As(err, &e)
}
