// Package outbox is the durable queue of mutations awaiting confirmed
// delivery.
//
// Entries are keyed by enqueue sequence (outbox/<seq>) so a prefix scan
// yields enqueue order, and carry a transaction id used by the server to
// deduplicate redelivery. An entry leaves the queue only on confirmed
// success (Remove) or classified-permanent failure (MarkFailed, which moves
// it to the failed set for the user's attention).
package outbox

import (
	"fmt"
	"time"

	"github.com/roach88/evsync/internal/event"
	"github.com/roach88/evsync/internal/val"
)

// State is the lifecycle state of an entry.
type State string

const (
	StatePending State = "pending"
	StateFailed  State = "failed"
)

// Entry is one queued mutation and its delivery state.
type Entry struct {
	Seq              int64            `json:"seq"`
	TransactionID    string           `json:"transactionId"`
	EventID          string           `json:"eventId"`
	EventType        string           `json:"eventType"`
	Action           event.ActionType `json:"action"`
	Declaration      val.Object       `json:"declaration,omitempty"`
	Annotation       val.Object       `json:"annotation,omitempty"`
	OriginalActionID string           `json:"originalActionId,omitempty"`
	PayloadHash      string           `json:"payloadHash"`
	EnqueuedAt       time.Time        `json:"enqueuedAt"`
	Attempts         int              `json:"attempts"`
	NextAttemptAt    time.Time        `json:"nextAttemptAt,omitzero"`
	LastError        string           `json:"lastError,omitempty"`
	State            State            `json:"state"`
	FailedAt         time.Time        `json:"failedAt,omitzero"`
}

// Hash computes the payload fingerprint of e.
func (e Entry) Hash() (string, error) {
	return val.PayloadHash(string(e.Action), e.Declaration, e.Annotation)
}

// IdempotencyError reports a transaction id reused for a different payload.
type IdempotencyError struct {
	TransactionID string
	ExistingHash  string
	NewHash       string
}

func (e *IdempotencyError) Error() string {
	return fmt.Sprintf("IDEMPOTENCY_VIOLATION: transaction %s already queued with a different payload (existing=%s new=%s)",
		e.TransactionID, short(e.ExistingHash), short(e.NewHash))
}

func short(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
