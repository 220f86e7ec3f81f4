package outbox

import (
	"context"
	"errors"
)

// ErrEventNotCreated is returned when an entry targets a temporary id that
// has no canonical copy and no pending CREATE.
var ErrEventNotCreated = errors.New("event not yet created")

// ErrBlocked marks an entry that must stay queued because its event's
// CREATE has not been confirmed yet.
var ErrBlocked = errors.New("waiting for event creation")

// Outcome is the queue's reaction to a delivery error.
type Outcome int

const (
	// OutcomeRetry keeps the entry and retries after the fixed interval.
	OutcomeRetry Outcome = iota
	// OutcomePermanent moves the entry to the failed set.
	OutcomePermanent
	// OutcomeBlocked keeps the entry without counting an attempt.
	OutcomeBlocked
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRetry:
		return "retry"
	case OutcomePermanent:
		return "permanent"
	case OutcomeBlocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// permanent is implemented by transport errors that know whether they can
// succeed on retry.
type permanent interface {
	Permanent() bool
}

// Classify maps a delivery error to an outcome. Transport errors reporting
// Permanent (400/404-class) and ErrEventNotCreated are permanent; ErrBlocked
// and cancellation are blocked; everything else, including deadlines, is
// retried.
func Classify(err error) Outcome {
	switch {
	case errors.Is(err, ErrBlocked):
		return OutcomeBlocked
	case errors.Is(err, ErrEventNotCreated):
		return OutcomePermanent
	case errors.Is(err, context.Canceled):
		return OutcomeBlocked
	}
	var p permanent
	if errors.As(err, &p) && p.Permanent() {
		return OutcomePermanent
	}
	return OutcomeRetry
}
