package guard

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/evsync/internal/event"
)

// ActionNotAvailableError is returned when the projected state does not
// allow an action. It names what the caller needs to explain the refusal.
type ActionNotAvailableError struct {
	EventID string
	Action  event.ActionType
	Status  event.Status
	Flags   []event.Flag
}

func (e *ActionNotAvailableError) Error() string {
	flags := make([]string, len(e.Flags))
	for i, f := range e.Flags {
		flags[i] = string(f)
	}
	return fmt.Sprintf("ACTION_NOT_AVAILABLE: %s is not available for event %s (status=%s, flags=[%s])",
		e.Action, e.EventID, e.Status, strings.Join(flags, ","))
}

// InsufficientScopeError is returned when the actor lacks the scope an
// action requires.
type InsufficientScopeError struct {
	EventID string
	Action  event.ActionType
	Scope   string
}

func (e *InsufficientScopeError) Error() string {
	if e.EventID == "" {
		return fmt.Sprintf("INSUFFICIENT_SCOPE: %s requires scope %s", e.Action, e.Scope)
	}
	return fmt.Sprintf("INSUFFICIENT_SCOPE: %s on event %s requires scope %s", e.Action, e.EventID, e.Scope)
}

// IsActionNotAvailable reports whether err is an ActionNotAvailableError.
// Uses errors.As to handle wrapped errors.
func IsActionNotAvailable(err error) bool {
	var e *ActionNotAvailableError
	return errors.As(err, &e)
}

// IsInsufficientScope reports whether err is an InsufficientScopeError.
// Uses errors.As to handle wrapped errors.
func IsInsufficientScope(err error) bool {
	var e *InsufficientScopeError
	return errors.As(err, &e)
}
