package projection

import (
	"slices"

	"github.com/roach88/evsync/internal/event"
)

// Log is an ordered, append-only view over one event's actions.
type Log struct {
	actions []event.Action
}

// NewLog copies actions into a new log.
func NewLog(actions []event.Action) *Log {
	return &Log{actions: slices.Clone(actions)}
}

// Append adds a to the log unless an action with the same id, or with the
// same transaction id and type, is already present. Reports whether the
// action was added.
func (l *Log) Append(a event.Action) bool {
	for _, existing := range l.actions {
		if existing.ID == a.ID {
			return false
		}
		if a.TransactionID != "" && existing.TransactionID == a.TransactionID && existing.Type == a.Type {
			return false
		}
	}
	l.actions = append(l.actions, a)
	return true
}

// Actions returns the actions in insertion order.
func (l *Log) Actions() []event.Action {
	return slices.Clone(l.actions)
}

// Len returns the number of actions.
func (l *Log) Len() int {
	return len(l.actions)
}

// Sorted returns every action ordered by CreatedAt, stable on ties.
func (l *Log) Sorted() []event.Action {
	return event.SortActions(l.actions)
}

// Accepted returns the Accepted actions in fold order.
func (l *Log) Accepted() []event.Action {
	sorted := l.Sorted()
	out := sorted[:0]
	for _, a := range sorted {
		if a.Accepted() {
			out = append(out, a)
		}
	}
	return out
}

// Latest returns the last accepted action in fold order.
func (l *Log) Latest() (event.Action, bool) {
	accepted := l.Accepted()
	if len(accepted) == 0 {
		return event.Action{}, false
	}
	return accepted[len(accepted)-1], true
}
