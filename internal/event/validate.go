package event

import (
	"errors"
	"slices"
	"strings"
)

// TemporaryIDPrefix marks client-minted placeholder ids.
const TemporaryIDPrefix = "tmp-"

// IsTemporaryID reports whether id is a placeholder not yet issued by the server.
func IsTemporaryID(id string) bool {
	return strings.HasPrefix(id, TemporaryIDPrefix)
}

var (
	// ErrNoCreateAction is returned when a document has no CREATE action.
	ErrNoCreateAction = errors.New("event has no CREATE action")

	// ErrDuplicateCreate is returned when a document has more than one CREATE.
	ErrDuplicateCreate = errors.New("event has more than one CREATE action")

	// ErrCreateNotFirst is returned when CREATE is not first in creation order.
	ErrCreateNotFirst = errors.New("CREATE is not the first action")
)

// SortActions returns a copy of actions ordered by CreatedAt.
// Ties keep their insertion order.
func SortActions(actions []Action) []Action {
	out := slices.Clone(actions)
	slices.SortStableFunc(out, func(a, b Action) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out
}

// Validate checks the structural invariants of a document: exactly one
// CREATE action, and it sorts first in creation order.
func (d Document) Validate() error {
	creates := 0
	for _, a := range d.Actions {
		if a.Type == ActionCreate {
			creates++
		}
	}
	switch {
	case creates == 0:
		return ErrNoCreateAction
	case creates > 1:
		return ErrDuplicateCreate
	}
	if SortActions(d.Actions)[0].Type != ActionCreate {
		return ErrCreateNotFirst
	}
	return nil
}
