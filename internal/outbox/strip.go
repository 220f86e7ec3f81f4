package outbox

import (
	"fmt"

	"github.com/roach88/evsync/internal/form"
	"github.com/roach88/evsync/internal/val"
)

// StripError reports a condition that could not be evaluated for an entry.
// The inputs are local and fixed, so a retry cannot succeed.
type StripError struct {
	TransactionID string
	Err           error
}

func (e *StripError) Error() string {
	return fmt.Sprintf("strip %s: %v", e.TransactionID, e.Err)
}

func (e *StripError) Unwrap() error { return e.Err }

// Permanent implements the classification hook used by Classify.
func (e *StripError) Permanent() bool { return true }

// Strip returns e with every field whose visibility or enabled condition is
// false under cfg removed from its payload, and the removed field ids.
// Conditions see the entry's payload applied over baseDecl and baseAnn, the
// event's current values. The stored entry is not changed; stripping happens
// per transmission so a form configuration update applies to entries
// already queued.
func Strip(ev *form.Evaluator, cfg form.EventConfig, e Entry, baseDecl, baseAnn val.Object) (Entry, []string, error) {
	decl, ann, removed, err := ev.StripOver(cfg, baseDecl, baseAnn, e.Declaration, e.Annotation)
	if err != nil {
		return Entry{}, nil, &StripError{TransactionID: e.TransactionID, Err: err}
	}
	e.Declaration = decl
	e.Annotation = ann
	return e, removed, nil
}
