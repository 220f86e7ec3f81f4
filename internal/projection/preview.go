package projection

import (
	"slices"

	"github.com/roach88/evsync/internal/event"
	"github.com/roach88/evsync/internal/val"
)

// Preview is the accepted state of an event with one draft folded on top.
// It is for display only and deliberately shares no type with State.
type Preview struct {
	EventID     string
	DraftID     string
	Status      event.Status
	Flags       []event.Flag
	Declaration val.Object
	Annotation  val.Object
}

// HasFlag reports whether f is active in the preview.
func (p Preview) HasFlag(f event.Flag) bool {
	return slices.Contains(p.Flags, f)
}

// FoldWithDraft folds doc, then applies the draft's action last regardless
// of its timestamp. The draft must belong to doc.
func FoldWithDraft(doc event.Document, draft event.Draft) (Preview, error) {
	if draft.EventID != doc.ID {
		return Preview{}, &StructuralError{
			Code:    ErrCodeDraftEventMismatch,
			EventID: doc.ID,
			Message: "draft " + draft.ID + " belongs to event " + draft.EventID,
		}
	}
	if err := doc.Validate(); err != nil {
		return Preview{}, structuralFromValidate(doc.ID, err)
	}

	f := newFolder(doc)
	for _, a := range NewLog(doc.Actions).Accepted() {
		f.apply(a)
	}
	f.apply(event.Action{
		Type:        draft.Action.Type,
		ID:          draft.ID,
		CreatedAt:   draft.Action.CreatedAt,
		Status:      event.ActionAccepted,
		Declaration: draft.Action.Declaration,
		Annotation:  draft.Action.Annotation,
	})

	st := f.state()
	return Preview{
		EventID:     st.EventID,
		DraftID:     draft.ID,
		Status:      st.Status,
		Flags:       st.Flags,
		Declaration: st.Declaration,
		Annotation:  st.Annotation,
	}, nil
}
