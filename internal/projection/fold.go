package projection

import (
	"slices"
	"time"

	"github.com/roach88/evsync/internal/event"
	"github.com/roach88/evsync/internal/val"
)

// State is the canonical projection of an event's accepted history.
type State struct {
	EventID      string       `json:"eventId"`
	Type         string       `json:"type"`
	Status       event.Status `json:"status"`
	Flags        []event.Flag `json:"flags"`
	Declaration  val.Object   `json:"declaration"`
	Annotation   val.Object   `json:"annotation"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
	LastActionID string       `json:"lastActionId,omitempty"`
}

// HasFlag reports whether f is active.
func (s State) HasFlag(f event.Flag) bool {
	return slices.Contains(s.Flags, f)
}

// Fold projects the accepted actions of doc into a State.
func Fold(doc event.Document) (State, error) {
	if err := doc.Validate(); err != nil {
		return State{}, structuralFromValidate(doc.ID, err)
	}

	f := newFolder(doc)
	for _, a := range NewLog(doc.Actions).Accepted() {
		f.apply(a)
	}
	return f.state(), nil
}

// folder accumulates state across actions.
type folder struct {
	st    State
	flags map[event.Flag]bool
	// held correction declarations by REQUEST_CORRECTION action id
	held map[string]val.Object
}

func newFolder(doc event.Document) *folder {
	return &folder{
		st: State{
			EventID:     doc.ID,
			Type:        doc.Type,
			Declaration: val.Object{},
			Annotation:  val.Object{},
			CreatedAt:   doc.CreatedAt,
			UpdatedAt:   doc.CreatedAt,
		},
		flags: make(map[event.Flag]bool),
		held:  make(map[string]val.Object),
	}
}

func (f *folder) apply(a event.Action) {
	if a.Type == event.ActionRequestCorrection {
		f.held[a.ID] = val.CloneObject(a.Declaration)
	} else {
		f.st.Declaration = val.DeepMerge(f.st.Declaration, a.Declaration)
	}
	f.st.Annotation = val.DeepMerge(f.st.Annotation, a.Annotation)

	switch a.Type {
	case event.ActionCreate:
		f.st.Status = event.StatusCreated
		if f.st.CreatedAt.IsZero() {
			f.st.CreatedAt = a.CreatedAt
		}
	case event.ActionNotify:
		f.st.Status = event.StatusNotified
		f.set(event.FlagIncomplete)
		f.clear(event.FlagRejected)
	case event.ActionDeclare:
		f.st.Status = event.StatusDeclared
		f.clear(event.FlagIncomplete, event.FlagRejected)
	case event.ActionValidate:
		f.st.Status = event.StatusValidated
		f.clear(event.FlagRejected)
	case event.ActionRegister:
		f.st.Status = event.StatusRegistered
		f.clear(event.FlagRejected)
		f.set(event.FlagPendingCertification)
	case event.ActionPrintCertificate:
		f.st.Status = event.StatusCertified
		f.clear(event.FlagPendingCertification)
	case event.ActionReject:
		f.set(event.FlagRejected)
	case event.ActionArchive:
		f.st.Status = event.StatusArchived
	case event.ActionMarkDuplicate:
		f.set(event.FlagDuplicate)
	case event.ActionMarkNotDuplicate:
		f.clear(event.FlagDuplicate)
	case event.ActionRequestCorrection:
		f.set(event.FlagCorrectionRequested)
	case event.ActionApproveCorrection:
		if held, ok := f.held[a.OriginalActionID]; ok {
			f.st.Declaration = val.DeepMerge(f.st.Declaration, held)
			delete(f.held, a.OriginalActionID)
		}
		f.clear(event.FlagCorrectionRequested)
	case event.ActionRejectCorrection:
		delete(f.held, a.OriginalActionID)
		f.clear(event.FlagCorrectionRequested)
	}

	if a.CreatedAt.After(f.st.UpdatedAt) {
		f.st.UpdatedAt = a.CreatedAt
	}
	f.st.LastActionID = a.ID
}

func (f *folder) set(flags ...event.Flag) {
	for _, fl := range flags {
		f.flags[fl] = true
	}
}

func (f *folder) clear(flags ...event.Flag) {
	for _, fl := range flags {
		delete(f.flags, fl)
	}
}

func (f *folder) state() State {
	st := f.st
	st.Flags = make([]event.Flag, 0, len(f.flags))
	for fl := range f.flags {
		st.Flags = append(st.Flags, fl)
	}
	slices.Sort(st.Flags)
	return st
}
