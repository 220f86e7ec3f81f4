package event

import (
	"slices"
	"strings"
	"time"

	"github.com/roach88/evsync/internal/val"
)

// ActionType names a state transition recorded in an event's history.
type ActionType string

const (
	ActionCreate            ActionType = "CREATE"
	ActionNotify            ActionType = "NOTIFY"
	ActionDeclare           ActionType = "DECLARE"
	ActionValidate          ActionType = "VALIDATE"
	ActionRegister          ActionType = "REGISTER"
	ActionReject            ActionType = "REJECT"
	ActionArchive           ActionType = "ARCHIVE"
	ActionMarkDuplicate     ActionType = "MARKED_AS_DUPLICATE"
	ActionMarkNotDuplicate  ActionType = "MARK_NOT_DUPLICATE"
	ActionRequestCorrection ActionType = "REQUEST_CORRECTION"
	ActionApproveCorrection ActionType = "APPROVE_CORRECTION"
	ActionRejectCorrection  ActionType = "REJECT_CORRECTION"
	ActionPrintCertificate  ActionType = "PRINT_CERTIFICATE"
)

// ActionTypes lists every action type in lifecycle order.
var ActionTypes = []ActionType{
	ActionCreate,
	ActionNotify,
	ActionDeclare,
	ActionValidate,
	ActionRegister,
	ActionReject,
	ActionArchive,
	ActionMarkDuplicate,
	ActionMarkNotDuplicate,
	ActionRequestCorrection,
	ActionApproveCorrection,
	ActionRejectCorrection,
	ActionPrintCertificate,
}

// Valid reports whether t is a known action type.
func (t ActionType) Valid() bool {
	return slices.Contains(ActionTypes, t)
}

// ParseActionType accepts either the wire name or its lower-case form.
func ParseActionType(s string) (ActionType, bool) {
	t := ActionType(strings.ToUpper(strings.ReplaceAll(s, "-", "_")))
	return t, t.Valid()
}

// Status is the projected lifecycle position of an event.
type Status string

const (
	StatusCreated    Status = "CREATED"
	StatusNotified   Status = "NOTIFIED"
	StatusDeclared   Status = "DECLARED"
	StatusValidated  Status = "VALIDATED"
	StatusRegistered Status = "REGISTERED"
	StatusCertified  Status = "CERTIFIED"
	StatusArchived   Status = "ARCHIVED"
)

// Flag is an orthogonal marker carried alongside Status.
type Flag string

const (
	FlagRejected             Flag = "rejected"
	FlagPendingCertification Flag = "pending-certification"
	FlagIncomplete           Flag = "incomplete"
	FlagDuplicate            Flag = "duplicate"
	FlagCorrectionRequested  Flag = "correction-requested"
)

// ActionStatus records whether the server accepted an action.
// Only Accepted actions participate in projection.
type ActionStatus string

const (
	ActionAccepted ActionStatus = "Accepted"
	ActionRejected ActionStatus = "Rejected"
)

// Action is one immutable entry in an event's history.
type Action struct {
	Type              ActionType   `json:"type"`
	ID                string       `json:"id"`
	TransactionID     string       `json:"transactionId"`
	CreatedAt         time.Time    `json:"createdAt"`
	CreatedBy         string       `json:"createdBy"`
	CreatedByRole     string       `json:"createdByRole,omitempty"`
	CreatedAtLocation string       `json:"createdAtLocation,omitempty"`
	Status            ActionStatus `json:"status"`
	Declaration       val.Object   `json:"declaration,omitempty"`
	Annotation        val.Object   `json:"annotation,omitempty"`
	OriginalActionID  string       `json:"originalActionId,omitempty"`
}

// Accepted reports whether the action participates in projection.
func (a Action) Accepted() bool {
	return a.Status == ActionAccepted
}

// Clone returns a deep copy of the action.
func (a Action) Clone() Action {
	out := a
	if a.Declaration != nil {
		out.Declaration = val.CloneObject(a.Declaration)
	}
	if a.Annotation != nil {
		out.Annotation = val.CloneObject(a.Annotation)
	}
	return out
}

// Actor identifies who performs an action and from where.
type Actor struct {
	ID       string `json:"id"`
	Role     string `json:"role,omitempty"`
	Location string `json:"location,omitempty"`
}

// Document is the canonical copy of one event and its action history.
type Document struct {
	ID            string    `json:"id"`
	TransactionID string    `json:"transactionId"`
	Type          string    `json:"type"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
	Actions       []Action  `json:"actions"`
}

// Clone returns a deep copy. Cache writers mutate clones, never the stored value.
func (d Document) Clone() Document {
	out := d
	out.Actions = make([]Action, len(d.Actions))
	for i, a := range d.Actions {
		out.Actions[i] = a.Clone()
	}
	return out
}

// FindAction returns the action with the given id.
func (d Document) FindAction(id string) (Action, bool) {
	for _, a := range d.Actions {
		if a.ID == id {
			return a, true
		}
	}
	return Action{}, false
}

// HasTransaction reports whether an accepted action carries transactionID.
func (d Document) HasTransaction(transactionID string) bool {
	for _, a := range d.Actions {
		if a.TransactionID == transactionID && a.Accepted() {
			return true
		}
	}
	return false
}

// DraftAction is the staged payload of a draft.
type DraftAction struct {
	Type        ActionType `json:"type"`
	CreatedAt   time.Time  `json:"createdAt"`
	Declaration val.Object `json:"declaration"`
	Annotation  val.Object `json:"annotation,omitempty"`
}

// Draft is a staged, not-yet-accepted action payload.
type Draft struct {
	ID            string      `json:"id"`
	EventID       string      `json:"eventId" binding:"required"`
	TransactionID string      `json:"transactionId" binding:"required"`
	Action        DraftAction `json:"action"`
	CreatedAt     time.Time   `json:"createdAt"`
}

// Clone returns a deep copy of the draft.
func (d Draft) Clone() Draft {
	out := d
	out.Action.Declaration = val.CloneObject(d.Action.Declaration)
	if d.Action.Annotation != nil {
		out.Action.Annotation = val.CloneObject(d.Action.Annotation)
	}
	return out
}

// Index is the denormalized summary of an event used by lists and search.
type Index struct {
	ID          string            `json:"id"`
	Type        string            `json:"type"`
	Status      Status            `json:"status"`
	Flags       []Flag            `json:"flags"`
	Title       string            `json:"title,omitempty"`
	DateOfEvent string            `json:"dateOfEvent,omitempty"`
	Search      map[string]string `json:"search,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

// Page is one cached page of a server list or search result. Total is the
// server-reported aggregate and is independent of len(Results).
type Page struct {
	Total   int     `json:"total"`
	Results []Index `json:"results"`
}
