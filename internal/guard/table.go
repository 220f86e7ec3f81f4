// Package guard decides which actions are legal on an event.
//
// Availability is a pure function of the projected status and flags (the
// transition table below). Check intersects it with the scopes granted to
// the current actor. Callers check twice: when deciding what to offer, and
// again immediately before building a mutation, because a background sync
// can change the projected state in between.
package guard

import (
	"slices"

	"github.com/roach88/evsync/internal/event"
	"github.com/roach88/evsync/internal/projection"
)

// Transition table.
//
//	CREATED                 NOTIFY DECLARE ARCHIVE
//	NOTIFIED                DECLARE REJECT ARCHIVE
//	NOTIFIED+rejected       DECLARE ARCHIVE
//	DECLARED                VALIDATE REGISTER REJECT ARCHIVE MARKED_AS_DUPLICATE
//	VALIDATED               REGISTER REJECT ARCHIVE MARKED_AS_DUPLICATE
//	DECLARED+rejected       DECLARE VALIDATE REGISTER ARCHIVE
//	VALIDATED+rejected      DECLARE REGISTER ARCHIVE
//	REGISTERED|CERTIFIED    PRINT_CERTIFICATE REQUEST_CORRECTION
//	ARCHIVED                (none)
//
// Flags override the status row:
//
//	duplicate               MARK_NOT_DUPLICATE REJECT ARCHIVE
//	correction-requested    APPROVE_CORRECTION REJECT_CORRECTION
var byStatus = map[event.Status][]event.ActionType{
	event.StatusCreated: {
		event.ActionNotify, event.ActionDeclare, event.ActionArchive,
	},
	event.StatusNotified: {
		event.ActionDeclare, event.ActionReject, event.ActionArchive,
	},
	event.StatusDeclared: {
		event.ActionValidate, event.ActionRegister, event.ActionReject,
		event.ActionArchive, event.ActionMarkDuplicate,
	},
	event.StatusValidated: {
		event.ActionRegister, event.ActionReject,
		event.ActionArchive, event.ActionMarkDuplicate,
	},
	event.StatusRegistered: {
		event.ActionPrintCertificate, event.ActionRequestCorrection,
	},
	event.StatusCertified: {
		event.ActionPrintCertificate, event.ActionRequestCorrection,
	},
}

var (
	rejectedNotified = []event.ActionType{
		event.ActionDeclare, event.ActionArchive,
	}
	rejectedDeclared = []event.ActionType{
		event.ActionDeclare, event.ActionValidate, event.ActionRegister, event.ActionArchive,
	}
	rejectedValidated = []event.ActionType{
		event.ActionDeclare, event.ActionRegister, event.ActionArchive,
	}
	duplicate = []event.ActionType{
		event.ActionMarkNotDuplicate, event.ActionReject, event.ActionArchive,
	}
	correction = []event.ActionType{
		event.ActionApproveCorrection, event.ActionRejectCorrection,
	}
)

// Available returns the actions legal on st, in event.ActionTypes order.
// It ignores scopes.
func Available(st projection.State) []event.ActionType {
	var set []event.ActionType
	switch {
	case st.Status == event.StatusArchived:
		return []event.ActionType{}
	case st.HasFlag(event.FlagCorrectionRequested):
		set = correction
	case st.HasFlag(event.FlagDuplicate):
		set = duplicate
	case st.HasFlag(event.FlagRejected) && st.Status == event.StatusNotified:
		set = rejectedNotified
	case st.HasFlag(event.FlagRejected) && st.Status == event.StatusDeclared:
		set = rejectedDeclared
	case st.HasFlag(event.FlagRejected) && st.Status == event.StatusValidated:
		set = rejectedValidated
	default:
		set = byStatus[st.Status]
	}

	out := []event.ActionType{}
	for _, a := range event.ActionTypes {
		if slices.Contains(set, a) {
			out = append(out, a)
		}
	}
	return out
}

// IsAvailable reports whether action is legal on st, ignoring scopes.
func IsAvailable(st projection.State, action event.ActionType) bool {
	return slices.Contains(Available(st), action)
}
