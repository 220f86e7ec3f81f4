package projection

import (
	"errors"
	"fmt"

	"github.com/roach88/evsync/internal/event"
)

// StructuralErrorCode categorizes malformed inputs to the projector.
type StructuralErrorCode string

const (
	ErrCodeNoCreateAction     StructuralErrorCode = "NO_CREATE_ACTION"
	ErrCodeDuplicateCreate    StructuralErrorCode = "DUPLICATE_CREATE"
	ErrCodeCreateNotFirst     StructuralErrorCode = "CREATE_NOT_FIRST"
	ErrCodeDraftEventMismatch StructuralErrorCode = "DRAFT_EVENT_MISMATCH"
)

// StructuralError reports a document or draft that cannot be folded.
type StructuralError struct {
	Code    StructuralErrorCode
	EventID string
	Message string
	Err     error
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("%s: %s (event=%s)", e.Code, e.Message, e.EventID)
}

func (e *StructuralError) Unwrap() error {
	return e.Err
}

// IsStructuralError reports whether err is a StructuralError.
// Uses errors.As to handle wrapped errors.
func IsStructuralError(err error) bool {
	var se *StructuralError
	return errors.As(err, &se)
}

func structuralFromValidate(eventID string, err error) *StructuralError {
	code := ErrCodeNoCreateAction
	switch {
	case errors.Is(err, event.ErrDuplicateCreate):
		code = ErrCodeDuplicateCreate
	case errors.Is(err, event.ErrCreateNotFirst):
		code = ErrCodeCreateNotFirst
	}
	return &StructuralError{
		Code:    code,
		EventID: eventID,
		Message: err.Error(),
		Err:     err,
	}
}
