package form

import (
	"fmt"
	"strings"
)

// Validation error codes (E200-E299).
const (
	ErrDuplicateField    = "E201" // field id declared twice
	ErrInvalidKind       = "E202" // kind is not declaration or annotation
	ErrInvalidCondition  = "E203" // condition type is not SHOW or ENABLE
	ErrConditionCompile  = "E204" // condition expression does not compile
	ErrUnknownTitleField = "E205" // title or dateOfEvent names an unknown field
	ErrEmptyFieldID      = "E206" // field id is blank
)

// ValidationError represents a form configuration error.
type ValidationError struct {
	Event   string `json:"event"`
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s.%s: %s", e.Code, e.Event, e.Field, e.Message)
}

// Validate checks an event configuration. All errors are returned, not just
// the first. Condition expressions are compiled with ev.
func Validate(cfg EventConfig, ev *Evaluator) []ValidationError {
	var errs []ValidationError
	add := func(field, code, format string, args ...any) {
		errs = append(errs, ValidationError{
			Event:   cfg.Type,
			Field:   field,
			Message: fmt.Sprintf(format, args...),
			Code:    code,
		})
	}

	seen := make(map[string]bool, len(cfg.Fields))
	for i, f := range cfg.Fields {
		if strings.TrimSpace(f.ID) == "" {
			add(fmt.Sprintf("fields[%d]", i), ErrEmptyFieldID, "field id must be non-empty")
			continue
		}
		if seen[f.ID] {
			add(f.ID, ErrDuplicateField, "duplicate field id")
		}
		seen[f.ID] = true

		switch f.Kind {
		case KindDeclaration, KindAnnotation:
		default:
			add(f.ID, ErrInvalidKind, "invalid kind %q (want declaration or annotation)", f.Kind)
		}

		for _, c := range f.Conditions {
			switch c.Type {
			case ConditionShow, ConditionEnable:
			default:
				add(f.ID, ErrInvalidCondition, "invalid condition type %q", c.Type)
				continue
			}
			if ev != nil {
				if err := ev.Check(c.Expr); err != nil {
					add(f.ID, ErrConditionCompile, "%v", err)
				}
			}
		}
	}

	for _, id := range cfg.Title {
		if !seen[id] {
			add("title", ErrUnknownTitleField, "unknown field %q", id)
		}
	}
	if cfg.DateOfEvent != "" && !seen[cfg.DateOfEvent] {
		add("dateOfEvent", ErrUnknownTitleField, "unknown field %q", cfg.DateOfEvent)
	}

	return errs
}
