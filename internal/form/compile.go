package form

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

// Compile extracts every event configuration under the top-level "event"
// field of a built CUE value.
func Compile(v cue.Value) (*Config, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	cfg := &Config{Events: make(map[string]EventConfig)}

	eventsVal := v.LookupPath(cue.ParsePath("event"))
	if !eventsVal.Exists() {
		return cfg, nil
	}

	iter, err := eventsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		ec, err := CompileEvent(iter.Value())
		if err != nil {
			return nil, err
		}
		cfg.Events[ec.Type] = *ec
	}
	return cfg, nil
}

// CompileString compiles CUE source text. Used by tests and by configs
// embedded in scenarios.
func CompileString(src string) (*Config, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(src)
	return Compile(v)
}

// CompileEvent parses one event struct. The event type is the struct label.
func CompileEvent(v cue.Value) (*EventConfig, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	ec := &EventConfig{}
	labels := v.Path().Selectors()
	if len(labels) > 0 {
		ec.Type = labels[len(labels)-1].String()
	}

	titleVal := v.LookupPath(cue.ParsePath("title"))
	if titleVal.Exists() {
		title, err := stringList(titleVal, "title")
		if err != nil {
			return nil, err
		}
		ec.Title = title
	}

	dateVal := v.LookupPath(cue.ParsePath("dateOfEvent"))
	if dateVal.Exists() {
		s, err := dateVal.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		ec.DateOfEvent = s
	}

	fieldsVal := v.LookupPath(cue.ParsePath("fields"))
	if !fieldsVal.Exists() {
		return nil, &CompileError{
			Field:   "fields",
			Message: "fields are required",
			Pos:     v.Pos(),
		}
	}
	fields, err := parseFields(fieldsVal)
	if err != nil {
		return nil, err
	}
	ec.Fields = fields

	return ec, nil
}

func parseFields(v cue.Value) ([]Field, error) {
	iter, err := v.List()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var fields []Field
	for iter.Next() {
		fv := iter.Value()

		idVal := fv.LookupPath(cue.ParsePath("id"))
		if !idVal.Exists() {
			return nil, &CompileError{
				Field:   "fields.id",
				Message: "field id is required",
				Pos:     fv.Pos(),
			}
		}
		id, err := idVal.String()
		if err != nil {
			return nil, formatCUEError(err)
		}

		f := Field{ID: id, Kind: KindDeclaration}

		if kindVal := fv.LookupPath(cue.ParsePath("kind")); kindVal.Exists() {
			kind, err := kindVal.String()
			if err != nil {
				return nil, formatCUEError(err)
			}
			f.Kind = FieldKind(kind)
		}

		if searchVal := fv.LookupPath(cue.ParsePath("search")); searchVal.Exists() {
			search, err := searchVal.Bool()
			if err != nil {
				return nil, formatCUEError(err)
			}
			f.Search = search
		}

		if condVal := fv.LookupPath(cue.ParsePath("conditions")); condVal.Exists() {
			conds, err := parseConditions(condVal)
			if err != nil {
				return nil, err
			}
			f.Conditions = conds
		}

		fields = append(fields, f)
	}
	return fields, nil
}

func parseConditions(v cue.Value) ([]Condition, error) {
	iter, err := v.List()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var conds []Condition
	for iter.Next() {
		cv := iter.Value()
		typ, err := cv.LookupPath(cue.ParsePath("type")).String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		expr, err := cv.LookupPath(cue.ParsePath("expr")).String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		conds = append(conds, Condition{Type: ConditionType(typ), Expr: expr})
	}
	return conds, nil
}

func stringList(v cue.Value, field string) ([]string, error) {
	iter, err := v.List()
	if err != nil {
		return nil, &CompileError{
			Field:   field,
			Message: "must be a list of strings",
			Pos:     v.Pos(),
		}
	}
	var out []string
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		out = append(out, s)
	}
	return out, nil
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
