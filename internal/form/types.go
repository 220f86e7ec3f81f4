package form

// FieldKind says which payload a field lives in.
type FieldKind string

const (
	KindDeclaration FieldKind = "declaration"
	KindAnnotation  FieldKind = "annotation"
)

// ConditionType is the effect a condition has on its field.
type ConditionType string

const (
	ConditionShow   ConditionType = "SHOW"
	ConditionEnable ConditionType = "ENABLE"
)

// Condition gates a field on a CEL expression.
type Condition struct {
	Type ConditionType `json:"type"`
	Expr string        `json:"expr"`
}

// Field is one configured form field.
type Field struct {
	ID         string      `json:"id"`
	Kind       FieldKind   `json:"kind"`
	Search     bool        `json:"search,omitempty"`
	Conditions []Condition `json:"conditions,omitempty"`
}

// EventConfig is the form configuration of one event type.
type EventConfig struct {
	Type        string   `json:"type"`
	Title       []string `json:"title,omitempty"`
	DateOfEvent string   `json:"dateOfEvent,omitempty"`
	Fields      []Field  `json:"fields"`
}

// Field returns the field with the given id.
func (c EventConfig) Field(id string) (Field, bool) {
	for _, f := range c.Fields {
		if f.ID == id {
			return f, true
		}
	}
	return Field{}, false
}

// SearchFields returns the ids of fields indexed for search, in declaration order.
func (c EventConfig) SearchFields() []string {
	var ids []string
	for _, f := range c.Fields {
		if f.Search {
			ids = append(ids, f.ID)
		}
	}
	return ids
}

// Config holds every event type's form configuration.
type Config struct {
	Events map[string]EventConfig `json:"events"`
}

// Event returns the configuration for an event type. A missing type yields
// an empty configuration, under which nothing is stripped or indexed.
func (c *Config) Event(typ string) (EventConfig, bool) {
	if c == nil {
		return EventConfig{Type: typ}, false
	}
	ec, ok := c.Events[typ]
	if !ok {
		return EventConfig{Type: typ}, false
	}
	return ec, true
}

// kind returns the payload the field lives in; declaration when unset.
func (f Field) kind() FieldKind {
	if f.Kind == "" {
		return KindDeclaration
	}
	return f.Kind
}
