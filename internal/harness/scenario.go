package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/evsync/internal/event"
)

// Scenario scripts one offline-sync run.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Form is CUE source for the form configuration. Optional; without it
	// any event type is accepted and nothing is stripped.
	Form string `yaml:"form,omitempty"`

	// Scopes granted to the actor. Defaults to every scope.
	Scopes []string `yaml:"scopes,omitempty"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions are evaluated after the last step.
	Assertions []Assertion `yaml:"assertions"`
}

// Step does exactly one thing; see the package documentation.
type Step struct {
	Create  *CreateStep   `yaml:"create,omitempty"`
	Mutate  *MutateStep   `yaml:"mutate,omitempty"`
	Network string        `yaml:"network,omitempty"`
	Fail    *FailStep     `yaml:"fail,omitempty"`
	Flush   bool          `yaml:"flush,omitempty"`
	Advance time.Duration `yaml:"advance,omitempty"`
	Fetch   string        `yaml:"fetch,omitempty"`
	Delete  *DeleteStep   `yaml:"delete,omitempty"`
}

// CreateStep creates an event locally and binds its id to As.
type CreateStep struct {
	Type        string `yaml:"type"`
	As          string `yaml:"as"`
	ExpectError string `yaml:"expect_error,omitempty"`
}

// MutateStep queues an action against an aliased event.
type MutateStep struct {
	Event         string         `yaml:"event"`
	Action        string         `yaml:"action"`
	TransactionID string         `yaml:"transaction_id,omitempty"`
	Declaration   map[string]any `yaml:"declaration,omitempty"`
	Annotation    map[string]any `yaml:"annotation,omitempty"`
	ExpectError   string         `yaml:"expect_error,omitempty"`
}

// FailStep makes the server answer Action with Code. Code 0 clears it.
type FailStep struct {
	Action string `yaml:"action"`
	Code   int    `yaml:"code"`
}

// DeleteStep deletes an aliased event.
type DeleteStep struct {
	Event       string `yaml:"event"`
	ExpectError string `yaml:"expect_error,omitempty"`
}

// Network states.
const (
	NetworkOffline = "offline"
	NetworkOnline  = "online"
)

// Error kinds accepted by expect_error.
const (
	ErrKindActionNotAvailable = "action_not_available"
	ErrKindInsufficientScope  = "insufficient_scope"
	ErrKindEventSynced        = "event_synced"
	ErrKindNotFoundLocally    = "not_found_locally"
	ErrKindIdempotency        = "idempotency"
	ErrKindEventNotCreated    = "event_not_created"
)

var errorKinds = map[string]bool{
	ErrKindActionNotAvailable: true,
	ErrKindInsufficientScope:  true,
	ErrKindEventSynced:        true,
	ErrKindNotFoundLocally:    true,
	ErrKindIdempotency:        true,
	ErrKindEventNotCreated:    true,
}

// Assertion validates the trace or the final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Event is the alias an event assertion inspects. Optional for
	// outbox_len and failed_len, which otherwise count every entry.
	Event string `yaml:"event,omitempty"`

	// Status is the expected status (status).
	Status string `yaml:"status,omitempty"`

	// Optimistic selects the optimistic state instead of the canonical
	// one (status, flags).
	Optimistic bool `yaml:"optimistic,omitempty"`

	// Flags is the expected flag set, order ignored (flags).
	Flags []string `yaml:"flags,omitempty"`

	// Count is the expected number (outbox_len, failed_len, trace_count).
	Count int `yaml:"count,omitempty"`

	// ID is the expected canonical id (resolves).
	ID string `yaml:"id,omitempty"`

	// Call is a call label such as "DECLARE srv-1", or a bare call name
	// matching any target (trace_contains, trace_count).
	Call string `yaml:"call,omitempty"`

	// Outcome narrows trace_contains to calls with this outcome.
	Outcome string `yaml:"outcome,omitempty"`

	// Calls is the expected call order (trace_order).
	Calls []string `yaml:"calls,omitempty"`
}

// Assertion type constants.
const (
	AssertStatus        = "status"
	AssertFlags         = "flags"
	AssertOutboxLen     = "outbox_len"
	AssertFailedLen     = "failed_len"
	AssertResolves      = "resolves"
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML with strict field checking.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and that
// aliases are bound before use.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	aliases := make(map[string]bool)
	for i, step := range s.Steps {
		if err := validateStep(i, &step, aliases); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a, aliases); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(i int, step *Step, aliases map[string]bool) error {
	kinds := 0
	for _, set := range []bool{
		step.Create != nil, step.Mutate != nil, step.Network != "", step.Fail != nil,
		step.Flush, step.Advance != 0, step.Fetch != "", step.Delete != nil,
	} {
		if set {
			kinds++
		}
	}
	if kinds != 1 {
		return fmt.Errorf("steps[%d]: exactly one step kind is required, got %d", i, kinds)
	}

	switch {
	case step.Create != nil:
		if step.Create.Type == "" || step.Create.As == "" {
			return fmt.Errorf("steps[%d].create: type and as are required", i)
		}
		if aliases[step.Create.As] {
			return fmt.Errorf("steps[%d].create: alias %q already bound", i, step.Create.As)
		}
		aliases[step.Create.As] = true
		return validateErrorKind(i, step.Create.ExpectError)

	case step.Mutate != nil:
		if !aliases[step.Mutate.Event] {
			return fmt.Errorf("steps[%d].mutate: unknown event alias %q", i, step.Mutate.Event)
		}
		if _, ok := event.ParseActionType(step.Mutate.Action); !ok {
			return fmt.Errorf("steps[%d].mutate: unknown action %q", i, step.Mutate.Action)
		}
		return validateErrorKind(i, step.Mutate.ExpectError)

	case step.Network != "":
		if step.Network != NetworkOffline && step.Network != NetworkOnline {
			return fmt.Errorf("steps[%d]: network must be %q or %q", i, NetworkOffline, NetworkOnline)
		}

	case step.Fail != nil:
		if _, ok := event.ParseActionType(step.Fail.Action); !ok {
			return fmt.Errorf("steps[%d].fail: unknown action %q", i, step.Fail.Action)
		}
		if step.Fail.Code != 0 && (step.Fail.Code < 400 || step.Fail.Code > 599) {
			return fmt.Errorf("steps[%d].fail: code must be 0 or an HTTP error status", i)
		}

	case step.Advance < 0:
		return fmt.Errorf("steps[%d]: advance must be positive", i)

	case step.Fetch != "":
		if !aliases[step.Fetch] {
			return fmt.Errorf("steps[%d].fetch: unknown event alias %q", i, step.Fetch)
		}

	case step.Delete != nil:
		if !aliases[step.Delete.Event] {
			return fmt.Errorf("steps[%d].delete: unknown event alias %q", i, step.Delete.Event)
		}
		return validateErrorKind(i, step.Delete.ExpectError)
	}
	return nil
}

func validateErrorKind(i int, kind string) error {
	if kind != "" && !errorKinds[kind] {
		return fmt.Errorf("steps[%d]: unknown expect_error %q", i, kind)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion, aliases map[string]bool) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}
	if a.Event != "" && !aliases[a.Event] {
		return fmt.Errorf("assertions[%d]: unknown event alias %q", index, a.Event)
	}

	switch a.Type {
	case AssertStatus:
		if a.Event == "" || a.Status == "" {
			return fmt.Errorf("assertions[%d]: event and status are required for status", index)
		}
	case AssertFlags, AssertResolves:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for %s", index, a.Type)
		}
		if a.Type == AssertResolves && a.ID == "" {
			return fmt.Errorf("assertions[%d]: id is required for resolves", index)
		}
	case AssertOutboxLen, AssertFailedLen:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for %s", index, a.Type)
		}
	case AssertTraceContains:
		if a.Call == "" {
			return fmt.Errorf("assertions[%d]: call is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Calls) == 0 {
			return fmt.Errorf("assertions[%d]: calls list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Call == "" {
			return fmt.Errorf("assertions[%d]: call is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
