package harness

// Outcomes recorded on trace events other than a status code.
const (
	OutcomeOK      = "ok"
	OutcomeOffline = "offline"
)

// TraceEvent is one call that reached the server connection.
type TraceEvent struct {
	Seq  int64  `json:"seq"`
	Call string `json:"call"`

	// Target is the event type for CREATE and the event id otherwise.
	Target        string `json:"target,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`

	// Outcome is "ok", "offline" or "status <code>".
	Outcome string `json:"outcome"`
}

// Label is the call as assertions name it, e.g. "DECLARE srv-1".
func (t TraceEvent) Label() string {
	if t.Target == "" {
		return t.Call
	}
	return t.Call + " " + t.Target
}

// EventSnapshot is the engine's final view of one aliased event.
type EventSnapshot struct {
	ID               string `json:"id"`
	Status           string `json:"status"`
	OptimisticStatus string `json:"optimistic_status"`
	Pending          int    `json:"pending"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every step behaved as scripted and every
	// assertion held.
	Pass bool `json:"pass"`

	// Trace lists server calls in the order they were made.
	Trace []TraceEvent `json:"trace"`

	// Errors holds step and assertion failures. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Events maps each alias that still exists locally to its final view.
	Events map[string]EventSnapshot `json:"events"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		Events: make(map[string]EventSnapshot),
	}
}

// AddError adds a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
