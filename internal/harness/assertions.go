package harness

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/evsync/internal/outbox"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, ev := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] %s %s -> %s\n", ev.Seq, ev.Label(), ev.TransactionID, ev.Outcome)
	}
	return buf.String()
}

// evaluate runs every assertion and returns the failure messages.
func (h *Harness) evaluate(ctx context.Context, assertions []Assertion, trace []TraceEvent) []string {
	var failures []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertTraceContains:
			err = assertTraceContains(trace, a)
		case AssertTraceOrder:
			err = assertTraceOrder(trace, a)
		case AssertTraceCount:
			err = assertTraceCount(trace, a)
		default:
			err = h.assertState(ctx, a, trace)
		}
		if err != nil {
			failures = append(failures, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return failures
}

// matchesCall reports whether ev is the call a label names. A label
// without a target matches the call on any target.
func matchesCall(ev TraceEvent, label string) bool {
	return ev.Label() == label || ev.Call == label
}

// assertTraceContains checks that some call matches, and has the expected
// outcome when one is given.
func assertTraceContains(trace []TraceEvent, a Assertion) error {
	for _, ev := range trace {
		if matchesCall(ev, a.Call) && (a.Outcome == "" || ev.Outcome == a.Outcome) {
			return nil
		}
	}
	expected := a.Call
	if a.Outcome != "" {
		expected += " with outcome " + a.Outcome
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: expected,
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that calls first appear in the given order.
// Calls don't need to be consecutive.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	positions := make(map[string]int)
	for i, ev := range trace {
		for _, want := range a.Calls {
			if matchesCall(ev, want) && positions[want] == 0 {
				positions[want] = i + 1
			}
		}
	}

	for _, want := range a.Calls {
		if positions[want] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all calls present: %v", a.Calls),
				Actual:   fmt.Sprintf("missing call: %s", want),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(a.Calls); i++ {
		prev, curr := a.Calls[i-1], a.Calls[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("calls in order: %v", a.Calls),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

// assertTraceCount checks that a call appears exactly Count times.
func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, ev := range trace {
		if matchesCall(ev, a.Call) {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", a.Count, a.Call),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertState checks the engine's view against a state assertion.
func (h *Harness) assertState(ctx context.Context, a Assertion, trace []TraceEvent) error {
	fail := func(expected, actual string) error {
		return &AssertionError{Type: a.Type, Expected: expected, Actual: actual, Trace: trace}
	}

	switch a.Type {
	case AssertOutboxLen, AssertFailedLen:
		entries, err := h.entries(ctx, a)
		if err != nil {
			return err
		}
		if len(entries) != a.Count {
			return fail(fmt.Sprintf("%d entries", a.Count), fmt.Sprintf("%d entries: %s", len(entries), describe(entries)))
		}
		return nil

	case AssertResolves:
		doc, err := h.engine.GetEvent(ctx, h.id(a.Event))
		if err != nil {
			return err
		}
		if doc.ID != a.ID {
			return fail(fmt.Sprintf("%s resolves to %s", a.Event, a.ID), doc.ID)
		}
		return nil
	}

	v, err := h.engine.View(ctx, h.id(a.Event))
	if err != nil {
		return err
	}
	st := v.State
	if a.Optimistic {
		st = v.Optimistic
	}

	switch a.Type {
	case AssertStatus:
		if string(st.Status) != a.Status {
			return fail(fmt.Sprintf("%s status %s", a.Event, a.Status), string(st.Status))
		}
	case AssertFlags:
		got := make([]string, len(st.Flags))
		for i, f := range st.Flags {
			got[i] = string(f)
		}
		want := slices.Clone(a.Flags)
		slices.Sort(got)
		slices.Sort(want)
		if !slices.Equal(got, want) {
			return fail(fmt.Sprintf("%s flags %v", a.Event, want), fmt.Sprintf("%v", got))
		}
	}
	return nil
}

// entries returns the queued or failed mutations an assertion counts.
func (h *Harness) entries(ctx context.Context, a Assertion) ([]outbox.Entry, error) {
	if a.Event != "" {
		v, err := h.engine.View(ctx, h.id(a.Event))
		if err != nil {
			return nil, err
		}
		if a.Type == AssertFailedLen {
			return v.Failed, nil
		}
		return v.Pending, nil
	}
	if a.Type == AssertFailedLen {
		return h.engine.FailedMutations(ctx)
	}
	return h.engine.Outbox(ctx)
}

func describe(entries []outbox.Entry) string {
	parts := make([]string, len(entries))
	for i, e := range entries {
		parts[i] = fmt.Sprintf("%s %s (%s)", e.Action, e.EventID, e.TransactionID)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
