package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/evsync/internal/val"
)

// Snapshot renders a result as canonical JSON followed by a newline: the
// trace and the final event views, keys sorted.
func Snapshot(scenarioName string, result *Result) ([]byte, error) {
	trace := make(val.Array, len(result.Trace))
	for i, ev := range result.Trace {
		trace[i] = val.Obj(
			val.P("seq", val.Int(ev.Seq)),
			val.P("call", val.String(ev.Call)),
			val.P("target", val.String(ev.Target)),
			val.P("transaction_id", val.String(ev.TransactionID)),
			val.P("outcome", val.String(ev.Outcome)),
		)
	}
	events := make(val.Object, len(result.Events))
	for alias, s := range result.Events {
		events[alias] = val.Obj(
			val.P("id", val.String(s.ID)),
			val.P("status", val.String(s.Status)),
			val.P("optimistic_status", val.String(s.OptimisticStatus)),
			val.P("pending", val.Int(s.Pending)),
		)
	}

	out, err := val.MarshalCanonical(val.Obj(
		val.P("scenario", val.String(scenarioName)),
		val.P("trace", trace),
		val.P("events", events),
	))
	if err != nil {
		return nil, err
	}
	return append(out, '\n'), nil
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	return result, AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an existing result against its golden file
// without re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := Snapshot(scenarioName, result)
	if err != nil {
		return err
	}
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
