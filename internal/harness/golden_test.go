package harness

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGolden_Scenarios(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, p := range paths {
		name := strings.TrimSuffix(filepath.Base(p), ".yaml")
		t.Run(name, func(t *testing.T) {
			s, err := LoadScenario(p)
			require.NoError(t, err)
			require.Equal(t, name, s.Name, "scenario name must match its file name")

			result, err := RunWithGolden(t, s)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestSnapshot_Deterministic(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/permanent_rejection.yaml")
	require.NoError(t, err)

	first, err := Run(s)
	require.NoError(t, err)
	second, err := Run(s)
	require.NoError(t, err)

	a, err := Snapshot(s.Name, first)
	require.NoError(t, err)
	b, err := Snapshot(s.Name, second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestSnapshot_Format(t *testing.T) {
	result := NewResult()
	result.Trace = []TraceEvent{{Seq: 1, Call: "GET", Target: "srv-1", Outcome: OutcomeOK}}
	result.Events["e"] = EventSnapshot{ID: "srv-1", Status: "CREATED", OptimisticStatus: "DECLARED", Pending: 1}

	data, err := Snapshot("fmt", result)
	require.NoError(t, err)
	assert.Equal(t,
		`{"events":{"e":{"id":"srv-1","optimistic_status":"DECLARED","pending":1,"status":"CREATED"}},`+
			`"scenario":"fmt","trace":[{"call":"GET","outcome":"ok","seq":1,"target":"srv-1","transaction_id":""}]}`+"\n",
		string(data))
}
