package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/shelfshare/internal/domain"
)

// GoldenDir holds golden snapshots relative to the test package.
const GoldenDir = "testdata/golden"

// Snapshot renders a run as canonical JSON: the scenario name, the flow
// trace and the settled state projection.
func Snapshot(scenario *Scenario, result *Result) ([]byte, error) {
	trace := make([]any, len(result.Trace))
	for i, ev := range result.Trace {
		m := map[string]any{
			"step":    int64(ev.Step),
			"action":  ev.Action,
			"outcome": ev.Outcome,
		}
		if ev.Actor != "" {
			m["actor"] = ev.Actor
		}
		if ev.ID != "" {
			m["id"] = ev.ID
		}
		trace[i] = m
	}
	return domain.MarshalCanonical(map[string]any{
		"scenario": scenario.Name,
		"state":    result.State,
		"trace":    trace,
	})
}

// RunWithGolden executes a scenario, fails t on any failed expectation, and
// compares the snapshot with testdata/golden/{name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) *Result {
	t.Helper()

	result, err := RunContext(t.Context(), scenario)
	if err != nil {
		t.Fatalf("run %s: %v", scenario.Name, err)
	}
	for _, e := range result.Errors {
		t.Errorf("%s: %s", scenario.Name, e)
	}

	data, err := Snapshot(scenario, result)
	if err != nil {
		t.Fatalf("snapshot %s: %v", scenario.Name, err)
	}
	g := goldie.New(t,
		goldie.WithFixtureDir(GoldenDir),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, data)
	return result
}
