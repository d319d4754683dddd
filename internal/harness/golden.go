package harness

import (
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// Snapshot renders the parts of a result that golden files pin: the request
// log and the journal outcomes.
//
//	# scenario_d_debounced_patch
//	requests:
//	  GET /keyset limit=50
//	  PATCH /7 {"name":"AB","qty":7}
//	journal:
//	  fetch/ok
//	  update/ok
func Snapshot(name string, r *Result) []byte {
	var b strings.Builder
	b.WriteString("# " + name + "\n")
	b.WriteString("requests:\n")
	for _, line := range r.Requests {
		b.WriteString("  " + line + "\n")
	}
	b.WriteString("journal:\n")
	for _, line := range r.Journal {
		b.WriteString("  " + line + "\n")
	}
	return []byte(b.String())
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
	AssertGolden(t, scenario.Name, result)
	return result, nil
}

// AssertGolden compares an already computed result against its golden file.
func AssertGolden(t *testing.T, name string, result *Result) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, Snapshot(name, result))
}
