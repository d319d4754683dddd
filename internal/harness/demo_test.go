package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scenarioDir holds the checked-in scenarios, shared with the CLI.
const scenarioDir = "../../testdata/scenarios"

// TestScenarios runs every checked-in scenario. Those with a golden file
// also have their request log pinned.
func TestScenarios(t *testing.T) {
	tests := []struct {
		name   string
		golden bool
	}{
		{"scenario_a_cursor_walk", true},
		{"scenario_b_required_revert", true},
		{"scenario_c_stale_search", false}, // journal order depends on response timing
		{"scenario_d_debounced_patch", true},
		{"create_then_update", true},
		{"update_failure_revert", true},
		{"undo_delete", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scenario, err := LoadScenario(filepath.Join(scenarioDir, tt.name+".yaml"))
			require.NoError(t, err)
			assert.Equal(t, tt.name, scenario.Name, "scenario name mismatch")

			var result *Result
			if tt.golden {
				result, err = RunWithGolden(t, scenario)
			} else {
				result, err = Run(scenario)
			}
			require.NoError(t, err)
			assert.True(t, result.Pass, "scenario should pass, errors: %v", result.Errors)
		})
	}
}

func TestScenarioGlob(t *testing.T) {
	matches, err := filepath.Glob(filepath.Join(scenarioDir, "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, matches)

	for _, path := range matches {
		_, err := LoadScenario(path)
		assert.NoError(t, err, path)
	}
}
