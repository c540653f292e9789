package harness

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunWithGolden_DashboardCreateProduct(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/dashboard_create_product.yaml")
	require.NoError(t, err)

	// Regenerate with:
	//   go test ./internal/harness -run TestRunWithGolden -update
	result, err := RunWithGolden(t, scenario)
	require.NoError(t, err)
	require.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestSnapshot_CanonicalKeyOrder(t *testing.T) {
	result := NewResult()
	result.Trace = append(result.Trace, TraceEvent{
		Step:     0,
		Kind:     StepPush,
		Outcome:  OutcomeOK,
		Affected: []string{"global/cart_1"},
	})

	snapshot, err := Snapshot("tiny", result)
	require.NoError(t, err)
	require.Equal(t,
		`{"scenario_name":"tiny","trace":[{"affected":["global/cart_1"],"kind":"push","outcome":"ok","step":0}]}`,
		string(snapshot))
}
