package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadScenario_ValidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.yaml")
	content := `
name: test_scenario
description: "Test scenario for validation"
steps:
  - push:
      as: user_1
      client_group: g1
      space: dashboard
      mutations:
        - { client: c1, id: 1, name: createStore, args: { id: store_1, name: Cups } }
    expect:
      outcome: ok
  - pull:
      client_group: g1
      space: marketplace
      cookie: none
    expect:
      clear: true
assertions:
  - type: last_mutation_ids
    clients: { c1: 1 }
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	scenario, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "test_scenario", scenario.Name)
	assert.Equal(t, "Test scenario for validation", scenario.Description)
	require.Len(t, scenario.Steps, 2)
	assert.Equal(t, StepPush, scenario.Steps[0].Kind())
	assert.Equal(t, StepPull, scenario.Steps[1].Kind())
	assert.Equal(t, "store_1", scenario.Steps[0].Push.Mutations[0].Args["id"])
	assert.Equal(t, int64(1), scenario.Steps[0].Push.Mutations[0].ID)
	assert.Equal(t, "none", scenario.Steps[1].Pull.Cookie)
	require.NotNil(t, scenario.Steps[1].Expect.Clear)
	assert.True(t, *scenario.Steps[1].Expect.Clear)
	assert.Equal(t, map[string]int64{"c1": 1}, scenario.Assertions[0].Clients)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario("/nonexistent/scenario.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_Testdata(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			_, err := LoadScenario(path)
			require.NoError(t, err)
		})
	}
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errMsg  string
	}{
		{
			name: "unknown field",
			content: `
name: typo
step:
  - pull: { client_group: g1, space: global }
`,
			errMsg: "failed to parse YAML",
		},
		{
			name: "missing name",
			content: `
steps:
  - pull: { client_group: g1, space: global }
`,
			errMsg: "name is required",
		},
		{
			name:    "no steps",
			content: `name: empty`,
			errMsg:  "steps list is required",
		},
		{
			name: "push and pull",
			content: `
name: both
steps:
  - push: { client_group: g1, space: global, mutations: [] }
    pull: { client_group: g1, space: global }
`,
			errMsg: "mutually exclusive",
		},
		{
			name: "empty step",
			content: `
name: neither
steps:
  - expect: { outcome: ok }
`,
			errMsg: "one of push or pull is required",
		},
		{
			name: "pull without group",
			content: `
name: nogroup
steps:
  - pull: { space: global }
`,
			errMsg: "client_group and space are required",
		},
		{
			name: "mutation without name",
			content: `
name: noname
steps:
  - push:
      client_group: g1
      space: global
      mutations:
        - { client: c1, id: 1 }
`,
			errMsg: "client and name are required",
		},
		{
			name: "bad cookie mode",
			content: `
name: cookie
steps:
  - pull: { client_group: g1, space: global, cookie: previous }
`,
			errMsg: "cookie must be last or none",
		},
		{
			name: "pull expectation on push",
			content: `
name: mixed
steps:
  - push: { client_group: g1, space: global, mutations: [] }
    expect: { puts: [cart_1] }
`,
			errMsg: "only outcome and affected apply to a push",
		},
		{
			name: "affected on pull",
			content: `
name: mixed
steps:
  - pull: { client_group: g1, space: global }
    expect: { affected: [global/cart_1] }
`,
			errMsg: "affected applies to a push only",
		},
		{
			name: "malformed affected",
			content: `
name: affected
steps:
  - push: { client_group: g1, space: global, mutations: [] }
    expect: { affected: [cart_1] }
`,
			errMsg: "is not space/subspace",
		},
		{
			name: "unknown assertion",
			content: `
name: assertion
steps:
  - pull: { client_group: g1, space: global }
assertions:
  - type: trace_contains
`,
			errMsg: "unknown assertion type",
		},
		{
			name: "final state without entities",
			content: `
name: assertion
steps:
  - pull: { client_group: g1, space: global }
assertions:
  - type: final_state
`,
			errMsg: "entities is required",
		},
		{
			name: "trace count without step",
			content: `
name: assertion
steps:
  - pull: { client_group: g1, space: global }
assertions:
  - type: trace_count
    count: 1
`,
			errMsg: "step must be push or pull",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}
