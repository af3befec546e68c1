package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadScenario_ValidFile(t *testing.T) {
	dir := t.TempDir()
	scenarioPath := filepath.Join(dir, "test.yaml")

	content := `
name: test_scenario
description: "Test scenario for validation"
profile: standalone-vr
tick_rate: 90
features: [anchors]
steps:
  - tick: 2
  - pose:
      position: [0, 1.7, -0.5]
  - button: {hand: right, id: trigger, value: 1}
  - create_anchor: {name: a, position: [0, 0, -1]}
  - end: true
  - tick: 1
    expect_error: INVALID_STATE
assertions:
  - type: event_count
    event: end
    count: 1
`
	require.NoError(t, os.WriteFile(scenarioPath, []byte(content), 0644))

	scenario, err := LoadScenario(scenarioPath)
	require.NoError(t, err)

	assert.Equal(t, "test_scenario", scenario.Name)
	assert.Equal(t, "standalone-vr", scenario.Profile)
	assert.Equal(t, 90.0, scenario.TickRate)
	assert.Equal(t, []string{"anchors"}, scenario.Features)
	require.Len(t, scenario.Steps, 6)
	assert.Equal(t, "tick", scenario.Steps[0].Kind())
	assert.Equal(t, Vec{0, 1.7, -0.5}, scenario.Steps[1].Pose.Position)
	assert.Equal(t, "right", scenario.Steps[2].Button.Hand)
	assert.Equal(t, "a", scenario.Steps[3].CreateAnchor.Name)
	assert.Equal(t, "end", scenario.Steps[4].Kind())
	assert.Equal(t, "INVALID_STATE", scenario.Steps[5].ExpectError)
	require.Len(t, scenario.Assertions, 1)
	assert.Equal(t, AssertEventCount, scenario.Assertions[0].Type)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_Fixtures(t *testing.T) {
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
	const header = "name: x\ndescription: d\n"
	const okAssert = "assertions:\n  - type: anchors_tracked\n    count: 0\n"

	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "unknown field",
			yaml:    header + "stepz: []\n",
			wantErr: "failed to parse YAML",
		},
		{
			name:    "missing name",
			yaml:    "description: d\nsteps:\n  - tick: 1\n" + okAssert,
			wantErr: "name is required",
		},
		{
			name:    "missing description",
			yaml:    "name: x\nsteps:\n  - tick: 1\n" + okAssert,
			wantErr: "description is required",
		},
		{
			name:    "no steps",
			yaml:    header + okAssert,
			wantErr: "steps list is required",
		},
		{
			name:    "no assertions",
			yaml:    header + "steps:\n  - tick: 1\n",
			wantErr: "assertions list is required",
		},
		{
			name:    "unknown mode",
			yaml:    header + "mode: immersive-xr\nsteps:\n  - tick: 1\n" + okAssert,
			wantErr: `unknown session mode "immersive-xr"`,
		},
		{
			name:    "empty step",
			yaml:    header + "steps:\n  - expect_error: INVALID_STATE\n" + okAssert,
			wantErr: "steps[0]: no action",
		},
		{
			name:    "two actions",
			yaml:    header + "steps:\n  - tick: 1\n    end: true\n" + okAssert,
			wantErr: "steps[0]: one action per step",
		},
		{
			name:    "unknown error code",
			yaml:    header + "steps:\n  - end: true\n    expect_error: BOOM\n" + okAssert,
			wantErr: `steps[0]: unknown error code "BOOM"`,
		},
		{
			name:    "short orientation",
			yaml:    header + "steps:\n  - pose: {position: [0, 1, 0], orientation: [0, 0, 1]}\n" + okAssert,
			wantErr: "orientation needs 4 components",
		},
		{
			name:    "unknown input mode",
			yaml:    header + "steps:\n  - input_mode: gaze\n" + okAssert,
			wantErr: `unknown input mode "gaze"`,
		},
		{
			name:    "button without id",
			yaml:    header + "steps:\n  - button: {hand: left, value: 1}\n" + okAssert,
			wantErr: "hand and id are required",
		},
		{
			name:    "anchor without name",
			yaml:    header + "steps:\n  - create_anchor: {position: [0, 0, -1]}\n" + okAssert,
			wantErr: "create_anchor: name is required",
		},
		{
			name:    "unknown assertion",
			yaml:    header + "steps:\n  - tick: 1\nassertions:\n  - type: nope\n",
			wantErr: `unknown assertion type "nope"`,
		},
		{
			name:    "hit_count without source",
			yaml:    header + "steps:\n  - tick: 1\nassertions:\n  - type: hit_count\n    count: 1\n",
			wantErr: "source is required for hit_count",
		},
		{
			name:    "event_order without events",
			yaml:    header + "steps:\n  - tick: 1\nassertions:\n  - type: event_order\n",
			wantErr: "events list is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestStep_Kind(t *testing.T) {
	assert.Equal(t, "recenter", Step{Recenter: true}.Kind())
	assert.Equal(t, "frame_rate", Step{FrameRate: 90}.Kind())
	assert.Equal(t, "", Step{}.Kind())
	assert.Equal(t, "", Step{Tick: 1, End: true}.Kind())
}
