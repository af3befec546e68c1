package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Golden files are regenerated with:
//
//	go test ./internal/harness -run Golden -update

func TestRunWithGolden_SelectPress(t *testing.T) {
	require.NoError(t, RunWithGolden(t, loadFixture(t, "select_press")))
}

func TestRunWithGolden_SessionLifecycle(t *testing.T) {
	require.NoError(t, RunWithGolden(t, loadFixture(t, "session_lifecycle")))
}

func TestAssertGolden_ExistingResult(t *testing.T) {
	result, err := Run(loadFixture(t, "select_press"))
	require.NoError(t, err)
	require.NoError(t, AssertGolden(t, "select_press", result))
}

func TestTraceSnapshot_Marshal(t *testing.T) {
	s := TraceSnapshot{
		ScenarioName: "tiny",
		Trace: []TraceEvent{
			{Tick: 1, Type: TraceFrame, TimeMs: 20, Detail: map[string]any{"viewer": Vec{0, 1.6, 0}, "anchors": 0}},
		},
		State: FinalState{Session: "running", Viewer: Vec{0, 1.6, 0}},
	}
	data, err := s.Marshal()
	require.NoError(t, err)

	want := `{
  "scenario_name": "tiny",
  "trace": [
    {
      "tick": 1,
      "type": "frame",
      "time_ms": 20,
      "detail": {
        "anchors": 0,
        "viewer": [
          0,
          1.6,
          0
        ]
      }
    }
  ],
  "state": {
    "session": "running",
    "viewer": [
      0,
      1.6,
      0
    ],
    "tracked_anchors": 0
  }
}
`
	assert.Equal(t, want, string(data))
}
