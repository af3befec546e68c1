package cli

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wem-technology/ios-webxr-sub000/internal/profile"
	"github.com/wem-technology/ios-webxr-sub000/internal/recorder"
	"github.com/wem-technology/ios-webxr-sub000/internal/xmath"
)

func walkRecording() *recorder.Recording {
	rec := &recorder.Recording{}
	for i := range 6 {
		head := xmath.IdentityTransform()
		head.Position = xmath.Vec3{0.1 * float64(i), 1.6, -0.05 * float64(i)}
		rec.Frames = append(rec.Frames, recorder.Frame{Timestamp: float64(i) * 20, Head: head})
	}
	return rec
}

func TestReplayCommand_ScenarioRecording(t *testing.T) {
	path := seededStore(t)

	cmd := NewReplayCommand(&RootOptions{Format: "json"})
	out, err := execute(t, cmd, "select_press", "--db", path, "--profile", "standalone-vr")
	require.NoError(t, err, out)

	var resp struct {
		Status string       `json:"status"`
		Data   ReplayResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	r := resp.Data
	assert.Equal(t, "select_press", r.Recording)
	assert.Equal(t, 3, r.Frames)
	assert.True(t, r.Faithful)
	assert.True(t, r.Deterministic)
	assert.Positive(t, r.Ticks)
}

func TestReplayCommand_Text(t *testing.T) {
	path := filepath.Join(t.TempDir(), "xrsim.db")
	seedRecording(t, path, "walk", walkRecording())

	cmd := NewReplayCommand(&RootOptions{Format: "text"})
	out, err := execute(t, cmd, "walk", "--db", path, "--profile", "standalone-vr")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Replay: walk (6 frames, 100 ms")
	assert.Contains(t, out, "✓ Viewer max error")
	assert.Contains(t, out, "✓ Deterministic")
}

func TestReplayCommand_NotFound(t *testing.T) {
	path := filepath.Join(t.TempDir(), "xrsim.db")
	cmd := NewReplayCommand(&RootOptions{Format: "text"})
	_, err := execute(t, cmd, "missing", "--db", path)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), `recording "missing" not found`)
}

func TestReplayCommand_BadProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "xrsim.db")
	seedRecording(t, path, "walk", walkRecording())

	cmd := NewReplayCommand(&RootOptions{Format: "text"})
	_, err := execute(t, cmd, "walk", "--db", path, "--profile", "no-such-device")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to load profile")
}

func TestVerifyReplay_Walk(t *testing.T) {
	c, err := profile.NewCompiler()
	require.NoError(t, err)
	cfg, err := c.Builtin("standalone-vr")
	require.NoError(t, err)

	result, err := verifyReplay(context.Background(), cfg, walkRecording(), 0, DefaultReplayTolerance)
	require.NoError(t, err)
	assert.True(t, result.Faithful, "max error %v", result.MaxError)
	assert.True(t, result.Deterministic)
	assert.Equal(t, 6, result.Frames)
	assert.InDelta(t, 100, result.DurationMs, 1e-9)
}

func TestReplayStep(t *testing.T) {
	rec := walkRecording()
	assert.InDelta(t, 20, replayStep(rec, 0), 1e-9)
	assert.InDelta(t, 10, replayStep(rec, 100), 1e-9)
	assert.InDelta(t, 1000.0/60, replayStep(&recorder.Recording{}, 0), 1e-9)
}

func TestReplayError_CatchesOneTickLag(t *testing.T) {
	rec := walkRecording()
	var times []float64
	var exact, lagged []xmath.Vec3
	for k, f := range rec.Frames {
		times = append(times, f.Timestamp)
		exact = append(exact, f.Head.Position)
		lagged = append(lagged, rec.Frames[max(k-1, 0)].Head.Position)
	}

	assert.InDelta(t, 0, replayError(rec, times, exact), 1e-12)
	assert.Greater(t, replayError(rec, times, lagged), DefaultReplayTolerance)
}

func TestReplayError_InterpolatesBetweenFrames(t *testing.T) {
	rec := walkRecording()
	mid := xmath.Vec3{0.05, 1.6, -0.025}
	assert.InDelta(t, 0, replayError(rec, []float64{10}, []xmath.Vec3{mid}), 1e-12)
	assert.InDelta(t, 0, replayError(rec, []float64{500}, []xmath.Vec3{rec.Frames[5].Head.Position}), 1e-12)
}

func TestVerifyReplay_OffsetTimestamps(t *testing.T) {
	c, err := profile.NewCompiler()
	require.NoError(t, err)
	cfg, err := c.Builtin("standalone-vr")
	require.NoError(t, err)

	rec := walkRecording()
	for i := range rec.Frames {
		rec.Frames[i].Timestamp += 1000
	}
	result, err := verifyReplay(context.Background(), cfg, rec, 100, DefaultReplayTolerance)
	require.NoError(t, err)
	assert.True(t, result.Faithful, "max error %v", result.MaxError)
	assert.Equal(t, 11, result.Ticks)
}
