package profile

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wem-technology/ios-webxr-sub000/internal/device"
)

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device.cue")
	require.NoError(t, os.WriteFile(path, []byte(minimalVR), 0o644))

	changes := make(chan device.Config, 4)
	w, err := NewWatcher(path, func(cfg device.Config) { changes <- cfg }, 10*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	// A broken edit is ignored.
	require.NoError(t, os.WriteFile(path, []byte("name: 42"), 0o644))
	select {
	case cfg := <-changes:
		t.Fatalf("unexpected reload to %q", cfg.Name)
	case <-time.After(200 * time.Millisecond):
	}

	updated := strings.Replace(minimalVR, `"test-vr"`, `"test-vr-2"`, 1)
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	select {
	case cfg := <-changes:
		assert.Equal(t, "test-vr-2", cfg.Name)
	case <-time.After(5 * time.Second):
		t.Fatal("profile change not delivered")
	}
}

func TestWatcher_IgnoresSiblings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "device.cue")
	require.NoError(t, os.WriteFile(path, []byte(minimalVR), 0o644))

	changes := make(chan device.Config, 1)
	w, err := NewWatcher(path, func(cfg device.Config) { changes <- cfg }, 10*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.cue"), []byte(minimalVR), 0o644))
	select {
	case <-changes:
		t.Fatal("sibling change triggered a reload")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcher_StopEndsLoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device.cue")
	require.NoError(t, os.WriteFile(path, []byte(minimalVR), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w, err := NewWatcher(path, nil, 0)
	require.NoError(t, err)
	require.NoError(t, w.Start(ctx))
	require.NoError(t, w.Start(ctx), "second start is a no-op")

	w.Stop()
	w.Stop()
}
