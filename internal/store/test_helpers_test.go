package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/wem-technology/ios-webxr-sub000/internal/recorder"
	"github.com/wem-technology/ios-webxr-sub000/internal/xmath"
)

// createTestStore opens a fresh database under t.TempDir with a fixed clock.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	s.now = func() time.Time { return time.UnixMilli(1_700_000_000_000) }
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestRecording returns a two-frame head-only recording.
func createTestRecording() *recorder.Recording {
	return &recorder.Recording{
		Frames: []recorder.Frame{
			{Timestamp: 0, Head: xmath.Transform{Position: xmath.Vec3{0, 1.6, 0}, Orientation: xmath.QuatIdentity()}},
			{Timestamp: 100, Head: xmath.Transform{Position: xmath.Vec3{0, 1.6, -1}, Orientation: xmath.QuatIdentity()}},
		},
	}
}
