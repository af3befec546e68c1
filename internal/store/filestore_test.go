package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wem-technology/ios-webxr-sub000/internal/xmath"
)

func TestFileStore_MissingFileIsEmpty(t *testing.T) {
	f := NewFileStore(filepath.Join(t.TempDir(), "anchors.json"))

	got, err := f.LoadAnchors(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFileStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "anchors.json")
	f := NewFileStore(path)

	pose := xmath.FromTranslation(xmath.Vec3{1, 2, 3})
	require.NoError(t, f.SaveAnchors(ctx, map[string]xmath.Mat4{"a": pose}))

	got, err := NewFileStore(path).LoadAnchors(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]xmath.Mat4{"a": pose}, got)
}

func TestFileStore_WireFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "anchors.json")
	f := NewFileStore(path)
	require.NoError(t, f.SaveAnchors(context.Background(), map[string]xmath.Mat4{
		"a": xmath.FromTranslation(xmath.Vec3{1, 2, 3}),
	}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var raw map[string][]float64
	require.NoError(t, json.Unmarshal(data, &raw))
	require.Len(t, raw["a"], 16)
	// Column-major: translation in elements 12..14.
	assert.Equal(t, []float64{1, 2, 3, 1}, raw["a"][12:])
}

func TestFileStore_SaveReplaces(t *testing.T) {
	ctx := context.Background()
	f := NewFileStore(filepath.Join(t.TempDir(), "anchors.json"))

	require.NoError(t, f.SaveAnchors(ctx, map[string]xmath.Mat4{"a": xmath.Identity()}))
	require.NoError(t, f.SaveAnchors(ctx, map[string]xmath.Mat4{"b": xmath.Identity()}))

	got, err := f.LoadAnchors(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]xmath.Mat4{"b": xmath.Identity()}, got)

	entries, err := os.ReadDir(filepath.Dir(f.Path()))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestFileStore_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "anchors.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"a": [1, 2]}`), 0o644))

	_, err := NewFileStore(path).LoadAnchors(context.Background())
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`not json`), 0o644))
	_, err = NewFileStore(path).LoadAnchors(context.Background())
	assert.Error(t, err)
}
