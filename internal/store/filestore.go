package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/wem-technology/ios-webxr-sub000/internal/xmath"
)

// FileStore keeps anchors in one JSON object of id to 16-element
// column-major matrix.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore returns a store backed by path. The file is created on the
// first save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file.
func (f *FileStore) Path() string { return f.path }

// LoadAnchors reads the whole file. A missing file is an empty set.
func (f *FileStore) LoadAnchors(ctx context.Context) (map[string]xmath.Mat4, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]xmath.Mat4{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read anchor file: %w", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse anchor file %s: %w", f.path, err)
	}
	anchors := make(map[string]xmath.Mat4, len(raw))
	for id, v := range raw {
		m, err := decodeMatrix(v)
		if err != nil {
			return nil, fmt.Errorf("anchor %q: %w", id, err)
		}
		anchors[id] = m
	}
	return anchors, nil
}

// SaveAnchors rewrites the file with anchors. The write goes through a
// temporary file in the same directory and a rename.
func (f *FileStore) SaveAnchors(ctx context.Context, anchors map[string]xmath.Mat4) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make(map[string][16]float64, len(anchors))
	for id, m := range anchors {
		out[NormalizeID(id)] = xmath.ToArray(m)
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal anchors: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create anchor directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".anchors-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write anchors: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("failed to replace anchor file: %w", err)
	}
	return nil
}
