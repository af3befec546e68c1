package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/wem-technology/ios-webxr-sub000/internal/recorder"
)

// ErrNotFound is returned when a named row does not exist.
var ErrNotFound = errors.New("not found")

// RecordingInfo summarizes a saved recording.
type RecordingInfo struct {
	Name       string
	Frames     int
	DurationMs float64
	CreatedAt  int64
}

// SaveRecording stores rec under name, replacing any previous recording with
// that name.
func (s *Store) SaveRecording(ctx context.Context, name string, rec *recorder.Recording) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal recording: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO recordings (name, data, frames, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			data = excluded.data,
			frames = excluded.frames,
			duration_ms = excluded.duration_ms,
			created_at = excluded.created_at
	`, NormalizeID(name), string(data), len(rec.Frames), rec.Duration(), s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save recording %q: %w", name, err)
	}
	return nil
}

// LoadRecording reads the recording saved under name.
func (s *Store) LoadRecording(ctx context.Context, name string) (*recorder.Recording, error) {
	var data string
	err := s.db.QueryRowContext(ctx, "SELECT data FROM recordings WHERE name = ?", NormalizeID(name)).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("recording %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load recording %q: %w", name, err)
	}

	var rec recorder.Recording
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal recording %q: %w", name, err)
	}
	return &rec, nil
}

// ListRecordings returns saved recordings ordered by name.
func (s *Store) ListRecordings(ctx context.Context) ([]RecordingInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, frames, duration_ms, created_at
		FROM recordings
		ORDER BY name COLLATE BINARY
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query recordings: %w", err)
	}
	defer rows.Close()

	var infos []RecordingInfo
	for rows.Next() {
		var info RecordingInfo
		if err := rows.Scan(&info.Name, &info.Frames, &info.DurationMs, &info.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan recording: %w", err)
		}
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate recordings: %w", err)
	}
	return infos, nil
}
