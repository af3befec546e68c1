package store

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/text/unicode/norm"

	"github.com/wem-technology/ios-webxr-sub000/internal/xmath"
)

// NormalizeID returns the NFC form of an anchor id.
func NormalizeID(id string) string {
	return norm.NFC.String(id)
}

func encodeMatrix(m xmath.Mat4) (string, error) {
	data, err := json.Marshal(xmath.ToArray(m))
	if err != nil {
		return "", fmt.Errorf("failed to marshal matrix: %w", err)
	}
	return string(data), nil
}

func decodeMatrix(data []byte) (xmath.Mat4, error) {
	var vals []float64
	if err := json.Unmarshal(data, &vals); err != nil {
		return xmath.Mat4{}, fmt.Errorf("failed to unmarshal matrix: %w", err)
	}
	m, ok := xmath.FromSlice(vals)
	if !ok {
		return xmath.Mat4{}, fmt.Errorf("matrix has %d elements, want 16", len(vals))
	}
	return m, nil
}

// SaveAnchors replaces the stored anchor set with anchors in one transaction.
func (s *Store) SaveAnchors(ctx context.Context, anchors map[string]xmath.Mat4) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	seq, err := nextSeq(ctx, tx)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM anchors"); err != nil {
		return fmt.Errorf("failed to clear anchors: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO anchors (id, matrix, updated_seq) VALUES (?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare anchor insert: %w", err)
	}
	defer stmt.Close()

	for id, m := range anchors {
		matrix, err := encodeMatrix(m)
		if err != nil {
			return fmt.Errorf("anchor %q: %w", id, err)
		}
		if _, err := stmt.ExecContext(ctx, NormalizeID(id), matrix, seq); err != nil {
			return fmt.Errorf("failed to insert anchor %q: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit anchors: %w", err)
	}
	return nil
}

// LoadAnchors reads the full anchor set.
func (s *Store) LoadAnchors(ctx context.Context) (map[string]xmath.Mat4, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, matrix FROM anchors ORDER BY id COLLATE BINARY")
	if err != nil {
		return nil, fmt.Errorf("failed to query anchors: %w", err)
	}
	defer rows.Close()

	anchors := make(map[string]xmath.Mat4)
	for rows.Next() {
		var id, matrix string
		if err := rows.Scan(&id, &matrix); err != nil {
			return nil, fmt.Errorf("failed to scan anchor: %w", err)
		}
		m, err := decodeMatrix([]byte(matrix))
		if err != nil {
			return nil, fmt.Errorf("anchor %q: %w", id, err)
		}
		anchors[id] = m
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate anchors: %w", err)
	}
	return anchors, nil
}

// AnchorIDs returns the stored anchor ids in binary order.
func (s *Store) AnchorIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM anchors ORDER BY id COLLATE BINARY")
	if err != nil {
		return nil, fmt.Errorf("failed to query anchor ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan anchor id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteAnchor removes one anchor. Reports whether it existed.
func (s *Store) DeleteAnchor(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM anchors WHERE id = ?", NormalizeID(id))
	if err != nil {
		return false, fmt.Errorf("failed to delete anchor %q: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}
