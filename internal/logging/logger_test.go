package logging

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"info", slog.LevelInfo},
		{"DEBUG", slog.LevelDebug},
		{"trace", LevelTrace},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.in), tt.in)
	}
}

func TestNewLogger_LabelsTrace(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger("trace", &buf)
	l.Log(context.Background(), LevelTrace, "tick", "seq", 1)

	assert.Contains(t, buf.String(), "level=TRACE")
	assert.Contains(t, buf.String(), "seq=1")
}

func TestNewLogger_FiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger("info", &buf)
	l.Debug("hidden")
	l.Info("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestFrameTracer_NilBelowTrace(t *testing.T) {
	dir := t.TempDir()
	tr := NewFrameTracer(dir, "debug")
	assert.Nil(t, tr)
	tr.Log(map[string]any{"seq": 1})
	tr.Close()

	_, err := os.Stat(filepath.Join(dir, "frames.jsonl"))
	assert.True(t, os.IsNotExist(err))
}

func TestFrameTracer_WritesJSONL(t *testing.T) {
	dir := t.TempDir()
	tr := NewFrameTracer(dir, "trace")
	require.NotNil(t, tr)
	tr.Log(map[string]any{"seq": 1})
	tr.Log(map[string]any{"seq": 2})
	tr.Close()
	tr.Log(map[string]any{"seq": 3})

	f, err := os.Open(filepath.Join(dir, "frames.jsonl"))
	require.NoError(t, err)
	defer f.Close()

	var seqs []float64
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		seqs = append(seqs, rec["seq"].(float64))
	}
	assert.Equal(t, []float64{1, 2}, seqs)
}
