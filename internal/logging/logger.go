// Package logging configures leveled slog output and the optional per-frame
// trace file.
//
// Two outputs:
//   - A leveled slog.Logger for stderr (operational output)
//   - A FrameTracer writing one JSONL line per scheduler tick
package logging

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// LevelTrace is a custom slog level below Debug for per-frame output.
const LevelTrace = slog.LevelDebug - 4

// ParseLevel maps "info", "debug" or "trace" (case-insensitive) to a level.
// Unknown values default to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "trace":
		return LevelTrace
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a leveled text logger writing to w.
func NewLogger(level string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: ParseLevel(level),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == LevelTrace {
					a.Value = slog.StringValue("TRACE")
				}
			}
			return a
		},
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Setup installs a logger for level on stderr as the slog default.
func Setup(level string) *slog.Logger {
	l := NewLogger(level, os.Stderr)
	slog.SetDefault(l)
	return l
}

// FrameTracer appends tick records to dir/frames.jsonl. A nil FrameTracer
// is safe to use; every method is a no-op on a nil receiver.
type FrameTracer struct {
	mu   sync.Mutex
	file *os.File
}

// NewFrameTracer opens the trace file when level is "trace" and returns nil
// otherwise, or when the file cannot be opened.
func NewFrameTracer(dir, level string) *FrameTracer {
	if ParseLevel(level) != LevelTrace {
		return nil
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil
	}
	f, err := os.OpenFile(filepath.Join(dir, "frames.jsonl"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil
	}
	return &FrameTracer{file: f}
}

// Log writes record as a single JSONL line.
func (t *FrameTracer) Log(record any) {
	if t == nil {
		return
	}
	data, err := json.Marshal(record)
	if err != nil {
		return
	}
	data = append(data, '\n')

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file == nil {
		return
	}
	_, _ = t.file.Write(data)
}

// Close closes the trace file.
func (t *FrameTracer) Close() {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file != nil {
		t.file.Close()
		t.file = nil
	}
}
