package recorder

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"domkit-mcp-server/internal/config"

	"go.uber.org/zap"
)

// MaxRotatedFiles is how many rotated traces are kept next to the live file.
const MaxRotatedFiles = 3

// Event is one line of the trace.
type Event struct {
	Timestamp  time.Time   `json:"ts"`
	Type       string      `json:"type"`
	Tool       string      `json:"tool,omitempty"`
	SessionID  string      `json:"session_id,omitempty"`
	DurationMS int64       `json:"duration_ms,omitempty"`
	Error      string      `json:"error,omitempty"`
	Data       interface{} `json:"data,omitempty"`
}

// Event types.
const (
	TypeToolCall   = "tool_call"
	TypeToolResult = "tool_result"
)

// Recorder appends events to a JSONL file and rotates it by size.
// A nil *Recorder discards everything.
type Recorder struct {
	mu       sync.Mutex
	path     string
	maxBytes int64
	logger   *zap.Logger

	file    *os.File
	encoder *json.Encoder
	size    int64
}

// NewRecorder opens cfg.Path for appending. It returns nil, nil when
// recording is disabled.
func NewRecorder(cfg config.RecorderConfig, logger *zap.Logger) (*Recorder, error) {
	if !cfg.Enable {
		return nil, nil
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("recorder path is empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	r := &Recorder{
		path:     cfg.Path,
		maxBytes: cfg.MaxBytes,
		logger:   logger.Named("recorder"),
	}
	if err := r.open(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Recorder) open() error {
	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return err
	}
	r.file = f
	r.encoder = json.NewEncoder(countingWriter{r})
	r.size = info.Size()
	return nil
}

type countingWriter struct{ r *Recorder }

func (w countingWriter) Write(p []byte) (int, error) {
	n, err := w.r.file.Write(p)
	w.r.size += int64(n)
	return n, err
}

// Log writes an event, stamping it with the current time when unset.
func (r *Recorder) Log(evt Event) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.encoder == nil {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	if err := r.encoder.Encode(evt); err != nil {
		r.logger.Warn("trace write failed", zap.Error(err))
		return
	}
	if r.maxBytes > 0 && r.size >= r.maxBytes {
		if err := r.rotate(); err != nil {
			r.logger.Warn("trace rotation failed", zap.Error(err))
		}
	}
}

// rotate shifts path.N to path.N+1, dropping the oldest, and reopens path.
func (r *Recorder) rotate() error {
	if err := r.file.Close(); err != nil {
		return err
	}
	r.file, r.encoder = nil, nil

	_ = os.Remove(rotatedName(r.path, MaxRotatedFiles))
	for i := MaxRotatedFiles - 1; i >= 1; i-- {
		if err := os.Rename(rotatedName(r.path, i), rotatedName(r.path, i+1)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	if err := os.Rename(r.path, rotatedName(r.path, 1)); err != nil {
		return err
	}
	r.logger.Debug("trace rotated", zap.String("path", r.path))
	return r.open()
}

func rotatedName(path string, n int) string {
	return fmt.Sprintf("%s.%d", path, n)
}

// Files lists the live trace and its rotations that exist, newest first.
func (r *Recorder) Files() []string {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []string
	if _, err := os.Stat(r.path); err == nil {
		out = append(out, r.path)
	}
	for i := 1; i <= MaxRotatedFiles; i++ {
		if _, err := os.Stat(rotatedName(r.path, i)); err == nil {
			out = append(out, rotatedName(r.path, i))
		}
	}
	return out
}

// Close finishes the current trace file.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file != nil {
		err := r.file.Close()
		r.file = nil
		r.encoder = nil
		return err
	}
	return nil
}
