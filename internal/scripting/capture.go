package scripting

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Stream identifies the console channel a line was written to.
type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
)

// Line is a single console line emitted by a script.
type Line struct {
	Time   time.Time  `json:"-"`
	Stream Stream     `json:"stream"`
	Level  slog.Level `json:"level"`
	Text   string     `json:"text"`
}

// Sink receives console output from a runtime. Implementations must be safe
// for use from the event loop goroutine while being read from another.
type Sink interface {
	Emit(line Line)
}

// streamFor maps console levels onto the channel node would use.
func streamFor(level slog.Level) Stream {
	if level >= slog.LevelWarn {
		return StreamStderr
	}
	return StreamStdout
}

// CaptureHandler is a slog.Handler that records every console line in
// emission order, optionally forwarding each one to per-stream writers.
type CaptureHandler struct {
	mu      sync.RWMutex
	lines   []Line
	stdout  io.Writer
	stderr  io.Writer
	forward bool
}

// NewCapture creates a capture that only records.
func NewCapture() *CaptureHandler {
	return &CaptureHandler{}
}

// NewForwardingCapture records lines and also writes them to stdout or
// stderr depending on their stream. Either writer may be nil.
func NewForwardingCapture(stdout, stderr io.Writer) *CaptureHandler {
	return &CaptureHandler{stdout: stdout, stderr: stderr, forward: true}
}

// Logger returns a slog.Logger writing into this capture.
func (h *CaptureHandler) Logger() *slog.Logger {
	return slog.New(h)
}

// Emit implements Sink.
func (h *CaptureHandler) Emit(line Line) {
	if line.Stream == "" {
		line.Stream = streamFor(line.Level)
	}
	if line.Time.IsZero() {
		line.Time = time.Now()
	}

	h.mu.Lock()
	h.lines = append(h.lines, line)
	var w io.Writer
	if h.forward {
		if line.Stream == StreamStderr {
			w = h.stderr
		} else {
			w = h.stdout
		}
	}
	h.mu.Unlock()

	if w != nil {
		text := line.Text
		if !strings.HasSuffix(text, "\n") {
			text += "\n"
		}
		_, _ = io.WriteString(w, text)
	}
}

// Enabled implements slog.Handler.
func (h *CaptureHandler) Enabled(context.Context, slog.Level) bool {
	return true
}

// Handle implements slog.Handler. The "stream" attribute, when present,
// overrides the stream derived from the level.
func (h *CaptureHandler) Handle(_ context.Context, record slog.Record) error {
	line := Line{
		Time:  record.Time,
		Level: record.Level,
		Text:  record.Message,
	}
	record.Attrs(func(attr slog.Attr) bool {
		if attr.Key == "stream" {
			line.Stream = Stream(attr.Value.String())
			return false
		}
		return true
	})
	h.Emit(line)
	return nil
}

// WithAttrs implements slog.Handler. Attributes are not retained.
func (h *CaptureHandler) WithAttrs([]slog.Attr) slog.Handler {
	return h
}

// WithGroup implements slog.Handler.
func (h *CaptureHandler) WithGroup(string) slog.Handler {
	return h
}

// Lines returns a copy of the captured lines.
func (h *CaptureHandler) Lines() []Line {
	h.mu.RLock()
	defer h.mu.RUnlock()
	lines := make([]Line, len(h.lines))
	copy(lines, h.lines)
	return lines
}

// Len returns the number of captured lines.
func (h *CaptureHandler) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.lines)
}

// Reset discards all captured lines.
func (h *CaptureHandler) Reset() {
	h.mu.Lock()
	h.lines = nil
	h.mu.Unlock()
}

var (
	_ Sink         = (*CaptureHandler)(nil)
	_ slog.Handler = (*CaptureHandler)(nil)
)
