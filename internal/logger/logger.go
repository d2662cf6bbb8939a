// Package logger provides the process-wide structured logger: JSON lines
// into a rotating file, optionally mirrored as text to a console, with the
// most recent warnings and errors kept in memory for status reports.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Rotation settings for the log file.
const (
	maxFileMB    = 10
	maxBackups   = 3
	maxAgeDays   = 7
	keepProblems = 100
)

// LogEntry is a captured WARN or ERROR record.
type LogEntry struct {
	Time      time.Time  `json:"time"`
	Level     slog.Level `json:"level"`
	Message   string     `json:"message"`
	Component string     `json:"component,omitempty"`
}

// Format renders the entry on one line.
func (e LogEntry) Format() string {
	label := "WARN"
	if e.Level >= slog.LevelError {
		label = "ERROR"
	}
	prefix := e.Time.Format(time.TimeOnly) + " " + fmt.Sprintf("%-5s", label)
	if e.Component != "" {
		prefix += " [" + e.Component + "]"
	}
	return prefix + " " + e.Message
}

// problemLog keeps the last limit problems plus running totals.
type problemLog struct {
	limit int

	mu      sync.Mutex
	entries []LogEntry

	warns, errs atomic.Int64
}

func (p *problemLog) record(e LogEntry) {
	if e.Level >= slog.LevelError {
		p.errs.Add(1)
	} else {
		p.warns.Add(1)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.entries) == p.limit {
		copy(p.entries, p.entries[1:])
		p.entries = p.entries[:p.limit-1]
	}
	p.entries = append(p.entries, e)
}

// last returns up to n entries, oldest first. n <= 0 means all.
func (p *problemLog) last(n int) []LogEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n <= 0 || n > len(p.entries) {
		n = len(p.entries)
	}
	return append([]LogEntry(nil), p.entries[len(p.entries)-n:]...)
}

// captureHandler records WARN and ERROR entries before passing them on.
// The component attribute set through With is carried along.
type captureHandler struct {
	next      slog.Handler
	problems  *problemLog
	component string
}

func (h *captureHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *captureHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelWarn {
		h.problems.record(LogEntry{Time: r.Time, Level: r.Level, Message: r.Message, Component: h.component})
	}
	return h.next.Handle(ctx, r)
}

func (h *captureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.next = h.next.WithAttrs(attrs)
	for _, a := range attrs {
		if a.Key == "component" {
			c.component = a.Value.String()
		}
	}
	return &c
}

func (h *captureHandler) WithGroup(name string) slog.Handler {
	c := *h
	c.next = h.next.WithGroup(name)
	return &c
}

// teeHandler fans a record out to several handlers.
type teeHandler []slog.Handler

func (t teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range t {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (t teeHandler) Handle(ctx context.Context, r slog.Record) error {
	var first error
	for _, h := range t {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (t teeHandler) each(f func(slog.Handler) slog.Handler) teeHandler {
	out := make(teeHandler, len(t))
	for i, h := range t {
		out[i] = f(h)
	}
	return out
}

func (t teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return t.each(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (t teeHandler) WithGroup(name string) slog.Handler {
	return t.each(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

var (
	// Log is the process logger once InitLogger ran.
	Log *slog.Logger
	// LogPath is where Log writes.
	LogPath string

	rotator  *lumberjack.Logger
	problems *problemLog
	debug    bool
)

// LevelFromDebug maps the --debug flag to a level.
func LevelFromDebug(enabled bool) slog.Level {
	if enabled {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// DefaultLogPath is ~/.config/vperf/vperf.log, or the temp dir when there
// is no home.
func DefaultLogPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	return filepath.Join(home, ".config", "vperf", "vperf.log")
}

// InitLogger installs Log as the slog default. An empty logPath means
// DefaultLogPath; a non-nil console also receives text output.
func InitLogger(level slog.Level, logPath string, console io.Writer) {
	if logPath == "" {
		logPath = DefaultLogPath()
	}
	_ = os.MkdirAll(filepath.Dir(logPath), 0755)

	debug = level <= slog.LevelDebug
	LogPath = logPath
	rotator = &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    maxFileMB,
		MaxBackups: maxBackups,
		MaxAge:     maxAgeDays,
		Compress:   true,
	}

	opts := &slog.HandlerOptions{Level: level}
	var out slog.Handler = slog.NewJSONHandler(rotator, opts)
	if console != nil {
		out = teeHandler{out, slog.NewTextHandler(console, opts)}
	}

	problems = &problemLog{limit: keepProblems}
	Log = slog.New(&captureHandler{next: out, problems: problems})
	slog.SetDefault(Log)
}

// Close flushes and closes the log file.
func Close() {
	if rotator != nil {
		_ = rotator.Close()
	}
}

// With returns the process logger with args attached. Before InitLogger it
// derives from slog.Default.
func With(args ...any) *slog.Logger {
	if Log == nil {
		return slog.Default().With(args...)
	}
	return Log.With(args...)
}

// GetCounts returns the warning and error totals since InitLogger.
func GetCounts() (warn, err int) {
	if problems == nil {
		return 0, 0
	}
	return int(problems.warns.Load()), int(problems.errs.Load())
}

// Recent returns up to n of the latest WARN/ERROR entries, oldest first.
func Recent(n int) []LogEntry {
	if problems == nil {
		return nil
	}
	return problems.last(n)
}

// IsDebugEnabled reports whether InitLogger ran at debug level.
func IsDebugEnabled() bool {
	return debug
}
