// Package logging sets up the slog logger shared by the botlink binaries.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Level is a user-facing log level name.
type Level string

const (
	LevelError Level = "error"
	LevelWarn  Level = "warn"
	LevelInfo  Level = "info"
	LevelDebug Level = "debug"
)

// Parse converts a string to a Level.
func Parse(level string) (Level, error) {
	switch strings.ToLower(level) {
	case "error":
		return LevelError, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "info":
		return LevelInfo, nil
	case "debug":
		return LevelDebug, nil
	default:
		return "", fmt.Errorf("invalid log level: %s (must be error, warn, info, or debug)", level)
	}
}

func (l Level) slog() slog.Level {
	switch l {
	case LevelError:
		return slog.LevelError
	case LevelWarn:
		return slog.LevelWarn
	case LevelDebug:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// Options select where the log goes.
type Options struct {
	// Writer replaces stderr as the console output. A nil Writer means
	// stderr.
	Writer io.Writer
	// Text forces the text handler on Writer.
	Text bool
	// File, if set, also receives every record as JSON, rotated at
	// MaxSizeMB keeping MaxBackups old files.
	File       string
	MaxSizeMB  int
	MaxBackups int
}

// Logger is a configured slog.Logger plus whatever it must close on exit.
type Logger struct {
	*slog.Logger
	file *lumberjack.Logger
}

// New builds the logger. Console output is text when it goes to a
// terminal or Text is set, and JSON otherwise.
func New(level Level, opts Options) *Logger {
	hopts := &slog.HandlerOptions{Level: level.slog()}

	console := opts.Writer
	text := opts.Text
	if console == nil {
		console = os.Stderr
		text = term.IsTerminal(int(os.Stderr.Fd()))
	}

	var handler slog.Handler
	if text {
		handler = slog.NewTextHandler(console, hopts)
	} else {
		handler = slog.NewJSONHandler(console, hopts)
	}

	l := &Logger{}
	if opts.File != "" {
		l.file = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
		}
		handler = fanout{handler, slog.NewJSONHandler(l.file, hopts)}
	}
	l.Logger = slog.New(handler)
	return l
}

// Close flushes and closes the log file, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// fanout passes every record to each of its handlers.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var first error
	for _, h := range f {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}
