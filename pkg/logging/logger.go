// Package logging wraps log/slog with the field names used across nornicsom.
//
// Every component takes a *Logger. Construct one from configuration with
// New, or use NoopLogger in tests. Helpers attach the attributes that make
// SOM logs searchable: session, backend, grid shape.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Logger wraps slog.Logger with nornicsom-specific helpers.
type Logger struct {
	*slog.Logger
}

// Options selects the handler built by New.
type Options struct {
	// Level is debug, info, warn or error.
	Level string
	// Format is text or json.
	Format string
	// Output is stderr, stdout or a file path.
	Output string
}

// New builds a Logger from options. Unknown levels fall back to info and
// unknown formats to text.
func New(opts Options) (*Logger, error) {
	w, err := openOutput(opts.Output)
	if err != nil {
		return nil, err
	}
	return NewWithWriter(w, opts), nil
}

// NewWithWriter builds a Logger writing to w.
func NewWithWriter(w io.Writer, opts Options) *Logger {
	handlerOpts := &slog.HandlerOptions{Level: ParseLevel(opts.Level)}
	var handler slog.Handler
	if strings.EqualFold(opts.Format, "json") {
		handler = slog.NewJSONHandler(w, handlerOpts)
	} else {
		handler = slog.NewTextHandler(w, handlerOpts)
	}
	return &Logger{Logger: slog.New(handler)}
}

// NewLogger creates a Logger with the given handler.
// If handler is nil, uses a text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{Logger: slog.New(handler)}
}

// NoopLogger creates a Logger that discards all output.
func NoopLogger() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.Level(1000),
	}))}
}

// ParseLevel maps a level name to slog.Level.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func openOutput(output string) (io.Writer, error) {
	switch strings.ToLower(output) {
	case "", "stderr":
		return os.Stderr, nil
	case "stdout":
		return os.Stdout, nil
	}
	f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logging: open %s: %w", output, err)
	}
	return f, nil
}

// OrNoop returns l, or a discarding logger when l is nil.
func OrNoop(l *Logger) *Logger {
	if l == nil {
		return NoopLogger()
	}
	return l
}

// WithSession tags records with a device session.
func (l *Logger) WithSession(id, backend string) *Logger {
	return &Logger{Logger: l.Logger.With("session", id, "backend", backend)}
}

// WithGrid tags records with a grid shape.
func (l *Logger) WithGrid(width, height, dimension int) *Logger {
	return &Logger{Logger: l.Logger.With("width", width, "height", height, "dimension", dimension)}
}

// WithComponent tags records with the emitting component.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{Logger: l.Logger.With("component", name)}
}

// LogDeviceError logs a failed device operation.
func (l *Logger) LogDeviceError(ctx context.Context, op string, err error) {
	l.ErrorContext(ctx, "device operation failed",
		"op", op,
		"error", err,
	)
}

// LogTransition logs a lifecycle state change.
func (l *Logger) LogTransition(ctx context.Context, from, to string) {
	l.DebugContext(ctx, "state transition",
		"from", from,
		"to", to,
	)
}

// LogEpoch logs one completed training epoch.
func (l *Logger) LogEpoch(ctx context.Context, epoch, samples int, elapsed time.Duration, quantErr float64) {
	l.InfoContext(ctx, "epoch completed",
		"epoch", epoch,
		"samples", samples,
		"elapsed", elapsed,
		"quantization_error", quantErr,
	)
}
