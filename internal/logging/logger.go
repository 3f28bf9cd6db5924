// Package logging is eventgate's slog setup. Every line logged with a
// request or pipeline context carries that context's correlation id, so a
// single submission can be followed from the front door through the
// validate, store and record_metrics steps and into the dead letter queue.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/telhawk-systems/eventgate/internal/middleware"
)

type Logger struct {
	*slog.Logger
}

// New logs to stdout. Any format other than "text" selects JSON.
func New(level slog.Level, format string) *Logger {
	return NewWithWriter(os.Stdout, level, format)
}

// NewWithWriter is New with an explicit sink; the CLI passes stderr so that
// command output on stdout stays machine readable.
func NewWithWriter(w io.Writer, level slog.Level, format string) *Logger {
	opts := &slog.HandlerOptions{Level: level, AddSource: level <= slog.LevelError}
	if format == "text" {
		return &Logger{Logger: slog.New(slog.NewTextHandler(w, opts))}
	}
	return &Logger{Logger: slog.New(slog.NewJSONHandler(w, opts))}
}

// Default wraps slog.Default, which the CLI points at the configured logger.
func Default() *Logger {
	return &Logger{Logger: slog.Default()}
}

// Discard drops everything.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func SetDefault(l *Logger) {
	slog.SetDefault(l.Logger)
}

// WithContext tags the logger with the correlation id stored in ctx.
func (l *Logger) WithContext(ctx context.Context) *slog.Logger {
	id := middleware.GetCorrelationID(ctx)
	if id == "" {
		return l.Logger
	}
	return l.Logger.With(CorrelationID(id))
}

func (l *Logger) log(ctx context.Context, level slog.Level, msg string, args []any) {
	l.WithContext(ctx).Log(ctx, level, msg, args...)
}

func (l *Logger) DebugContext(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelDebug, msg, args)
}

func (l *Logger) InfoContext(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelInfo, msg, args)
}

func (l *Logger) WarnContext(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelWarn, msg, args)
}

func (l *Logger) ErrorContext(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelError, msg, args)
}

// With keeps the *Logger type so components can add their own fields
// (service, policy, step) and still log with a context.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// ParseLevel maps logging.level to a slog level. Matching ignores case and
// accepts "warning"; anything unknown is info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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
