package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// SlogLogger implements Logger on top of log/slog
type SlogLogger struct {
	logger *slog.Logger
	ctx    context.Context
}

// New creates a logger from the given configuration.
// The returned closer must be called when Output is "file".
func New(config LogConfig) (*SlogLogger, io.Closer, error) {
	var out io.Writer = os.Stderr
	var closer io.Closer = nopCloser{}

	if config.Output == "file" {
		if config.FilePath == "" {
			return nil, nil, fmt.Errorf("file_path is required when output is file")
		}
		if err := os.MkdirAll(filepath.Dir(config.FilePath), 0755); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(config.FilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		out = f
		closer = f
	}

	return NewWithWriter(out, config), closer, nil
}

// NewWithWriter creates a logger writing to w
func NewWithWriter(w io.Writer, config LogConfig) *SlogLogger {
	opts := &slog.HandlerOptions{
		Level:     ParseLevel(config.Level),
		AddSource: config.IncludeCaller,
	}

	var handler slog.Handler
	if strings.EqualFold(config.Format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return &SlogLogger{logger: slog.New(handler), ctx: context.Background()}
}

// Nop returns a logger that discards everything
func Nop() *SlogLogger {
	return &SlogLogger{
		logger: slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1})),
		ctx:    context.Background(),
	}
}

// ParseLevel maps a level name to a slog level, defaulting to info
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

func (l *SlogLogger) log(level slog.Level, msg string, fields []Field) {
	l.logger.LogAttrs(l.ctx, level, msg, attrs(fields)...)
}

// Debug logs a debug message
func (l *SlogLogger) Debug(msg string, fields ...Field) { l.log(slog.LevelDebug, msg, fields) }

// Info logs an info message
func (l *SlogLogger) Info(msg string, fields ...Field) { l.log(slog.LevelInfo, msg, fields) }

// Warn logs a warning message
func (l *SlogLogger) Warn(msg string, fields ...Field) { l.log(slog.LevelWarn, msg, fields) }

// Error logs an error message
func (l *SlogLogger) Error(msg string, fields ...Field) { l.log(slog.LevelError, msg, fields) }

// WithFields returns a new logger with the given fields
func (l *SlogLogger) WithFields(fields ...Field) Logger {
	args := make([]any, 0, len(fields))
	for _, a := range attrs(fields) {
		args = append(args, a)
	}
	return &SlogLogger{logger: l.logger.With(args...), ctx: l.ctx}
}

// WithContext returns a new logger with the given context
func (l *SlogLogger) WithContext(ctx context.Context) Logger {
	return &SlogLogger{logger: l.logger, ctx: ctx}
}

// LogPhase records follow phase transitions
func (l *SlogLogger) LogPhase(followID string, phase string, data map[string]interface{}) {
	fields := []Field{F("follow_id", followID), F("phase", phase)}
	for k, v := range data {
		fields = append(fields, F(k, v))
	}
	l.Info("follow phase", fields...)
}

// LogPoll records a single observation call against a remote service
func (l *SlogLogger) LogPoll(service string, operation string, elapsed time.Duration, err error) {
	fields := []Field{F("service", service), F("operation", operation), F("elapsed", elapsed)}
	if err != nil {
		l.Debug("poll failed", append(fields, Err(err))...)
		return
	}
	l.Debug("poll", fields...)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func attrs(fields []Field) []slog.Attr {
	out := make([]slog.Attr, 0, len(fields))
	for _, f := range fields {
		if err, ok := f.Value.(error); ok && err != nil {
			out = append(out, slog.String(f.Key, err.Error()))
			continue
		}
		out = append(out, slog.Any(f.Key, f.Value))
	}
	return out
}
