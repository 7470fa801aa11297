// Package logger provides structured logging for token-rollup.
//
// Every component receives a Logger and derives a child with
// With("component", name), so scan, commit and query lines can be
// filtered per subsystem in both text and JSON output.
//
// Example usage:
//
//	log, closer, err := logger.Open(logger.Config{
//	    Level:  "info",
//	    Output: "/var/log/token-rollup.log",
//	    Format: "json",
//	})
//	if err != nil {
//	    return err
//	}
//	defer closer.Close()
//
//	scanLog := log.With("component", "scanner")
//	scanLog.Info("file committed", "path", path, "offset", offset)
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger provides structured logging with levels and fields.
type Logger interface {
	// Debug logs a debug message with optional key-value pairs.
	Debug(msg string, keysAndValues ...interface{})

	// Info logs an informational message with optional key-value pairs.
	Info(msg string, keysAndValues ...interface{})

	// Warn logs a warning message with optional key-value pairs.
	Warn(msg string, keysAndValues ...interface{})

	// Error logs an error message with optional key-value pairs.
	Error(msg string, keysAndValues ...interface{})

	// With returns a new logger with additional context fields.
	With(keysAndValues ...interface{}) Logger
}

// Config contains logger configuration.
type Config struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string

	// Output is the destination (stdout, stderr, or file path).
	Output string

	// Format is the output format (text, json).
	Format string

	// AddSource annotates records with the calling file and line.
	AddSource bool
}

type logger struct {
	slogger *slog.Logger
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Open creates a logger and returns the closer for its output.
//
// Unlike New, Open fails when a file output cannot be opened, which is
// what long-running processes want: a daemon that silently logs to
// stderr after a typo in its config is hard to debug.
//
// The returned closer is a no-op for stdout and stderr.
func Open(cfg Config) (Logger, io.Closer, error) {
	writer, closer, err := openWriter(cfg.Output)
	if err != nil {
		return nil, nil, err
	}
	return newWithWriter(cfg, writer), closer, nil
}

// New creates a new logger with the given configuration.
//
// If the output cannot be opened, the logger falls back to stderr.
func New(cfg Config) Logger {
	writer, _, err := openWriter(cfg.Output)
	if err != nil {
		writer = os.Stderr
	}
	return newWithWriter(cfg, writer)
}

// NewWriter creates a logger that writes to w. Tests use it to capture
// log output.
func NewWriter(w io.Writer, cfg Config) Logger {
	return newWithWriter(cfg, w)
}

func newWithWriter(cfg Config, w io.Writer) Logger {
	opts := &slog.HandlerOptions{
		Level:     ParseLevel(cfg.Level),
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}

	return &logger{slogger: slog.New(handler)}
}

// Debug implements Logger.Debug.
func (l *logger) Debug(msg string, keysAndValues ...interface{}) {
	l.slogger.Debug(msg, keysAndValues...)
}

// Info implements Logger.Info.
func (l *logger) Info(msg string, keysAndValues ...interface{}) {
	l.slogger.Info(msg, keysAndValues...)
}

// Warn implements Logger.Warn.
func (l *logger) Warn(msg string, keysAndValues ...interface{}) {
	l.slogger.Warn(msg, keysAndValues...)
}

// Error implements Logger.Error.
func (l *logger) Error(msg string, keysAndValues ...interface{}) {
	l.slogger.Error(msg, keysAndValues...)
}

// With implements Logger.With.
func (l *logger) With(keysAndValues ...interface{}) Logger {
	return &logger{slogger: l.slogger.With(keysAndValues...)}
}

// ParseLevel converts a string log level to slog.Level.
//
// Supported levels: debug, info, warn, error. Unrecognized levels map
// to info.
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

// openWriter resolves an output destination.
//
// Supported destinations:
//   - "stdout": standard output
//   - "stderr" or "": standard error
//   - anything else: a file opened for appending (created with 0600)
func openWriter(output string) (io.Writer, io.Closer, error) {
	switch strings.ToLower(output) {
	case "stdout":
		return os.Stdout, nopCloser{}, nil
	case "stderr", "":
		return os.Stderr, nopCloser{}, nil
	}

	// #nosec G304: output path comes from trusted config
	f, err := os.OpenFile(output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600) // nolint:gosec
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file %s: %w", output, err)
	}
	return f, f, nil
}

// Default returns an info-level text logger on stderr.
func Default() Logger {
	return New(Config{
		Level:  "info",
		Output: "stderr",
		Format: "text",
	})
}

// Noop returns a logger that discards all log messages.
func Noop() Logger {
	return &logger{
		slogger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}
