// Package logging provides structured logging for the Warden agent.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Config holds logging configuration.
type Config struct {
	Level  string `yaml:"level" json:"level"`   // debug, info, warn, error
	Format string `yaml:"format" json:"format"` // json, text
	Output string `yaml:"output" json:"output"` // stdout, stderr, or file path
}

// DefaultConfig returns the default logging configuration.
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Format: "text",
		Output: "stderr",
	}
}

var (
	// level is shared by every handler Setup builds, so SetLevel takes
	// effect without reopening the output.
	level = new(slog.LevelVar)

	defaultLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	loggerMu      sync.RWMutex
)

// Setup installs a logger built from cfg as the process default.
// When cfg.Output names a file the opened file is returned and the caller
// owns it; for stdout and stderr the returned file is nil.
func Setup(cfg Config) (*os.File, error) {
	lvl, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	newHandler, err := handlerFor(cfg.Format)
	if err != nil {
		return nil, err
	}

	w, f, err := openOutput(cfg.Output)
	if err != nil {
		return nil, err
	}

	level.Set(lvl)
	logger := slog.New(newHandler(w, &slog.HandlerOptions{Level: level}))

	loggerMu.Lock()
	defaultLogger = logger
	loggerMu.Unlock()
	slog.SetDefault(logger)

	return f, nil
}

type handlerFunc func(io.Writer, *slog.HandlerOptions) slog.Handler

func handlerFor(format string) (handlerFunc, error) {
	switch strings.ToLower(format) {
	case "json":
		return func(w io.Writer, o *slog.HandlerOptions) slog.Handler { return slog.NewJSONHandler(w, o) }, nil
	case "text", "":
		return func(w io.Writer, o *slog.HandlerOptions) slog.Handler { return slog.NewTextHandler(w, o) }, nil
	default:
		return nil, fmt.Errorf("unknown log format: %s", format)
	}
}

// openOutput resolves an output name. Only a file path yields a non-nil
// *os.File.
func openOutput(output string) (io.Writer, *os.File, error) {
	switch strings.ToLower(output) {
	case "stderr", "":
		return os.Stderr, nil, nil
	case "stdout":
		return os.Stdout, nil, nil
	}

	if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
		return nil, nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	return f, f, nil
}

// ParseLevel converts a string log level to slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level: %s", s)
	}
}

// SetLevel changes the minimum level of the installed logger.
func SetLevel(l slog.Level) {
	level.Set(l)
}

// Level returns the current minimum level.
func Level() slog.Level {
	return level.Level()
}

// Default returns the default logger.
func Default() *slog.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return defaultLogger
}

// SetDefault replaces the default logger. Tests use it to capture output.
func SetDefault(logger *slog.Logger) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	defaultLogger = logger
}

// With returns a logger carrying args on every record.
func With(args ...any) *slog.Logger {
	return Default().With(args...)
}

// WithComponent tags records with the subsystem that produced them.
func WithComponent(component string) *slog.Logger {
	return With("component", component)
}

func Debug(msg string, args ...any) { Default().Debug(msg, args...) }
func Info(msg string, args ...any)  { Default().Info(msg, args...) }
func Warn(msg string, args ...any)  { Default().Warn(msg, args...) }
func Error(msg string, args ...any) { Default().Error(msg, args...) }
