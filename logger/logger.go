// Package logger provides structured logging for the bmpow engine and its
// service binaries.
//
// It wraps log/slog with a process-wide default logger, selectable output
// formats (text, color, JSON), and context propagation so request-scoped
// loggers flow through the job pool and API handlers.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"

	"bmpow/config"
)

// Process-wide logger, swapped atomically so hot-reloaded configuration can
// replace it while other goroutines are logging.
var globalLogger atomic.Pointer[slog.Logger]

// Config selects the level and output format of a logger.
type Config struct {
	Level   string // debug, info, warn, error
	Format  string // text, color, json
	Quiet   bool   // errors only, overrides Level
	Verbose bool   // debug, overrides Level and Quiet
	Output  io.Writer
}

// Get returns the global logger, initializing it with defaults on first use.
func Get() *slog.Logger {
	logger := globalLogger.Load()
	if logger == nil {
		SetDefault()
		logger = globalLogger.Load()
	}
	return logger
}

// Set atomically replaces the global logger.
func Set(logger *slog.Logger) {
	globalLogger.Store(logger)
}

// SetDefault installs an info-level text logger writing to stderr.
func SetDefault() {
	Set(New(Config{Level: "info", Format: "text", Output: os.Stderr}))
}

// New creates a logger from the given configuration.
func New(cfg Config) *slog.Logger {
	return slog.New(newHandler(cfg.Format, parseLevel(cfg), cfg.Output))
}

// NewFromServerConfig creates a logger from the server logging section.
func NewFromServerConfig(cfg *config.ServerConfig) *slog.Logger {
	return New(Config{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		Quiet:   cfg.Logging.Quiet,
		Verbose: cfg.Logging.Verbose,
		Output:  os.Stderr,
	})
}

// NewFromClientConfig creates a logger from the client logging section.
func NewFromClientConfig(cfg *config.ClientConfig) *slog.Logger {
	return New(Config{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		Quiet:   cfg.Logging.Quiet,
		Verbose: cfg.Logging.Verbose,
		Output:  os.Stderr,
	})
}

func parseLevel(cfg Config) slog.Level {
	if cfg.Verbose {
		return slog.LevelDebug
	}
	if cfg.Quiet {
		return slog.LevelError
	}

	switch strings.ToLower(cfg.Level) {
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

// Debug logs a debug message through the global logger.
func Debug(msg string, args ...any) {
	Get().Debug(msg, args...)
}

// Info logs an informational message through the global logger.
func Info(msg string, args ...any) {
	Get().Info(msg, args...)
}

// Warn logs a warning through the global logger.
func Warn(msg string, args ...any) {
	Get().Warn(msg, args...)
}

// Error logs an error through the global logger.
func Error(msg string, args ...any) {
	Get().Error(msg, args...)
}
