// Package logging provides structured logging for nfa-intent.
// It wraps the standard library slog package with project defaults
// and convenience functions.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// Level represents log levels
type Level = slog.Level

const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// Logger is the project structured logger
type Logger struct {
	*slog.Logger
	level  *slog.LevelVar
	output io.Writer
}

// Config holds logger configuration
type Config struct {
	// Level is the minimum log level
	Level Level

	// Output is the log output destination
	Output io.Writer

	// Format is the log format ("json" or "text")
	Format string

	// AddSource adds source file and line to log entries
	AddSource bool
}

// DefaultConfig returns default logger configuration
func DefaultConfig() *Config {
	return &Config{
		Level:     LevelInfo,
		Output:    os.Stderr,
		Format:    "text",
		AddSource: false,
	}
}

// ParseLevel maps a config string to a level, defaulting to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

var (
	defaultLogger *Logger
	mu            sync.Mutex
)

// New builds a logger without touching the process default.
func New(cfg *Config) *Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	levelVar := &slog.LevelVar{}
	levelVar.Set(cfg.Level)

	opts := &slog.HandlerOptions{
		Level:     levelVar,
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(cfg.Output, opts)
	} else {
		handler = slog.NewTextHandler(cfg.Output, opts)
	}

	return &Logger{
		Logger: slog.New(handler),
		level:  levelVar,
		output: cfg.Output,
	}
}

// Init initializes the default logger
func Init(cfg *Config) {
	l := New(cfg)

	mu.Lock()
	defaultLogger = l
	mu.Unlock()

	// Set as default slog logger
	slog.SetDefault(l.Logger)
}

// Default returns the default logger, initializing if necessary
func Default() *Logger {
	mu.Lock()
	defer mu.Unlock()
	if defaultLogger == nil {
		defaultLogger = New(nil)
	}
	return defaultLogger
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *Logger {
	return New(&Config{Level: LevelError, Output: io.Discard})
}

// SetLevel changes the log level at runtime
func (l *Logger) SetLevel(level Level) {
	l.level.Set(level)
}

// GetLevel returns the current log level
func (l *Logger) GetLevel() Level {
	return l.level.Level()
}

// WithComponent returns a logger with a component field
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With(ComponentKey, name),
		level:  l.level,
		output: l.output,
	}
}

// With returns a logger carrying the given attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		Logger: l.Logger.With(args...),
		level:  l.level,
		output: l.output,
	}
}

// =============================================================================
// Convenience Functions (use default logger)
// =============================================================================

// Debug logs at debug level
func Debug(msg string, args ...any) {
	Default().Debug(msg, args...)
}

// Info logs at info level
func Info(msg string, args ...any) {
	Default().Info(msg, args...)
}

// Warn logs at warn level
func Warn(msg string, args ...any) {
	Default().Warn(msg, args...)
}

// Error logs at error level
func Error(msg string, args ...any) {
	Default().Error(msg, args...)
}

// =============================================================================
// Specialized Loggers for Pipeline Components
// =============================================================================

// DatasetLogger returns a logger for loaders and splitting
func DatasetLogger() *Logger {
	return Default().WithComponent("dataset")
}

// BaselineLogger returns a logger for the boosted-tree pipeline
func BaselineLogger() *Logger {
	return Default().WithComponent("baseline")
}

// IntentLogger returns a logger for the transformer pipeline
func IntentLogger() *Logger {
	return Default().WithComponent("intent")
}

// IndexLogger returns a logger for the spec index
func IndexLogger() *Logger {
	return Default().WithComponent("specindex")
}

// =============================================================================
// Structured Field Helpers
// =============================================================================

// Err returns a log attribute for an error
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String("error", err.Error())
}

// Shape returns log attributes for a samples x features matrix.
func Shape(samples, features int) slog.Attr {
	return slog.Group("",
		slog.Int(SamplesKey, samples),
		slog.Int(FeaturesKey, features),
	)
}

// Scores returns log attributes for one split's metrics.
func Scores(split string, scores map[string]float64) slog.Attr {
	attrs := make([]any, 0, len(scores))
	for k, v := range scores {
		attrs = append(attrs, slog.Float64(k, v))
	}
	return slog.Group("",
		slog.String(SplitKey, split),
		slog.Group("scores", attrs...),
	)
}

// =============================================================================
// Performance Logging
// =============================================================================

// Timer returns a function that logs the elapsed time when called
// and reports it back to the caller.
func Timer(l *Logger, msg string, args ...any) func() time.Duration {
	start := time.Now()
	return func() time.Duration {
		elapsed := time.Since(start)
		l.Debug(msg, append(args, "duration", elapsed)...)
		return elapsed
	}
}
