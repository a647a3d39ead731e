package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/lmittmann/tint"
)

var (
	disabled atomic.Bool
	logger   atomic.Pointer[slog.Logger]
)

func init() {
	logger.Store(newLogger(os.Stdout, slog.LevelInfo, false))
}

// Setup replaces the process logger. Level is one of debug, info, warn, error.
// When json is true records are written as JSON lines instead of tinted text.
func Setup(w io.Writer, level string, json bool) {
	logger.Store(newLogger(w, ParseLevel(level), json))
}

func newLogger(w io.Writer, level slog.Level, json bool) *slog.Logger {
	if json {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.DateTime,
	}))
}

// ParseLevel maps a config string onto a slog level, defaulting to info.
func ParseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
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

// Disable turns off all logging
func Disable() {
	disabled.Store(true)
}

// Enable turns logging back on
func Enable() {
	disabled.Store(false)
}

// L returns the underlying structured logger.
func L() *slog.Logger {
	return logger.Load()
}

func emit(level slog.Level, msg string) {
	if disabled.Load() {
		return
	}
	logger.Load().Log(context.Background(), level, msg)
}

// Info logs an info message
func Info(v ...any) { emit(slog.LevelInfo, strings.TrimSuffix(fmt.Sprintln(v...), "\n")) }

// Infof logs a formatted info message
func Infof(format string, v ...any) { emit(slog.LevelInfo, fmt.Sprintf(format, v...)) }

// Error logs an error message
func Error(v ...any) { emit(slog.LevelError, strings.TrimSuffix(fmt.Sprintln(v...), "\n")) }

// Errorf logs a formatted error message
func Errorf(format string, v ...any) { emit(slog.LevelError, fmt.Sprintf(format, v...)) }

// Warn logs a warning message
func Warn(v ...any) { emit(slog.LevelWarn, strings.TrimSuffix(fmt.Sprintln(v...), "\n")) }

// Warnf logs a formatted warning message
func Warnf(format string, v ...any) { emit(slog.LevelWarn, fmt.Sprintf(format, v...)) }

// Debug logs a debug message
func Debug(v ...any) { emit(slog.LevelDebug, strings.TrimSuffix(fmt.Sprintln(v...), "\n")) }

// Debugf logs a formatted debug message
func Debugf(format string, v ...any) { emit(slog.LevelDebug, fmt.Sprintf(format, v...)) }

// Logger is a component-scoped logger that prefixes every line with its name.
type Logger struct {
	prefix string
}

// Named returns a Logger whose messages are prefixed with [name].
func Named(name string) Logger {
	return Logger{prefix: "[" + name + "] "}
}

// Infof logs a formatted info message
func (l Logger) Infof(format string, v ...any) {
	Infof(l.prefix+format, v...)
}

// Warnf logs a formatted warning message
func (l Logger) Warnf(format string, v ...any) {
	Warnf(l.prefix+format, v...)
}

// Errorf logs a formatted error message
func (l Logger) Errorf(format string, v ...any) {
	Errorf(l.prefix+format, v...)
}

// Debugf logs a formatted debug message
func (l Logger) Debugf(format string, v ...any) {
	Debugf(l.prefix+format, v...)
}
