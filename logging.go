// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package xpra

import (
	"fmt"
	"log"
	"os"
	"strings"
)

// Field represents a structured logging field with a key-value pair.
type Field struct {
	Key   string
	Value interface{}
}

// Logger defines the interface for structured logging throughout the library.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)

	// With creates a new logger instance with the provided fields pre-populated.
	With(fields ...Field) Logger
}

// Level is the minimum severity a StandardLogger writes.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the bracketed tag used in log lines.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "[DEBUG]"
	case LevelInfo:
		return "[INFO]"
	case LevelWarn:
		return "[WARN]"
	case LevelError:
		return "[ERROR]"
	default:
		return "[UNKNOWN]"
	}
}

// ParseLevel converts a level name such as "debug" or "warn" into a Level.
func ParseLevel(name string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, configurationError("ParseLevel", fmt.Sprintf("unknown log level %q", name), nil)
	}
}

// NoOpLogger is a Logger implementation that discards all log messages.
type NoOpLogger struct{}

func (l *NoOpLogger) Debug(msg string, fields ...Field) {}
func (l *NoOpLogger) Info(msg string, fields ...Field)  {}
func (l *NoOpLogger) Warn(msg string, fields ...Field)  {}
func (l *NoOpLogger) Error(msg string, fields ...Field) {}

// With returns a new NoOpLogger instance (ignores fields).
func (l *NoOpLogger) With(fields ...Field) Logger {
	return &NoOpLogger{}
}

// StandardLogger wraps Go's standard log package to implement the Logger interface.
// Messages below MinLevel are dropped.
type StandardLogger struct {
	// Logger is the underlying standard library logger.
	Logger *log.Logger

	// MinLevel is the lowest level written. The zero value writes everything.
	MinLevel Level

	contextFields []Field
}

// NewStandardLogger returns a StandardLogger writing to stderr at the given level.
func NewStandardLogger(level Level) *StandardLogger {
	return &StandardLogger{
		Logger:   log.New(os.Stderr, "XPRA: ", log.LstdFlags),
		MinLevel: level,
	}
}

func (l *StandardLogger) ensureLogger() *log.Logger {
	if l.Logger == nil {
		l.Logger = log.New(os.Stderr, "XPRA: ", log.LstdFlags|log.Lshortfile)
	}
	return l.Logger
}

func (l *StandardLogger) formatMessage(level Level, msg string, fields ...Field) string {
	var b strings.Builder
	b.WriteString(level.String())
	b.WriteByte(' ')
	b.WriteString(msg)
	for _, field := range l.contextFields {
		b.WriteString(" " + field.Key + "=" + formatFieldValue(field.Value))
	}
	for _, field := range fields {
		b.WriteString(" " + field.Key + "=" + formatFieldValue(field.Value))
	}
	return b.String()
}

// formatFieldValue converts a field value to its log representation.
// Payloads are logged by size only.
func formatFieldValue(value interface{}) string {
	switch v := value.(type) {
	case string:
		if containsSpace(v) {
			return `"` + v + `"`
		}
		return v
	case error:
		return `"` + v.Error() + `"`
	case []byte:
		return fmt.Sprintf("<%d bytes>", len(v))
	default:
		return fmt.Sprintf("%v", v)
	}
}

func containsSpace(s string) bool {
	return strings.ContainsAny(s, " \t\n\r")
}

func (l *StandardLogger) log(level Level, msg string, fields ...Field) {
	if level < l.MinLevel {
		return
	}
	l.ensureLogger().Print(l.formatMessage(level, msg, fields...))
}

// Debug logs a debug-level message with structured fields.
func (l *StandardLogger) Debug(msg string, fields ...Field) { l.log(LevelDebug, msg, fields...) }

// Info logs an info-level message with structured fields.
func (l *StandardLogger) Info(msg string, fields ...Field) { l.log(LevelInfo, msg, fields...) }

// Warn logs a warning-level message with structured fields.
func (l *StandardLogger) Warn(msg string, fields ...Field) { l.log(LevelWarn, msg, fields...) }

// Error logs an error-level message with structured fields.
func (l *StandardLogger) Error(msg string, fields ...Field) { l.log(LevelError, msg, fields...) }

// With creates a new StandardLogger instance with additional context fields.
func (l *StandardLogger) With(fields ...Field) Logger {
	newContextFields := make([]Field, 0, len(l.contextFields)+len(fields))
	newContextFields = append(newContextFields, l.contextFields...)
	newContextFields = append(newContextFields, fields...)

	return &StandardLogger{
		Logger:        l.ensureLogger(),
		MinLevel:      l.MinLevel,
		contextFields: newContextFields,
	}
}
