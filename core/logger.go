package core

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Logger interface for structured logging
// Implementations can provide custom logging behavior (e.g., integration with zap, slog, etc.)
type Logger interface {
	// Debug logs a debug message with optional fields
	Debug(msg string, fields ...Field)

	// Info logs an info message with optional fields
	Info(msg string, fields ...Field)

	// Warn logs a warning message with optional fields
	Warn(msg string, fields ...Field)

	// Error logs an error message with optional fields
	Error(msg string, fields ...Field)
}

// Field represents a key-value pair for structured logging
type Field struct {
	Key   string
	Value any
}

// F creates a new Field with the given key and value
func F(key string, value any) Field {
	return Field{Key: key, Value: value}
}

const consoleTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// DefaultLogger writes through zerolog
type DefaultLogger struct {
	zl zerolog.Logger
}

// NewDefaultLogger creates a console logger on stderr at info level
func NewDefaultLogger() *DefaultLogger {
	return NewConsoleLogger(os.Stderr, zerolog.InfoLevel)
}

// NewConsoleLogger creates a human-readable logger writing to w
func NewConsoleLogger(w io.Writer, level zerolog.Level) *DefaultLogger {
	cw := zerolog.ConsoleWriter{Out: w, TimeFormat: consoleTimeFormat}
	return &DefaultLogger{zl: zerolog.New(cw).Level(level).With().Timestamp().Logger()}
}

// NewZerologLogger adapts an existing zerolog logger
func NewZerologLogger(zl zerolog.Logger) *DefaultLogger {
	return &DefaultLogger{zl: zl}
}

// Debug logs a debug message
func (l *DefaultLogger) Debug(msg string, fields ...Field) {
	l.log(l.zl.Debug(), msg, fields)
}

// Info logs an info message
func (l *DefaultLogger) Info(msg string, fields ...Field) {
	l.log(l.zl.Info(), msg, fields)
}

// Warn logs a warning message
func (l *DefaultLogger) Warn(msg string, fields ...Field) {
	l.log(l.zl.Warn(), msg, fields)
}

// Error logs an error message
func (l *DefaultLogger) Error(msg string, fields ...Field) {
	l.log(l.zl.Error(), msg, fields)
}

func (l *DefaultLogger) log(e *zerolog.Event, msg string, fields []Field) {
	// nil when the level is disabled
	if e == nil {
		return
	}
	for _, f := range fields {
		switch v := f.Value.(type) {
		case error:
			e.AnErr(f.Key, v)
		case string:
			e.Str(f.Key, v)
		case int:
			e.Int(f.Key, v)
		default:
			e.Interface(f.Key, v)
		}
	}
	e.Msg(msg)
}

// NoOpLogger is a logger that discards all log messages
// Useful for tests or when logging is not desired
type NoOpLogger struct{}

// NewNoOpLogger creates a new NoOpLogger
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

func (l *NoOpLogger) Debug(msg string, fields ...Field) {}
func (l *NoOpLogger) Info(msg string, fields ...Field)  {}
func (l *NoOpLogger) Warn(msg string, fields ...Field)  {}
func (l *NoOpLogger) Error(msg string, fields ...Field) {}
