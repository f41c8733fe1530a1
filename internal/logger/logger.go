// Package logger provides levelled, structured logging backed by zerolog.
//
// Messages accept either structured Fields or printf-style arguments (or both):
//
//	logger.Info("opened stream", logger.String("url", u))
//	logger.Debug("read %d bytes", n)
package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// LogLevel represents the various logging levels
type LogLevel int

const (
	// LevelError only logs errors
	LevelError LogLevel = iota
	// LevelWarn logs warnings and errors
	LevelWarn
	// LevelInfo logs info, warnings, and errors
	LevelInfo
	// LevelDebug logs everything
	LevelDebug
)

var (
	// currentLevel is the current logging level
	currentLevel = LevelInfo
	// mutex to protect level and output changes
	mu sync.RWMutex
	// base is the zerolog sink; level gating happens in this package
	base zerolog.Logger
	// root is the field-less logger behind the package level functions
	root = &Logger{}
)

func init() {
	base = zerolog.New(os.Stdout).Level(zerolog.TraceLevel).With().Timestamp().Logger()
}

// Field is a single structured key/value pair attached to a log entry.
type Field struct {
	Key   string
	Value interface{}
}

// String creates a string field.
func String(key, value string) Field { return Field{Key: key, Value: value} }

// Int creates an int field.
func Int(key string, value int) Field { return Field{Key: key, Value: value} }

// Int64 creates an int64 field.
func Int64(key string, value int64) Field { return Field{Key: key, Value: value} }

// Bool creates a bool field.
func Bool(key string, value bool) Field { return Field{Key: key, Value: value} }

// Duration creates a duration field.
func Duration(key string, value time.Duration) Field { return Field{Key: key, Value: value} }

// ErrorField creates an error field.
func ErrorField(key string, err error) Field { return Field{Key: key, Value: err} }

// Any creates a field holding an arbitrary value.
func Any(key string, value interface{}) Field { return Field{Key: key, Value: value} }

// SetOutput redirects log output. Format "console" produces human readable
// lines, anything else JSON.
func SetOutput(w io.Writer, format string) {
	mu.Lock()
	defer mu.Unlock()

	if format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	base = zerolog.New(w).Level(zerolog.TraceLevel).With().Timestamp().Logger()
}

// SetLevel sets the current logging level
func SetLevel(level LogLevel) {
	mu.Lock()
	defer mu.Unlock()
	currentLevel = level
}

// GetLevel returns the current logging level
func GetLevel() LogLevel {
	mu.RLock()
	defer mu.RUnlock()
	return currentLevel
}

// LevelFromString converts a string log level to LogLevel
func LevelFromString(level string) LogLevel {
	switch level {
	case "error":
		return LevelError
	case "warn":
		return LevelWarn
	case "info":
		return LevelInfo
	case "debug":
		return LevelDebug
	default:
		return LevelInfo
	}
}

// String returns the string representation of a log level
func (l LogLevel) String() string {
	switch l {
	case LevelError:
		return "error"
	case LevelWarn:
		return "warn"
	case LevelDebug:
		return "debug"
	default:
		return "info"
	}
}

func (l LogLevel) zerolog() zerolog.Level {
	switch l {
	case LevelError:
		return zerolog.ErrorLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelDebug:
		return zerolog.DebugLevel
	default:
		return zerolog.InfoLevel
	}
}

// Logger carries a set of fields added to every entry it writes.
type Logger struct {
	fields []Field
}

// With returns a logger that adds fields to every entry.
func With(fields ...Field) *Logger {
	return root.With(fields...)
}

// With returns a child logger with additional fields.
func (l *Logger) With(fields ...Field) *Logger {
	merged := make([]Field, 0, len(l.fields)+len(fields))
	merged = append(merged, l.fields...)
	merged = append(merged, fields...)
	return &Logger{fields: merged}
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, args ...interface{}) { l.write(LevelDebug, msg, args) }

// Info logs an info message
func (l *Logger) Info(msg string, args ...interface{}) { l.write(LevelInfo, msg, args) }

// Warn logs a warning message
func (l *Logger) Warn(msg string, args ...interface{}) { l.write(LevelWarn, msg, args) }

// Error logs an error message
func (l *Logger) Error(msg string, args ...interface{}) { l.write(LevelError, msg, args) }

func (l *Logger) write(level LogLevel, msg string, args []interface{}) {
	mu.RLock()
	shouldLog := currentLevel >= level
	sink := base
	mu.RUnlock()

	if !shouldLog {
		return
	}

	ev := sink.WithLevel(level.zerolog())
	for _, f := range l.fields {
		ev = addField(ev, f)
	}
	msg, ev = render(msg, args, ev)
	ev.Msg(msg)
}

// render splits args into structured fields and printf operands.
func render(msg string, args []interface{}, ev *zerolog.Event) (string, *zerolog.Event) {
	var operands []interface{}
	for _, a := range args {
		if f, ok := a.(Field); ok {
			ev = addField(ev, f)
			continue
		}
		operands = append(operands, a)
	}
	if len(operands) > 0 {
		msg = fmt.Sprintf(msg, operands...)
	}
	return msg, ev
}

func addField(ev *zerolog.Event, f Field) *zerolog.Event {
	switch v := f.Value.(type) {
	case string:
		return ev.Str(f.Key, v)
	case int:
		return ev.Int(f.Key, v)
	case int64:
		return ev.Int64(f.Key, v)
	case bool:
		return ev.Bool(f.Key, v)
	case time.Duration:
		return ev.Dur(f.Key, v)
	case error:
		return ev.AnErr(f.Key, v)
	default:
		return ev.Interface(f.Key, v)
	}
}

// Debug logs a debug message
func Debug(msg string, args ...interface{}) { root.write(LevelDebug, msg, args) }

// Info logs an info message
func Info(msg string, args ...interface{}) { root.write(LevelInfo, msg, args) }

// Warn logs a warning message
func Warn(msg string, args ...interface{}) { root.write(LevelWarn, msg, args) }

// Error logs an error message
func Error(msg string, args ...interface{}) { root.write(LevelError, msg, args) }

// Fatal logs a fatal error message and exits
func Fatal(msg string, args ...interface{}) {
	mu.RLock()
	sink := base
	mu.RUnlock()

	msg, ev := render(msg, args, sink.WithLevel(zerolog.FatalLevel))
	ev.Msg(msg)
	os.Exit(1)
}
