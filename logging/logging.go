// Package logging provides leveled, structured logging for the engine and the
// quotagate command. It is a thin layer over zap that keeps call sites short:
// a message plus an optional field map.
package logging

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level represents log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

var zapLevels = map[Level]zapcore.Level{
	LevelDebug: zapcore.DebugLevel,
	LevelInfo:  zapcore.InfoLevel,
	LevelWarn:  zapcore.WarnLevel,
	LevelError: zapcore.ErrorLevel,
}

// ParseLevel converts a config string such as "debug" into a Level.
func ParseLevel(s string) (Level, error) {
	level := Level(strings.ToUpper(strings.TrimSpace(s)))
	if level == "" {
		return LevelInfo, nil
	}
	if level == "WARNING" {
		level = LevelWarn
	}
	if _, ok := zapLevels[level]; !ok {
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
	return level, nil
}

// Logger provides structured logging backed by zap.
// Loggers derived with WithComponent or WithCallID share the parent's level.
type Logger struct {
	z     *zap.Logger
	level zap.AtomicLevel
}

// New creates a human-readable console logger on stderr at INFO level.
func New() *Logger {
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return build(zapcore.NewConsoleEncoder(cfg), os.Stderr, LevelInfo)
}

// NewJSON creates a JSON logger writing to w.
func NewJSON(w io.Writer, level Level) *Logger {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	return build(zapcore.NewJSONEncoder(cfg), w, level)
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{z: zap.NewNop(), level: zap.NewAtomicLevelAt(zapcore.FatalLevel)}
}

func build(enc zapcore.Encoder, w io.Writer, level Level) *Logger {
	atom := zap.NewAtomicLevelAt(toZap(level))
	core := zapcore.NewCore(enc, zapcore.Lock(zapcore.AddSync(w)), atom)
	return &Logger{z: zap.New(core), level: atom}
}

func toZap(level Level) zapcore.Level {
	if zl, ok := zapLevels[level]; ok {
		return zl
	}
	return zapcore.InfoLevel
}

// WithComponent returns a new logger with the given component name.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{z: l.z.With(zap.String("component", component)), level: l.level}
}

// WithCallID returns a new logger tagged with an engine call identifier.
func (l *Logger) WithCallID(id string) *Logger {
	return &Logger{z: l.z.With(zap.String("call_id", id)), level: l.level}
}

// SetLevel sets the minimum log level.
func (l *Logger) SetLevel(level Level) {
	l.level.SetLevel(toZap(level))
}

// Enabled reports whether messages at level would be written.
func (l *Logger) Enabled(level Level) bool {
	return l.level.Enabled(toZap(level))
}

// Zap exposes the underlying zap logger.
func (l *Logger) Zap() *zap.Logger {
	return l.z
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	return l.z.Sync()
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.z.Debug(msg, toFields(fields)...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.z.Info(msg, toFields(fields)...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.z.Warn(msg, toFields(fields)...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.z.Error(msg, toFields(fields)...)
}

// toFields flattens field maps in key order so output is stable.
func toFields(fields []map[string]interface{}) []zap.Field {
	if len(fields) == 0 || fields[0] == nil {
		return nil
	}
	m := fields[0]
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		switch v := m[k].(type) {
		case error:
			out = append(out, zap.NamedError(k, v))
		case time.Duration:
			out = append(out, zap.Duration(k, v))
		default:
			out = append(out, zap.Any(k, v))
		}
	}
	return out
}

// --- Engine event helpers ---

// Queued logs a caller parked on an exhausted service.
func (l *Logger) Queued(service string, position int) {
	l.Debug("queued", map[string]interface{}{
		"service":  service,
		"position": position,
	})
}

// Released logs a slot returned to a service.
func (l *Logger) Released(service string, inFlight, served int) {
	l.Debug("released", map[string]interface{}{
		"service":   service,
		"in_flight": inFlight,
		"served":    served,
	})
}

// QueueTimeout logs a queued caller evicted without being served.
func (l *Logger) QueueTimeout(service string, waited time.Duration) {
	l.Warn("queue_timeout", map[string]interface{}{
		"service": service,
		"waited":  waited,
	})
}

// RetryScheduled logs a backoff before the next attempt.
func (l *Logger) RetryScheduled(service string, attempt int, delay time.Duration, err error) {
	l.Warn("retry_scheduled", map[string]interface{}{
		"service": service,
		"attempt": attempt,
		"delay":   delay,
		"error":   err,
	})
}

// BatchProgress logs completion of one batch chunk.
func (l *Logger) BatchProgress(service string, completed, total int) {
	l.Info("batch_progress", map[string]interface{}{
		"service":   service,
		"completed": completed,
		"total":     total,
	})
}
