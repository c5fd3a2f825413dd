// Package logging provides the structured logger used across the
// replication engine. The public shape (Logger, Config, Default/SetDefault,
// level-gated Debug/Info/Warn/Error) matches the rest of this module's
// ambient style; the implementation wraps zap so call sites get structured
// key-value fields instead of formatted strings.
package logging

import (
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel represents the available log levels.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l LogLevel) zapLevel() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Config holds logging configuration.
type Config struct {
	Level LogLevel
	// Format selects the zap encoder: "text" (console) or "json". Empty
	// defaults to "text".
	Format string
	Output io.Writer
	// Sync forces every call through the WriteSyncer's Sync; tests that
	// assert on buffered output want this set.
	Sync bool
	// NoColor disables ANSI level coloring in the console encoder.
	NoColor bool
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() *Config {
	return &Config{
		Level:  LevelInfo,
		Format: "text",
		Output: os.Stderr,
	}
}

// Logger wraps a zap.SugaredLogger with the level-gated API the rest of
// the codebase depends on.
type Logger struct {
	sugar *zap.SugaredLogger
	sync  bool
}

var (
	defaultLogger *Logger
	mu            sync.RWMutex
)

func buildEncoder(cfg *Config) zapcore.Encoder {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	if cfg.Format == "json" {
		return zapcore.NewJSONEncoder(encCfg)
	}
	if !cfg.NoColor {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	return zapcore.NewConsoleEncoder(encCfg)
}

// NewLogger creates a new logger.
func NewLogger(config *Config) *Logger {
	if config == nil {
		config = DefaultConfig()
	}
	output := config.Output
	if output == nil {
		output = os.Stderr
	}

	encoder := buildEncoder(config)
	ws := zapcore.AddSync(output)
	core := zapcore.NewCore(encoder, ws, config.Level.zapLevel())

	zl := zap.New(core)
	return &Logger{sugar: zl.Sugar(), sync: config.Sync}
}

// Default returns the default logger, creating it if necessary.
func Default() *Logger {
	mu.RLock()
	if defaultLogger != nil {
		defer mu.RUnlock()
		return defaultLogger
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if defaultLogger == nil {
		defaultLogger = NewLogger(nil)
	}
	return defaultLogger
}

// SetDefault sets the default logger.
func SetDefault(logger *Logger) {
	mu.Lock()
	defer mu.Unlock()
	defaultLogger = logger
}

func (l *Logger) maybeSync() {
	if l.sync {
		_ = l.sugar.Sync()
	}
}

func (l *Logger) Debug(msg string, args ...any) {
	l.sugar.Debugw(msg, args...)
	l.maybeSync()
}

func (l *Logger) Info(msg string, args ...any) {
	l.sugar.Infow(msg, args...)
	l.maybeSync()
}

func (l *Logger) Warn(msg string, args ...any) {
	l.sugar.Warnw(msg, args...)
	l.maybeSync()
}

func (l *Logger) Error(msg string, args ...any) {
	l.sugar.Errorw(msg, args...)
	l.maybeSync()
}

// Printf-style logging, kept for call sites that build their own strings.
func (l *Logger) Debugf(format string, args ...any) {
	l.sugar.Debugf(format, args...)
	l.maybeSync()
}

func (l *Logger) Infof(format string, args ...any) {
	l.sugar.Infof(format, args...)
	l.maybeSync()
}

func (l *Logger) Warnf(format string, args ...any) {
	l.sugar.Warnf(format, args...)
	l.maybeSync()
}

func (l *Logger) Errorf(format string, args ...any) {
	l.sugar.Errorf(format, args...)
	l.maybeSync()
}

// Printf logs at info level, like Infof, for callers that expect a
// Printf method.
func (l *Logger) Printf(format string, args ...any) {
	l.Infof(format, args...)
}

// With returns a child logger carrying the given key-value pairs on every
// subsequent call.
func (l *Logger) With(kv ...any) *Logger {
	return &Logger{sugar: l.sugar.With(kv...), sync: l.sync}
}

// WithDevice tags the logger with the owning device's minor number.
func (l *Logger) WithDevice(minor uint32) *Logger {
	return l.With("device_id", minor)
}

// WithQueue tags the logger with a worker/task index.
func (l *Logger) WithQueue(id int) *Logger {
	return l.With("queue_id", id)
}

// WithRequest tags the logger with a request tag and operation name.
func (l *Logger) WithRequest(tag uint64, op string) *Logger {
	return l.With("tag", tag, "op", op)
}

// WithError tags the logger with an error value.
func (l *Logger) WithError(err error) *Logger {
	return l.With("error", err)
}

// Global convenience functions operating on the default logger.
func Debug(msg string, args ...any) { Default().Debug(msg, args...) }
func Info(msg string, args ...any)  { Default().Info(msg, args...) }
func Warn(msg string, args ...any)  { Default().Warn(msg, args...) }
func Error(msg string, args ...any) { Default().Error(msg, args...) }
