// Package logger wraps zap with the structured logging conventions used by Meter.
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a zap SugaredLogger with level-gated helpers taking key/value pairs.
type Logger struct {
	*zap.SugaredLogger

	level zapcore.Level
}

// Production returns a JSON logger at INFO level.
func Production() *Logger {
	return New(false)
}

// Development returns a console logger at DEBUG level.
func Development() *Logger {
	return New(true)
}

// Nop returns a logger that discards everything. Used in tests and as the
// fallback when a component is constructed with a nil logger.
func Nop() *Logger {
	return &Logger{SugaredLogger: zap.NewNop().Sugar(), level: zapcore.FatalLevel}
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *Logger) *Logger {
	if l == nil {
		return Nop()
	}
	return l
}

// New builds a logger. debug selects the development encoder and DEBUG level.
func New(debug bool) *Logger {
	if debug {
		return build(zapcore.DebugLevel, true)
	}
	return build(zapcore.InfoLevel, false)
}

// FromLevel builds a logger for a LOG_LEVEL string (debug, info, warn,
// error). Unknown values fall back to info. debug forces DEBUG output.
func FromLevel(level string, debug bool) *Logger {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	if debug {
		lvl = zapcore.DebugLevel
	}
	return build(lvl, lvl == zapcore.DebugLevel)
}

func build(level zapcore.Level, development bool) *Logger {
	var config zap.Config
	if development {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
		config.EncoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder
	}
	config.Level = zap.NewAtomicLevelAt(level)

	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.MessageKey = "message"
	config.OutputPaths = []string{"stdout"}
	config.ErrorOutputPaths = []string{"stderr"}

	base, err := config.Build(
		zap.AddCaller(),
		zap.AddCallerSkip(1),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	if err != nil {
		base = zap.NewExample()
	}
	return &Logger{SugaredLogger: base.Sugar(), level: level}
}

// Level returns the minimum level the logger emits.
func (l *Logger) Level() zapcore.Level {
	return l.level
}

// WithFields returns a child logger carrying the given key/value pairs.
func (l *Logger) WithFields(fields ...any) *Logger {
	return &Logger{SugaredLogger: l.With(fields...), level: l.level}
}

// WithError returns a child logger with an "error" field.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return &Logger{SugaredLogger: l.With("error", err.Error()), level: l.level}
}

func (l *Logger) Debug(msg string, fields ...any) {
	if l.level <= zapcore.DebugLevel {
		l.Debugw(msg, fields...)
	}
}

func (l *Logger) Info(msg string, fields ...any) {
	if l.level <= zapcore.InfoLevel {
		l.Infow(msg, fields...)
	}
}

func (l *Logger) Warn(msg string, fields ...any) {
	if l.level <= zapcore.WarnLevel {
		l.Warnw(msg, fields...)
	}
}

func (l *Logger) Error(msg string, fields ...any) {
	if l.level <= zapcore.ErrorLevel {
		l.Errorw(msg, fields...)
	}
}

// Fatal logs and exits the process.
func (l *Logger) Fatal(msg string, fields ...any) {
	l.Fatalw(msg, fields...)
}

// Sync flushes buffered entries. Call before exit.
func (l *Logger) Sync() error {
	return l.SugaredLogger.Sync()
}
