package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the minimal structured logging interface used across Parley.
// Args are alternating key/value pairs, zap sugared style.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	With(args ...any) Logger
}

// ZapAdapter wraps a *zap.SugaredLogger to implement Logger.
type ZapAdapter struct {
	sugar *zap.SugaredLogger
}

// NewZapAdapter creates a Logger from an existing zap logger.
func NewZapAdapter(logger *zap.Logger) *ZapAdapter {
	return &ZapAdapter{sugar: logger.Sugar()}
}

// New builds a production JSON logger at the given level ("debug", "info",
// "warn", "error"; anything else falls back to info). format "console"
// switches to the development encoder.
func New(level, format string) (*ZapAdapter, error) {
	var lvl zapcore.Level
	switch level {
	case "debug":
		lvl = zapcore.DebugLevel
	case "warn":
		lvl = zapcore.WarnLevel
	case "error":
		lvl = zapcore.ErrorLevel
	default:
		lvl = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, fmt.Errorf("build zap logger: %w", err)
	}
	return NewZapAdapter(logger), nil
}

func (z *ZapAdapter) Debug(msg string, args ...any) { z.sugar.Debugw(msg, args...) }
func (z *ZapAdapter) Info(msg string, args ...any)  { z.sugar.Infow(msg, args...) }
func (z *ZapAdapter) Warn(msg string, args ...any)  { z.sugar.Warnw(msg, args...) }
func (z *ZapAdapter) Error(msg string, args ...any) { z.sugar.Errorw(msg, args...) }

// With returns a child logger with the given key/value pairs attached to
// every entry.
func (z *ZapAdapter) With(args ...any) Logger {
	return &ZapAdapter{sugar: z.sugar.With(args...)}
}

// Sync flushes buffered log entries; call on shutdown.
func (z *ZapAdapter) Sync() error { return z.sugar.Sync() }

// NopLogger discards all log messages. Useful for tests or when logging is
// disabled.
type NopLogger struct{}

func (NopLogger) Debug(string, ...any)    {}
func (NopLogger) Info(string, ...any)     {}
func (NopLogger) Warn(string, ...any)     {}
func (NopLogger) Error(string, ...any)    {}
func (n NopLogger) With(...any) Logger    { return n }
