package dxp

import "go.uber.org/zap"

// Logger is the interface for structured logging.
// Arguments after msg are alternating key/value pairs.
type Logger interface {
	// Debug logs a debug-level message with optional key-value pairs.
	Debug(msg string, args ...any)
	// Info logs an info-level message with optional key-value pairs.
	Info(msg string, args ...any)
	// Warn logs a warning-level message with optional key-value pairs.
	Warn(msg string, args ...any)
	// Error logs an error-level message with optional key-value pairs.
	Error(msg string, args ...any)
}

// zapLogger adapts a zap.SugaredLogger to Logger.
type zapLogger struct {
	s *zap.SugaredLogger
}

// NewZapLogger wraps l so it can be passed to LoggerOption.
func NewZapLogger(l *zap.Logger) Logger {
	if l == nil {
		l = zap.NewNop()
	}
	return &zapLogger{s: l.Sugar()}
}

func (l *zapLogger) Debug(msg string, args ...any) { l.s.Debugw(msg, args...) }
func (l *zapLogger) Info(msg string, args ...any)  { l.s.Infow(msg, args...) }
func (l *zapLogger) Warn(msg string, args ...any)  { l.s.Warnw(msg, args...) }
func (l *zapLogger) Error(msg string, args ...any) { l.s.Errorw(msg, args...) }

// defaultLogger returns a logger backed by zap's global logger, which is a
// no-op until the process installs one with zap.ReplaceGlobals.
func defaultLogger() Logger {
	return NewZapLogger(zap.L())
}

// withFields returns a logger that prefixes args to every call.
func withFields(l Logger, args ...any) Logger {
	if zl, ok := l.(*zapLogger); ok {
		return &zapLogger{s: zl.s.With(args...)}
	}
	return &fieldLogger{l: l, fields: args}
}

type fieldLogger struct {
	l      Logger
	fields []any
}

func (f *fieldLogger) with(args []any) []any {
	return append(append([]any(nil), f.fields...), args...)
}

func (f *fieldLogger) Debug(msg string, args ...any) { f.l.Debug(msg, f.with(args)...) }
func (f *fieldLogger) Info(msg string, args ...any)  { f.l.Info(msg, f.with(args)...) }
func (f *fieldLogger) Warn(msg string, args ...any)  { f.l.Warn(msg, f.with(args)...) }
func (f *fieldLogger) Error(msg string, args ...any) { f.l.Error(msg, f.with(args)...) }
