// Package logutil provides the structured, key-value logging convention
// used throughout hxhim-go: log.New(ctx...).Info("msg", "key", value, ...).
package logutil

import (
	"go.uber.org/zap"
)

// Logger wraps a zap.SugaredLogger behind the teacher's New(ctx...) /
// Info(msg, k, v, ...) calling convention.
type Logger struct {
	s *zap.SugaredLogger
}

var root = New()

// Root returns the package-wide default logger.
func Root() *Logger { return root }

// New builds a Logger with the given alternating key-value context baked
// into every subsequent line, e.g. New("datastore", 3).
func New(ctx ...interface{}) *Logger {
	base, err := zap.NewProduction()
	if err != nil {
		base = zap.NewNop()
	}
	return &Logger{s: base.Sugar().With(ctx...)}
}

// NewDevelopment builds a Logger tuned for local/CLI use (console encoder,
// debug level) instead of the production JSON encoder.
func NewDevelopment(ctx ...interface{}) *Logger {
	base, err := zap.NewDevelopment()
	if err != nil {
		base = zap.NewNop()
	}
	return &Logger{s: base.Sugar().With(ctx...)}
}

func (l *Logger) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l *Logger) Info(msg string, kv ...interface{})  { l.s.Infow(msg, kv...) }
func (l *Logger) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }
func (l *Logger) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }

// New returns a child logger with additional permanent context, mirroring
// the teacher's log.New(module, name) pattern at call sites.
func (l *Logger) New(ctx ...interface{}) *Logger {
	return &Logger{s: l.s.With(ctx...)}
}

func (l *Logger) Sync() error { return l.s.Sync() }
