package quotaguard

import (
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Logger is the structured logging surface used by the governor. Arguments
// after msg are alternating keys and values.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type zapLogger struct {
	sugar *zap.SugaredLogger
}

// NewZapLogger adapts a zap logger. A nil logger discards everything.
func NewZapLogger(l *zap.Logger) Logger {
	if l == nil {
		l = zap.NewNop()
	}
	return &zapLogger{sugar: l.Sugar()}
}

// NewSimpleLogger returns a human readable console logger at debug level.
func NewSimpleLogger() Logger {
	l, err := zap.NewDevelopment()
	if err != nil {
		l = zap.NewNop()
	}
	return NewZapLogger(l.Named("quotaguard"))
}

// NewNopLogger returns a logger that drops every entry.
func NewNopLogger() Logger {
	return NewZapLogger(nil)
}

func (z *zapLogger) Debug(msg string, keysAndValues ...any) { z.sugar.Debugw(msg, keysAndValues...) }
func (z *zapLogger) Info(msg string, keysAndValues ...any)  { z.sugar.Infow(msg, keysAndValues...) }
func (z *zapLogger) Warn(msg string, keysAndValues ...any)  { z.sugar.Warnw(msg, keysAndValues...) }
func (z *zapLogger) Error(msg string, keysAndValues ...any) { z.sugar.Errorw(msg, keysAndValues...) }

// DebugConfig selects which categories of debug lines are emitted. Warnings
// and errors are always logged.
type DebugConfig struct {
	Enabled      bool
	LogRequests  bool
	LogCache     bool
	LogRateLimit bool
	LogCircuit   bool
	LogQueue     bool
	RequestIDGen func() string
}

// DefaultDebugConfig returns a disabled config with every category selected.
func DefaultDebugConfig() *DebugConfig {
	return &DebugConfig{
		Enabled:      false,
		LogRequests:  true,
		LogCache:     true,
		LogRateLimit: true,
		LogCircuit:   true,
		LogQueue:     true,
		RequestIDGen: uuid.NewString,
	}
}

func (g *Governor) debugOn(category bool) bool {
	return g.debug != nil && g.debug.Enabled && category
}

func (g *Governor) requestID() string {
	if g.debug != nil && g.debug.Enabled && g.debug.RequestIDGen != nil {
		return g.debug.RequestIDGen()
	}
	return ""
}
