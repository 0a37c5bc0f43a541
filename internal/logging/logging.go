package logging

import "log/slog"

// #region logger-interface

// Logger is the logging seam shared by every APS package. Implementations
// must be safe for concurrent use. Library code logs through an injected
// Logger and never writes to a process-global sink directly.
type Logger interface {
	Debug(msg string, keyvals ...any)
	Info(msg string, keyvals ...any)
	Warn(msg string, keyvals ...any)
	Error(msg string, keyvals ...any)
}

// #endregion logger-interface

// #region slog-adapter

// SlogAdapter bridges Logger onto a *slog.Logger.
type SlogAdapter struct {
	l *slog.Logger
}

// NewSlogAdapter wraps the given slog logger. A nil argument falls back to
// slog.Default so binaries can install a handler once and pass nothing else.
func NewSlogAdapter(l *slog.Logger) *SlogAdapter {
	if l == nil {
		l = slog.Default()
	}
	return &SlogAdapter{l: l}
}

func (a *SlogAdapter) Debug(msg string, keyvals ...any) { a.l.Debug(msg, keyvals...) }
func (a *SlogAdapter) Info(msg string, keyvals ...any)  { a.l.Info(msg, keyvals...) }
func (a *SlogAdapter) Warn(msg string, keyvals ...any)  { a.l.Warn(msg, keyvals...) }
func (a *SlogAdapter) Error(msg string, keyvals ...any) { a.l.Error(msg, keyvals...) }

// #endregion slog-adapter

// #region noop

// NoOp discards all log output.
type NoOp struct{}

func (NoOp) Debug(string, ...any) {}
func (NoOp) Info(string, ...any)  {}
func (NoOp) Warn(string, ...any)  {}
func (NoOp) Error(string, ...any) {}

// Or returns l unchanged, or a NoOp when l is nil. Constructors call this so
// an omitted logger is never a nil-pointer hazard.
func Or(l Logger) Logger {
	if l == nil {
		return NoOp{}
	}
	return l
}

// #endregion noop
