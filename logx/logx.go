// Package logx is the structured-logging facade used by every
// long-lived component in this module. It mirrors the teacher's
// logger.Logger interface (amenzhinsky/iothub/logger) but is backed by
// log/slog, the logging idiom both k-butz-c8y-device-client-mqtt and
// nugget-thane-ai-agent use for all of their own logging.
package logx

import (
	"context"
	"fmt"
	"log/slog"
	"os"
)

// Logger is the narrow logging surface every package in this module
// depends on. A nil Logger is never passed around; use Default() or
// Noop() instead.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// slogLogger adapts a *slog.Logger to the Logger interface.
type slogLogger struct {
	l    *slog.Logger
	name string
}

// New wraps l, tagging every record with "component"=name.
func New(l *slog.Logger, name string) Logger {
	if l == nil {
		l = slog.Default()
	}
	return &slogLogger{l: l.With("component", name), name: name}
}

// Default returns a Logger backed by slog.Default(), the convention
// used by nugget-thane-ai-agent when no explicit logger is supplied.
func Default(name string) Logger {
	return New(slog.Default(), name)
}

// NewText builds a Logger writing text-formatted records to w (or
// os.Stderr if w is nil), matching k-butz-c8y-device-client-mqtt's
// slog.NewTextHandler(os.Stdout, ...) construction.
func NewText(name string, level slog.Level) Logger {
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return New(slog.New(h), name)
}

func (s *slogLogger) Debugf(format string, args ...any) {
	s.l.Log(context.Background(), slog.LevelDebug, fmt.Sprintf(format, args...))
}

func (s *slogLogger) Infof(format string, args ...any) {
	s.l.Log(context.Background(), slog.LevelInfo, fmt.Sprintf(format, args...))
}

func (s *slogLogger) Warnf(format string, args ...any) {
	s.l.Log(context.Background(), slog.LevelWarn, fmt.Sprintf(format, args...))
}

func (s *slogLogger) Errorf(format string, args ...any) {
	s.l.Log(context.Background(), slog.LevelError, fmt.Sprintf(format, args...))
}

// noop discards everything; used as the default when a caller doesn't
// supply a Logger, so components never need a nil check.
type noop struct{}

func (noop) Debugf(string, ...any) {}
func (noop) Infof(string, ...any)  {}
func (noop) Warnf(string, ...any)  {}
func (noop) Errorf(string, ...any) {}

// Noop returns a Logger that discards everything.
func Noop() Logger { return noop{} }
