// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package log provides a minimal leveled logging facade used by the
// unwind driver to report lookup and decode failures without forcing a
// concrete logging library on callers.
package log

import (
	"fmt"
	stdlog "log"
	"os"
)

// Level is the severity of a log entry.
type Level uint8

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Logger is the interface a caller-supplied logger must implement.
type Logger interface {
	Log(level Level, keyvals ...interface{}) error
}

// StdLogger adapts the standard library logger to Logger.
type StdLogger struct {
	w *stdlog.Logger
}

// NewStdLogger returns a Logger writing to w with the standard flags.
func NewStdLogger(w *os.File) *StdLogger {
	return &StdLogger{w: stdlog.New(w, "", stdlog.LstdFlags)}
}

func (s *StdLogger) Log(level Level, keyvals ...interface{}) error {
	s.w.Println(append([]interface{}{level.String()}, keyvals...)...)
	return nil
}

// Filter wraps a Logger and drops entries below a minimum level.
type Filter struct {
	next Logger
	min  Level
}

// FilterLevel sets the minimum level a Filter will pass through.
func FilterLevel(min Level) func(*Filter) {
	return func(f *Filter) { f.min = min }
}

// NewFilter returns a Logger that forwards to next only when the
// entry's level is at or above the configured minimum.
func NewFilter(next Logger, opts ...func(*Filter)) *Filter {
	f := &Filter{next: next, min: LevelError}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Filter) Log(level Level, keyvals ...interface{}) error {
	if level < f.min {
		return nil
	}
	return f.next.Log(level, keyvals...)
}

// Helper adds printf-style convenience methods on top of a Logger.
type Helper struct {
	logger Logger
}

// NewHelper wraps logger in a Helper. A nil logger is valid and makes
// every call a no-op, so components can hold a *Helper unconditionally.
func NewHelper(logger Logger) *Helper {
	return &Helper{logger: logger}
}

func (h *Helper) log(level Level, format string, args ...interface{}) {
	if h == nil || h.logger == nil {
		return
	}
	_ = h.logger.Log(level, fmt.Sprintf(format, args...))
}

func (h *Helper) Debugf(format string, args ...interface{}) { h.log(LevelDebug, format, args...) }
func (h *Helper) Infof(format string, args ...interface{})  { h.log(LevelInfo, format, args...) }
func (h *Helper) Warnf(format string, args ...interface{})  { h.log(LevelWarn, format, args...) }
func (h *Helper) Errorf(format string, args ...interface{}) { h.log(LevelError, format, args...) }
