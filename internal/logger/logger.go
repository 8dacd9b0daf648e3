// Copyright (C) 2024 The BuildIt Authors
// SPDX-License-Identifier: GPL-3.0-or-later

// Package logger provides the structured logger used across every component
// of the engine (API, scheduler, worker, executors). It wraps log/slog with
// caller-aware source attribution and fans records out to multiple sinks via
// slog-multi.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"

	slogmulti "github.com/samber/slog-multi"
)

// Logger is the interface every BuildIt component logs through.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)

	With(key string, value any) Logger
	WithGroup(name string) Logger

	// Slog exposes the underlying *slog.Logger for callers that need to pass
	// one through to a third-party library (e.g. otel, pgx).
	Slog() *slog.Logger
}

type options struct {
	debug   bool
	quiet   bool
	format  string
	writer  io.Writer
	extra   []slog.Handler
}

// Option configures a Logger returned by NewLogger.
type Option func(*options)

// WithDebug enables debug-level logging and source-location attribution.
func WithDebug() Option {
	return func(o *options) { o.debug = true }
}

// WithQuiet is accepted but changes nothing: output goes only to the primary
// writer (WithWriter, os.Stderr by default) and any WithHandler sinks, so
// there is no separate stderr mirror to suppress.
func WithQuiet() Option {
	return func(o *options) { o.quiet = true }
}

// WithFormat selects "text" (default) or "json" output.
func WithFormat(format string) Option {
	return func(o *options) { o.format = format }
}

// WithWriter sets the primary sink. Defaults to os.Stderr.
func WithWriter(w io.Writer) Option {
	return func(o *options) { o.writer = w }
}

// WithHandler fans records out to an additional slog.Handler (e.g. a per-run
// sink collecting StageLog lines for storage).
func WithHandler(h slog.Handler) Option {
	return func(o *options) { o.extra = append(o.extra, h) }
}

type logger struct {
	base *slog.Logger
}

// NewLogger builds a Logger. Source-location attribution (the `source=`
// attribute) is only added when WithDebug is set, matching production
// behavior where the extra syscalls aren't worth paying for.
func NewLogger(opts ...Option) Logger {
	o := &options{format: "text", writer: os.Stderr}
	for _, opt := range opts {
		opt(o)
	}
	level := slog.LevelInfo
	if o.debug {
		level = slog.LevelDebug
	}

	handlerOpts := &slog.HandlerOptions{
		Level:     level,
		AddSource: o.debug,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			return a
		},
	}

	var base slog.Handler
	switch strings.ToLower(o.format) {
	case "json":
		base = slog.NewJSONHandler(o.writer, handlerOpts)
	default:
		base = slog.NewTextHandler(o.writer, handlerOpts)
	}

	handlers := append([]slog.Handler{base}, o.extra...)
	var fanout slog.Handler
	if len(handlers) == 1 {
		fanout = handlers[0]
	} else {
		fanout = slogmulti.Fanout(handlers...)
	}

	h := &callerHandler{Handler: fanout, enabled: o.debug}
	return &logger{base: slog.New(h)}
}

// callerHandler rewrites the record's PC so `source=` points at the first
// frame outside this package (and outside slog-multi's fanout plumbing)
// instead of wherever inside logger.go the call happened to be made.
type callerHandler struct {
	slog.Handler
	enabled bool
}

func (h *callerHandler) Handle(ctx context.Context, r slog.Record) error {
	if !h.enabled {
		r.PC = 0
		return h.Handler.Handle(ctx, r)
	}
	if pc := callerPC(); pc != 0 {
		r.PC = pc
	}
	return h.Handler.Handle(ctx, r)
}

func (h *callerHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &callerHandler{Handler: h.Handler.WithAttrs(attrs), enabled: h.enabled}
}

func (h *callerHandler) WithGroup(name string) slog.Handler {
	return &callerHandler{Handler: h.Handler.WithGroup(name), enabled: h.enabled}
}

// callerPC walks up the stack past this package's own non-test frames (and
// any slog-multi internals) to find the first frame belonging to application
// code that actually called Info/Debug/Warn/Error.
func callerPC() uintptr {
	const maxDepth = 24
	var pcs [maxDepth]uintptr
	n := runtime.Callers(2, pcs[:])
	if n == 0 {
		return 0
	}
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if (!strings.Contains(frame.File, "internal/logger/") || strings.HasSuffix(frame.File, "_test.go")) &&
			!strings.Contains(frame.File, "samber/slog-multi") &&
			!strings.Contains(frame.Function, "log/slog") {
			return frame.PC
		}
		if !more {
			break
		}
	}
	return 0
}

func (l *logger) log(level slog.Level, msg string, args ...any) {
	if !l.base.Enabled(context.Background(), level) {
		return
	}
	var pcs [1]uintptr
	runtime.Callers(3, pcs[:])
	r := slog.NewRecord(time.Now(), level, msg, pcs[0])
	r.Add(args...)
	_ = l.base.Handler().Handle(context.Background(), r)
}

func (l *logger) Debug(msg string, args ...any) { l.log(slog.LevelDebug, msg, args...) }
func (l *logger) Info(msg string, args ...any)  { l.log(slog.LevelInfo, msg, args...) }
func (l *logger) Warn(msg string, args ...any)  { l.log(slog.LevelWarn, msg, args...) }
func (l *logger) Error(msg string, args ...any) { l.log(slog.LevelError, msg, args...) }

func (l *logger) Debugf(format string, args ...any) { l.log(slog.LevelDebug, fmt.Sprintf(format, args...)) }
func (l *logger) Infof(format string, args ...any)  { l.log(slog.LevelInfo, fmt.Sprintf(format, args...)) }
func (l *logger) Warnf(format string, args ...any)  { l.log(slog.LevelWarn, fmt.Sprintf(format, args...)) }
func (l *logger) Errorf(format string, args ...any) { l.log(slog.LevelError, fmt.Sprintf(format, args...)) }

func (l *logger) With(key string, value any) Logger {
	return &logger{base: l.base.With(key, value)}
}

func (l *logger) WithGroup(name string) Logger {
	return &logger{base: l.base.WithGroup(name)}
}

func (l *logger) Slog() *slog.Logger { return l.base }

// Default is a production-mode logger usable before any configuration has
// been loaded (e.g. while parsing flags).
var Default Logger = NewLogger()
