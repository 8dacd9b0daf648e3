// Copyright (C) 2024 The BuildIt Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package logger

import "context"

type ctxKey struct{}

// WithLogger attaches a Logger to ctx so downstream code can log without
// threading a Logger value through every function signature.
func WithLogger(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the Logger attached to ctx, or Default if none was
// attached.
func FromContext(ctx context.Context) Logger {
	if l, ok := ctx.Value(ctxKey{}).(Logger); ok {
		return l
	}
	return Default
}

func Debug(ctx context.Context, msg string, args ...any) { FromContext(ctx).Debug(msg, args...) }
func Info(ctx context.Context, msg string, args ...any)  { FromContext(ctx).Info(msg, args...) }
func Warn(ctx context.Context, msg string, args ...any)  { FromContext(ctx).Warn(msg, args...) }
func Error(ctx context.Context, msg string, args ...any) { FromContext(ctx).Error(msg, args...) }

func Debugf(ctx context.Context, format string, args ...any) { FromContext(ctx).Debugf(format, args...) }
func Infof(ctx context.Context, format string, args ...any)  { FromContext(ctx).Infof(format, args...) }
func Warnf(ctx context.Context, format string, args ...any)  { FromContext(ctx).Warnf(format, args...) }
func Errorf(ctx context.Context, format string, args ...any) { FromContext(ctx).Errorf(format, args...) }
