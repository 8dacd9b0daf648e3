// Copyright (C) 2024 The BuildIt Authors
// SPDX-License-Identifier: GPL-3.0-or-later

// Package engineerr defines the engine-wide typed error used to classify
// failures into the kinds external callers (CLI, control surface, workers)
// need to distinguish: what to retry, what to report to the user verbatim,
// and what counts as an internal bug.
package engineerr

import (
	"errors"
	"fmt"
)

// Kind classifies an Error.
type Kind int

const (
	// KindInternal covers anything that doesn't fit a more specific kind —
	// a bug, an unexpected invariant violation, or an unhandled state.
	KindInternal Kind = iota
	KindNotFound
	KindInvalidInput
	KindUnauthorized
	KindForbidden
	KindConflict
	KindExecutionFailed
	KindDeploymentFailed
	KindTimeout
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInvalidInput:
		return "invalid_input"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindConflict:
		return "conflict"
	case KindExecutionFailed:
		return "execution_failed"
	case KindDeploymentFailed:
		return "deployment_failed"
	case KindTimeout:
		return "timeout"
	case KindCancelled:
		return "cancelled"
	default:
		return "internal"
	}
}

// Error is the engine's typed error. It wraps an underlying cause (if any)
// and tags it with a Kind so callers can branch on classification rather
// than string-matching messages.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Is supports errors.Is(err, engineerr.NotFound) style checks against a
// sentinel Error carrying only a Kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

func newKind(kind Kind) *Error { return &Error{Kind: kind} }

// Sentinels for errors.Is checks, e.g. errors.Is(err, engineerr.NotFound).
var (
	NotFound         = newKind(KindNotFound)
	InvalidInput     = newKind(KindInvalidInput)
	Unauthorized     = newKind(KindUnauthorized)
	Forbidden        = newKind(KindForbidden)
	Conflict         = newKind(KindConflict)
	ExecutionFailed  = newKind(KindExecutionFailed)
	DeploymentFailed = newKind(KindDeploymentFailed)
	Timeout          = newKind(KindTimeout)
	Cancelled        = newKind(KindCancelled)
	Internal         = newKind(KindInternal)
)

// New constructs an Error of the given kind with a message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf is New with fmt.Sprintf-style formatting.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap tags an existing error with a Kind, preserving it as the Cause for
// errors.Unwrap/errors.As chains.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the Kind of err if it is (or wraps) an *Error, defaulting
// to KindInternal for anything else.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsNotFound reports whether err is classified as KindNotFound.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// IsTimeout reports whether err is classified as KindTimeout.
func IsTimeout(err error) bool { return KindOf(err) == KindTimeout }

// IsCancelled reports whether err is classified as KindCancelled.
func IsCancelled(err error) bool { return KindOf(err) == KindCancelled }
