// Copyright (c) Fogrise
// SPDX-License-Identifier: Apache-2.0

// Package errors provides structured error handling for mqttgate.
package errors

import (
	"errors"
	"fmt"
)

// Publish and subscribe failures map one-to-one onto protocol reason codes,
// so the taxonomy is deliberately small and closed.
var (
	// ErrTopicNameInvalid indicates a malformed publish topic.
	ErrTopicNameInvalid = errors.New("topic name invalid")

	// ErrNotAuthorized indicates a denied proxied-device authorization,
	// including a cached denial.
	ErrNotAuthorized = errors.New("not authorized")

	// ErrQuotaExceeded indicates the downstream bus signalled overload.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrUnspecified indicates a downstream bus rejection or an
	// unrecognized subscribe topic.
	ErrUnspecified = errors.New("unspecified error")

	// ErrInternal indicates an authorizer or downstream transport failure.
	ErrInternal = errors.New("internal error")
)

// SessionError wraps an error with session context for logging and
// correlation.
type SessionError struct {
	Op          string // Operation that failed (publish, subscribe, ...)
	Application string // Application the session belongs to
	Device      string // Authenticated device name
	Err         error  // Underlying error
}

// Error implements the error interface.
func (e *SessionError) Error() string {
	return fmt.Sprintf("%s %s/%s: %v", e.Op, e.Application, e.Device, e.Err)
}

// Unwrap returns the underlying error.
func (e *SessionError) Unwrap() error {
	return e.Err
}

// New creates a new SessionError.
func New(op, application, device string, err error) error {
	if err == nil {
		return nil
	}
	return &SessionError{
		Op:          op,
		Application: application,
		Device:      device,
		Err:         err,
	}
}

// Internal builds an internal error carrying the collaborator's error text.
func Internal(detail string) error {
	return fmt.Errorf("%w: %s", ErrInternal, detail)
}

// Wrap wraps an error with context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
