// Copyright 2025 The HealthNav Authors
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidKey is returned when a state key is malformed: empty, or a
	// bare scope prefix with no suffix (e.g. "user:").
	ErrInvalidKey = errors.New("invalid state key")

	// ErrInvalidArguments is returned when tool arguments fail schema
	// validation before the wrapped function is invoked.
	ErrInvalidArguments = errors.New("invalid tool arguments")

	// ErrToolLoopExceeded signals that an agent hit its per-turn tool call
	// budget. It degrades the answer, it never fails the turn.
	ErrToolLoopExceeded = errors.New("tool call limit exceeded")

	// ErrBackendUnavailable is returned after bounded retries against the
	// model backend are exhausted. Fatal to the requesting task only.
	ErrBackendUnavailable = errors.New("model backend unavailable")

	// ErrTransientBackend marks a retryable backend failure (rate limit,
	// timeout, 5xx). Model implementations wrap such errors with it.
	ErrTransientBackend = errors.New("transient backend error")
)

// ToolExecutionError wraps an error raised by a wrapped tool function. It is
// surfaced to the calling agent as a structured failure payload, never
// propagated as a fatal error.
type ToolExecutionError struct {
	Tool string
	Err  error
}

// Error returns a string representation of the [ToolExecutionError].
func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %s: %v", e.Tool, e.Err)
}

// Unwrap returns the wrapped error.
func (e *ToolExecutionError) Unwrap() error { return e.Err }

// ChildWorkflowError reports the failure of a child workflow inside a
// composite. A sequential composite propagates it and aborts remaining
// children; a parallel composite absorbs it as a partial-result marker.
type ChildWorkflowError struct {
	Child string
	Err   error
}

// Error returns a string representation of the [ChildWorkflowError].
func (e *ChildWorkflowError) Error() string {
	return fmt.Sprintf("child workflow %s: %v", e.Child, e.Err)
}

// Unwrap returns the wrapped error.
func (e *ChildWorkflowError) Unwrap() error { return e.Err }

// SessionCreateError is fatal to the whole turn: without a conversation
// identity nothing can proceed.
type SessionCreateError struct {
	AppName   string
	UserID    string
	SessionID string
	Err       error
}

// Error returns a string representation of the [SessionCreateError].
func (e *SessionCreateError) Error() string {
	return fmt.Sprintf("create session %s/%s/%s: %v", e.AppName, e.UserID, e.SessionID, e.Err)
}

// Unwrap returns the wrapped error.
func (e *SessionCreateError) Unwrap() error { return e.Err }
