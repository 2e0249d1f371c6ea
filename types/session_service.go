// Copyright 2025 The HealthNav Authors
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"context"
)

// GetSessionConfig is the configuration of getting a session.
type GetSessionConfig struct {
	// NumRecentEvents limits the returned history to the last n events when
	// greater than zero.
	NumRecentEvents int
}

// SessionService manages sessions and their events.
//
// Implementations must durably store session-scope and user-scope state;
// temp-scope deltas are applied to the live session only and never persist
// beyond the turn.
type SessionService interface {
	// CreateSession creates a new session with the given parameters. An
	// empty sessionID asks the service to generate one.
	CreateSession(ctx context.Context, appName, userID, sessionID string, state map[string]any) (Session, error)

	// GetSession retrieves a specific session, or nil when it doesn't exist.
	GetSession(ctx context.Context, appName, userID, sessionID string, config *GetSessionConfig) (Session, error)

	// ListSessions lists all sessions for a user, without events or state.
	ListSessions(ctx context.Context, appName, userID string) ([]Session, error)

	// DeleteSession removes a specific session.
	DeleteSession(ctx context.Context, appName, userID, sessionID string) error

	// AppendEvent appends an event to the given session and commits the
	// event's state delta: user-scope keys to the user's durable state,
	// session-scope keys to the stored session, temp-scope keys to the live
	// session only.
	AppendEvent(ctx context.Context, ses Session, event *Event) (*Event, error)
}
