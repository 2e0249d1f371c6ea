// Copyright 2025 The HealthNav Authors
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"time"
)

// Session represents one conversation, identified by (application, user,
// session). It owns an ordered history of events and a state mapping. A
// session is owned exclusively by the turn runner for the duration of a turn.
type Session interface {
	// ID returns the session ID.
	ID() string

	// AppName returns the application name.
	AppName() string

	// UserID returns the user ID.
	UserID() string

	// State returns the state mapping of the session.
	State() map[string]any

	// Events returns the events in the session.
	Events() []*Event

	// LastUpdateTime is the last update time of the session.
	LastUpdateTime() time.Time

	// SetLastUpdateTime sets the last update time of the session.
	SetLastUpdateTime(t time.Time)

	// AddEvent appends events to this session.
	AddEvent(events ...*Event)
}
