// Copyright 2025 The HealthNav Authors
// SPDX-License-Identifier: Apache-2.0

// Package session provides the conversation stores: an in-memory service for
// tests and ephemeral use, and a SQLite-backed service for durable state.
package session

import (
	"maps"
	"sync"
	"time"

	"github.com/healthnav/healthnav/types"
)

// Session is the concrete conversation record used by the services in this
// package.
type Session struct {
	mu sync.RWMutex

	id      string
	appName string
	userID  string

	state          map[string]any
	events         []*types.Event
	lastUpdateTime time.Time
}

var _ types.Session = (*Session)(nil)

// NewSession creates a session with the given identity and initial state.
func NewSession(id, appName, userID string, state map[string]any) *Session {
	if state == nil {
		state = make(map[string]any)
	}
	return &Session{
		id:             id,
		appName:        appName,
		userID:         userID,
		state:          state,
		lastUpdateTime: time.Now(),
	}
}

// ID implements [types.Session].
func (s *Session) ID() string { return s.id }

// AppName implements [types.Session].
func (s *Session) AppName() string { return s.appName }

// UserID implements [types.Session].
func (s *Session) UserID() string { return s.userID }

// State implements [types.Session]. It returns a copy so concurrent readers
// in a parallel fan-out never race with delta commits.
func (s *Session) State() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state := make(map[string]any, len(s.state))
	maps.Copy(state, s.state)
	return state
}

// Events implements [types.Session].
func (s *Session) Events() []*types.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := make([]*types.Event, len(s.events))
	copy(events, s.events)
	return events
}

// GetRecentEvents returns the last n events, or all of them when n <= 0 or
// the history is shorter.
func (s *Session) GetRecentEvents(n int) []*types.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n <= 0 || n >= len(s.events) {
		events := make([]*types.Event, len(s.events))
		copy(events, s.events)
		return events
	}
	events := make([]*types.Event, n)
	copy(events, s.events[len(s.events)-n:])
	return events
}

// LastUpdateTime implements [types.Session].
func (s *Session) LastUpdateTime() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.lastUpdateTime
}

// SetLastUpdateTime implements [types.Session].
func (s *Session) SetLastUpdateTime(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastUpdateTime = t
}

// AddEvent implements [types.Session].
func (s *Session) AddEvent(events ...*types.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, events...)
}

// UpdateState applies a state delta to this session.
func (s *Session) UpdateState(delta map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	maps.Copy(s.state, delta)
}

// ClearTempState drops all temp-scope entries, called at the end of a turn.
func (s *Session) ClearTempState() {
	s.mu.Lock()
	defer s.mu.Unlock()

	types.ClearTemp(s.state)
}
