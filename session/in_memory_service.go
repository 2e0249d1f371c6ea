// Copyright 2025 The HealthNav Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"fmt"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tiendc/go-deepcopy"

	"github.com/healthnav/healthnav/types"
)

// InMemoryService keeps sessions and user state in process memory. It backs
// tests and short-lived tooling; nothing survives a restart.
type InMemoryService struct {
	mu sync.RWMutex

	// sessions is keyed app name, then user ID, then session ID.
	sessions map[string]map[string]map[string]*Session

	// userState is keyed app name, then user ID. Keys keep their "user:"
	// prefix.
	userState map[string]map[string]map[string]any
}

var _ types.SessionService = (*InMemoryService)(nil)

// NewInMemoryService creates an empty in-memory session service.
func NewInMemoryService() *InMemoryService {
	return &InMemoryService{
		sessions:  make(map[string]map[string]map[string]*Session),
		userState: make(map[string]map[string]map[string]any),
	}
}

// CreateSession implements [types.SessionService].
func (s *InMemoryService) CreateSession(ctx context.Context, appName, userID, sessionID string, state map[string]any) (types.Session, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	for key := range state {
		if err := types.ValidateStateKey(key); err != nil {
			return nil, fmt.Errorf("create session %s: state key %q: %w", sessionID, key, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sessionState := make(map[string]any)
	for key, val := range state {
		switch {
		case strings.HasPrefix(key, types.UserPrefix):
			s.userStateLocked(appName, userID)[key] = val
		case strings.HasPrefix(key, types.TempPrefix):
			// Turn-local keys are never seeded into a stored session.
		default:
			sessionState[key] = val
		}
	}

	stored := NewSession(sessionID, appName, userID, sessionState)
	if s.sessions[appName] == nil {
		s.sessions[appName] = make(map[string]map[string]*Session)
	}
	if s.sessions[appName][userID] == nil {
		s.sessions[appName][userID] = make(map[string]*Session)
	}
	s.sessions[appName][userID][sessionID] = stored

	return s.copySessionLocked(stored, 0)
}

// GetSession implements [types.SessionService].
func (s *InMemoryService) GetSession(ctx context.Context, appName, userID, sessionID string, config *types.GetSessionConfig) (types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.sessions[appName][userID][sessionID]
	if !ok {
		return nil, nil
	}

	numRecent := 0
	if config != nil {
		numRecent = config.NumRecentEvents
	}
	return s.copySessionLocked(stored, numRecent)
}

// ListSessions implements [types.SessionService].
func (s *InMemoryService) ListSessions(ctx context.Context, appName, userID string) ([]types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sessions []types.Session
	for _, stored := range s.sessions[appName][userID] {
		listed := NewSession(stored.ID(), appName, userID, nil)
		listed.SetLastUpdateTime(stored.LastUpdateTime())
		sessions = append(sessions, listed)
	}
	return sessions, nil
}

// DeleteSession implements [types.SessionService].
func (s *InMemoryService) DeleteSession(ctx context.Context, appName, userID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions[appName][userID], sessionID)
	return nil
}

// AppendEvent implements [types.SessionService]. The passed session is the
// caller's live copy: it receives the event and the full delta, temp keys
// included. The stored session receives the event and the session-scope keys;
// user-scope keys go to the durable per-user state.
func (s *InMemoryService) AppendEvent(ctx context.Context, ses types.Session, event *types.Event) (*types.Event, error) {
	if event == nil {
		return nil, nil
	}

	delta := map[string]any{}
	if event.Actions != nil {
		delta = event.Actions.StateDelta
	}
	for key := range delta {
		if err := types.ValidateStateKey(key); err != nil {
			return nil, fmt.Errorf("append event %s: state key %q: %w", event.ID, key, err)
		}
	}

	now := time.Now()
	ses.AddEvent(event)
	ses.SetLastUpdateTime(now)
	if live, ok := ses.(*Session); ok {
		live.UpdateState(delta)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.sessions[ses.AppName()][ses.UserID()][ses.ID()]
	if !ok {
		// The session was deleted mid-turn; the live copy still advances.
		return event, nil
	}

	sessionDelta := make(map[string]any)
	for key, val := range delta {
		switch {
		case strings.HasPrefix(key, types.UserPrefix):
			s.userStateLocked(ses.AppName(), ses.UserID())[key] = val
		case strings.HasPrefix(key, types.TempPrefix):
			// Never persisted.
		default:
			sessionDelta[key] = val
		}
	}
	stored.UpdateState(sessionDelta)
	stored.AddEvent(event)
	stored.SetLastUpdateTime(now)

	return event, nil
}

// userStateLocked returns the durable state map for a user, creating it on
// first touch. Caller holds s.mu.
func (s *InMemoryService) userStateLocked(appName, userID string) map[string]any {
	if s.userState[appName] == nil {
		s.userState[appName] = make(map[string]map[string]any)
	}
	if s.userState[appName][userID] == nil {
		s.userState[appName][userID] = make(map[string]any)
	}
	return s.userState[appName][userID]
}

// copySessionLocked builds the caller-facing copy of a stored session: its
// own state deep-copied with the user-scope state merged in, and the event
// history shared by reference since appended events are immutable.
func (s *InMemoryService) copySessionLocked(stored *Session, numRecentEvents int) (*Session, error) {
	var state map[string]any
	if err := deepcopy.Copy(&state, stored.State()); err != nil {
		return nil, fmt.Errorf("copy session %s state: %w", stored.ID(), err)
	}
	if state == nil {
		state = make(map[string]any)
	}
	maps.Copy(state, s.userState[stored.AppName()][stored.UserID()])

	live := NewSession(stored.ID(), stored.AppName(), stored.UserID(), state)
	live.AddEvent(stored.GetRecentEvents(numRecentEvents)...)
	live.SetLastUpdateTime(stored.LastUpdateTime())
	return live, nil
}
