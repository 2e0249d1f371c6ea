// Copyright 2025 The HealthNav Authors
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"maps"
	"strings"
	"sync"
)

// State key prefixes partition a session's state into scopes.
const (
	// UserPrefix marks keys that persist across conversations for the same
	// user, intended for durable facts such as a saved location.
	UserPrefix = "user:"

	// TempPrefix marks keys discarded at the end of the current turn.
	TempPrefix = "temp:"
)

// Well-known session-scope keys used by the router to remember an
// outstanding delegate request across turns.
const (
	StatePendingDelegate = "pending_delegate"
	StatePendingRequest  = "pending_request"
)

// ValidateStateKey reports whether key is a well-formed state key. A key is
// malformed when empty or when it is a scope prefix with no suffix.
func ValidateStateKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	if key == UserPrefix || key == TempPrefix {
		return ErrInvalidKey
	}
	if i := strings.Index(key, ":"); i >= 0 {
		prefix := key[:i+1]
		if prefix != UserPrefix && prefix != TempPrefix {
			return ErrInvalidKey
		}
	}
	return nil
}

// ClearTemp removes all temp-scope entries from the given state mapping.
// Called by the turn runner at the end of each turn.
func ClearTemp(state map[string]any) {
	for k := range state {
		if strings.HasPrefix(k, TempPrefix) {
			delete(state, k)
		}
	}
}

// State maintains the current value of a state mapping and any pending delta
// that hasn't been committed yet. Reads never block each other.
type State struct {
	mu sync.RWMutex

	value map[string]any
	delta map[string]any
}

// NewState creates a new State with the given value and delta maps.
func NewState(value, delta map[string]any) *State {
	if value == nil {
		value = make(map[string]any)
	}
	if delta == nil {
		delta = make(map[string]any)
	}
	return &State{
		value: value,
		delta: delta,
	}
}

// Get returns the value for the given key, prioritizing pending delta values
// over committed values.
func (s *State) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if val, ok := s.delta[key]; ok {
		return val, true
	}
	val, ok := s.value[key]
	return val, ok
}

// GetWithDefault returns the value for the given key, or defaultVal if the
// key is absent.
func (s *State) GetWithDefault(key string, defaultVal any) any {
	if val, ok := s.Get(key); ok {
		return val
	}
	return defaultVal
}

// Set records the value for the given key. The write is applied atomically
// for that single key; the store provides no cross-key transaction.
func (s *State) Set(key string, val any) error {
	if err := ValidateStateKey(key); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.value[key] = val
	s.delta[key] = val
	return nil
}

// Has reports whether the state contains the given key.
func (s *State) Has(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, inValue := s.value[key]
	_, inDelta := s.delta[key]
	return inValue || inDelta
}

// HasDelta reports whether there are any pending changes.
func (s *State) HasDelta() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.delta) > 0
}

// Update applies the given delta, affecting both value and pending delta.
// Malformed keys in update are rejected as a whole before anything applies.
func (s *State) Update(update map[string]any) error {
	for k := range update {
		if err := ValidateStateKey(k); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, v := range update {
		s.value[k] = v
		s.delta[k] = v
	}
	return nil
}

// Snapshot returns a copy of the state mapping with pending delta values
// overlaid, for inspection and debugging.
func (s *State) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]any, len(s.value)+len(s.delta))
	maps.Copy(result, s.value)
	maps.Copy(result, s.delta)
	return result
}

// Delta returns a copy of just the pending changes.
func (s *State) Delta() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]any, len(s.delta))
	maps.Copy(result, s.delta)
	return result
}

// ClearDelta drops any pending changes, usually called after committing them
// to persistent storage.
func (s *State) ClearDelta() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.delta = make(map[string]any)
}

// ClearTempScope drops all temp-scope entries from the state.
func (s *State) ClearTempScope() {
	s.mu.Lock()
	defer s.mu.Unlock()

	ClearTemp(s.value)
	ClearTemp(s.delta)
}

// GetUser retrieves a value with the user prefix.
func (s *State) GetUser(key string) (any, bool) {
	return s.Get(UserPrefix + key)
}

// SetUser sets a value with the user prefix.
func (s *State) SetUser(key string, val any) error {
	return s.Set(UserPrefix+key, val)
}

// GetTemp retrieves a value with the temp prefix.
func (s *State) GetTemp(key string) (any, bool) {
	return s.Get(TempPrefix + key)
}

// SetTemp sets a value with the temp prefix.
func (s *State) SetTemp(key string, val any) error {
	return s.Set(TempPrefix+key, val)
}
