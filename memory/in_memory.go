// Copyright 2025 The HealthNav Authors
// SPDX-License-Identifier: Apache-2.0

// Package memory implements the long-term memory boundary: completed
// conversations are handed off once per turn and searched by later turns.
package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/healthnav/healthnav/types"
)

// InMemoryService is a keyword-matching memory store kept in process memory.
// Prototype quality retrieval; the service boundary is what matters.
type InMemoryService struct {
	mu sync.RWMutex

	// entries is keyed "appName/userID".
	entries map[string][]*types.MemoryEntry
}

var _ types.MemoryService = (*InMemoryService)(nil)

// NewInMemoryService creates an empty in-memory memory service.
func NewInMemoryService() *InMemoryService {
	return &InMemoryService{
		entries: make(map[string][]*types.MemoryEntry),
	}
}

// AddSessionToMemory implements [types.MemoryService]. Every content-bearing
// event of the session becomes an entry carrying the session's identity as
// provenance.
func (s *InMemoryService) AddSessionToMemory(ctx context.Context, session types.Session) error {
	key := userKey(session.AppName(), session.UserID())

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, event := range session.Events() {
		if event.LLMResponse == nil || event.Content == nil || len(event.Content.Parts) == 0 {
			continue
		}
		s.entries[key] = append(s.entries[key], &types.MemoryEntry{
			Content:   event.Content,
			Author:    event.Author,
			SessionID: session.ID(),
			Timestamp: event.Timestamp,
		})
	}
	return nil
}

// SearchMemory implements [types.MemoryService]. Matching is word overlap
// between the query and the entry text, case-insensitive.
func (s *InMemoryService) SearchMemory(ctx context.Context, appName, userID, query string) (*types.SearchMemoryResponse, error) {
	words := strings.Fields(strings.ToLower(query))

	s.mu.RLock()
	defer s.mu.RUnlock()

	response := &types.SearchMemoryResponse{}
	for _, entry := range s.entries[userKey(appName, userID)] {
		if matches(entry, words) {
			response.Memories = append(response.Memories, entry)
		}
	}
	return response, nil
}

func matches(entry *types.MemoryEntry, words []string) bool {
	if len(words) == 0 {
		return false
	}
	var text strings.Builder
	for _, part := range entry.Content.Parts {
		text.WriteString(part.Text)
		text.WriteString(" ")
	}
	haystack := strings.ToLower(text.String())
	for _, word := range words {
		if strings.Contains(haystack, word) {
			return true
		}
	}
	return false
}

func userKey(appName, userID string) string {
	return appName + "/" + userID
}
