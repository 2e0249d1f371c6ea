// Copyright 2025 The HealthNav Authors
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"context"
	"time"

	"google.golang.org/genai"
)

// MemoryService is the long-term memory hand-off boundary. A session may be
// added multiple times during its lifetime; the runner guarantees at most one
// hand-off per completed turn.
type MemoryService interface {
	// AddSessionToMemory adds the contents of a session to memory.
	AddSessionToMemory(ctx context.Context, session Session) error

	// SearchMemory searches for memories of the given user that match the query.
	SearchMemory(ctx context.Context, appName, userID, query string) (*SearchMemoryResponse, error)
}

// MemoryEntry represents one memory item: a durable fact derived from a
// completed conversation, with provenance.
type MemoryEntry struct {
	// Content is the main content of the memory.
	Content *genai.Content

	// Author of the original event.
	Author string

	// SessionID identifies the conversation that produced this memory.
	SessionID string

	// Timestamp when the original content of this memory happened.
	Timestamp time.Time
}

// SearchMemoryResponse represents the response from a memory search.
type SearchMemoryResponse struct {
	// Memories matching the search, ordered by original timestamp.
	Memories []*MemoryEntry `json:"memories"`
}
