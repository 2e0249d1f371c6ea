// Copyright 2025 The HealthNav Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"testing"

	"google.golang.org/genai"

	"github.com/healthnav/healthnav/session"
	"github.com/healthnav/healthnav/types"
)

func textEvent(author, text string) *types.Event {
	return types.NewEvent().
		WithAuthor(author).
		WithContent(genai.NewContentFromText(text, genai.RoleModel))
}

func TestAddAndSearchMemory(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc := NewInMemoryService()

	ses := session.NewSession("s1", "app", "u1", nil)
	ses.AddEvent(
		textEvent("user", "I am travelling to Kenya in June"),
		textEvent("travel_summary_agent", "Yellow fever vaccination is recommended for Kenya."),
		types.NewEvent().WithAuthor("router"), // no content, skipped
	)
	if err := svc.AddSessionToMemory(ctx, ses); err != nil {
		t.Fatal(err)
	}

	resp, err := svc.SearchMemory(ctx, "app", "u1", "kenya vaccine")
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Memories) != 2 {
		t.Fatalf("got %d memories, want 2", len(resp.Memories))
	}
	for _, m := range resp.Memories {
		if m.SessionID != "s1" {
			t.Errorf("memory lost provenance: %q", m.SessionID)
		}
	}
}

func TestSearchMemoryScopedToUser(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc := NewInMemoryService()

	ses := session.NewSession("s1", "app", "u1", nil)
	ses.AddEvent(textEvent("user", "I have diabetes"))
	if err := svc.AddSessionToMemory(ctx, ses); err != nil {
		t.Fatal(err)
	}

	resp, err := svc.SearchMemory(ctx, "app", "u2", "diabetes")
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Memories) != 0 {
		t.Errorf("memories leaked across users: %d", len(resp.Memories))
	}
}

func TestSearchMemoryNoMatch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc := NewInMemoryService()

	ses := session.NewSession("s1", "app", "u1", nil)
	ses.AddEvent(textEvent("user", "I have diabetes"))
	if err := svc.AddSessionToMemory(ctx, ses); err != nil {
		t.Fatal(err)
	}

	resp, err := svc.SearchMemory(ctx, "app", "u1", "volcano")
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Memories) != 0 {
		t.Errorf("unexpected matches: %d", len(resp.Memories))
	}
}
