// Copyright 2025 The HealthNav Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"google.golang.org/genai"

	"github.com/healthnav/healthnav/types"
)

func stateEvent(author string, delta map[string]any) *types.Event {
	event := types.NewEvent().
		WithAuthor(author).
		WithContent(genai.NewContentFromText("noted", genai.RoleModel))
	for k, v := range delta {
		event.Actions.StateDelta[k] = v
	}
	return event
}

func TestInMemoryCreateSessionSplitsScopes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc := NewInMemoryService()

	ses, err := svc.CreateSession(ctx, "app", "u1", "s1", map[string]any{
		"greeting":      "hello",
		"user:location": "Austin, TX",
		"temp:scratch":  "gone",
	})
	if err != nil {
		t.Fatal(err)
	}

	state := ses.State()
	if state["greeting"] != "hello" {
		t.Errorf("session key missing: %v", state)
	}
	if state["user:location"] != "Austin, TX" {
		t.Errorf("user key not visible: %v", state)
	}
	if _, ok := state["temp:scratch"]; ok {
		t.Error("temp key seeded into stored session")
	}
}

func TestInMemoryGetSessionMissing(t *testing.T) {
	t.Parallel()

	svc := NewInMemoryService()
	ses, err := svc.GetSession(context.Background(), "app", "u1", "nope", nil)
	if err != nil {
		t.Fatal(err)
	}
	if ses != nil {
		t.Fatalf("GetSession of unknown session = %v, want nil", ses)
	}
}

func TestInMemoryAppendEventScopes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc := NewInMemoryService()
	ses, err := svc.CreateSession(ctx, "app", "u1", "s1", nil)
	if err != nil {
		t.Fatal(err)
	}

	event := stateEvent("coach", map[string]any{
		"chronic_plan":  "walk daily",
		"user:location": "Austin, TX",
		"temp:scratch":  "turn only",
	})
	if _, err := svc.AppendEvent(ctx, ses, event); err != nil {
		t.Fatal(err)
	}

	// Full delta lands on the live session, temp included.
	live := ses.State()
	if live["temp:scratch"] != "turn only" {
		t.Error("temp delta not applied to live session")
	}

	// A fresh load sees session and user scope but never temp.
	reloaded, err := svc.GetSession(ctx, "app", "u1", "s1", nil)
	if err != nil {
		t.Fatal(err)
	}
	state := reloaded.State()
	if state["chronic_plan"] != "walk daily" || state["user:location"] != "Austin, TX" {
		t.Errorf("reloaded state = %v", state)
	}
	if _, ok := state["temp:scratch"]; ok {
		t.Error("temp key persisted")
	}
	if len(reloaded.Events()) != 1 {
		t.Errorf("got %d stored events, want 1", len(reloaded.Events()))
	}
}

func TestInMemoryUserStateSharedAcrossSessions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc := NewInMemoryService()
	first, err := svc.CreateSession(ctx, "app", "u1", "s1", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.AppendEvent(ctx, first, stateEvent("router", map[string]any{
		"user:location": "Austin, TX",
	})); err != nil {
		t.Fatal(err)
	}

	second, err := svc.CreateSession(ctx, "app", "u1", "s2", nil)
	if err != nil {
		t.Fatal(err)
	}
	if second.State()["user:location"] != "Austin, TX" {
		t.Errorf("user state not shared: %v", second.State())
	}

	other, err := svc.CreateSession(ctx, "app", "u2", "s3", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := other.State()["user:location"]; ok {
		t.Error("user state leaked across users")
	}
}

func TestInMemoryAppendEventRejectsMalformedKey(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc := NewInMemoryService()
	ses, err := svc.CreateSession(ctx, "app", "u1", "s1", nil)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.AppendEvent(ctx, ses, stateEvent("x", map[string]any{"user:": "bad"})); err == nil {
		t.Fatal("malformed key accepted")
	}
}

func TestInMemoryRecentEventsLimit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc := NewInMemoryService()
	ses, err := svc.CreateSession(ctx, "app", "u1", "s1", nil)
	if err != nil {
		t.Fatal(err)
	}
	for range 5 {
		if _, err := svc.AppendEvent(ctx, ses, stateEvent("a", nil)); err != nil {
			t.Fatal(err)
		}
	}

	limited, err := svc.GetSession(ctx, "app", "u1", "s1", &types.GetSessionConfig{NumRecentEvents: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(limited.Events()) != 2 {
		t.Errorf("got %d events, want 2", len(limited.Events()))
	}
}

func TestInMemoryDeleteSession(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc := NewInMemoryService()
	if _, err := svc.CreateSession(ctx, "app", "u1", "s1", nil); err != nil {
		t.Fatal(err)
	}
	if err := svc.DeleteSession(ctx, "app", "u1", "s1"); err != nil {
		t.Fatal(err)
	}

	ses, err := svc.GetSession(ctx, "app", "u1", "s1", nil)
	if err != nil {
		t.Fatal(err)
	}
	if ses != nil {
		t.Error("session survived deletion")
	}
}

func TestInMemoryListSessions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc := NewInMemoryService()
	for _, id := range []string{"s1", "s2"} {
		if _, err := svc.CreateSession(ctx, "app", "u1", id, nil); err != nil {
			t.Fatal(err)
		}
	}

	sessions, err := svc.ListSessions(ctx, "app", "u1")
	if err != nil {
		t.Fatal(err)
	}
	ids := make(map[string]bool)
	for _, s := range sessions {
		ids[s.ID()] = true
	}
	if diff := cmp.Diff(map[string]bool{"s1": true, "s2": true}, ids); diff != "" {
		t.Errorf("sessions mismatch (-want +got):\n%s", diff)
	}
}
