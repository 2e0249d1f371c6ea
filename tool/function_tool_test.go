// Copyright 2025 The HealthNav Authors
// SPDX-License-Identifier: Apache-2.0

package tool

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"google.golang.org/genai"

	"github.com/healthnav/healthnav/session"
	"github.com/healthnav/healthnav/types"
)

func newTestToolContext(t *testing.T, state map[string]any) *types.ToolContext {
	t.Helper()

	ses := session.NewSession("s1", "testapp", "u1", state)
	ictx := types.NewInvocationContext(nil, ses, session.NewInMemoryService())
	return types.NewToolContext(ictx)
}

func TestFunctionToolValidatesArguments(t *testing.T) {
	t.Parallel()

	called := false
	ft := NewFunctionTool("echo", "echoes", types.EffectPure,
		func(ctx context.Context, args map[string]any, toolCtx *types.ToolContext) (any, error) {
			called = true
			return args["text"], nil
		},
		WithParams(Param{Name: "text", Type: genai.TypeString, Required: true}),
	)

	tests := map[string]struct {
		args map[string]any
	}{
		"missing required": {args: map[string]any{}},
		"wrong type":       {args: map[string]any{"text": 42}},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ft.Run(context.Background(), tt.args, newTestToolContext(t, nil))
			if !errors.Is(err, types.ErrInvalidArguments) {
				t.Fatalf("Run() = %v, want ErrInvalidArguments", err)
			}
			if called {
				t.Error("function ran despite invalid arguments")
			}
		})
	}

	got, err := ft.Run(context.Background(), map[string]any{"text": "hi"}, newTestToolContext(t, nil))
	if err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if got != "hi" {
		t.Errorf("Run() = %v, want hi", got)
	}
}

func TestFunctionToolWrapsFailures(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	ft := NewFunctionTool("broken", "always fails", types.EffectStateful,
		func(ctx context.Context, args map[string]any, toolCtx *types.ToolContext) (any, error) {
			return nil, boom
		},
	)

	_, err := ft.Run(context.Background(), nil, newTestToolContext(t, nil))
	var execErr *types.ToolExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("Run() = %v, want ToolExecutionError", err)
	}
	if execErr.Tool != "broken" {
		t.Errorf("execErr.Tool = %q, want broken", execErr.Tool)
	}
	if !errors.Is(err, boom) {
		t.Error("wrapped error lost the cause")
	}
}

func TestPureToolCannotWriteState(t *testing.T) {
	t.Parallel()

	ft := NewFunctionTool("sneaky", "tries to write", types.EffectPure,
		func(ctx context.Context, args map[string]any, toolCtx *types.ToolContext) (any, error) {
			return nil, toolCtx.SetState("answer", "x")
		},
	)

	toolCtx := newTestToolContext(t, nil)
	_, err := ft.Run(context.Background(), nil, toolCtx)
	if err == nil {
		t.Fatal("state write through a pure tool succeeded")
	}
	if toolCtx.Actions().StateDelta["answer"] != nil {
		t.Error("pure tool left a state delta")
	}
}

func TestStatefulToolRecordsDelta(t *testing.T) {
	t.Parallel()

	ft := NewFunctionTool("save", "writes state", types.EffectStateful,
		func(ctx context.Context, args map[string]any, toolCtx *types.ToolContext) (any, error) {
			if err := toolCtx.SetState("user:location", "Austin, TX"); err != nil {
				return nil, err
			}
			return map[string]any{"status": "saved"}, nil
		},
	)

	toolCtx := newTestToolContext(t, nil)
	if _, err := ft.Run(context.Background(), nil, toolCtx); err != nil {
		t.Fatalf("Run() = %v", err)
	}

	want := map[string]any{"user:location": "Austin, TX"}
	if diff := cmp.Diff(want, toolCtx.Actions().StateDelta); diff != "" {
		t.Errorf("StateDelta mismatch (-want +got):\n%s", diff)
	}
}

func TestGetDeclarationSchema(t *testing.T) {
	t.Parallel()

	ft := NewFunctionTool("lookup", "looks things up", types.EffectPure,
		func(ctx context.Context, args map[string]any, toolCtx *types.ToolContext) (any, error) {
			return nil, nil
		},
		WithParams(
			Param{Name: "query", Type: genai.TypeString, Description: "the query", Required: true},
			Param{Name: "limit", Type: genai.TypeInteger},
		),
	)

	decl := ft.GetDeclaration()
	if decl.Name != "lookup" {
		t.Errorf("decl.Name = %q", decl.Name)
	}
	if got := decl.Parameters.Properties["query"].Type; got != genai.TypeString {
		t.Errorf("query type = %v, want STRING", got)
	}
	if diff := cmp.Diff([]string{"query"}, decl.Parameters.Required); diff != "" {
		t.Errorf("required mismatch (-want +got):\n%s", diff)
	}
}
