// Copyright 2025 The HealthNav Authors
// SPDX-License-Identifier: Apache-2.0

package flow_test

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"testing"

	"google.golang.org/genai"

	"github.com/healthnav/healthnav/agent"
	"github.com/healthnav/healthnav/model"
	"github.com/healthnav/healthnav/session"
	"github.com/healthnav/healthnav/tool"
	"github.com/healthnav/healthnav/types"
)

func functionCallResponse(name string, args map[string]any) *types.LLMResponse {
	part := genai.NewPartFromFunctionCall(name, args)
	return &types.LLMResponse{
		Content: &genai.Content{Role: genai.RoleModel, Parts: []*genai.Part{part}},
	}
}

func pingTool() *tool.FunctionTool {
	return tool.NewFunctionTool("ping", "always answers pong", types.EffectPure,
		func(ctx context.Context, args map[string]any, toolCtx *types.ToolContext) (any, error) {
			return "pong", nil
		},
	)
}

func runAgent(t *testing.T, a types.Agent, ictx *types.InvocationContext) ([]*types.Event, error) {
	t.Helper()

	var events []*types.Event
	for event, err := range a.Run(context.Background(), ictx) {
		if err != nil {
			return events, err
		}
		events = append(events, event)
	}
	return events, nil
}

func newInvocation(t *testing.T, a types.Agent, state map[string]any) *types.InvocationContext {
	t.Helper()

	svc := session.NewInMemoryService()
	ses, err := svc.CreateSession(context.Background(), "testapp", "u1", "s1", state)
	if err != nil {
		t.Fatal(err)
	}
	return types.NewInvocationContext(a, ses, svc,
		types.WithUserContent(genai.NewContentFromText("hello", genai.RoleUser)),
	)
}

func TestOutputKeyCapturesFinalText(t *testing.T) {
	t.Parallel()

	a, err := agent.NewLLMAgent("answering_agent",
		agent.WithModel(model.NewScripted("m", types.NewTextResponse("the answer"))),
		agent.WithInstruction("Answer."),
		agent.WithOutputKey("final_answer"),
	)
	if err != nil {
		t.Fatal(err)
	}

	events, err := runAgent(t, a, newInvocation(t, a, nil))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	final := events[0]
	if final.Text() != "the answer" {
		t.Errorf("final text = %q", final.Text())
	}
	if got := final.Actions.StateDelta["final_answer"]; got != "the answer" {
		t.Errorf("StateDelta[final_answer] = %v", got)
	}
	if !final.IsFinalResponse() {
		t.Error("final event not marked final")
	}
}

func TestToolCallLoop(t *testing.T) {
	t.Parallel()

	scripted := model.NewScripted("m",
		functionCallResponse("ping", nil),
		types.NewTextResponse("done after one tool call"),
	)
	a, err := agent.NewLLMAgent("tool_agent",
		agent.WithModel(scripted),
		agent.WithTools(pingTool()),
	)
	if err != nil {
		t.Fatal(err)
	}

	events, err := runAgent(t, a, newInvocation(t, a, nil))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	// Call event, merged function response event, final text.
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	if len(events[0].GetFunctionCalls()) != 1 {
		t.Error("first event should carry the function call")
	}
	responses := events[1].GetFunctionResponses()
	if len(responses) != 1 || responses[0].Response["result"] != "pong" {
		t.Errorf("function response = %+v", responses)
	}
	if events[2].Text() != "done after one tool call" {
		t.Errorf("final text = %q", events[2].Text())
	}
}

func TestToolLoopDegradesAtBudget(t *testing.T) {
	t.Parallel()

	scripted := model.NewScripted("m",
		functionCallResponse("ping", nil),
		functionCallResponse("ping", nil),
		functionCallResponse("ping", nil),
	)
	a, err := agent.NewLLMAgent("looping_agent",
		agent.WithModel(scripted),
		agent.WithTools(pingTool()),
	)
	if err != nil {
		t.Fatal(err)
	}

	ictx := newInvocation(t, a, nil)
	ictx.RunConfig = &types.RunConfig{MaxLLMCalls: 50, MaxToolCalls: 2}

	events, err := runAgent(t, a, ictx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	last := events[len(events)-1]
	if last.ErrorCode != "TOOL_LOOP_EXCEEDED" {
		t.Fatalf("last event ErrorCode = %q, want TOOL_LOOP_EXCEEDED", last.ErrorCode)
	}
	if last.Text() == "" {
		t.Error("degraded answer has no text")
	}
}

func TestTransientErrorsExhaustRetries(t *testing.T) {
	t.Parallel()

	transient := fmt.Errorf("%w: 503 overloaded", types.ErrTransientBackend)
	scripted := model.NewScriptedSteps("m",
		model.ScriptStep{Err: transient},
		model.ScriptStep{Err: transient},
		model.ScriptStep{Err: transient},
	)
	a, err := agent.NewLLMAgent("retrying_agent",
		agent.WithModel(scripted),
	)
	if err != nil {
		t.Fatal(err)
	}

	_, err = runAgent(t, a, newInvocation(t, a, nil))
	if !errors.Is(err, types.ErrBackendUnavailable) {
		t.Fatalf("run = %v, want ErrBackendUnavailable", err)
	}
	if scripted.CallCount() != 3 {
		t.Errorf("model called %d times, want 3", scripted.CallCount())
	}
}

func TestTransientErrorRecoversOnRetry(t *testing.T) {
	t.Parallel()

	scripted := model.NewScriptedSteps("m",
		model.ScriptStep{Err: fmt.Errorf("%w: 429", types.ErrTransientBackend)},
		model.ScriptStep{Response: types.NewTextResponse("recovered")},
	)
	a, err := agent.NewLLMAgent("recovering_agent",
		agent.WithModel(scripted),
	)
	if err != nil {
		t.Fatal(err)
	}

	events, err := runAgent(t, a, newInvocation(t, a, nil))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if events[len(events)-1].Text() != "recovered" {
		t.Errorf("final text = %q", events[len(events)-1].Text())
	}
}

func TestNonTransientErrorFailsImmediately(t *testing.T) {
	t.Parallel()

	scripted := model.NewScriptedSteps("m",
		model.ScriptStep{Err: errors.New("invalid request")},
	)
	a, err := agent.NewLLMAgent("failing_agent",
		agent.WithModel(scripted),
	)
	if err != nil {
		t.Fatal(err)
	}

	_, err = runAgent(t, a, newInvocation(t, a, nil))
	if err == nil {
		t.Fatal("run succeeded, want error")
	}
	if scripted.CallCount() != 1 {
		t.Errorf("model called %d times, want 1", scripted.CallCount())
	}
}

func TestInstructionStateInjection(t *testing.T) {
	t.Parallel()

	scripted := model.NewScripted("m", types.NewTextResponse("ok"))
	a, err := agent.NewLLMAgent("templated_agent",
		agent.WithModel(scripted),
		agent.WithInstruction("Location: {user:location}. Plan: {chronic_plan?}. Keep: {not_there}."),
	)
	if err != nil {
		t.Fatal(err)
	}

	state := map[string]any{"user:location": "Austin, TX"}
	if _, err := runAgent(t, a, newInvocation(t, a, state)); err != nil {
		t.Fatalf("run: %v", err)
	}

	requests := scripted.Requests()
	if len(requests) != 1 {
		t.Fatalf("got %d requests", len(requests))
	}
	var instruction string
	for _, part := range requests[0].Config.SystemInstruction.Parts {
		instruction += part.Text
	}
	if !strings.Contains(instruction, "Location: Austin, TX.") {
		t.Errorf("required placeholder not substituted: %q", instruction)
	}
	if !strings.Contains(instruction, "Plan: .") {
		t.Errorf("optional missing placeholder not emptied: %q", instruction)
	}
	if !strings.Contains(instruction, "Keep: {not_there}.") {
		t.Errorf("required missing placeholder was altered: %q", instruction)
	}
}

// chunkedModel streams its answer in fixed chunks before the complete
// response, the way the live backends do.
type chunkedModel struct {
	chunks []string
}

func (m *chunkedModel) Name() string { return "chunked" }

func (m *chunkedModel) GenerateContent(ctx context.Context, request *types.LLMRequest) (*types.LLMResponse, error) {
	return types.NewTextResponse(strings.Join(m.chunks, "")), nil
}

func (m *chunkedModel) StreamGenerateContent(ctx context.Context, request *types.LLMRequest) iter.Seq2[*types.LLMResponse, error] {
	return func(yield func(*types.LLMResponse, error) bool) {
		for _, chunk := range m.chunks {
			partial := types.NewTextResponse(chunk)
			partial.Partial = true
			if !yield(partial, nil) {
				return
			}
		}
		final := types.NewTextResponse(strings.Join(m.chunks, ""))
		final.TurnComplete = true
		yield(final, nil)
	}
}

func TestStreamingYieldsPartialsThenComplete(t *testing.T) {
	t.Parallel()

	a, err := agent.NewLLMAgent("streaming_agent",
		agent.WithModel(&chunkedModel{chunks: []string{"pack ", "your ", "vaccines"}}),
		agent.WithOutputKey("final_answer"),
	)
	if err != nil {
		t.Fatal(err)
	}

	ictx := newInvocation(t, a, nil)
	ictx.RunConfig = &types.RunConfig{MaxLLMCalls: 50, MaxToolCalls: 8, Streaming: true}

	events, err := runAgent(t, a, ictx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(events) != 4 {
		t.Fatalf("got %d events, want 3 partials and the complete answer", len(events))
	}
	for i, event := range events[:3] {
		if !event.Partial {
			t.Errorf("event %d not marked partial", i)
		}
		if event.IsFinalResponse() {
			t.Errorf("partial event %d reported as final", i)
		}
		if len(event.Actions.StateDelta) != 0 {
			t.Errorf("partial event %d carries a state delta", i)
		}
	}

	final := events[3]
	if final.Partial {
		t.Error("complete answer marked partial")
	}
	if final.Text() != "pack your vaccines" {
		t.Errorf("final text = %q", final.Text())
	}
	if final.Actions.StateDelta["final_answer"] != "pack your vaccines" {
		t.Error("output key not captured from the complete response")
	}
}

func TestLLMCallBudgetEnforced(t *testing.T) {
	t.Parallel()

	scripted := model.NewScripted("m",
		functionCallResponse("ping", nil),
		functionCallResponse("ping", nil),
	)
	a, err := agent.NewLLMAgent("budgeted_agent",
		agent.WithModel(scripted),
		agent.WithTools(pingTool()),
	)
	if err != nil {
		t.Fatal(err)
	}

	ictx := newInvocation(t, a, nil)
	ictx.RunConfig = &types.RunConfig{MaxLLMCalls: 1, MaxToolCalls: 8}

	_, err = runAgent(t, a, ictx)
	var limitErr types.LLMCallsLimitExceededError
	if !errors.As(err, &limitErr) {
		t.Fatalf("run = %v, want LLMCallsLimitExceededError", err)
	}
}
