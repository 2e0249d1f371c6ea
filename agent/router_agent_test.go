// Copyright 2025 The HealthNav Authors
// SPDX-License-Identifier: Apache-2.0

package agent_test

import (
	"context"
	"strings"
	"testing"

	"google.golang.org/genai"

	"github.com/healthnav/healthnav/agent"
	"github.com/healthnav/healthnav/model"
	"github.com/healthnav/healthnav/types"
)

func intentCall(intent, request string) *types.LLMResponse {
	part := genai.NewPartFromFunctionCall(intent, map[string]any{"request": request})
	return &types.LLMResponse{
		Content: &genai.Content{Role: genai.RoleModel, Parts: []*genai.Part{part}},
	}
}

func TestNewRouterAgentValidation(t *testing.T) {
	t.Parallel()

	m := model.NewScripted("m")

	t.Run("empty registry", func(t *testing.T) {
		t.Parallel()
		_, err := agent.NewRouterAgent("empty_router", map[string]agent.Delegate{},
			agent.WithRouterModel(m))
		if err == nil {
			t.Fatal("empty registry accepted")
		}
	})

	t.Run("no model", func(t *testing.T) {
		t.Parallel()
		d := newScriptedAgent(t, "no_model_delegate", m, "")
		_, err := agent.NewRouterAgent("modelless_router",
			map[string]agent.Delegate{"care": {Agent: d}})
		if err == nil {
			t.Fatal("router without model accepted")
		}
	})

	t.Run("fact without question", func(t *testing.T) {
		t.Parallel()
		d := newScriptedAgent(t, "questionless_delegate", m, "")
		_, err := agent.NewRouterAgent("questionless_router",
			map[string]agent.Delegate{
				"care": {Agent: d, RequiresFact: "user:location"},
			},
			agent.WithRouterModel(m))
		if err == nil {
			t.Fatal("required fact without clarifying question accepted")
		}
	})

	t.Run("delegate already parented", func(t *testing.T) {
		t.Parallel()
		d := newScriptedAgent(t, "owned_delegate", m, "")
		agent.NewSequentialAgent("owning_pipeline", agent.WithSubAgents(d))
		_, err := agent.NewRouterAgent("stealing_router",
			map[string]agent.Delegate{"care": {Agent: d}},
			agent.WithRouterModel(m))
		if err == nil {
			t.Fatal("delegate with an existing parent accepted")
		}
	})

	t.Run("cyclic delegate", func(t *testing.T) {
		t.Parallel()
		// A delegate subtree containing an agent with the router's own name
		// would let delegation re-enter the router.
		inner := newScriptedAgent(t, "cyclic_router", m, "")
		pipeline := agent.NewSequentialAgent("cycle_pipeline", agent.WithSubAgents(inner))
		_, err := agent.NewRouterAgent("cyclic_router",
			map[string]agent.Delegate{"care": {Agent: pipeline}},
			agent.WithRouterModel(m))
		if err == nil {
			t.Fatal("cyclic delegation accepted")
		}
	})
}

func TestRouterDispatchesToDelegate(t *testing.T) {
	t.Parallel()

	travelModel := model.NewScripted("dm", types.NewTextResponse("pack your vaccines"))
	travel := newScriptedAgent(t, "travel_pipeline", travelModel, "travel_final_answer")

	router, err := agent.NewRouterAgent("trip_router",
		map[string]agent.Delegate{
			"travel_advice": {Agent: travel},
		},
		agent.WithRouterModel(model.NewScripted("rm", intentCall("travel_advice", "trip to Kenya"))),
	)
	if err != nil {
		t.Fatal(err)
	}

	ictx := newSessionContext(t, router, nil)
	events, err := runAndCommit(t, router, ictx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	last := events[len(events)-1]
	if last.Author != "trip_router" || last.Text() != "pack your vaccines" {
		t.Fatalf("delegate answer not relayed: author=%q text=%q", last.Author, last.Text())
	}
	if ictx.Session.State()["travel_final_answer"] != "pack your vaccines" {
		t.Error("delegate output key not committed")
	}

	// The classifier's restated request is the delegate's conversation input.
	requests := travelModel.Requests()
	if len(requests) != 1 {
		t.Fatalf("delegate model got %d requests, want 1", len(requests))
	}
	var sawRequest bool
	for _, content := range requests[0].Contents {
		for _, part := range content.Parts {
			if part.Text == "trip to Kenya" {
				sawRequest = true
			}
		}
	}
	if !sawRequest {
		t.Error("restated request not handed to the delegate")
	}
}

func TestRouterFallsBackWhenNoIntentMatches(t *testing.T) {
	t.Parallel()

	d := newScriptedAgent(t, "unused_delegate",
		model.NewScripted("dm", types.NewTextResponse("never")), "")

	router, err := agent.NewRouterAgent("fallback_router",
		map[string]agent.Delegate{"travel_advice": {Agent: d}},
		agent.WithRouterModel(model.NewScripted("rm", types.NewTextResponse(""))),
		agent.WithFallback("I can help with travel health questions."),
	)
	if err != nil {
		t.Fatal(err)
	}

	events, err := runAndCommit(t, router, newSessionContext(t, router, nil))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].Text() != "I can help with travel health questions." {
		t.Errorf("fallback text = %q", events[0].Text())
	}
	if events[0].Author != "fallback_router" {
		t.Errorf("fallback author = %q", events[0].Author)
	}
}

func TestRouterAsksClarifyingQuestionForMissingFact(t *testing.T) {
	t.Parallel()

	chronicModel := model.NewScripted("dm", types.NewTextResponse("never"))
	chronic := newScriptedAgent(t, "chronic_pipeline", chronicModel, "")

	router, err := agent.NewRouterAgent("care_router",
		map[string]agent.Delegate{
			"chronic_care": {
				Agent:              chronic,
				RequiresFact:       "user:location",
				ClarifyingQuestion: "To help you find care, what city and state are you in?",
			},
		},
		agent.WithRouterModel(model.NewScripted("rm", intentCall("chronic_care", "I have diabetes"))),
	)
	if err != nil {
		t.Fatal(err)
	}

	ictx := newSessionContext(t, router, nil)
	events, err := runAndCommit(t, router, ictx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want just the clarifying question", len(events))
	}

	question := events[0]
	if question.Text() != "To help you find care, what city and state are you in?" {
		t.Errorf("question text = %q", question.Text())
	}
	delta := question.Actions.StateDelta
	if delta[types.StatePendingDelegate] != "chronic_care" {
		t.Errorf("pending delegate = %v", delta[types.StatePendingDelegate])
	}
	if delta[types.StatePendingRequest] != "I have diabetes" {
		t.Errorf("pending request = %v", delta[types.StatePendingRequest])
	}
	if chronicModel.CallCount() != 0 {
		t.Error("delegate ran despite the missing fact")
	}
}

func TestRouterResumesPendingDelegation(t *testing.T) {
	t.Parallel()

	chronicModel := model.NewScripted("dm", types.NewTextResponse("your care plan"))
	chronic := newScriptedAgent(t, "resumed_pipeline", chronicModel, "chronic_final_answer")

	router, err := agent.NewRouterAgent("resume_router",
		map[string]agent.Delegate{
			"chronic_care": {
				Agent:              chronic,
				RequiresFact:       "user:location",
				ClarifyingQuestion: "What city and state are you in?",
			},
		},
		agent.WithRouterModel(model.NewScripted("rm")),
	)
	if err != nil {
		t.Fatal(err)
	}

	pending := map[string]any{
		types.StatePendingDelegate: "chronic_care",
		types.StatePendingRequest:  "I have diabetes",
	}
	ictx := newSessionContext(t, router, pending)
	ictx.UserContent = genai.NewContentFromText("Austin, TX", genai.RoleUser)

	events, err := runAndCommit(t, router, ictx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	state := ictx.Session.State()
	if state["user:location"] != "Austin, TX" {
		t.Errorf("fact not recorded, state = %v", state)
	}
	if state[types.StatePendingDelegate] != "" {
		t.Errorf("pending marker not cleared: %v", state[types.StatePendingDelegate])
	}
	last := events[len(events)-1]
	if last.Text() != "your care plan" {
		t.Errorf("delegate answer = %q", last.Text())
	}
	if state["chronic_final_answer"] != "your care plan" {
		t.Error("delegate output key not committed")
	}

	// The parked request, not the fact answer, is what the delegate works on.
	requests := chronicModel.Requests()
	if len(requests) != 1 {
		t.Fatalf("delegate model got %d requests, want 1", len(requests))
	}
	var sawParkedRequest bool
	for _, content := range requests[0].Contents {
		for _, part := range content.Parts {
			if part.Text == "I have diabetes" {
				sawParkedRequest = true
			}
		}
	}
	if !sawParkedRequest {
		t.Error("pending request not handed to the resumed delegate")
	}
}

func TestRouterClassifiesWithHistoryAndFacts(t *testing.T) {
	t.Parallel()

	travel := newScriptedAgent(t, "recalled_pipeline",
		model.NewScripted("dm", types.NewTextResponse("still Kenya advice")), "")

	routerModel := model.NewScripted("rm", intentCall("travel_advice", "malaria in Kenya"))
	router, err := agent.NewRouterAgent("recalling_router",
		map[string]agent.Delegate{"travel_advice": {Agent: travel}},
		agent.WithRouterModel(routerModel),
	)
	if err != nil {
		t.Fatal(err)
	}

	ictx := newSessionContext(t, router, map[string]any{"user:location": "Austin, TX"})
	earlier := types.NewEvent().
		WithAuthor(types.UserAuthor).
		WithContent(genai.NewContentFromText("I am going to Kenya in June", genai.RoleUser))
	if _, err := ictx.SessionService.AppendEvent(context.Background(), ictx.Session, earlier); err != nil {
		t.Fatal(err)
	}
	ictx.UserContent = genai.NewContentFromText("what about malaria there?", genai.RoleUser)

	if _, err := runAndCommit(t, router, ictx); err != nil {
		t.Fatalf("run: %v", err)
	}

	requests := routerModel.Requests()
	if len(requests) != 1 {
		t.Fatalf("got %d classify requests, want 1", len(requests))
	}

	contents := requests[0].Contents
	if len(contents) != 2 {
		t.Fatalf("classify request carries %d contents, want history + current message", len(contents))
	}
	if contents[0].Parts[0].Text != "I am going to Kenya in June" {
		t.Errorf("history not in classify request: %q", contents[0].Parts[0].Text)
	}
	if contents[1].Parts[0].Text != "what about malaria there?" {
		t.Errorf("current message not last: %q", contents[1].Parts[0].Text)
	}

	var instruction string
	for _, part := range requests[0].Config.SystemInstruction.Parts {
		instruction += part.Text
	}
	if !strings.Contains(instruction, "location: Austin, TX") {
		t.Errorf("durable user fact missing from routing instruction: %q", instruction)
	}
}
