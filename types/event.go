// Copyright 2025 The HealthNav Authors
// SPDX-License-Identifier: Apache-2.0

package types

import (
	rand "math/rand/v2"
	"time"

	"google.golang.org/genai"
)

// UserAuthor is the reserved author name for end-user input events.
const UserAuthor = "user"

// Event represents an event in a conversation between agents and users.
//
// It stores the content of the conversation as well as the actions taken by
// agents, such as function calls and state deltas.
type Event struct {
	*LLMResponse

	// InvocationID is the invocation ID of the event.
	InvocationID string

	// Author is "user" or the name of the agent that appended the event.
	Author string

	// Actions are the actions taken by the agent.
	Actions *EventActions

	// Branch is the branch of the event.
	//
	// The format is like agent_1.agent_2.agent_3, where agent_1 is the parent
	// of agent_2, and agent_2 is the parent of agent_3. Branch is used when
	// concurrent sub-agents shouldn't see their peers' conversation history.
	Branch string

	// ID is the unique identifier of the event.
	ID string

	// Timestamp of the event.
	Timestamp time.Time
}

// NewEvent creates a new event with a unique ID and timestamp.
func NewEvent() *Event {
	return &Event{
		LLMResponse: &LLMResponse{},
		Actions:     NewEventActions(),
		ID:          NewEventID(),
		Timestamp:   time.Now(),
	}
}

// WithLLMResponse sets the LLMResponse for the event.
func (e *Event) WithLLMResponse(response *LLMResponse) *Event {
	e.LLMResponse = response
	return e
}

// WithContent sets the content of the event's LLMResponse.
func (e *Event) WithContent(content *genai.Content) *Event {
	if e.LLMResponse == nil {
		e.LLMResponse = new(LLMResponse)
	}
	e.LLMResponse.Content = content
	return e
}

// WithInvocationID sets the invocation ID of the event.
func (e *Event) WithInvocationID(id string) *Event {
	e.InvocationID = id
	return e
}

// WithAuthor sets the author of the event.
func (e *Event) WithAuthor(author string) *Event {
	e.Author = author
	return e
}

// WithActions sets the actions of the event.
func (e *Event) WithActions(actions *EventActions) *Event {
	e.Actions = actions
	return e
}

// WithBranch sets the branch of the event.
func (e *Event) WithBranch(branch string) *Event {
	e.Branch = branch
	return e
}

// IsFinalResponse reports whether the event is the final response of an agent
// for the current step: no pending function calls or responses and not a
// partial stream chunk.
func (e *Event) IsFinalResponse() bool {
	if e.Actions != nil && e.Actions.SkipSummarization {
		return true
	}
	return len(e.GetFunctionCalls()) == 0 && len(e.GetFunctionResponses()) == 0 && !e.Partial
}

// GetFunctionCalls returns the function calls in the event.
func (e *Event) GetFunctionCalls() []*genai.FunctionCall {
	var funcCalls []*genai.FunctionCall
	if e.LLMResponse != nil && e.Content != nil {
		for _, part := range e.Content.Parts {
			if part.FunctionCall != nil {
				funcCalls = append(funcCalls, part.FunctionCall)
			}
		}
	}
	return funcCalls
}

// GetFunctionResponses returns the function responses in the event.
func (e *Event) GetFunctionResponses() []*genai.FunctionResponse {
	var funcResponses []*genai.FunctionResponse
	if e.LLMResponse != nil && e.Content != nil {
		for _, part := range e.Content.Parts {
			if part.FunctionResponse != nil {
				funcResponses = append(funcResponses, part.FunctionResponse)
			}
		}
	}
	return funcResponses
}

const eventIDAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// NewEventID generates a short random event identifier.
func NewEventID() string {
	b := make([]byte, 8)
	for i := range b {
		b[i] = eventIDAlphabet[rand.IntN(len(eventIDAlphabet))]
	}
	return string(b)
}
