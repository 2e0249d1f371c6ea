// Copyright 2025 The HealthNav Authors
// SPDX-License-Identifier: Apache-2.0

package model

import (
	"context"
	"fmt"
	"iter"
	"sync"

	"github.com/healthnav/healthnav/types"
)

// ScriptStep is one entry of a scripted model: either a canned response or an
// error to fail the call with.
type ScriptStep struct {
	Response *types.LLMResponse
	Err      error
}

// Scripted replays a fixed sequence of responses. It backs tests and offline
// dry runs; each call consumes the next step and the received requests are
// recorded for inspection.
type Scripted struct {
	name string

	mu       sync.Mutex
	steps    []ScriptStep
	next     int
	requests []*types.LLMRequest
}

var _ types.Model = (*Scripted)(nil)

// NewScripted creates a scripted model replaying the given responses.
func NewScripted(name string, responses ...*types.LLMResponse) *Scripted {
	steps := make([]ScriptStep, len(responses))
	for i, response := range responses {
		steps[i] = ScriptStep{Response: response}
	}
	return NewScriptedSteps(name, steps...)
}

// NewScriptedSteps creates a scripted model replaying the given steps,
// allowing error injection.
func NewScriptedSteps(name string, steps ...ScriptStep) *Scripted {
	if name == "" {
		name = "scripted"
	}
	return &Scripted{
		name:  name,
		steps: steps,
	}
}

// Name implements [types.Model].
func (m *Scripted) Name() string {
	return m.name
}

// GenerateContent implements [types.Model].
func (m *Scripted) GenerateContent(ctx context.Context, request *types.LLMRequest) (*types.LLMResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, request)
	if m.next >= len(m.steps) {
		return nil, fmt.Errorf("scripted model %s: no step for call %d", m.name, m.next+1)
	}
	step := m.steps[m.next]
	m.next++

	if step.Err != nil {
		return nil, step.Err
	}
	return step.Response, nil
}

// StreamGenerateContent implements [types.Model]. The scripted response is
// yielded as a single complete chunk.
func (m *Scripted) StreamGenerateContent(ctx context.Context, request *types.LLMRequest) iter.Seq2[*types.LLMResponse, error] {
	return func(yield func(*types.LLMResponse, error) bool) {
		response, err := m.GenerateContent(ctx, request)
		if err != nil {
			yield(nil, err)
			return
		}
		final := *response
		final.TurnComplete = true
		yield(&final, nil)
	}
}

// Requests returns the requests received so far.
func (m *Scripted) Requests() []*types.LLMRequest {
	m.mu.Lock()
	defer m.mu.Unlock()

	requests := make([]*types.LLMRequest, len(m.requests))
	copy(requests, m.requests)
	return requests
}

// CallCount returns the number of calls consumed.
func (m *Scripted) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.next
}
