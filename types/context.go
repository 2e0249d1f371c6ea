// Copyright 2025 The HealthNav Authors
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"context"
	"errors"
	"maps"
)

// ReadOnlyContext exposes a read-only view of an invocation to instruction
// providers and inspection tools.
type ReadOnlyContext struct {
	ictx *InvocationContext
}

// NewReadOnlyContext creates a new [ReadOnlyContext].
func NewReadOnlyContext(ictx *InvocationContext) *ReadOnlyContext {
	return &ReadOnlyContext{ictx: ictx}
}

// InvocationID returns the current invocation ID.
func (rc *ReadOnlyContext) InvocationID() string {
	return rc.ictx.InvocationID
}

// AgentName returns the name of the currently running agent.
func (rc *ReadOnlyContext) AgentName() string {
	if rc.ictx.Agent == nil {
		return ""
	}
	return rc.ictx.Agent.Name()
}

// UserContent returns the user content that started this invocation.
func (rc *ReadOnlyContext) UserContent() string {
	resp := &LLMResponse{Content: rc.ictx.UserContent}
	return resp.Text()
}

// State returns a snapshot of the session state visible at this point.
func (rc *ReadOnlyContext) State() map[string]any {
	snapshot := make(map[string]any, len(rc.ictx.Session.State()))
	maps.Copy(snapshot, rc.ictx.Session.State())
	return snapshot
}

// CallbackContext provides mutable state access to agent callbacks and tools.
// Writes are recorded as a pending delta on the attached [EventActions] and
// committed by the session layer in event completion order; reads see a
// consistent snapshot taken when the context was created.
type CallbackContext struct {
	*ReadOnlyContext

	eventActions *EventActions
	state        *State
	readOnly     bool
}

// NewCallbackContext creates a new [CallbackContext] over the invocation's
// session state.
func NewCallbackContext(ictx *InvocationContext) *CallbackContext {
	actions := NewEventActions()
	snapshot := make(map[string]any, len(ictx.Session.State()))
	maps.Copy(snapshot, ictx.Session.State())

	return &CallbackContext{
		ReadOnlyContext: NewReadOnlyContext(ictx),
		eventActions:    actions,
		state:           NewState(snapshot, actions.StateDelta),
	}
}

// State returns the mutable state view for this context.
func (cc *CallbackContext) State() *State {
	return cc.state
}

// SetState records a state write. It fails with [ErrInvalidKey] on malformed
// keys, and is rejected outright on contexts handed to pure tools.
func (cc *CallbackContext) SetState(key string, value any) error {
	if cc.readOnly {
		return errors.New("state writes are not allowed for a pure tool")
	}
	return cc.state.Set(key, value)
}

// EventActions returns the actions accumulated by this context.
func (cc *CallbackContext) EventActions() *EventActions {
	return cc.eventActions
}

// ToolContext is the context of one tool invocation. It exists only for the
// duration of the call.
type ToolContext struct {
	*CallbackContext

	ictx           *InvocationContext
	functionCallID string
}

// NewToolContext creates a new [ToolContext] with the given invocation context.
func NewToolContext(ictx *InvocationContext) *ToolContext {
	return &ToolContext{
		CallbackContext: NewCallbackContext(ictx),
		ictx:            ictx,
	}
}

// WithFunctionCallID sets the function call ID for the [ToolContext].
func (tc *ToolContext) WithFunctionCallID(funcCallID string) *ToolContext {
	tc.functionCallID = funcCallID
	return tc
}

// WithReadOnlyState marks the context as read-only, used for pure tools.
func (tc *ToolContext) WithReadOnlyState() *ToolContext {
	tc.readOnly = true
	return tc
}

// InvocationContext returns the invocation context for the tool context.
func (tc *ToolContext) InvocationContext() *InvocationContext {
	return tc.ictx
}

// FunctionCallID returns the function call ID for the tool context.
func (tc *ToolContext) FunctionCallID() string {
	return tc.functionCallID
}

// Actions returns the event actions for the tool context.
func (tc *ToolContext) Actions() *EventActions {
	return tc.eventActions
}

// SearchMemory searches the long-term memory of the current user.
func (tc *ToolContext) SearchMemory(ctx context.Context, query string) (*SearchMemoryResponse, error) {
	memorySvc := tc.ictx.MemoryService
	if memorySvc == nil {
		return nil, errors.New("memory service is not available")
	}
	return memorySvc.SearchMemory(ctx, tc.ictx.AppName(), tc.ictx.UserID(), query)
}
