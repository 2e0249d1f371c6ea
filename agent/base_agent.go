// Copyright 2025 The HealthNav Authors
// SPDX-License-Identifier: Apache-2.0

// Package agent provides the workflow composition primitives: atomic
// model-backed tasks, sequential and parallel composites, and the router
// that dispatches a turn to exactly one delegate pipeline.
package agent

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"unicode"

	"github.com/healthnav/healthnav/types"
)

// BaseAgent carries the configuration and tree bookkeeping shared by every
// agent kind.
type BaseAgent struct {
	name        string
	description string

	parentAgent types.Agent
	subAgents   []types.Agent

	beforeAgentCallbacks []types.AgentCallback
	afterAgentCallbacks  []types.AgentCallback

	logger *slog.Logger

	// executor is the concrete agent embedding this base; Run dispatches to
	// its Execute.
	executor types.Agent
}

// Option configures a [BaseAgent].
type Option func(*BaseAgent)

// WithDescription sets the agent description.
func WithDescription(description string) Option {
	return func(a *BaseAgent) {
		a.description = description
	}
}

// WithSubAgents sets the sub-agents and wires their parent pointers.
func WithSubAgents(agents ...types.Agent) Option {
	return func(a *BaseAgent) {
		a.subAgents = agents
	}
}

// WithBeforeAgentCallbacks sets the before-agent callbacks.
func WithBeforeAgentCallbacks(callbacks ...types.AgentCallback) Option {
	return func(a *BaseAgent) {
		a.beforeAgentCallbacks = callbacks
	}
}

// WithAfterAgentCallbacks sets the after-agent callbacks.
func WithAfterAgentCallbacks(callbacks ...types.AgentCallback) Option {
	return func(a *BaseAgent) {
		a.afterAgentCallbacks = callbacks
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *BaseAgent) {
		a.logger = logger
	}
}

// NewBaseAgent creates the base for a concrete agent. The executor is the
// embedding agent itself. An invalid name or a sub-agent that already has a
// parent panics: workflow definitions are built once at startup and a broken
// tree must not come up at all.
func NewBaseAgent(name string, executor types.Agent, opts ...Option) *BaseAgent {
	if err := validateName(name); err != nil {
		panic(err)
	}

	base := &BaseAgent{
		name:     name,
		logger:   slog.Default(),
		executor: executor,
	}
	for _, opt := range opts {
		opt(base)
	}

	for _, subAgent := range base.subAgents {
		if parent := subAgent.ParentAgent(); parent != nil {
			panic(fmt.Errorf("agent %s already has parent %s, cannot add to %s", subAgent.Name(), parent.Name(), name))
		}
		subAgent.SetParentAgent(executor)
	}

	return base
}

func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("agent name must not be empty")
	}
	if name == types.UserAuthor {
		return fmt.Errorf("agent name %q is reserved for end-user input", name)
	}
	for i, r := range name {
		if r == '_' || unicode.IsLetter(r) || (i > 0 && unicode.IsDigit(r)) {
			continue
		}
		return fmt.Errorf("agent name %q must be an identifier", name)
	}
	return nil
}

// Name implements [types.Agent].
func (a *BaseAgent) Name() string {
	return a.name
}

// Description implements [types.Agent].
func (a *BaseAgent) Description() string {
	return a.description
}

// ParentAgent implements [types.Agent].
func (a *BaseAgent) ParentAgent() types.Agent {
	return a.parentAgent
}

// SetParentAgent implements [types.Agent].
func (a *BaseAgent) SetParentAgent(parent types.Agent) {
	a.parentAgent = parent
}

// SubAgents implements [types.Agent].
func (a *BaseAgent) SubAgents() []types.Agent {
	return a.subAgents
}

// BeforeAgentCallbacks implements [types.Agent].
func (a *BaseAgent) BeforeAgentCallbacks() []types.AgentCallback {
	return a.beforeAgentCallbacks
}

// AfterAgentCallbacks implements [types.Agent].
func (a *BaseAgent) AfterAgentCallbacks() []types.AgentCallback {
	return a.afterAgentCallbacks
}

// AsLLMAgent implements [types.Agent].
func (a *BaseAgent) AsLLMAgent() (types.LLMAgent, bool) {
	return nil, false
}

// Execute implements [types.Agent].
func (a *BaseAgent) Execute(ctx context.Context, ictx *types.InvocationContext) iter.Seq2[*types.Event, error] {
	return func(yield func(*types.Event, error) bool) {
		yield(nil, fmt.Errorf("agent %s does not implement Execute", a.name))
	}
}

// Run implements [types.Agent]. It scopes the invocation context to this
// agent, runs the before callbacks, the executor's Execute, then the after
// callbacks.
func (a *BaseAgent) Run(ctx context.Context, parentContext *types.InvocationContext) iter.Seq2[*types.Event, error] {
	return func(yield func(*types.Event, error) bool) {
		ictx := parentContext.ForAgent(a.executor, parentContext.Branch)

		beforeEvent, err := a.handleCallbacks(ctx, ictx, a.beforeAgentCallbacks)
		if err != nil {
			yield(nil, err)
			return
		}
		if beforeEvent != nil {
			if !yield(beforeEvent, nil) {
				return
			}
			if beforeEvent.Content != nil {
				// A before callback producing content replaces the run.
				return
			}
		}

		for event, err := range a.executor.Execute(ctx, ictx) {
			if !yield(event, err) {
				return
			}
			if err != nil {
				return
			}
		}

		// EndInvocation may have been set on the scoped context.
		parentContext.EndInvocation = parentContext.EndInvocation || ictx.EndInvocation
		if ictx.EndInvocation {
			return
		}

		afterEvent, err := a.handleCallbacks(ctx, ictx, a.afterAgentCallbacks)
		if err != nil {
			yield(nil, err)
			return
		}
		if afterEvent != nil {
			yield(afterEvent, nil)
		}
	}
}

// handleCallbacks runs callbacks in order until one returns content. A
// content-free callback that wrote state still yields a delta-only event.
func (a *BaseAgent) handleCallbacks(ctx context.Context, ictx *types.InvocationContext, callbacks []types.AgentCallback) (*types.Event, error) {
	if len(callbacks) == 0 {
		return nil, nil
	}

	cctx := types.NewCallbackContext(ictx)
	for _, callback := range callbacks {
		content, err := callback(cctx)
		if err != nil {
			a.logger.ErrorContext(ctx, "agent callback error",
				slog.String("agent", a.name),
				slog.Any("error", err),
			)
			return nil, err
		}
		if content != nil {
			return types.NewEvent().
				WithInvocationID(ictx.InvocationID).
				WithAuthor(a.name).
				WithBranch(ictx.Branch).
				WithContent(content).
				WithActions(cctx.EventActions()), nil
		}
	}

	if cctx.State().HasDelta() {
		return types.NewEvent().
			WithInvocationID(ictx.InvocationID).
			WithAuthor(a.name).
			WithBranch(ictx.Branch).
			WithActions(cctx.EventActions()), nil
	}
	return nil, nil
}

// RootAgent implements [types.Agent].
func (a *BaseAgent) RootAgent() types.Agent {
	root := a.executor
	for root.ParentAgent() != nil {
		root = root.ParentAgent()
	}
	return root
}

// FindAgent implements [types.Agent].
func (a *BaseAgent) FindAgent(name string) types.Agent {
	if name == a.name {
		return a.executor
	}
	return a.FindSubAgent(name)
}

// FindSubAgent implements [types.Agent].
func (a *BaseAgent) FindSubAgent(name string) types.Agent {
	for _, subAgent := range a.subAgents {
		if found := subAgent.FindAgent(name); found != nil {
			return found
		}
	}
	return nil
}
