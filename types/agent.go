// Copyright 2025 The HealthNav Authors
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"context"
	"iter"

	"google.golang.org/genai"
)

// AgentCallback is invoked before or after an agent runs. Returning non-nil
// content short-circuits (before) or overrides (after) the agent's output.
type AgentCallback func(cctx *CallbackContext) (*genai.Content, error)

// Agent represents any composable workflow unit: an atomic task, a
// sequential or parallel composite, or a router. Workflow definitions are
// immutable once composed and form a directed acyclic graph.
type Agent interface {
	// Name returns the agent's name.
	//
	// The name must be unique within the agent tree and cannot be "user",
	// which is reserved for end-user input.
	Name() string

	// Description returns a description of the agent's capability.
	//
	// The model uses this to decide whether to delegate to the agent, so a
	// one-line description is preferred.
	Description() string

	// ParentAgent returns the parent agent of this agent.
	//
	// An agent can only be added as a sub-agent once.
	ParentAgent() Agent

	// SetParentAgent wires the parent pointer. Called during composition
	// only; composing an agent into two parents panics.
	SetParentAgent(parent Agent)

	// SubAgents returns the sub-agents of this agent.
	SubAgents() []Agent

	// BeforeAgentCallbacks returns the callbacks invoked before the agent
	// runs, in order, until one returns non-nil content.
	BeforeAgentCallbacks() []AgentCallback

	// AfterAgentCallbacks returns the callbacks invoked after the agent
	// runs, in order, until one returns non-nil content.
	AfterAgentCallbacks() []AgentCallback

	// Execute is the core logic to run this agent.
	Execute(ctx context.Context, ictx *InvocationContext) iter.Seq2[*Event, error]

	// Run is the entry method to run an agent: it wraps Execute with the
	// before/after callbacks and branch bookkeeping.
	Run(ctx context.Context, parentContext *InvocationContext) iter.Seq2[*Event, error]

	// RootAgent returns the root agent of this agent's tree.
	RootAgent() Agent

	// FindAgent finds the agent with the given name in this agent and its
	// descendants.
	FindAgent(name string) Agent

	// FindSubAgent finds the agent with the given name in this agent's
	// descendants.
	FindSubAgent(name string) Agent

	// AsLLMAgent reports whether this agent is an [LLMAgent].
	AsLLMAgent() (LLMAgent, bool)
}

// InstructionProvider provides an instruction based on the current context.
type InstructionProvider func(rctx *ReadOnlyContext) string

// BeforeModelCallback is called before sending a request to the model.
type BeforeModelCallback func(cctx *CallbackContext, request *LLMRequest) (*LLMResponse, error)

// AfterModelCallback is called after receiving a response from the model.
type AfterModelCallback func(cctx *CallbackContext, response *LLMResponse) (*LLMResponse, error)

// BeforeToolCallback is called before executing a tool. Returning a non-empty
// map skips the tool and uses the map as its response.
type BeforeToolCallback func(tool Tool, args map[string]any, toolCtx *ToolContext) (map[string]any, error)

// AfterToolCallback is called after executing a tool. Returning a non-empty
// map replaces the tool response.
type AfterToolCallback func(tool Tool, args map[string]any, toolCtx *ToolContext, toolResponse map[string]any) (map[string]any, error)

// LLMAgent is an agent backed by a model call loop: an atomic task in
// workflow terms. The flow package drives it.
type LLMAgent interface {
	Agent

	// CanonicalModel returns the resolved model, inheriting from an ancestor
	// when the agent has none of its own.
	CanonicalModel() (Model, error)

	// CanonicalInstruction returns the resolved instruction for this agent.
	// State placeholders ({key}) are injected by the flow, not here.
	CanonicalInstruction(rctx *ReadOnlyContext) string

	// CanonicalTools returns the resolved tools available to this agent.
	CanonicalTools() []Tool

	// GenerateContentConfig returns the generation config for the agent.
	GenerateContentConfig() *genai.GenerateContentConfig

	// OutputKey returns the session state key the agent's final text output
	// is written under, or "" when the output isn't captured.
	OutputKey() string

	// BeforeModelCallbacks returns the before-model callbacks.
	BeforeModelCallbacks() []BeforeModelCallback

	// AfterModelCallbacks returns the after-model callbacks.
	AfterModelCallbacks() []AfterModelCallback

	// BeforeToolCallbacks returns the before-tool callbacks.
	BeforeToolCallbacks() []BeforeToolCallback

	// AfterToolCallbacks returns the after-tool callbacks.
	AfterToolCallbacks() []AfterToolCallback
}
