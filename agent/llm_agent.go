// Copyright 2025 The HealthNav Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"fmt"
	"iter"

	"google.golang.org/genai"

	"github.com/healthnav/healthnav/flow"
	"github.com/healthnav/healthnav/types"
)

// LLMAgent is an atomic task: one model call loop with an instruction, a tool
// set, and an optional output key its final text is captured under.
type LLMAgent struct {
	*BaseAgent

	model                 types.Model
	instruction           string
	instructionProvider   types.InstructionProvider
	tools                 []types.Tool
	outputKey             string
	generateContentConfig *genai.GenerateContentConfig

	beforeModelCallbacks []types.BeforeModelCallback
	afterModelCallbacks  []types.AfterModelCallback
	beforeToolCallbacks  []types.BeforeToolCallback
	afterToolCallbacks   []types.AfterToolCallback
}

var _ types.LLMAgent = (*LLMAgent)(nil)

// LLMOption configures an [LLMAgent].
type LLMOption func(*LLMAgent)

// WithModel sets the model backing the task. Tasks without a model of their
// own inherit the nearest ancestor's.
func WithModel(model types.Model) LLMOption {
	return func(a *LLMAgent) {
		a.model = model
	}
}

// WithInstruction sets a static instruction.
func WithInstruction(instruction string) LLMOption {
	return func(a *LLMAgent) {
		a.instruction = instruction
	}
}

// WithInstructionProvider sets a dynamic instruction built per request.
func WithInstructionProvider(provider types.InstructionProvider) LLMOption {
	return func(a *LLMAgent) {
		a.instructionProvider = provider
	}
}

// WithTools sets the tools available to the task.
func WithTools(tools ...types.Tool) LLMOption {
	return func(a *LLMAgent) {
		a.tools = tools
	}
}

// WithOutputKey captures the task's final text output under the given session
// state key.
func WithOutputKey(key string) LLMOption {
	return func(a *LLMAgent) {
		a.outputKey = key
	}
}

// WithGenerateContentConfig sets the generation config.
func WithGenerateContentConfig(config *genai.GenerateContentConfig) LLMOption {
	return func(a *LLMAgent) {
		a.generateContentConfig = config
	}
}

// WithBeforeModelCallbacks sets the before-model callbacks.
func WithBeforeModelCallbacks(callbacks ...types.BeforeModelCallback) LLMOption {
	return func(a *LLMAgent) {
		a.beforeModelCallbacks = callbacks
	}
}

// WithAfterModelCallbacks sets the after-model callbacks.
func WithAfterModelCallbacks(callbacks ...types.AfterModelCallback) LLMOption {
	return func(a *LLMAgent) {
		a.afterModelCallbacks = callbacks
	}
}

// WithBeforeToolCallbacks sets the before-tool callbacks.
func WithBeforeToolCallbacks(callbacks ...types.BeforeToolCallback) LLMOption {
	return func(a *LLMAgent) {
		a.beforeToolCallbacks = callbacks
	}
}

// WithAfterToolCallbacks sets the after-tool callbacks.
func WithAfterToolCallbacks(callbacks ...types.AfterToolCallback) LLMOption {
	return func(a *LLMAgent) {
		a.afterToolCallbacks = callbacks
	}
}

// WithAgentOptions applies base agent options.
func WithAgentOptions(opts ...Option) LLMOption {
	return func(a *LLMAgent) {
		for _, opt := range opts {
			opt(a.BaseAgent)
		}
	}
}

// NewLLMAgent creates an atomic model-backed task. The validated output key,
// if set, must be a writable state key.
func NewLLMAgent(name string, opts ...LLMOption) (*LLMAgent, error) {
	a := &LLMAgent{}
	a.BaseAgent = NewBaseAgent(name, a)
	for _, opt := range opts {
		opt(a)
	}

	// Sub-agents arriving through WithAgentOptions bypass NewBaseAgent's
	// parent wiring.
	for _, subAgent := range a.SubAgents() {
		if parent := subAgent.ParentAgent(); parent == nil {
			subAgent.SetParentAgent(a)
		} else if parent != types.Agent(a) {
			panic(fmt.Errorf("agent %s already has parent %s, cannot add to %s", subAgent.Name(), parent.Name(), name))
		}
	}

	if a.outputKey != "" {
		if err := types.ValidateStateKey(a.outputKey); err != nil {
			return nil, fmt.Errorf("agent %s output key: %w", name, err)
		}
	}
	return a, nil
}

// Execute implements [types.Agent] by running the model call loop.
func (a *LLMAgent) Execute(ctx context.Context, ictx *types.InvocationContext) iter.Seq2[*types.Event, error] {
	return flow.Run(ctx, ictx)
}

// AsLLMAgent implements [types.Agent].
func (a *LLMAgent) AsLLMAgent() (types.LLMAgent, bool) {
	return a, true
}

// CanonicalModel implements [types.LLMAgent]. It walks up the tree when the
// agent has no model of its own, so pipelines can set one model for all steps.
func (a *LLMAgent) CanonicalModel() (types.Model, error) {
	if a.model != nil {
		return a.model, nil
	}
	for ancestor := a.ParentAgent(); ancestor != nil; ancestor = ancestor.ParentAgent() {
		if llmAncestor, ok := ancestor.AsLLMAgent(); ok {
			if model, err := llmAncestor.CanonicalModel(); err == nil {
				return model, nil
			}
		}
	}
	return nil, fmt.Errorf("no model found for agent %s or its ancestors", a.Name())
}

// CanonicalInstruction implements [types.LLMAgent].
func (a *LLMAgent) CanonicalInstruction(rctx *types.ReadOnlyContext) string {
	if a.instructionProvider != nil {
		return a.instructionProvider(rctx)
	}
	return a.instruction
}

// CanonicalTools implements [types.LLMAgent].
func (a *LLMAgent) CanonicalTools() []types.Tool {
	return a.tools
}

// GenerateContentConfig implements [types.LLMAgent].
func (a *LLMAgent) GenerateContentConfig() *genai.GenerateContentConfig {
	return a.generateContentConfig
}

// OutputKey implements [types.LLMAgent].
func (a *LLMAgent) OutputKey() string {
	return a.outputKey
}

// BeforeModelCallbacks implements [types.LLMAgent].
func (a *LLMAgent) BeforeModelCallbacks() []types.BeforeModelCallback {
	return a.beforeModelCallbacks
}

// AfterModelCallbacks implements [types.LLMAgent].
func (a *LLMAgent) AfterModelCallbacks() []types.AfterModelCallback {
	return a.afterModelCallbacks
}

// BeforeToolCallbacks implements [types.LLMAgent].
func (a *LLMAgent) BeforeToolCallbacks() []types.BeforeToolCallback {
	return a.beforeToolCallbacks
}

// AfterToolCallbacks implements [types.LLMAgent].
func (a *LLMAgent) AfterToolCallbacks() []types.AfterToolCallback {
	return a.afterToolCallbacks
}
