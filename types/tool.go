// Copyright 2025 The HealthNav Authors
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"context"

	"google.golang.org/genai"
)

// ToolEffect classifies what a tool may do to session state.
type ToolEffect string

const (
	// EffectPure marks a tool that never mutates state.
	EffectPure ToolEffect = "pure"

	// EffectStateful marks a tool that may read and write session state
	// through its injected [ToolContext].
	EffectStateful ToolEffect = "stateful"
)

// Tool is an invocable unit a task can call.
type Tool interface {
	// Name returns the name of the tool.
	Name() string

	// Description returns the description of the tool.
	Description() string

	// Effect returns the tool's declared effect class.
	Effect() ToolEffect

	// GetDeclaration returns the function declaration advertised to the
	// model, or nil for tools that only preprocess the request.
	GetDeclaration() *genai.FunctionDeclaration

	// Run invokes the tool with schema-checked arguments.
	Run(ctx context.Context, args map[string]any, toolCtx *ToolContext) (any, error)

	// ProcessLLMRequest attaches the tool to an outgoing model request.
	ProcessLLMRequest(ctx context.Context, toolCtx *ToolContext, request *LLMRequest) error
}
