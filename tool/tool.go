// Copyright 2025 The HealthNav Authors
// SPDX-License-Identifier: Apache-2.0

// Package tool provides the adapters that make functions and whole workflows
// invocable by an agent's model loop.
package tool

import (
	"context"
	"errors"

	"google.golang.org/genai"

	"github.com/healthnav/healthnav/types"
)

// Tool is the base for all tool adapters. It carries the identity and effect
// class and knows how to attach its declaration to an outgoing model request;
// the adapter itself is stateless.
type Tool struct {
	name        string
	description string
	effect      types.ToolEffect
}

var _ types.Tool = (*Tool)(nil)

// NewTool returns a tool base with the given name, description and effect class.
func NewTool(name, description string, effect types.ToolEffect) *Tool {
	return &Tool{
		name:        name,
		description: description,
		effect:      effect,
	}
}

// Name implements [types.Tool].
func (t *Tool) Name() string {
	return t.name
}

// Description implements [types.Tool].
func (t *Tool) Description() string {
	return t.description
}

// Effect implements [types.Tool].
func (t *Tool) Effect() types.ToolEffect {
	return t.effect
}

// GetDeclaration implements [types.Tool].
func (t *Tool) GetDeclaration() *genai.FunctionDeclaration {
	return nil
}

// Run implements [types.Tool].
func (t *Tool) Run(ctx context.Context, args map[string]any, toolCtx *types.ToolContext) (any, error) {
	return nil, errors.New("not implemented")
}

// ProcessLLMRequest implements [types.Tool].
//
// processFor registers the concrete tool (not the base) in the request's
// tool map and appends its declaration, so embedding types call it with
// themselves.
func (t *Tool) ProcessLLMRequest(ctx context.Context, toolCtx *types.ToolContext, request *types.LLMRequest) error {
	return t.processFor(t, request)
}

func (t *Tool) processFor(concrete types.Tool, request *types.LLMRequest) error {
	funcDeclaration := concrete.GetDeclaration()
	if funcDeclaration == nil {
		return nil
	}

	if request.ToolMap == nil {
		request.ToolMap = make(map[string]types.Tool)
	}
	request.ToolMap[concrete.Name()] = concrete

	if request.Config == nil {
		request.Config = &genai.GenerateContentConfig{}
	}
	for _, existing := range request.Config.Tools {
		if len(existing.FunctionDeclarations) > 0 {
			existing.FunctionDeclarations = append(existing.FunctionDeclarations, funcDeclaration)
			return nil
		}
	}
	request.Config.Tools = append(request.Config.Tools, &genai.Tool{
		FunctionDeclarations: []*genai.FunctionDeclaration{funcDeclaration},
	})
	return nil
}
