// Copyright 2025 The HealthNav Authors
// SPDX-License-Identifier: Apache-2.0

package tool

import (
	"context"
	"fmt"
	"maps"

	"google.golang.org/genai"

	"github.com/healthnav/healthnav/types"
)

// Param declares one parameter of a [FunctionTool].
type Param struct {
	// Name of the parameter.
	Name string

	// Type of the parameter value.
	Type genai.Type

	// Description shown to the model.
	Description string

	// Required parameters must be present and well-typed, or the call fails
	// with [types.ErrInvalidArguments] before the function is invoked.
	Required bool
}

// Func is a user-defined function wrapped by a [FunctionTool]. Side effects
// are the function's responsibility; state access goes through toolCtx.
type Func func(ctx context.Context, args map[string]any, toolCtx *types.ToolContext) (any, error)

// FunctionTool wraps a typed function as an invocable tool with a declared
// parameter schema and effect class.
type FunctionTool struct {
	*Tool

	params []Param
	fn     Func
}

var _ types.Tool = (*FunctionTool)(nil)

// FunctionToolOption configures a [FunctionTool].
type FunctionToolOption func(*FunctionTool)

// WithParams declares the parameter schema for the tool.
func WithParams(params ...Param) FunctionToolOption {
	return func(t *FunctionTool) {
		t.params = params
	}
}

// NewFunctionTool returns a new [FunctionTool] wrapping fn.
func NewFunctionTool(name, description string, effect types.ToolEffect, fn Func, opts ...FunctionToolOption) *FunctionTool {
	t := &FunctionTool{
		Tool: NewTool(name, description, effect),
		fn:   fn,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// GetDeclaration implements [types.Tool].
func (t *FunctionTool) GetDeclaration() *genai.FunctionDeclaration {
	decl := &genai.FunctionDeclaration{
		Name:        t.Name(),
		Description: t.Description(),
	}
	if len(t.params) == 0 {
		return decl
	}

	schema := &genai.Schema{
		Type:       genai.TypeObject,
		Properties: make(map[string]*genai.Schema, len(t.params)),
	}
	for _, p := range t.params {
		schema.Properties[p.Name] = &genai.Schema{
			Type:        p.Type,
			Description: p.Description,
		}
		if p.Required {
			schema.Required = append(schema.Required, p.Name)
		}
	}
	decl.Parameters = schema
	return decl
}

// Run implements [types.Tool].
//
// Arguments are validated against the declared schema first; a missing or
// mistyped required parameter short-circuits before the wrapped function is
// reached. Pure tools get a read-only state view.
func (t *FunctionTool) Run(ctx context.Context, args map[string]any, toolCtx *types.ToolContext) (any, error) {
	if err := t.validateArgs(args); err != nil {
		return nil, err
	}
	if t.Effect() == types.EffectPure && toolCtx != nil {
		toolCtx = toolCtx.WithReadOnlyState()
	}

	result, err := t.fn(ctx, maps.Clone(args), toolCtx)
	if err != nil {
		return nil, &types.ToolExecutionError{Tool: t.Name(), Err: err}
	}
	return result, nil
}

// ProcessLLMRequest implements [types.Tool].
func (t *FunctionTool) ProcessLLMRequest(ctx context.Context, toolCtx *types.ToolContext, request *types.LLMRequest) error {
	return t.processFor(t, request)
}

func (t *FunctionTool) validateArgs(args map[string]any) error {
	for _, p := range t.params {
		val, ok := args[p.Name]
		if !ok {
			if p.Required {
				return fmt.Errorf("%w: missing required parameter %q for tool %s", types.ErrInvalidArguments, p.Name, t.Name())
			}
			continue
		}
		if !typeMatches(p.Type, val) {
			return fmt.Errorf("%w: parameter %q of tool %s has type %T, want %s", types.ErrInvalidArguments, p.Name, t.Name(), val, p.Type)
		}
	}
	return nil
}

func typeMatches(want genai.Type, val any) bool {
	switch want {
	case genai.TypeString:
		_, ok := val.(string)
		return ok
	case genai.TypeBoolean:
		_, ok := val.(bool)
		return ok
	case genai.TypeNumber, genai.TypeInteger:
		switch val.(type) {
		case float64, float32, int, int32, int64:
			return true
		}
		return false
	case genai.TypeArray:
		_, ok := val.([]any)
		return ok
	case genai.TypeObject:
		_, ok := val.(map[string]any)
		return ok
	}
	return true
}
