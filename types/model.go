// Copyright 2025 The HealthNav Authors
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"context"
	"iter"
	"strings"

	"google.golang.org/genai"
)

// Model represents a generative backend that produces a task's output from an
// instruction, conversation history and tool declarations.
type Model interface {
	// Name returns the name of the model, e.g. gemini-2.5-flash.
	Name() string

	// GenerateContent generates one content from the given contents and tools.
	//
	// Retryable failures are wrapped with [ErrTransientBackend]; everything
	// else is terminal for the call.
	GenerateContent(ctx context.Context, request *LLMRequest) (*LLMResponse, error)

	// StreamGenerateContent generates content with a streaming call.
	StreamGenerateContent(ctx context.Context, request *LLMRequest) iter.Seq2[*LLMResponse, error]
}

// LLMRequest represents a single request to the model backend.
type LLMRequest struct {
	// Model is the model name to use, when the backend supports several.
	Model string

	// Contents is the ordered conversation history, including in-progress
	// function calls and responses.
	Contents []*genai.Content

	// Config carries the system instruction and tool declarations.
	Config *genai.GenerateContentConfig

	// ToolMap indexes the tools declared in Config by name, so the flow can
	// dispatch function calls requested by the model.
	ToolMap map[string]Tool
}

// NewLLMRequest creates an empty [LLMRequest] with an initialized tool map.
func NewLLMRequest() *LLMRequest {
	return &LLMRequest{
		Config:  &genai.GenerateContentConfig{},
		ToolMap: make(map[string]Tool),
	}
}

// AppendInstructions appends the given instructions to the system instruction.
func (r *LLMRequest) AppendInstructions(instructions ...string) {
	if len(instructions) == 0 {
		return
	}
	if r.Config == nil {
		r.Config = &genai.GenerateContentConfig{}
	}
	if r.Config.SystemInstruction == nil {
		r.Config.SystemInstruction = &genai.Content{Role: "system"}
	}
	text := strings.Join(instructions, "\n\n")
	if len(r.Config.SystemInstruction.Parts) > 0 {
		text = "\n\n" + text
	}
	r.Config.SystemInstruction.Parts = append(r.Config.SystemInstruction.Parts, genai.NewPartFromText(text))
}

// LLMResponse represents a response from the model backend.
type LLMResponse struct {
	// Content is the content of the response.
	Content *genai.Content

	// Partial indicates whether the text content is part of an unfinished
	// text stream.
	Partial bool

	// TurnComplete indicates whether the response from the model is complete.
	// Only used for streaming mode.
	TurnComplete bool

	// ErrorCode is a backend-specific error code when the response is an
	// error, or a local degradation marker such as "TOOL_LOOP_EXCEEDED".
	ErrorCode string

	// ErrorMessage is the error message if the response is an error.
	ErrorMessage string
}

// Text returns the concatenated text of all text parts in the response.
func (r *LLMResponse) Text() string {
	if r == nil || r.Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range r.Content.Parts {
		if part != nil && part.Text != "" {
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}

// NewTextResponse creates an [LLMResponse] holding a single model text part.
func NewTextResponse(text string) *LLMResponse {
	return &LLMResponse{
		Content: genai.NewContentFromText(text, genai.RoleModel),
	}
}
