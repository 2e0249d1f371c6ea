// Copyright 2025 The HealthNav Authors
// SPDX-License-Identifier: Apache-2.0

// Package model implements the generative backends: Gemini through the genai
// SDK, Claude through the Anthropic SDK, and a scripted model for tests.
package model

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"os"
	"strings"

	"google.golang.org/genai"

	"github.com/healthnav/healthnav/types"
)

const (
	// GeminiDefaultModel is the model used when none is configured.
	GeminiDefaultModel = "gemini-2.0-flash"

	// EnvGeminiAPIKey is the environment variable holding the Gemini API key.
	EnvGeminiAPIKey = "GOOGLE_API_KEY"
)

// Gemini talks to the Gemini API.
type Gemini struct {
	name   string
	client *genai.Client
}

var _ types.Model = (*Gemini)(nil)

// NewGemini creates a Gemini-backed model. An empty apiKey falls back to the
// EnvGeminiAPIKey environment variable; an empty modelName falls back to
// [GeminiDefaultModel].
func NewGemini(ctx context.Context, apiKey, modelName string) (*Gemini, error) {
	if apiKey == "" {
		apiKey = os.Getenv(EnvGeminiAPIKey)
		if apiKey == "" {
			return nil, fmt.Errorf("either apiKey arg or %q environment variable must be set", EnvGeminiAPIKey)
		}
	}
	if modelName == "" {
		modelName = GeminiDefaultModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	return &Gemini{
		name:   modelName,
		client: client,
	}, nil
}

// Name implements [types.Model].
func (m *Gemini) Name() string {
	return m.name
}

// GenerateContent implements [types.Model].
func (m *Gemini) GenerateContent(ctx context.Context, request *types.LLMRequest) (*types.LLMResponse, error) {
	modelName := request.Model
	if modelName == "" {
		modelName = m.name
	}

	resp, err := m.client.Models.GenerateContent(ctx, modelName, request.Contents, request.Config)
	if err != nil {
		return nil, classifyGeminiError(err)
	}
	return responseFromCandidates(resp), nil
}

// StreamGenerateContent implements [types.Model]. Text arrives as partial
// chunks; the last yielded response carries the aggregated content and
// TurnComplete.
func (m *Gemini) StreamGenerateContent(ctx context.Context, request *types.LLMRequest) iter.Seq2[*types.LLMResponse, error] {
	return func(yield func(*types.LLMResponse, error) bool) {
		modelName := request.Model
		if modelName == "" {
			modelName = m.name
		}

		var text strings.Builder
		var parts []*genai.Part
		for resp, err := range m.client.Models.GenerateContentStream(ctx, modelName, request.Contents, request.Config) {
			if err != nil {
				yield(nil, classifyGeminiError(err))
				return
			}
			chunk := responseFromCandidates(resp)
			if chunk.Content == nil {
				continue
			}
			for _, part := range chunk.Content.Parts {
				if part == nil {
					continue
				}
				if part.Text != "" {
					text.WriteString(part.Text)
				} else {
					parts = append(parts, part)
				}
			}
			chunk.Partial = true
			if !yield(chunk, nil) {
				return
			}
		}

		if text.Len() > 0 {
			parts = append([]*genai.Part{genai.NewPartFromText(text.String())}, parts...)
		}
		final := &types.LLMResponse{
			Content:      &genai.Content{Role: genai.RoleModel, Parts: parts},
			TurnComplete: true,
		}
		yield(final, nil)
	}
}

func responseFromCandidates(resp *genai.GenerateContentResponse) *types.LLMResponse {
	response := &types.LLMResponse{}
	if resp == nil || len(resp.Candidates) == 0 {
		return response
	}

	candidate := resp.Candidates[0]
	response.Content = candidate.Content
	if candidate.FinishReason != "" && candidate.FinishReason != genai.FinishReasonStop {
		response.ErrorCode = string(candidate.FinishReason)
		response.ErrorMessage = candidate.FinishMessage
	}
	return response
}

// classifyGeminiError marks rate limits and server-side failures as
// transient so the flow retries them.
func classifyGeminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == 429 || apiErr.Code >= 500 {
			return fmt.Errorf("%w: %v", types.ErrTransientBackend, err)
		}
	}
	return err
}
