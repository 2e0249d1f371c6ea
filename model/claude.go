// Copyright 2025 The HealthNav Authors
// SPDX-License-Identifier: Apache-2.0

package model

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"maps"
	"os"
	"slices"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/param"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"
	"github.com/bytedance/sonic"
	"google.golang.org/genai"

	"github.com/healthnav/healthnav/types"
)

const (
	// ClaudeDefaultModel is the model used when none is configured.
	ClaudeDefaultModel = string(anthropic.ModelClaude3_5SonnetLatest)

	// EnvAnthropicAPIKey is the environment variable holding the Anthropic
	// API key.
	EnvAnthropicAPIKey = "ANTHROPIC_API_KEY"

	claudeDefaultMaxTokens = 4096
)

// Claude talks to the Anthropic API.
type Claude struct {
	name   string
	client anthropic.Client
}

var _ types.Model = (*Claude)(nil)

// NewClaude creates a Claude-backed model. An empty apiKey falls back to the
// EnvAnthropicAPIKey environment variable; an empty modelName falls back to
// [ClaudeDefaultModel].
func NewClaude(apiKey, modelName string) (*Claude, error) {
	if apiKey == "" {
		apiKey = os.Getenv(EnvAnthropicAPIKey)
		if apiKey == "" {
			return nil, fmt.Errorf("either apiKey arg or %q environment variable must be set", EnvAnthropicAPIKey)
		}
	}
	if modelName == "" {
		modelName = ClaudeDefaultModel
	}

	return &Claude{
		name:   modelName,
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
	}, nil
}

// Name implements [types.Model].
func (m *Claude) Name() string {
	return m.name
}

// GenerateContent implements [types.Model].
func (m *Claude) GenerateContent(ctx context.Context, request *types.LLMRequest) (*types.LLMResponse, error) {
	params, err := m.messageParams(request)
	if err != nil {
		return nil, err
	}

	message, err := m.client.Messages.New(ctx, params)
	if err != nil {
		return nil, classifyClaudeError(err)
	}
	return claudeMessageToResponse(message), nil
}

// StreamGenerateContent implements [types.Model]. Text deltas arrive as
// partial chunks; the last yielded response is the accumulated message.
func (m *Claude) StreamGenerateContent(ctx context.Context, request *types.LLMRequest) iter.Seq2[*types.LLMResponse, error] {
	return func(yield func(*types.LLMResponse, error) bool) {
		params, err := m.messageParams(request)
		if err != nil {
			yield(nil, err)
			return
		}

		stream := m.client.Messages.NewStreaming(ctx, params)
		var message anthropic.Message
		for stream.Next() {
			event := stream.Current()
			if err := message.Accumulate(event); err != nil {
				yield(nil, fmt.Errorf("accumulate stream event: %w", err))
				return
			}

			if event.Type == "content_block_delta" {
				delta := event.AsContentBlockDelta()
				if delta.Delta.Type == "text_delta" && delta.Delta.Text != "" {
					chunk := &types.LLMResponse{
						Content: genai.NewContentFromText(delta.Delta.Text, genai.RoleModel),
						Partial: true,
					}
					if !yield(chunk, nil) {
						return
					}
				}
			}
		}
		if err := stream.Err(); err != nil {
			yield(nil, classifyClaudeError(err))
			return
		}

		final := claudeMessageToResponse(&message)
		final.TurnComplete = true
		yield(final, nil)
	}
}

// messageParams converts an [types.LLMRequest] into Anthropic message params:
// system instruction, generation knobs, tool declarations, and the message
// history.
func (m *Claude) messageParams(request *types.LLMRequest) (anthropic.MessageNewParams, error) {
	modelName := request.Model
	if modelName == "" {
		modelName = m.name
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(modelName),
		MaxTokens: claudeDefaultMaxTokens,
	}

	params.Messages = make([]anthropic.MessageParam, 0, len(request.Contents))
	for _, content := range request.Contents {
		msg, ok := contentToMessageParam(content)
		if ok {
			params.Messages = append(params.Messages, msg)
		}
	}

	if config := request.Config; config != nil {
		if config.MaxOutputTokens > 0 {
			params.MaxTokens = int64(config.MaxOutputTokens)
		}
		if config.Temperature != nil {
			params.Temperature = anthropic.Float(float64(*config.Temperature))
		}
		if config.TopK != nil {
			params.TopK = anthropic.Int(int64(*config.TopK))
		}
		if config.TopP != nil {
			params.TopP = anthropic.Float(float64(*config.TopP))
		}

		if system := config.SystemInstruction; system != nil {
			var text string
			for _, part := range system.Parts {
				if part != nil {
					text += part.Text
				}
			}
			if text != "" {
				params.System = []anthropic.TextBlockParam{{
					Text: text,
					Type: constant.ValueOf[constant.Text]().Default(),
				}}
			}
		}

		var tools []anthropic.ToolUnionParam
		for _, tool := range config.Tools {
			for _, declaration := range tool.FunctionDeclarations {
				toolUnion, err := functionDeclarationToToolParam(declaration)
				if err != nil {
					return params, err
				}
				tools = append(tools, toolUnion)
			}
		}
		params.Tools = tools
	}

	return params, nil
}

func functionDeclarationToToolParam(declaration *genai.FunctionDeclaration) (toolUnion anthropic.ToolUnionParam, err error) {
	if declaration.Name == "" {
		return toolUnion, errors.New("function declaration name is empty")
	}

	inputSchemaProps := make(map[string]*genai.Schema)
	if parameters := declaration.Parameters; parameters != nil && parameters.Properties != nil {
		maps.Insert(inputSchemaProps, maps.All(parameters.Properties))
	}
	inputSchema := anthropic.ToolInputSchemaParam{
		Type:       constant.ValueOf[constant.Object]().Default(),
		Properties: inputSchemaProps,
	}

	toolUnion = anthropic.ToolUnionParamOfTool(inputSchema, declaration.Name)
	toolUnion.OfTool.Description = param.NewOpt(declaration.Description)
	return toolUnion, nil
}

var modelRoles = []string{genai.RoleModel, "assistant"}

func asClaudeRole(role string) anthropic.MessageParamRole {
	if slices.Contains(modelRoles, role) {
		return anthropic.MessageParamRoleAssistant
	}
	return anthropic.MessageParamRoleUser
}

func contentToMessageParam(content *genai.Content) (msgParam anthropic.MessageParam, ok bool) {
	if content == nil {
		return msgParam, false
	}
	msgParam.Role = asClaudeRole(content.Role)

	msgParam.Content = make([]anthropic.ContentBlockParamUnion, 0, len(content.Parts))
	for _, part := range content.Parts {
		block, err := partToMessageBlock(part)
		if err != nil {
			continue
		}
		msgParam.Content = append(msgParam.Content, block)
	}
	return msgParam, len(msgParam.Content) > 0
}

func partToMessageBlock(part *genai.Part) (anthropic.ContentBlockParamUnion, error) {
	switch {
	case part == nil:
		return anthropic.ContentBlockParamUnion{}, errors.New("nil part")

	case part.Text != "":
		block := anthropic.NewTextBlock(part.Text)
		return block, nil

	case part.FunctionCall != nil:
		funcCall := part.FunctionCall
		if funcCall.Name == "" {
			return anthropic.ContentBlockParamUnion{}, errors.New("function call name is empty")
		}
		block := anthropic.NewToolUseBlock(funcCall.ID, funcCall.Args, funcCall.Name)
		return block, nil

	case part.FunctionResponse != nil:
		funcResp := part.FunctionResponse
		payload, err := sonic.ConfigFastest.MarshalToString(funcResp.Response)
		if err != nil {
			return anthropic.ContentBlockParamUnion{}, fmt.Errorf("encode tool result: %w", err)
		}
		block := anthropic.NewToolResultBlock(funcResp.ID, payload, false)
		return block, nil
	}

	return anthropic.ContentBlockParamUnion{}, fmt.Errorf("unsupported part type %#v", part)
}

func claudeContentBlockToPart(contentBlock anthropic.ContentBlockUnion) (*genai.Part, error) {
	switch block := contentBlock.AsAny().(type) {
	case anthropic.TextBlock:
		return genai.NewPartFromText(block.Text), nil

	case anthropic.ToolUseBlock:
		if block.Input == nil {
			return nil, fmt.Errorf("tool use block without input: %#v", block)
		}
		var args map[string]any
		if err := sonic.ConfigFastest.Unmarshal(block.Input, &args); err != nil {
			return nil, fmt.Errorf("unmarshal tool use input: %w", err)
		}
		part := genai.NewPartFromFunctionCall(block.Name, args)
		part.FunctionCall.ID = block.ID
		return part, nil
	}

	return nil, fmt.Errorf("unsupported content block %T", contentBlock.AsAny())
}

func claudeMessageToResponse(message *anthropic.Message) *types.LLMResponse {
	parts := make([]*genai.Part, 0, len(message.Content))
	for _, content := range message.Content {
		part, err := claudeContentBlockToPart(content)
		if err != nil {
			continue
		}
		parts = append(parts, part)
	}

	return &types.LLMResponse{
		Content: &genai.Content{
			Role:  genai.RoleModel,
			Parts: parts,
		},
	}
}

// classifyClaudeError marks rate limits and server-side failures as transient
// so the flow retries them.
func classifyClaudeError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == 429 || apiErr.StatusCode >= 500 {
			return fmt.Errorf("%w: %v", types.ErrTransientBackend, err)
		}
	}
	return err
}
