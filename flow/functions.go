// Copyright 2025 The HealthNav Authors
// SPDX-License-Identifier: Apache-2.0

package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"

	"golang.org/x/sync/errgroup"
	"google.golang.org/genai"

	"github.com/healthnav/healthnav/pkg/logging"
	"github.com/healthnav/healthnav/types"
)

// handleFunctionCalls dispatches the function calls requested by one model
// response, concurrently, and merges the results into a single function
// response event. Tool failures — including argument validation — are
// captured as structured failure payloads handed back into the conversation,
// never propagated as fatal errors; only context cancellation aborts.
func handleFunctionCalls(ctx context.Context, ictx *types.InvocationContext, llmAgent types.LLMAgent, funcCalls []*genai.FunctionCall, toolMap map[string]types.Tool) (*types.Event, error) {
	logger := logging.FromContext(ctx)

	parts := make([]*genai.Part, len(funcCalls))
	actions := make([]*types.EventActions, len(funcCalls))

	g, gctx := errgroup.WithContext(ctx)
	for i, funcCall := range funcCalls {
		g.Go(func() error {
			payload, toolActions := dispatchFunctionCall(gctx, ictx, llmAgent, funcCall, toolMap, logger)
			if err := gctx.Err(); err != nil {
				return err
			}
			parts[i] = genai.NewPartFromFunctionResponse(funcCall.Name, payload)
			parts[i].FunctionResponse.ID = funcCall.ID
			actions[i] = toolActions
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	event := types.NewEvent().
		WithInvocationID(ictx.InvocationID).
		WithAuthor(llmAgent.Name()).
		WithBranch(ictx.Branch).
		WithContent(&genai.Content{Role: genai.RoleUser, Parts: parts})
	for _, a := range actions {
		if a == nil {
			continue
		}
		maps.Copy(event.Actions.StateDelta, a.StateDelta)
		if a.Escalate {
			event.Actions.Escalate = true
		}
		if a.SkipSummarization {
			event.Actions.SkipSummarization = true
		}
	}
	return event, nil
}

// dispatchFunctionCall runs a single requested tool call through the
// before/after tool callbacks and returns its response payload plus any state
// actions it recorded.
func dispatchFunctionCall(ctx context.Context, ictx *types.InvocationContext, llmAgent types.LLMAgent, funcCall *genai.FunctionCall, toolMap map[string]types.Tool, logger *slog.Logger) (map[string]any, *types.EventActions) {
	t, ok := toolMap[funcCall.Name]
	if !ok {
		logger.WarnContext(ctx, "model requested unknown tool",
			slog.String("agent", llmAgent.Name()),
			slog.String("tool", funcCall.Name),
		)
		return map[string]any{"error": fmt.Sprintf("unknown tool %q", funcCall.Name)}, nil
	}

	toolCtx := types.NewToolContext(ictx).WithFunctionCallID(funcCall.ID)
	args := funcCall.Args
	if args == nil {
		args = make(map[string]any)
	}

	var response map[string]any
	for i, callback := range llmAgent.BeforeToolCallbacks() {
		replaced, err := callback(t, args, toolCtx)
		if err != nil {
			logger.WarnContext(ctx, "before tool callback failed",
				slog.String("tool", t.Name()),
				slog.Int("callback", i),
				slog.Any("error", err),
			)
			continue
		}
		if len(replaced) > 0 {
			response = replaced
			break
		}
	}

	if response == nil {
		result, err := t.Run(ctx, args, toolCtx)
		switch {
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			return nil, nil
		case err != nil:
			logger.WarnContext(ctx, "tool execution failed",
				slog.String("agent", llmAgent.Name()),
				slog.String("tool", t.Name()),
				slog.Any("error", err),
			)
			response = map[string]any{"error": err.Error()}
		default:
			response = normalizePayload(result)
		}
	}

	for i, callback := range llmAgent.AfterToolCallbacks() {
		replaced, err := callback(t, args, toolCtx, response)
		if err != nil {
			logger.WarnContext(ctx, "after tool callback failed",
				slog.String("tool", t.Name()),
				slog.Int("callback", i),
				slog.Any("error", err),
			)
			continue
		}
		if len(replaced) > 0 {
			response = replaced
			break
		}
	}

	return response, toolCtx.Actions()
}

// normalizePayload coerces a tool result into the map shape function
// responses require.
func normalizePayload(result any) map[string]any {
	switch v := result.(type) {
	case nil:
		return map[string]any{}
	case map[string]any:
		return v
	case string:
		return map[string]any{"result": v}
	default:
		return map[string]any{"result": v}
	}
}
