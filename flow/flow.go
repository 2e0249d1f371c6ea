// Copyright 2025 The HealthNav Authors
// SPDX-License-Identifier: Apache-2.0

// Package flow drives the model call loop of an atomic task: build a request
// from the instruction, visible state and conversation history, let the model
// answer or request tool calls, dispatch the calls, and repeat until a final
// text answer lands or a budget runs out.
package flow

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/healthnav/healthnav/pkg/logging"
	"github.com/healthnav/healthnav/types"
)

const (
	defaultMaxToolCalls = 8

	retryAttempts     = 3
	retryInitialDelay = 200 * time.Millisecond
)

// Run executes the model call loop for the current agent of ictx, which must
// be an [types.LLMAgent]. Events are yielded as they are produced; the
// consumer is expected to append each one to the session before resuming, so
// the next loop iteration sees the in-progress exchange.
func Run(ctx context.Context, ictx *types.InvocationContext) iter.Seq2[*types.Event, error] {
	return func(yield func(*types.Event, error) bool) {
		logger := logging.FromContext(ctx)

		llmAgent, ok := ictx.Agent.AsLLMAgent()
		if !ok {
			yield(nil, fmt.Errorf("agent %s is not a model-backed task", ictx.Agent.Name()))
			return
		}

		model, err := llmAgent.CanonicalModel()
		if err != nil {
			yield(nil, err)
			return
		}

		maxToolCalls := defaultMaxToolCalls
		if ictx.RunConfig != nil && ictx.RunConfig.MaxToolCalls > 0 {
			maxToolCalls = ictx.RunConfig.MaxToolCalls
		}

		toolCalls := 0
		for {
			request := buildRequest(ctx, ictx, llmAgent)

			if err := ictx.IncrementLLMCallCount(); err != nil {
				yield(nil, err)
				return
			}

			response, err := applyBeforeModelCallbacks(ictx, llmAgent, request)
			if err != nil {
				yield(nil, err)
				return
			}
			if response == nil {
				if ictx.RunConfig != nil && ictx.RunConfig.Streaming {
					response, err = streamGenerate(ctx, model, request, func(chunk *types.LLMResponse) bool {
						partial := types.NewEvent().
							WithLLMResponse(chunk).
							WithInvocationID(ictx.InvocationID).
							WithAuthor(llmAgent.Name()).
							WithBranch(ictx.Branch)
						return yield(partial, nil)
					})
					if errors.Is(err, errStreamClosed) {
						return
					}
				} else {
					response, err = generateWithRetry(ctx, model, request, logger)
				}
			}
			if err != nil {
				logger.ErrorContext(ctx, "model call failed",
					slog.String("agent", llmAgent.Name()),
					slog.Any("error", err),
				)
				yield(nil, err)
				return
			}
			response, err = applyModelCallbacks(ictx, llmAgent, request, response)
			if err != nil {
				yield(nil, err)
				return
			}

			event := types.NewEvent().
				WithLLMResponse(response).
				WithInvocationID(ictx.InvocationID).
				WithAuthor(llmAgent.Name()).
				WithBranch(ictx.Branch)

			funcCalls := event.GetFunctionCalls()
			if len(funcCalls) == 0 {
				if key := llmAgent.OutputKey(); key != "" && event.Text() != "" {
					event.Actions.StateDelta[key] = event.Text()
				}
				yield(event, nil)
				return
			}

			if !yield(event, nil) {
				return
			}
			if ictx.EndInvocation {
				return
			}

			if toolCalls+len(funcCalls) > maxToolCalls {
				logger.WarnContext(ctx, "tool call limit reached, degrading answer",
					slog.String("agent", llmAgent.Name()),
					slog.Int("limit", maxToolCalls),
					slog.Any("error", types.ErrToolLoopExceeded),
				)
				degraded := types.NewEvent().
					WithLLMResponse(types.NewTextResponse(
						"I could not finish gathering information within my tool budget. " +
							"Here is what I have so far; please narrow the request and try again.")).
					WithInvocationID(ictx.InvocationID).
					WithAuthor(llmAgent.Name()).
					WithBranch(ictx.Branch)
				degraded.ErrorCode = "TOOL_LOOP_EXCEEDED"
				yield(degraded, nil)
				return
			}
			toolCalls += len(funcCalls)

			responseEvent, err := handleFunctionCalls(ctx, ictx, llmAgent, funcCalls, request.ToolMap)
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(responseEvent, nil) {
				return
			}
			if ictx.EndInvocation {
				return
			}
		}
	}
}

// buildRequest assembles the model request: system instruction with state
// placeholders injected, branch-visible history, and tool declarations.
func buildRequest(ctx context.Context, ictx *types.InvocationContext, llmAgent types.LLMAgent) *types.LLMRequest {
	request := types.NewLLMRequest()
	if config := llmAgent.GenerateContentConfig(); config != nil {
		cloned := *config
		request.Config = &cloned
	}

	if instruction := llmAgent.CanonicalInstruction(types.NewReadOnlyContext(ictx)); instruction != "" {
		request.AppendInstructions(injectState(instruction, ictx.Session.State()))
	}

	request.Contents = buildContents(ictx)

	toolCtx := types.NewToolContext(ictx)
	for _, t := range llmAgent.CanonicalTools() {
		if err := t.ProcessLLMRequest(ctx, toolCtx, request); err != nil {
			logging.FromContext(ctx).WarnContext(ctx, "tool request processing failed",
				slog.String("tool", t.Name()),
				slog.Any("error", err),
			)
		}
	}
	return request
}

// HistoryContents returns the conversation history visible on the
// invocation's branch, as model contents. Agents that drive the model outside
// the standard loop, like the router's classifier, use it to give the model
// the same view a regular task would get.
func HistoryContents(ictx *types.InvocationContext) []*genai.Content {
	return buildContents(ictx)
}

// buildContents converts the branch-visible session history into model contents.
func buildContents(ictx *types.InvocationContext) []*genai.Content {
	var contents []*genai.Content
	for _, event := range ictx.Session.Events() {
		if event.LLMResponse == nil || event.Content == nil || len(event.Content.Parts) == 0 {
			continue
		}
		if !branchVisible(ictx.Branch, event.Branch) {
			continue
		}
		contents = append(contents, event.Content)
	}
	return contents
}

// branchVisible reports whether an event recorded on eventBranch is visible
// to an agent running on current. Events from ancestors (and the agent's own
// branch) are visible; peer branches are not.
func branchVisible(current, eventBranch string) bool {
	if eventBranch == "" {
		return true
	}
	return current == eventBranch || strings.HasPrefix(current, eventBranch+".")
}

var statePlaceholder = regexp.MustCompile(`\{\+?([a-zA-Z0-9_]+(?::[a-zA-Z0-9_]+)?)(\?)?\}`)

// injectState substitutes {key} placeholders in an instruction template with
// values from the session state. Placeholders marked optional with a trailing
// question mark collapse to an empty string when the key is absent; required
// placeholders are left untouched so the model sees that the value is missing.
func injectState(template string, state map[string]any) string {
	return statePlaceholder.ReplaceAllStringFunc(template, func(match string) string {
		groups := statePlaceholder.FindStringSubmatch(match)
		key, optional := groups[1], groups[2] == "?"
		if val, ok := state[key]; ok {
			return fmt.Sprintf("%v", val)
		}
		if optional {
			return ""
		}
		return match
	})
}

// applyBeforeModelCallbacks returns a non-nil response when a callback
// short-circuits the model call.
func applyBeforeModelCallbacks(ictx *types.InvocationContext, llmAgent types.LLMAgent, request *types.LLMRequest) (*types.LLMResponse, error) {
	cctx := types.NewCallbackContext(ictx)
	for i, callback := range llmAgent.BeforeModelCallbacks() {
		response, err := callback(cctx, request)
		if err != nil {
			return nil, fmt.Errorf("beforeModelCallbacks[%d]: %w", i, err)
		}
		if response != nil {
			return response, nil
		}
	}
	return nil, nil
}

func applyModelCallbacks(ictx *types.InvocationContext, llmAgent types.LLMAgent, request *types.LLMRequest, response *types.LLMResponse) (*types.LLMResponse, error) {
	cctx := types.NewCallbackContext(ictx)
	for i, callback := range llmAgent.AfterModelCallbacks() {
		replaced, err := callback(cctx, response)
		if err != nil {
			return nil, fmt.Errorf("afterModelCallbacks[%d]: %w", i, err)
		}
		if replaced != nil {
			return replaced, nil
		}
	}
	return response, nil
}

// generateWithRetry calls the model, retrying transient failures a bounded
// number of times with exponential backoff before giving up with
// [types.ErrBackendUnavailable]. The failure is fatal to the requesting task
// only; siblings in a parallel group are unaffected.
func generateWithRetry(ctx context.Context, model types.Model, request *types.LLMRequest, logger *slog.Logger) (*types.LLMResponse, error) {
	delay := retryInitialDelay
	var lastErr error

	for attempt := 1; attempt <= retryAttempts; attempt++ {
		response, err := model.GenerateContent(ctx, request)
		if err == nil {
			return response, nil
		}
		lastErr = err

		if !isTransient(err) {
			return nil, err
		}
		logger.WarnContext(ctx, "transient backend error, retrying",
			slog.String("model", model.Name()),
			slog.Int("attempt", attempt),
			slog.Any("error", err),
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}

	return nil, fmt.Errorf("%w: %v", types.ErrBackendUnavailable, lastErr)
}

// GenerateWithRetry is the retry wrapper used by agents that drive the model
// outside the standard loop, such as the router's intent classification.
func GenerateWithRetry(ctx context.Context, model types.Model, request *types.LLMRequest) (*types.LLMResponse, error) {
	return generateWithRetry(ctx, model, request, logging.FromContext(ctx))
}

// errStreamClosed marks a stream abandoned by its consumer mid-chunk.
var errStreamClosed = errors.New("stream consumer stopped")

// streamGenerate drives a chunked backend call: partial chunks go to emit as
// they arrive, and the complete response is returned for the regular loop
// handling. Partial chunks are never the loop's answer; a stream that ends
// without a complete response is a backend error.
func streamGenerate(ctx context.Context, model types.Model, request *types.LLMRequest, emit func(*types.LLMResponse) bool) (*types.LLMResponse, error) {
	var final *types.LLMResponse
	for chunk, err := range model.StreamGenerateContent(ctx, request) {
		if err != nil {
			return nil, err
		}
		if chunk.Partial {
			if !emit(chunk) {
				return nil, errStreamClosed
			}
			continue
		}
		final = chunk
	}
	if final == nil {
		return nil, fmt.Errorf("model %s: stream ended without a complete response", model.Name())
	}
	return final, nil
}

func isTransient(err error) bool {
	return errors.Is(err, types.ErrTransientBackend)
}
