// Copyright 2025 The HealthNav Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"google.golang.org/genai"

	"github.com/healthnav/healthnav/flow"
	"github.com/healthnav/healthnav/pkg/logging"
	"github.com/healthnav/healthnav/tool"
	"github.com/healthnav/healthnav/types"
)

// routeRequestParam is the argument every intent declaration carries: the
// user's request as the router wants the specialist to see it.
const routeRequestParam = "request"

// maxClassifyCalls bounds the router's own model loop. Classification is a
// short exchange; anything longer indicates a confused model.
const maxClassifyCalls = 4

// Delegate binds an intent to the workflow that handles it.
type Delegate struct {
	// Agent handles the intent. It becomes a sub-agent of the router.
	Agent types.Agent

	// RequiresFact names a state key that must hold a value before the
	// delegate runs. When the key is empty at dispatch time the router asks
	// ClarifyingQuestion instead and parks the turn.
	RequiresFact string

	// ClarifyingQuestion is the question asked when RequiresFact is missing.
	ClarifyingQuestion string
}

// RouterAgent classifies each user turn into one intent and dispatches it to
// the delegate registered for that intent. The intent registry is explicit
// and validated at construction; at most one delegate runs per turn.
//
// When a delegate needs a fact the session doesn't have yet, the router asks
// for it and records a pending marker in session state; the next turn resumes
// the parked delegation with the fact filled in.
type RouterAgent struct {
	*BaseAgent

	model      types.Model
	delegates  map[string]Delegate
	agentTools map[string]*tool.AgentTool
	intents    []string

	instruction string
	fallback    string
	factTools   []types.Tool
}

var _ types.Agent = (*RouterAgent)(nil)

// RouterOption configures a [RouterAgent].
type RouterOption func(*RouterAgent)

// WithRouterModel sets the classification model.
func WithRouterModel(model types.Model) RouterOption {
	return func(a *RouterAgent) {
		a.model = model
	}
}

// WithRouterInstruction sets the classification instruction prefix.
func WithRouterInstruction(instruction string) RouterOption {
	return func(a *RouterAgent) {
		a.instruction = instruction
	}
}

// WithFallback sets the answer used when no intent matches and the model
// produced no text of its own.
func WithFallback(text string) RouterOption {
	return func(a *RouterAgent) {
		a.fallback = text
	}
}

// WithFactTools sets the tools the router may call while classifying, such as
// lookups and setters for user profile facts.
func WithFactTools(tools ...types.Tool) RouterOption {
	return func(a *RouterAgent) {
		a.factTools = tools
	}
}

// WithRouterOptions applies base agent options.
func WithRouterOptions(opts ...Option) RouterOption {
	return func(a *RouterAgent) {
		for _, opt := range opts {
			opt(a.BaseAgent)
		}
	}
}

// NewRouterAgent creates a router over an explicit intent registry. The
// registry is validated eagerly: a missing model, an empty registry, an
// invalid intent name, a delegate that already has a parent, or a delegate
// subtree containing the router itself all fail construction.
func NewRouterAgent(name string, delegates map[string]Delegate, opts ...RouterOption) (*RouterAgent, error) {
	a := &RouterAgent{
		delegates: delegates,
		fallback:  "I'm not able to help with that request.",
	}
	a.BaseAgent = NewBaseAgent(name, a)
	for _, opt := range opts {
		opt(a)
	}

	if a.model == nil {
		return nil, fmt.Errorf("router %s: no classification model", name)
	}
	if len(delegates) == 0 {
		return nil, fmt.Errorf("router %s: empty intent registry", name)
	}

	a.intents = slices.Sorted(maps.Keys(delegates))
	subAgents := make([]types.Agent, 0, len(a.intents))
	for _, intent := range a.intents {
		d := delegates[intent]
		if err := validateName(intent); err != nil {
			return nil, fmt.Errorf("router %s: intent %q: %w", name, intent, err)
		}
		if d.Agent == nil {
			return nil, fmt.Errorf("router %s: intent %q has no delegate", name, intent)
		}
		if parent := d.Agent.ParentAgent(); parent != nil {
			return nil, fmt.Errorf("router %s: delegate %s already belongs to %s", name, d.Agent.Name(), parent.Name())
		}
		if d.Agent.FindAgent(name) != nil {
			return nil, fmt.Errorf("router %s: delegate %s contains the router, delegation would cycle", name, d.Agent.Name())
		}
		if d.RequiresFact != "" {
			if err := types.ValidateStateKey(d.RequiresFact); err != nil {
				return nil, fmt.Errorf("router %s: intent %q required fact: %w", name, intent, err)
			}
			if d.ClarifyingQuestion == "" {
				return nil, fmt.Errorf("router %s: intent %q requires fact %q but has no clarifying question", name, intent, d.RequiresFact)
			}
		}
		subAgents = append(subAgents, d.Agent)
	}
	WithSubAgents(subAgents...)(a.BaseAgent)
	for _, subAgent := range subAgents {
		subAgent.SetParentAgent(a)
	}

	// Dispatch goes through the workflow-as-tool adapter, which also claims
	// each delegate so it cannot be wrapped by anyone else.
	a.agentTools = make(map[string]*tool.AgentTool, len(a.intents))
	for _, intent := range a.intents {
		at, err := tool.NewAgentTool(delegates[intent].Agent)
		if err != nil {
			return nil, fmt.Errorf("router %s: intent %q: %w", name, intent, err)
		}
		a.agentTools[intent] = at
	}

	return a, nil
}

// Execute implements [types.Agent].
func (a *RouterAgent) Execute(ctx context.Context, ictx *types.InvocationContext) iter.Seq2[*types.Event, error] {
	return func(yield func(*types.Event, error) bool) {
		state := ictx.Session.State()

		if pendingIntent, ok := state[types.StatePendingDelegate].(string); ok && pendingIntent != "" {
			a.resumePending(ctx, ictx, pendingIntent, yield)
			return
		}

		decision, err := a.classify(ctx, ictx)
		if err != nil {
			yield(nil, err)
			return
		}

		if decision.intent == "" {
			text := decision.directText
			if text == "" {
				text = a.fallback
			}
			event := a.textEvent(ictx, text)
			maps.Copy(event.Actions.StateDelta, decision.delta)
			yield(event, nil)
			return
		}

		a.dispatch(ctx, ictx, decision.intent, decision.request, decision.delta, yield)
	}
}

type routeDecision struct {
	intent     string
	request    string
	directText string
	delta      map[string]any
}

// classify runs the router's own short model loop: the model either calls an
// intent declaration, calls a fact tool (whose result is fed back in), or
// answers directly.
func (a *RouterAgent) classify(ctx context.Context, ictx *types.InvocationContext) (*routeDecision, error) {
	logger := logging.FromContext(ctx)

	request := a.buildClassifyRequest(ctx, ictx)
	decision := &routeDecision{delta: make(map[string]any)}

	for call := 0; call < maxClassifyCalls; call++ {
		if err := ictx.IncrementLLMCallCount(); err != nil {
			return nil, err
		}
		response, err := flow.GenerateWithRetry(ctx, a.model, request)
		if err != nil {
			return nil, err
		}

		funcCalls := functionCallsOf(response)
		if len(funcCalls) == 0 {
			decision.directText = response.Text()
			return decision, nil
		}

		var responseParts []*genai.Part
		for _, funcCall := range funcCalls {
			if _, ok := a.delegates[funcCall.Name]; ok {
				decision.intent = funcCall.Name
				decision.request, _ = funcCall.Args[routeRequestParam].(string)
				if decision.request == "" {
					decision.request = textOf(ictx.UserContent)
				}
				return decision, nil
			}

			payload := a.runFactTool(ctx, ictx, funcCall, request.ToolMap, decision.delta, logger)
			part := genai.NewPartFromFunctionResponse(funcCall.Name, payload)
			part.FunctionResponse.ID = funcCall.ID
			responseParts = append(responseParts, part)
		}

		if response.Content != nil {
			request.Contents = append(request.Contents, response.Content)
		}
		request.Contents = append(request.Contents, &genai.Content{Role: genai.RoleUser, Parts: responseParts})
	}

	logger.WarnContext(ctx, "router classification did not converge",
		slog.String("router", a.Name()),
		slog.Int("calls", maxClassifyCalls),
	)
	return decision, nil
}

// runFactTool executes one fact tool call, folding its state writes into the
// routing decision's delta. Tool failures come back as error payloads.
func (a *RouterAgent) runFactTool(ctx context.Context, ictx *types.InvocationContext, funcCall *genai.FunctionCall, toolMap map[string]types.Tool, delta map[string]any, logger *slog.Logger) map[string]any {
	t, ok := toolMap[funcCall.Name]
	if !ok {
		return map[string]any{"error": fmt.Sprintf("unknown tool %q", funcCall.Name)}
	}

	toolCtx := types.NewToolContext(ictx).WithFunctionCallID(funcCall.ID)
	args := funcCall.Args
	if args == nil {
		args = make(map[string]any)
	}

	result, err := t.Run(ctx, args, toolCtx)
	if err != nil {
		logger.WarnContext(ctx, "fact tool failed",
			slog.String("router", a.Name()),
			slog.String("tool", t.Name()),
			slog.Any("error", err),
		)
		return map[string]any{"error": err.Error()}
	}
	if actions := toolCtx.Actions(); actions != nil {
		maps.Copy(delta, actions.StateDelta)
	}

	switch v := result.(type) {
	case map[string]any:
		return v
	default:
		return map[string]any{"result": v}
	}
}

// dispatch hands the turn to the delegate for intent through its
// workflow-as-tool adapter, unless a required fact is still missing, in which
// case it asks the clarifying question and parks the delegation in session
// state. The classifier's restated request becomes the delegate's
// conversation input.
func (a *RouterAgent) dispatch(ctx context.Context, ictx *types.InvocationContext, intent, request string, delta map[string]any, yield func(*types.Event, error) bool) {
	d := a.delegates[intent]
	if request == "" {
		request = textOf(ictx.UserContent)
	}

	if d.RequiresFact != "" && !factKnown(ictx, d.RequiresFact, delta) {
		event := a.textEvent(ictx, d.ClarifyingQuestion)
		maps.Copy(event.Actions.StateDelta, delta)
		event.Actions.StateDelta[types.StatePendingDelegate] = intent
		event.Actions.StateDelta[types.StatePendingRequest] = request
		yield(event, nil)
		return
	}

	// Commit routing-time deltas before the delegate runs so its instruction
	// templates see the facts gathered during classification.
	if len(delta) > 0 {
		event := types.NewEvent().
			WithInvocationID(ictx.InvocationID).
			WithAuthor(a.Name()).
			WithBranch(ictx.Branch)
		maps.Copy(event.Actions.StateDelta, delta)
		if !yield(event, nil) {
			return
		}
	}

	logging.FromContext(ctx).InfoContext(ctx, "routing turn",
		slog.String("router", a.Name()),
		slog.String("intent", intent),
		slog.String("delegate", d.Agent.Name()),
	)

	toolCtx := types.NewToolContext(ictx)
	result, err := a.agentTools[intent].Run(ctx, map[string]any{tool.RequestParam: request}, toolCtx)
	if err != nil {
		yield(nil, err)
		return
	}

	var answer string
	if payload, ok := result.(map[string]any); ok {
		answer, _ = payload["result"].(string)
	}
	yield(a.textEvent(ictx, answer), nil)
}

// resumePending handles the turn after a clarifying question: the user's
// message answers it. The router records the fact, clears the pending
// markers, and runs the parked delegate.
func (a *RouterAgent) resumePending(ctx context.Context, ictx *types.InvocationContext, intent string, yield func(*types.Event, error) bool) {
	pendingRequest, _ := ictx.Session.State()[types.StatePendingRequest].(string)

	d, ok := a.delegates[intent]
	if !ok {
		// A stale marker from a retired intent; drop it and classify afresh.
		clear := a.clearPendingDelta(nil)
		event := types.NewEvent().
			WithInvocationID(ictx.InvocationID).
			WithAuthor(a.Name()).
			WithBranch(ictx.Branch)
		maps.Copy(event.Actions.StateDelta, clear)
		if !yield(event, nil) {
			return
		}
		decision, err := a.classify(ctx, ictx)
		if err != nil {
			yield(nil, err)
			return
		}
		if decision.intent == "" {
			text := decision.directText
			if text == "" {
				text = a.fallback
			}
			fallbackEvent := a.textEvent(ictx, text)
			maps.Copy(fallbackEvent.Actions.StateDelta, decision.delta)
			yield(fallbackEvent, nil)
			return
		}
		a.dispatch(ctx, ictx, decision.intent, decision.request, decision.delta, yield)
		return
	}

	delta, err := a.gatherFact(ctx, ictx, d)
	if err != nil {
		yield(nil, err)
		return
	}

	if d.RequiresFact != "" && !factKnown(ictx, d.RequiresFact, delta) {
		// Still no usable fact; ask again and keep the markers.
		event := a.textEvent(ictx, d.ClarifyingQuestion)
		maps.Copy(event.Actions.StateDelta, delta)
		yield(event, nil)
		return
	}

	a.dispatch(ctx, ictx, intent, pendingRequest, a.clearPendingDelta(delta), yield)
}

// gatherFact extracts the required fact from the user's answer. With fact
// tools configured the model does the extraction through them; otherwise the
// raw answer text becomes the fact value.
func (a *RouterAgent) gatherFact(ctx context.Context, ictx *types.InvocationContext, d Delegate) (map[string]any, error) {
	delta := make(map[string]any)
	if d.RequiresFact == "" {
		return delta, nil
	}
	answer := textOf(ictx.UserContent)

	if len(a.factTools) == 0 {
		if answer != "" {
			delta[d.RequiresFact] = answer
		}
		return delta, nil
	}

	logger := logging.FromContext(ctx)
	request := types.NewLLMRequest()
	request.AppendInstructions(fmt.Sprintf(
		"The user was asked: %q. Their reply follows. Record the information they provided using the available tools, then confirm briefly.",
		d.ClarifyingQuestion,
	))
	toolCtx := types.NewToolContext(ictx)
	for _, t := range a.factTools {
		if err := t.ProcessLLMRequest(ctx, toolCtx, request); err != nil {
			logger.WarnContext(ctx, "fact tool request processing failed",
				slog.String("tool", t.Name()),
				slog.Any("error", err),
			)
		}
	}
	request.Contents = appendUserContent(flow.HistoryContents(ictx), ictx.UserContent)

	for call := 0; call < maxClassifyCalls; call++ {
		if err := ictx.IncrementLLMCallCount(); err != nil {
			return nil, err
		}
		response, err := flow.GenerateWithRetry(ctx, a.model, request)
		if err != nil {
			return nil, err
		}
		funcCalls := functionCallsOf(response)
		if len(funcCalls) == 0 {
			break
		}

		var responseParts []*genai.Part
		for _, funcCall := range funcCalls {
			payload := a.runFactTool(ctx, ictx, funcCall, request.ToolMap, delta, logger)
			part := genai.NewPartFromFunctionResponse(funcCall.Name, payload)
			part.FunctionResponse.ID = funcCall.ID
			responseParts = append(responseParts, part)
		}
		if response.Content != nil {
			request.Contents = append(request.Contents, response.Content)
		}
		request.Contents = append(request.Contents, &genai.Content{Role: genai.RoleUser, Parts: responseParts})
	}

	if _, ok := delta[d.RequiresFact]; !ok && answer != "" {
		delta[d.RequiresFact] = answer
	}
	return delta, nil
}

// buildClassifyRequest assembles the classification request: the routing
// instruction, the known durable user facts, one function declaration per
// intent, the fact tools, and the conversation history ending with the
// current user message. History matters: a follow-up like "what about malaria
// there?" only classifies against the turns that came before it.
func (a *RouterAgent) buildClassifyRequest(ctx context.Context, ictx *types.InvocationContext) *types.LLMRequest {
	request := types.NewLLMRequest()

	if a.instruction != "" {
		request.AppendInstructions(a.instruction)
	}
	request.AppendInstructions(
		"Classify the user's request into exactly one of the available intents and call the matching function. " +
			"If none of the intents apply, answer the user directly instead of calling a function.")
	if facts := durableFacts(ictx.Session.State()); facts != "" {
		request.AppendInstructions("Known facts about the user:\n" + facts)
	}

	if request.Config == nil {
		request.Config = &genai.GenerateContentConfig{}
	}
	for _, intent := range a.intents {
		request.Config.Tools = append(request.Config.Tools, &genai.Tool{
			FunctionDeclarations: []*genai.FunctionDeclaration{{
				Name:        intent,
				Description: a.delegates[intent].Agent.Description(),
				Parameters: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						routeRequestParam: {
							Type:        genai.TypeString,
							Description: "The user's request, restated for the specialist handling it.",
						},
					},
					Required: []string{routeRequestParam},
				},
			}},
		})
	}

	toolCtx := types.NewToolContext(ictx)
	for _, t := range a.factTools {
		if err := t.ProcessLLMRequest(ctx, toolCtx, request); err != nil {
			logging.FromContext(ctx).WarnContext(ctx, "fact tool request processing failed",
				slog.String("tool", t.Name()),
				slog.Any("error", err),
			)
		}
	}

	request.Contents = appendUserContent(flow.HistoryContents(ictx), ictx.UserContent)
	return request
}

// appendUserContent ensures the conversation ends with the current user
// message. The runner appends the user event before the agent runs, so the
// message is usually already the last history entry.
func appendUserContent(contents []*genai.Content, userContent *genai.Content) []*genai.Content {
	if userContent == nil {
		return contents
	}
	if len(contents) > 0 {
		last := contents[len(contents)-1]
		if last == userContent || (last.Role == genai.RoleUser && textOf(last) == textOf(userContent)) {
			return contents
		}
	}
	return append(contents, userContent)
}

// durableFacts renders the user-scope state entries as instruction lines.
func durableFacts(state map[string]any) string {
	var lines []string
	for _, key := range slices.Sorted(maps.Keys(state)) {
		if !strings.HasPrefix(key, types.UserPrefix) {
			continue
		}
		if v := state[key]; v != nil && v != "" {
			lines = append(lines, fmt.Sprintf("%s: %v", strings.TrimPrefix(key, types.UserPrefix), v))
		}
	}
	return strings.Join(lines, "\n")
}

// clearPendingDelta returns delta with the pending markers reset. Empty
// values mean "no pending delegation".
func (a *RouterAgent) clearPendingDelta(delta map[string]any) map[string]any {
	if delta == nil {
		delta = make(map[string]any)
	}
	delta[types.StatePendingDelegate] = ""
	delta[types.StatePendingRequest] = ""
	return delta
}

func (a *RouterAgent) textEvent(ictx *types.InvocationContext, text string) *types.Event {
	return types.NewEvent().
		WithLLMResponse(types.NewTextResponse(text)).
		WithInvocationID(ictx.InvocationID).
		WithAuthor(a.Name()).
		WithBranch(ictx.Branch)
}

// factKnown reports whether key already has a non-empty value in the session
// state or the in-flight delta.
func factKnown(ictx *types.InvocationContext, key string, delta map[string]any) bool {
	if v, ok := delta[key]; ok && v != "" && v != nil {
		return true
	}
	if v, ok := ictx.Session.State()[key]; ok && v != "" && v != nil {
		return true
	}
	return false
}

func functionCallsOf(response *types.LLMResponse) []*genai.FunctionCall {
	if response == nil || response.Content == nil {
		return nil
	}
	var calls []*genai.FunctionCall
	for _, part := range response.Content.Parts {
		if part.FunctionCall != nil {
			calls = append(calls, part.FunctionCall)
		}
	}
	return calls
}

func textOf(content *genai.Content) string {
	if content == nil {
		return ""
	}
	var text string
	for _, part := range content.Parts {
		text += part.Text
	}
	return text
}
