// Copyright 2025 The HealthNav Authors
// SPDX-License-Identifier: Apache-2.0

package tool

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"google.golang.org/genai"

	"github.com/healthnav/healthnav/types"
)

// RequestParam is the single argument of an agent tool: the free-text message
// passed as the wrapped workflow's conversation input.
const RequestParam = "request"

// wrapped tracks which agents have already been exposed as a tool. A workflow
// may be wrapped once and referenced by exactly one parent.
var wrapped = struct {
	sync.Mutex
	agents map[types.Agent]bool
}{agents: make(map[types.Agent]bool)}

// AgentTool exposes a whole workflow (atomic or composite) through the same
// interface as any other tool, enabling hierarchical delegation.
//
// The wrapped workflow runs against the caller's session on its own branch;
// its state deltas are committed through the session service in completion
// order before the tool returns, and its final text output becomes the tool
// result.
type AgentTool struct {
	*Tool

	agent types.Agent
}

var _ types.Tool = (*AgentTool)(nil)

// NewAgentTool wraps agent as a tool. Wrapping the same workflow twice is a
// composition error.
func NewAgentTool(agent types.Agent) (*AgentTool, error) {
	if agent == nil {
		return nil, errors.New("agent tool: nil agent")
	}

	wrapped.Lock()
	defer wrapped.Unlock()
	if wrapped.agents[agent] {
		return nil, fmt.Errorf("agent tool: workflow %s is already wrapped as a tool", agent.Name())
	}
	wrapped.agents[agent] = true

	return &AgentTool{
		Tool:  NewTool(agent.Name(), agent.Description(), types.EffectStateful),
		agent: agent,
	}, nil
}

// Agent returns the wrapped workflow.
func (t *AgentTool) Agent() types.Agent {
	return t.agent
}

// GetDeclaration implements [types.Tool].
func (t *AgentTool) GetDeclaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				RequestParam: {
					Type:        genai.TypeString,
					Description: "The message to hand to the delegated workflow.",
				},
			},
			Required: []string{RequestParam},
		},
	}
}

// Run implements [types.Tool].
func (t *AgentTool) Run(ctx context.Context, args map[string]any, toolCtx *types.ToolContext) (any, error) {
	request, _ := args[RequestParam].(string)
	if request == "" {
		return nil, fmt.Errorf("%w: missing required parameter %q for tool %s", types.ErrInvalidArguments, RequestParam, t.Name())
	}

	ictx := toolCtx.InvocationContext()
	if err := t.checkAcyclic(ictx.Agent); err != nil {
		return nil, err
	}

	branch := t.Name()
	if ictx.Branch != "" {
		branch = ictx.Branch + "." + branch
	}
	childCtx := ictx.ForAgent(t.agent, branch)
	childCtx.UserContent = genai.NewContentFromText(request, genai.RoleUser)

	// The delegate reads its request from the session history like any
	// other turn input.
	requestEvent := types.NewEvent().
		WithInvocationID(ictx.InvocationID).
		WithAuthor(types.UserAuthor).
		WithBranch(branch).
		WithContent(childCtx.UserContent)
	if _, err := ictx.SessionService.AppendEvent(ctx, ictx.Session, requestEvent); err != nil {
		return nil, fmt.Errorf("agent tool %s: append request: %w", t.Name(), err)
	}

	var finalText string
	for event, err := range t.agent.Run(ctx, childCtx) {
		if err != nil {
			return nil, &types.ChildWorkflowError{Child: t.agent.Name(), Err: err}
		}
		if event == nil {
			continue
		}
		if _, err := ictx.SessionService.AppendEvent(ctx, ictx.Session, event); err != nil {
			return nil, fmt.Errorf("agent tool %s: append event: %w", t.Name(), err)
		}
		if event.IsFinalResponse() && event.Text() != "" {
			finalText = event.Text()
		}
	}

	return map[string]any{"result": finalText}, nil
}

// ProcessLLMRequest implements [types.Tool].
func (t *AgentTool) ProcessLLMRequest(ctx context.Context, toolCtx *types.ToolContext, request *types.LLMRequest) error {
	return t.processFor(t, request)
}

// checkAcyclic rejects a delegation that would re-enter an ancestor: a
// workflow transitively invoking itself is disallowed.
func (t *AgentTool) checkAcyclic(caller types.Agent) error {
	for a := caller; a != nil; a = a.ParentAgent() {
		if a == t.agent {
			return fmt.Errorf("agent tool %s: cyclic delegation to ancestor workflow %s", t.Name(), t.agent.Name())
		}
	}
	return nil
}
