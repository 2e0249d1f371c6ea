// Copyright 2025 The HealthNav Authors
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"google.golang.org/genai"
)

// RunConfig holds per-invocation budgets.
type RunConfig struct {
	// MaxLLMCalls caps model calls per invocation; zero means unlimited.
	MaxLLMCalls int

	// MaxToolCalls caps tool invocations per task per turn. Reaching the
	// limit degrades the answer rather than failing the turn.
	MaxToolCalls int

	// Streaming selects chunked model output: partial events are emitted as
	// the backend produces them, followed by the complete response.
	Streaming bool
}

// DefaultRunConfig returns the default per-invocation budgets.
func DefaultRunConfig() *RunConfig {
	return &RunConfig{
		MaxLLMCalls:  50,
		MaxToolCalls: 8,
	}
}

// LLMCallsLimitExceededError is returned when the number of model calls
// exceeds the configured limit.
type LLMCallsLimitExceededError string

// Error returns a string representation of the [LLMCallsLimitExceededError].
func (e LLMCallsLimitExceededError) Error() string { return string(e) }

// invocationCostManager tracks the cost of one invocation. It is shared by
// every scoped copy of the context, including concurrent branches.
type invocationCostManager struct {
	mu       sync.Mutex
	llmCalls int
}

func (m *invocationCostManager) incrementAndEnforce(runConfig *RunConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.llmCalls++
	if runConfig != nil && runConfig.MaxLLMCalls > 0 && m.llmCalls > runConfig.MaxLLMCalls {
		return LLMCallsLimitExceededError(fmt.Sprintf("max number of model calls limit of %d exceeded", runConfig.MaxLLMCalls))
	}
	return nil
}

// InvocationContext represents the data of a single invocation of an agent:
// it starts with a user message and ends with a final response, and may
// contain one or multiple agent calls along the way.
type InvocationContext struct {
	SessionService SessionService
	MemoryService  MemoryService

	// InvocationID is the ID of this invocation context. Readonly.
	InvocationID string

	// Branch of the invocation context, like agent_1.agent_2.agent_3.
	// Used so concurrent sub-agents don't see their peers' history.
	Branch string

	// Agent is the current agent of this invocation context.
	Agent Agent

	// UserContent is the user content that started this invocation. Readonly.
	UserContent *genai.Content

	// Session is the current session of this invocation context. Readonly.
	Session Session

	// EndInvocation terminates the invocation when set by callbacks or tools.
	EndInvocation bool

	// RunConfig holds the per-invocation budgets.
	RunConfig *RunConfig

	costManager *invocationCostManager
}

// InvocationContextOption modifies the [InvocationContext].
type InvocationContextOption func(*InvocationContext)

// WithMemoryService sets the memory service.
func WithMemoryService(svc MemoryService) InvocationContextOption {
	return func(ictx *InvocationContext) {
		ictx.MemoryService = svc
	}
}

// WithBranch sets the branch.
func WithBranch(branch string) InvocationContextOption {
	return func(ictx *InvocationContext) {
		ictx.Branch = branch
	}
}

// WithUserContent sets the user content that started the invocation.
func WithUserContent(content *genai.Content) InvocationContextOption {
	return func(ictx *InvocationContext) {
		ictx.UserContent = content
	}
}

// WithInvocationID sets the invocation ID.
func WithInvocationID(id string) InvocationContextOption {
	return func(ictx *InvocationContext) {
		ictx.InvocationID = id
	}
}

// WithRunConfig sets the per-invocation budgets.
func WithRunConfig(config *RunConfig) InvocationContextOption {
	return func(ictx *InvocationContext) {
		ictx.RunConfig = config
	}
}

// NewInvocationContext creates a new [InvocationContext].
func NewInvocationContext(agent Agent, session Session, sessionSvc SessionService, opts ...InvocationContextOption) *InvocationContext {
	ictx := &InvocationContext{
		SessionService: sessionSvc,
		InvocationID:   NewInvocationContextID(),
		Agent:          agent,
		Session:        session,
		RunConfig:      DefaultRunConfig(),
		costManager:    &invocationCostManager{},
	}
	for _, opt := range opts {
		opt(ictx)
	}
	return ictx
}

// ForAgent returns a copy of the invocation context scoped to the given
// agent and branch. The copy shares the session, services and cost manager so
// budgets stay global to the invocation, while branch bookkeeping stays local
// to the subtree.
func (ictx *InvocationContext) ForAgent(agent Agent, branch string) *InvocationContext {
	clone := *ictx
	clone.Agent = agent
	clone.Branch = branch
	return &clone
}

// IncrementLLMCallCount tracks the number of model calls made.
func (ictx *InvocationContext) IncrementLLMCallCount() error {
	return ictx.costManager.incrementAndEnforce(ictx.RunConfig)
}

// AppName returns the application name of the current session.
func (ictx *InvocationContext) AppName() string {
	return ictx.Session.AppName()
}

// UserID returns the user ID of the current session.
func (ictx *InvocationContext) UserID() string {
	return ictx.Session.UserID()
}

// NewInvocationContextID generates a new invocation context ID.
func NewInvocationContextID() string {
	return "e-" + uuid.NewString()
}
