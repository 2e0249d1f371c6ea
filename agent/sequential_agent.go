// Copyright 2025 The HealthNav Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"iter"

	"github.com/healthnav/healthnav/types"
)

// SequentialAgent runs its sub-agents strictly in declaration order. Each step
// sees every state write its predecessors committed, which is how pipelines
// pass intermediate results through output keys.
type SequentialAgent struct {
	*BaseAgent
}

var _ types.Agent = (*SequentialAgent)(nil)

// NewSequentialAgent creates a sequential pipeline over the given sub-agents.
func NewSequentialAgent(name string, opts ...Option) *SequentialAgent {
	a := &SequentialAgent{}
	a.BaseAgent = NewBaseAgent(name, a, opts...)
	return a
}

// Execute implements [types.Agent]. A failing step aborts the pipeline;
// remaining steps do not run and the failure is reported against the step.
func (a *SequentialAgent) Execute(ctx context.Context, ictx *types.InvocationContext) iter.Seq2[*types.Event, error] {
	return func(yield func(*types.Event, error) bool) {
		for _, subAgent := range a.SubAgents() {
			for event, err := range subAgent.Run(ctx, ictx) {
				if err != nil {
					yield(nil, &types.ChildWorkflowError{Child: subAgent.Name(), Err: err})
					return
				}
				if !yield(event, nil) {
					return
				}
			}
			if ictx.EndInvocation {
				return
			}
		}
	}
}
