// Copyright 2025 The HealthNav Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"iter"
	"log/slog"
	"sync"

	"github.com/healthnav/healthnav/pkg/logging"
	"github.com/healthnav/healthnav/types"
)

// ParallelAgent runs its sub-agents concurrently, each on an isolated branch
// so siblings never see each other's in-flight conversation. Events are
// yielded in completion order; state deltas are committed in that same order,
// so concurrent writes to one key resolve last-writer-wins.
type ParallelAgent struct {
	*BaseAgent
}

var _ types.Agent = (*ParallelAgent)(nil)

// NewParallelAgent creates a parallel fan-out over the given sub-agents.
func NewParallelAgent(name string, opts ...Option) *ParallelAgent {
	a := &ParallelAgent{}
	a.BaseAgent = NewBaseAgent(name, a, opts...)
	return a
}

// Execute implements [types.Agent]. A failing child does not cancel its
// siblings: the failure surfaces as a marker event authored by the child and
// the group completes with every other child's results intact.
func (a *ParallelAgent) Execute(ctx context.Context, ictx *types.InvocationContext) iter.Seq2[*types.Event, error] {
	return func(yield func(*types.Event, error) bool) {
		childContexts := make([]*types.InvocationContext, len(a.SubAgents()))
		for i, subAgent := range a.SubAgents() {
			branch := a.Name() + "." + subAgent.Name()
			if ictx.Branch != "" {
				branch = ictx.Branch + "." + branch
			}
			childContexts[i] = ictx.ForAgent(subAgent, branch)
		}

		for event, err := range mergeAgentRuns(ctx, a.SubAgents(), childContexts) {
			if !yield(event, err) {
				return
			}
			if err != nil {
				return
			}
		}
	}
}

// mergeAgentRuns fans out the sub-agent runs onto goroutines and merges their
// event streams into one, in completion order. Child failures are absorbed
// into marker events rather than propagated, so one slow or broken branch
// cannot take down the group.
func mergeAgentRuns(ctx context.Context, agents []types.Agent, contexts []*types.InvocationContext) iter.Seq2[*types.Event, error] {
	return func(yield func(*types.Event, error) bool) {
		logger := logging.FromContext(ctx)
		events := make(chan *types.Event)

		done := make(chan struct{})
		defer close(done)

		var wg sync.WaitGroup
		for i, subAgent := range agents {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for event, err := range subAgent.Run(ctx, contexts[i]) {
					if err != nil {
						logger.WarnContext(ctx, "parallel child failed",
							slog.String("child", subAgent.Name()),
							slog.Any("error", err),
						)
						event = failureEvent(contexts[i], subAgent.Name(), err)
					}
					select {
					case events <- event:
					case <-done:
						return
					}
					if err != nil {
						return
					}
				}
			}()
		}

		go func() {
			wg.Wait()
			close(events)
		}()

		for event := range events {
			if event == nil {
				continue
			}
			if !yield(event, nil) {
				return
			}
		}
	}
}

// failureEvent records a child failure as an event in the child's branch so
// the conversation keeps a trace of what went wrong.
func failureEvent(ictx *types.InvocationContext, child string, err error) *types.Event {
	event := types.NewEvent().
		WithInvocationID(ictx.InvocationID).
		WithAuthor(child).
		WithBranch(ictx.Branch)
	event.ErrorCode = "CHILD_WORKFLOW_FAILURE"
	event.ErrorMessage = err.Error()
	return event
}
