// Copyright 2025 The HealthNav Authors
// SPDX-License-Identifier: Apache-2.0

// Package runner owns the turn lifecycle: load or create the session, append
// the user message, stream the root agent's events while committing their
// state deltas, then hand the completed turn off to long-term memory.
package runner

import (
	"context"
	"iter"
	"log/slog"
	"sync"

	"google.golang.org/genai"

	"github.com/healthnav/healthnav/pkg/logging"
	"github.com/healthnav/healthnav/types"
)

// Runner executes turns of an application's root agent against stored
// sessions. Turns on the same conversation are serialized; turns on different
// conversations run independently.
type Runner struct {
	appName        string
	agent          types.Agent
	sessionService types.SessionService
	memoryService  types.MemoryService
	runConfig      *types.RunConfig
	logger         *slog.Logger

	mu    sync.Mutex
	turns map[string]*sync.Mutex
}

// RunnerOption configures a [Runner].
type RunnerOption func(*Runner)

// WithMemoryService enables the end-of-turn memory hand-off.
func WithMemoryService(svc types.MemoryService) RunnerOption {
	return func(r *Runner) {
		r.memoryService = svc
	}
}

// WithRunConfig sets the per-turn budgets.
func WithRunConfig(config *types.RunConfig) RunnerOption {
	return func(r *Runner) {
		r.runConfig = config
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = logger
	}
}

// New creates a runner for the given application and root agent.
func New(appName string, agent types.Agent, sessionService types.SessionService, opts ...RunnerOption) *Runner {
	r := &Runner{
		appName:        appName,
		agent:          agent,
		sessionService: sessionService,
		runConfig:      types.DefaultRunConfig(),
		turns:          make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes one turn: message goes in, the turn's events come out in
// order. Each event is committed to the session before it is yielded, so a
// consumer observing an event may rely on its state delta being applied.
func (r *Runner) Run(ctx context.Context, userID, sessionID string, message *genai.Content) iter.Seq2[*types.Event, error] {
	return func(yield func(*types.Event, error) bool) {
		turnMu := r.turnLock(userID, sessionID)
		turnMu.Lock()
		defer turnMu.Unlock()

		logger := r.logger
		if logger == nil {
			logger = logging.FromContext(ctx)
		}

		session, err := r.sessionService.GetSession(ctx, r.appName, userID, sessionID, nil)
		if err == nil && session == nil {
			session, err = r.sessionService.CreateSession(ctx, r.appName, userID, sessionID, nil)
		}
		if err != nil {
			yield(nil, &types.SessionCreateError{
				AppName:   r.appName,
				UserID:    userID,
				SessionID: sessionID,
				Err:       err,
			})
			return
		}

		// Turn-local state dies with the turn even when the consumer
		// abandons the stream early.
		defer clearTempState(session)

		ictx := types.NewInvocationContext(r.agent, session, r.sessionService,
			types.WithMemoryService(r.memoryService),
			types.WithUserContent(message),
			types.WithRunConfig(r.runConfig),
		)

		userEvent := types.NewEvent().
			WithInvocationID(ictx.InvocationID).
			WithAuthor(types.UserAuthor).
			WithContent(message)
		if _, err := r.sessionService.AppendEvent(ctx, session, userEvent); err != nil {
			yield(nil, err)
			return
		}

		writers := make(map[string]string)
		for event, err := range r.agent.Run(ctx, ictx) {
			if err != nil {
				yield(nil, err)
				return
			}
			if event == nil {
				continue
			}

			// Partial stream chunks are display-only; the complete response
			// that follows is what the session records.
			if event.Partial {
				if !yield(event, nil) {
					return
				}
				continue
			}

			r.noteConflicts(ctx, writers, event, logger)
			if _, err := r.sessionService.AppendEvent(ctx, session, event); err != nil {
				yield(nil, err)
				return
			}
			if !yield(event, nil) {
				return
			}
		}

		r.finishTurn(ctx, session, logger)
	}
}

// noteConflicts logs a warning when two different authors write the same
// state key within one turn. The last write in completion order wins; the log
// line is the audit trail.
func (r *Runner) noteConflicts(ctx context.Context, writers map[string]string, event *types.Event, logger *slog.Logger) {
	if event.Actions == nil {
		return
	}
	for key := range event.Actions.StateDelta {
		if prev, ok := writers[key]; ok && prev != event.Author {
			logger.WarnContext(ctx, "state key written by multiple authors, last write wins",
				slog.String("key", key),
				slog.String("first", prev),
				slog.String("then", event.Author),
			)
		}
		writers[key] = event.Author
	}
}

// finishTurn runs the end-of-turn bookkeeping: at most one memory hand-off,
// skipped while the conversation is parked on a clarifying question. It runs
// only on turns the consumer drained to the end; temp-scope cleanup is
// deferred separately so it happens regardless.
func (r *Runner) finishTurn(ctx context.Context, session types.Session, logger *slog.Logger) {
	pending, _ := session.State()[types.StatePendingDelegate].(string)
	if r.memoryService != nil && pending == "" {
		if err := r.memoryService.AddSessionToMemory(ctx, session); err != nil {
			logger.WarnContext(ctx, "memory hand-off failed",
				slog.String("session", session.ID()),
				slog.Any("error", err),
			)
		}
	}
}

func clearTempState(session types.Session) {
	if cleaner, ok := session.(interface{ ClearTempState() }); ok {
		cleaner.ClearTempState()
	}
}

func (r *Runner) turnLock(userID, sessionID string) *sync.Mutex {
	key := userID + "/" + sessionID

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.turns[key] == nil {
		r.turns[key] = &sync.Mutex{}
	}
	return r.turns[key]
}

// AppName returns the application name this runner serves.
func (r *Runner) AppName() string {
	return r.appName
}
