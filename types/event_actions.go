// Copyright 2025 The HealthNav Authors
// SPDX-License-Identifier: Apache-2.0

package types

// EventActions represents the actions attached to an event.
type EventActions struct {
	// SkipSummarization if true, the flow won't call the model to summarize
	// a function response. Only used for function response events.
	SkipSummarization bool

	// StateDelta indicates that the event is updating the state with the
	// given delta. Deltas are applied by the session layer in the order
	// events complete.
	StateDelta map[string]any

	// Escalate indicates the agent is escalating to a higher level agent.
	Escalate bool
}

// NewEventActions creates a new [EventActions] with an initialized delta.
func NewEventActions() *EventActions {
	return &EventActions{
		StateDelta: make(map[string]any),
	}
}

// WithSkipSummarization configures skipSummarization on the [EventActions].
func (ea *EventActions) WithSkipSummarization(skip bool) *EventActions {
	ea.SkipSummarization = skip
	return ea
}

// WithStateDelta configures the stateDelta on the [EventActions].
func (ea *EventActions) WithStateDelta(stateDelta map[string]any) *EventActions {
	ea.StateDelta = stateDelta
	return ea
}

// WithEscalate configures escalate on the [EventActions].
func (ea *EventActions) WithEscalate(escalate bool) *EventActions {
	ea.Escalate = escalate
	return ea
}
