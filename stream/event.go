// Package stream provides a real-time event broker for execution and
// schedule lifecycle events. It bridges the ext.Extension system to
// connected clients via topic-based pub/sub.
package stream

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of lifecycle event.
type EventType string

const (
	// Execution events.
	EventExecutionStarted   EventType = "execution.started"
	EventExecutionSucceeded EventType = "execution.succeeded"
	EventExecutionFailed    EventType = "execution.failed"
	EventAttemptRecorded    EventType = "attempt.recorded"

	// Schedule events.
	EventTickFired   EventType = "tick.fired"
	EventTickDropped EventType = "tick.dropped"
)

// Event is the envelope sent to subscribers on a topic channel.
type Event struct {
	// Type identifies the lifecycle event.
	Type EventType `json:"type"`

	// Timestamp is when the event was emitted.
	Timestamp time.Time `json:"ts"`

	// Topic is the entity topic this event was published on.
	Topic string `json:"topic"`

	// Data is the event-specific payload.
	Data json.RawMessage `json:"data"`
}

// ExecutionEventData is the payload for execution and attempt events.
type ExecutionEventData struct {
	ExecutionID string `json:"execution_id"`
	Definition  string `json:"definition"`
	Trigger     string `json:"trigger,omitempty"`
	State       string `json:"state,omitempty"`
	Status      string `json:"status,omitempty"`
	ElapsedMs   int64  `json:"elapsed_ms,omitempty"`
	ErrorClass  string `json:"error_class,omitempty"`
	Error       string `json:"error,omitempty"`

	// Set on attempt.recorded only.
	Task      string `json:"task,omitempty"`
	Attempt   int    `json:"attempt,omitempty"`
	Outcome   string `json:"outcome,omitempty"`
	RetryInMs int64  `json:"retry_in_ms,omitempty"`
}

// TickEventData is the payload for schedule events.
type TickEventData struct {
	TriggerID   string `json:"trigger_id"`
	TriggerName string `json:"trigger_name"`
	Tick        string `json:"tick"`
	ExecutionID string `json:"execution_id,omitempty"`
	Error       string `json:"error,omitempty"`
}
