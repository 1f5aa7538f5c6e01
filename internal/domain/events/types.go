// Package events defines all event types used in ralphctl.
package events

import (
	"encoding/json"
	"time"
)

// EventType represents the type of event.
type EventType string

const (
	// Feedback events
	EventTypeFeedbackRequest   EventType = "feedback_request"
	EventTypeFeedbackResolved  EventType = "feedback_resolved"
	EventTypeFeedbackDismissed EventType = "feedback_dismissed"

	// Command lifecycle events
	EventTypeCommandDispatched EventType = "command_dispatched"
	EventTypeCommandUpdated    EventType = "command_updated"

	// Session events
	EventTypeSessionOutcome EventType = "session_outcome"

	// Connection events
	EventTypeConnectionEstablished EventType = "connection_established"
	EventTypeHeartbeat             EventType = "heartbeat"
	EventTypeHeartbeatResponse     EventType = "heartbeat_response"
)

// Event is the base interface for all events.
type Event interface {
	// Type returns the event type.
	Type() EventType

	// Timestamp returns when the event occurred.
	Timestamp() time.Time

	// ToJSON serializes the event to JSON.
	ToJSON() ([]byte, error)

	// GetSessionID returns the session ID (may be empty).
	GetSessionID() string
}

// BaseEvent contains common fields for all events.
type BaseEvent struct {
	EventType EventType   `json:"type"`
	EventTime time.Time   `json:"timestamp"`
	SessionID string      `json:"session_id,omitempty"`
	Payload   interface{} `json:"payload,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
}

// Type returns the event type.
func (e *BaseEvent) Type() EventType {
	return e.EventType
}

// Timestamp returns when the event occurred.
func (e *BaseEvent) Timestamp() time.Time {
	return e.EventTime
}

// GetSessionID returns the session ID.
func (e *BaseEvent) GetSessionID() string {
	return e.SessionID
}

// ToJSON serializes the event to JSON.
func (e *BaseEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// NewEvent creates a new base event with the given type and payload.
func NewEvent(eventType EventType, payload interface{}) *BaseEvent {
	return &BaseEvent{
		EventType: eventType,
		EventTime: time.Now().UTC(),
		Payload:   payload,
	}
}

// NewEventWithSession creates a new event carrying session context.
func NewEventWithSession(eventType EventType, payload interface{}, sessionID string) *BaseEvent {
	return &BaseEvent{
		EventType: eventType,
		EventTime: time.Now().UTC(),
		SessionID: sessionID,
		Payload:   payload,
	}
}
