package events

import (
	"encoding/json"
	"time"
)

// FeedbackRequestEvent is the wire message raised when a running agent needs
// human input. Unlike other events its fields are flat on the wire, matching
// what agent-side clients already parse.
type FeedbackRequestEvent struct {
	EventType        EventType `json:"type"`
	RequestID        string    `json:"request_id"`
	Message          string    `json:"message"`
	Options          []string  `json:"options,omitempty"`
	TimeoutSeconds   int       `json:"timeout"`
	ProjectDirectory string    `json:"project_directory,omitempty"`
	EventTime        time.Time `json:"timestamp"`
	SessionID        string    `json:"session_id,omitempty"`
}

// NewFeedbackRequestEvent creates a feedback_request event.
func NewFeedbackRequestEvent(requestID, message string, options []string, timeoutSeconds int, projectDir, sessionID string) *FeedbackRequestEvent {
	return &FeedbackRequestEvent{
		EventType:        EventTypeFeedbackRequest,
		RequestID:        requestID,
		Message:          message,
		Options:          options,
		TimeoutSeconds:   timeoutSeconds,
		ProjectDirectory: projectDir,
		EventTime:        time.Now().UTC(),
		SessionID:        sessionID,
	}
}

// Type returns the event type.
func (e *FeedbackRequestEvent) Type() EventType {
	return e.EventType
}

// Timestamp returns when the event occurred.
func (e *FeedbackRequestEvent) Timestamp() time.Time {
	return e.EventTime
}

// GetSessionID returns the session ID.
func (e *FeedbackRequestEvent) GetSessionID() string {
	return e.SessionID
}

// ToJSON serializes the event to JSON.
func (e *FeedbackRequestEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FeedbackResolvedPayload is the payload for feedback_resolved events.
type FeedbackResolvedPayload struct {
	RequestID      string `json:"request_id"`
	Feedback       string `json:"feedback,omitempty"`
	SelectedOption string `json:"selected_option,omitempty"`
	Expired        bool   `json:"expired,omitempty"`
}

// NewFeedbackResolvedEvent creates a feedback_resolved event.
func NewFeedbackResolvedEvent(requestID, feedback, selectedOption string, expired bool) *BaseEvent {
	return NewEvent(EventTypeFeedbackResolved, FeedbackResolvedPayload{
		RequestID:      requestID,
		Feedback:       feedback,
		SelectedOption: selectedOption,
		Expired:        expired,
	})
}

// NewFeedbackDismissedEvent creates a feedback_dismissed event.
func NewFeedbackDismissedEvent(requestID string) *BaseEvent {
	return NewEvent(EventTypeFeedbackDismissed, FeedbackResolvedPayload{
		RequestID: requestID,
	})
}

// ConnectionEstablishedPayload is the payload for connection_established
// events, sent to each client immediately after the WebSocket upgrade.
type ConnectionEstablishedPayload struct {
	ClientID string `json:"client_id"`
	Version  string `json:"version,omitempty"`
}

// NewConnectionEstablishedEvent creates a connection_established event.
func NewConnectionEstablishedEvent(clientID, version string) *BaseEvent {
	return NewEvent(EventTypeConnectionEstablished, ConnectionEstablishedPayload{
		ClientID: clientID,
		Version:  version,
	})
}

// HeartbeatPayload is the payload for heartbeat events.
type HeartbeatPayload struct {
	Seq           int64  `json:"seq"`
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// NewHeartbeatEvent creates a heartbeat event.
func NewHeartbeatEvent(seq int64, status string, uptimeSeconds int64) *BaseEvent {
	return NewEvent(EventTypeHeartbeat, HeartbeatPayload{
		Seq:           seq,
		Status:        status,
		UptimeSeconds: uptimeSeconds,
	})
}
