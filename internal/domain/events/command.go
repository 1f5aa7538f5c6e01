package events

import "github.com/ralphops/ralphctl/internal/domain/commands"

// CommandPayload is the payload for command lifecycle events.
type CommandPayload struct {
	CommandID string            `json:"command_id"`
	Command   commands.Type     `json:"command"`
	Status    commands.Status   `json:"status"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// NewCommandDispatchedEvent creates a command_dispatched event.
func NewCommandDispatchedEvent(cmd *commands.Command) *BaseEvent {
	return NewEventWithSession(EventTypeCommandDispatched, CommandPayload{
		CommandID: cmd.ID,
		Command:   cmd.Type,
		Status:    cmd.Status,
		Metadata:  cmd.Payload,
	}, cmd.SessionID)
}

// NewCommandUpdatedEvent creates a command_updated event reflecting a
// lifecycle transition.
func NewCommandUpdatedEvent(cmd *commands.Command) *BaseEvent {
	return NewEventWithSession(EventTypeCommandUpdated, CommandPayload{
		CommandID: cmd.ID,
		Command:   cmd.Type,
		Status:    cmd.Status,
		Error:     cmd.Error,
	}, cmd.SessionID)
}

// SessionOutcomePayload is the payload for session_outcome events, emitted
// when a supervisory run reaches a terminal state.
type SessionOutcomePayload struct {
	Outcome       string `json:"outcome"`
	StuckDuration int    `json:"stuck_duration_seconds,omitempty"`
	LastError     string `json:"last_error,omitempty"`
}

// NewSessionOutcomeEvent creates a session_outcome event.
func NewSessionOutcomeEvent(sessionID, outcome string, stuckDuration int, lastError string) *BaseEvent {
	return NewEventWithSession(EventTypeSessionOutcome, SessionOutcomePayload{
		Outcome:       outcome,
		StuckDuration: stuckDuration,
		LastError:     lastError,
	}, sessionID)
}
