// Package commands defines the command types exchanged with supervised sessions.
package commands

import (
	"encoding/json"
	"time"
)

// Type represents the type of command directed at a session.
type Type string

const (
	TypePause    Type = "pause"
	TypeResume   Type = "resume"
	TypeSkip     Type = "skip"
	TypeStop     Type = "stop"
	TypeDiagnose Type = "diagnose"
	TypePing     Type = "ping"
	TypeSuggest  Type = "suggest"
	TypeAbort    Type = "abort"
)

// IsValid reports whether t is a known command type.
func (t Type) IsValid() bool {
	switch t {
	case TypePause, TypeResume, TypeSkip, TypeStop, TypeDiagnose, TypePing, TypeSuggest, TypeAbort:
		return true
	}
	return false
}

// Status represents a command's position in its lifecycle.
type Status string

const (
	StatusPending      Status = "pending"
	StatusAcknowledged Status = "acknowledged"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	StatusTimeout      Status = "timeout"
)

// Terminal reports whether s is a terminal status. A command in a terminal
// status never transitions again.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusTimeout
}

// Command is a directive sent to a session, tracked through its lifecycle.
type Command struct {
	ID        string            `json:"command_id"`
	SessionID string            `json:"session_id"`
	Type      Type              `json:"type"`
	Status    Status            `json:"status"`
	CreatedAt time.Time         `json:"created_at"`
	TimeoutAt time.Time         `json:"timeout_at"`
	Payload   map[string]string `json:"payload,omitempty"`
	Error     string            `json:"error,omitempty"`
	// Result carries the response payload once the command completes.
	Result *ResponsePayload `json:"result,omitempty"`
}

// WireVersion is the version field stamped on every dispatch message.
const WireVersion = 1

// DispatchMessage is the JSON object transmitted to a session.
type DispatchMessage struct {
	Version   int               `json:"version"`
	CommandID string            `json:"command_id"`
	Type      Type              `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	HelperID  string            `json:"helper_id"`
	Payload   map[string]string `json:"payload,omitempty"`
}

// ResponseMessage is the JSON object a session writes back for a command.
// The response artifact is consumed at most once: read, then cleared.
type ResponseMessage struct {
	CommandID string          `json:"command_id,omitempty"`
	Payload   ResponsePayload `json:"payload"`
}

// ResponsePayload carries the diagnostic fields of a command response.
type ResponsePayload struct {
	Status        string `json:"status"`
	CurrentSpec   string `json:"current_spec,omitempty"`
	CurrentTask   string `json:"current_task,omitempty"`
	StuckDuration int    `json:"stuck_duration,omitempty"`
	LastError     string `json:"last_error,omitempty"`
	Checkpoint    string `json:"checkpoint,omitempty"`
}

// DiagnosticSnapshot is the decoded payload of a completed diagnose command,
// consumed by the escalation engine. Ephemeral; not persisted on its own.
type DiagnosticSnapshot struct {
	CurrentSpec   string `json:"current_spec,omitempty"`
	CurrentTask   string `json:"current_task,omitempty"`
	StuckDuration int    `json:"stuck_duration_seconds"`
	LastError     string `json:"last_error,omitempty"`
	Checkpoint    string `json:"checkpoint,omitempty"`
}

// Snapshot converts a response payload into a diagnostic snapshot.
func (p ResponsePayload) Snapshot() DiagnosticSnapshot {
	return DiagnosticSnapshot{
		CurrentSpec:   p.CurrentSpec,
		CurrentTask:   p.CurrentTask,
		StuckDuration: p.StuckDuration,
		LastError:     p.LastError,
		Checkpoint:    p.Checkpoint,
	}
}

// ParseResponse parses a response artifact into a ResponseMessage.
func ParseResponse(data []byte) (*ResponseMessage, error) {
	var msg ResponseMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
