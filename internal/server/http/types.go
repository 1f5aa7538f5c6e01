package http

import (
	"time"

	"github.com/ralphops/ralphctl/internal/domain/commands"
)

// ControlRequest is the body of a control command submission.
type ControlRequest struct {
	Command        string            `json:"command"`
	TimeoutSeconds int               `json:"timeout_seconds,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// ControlResponse echoes the dispatched command.
type ControlResponse struct {
	CommandID string          `json:"command_id"`
	Status    commands.Status `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	TimeoutAt time.Time       `json:"timeout_at"`
}

// FeedbackSubmission is the body of a feedback answer. Images and settings
// are accepted for wire compatibility and currently ignored.
type FeedbackSubmission struct {
	Feedback string      `json:"feedback"`
	Images   interface{} `json:"images,omitempty"`
	Settings interface{} `json:"settings,omitempty"`
}

// ErrorResponse is the structured error body.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// HealthResponse is the health check body.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}
