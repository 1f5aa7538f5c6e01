package ports

import (
	"context"

	"github.com/ralphops/ralphctl/internal/domain/commands"
)

// CommandTransport delivers dispatch messages to a session and surfaces its
// responses. Implementations: file-artifact exchange over a shared directory
// (the Ralph convention), and an in-memory loopback for tests.
//
// Send failures are transport errors and are reported synchronously; the
// caller decides whether to retry. Receive blocks until a response artifact
// for the session is available or ctx is done. A response is consumed at
// most once: once returned, it is cleared from the underlying medium.
type CommandTransport interface {
	// Send transmits a dispatch message to the session.
	Send(ctx context.Context, sessionID string, msg *commands.DispatchMessage) error

	// Receive waits for the next response artifact from the session.
	Receive(ctx context.Context, sessionID string) (*commands.ResponseMessage, error)
}
