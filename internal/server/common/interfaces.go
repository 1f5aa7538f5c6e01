package common

// StatusProvider provides status information for heartbeat events.
type StatusProvider interface {
	// GetAgentStatus returns the current agent status (e.g. "idle", "working").
	GetAgentStatus() string

	// GetUptimeSeconds returns the server uptime in seconds.
	GetUptimeSeconds() int64
}

// Sender is an interface for sending raw bytes.
type Sender interface {
	SendRaw(data []byte) error
}

// Closer is an interface for closable resources.
type Closer interface {
	Close() error

	// Done returns a channel that's closed when the resource is closed.
	Done() <-chan struct{}
}

// Client combines common client capabilities.
type Client interface {
	ID() string

	Sender
	Closer
}
