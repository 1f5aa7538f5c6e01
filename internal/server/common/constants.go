// Package common provides shared types and utilities for server implementations.
package common

import "time"

// WebSocket timing constants, tuned for clients on unreliable networks.
const (
	// WriteWait is time allowed to write a message to the peer.
	WriteWait = 15 * time.Second

	// PongWait is time allowed to read the next pong message from the peer.
	PongWait = 90 * time.Second

	// PingPeriod is the interval for sending pings. Must be less than PongWait.
	PingPeriod = (PongWait * 9) / 10

	// MaxMessageSize is the maximum message size allowed from peer.
	MaxMessageSize = 512 * 1024

	// SendBufferSize is the send buffer size per client.
	SendBufferSize = 1024

	// HeartbeatInterval is the application-level heartbeat interval. Sent as
	// a JSON event on top of WebSocket ping/pong so clients can run their
	// own liveness countdowns.
	HeartbeatInterval = 30 * time.Second
)
