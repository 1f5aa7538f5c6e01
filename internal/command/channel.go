// Package command implements the command channel: directive dispatch to a
// session with lifecycle tracking under a bounded timeout.
//
// State machine per command:
//
//	pending → acknowledged → {completed | failed}
//	pending | acknowledged → timeout (local decision when no terminal
//	response arrives in budget)
//
// Terminal states are monotonic. A late or duplicate response for a command
// already in a terminal state is discarded with a log line, never an error to
// the caller.
package command

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ralphops/ralphctl/internal/domain"
	"github.com/ralphops/ralphctl/internal/domain/commands"
	"github.com/ralphops/ralphctl/internal/domain/events"
	"github.com/ralphops/ralphctl/internal/domain/ports"
	"github.com/rs/zerolog/log"
)

// Channel dispatches commands to sessions and tracks their lifecycle.
type Channel struct {
	helperID  string
	transport ports.CommandTransport
	hub       ports.EventHub

	mu       sync.Mutex
	commands map[string]*commands.Command
	// terminal is closed when the command reaches a terminal state, waking
	// any AwaitResponse caller.
	terminal map[string]chan struct{}

	now func() time.Time
}

// NewChannel creates a command channel. helperID identifies the dispatching
// supervisor on the wire. hub may be nil.
func NewChannel(helperID string, transport ports.CommandTransport, hub ports.EventHub) *Channel {
	return &Channel{
		helperID:  helperID,
		transport: transport,
		hub:       hub,
		commands:  make(map[string]*commands.Command),
		terminal:  make(map[string]chan struct{}),
		now:       time.Now,
	}
}

// Dispatch constructs and transmits a command, returning it in pending state.
// The command ID is generated on this side so retried dispatches are
// distinguishable. A transport failure is returned as an error, not a
// command; the caller decides whether to retry.
//
// Ordering across concurrent dispatches to one session is not guaranteed;
// callers that need ordering must serialize (the supervisor loop does).
func (c *Channel) Dispatch(ctx context.Context, sessionID string, typ commands.Type, payload map[string]string, timeout time.Duration) (*commands.Command, error) {
	if !typ.IsValid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidCommand, typ)
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("%w: timeout must be positive", domain.ErrInvalidPayload)
	}

	now := c.now().UTC()
	cmd := &commands.Command{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Type:      typ,
		Status:    commands.StatusPending,
		CreatedAt: now,
		TimeoutAt: now.Add(timeout),
		Payload:   payload,
	}

	msg := &commands.DispatchMessage{
		Version:   commands.WireVersion,
		CommandID: cmd.ID,
		Type:      typ,
		Timestamp: now,
		HelperID:  c.helperID,
		Payload:   payload,
	}

	if err := c.transport.Send(ctx, sessionID, msg); err != nil {
		return nil, fmt.Errorf("dispatching %s to %s: %w", typ, sessionID, err)
	}

	c.mu.Lock()
	c.commands[cmd.ID] = cmd
	c.terminal[cmd.ID] = make(chan struct{})
	c.mu.Unlock()

	log.Debug().
		Str("command_id", cmd.ID).
		Str("session_id", sessionID).
		Str("type", string(typ)).
		Time("timeout_at", cmd.TimeoutAt).
		Msg("command dispatched")

	if c.hub != nil {
		c.hub.Publish(events.NewCommandDispatchedEvent(cmd))
	}

	return cmd, nil
}

// AwaitResponse blocks until the command reaches a terminal state or its
// timeout elapses. On elapse the command is moved to timeout locally,
// regardless of what the remote side eventually does, and returned without
// error. ctx cancellation also times the command out.
func (c *Channel) AwaitResponse(ctx context.Context, commandID string) (*commands.Command, error) {
	c.mu.Lock()
	cmd, ok := c.commands[commandID]
	if !ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: unknown command %s", domain.ErrInvalidCommand, commandID)
	}
	done := c.terminal[commandID]
	deadline := cmd.TimeoutAt
	sessionID := cmd.SessionID
	c.mu.Unlock()

	recvCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	go c.receiveLoop(recvCtx, sessionID, commandID)

	select {
	case <-done:
		return c.snapshot(commandID), nil
	case <-recvCtx.Done():
		c.expire(commandID)
		return c.snapshot(commandID), nil
	}
}

// receiveLoop consumes response artifacts for the session until the awaited
// command is terminal or ctx is done. Responses for other (superseded)
// commands are stale and discarded.
func (c *Channel) receiveLoop(ctx context.Context, sessionID, commandID string) {
	for {
		resp, err := c.transport.Receive(ctx, sessionID)
		if err != nil {
			return
		}

		targetID := resp.CommandID
		if targetID == "" {
			// Legacy agents omit the correlation id; attribute the artifact
			// to the command being awaited.
			targetID = commandID
		}

		if err := c.apply(targetID, resp); err != nil {
			log.Debug().
				Err(err).
				Str("command_id", targetID).
				Str("session_id", sessionID).
				Msg("response discarded")
		}

		c.mu.Lock()
		cmd, ok := c.commands[commandID]
		terminal := ok && cmd.Status.Terminal()
		c.mu.Unlock()
		if terminal {
			return
		}
	}
}

// apply folds a response into the command's state machine. A stale response
// (unknown or superseded command) or one for a command already in a terminal
// state is rejected; the caller logs and drops it.
func (c *Channel) apply(commandID string, resp *commands.ResponseMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cmd, ok := c.commands[commandID]
	if !ok {
		return domain.ErrStaleResponse
	}
	if cmd.Status.Terminal() {
		return domain.ErrCommandTerminal
	}

	switch resp.Payload.Status {
	case "acknowledged", "ack":
		cmd.Status = commands.StatusAcknowledged
	case "failed", "error":
		cmd.Status = commands.StatusFailed
		cmd.Error = resp.Payload.LastError
		c.finishLocked(cmd)
	default:
		// ok / completed / any affirmative status
		cmd.Status = commands.StatusCompleted
		result := resp.Payload
		cmd.Result = &result
		c.finishLocked(cmd)
	}

	if c.hub != nil {
		c.hub.Publish(events.NewCommandUpdatedEvent(cmd))
	}
	return nil
}

// expire moves a non-terminal command to timeout. Idempotent.
func (c *Channel) expire(commandID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cmd, ok := c.commands[commandID]
	if !ok || cmd.Status.Terminal() {
		return
	}
	cmd.Status = commands.StatusTimeout
	cmd.Error = domain.ErrTimeout.Error()
	c.finishLocked(cmd)

	log.Warn().
		Str("command_id", cmd.ID).
		Str("session_id", cmd.SessionID).
		Str("type", string(cmd.Type)).
		Msg("command timed out locally")

	if c.hub != nil {
		c.hub.Publish(events.NewCommandUpdatedEvent(cmd))
	}
}

func (c *Channel) finishLocked(cmd *commands.Command) {
	if done, ok := c.terminal[cmd.ID]; ok {
		select {
		case <-done:
		default:
			close(done)
		}
	}
}

// snapshot returns a copy of the command's current state.
func (c *Channel) snapshot(commandID string) *commands.Command {
	c.mu.Lock()
	defer c.mu.Unlock()
	cmd, ok := c.commands[commandID]
	if !ok {
		return nil
	}
	cp := *cmd
	return &cp
}

// Get returns a copy of the command, or nil when unknown.
func (c *Channel) Get(commandID string) *commands.Command {
	return c.snapshot(commandID)
}

// Pending returns the IDs of non-terminal commands for a session in issue
// order.
func (c *Channel) Pending(sessionID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var pending []*commands.Command
	for _, cmd := range c.commands {
		if cmd.SessionID == sessionID && !cmd.Status.Terminal() {
			pending = append(pending, cmd)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})

	ids := make([]string, len(pending))
	for i, cmd := range pending {
		ids[i] = cmd.ID
	}
	return ids
}

// Last returns the most recently created command for a session, or nil.
func (c *Channel) Last(sessionID string) *commands.Command {
	c.mu.Lock()
	defer c.mu.Unlock()

	var last *commands.Command
	for _, cmd := range c.commands {
		if cmd.SessionID != sessionID {
			continue
		}
		if last == nil || cmd.CreatedAt.After(last.CreatedAt) {
			last = cmd
		}
	}
	if last == nil {
		return nil
	}
	cp := *last
	return &cp
}

// Prune drops terminal commands created before cutoff. Commands are retained
// after reaching a terminal state for audit; the caller decides retention.
func (c *Channel) Prune(cutoff time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for id, cmd := range c.commands {
		if cmd.Status.Terminal() && cmd.CreatedAt.Before(cutoff) {
			delete(c.commands, id)
			delete(c.terminal, id)
			n++
		}
	}
	return n
}
