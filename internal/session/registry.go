// Package session tracks the supervised agent runs known to this process.
package session

import (
	"sort"
	"sync"
	"time"

	"github.com/ralphops/ralphctl/internal/domain/commands"
)

// LivenessFunc reports whether a session is currently online.
type LivenessFunc func(sessionID string) bool

// CommandView exposes the per-session command state a registry needs.
// Implemented by the command channel.
type CommandView interface {
	Pending(sessionID string) []string
	Last(sessionID string) *commands.Command
}

// Status is the serializable session status answered to status queries.
type Status struct {
	SessionID       string            `json:"session_id"`
	IsOnline        bool              `json:"is_online"`
	PendingCommands []string          `json:"pending_commands"`
	LastCommand     *commands.Command `json:"last_command,omitempty"`
}

// Registry tracks sessions and answers status queries. Session state is
// derived: liveness from the monitor, command state from the channel. A
// session is dropped when its agent process terminates and is reaped.
type Registry struct {
	liveness LivenessFunc
	cmds     CommandView

	mu       sync.RWMutex
	sessions map[string]time.Time // id -> first seen
}

// NewRegistry creates a session registry.
func NewRegistry(liveness LivenessFunc, cmds CommandView) *Registry {
	return &Registry{
		liveness: liveness,
		cmds:     cmds,
		sessions: make(map[string]time.Time),
	}
}

// Track registers a session id. Idempotent.
func (r *Registry) Track(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[sessionID]; !ok {
		r.sessions[sessionID] = time.Now().UTC()
	}
}

// Reap removes a terminated session.
func (r *Registry) Reap(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
}

// Known reports whether the session is tracked.
func (r *Registry) Known(sessionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[sessionID]
	return ok
}

// List returns tracked session ids, oldest first.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return r.sessions[ids[i]].Before(r.sessions[ids[j]])
	})
	return ids
}

// Status answers the session status query.
func (r *Registry) Status(sessionID string) Status {
	online := false
	if r.liveness != nil {
		online = r.liveness(sessionID)
	}

	st := Status{
		SessionID:       sessionID,
		IsOnline:        online,
		PendingCommands: []string{},
	}
	if r.cmds != nil {
		if pending := r.cmds.Pending(sessionID); pending != nil {
			st.PendingCommands = pending
		}
		st.LastCommand = r.cmds.Last(sessionID)
	}
	return st
}
