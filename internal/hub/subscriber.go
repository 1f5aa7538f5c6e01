package hub

import (
	"github.com/ralphops/ralphctl/internal/domain"
	"github.com/ralphops/ralphctl/internal/domain/events"
)

// FuncSubscriber invokes a callback for every delivered event. The daemon
// uses one as its coordination-event log tap; tests use them as probes.
type FuncSubscriber struct {
	id        string
	sessionID string
	done      chan struct{}
	closed    bool
	fn        func(event events.Event)
}

// NewFuncSubscriber creates a callback subscriber.
func NewFuncSubscriber(id string, fn func(event events.Event)) *FuncSubscriber {
	return &FuncSubscriber{
		id:   id,
		done: make(chan struct{}),
		fn:   fn,
	}
}

// FilterSession restricts delivery to events for sessionID. The hub applies
// the filter during dispatch; events without session context always pass.
func (s *FuncSubscriber) FilterSession(sessionID string) *FuncSubscriber {
	s.sessionID = sessionID
	return s
}

// SessionFilter returns the session this subscriber is restricted to, or
// empty for all sessions.
func (s *FuncSubscriber) SessionFilter() string {
	return s.sessionID
}

// ID returns the subscriber's unique identifier.
func (s *FuncSubscriber) ID() string {
	return s.id
}

// Send invokes the callback with the event.
func (s *FuncSubscriber) Send(event events.Event) error {
	if s.closed {
		return domain.ErrSubscriberClosed
	}
	if s.fn != nil {
		s.fn(event)
	}
	return nil
}

// Close closes the subscriber.
func (s *FuncSubscriber) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)
	return nil
}

// Done returns a channel that's closed when the subscriber is done.
func (s *FuncSubscriber) Done() <-chan struct{} {
	return s.done
}
