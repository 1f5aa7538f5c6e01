// Package hub fans coordination events (feedback requests, command
// lifecycle, heartbeats, session outcomes) out to subscribers.
package hub

import (
	"sync"

	"github.com/ralphops/ralphctl/internal/domain/events"
	"github.com/ralphops/ralphctl/internal/domain/ports"
	"github.com/rs/zerolog/log"
)

// sessionFilterer is implemented by subscribers that only want events for
// one session. Events without session context are delivered regardless.
type sessionFilterer interface {
	SessionFilter() string
}

// Hub dispatches published events to all registered subscribers. Publishing
// never blocks the publisher: events queue on a bounded channel and a single
// dispatch goroutine drains it. A subscriber whose Send fails is dropped.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]ports.Subscriber
	running     bool

	broadcast chan events.Event
	done      chan struct{}
}

// New creates a hub. Call Start before publishing.
func New() *Hub {
	return &Hub{
		subscribers: make(map[string]ports.Subscriber),
		broadcast:   make(chan events.Event, 256),
		done:        make(chan struct{}),
	}
}

// Start launches the dispatch loop. Idempotent.
func (h *Hub) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return nil
	}
	h.running = true

	go h.dispatch()
	log.Debug().Msg("event hub started")
	return nil
}

// Stop halts dispatch and closes every subscriber. Idempotent.
func (h *Hub) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.running {
		return nil
	}
	h.running = false
	close(h.done)

	for _, sub := range h.subscribers {
		_ = sub.Close()
	}
	h.subscribers = make(map[string]ports.Subscriber)

	log.Debug().Msg("event hub stopped")
	return nil
}

// Publish queues an event for delivery. When the queue is full or the hub is
// stopped the event is dropped with a warning; coordination state never
// depends on event delivery.
func (h *Hub) Publish(event events.Event) {
	h.mu.RLock()
	running := h.running
	h.mu.RUnlock()
	if !running {
		log.Warn().
			Str("event_type", string(event.Type())).
			Msg("event dropped: hub not running")
		return
	}

	select {
	case h.broadcast <- event:
	default:
		log.Warn().
			Str("event_type", string(event.Type())).
			Msg("event dropped: broadcast queue full")
	}
}

// Subscribe registers a subscriber. Registration on a stopped hub is
// ignored.
func (h *Hub) Subscribe(sub ports.Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.running {
		log.Debug().Str("subscriber_id", sub.ID()).Msg("subscribe ignored: hub not running")
		return
	}
	h.subscribers[sub.ID()] = sub
	log.Debug().Str("subscriber_id", sub.ID()).Msg("subscriber registered")
}

// Unsubscribe removes and closes a subscriber. Unknown ids are a no-op.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub, ok := h.subscribers[id]; ok {
		_ = sub.Close()
		delete(h.subscribers, id)
		log.Debug().Str("subscriber_id", id).Msg("subscriber unregistered")
	}
}

// SubscriberCount returns the number of registered subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// dispatch drains the broadcast queue until Stop.
func (h *Hub) dispatch() {
	for {
		select {
		case <-h.done:
			return
		case event := <-h.broadcast:
			h.deliver(event)
		}
	}
}

// deliver sends one event to every subscriber whose session filter admits
// it, then drops the subscribers that failed.
func (h *Hub) deliver(event events.Event) {
	var failed []string

	h.mu.RLock()
	for id, sub := range h.subscribers {
		if skipForSession(sub, event) {
			continue
		}
		if err := sub.Send(event); err != nil {
			log.Warn().
				Str("subscriber_id", id).
				Str("event_type", string(event.Type())).
				Err(err).
				Msg("subscriber dropped")
			failed = append(failed, id)
		}
	}
	h.mu.RUnlock()

	for _, id := range failed {
		h.Unsubscribe(id)
	}
}

// skipForSession applies the subscriber's session filter, when it has one.
func skipForSession(sub ports.Subscriber, event events.Event) bool {
	f, ok := sub.(sessionFilterer)
	if !ok {
		return false
	}
	want := f.SessionFilter()
	return want != "" && event.GetSessionID() != "" && event.GetSessionID() != want
}
