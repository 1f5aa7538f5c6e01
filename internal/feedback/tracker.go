// Package feedback implements the human-in-the-loop feedback exchange: a
// running agent raises a question, the human answers or the request times
// out.
//
// The tracker holds a single "current request id". Every asynchronous
// completion (countdown expiry, submit, dismiss) compares against that id
// before mutating shared state and loses gracefully when it no longer
// matches. This is what prevents a stale timer from clearing a newer,
// still-valid request.
package feedback

import (
	"strings"
	"sync"
	"time"

	"github.com/ralphops/ralphctl/internal/domain"
	"github.com/ralphops/ralphctl/internal/domain/events"
	"github.com/ralphops/ralphctl/internal/domain/ports"
	"github.com/rs/zerolog/log"
)

// Request is a prompt the agent raised for the human.
type Request struct {
	ID               string    `json:"request_id"`
	Message          string    `json:"message"`
	Options          []string  `json:"options,omitempty"`
	TimeoutSeconds   int       `json:"timeout"`
	ProjectDirectory string    `json:"project_directory,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// Answer is the resolution of a request.
type Answer struct {
	RequestID      string
	Feedback       string
	SelectedOption string
	Expired        bool
	Dismissed      bool
}

// resolvedCap bounds how many resolved request ids are remembered for
// duplicate-submission detection. The daemon may run unattended for days;
// older ids fall out in resolution order.
const resolvedCap = 128

// Tracker owns the current feedback request and its countdown.
type Tracker struct {
	hub ports.EventHub

	mu            sync.Mutex
	current       *Request
	remaining     int
	resolved      map[string]bool
	resolvedOrder []string
	resolvedCap   int

	// onResolve is invoked (outside the lock) whenever a request resolves,
	// by answer, dismissal, or expiry.
	onResolve func(Answer)

	// tick is the countdown granularity. One second in production; tests
	// shorten it.
	tick time.Duration
}

// NewTracker creates a feedback tracker. hub may be nil.
func NewTracker(hub ports.EventHub) *Tracker {
	return &Tracker{
		hub:         hub,
		resolved:    make(map[string]bool),
		resolvedCap: resolvedCap,
		tick:        time.Second,
	}
}

// OnResolve registers a callback for request resolutions.
func (t *Tracker) OnResolve(fn func(Answer)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onResolve = fn
}

// Begin makes req the current request, superseding any outstanding one, and
// starts its countdown. A superseded request is neither answered nor
// expired; it is simply no longer current, and its timer becomes a no-op.
func (t *Tracker) Begin(req Request) {
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}

	t.mu.Lock()
	if t.current != nil {
		log.Debug().
			Str("old_request_id", t.current.ID).
			Str("new_request_id", req.ID).
			Msg("feedback request superseded")
	}
	t.current = &req
	t.remaining = req.TimeoutSeconds
	tick := t.tick
	t.mu.Unlock()

	if t.hub != nil {
		t.hub.Publish(events.NewFeedbackRequestEvent(
			req.ID, req.Message, req.Options, req.TimeoutSeconds, req.ProjectDirectory, ""))
	}

	go t.countdown(req.ID, tick)
}

// countdown decrements the displayed remaining time once per tick. On
// reaching zero it verifies the request it was started for is still current
// before clearing anything; a stale timer exits quietly.
func (t *Tracker) countdown(requestID string, tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for range ticker.C {
		t.mu.Lock()
		if t.current == nil || t.current.ID != requestID {
			// Superseded or already resolved; this timer no longer owns
			// the state.
			t.mu.Unlock()
			return
		}

		t.remaining--
		if t.remaining > 0 {
			t.mu.Unlock()
			continue
		}

		t.current = nil
		t.remaining = 0
		t.markResolvedLocked(requestID)
		fn := t.onResolve
		t.mu.Unlock()

		log.Info().Str("request_id", requestID).Msg("feedback request expired")
		t.notify(fn, Answer{RequestID: requestID, Expired: true}, "")
		return
	}
}

// Validate checks an answer against the current request without resolving
// it. Used by callers that must clear a transport hurdle between validation
// and resolution.
func (t *Tracker) Validate(requestID, feedbackText, selectedOption string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.current == nil || t.current.ID != requestID {
		if t.resolved[requestID] {
			return domain.ErrRequestResolved
		}
		return domain.ErrNoActiveRequest
	}
	if len(t.current.Options) > 0 {
		if _, ok := matchOption(t.current.Options, selectedOption); !ok {
			return domain.ErrInvalidOption
		}
		return nil
	}
	if strings.TrimSpace(feedbackText) == "" {
		return domain.ErrEmptyFeedback
	}
	return nil
}

// Submit answers the current request. Validation is local: when options were
// offered only a listed option is acceptable; otherwise the feedback text
// must be non-empty after trimming. A stale or already-resolved request id
// is rejected without side effects.
func (t *Tracker) Submit(requestID, feedbackText, selectedOption string) error {
	t.mu.Lock()

	if t.current == nil || t.current.ID != requestID {
		resolved := t.resolved[requestID]
		t.mu.Unlock()
		if resolved {
			return domain.ErrRequestResolved
		}
		return domain.ErrNoActiveRequest
	}

	if len(t.current.Options) > 0 {
		canonical, ok := matchOption(t.current.Options, selectedOption)
		if !ok {
			t.mu.Unlock()
			return domain.ErrInvalidOption
		}
		selectedOption = canonical
	} else if strings.TrimSpace(feedbackText) == "" {
		t.mu.Unlock()
		return domain.ErrEmptyFeedback
	}

	t.current = nil
	t.remaining = 0
	t.markResolvedLocked(requestID)
	fn := t.onResolve
	t.mu.Unlock()

	log.Info().Str("request_id", requestID).Msg("feedback submitted")
	t.notify(fn, Answer{
		RequestID:      requestID,
		Feedback:       strings.TrimSpace(feedbackText),
		SelectedOption: selectedOption,
	}, selectedOption)
	return nil
}

// Dismiss clears the current request without answering it. Dismissing a
// request that is no longer current is a no-op.
func (t *Tracker) Dismiss(requestID string) error {
	t.mu.Lock()
	if t.current == nil || t.current.ID != requestID {
		t.mu.Unlock()
		return nil
	}

	t.current = nil
	t.remaining = 0
	t.markResolvedLocked(requestID)
	fn := t.onResolve
	t.mu.Unlock()

	log.Info().Str("request_id", requestID).Msg("feedback request dismissed")
	t.notify(fn, Answer{RequestID: requestID, Dismissed: true}, "")
	return nil
}

// Current returns a copy of the current request, or nil.
func (t *Tracker) Current() *Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return nil
	}
	cp := *t.current
	return &cp
}

// Remaining returns the displayed remaining seconds for the current request.
func (t *Tracker) Remaining() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remaining
}

func (t *Tracker) notify(fn func(Answer), ans Answer, selectedOption string) {
	if fn != nil {
		fn(ans)
	}
	if t.hub == nil {
		return
	}
	if ans.Dismissed {
		t.hub.Publish(events.NewFeedbackDismissedEvent(ans.RequestID))
		return
	}
	t.hub.Publish(events.NewFeedbackResolvedEvent(ans.RequestID, ans.Feedback, selectedOption, ans.Expired))
}

// markResolvedLocked records a resolved request id, evicting the oldest
// entries past the retention cap. Caller holds t.mu.
func (t *Tracker) markResolvedLocked(requestID string) {
	if t.resolved[requestID] {
		return
	}
	t.resolved[requestID] = true
	t.resolvedOrder = append(t.resolvedOrder, requestID)
	for len(t.resolvedOrder) > t.resolvedCap {
		delete(t.resolved, t.resolvedOrder[0])
		t.resolvedOrder = t.resolvedOrder[1:]
	}
}

// matchOption resolves a selection against the offered options,
// case-insensitively, returning the canonical listed form.
func matchOption(options []string, selected string) (string, bool) {
	for _, opt := range options {
		if strings.EqualFold(opt, selected) {
			return opt, true
		}
	}
	return "", false
}
