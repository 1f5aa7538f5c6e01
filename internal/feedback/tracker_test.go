package feedback

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ralphops/ralphctl/internal/domain"
	"github.com/ralphops/ralphctl/internal/domain/events"
	"github.com/ralphops/ralphctl/internal/testutil"
)

// answerRecorder captures resolutions for assertions.
type answerRecorder struct {
	mu      sync.Mutex
	answers []Answer
}

func (r *answerRecorder) record(a Answer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.answers = append(r.answers, a)
}

func (r *answerRecorder) all() []Answer {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Answer, len(r.answers))
	copy(out, r.answers)
	return out
}

func newFastTracker() (*Tracker, *answerRecorder) {
	t := NewTracker(nil)
	t.tick = 10 * time.Millisecond
	rec := &answerRecorder{}
	t.OnResolve(rec.record)
	return t, rec
}

func TestTracker_SubmitFreeText(t *testing.T) {
	tr, rec := newFastTracker()
	tr.Begin(Request{ID: "r1", Message: "What next?", TimeoutSeconds: 60})

	if err := tr.Submit("r1", "  keep going  ", ""); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if tr.Current() != nil {
		t.Error("request still current after submit")
	}

	answers := rec.all()
	if len(answers) != 1 || answers[0].Feedback != "keep going" {
		t.Errorf("answers = %+v, want trimmed free text", answers)
	}
}

func TestTracker_SubmitValidation(t *testing.T) {
	tr, _ := newFastTracker()
	tr.Begin(Request{ID: "r1", Message: "Pick one", Options: []string{"yes", "no"}, TimeoutSeconds: 60})

	if err := tr.Submit("r1", "", "maybe"); !errors.Is(err, domain.ErrInvalidOption) {
		t.Errorf("unlisted option err = %v, want ErrInvalidOption", err)
	}
	if tr.Current() == nil {
		t.Fatal("request cleared by failed validation")
	}
	if err := tr.Submit("r1", "", "yes"); err != nil {
		t.Errorf("listed option err = %v", err)
	}

	tr.Begin(Request{ID: "r2", Message: "Say something", TimeoutSeconds: 60})
	if err := tr.Submit("r2", "   ", ""); !errors.Is(err, domain.ErrEmptyFeedback) {
		t.Errorf("blank text err = %v, want ErrEmptyFeedback", err)
	}
}

func TestTracker_SubmitOptionCaseInsensitive(t *testing.T) {
	tr, rec := newFastTracker()
	tr.Begin(Request{ID: "r1", Message: "Pick one", Options: []string{"Yes", "No"}, TimeoutSeconds: 60})

	if err := tr.Validate("r1", "", "yes"); err != nil {
		t.Errorf("Validate(yes) error = %v", err)
	}
	if err := tr.Submit("r1", "", "yes"); err != nil {
		t.Fatalf("Submit(yes) error = %v", err)
	}

	answers := rec.all()
	if len(answers) != 1 || answers[0].SelectedOption != "Yes" {
		t.Errorf("answers = %+v, want canonical option Yes", answers)
	}
}

func TestTracker_IdempotentSubmission(t *testing.T) {
	tr, rec := newFastTracker()
	tr.Begin(Request{ID: "r1", Message: "Q", TimeoutSeconds: 60})

	if err := tr.Submit("r1", "done", ""); err != nil {
		t.Fatalf("first Submit() error = %v", err)
	}
	if err := tr.Submit("r1", "done again", ""); !errors.Is(err, domain.ErrRequestResolved) {
		t.Errorf("second Submit() err = %v, want ErrRequestResolved", err)
	}
	if got := len(rec.all()); got != 1 {
		t.Errorf("resolutions = %d, want 1 (no duplicate application)", got)
	}
}

func TestTracker_SubmitWithoutRequest(t *testing.T) {
	tr, _ := newFastTracker()
	if err := tr.Submit("ghost", "hello", ""); !errors.Is(err, domain.ErrNoActiveRequest) {
		t.Errorf("err = %v, want ErrNoActiveRequest", err)
	}
}

func TestTracker_CountdownExpiry(t *testing.T) {
	tr, rec := newFastTracker()
	tr.Begin(Request{ID: "r1", Message: "Q", TimeoutSeconds: 3})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if tr.Current() == nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if tr.Current() != nil {
		t.Fatal("request did not expire")
	}
	answers := rec.all()
	if len(answers) != 1 || !answers[0].Expired {
		t.Errorf("answers = %+v, want single expiry", answers)
	}
}

func TestTracker_StaleTimerDoesNotClearNewerRequest(t *testing.T) {
	// Request A with a short timeout is superseded by request B with a
	// longer one. A's countdown expiry must be a no-op: B must still be
	// present and answerable after A's deadline passes.
	tr, rec := newFastTracker()
	tr.Begin(Request{ID: "r1", Message: "A", TimeoutSeconds: 5})

	time.Sleep(20 * time.Millisecond)
	tr.Begin(Request{ID: "r2", Message: "B", TimeoutSeconds: 10000})

	// Wait well past A's would-be expiry (5 ticks of 10ms).
	time.Sleep(200 * time.Millisecond)

	cur := tr.Current()
	if cur == nil || cur.ID != "r2" {
		t.Fatalf("current = %+v, want r2 still present", cur)
	}
	if err := tr.Submit("r2", "still here", ""); err != nil {
		t.Errorf("Submit(r2) error = %v", err)
	}

	for _, a := range rec.all() {
		if a.RequestID == "r1" && a.Expired {
			t.Error("superseded request r1 reported an expiry")
		}
		if a.RequestID == "r2" && a.Expired {
			t.Error("r2 expired instead of being answered")
		}
	}
}

func TestTracker_StaleSubmitLosesGracefully(t *testing.T) {
	tr, _ := newFastTracker()
	tr.Begin(Request{ID: "r1", Message: "A", TimeoutSeconds: 60})
	tr.Begin(Request{ID: "r2", Message: "B", TimeoutSeconds: 60})

	if err := tr.Submit("r1", "too late", ""); !errors.Is(err, domain.ErrNoActiveRequest) {
		t.Errorf("stale submit err = %v, want ErrNoActiveRequest", err)
	}
	if cur := tr.Current(); cur == nil || cur.ID != "r2" {
		t.Error("stale submit mutated the current request")
	}
}

func TestTracker_DismissIsCASGuarded(t *testing.T) {
	tr, rec := newFastTracker()
	tr.Begin(Request{ID: "r1", Message: "A", TimeoutSeconds: 60})
	tr.Begin(Request{ID: "r2", Message: "B", TimeoutSeconds: 60})

	// Dismissing the superseded request must not touch r2.
	if err := tr.Dismiss("r1"); err != nil {
		t.Fatalf("Dismiss(r1) error = %v", err)
	}
	if cur := tr.Current(); cur == nil || cur.ID != "r2" {
		t.Fatal("dismiss of stale request cleared current")
	}

	if err := tr.Dismiss("r2"); err != nil {
		t.Fatalf("Dismiss(r2) error = %v", err)
	}
	if tr.Current() != nil {
		t.Error("r2 still current after dismiss")
	}

	var dismissed int
	for _, a := range rec.all() {
		if a.Dismissed {
			dismissed++
		}
	}
	if dismissed != 1 {
		t.Errorf("dismissed resolutions = %d, want 1", dismissed)
	}
}

func TestTracker_DismissPublishesDismissedEvent(t *testing.T) {
	hub := testutil.NewMockEventHub()
	tr := NewTracker(hub)
	tr.tick = 10 * time.Millisecond

	tr.Begin(Request{ID: "r1", Message: "Q", TimeoutSeconds: 60})
	if err := tr.Dismiss("r1"); err != nil {
		t.Fatalf("Dismiss() error = %v", err)
	}

	var dismissed, resolved int
	for _, e := range hub.PublishedEvents() {
		switch e.Type() {
		case events.EventTypeFeedbackDismissed:
			dismissed++
		case events.EventTypeFeedbackResolved:
			resolved++
		}
	}
	if dismissed != 1 {
		t.Errorf("feedback_dismissed events = %d, want 1", dismissed)
	}
	if resolved != 0 {
		t.Errorf("feedback_resolved events = %d, want 0 for a dismissal", resolved)
	}
}

func TestTracker_ResolvedRetentionBounded(t *testing.T) {
	tr, _ := newFastTracker()
	tr.resolvedCap = 2

	for _, id := range []string{"r1", "r2", "r3"} {
		tr.Begin(Request{ID: id, Message: "Q", TimeoutSeconds: 60})
		if err := tr.Submit(id, "done", ""); err != nil {
			t.Fatalf("Submit(%s) error = %v", id, err)
		}
	}

	// The two newest ids are still remembered as resolved.
	if err := tr.Submit("r3", "again", ""); !errors.Is(err, domain.ErrRequestResolved) {
		t.Errorf("Submit(r3) err = %v, want ErrRequestResolved", err)
	}
	if err := tr.Submit("r2", "again", ""); !errors.Is(err, domain.ErrRequestResolved) {
		t.Errorf("Submit(r2) err = %v, want ErrRequestResolved", err)
	}
	// The oldest fell out of retention and now reads as unknown.
	if err := tr.Submit("r1", "again", ""); !errors.Is(err, domain.ErrNoActiveRequest) {
		t.Errorf("Submit(r1) err = %v, want ErrNoActiveRequest after eviction", err)
	}
}
