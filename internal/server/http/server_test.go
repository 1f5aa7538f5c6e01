package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ralphops/ralphctl/internal/domain"
	"github.com/ralphops/ralphctl/internal/domain/commands"
	"github.com/ralphops/ralphctl/internal/feedback"
	"github.com/ralphops/ralphctl/internal/session"
)

type fakeDispatcher struct {
	dispatched []*commands.Command
	sendErr    error
	known      map[string]*commands.Command
}

func (f *fakeDispatcher) Dispatch(_ context.Context, sessionID string, typ commands.Type, payload map[string]string, timeout time.Duration) (*commands.Command, error) {
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	now := time.Now().UTC()
	cmd := &commands.Command{
		ID:        fmt.Sprintf("cmd-%d", len(f.dispatched)+1),
		SessionID: sessionID,
		Type:      typ,
		Status:    commands.StatusPending,
		CreatedAt: now,
		TimeoutAt: now.Add(timeout),
		Payload:   payload,
	}
	f.dispatched = append(f.dispatched, cmd)
	return cmd, nil
}

func (f *fakeDispatcher) Get(commandID string) *commands.Command {
	return f.known[commandID]
}

func newTestServer(dispatcher CommandDispatcher, tracker *feedback.Tracker) *Server {
	registry := session.NewRegistry(func(string) bool { return true }, nil)
	return NewServer("127.0.0.1", 0, "test", dispatcher, registry, tracker, nil, 30*time.Second)
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "127.0.0.1:9999"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestServer_Health(t *testing.T) {
	s := newTestServer(&fakeDispatcher{}, feedback.NewTracker(nil))

	rec := doJSON(t, s.Router(), http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var health HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if health.Status != "ok" || health.Version != "test" {
		t.Errorf("health = %+v", health)
	}
}

func TestServer_ControlDispatch(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	s := newTestServer(dispatcher, feedback.NewTracker(nil))

	body := ControlRequest{Command: "pause", TimeoutSeconds: 10, Metadata: map[string]string{"origin": "test"}}
	rec := doJSON(t, s.Router(), http.MethodPost, "/api/sessions/sess-1/control", body)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body.String())
	}

	var resp ControlResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if resp.CommandID == "" || resp.Status != commands.StatusPending {
		t.Errorf("response = %+v", resp)
	}

	if len(dispatcher.dispatched) != 1 {
		t.Fatalf("dispatched = %d, want 1", len(dispatcher.dispatched))
	}
	cmd := dispatcher.dispatched[0]
	if cmd.SessionID != "sess-1" || cmd.Type != commands.TypePause {
		t.Errorf("command = %+v", cmd)
	}

	// The session shows up in status queries afterwards.
	rec = doJSON(t, s.Router(), http.MethodGet, "/api/sessions/sess-1/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status query = %d, want 200", rec.Code)
	}
	var st session.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if !st.IsOnline {
		t.Error("session should report online")
	}
}

func TestServer_ControlRejectsUnknownCommand(t *testing.T) {
	s := newTestServer(&fakeDispatcher{}, feedback.NewTracker(nil))

	rec := doJSON(t, s.Router(), http.MethodPost, "/api/sessions/sess-1/control", ControlRequest{Command: "reboot"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}

	var e ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &e); err != nil || e.Detail == "" {
		t.Errorf("expected structured error detail, got %s", rec.Body.String())
	}
}

func TestServer_ControlTransportFailure(t *testing.T) {
	dispatcher := &fakeDispatcher{sendErr: domain.NewTransportError("dispatch", fmt.Errorf("session gone"))}
	s := newTestServer(dispatcher, feedback.NewTracker(nil))

	rec := doJSON(t, s.Router(), http.MethodPost, "/api/sessions/sess-1/control", ControlRequest{Command: "ping"})
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
}

func TestServer_GetCommand(t *testing.T) {
	known := &commands.Command{ID: "cmd-7", Status: commands.StatusCompleted}
	dispatcher := &fakeDispatcher{known: map[string]*commands.Command{"cmd-7": known}}
	s := newTestServer(dispatcher, feedback.NewTracker(nil))

	rec := doJSON(t, s.Router(), http.MethodGet, "/api/commands/cmd-7", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	rec = doJSON(t, s.Router(), http.MethodGet, "/api/commands/missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestServer_FeedbackSubmission(t *testing.T) {
	tracker := feedback.NewTracker(nil)
	s := newTestServer(&fakeDispatcher{}, tracker)

	tracker.Begin(feedback.Request{
		ID:             "req-1",
		Message:        "Use mock data?",
		Options:        []string{"Yes", "No"},
		TimeoutSeconds: 300,
	})

	// Answer text matching an option resolves as an option selection.
	rec := doJSON(t, s.Router(), http.MethodPost, "/api/feedback", FeedbackSubmission{Feedback: "Yes"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if tracker.Current() != nil {
		t.Error("request should be resolved")
	}

	// A second submission for the resolved request conflicts.
	rec = doJSON(t, s.Router(), http.MethodPost, "/api/feedback", FeedbackSubmission{Feedback: "No"})
	if rec.Code != http.StatusNotFound && rec.Code != http.StatusConflict {
		t.Fatalf("duplicate submission status = %d, want 404/409", rec.Code)
	}
}

func TestServer_FeedbackOptionMatchIgnoresCase(t *testing.T) {
	tracker := feedback.NewTracker(nil)
	s := newTestServer(&fakeDispatcher{}, tracker)

	var answer feedback.Answer
	tracker.OnResolve(func(a feedback.Answer) { answer = a })
	tracker.Begin(feedback.Request{
		ID:             "req-3",
		Message:        "Use mock data?",
		Options:        []string{"Yes", "No"},
		TimeoutSeconds: 300,
	})

	rec := doJSON(t, s.Router(), http.MethodPost, "/api/feedback", FeedbackSubmission{Feedback: "yes"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if answer.SelectedOption != "Yes" {
		t.Errorf("selected option = %q, want canonical Yes", answer.SelectedOption)
	}
}

func TestServer_FeedbackWithoutRequest(t *testing.T) {
	s := newTestServer(&fakeDispatcher{}, feedback.NewTracker(nil))

	rec := doJSON(t, s.Router(), http.MethodPost, "/api/feedback", FeedbackSubmission{Feedback: "hello"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}

	var e ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &e); err != nil || e.Detail == "" {
		t.Errorf("expected structured error detail, got %s", rec.Body.String())
	}
}

func TestServer_InvalidOptionRejected(t *testing.T) {
	tracker := feedback.NewTracker(nil)
	s := newTestServer(&fakeDispatcher{}, tracker)

	tracker.Begin(feedback.Request{
		ID:             "req-2",
		Message:        "Proceed?",
		Options:        []string{"Yes", "No"},
		TimeoutSeconds: 300,
	})

	// Free text against an options request is rejected and the request
	// stays current.
	rec := doJSON(t, s.Router(), http.MethodPost, "/api/feedback", FeedbackSubmission{Feedback: "Maybe"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", rec.Code, rec.Body.String())
	}
	if tracker.Current() == nil {
		t.Error("request must remain current after a rejected answer")
	}
}
