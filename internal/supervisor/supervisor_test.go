package supervisor

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ralphops/ralphctl/internal/audit"
	"github.com/ralphops/ralphctl/internal/domain/commands"
	"github.com/ralphops/ralphctl/internal/domain/events"
	"github.com/ralphops/ralphctl/internal/escalate"
	"github.com/ralphops/ralphctl/internal/heartbeat"
	"github.com/ralphops/ralphctl/internal/lock"
	"github.com/ralphops/ralphctl/internal/testutil"
)

// step scripts one dispatch/await round-trip of the scripted channel.
type step struct {
	dispatchErr error
	status      commands.Status
	result      *commands.ResponsePayload
	errMsg      string
}

// scriptedChannel replays a fixed sequence of command outcomes.
type scriptedChannel struct {
	mu      sync.Mutex
	steps   []step
	sent    []commands.Type
	results map[string]step
	seq     int
}

func newScriptedChannel(steps ...step) *scriptedChannel {
	return &scriptedChannel{steps: steps, results: make(map[string]step)}
}

func (c *scriptedChannel) Dispatch(_ context.Context, sessionID string, typ commands.Type, payload map[string]string, timeout time.Duration) (*commands.Command, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.steps) == 0 {
		return nil, fmt.Errorf("unexpected dispatch of %s", typ)
	}
	st := c.steps[0]
	c.steps = c.steps[1:]
	if st.dispatchErr != nil {
		return nil, st.dispatchErr
	}

	c.seq++
	now := time.Now().UTC()
	cmd := &commands.Command{
		ID:        fmt.Sprintf("cmd-%d", c.seq),
		SessionID: sessionID,
		Type:      typ,
		Status:    commands.StatusPending,
		CreatedAt: now,
		TimeoutAt: now.Add(timeout),
		Payload:   payload,
	}
	c.sent = append(c.sent, typ)
	c.results[cmd.ID] = st
	return cmd, nil
}

func (c *scriptedChannel) AwaitResponse(_ context.Context, commandID string) (*commands.Command, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.results[commandID]
	if !ok {
		return nil, fmt.Errorf("unknown command %s", commandID)
	}
	return &commands.Command{
		ID:     commandID,
		Status: st.status,
		Result: st.result,
		Error:  st.errMsg,
	}, nil
}

func (c *scriptedChannel) dispatchedTypes() []commands.Type {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]commands.Type, len(c.sent))
	copy(out, c.sent)
	return out
}

func completed(result *commands.ResponsePayload) step {
	return step{status: commands.StatusCompleted, result: result}
}

func timedOut() step {
	return step{status: commands.StatusTimeout, errMsg: "timeout"}
}

// harness wires a supervisor against real lock/monitor/audit on a temp dir.
type harness struct {
	sup   *Supervisor
	lock  *lock.Lock
	store *audit.Store
	hub   *testutil.MockEventHub
}

func newHarness(t *testing.T, ch CommandChannel, prompt Prompter, alive bool, engine *escalate.Engine) *harness {
	t.Helper()

	dir := t.TempDir()
	hbPath := filepath.Join(dir, "heartbeat.json")
	if alive {
		heartbeat.NewRecorder(hbPath).Record("working on task")
	}
	monitor := heartbeat.NewMonitor(hbPath, time.Hour, heartbeat.ProberFunc(func(string) bool { return alive }))

	lk := lock.New(filepath.Join(dir, "helper.lock"))

	store, err := audit.Open(filepath.Join(dir, "audit.db"))
	if err != nil {
		t.Fatalf("audit.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if engine == nil {
		engine = escalate.New(nil, 0, 0, 0)
	}
	hub := testutil.NewMockEventHub()

	cfg := Config{OwnerID: "sup-A", SessionID: "sess-1"}
	return &harness{
		sup:   New(cfg, monitor, lk, ch, engine, store, hub, prompt),
		lock:  lk,
		store: store,
		hub:   hub,
	}
}

func confirmAlways(t *testing.T) Prompter {
	return PrompterFunc(func(string) (bool, error) { return true, nil })
}

func confirmNever(t *testing.T) Prompter {
	return PrompterFunc(func(string) (bool, error) { return false, nil })
}

func denyPrompts(t *testing.T) Prompter {
	return PrompterFunc(func(prompt string) (bool, error) {
		t.Errorf("unexpected prompt: %s", prompt)
		return false, nil
	})
}

func lastOutcome(t *testing.T, h *harness) audit.Record {
	t.Helper()
	records, err := h.store.List("sess-1", 1)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("audit records = %d, want 1", len(records))
	}
	return records[0]
}

func TestSupervisor_SessionNotRunning(t *testing.T) {
	h := newHarness(t, newScriptedChannel(), denyPrompts(t), false, nil)

	result, err := h.sup.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Outcome != audit.OutcomeNotRunning || result.ExitCode != ExitManualRequired {
		t.Errorf("result = %s/%d, want not_running/1", result.Outcome, result.ExitCode)
	}
	if h.lock.Held() {
		t.Error("lock should never be taken for a dead session")
	}
	if rec := lastOutcome(t, h); rec.Outcome != audit.OutcomeNotRunning {
		t.Errorf("audit outcome = %q", rec.Outcome)
	}
}

func TestSupervisor_LockDenied(t *testing.T) {
	ch := newScriptedChannel()
	h := newHarness(t, ch, denyPrompts(t), true, nil)

	if granted, _, _ := h.lock.Acquire("sup-B"); !granted {
		t.Fatal("pre-acquire failed")
	}

	result, err := h.sup.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Outcome != audit.OutcomeLockDenied || result.ExitCode != ExitManualRequired {
		t.Errorf("result = %s/%d, want lock_denied/1", result.Outcome, result.ExitCode)
	}
	if len(ch.dispatchedTypes()) != 0 {
		t.Error("no commands may be dispatched without the lock")
	}

	// The competing holder's lock must be untouched.
	holder, err := h.lock.Read()
	if err != nil || holder.HolderID != "sup-B" {
		t.Errorf("holder = %+v, err = %v, want sup-B intact", holder, err)
	}
}

func TestSupervisor_UnblockedViaMockSuggestion(t *testing.T) {
	stuck := &commands.ResponsePayload{
		Status:        "ok",
		CurrentSpec:   "specs/auth.md",
		CurrentTask:   "fetch user data",
		StuckDuration: 2000,
		LastError:     "Connection timeout fetching /api/data",
	}
	recovered := &commands.ResponsePayload{Status: "ok", StuckDuration: 0}

	ch := newScriptedChannel(
		completed(stuck),     // diagnose
		completed(nil),       // suggest
		completed(recovered), // verify
	)
	h := newHarness(t, ch, denyPrompts(t), true, nil)

	result, err := h.sup.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Outcome != audit.OutcomeUnblocked || result.ExitCode != ExitOK {
		t.Errorf("result = %s/%d, want unblocked/0", result.Outcome, result.ExitCode)
	}
	if result.Decision == nil || result.Decision.Action != escalate.ActionUseMock {
		t.Errorf("decision = %+v, want use_mock", result.Decision)
	}

	want := []commands.Type{commands.TypeDiagnose, commands.TypeSuggest, commands.TypeDiagnose}
	got := ch.dispatchedTypes()
	if len(got) != len(want) {
		t.Fatalf("dispatched = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("dispatched[%d] = %s, want %s", i, got[i], want[i])
		}
	}

	if h.lock.Held() {
		t.Error("lock must be released on the terminal path")
	}
	if rec := lastOutcome(t, h); rec.Outcome != audit.OutcomeUnblocked {
		t.Errorf("audit outcome = %q", rec.Outcome)
	}

	// A session_outcome event goes out for dashboard consumers.
	found := false
	for _, e := range h.hub.PublishedEvents() {
		if e.Type() == events.EventTypeSessionOutcome {
			found = true
		}
	}
	if !found {
		t.Error("session_outcome event not published")
	}
}

func TestSupervisor_CriticalAbortConfirmed(t *testing.T) {
	critical := &commands.ResponsePayload{Status: "ok", StuckDuration: 4000, LastError: "no progress"}
	ch := newScriptedChannel(
		completed(critical), // diagnose
		completed(nil),      // abort
	)
	h := newHarness(t, ch, confirmAlways(t), true, nil)

	result, err := h.sup.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Outcome != audit.OutcomeAborted || result.ExitCode != ExitCriticalAbort {
		t.Errorf("result = %s/%d, want aborted/2", result.Outcome, result.ExitCode)
	}

	got := ch.dispatchedTypes()
	if len(got) != 2 || got[1] != commands.TypeAbort {
		t.Errorf("dispatched = %v, want [diagnose abort]", got)
	}
	if h.lock.Held() {
		t.Error("lock must be released after abort")
	}
}

func TestSupervisor_CriticalAbortDeclined(t *testing.T) {
	critical := &commands.ResponsePayload{Status: "ok", StuckDuration: 4000}
	ch := newScriptedChannel(completed(critical))
	h := newHarness(t, ch, confirmNever(t), true, nil)

	result, err := h.sup.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Outcome != audit.OutcomeUserAborted || result.ExitCode != ExitOK {
		t.Errorf("result = %s/%d, want user_aborted/0", result.Outcome, result.ExitCode)
	}

	// Declining means no abort command reaches the session.
	for _, typ := range ch.dispatchedTypes() {
		if typ == commands.TypeAbort {
			t.Error("abort dispatched despite operator declining")
		}
	}
}

func TestSupervisor_DiagnoseRetriedOnceThenNoResponse(t *testing.T) {
	ch := newScriptedChannel(timedOut(), timedOut())
	h := newHarness(t, ch, denyPrompts(t), true, nil)

	result, err := h.sup.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Outcome != audit.OutcomeNoResponse || result.ExitCode != ExitManualRequired {
		t.Errorf("result = %s/%d, want no_response/1", result.Outcome, result.ExitCode)
	}
	if got := len(ch.dispatchedTypes()); got != 2 {
		t.Errorf("diagnose dispatched %d times, want exactly 2 (one retry)", got)
	}
	if h.lock.Held() {
		t.Error("lock must be released on the no-response path")
	}
}

func TestSupervisor_DiagnoseRetrySucceeds(t *testing.T) {
	fine := &commands.ResponsePayload{Status: "ok", StuckDuration: 0}
	ch := newScriptedChannel(timedOut(), completed(fine))
	h := newHarness(t, ch, denyPrompts(t), true, nil)

	result, err := h.sup.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Outcome != audit.OutcomeUnblocked || result.ExitCode != ExitOK {
		t.Errorf("result = %s/%d, want unblocked/0", result.Outcome, result.ExitCode)
	}
}

func TestSupervisor_AttemptsExhaustedManualReview(t *testing.T) {
	stuck := &commands.ResponsePayload{
		Status:        "ok",
		StuckDuration: 2000,
		LastError:     "Connection timeout fetching /api/data",
	}
	ch := newScriptedChannel(
		completed(stuck), // diagnose
		completed(nil),   // suggest (attempt 1)
		completed(stuck), // verify: still stuck
	)
	engine := escalate.New(nil, 1800, 3600, 1)
	h := newHarness(t, ch, confirmAlways(t), true, engine)

	result, err := h.sup.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Outcome != audit.OutcomeManualRequired || result.ExitCode != ExitManualRequired {
		t.Errorf("result = %s/%d, want manual_required/1", result.Outcome, result.ExitCode)
	}
	if result.Decision == nil || !result.Decision.AttemptsExhausted {
		t.Errorf("decision = %+v, want attempts exhausted", result.Decision)
	}
}

func TestSupervisor_OperatorDeclinesRetry(t *testing.T) {
	stuck := &commands.ResponsePayload{
		Status:        "ok",
		StuckDuration: 2000,
		LastError:     "Connection timeout fetching /api/data",
	}
	ch := newScriptedChannel(
		completed(stuck), // diagnose
		completed(nil),   // suggest
		completed(stuck), // verify: still stuck
	)
	h := newHarness(t, ch, confirmNever(t), true, nil)

	result, err := h.sup.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Outcome != audit.OutcomeUserAborted || result.ExitCode != ExitOK {
		t.Errorf("result = %s/%d, want user_aborted/0", result.Outcome, result.ExitCode)
	}
	if h.lock.Held() {
		t.Error("lock must be released when the operator stops the loop")
	}
}
