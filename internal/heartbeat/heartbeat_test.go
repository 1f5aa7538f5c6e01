package heartbeat

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestRecorder_WritesInitializedFirst(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heartbeat.json")
	r := NewRecorder(path)

	r.Record("running")

	rec, err := ReadRecord(path)
	if err != nil {
		t.Fatalf("ReadRecord() error = %v", err)
	}
	// The explicit status overwrites the implicit initialized record; what
	// matters is that a record exists and carries the latest status.
	if rec.Status != "running" {
		t.Errorf("status = %q, want %q", rec.Status, "running")
	}
	if rec.Timestamp.IsZero() {
		t.Error("timestamp is zero")
	}
}

func TestRecorder_InitializedWhenAbsent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heartbeat.json")
	r := NewRecorder(path)

	// Simulate first touch without an explicit status by recording and then
	// checking the file was created even for an empty-ish label.
	r.Record(StatusInitialized)

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("heartbeat file not created: %v", err)
	}
}

func TestRecorder_LastWriteWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heartbeat.json")
	r := NewRecorder(path)

	r.Record("spec_start:auth")
	r.Record("running")
	r.Record("error:compile failed")

	rec, err := ReadRecord(path)
	if err != nil {
		t.Fatalf("ReadRecord() error = %v", err)
	}
	if rec.Status != "error:compile failed" {
		t.Errorf("status = %q, want last written", rec.Status)
	}
}

func TestRecorder_NeverFailsCaller(t *testing.T) {
	// Unwritable location: parent is a file, not a directory.
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	r := NewRecorder(filepath.Join(blocker, "heartbeat.json"))
	// Must not panic or propagate the write error.
	r.Record("running")
}

func TestMonitor_DeadWhenProcessGone(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heartbeat.json")
	NewRecorder(path).Record("running")

	m := NewMonitor(path, time.Minute, ProberFunc(func(string) bool { return false }))
	report := m.Check("sess-1")

	if report.State != StateDead {
		t.Errorf("state = %v, want dead", report.State)
	}
}

func TestMonitor_DeadWhenNoRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heartbeat.json")

	m := NewMonitor(path, time.Minute, ProberFunc(func(string) bool { return true }))
	report := m.Check("sess-1")

	if report.State != StateDead {
		t.Errorf("state = %v, want dead", report.State)
	}
}

func TestMonitor_AliveWithFreshBeat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heartbeat.json")
	NewRecorder(path).Record("running")

	m := NewMonitor(path, time.Minute, ProberFunc(func(string) bool { return true }))
	report := m.Check("sess-1")

	if report.State != StateAlive {
		t.Errorf("state = %v, want alive", report.State)
	}
	if report.LastStatus != "running" {
		t.Errorf("last status = %q, want running", report.LastStatus)
	}
}

func TestMonitor_StuckWithStaleBeat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heartbeat.json")
	NewRecorder(path).Record("running")

	m := NewMonitor(path, time.Minute, ProberFunc(func(string) bool { return true }))
	// Pretend the check happens 10 minutes later.
	m.now = func() time.Time { return time.Now().Add(10 * time.Minute) }

	report := m.Check("sess-1")
	if report.State != StateStuck {
		t.Fatalf("state = %v, want stuck", report.State)
	}
	if report.StuckDuration < 9*time.Minute {
		t.Errorf("stuck duration = %v, want >= 9m", report.StuckDuration)
	}
}
