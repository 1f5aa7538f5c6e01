package heartbeat

import (
	"os"
	"time"

	"github.com/rs/zerolog/log"
)

// State is the liveness verdict for a session.
type State string

const (
	StateAlive State = "alive"
	StateStuck State = "stuck"
	StateDead  State = "dead"
)

// ProcessProber reports whether the supervised agent process exists.
// Discovery heuristics (tmux/process-table scanning) live outside this
// package; the monitor only consumes the capability.
type ProcessProber interface {
	Alive(sessionID string) bool
}

// ProberFunc adapts a function to the ProcessProber interface.
type ProberFunc func(sessionID string) bool

// Alive calls f.
func (f ProberFunc) Alive(sessionID string) bool { return f(sessionID) }

// Report is the result of a liveness check.
type Report struct {
	State         State
	LastStatus    string
	LastBeat      time.Time
	StuckDuration time.Duration
}

// Monitor decides alive/stuck/dead from the heartbeat record and a process
// probe.
type Monitor struct {
	path       string
	stuckAfter time.Duration
	prober     ProcessProber
	now        func() time.Time
}

// NewMonitor creates a monitor reading the heartbeat file at path. A session
// whose heartbeat is older than stuckAfter is reported stuck.
func NewMonitor(path string, stuckAfter time.Duration, prober ProcessProber) *Monitor {
	return &Monitor{
		path:       path,
		stuckAfter: stuckAfter,
		prober:     prober,
		now:        time.Now,
	}
}

// Check returns the current liveness verdict for sessionID.
func (m *Monitor) Check(sessionID string) Report {
	if m.prober != nil && !m.prober.Alive(sessionID) {
		return Report{State: StateDead}
	}

	rec, err := ReadRecord(m.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", m.path).Msg("heartbeat: read failed")
		}
		// Process exists but has never written a heartbeat; the recorder
		// writes "initialized" on startup, so a missing record means the
		// agent has not reached its run loop.
		return Report{State: StateDead}
	}

	age := m.now().UTC().Sub(rec.Timestamp)
	report := Report{
		State:      StateAlive,
		LastStatus: rec.Status,
		LastBeat:   rec.Timestamp,
	}

	if age > m.stuckAfter {
		report.State = StateStuck
		report.StuckDuration = age
	}

	return report
}
