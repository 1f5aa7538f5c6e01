// Package heartbeat records and monitors session liveness.
//
// The recorder side runs inside the supervised agent process and overwrites a
// single well-known JSON record (last-write-wins, no history). The monitor
// side runs in a supervisor and turns that record plus a process probe into
// an alive/stuck/dead verdict.
package heartbeat

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// StatusInitialized is written on first use when no record exists, so the
// monitor never has to distinguish "record absent" from "never started".
const StatusInitialized = "initialized"

// Record is the single mutable liveness record for a session.
type Record struct {
	Timestamp time.Time `json:"timestamp"`
	Status    string    `json:"status"`
}

// Recorder writes liveness records to a well-known path. Record never fails
// the caller: liveness reporting must not itself become a point of failure,
// so write errors are logged and dropped.
type Recorder struct {
	path string

	mu          sync.Mutex
	initialized bool
}

// NewRecorder creates a recorder for the given heartbeat file path.
func NewRecorder(path string) *Recorder {
	return &Recorder{path: path}
}

// Record overwrites the heartbeat record with the current UTC timestamp and
// the given status. Safe to call at high frequency.
func (r *Recorder) Record(status string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.initialized {
		r.initialized = true
		if _, err := os.Stat(r.path); os.IsNotExist(err) {
			r.write(Record{Timestamp: time.Now().UTC(), Status: StatusInitialized})
		}
	}

	r.write(Record{Timestamp: time.Now().UTC(), Status: status})
}

// write persists the record via tmp-file rename so readers never observe a
// partial write.
func (r *Recorder) write(rec Record) {
	data, err := json.Marshal(rec)
	if err != nil {
		log.Warn().Err(err).Msg("heartbeat: marshal failed")
		return
	}

	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		log.Warn().Err(err).Str("path", r.path).Msg("heartbeat: mkdir failed")
		return
	}

	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		log.Warn().Err(err).Str("path", tmp).Msg("heartbeat: write failed")
		return
	}
	if err := os.Rename(tmp, r.path); err != nil {
		log.Warn().Err(err).Str("path", r.path).Msg("heartbeat: rename failed")
	}
}

// ReadRecord reads the heartbeat record at path.
func ReadRecord(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}
