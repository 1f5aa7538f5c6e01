// Package lock provides the supervisor mutual-exclusion lock.
//
// At most one external supervisor may drive a session at a time. The lock is
// a file created with exclusive-create semantics in the session's state
// directory; a failed acquire means another supervisor is active and the
// caller aborts rather than queueing.
package lock

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ralphops/ralphctl/internal/domain"
	"github.com/rs/zerolog/log"
)

// Info is the lock file payload.
type Info struct {
	HolderID   string    `json:"holder_id"`
	PID        int       `json:"pid"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Lock guards exclusive supervisor access to one session.
type Lock struct {
	path string
}

// New creates a lock handle for the given path.
func New(path string) *Lock {
	return &Lock{path: path}
}

// Acquire attempts an atomic create-if-absent of the lock file. On success
// granted is true. On contention granted is false and holder carries the
// current holder's info for diagnostics; err is domain.ErrLockHeld.
func (l *Lock) Acquire(ownerID string) (granted bool, holder *Info, err error) {
	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if !errors.Is(err, os.ErrExist) {
			return false, nil, fmt.Errorf("creating lock file: %w", err)
		}
		holder, readErr := l.Read()
		if readErr != nil {
			log.Warn().Err(readErr).Str("path", l.path).Msg("lock: cannot read holder")
		}
		return false, holder, domain.ErrLockHeld
	}

	info := Info{
		HolderID:   ownerID,
		PID:        os.Getpid(),
		AcquiredAt: time.Now().UTC(),
	}
	enc := json.NewEncoder(f)
	if err := enc.Encode(&info); err != nil {
		_ = f.Close()
		_ = os.Remove(l.path)
		return false, nil, fmt.Errorf("writing lock file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(l.path)
		return false, nil, fmt.Errorf("closing lock file: %w", err)
	}

	log.Debug().Str("owner_id", ownerID).Str("path", l.path).Msg("lock acquired")
	return true, &info, nil
}

// Release removes the lock if ownerID holds it. Releasing a lock held by a
// different owner is rejected with domain.ErrLockNotHolder; use ForceRelease
// for a deliberate break-in.
func (l *Lock) Release(ownerID string) error {
	holder, err := l.Read()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("reading lock file: %w", err)
	}
	if holder.HolderID != ownerID {
		return fmt.Errorf("%w: held by %s", domain.ErrLockNotHolder, holder.HolderID)
	}

	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing lock file: %w", err)
	}
	log.Debug().Str("owner_id", ownerID).Str("path", l.path).Msg("lock released")
	return nil
}

// ForceRelease removes the lock regardless of holder. Reserved for manual
// break-in after a crashed supervisor; there is no automatic expiry.
func (l *Lock) ForceRelease() error {
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing lock file: %w", err)
	}
	log.Warn().Str("path", l.path).Msg("lock force-released")
	return nil
}

// Read returns the current lock holder info, or os.ErrNotExist when the lock
// is free.
func (l *Lock) Read() (*Info, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, err
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("parsing lock file: %w", err)
	}
	return &info, nil
}

// Held reports whether the lock file currently exists.
func (l *Lock) Held() bool {
	_, err := os.Stat(l.path)
	return err == nil
}
