// Package audit provides a SQLite-backed log of supervisory outcomes.
//
// Every terminal supervisory path writes one record: the outcome, the
// diagnostic snapshot it acted on, and a timestamp. Analytics and reporting
// over this history belong to external consumers; this store only appends
// and lists.
package audit

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ralphops/ralphctl/internal/domain/commands"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// schemaVersion forces a rebuild when the record shape changes.
const schemaVersion = 1

// Outcome labels for terminal supervisory states.
const (
	OutcomeUnblocked      = "unblocked"
	OutcomeAborted        = "aborted"
	OutcomeManualRequired = "manual_required"
	OutcomeNoResponse     = "no_response"
	OutcomeUserAborted    = "user_aborted"
	OutcomeNotRunning     = "not_running"
	OutcomeLockDenied     = "lock_denied"
)

// Record is one audit entry.
type Record struct {
	ID        int64                        `json:"id"`
	SessionID string                       `json:"session_id"`
	HelperID  string                       `json:"helper_id"`
	Outcome   string                       `json:"outcome"`
	Snapshot  *commands.DiagnosticSnapshot `json:"snapshot,omitempty"`
	CreatedAt time.Time                    `json:"created_at"`
}

// Store is the audit log store.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the audit database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating audit dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening audit db: %w", err)
	}

	// WAL mode for concurrent supervisor + daemon access.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enabling WAL: %w", err)
	}

	if err := createSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func createSchema(db *sql.DB) error {
	var version int
	err := db.QueryRow("PRAGMA user_version").Scan(&version)
	if err == nil && version != 0 && version != schemaVersion {
		log.Warn().Int("found", version).Int("want", schemaVersion).Msg("audit schema changed, rebuilding")
		if _, err := db.Exec("DROP TABLE IF EXISTS outcomes"); err != nil {
			return fmt.Errorf("dropping stale schema: %w", err)
		}
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS outcomes (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			helper_id  TEXT NOT NULL,
			outcome    TEXT NOT NULL,
			snapshot   TEXT,
			created_at TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_outcomes_session ON outcomes(session_id, created_at);
	`)
	if err != nil {
		return fmt.Errorf("creating audit schema: %w", err)
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return fmt.Errorf("setting schema version: %w", err)
	}
	return nil
}

// Append writes one outcome record.
func (s *Store) Append(sessionID, helperID, outcome string, snap *commands.DiagnosticSnapshot) error {
	var snapJSON sql.NullString
	if snap != nil {
		data, err := json.Marshal(snap)
		if err != nil {
			return fmt.Errorf("encoding snapshot: %w", err)
		}
		snapJSON = sql.NullString{String: string(data), Valid: true}
	}

	_, err := s.db.Exec(
		"INSERT INTO outcomes (session_id, helper_id, outcome, snapshot, created_at) VALUES (?, ?, ?, ?, ?)",
		sessionID, helperID, outcome, snapJSON, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("appending audit record: %w", err)
	}
	return nil
}

// List returns the most recent records for a session, newest first.
func (s *Store) List(sessionID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		"SELECT id, session_id, helper_id, outcome, snapshot, created_at FROM outcomes WHERE session_id = ? ORDER BY created_at DESC, id DESC LIMIT ?",
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying audit records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []Record
	for rows.Next() {
		var rec Record
		var snapJSON sql.NullString
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.HelperID, &rec.Outcome, &snapJSON, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning audit record: %w", err)
		}
		if snapJSON.Valid {
			var snap commands.DiagnosticSnapshot
			if err := json.Unmarshal([]byte(snapJSON.String), &snap); err == nil {
				rec.Snapshot = &snap
			}
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
