// Package sqlite provides a telemetry sink backed by an embedded SQLite
// database. Batches are written in a single transaction; duplicate session
// ids from flush retries are ignored.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/trafficflou/trafficflou/core"
	"github.com/trafficflou/trafficflou/telemetry"
)

const schema = `
CREATE TABLE IF NOT EXISTS session_results (
	session_id   TEXT PRIMARY KEY,
	identity_id  TEXT NOT NULL,
	target       TEXT NOT NULL,
	profile      TEXT NOT NULL,
	status       TEXT NOT NULL,
	reason       TEXT NOT NULL,
	started_at   TIMESTAMP NOT NULL,
	duration_ms  INTEGER NOT NULL,
	action_count INTEGER NOT NULL,
	outcomes     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_session_results_status ON session_results (status);
`

// Compile-time check.
var _ telemetry.Sink = (*Sink)(nil)

// Sink persists session results to SQLite.
type Sink struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and ensures the schema.
func Open(path string) (*Sink, error) {
	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite sink: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Sink{db: db}, nil
}

// Name implements telemetry.Sink.
func (s *Sink) Name() string { return "sqlite" }

// Write inserts the batch transactionally. Rows already present are left
// untouched, so retried batches do not error.
func (s *Sink) Write(ctx context.Context, batch []core.SessionResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO session_results
		(session_id, identity_id, target, profile, status, reason, started_at, duration_ms, action_count, outcomes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, r := range batch {
		outcomes, err := json.Marshal(r.Outcomes)
		if err != nil {
			return fmt.Errorf("encode outcomes for %s: %w", r.SessionID, err)
		}
		if _, err := stmt.ExecContext(ctx,
			r.SessionID, r.IdentityID, r.Target, r.Profile,
			string(r.Status), string(r.Reason), r.StartedAt,
			r.Duration.Milliseconds(), len(r.Outcomes), string(outcomes),
		); err != nil {
			return fmt.Errorf("insert %s: %w", r.SessionID, err)
		}
	}
	return tx.Commit()
}

// Count returns the number of stored results, optionally filtered by status.
func (s *Sink) Count(ctx context.Context, status core.SessionStatus) (int, error) {
	var (
		n   int
		err error
	)
	if status == "" {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM session_results`).Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM session_results WHERE status = ?`, string(status)).Scan(&n)
	}
	return n, err
}

// Close closes the underlying database.
func (s *Sink) Close() error { return s.db.Close() }
