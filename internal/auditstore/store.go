// Package auditstore persists a terminal-run summary archive in SQLite,
// serving GET /api/audit/runs. It is purely additive: the run registry
// remains the sole source of truth for anything still in flight.
package auditstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// Store is a local SQLite-backed archive of finished runs.
type Store struct {
	db *sql.DB
}

// Open creates (or reuses) the SQLite database at path, migrating its
// schema. path's parent directory is created if missing.
func Open(path string) (*Store, error) {
	p := filepath.Clean(strings.TrimSpace(path))
	if p == "" {
		return nil, errors.New("missing db path")
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RunRecord is one archived run summary.
type RunRecord struct {
	RunID             string `json:"run_id"`
	Intent            string `json:"intent"`
	ProviderID        string `json:"provider_id"`
	Status            string `json:"status"`
	ActionCount       int    `json:"action_count"`
	StartedAtUnixMs   int64  `json:"started_at_unix_ms"`
	FinishedAtUnixMs  int64  `json:"finished_at_unix_ms"`
	ResultContent     string `json:"result_content,omitempty"`
}

// Record archives (or re-archives) a finished run. Callers pass this once
// a run reaches a terminal status.
func (s *Store) Record(ctx context.Context, rec RunRecord) error {
	if s == nil || s.db == nil {
		return errors.New("audit store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	rec.RunID = strings.TrimSpace(rec.RunID)
	if rec.RunID == "" {
		return errors.New("missing run_id")
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO audit_runs(
  run_id, intent, provider_id, status, action_count,
  started_at_unix_ms, finished_at_unix_ms, result_content
) VALUES(?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(run_id) DO UPDATE SET
  intent = excluded.intent,
  provider_id = excluded.provider_id,
  status = excluded.status,
  action_count = excluded.action_count,
  started_at_unix_ms = excluded.started_at_unix_ms,
  finished_at_unix_ms = excluded.finished_at_unix_ms,
  result_content = excluded.result_content
`,
		rec.RunID, rec.Intent, rec.ProviderID, rec.Status, rec.ActionCount,
		rec.StartedAtUnixMs, rec.FinishedAtUnixMs, rec.ResultContent,
	)
	return err
}

// List returns the most recently finished runs, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]RunRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("audit store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT run_id, intent, provider_id, status, action_count,
       started_at_unix_ms, finished_at_unix_ms, result_content
FROM audit_runs
ORDER BY finished_at_unix_ms DESC, run_id DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]RunRecord, 0, limit)
	for rows.Next() {
		var r RunRecord
		if err := rows.Scan(
			&r.RunID, &r.Intent, &r.ProviderID, &r.Status, &r.ActionCount,
			&r.StartedAtUnixMs, &r.FinishedAtUnixMs, &r.ResultContent,
		); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func initSchema(db *sql.DB) error {
	if db == nil {
		return errors.New("nil db")
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		return fmt.Errorf("pragma journal_mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=3000;`); err != nil {
		return fmt.Errorf("pragma busy_timeout: %w", err)
	}
	_, err := db.Exec(`
CREATE TABLE IF NOT EXISTS audit_runs (
  run_id TEXT PRIMARY KEY,
  intent TEXT NOT NULL DEFAULT '',
  provider_id TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL DEFAULT '',
  action_count INTEGER NOT NULL DEFAULT 0,
  started_at_unix_ms INTEGER NOT NULL DEFAULT 0,
  finished_at_unix_ms INTEGER NOT NULL DEFAULT 0,
  result_content TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_audit_runs_finished ON audit_runs(finished_at_unix_ms DESC, run_id DESC);
`)
	return err
}
