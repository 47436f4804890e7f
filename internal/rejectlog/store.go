// Package rejectlog keeps rejected raw records in a local SQLite file for CLI
// runs that have no Postgres reject table.
package rejectlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"example.com/flowstate/internal/domain"
	"example.com/flowstate/internal/normalize"
)

// Fixed-width UTC timestamps keep text ordering chronological.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements domain.RejectLog on SQLite.
type Store struct {
	db *sql.DB
}

// Open creates the file and its parent directory when missing.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("rejectlog: create dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("rejectlog: open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("rejectlog: pragma %q: %w", p, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("rejectlog: migration: %w", err)
	}
	return s, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS rejects (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			raw_kind    TEXT NOT NULL,
			raw_id      TEXT NOT NULL DEFAULT '',
			reason      TEXT NOT NULL,
			detail      TEXT NOT NULL DEFAULT '',
			payload     TEXT NOT NULL,
			rejected_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_rejects_rejected_at ON rejects(rejected_at DESC);
	`)
	return err
}

// Record implements domain.RejectLog.
func (s *Store) Record(ctx context.Context, reject domain.Reject) error {
	payload, err := json.Marshal(reject.Raw)
	if err != nil {
		return fmt.Errorf("rejectlog: encode raw record: %w", err)
	}
	rejectedAt := reject.RejectedAt
	if rejectedAt.IsZero() {
		rejectedAt = time.Now()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO rejects (raw_kind, raw_id, reason, detail, payload, rejected_at) VALUES (?, ?, ?, ?, ?, ?)`,
		reject.RawKind, reject.RawID, reject.Reason, reject.Detail, string(payload), rejectedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("rejectlog: insert: %w", err)
	}
	return nil
}

// List returns up to limit rejects, newest first. An empty reason lists all reasons.
func (s *Store) List(ctx context.Context, reason string, limit int) ([]domain.Reject, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT raw_kind, raw_id, reason, detail, payload, rejected_at FROM rejects`
	args := []any{}
	if reason != "" {
		query += ` WHERE reason = ?`
		args = append(args, reason)
	}
	query += ` ORDER BY rejected_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("rejectlog: query: %w", err)
	}
	defer rows.Close()

	var out []domain.Reject
	for rows.Next() {
		var (
			r                 domain.Reject
			payload, rejected string
		)
		if err := rows.Scan(&r.RawKind, &r.RawID, &r.Reason, &r.Detail, &payload, &rejected); err != nil {
			return nil, fmt.Errorf("rejectlog: scan: %w", err)
		}
		var raw normalize.RawInputRecord
		if err := json.Unmarshal([]byte(payload), &raw); err != nil {
			return nil, fmt.Errorf("rejectlog: decode payload: %w", err)
		}
		r.Raw = raw
		if r.RejectedAt, err = time.Parse(timeLayout, rejected); err != nil {
			return nil, fmt.Errorf("rejectlog: parse time: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
