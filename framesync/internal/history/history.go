// CLAUDE:SUMMARY SQLite log of sync cycles (UUIDv7 ids): record, list recent, prune to a retention count.
// Package history keeps a bounded log of sync cycles in SQLite, served by
// the /api/history endpoint.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const schema = `
CREATE TABLE IF NOT EXISTS sync_cycles (
	id          TEXT PRIMARY KEY,
	cycle       INTEGER NOT NULL,
	started_at  INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL,
	source      TEXT NOT NULL DEFAULT '',
	bytes       INTEGER NOT NULL DEFAULT 0,
	content_id  TEXT NOT NULL DEFAULT '',
	success     INTEGER NOT NULL,
	error       TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_sync_cycles_started ON sync_cycles(started_at);
`

// Cycle is one logged sync cycle.
type Cycle struct {
	ID        string        `json:"id"`
	Cycle     int           `json:"cycle"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"-"`
	Source    string        `json:"source,omitempty"`
	Bytes     int           `json:"bytes"`
	ContentID string        `json:"content_id,omitempty"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`

	DurationMs int64 `json:"duration_ms"`
}

// Store is the cycle log.
type Store struct {
	db    *sql.DB
	keep  int
	newID func() string
}

// Open opens (or creates) the log at path. keep bounds the number of rows
// retained; 0 keeps everything.
func Open(path string, keep int) (*Store, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	return &Store{
		db:    db,
		keep:  keep,
		newID: func() string { return uuid.Must(uuid.NewV7()).String() },
	}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record appends c, assigning its ID, then prunes past the retention
// count.
func (s *Store) Record(ctx context.Context, c Cycle) (string, error) {
	if c.ID == "" {
		c.ID = s.newID()
	}
	success := 0
	if c.Success {
		success = 1
	}
	_, err := execRetry(ctx, s.db,
		`INSERT INTO sync_cycles (id, cycle, started_at, duration_ms, source, bytes, content_id, success, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Cycle, c.StartedAt.UnixMilli(), c.Duration.Milliseconds(),
		c.Source, c.Bytes, c.ContentID, success, c.Error)
	if err != nil {
		return "", fmt.Errorf("history: record: %w", err)
	}
	if s.keep > 0 {
		if err := s.prune(ctx, s.keep); err != nil {
			return c.ID, err
		}
	}
	return c.ID, nil
}

// Recent returns up to limit cycles, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Cycle, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, cycle, started_at, duration_ms, source, bytes, content_id, success, error
		 FROM sync_cycles ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: query: %w", err)
	}
	defer rows.Close()

	var out []Cycle
	for rows.Next() {
		var c Cycle
		var startedMs int64
		var success int
		if err := rows.Scan(&c.ID, &c.Cycle, &startedMs, &c.DurationMs, &c.Source,
			&c.Bytes, &c.ContentID, &success, &c.Error); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		c.StartedAt = time.UnixMilli(startedMs).UTC()
		c.Duration = time.Duration(c.DurationMs) * time.Millisecond
		c.Success = success == 1
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) prune(ctx context.Context, keep int) error {
	_, err := execRetry(ctx, s.db,
		`DELETE FROM sync_cycles WHERE id NOT IN (
			SELECT id FROM sync_cycles ORDER BY started_at DESC, id DESC LIMIT ?
		)`, keep)
	if err != nil {
		return fmt.Errorf("history: prune: %w", err)
	}
	return nil
}
