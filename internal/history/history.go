// Package history records supervision lifecycle events in a local
// SQLite database so `easycli history` can show what happened to a
// group after the fact.
package history

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"database/sql"

	_ "modernc.org/sqlite"
)

type EventType string

const (
	EventSpawn     EventType = "spawn"
	EventExit      EventType = "exit"
	EventRestart   EventType = "restart"
	EventCrashLoop EventType = "crash-loop"
	EventKill      EventType = "kill"
)

// Event is one lifecycle observation.
type Event struct {
	Type       EventType
	Group      string
	Item       string
	PID        int
	Detail     string
	OccurredAt time.Time
}

// Store is a SQLite-backed event log (modernc.org/sqlite driver,
// CGO-free). Use ":memory:" for tests.
type Store struct {
	db *sql.DB
}

// DefaultPath is the per-user history database location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "easycli", "history.db")
	}
	return filepath.Join(home, ".easycli", "history.db")
}

// Open opens the database at path, creating parent directories for
// file-backed paths.
func Open(path string) (*Store, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty history path")
	}
	if p != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// busy timeout helps with short concurrent locks
	_, _ = db.Exec("PRAGMA busy_timeout=3000;")
	return &Store{db: db}, nil
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS events(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			type TEXT NOT NULL,
			grp TEXT NOT NULL,
			item TEXT NOT NULL,
			pid INTEGER NOT NULL,
			detail TEXT NOT NULL,
			occurred_at TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_group ON events(grp);`,
		`CREATE INDEX IF NOT EXISTS idx_events_occurred ON events(occurred_at);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Record(ctx context.Context, ev Event) error {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events(type, grp, item, pid, detail, occurred_at)
		VALUES(?, ?, ?, ?, ?, ?);`,
		string(ev.Type), ev.Group, ev.Item, ev.PID, ev.Detail, ev.OccurredAt.UTC())
	return err
}

// Query returns the most recent events, newest first, optionally
// filtered by group.
func (s *Store) Query(ctx context.Context, group string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT type, grp, item, pid, detail, occurred_at FROM events`
	args := []any{}
	if group != "" {
		q += ` WHERE grp = ?`
		args = append(args, group)
	}
	q += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []Event
	for rows.Next() {
		var ev Event
		var typ string
		if err := rows.Scan(&typ, &ev.Group, &ev.Item, &ev.PID, &ev.Detail, &ev.OccurredAt); err != nil {
			return nil, err
		}
		ev.Type = EventType(typ)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// PurgeOlderThan deletes events recorded before cutoff and reports how
// many were removed.
func (s *Store) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE occurred_at < ?;`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
