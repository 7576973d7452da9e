// Package history manages the SQLite database that records one row per sync
// attempt. Cumulative statistics are derived from these rows, so they survive
// process restarts.
//
// Only this package may open or query the database. All other packages
// receive a [*Store] and call its methods.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS sync_attempts (
    id           TEXT    PRIMARY KEY,
    started_at   TEXT    NOT NULL,
    duration_ms  INTEGER NOT NULL DEFAULT 0,
    status       TEXT    NOT NULL,
    event_count  INTEGER NOT NULL DEFAULT 0,
    error        TEXT    NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_started_at ON sync_attempts (started_at);
`

// Attempt is a single recorded sync attempt.
type Attempt struct {
	// ID is a UUID assigned by the engine when the attempt starts.
	ID string

	StartedAt  time.Time
	Duration   time.Duration
	Status     string // "success" or "error"
	EventCount int
	Error      string
}

// Statistics are the cumulative sync counters derived from the attempt log.
type Statistics struct {
	TotalAttempts int
	Successes     int
	Failures      int
	TotalEvents   int
	AvgDuration   time.Duration

	// CurrentStreak is the number of consecutive successes ending with the
	// most recent attempt; LongestStreak is the best run ever recorded.
	CurrentStreak int
	LongestStreak int
}

// SuccessRate returns successes/total, or 0 when nothing has run yet.
func (s Statistics) SuccessRate() float64 {
	if s.TotalAttempts == 0 {
		return 0
	}
	return float64(s.Successes) / float64(s.TotalAttempts)
}

// AvgEventsPerSuccess returns the mean event count across successful syncs.
func (s Statistics) AvgEventsPerSuccess() float64 {
	if s.Successes == 0 {
		return 0
	}
	return float64(s.TotalEvents) / float64(s.Successes)
}

// Store is the SQLite-backed attempt log.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at path, applies the schema,
// and configures WAL mode for better concurrent read performance.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating history directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("opening database %q: %w", path, err)
	}

	// Single writer to avoid SQLITE_BUSY under WAL.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordAttempt appends one attempt row.
func (s *Store) RecordAttempt(ctx context.Context, a Attempt) error {
	const q = `
		INSERT INTO sync_attempts (id, started_at, duration_ms, status, event_count, error)
		VALUES (?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, q,
		a.ID,
		a.StartedAt.UTC().Format(time.RFC3339Nano),
		a.Duration.Milliseconds(),
		a.Status,
		a.EventCount,
		a.Error,
	)
	if err != nil {
		return fmt.Errorf("recording attempt %s: %w", a.ID, err)
	}
	return nil
}

// RecentAttempts returns up to limit attempts, newest first.
func (s *Store) RecentAttempts(ctx context.Context, limit int) ([]Attempt, error) {
	const q = `
		SELECT id, started_at, duration_ms, status, event_count, error
		FROM sync_attempts ORDER BY started_at DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("querying attempts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var attempts []Attempt
	for rows.Next() {
		var a Attempt
		var startedAt string
		var durMS int64
		if err := rows.Scan(&a.ID, &startedAt, &durMS, &a.Status, &a.EventCount, &a.Error); err != nil {
			return nil, fmt.Errorf("scanning attempt row: %w", err)
		}
		a.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
		a.Duration = time.Duration(durMS) * time.Millisecond
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// LoadStatistics derives the cumulative counters from the attempt log.
// Streaks need row order, so they are computed from a single ordered scan
// rather than an aggregate query.
func (s *Store) LoadStatistics(ctx context.Context) (Statistics, error) {
	var stats Statistics

	const agg = `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN status = 'success' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN status = 'success' THEN event_count ELSE 0 END), 0),
		       COALESCE(AVG(duration_ms), 0)
		FROM sync_attempts`
	var avgMS float64
	err := s.db.QueryRowContext(ctx, agg).Scan(&stats.TotalAttempts, &stats.Successes, &stats.TotalEvents, &avgMS)
	if err != nil {
		return stats, fmt.Errorf("aggregating attempts: %w", err)
	}
	stats.Failures = stats.TotalAttempts - stats.Successes
	stats.AvgDuration = time.Duration(avgMS) * time.Millisecond

	const ordered = `SELECT status FROM sync_attempts ORDER BY started_at ASC`
	rows, err := s.db.QueryContext(ctx, ordered)
	if err != nil {
		return stats, fmt.Errorf("querying attempt order: %w", err)
	}
	defer func() { _ = rows.Close() }()

	streak := 0
	for rows.Next() {
		var status string
		if err := rows.Scan(&status); err != nil {
			return stats, fmt.Errorf("scanning status row: %w", err)
		}
		if status == "success" {
			streak++
			if streak > stats.LongestStreak {
				stats.LongestStreak = streak
			}
		} else {
			streak = 0
		}
	}
	stats.CurrentStreak = streak
	return stats, rows.Err()
}
