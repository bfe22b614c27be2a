package schedule

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Compile-time assertion that SQLiteStore satisfies the Store interface.
var _ Store = (*SQLiteStore)(nil)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS schedules (
    id       TEXT    PRIMARY KEY,
    activity TEXT    NOT NULL,
    time_ms  INTEGER NOT NULL,
    status   TEXT    NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_schedules_status_time
    ON schedules (status, time_ms);
`

// SQLiteStore is a file-backed [Store] for single-device persistence.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the SQLite database at path and
// ensures the schedules table exists.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("schedule: open sqlite: %w", err)
	}
	// One writer keeps SetStatus and Add serialised.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("schedule: ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("schedule: migrate sqlite: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Add implements [Store.Add].
func (s *SQLiteStore) Add(ctx context.Context, activity Activity, t time.Time) (Schedule, error) {
	if !activity.Valid() {
		return Schedule{}, fmt.Errorf("%w: %q", ErrInvalidActivity, activity)
	}
	sc := Schedule{
		ID:       uuid.NewString(),
		Activity: activity,
		Time:     truncate(t),
		Status:   StatusScheduled,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO schedules (id, activity, time_ms, status) VALUES (?, ?, ?, ?)`,
		sc.ID, string(sc.Activity), sc.Time.UnixMilli(), string(sc.Status))
	if err != nil {
		return Schedule{}, fmt.Errorf("schedule: insert: %w", err)
	}
	return sc, nil
}

// ListDue implements [Store.ListDue].
func (s *SQLiteStore) ListDue(ctx context.Context, now time.Time) ([]Schedule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, activity, time_ms, status
		FROM schedules
		WHERE status = ? AND time_ms <= ?
		ORDER BY time_ms ASC, id ASC
	`, string(StatusScheduled), now.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("schedule: query due: %w", err)
	}
	return scanSQLRows(rows)
}

// SetStatus implements [Store.SetStatus].
func (s *SQLiteStore) SetStatus(ctx context.Context, id string, status Status) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	if !status.Terminal() {
		return checkTransition(id, StatusScheduled, status)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE schedules SET status = ? WHERE id = ? AND status = ?`,
		string(status), id, string(StatusScheduled))
	if err != nil {
		return fmt.Errorf("schedule: update status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("schedule: update status: %w", err)
	}
	if n == 0 {
		return s.rejectUpdate(ctx, id, status)
	}
	return nil
}

// rejectUpdate explains why an update matched no row.
func (s *SQLiteStore) rejectUpdate(ctx context.Context, id string, to Status) error {
	var from string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM schedules WHERE id = ?`, id).Scan(&from)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	case err != nil:
		return fmt.Errorf("schedule: read status: %w", err)
	}
	return checkTransition(id, Status(from), to)
}

// List implements [Store.List].
func (s *SQLiteStore) List(ctx context.Context) ([]Schedule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, activity, time_ms, status
		FROM schedules
		ORDER BY time_ms ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("schedule: query all: %w", err)
	}
	return scanSQLRows(rows)
}

// Ping checks that the database is reachable. It backs the readiness probe.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close implements [Store.Close].
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func scanSQLRows(rows *sql.Rows) ([]Schedule, error) {
	defer rows.Close()

	var out []Schedule
	for rows.Next() {
		var (
			sc       Schedule
			activity string
			status   string
			ms       int64
		)
		if err := rows.Scan(&sc.ID, &activity, &ms, &status); err != nil {
			return nil, fmt.Errorf("schedule: scan: %w", err)
		}
		sc.Activity = Activity(activity)
		sc.Status = Status(status)
		sc.Time = time.UnixMilli(ms)
		out = append(out, sc)
	}
	return out, rows.Err()
}
