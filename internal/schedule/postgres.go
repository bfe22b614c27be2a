package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Compile-time assertion that PostgresStore satisfies the Store interface.
var _ Store = (*PostgresStore)(nil)

const ddlSchedules = `
CREATE TABLE IF NOT EXISTS schedules (
    id       TEXT    PRIMARY KEY,
    activity TEXT    NOT NULL,
    time_ms  BIGINT  NOT NULL,
    status   TEXT    NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_schedules_status_time
    ON schedules (status, time_ms);
`

// Migrate creates the schedules table and its index if they do not exist.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlSchedules); err != nil {
		return fmt.Errorf("schedule: migrate: %w", err)
	}
	return nil
}

// PostgresStore is a [Store] backed by a PostgreSQL connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to the database at dsn and runs [Migrate].
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("schedule: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("schedule: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("schedule: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

// Add implements [Store.Add].
func (s *PostgresStore) Add(ctx context.Context, activity Activity, t time.Time) (Schedule, error) {
	if !activity.Valid() {
		return Schedule{}, fmt.Errorf("%w: %q", ErrInvalidActivity, activity)
	}
	sc := Schedule{
		ID:       uuid.NewString(),
		Activity: activity,
		Time:     truncate(t),
		Status:   StatusScheduled,
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO schedules (id, activity, time_ms, status) VALUES ($1, $2, $3, $4)`,
		sc.ID, string(sc.Activity), sc.Time.UnixMilli(), string(sc.Status))
	if err != nil {
		return Schedule{}, fmt.Errorf("schedule: insert: %w", err)
	}
	return sc, nil
}

// ListDue implements [Store.ListDue].
func (s *PostgresStore) ListDue(ctx context.Context, now time.Time) ([]Schedule, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, activity, time_ms, status
		FROM schedules
		WHERE status = $1 AND time_ms <= $2
		ORDER BY time_ms ASC, id ASC
	`, string(StatusScheduled), now.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("schedule: query due: %w", err)
	}
	return collectPgRows(rows)
}

// SetStatus implements [Store.SetStatus].
func (s *PostgresStore) SetStatus(ctx context.Context, id string, status Status) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	if !status.Terminal() {
		return checkTransition(id, StatusScheduled, status)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE schedules SET status = $1 WHERE id = $2 AND status = $3`,
		string(status), id, string(StatusScheduled))
	if err != nil {
		return fmt.Errorf("schedule: update status: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var from string
	err = s.pool.QueryRow(ctx, `SELECT status FROM schedules WHERE id = $1`, id).Scan(&from)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	case err != nil:
		return fmt.Errorf("schedule: read status: %w", err)
	}
	return checkTransition(id, Status(from), status)
}

// List implements [Store.List].
func (s *PostgresStore) List(ctx context.Context) ([]Schedule, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, activity, time_ms, status
		FROM schedules
		ORDER BY time_ms ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("schedule: query all: %w", err)
	}
	return collectPgRows(rows)
}

// Ping checks that the database is reachable. It backs the readiness probe.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close implements [Store.Close].
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func collectPgRows(rows pgx.Rows) ([]Schedule, error) {
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Schedule, error) {
		var (
			sc       Schedule
			activity string
			status   string
			ms       int64
		)
		if err := row.Scan(&sc.ID, &activity, &ms, &status); err != nil {
			return Schedule{}, err
		}
		sc.Activity = Activity(activity)
		sc.Status = Status(status)
		sc.Time = time.UnixMilli(ms)
		return sc, nil
	})
	if err != nil {
		return nil, fmt.Errorf("schedule: scan: %w", err)
	}
	return out, nil
}
