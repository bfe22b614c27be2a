package schedule

import (
	"context"
	"time"
)

// Store persists schedules.
//
// All implementations must be safe for concurrent use.
type Store interface {
	// Add creates a schedule for activity at t with a fresh ID and
	// [StatusScheduled]. Returns [ErrInvalidActivity] for unknown activities.
	Add(ctx context.Context, activity Activity, t time.Time) (Schedule, error)

	// ListDue returns every schedule with [StatusScheduled] whose time is at
	// or before now, ordered by time ascending (ties by ID).
	ListDue(ctx context.Context, now time.Time) ([]Schedule, error)

	// SetStatus moves one scheduled schedule to a terminal status. Returns
	// [ErrNotFound] when no schedule has that ID, [ErrInvalidStatus] for
	// unknown statuses and [ErrInvalidTransition] when the schedule is
	// already completed or missed or status is [StatusScheduled].
	SetStatus(ctx context.Context, id string, status Status) error

	// List returns every schedule ordered by time ascending (ties by ID).
	List(ctx context.Context) ([]Schedule, error)

	// Close releases resources held by the store.
	Close() error
}
