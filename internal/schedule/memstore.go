package schedule

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Compile-time assertion that MemStore satisfies the Store interface.
var _ Store = (*MemStore)(nil)

// MemStore is a thread-safe, in-memory implementation of [Store].
// The zero value is ready to use.
type MemStore struct {
	mu        sync.RWMutex
	schedules map[string]Schedule
}

// NewMemStore returns an initialised [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{schedules: make(map[string]Schedule)}
}

// Add implements [Store.Add].
func (s *MemStore) Add(_ context.Context, activity Activity, t time.Time) (Schedule, error) {
	if !activity.Valid() {
		return Schedule{}, fmt.Errorf("%w: %q", ErrInvalidActivity, activity)
	}
	sc := Schedule{
		ID:       uuid.NewString(),
		Activity: activity,
		Time:     truncate(t),
		Status:   StatusScheduled,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.schedules == nil {
		s.schedules = make(map[string]Schedule)
	}
	s.schedules[sc.ID] = sc
	return sc, nil
}

// ListDue implements [Store.ListDue].
func (s *MemStore) ListDue(_ context.Context, now time.Time) ([]Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []Schedule
	for _, sc := range s.schedules {
		if sc.Due(now) {
			due = append(due, sc)
		}
	}
	slices.SortFunc(due, compare)
	return due, nil
}

// SetStatus implements [Store.SetStatus].
func (s *MemStore) SetStatus(_ context.Context, id string, status Status) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.schedules[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := checkTransition(id, sc.Status, status); err != nil {
		return err
	}
	sc.Status = status
	s.schedules[id] = sc
	return nil
}

// List implements [Store.List].
func (s *MemStore) List(_ context.Context) ([]Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]Schedule, 0, len(s.schedules))
	for _, sc := range s.schedules {
		all = append(all, sc)
	}
	slices.SortFunc(all, compare)
	return all, nil
}

// Close implements [Store.Close]. It is a no-op.
func (s *MemStore) Close() error { return nil }
