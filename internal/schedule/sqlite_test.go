package schedule_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/FlavioMarcoHaux/MiniMax/internal/schedule"
)

func newSQLiteStore(t *testing.T, path string) *schedule.SQLiteStore {
	t.Helper()
	s, err := schedule.OpenSQLite(context.Background(), path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore(t *testing.T) {
	t.Parallel()
	runStoreSuite(t, func(t *testing.T) schedule.Store {
		return newSQLiteStore(t, filepath.Join(t.TempDir(), "minimax.db"))
	})
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "minimax.db")
	ctx := context.Background()
	at := time.Date(2026, 5, 4, 20, 30, 15, 123_456_789, time.UTC)

	s, err := schedule.OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	sc, err := s.Add(ctx, schedule.ActivityGuidedPrayer, at)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2 := newSQLiteStore(t, path)
	all, err := s2.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("got %d schedules after reopen, want 1", len(all))
	}
	got := all[0]
	if got.ID != sc.ID || got.Activity != schedule.ActivityGuidedPrayer || got.Status != schedule.StatusScheduled {
		t.Errorf("reopened schedule = %+v, want %+v", got, sc)
	}
	// Stored with millisecond precision.
	if got.Time.UnixMilli() != at.UnixMilli() || !got.Time.Equal(sc.Time) {
		t.Errorf("Time = %v, want %v", got.Time, sc.Time)
	}
	if err := s2.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
}
