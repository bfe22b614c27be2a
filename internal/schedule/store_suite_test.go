package schedule_test

import (
	"context"
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/FlavioMarcoHaux/MiniMax/internal/schedule"
)

// runStoreSuite exercises the Store contract against one backend.
// newStore must return an empty store.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) schedule.Store) {
	t.Helper()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	t.Run("AddAssignsIDAndStatus", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		a, err := s.Add(ctx, schedule.ActivityMeditation, base)
		if err != nil {
			t.Fatalf("Add: %v", err)
		}
		b, err := s.Add(ctx, schedule.ActivityMeditation, base)
		if err != nil {
			t.Fatalf("Add: %v", err)
		}
		if a.ID == "" || a.ID == b.ID {
			t.Errorf("IDs not unique: %q, %q", a.ID, b.ID)
		}
		if a.Status != schedule.StatusScheduled {
			t.Errorf("Status = %q, want scheduled", a.Status)
		}
		if !a.Time.Equal(base) {
			t.Errorf("Time = %v, want %v", a.Time, base)
		}
	})

	t.Run("AddRejectsUnknownActivity", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Add(context.Background(), "yoga", base)
		if !errors.Is(err, schedule.ErrInvalidActivity) {
			t.Errorf("err = %v, want ErrInvalidActivity", err)
		}
	})

	t.Run("ListDueOrderAndBounds", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		late, _ := s.Add(ctx, schedule.ActivityPrayerPills, base.Add(2*time.Minute))
		early, _ := s.Add(ctx, schedule.ActivityGuidedPrayer, base.Add(-time.Minute))
		exact, _ := s.Add(ctx, schedule.ActivityMeditation, base)

		due, err := s.ListDue(ctx, base)
		if err != nil {
			t.Fatalf("ListDue: %v", err)
		}
		if len(due) != 2 {
			t.Fatalf("got %d due, want 2", len(due))
		}
		if due[0].ID != early.ID || due[1].ID != exact.ID {
			t.Errorf("order = [%s %s], want [%s %s]", due[0].ID, due[1].ID, early.ID, exact.ID)
		}
		for _, sc := range due {
			if sc.ID == late.ID {
				t.Error("future schedule listed as due")
			}
		}
	})

	t.Run("CompletedNeverListedAgain", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		sc, _ := s.Add(ctx, schedule.ActivityMeditation, base)
		if err := s.SetStatus(ctx, sc.ID, schedule.StatusCompleted); err != nil {
			t.Fatalf("SetStatus: %v", err)
		}
		for _, now := range []time.Time{base, base.Add(time.Hour), base.AddDate(1, 0, 0)} {
			due, err := s.ListDue(ctx, now)
			if err != nil {
				t.Fatalf("ListDue: %v", err)
			}
			if len(due) != 0 {
				t.Errorf("ListDue(%v) = %v, want empty", now, due)
			}
		}
	})

	t.Run("TerminalStatusesAreFinal", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		for _, final := range []schedule.Status{schedule.StatusCompleted, schedule.StatusMissed} {
			sc, _ := s.Add(ctx, schedule.ActivityMeditation, base.Add(-time.Second))
			if err := s.SetStatus(ctx, sc.ID, final); err != nil {
				t.Fatalf("SetStatus(%s): %v", final, err)
			}
			for _, next := range []schedule.Status{schedule.StatusScheduled, schedule.StatusCompleted, schedule.StatusMissed} {
				err := s.SetStatus(ctx, sc.ID, next)
				if !errors.Is(err, schedule.ErrInvalidTransition) {
					t.Errorf("%s -> %s: err = %v, want ErrInvalidTransition", final, next, err)
				}
			}
		}

		due, err := s.ListDue(ctx, base.Add(time.Hour))
		if err != nil {
			t.Fatalf("ListDue: %v", err)
		}
		if len(due) != 0 {
			t.Errorf("closed schedules listed as due: %+v", due)
		}
	})

	t.Run("ScheduledToScheduledRejected", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		sc, _ := s.Add(ctx, schedule.ActivityMeditation, base)
		if err := s.SetStatus(ctx, sc.ID, schedule.StatusScheduled); !errors.Is(err, schedule.ErrInvalidTransition) {
			t.Errorf("err = %v, want ErrInvalidTransition", err)
		}
		if due, _ := s.ListDue(ctx, base); len(due) != 1 {
			t.Errorf("ListDue = %+v, want the untouched schedule", due)
		}
	})

	t.Run("SetStatusUnknownID", func(t *testing.T) {
		s := newStore(t)
		err := s.SetStatus(context.Background(), "missing", schedule.StatusCompleted)
		if !errors.Is(err, schedule.ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})

	t.Run("SetStatusInvalid", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		sc, _ := s.Add(ctx, schedule.ActivityMeditation, base)
		err := s.SetStatus(ctx, sc.ID, "paused")
		if !errors.Is(err, schedule.ErrInvalidStatus) {
			t.Errorf("err = %v, want ErrInvalidStatus", err)
		}
	})

	t.Run("ListIncludesAllStatuses", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		a, _ := s.Add(ctx, schedule.ActivityMeditation, base.Add(time.Hour))
		b, _ := s.Add(ctx, schedule.ActivityGuidedPrayer, base)
		if err := s.SetStatus(ctx, b.ID, schedule.StatusMissed); err != nil {
			t.Fatal(err)
		}
		all, err := s.List(ctx)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(all) != 2 || all[0].ID != b.ID || all[1].ID != a.ID {
			t.Fatalf("List = %+v", all)
		}
		if all[0].Status != schedule.StatusMissed {
			t.Errorf("Status = %q, want missed", all[0].Status)
		}
	})

	// Random interleavings of Add and SetStatus: ListDue only ever returns
	// scheduled, non-future schedules in time order.
	t.Run("ListDueProperty", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		r := rand.New(rand.NewPCG(3, 5))

		var ids []string // still scheduled
		for i := range 60 {
			switch {
			case len(ids) > 0 && r.IntN(3) == 0:
				k := r.IntN(len(ids))
				id := ids[k]
				if err := s.SetStatus(ctx, id, schedule.StatusCompleted); err != nil {
					t.Fatalf("op %d SetStatus: %v", i, err)
				}
				ids = append(ids[:k], ids[k+1:]...)
			default:
				at := base.Add(time.Duration(r.IntN(120)-60) * time.Minute)
				act := schedule.Activities[r.IntN(len(schedule.Activities))]
				sc, err := s.Add(ctx, act, at)
				if err != nil {
					t.Fatalf("op %d Add: %v", i, err)
				}
				ids = append(ids, sc.ID)
			}

			now := base.Add(time.Duration(r.IntN(120)-60) * time.Minute)
			due, err := s.ListDue(ctx, now)
			if err != nil {
				t.Fatalf("op %d ListDue: %v", i, err)
			}
			for j, sc := range due {
				if sc.Status != schedule.StatusScheduled {
					t.Fatalf("op %d: listed %s with status %q", i, sc.ID, sc.Status)
				}
				if sc.Time.After(now) {
					t.Fatalf("op %d: listed %s at %v after now %v", i, sc.ID, sc.Time, now)
				}
				if j > 0 && due[j-1].Time.After(sc.Time) {
					t.Fatalf("op %d: due list out of order", i)
				}
			}
		}
	})
}
