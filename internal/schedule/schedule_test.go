package schedule_test

import (
	"errors"
	"testing"
	"time"

	"github.com/FlavioMarcoHaux/MiniMax/internal/schedule"
)

func TestActivity_Title(t *testing.T) {
	t.Parallel()

	tests := []struct {
		a    schedule.Activity
		want string
	}{
		{schedule.ActivityMeditation, "Meditação Guiada"},
		{schedule.ActivityGuidedPrayer, "Oração Guiada"},
		{schedule.ActivityPrayerPills, "Pílula de Oração"},
		{"yoga", "yoga"},
	}
	for _, tt := range tests {
		if got := tt.a.Title(); got != tt.want {
			t.Errorf("%q.Title() = %q, want %q", tt.a, got, tt.want)
		}
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name     string
		activity schedule.Activity
		at       time.Time
		want     error
	}{
		{"future", schedule.ActivityMeditation, now.Add(time.Minute), nil},
		{"now is past", schedule.ActivityMeditation, now, schedule.ErrPastTime},
		{"past", schedule.ActivityPrayerPills, now.Add(-time.Hour), schedule.ErrPastTime},
		{"unknown activity", "yoga", now.Add(time.Hour), schedule.ErrInvalidActivity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := schedule.Validate(tt.activity, tt.at, now)
			if tt.want == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestMessages(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 7, 3, 8, 5, 0, 0, time.UTC)
	if got, want := schedule.ConfirmationMessage(at), "Sessão agendada para 03/07/2026 08:05."; got != want {
		t.Errorf("ConfirmationMessage = %q, want %q", got, want)
	}
	if got, want := schedule.CallingMessage(schedule.ActivityMeditation), "Seu mentor está ligando para a sua Meditação Guiada."; got != want {
		t.Errorf("CallingMessage = %q, want %q", got, want)
	}
}

func TestSchedule_Due(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sc := schedule.Schedule{Time: now, Status: schedule.StatusScheduled}
	if !sc.Due(now) {
		t.Error("schedule at now should be due")
	}
	if sc.Due(now.Add(-time.Millisecond)) {
		t.Error("schedule should not be due before its time")
	}
	sc.Status = schedule.StatusCompleted
	if sc.Due(now.Add(time.Hour)) {
		t.Error("completed schedule should never be due")
	}
}
