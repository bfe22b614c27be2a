// Package schedule stores the user's scheduled mentor calls and fires them
// when they fall due.
//
// A [Schedule] is created with status [StatusScheduled] and is moved to
// [StatusCompleted] exactly once, by the [Poller], when its time has passed
// and no voice session is active, or to [StatusMissed] when the user dismisses
// it. Both are terminal: stores refuse to move a schedule out of them, so a
// fired schedule is never returned by [Store.ListDue] again.
package schedule

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned by SetStatus when no schedule has the given ID.
	ErrNotFound = errors.New("schedule: not found")

	// ErrInvalidActivity is returned when an activity is not one of the
	// known [Activity] values.
	ErrInvalidActivity = errors.New("schedule: invalid activity")

	// ErrInvalidStatus is returned when a status is not one of the known
	// [Status] values.
	ErrInvalidStatus = errors.New("schedule: invalid status")

	// ErrInvalidTransition is returned by SetStatus when the schedule is
	// already completed or missed, or the target status is not terminal.
	ErrInvalidTransition = errors.New("schedule: invalid status transition")

	// ErrPastTime is returned by [Validate] when the requested time is not
	// strictly in the future.
	ErrPastTime = errors.New("schedule: time is not in the future")
)

// PastTimeMessage is the user-facing text for [ErrPastTime].
const PastTimeMessage = "Por favor, escolha um horário no futuro."

// Activity is the kind of guided session a schedule starts.
type Activity string

const (
	ActivityMeditation   Activity = "meditation"
	ActivityGuidedPrayer Activity = "guided_prayer"
	ActivityPrayerPills  Activity = "prayer_pills"
)

// Activities lists every known activity in display order.
var Activities = []Activity{ActivityMeditation, ActivityGuidedPrayer, ActivityPrayerPills}

// Valid reports whether a is a known activity.
func (a Activity) Valid() bool {
	switch a {
	case ActivityMeditation, ActivityGuidedPrayer, ActivityPrayerPills:
		return true
	}
	return false
}

// Title returns the display name of the activity. Unknown activities are
// returned verbatim.
func (a Activity) Title() string {
	switch a {
	case ActivityMeditation:
		return "Meditação Guiada"
	case ActivityGuidedPrayer:
		return "Oração Guiada"
	case ActivityPrayerPills:
		return "Pílula de Oração"
	default:
		return string(a)
	}
}

// Status is the lifecycle state of a schedule.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusCompleted Status = "completed"
	StatusMissed    Status = "missed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusCompleted, StatusMissed:
		return true
	}
	return false
}

// Terminal reports whether s is a final status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusMissed
}

// checkTransition validates moving a schedule from one status to another.
// Only scheduled may change, and only to a terminal status.
func checkTransition(id string, from, to Status) error {
	if from != StatusScheduled || !to.Terminal() {
		return fmt.Errorf("%w: %s is %s, cannot become %s", ErrInvalidTransition, id, from, to)
	}
	return nil
}

// Schedule is one planned mentor call.
type Schedule struct {
	ID       string    `json:"id"`
	Activity Activity  `json:"activity"`
	Time     time.Time `json:"time"`
	Status   Status    `json:"status"`
}

// Due reports whether s should fire at now.
func (s Schedule) Due(now time.Time) bool {
	return s.Status == StatusScheduled && !s.Time.After(now)
}

// Validate checks a scheduling request made at now.
func Validate(activity Activity, at, now time.Time) error {
	if !activity.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidActivity, activity)
	}
	if !at.After(now) {
		return ErrPastTime
	}
	return nil
}

// ConfirmationMessage is the notification shown after a schedule is created.
func ConfirmationMessage(at time.Time) string {
	return "Sessão agendada para " + at.Format("02/01/2006 15:04") + "."
}

// CallingMessage is the notification shown when the mentor starts calling.
func CallingMessage(a Activity) string {
	return "Seu mentor está ligando para a sua " + a.Title() + "."
}

// truncate drops sub-millisecond precision so every backend stores and
// returns the same instant.
func truncate(t time.Time) time.Time {
	return time.UnixMilli(t.UnixMilli())
}

// compare orders schedules by time, then by ID.
func compare(a, b Schedule) int {
	if c := a.Time.Compare(b.Time); c != 0 {
		return c
	}
	switch {
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	}
	return 0
}
