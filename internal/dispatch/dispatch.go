// Package dispatch decides which experience follows a scheduled voice call
// once the mentor confirms the session should start.
package dispatch

import "github.com/FlavioMarcoHaux/MiniMax/internal/schedule"

// Kind identifies a session the application can show.
type Kind string

const (
	// KindScheduledSession is the mentor call that precedes the activity.
	KindScheduledSession Kind = "scheduled_session_handler"

	// KindGuidedMeditationVoice is the voice-guided meditation flow.
	KindGuidedMeditationVoice Kind = "guided_meditation_voice"

	// KindExit closes the flow and returns to the main screen.
	KindExit Kind = "exit"
)

// Next describes the session to open next. Schedule is the schedule that
// led here; it is the zero value for KindExit.
type Next struct {
	Kind     Kind              `json:"kind"`
	Schedule schedule.Schedule `json:"schedule"`
}

// Exit returns the descriptor that closes the flow.
func Exit() Next { return Next{Kind: KindExit} }

// Dispatch maps a confirmed activity to the next session. Only meditation
// has a voice continuation; every other activity, known or not, exits.
func Dispatch(activity schedule.Activity, sc schedule.Schedule) Next {
	switch activity {
	case schedule.ActivityMeditation:
		return Next{Kind: KindGuidedMeditationVoice, Schedule: sc}
	case schedule.ActivityGuidedPrayer, schedule.ActivityPrayerPills:
		// TODO: route to the guided prayer and prayer pill voice flows once they exist.
		return Exit()
	default:
		return Exit()
	}
}
