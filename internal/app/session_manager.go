package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/FlavioMarcoHaux/MiniMax/internal/dispatch"
	"github.com/FlavioMarcoHaux/MiniMax/internal/notify"
	"github.com/FlavioMarcoHaux/MiniMax/internal/observe"
	"github.com/FlavioMarcoHaux/MiniMax/internal/schedule"
	"github.com/FlavioMarcoHaux/MiniMax/internal/voicesession"
	"github.com/FlavioMarcoHaux/MiniMax/pkg/audio"
	"github.com/FlavioMarcoHaux/MiniMax/pkg/provider/s2s"
)

// ErrNoSession is returned when an operation needs an active session.
var ErrNoSession = errors.New("app: no active session")

// ErrNotACall is returned by Connect when the active session has no voice
// call to answer.
var ErrNotACall = errors.New("app: active session is not a mentor call")

// SessionInfo describes the active session.
type SessionInfo struct {
	// ID is unique per session; a transition starts a new ID.
	ID string `json:"id"`

	// Kind is the experience currently shown.
	Kind dispatch.Kind `json:"kind"`

	// Schedule is the schedule that led to this session.
	Schedule schedule.Schedule `json:"schedule"`

	StartedAt time.Time `json:"started_at"`
}

// SessionView is SessionInfo plus the call state, when the session is a
// mentor call.
type SessionView struct {
	SessionInfo
	Call       *voicesession.State `json:"call,omitempty"`
	StatusText string              `json:"status_text,omitempty"`
}

// SessionManager holds the single active session. The poller asks it to
// open mentor calls; the HTTP API answers and exits them. All exported
// methods are safe for concurrent use.
type SessionManager struct {
	mu     sync.Mutex
	active bool
	info   SessionInfo
	ctrl   *voicesession.Controller

	device   audio.Device
	provider s2s.Provider
	voice    string
	capture  audio.Format
	playback audio.Format
	notifier notify.Sink
	metrics  *observe.Metrics
	log      *slog.Logger
	now      func() time.Time
}

// SessionManagerConfig holds the dependencies of a [SessionManager].
type SessionManagerConfig struct {
	Device   audio.Device
	Provider s2s.Provider

	// Voice selects the backend voice. Empty uses the provider default.
	Voice string

	// CaptureFormat and PlaybackFormat default to audio.CaptureFormat and
	// audio.PlaybackFormat.
	CaptureFormat  audio.Format
	PlaybackFormat audio.Format

	Notifier notify.Sink
	Metrics  *observe.Metrics
	Logger   *slog.Logger
	Now      func() time.Time
}

// NewSessionManager creates a SessionManager with no active session.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	sm := &SessionManager{
		device:   cfg.Device,
		provider: cfg.Provider,
		voice:    cfg.Voice,
		capture:  cfg.CaptureFormat,
		playback: cfg.PlaybackFormat,
		notifier: cfg.Notifier,
		metrics:  cfg.Metrics,
		log:      cfg.Logger,
		now:      cfg.Now,
	}
	if sm.capture == (audio.Format{}) {
		sm.capture = audio.CaptureFormat
	}
	if sm.playback == (audio.Format{}) {
		sm.playback = audio.PlaybackFormat
	}
	if sm.notifier == nil {
		sm.notifier = notify.LogSink{}
	}
	if sm.metrics == nil {
		sm.metrics = observe.DefaultMetrics()
	}
	if sm.log == nil {
		sm.log = slog.Default()
	}
	if sm.now == nil {
		sm.now = time.Now
	}
	return sm
}

// SetVoice changes the voice used by calls opened from now on.
func (sm *SessionManager) SetVoice(voice string) {
	sm.mu.Lock()
	sm.voice = voice
	sm.mu.Unlock()
}

// Active reports whether a session is open. The poller skips its scan
// while this is true.
func (sm *SessionManager) Active() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.active
}

// StartCall opens a mentor call for sc. It does nothing if a session is
// already open. The call stays idle until [SessionManager.Connect].
func (sm *SessionManager) StartCall(_ context.Context, sc schedule.Schedule) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.active {
		sm.log.Warn("session: call skipped, a session is already active",
			"active_id", sm.info.ID, "schedule_id", sc.ID)
		return
	}
	sm.openLocked(dispatch.KindScheduledSession, sc)
}

// openLocked makes a new session current. For a mentor call it also builds
// the controller; its callbacks capture the session ID so late callbacks
// from a replaced call are ignored.
func (sm *SessionManager) openLocked(kind dispatch.Kind, sc schedule.Schedule) {
	id := uuid.NewString()
	sm.active = true
	sm.ctrl = nil
	sm.info = SessionInfo{ID: id, Kind: kind, Schedule: sc, StartedAt: sm.now().UTC()}

	if kind == dispatch.KindScheduledSession {
		sm.ctrl = voicesession.New(sc, sm.device, sm.provider,
			voicesession.WithOnExit(func() { sm.end(id) }),
			voicesession.WithOnTransition(func(next schedule.Schedule) { sm.transition(id, next) }),
			voicesession.WithFormats(sm.capture, sm.playback),
			voicesession.WithVoice(sm.voice),
			voicesession.WithMetrics(sm.metrics),
			voicesession.WithLogger(sm.log.With("session_id", id)),
		)
	}

	sm.log.Info("session started",
		"session_id", id,
		"kind", string(kind),
		"schedule_id", sc.ID,
		"activity", string(sc.Activity),
	)
}

// transition runs after the mentor confirmed the activity and the call was
// torn down.
func (sm *SessionManager) transition(id string, sc schedule.Schedule) {
	next := dispatch.Dispatch(sc.Activity, sc)

	sm.mu.Lock()
	defer sm.mu.Unlock()
	if !sm.active || sm.info.ID != id {
		return
	}
	if next.Kind == dispatch.KindExit {
		sm.closeLocked("transition_exit")
		return
	}
	sm.openLocked(next.Kind, next.Schedule)
}

// end closes the session id if it is still current.
func (sm *SessionManager) end(id string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if !sm.active || sm.info.ID != id {
		return
	}
	sm.closeLocked("exit")
}

func (sm *SessionManager) closeLocked(reason string) {
	sm.log.Info("session ended",
		"session_id", sm.info.ID,
		"kind", string(sm.info.Kind),
		"reason", reason,
		"duration", sm.now().Sub(sm.info.StartedAt).String(),
	)
	sm.active = false
	sm.ctrl = nil
	sm.info = SessionInfo{}
}

// Connect answers the active mentor call, or retries it after an error.
func (sm *SessionManager) Connect(ctx context.Context) error {
	sm.mu.Lock()
	ctrl := sm.ctrl
	active := sm.active
	sm.mu.Unlock()

	switch {
	case !active:
		return ErrNoSession
	case ctrl == nil:
		return ErrNotACall
	}
	if err := ctrl.Connect(ctx); err != nil {
		return fmt.Errorf("session: connect: %w", err)
	}
	return nil
}

// Exit closes the active session at the user's request. A mentor call is
// torn down first. Exit without an active session returns [ErrNoSession].
func (sm *SessionManager) Exit() error {
	sm.mu.Lock()
	if !sm.active {
		sm.mu.Unlock()
		return ErrNoSession
	}
	ctrl := sm.ctrl
	if ctrl == nil {
		sm.closeLocked("exit")
		sm.mu.Unlock()
		return nil
	}
	sm.mu.Unlock()

	// The controller's exit callback clears the session.
	ctrl.Close()
	return nil
}

// Current returns the active session, if any.
func (sm *SessionManager) Current() (SessionView, bool) {
	sm.mu.Lock()
	if !sm.active {
		sm.mu.Unlock()
		return SessionView{}, false
	}
	view := SessionView{SessionInfo: sm.info}
	ctrl := sm.ctrl
	sm.mu.Unlock()

	if ctrl != nil {
		st := ctrl.State()
		view.Call = &st
		view.StatusText = ctrl.StatusText()
	}
	return view, true
}

// Close tears down any active call. Used on shutdown.
func (sm *SessionManager) Close() error {
	sm.mu.Lock()
	ctrl := sm.ctrl
	sm.mu.Unlock()
	if ctrl != nil {
		ctrl.Close()
	}
	return nil
}
