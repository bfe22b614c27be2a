// Package voicesession runs the realtime mentor call that precedes a
// scheduled activity.
//
// A [Controller] owns one call: it acquires the microphone and speakers from
// an [audio.Device], opens a speech-to-speech session, streams captured audio
// out, schedules returned audio back-to-back for playback, and records the
// transcription. When the model calls confirmSessionStart the controller
// releases everything and hands the schedule on to the next experience.
//
// States move idle → connecting → connected → transitioning, or to error
// from anywhere before transitioning. Every exit path (user exit, backend
// error, backend hang-up, confirmation, retry) goes through the same
// idempotent teardown.
package voicesession

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/FlavioMarcoHaux/MiniMax/internal/friendly"
	"github.com/FlavioMarcoHaux/MiniMax/internal/observe"
	"github.com/FlavioMarcoHaux/MiniMax/internal/schedule"
	"github.com/FlavioMarcoHaux/MiniMax/pkg/audio"
	"github.com/FlavioMarcoHaux/MiniMax/pkg/provider/s2s"
)

// ErrClosed is returned by Connect after the call has ended.
var ErrClosed = errors.New("voicesession: closed")

// errSuperseded is returned by Connect when Close or a newer attempt took
// over while it was waiting.
var errSuperseded = errors.New("voicesession: connect superseded")

// Status is the call state.
type Status string

const (
	StatusIdle          Status = "idle"
	StatusConnecting    Status = "connecting"
	StatusConnected     Status = "connected"
	StatusTransitioning Status = "transitioning"
	StatusError         Status = "error"
)

// State is a snapshot of the call for display.
type State struct {
	Status       Status  `json:"status"`
	Transcript   []Entry `json:"transcript"`
	ErrorMessage string  `json:"error_message,omitempty"`
}

// Option is a functional option for [New].
type Option func(*Controller)

// WithOnExit sets the callback run once when the call ends without a
// transition: user exit or backend hang-up.
func WithOnExit(fn func()) Option {
	return func(c *Controller) { c.onExit = fn }
}

// WithOnTransition sets the callback run once, after teardown, when the
// model confirms the session start.
func WithOnTransition(fn func(schedule.Schedule)) Option {
	return func(c *Controller) { c.onTransition = fn }
}

// WithMetrics overrides the metrics instance. Defaults to observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithLogger overrides the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.log = l }
}

// WithFormats overrides the capture and playback formats. Defaults to
// audio.CaptureFormat and audio.PlaybackFormat.
func WithFormats(capture, playback audio.Format) Option {
	return func(c *Controller) {
		c.captureFmt = capture
		c.playbackFmt = playback
	}
}

// WithVoice selects the provider voice for the mentor.
func WithVoice(voice string) Option {
	return func(c *Controller) { c.voice = voice }
}

// Controller manages one mentor call. All methods are safe for concurrent use.
type Controller struct {
	schedule     schedule.Schedule
	device       audio.Device
	provider     s2s.Provider
	onExit       func()
	onTransition func(schedule.Schedule)
	metrics      *observe.Metrics
	log          *slog.Logger
	captureFmt   audio.Format
	playbackFmt  audio.Format
	voice        string

	transcript Transcript

	mu     sync.Mutex
	status Status
	errMsg string
	// gen identifies the current connection attempt. Goroutines and pending
	// acquisitions from an older attempt compare against it and back off.
	gen    uint64
	closed bool
	res    resources
}

// resources are the handles held by one connection attempt. Each is nil
// until acquired and reset to nil once released.
type resources struct {
	capture  audio.CaptureStream
	playback audio.PlaybackContext
	player   *audio.Player
	session  s2s.SessionHandle
	stop     chan struct{}
}

// New creates an idle Controller for sc.
func New(sc schedule.Schedule, device audio.Device, provider s2s.Provider, opts ...Option) *Controller {
	c := &Controller{
		schedule:     sc,
		device:       device,
		provider:     provider,
		onExit:       func() {},
		onTransition: func(schedule.Schedule) {},
		captureFmt:   audio.CaptureFormat,
		playbackFmt:  audio.PlaybackFormat,
		status:       StatusIdle,
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	c.log = c.log.With("schedule_id", sc.ID, "activity", string(sc.Activity))
	return c
}

// Schedule returns the schedule this call belongs to.
func (c *Controller) Schedule() schedule.Schedule { return c.schedule }

// State returns a snapshot of the call.
func (c *Controller) State() State {
	c.mu.Lock()
	st := State{Status: c.status, ErrorMessage: c.errMsg}
	c.mu.Unlock()
	st.Transcript = c.transcript.Entries()
	return st
}

// StatusText returns the headline shown to the user for the current state.
func (c *Controller) StatusText() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return statusText(c.status, c.schedule.Activity, c.errMsg)
}

// Connect answers the call. It is a no-op while a connection is being made
// or is open, and retries from the error state. Acquisition failures never
// reach the network.
//
// On failure the controller is left in [StatusError] and the cause is
// returned. ctx bounds the acquisition and dial only; the call itself lives
// until it ends or Close is called.
func (c *Controller) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.status == StatusConnecting || c.status == StatusConnected {
		c.mu.Unlock()
		return nil
	}
	c.gen++
	gen := c.gen
	c.status = StatusConnecting
	c.errMsg = ""
	leftovers := c.takeLocked()
	c.mu.Unlock()

	c.release(leftovers)
	// Every attempt dials a fresh backend session.
	c.transcript.Reset()
	started := time.Now()

	capture, err := c.device.OpenCapture(ctx, c.captureFmt)
	if err != nil {
		c.fail(gen, acquisitionMessage(err), err)
		return fmt.Errorf("voicesession: open capture: %w", err)
	}
	if !c.keep(gen, func(r *resources) { r.capture = capture }) {
		_ = capture.Close()
		return errSuperseded
	}

	playback, err := c.device.OpenPlayback(ctx, c.playbackFmt)
	if err != nil {
		c.fail(gen, acquisitionMessage(err), err)
		return fmt.Errorf("voicesession: open playback: %w", err)
	}
	player := audio.NewPlayer(playback)
	if !c.keep(gen, func(r *resources) { r.playback, r.player = playback, player }) {
		_ = playback.Close()
		return errSuperseded
	}

	sess, err := c.provider.Connect(ctx, c.sessionConfig())
	if err != nil {
		c.fail(gen, friendly.Message(err, ConnectionFailedMessage), err)
		return fmt.Errorf("voicesession: dial: %w", err)
	}

	c.mu.Lock()
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		_ = sess.Close()
		return errSuperseded
	}
	stop := make(chan struct{})
	c.res.session = sess
	c.res.stop = stop
	c.status = StatusConnected
	c.mu.Unlock()

	c.metrics.ActiveSessions.Add(context.Background(), 1)
	c.metrics.ConnectDuration.Record(context.Background(), time.Since(started).Seconds())
	c.log.Info("voicesession: connected")

	go c.pumpCapture(capture.Frames(), sess, stop)
	go c.receive(gen, sess, player)
	return nil
}

// Close ends the call at the user's request. It tears down every resource
// and runs the exit callback once. Calling Close after the call has already
// ended does nothing.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.gen++
	res := c.takeLocked()
	c.mu.Unlock()

	c.release(res)
	c.log.Info("voicesession: closed by user")
	c.metrics.RecordSessionOutcome(context.Background(), string(c.schedule.Activity), observe.OutcomeExit)
	c.onExit()
}

// Teardown releases every resource held by the current attempt. It is safe
// to call any number of times, including before anything was acquired. An
// attempt in progress is abandoned and the controller returns to idle so a
// fresh Connect can succeed.
func (c *Controller) Teardown() {
	c.mu.Lock()
	c.gen++
	if c.status == StatusConnecting || c.status == StatusConnected {
		c.status = StatusIdle
	}
	res := c.takeLocked()
	c.mu.Unlock()

	c.release(res)
}

func (c *Controller) sessionConfig() s2s.SessionConfig {
	return s2s.SessionConfig{
		Voice:        c.voice,
		Instructions: Instructions(c.schedule.Activity),
		Tools:        []s2s.FunctionDeclaration{confirmTool},
		Transcribe:   true,
	}
}

// keep stores a freshly acquired handle if gen is still the current attempt.
func (c *Controller) keep(gen uint64, store func(*resources)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || gen != c.gen {
		return false
	}
	store(&c.res)
	return true
}

// current reports whether gen is the live attempt.
func (c *Controller) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && gen == c.gen
}

// takeLocked hands the held resources to the caller and clears them.
// c.mu must be held.
func (c *Controller) takeLocked() resources {
	res := c.res
	c.res = resources{}
	return res
}

// release frees res outside the lock. Secondary errors are logged at debug.
func (c *Controller) release(res resources) {
	if res.stop != nil {
		close(res.stop)
	}
	if res.session != nil {
		if err := res.session.Close(); err != nil {
			c.log.Debug("voicesession: close session", "err", err)
		}
		c.metrics.ActiveSessions.Add(context.Background(), -1)
	}
	if res.capture != nil {
		if err := res.capture.Close(); err != nil {
			c.log.Debug("voicesession: close capture", "err", err)
		}
	}
	if res.player != nil {
		res.player.StopAll()
	}
	if res.playback != nil {
		if err := res.playback.Close(); err != nil {
			c.log.Debug("voicesession: close playback", "err", err)
		}
	}
}

// fail moves the current attempt to the error state and tears it down.
func (c *Controller) fail(gen uint64, msg string, cause error) {
	c.mu.Lock()
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.status = StatusError
	c.errMsg = msg
	res := c.takeLocked()
	c.mu.Unlock()

	c.release(res)
	c.log.Warn("voicesession: failed", "err", cause)
	c.metrics.RecordSessionOutcome(context.Background(), string(c.schedule.Activity), observe.OutcomeError)
}

// pumpCapture forwards microphone frames in capture order until the capture
// ends, the attempt is torn down, or the session stops accepting audio.
func (c *Controller) pumpCapture(frames <-chan []float32, sess s2s.SessionHandle, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			if err := sess.SendAudio(audio.PCM16FromFloat32(frame)); err != nil {
				c.log.Debug("voicesession: send audio", "err", err)
				return
			}
			c.metrics.AudioChunksSent.Add(context.Background(), 1)
		}
	}
}

// receive handles inbound events in arrival order until the stream ends or
// the model confirms the session start.
func (c *Controller) receive(gen uint64, sess s2s.SessionHandle, player *audio.Player) {
	for ev := range sess.Events() {
		if !c.current(gen) {
			return
		}
		switch ev.Kind {
		case s2s.EventAudio:
			c.play(player, ev.Audio)
		case s2s.EventInputTranscription:
			c.transcript.Append(SenderUser, ev.Text)
		case s2s.EventOutputTranscription:
			c.transcript.Append(SenderModel, ev.Text)
		case s2s.EventToolCall:
			if ev.ToolCall != nil && ev.ToolCall.Name == ConfirmToolName {
				c.transition(gen)
				return
			}
			name := ""
			if ev.ToolCall != nil {
				name = ev.ToolCall.Name
			}
			c.log.Info("voicesession: ignoring tool call", "tool", name)
		}
	}
	c.streamEnded(gen, sess.Err())
}

// play decodes one chunk and schedules it. A chunk that cannot be decoded
// is skipped; later chunks still play.
func (c *Controller) play(player *audio.Player, data string) {
	ctx := context.Background()
	pcm, err := audio.DecodeBase64(data)
	if err != nil {
		c.log.Warn("voicesession: skipping audio chunk", "err", err)
		c.metrics.RecordDecodeError(ctx, "base64")
		return
	}
	buf, err := audio.DecodeBuffer(pcm, c.playbackFmt.SampleRate, c.playbackFmt.Channels)
	if err != nil {
		c.log.Warn("voicesession: skipping audio chunk", "err", err)
		c.metrics.RecordDecodeError(ctx, "pcm")
		return
	}
	if _, err := player.Enqueue(buf); err != nil {
		c.log.Debug("voicesession: enqueue audio", "err", err)
		return
	}
	c.metrics.AudioChunksPlayed.Add(ctx, 1)
}

// transition ends the call successfully and hands over to the next session.
func (c *Controller) transition(gen uint64) {
	c.mu.Lock()
	if c.closed || gen != c.gen || c.status != StatusConnected {
		c.mu.Unlock()
		return
	}
	c.status = StatusTransitioning
	c.closed = true
	res := c.takeLocked()
	c.mu.Unlock()

	c.release(res)
	c.log.Info("voicesession: session start confirmed")
	c.metrics.RecordSessionOutcome(context.Background(), string(c.schedule.Activity), observe.OutcomeTransitioned)
	c.onTransition(c.schedule)
}

// streamEnded handles the backend closing the stream. An error moves the
// call to the error state; a clean close is the user hanging up.
func (c *Controller) streamEnded(gen uint64, err error) {
	c.mu.Lock()
	if c.closed || gen != c.gen || c.status != StatusConnected {
		c.mu.Unlock()
		return
	}
	if err != nil {
		c.mu.Unlock()
		c.fail(gen, friendly.Message(err, ConnectionFailedMessage), err)
		return
	}
	c.closed = true
	res := c.takeLocked()
	c.mu.Unlock()

	c.release(res)
	c.log.Info("voicesession: stream closed by backend")
	c.metrics.RecordSessionOutcome(context.Background(), string(c.schedule.Activity), observe.OutcomeHangup)
	c.onExit()
}
