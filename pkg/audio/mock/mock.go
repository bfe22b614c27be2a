// Package mock provides in-memory mock implementations of [audio.Device],
// [audio.CaptureStream], [audio.PlaybackContext], and [audio.Source] for use
// in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	dev := &mock.Device{}
//	ctrl := voicesession.New(sched, dev, provider)
//	_ = ctrl.Connect(ctx)
//	dev.Capture().Push([]float32{0.1, 0.2})
//	dev.Playback().SetTime(2 * time.Second)
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/FlavioMarcoHaux/MiniMax/pkg/audio"
)

// ─── Device ───────────────────────────────────────────────────────────────────

// Device is a mock implementation of [audio.Device]. Each successful Open*
// call creates a fresh stream or context; the most recent ones are returned by
// [Device.Capture] and [Device.Playback].
type Device struct {
	mu sync.Mutex

	// CaptureErr is returned by OpenCapture when non-nil.
	CaptureErr error

	// PlaybackErr is returned by OpenPlayback when non-nil.
	PlaybackErr error

	// CallCountOpenCapture records how many times OpenCapture was called.
	CallCountOpenCapture int

	// CallCountOpenPlayback records how many times OpenPlayback was called.
	CallCountOpenPlayback int

	// CaptureFormats records the format passed to each OpenCapture call.
	CaptureFormats []audio.Format

	// PlaybackFormats records the format passed to each OpenPlayback call.
	PlaybackFormats []audio.Format

	captures  []*Capture
	playbacks []*Playback
}

// OpenCapture implements [audio.Device].
func (d *Device) OpenCapture(_ context.Context, f audio.Format) (audio.CaptureStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountOpenCapture++
	d.CaptureFormats = append(d.CaptureFormats, f)
	if d.CaptureErr != nil {
		return nil, d.CaptureErr
	}
	c := NewCapture()
	d.captures = append(d.captures, c)
	return c, nil
}

// OpenPlayback implements [audio.Device].
func (d *Device) OpenPlayback(_ context.Context, f audio.Format) (audio.PlaybackContext, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountOpenPlayback++
	d.PlaybackFormats = append(d.PlaybackFormats, f)
	if d.PlaybackErr != nil {
		return nil, d.PlaybackErr
	}
	p := &Playback{}
	d.playbacks = append(d.playbacks, p)
	return p, nil
}

// SetCaptureErr replaces CaptureErr under the device lock.
func (d *Device) SetCaptureErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CaptureErr = err
}

// Capture returns the most recently opened capture stream, or nil.
func (d *Device) Capture() *Capture {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.captures) == 0 {
		return nil
	}
	return d.captures[len(d.captures)-1]
}

// Captures returns every capture stream opened so far.
func (d *Device) Captures() []*Capture {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Capture(nil), d.captures...)
}

// Playback returns the most recently opened playback context, or nil.
func (d *Device) Playback() *Playback {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.playbacks) == 0 {
		return nil
	}
	return d.playbacks[len(d.playbacks)-1]
}

// Playbacks returns every playback context opened so far.
func (d *Device) Playbacks() []*Playback {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Playback(nil), d.playbacks...)
}

// ─── Capture ──────────────────────────────────────────────────────────────────

// Capture is a mock implementation of [audio.CaptureStream]. Tests feed
// frames with [Capture.Push].
type Capture struct {
	mu     sync.Mutex
	frames chan []float32
	closed bool

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// NewCapture returns an open Capture with a buffered frame channel.
func NewCapture() *Capture {
	return &Capture{frames: make(chan []float32, 64)}
}

// Frames implements [audio.CaptureStream].
func (c *Capture) Frames() <-chan []float32 { return c.frames }

// Push delivers a captured frame. It reports false if the stream is closed.
func (c *Capture) Push(frame []float32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.frames <- frame
	return true
}

// Close implements [audio.CaptureStream]. Idempotent.
func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountClose++
	if !c.closed {
		c.closed = true
		close(c.frames)
	}
	return nil
}

// Closed reports whether Close has been called.
func (c *Capture) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// ─── Playback ─────────────────────────────────────────────────────────────────

// StartCall records a single call to [Playback.Start].
type StartCall struct {
	Buffer *audio.Buffer
	At     time.Duration
	Source *Source
}

// Playback is a mock implementation of [audio.PlaybackContext] with a
// manually advanced clock.
type Playback struct {
	mu     sync.Mutex
	now    time.Duration
	closed bool

	// StartErr is returned by Start when non-nil.
	StartErr error

	// CloseErr is returned by Close when non-nil.
	CloseErr error

	// Starts records every successful Start call in order.
	Starts []StartCall

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// SetTime moves the playback clock.
func (p *Playback) SetTime(t time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now = t
}

// CurrentTime implements [audio.PlaybackContext].
func (p *Playback) CurrentTime() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.now
}

// Start implements [audio.PlaybackContext].
func (p *Playback) Start(buf *audio.Buffer, at time.Duration) (audio.Source, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, audio.ErrClosed
	}
	if p.StartErr != nil {
		return nil, p.StartErr
	}
	src := NewSource()
	p.Starts = append(p.Starts, StartCall{Buffer: buf, At: at, Source: src})
	return src, nil
}

// StartCalls returns a copy of the recorded Start calls.
func (p *Playback) StartCalls() []StartCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]StartCall(nil), p.Starts...)
}

// Close implements [audio.PlaybackContext]. Repeated calls return
// [audio.ErrClosed] so callers can verify they ignore it.
func (p *Playback) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CallCountClose++
	if p.closed {
		return audio.ErrClosed
	}
	p.closed = true
	return p.CloseErr
}

// Closed reports whether Close has been called.
func (p *Playback) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// ─── Source ───────────────────────────────────────────────────────────────────

// Source is a mock implementation of [audio.Source].
type Source struct {
	mu      sync.Mutex
	done    chan struct{}
	ended   bool
	stopped bool

	// CallCountStop records how many times Stop was called.
	CallCountStop int
}

// NewSource returns a Source that is still playing.
func NewSource() *Source {
	return &Source{done: make(chan struct{})}
}

// Stop implements [audio.Source].
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStop++
	s.stopped = true
	s.endLocked()
	return nil
}

// Finish marks the source as having played to completion.
func (s *Source) Finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endLocked()
}

// Done implements [audio.Source].
func (s *Source) Done() <-chan struct{} { return s.done }

// Stopped reports whether Stop has been called.
func (s *Source) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func (s *Source) endLocked() {
	if !s.ended {
		s.ended = true
		close(s.done)
	}
}
