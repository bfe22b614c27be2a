// Package audio defines the device abstractions and PCM utilities used by
// MiniMax voice sessions.
//
// The primary abstractions are:
//
//   - [Device]: the host's microphone and speakers. It opens a
//     [CaptureStream] for microphone input and a [PlaybackContext] for output.
//   - [PlaybackContext]: a clocked output that schedules decoded [Buffer]
//     values at absolute times and returns a [Source] handle for each.
//   - [Player]: schedules successive buffers back-to-back on a
//     [PlaybackContext] and tracks every live [Source] so they can be stopped.
//
// Implementations of [Device] live in adapter packages (audio/wsdevice for a
// remote browser client, audio/mock for tests).
package audio

import (
	"context"
	"errors"
	"time"
)

// Acquisition errors returned by [Device.OpenCapture]. Implementations wrap
// them so callers can categorise with [errors.Is].
var (
	// ErrPermissionDenied means the user refused microphone access.
	ErrPermissionDenied = errors.New("audio: microphone permission denied")

	// ErrDeviceNotFound means no capture device is available.
	ErrDeviceNotFound = errors.New("audio: no capture device found")

	// ErrSystemDenied means the operating system blocked access to the device.
	ErrSystemDenied = errors.New("audio: capture blocked by the system")

	// ErrClosed is returned by operations on a closed stream or context.
	ErrClosed = errors.New("audio: closed")
)

// Device is the host's audio hardware.
//
// Implementations must be safe for concurrent use.
type Device interface {
	// OpenCapture requests microphone access and starts capturing at format f.
	// ctx bounds the acquisition only; the stream lives until Close.
	OpenCapture(ctx context.Context, f Format) (CaptureStream, error)

	// OpenPlayback creates an output context running at format f.
	OpenPlayback(ctx context.Context, f Format) (PlaybackContext, error)
}

// CaptureStream is an open microphone.
type CaptureStream interface {
	// Frames delivers captured float32 samples in [-1, 1] in capture order.
	// The channel is closed when the stream ends.
	Frames() <-chan []float32

	// Close stops capture and releases the device. Safe to call more than once.
	Close() error
}

// PlaybackContext is a clocked audio output.
type PlaybackContext interface {
	// CurrentTime reports the output clock, starting at zero when the context
	// is created.
	CurrentTime() time.Duration

	// Start schedules buf to begin playing at the given clock time and returns
	// a handle to the scheduled source.
	Start(buf *Buffer, at time.Duration) (Source, error)

	// Close releases the output. Safe to call more than once.
	Close() error
}

// Source is one scheduled buffer on a [PlaybackContext].
type Source interface {
	// Stop cancels playback. Stopping a finished source is a no-op.
	Stop() error

	// Done is closed when the source finishes playing or is stopped.
	Done() <-chan struct{}
}
