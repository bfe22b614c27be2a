// Package notify delivers short user-facing notifications ("toasts").
//
// Notifications are fire-and-forget: a [Sink] never reports failure to the
// caller. Sinks that can fail log the problem themselves.
package notify

import (
	"context"
	"log/slog"
	"sync"
)

// Severity classifies a notification for display.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Sink receives notifications. Implementations must be safe for concurrent
// use and must not block for long.
type Sink interface {
	Notify(message string, severity Severity)
}

// Func adapts an ordinary function to the [Sink] interface.
type Func func(message string, severity Severity)

// Notify calls f(message, severity).
func (f Func) Notify(message string, severity Severity) { f(message, severity) }

// LogSink writes every notification to a structured logger.
type LogSink struct {
	Logger *slog.Logger
}

// Notify implements [Sink].
func (s LogSink) Notify(message string, severity Severity) {
	l := s.Logger
	if l == nil {
		l = slog.Default()
	}
	level := slog.LevelInfo
	switch severity {
	case SeverityWarning:
		level = slog.LevelWarn
	case SeverityError:
		level = slog.LevelError
	}
	l.Log(context.Background(), level, "notify", "message", message, "severity", string(severity))
}

// Fanout forwards each notification to every sink in order.
type Fanout []Sink

// Notify implements [Sink].
func (f Fanout) Notify(message string, severity Severity) {
	for _, s := range f {
		if s != nil {
			s.Notify(message, severity)
		}
	}
}

// Entry is one recorded notification.
type Entry struct {
	Message  string
	Severity Severity
}

// Recorder keeps every notification in memory. It backs the notification
// history endpoint and is convenient in tests.
type Recorder struct {
	mu      sync.Mutex
	entries []Entry
	limit   int
}

// NewRecorder returns a Recorder that keeps at most limit entries, dropping
// the oldest first. A limit of zero keeps everything.
func NewRecorder(limit int) *Recorder {
	return &Recorder{limit: limit}
}

// Notify implements [Sink].
func (r *Recorder) Notify(message string, severity Severity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, Entry{Message: message, Severity: severity})
	if r.limit > 0 && len(r.entries) > r.limit {
		r.entries = append(r.entries[:0:0], r.entries[len(r.entries)-r.limit:]...)
	}
}

// Entries returns a copy of the recorded notifications, oldest first.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.entries...)
}

var (
	_ Sink = Func(nil)
	_ Sink = LogSink{}
	_ Sink = Fanout(nil)
	_ Sink = (*Recorder)(nil)
)
