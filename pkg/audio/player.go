package audio

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// NextStart returns the start time for a chunk scheduled when the playback
// cursor is at cursor and the output clock reads clock. A chunk never starts
// before the previous one ends, and never waits for a cursor that has fallen
// behind the clock.
func NextStart(cursor, clock time.Duration) time.Duration {
	return max(cursor, clock)
}

// Player schedules buffers back-to-back on a [PlaybackContext] and tracks
// every source it starts until it finishes or is stopped.
//
// All methods are safe for concurrent use.
type Player struct {
	pc PlaybackContext

	mu     sync.Mutex
	cursor time.Duration
	live   map[Source]struct{}
}

// NewPlayer returns a Player bound to pc with its cursor at zero.
func NewPlayer(pc PlaybackContext) *Player {
	return &Player{
		pc:   pc,
		live: make(map[Source]struct{}),
	}
}

// Enqueue schedules buf immediately after the previously enqueued buffer,
// or at the current clock if playback has caught up. It returns the start
// time chosen for buf.
func (p *Player) Enqueue(buf *Buffer) (time.Duration, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.pruneLocked()

	start := NextStart(p.cursor, p.pc.CurrentTime())
	src, err := p.pc.Start(buf, start)
	if err != nil {
		return 0, fmt.Errorf("audio: start source: %w", err)
	}
	p.cursor = start + buf.Duration()
	p.live[src] = struct{}{}
	return start, nil
}

// StopAll stops every tracked source and clears the set. Stop errors are
// logged and otherwise ignored.
func (p *Player) StopAll() {
	p.mu.Lock()
	live := p.live
	p.live = make(map[Source]struct{})
	p.mu.Unlock()

	for src := range live {
		if err := src.Stop(); err != nil {
			slog.Debug("audio: stop source", "err", err)
		}
	}
}

// pruneLocked drops sources that have finished playing.
func (p *Player) pruneLocked() {
	for src := range p.live {
		select {
		case <-src.Done():
			delete(p.live, src)
		default:
		}
	}
}
