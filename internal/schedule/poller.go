package schedule

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/FlavioMarcoHaux/MiniMax/internal/notify"
	"github.com/FlavioMarcoHaux/MiniMax/internal/observe"
)

// DefaultPollInterval is the scan interval used when NewPoller is given a
// non-positive interval.
const DefaultPollInterval = 5 * time.Second

// StartFunc is asked to open a voice session for a schedule that just fired.
type StartFunc func(ctx context.Context, sc Schedule)

// PollerOption is a functional option for [NewPoller].
type PollerOption func(*Poller)

// WithClock overrides the time source. Defaults to time.Now.
func WithClock(now func() time.Time) PollerOption {
	return func(p *Poller) { p.now = now }
}

// WithActive installs the check that reports whether a session is already in
// progress. While it returns true no schedule is consumed.
func WithActive(active func() bool) PollerOption {
	return func(p *Poller) { p.active = active }
}

// WithStarter sets the function invoked after a schedule has been marked
// completed.
func WithStarter(start StartFunc) PollerOption {
	return func(p *Poller) { p.start = start }
}

// WithNotifier sets the sink that receives the "mentor calling" notification.
func WithNotifier(n notify.Sink) PollerOption {
	return func(p *Poller) { p.notifier = n }
}

// WithMetrics overrides the metrics instance. Defaults to observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) PollerOption {
	return func(p *Poller) { p.metrics = m }
}

// WithLogger overrides the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) PollerOption {
	return func(p *Poller) { p.log = l }
}

// Poller scans a [Store] at a fixed interval and fires the earliest due
// schedule, one per tick.
type Poller struct {
	store    Store
	interval time.Duration
	now      func() time.Time
	active   func() bool
	start    StartFunc
	notifier notify.Sink
	metrics  *observe.Metrics
	log      *slog.Logger
}

// NewPoller creates a Poller over store.
func NewPoller(store Store, interval time.Duration, opts ...PollerOption) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	p := &Poller{
		store:    store,
		interval: interval,
		now:      time.Now,
		active:   func() bool { return false },
		start:    func(context.Context, Schedule) {},
		notifier: notify.LogSink{},
	}
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	if p.log == nil {
		p.log = slog.Default()
	}
	return p
}

// Interval returns the scan interval.
func (p *Poller) Interval() time.Duration { return p.interval }

// Tick runs one scan. It returns the schedule that fired and true, or false
// when nothing fired (a session is active, nothing is due, or the store
// failed). Store failures are logged and never returned.
func (p *Poller) Tick(ctx context.Context) (Schedule, bool) {
	if p.active() {
		return Schedule{}, false
	}

	due, err := p.store.ListDue(ctx, p.now())
	if err != nil {
		p.log.Warn("schedule: list due failed", "err", err)
		p.metrics.RecordPollError(ctx, "list_due")
		return Schedule{}, false
	}
	if len(due) == 0 {
		return Schedule{}, false
	}

	sc := due[0]
	if err := p.store.SetStatus(ctx, sc.ID, StatusCompleted); err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			p.log.Info("schedule: due schedule vanished", "schedule_id", sc.ID)
		case errors.Is(err, ErrInvalidTransition):
			p.log.Info("schedule: due schedule already closed", "schedule_id", sc.ID)
		default:
			p.log.Warn("schedule: mark completed failed", "schedule_id", sc.ID, "err", err)
		}
		p.metrics.RecordPollError(ctx, "set_status")
		return Schedule{}, false
	}
	sc.Status = StatusCompleted

	p.log.Info("schedule: firing", "schedule_id", sc.ID, "activity", string(sc.Activity))
	p.metrics.RecordScheduleFired(ctx, string(sc.Activity))
	p.notifier.Notify(CallingMessage(sc.Activity), notify.SeverityInfo)
	p.start(ctx, sc)
	return sc, true
}

// Run ticks every interval until ctx is cancelled. It always returns nil.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			// A tick and a cancellation can be ready together.
			if ctx.Err() != nil {
				return nil
			}
			p.Tick(ctx)
		}
	}
}
