// Package app wires the MiniMax subsystems into a running server.
//
// The App struct owns the full lifecycle: New builds and connects all
// subsystems, Run serves HTTP and polls schedules until the context ends,
// and Shutdown tears everything down in reverse order.
//
// For testing, inject doubles via functional options (WithStore,
// WithDevice, WithSelector, etc.). When an option is not provided, New
// creates the real implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/FlavioMarcoHaux/MiniMax/internal/apikey"
	"github.com/FlavioMarcoHaux/MiniMax/internal/chat"
	"github.com/FlavioMarcoHaux/MiniMax/internal/config"
	"github.com/FlavioMarcoHaux/MiniMax/internal/health"
	"github.com/FlavioMarcoHaux/MiniMax/internal/notify"
	"github.com/FlavioMarcoHaux/MiniMax/internal/observe"
	"github.com/FlavioMarcoHaux/MiniMax/internal/resilience"
	"github.com/FlavioMarcoHaux/MiniMax/internal/schedule"
	"github.com/FlavioMarcoHaux/MiniMax/pkg/audio"
	"github.com/FlavioMarcoHaux/MiniMax/pkg/audio/wsdevice"
	"github.com/FlavioMarcoHaux/MiniMax/pkg/provider/llm"
	"github.com/FlavioMarcoHaux/MiniMax/pkg/provider/s2s"
)

// shutdownTimeout bounds the graceful HTTP shutdown in Run.
const shutdownTimeout = 10 * time.Second

// NamedLLM is an LLM provider with the name used in logs and metrics.
type NamedLLM struct {
	Name     string
	Provider llm.Provider
}

// Providers holds the backends built by main.go via the config registry.
type Providers struct {
	LLM          NamedLLM
	LLMFallbacks []NamedLLM
	S2S          s2s.Provider
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	store    schedule.Store
	selector apikey.Selector
	gateway  *wsdevice.Gateway
	device   audio.Device
	voice    *resilience.S2SBreaker
	chat     *chat.Service
	sessions *SessionManager
	poller   *schedule.Poller
	notifier notify.Sink
	extra    []notify.Sink
	health   *health.Handler
	metrics  *observe.Metrics
	log      *slog.Logger
	level    *slog.LevelVar
	now      func() time.Time
	loc      *time.Location
	handler  http.Handler

	// closers are called in reverse order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a schedule store instead of opening one from config.
// The caller keeps ownership; Shutdown does not close it.
func WithStore(s schedule.Store) Option {
	return func(a *App) { a.store = s }
}

// WithDevice replaces the WebSocket gateway as the audio device used by
// calls. The gateway still serves /device.
func WithDevice(d audio.Device) Option {
	return func(a *App) { a.device = d }
}

// WithSelector injects the API key capability. Defaults to a static
// selector over the configured voice provider key.
func WithSelector(s apikey.Selector) Option {
	return func(a *App) { a.selector = s }
}

// WithNotifier adds a sink that receives every notification.
func WithNotifier(s notify.Sink) Option {
	return func(a *App) { a.extra = append(a.extra, s) }
}

// WithMetrics overrides the metrics instance. Defaults to observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogger overrides the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithLevelVar lets config reloads change the log level.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithClock overrides the time source for the poller and the API.
func WithClock(now func() time.Time) Option {
	return func(a *App) { a.now = now }
}

// WithLocation sets the time zone used in user-facing messages.
// Defaults to time.Local.
func WithLocation(loc *time.Location) Option {
	return func(a *App) { a.loc = loc }
}

// New creates an App by wiring all subsystems together.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.LLM.Provider == nil || providers.S2S == nil {
		return nil, errors.New("app: llm and s2s providers are required")
	}
	a := &App{cfg: cfg, providers: providers}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	if a.now == nil {
		a.now = time.Now
	}
	if a.loc == nil {
		a.loc = time.Local
	}

	// ── 1. Schedule store ────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 2. Device gateway + notifications ───────────────────────────────
	a.initDevice()

	// ── 3. Providers ────────────────────────────────────────────────────
	a.initVoice()
	a.initChat()

	// ── 4. Sessions + poller ─────────────────────────────────────────────
	a.sessions = NewSessionManager(SessionManagerConfig{
		Device:         a.device,
		Provider:       apikey.NewGuard(a.selector, a.voice),
		Voice:          cfg.Voice.Voice,
		CaptureFormat:  monoFormat(cfg.Voice.CaptureSampleRate),
		PlaybackFormat: monoFormat(cfg.Voice.PlaybackSampleRate),
		Notifier:       a.notifier,
		Metrics:        a.metrics,
		Logger:         a.log,
		Now:            a.now,
	})
	a.closers = append(a.closers, a.sessions.Close)

	a.poller = schedule.NewPoller(a.store, cfg.Scheduler.PollInterval,
		schedule.WithActive(a.sessions.Active),
		schedule.WithStarter(a.sessions.StartCall),
		schedule.WithNotifier(a.notifier),
		schedule.WithMetrics(a.metrics),
		schedule.WithLogger(a.log),
		schedule.WithClock(a.now),
	)

	// ── 5. Health + routes ───────────────────────────────────────────────
	a.initHealth()
	a.handler = a.routes()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStore opens the configured schedule store unless one was injected.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	st := a.cfg.Scheduler.Store
	switch st.Backend {
	case config.StoreSQLite:
		s, err := schedule.OpenSQLite(ctx, st.Path)
		if err != nil {
			return err
		}
		a.store = s
	case config.StorePostgres:
		s, err := schedule.NewPostgresStore(ctx, st.PostgresDSN)
		if err != nil {
			return err
		}
		a.store = s
	default:
		a.store = schedule.NewMemStore()
	}
	a.closers = append(a.closers, a.store.Close)
	a.log.Info("schedule store ready", "backend", string(st.Backend))
	return nil
}

// initDevice creates the WebSocket device gateway and the notification
// fan-out that reaches it.
func (a *App) initDevice() {
	a.gateway = wsdevice.New(
		wsdevice.WithLogger(a.log),
		wsdevice.WithOriginPatterns(a.cfg.Server.AllowedOrigins...),
		wsdevice.WithOnClient(func(attached bool) {
			delta := int64(-1)
			if attached {
				delta = 1
			}
			a.metrics.DeviceClients.Add(context.Background(), delta)
		}),
	)
	if a.device == nil {
		a.device = a.gateway
	}

	sinks := notify.Fanout{
		notify.LogSink{Logger: a.log},
		notify.Func(func(message string, severity notify.Severity) {
			a.gateway.Notify(message, string(severity))
		}),
	}
	a.notifier = append(sinks, a.extra...)
}

// initVoice wraps the voice provider in a circuit breaker.
func (a *App) initVoice() {
	if a.selector == nil {
		a.selector = apikey.Static{Key: a.cfg.Providers.S2S.APIKey}
	}
	a.voice = resilience.NewS2SBreaker(a.providers.S2S, resilience.CircuitBreakerConfig{
		Name:   "s2s/" + a.cfg.Providers.S2S.Name,
		Logger: a.log,
		OnStateChange: func(name string, from, to resilience.State) {
			a.log.Warn("voice provider breaker changed state", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
}

// initChat builds the mentor chat service over the primary LLM and its
// fallbacks.
func (a *App) initChat() {
	var provider llm.Provider = a.providers.LLM.Provider
	name := a.providers.LLM.Name
	if len(a.providers.LLMFallbacks) > 0 {
		fb := resilience.NewLLMFallback(a.providers.LLM.Provider, a.providers.LLM.Name, resilience.FallbackConfig{
			CircuitBreaker: resilience.CircuitBreakerConfig{Logger: a.log},
		})
		for _, p := range a.providers.LLMFallbacks {
			fb.AddFallback(p.Name, p.Provider)
		}
		provider = fb
		name = "fallback"
	}
	a.chat = chat.New(provider, mentors(a.cfg.Mentors),
		chat.WithMetrics(a.metrics),
		chat.WithLogger(a.log),
		chat.WithProviderName(name),
	)
}

// initHealth registers the readiness checks.
func (a *App) initHealth() {
	checkers := []health.Checker{
		{
			Name: "voice_provider",
			Check: func(context.Context) error {
				if a.voice.State() == resilience.StateOpen {
					return resilience.ErrCircuitOpen
				}
				return nil
			},
			Optional: true,
		},
		{
			Name: "device",
			Check: func(context.Context) error {
				if !a.gateway.Attached() {
					return wsdevice.ErrNoClient
				}
				return nil
			},
			Optional: true,
		},
	}
	if p, ok := a.store.(interface{ Ping(context.Context) error }); ok {
		checkers = append(checkers, health.Checker{Name: "store", Check: p.Ping})
	}
	a.health = health.New(checkers...)
}

// monoFormat returns the zero Format for an unset rate so the session
// manager falls back to its default.
func monoFormat(rate int) audio.Format {
	if rate <= 0 {
		return audio.Format{}
	}
	return audio.Format{SampleRate: rate, Channels: 1}
}

func mentors(cfgs []config.MentorConfig) []chat.Mentor {
	out := make([]chat.Mentor, 0, len(cfgs))
	for _, m := range cfgs {
		out = append(out, chat.Mentor{ID: m.ID, Name: m.Name, Persona: m.Persona, Description: m.Description})
	}
	return out
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the HTTP handler serving every endpoint.
func (a *App) Handler() http.Handler { return a.handler }

// Sessions returns the session manager.
func (a *App) Sessions() *SessionManager { return a.sessions }

// Poller returns the schedule poller.
func (a *App) Poller() *schedule.Poller { return a.poller }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP on cfg.Server.ListenAddr and polls schedules until ctx
// is cancelled or the server fails. A cancelled ctx is a clean stop and
// returns nil.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.log.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return a.poller.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	a.log.Info("app running",
		"poll_interval", a.poller.Interval().String(),
		"mentors", len(a.chat.Mentors()),
	)
	return g.Wait()
}

// ─── Reload ──────────────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable parts of a changed config.
// Sections that need a restart are only logged.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)

	if d.LogLevelChanged && a.level != nil {
		a.level.Set(SlogLevel(d.NewLogLevel))
		a.log.Info("log level changed", "level", string(d.NewLogLevel))
	}
	if d.MentorsChanged {
		a.chat.SetMentors(mentors(new.Mentors))
		a.log.Info("mentors reloaded", "count", len(new.Mentors), "changes", len(d.MentorChanges))
	}
	if d.VoiceChanged {
		a.sessions.SetVoice(new.Voice.Voice)
		a.log.Info("voice changed; applies to the next call", "voice", new.Voice.Voice)
	}
	if len(d.RestartRequired) > 0 {
		a.log.Warn("config changes need a restart", "sections", d.RestartRequired)
	}
}

// SlogLevel converts a config log level to a slog level. Unknown levels
// map to info.
func SlogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in reverse-init order. If ctx expires before
// all closers finish, the remaining closers are skipped and the context
// error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers))

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				a.log.Warn("closer error", "index", i, "err", err)
			}
		}
		a.log.Info("shutdown complete")
	})
	return shutdownErr
}
