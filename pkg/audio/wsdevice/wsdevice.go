// Package wsdevice exposes a remote browser's microphone and speakers as an
// [audio.Device] over a WebSocket.
//
// A single client attaches at a time by opening the gateway's HTTP endpoint;
// a newer client replaces the older one. The protocol is:
//
// Client → server:
//
//	binary frames                      little-endian float32 microphone samples
//	{"type":"mic_opened","sample_rate":..}  reply to open_mic; the rate the
//	                                   browser actually captures at (optional)
//	{"type":"mic_error","name":..,"message":..}
//	{"type":"source_ended","id":..}    a scheduled buffer finished playing
//	{"type":"clock","time_ms":..}      the client's output clock
//
// Server → client:
//
//	{"type":"open_mic","sample_rate":..}
//	{"type":"close_mic"}
//	{"type":"play","id":..,"at_ms":..,"sample_rate":..,"data":<base64 PCM16>}
//	{"type":"stop","id":..}
//	{"type":"notify","message":..,"severity":..}
package wsdevice

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/FlavioMarcoHaux/MiniMax/pkg/audio"
)

var _ audio.Device = (*Gateway)(nil)

const (
	defaultOpenTimeout = 30 * time.Second
	writeTimeout       = 5 * time.Second
	frameBuffer        = 256

	// readLimit bounds one inbound frame. Microphone frames are small.
	readLimit = 1 << 20
)

// ErrNoClient is returned when no client is attached. It wraps
// [audio.ErrDeviceNotFound].
var ErrNoClient = fmt.Errorf("wsdevice: no client attached: %w", audio.ErrDeviceNotFound)

// errDetached is delivered to pending operations when the client goes away.
var errDetached = fmt.Errorf("wsdevice: client disconnected: %w", audio.ErrDeviceNotFound)

// message is the JSON envelope used in both directions.
type message struct {
	Type       string  `json:"type"`
	ID         string  `json:"id,omitempty"`
	Name       string  `json:"name,omitempty"`
	Message    string  `json:"message,omitempty"`
	Severity   string  `json:"severity,omitempty"`
	SampleRate int     `json:"sample_rate,omitempty"`
	AtMS       float64 `json:"at_ms,omitempty"`
	TimeMS     float64 `json:"time_ms,omitempty"`
	Data       string  `json:"data,omitempty"`
}

// Option configures a [Gateway].
type Option func(*Gateway)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.log = l }
}

// WithOpenTimeout bounds how long OpenCapture waits for the client to answer
// open_mic when ctx has no earlier deadline.
func WithOpenTimeout(d time.Duration) Option {
	return func(g *Gateway) { g.openTimeout = d }
}

// WithOriginPatterns sets the allowed Origin host patterns for the upgrade.
func WithOriginPatterns(patterns ...string) Option {
	return func(g *Gateway) { g.origins = patterns }
}

// WithOnClient registers a callback run when a client attaches (true) or
// detaches (false).
func WithOnClient(fn func(attached bool)) Option {
	return func(g *Gateway) { g.onClient = fn }
}

// Gateway is an [audio.Device] backed by the attached WebSocket client and an
// [http.Handler] clients attach through.
type Gateway struct {
	log         *slog.Logger
	openTimeout time.Duration
	origins     []string
	onClient    func(bool)

	mu  sync.Mutex
	cur *client
}

// New creates a Gateway with no client attached.
func New(opts ...Option) *Gateway {
	g := &Gateway{
		log:         slog.Default(),
		openTimeout: defaultOpenTimeout,
		onClient:    func(bool) {},
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Attached reports whether a client is connected.
func (g *Gateway) Attached() bool {
	return g.current() != nil
}

func (g *Gateway) current() *client {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cur
}

// ServeHTTP upgrades the request and serves the client until it disconnects.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: g.origins})
	if err != nil {
		g.log.Warn("wsdevice: accept", "err", err)
		return
	}
	conn.SetReadLimit(readLimit)

	c := newClient(conn, g.log)
	g.mu.Lock()
	prev := g.cur
	g.cur = c
	g.mu.Unlock()
	if prev != nil {
		prev.conn.Close(websocket.StatusGoingAway, "replaced by a newer client")
	}
	g.log.Info("wsdevice: client attached", "remote", r.RemoteAddr)
	g.onClient(true)

	err = c.readLoop()

	g.mu.Lock()
	if g.cur == c {
		g.cur = nil
	}
	g.mu.Unlock()
	c.detach()
	g.onClient(false)

	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		g.log.Info("wsdevice: client detached")
	default:
		g.log.Info("wsdevice: client detached", "err", err)
	}
}

// OpenCapture asks the client to open its microphone and waits for the
// answer. Browser refusals are mapped to the audio acquisition errors.
func (g *Gateway) OpenCapture(ctx context.Context, f audio.Format) (audio.CaptureStream, error) {
	c := g.current()
	if c == nil {
		return nil, ErrNoClient
	}
	if _, ok := ctx.Deadline(); !ok && g.openTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.openTimeout)
		defer cancel()
	}
	return c.openCapture(ctx, f)
}

// OpenPlayback creates an output context on the client whose clock starts
// at zero now.
func (g *Gateway) OpenPlayback(_ context.Context, f audio.Format) (audio.PlaybackContext, error) {
	c := g.current()
	if c == nil {
		return nil, ErrNoClient
	}
	return c.openPlayback(f)
}

// Notify shows a notification on the attached client. It is dropped when no
// client is attached.
func (g *Gateway) Notify(text, severity string) {
	c := g.current()
	if c == nil {
		return
	}
	if err := c.send(message{Type: "notify", Message: text, Severity: severity}); err != nil {
		g.log.Debug("wsdevice: notify", "err", err)
	}
}

// ─── client ───────────────────────────────────────────────────────────────────

type micReply struct {
	rate int
	err  error
}

type client struct {
	conn    *websocket.Conn
	log     *slog.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	writeMu sync.Mutex

	mu         sync.Mutex
	attachedAt time.Time
	clock      time.Duration
	clockAt    time.Time
	haveClock  bool
	pendingMic chan micReply
	capture    *captureStream
	sources    map[string]*source
	detached   bool
}

func newClient(conn *websocket.Conn, log *slog.Logger) *client {
	ctx, cancel := context.WithCancel(context.Background())
	return &client{
		conn:       conn,
		log:        log,
		ctx:        ctx,
		cancel:     cancel,
		attachedAt: time.Now(),
		sources:    make(map[string]*source),
	}
}

func (c *client) send(m message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("wsdevice: marshal %s: %w", m.Type, err)
	}
	ctx, cancel := context.WithTimeout(c.ctx, writeTimeout)
	defer cancel()
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("wsdevice: write %s: %w", m.Type, err)
	}
	return nil
}

// now estimates the client's output clock.
func (c *client) now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nowLocked()
}

func (c *client) readLoop() error {
	for {
		typ, data, err := c.conn.Read(c.ctx)
		if err != nil {
			return err
		}
		switch typ {
		case websocket.MessageBinary:
			c.handleFrame(data)
		case websocket.MessageText:
			var m message
			if err := json.Unmarshal(data, &m); err != nil {
				c.log.Debug("wsdevice: bad control message", "err", err)
				continue
			}
			c.handleControl(m)
		}
	}
}

func (c *client) handleFrame(data []byte) {
	if len(data)%4 != 0 {
		c.log.Debug("wsdevice: dropping misaligned frame", "len", len(data))
		return
	}
	frame := make([]float32, len(data)/4)
	for i := range frame {
		frame[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	c.mu.Lock()
	cs := c.capture
	c.mu.Unlock()
	if cs != nil {
		cs.push(frame)
	}
}

func (c *client) handleControl(m message) {
	switch m.Type {
	case "mic_opened":
		c.replyMic(micReply{rate: m.SampleRate})
	case "mic_error":
		c.replyMic(micReply{err: micError(m.Name, m.Message)})
	case "source_ended":
		c.mu.Lock()
		src := c.sources[m.ID]
		delete(c.sources, m.ID)
		c.mu.Unlock()
		if src != nil {
			src.end()
		}
	case "clock":
		c.mu.Lock()
		c.clock = time.Duration(m.TimeMS * float64(time.Millisecond))
		c.clockAt = time.Now()
		c.haveClock = true
		c.mu.Unlock()
	default:
		c.log.Debug("wsdevice: unknown control message", "type", m.Type)
	}
}

// micError maps a browser getUserMedia failure to an acquisition error.
func micError(name, msg string) error {
	switch name {
	case "NotAllowedError", "PermissionDeniedError":
		return fmt.Errorf("wsdevice: %s: %w", name, audio.ErrPermissionDenied)
	case "NotFoundError", "DevicesNotFoundError":
		return fmt.Errorf("wsdevice: %s: %w", name, audio.ErrDeviceNotFound)
	case "":
		if msg == "" {
			msg = "unknown error"
		}
		return fmt.Errorf("wsdevice: microphone: %s", msg)
	default:
		return fmt.Errorf("wsdevice: %s: %w", name, audio.ErrSystemDenied)
	}
}

func (c *client) replyMic(r micReply) {
	c.mu.Lock()
	ch := c.pendingMic
	c.pendingMic = nil
	c.mu.Unlock()
	if ch == nil {
		c.log.Debug("wsdevice: unsolicited microphone reply")
		return
	}
	ch <- r
}

func (c *client) openCapture(ctx context.Context, f audio.Format) (audio.CaptureStream, error) {
	reply := make(chan micReply, 1)
	c.mu.Lock()
	if c.detached {
		c.mu.Unlock()
		return nil, errDetached
	}
	if c.pendingMic != nil {
		c.mu.Unlock()
		return nil, errors.New("wsdevice: microphone request already pending")
	}
	c.pendingMic = reply
	c.mu.Unlock()

	abandon := func() {
		c.mu.Lock()
		if c.pendingMic == reply {
			c.pendingMic = nil
		}
		c.mu.Unlock()
	}

	if err := c.send(message{Type: "open_mic", SampleRate: f.SampleRate}); err != nil {
		abandon()
		return nil, err
	}

	var r micReply
	select {
	case r = <-reply:
		if r.err != nil {
			return nil, r.err
		}
	case <-ctx.Done():
		abandon()
		_ = c.send(message{Type: "close_mic"})
		return nil, fmt.Errorf("wsdevice: open microphone: %w", ctx.Err())
	}

	cs := &captureStream{client: c, frames: make(chan []float32, frameBuffer), srcRate: r.rate, dstRate: f.SampleRate}
	if cs.srcRate <= 0 {
		cs.srcRate = f.SampleRate
	}
	if cs.srcRate != cs.dstRate {
		c.log.Info("wsdevice: resampling microphone", "from", cs.srcRate, "to", cs.dstRate)
	}
	c.mu.Lock()
	if c.detached {
		c.mu.Unlock()
		return nil, errDetached
	}
	prev := c.capture
	c.capture = cs
	c.mu.Unlock()
	if prev != nil {
		prev.closeFrames()
	}
	return cs, nil
}

func (c *client) openPlayback(f audio.Format) (audio.PlaybackContext, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.detached {
		return nil, errDetached
	}
	return &playback{client: c, format: f, origin: c.nowLocked(), sources: make(map[string]*source)}, nil
}

func (c *client) nowLocked() time.Duration {
	if c.haveClock {
		return c.clock + time.Since(c.clockAt)
	}
	return time.Since(c.attachedAt)
}

// detach ends everything the client owned.
func (c *client) detach() {
	c.cancel()
	c.mu.Lock()
	c.detached = true
	ch := c.pendingMic
	c.pendingMic = nil
	cs := c.capture
	c.capture = nil
	srcs := c.sources
	c.sources = make(map[string]*source)
	c.mu.Unlock()

	if ch != nil {
		ch <- micReply{err: errDetached}
	}
	if cs != nil {
		cs.closeFrames()
	}
	for _, s := range srcs {
		s.end()
	}
}

// ─── capture ──────────────────────────────────────────────────────────────────

type captureStream struct {
	client *client
	frames chan []float32

	// srcRate is what the browser delivers; frames are converted to dstRate.
	srcRate, dstRate int

	mu     sync.Mutex
	closed bool
}

func (s *captureStream) Frames() <-chan []float32 { return s.frames }

// push delivers a frame without blocking the read loop. Frames are dropped
// while the consumer is behind.
func (s *captureStream) push(frame []float32) {
	frame = audio.ResampleFloat32(frame, s.srcRate, s.dstRate)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.frames <- frame:
	default:
		s.client.log.Debug("wsdevice: capture consumer behind, dropping frame")
	}
}

func (s *captureStream) closeFrames() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	close(s.frames)
	return true
}

// Close stops the microphone on the client. Idempotent.
func (s *captureStream) Close() error {
	if !s.closeFrames() {
		return nil
	}
	c := s.client
	c.mu.Lock()
	owned := c.capture == s
	if owned {
		c.capture = nil
	}
	detached := c.detached
	c.mu.Unlock()
	if !owned || detached {
		return nil
	}
	return c.send(message{Type: "close_mic"})
}

// ─── playback ─────────────────────────────────────────────────────────────────

type playback struct {
	client *client
	format audio.Format
	origin time.Duration

	mu      sync.Mutex
	closed  bool
	sources map[string]*source
}

func (p *playback) CurrentTime() time.Duration {
	return p.client.now() - p.origin
}

func (p *playback) Start(buf *audio.Buffer, at time.Duration) (audio.Source, error) {
	c := p.client
	src := &source{id: uuid.NewString(), playback: p, done: make(chan struct{})}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, audio.ErrClosed
	}
	p.sources[src.id] = src
	p.mu.Unlock()

	c.mu.Lock()
	if c.detached {
		c.mu.Unlock()
		src.end()
		return nil, errDetached
	}
	c.sources[src.id] = src
	c.mu.Unlock()

	err := c.send(message{
		Type:       "play",
		ID:         src.id,
		AtMS:       float64(p.origin+at) / float64(time.Millisecond),
		SampleRate: buf.Format().SampleRate,
		Data:       audio.EncodeBytes(buf.PCM()),
	})
	if err != nil {
		src.forget()
		src.end()
		return nil, err
	}
	return src, nil
}

// Close stops every source started on this context. Repeated calls return
// [audio.ErrClosed].
func (p *playback) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return audio.ErrClosed
	}
	p.closed = true
	srcs := p.sources
	p.sources = nil
	p.mu.Unlock()

	for _, s := range srcs {
		_ = s.Stop()
	}
	return nil
}

type source struct {
	id       string
	playback *playback
	done     chan struct{}
	once     sync.Once
}

func (s *source) Done() <-chan struct{} { return s.done }

func (s *source) end() {
	s.once.Do(func() { close(s.done) })
	s.playback.mu.Lock()
	delete(s.playback.sources, s.id)
	s.playback.mu.Unlock()
}

func (s *source) forget() {
	c := s.playback.client
	c.mu.Lock()
	delete(c.sources, s.id)
	c.mu.Unlock()
}

// Stop tells the client to stop the buffer. Stopping an ended source is a
// no-op.
func (s *source) Stop() error {
	select {
	case <-s.done:
		return nil
	default:
	}
	s.forget()
	s.end()
	c := s.playback.client
	c.mu.Lock()
	detached := c.detached
	c.mu.Unlock()
	if detached {
		return nil
	}
	return c.send(message{Type: "stop", ID: s.id})
}
