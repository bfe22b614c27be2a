package wsdevice

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"math"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/FlavioMarcoHaux/MiniMax/pkg/audio"
)

// ─── harness ──────────────────────────────────────────────────────────────────

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func newGateway(t *testing.T, opts ...Option) (*Gateway, string) {
	t.Helper()
	g := New(opts...)
	srv := httptest.NewServer(g)
	t.Cleanup(srv.Close)
	return g, "ws" + strings.TrimPrefix(srv.URL, "http")
}

// attach dials the gateway and waits until it is the current client.
func attach(t *testing.T, g *Gateway, url string) *websocket.Conn {
	t.Helper()
	prev := g.current()
	conn, _, err := websocket.Dial(context.Background(), url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	waitFor(t, "client attach", func() bool {
		c := g.current()
		return c != nil && c != prev
	})
	return conn
}

func read(t *testing.T, conn *websocket.Conn) message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	typ, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("client read: %v", err)
	}
	if typ != websocket.MessageText {
		t.Fatalf("client got message type %v", typ)
	}
	var m message
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal %s: %v", data, err)
	}
	return m
}

func write(t *testing.T, conn *websocket.Conn, m message) {
	t.Helper()
	data, _ := json.Marshal(m)
	if err := conn.Write(context.Background(), websocket.MessageText, data); err != nil {
		t.Fatalf("client write: %v", err)
	}
}

func floatFrame(samples ...float32) []byte {
	b := make([]byte, 4*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(s))
	}
	return b
}

// openCapture runs OpenCapture while the client answers with reply.
func openCapture(t *testing.T, g *Gateway, conn *websocket.Conn, reply message) (audio.CaptureStream, error) {
	t.Helper()
	type result struct {
		cs  audio.CaptureStream
		err error
	}
	done := make(chan result, 1)
	go func() {
		cs, err := g.OpenCapture(context.Background(), audio.CaptureFormat)
		done <- result{cs, err}
	}()
	m := read(t, conn)
	if m.Type != "open_mic" || m.SampleRate != 16000 {
		t.Fatalf("got %+v, want open_mic at 16000", m)
	}
	write(t, conn, reply)
	r := <-done
	return r.cs, r.err
}

// ─── tests ────────────────────────────────────────────────────────────────────

func TestOpen_NoClient(t *testing.T) {
	t.Parallel()

	g := New()
	if _, err := g.OpenCapture(context.Background(), audio.CaptureFormat); !errors.Is(err, audio.ErrDeviceNotFound) {
		t.Errorf("OpenCapture err = %v, want ErrDeviceNotFound", err)
	}
	if _, err := g.OpenPlayback(context.Background(), audio.PlaybackFormat); !errors.Is(err, audio.ErrDeviceNotFound) {
		t.Errorf("OpenPlayback err = %v, want ErrDeviceNotFound", err)
	}
	g.Notify("ninguém", "info")
}

func TestCapture_RoundTrip(t *testing.T) {
	t.Parallel()

	g, url := newGateway(t)
	conn := attach(t, g, url)

	cs, err := openCapture(t, g, conn, message{Type: "mic_opened"})
	if err != nil {
		t.Fatalf("OpenCapture: %v", err)
	}

	want := [][]float32{{0.5, -0.25}, {1, 0, -1}}
	for _, f := range want {
		if err := conn.Write(context.Background(), websocket.MessageBinary, floatFrame(f...)); err != nil {
			t.Fatal(err)
		}
	}
	for i, w := range want {
		select {
		case got := <-cs.Frames():
			if len(got) != len(w) {
				t.Fatalf("frame %d = %v, want %v", i, got, w)
			}
			for j := range w {
				if got[j] != w[j] {
					t.Errorf("frame %d sample %d = %v, want %v", i, j, got[j], w[j])
				}
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("frame %d not delivered", i)
		}
	}

	if err := cs.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if m := read(t, conn); m.Type != "close_mic" {
		t.Errorf("got %+v, want close_mic", m)
	}
	if _, ok := <-cs.Frames(); ok {
		t.Error("frames channel still open after Close")
	}
	if err := cs.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestCapture_ResamplesReportedRate(t *testing.T) {
	t.Parallel()

	g, url := newGateway(t)
	conn := attach(t, g, url)

	cs, err := openCapture(t, g, conn, message{Type: "mic_opened", SampleRate: 48000})
	if err != nil {
		t.Fatalf("OpenCapture: %v", err)
	}
	defer cs.Close()

	in := make([]float32, 480)
	for i := range in {
		in[i] = 0.25
	}
	if err := conn.Write(context.Background(), websocket.MessageBinary, floatFrame(in...)); err != nil {
		t.Fatal(err)
	}
	select {
	case got := <-cs.Frames():
		if len(got) != 160 {
			t.Fatalf("frame has %d samples, want 160 (48 kHz → 16 kHz)", len(got))
		}
		if got[0] != 0.25 {
			t.Errorf("sample = %v, want 0.25", got[0])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("frame not delivered")
	}
}

func TestCapture_BrowserErrors(t *testing.T) {
	t.Parallel()

	g, url := newGateway(t)
	conn := attach(t, g, url)

	tests := []struct {
		name string
		want error
	}{
		{"NotAllowedError", audio.ErrPermissionDenied},
		{"NotFoundError", audio.ErrDeviceNotFound},
		{"NotReadableError", audio.ErrSystemDenied},
	}
	for _, tt := range tests {
		_, err := openCapture(t, g, conn, message{Type: "mic_error", Name: tt.name})
		if !errors.Is(err, tt.want) {
			t.Errorf("%s: err = %v, want %v", tt.name, err, tt.want)
		}
	}

	_, err := openCapture(t, g, conn, message{Type: "mic_error", Message: "getUserMedia is not a function"})
	if err == nil || errors.Is(err, audio.ErrSystemDenied) || !strings.Contains(err.Error(), "getUserMedia") {
		t.Errorf("non-browser error = %v", err)
	}
}

func TestCapture_Timeout(t *testing.T) {
	t.Parallel()

	g, url := newGateway(t, WithOpenTimeout(50*time.Millisecond))
	conn := attach(t, g, url)

	_, err := g.OpenCapture(context.Background(), audio.CaptureFormat)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
	if m := read(t, conn); m.Type != "open_mic" {
		t.Errorf("got %+v, want open_mic", m)
	}
	if m := read(t, conn); m.Type != "close_mic" {
		t.Errorf("got %+v, want close_mic", m)
	}
}

func TestPlayback_StartEndStop(t *testing.T) {
	t.Parallel()

	g, url := newGateway(t)
	conn := attach(t, g, url)

	pc, err := g.OpenPlayback(context.Background(), audio.PlaybackFormat)
	if err != nil {
		t.Fatal(err)
	}
	buf, err := audio.DecodeBuffer([]byte{1, 0, 2, 0}, 24000, 1)
	if err != nil {
		t.Fatal(err)
	}

	src, err := pc.Start(buf, 100*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	m := read(t, conn)
	if m.Type != "play" || m.ID == "" || m.SampleRate != 24000 || m.AtMS < 100 {
		t.Fatalf("play = %+v", m)
	}
	if pcm, err := audio.DecodeBase64(m.Data); err != nil || string(pcm) != string([]byte{1, 0, 2, 0}) {
		t.Errorf("data = %v, %v", pcm, err)
	}

	write(t, conn, message{Type: "source_ended", ID: m.ID})
	select {
	case <-src.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("source_ended did not finish the source")
	}

	src2, err := pc.Start(buf, 200*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	m2 := read(t, conn)
	if err := src2.Stop(); err != nil {
		t.Fatal(err)
	}
	if got := read(t, conn); got.Type != "stop" || got.ID != m2.ID {
		t.Errorf("got %+v, want stop %s", got, m2.ID)
	}
	select {
	case <-src2.Done():
	default:
		t.Error("stopped source not done")
	}

	if err := pc.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := pc.Start(buf, 0); !errors.Is(err, audio.ErrClosed) {
		t.Errorf("Start after Close = %v, want ErrClosed", err)
	}
	if err := pc.Close(); !errors.Is(err, audio.ErrClosed) {
		t.Errorf("second Close = %v, want ErrClosed", err)
	}
}

func TestPlayback_ClockFromClient(t *testing.T) {
	t.Parallel()

	g, url := newGateway(t)
	conn := attach(t, g, url)
	c := g.current()

	write(t, conn, message{Type: "clock", TimeMS: 5000})
	waitFor(t, "clock", func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.haveClock
	})
	if now := c.now(); now < 5*time.Second {
		t.Errorf("client clock = %v, want >= 5s", now)
	}

	pc, err := g.OpenPlayback(context.Background(), audio.PlaybackFormat)
	if err != nil {
		t.Fatal(err)
	}
	if got := pc.CurrentTime(); got < 0 || got > time.Second {
		t.Errorf("CurrentTime = %v, want near zero", got)
	}
}

func TestDetach_EndsEverything(t *testing.T) {
	t.Parallel()

	var (
		mu       sync.Mutex
		attached []bool
	)
	snapshot := func() []bool {
		mu.Lock()
		defer mu.Unlock()
		return append([]bool(nil), attached...)
	}
	g, url := newGateway(t, WithOnClient(func(b bool) {
		mu.Lock()
		defer mu.Unlock()
		attached = append(attached, b)
	}))
	conn := attach(t, g, url)

	cs, err := openCapture(t, g, conn, message{Type: "mic_opened"})
	if err != nil {
		t.Fatal(err)
	}
	pc, err := g.OpenPlayback(context.Background(), audio.PlaybackFormat)
	if err != nil {
		t.Fatal(err)
	}
	buf, _ := audio.DecodeBuffer([]byte{0, 0}, 24000, 1)
	src, err := pc.Start(buf, 0)
	if err != nil {
		t.Fatal(err)
	}
	_ = read(t, conn)

	conn.Close(websocket.StatusNormalClosure, "bye")
	waitFor(t, "detach", func() bool { return !g.Attached() })

	select {
	case <-src.Done():
	case <-time.After(2 * time.Second):
		t.Error("source not ended on detach")
	}
	select {
	case _, ok := <-cs.Frames():
		if ok {
			t.Error("unexpected frame")
		}
	case <-time.After(2 * time.Second):
		t.Error("capture not closed on detach")
	}
	if err := cs.Close(); err != nil {
		t.Errorf("Close after detach: %v", err)
	}
	waitFor(t, "detach callback", func() bool { return len(snapshot()) == 2 })
	if got := snapshot(); !got[0] || got[1] {
		t.Errorf("callbacks = %v", got)
	}
}

func TestNotify(t *testing.T) {
	t.Parallel()

	g, url := newGateway(t)
	conn := attach(t, g, url)

	g.Notify("Seu mentor está ligando para a sua Meditação Guiada.", "info")
	m := read(t, conn)
	if m.Type != "notify" || m.Severity != "info" || !strings.Contains(m.Message, "Meditação Guiada") {
		t.Errorf("notify = %+v", m)
	}
}

func TestNewerClientReplacesOlder(t *testing.T) {
	t.Parallel()

	g, url := newGateway(t)
	first := attach(t, g, url)
	_ = attach(t, g, url)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err := first.Read(ctx)
	if websocket.CloseStatus(err) != websocket.StatusGoingAway {
		t.Errorf("first client read err = %v, want going away", err)
	}
	if !g.Attached() {
		t.Error("gateway lost the newer client")
	}
}

func TestMicError(t *testing.T) {
	t.Parallel()

	if err := micError("PermissionDeniedError", ""); !errors.Is(err, audio.ErrPermissionDenied) {
		t.Errorf("legacy permission name: %v", err)
	}
	if err := micError("", ""); err == nil || !strings.Contains(err.Error(), "unknown error") {
		t.Errorf("empty error: %v", err)
	}
}
