package gemini_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/FlavioMarcoHaux/MiniMax/pkg/provider/s2s"
	"github.com/FlavioMarcoHaux/MiniMax/pkg/provider/s2s/gemini"
	"github.com/coder/websocket"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

// wsURL converts an httptest server HTTP URL to a WebSocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startGeminiServer launches a test WebSocket server. The handler function
// receives the accepted *websocket.Conn. The connection is closed normally
// when the handler returns, and the server is closed when the test finishes.
func startGeminiServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// readJSON reads one WebSocket text frame and decodes it into v.
func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Errorf("readJSON: %v", err)
		return
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Errorf("readJSON unmarshal: %v", err)
	}
}

// writeJSON marshals v and sends it as a text frame.
func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Logf("writeJSON: %v (may be expected on close)", err)
	}
}

// acceptSetup consumes the setup message and acknowledges it.
func acceptSetup(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	var raw map[string]any
	readJSON(t, conn, &raw)
	writeJSON(t, conn, map[string]any{"setupComplete": map[string]any{}})
}

// waitClosed blocks until the client closes the connection.
func waitClosed(conn *websocket.Conn) {
	<-conn.CloseRead(context.Background()).Done()
}

// newProvider creates a Provider pointing at the given test server.
func newProvider(srv *httptest.Server) *gemini.Provider {
	return gemini.New("test-api-key", gemini.WithBaseURL(wsURL(srv)))
}

// connect opens a session against srv and registers Close as cleanup.
func connect(t *testing.T, srv *httptest.Server, cfg s2s.SessionConfig) s2s.SessionHandle {
	t.Helper()
	handle, err := newProvider(srv).Connect(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { _ = handle.Close() })
	return handle
}

// nextEvent reads one event or fails after a timeout.
func nextEvent(t *testing.T, h s2s.SessionHandle) (s2s.Event, bool) {
	t.Helper()
	select {
	case ev, ok := <-h.Events():
		return ev, ok
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for event")
		return s2s.Event{}, false
	}
}

func audioMessage(data string) map[string]any {
	return map[string]any{
		"serverContent": map[string]any{
			"modelTurn": map[string]any{
				"parts": []map[string]any{
					{"inlineData": map[string]any{"mimeType": "audio/pcm;rate=24000", "data": data}},
				},
			},
		},
	}
}

// ── Connect ───────────────────────────────────────────────────────────────────

func TestNew_DefaultModel(t *testing.T) {
	t.Parallel()
	p := gemini.New("my-key")
	if p.Model() == "" {
		t.Fatal("default model is empty")
	}
}

func TestWithModel_SetsModel(t *testing.T) {
	t.Parallel()

	modelCh := make(chan string, 1)
	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var msg struct {
			Setup struct {
				Model string `json:"model"`
			} `json:"setup"`
		}
		readJSON(t, conn, &msg)
		modelCh <- msg.Setup.Model
		writeJSON(t, conn, map[string]any{"setupComplete": map[string]any{}})
		waitClosed(conn)
	})

	p := gemini.New("key", gemini.WithModel("custom-model"), gemini.WithBaseURL(wsURL(srv)))
	handle, err := p.Connect(context.Background(), s2s.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	if model := <-modelCh; model != "models/custom-model" {
		t.Errorf("model = %q; want %q", model, "models/custom-model")
	}
}

func TestConnect_SendsSetup(t *testing.T) {
	t.Parallel()

	type setupMsg struct {
		Setup struct {
			Model            string `json:"model"`
			GenerationConfig struct {
				ResponseModalities []string `json:"responseModalities"`
				SpeechConfig       *struct {
					VoiceConfig struct {
						PrebuiltVoiceConfig struct {
							VoiceName string `json:"voiceName"`
						} `json:"prebuiltVoiceConfig"`
					} `json:"voiceConfig"`
				} `json:"speechConfig"`
			} `json:"generationConfig"`
			SystemInstruction *struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"systemInstruction"`
			Tools []struct {
				FunctionDeclarations []struct {
					Name string `json:"name"`
				} `json:"functionDeclarations"`
			} `json:"tools"`
			InputAudioTranscription  *struct{} `json:"inputAudioTranscription"`
			OutputAudioTranscription *struct{} `json:"outputAudioTranscription"`
		} `json:"setup"`
	}

	received := make(chan setupMsg, 1)
	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var msg setupMsg
		readJSON(t, conn, &msg)
		received <- msg
		writeJSON(t, conn, map[string]any{"setupComplete": map[string]any{}})
		waitClosed(conn)
	})

	connect(t, srv, s2s.SessionConfig{
		Instructions: "Você é o mentor.",
		Voice:        "Zephyr",
		Transcribe:   true,
		Tools:        []s2s.FunctionDeclaration{{Name: "confirmSessionStart", Description: "starts"}},
	})

	msg := <-received
	if !strings.HasPrefix(msg.Setup.Model, "models/") {
		t.Errorf("model %q should start with 'models/'", msg.Setup.Model)
	}
	if got := msg.Setup.GenerationConfig.ResponseModalities; len(got) != 1 || got[0] != "AUDIO" {
		t.Errorf("responseModalities = %v; want [AUDIO]", got)
	}
	if sc := msg.Setup.GenerationConfig.SpeechConfig; sc == nil || sc.VoiceConfig.PrebuiltVoiceConfig.VoiceName != "Zephyr" {
		t.Errorf("speechConfig = %+v; want voice Zephyr", sc)
	}
	if si := msg.Setup.SystemInstruction; si == nil || len(si.Parts) == 0 || si.Parts[0].Text != "Você é o mentor." {
		t.Errorf("unexpected system instruction: %+v", si)
	}
	if len(msg.Setup.Tools) != 1 || msg.Setup.Tools[0].FunctionDeclarations[0].Name != "confirmSessionStart" {
		t.Errorf("tools = %+v", msg.Setup.Tools)
	}
	if msg.Setup.InputAudioTranscription == nil || msg.Setup.OutputAudioTranscription == nil {
		t.Error("transcription should be enabled in setup")
	}
}

func TestConnect_IncludesAPIKeyInURL(t *testing.T) {
	t.Parallel()

	query := make(chan string, 1)
	srv := startGeminiServer(t, func(conn *websocket.Conn, r *http.Request) {
		query <- r.URL.RawQuery
		acceptSetup(t, conn)
		waitClosed(conn)
	})

	p := gemini.New("secret-key", gemini.WithBaseURL(wsURL(srv)))
	handle, err := p.Connect(context.Background(), s2s.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	if q := <-query; !strings.Contains(q, "key=secret-key") {
		t.Errorf("URL query %q should contain key=secret-key", q)
	}
}

func TestConnect_SetupRejected(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		writeJSON(t, conn, map[string]any{"error": map[string]any{
			"code": 429, "status": "RESOURCE_EXHAUSTED", "message": "quota exceeded",
		}})
		waitClosed(conn)
	})

	_, err := newProvider(srv).Connect(context.Background(), s2s.SessionConfig{})
	if err == nil {
		t.Fatal("Connect should fail when setup is rejected")
	}
	var apiErr *gemini.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *gemini.APIError, got %T (%v)", err, err)
	}
	if !strings.Contains(err.Error(), "RESOURCE_EXHAUSTED") {
		t.Errorf("error %q should carry the service status", err)
	}
}

func TestConnect_CancelledContext_ReturnsError(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		waitClosed(conn)
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := newProvider(srv).Connect(ctx, s2s.SessionConfig{}); err == nil {
		t.Fatal("Connect with cancelled context should return an error")
	}
}

// ── SendAudio ─────────────────────────────────────────────────────────────────

type realtimeInputMsg struct {
	RealtimeInput struct {
		MediaChunks []struct {
			MIMEType string `json:"mimeType"`
			Data     string `json:"data"`
		} `json:"mediaChunks"`
	} `json:"realtimeInput"`
}

func TestSendAudio_EncodesInCallOrder(t *testing.T) {
	t.Parallel()

	const n = 5
	got := make(chan realtimeInputMsg, n)
	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		for range n {
			var msg realtimeInputMsg
			readJSON(t, conn, &msg)
			got <- msg
		}
		waitClosed(conn)
	})

	handle := connect(t, srv, s2s.SessionConfig{})
	for i := range n {
		if err := handle.SendAudio([]byte{byte(i), 0x00}); err != nil {
			t.Fatalf("SendAudio(%d): %v", i, err)
		}
	}

	for i := range n {
		msg := <-got
		chunks := msg.RealtimeInput.MediaChunks
		if len(chunks) != 1 {
			t.Fatalf("chunk %d: got %d media chunks", i, len(chunks))
		}
		if chunks[0].MIMEType != "audio/pcm;rate=16000" {
			t.Errorf("mimeType = %q; want audio/pcm;rate=16000", chunks[0].MIMEType)
		}
		pcm, err := base64.StdEncoding.DecodeString(chunks[0].Data)
		if err != nil {
			t.Fatalf("base64 decode: %v", err)
		}
		if pcm[0] != byte(i) {
			t.Errorf("chunk %d arrived out of order (first byte %d)", i, pcm[0])
		}
	}
}

func TestSendAudio_AfterClose_ReturnsError(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		waitClosed(conn)
	})

	handle := connect(t, srv, s2s.SessionConfig{})
	if err := handle.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := handle.SendAudio([]byte{1, 2}); err == nil {
		t.Fatal("SendAudio after Close should return an error")
	}
}

func TestConcurrentSendAudio_DoesNotRace(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		for {
			if _, _, err := conn.Read(context.Background()); err != nil {
				return
			}
		}
	})

	handle := connect(t, srv, s2s.SessionConfig{})

	var wg sync.WaitGroup
	for range 8 {
		wg.Go(func() {
			for range 16 {
				_ = handle.SendAudio([]byte{0x01, 0x02, 0x03, 0x04})
			}
		})
	}
	wg.Wait()
}

// ── Events ────────────────────────────────────────────────────────────────────

func TestEvents_ArrivalOrder(t *testing.T) {
	t.Parallel()

	chunk := base64.StdEncoding.EncodeToString([]byte{0xAA, 0xBB})
	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		writeJSON(t, conn, map[string]any{"serverContent": map[string]any{
			"outputTranscription": map[string]any{"text": "Olá"},
		}})
		writeJSON(t, conn, audioMessage(chunk))
		writeJSON(t, conn, map[string]any{"serverContent": map[string]any{
			"inputTranscription": map[string]any{"text": "sim"},
		}})
		writeJSON(t, conn, audioMessage(chunk))
		writeJSON(t, conn, map[string]any{"toolCall": map[string]any{
			"functionCalls": []map[string]any{{"id": "call-1", "name": "confirmSessionStart", "args": map[string]any{}}},
		}})
		waitClosed(conn)
	})

	handle := connect(t, srv, s2s.SessionConfig{})

	want := []s2s.EventKind{
		s2s.EventOutputTranscription,
		s2s.EventAudio,
		s2s.EventInputTranscription,
		s2s.EventAudio,
		s2s.EventToolCall,
	}
	for i, kind := range want {
		ev, ok := nextEvent(t, handle)
		if !ok {
			t.Fatalf("event %d: channel closed early", i)
		}
		if ev.Kind != kind {
			t.Fatalf("event %d: kind = %v; want %v", i, ev.Kind, kind)
		}
		switch ev.Kind {
		case s2s.EventAudio:
			if ev.Audio != chunk || ev.MIMEType != "audio/pcm;rate=24000" {
				t.Errorf("event %d: audio = %q (%s)", i, ev.Audio, ev.MIMEType)
			}
		case s2s.EventOutputTranscription:
			if ev.Text != "Olá" {
				t.Errorf("output text = %q", ev.Text)
			}
		case s2s.EventInputTranscription:
			if ev.Text != "sim" {
				t.Errorf("input text = %q", ev.Text)
			}
		case s2s.EventToolCall:
			if ev.ToolCall == nil || ev.ToolCall.Name != "confirmSessionStart" || ev.ToolCall.ID != "call-1" {
				t.Errorf("tool call = %+v", ev.ToolCall)
			}
		}
	}
}

func TestEvents_MalformedAudioPassedThrough(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		writeJSON(t, conn, audioMessage("not*base64!"))
		waitClosed(conn)
	})

	handle := connect(t, srv, s2s.SessionConfig{})
	ev, ok := nextEvent(t, handle)
	if !ok || ev.Kind != s2s.EventAudio || ev.Audio != "not*base64!" {
		t.Fatalf("event = %+v, ok = %v; want raw audio payload", ev, ok)
	}
}

func TestEvents_ServerErrorEndsSession(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		writeJSON(t, conn, map[string]any{"error": map[string]any{
			"code": 403, "status": "PERMISSION_DENIED", "message": "API key not valid",
		}})
		waitClosed(conn)
	})

	handle := connect(t, srv, s2s.SessionConfig{})
	if _, ok := nextEvent(t, handle); ok {
		t.Fatal("expected events channel to close after a server error")
	}
	var apiErr *gemini.APIError
	if !errors.As(handle.Err(), &apiErr) {
		t.Fatalf("Err() = %v; want *gemini.APIError", handle.Err())
	}
	if apiErr.Status != "PERMISSION_DENIED" {
		t.Errorf("status = %q", apiErr.Status)
	}
}

func TestEvents_NormalCloseIsHangup(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		// Returning closes with StatusNormalClosure.
	})

	handle := connect(t, srv, s2s.SessionConfig{})
	if _, ok := nextEvent(t, handle); ok {
		t.Fatal("expected events channel to close")
	}
	if err := handle.Err(); err != nil {
		t.Errorf("Err() = %v; want nil after a normal close", err)
	}
}

func TestEvents_AbnormalCloseIsError(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		conn.Close(websocket.StatusPolicyViolation, "Requested entity was not found")
	})

	handle := connect(t, srv, s2s.SessionConfig{})
	if _, ok := nextEvent(t, handle); ok {
		t.Fatal("expected events channel to close")
	}
	err := handle.Err()
	if err == nil || !strings.Contains(err.Error(), "Requested entity was not found") {
		t.Errorf("Err() = %v; want close reason", err)
	}
}

// ── Close ─────────────────────────────────────────────────────────────────────

func TestClose_Idempotent(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		waitClosed(conn)
	})

	handle := connect(t, srv, s2s.SessionConfig{})
	if err := handle.Close(); err != nil {
		t.Fatalf("first Close() returned error: %v", err)
	}
	if err := handle.Close(); err != nil {
		t.Fatalf("second Close() returned error: %v", err)
	}
}

func TestClose_ClosesEventsChannel(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		waitClosed(conn)
	})

	handle := connect(t, srv, s2s.SessionConfig{})
	_ = handle.Close()

	if _, open := nextEvent(t, handle); open {
		t.Error("Events channel should be closed after Close()")
	}
	if err := handle.Err(); err != nil {
		t.Errorf("Err() = %v; want nil after local Close", err)
	}
}
