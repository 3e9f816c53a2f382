package transcribe

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/AxoRm/glass/internal/domain"

	"github.com/gorilla/websocket"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// transcribeServer upgrades one connection, records inbound frames, and plays
// back scripted outbound payloads.
type transcribeServer struct {
	srv      *httptest.Server
	inbound  chan map[string]any
	outbound chan string
	auth     chan http.Header
}

func newTranscribeServer(t *testing.T) *transcribeServer {
	t.Helper()
	ts := &transcribeServer{
		inbound:  make(chan map[string]any, 16),
		outbound: make(chan string, 16),
		auth:     make(chan http.Header, 1),
	}
	ts.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.auth <- r.Header.Clone()
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		go func() {
			for payload := range ts.outbound {
				if err := conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
					return
				}
			}
		}()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var frame map[string]any
			if json.Unmarshal(data, &frame) == nil {
				ts.inbound <- frame
			}
		}
	}))
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *transcribeServer) nextInbound(t *testing.T) map[string]any {
	t.Helper()
	select {
	case frame := <-ts.inbound:
		return frame
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for inbound frame")
		return nil
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestSession(t *testing.T, ts *transcribeServer, cfg Config) *Session {
	t.Helper()
	cfg.APIKey = "sk-test"
	cfg.APIBase = ts.srv.URL
	cfg.Logger = quietLogger()
	s, err := Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenSendsSessionConfiguration(t *testing.T) {
	ts := newTranscribeServer(t)
	s := openTestSession(t, ts, Config{Model: "gpt-4o-mini-transcribe", Language: "en", Prompt: "tech talk"})

	headers := <-ts.auth
	if headers.Get("Authorization") != "Bearer sk-test" {
		t.Errorf("Authorization = %q", headers.Get("Authorization"))
	}
	if headers.Get("OpenAI-Beta") != "realtime=v1" {
		t.Errorf("OpenAI-Beta = %q", headers.Get("OpenAI-Beta"))
	}

	frame := ts.nextInbound(t)
	if frame["type"] != "transcription_session.update" {
		t.Fatalf("first frame type = %v", frame["type"])
	}
	session := frame["session"].(map[string]any)
	if session["input_audio_format"] != "pcm16" {
		t.Errorf("input_audio_format = %v", session["input_audio_format"])
	}
	transcription := session["input_audio_transcription"].(map[string]any)
	if transcription["model"] != "gpt-4o-mini-transcribe" || transcription["language"] != "en" {
		t.Errorf("transcription config = %v", transcription)
	}
	vad := session["turn_detection"].(map[string]any)
	if vad["type"] != "server_vad" || vad["threshold"] != 0.5 ||
		vad["prefix_padding_ms"] != float64(200) || vad["silence_duration_ms"] != float64(100) {
		t.Errorf("turn_detection = %v", vad)
	}
	noise := session["input_audio_noise_reduction"].(map[string]any)
	if noise["type"] != "near_field" {
		t.Errorf("noise reduction = %v", noise)
	}

	if s.State() != StateOpen {
		t.Errorf("state = %v", s.State())
	}
}

func TestOpenRelayRequiresEndpoint(t *testing.T) {
	_, err := Open(context.Background(), Config{
		APIKey:  "sk-test",
		Routing: domain.RoutingRelay,
		Logger:  quietLogger(),
	})
	if err == nil {
		t.Fatal("Open with relay routing and no endpoint must fail")
	}

	// An explicit endpoint satisfies relay routing.
	ts := newTranscribeServer(t)
	s := openTestSession(t, ts, Config{Routing: domain.RoutingRelay})
	if s.State() != StateOpen {
		t.Errorf("state = %v", s.State())
	}
}

func TestSendAudioEncodesChunk(t *testing.T) {
	ts := newTranscribeServer(t)
	s := openTestSession(t, ts, Config{})
	ts.nextInbound(t) // session configuration

	chunk := []byte{0x01, 0x02, 0x03, 0x04}
	if err := s.SendAudio(chunk); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}

	frame := ts.nextInbound(t)
	if frame["type"] != "input_audio_buffer.append" {
		t.Fatalf("frame type = %v", frame["type"])
	}
	if frame["audio"] != base64.StdEncoding.EncodeToString(chunk) {
		t.Errorf("audio = %v", frame["audio"])
	}

	if err := s.SendAudio(nil); err != nil {
		t.Errorf("empty chunk should be a no-op, got %v", err)
	}
}

func TestReadLoopFiltersNoise(t *testing.T) {
	ts := newTranscribeServer(t)

	frames := make(chan domain.TranscriptFrame, 16)
	openTestSession(t, ts, Config{
		Provider: "openai",
		OnFrame:  func(f domain.TranscriptFrame) { frames <- f },
	})
	ts.nextInbound(t)

	ts.outbound <- ""
	ts.outbound <- "null"
	ts.outbound <- "[DONE]"
	ts.outbound <- "{malformed"
	ts.outbound <- `{"type":"conversation.item.input_audio_transcription.completed","transcript":"hello there"}`

	select {
	case f := <-frames:
		if f.Type != "conversation.item.input_audio_transcription.completed" {
			t.Errorf("frame type = %q", f.Type)
		}
		if f.Provider != "openai" {
			t.Errorf("provider tag = %q", f.Provider)
		}
		var payload struct {
			Transcript string `json:"transcript"`
		}
		if err := json.Unmarshal(f.Payload, &payload); err != nil || payload.Transcript != "hello there" {
			t.Errorf("payload = %s", f.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("transcript frame never arrived")
	}

	// Noise frames must not have produced anything else.
	select {
	case f := <-frames:
		t.Errorf("unexpected extra frame: %+v", f)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestCloseSendsIntentAndSilencesCallbacks(t *testing.T) {
	ts := newTranscribeServer(t)

	errs := make(chan error, 4)
	s := openTestSession(t, ts, Config{
		OnError: func(err error) { errs <- err },
	})
	ts.nextInbound(t)

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if s.State() != StateClosed {
		t.Errorf("state after close = %v", s.State())
	}

	frame := ts.nextInbound(t)
	if frame["type"] != "session.close" {
		t.Errorf("close intent frame type = %v", frame["type"])
	}

	// Closing tears the socket down; the read loop must not surface that as
	// an error.
	select {
	case err := <-errs:
		t.Errorf("callback fired after close: %v", err)
	case <-time.After(200 * time.Millisecond):
	}

	if err := s.Close(); err != nil {
		t.Errorf("second close should be a no-op, got %v", err)
	}
}

func TestSendAudioAfterClose(t *testing.T) {
	ts := newTranscribeServer(t)
	s := openTestSession(t, ts, Config{})
	ts.nextInbound(t)

	s.Close()
	if err := s.SendAudio([]byte{0x01}); err == nil {
		t.Error("SendAudio on a closed session must fail")
	}
	// Heartbeat on a closed session is a silent no-op.
	s.Heartbeat()
}

func TestRealtimeURL(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", "wss://api.openai.com/v1/realtime?intent=transcription"},
		{"https://api.openai.com/v1", "wss://api.openai.com/v1/realtime?intent=transcription"},
		{"https://api.openai.com/v1/", "wss://api.openai.com/v1/realtime?intent=transcription"},
		{"http://127.0.0.1:8080", "ws://127.0.0.1:8080/realtime?intent=transcription"},
		{"wss://relay.example.com/v1", "wss://relay.example.com/v1/realtime?intent=transcription"},
	}
	for _, tc := range cases {
		if got := realtimeURL(tc.in); got != tc.want {
			t.Errorf("realtimeURL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
