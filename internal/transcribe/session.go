// Package transcribe maintains one duplex websocket session per realtime
// transcription: audio frames go in, transcription events come out.
package transcribe

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/AxoRm/glass/internal/domain"

	"github.com/gorilla/websocket"
)

// State tracks the socket lifecycle.
type State int

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "closed"
	}
}

// doneSentinel is the completion marker some relays emit on the socket; it is
// dropped like empty and null payloads.
const doneSentinel = "[DONE]"

// Config describes one transcription session.
type Config struct {
	APIKey   string
	APIBase  string // ws(s) base, e.g. wss://api.openai.com/v1; required for relay routing
	Model    string
	Language string
	Prompt   string
	Routing  domain.RoutingMode
	Provider string // identity tag attached to every frame; default "openai"
	Logger   *slog.Logger

	OnFrame func(domain.TranscriptFrame)
	OnError func(error)
	OnClose func(code int, reason string)
}

// Session is an open realtime transcription socket.
type Session struct {
	conn     *websocket.Conn
	provider string
	logger   *slog.Logger

	mu      sync.Mutex
	state   State
	onFrame func(domain.TranscriptFrame)
	onError func(error)
	onClose func(code int, reason string)

	writeMu sync.Mutex
}

// sessionUpdate is the configuration frame sent right after the handshake.
type sessionUpdate struct {
	Type    string        `json:"type"`
	Session sessionConfig `json:"session"`
}

type sessionConfig struct {
	InputAudioFormat        string           `json:"input_audio_format"`
	InputAudioTranscription transcriptionCfg `json:"input_audio_transcription"`
	TurnDetection           turnDetection    `json:"turn_detection"`
	InputAudioNoiseReduct   noiseReduction   `json:"input_audio_noise_reduction"`
}

type transcriptionCfg struct {
	Model    string `json:"model"`
	Prompt   string `json:"prompt"`
	Language string `json:"language"`
}

type turnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms"`
	SilenceDurationMs int     `json:"silence_duration_ms"`
}

type noiseReduction struct {
	Type string `json:"type"`
}

// Open dials the realtime socket, sends the session configuration, and starts
// the read loop. A failure before the handshake completes is returned here
// exactly once; later errors flow through OnError.
func Open(ctx context.Context, cfg Config) (*Session, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("transcription requires an API key")
	}
	// The built-in default endpoint only makes sense for direct routing; a
	// relay has no well-known realtime address.
	if cfg.Routing == domain.RoutingRelay && strings.TrimSpace(cfg.APIBase) == "" {
		return nil, errors.New("relay routing requires an explicit transcription endpoint")
	}
	if cfg.Provider == "" {
		cfg.Provider = "openai"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini-transcribe"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	wsURL := realtimeURL(cfg.APIBase)
	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+cfg.APIKey)
	headers.Set("OpenAI-Beta", "realtime=v1")

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		return nil, fmt.Errorf("connect transcription socket: %w", err)
	}

	s := &Session{
		conn:     conn,
		provider: cfg.Provider,
		logger:   cfg.Logger,
		state:    StateConnecting,
		onFrame:  cfg.OnFrame,
		onError:  cfg.OnError,
		onClose:  cfg.OnClose,
	}

	update := sessionUpdate{
		Type: "transcription_session.update",
		Session: sessionConfig{
			InputAudioFormat: "pcm16",
			InputAudioTranscription: transcriptionCfg{
				Model:    cfg.Model,
				Prompt:   cfg.Prompt,
				Language: cfg.Language,
			},
			TurnDetection: turnDetection{
				Type:              "server_vad",
				Threshold:         0.5,
				PrefixPaddingMs:   200,
				SilenceDurationMs: 100,
			},
			InputAudioNoiseReduct: noiseReduction{Type: "near_field"},
		},
	}
	if err := s.writeJSON(update); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send session configuration: %w", err)
	}

	s.setState(StateOpen)
	go s.readLoop()

	cfg.Logger.Info("transcription session open", "provider", cfg.Provider, "model", cfg.Model)
	return s, nil
}

// realtimeURL builds the websocket endpoint from an http(s) or ws(s) base.
func realtimeURL(base string) string {
	base = strings.TrimSpace(base)
	if base == "" {
		base = "wss://api.openai.com/v1"
	}
	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return strings.TrimRight(base, "/") + "/realtime?intent=transcription"
}

// audioAppend is the audio chunk frame.
type audioAppend struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

// SendAudio streams one raw audio chunk. The chunk is base64-encoded into an
// input_audio_buffer.append frame.
func (s *Session) SendAudio(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}
	if s.State() != StateOpen {
		return errors.New("transcription socket is not open")
	}
	return s.writeJSON(audioAppend{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(chunk),
	})
}

// Heartbeat issues a keep-alive ping. It is a no-op when the socket is not
// open; absence of heartbeats is not an error but risks idle disconnect.
func (s *Session) Heartbeat() {
	if s.State() != StateOpen {
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
}

// Close ends the session gracefully: sends the close intent, detaches
// handlers so nothing fires after this point, then closes the socket with a
// normal-closure code.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == StateClosed || s.state == StateClosing {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosing
	s.onFrame = nil
	s.onError = nil
	s.onClose = nil
	s.mu.Unlock()

	_ = s.writeJSON(map[string]string{"type": "session.close"})

	s.writeMu.Lock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(2*time.Second))
	s.writeMu.Unlock()

	err := s.conn.Close()
	s.setState(StateClosed)
	return err
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) writeJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(v)
}

// readLoop filters and forwards inbound frames until the socket dies. Empty
// payloads, the literal null, the completion sentinel, and malformed frames
// are dropped. Every surviving frame is tagged with the provider identity.
func (s *Session) readLoop() {
	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			s.handleReadError(err)
			return
		}

		text := strings.TrimSpace(string(payload))
		if text == "" || text == "null" || text == doneSentinel {
			continue
		}

		var head struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(payload, &head); err != nil {
			s.logger.Debug("dropping malformed transcription frame", "len", len(payload))
			continue
		}

		s.mu.Lock()
		onFrame := s.onFrame
		s.mu.Unlock()
		if onFrame != nil {
			onFrame(domain.TranscriptFrame{
				Provider: s.provider,
				Type:     head.Type,
				Payload:  json.RawMessage(append([]byte(nil), payload...)),
			})
		}
	}
}

func (s *Session) handleReadError(err error) {
	s.mu.Lock()
	onError := s.onError
	onClose := s.onClose
	closing := s.state == StateClosing || s.state == StateClosed
	s.state = StateClosed
	s.mu.Unlock()

	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		if onClose != nil {
			onClose(closeErr.Code, closeErr.Text)
		}
		return
	}
	if closing {
		return
	}
	s.logger.Warn("transcription socket read failed", "err", err)
	if onError != nil {
		onError(err)
	}
}
