// Package overlay pushes session state to connected overlay UIs over a
// websocket and turns their commands into orchestrator calls. Rendering is
// entirely the client's business.
package overlay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/AxoRm/glass/internal/ask"
	"github.com/AxoRm/glass/internal/domain"
	"github.com/AxoRm/glass/internal/metrics"
	"github.com/AxoRm/glass/internal/provider"

	"github.com/gorilla/websocket"
)

// HubConfig configures the overlay websocket server.
type HubConfig struct {
	Port   int
	Path   string
	Logger *slog.Logger
}

// Hub is the overlay-facing websocket server. It implements domain.StateSink
// so the orchestrator's bus can drive it directly.
type Hub struct {
	port         int
	path         string
	orchestrator *ask.Orchestrator
	audio        func([]byte) error
	logger       *slog.Logger
	server       *http.Server

	mu      sync.RWMutex
	clients map[string]*overlayClient
}

type overlayClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// outMessage is the JSON envelope pushed to overlay clients.
type outMessage struct {
	Type  string           `json:"type"` // "state" | "stream_error"
	State *domain.AskState `json:"state,omitempty"`
	Error string           `json:"error,omitempty"`
}

// inCommand is what overlay clients send: ask/toggle/toggle_screen/close
// commands, voice drafts, and raw audio for the transcription session. An ask
// command carries either a plain prompt or a structured content payload.
type inCommand struct {
	Type    string          `json:"type"`
	Prompt  string          `json:"prompt,omitempty"`
	Content json.RawMessage `json:"content,omitempty"`
	Text    string          `json:"text,omitempty"`
	Speaker string          `json:"speaker,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // local overlay only
	},
}

func NewHub(cfg HubConfig, orchestrator *ask.Orchestrator) *Hub {
	if cfg.Path == "" {
		cfg.Path = "/overlay"
	}
	if cfg.Port == 0 {
		cfg.Port = 8765
	}
	return &Hub{
		port:         cfg.Port,
		path:         cfg.Path,
		orchestrator: orchestrator,
		logger:       cfg.Logger,
		clients:      make(map[string]*overlayClient),
	}
}

// SetAudioSink routes binary frames from overlay clients (raw PCM16 audio) to
// the given sink. Must be called before Start.
func (h *Hub) SetAudioSink(sink func([]byte) error) {
	h.audio = sink
}

// OnState implements domain.StateSink.
func (h *Hub) OnState(state domain.AskState) {
	h.broadcast(outMessage{Type: "state", State: &state})
}

// OnStreamError implements domain.StateSink.
func (h *Hub) OnStreamError(msg string) {
	h.broadcast(outMessage{Type: "stream_error", Error: msg})
}

// Start runs the websocket server until ctx is cancelled.
func (h *Hub) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc(h.path, h.handleUpgrade)
	mux.Handle("/metrics", metrics.Collector.Handler())

	h.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", h.port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	h.logger.Info("overlay hub starting", "port", h.port, "path", h.path)

	errCh := make(chan error, 1)
	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		h.closeAllClients()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return h.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (h *Hub) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("overlay upgrade failed", "err", err)
		return
	}

	client := &overlayClient{conn: conn}
	clientID := fmt.Sprintf("overlay-%p", conn)

	h.mu.Lock()
	h.clients[clientID] = client
	h.mu.Unlock()

	h.logger.Info("overlay client connected", "client_id", clientID)

	// New clients immediately get the current state.
	client.send(outMessage{Type: "state", State: snapshotPtr(h.orchestrator.Snapshot())})

	defer func() {
		h.mu.Lock()
		delete(h.clients, clientID)
		h.mu.Unlock()
		conn.Close()
		h.logger.Info("overlay client disconnected", "client_id", clientID)
	}()

	for {
		kind, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Error("overlay read error", "err", err)
			}
			return
		}

		if kind == websocket.BinaryMessage {
			if h.audio != nil {
				if err := h.audio(payload); err != nil {
					h.logger.Warn("audio frame dropped", "err", err)
				}
			}
			continue
		}

		var cmd inCommand
		if err := json.Unmarshal(payload, &cmd); err != nil {
			h.logger.Warn("invalid overlay command", "err", err)
			continue
		}
		h.dispatch(cmd)
	}
}

func (h *Hub) dispatch(cmd inCommand) {
	switch cmd.Type {
	case "ask":
		prompt := cmd.Prompt
		if prompt == "" {
			prompt = promptFromContent(cmd.Content)
		}
		go func() {
			if err := h.orchestrator.SendMessage(context.Background(), prompt); err != nil {
				h.logger.Warn("ask command failed", "err", err)
			}
		}()
	case "toggle":
		h.orchestrator.Toggle()
	case "toggle_screen":
		go func() {
			if err := h.orchestrator.ToggleScreen(context.Background()); err != nil {
				h.logger.Warn("toggle_screen command failed", "err", err)
			}
		}()
	case "close":
		h.orchestrator.CloseSession()
	case "draft":
		h.orchestrator.IngestVoiceDraft(cmd.Text, cmd.Speaker)
	default:
		h.logger.Debug("unknown overlay command", "type", cmd.Type)
	}
}

// promptFromContent flattens a structured ask payload (a bare string or a
// tagged part array) into prompt text. Image parts are dropped here since the
// ask pipeline attaches its own screen capture.
func promptFromContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var loose any
	if err := json.Unmarshal(raw, &loose); err != nil {
		return ""
	}
	var b strings.Builder
	for _, part := range provider.NormalizeContent(loose) {
		if part.Kind != domain.PartText || part.Text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(part.Text)
	}
	return b.String()
}

func (h *Hub) broadcast(msg outMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		client.send(msg)
	}
}

func (c *overlayClient) send(msg outMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.WriteMessage(websocket.TextMessage, data)
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, client := range h.clients {
		client.conn.Close()
		delete(h.clients, id)
	}
}

func snapshotPtr(s domain.AskState) *domain.AskState { return &s }
