// Package ask owns the question/answer session: it resolves the effective
// prompt, drives screen capture, shapes and streams the provider request, and
// broadcasts every observable state change as a full snapshot.
package ask

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/AxoRm/glass/internal/bus"
	"github.com/AxoRm/glass/internal/domain"
	"github.com/AxoRm/glass/internal/metrics"
	"github.com/AxoRm/glass/internal/provider"
	"github.com/AxoRm/glass/internal/stream"
)

const (
	sessionKind = "ask"

	// draftStaleness is the window within which a voice draft may stand in
	// for an explicit prompt.
	draftStaleness = 10 * time.Minute

	baseTokenFloor      = 4096
	reasoningTokenFloor = 8192

	historyLimit = 20

	genericPrompt = "Analyze the current screen context and help me with what you see."
)

const systemTemplate = `You are Glass, a discreet desktop assistant. You see what the user sees and answer concisely. When a screenshot is attached, treat it as the current screen context.`

// multimodalKeywords mark provider errors that look like a rejection of the
// attached image, warranting one text-only retry.
var multimodalKeywords = []string{
	"vision", "image", "multimodal", "unsupported", "image_url", "400", "invalid", "not supported",
}

var (
	requestsStarted = metrics.Collector.CounterVec("glass_ask_requests_total", "Ask requests started.")
	tokensStreamed  = metrics.Collector.CounterVec("glass_ask_tokens_total", "Tokens streamed to observers.")
	streamErrors    = metrics.Collector.CounterVec("glass_ask_stream_errors_total", "Unrecovered stream errors.")
	fallbackRetries = metrics.Collector.CounterVec("glass_ask_multimodal_fallbacks_total", "Text-only retries after a multimodal rejection.")
)

// Orchestrator is the ask state machine. One instance owns one AskState and
// at most one in-flight request; a new request always supersedes the previous
// one.
type Orchestrator struct {
	resolver domain.ModelResolver
	capture  domain.ScreenCapturer
	store    domain.MessageStore
	bus      *bus.Bus
	client   *http.Client
	logger   *slog.Logger

	mu        sync.Mutex
	state     domain.AskState
	canceller *stream.Canceller
}

// Options wires the orchestrator's collaborators.
type Options struct {
	Resolver domain.ModelResolver
	Capture  domain.ScreenCapturer
	Store    domain.MessageStore
	Bus      *bus.Bus
	Client   *http.Client
	Logger   *slog.Logger
}

func New(opts Options) *Orchestrator {
	if opts.Client == nil {
		opts.Client = provider.StreamingHTTPClient()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Orchestrator{
		resolver: opts.Resolver,
		capture:  opts.Capture,
		store:    opts.Store,
		bus:      opts.Bus,
		client:   opts.Client,
		logger:   opts.Logger,
	}
}

// Snapshot returns a copy of the current state.
func (o *Orchestrator) Snapshot() domain.AskState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) broadcast(snap domain.AskState) {
	if o.bus != nil {
		o.bus.BroadcastState(snap)
	}
}

// IngestVoiceDraft records transcribed speech as a candidate prompt. It never
// touches the loading/streaming flags.
func (o *Orchestrator) IngestVoiceDraft(text, speaker string) {
	text = strings.TrimSpace(text)
	if text == "" || speaker == "" {
		return
	}
	o.mu.Lock()
	o.state.DraftText = text
	o.state.DraftSpeaker = speaker
	o.state.DraftAt = time.Now()
	snap := o.state
	o.mu.Unlock()
	o.broadcast(snap)
}

// effectivePromptLocked resolves the prompt for a send: an explicit prompt
// always wins; a voice draft stands in while fresh; otherwise empty, which
// callers substitute with the generic analyze-context request.
func (o *Orchestrator) effectivePromptLocked(explicit string) string {
	explicit = strings.TrimSpace(explicit)
	if explicit != "" {
		return explicit
	}
	if o.state.DraftText != "" && time.Since(o.state.DraftAt) <= draftStaleness {
		return o.state.DraftText
	}
	return ""
}

// SendMessage runs one full ask request. Any previous in-flight attempt is
// cancelled first; the observer always receives a terminal idle state no
// matter how the stream ends.
func (o *Orchestrator) SendMessage(ctx context.Context, prompt string) error {
	o.mu.Lock()
	if o.canceller != nil {
		o.canceller.Cancel("new request received")
	}
	canceller := stream.NewCanceller()
	o.canceller = canceller

	effective := o.effectivePromptLocked(prompt)
	o.state.Question = effective
	o.state.Loading = true
	o.state.Streaming = false
	o.state.Response = ""
	o.state.ShowTextInput = false
	o.state.Visible = true
	snap := o.state
	o.mu.Unlock()
	o.broadcast(snap)
	requestsStarted.Inc()

	sessionID := o.resolveSession(ctx)
	history := o.loadHistory(ctx, sessionID)
	if effective != "" {
		o.persist(ctx, sessionID, domain.StoredMessage{
			SessionID: sessionID, Role: string(domain.RoleUser), Content: effective,
		})
	}

	info, err := o.resolver.CurrentModelInfo(sessionKind)
	if err != nil {
		return o.finalize(ctx, canceller, sessionID, "", stream.Result{}, fmt.Errorf("resolve model: %w", err))
	}

	var shot domain.ScreenshotResult
	if o.capture != nil {
		shot = o.capture.CaptureScreenshot(ctx, domain.CaptureOptions{Quality: 70})
		if !shot.Success {
			o.logger.Warn("screenshot capture failed, continuing text-only", "err", shot.Err)
		}
	}

	msgs := buildMessages(systemTemplate, o.resolver.SelectedPresetPrompt(), history, effective, shot)
	imageAttached := len(msgs) > 0 && msgs[len(msgs)-1].HasImage()

	settings := o.resolver.Settings()
	effort := o.resolver.ReasoningEffort()
	opts := domain.GenerationOptions{
		Model:           info.Model,
		MaxOutputTokens: effectiveMaxTokens(info.Model, effort, settings.MaxTokens),
		ReasoningEffort: effort,
		Routing:         info.Routing,
	}
	if !provider.IsReasoningFamily(info.Model) && settings.Temperature > 0 {
		t := settings.Temperature
		opts.Temperature = &t
	}

	res, err := o.runAttempt(ctx, canceller, info, msgs, opts)
	if err != nil && imageAttached && isMultimodalRejection(err) {
		o.logger.Info("multimodal request rejected, retrying text-only", "err", err)
		fallbackRetries.Inc()
		res, err = o.runAttempt(ctx, canceller, info, stripImages(msgs), opts)
	}

	return o.finalize(ctx, canceller, sessionID, info.Model, res, err)
}

// runAttempt executes one streaming request attempt: build, connect, decode.
// Tokens are appended to the running response and rebroadcast immediately,
// with no batching. A superseded attempt stops touching state.
func (o *Orchestrator) runAttempt(ctx context.Context, canceller *stream.Canceller, info domain.ModelInfo, msgs []domain.Message, opts domain.GenerationOptions) (stream.Result, error) {
	spec, err := provider.BuildRequest(info, msgs, opts)
	if err != nil {
		return stream.Result{}, err
	}

	reqCtx, cancel := canceller.Bind(ctx)
	defer cancel()

	body, err := stream.OpenStream(reqCtx, o.client, info.Provider, spec)
	if err != nil {
		if cerr := canceller.Err(); cerr != nil {
			return stream.Result{}, cerr
		}
		return stream.Result{}, err
	}
	defer body.Close()

	// The loading flag flips on the first readable chunk, not when the
	// connection opens, so observers never see a streaming state with an
	// empty response.
	first := true
	return stream.Decode(body, spec.Dialect, canceller, func(token string) {
		tokensStreamed.Inc()
		o.mu.Lock()
		if o.canceller != canceller {
			o.mu.Unlock()
			return
		}
		if first {
			first = false
			o.state.Loading = false
			o.state.Streaming = true
			o.state.Response = ""
		}
		o.state.Response += token
		snap := o.state
		o.mu.Unlock()
		o.broadcast(snap)
	})
}

// finalize is the single exit of a send: it flips the state back to idle,
// persists any non-empty answer exactly once, and surfaces unrecovered errors
// to the observer. Cancellation is expected and suppressed; persistence
// failures are logged and never mask the visible result.
func (o *Orchestrator) finalize(ctx context.Context, canceller *stream.Canceller, sessionID, model string, res stream.Result, err error) error {
	final := strings.TrimSpace(res.FinalText())

	o.mu.Lock()
	if o.canceller == canceller {
		o.state.Loading = false
		o.state.Streaming = false
		o.state.Response = final
		if err != nil && !stream.IsCancelled(err) {
			o.state.ShowTextInput = true
		}
		snap := o.state
		o.mu.Unlock()
		o.broadcast(snap)
	} else {
		o.mu.Unlock()
	}

	if final != "" {
		o.persist(ctx, sessionID, domain.StoredMessage{
			SessionID: sessionID, Role: string(domain.RoleAssistant), Content: final, Model: model,
		})
	}

	if err == nil {
		return nil
	}
	if stream.IsCancelled(err) {
		o.logger.Info("ask request cancelled", "reason", canceller.Reason())
		return nil
	}
	streamErrors.Inc()
	o.logger.Error("ask request failed", "err", err)
	if o.bus != nil {
		o.bus.BroadcastStreamError(err.Error())
	}
	return err
}

// Toggle shows the surface when hidden; with content in flight or on screen
// it only flips input visibility; otherwise it hides the surface.
func (o *Orchestrator) Toggle() {
	o.mu.Lock()
	switch {
	case !o.state.Visible:
		o.state.Visible = true
		o.state.ShowTextInput = true
	case o.state.Loading || o.state.Streaming || o.state.Response != "":
		o.state.ShowTextInput = !o.state.ShowTextInput
	default:
		o.state.Visible = false
	}
	snap := o.state
	o.mu.Unlock()
	o.broadcast(snap)
}

// ToggleScreen is the screen-only variant: when the surface is hidden or the
// input is shown it fires an implicit empty send (analyze current context)
// instead of merely toggling.
func (o *Orchestrator) ToggleScreen(ctx context.Context) error {
	o.mu.Lock()
	implicitSend := !o.state.Visible || o.state.ShowTextInput
	o.mu.Unlock()
	if implicitSend {
		return o.SendMessage(ctx, "")
	}
	o.Toggle()
	return nil
}

// CloseSession cancels any in-flight attempt and resets every field except
// the voice-draft triple, which survives across closes.
func (o *Orchestrator) CloseSession() {
	o.mu.Lock()
	if o.canceller != nil {
		o.canceller.Cancel("window closed by user")
		o.canceller = nil
	}
	o.state = domain.AskState{
		DraftText:    o.state.DraftText,
		DraftSpeaker: o.state.DraftSpeaker,
		DraftAt:      o.state.DraftAt,
	}
	snap := o.state
	o.mu.Unlock()
	o.broadcast(snap)
}

func (o *Orchestrator) resolveSession(ctx context.Context) string {
	if o.store == nil {
		return ""
	}
	id, err := o.store.GetOrCreateActive(ctx, sessionKind)
	if err != nil {
		o.logger.Warn("cannot resolve ask session, continuing without persistence", "err", err)
		return ""
	}
	return id
}

func (o *Orchestrator) loadHistory(ctx context.Context, sessionID string) []domain.StoredMessage {
	if o.store == nil || sessionID == "" {
		return nil
	}
	history, err := o.store.RecentMessages(ctx, sessionID, historyLimit)
	if err != nil {
		o.logger.Warn("failed to load history, continuing without it", "err", err)
		return nil
	}
	return history
}

func (o *Orchestrator) persist(ctx context.Context, sessionID string, msg domain.StoredMessage) {
	if o.store == nil || sessionID == "" {
		return
	}
	if err := o.store.AddMessage(ctx, msg); err != nil {
		o.logger.Warn("failed to persist message", "role", msg.Role, "err", err)
	}
}

func isMultimodalRejection(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, kw := range multimodalKeywords {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}
