package ask

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AxoRm/glass/internal/bus"
	"github.com/AxoRm/glass/internal/domain"
	"github.com/AxoRm/glass/internal/stream"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeResolver struct {
	info   domain.ModelInfo
	err    error
	tokens int
	temp   float64
	effort string
	preset string
}

func (f *fakeResolver) CurrentModelInfo(kind string) (domain.ModelInfo, error) {
	return f.info, f.err
}
func (f *fakeResolver) Settings() domain.Settings {
	return domain.Settings{MaxTokens: f.tokens, Temperature: f.temp}
}
func (f *fakeResolver) ReasoningEffort() string      { return f.effort }
func (f *fakeResolver) SelectedPresetPrompt() string { return f.preset }

type fakeCapture struct {
	result domain.ScreenshotResult
}

func (f *fakeCapture) CaptureScreenshot(ctx context.Context, opts domain.CaptureOptions) domain.ScreenshotResult {
	return f.result
}

type fakeStore struct {
	mu       sync.Mutex
	messages []domain.StoredMessage
}

func (f *fakeStore) GetOrCreateActive(ctx context.Context, kind string) (string, error) {
	return "session-1", nil
}

func (f *fakeStore) AddMessage(ctx context.Context, msg domain.StoredMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakeStore) RecentMessages(ctx context.Context, sessionID string, limit int) ([]domain.StoredMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.StoredMessage, len(f.messages))
	copy(out, f.messages)
	return out, nil
}

func (f *fakeStore) byRole(role string) []domain.StoredMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.StoredMessage
	for _, m := range f.messages {
		if m.Role == role {
			out = append(out, m)
		}
	}
	return out
}

type recordSink struct {
	mu     sync.Mutex
	states []domain.AskState
	errs   []string
}

func (r *recordSink) OnState(state domain.AskState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
}

func (r *recordSink) OnStreamError(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, msg)
}

func (r *recordSink) lastErrs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.errs...)
}

func (r *recordSink) allStates() []domain.AskState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.AskState(nil), r.states...)
}

func sseResponse(w http.ResponseWriter, events ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	for _, e := range events {
		fmt.Fprintf(w, "data: %s\n\n", e)
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
}

func newTestOrchestrator(t *testing.T, apiBase string, store *fakeStore, sink *recordSink) (*Orchestrator, *fakeResolver) {
	t.Helper()
	resolver := &fakeResolver{
		info:   domain.ModelInfo{Provider: "openai", Model: "gpt-4.1", APIKey: "sk-test", APIBase: apiBase, Routing: domain.RoutingDirect},
		tokens: 0,
		temp:   0.7,
		effort: "medium",
	}
	stateBus := bus.New(testLogger())
	if sink != nil {
		stateBus.Register("test", sink)
	}
	var msgStore domain.MessageStore
	if store != nil {
		msgStore = store
	}
	o := New(Options{
		Resolver: resolver,
		Store:    msgStore,
		Bus:      stateBus,
		Logger:   testLogger(),
	})
	return o, resolver
}

func TestSendMessageStreamsAndPersists(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sseResponse(w,
			`{"type":"response.output_text.delta","delta":"Hel"}`,
			`{"type":"response.output_text.delta","delta":"lo"}`,
		)
	}))
	defer srv.Close()

	store := &fakeStore{}
	sink := &recordSink{}
	o, _ := newTestOrchestrator(t, srv.URL, store, sink)

	if err := o.SendMessage(context.Background(), "what is this"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	snap := o.Snapshot()
	if snap.Response != "Hello" {
		t.Errorf("Response = %q", snap.Response)
	}
	if snap.Loading || snap.Streaming {
		t.Errorf("terminal state still in flight: %+v", snap)
	}
	if !snap.Visible {
		t.Error("surface should stay visible")
	}
	if snap.Question != "what is this" {
		t.Errorf("Question = %q", snap.Question)
	}

	users := store.byRole("user")
	if len(users) != 1 || users[0].Content != "what is this" {
		t.Errorf("persisted user messages = %+v", users)
	}
	assistants := store.byRole("assistant")
	if len(assistants) != 1 || assistants[0].Content != "Hello" {
		t.Errorf("persisted assistant messages = %+v", assistants)
	}
	if assistants[0].Model != "gpt-4.1" {
		t.Errorf("assistant model = %q", assistants[0].Model)
	}
}

func TestSendMessageEmptyResponseNotPersisted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sseResponse(w)
	}))
	defer srv.Close()

	store := &fakeStore{}
	o, _ := newTestOrchestrator(t, srv.URL, store, nil)

	if err := o.SendMessage(context.Background(), "hi"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if got := store.byRole("assistant"); len(got) != 0 {
		t.Errorf("empty answer must not be persisted, got %+v", got)
	}
}

func TestSendMessageStreamErrorKeepsPartial(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sseResponse(w,
			`{"type":"response.output_text.delta","delta":"partial"}`,
			`{"type":"error","error":{"message":"rate limited"}}`,
		)
	}))
	defer srv.Close()

	store := &fakeStore{}
	sink := &recordSink{}
	o, _ := newTestOrchestrator(t, srv.URL, store, sink)

	err := o.SendMessage(context.Background(), "hi")
	if err == nil {
		t.Fatal("want stream error")
	}
	if !strings.Contains(err.Error(), "rate limited") {
		t.Errorf("err = %v", err)
	}

	snap := o.Snapshot()
	if snap.Response != "partial" {
		t.Errorf("partial text lost: %q", snap.Response)
	}
	if !snap.ShowTextInput {
		t.Error("error must re-show the text input")
	}

	if got := store.byRole("assistant"); len(got) != 1 || got[0].Content != "partial" {
		t.Errorf("partial answer should persist once, got %+v", got)
	}
	if errs := sink.lastErrs(); len(errs) != 1 || errs[0] != "rate limited" {
		t.Errorf("stream error broadcast = %v", errs)
	}
}

func TestSendMessageResolverError(t *testing.T) {
	store := &fakeStore{}
	sink := &recordSink{}
	o, resolver := newTestOrchestrator(t, "http://127.0.0.1:0", store, sink)
	resolver.err = errors.New("no model configured")

	err := o.SendMessage(context.Background(), "hi")
	if err == nil || !strings.Contains(err.Error(), "no model configured") {
		t.Fatalf("err = %v", err)
	}
	snap := o.Snapshot()
	if snap.Loading || snap.Streaming {
		t.Errorf("terminal state still in flight: %+v", snap)
	}
	if !snap.ShowTextInput {
		t.Error("config error must re-show the text input")
	}
}

func TestSendMessageSupersedesPrevious(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sseResponse(w, `{"delta":"ok"}`)
	}))
	defer srv.Close()

	o, _ := newTestOrchestrator(t, srv.URL, nil, nil)

	previous := stream.NewCanceller()
	o.mu.Lock()
	o.canceller = previous
	o.mu.Unlock()

	if err := o.SendMessage(context.Background(), "hi"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if !previous.Cancelled() {
		t.Fatal("previous attempt not cancelled")
	}
	if previous.Reason() != "new request received" {
		t.Errorf("cancel reason = %q", previous.Reason())
	}
}

func TestSupersededAttemptStopsBroadcasting(t *testing.T) {
	var calls atomic.Int32
	firstConnected := make(chan struct{})
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		if calls.Add(1) == 1 {
			fmt.Fprint(w, "data: {\"delta\":\"one\"}\n\n")
			flusher.Flush()
			close(firstConnected)
			<-release
			fmt.Fprint(w, "data: {\"delta\":\"LEAK\"}\n\n")
			flusher.Flush()
			fmt.Fprint(w, "data: [DONE]\n\n")
			return
		}
		fmt.Fprint(w, "data: {\"delta\":\"second\"}\n\ndata: [DONE]\n\n")
	}))
	defer srv.Close()

	sink := &recordSink{}
	o, _ := newTestOrchestrator(t, srv.URL, nil, sink)

	firstDone := make(chan error, 1)
	go func() {
		firstDone <- o.SendMessage(context.Background(), "first question")
	}()
	select {
	case <-firstConnected:
	case <-time.After(2 * time.Second):
		t.Fatal("first attempt never reached the server")
	}

	if err := o.SendMessage(context.Background(), "second question"); err != nil {
		t.Fatalf("second SendMessage: %v", err)
	}
	close(release)

	select {
	case err := <-firstDone:
		if err != nil {
			t.Fatalf("superseded attempt must swallow its cancellation, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("first attempt never returned")
	}

	if got := o.Snapshot().Response; got != "second" {
		t.Errorf("Response = %q, want %q", got, "second")
	}
	for _, state := range sink.allStates() {
		if strings.Contains(state.Response, "LEAK") {
			t.Fatalf("superseded attempt still broadcasting: %+v", state)
		}
	}
}

func TestStreamingWaitsForFirstToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sseResponse(w,
			`{"type":"response.output_text.delta","delta":"Hel"}`,
			`{"type":"response.output_text.delta","delta":"lo"}`,
		)
	}))
	defer srv.Close()

	sink := &recordSink{}
	o, _ := newTestOrchestrator(t, srv.URL, nil, sink)
	if err := o.SendMessage(context.Background(), "hi"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	var sawStreaming bool
	for _, state := range sink.allStates() {
		if state.Streaming {
			sawStreaming = true
			if state.Response == "" {
				t.Fatalf("streaming state with no response text: %+v", state)
			}
		}
	}
	if !sawStreaming {
		t.Fatal("no streaming state was broadcast")
	}
}

func TestMultimodalFallbackRetriesTextOnly(t *testing.T) {
	var requests []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		requests = append(requests, string(body))
		if len(requests) == 1 {
			w.WriteHeader(http.StatusBadRequest)
			io.WriteString(w, `{"error":{"message":"image_url is not supported for this model"}}`)
			return
		}
		sseResponse(w, `{"delta":"text answer"}`)
	}))
	defer srv.Close()

	sink := &recordSink{}
	o, _ := newTestOrchestrator(t, srv.URL, nil, sink)
	o.capture = &fakeCapture{result: domain.ScreenshotResult{Success: true, Base64: "QUJD"}}

	if err := o.SendMessage(context.Background(), "describe"); err != nil {
		t.Fatalf("SendMessage after fallback: %v", err)
	}
	if len(requests) != 2 {
		t.Fatalf("got %d requests, want 2", len(requests))
	}
	if !strings.Contains(requests[0], "input_image") {
		t.Error("first attempt should carry the image")
	}
	if strings.Contains(requests[1], "input_image") {
		t.Error("retry must be text-only")
	}
	if o.Snapshot().Response != "text answer" {
		t.Errorf("Response = %q", o.Snapshot().Response)
	}
	if len(sink.lastErrs()) != 0 {
		t.Errorf("recovered fallback must not surface an error, got %v", sink.lastErrs())
	}
}

func TestMultimodalFallbackOnlyWithImage(t *testing.T) {
	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":{"message":"image not supported"}}`)
	}))
	defer srv.Close()

	o, _ := newTestOrchestrator(t, srv.URL, nil, nil)

	if err := o.SendMessage(context.Background(), "hi"); err == nil {
		t.Fatal("want error")
	}
	if requests != 1 {
		t.Errorf("text-only request retried %d times, want 1", requests)
	}
}

func TestIsMultimodalRejection(t *testing.T) {
	cases := []struct {
		msg  string
		want bool
	}{
		{"openai returned 400: image_url is not supported", true},
		{"model has no VISION capability", true},
		{"invalid request", true},
		{"connection refused", false},
		{"context deadline exceeded", false},
	}
	for _, tc := range cases {
		if got := isMultimodalRejection(errors.New(tc.msg)); got != tc.want {
			t.Errorf("isMultimodalRejection(%q) = %v, want %v", tc.msg, got, tc.want)
		}
	}
}

func TestVoiceDraftFallback(t *testing.T) {
	o, _ := newTestOrchestrator(t, "", nil, nil)
	o.IngestVoiceDraft("  how do I exit vim  ", "them")

	snap := o.Snapshot()
	if snap.DraftText != "how do I exit vim" || snap.DraftSpeaker != "them" {
		t.Errorf("draft = %q by %q", snap.DraftText, snap.DraftSpeaker)
	}
	if snap.DraftAt.IsZero() {
		t.Error("DraftAt not stamped")
	}

	o.mu.Lock()
	if got := o.effectivePromptLocked("explicit"); got != "explicit" {
		t.Errorf("explicit prompt must win, got %q", got)
	}
	if got := o.effectivePromptLocked(""); got != "how do I exit vim" {
		t.Errorf("fresh draft should stand in, got %q", got)
	}
	o.mu.Unlock()
}

func TestVoiceDraftIgnored(t *testing.T) {
	o, _ := newTestOrchestrator(t, "", nil, nil)
	o.IngestVoiceDraft("   ", "them")
	o.IngestVoiceDraft("something", "")
	if snap := o.Snapshot(); snap.DraftText != "" {
		t.Errorf("blank or speakerless drafts must be dropped, got %q", snap.DraftText)
	}
}

func TestVoiceDraftStaleness(t *testing.T) {
	o, _ := newTestOrchestrator(t, "", nil, nil)

	o.mu.Lock()
	o.state.DraftText = "draft"
	o.state.DraftAt = time.Now().Add(-draftStaleness + time.Second)
	if got := o.effectivePromptLocked(""); got != "draft" {
		t.Errorf("draft inside the window should stand in, got %q", got)
	}
	o.state.DraftAt = time.Now().Add(-draftStaleness - time.Minute)
	if got := o.effectivePromptLocked(""); got != "" {
		t.Errorf("stale draft must not stand in, got %q", got)
	}
	o.mu.Unlock()
}

func TestToggle(t *testing.T) {
	o, _ := newTestOrchestrator(t, "", nil, nil)

	o.Toggle()
	snap := o.Snapshot()
	if !snap.Visible || !snap.ShowTextInput {
		t.Errorf("hidden toggle should show surface and input: %+v", snap)
	}

	// With nothing in flight and no response, toggling hides again.
	o.mu.Lock()
	o.state.ShowTextInput = false
	o.mu.Unlock()
	o.Toggle()
	if snap := o.Snapshot(); snap.Visible {
		t.Errorf("idle toggle should hide: %+v", snap)
	}

	// With a response on screen, toggle only flips the input.
	o.mu.Lock()
	o.state.Visible = true
	o.state.Response = "answer"
	o.state.ShowTextInput = false
	o.mu.Unlock()
	o.Toggle()
	snap = o.Snapshot()
	if !snap.Visible || !snap.ShowTextInput || snap.Response != "answer" {
		t.Errorf("toggle with content should flip input only: %+v", snap)
	}
}

func TestCloseSessionPreservesDraft(t *testing.T) {
	o, _ := newTestOrchestrator(t, "", nil, nil)
	o.IngestVoiceDraft("remember me", "them")

	inFlight := stream.NewCanceller()
	o.mu.Lock()
	o.canceller = inFlight
	o.state.Visible = true
	o.state.Streaming = true
	o.state.Response = "partial"
	o.mu.Unlock()

	o.CloseSession()

	if !inFlight.Cancelled() || inFlight.Reason() != "window closed by user" {
		t.Errorf("in-flight attempt not cancelled properly: %v %q", inFlight.Cancelled(), inFlight.Reason())
	}
	snap := o.Snapshot()
	if snap.Visible || snap.Streaming || snap.Response != "" {
		t.Errorf("state not reset: %+v", snap)
	}
	if snap.DraftText != "remember me" || snap.DraftSpeaker != "them" || snap.DraftAt.IsZero() {
		t.Errorf("draft triple must survive close: %+v", snap)
	}
}
