package domain

import "context"

// ModelInfo identifies the active model plus the credentials and endpoint
// needed to reach it.
type ModelInfo struct {
	Provider string
	Model    string
	APIKey   string
	APIBase  string
	Routing  RoutingMode
}

// Settings carries the user-tunable generation settings.
type Settings struct {
	MaxTokens   int
	Temperature float64
}

// ModelResolver resolves the active model, credentials, and generation
// settings for a request kind.
type ModelResolver interface {
	CurrentModelInfo(kind string) (ModelInfo, error)
	Settings() Settings
	// ReasoningEffort returns one of none|low|medium|high|xhigh. Unrecognized
	// configured values fall back to "medium" at this layer.
	ReasoningEffort() string
	SelectedPresetPrompt() string
}

// CaptureOptions tune a screenshot request.
type CaptureOptions struct {
	Quality int
}

// ScreenshotResult is the outcome of a capture attempt. Failure is not an
// error for callers; requests degrade to text-only.
type ScreenshotResult struct {
	Success bool
	Base64  string
	Width   int
	Height  int
	Err     string
}

// ScreenCapturer grabs the current screen contents.
type ScreenCapturer interface {
	CaptureScreenshot(ctx context.Context, opts CaptureOptions) ScreenshotResult
}

// StoredMessage is one persisted conversation message.
type StoredMessage struct {
	SessionID string
	Role      string
	Content   string
	Model     string
}

// MessageStore persists sessions and their messages.
type MessageStore interface {
	GetOrCreateActive(ctx context.Context, kind string) (string, error)
	AddMessage(ctx context.Context, msg StoredMessage) error
	RecentMessages(ctx context.Context, sessionID string, limit int) ([]StoredMessage, error)
}

// StateSink receives full-state broadcasts from the orchestrator. There is no
// diffing; every observable mutation pushes the entire snapshot.
type StateSink interface {
	OnState(state AskState)
	OnStreamError(msg string)
}
