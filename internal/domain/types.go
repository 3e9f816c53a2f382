package domain

import (
	"encoding/json"
	"time"
)

// Role identifies who authored a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleDeveloper Role = "developer"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// PartKind tags a content part.
type PartKind string

const (
	PartText  PartKind = "text"
	PartImage PartKind = "image"
)

// ContentPart is one typed unit of message content. Image parts carry an
// inline data URL (base64).
type ContentPart struct {
	Kind     PartKind
	Text     string
	ImageURL string
}

// Message is a provider-agnostic conversation message. Content is either
// plain Text or an ordered list of Parts; Parts wins when non-nil.
type Message struct {
	Role  Role
	Text  string
	Parts []ContentPart
}

// HasImage reports whether any part of the message is an image.
func (m Message) HasImage() bool {
	for _, p := range m.Parts {
		if p.Kind == PartImage {
			return true
		}
	}
	return false
}

// RoutingMode selects how requests reach the provider.
type RoutingMode string

const (
	// RoutingDirect talks to the provider API with the user's own key.
	RoutingDirect RoutingMode = "direct"
	// RoutingRelay goes through a virtual-key relay proxy.
	RoutingRelay RoutingMode = "relay"
)

// GenerationOptions tune one completion request.
type GenerationOptions struct {
	Model           string
	Temperature     *float64 // nil = omit
	MaxOutputTokens int      // 0 = omit
	ReasoningEffort string   // "" = omit; one of none|low|medium|high|xhigh
	Routing         RoutingMode
}

// StreamEventKind classifies a decoded stream unit.
type StreamEventKind string

const (
	EventToken     StreamEventKind = "token"
	EventCompleted StreamEventKind = "completed"
	EventError     StreamEventKind = "error"
)

// StreamEvent is a decoded unit from the wire: a token delta, a
// completed-response snapshot, or an error signal. Transient, never persisted.
type StreamEvent struct {
	Kind StreamEventKind
	Text string
	Err  string
}

// AskState is the full observable state of one ask session. It is owned
// exclusively by the orchestrator; observers only ever see value copies.
type AskState struct {
	Visible       bool      `json:"visible"`
	Loading       bool      `json:"loading"`
	Streaming     bool      `json:"streaming"`
	Question      string    `json:"question"`
	Response      string    `json:"response"`
	ShowTextInput bool      `json:"showTextInput"`
	DraftText     string    `json:"draftText"`
	DraftSpeaker  string    `json:"draftSpeaker"`
	DraftAt       time.Time `json:"draftAt"`
}

// TranscriptFrame is one valid inbound frame from a realtime transcription
// socket, tagged with the provider that produced it.
type TranscriptFrame struct {
	Provider string          `json:"provider"`
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload"`
}
