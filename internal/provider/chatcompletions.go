package provider

import (
	"encoding/json"

	"github.com/AxoRm/glass/internal/domain"
)

// ChatCompletionsDialect speaks the flat messages/choices streaming format.
// The token-limit field depends on the model family: reasoning-family models
// take max_completion_tokens, everything else max_tokens. Relay routing
// forces the legacy max_tokens field regardless of family.
type ChatCompletionsDialect struct {
	ForceLegacyMaxTokens bool
}

func (d *ChatCompletionsDialect) Name() string { return "chat-completions" }

type chatRequest struct {
	Model               string        `json:"model"`
	Messages            []chatMessage `json:"messages"`
	MaxTokens           int           `json:"max_tokens,omitempty"`
	MaxCompletionTokens int           `json:"max_completion_tokens,omitempty"`
	Temperature         *float64      `json:"temperature,omitempty"`
	Stream              bool          `json:"stream"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type chatPart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *chatImageURL `json:"image_url,omitempty"`
}

type chatImageURL struct {
	URL string `json:"url"`
}

func (d *ChatCompletionsDialect) BuildBody(msgs []domain.Message, opts domain.GenerationOptions) ([]byte, error) {
	reasoning := IsReasoningFamily(opts.Model)

	out := make([]chatMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, chatMessage{
			Role:    effectiveRole(m.Role, opts.Model),
			Content: chatContent(m),
		})
	}

	body := chatRequest{
		Model:    opts.Model,
		Messages: out,
		Stream:   true,
	}
	if !reasoning {
		body.Temperature = opts.Temperature
	}
	if opts.MaxOutputTokens > 0 {
		if reasoning && !d.ForceLegacyMaxTokens {
			body.MaxCompletionTokens = opts.MaxOutputTokens
		} else {
			body.MaxTokens = opts.MaxOutputTokens
		}
	}

	return json.Marshal(body)
}

// chatContent flattens a message to a plain string when it is text-only, and
// to a tagged part array when an image is attached.
func chatContent(m domain.Message) any {
	parts := messageParts(m)
	if !m.HasImage() {
		var text string
		for _, p := range parts {
			text += p.Text
		}
		return text
	}

	items := make([]chatPart, 0, len(parts))
	for _, p := range parts {
		switch p.Kind {
		case domain.PartImage:
			if p.ImageURL != "" {
				items = append(items, chatPart{Type: "image_url", ImageURL: &chatImageURL{URL: p.ImageURL}})
			}
		default:
			items = append(items, chatPart{Type: "text", Text: p.Text})
		}
	}
	return items
}

func (d *ChatCompletionsDialect) ExtractToken(event []byte) string     { return extractToken(event) }
func (d *ChatCompletionsDialect) ExtractCompleted(event []byte) string { return extractCompleted(event) }
func (d *ChatCompletionsDialect) ExtractError(event []byte) string     { return extractError(event) }
