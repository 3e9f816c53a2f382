package provider

import (
	"encoding/json"

	"github.com/AxoRm/glass/internal/domain"
)

// ResponsesDialect speaks the structured-input streaming format: input items,
// max_output_tokens, and a top-level reasoning.effort fragment.
type ResponsesDialect struct{}

func (d *ResponsesDialect) Name() string { return "responses" }

type responsesRequest struct {
	Model           string             `json:"model"`
	Input           []responsesItem    `json:"input"`
	MaxOutputTokens int                `json:"max_output_tokens,omitempty"`
	Temperature     *float64           `json:"temperature,omitempty"`
	Reasoning       *responsesEffort   `json:"reasoning,omitempty"`
	Stream          bool               `json:"stream"`
}

type responsesItem struct {
	Role    string          `json:"role"`
	Content []responsesPart `json:"content"`
}

type responsesPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

type responsesEffort struct {
	Effort string `json:"effort"`
}

func (d *ResponsesDialect) BuildBody(msgs []domain.Message, opts domain.GenerationOptions) ([]byte, error) {
	reasoning := IsReasoningFamily(opts.Model)

	items := make([]responsesItem, 0, len(msgs))
	for _, m := range msgs {
		item := responsesItem{Role: effectiveRole(m.Role, opts.Model)}
		for _, p := range messageParts(m) {
			switch p.Kind {
			case domain.PartImage:
				if p.ImageURL != "" {
					item.Content = append(item.Content, responsesPart{Type: "input_image", ImageURL: p.ImageURL})
				}
			default:
				item.Content = append(item.Content, responsesPart{Type: "input_text", Text: p.Text})
			}
		}
		if len(item.Content) == 0 {
			item.Content = []responsesPart{{Type: "input_text"}}
		}
		items = append(items, item)
	}

	body := responsesRequest{
		Model:           opts.Model,
		Input:           items,
		MaxOutputTokens: opts.MaxOutputTokens,
		Stream:          true,
	}
	// The reasoning family rejects temperature outright.
	if !reasoning {
		body.Temperature = opts.Temperature
	}
	if reasoning {
		if effort, ok := NormalizeEffort(opts.ReasoningEffort); ok {
			body.Reasoning = &responsesEffort{Effort: effort}
		}
	}

	return json.Marshal(body)
}

func (d *ResponsesDialect) ExtractToken(event []byte) string     { return extractToken(event) }
func (d *ResponsesDialect) ExtractCompleted(event []byte) string { return extractCompleted(event) }
func (d *ResponsesDialect) ExtractError(event []byte) string     { return extractError(event) }
