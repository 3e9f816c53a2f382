package ask

import (
	"github.com/AxoRm/glass/internal/domain"
	"github.com/AxoRm/glass/internal/provider"
)

// buildMessages assembles the provider message list: system template, recent
// conversation history, then the user turn built from preset + effective
// prompt (or the generic analyze-context request) + optional screenshot.
func buildMessages(system, preset string, history []domain.StoredMessage, effective string, shot domain.ScreenshotResult) []domain.Message {
	msgs := []domain.Message{{Role: domain.RoleSystem, Text: system}}

	for _, h := range history {
		switch h.Role {
		case string(domain.RoleUser), string(domain.RoleAssistant):
			msgs = append(msgs, domain.Message{Role: domain.Role(h.Role), Text: h.Content})
		}
	}

	userText := effective
	if userText == "" {
		userText = genericPrompt
	}
	if preset != "" {
		userText = preset + "\n\n" + userText
	}

	parts := []domain.ContentPart{{Kind: domain.PartText, Text: userText}}
	if shot.Success && shot.Base64 != "" {
		parts = append(parts, domain.ContentPart{
			Kind:     domain.PartImage,
			ImageURL: "data:image/png;base64," + shot.Base64,
		})
	}

	return append(msgs, domain.Message{Role: domain.RoleUser, Parts: parts})
}

// stripImages returns a copy of the message list with every image part
// removed, for the text-only fallback retry. Content never ends up empty.
func stripImages(msgs []domain.Message) []domain.Message {
	out := make([]domain.Message, 0, len(msgs))
	for _, m := range msgs {
		if !m.HasImage() {
			out = append(out, m)
			continue
		}
		stripped := domain.Message{Role: m.Role, Text: m.Text}
		for _, p := range m.Parts {
			if p.Kind != domain.PartImage {
				stripped.Parts = append(stripped.Parts, p)
			}
		}
		if len(stripped.Parts) == 0 && stripped.Text == "" {
			stripped.Parts = []domain.ContentPart{{Kind: domain.PartText}}
		}
		out = append(out, stripped)
	}
	return out
}

// effectiveMaxTokens applies the output-token floor: reasoning-family models
// running at high or xhigh effort get a higher floor, everything else the
// base floor. A configured value above the floor wins.
func effectiveMaxTokens(model, effort string, configured int) int {
	floor := baseTokenFloor
	if provider.IsReasoningFamily(model) {
		if e, ok := provider.NormalizeEffort(effort); ok && (e == "high" || e == "xhigh") {
			floor = reasoningTokenFloor
		}
	}
	if configured > floor {
		return configured
	}
	return floor
}
