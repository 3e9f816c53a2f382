// Package provider shapes provider-agnostic messages into the exact request
// payloads each provider dialect expects, and extracts normalized text back
// out of completed responses and stream events.
package provider

import (
	"fmt"
	"strings"

	"github.com/AxoRm/glass/internal/domain"
)

// reasoningFamilyPrefix marks the model family that accepts a
// reasoning-effort control and rejects temperature.
const reasoningFamilyPrefix = "gpt-5"

const (
	defaultAPIBase   = "https://api.openai.com/v1"
	responsesPath    = "/responses"
	chatCompletePath = "/chat/completions"
)

// IsReasoningFamily reports whether the model identifier, case-insensitively,
// starts with the reasoning-family prefix.
func IsReasoningFamily(model string) bool {
	return strings.HasPrefix(strings.ToLower(model), reasoningFamilyPrefix)
}

// allowedEfforts is the set of valid normalized reasoning-effort values.
var allowedEfforts = map[string]bool{
	"none": true, "low": true, "medium": true, "high": true, "xhigh": true,
}

// NormalizeEffort trims and lower-cases a reasoning-effort value, mapping
// known aliases into the allowed set. It returns ok=false when the value does
// not normalize to anything; callers emit no reasoning fragment in that case.
// Note there is deliberately no default here: the settings layer falls back
// to "medium" for unrecognized values, the payload layer emits nothing.
func NormalizeEffort(raw string) (string, bool) {
	v := strings.ToLower(strings.TrimSpace(raw))
	switch v {
	case "minimal":
		return "none", true
	case "x-high", "x_high", "x high":
		return "xhigh", true
	}
	if allowedEfforts[v] {
		return v, true
	}
	return "", false
}

// Dialect is one wire-format convention. Each dialect knows how to build a
// request body and how to pull tokens, completed text, and errors back out of
// the provider's frames.
type Dialect interface {
	Name() string
	BuildBody(msgs []domain.Message, opts domain.GenerationOptions) ([]byte, error)
	ExtractToken(event []byte) string
	ExtractCompleted(event []byte) string
	ExtractError(event []byte) string
}

// SelectDialect resolves the dialect for a routing mode once per request:
// direct provider access speaks the responses dialect, relay access speaks
// chat-completions with the legacy token-limit field forced.
func SelectDialect(routing domain.RoutingMode) Dialect {
	if routing == domain.RoutingRelay {
		return &ChatCompletionsDialect{ForceLegacyMaxTokens: true}
	}
	return &ResponsesDialect{}
}

// RequestSpec is a transport-ready request descriptor.
type RequestSpec struct {
	URL     string
	Headers map[string]string
	Body    []byte
	Dialect Dialect
}

// BuildRequest produces the full request descriptor for the given model,
// message list, and options.
func BuildRequest(info domain.ModelInfo, msgs []domain.Message, opts domain.GenerationOptions) (RequestSpec, error) {
	if opts.Model == "" {
		opts.Model = info.Model
	}
	opts.Routing = info.Routing

	dialect := SelectDialect(info.Routing)
	body, err := dialect.BuildBody(msgs, opts)
	if err != nil {
		return RequestSpec{}, fmt.Errorf("build %s body: %w", dialect.Name(), err)
	}

	base := strings.TrimRight(info.APIBase, "/")
	if base == "" {
		base = defaultAPIBase
	}
	path := responsesPath
	if info.Routing == domain.RoutingRelay {
		path = chatCompletePath
	}

	return RequestSpec{
		URL: base + path,
		Headers: map[string]string{
			"Content-Type":  "application/json",
			"Authorization": "Bearer " + info.APIKey,
		},
		Body:    body,
		Dialect: dialect,
	}, nil
}

// NormalizeContent coerces loose content shapes (raw JSON-decoded values from
// stored history or overlay commands) into typed parts. A plain string becomes
// a text part; tagged text/input_text objects become text parts; tagged
// image/input_image objects with a resolvable URL become image parts; anything
// else is dropped. Zero surviving parts are replaced with one empty text part
// so content is never omitted.
func NormalizeContent(content any) []domain.ContentPart {
	var parts []domain.ContentPart

	appendOne := func(v any) {
		switch c := v.(type) {
		case string:
			parts = append(parts, domain.ContentPart{Kind: domain.PartText, Text: c})
		case map[string]any:
			tag, _ := c["type"].(string)
			switch tag {
			case "text", "input_text":
				text, _ := c["text"].(string)
				parts = append(parts, domain.ContentPart{Kind: domain.PartText, Text: text})
			case "image", "input_image", "image_url":
				if url := resolveImageURL(c); url != "" {
					parts = append(parts, domain.ContentPart{Kind: domain.PartImage, ImageURL: url})
				}
			}
		}
	}

	switch c := content.(type) {
	case []any:
		for _, item := range c {
			appendOne(item)
		}
	default:
		appendOne(content)
	}

	if len(parts) == 0 {
		parts = []domain.ContentPart{{Kind: domain.PartText}}
	}
	return parts
}

// resolveImageURL pulls an image URL out of a tagged object: either a string
// field or a nested object carrying a url field.
func resolveImageURL(obj map[string]any) string {
	for _, key := range []string{"image_url", "url"} {
		switch v := obj[key].(type) {
		case string:
			return v
		case map[string]any:
			if url, ok := v["url"].(string); ok {
				return url
			}
		}
	}
	return ""
}

// messageParts returns the typed parts of a message, synthesizing a single
// text part from plain-text content. Empty content never vanishes.
func messageParts(m domain.Message) []domain.ContentPart {
	if len(m.Parts) > 0 {
		return m.Parts
	}
	return []domain.ContentPart{{Kind: domain.PartText, Text: m.Text}}
}

// effectiveRole rewrites system to developer for the reasoning family, which
// rejects the system role.
func effectiveRole(role domain.Role, model string) string {
	if role == domain.RoleSystem && IsReasoningFamily(model) {
		return string(domain.RoleDeveloper)
	}
	return string(role)
}
