package provider

import (
	"encoding/json"
	"strings"
)

// wireEvent is the superset of frame shapes the providers emit. Fields that
// vary between string and object forms stay raw and are sniffed on demand.
type wireEvent struct {
	Type       string          `json:"type"`
	Delta      json.RawMessage `json:"delta"`
	Part       *wirePart       `json:"part"`
	OutputText json.RawMessage `json:"output_text"`
	Output     []wireOutput    `json:"output"`
	Choices    []wireChoice    `json:"choices"`
	Error      *wireError      `json:"error"`
	Response   *wireResponse   `json:"response"`
}

type wirePart struct {
	Text string `json:"text"`
}

type wireOutput struct {
	Content []wireContent `json:"content"`
}

type wireContent struct {
	Text json.RawMessage `json:"text"`
}

type wireChoice struct {
	Delta   *wireChoiceBody `json:"delta"`
	Message *wireChoiceBody `json:"message"`
}

type wireChoiceBody struct {
	Content json.RawMessage `json:"content"`
}

type wireError struct {
	Message string `json:"message"`
}

type wireResponse struct {
	Error *wireError `json:"error"`
}

// rawString decodes a raw value when it is a JSON string, else returns
// ok=false.
func rawString(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 || raw[0] != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// rawTextField decodes either a JSON string or an object carrying a text
// field ({"text": "..."} or {"value": "..."}).
func rawTextField(raw json.RawMessage) string {
	if s, ok := rawString(raw); ok {
		return s
	}
	var obj struct {
		Text  string `json:"text"`
		Value string `json:"value"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return ""
	}
	if obj.Text != "" {
		return obj.Text
	}
	return obj.Value
}

// extractToken pulls the incremental text out of one stream event, checking
// shapes in fixed priority order. Unrecognized shapes yield an empty token.
func extractToken(data []byte) string {
	var evt wireEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return ""
	}

	// A top-level string delta covers both the untagged shape and the
	// response.output_text.delta event.
	if s, ok := rawString(evt.Delta); ok {
		return s
	}

	switch evt.Type {
	case "response.content_part.added":
		if evt.Part != nil {
			return evt.Part.Text
		}
	case "response.content_part.delta":
		return rawTextField(evt.Delta)
	}

	// Chat-completions incremental shape.
	if len(evt.Choices) > 0 && evt.Choices[0].Delta != nil {
		return extractChoiceContent(evt.Choices[0].Delta.Content)
	}
	return ""
}

// extractChoiceContent resolves a chat choice content field: a plain string,
// or an array of tagged parts resolved like content-part normalization.
func extractChoiceContent(raw json.RawMessage) string {
	if s, ok := rawString(raw); ok {
		return s
	}
	var items []map[string]any
	if err := json.Unmarshal(raw, &items); err != nil {
		return ""
	}
	var b strings.Builder
	for _, item := range items {
		if text, ok := item["text"].(string); ok {
			b.WriteString(text)
		}
	}
	return b.String()
}

// extractCompleted pulls fully assembled text out of a completed response
// payload, checking shapes in fixed priority order, and trims the result.
func extractCompleted(data []byte) string {
	var evt wireEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return ""
	}
	if evt.Response != nil {
		// Tagged completion snapshots nest the response object.
		var wrapper struct {
			Response json.RawMessage `json:"response"`
		}
		if err := json.Unmarshal(data, &wrapper); err == nil && len(wrapper.Response) > 0 {
			if text := extractCompleted(wrapper.Response); text != "" {
				return text
			}
		}
	}

	if s, ok := rawString(evt.OutputText); ok {
		return strings.TrimSpace(s)
	}

	if len(evt.OutputText) > 0 && evt.OutputText[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(evt.OutputText, &items); err == nil {
			var b strings.Builder
			for _, item := range items {
				b.WriteString(rawTextField(item))
			}
			if b.Len() > 0 {
				return strings.TrimSpace(b.String())
			}
		}
	}

	if len(evt.Output) > 0 {
		var b strings.Builder
		for _, out := range evt.Output {
			for _, c := range out.Content {
				b.WriteString(rawTextField(c.Text))
			}
		}
		if b.Len() > 0 {
			return strings.TrimSpace(b.String())
		}
	}

	if len(evt.Choices) > 0 && evt.Choices[0].Message != nil {
		return strings.TrimSpace(extractChoiceContent(evt.Choices[0].Message.Content))
	}
	return ""
}

// extractError pulls an error message out of a stream event. Only tagged
// error events produce one; everything else yields "".
func extractError(data []byte) string {
	var evt wireEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return ""
	}
	switch evt.Type {
	case "error":
		if evt.Error != nil && evt.Error.Message != "" {
			return evt.Error.Message
		}
		return "provider returned an error"
	case "response.failed":
		if evt.Response != nil && evt.Response.Error != nil && evt.Response.Error.Message != "" {
			return evt.Response.Error.Message
		}
		return "provider response failed"
	}
	return ""
}
