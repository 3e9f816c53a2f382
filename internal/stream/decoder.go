package stream

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/AxoRm/glass/internal/domain"
	"github.com/AxoRm/glass/internal/provider"
)

// doneSentinel terminates an event stream.
const doneSentinel = "[DONE]"

// StreamError is a decoded error event embedded in the stream. The text
// accumulated before it stays valid.
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string { return e.Message }

// Result is what a decode pass produced. Text is the concatenation of all
// token deltas; Completed is the separately tracked completed-response
// snapshot, used as a fallback when no incremental tokens ever arrived.
type Result struct {
	Text      string
	Completed string
}

// FinalText prefers the incrementally accumulated text, falling back to the
// completed snapshot.
func (r Result) FinalText() string {
	if r.Text != "" {
		return r.Text
	}
	return r.Completed
}

// Decode consumes a server-sent-event body, extracting tokens through the
// dialect and invoking onToken for each non-empty delta. It stops on the done
// sentinel, a decoded error event, cancellation, or transport EOF. Malformed
// lines are dropped and the loop continues. Whatever accumulated before an
// abnormal exit is always returned alongside the error.
func Decode(body io.Reader, dialect provider.Dialect, cancel *Canceller, onToken func(string)) (Result, error) {
	var res Result
	var acc strings.Builder

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		if cancel != nil && cancel.Cancelled() {
			res.Text = acc.String()
			return res, cancel.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}
		if payload == doneSentinel {
			break
		}

		for _, evt := range classify([]byte(payload), dialect) {
			switch evt.Kind {
			case domain.EventError:
				res.Text = acc.String()
				return res, &StreamError{Message: evt.Err}
			case domain.EventToken:
				acc.WriteString(evt.Text)
				if onToken != nil {
					onToken(evt.Text)
				}
			case domain.EventCompleted:
				res.Completed = evt.Text
			}
		}
	}

	res.Text = acc.String()

	if err := scanner.Err(); err != nil {
		if cancel != nil && cancel.Cancelled() {
			// The cancelled context surfaces as a read error; report it as
			// the expected cancellation instead.
			return res, cancel.Err()
		}
		return res, fmt.Errorf("stream read: %w", err)
	}
	if cancel != nil && cancel.Cancelled() {
		return res, cancel.Err()
	}
	return res, nil
}

// classify decodes one wire payload into stream events through the dialect.
// An error event is terminal and stands alone; otherwise a payload may carry
// both a token delta and a completed snapshot.
func classify(data []byte, dialect provider.Dialect) []domain.StreamEvent {
	if msg := dialect.ExtractError(data); msg != "" {
		return []domain.StreamEvent{{Kind: domain.EventError, Err: msg}}
	}
	var events []domain.StreamEvent
	if token := dialect.ExtractToken(data); token != "" {
		events = append(events, domain.StreamEvent{Kind: domain.EventToken, Text: token})
	}
	if completed := dialect.ExtractCompleted(data); completed != "" {
		events = append(events, domain.StreamEvent{Kind: domain.EventCompleted, Text: completed})
	}
	return events
}

// IsCancelled reports whether err is (or wraps) a deliberate cancellation.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}
