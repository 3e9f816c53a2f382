package stream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/AxoRm/glass/internal/provider"
)

// OpenStream executes a streaming request and returns the response body for
// the decoder. The request is bound to ctx, which the caller derives from its
// cancellation token. Non-2xx responses are drained and wrapped with the
// provider label, status code, and the server's own error message when one
// can be extracted.
func OpenStream(ctx context.Context, client *http.Client, providerLabel string, spec provider.RequestSpec) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, spec.URL, bytes.NewReader(spec.Body))
	if err != nil {
		return nil, fmt.Errorf("%s: new request: %w", providerLabel, err)
	}
	for k, v := range spec.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: connect: %w", providerLabel, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		resp.Body.Close()
		if msg := provider.ServerErrorMessage(body); msg != "" {
			return nil, fmt.Errorf("%s returned %d: %s", providerLabel, resp.StatusCode, msg)
		}
		return nil, fmt.Errorf("%s returned %d: %s", providerLabel, resp.StatusCode, string(body))
	}

	return resp.Body, nil
}
