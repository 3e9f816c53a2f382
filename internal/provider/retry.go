package provider

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"time"
)

const keycheckMaxRetries = 2

// doWithRetry executes a non-streaming HTTP request, retrying transient
// failures (network errors, 5xx, 429) with quadratic backoff and jitter.
// Streaming completion requests never go through here: an interrupted stream
// is handled by the session's own supersession and fallback logic.
func doWithRetry(ctx context.Context, client *http.Client, buildReq func() (*http.Request, error), logger *slog.Logger) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= keycheckMaxRetries; attempt++ {
		if attempt > 0 {
			base := time.Duration(attempt*attempt) * time.Second
			backoff := base + time.Duration(rand.Int63n(int64(base/2+1)))
			logger.Warn("retrying request", "attempt", attempt+1, "backoff", backoff)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		req, err := buildReq()
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}

		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			if attempt < keycheckMaxRetries {
				logger.Warn("request failed, will retry", "error", err)
				continue
			}
			return nil, fmt.Errorf("request failed after %d retries: %w", keycheckMaxRetries, err)
		}

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
			resp.Body.Close()
			lastErr = fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
			if attempt < keycheckMaxRetries {
				logger.Warn("server error, will retry", "status", resp.StatusCode)
				continue
			}
			return nil, fmt.Errorf("server error after %d retries: %w", keycheckMaxRetries, lastErr)
		}

		return resp, nil
	}

	return nil, lastErr
}
