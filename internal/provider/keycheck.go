package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// apiKeyPrefix is the expected shape of a direct-provider key.
const apiKeyPrefix = "sk-"

// ValidKeyFormat is the cheap local check performed before any network call:
// non-empty and carrying the expected prefix.
func ValidKeyFormat(key string) bool {
	return key != "" && strings.HasPrefix(key, apiKeyPrefix)
}

// ValidateKeyLive verifies the key against the provider's lightweight models
// endpoint. Transient failures (network, 5xx, 429) are retried with backoff;
// a definitive rejection surfaces the provider's own error message when one
// is present in the body.
func ValidateKeyLive(ctx context.Context, client *http.Client, apiBase, key string, logger *slog.Logger) error {
	base := strings.TrimRight(apiBase, "/")
	if base == "" {
		base = defaultAPIBase
	}

	resp, err := doWithRetry(ctx, client, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/models", nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+key)
		return req, nil
	}, logger)
	if err != nil {
		return fmt.Errorf("key validation request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if msg := ServerErrorMessage(body); msg != "" {
		return fmt.Errorf("key rejected (status %d): %s", resp.StatusCode, msg)
	}
	return fmt.Errorf("key rejected (status %d)", resp.StatusCode)
}

// ServerErrorMessage extracts error.message from a provider error body,
// best-effort.
func ServerErrorMessage(body []byte) string {
	var parsed struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return ""
	}
	if parsed.Error.Message != "" {
		return parsed.Error.Message
	}
	return parsed.Message
}
