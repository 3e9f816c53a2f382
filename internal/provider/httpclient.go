package provider

import (
	"net"
	"net/http"
	"time"
)

// StreamingHTTPClient returns a pooled client suitable for long-lived
// streaming responses: the overall timeout is left unset so a slow stream is
// never cut off mid-answer, while connect and header phases stay bounded.
// Cancellation of in-flight streams happens through the request context.
func StreamingHTTPClient() *http.Client {
	transport := &http.Transport{
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 60 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{Transport: transport}
}
