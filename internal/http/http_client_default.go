//go:build !js || !wasm

package http

import (
	"net"
	"net/http"
	"time"
)

// NewHTTPClient creates a new HTTP client for regular environments.
// No overall timeout is set: chat-completion streams stay open for as long as
// the backend keeps sending, and callers bound requests with a context instead.
func NewHTTPClient() HTTPClient {
	return &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 2 * time.Minute,
			DisableCompression:    true, // Important for SSE
			ForceAttemptHTTP2:     true,
		},
	}
}
