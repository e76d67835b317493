// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package pphsync

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPProber considers the remote reachable when its health endpoint
// answers 2xx.
type HTTPProber struct {
	URL  string
	HTTP *http.Client
}

// NewHTTPProber probes baseURL + "/health".
func NewHTTPProber(baseURL string) *HTTPProber {
	return &HTTPProber{
		URL:  strings.TrimRight(baseURL, "/") + "/health",
		HTTP: &http.Client{Timeout: 5 * time.Second},
	}
}

func (p *HTTPProber) Reachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return false
	}
	resp, err := p.HTTP.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode >= 200 && resp.StatusCode <= 299
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context) bool

func (f ProberFunc) Reachable(ctx context.Context) bool { return f(ctx) }
