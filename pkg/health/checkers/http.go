// Package checkers provides ready-made health checks.
package checkers

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// HTTPChecker checks the health of an HTTP endpoint.
type HTTPChecker struct {
	url    string
	name   string
	client *http.Client
}

// NewHTTPChecker creates a checker that GETs url. An empty name defaults to
// the URL.
func NewHTTPChecker(url, name string) *HTTPChecker {
	if name == "" {
		name = url
	}
	return &HTTPChecker{
		url:    url,
		name:   name,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (h *HTTPChecker) Name() string { return h.name }

// Check fails on transport errors and 5xx responses.
func (h *HTTPChecker) Check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("unhealthy status code: %d", resp.StatusCode)
	}
	return nil
}
