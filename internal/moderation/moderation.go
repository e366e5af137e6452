// Package moderation wraps the external text-moderation collaborator.
// A failed call is a recoverable error that aborts only the action
// that triggered it.
package moderation

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Filter turns submitted text into broadcast-safe text.
type Filter interface {
	FilterText(ctx context.Context, text string) (string, error)
}

// FilterFunc adapts functions into the Filter interface.
type FilterFunc func(ctx context.Context, text string) (string, error)

func (f FilterFunc) FilterText(ctx context.Context, text string) (string, error) {
	return f(ctx, text)
}

// Passthrough returns the input unchanged. Used in tests and when no
// moderation endpoint is configured.
func Passthrough() Filter {
	return FilterFunc(func(_ context.Context, text string) (string, error) {
		return text, nil
	})
}

// HTTPClient calls a purgomalum-style JSON endpoint:
// GET {base}?text=... returning {"result": "..."}.
type HTTPClient struct {
	base   string
	client *http.Client
}

func NewHTTPClient(base string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPClient{
		base:   base,
		client: &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) FilterText(ctx context.Context, text string) (string, error) {
	endpoint := c.base + "?text=" + url.QueryEscape(text)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("build moderation request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("moderation request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("moderation service returned %d", resp.StatusCode)
	}

	var payload struct {
		Result string `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode moderation response: %w", err)
	}
	return payload.Result, nil
}

var _ Filter = (*HTTPClient)(nil)
