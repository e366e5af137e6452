// Package reputation wraps the external IP-reputation collaborator.
// The hub consults it at most once per distinct address; verdicts are
// cached through the persistence layer, not here.
package reputation

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Verdict classifies an address.
type Verdict int

const (
	VerdictAllowed Verdict = iota
	VerdictBanned
)

// Checker resolves a verdict for an address.
type Checker interface {
	Check(ctx context.Context, ip string) (Verdict, error)
}

// CheckerFunc adapts functions into the Checker interface.
type CheckerFunc func(ctx context.Context, ip string) (Verdict, error)

func (f CheckerFunc) Check(ctx context.Context, ip string) (Verdict, error) {
	return f(ctx, ip)
}

// AllowAll accepts every address. Used outside production mode.
func AllowAll() Checker {
	return CheckerFunc(func(context.Context, string) (Verdict, error) {
		return VerdictAllowed, nil
	})
}

// HTTPClient calls an iphub-style endpoint: GET {base}/{ip} with an
// X-Key header, returning {"block": 0|1|2}.
type HTTPClient struct {
	base   string
	apiKey string
	client *http.Client
}

func NewHTTPClient(base, apiKey string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPClient{
		base:   base,
		apiKey: apiKey,
		client: &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) Check(ctx context.Context, ip string) (Verdict, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/"+ip, nil)
	if err != nil {
		return VerdictAllowed, fmt.Errorf("build reputation request: %w", err)
	}
	req.Header.Set("X-Key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return VerdictAllowed, fmt.Errorf("reputation request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return VerdictAllowed, fmt.Errorf("reputation service returned %d", resp.StatusCode)
	}

	var payload struct {
		Block *int `json:"block"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return VerdictAllowed, fmt.Errorf("decode reputation response: %w", err)
	}
	if payload.Block == nil {
		return VerdictAllowed, fmt.Errorf("reputation response missing block field")
	}
	if *payload.Block == 1 {
		return VerdictBanned, nil
	}
	return VerdictAllowed, nil
}

var _ Checker = (*HTTPClient)(nil)
