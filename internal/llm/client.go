// Package llm is the HTTP client for the external language-model audit
// backend. Given page content and a category scope it returns structured
// findings, an empty result, or the blocked sentinel.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"sitecheck/internal/audit/models"
	"sitecheck/pkg/platform/sentinel"
)

// Page is one scraped page handed to the backend.
type Page struct {
	URL      string `json:"url"`
	Markdown string `json:"markdown"`
}

// Request is one analysis task. An empty Category requests a unified audit
// across all categories (cheapest tier). Excluded and Active carry the
// domain's issue context so the backend avoids re-reporting dismissed items
// and can confirm open ones.
type Request struct {
	Domain   string          `json:"domain"`
	Category models.Category `json:"category,omitempty"`
	Pages    []Page          `json:"pages"`
	Excluded []string        `json:"excluded_issues,omitempty"`
	Active   []string        `json:"active_issues,omitempty"`
}

// Client talks to the LLM audit backend.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client, primarily for tests.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

// New constructs an LLM backend client. The long timeout accommodates
// multi-page analysis; per-run deadlines are enforced by the caller's
// context.
func New(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// auditResponse is the backend's wire shape. Status "blocked" is the bot
// protection sentinel; a null or absent issues array is a valid zero-issue
// result.
type auditResponse struct {
	Status string           `json:"status,omitempty"`
	Issues []models.Finding `json:"issues"`
}

// Audit runs one analysis task. Returns sentinel.ErrBlocked when the target
// site's firewall prevented analysis; a nil slice with nil error is a valid
// empty result.
func (c *Client) Audit(ctx context.Context, req Request) ([]models.Finding, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal audit request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audit", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build audit request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("audit backend: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("audit backend: unexpected status %d", resp.StatusCode)
	}

	var body auditResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode audit response: %w", err)
	}

	if body.Status == "blocked" {
		return nil, sentinel.ErrBlocked
	}
	return body.Issues, nil
}
