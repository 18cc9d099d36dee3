// Package crawler is the HTTP client for the external crawl/map service. It
// maps a domain to candidate URLs and fetches page content as normalized
// markdown.
package crawler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// PageCandidate is one URL from the site map, optionally titled.
type PageCandidate struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

// Client talks to the crawl service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	retryPause time.Duration
	logger     *slog.Logger
}

// Option configures the client.
type Option func(*Client)

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithHTTPClient overrides the HTTP client, primarily for tests.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

// WithRetryPause overrides the pause between page-load attempts.
func WithRetryPause(pause time.Duration) Option {
	return func(c *Client) { c.retryPause = pause }
}

// New constructs a crawl client. Page loads are paced to 2 req/s so a wide
// fan-out does not hammer the crawl service.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(2), 4),
		retryPause: 2 * time.Second,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Map returns the site's candidate URLs. Errors here degrade page selection
// to homepage-only; callers must not abort the run on them.
func (c *Client) Map(ctx context.Context, domain string) ([]PageCandidate, error) {
	endpoint := fmt.Sprintf("%s/map?domain=%s", c.baseURL, url.QueryEscape(domain))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build map request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("map %s: %w", domain, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("map %s: unexpected status %d", domain, resp.StatusCode)
	}

	var body struct {
		Pages []PageCandidate `json:"pages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode map response: %w", err)
	}
	return body.Pages, nil
}

// Scrape fetches one page as markdown, retrying up to 3 attempts with a
// pause between them. After the final failure the caller drops the page
// silently; a single unreachable page never fails a run.
func (c *Client) Scrape(ctx context.Context, pageURL string) (string, error) {
	const maxAttempts = 3

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}

		content, err := c.scrapeOnce(ctx, pageURL)
		if err == nil {
			return content, nil
		}
		lastErr = err

		c.logger.DebugContext(ctx, "page load failed",
			"url", pageURL,
			"attempt", attempt,
			"error", err,
		)

		if attempt < maxAttempts {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(c.retryPause):
			}
		}
	}
	return "", fmt.Errorf("scrape %s after %d attempts: %w", pageURL, maxAttempts, lastErr)
}

func (c *Client) scrapeOnce(ctx context.Context, pageURL string) (string, error) {
	payload, err := json.Marshal(map[string]string{"url": pageURL})
	if err != nil {
		return "", fmt.Errorf("marshal scrape request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/scrape", strings.NewReader(string(payload)))
	if err != nil {
		return "", fmt.Errorf("build scrape request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var body struct {
		Markdown string `json:"markdown"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode scrape response: %w", err)
	}
	return body.Markdown, nil
}
