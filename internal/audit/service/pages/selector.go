// Package pages turns a raw site map into the bounded, prioritized URL list
// one run analyzes. Selection failure degrades breadth; it never aborts a
// run.
package pages

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"sitecheck/internal/audit/models"
	"sitecheck/internal/crawler"
)

// Mapper returns candidate URLs for a domain. Implemented by the crawl
// service client.
type Mapper interface {
	Map(ctx context.Context, domain string) ([]crawler.PageCandidate, error)
}

// Selector ranks and bounds candidate pages per tier.
type Selector struct {
	mapper Mapper
	logger *slog.Logger
}

// Option configures the selector.
type Option func(*Selector)

// WithLogger sets the selector logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Selector) { s.logger = logger }
}

// New constructs a page selector.
func New(mapper Mapper, opts ...Option) (*Selector, error) {
	if mapper == nil {
		return nil, fmt.Errorf("mapper is required")
	}
	s := &Selector{mapper: mapper, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// localePath matches locale-prefixed paths like /fr/... or /pt-br/...,
// which duplicate primary-language content and add noise.
var localePath = regexp.MustCompile(`^/[a-z]{2}(-[a-z]{2})?(/|$)`)

// longFormPath matches long-form content sections admitted only when the
// tier's blog switch is on.
var longFormPath = regexp.MustCompile(`^/(blog|news|articles|posts)(/|$)`)

// Select returns the ordered URL list for one run. The homepage is always
// first; on the cheapest tier no site map is requested at all.
func (s *Selector) Select(ctx context.Context, domain string, tier models.Tier) []string {
	homepage := "https://" + domain
	limits := tier.Limits()

	selected := []string{homepage}
	if tier == models.TierFree {
		return selected
	}

	candidates, err := s.mapper.Map(ctx, domain)
	if err != nil {
		s.logger.WarnContext(ctx, "site map unavailable, falling back to homepage only",
			"domain", domain,
			"error", err,
		)
		return selected
	}

	ranked := rank(candidates, domain, limits.IncludeBlogSections)
	for _, candidate := range ranked {
		if len(selected) >= limits.PageBudget {
			break
		}
		selected = append(selected, candidate)
	}
	return selected
}

type scoredPage struct {
	url    string
	depth  int
	length int
}

// rank orders candidates shallower-first, then by path length, dropping the
// homepage (already included), locale prefixes, and off-switch long-form
// sections.
func rank(candidates []crawler.PageCandidate, domain string, includeBlog bool) []string {
	var pages []scoredPage
	seen := make(map[string]bool)

	for _, candidate := range candidates {
		parsed, err := url.Parse(candidate.URL)
		if err != nil || parsed.Host == "" {
			continue
		}

		path := strings.TrimSuffix(parsed.Path, "/")
		if path == "" {
			continue // homepage is always included separately
		}
		if models.IsHomepageEquivalent(candidate.URL, domain) {
			continue
		}
		if localePath.MatchString(path) {
			continue
		}
		if !includeBlog && longFormPath.MatchString(path) {
			continue
		}
		if seen[candidate.URL] {
			continue
		}
		seen[candidate.URL] = true

		pages = append(pages, scoredPage{
			url:    candidate.URL,
			depth:  strings.Count(path, "/"),
			length: len(path),
		})
	}

	sort.SliceStable(pages, func(i, j int) bool {
		if pages[i].depth != pages[j].depth {
			return pages[i].depth < pages[j].depth
		}
		return pages[i].length < pages[j].length
	})

	out := make([]string, 0, len(pages))
	for _, p := range pages {
		out = append(out, p.url)
	}
	return out
}
