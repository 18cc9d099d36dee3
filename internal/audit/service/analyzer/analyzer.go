// Package analyzer runs the category-scoped analysis tasks for one audit.
// Tiers above FREE fan out one task per category against the same URL set;
// FREE runs a single unified task. A blocked signal from any task fails the
// whole run rather than serving partial results as if complete.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"sitecheck/internal/audit/metrics"
	"sitecheck/internal/audit/models"
	"sitecheck/internal/llm"
	"sitecheck/pkg/platform/sentinel"
)

var tracer = otel.Tracer("sitecheck/internal/audit/service/analyzer")

// Backend runs one analysis task. Implemented by the LLM client.
type Backend interface {
	Audit(ctx context.Context, req llm.Request) ([]models.Finding, error)
}

// Scraper fetches one page as markdown. Implemented by the crawl client,
// which retries internally before giving up on a page.
type Scraper interface {
	Scrape(ctx context.Context, url string) (string, error)
}

// IssueContext carries the domain's known issues into each task so the
// backend avoids re-reporting dismissed items and can confirm open ones.
type IssueContext struct {
	Excluded []string
	Active   []string
}

// Result is the merged outcome of all category tasks for one run.
type Result struct {
	Findings     []models.Finding
	AuditedURLs  []string
	PagesScanned int
}

// Analyzer coordinates scraping and category fan-out.
type Analyzer struct {
	backend Backend
	scraper Scraper
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures the analyzer.
type Option func(*Analyzer)

// WithLogger sets the analyzer logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Analyzer) { a.logger = logger }
}

// WithMetrics sets the pipeline metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Analyzer) { a.metrics = m }
}

// New constructs an analyzer.
func New(backend Backend, scraper Scraper, opts ...Option) (*Analyzer, error) {
	if backend == nil {
		return nil, fmt.Errorf("backend is required")
	}
	if scraper == nil {
		return nil, fmt.Errorf("scraper is required")
	}
	a := &Analyzer{
		backend: backend,
		scraper: scraper,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Run scrapes the URL set and executes the tier's analysis tasks. Returns
// sentinel.ErrBlocked when the target's bot protection prevented analysis.
func (a *Analyzer) Run(ctx context.Context, domain string, tier models.Tier, urls []string, issueCtx IssueContext) (*Result, error) {
	ctx, span := tracer.Start(ctx, "analyzer.Run")
	span.SetAttributes(
		attribute.String("audit.domain", domain),
		attribute.String("audit.tier", string(tier)),
		attribute.Int("audit.candidate_urls", len(urls)),
	)
	defer span.End()

	pages, audited := a.scrapeAll(ctx, urls)
	if len(pages) == 0 {
		return nil, fmt.Errorf("no pages could be loaded for %s: %w", domain, sentinel.ErrUnavailable)
	}

	result := &Result{
		AuditedURLs:  audited,
		PagesScanned: len(pages),
	}

	if tier.Limits().UnifiedAudit {
		findings, err := a.runCategory(ctx, domain, "", pages, issueCtx)
		if err != nil {
			return nil, err
		}
		result.Findings = findings
		return result, nil
	}

	// Fan out one independent task per category; fan in here. Each task
	// writes only its own slot, so no shared state is mutated concurrently.
	perCategory := make([][]models.Finding, len(models.AllCategories))
	g, gctx := errgroup.WithContext(ctx)
	for i, category := range models.AllCategories {
		g.Go(func() error {
			findings, err := a.runCategory(gctx, domain, category, pages, issueCtx)
			if err != nil {
				return err
			}
			perCategory[i] = findings
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, findings := range perCategory {
		result.Findings = append(result.Findings, findings...)
	}
	return result, nil
}

// scrapeAll loads every URL, dropping pages that stay unreachable after the
// client's retries. Skipped pages are excluded from pages_scanned and never
// surface as a run-level error.
func (a *Analyzer) scrapeAll(ctx context.Context, urls []string) ([]llm.Page, []string) {
	var (
		pages   []llm.Page
		audited []string
	)
	for _, pageURL := range urls {
		markdown, err := a.scraper.Scrape(ctx, pageURL)
		if err != nil {
			a.logger.WarnContext(ctx, "dropping unreachable page",
				"url", pageURL,
				"error", err,
			)
			continue
		}
		pages = append(pages, llm.Page{URL: pageURL, Markdown: markdown})
		audited = append(audited, pageURL)
	}
	return pages, audited
}

func (a *Analyzer) runCategory(ctx context.Context, domain string, category models.Category, pages []llm.Page, issueCtx IssueContext) ([]models.Finding, error) {
	label := string(category)
	if label == "" {
		label = "unified"
	}

	ctx, span := tracer.Start(ctx, "analyzer.category")
	span.SetAttributes(attribute.String("audit.category", label))
	defer span.End()

	start := time.Now()
	findings, err := a.backend.Audit(ctx, llm.Request{
		Domain:   domain,
		Category: category,
		Pages:    pages,
		Excluded: issueCtx.Excluded,
		Active:   issueCtx.Active,
	})
	if a.metrics != nil {
		a.metrics.CategoryDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		if errors.Is(err, sentinel.ErrBlocked) {
			a.logger.WarnContext(ctx, "analysis blocked by site protection",
				"domain", domain,
				"category", label,
			)
			return nil, err
		}
		return nil, fmt.Errorf("category %s: %w", label, err)
	}

	// Unified tasks may return any category; scoped tasks are normalized to
	// their own category even if the backend mislabels a finding.
	if category != "" {
		for i := range findings {
			findings[i].Category = category
		}
	}
	return findings, nil
}
