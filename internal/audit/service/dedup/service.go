// Package dedup reconciles raw findings from a finished run against the
// domain's issue history. Explicit dismissals always win over the backend's
// output, and a rediscovered issue is suppressed rather than re-inserted.
package dedup

import (
	"context"
	"fmt"
	"log/slog"

	"sitecheck/internal/audit/metrics"
	"sitecheck/internal/audit/models"
	"sitecheck/internal/audit/ports"
	pstrings "sitecheck/pkg/platform/strings"
)

const (
	reasonDismissed = "dismissed"
	reasonDuplicate = "duplicate"
	reasonLocation  = "location"
)

// Outcome is the reconciled issue set for one run. Issues is the run's final
// list (new insertions plus still-present active issues); Inserted is the
// subset persisted by this run.
type Outcome struct {
	Issues   []models.Issue
	Inserted []models.Issue
}

// Service is the issue deduplicator.
type Service struct {
	issues  ports.IssueStore
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures the service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithMetrics sets the pipeline metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// New constructs the deduplicator.
func New(issues ports.IssueStore, opts ...Option) (*Service, error) {
	if issues == nil {
		return nil, fmt.Errorf("issue store is required")
	}
	s := &Service{
		issues: issues,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// IssueContext returns the domain's dismissed and active issue descriptions,
// supplied to the analysis backend so it avoids re-reporting dismissed items.
func (s *Service) IssueContext(ctx context.Context, domain string) (excluded, active []string, err error) {
	history, err := s.issues.ListByDomain(ctx, domain)
	if err != nil {
		return nil, nil, fmt.Errorf("list issues for %s: %w", domain, err)
	}
	for _, issue := range history {
		if issue.Status.IsDismissed() {
			excluded = append(excluded, issue.Description)
		} else {
			active = append(active, issue.Description)
		}
	}
	// The sets are prompt context; repeated or padded descriptions only
	// waste backend tokens.
	return pstrings.DedupeAndTrim(excluded), pstrings.DedupeAndTrim(active), nil
}

// Reconcile filters the run's raw findings against the domain's history and
// persists the genuinely new ones. On the free tier, findings that never
// reference a homepage-equivalent URL are dropped before any matching; an
// emptied result set completes the run with zero issues.
func (s *Service) Reconcile(ctx context.Context, run *models.AuditRun, findings []models.Finding) (*Outcome, error) {
	if run.Tier == models.TierFree {
		findings = s.filterToHomepage(run.Domain, findings)
	}

	history, err := s.issues.ListByDomain(ctx, run.Domain)
	if err != nil {
		return nil, fmt.Errorf("list issues for %s: %w", run.Domain, err)
	}
	bySignature := make(map[string]models.Issue, len(history))
	for _, issue := range history {
		bySignature[issue.Signature] = issue
	}

	outcome := &Outcome{}
	seen := make(map[string]bool)
	for _, f := range findings {
		sig := models.Signature(run.Domain, f.Category, f.Description)
		if seen[sig] {
			s.suppress(reasonDuplicate)
			continue
		}
		seen[sig] = true

		if existing, ok := bySignature[sig]; ok {
			if existing.Status.IsDismissed() {
				// The user's dismissal wins even when the backend reports
				// the issue again.
				s.suppress(reasonDismissed)
				continue
			}
			// Still present; keep the existing row untouched.
			s.suppress(reasonDuplicate)
			outcome.Issues = append(outcome.Issues, existing)
			continue
		}

		issue, err := models.NewIssue(run.ID, run.Domain, f)
		if err != nil {
			s.logger.WarnContext(ctx, "dropping malformed finding",
				"domain", run.Domain,
				"category", f.Category,
				"error", err,
			)
			continue
		}
		outcome.Inserted = append(outcome.Inserted, *issue)
		outcome.Issues = append(outcome.Issues, *issue)
	}

	if len(outcome.Inserted) > 0 {
		toInsert := make([]*models.Issue, len(outcome.Inserted))
		for i := range outcome.Inserted {
			toInsert[i] = &outcome.Inserted[i]
		}
		if err := s.issues.InsertBatch(ctx, toInsert); err != nil {
			return nil, fmt.Errorf("insert issues for %s: %w", run.Domain, err)
		}
	}
	return outcome, nil
}

// filterToHomepage keeps only findings with at least one homepage-equivalent
// location, the free tier's homepage-only guarantee.
func (s *Service) filterToHomepage(domain string, findings []models.Finding) []models.Finding {
	kept := findings[:0:0]
	for _, f := range findings {
		if onHomepage(domain, f.Locations) {
			kept = append(kept, f)
		} else {
			s.suppress(reasonLocation)
		}
	}
	return kept
}

func onHomepage(domain string, locations []models.Location) bool {
	for _, loc := range locations {
		if models.IsHomepageEquivalent(loc.URL, domain) {
			return true
		}
	}
	return false
}

func (s *Service) suppress(reason string) {
	if s.metrics != nil {
		s.metrics.DedupSuppressed.WithLabelValues(reason).Inc()
	}
}
