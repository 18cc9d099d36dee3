// Package quota answers "may this user start a new audit" before any crawl
// begins. Both checks are side-effect free; usage is incremented only after a
// run completes, by the lifecycle manager.
package quota

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"sitecheck/internal/audit/metrics"
	"sitecheck/internal/audit/models"
	"sitecheck/internal/audit/ports"
	id "sitecheck/pkg/domain"
	dErrors "sitecheck/pkg/domain-errors"
	"sitecheck/pkg/requestcontext"
)

// Decision is the outcome of one quota check, with enough context for the
// caller to construct a precise user-facing message.
type Decision struct {
	Allowed         bool      `json:"allowed"`
	Limit           int       `json:"limit"`
	Used            int       `json:"used"`
	ResetAt         time.Time `json:"reset_at"`
	UpgradeRequired bool      `json:"upgrade_required"`
}

// Service is the rate/quota guard.
type Service struct {
	runs    ports.RunStore
	usage   ports.UsageStore
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

// New constructs the quota guard.
func New(runs ports.RunStore, usage ports.UsageStore, opts ...Option) (*Service, error) {
	if runs == nil {
		return nil, fmt.Errorf("run store is required")
	}
	if usage == nil {
		return nil, fmt.Errorf("usage store is required")
	}

	svc := &Service{
		runs:   runs,
		usage:  usage,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// CheckDomainAllowance answers whether auditing domain would exceed the
// plan's distinct-domain cap. Re-auditing an existing domain is always
// allowed; only genuinely new domains count against the cap.
func (s *Service) CheckDomainAllowance(ctx context.Context, userID id.UserID, domain string, tier models.Tier) (*Decision, error) {
	limits := tier.Limits()
	if limits.MaxDomains < 0 {
		return &Decision{Allowed: true, Limit: -1}, nil
	}

	domains, err := s.runs.DomainsForUser(ctx, userID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list user domains")
	}

	for _, existing := range domains {
		if existing == domain {
			return &Decision{Allowed: true, Limit: limits.MaxDomains, Used: len(domains)}, nil
		}
	}

	if len(domains) >= limits.MaxDomains {
		if s.metrics != nil {
			s.metrics.QuotaDenials.WithLabelValues("domain_cap").Inc()
		}
		s.logger.InfoContext(ctx, "domain cap reached",
			"user_id", userID,
			"domain", domain,
			"limit", limits.MaxDomains,
			"used", len(domains),
		)
		return &Decision{
			Allowed:         false,
			Limit:           limits.MaxDomains,
			Used:            len(domains),
			UpgradeRequired: true,
		}, nil
	}

	return &Decision{Allowed: true, Limit: limits.MaxDomains, Used: len(domains)}, nil
}

// CheckDailyLimit answers whether the user has audits left for this domain
// today. The reset timestamp is the next UTC midnight.
func (s *Service) CheckDailyLimit(ctx context.Context, userID id.UserID, domain string, tier models.Tier) (*Decision, error) {
	limits := tier.Limits()
	now := requestcontext.Now(ctx).UTC()

	used, err := s.usage.Count(ctx, userID, domain, now)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read usage counter")
	}

	resetAt := now.Truncate(24 * time.Hour).Add(24 * time.Hour)
	decision := &Decision{
		Allowed: used < limits.DailyAudits,
		Limit:   limits.DailyAudits,
		Used:    used,
		ResetAt: resetAt,
	}
	if !decision.Allowed {
		if s.metrics != nil {
			s.metrics.QuotaDenials.WithLabelValues("daily_limit").Inc()
		}
		s.logger.InfoContext(ctx, "daily audit limit reached",
			"user_id", userID,
			"domain", domain,
			"limit", limits.DailyAudits,
			"used", used,
		)
	}
	return decision, nil
}

// Deny converts a failing decision into the coded error handlers render as a
// 429 payload.
func Deny(d *Decision, message string) error {
	details := map[string]any{
		"limit": d.Limit,
		"used":  d.Used,
	}
	if !d.ResetAt.IsZero() {
		details["reset_at"] = d.ResetAt.Format(time.RFC3339)
	}
	if d.UpgradeRequired {
		details["upgradeRequired"] = true
	}
	return dErrors.WithDetails(dErrors.CodeRateLimited, message, details)
}
