// Package domains manages a user's audited-domain inventory, including the
// multi-table cleanup when a domain is removed.
package domains

import (
	"context"
	"fmt"
	"log/slog"

	"sitecheck/internal/audit/ports"
	id "sitecheck/pkg/domain"
	dErrors "sitecheck/pkg/domain-errors"
)

// Service handles domain listing and deletion.
type Service struct {
	runs   ports.RunStore
	issues ports.IssueStore
	usage  ports.UsageStore
	events ports.EventPublisher
	logger *slog.Logger
}

// Option configures the service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithEvents sets the telemetry publisher.
func WithEvents(events ports.EventPublisher) Option {
	return func(s *Service) { s.events = events }
}

// New constructs the domain service.
func New(runs ports.RunStore, issues ports.IssueStore, usage ports.UsageStore, opts ...Option) (*Service, error) {
	if runs == nil {
		return nil, fmt.Errorf("run store is required")
	}
	if issues == nil {
		return nil, fmt.Errorf("issue store is required")
	}
	if usage == nil {
		return nil, fmt.Errorf("usage store is required")
	}
	s := &Service{
		runs:   runs,
		issues: issues,
		usage:  usage,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// List returns the distinct domains the user has audited.
func (s *Service) List(ctx context.Context, userID id.UserID) ([]string, error) {
	if userID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	domains, err := s.runs.DomainsForUser(ctx, userID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list domains")
	}
	return domains, nil
}

// Delete removes a user's domain and its history: issues and usage counters
// first, runs last, so a partial failure leaves dependents gone but the
// parent rows still discoverable for an idempotent retry. The domain must
// belong to the caller.
func (s *Service) Delete(ctx context.Context, userID id.UserID, domain string) error {
	if userID.IsNil() {
		return dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}

	owned, err := s.runs.DomainsForUser(ctx, userID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to list domains")
	}
	found := false
	for _, d := range owned {
		if d == domain {
			found = true
			break
		}
	}
	if !found {
		return dErrors.New(dErrors.CodeNotFound, "domain not found")
	}

	if err := s.issues.DeleteByDomain(ctx, domain); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to delete domain issues")
	}
	if err := s.usage.DeleteByDomain(ctx, userID, domain); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to delete domain usage")
	}
	if err := s.runs.DeleteByDomain(ctx, userID, domain); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to delete domain runs")
	}

	s.logger.InfoContext(ctx, "domain deleted",
		"user_id", userID,
		"domain", domain,
	)
	if s.events != nil {
		s.events.Publish(ctx, "domain.deleted", map[string]any{
			"domain": domain,
		})
	}
	return nil
}
