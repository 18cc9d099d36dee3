// Package issues applies user-issued issue state transitions. Dismissals
// recorded here feed the deduplicator's excluded set on the next run.
package issues

import (
	"context"
	"fmt"
	"log/slog"

	"sitecheck/internal/audit/models"
	"sitecheck/internal/audit/ports"
	id "sitecheck/pkg/domain"
	dErrors "sitecheck/pkg/domain-errors"
)

// Service mutates issue status on explicit user action.
type Service struct {
	issues ports.IssueStore
	runs   ports.RunStore
	logger *slog.Logger
}

// Option configures the service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// New constructs the issue service.
func New(issues ports.IssueStore, runs ports.RunStore, opts ...Option) (*Service, error) {
	if issues == nil {
		return nil, fmt.Errorf("issue store is required")
	}
	if runs == nil {
		return nil, fmt.Errorf("run store is required")
	}
	s := &Service{
		issues: issues,
		runs:   runs,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ListByDomain returns the issue history for one of the user's domains.
func (s *Service) ListByDomain(ctx context.Context, userID id.UserID, domain string) ([]models.Issue, error) {
	if err := s.authorizeDomain(ctx, userID, domain); err != nil {
		return nil, err
	}
	history, err := s.issues.ListByDomain(ctx, domain)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list issues")
	}
	return history, nil
}

// UpdateStatus applies an ignore, resolve or restore action to an issue the
// user owns. Idempotent; restoring an already-active issue is a no-op.
func (s *Service) UpdateStatus(ctx context.Context, userID id.UserID, issueID id.IssueID, status models.IssueStatus) (*models.Issue, error) {
	if userID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	if !status.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "invalid status: must be active, ignored or resolved")
	}

	issue, err := s.issues.Get(ctx, issueID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeDomain(ctx, userID, issue.Domain); err != nil {
		return nil, err
	}

	if err := s.issues.UpdateStatus(ctx, issueID, status); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to update issue status")
	}
	s.logger.InfoContext(ctx, "issue status changed",
		"issue_id", issueID,
		"domain", issue.Domain,
		"from", issue.Status,
		"to", status,
	)

	issue.Status = status
	return issue, nil
}

// authorizeDomain hides other users' domains behind a not-found signal.
func (s *Service) authorizeDomain(ctx context.Context, userID id.UserID, domain string) error {
	if userID.IsNil() {
		return dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	owned, err := s.runs.DomainsForUser(ctx, userID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to list domains")
	}
	for _, d := range owned {
		if d == domain {
			return nil
		}
	}
	return dErrors.New(dErrors.CodeNotFound, "issue not found")
}
