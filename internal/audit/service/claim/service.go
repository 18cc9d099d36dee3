// Package claim transfers ownership of an anonymous run to an authenticated
// user. Correctness rests on the store's conditional write, not on any
// in-process lock, so concurrent claims across instances stay safe.
package claim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"sitecheck/internal/audit/metrics"
	"sitecheck/internal/audit/models"
	"sitecheck/internal/audit/ports"
	id "sitecheck/pkg/domain"
	dErrors "sitecheck/pkg/domain-errors"
	"sitecheck/pkg/platform/sentinel"
)

// Service performs the anonymous-to-authenticated ownership transfer.
type Service struct {
	runs    ports.RunStore
	events  ports.EventPublisher
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

// WithEvents sets the telemetry publisher.
func WithEvents(events ports.EventPublisher) Option {
	return func(s *Service) { s.events = events }
}

// New constructs the claim service.
func New(runs ports.RunStore, opts ...Option) (*Service, error) {
	if runs == nil {
		return nil, fmt.Errorf("run store is required")
	}
	s := &Service{
		runs:   runs,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Claim transfers the anonymous run matching sessionToken to userID via a
// single conditional write. At most one concurrent claimant wins; everyone
// else gets not-found, so an already-claimed run is indistinguishable from
// one that never existed and the endpoint never reveals another user's run.
func (s *Service) Claim(ctx context.Context, userID id.UserID, sessionToken string) (*models.AuditRun, error) {
	if userID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	if sessionToken == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "session_token is required")
	}

	run, err := s.runs.Claim(ctx, sessionToken, userID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			s.outcome("not_found")
			return nil, err
		}
		s.outcome("error")
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to claim audit run")
	}

	s.outcome("claimed")
	s.logger.InfoContext(ctx, "audit run claimed",
		"run_id", run.ID,
		"domain", run.Domain,
		"user_id", userID,
	)
	if s.events != nil {
		s.events.Publish(ctx, "audit.claimed", map[string]any{
			"run_id": run.ID.String(),
			"domain": run.Domain,
		})
	}
	return run, nil
}

func (s *Service) outcome(label string) {
	if s.metrics != nil {
		s.metrics.ClaimOutcomes.WithLabelValues(label).Inc()
	}
}
