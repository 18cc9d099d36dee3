// Package ports defines the store and collaborator interfaces the audit
// services depend on. Implementations live under internal/audit/store and
// internal/{crawler,llm,events}.
package ports

import (
	"context"
	"time"

	"sitecheck/internal/audit/models"
	id "sitecheck/pkg/domain"
)

// RunStore persists audit runs.
type RunStore interface {
	// Create inserts a pending run.
	Create(ctx context.Context, run *models.AuditRun) error

	// Get returns a run by id, or sentinel.ErrNotFound.
	Get(ctx context.Context, runID id.RunID) (*models.AuditRun, error)

	// Finalize transitions a pending run to a terminal status. The write is
	// conditional on status still being pending so a run is finalized at most
	// once; a second writer gets sentinel.ErrInvalidState.
	Finalize(ctx context.Context, runID id.RunID, status models.RunStatus, pagesScanned int, payload *models.ResultPayload, finishedAt time.Time) error

	// Claim transfers the anonymous run matching sessionToken to userID as a
	// single conditional write. Losers of the race and unknown tokens get
	// sentinel.ErrNotFound.
	Claim(ctx context.Context, sessionToken string, userID id.UserID) (*models.AuditRun, error)

	// DomainsForUser returns the distinct domains the user has audited.
	DomainsForUser(ctx context.Context, userID id.UserID) ([]string, error)

	// DeleteByDomain removes a user's runs for one domain.
	DeleteByDomain(ctx context.Context, userID id.UserID, domain string) error
}

// IssueStore persists the per-domain issue history.
type IssueStore interface {
	// ListByDomain returns the domain's issue history, newest first.
	ListByDomain(ctx context.Context, domain string) ([]models.Issue, error)

	// Get returns an issue by id, or sentinel.ErrNotFound.
	Get(ctx context.Context, issueID id.IssueID) (*models.Issue, error)

	// InsertBatch inserts new issues. A signature collision within the domain
	// is skipped, never duplicated.
	InsertBatch(ctx context.Context, issues []*models.Issue) error

	// UpdateStatus sets an issue's status. Idempotent.
	UpdateStatus(ctx context.Context, issueID id.IssueID, status models.IssueStatus) error

	// DeleteByDomain removes a domain's issue history.
	DeleteByDomain(ctx context.Context, domain string) error
}

// UsageStore persists per (user, domain, day) audit counters.
type UsageStore interface {
	// Count returns the day's audit count for the key.
	Count(ctx context.Context, userID id.UserID, domain string, day time.Time) (int, error)

	// Increment bumps the day's counter, creating it at 1 if absent.
	Increment(ctx context.Context, userID id.UserID, domain string, day time.Time) error

	// DeleteByDomain removes a user's counters for one domain.
	DeleteByDomain(ctx context.Context, userID id.UserID, domain string) error
}

// ProfileStore resolves a user's plan. Read fresh per request; no cache is
// required for correctness.
type ProfileStore interface {
	// GetPlan returns the user's tier, defaulting to FREE for unknown users.
	GetPlan(ctx context.Context, userID id.UserID) (models.Tier, error)
}

// EventPublisher emits best-effort telemetry events. Implementations must
// never block request handling on broker availability.
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, attrs map[string]any)
}
