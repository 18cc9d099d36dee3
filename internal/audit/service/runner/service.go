// Package runner owns the run lifecycle: the pending row is created and its
// id returned synchronously, the crawl and analysis happen on a detached
// goroutine, and exactly one writer finalizes the row to completed or failed.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"sitecheck/internal/audit/metrics"
	"sitecheck/internal/audit/models"
	"sitecheck/internal/audit/ports"
	"sitecheck/internal/audit/service/analyzer"
	"sitecheck/internal/audit/service/dedup"
	"sitecheck/internal/audit/service/quota"
	"sitecheck/internal/platform/redis"
	id "sitecheck/pkg/domain"
	dErrors "sitecheck/pkg/domain-errors"
	"sitecheck/pkg/platform/sentinel"
)

const (
	// finalizeLockTTL bounds how long a crashed holder can block others.
	finalizeLockTTL = 30 * time.Second
	// finalizeLockWait is how long a run waits for the merge lock before
	// proceeding anyway; the lock is an optimization, not a requirement.
	finalizeLockWait = 10 * time.Second
)

// PageSelector produces the bounded URL set for one run.
type PageSelector interface {
	Select(ctx context.Context, domain string, tier models.Tier) []string
}

// Auditor executes the tier's analysis tasks over a URL set.
type Auditor interface {
	Run(ctx context.Context, domain string, tier models.Tier, urls []string, issueCtx analyzer.IssueContext) (*analyzer.Result, error)
}

// Deduplicator reconciles raw findings against the domain's issue history.
type Deduplicator interface {
	IssueContext(ctx context.Context, domain string) (excluded, active []string, err error)
	Reconcile(ctx context.Context, run *models.AuditRun, findings []models.Finding) (*dedup.Outcome, error)
}

// Service is the run lifecycle manager.
type Service struct {
	runs     ports.RunStore
	usage    ports.UsageStore
	profiles ports.ProfileStore
	quota    *quota.Service
	pages    PageSelector
	auditor  Auditor
	dedup    Deduplicator

	events  ports.EventPublisher
	locks   *redis.Client
	logger  *slog.Logger
	metrics *metrics.Metrics

	background sync.WaitGroup
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

// WithLocks sets the redis client backing the finalize-and-merge lock. A nil
// client disables locking.
func WithLocks(locks *redis.Client) Option {
	return func(s *Service) { s.locks = locks }
}

// New constructs the lifecycle manager.
func New(
	runs ports.RunStore,
	usage ports.UsageStore,
	profiles ports.ProfileStore,
	quotaGuard *quota.Service,
	pages PageSelector,
	auditor Auditor,
	deduper Deduplicator,
	opts ...Option,
) (*Service, error) {
	if runs == nil {
		return nil, fmt.Errorf("run store is required")
	}
	if usage == nil {
		return nil, fmt.Errorf("usage store is required")
	}
	if profiles == nil {
		return nil, fmt.Errorf("profile store is required")
	}
	if quotaGuard == nil {
		return nil, fmt.Errorf("quota guard is required")
	}
	if pages == nil {
		return nil, fmt.Errorf("page selector is required")
	}
	if auditor == nil {
		return nil, fmt.Errorf("auditor is required")
	}
	if deduper == nil {
		return nil, fmt.Errorf("deduplicator is required")
	}

	s := &Service{
		runs:     runs,
		usage:    usage,
		profiles: profiles,
		quota:    quotaGuard,
		pages:    pages,
		auditor:  auditor,
		dedup:    deduper,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start validates quota, persists the pending run and dispatches the
// background work. It returns as soon as the row exists; the caller never
// waits on the audit itself. Anonymous owners skip the quota guard and run
// on the free tier.
func (s *Service) Start(ctx context.Context, owner models.Owner, domain string) (*models.AuditRun, error) {
	tier := models.TierFree
	if !owner.IsAnonymous() {
		var err error
		tier, err = s.profiles.GetPlan(ctx, owner.UserID)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve plan")
		}

		decision, err := s.quota.CheckDomainAllowance(ctx, owner.UserID, domain, tier)
		if err != nil {
			return nil, err
		}
		if !decision.Allowed {
			return nil, quota.Deny(decision, "domain limit reached for your plan")
		}

		decision, err = s.quota.CheckDailyLimit(ctx, owner.UserID, domain, tier)
		if err != nil {
			return nil, err
		}
		if !decision.Allowed {
			return nil, quota.Deny(decision, "daily audit limit reached for this domain")
		}
	}

	run, err := models.NewAuditRun(owner, domain, tier)
	if err != nil {
		return nil, err
	}
	if err := s.runs.Create(ctx, run); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create audit run")
	}

	if s.metrics != nil {
		s.metrics.RunsStarted.WithLabelValues(string(tier)).Inc()
	}
	s.logger.InfoContext(ctx, "audit run started",
		"run_id", run.ID,
		"domain", run.Domain,
		"tier", run.Tier,
		"anonymous", owner.IsAnonymous(),
	)

	// Detach from the request: its cancellation must not abort the run, but
	// request-scoped values stay visible to downstream logging.
	s.background.Add(1)
	go s.execute(context.WithoutCancel(ctx), run)

	return run, nil
}

// Get returns a run visible to the given owner. A run belonging to someone
// else is indistinguishable from a missing one.
func (s *Service) Get(ctx context.Context, runID id.RunID, owner models.Owner) (*models.AuditRun, error) {
	run, err := s.runs.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !run.UserID.IsNil() {
		if run.UserID != owner.UserID {
			return nil, sentinel.ErrNotFound
		}
		return run, nil
	}
	if owner.SessionToken == "" || run.SessionToken != owner.SessionToken {
		return nil, sentinel.ErrNotFound
	}
	return run, nil
}

// Wait blocks until all dispatched runs have finalized. Used by graceful
// shutdown and tests.
func (s *Service) Wait() {
	s.background.Wait()
}

// execute is the detached background task owning one run's finalization.
func (s *Service) execute(ctx context.Context, run *models.AuditRun) {
	defer s.background.Done()

	ctx, cancel := context.WithTimeout(ctx, run.Tier.Limits().Deadline)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			s.logger.ErrorContext(ctx, "audit run panicked",
				"run_id", run.ID,
				"panic", r,
			)
			s.finalize(ctx, run, models.RunFailed, 0, &models.ResultPayload{Error: "internal error"})
		}
	}()

	urls := s.pages.Select(ctx, run.Domain, run.Tier)

	excluded, active, err := s.dedup.IssueContext(ctx, run.Domain)
	if err != nil {
		// Missing context degrades dedup quality, not correctness; the
		// signature match at reconcile time still applies.
		s.logger.WarnContext(ctx, "issue context unavailable",
			"run_id", run.ID,
			"error", err,
		)
	}

	result, err := s.auditor.Run(ctx, run.Domain, run.Tier, urls, analyzer.IssueContext{
		Excluded: excluded,
		Active:   active,
	})
	if err != nil {
		// The raw error stays in the logs; pollers only see a sanitized
		// message.
		s.logger.ErrorContext(ctx, "audit analysis failed",
			"run_id", run.ID,
			"domain", run.Domain,
			"error", err,
		)
		payload := &models.ResultPayload{Error: "analysis failed due to an upstream error"}
		if errors.Is(err, sentinel.ErrBlocked) {
			payload.Error = "site protection blocked the analysis"
			payload.Blocked = true
		}
		s.finalize(ctx, run, models.RunFailed, 0, payload)
		return
	}

	// Serialize concurrent audits of the same domain at the merge step so
	// they cannot double-insert; proceeding without the lock is safe, the
	// store's signature uniqueness is the hard backstop.
	lock := s.locks.NewLock(lockKey(run), finalizeLockTTL)
	if !lock.Acquire(ctx, finalizeLockWait) {
		s.logger.WarnContext(ctx, "finalize lock not acquired, proceeding",
			"run_id", run.ID,
			"domain", run.Domain,
		)
	}
	defer lock.Release(ctx)

	outcome, err := s.dedup.Reconcile(ctx, run, result.Findings)
	if err != nil {
		s.logger.ErrorContext(ctx, "issue reconciliation failed",
			"run_id", run.ID,
			"domain", run.Domain,
			"error", err,
		)
		s.finalize(ctx, run, models.RunFailed, result.PagesScanned, &models.ResultPayload{Error: "internal error"})
		return
	}

	s.finalize(ctx, run, models.RunCompleted, result.PagesScanned, &models.ResultPayload{
		Issues:      outcome.Issues,
		AuditedURLs: result.AuditedURLs,
	})
	s.afterCompletion(ctx, run, result, len(outcome.Inserted))
}

// finalize performs the single terminal write and emits the run-finished
// telemetry. Losing the single-writer race is logged, never retried.
func (s *Service) finalize(ctx context.Context, run *models.AuditRun, status models.RunStatus, pagesScanned int, payload *models.ResultPayload) {
	// Finalization must survive a deadline that expired mid-run.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	err := s.runs.Finalize(writeCtx, run.ID, status, pagesScanned, payload, time.Now().UTC())
	switch {
	case errors.Is(err, sentinel.ErrInvalidState):
		s.logger.WarnContext(ctx, "run already finalized",
			"run_id", run.ID,
			"status", status,
		)
		return
	case err != nil:
		s.logger.ErrorContext(ctx, "failed to finalize run",
			"run_id", run.ID,
			"status", status,
			"error", err,
		)
		return
	}

	if s.metrics != nil {
		s.metrics.RunsFinished.WithLabelValues(string(status), string(run.Tier)).Inc()
	}
	s.logger.InfoContext(ctx, "audit run finished",
		"run_id", run.ID,
		"domain", run.Domain,
		"status", status,
		"pages_scanned", pagesScanned,
	)

	if s.events != nil && status == models.RunFailed {
		s.events.Publish(ctx, "audit.failed", map[string]any{
			"run_id": run.ID.String(),
			"domain": run.Domain,
			"tier":   string(run.Tier),
			"error":  payload.Error,
		})
	}
}

// afterCompletion runs the best-effort side effects of a successful run.
// Their failure is logged and never flips the run to failed.
func (s *Service) afterCompletion(ctx context.Context, run *models.AuditRun, result *analyzer.Result, inserted int) {
	if !run.UserID.IsNil() {
		if err := s.usage.Increment(ctx, run.UserID, run.Domain, time.Now().UTC()); err != nil {
			s.logger.WarnContext(ctx, "failed to increment usage counter",
				"run_id", run.ID,
				"domain", run.Domain,
				"error", err,
			)
		}
	}

	if s.metrics != nil {
		s.metrics.PagesScanned.Observe(float64(result.PagesScanned))
	}
	if s.events != nil {
		s.events.Publish(ctx, "audit.completed", map[string]any{
			"run_id":        run.ID.String(),
			"domain":        run.Domain,
			"tier":          string(run.Tier),
			"pages_scanned": result.PagesScanned,
			"new_issues":    inserted,
		})
	}
}

func lockKey(run *models.AuditRun) string {
	owner := run.SessionToken
	if !run.UserID.IsNil() {
		owner = run.UserID.String()
	}
	return "audit:finalize:" + owner + ":" + run.Domain
}
