package run

import (
	"context"
	"sync"
	"time"

	"sitecheck/internal/audit/models"
	id "sitecheck/pkg/domain"
	"sitecheck/pkg/platform/sentinel"
)

// MemoryStore is the in-memory RunStore used by unit tests and local
// development. Claim and Finalize mirror the conditional-write semantics of
// the postgres store so race tests are meaningful.
type MemoryStore struct {
	mu   sync.Mutex
	runs map[id.RunID]*models.AuditRun
}

// NewMemory constructs an empty in-memory run store.
func NewMemory() *MemoryStore {
	return &MemoryStore{runs: make(map[id.RunID]*models.AuditRun)}
}

func (s *MemoryStore) Create(_ context.Context, run *models.AuditRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[run.ID]; exists {
		return sentinel.ErrConflict
	}
	clone := *run
	s.runs[run.ID] = &clone
	return nil
}

func (s *MemoryStore) Get(_ context.Context, runID id.RunID) (*models.AuditRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	clone := *run
	return &clone, nil
}

func (s *MemoryStore) Finalize(_ context.Context, runID id.RunID, status models.RunStatus, pagesScanned int, payload *models.ResultPayload, finishedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if !run.Status.CanTransitionTo(status) {
		return sentinel.ErrInvalidState
	}
	run.Status = status
	run.PagesScanned = pagesScanned
	run.Result = payload
	run.FinishedAt = &finishedAt
	return nil
}

func (s *MemoryStore) Claim(_ context.Context, sessionToken string, userID id.UserID) (*models.AuditRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, run := range s.runs {
		if run.SessionToken == sessionToken && run.UserID.IsNil() {
			run.UserID = userID
			run.SessionToken = ""
			run.IsPreview = false
			clone := *run
			return &clone, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *MemoryStore) DomainsForUser(_ context.Context, userID id.UserID) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool)
	var domains []string
	for _, run := range s.runs {
		if run.UserID == userID && !seen[run.Domain] {
			seen[run.Domain] = true
			domains = append(domains, run.Domain)
		}
	}
	return domains, nil
}

func (s *MemoryStore) DeleteByDomain(_ context.Context, userID id.UserID, domain string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for runID, run := range s.runs {
		if run.UserID == userID && run.Domain == domain {
			delete(s.runs, runID)
		}
	}
	return nil
}
