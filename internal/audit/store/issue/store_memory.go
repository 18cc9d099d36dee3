package issue

import (
	"context"
	"sort"
	"sync"
	"time"

	"sitecheck/internal/audit/models"
	id "sitecheck/pkg/domain"
	"sitecheck/pkg/platform/sentinel"
)

// MemoryStore is the in-memory IssueStore used by unit tests and local
// development. It enforces the per-domain signature uniqueness the postgres
// schema guarantees with a constraint.
type MemoryStore struct {
	mu     sync.Mutex
	issues map[id.IssueID]*models.Issue
}

// NewMemory constructs an empty in-memory issue store.
func NewMemory() *MemoryStore {
	return &MemoryStore{issues: make(map[id.IssueID]*models.Issue)}
}

func (s *MemoryStore) ListByDomain(_ context.Context, domain string) ([]models.Issue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Issue
	for _, issue := range s.issues {
		if issue.Domain == domain {
			out = append(out, *issue)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) Get(_ context.Context, issueID id.IssueID) (*models.Issue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	issue, ok := s.issues[issueID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	clone := *issue
	return &clone, nil
}

func (s *MemoryStore) InsertBatch(_ context.Context, issues []*models.Issue) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, issue := range issues {
		if s.signatureExists(issue.Domain, issue.Signature) {
			continue
		}
		clone := *issue
		s.issues[issue.ID] = &clone
	}
	return nil
}

func (s *MemoryStore) signatureExists(domain, signature string) bool {
	for _, existing := range s.issues {
		if existing.Domain == domain && existing.Signature == signature {
			return true
		}
	}
	return false
}

func (s *MemoryStore) UpdateStatus(_ context.Context, issueID id.IssueID, status models.IssueStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	issue, ok := s.issues[issueID]
	if !ok {
		return sentinel.ErrNotFound
	}
	issue.Status = status
	issue.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) DeleteByDomain(_ context.Context, domain string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for issueID, issue := range s.issues {
		if issue.Domain == domain {
			delete(s.issues, issueID)
		}
	}
	return nil
}
