package profile

import (
	"context"
	"sync"

	"sitecheck/internal/audit/models"
	id "sitecheck/pkg/domain"
)

// MemoryStore is the in-memory ProfileStore used by unit tests.
type MemoryStore struct {
	mu    sync.RWMutex
	plans map[id.UserID]models.Tier
}

// NewMemory constructs an empty in-memory profile store.
func NewMemory() *MemoryStore {
	return &MemoryStore{plans: make(map[id.UserID]models.Tier)}
}

// SetPlan records a user's plan. Test helper standing in for the billing flow.
func (s *MemoryStore) SetPlan(userID id.UserID, tier models.Tier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans[userID] = tier
}

func (s *MemoryStore) GetPlan(_ context.Context, userID id.UserID) (models.Tier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if tier, ok := s.plans[userID]; ok {
		return tier, nil
	}
	return models.TierFree, nil
}
