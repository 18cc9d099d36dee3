package usage

import (
	"context"
	"sync"
	"time"

	id "sitecheck/pkg/domain"
)

type counterKey struct {
	userID id.UserID
	domain string
	day    string
}

// MemoryStore is the in-memory UsageStore used by unit tests and local
// development. Counters roll over naturally because the day is part of the
// key.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[counterKey]int
}

// NewMemory constructs an empty in-memory usage store.
func NewMemory() *MemoryStore {
	return &MemoryStore{counters: make(map[counterKey]int)}
}

func key(userID id.UserID, domain string, day time.Time) counterKey {
	return counterKey{userID: userID, domain: domain, day: day.UTC().Format("2006-01-02")}
}

func (s *MemoryStore) Count(_ context.Context, userID id.UserID, domain string, day time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[key(userID, domain, day)], nil
}

func (s *MemoryStore) Increment(_ context.Context, userID id.UserID, domain string, day time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[key(userID, domain, day)]++
	return nil
}

func (s *MemoryStore) DeleteByDomain(_ context.Context, userID id.UserID, domain string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.counters {
		if k.userID == userID && k.domain == domain {
			delete(s.counters, k)
		}
	}
	return nil
}
