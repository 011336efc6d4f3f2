package dedup

import (
	"context"
	"sync"
	"time"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps notified keys in a mutex-guarded map. The mutex is not
// optional: MarkNotified is called from the notification worker pool while
// the poll loop reads and reconciles between cycles.
type MemoryStore struct {
	mu       sync.Mutex
	notified map[string]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{notified: make(map[string]time.Time)}
}

func (s *MemoryStore) IsNew(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.notified[key]
	return !ok, nil
}

func (s *MemoryStore) MarkNotified(_ context.Context, key string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.notified[key] = at
	return nil
}

func (s *MemoryStore) Reconcile(_ context.Context, current map[string]struct{}) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for key := range s.notified {
		if _, ok := current[key]; !ok {
			delete(s.notified, key)
			evicted++
		}
	}
	return evicted, nil
}
