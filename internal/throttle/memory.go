package throttle

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{entries: make(map[string]time.Time), now: now}
}

func (s *MemoryStore) Until(_ context.Context, id string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.liveLocked(id, s.now()), nil
}

func (s *MemoryStore) Extend(_ context.Context, id string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	next := now.Add(ttl)
	if cur := s.liveLocked(id, now); cur.After(next) {
		return nil
	}
	s.entries[id] = next
	return nil
}

func (s *MemoryStore) Claim(_ context.Context, id string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if !s.liveLocked(id, now).IsZero() {
		return false, nil
	}
	s.entries[id] = now.Add(ttl)
	return true, nil
}

// Len counts live entries.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	n := 0
	for id := range s.entries {
		if !s.liveLocked(id, now).IsZero() {
			n++
		}
	}
	return n
}

func (s *MemoryStore) liveLocked(id string, now time.Time) time.Time {
	until, ok := s.entries[id]
	if !ok {
		return time.Time{}
	}
	if !until.After(now) {
		delete(s.entries, id)
		return time.Time{}
	}
	return until
}
