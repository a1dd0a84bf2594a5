package cache

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/krishamaze/arin-bot-v2/pkg/models"
)

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu      sync.Mutex
	handles map[string]models.CacheHandle
	hits    atomic.Int64
	misses  atomic.Int64
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{handles: make(map[string]models.CacheHandle)}
}

func (s *MemoryStore) Get(key string, now time.Time) (*models.CacheHandle, bool) {
	s.mu.Lock()
	h, ok := s.handles[key]
	s.mu.Unlock()
	if !ok || h.Expired(now) {
		s.misses.Add(1)
		return nil, false
	}
	s.hits.Add(1)
	return &h, true
}

func (s *MemoryStore) Put(h *models.CacheHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handles[h.Key] = *h
	return nil
}

func (s *MemoryStore) Invalidate(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.handles, key)
	return nil
}

func (s *MemoryStore) Prune(now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, h := range s.handles {
		if h.Expired(now) {
			delete(s.handles, k)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Stats() (models.CacheStats, error) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := models.CacheStats{
		Entries: int64(len(s.handles)),
		Hits:    s.hits.Load(),
		Misses:  s.misses.Load(),
	}
	for _, h := range s.handles {
		if h.Expired(now) {
			stats.Expired++
		}
	}
	return stats, nil
}
