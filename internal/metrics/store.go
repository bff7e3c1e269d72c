package metrics

import (
	"sync"
	"time"

	"netwarden/internal/window"
)

// Store keeps the latest window verdict per entity for reporting.
type Store struct {
	mu        sync.RWMutex
	byEntity  map[string]window.Verdict
	updatedAt map[string]time.Time
	limit     int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 5000
	}
	return &Store{
		byEntity:  make(map[string]window.Verdict),
		updatedAt: make(map[string]time.Time),
		limit:     limit,
	}
}

func (s *Store) Update(entity string, v window.Verdict, at time.Time) {
	if entity == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byEntity[entity] = v
	s.updatedAt[entity] = at
	if len(s.byEntity) > s.limit {
		s.evictOldest()
	}
}

func (s *Store) Get(entity string) (window.Verdict, time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.byEntity[entity]
	if !ok {
		return window.Verdict{}, time.Time{}, false
	}
	return v, s.updatedAt[entity], true
}

func (s *Store) GetAll() map[string]window.Verdict {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]window.Verdict, len(s.byEntity))
	for entity, v := range s.byEntity {
		out[entity] = v
	}
	return out
}

// Forget drops entities not updated since cutoff and returns how many.
func (s *Store) Forget(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stale []string
	for entity, ts := range s.updatedAt {
		if ts.Before(cutoff) {
			stale = append(stale, entity)
		}
	}
	for _, entity := range stale {
		delete(s.byEntity, entity)
		delete(s.updatedAt, entity)
	}
	return len(stale)
}

func (s *Store) evictOldest() {
	var oldestEntity string
	var oldest time.Time
	for entity, ts := range s.updatedAt {
		if oldestEntity == "" || ts.Before(oldest) {
			oldestEntity = entity
			oldest = ts
		}
	}
	if oldestEntity != "" {
		delete(s.byEntity, oldestEntity)
		delete(s.updatedAt, oldestEntity)
	}
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byEntity)
}
