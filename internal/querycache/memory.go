package querycache

import (
	"context"
	"sync"
	"time"

	"koi-auction/internal/domain"
)

type memoryEntry struct {
	key       domain.QueryKey
	data      []byte
	stale     bool
	version   uint64
	updatedAt time.Time
}

type fetchGeneration struct {
	key domain.QueryKey
	n   uint64
}

type MemoryStore struct {
	mu          sync.Mutex
	entries     map[string]*memoryEntry
	generations map[string]*fetchGeneration
	now         func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries:     make(map[string]*memoryEntry),
		generations: make(map[string]*fetchGeneration),
		now:         time.Now,
	}
}

func (s *MemoryStore) Get(_ context.Context, key domain.QueryKey) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key.String()]
	if !ok {
		return Snapshot{Key: key}, nil
	}
	return s.snapshotLocked(e), nil
}

func (s *MemoryStore) Set(_ context.Context, key domain.QueryKey, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.writeLocked(key, data, false)
	return nil
}

func (s *MemoryStore) SetIfPresent(_ context.Context, key domain.QueryKey, data []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key.String()]
	if !ok {
		return false, nil
	}
	s.writeLocked(e.key, data, false)
	return true, nil
}

func (s *MemoryStore) Restore(_ context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !snap.Present {
		delete(s.entries, snap.Key.String())
		return nil
	}
	s.writeLocked(snap.Key, snap.Data, snap.Stale)
	return nil
}

func (s *MemoryStore) Invalidate(_ context.Context, prefix domain.QueryKey) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// A read that started before the invalidation must not land as fresh.
	for _, g := range s.generations {
		if g.key.HasPrefix(prefix) {
			g.n++
		}
	}

	changed := 0
	for _, e := range s.entries {
		if !e.key.HasPrefix(prefix) || e.stale {
			continue
		}
		e.stale = true
		changed++
	}
	return changed, nil
}

func (s *MemoryStore) CancelFetches(_ context.Context, key domain.QueryKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.generationLocked(key).n++
	return nil
}

func (s *MemoryStore) BeginFetch(_ context.Context, key domain.QueryKey) (FetchToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return FetchToken{Key: key, Generation: s.generationLocked(key).n}, nil
}

func (s *MemoryStore) CompleteFetch(_ context.Context, token FetchToken, data []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.generationLocked(token.Key).n != token.Generation {
		return false, nil
	}
	s.writeLocked(token.Key, data, false)
	return true, nil
}

func (s *MemoryStore) generationLocked(key domain.QueryKey) *fetchGeneration {
	id := key.String()
	g, ok := s.generations[id]
	if !ok {
		g = &fetchGeneration{key: append(domain.QueryKey(nil), key...)}
		s.generations[id] = g
	}
	return g
}

func (s *MemoryStore) writeLocked(key domain.QueryKey, data []byte, stale bool) {
	id := key.String()
	e, ok := s.entries[id]
	if !ok {
		e = &memoryEntry{key: append(domain.QueryKey(nil), key...)}
		s.entries[id] = e
	}
	e.data = append([]byte(nil), data...)
	e.stale = stale
	e.version++
	e.updatedAt = s.now()
}

func (s *MemoryStore) snapshotLocked(e *memoryEntry) Snapshot {
	return Snapshot{
		Key:       append(domain.QueryKey(nil), e.key...),
		Data:      append([]byte(nil), e.data...),
		Present:   true,
		Stale:     e.stale,
		Version:   e.version,
		UpdatedAt: e.updatedAt,
	}
}
