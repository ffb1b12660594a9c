package saga

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"koi-auction/internal/domain"
)

type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string]*Run
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string]*Run)}
}

func (s *MemoryStore) SaveRun(_ context.Context, run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = run.Clone()
	return nil
}

func (s *MemoryStore) UpdateRun(_ context.Context, run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.runs[run.ID]
	if !ok {
		return fmt.Errorf("saga run %s: %w", run.ID, domain.ErrNotFound)
	}
	c := run.Clone()
	// events are owned by AppendEvent
	c.Events = existing.Events
	s.runs[run.ID] = c
	return nil
}

func (s *MemoryStore) AppendEvent(_ context.Context, runID string, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("saga run %s: %w", runID, domain.ErrNotFound)
	}
	run.Events = append(run.Events, event)
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("saga run %s: %w", id, domain.ErrNotFound)
	}
	return run.Clone(), nil
}

func (s *MemoryStore) ListRuns(_ context.Context, state State, limit int) ([]*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var runs []*Run
	for _, run := range s.runs {
		if state != "" && run.State != state {
			continue
		}
		runs = append(runs, run.Clone())
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}
