package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/nicolRB/LogWare/pkg/report"
)

// MemoryStore is an in-process report.Repository. The status guard and the
// mutation run under one lock.
type MemoryStore struct {
	mu      sync.RWMutex
	reports map[string]report.Report
	order   map[string]uint64
	seq     uint64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		reports: make(map[string]report.Report),
		order:   make(map[string]uint64),
	}
}

func (s *MemoryStore) Create(_ context.Context, r report.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.reports[r.ID]; exists {
		return fmt.Errorf("report %s already exists", r.ID)
	}
	s.seq++
	s.reports[r.ID] = r.Clone()
	s.order[r.ID] = s.seq
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (report.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.reports[id]
	if !ok {
		return report.Report{}, report.NotFound(id)
	}
	return r.Clone(), nil
}

func (s *MemoryStore) ListByStatus(_ context.Context, status report.Status) ([]report.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]report.Report, 0)
	for _, r := range s.reports {
		if r.Status == status {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return s.order[out[i].ID] < s.order[out[j].ID]
	})
	return out, nil
}

func (s *MemoryStore) Transition(_ context.Context, id string, change report.Change) (report.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reports[id]
	if !ok {
		return report.Report{}, report.NotFound(id)
	}
	if r.Status != change.From {
		return report.Report{}, report.InvalidTransition(id, r.Status, change.Transition)
	}
	change.Apply(&r)
	s.reports[id] = r
	return r.Clone(), nil
}
