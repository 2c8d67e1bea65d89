package report

import (
	"context"
	"sort"
	"sync"

	"claimgate/internal/decision"
	"claimgate/pkg/domain"
	"claimgate/pkg/platform/sentinel"
)

// InMemory is the test and local-development store.
type InMemory struct {
	mu      sync.RWMutex
	byID    map[domain.ReportID]*decision.Report
	byClaim map[domain.ClaimID][]*decision.Report
}

func NewInMemory() *InMemory {
	return &InMemory{
		byID:    make(map[domain.ReportID]*decision.Report),
		byClaim: make(map[domain.ClaimID][]*decision.Report),
	}
}

func (s *InMemory) Save(_ context.Context, r *decision.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[r.ReportID]; ok {
		return sentinel.ErrConflict
	}
	cp := *r
	s.byID[r.ReportID] = &cp
	s.byClaim[r.ClaimID] = append(s.byClaim[r.ClaimID], &cp)
	return nil
}

func (s *InMemory) ByID(_ context.Context, id domain.ReportID) (*decision.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.byID[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *InMemory) LatestByClaim(_ context.Context, claimID domain.ClaimID) (*decision.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	reports := s.byClaim[claimID]
	if len(reports) == 0 {
		return nil, sentinel.ErrNotFound
	}
	latest := reports[0]
	for _, r := range reports[1:] {
		if r.CreatedAt.After(latest.CreatedAt) {
			latest = r
		}
	}
	cp := *latest
	return &cp, nil
}

func (s *InMemory) ListByQueue(_ context.Context, queue decision.Queue, limit int) ([]*decision.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*decision.Report
	for _, r := range s.byID {
		if r.Queue == queue {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
