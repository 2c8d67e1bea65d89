// Package memory holds the in-memory audit store used by tests and local
// development.
package memory

import (
	"context"
	"sync"

	"claimgate/internal/audit"
	"claimgate/pkg/domain"
	"claimgate/pkg/platform/sentinel"
)

type Store struct {
	mu     sync.RWMutex
	events []audit.Event
	bySeq  map[uint64]struct{}
}

func NewStore() *Store {
	return &Store{bySeq: make(map[uint64]struct{})}
}

func (s *Store) Append(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bySeq[event.Sequence]; ok {
		return sentinel.ErrConflict
	}
	s.events = append(s.events, event)
	s.bySeq[event.Sequence] = struct{}{}
	return nil
}

func (s *Store) Last(_ context.Context) (*audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.events) == 0 {
		return nil, sentinel.ErrNotFound
	}
	last := s.events[len(s.events)-1]
	return &last, nil
}

func (s *Store) Range(_ context.Context, from, to uint64) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []audit.Event
	for _, e := range s.events {
		if e.Sequence >= from && e.Sequence <= to {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) ByClaim(_ context.Context, claimID domain.ClaimID) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []audit.Event
	for _, e := range s.events {
		if e.ClaimID == claimID {
			out = append(out, e)
		}
	}
	return out, nil
}
