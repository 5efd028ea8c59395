// Package memory provides in-process implementations of the storage
// ports. They back single-node deployments and the integration tests.
package memory

import (
	"context"
	"sync"
	"time"

	"payment-orchestration-core/internal/core/domain"
	"payment-orchestration-core/internal/core/ports"
	"payment-orchestration-core/pkg/apperror"
)

// IdempotencyStore keeps idempotency records in a map. Expired records
// are dropped lazily on read and in bulk by ExpireBefore.
type IdempotencyStore struct {
	mu      sync.Mutex
	records map[string]*domain.IdempotencyRecord
	clock   ports.Clock
}

func NewIdempotencyStore(clock ports.Clock) *IdempotencyStore {
	if clock == nil {
		clock = ports.RealClock{}
	}
	return &IdempotencyStore{
		records: make(map[string]*domain.IdempotencyRecord),
		clock:   clock,
	}
}

func (s *IdempotencyStore) Get(_ context.Context, scopedKey string) (*domain.IdempotencyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[scopedKey]
	if !ok {
		return nil, nil
	}
	if record.IsExpired(s.clock.Now()) {
		delete(s.records, scopedKey)
		return nil, nil
	}
	cp := *record
	return &cp, nil
}

func (s *IdempotencyStore) Put(_ context.Context, record *domain.IdempotencyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.records[record.ScopedKey]; ok && !existing.IsExpired(s.clock.Now()) {
		return apperror.ErrDuplicateRecord(record.ScopedKey)
	}
	cp := *record
	s.records[record.ScopedKey] = &cp
	return nil
}

func (s *IdempotencyStore) CAS(_ context.Context, record *domain.IdempotencyRecord, expected domain.IdempotencyStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.records[record.ScopedKey]
	if !ok || current.IsExpired(s.clock.Now()) || current.Status != expected {
		return false, nil
	}
	cp := *record
	s.records[record.ScopedKey] = &cp
	return true, nil
}

func (s *IdempotencyStore) Delete(_ context.Context, scopedKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, scopedKey)
	return nil
}

func (s *IdempotencyStore) ExpireBefore(_ context.Context, ts time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, record := range s.records {
		if record.ExpiresAt.Before(ts) {
			delete(s.records, key)
			removed++
		}
	}
	return removed, nil
}

var _ ports.IdempotencyStore = (*IdempotencyStore)(nil)
