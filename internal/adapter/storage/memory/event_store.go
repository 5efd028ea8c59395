package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"payment-orchestration-core/internal/core/domain"
	"payment-orchestration-core/internal/core/ports"
	"payment-orchestration-core/pkg/apperror"
)

// EventStore is an append-only in-process event log partitioned by
// aggregate. Appends enforce version contiguity atomically per call.
type EventStore struct {
	mu      sync.RWMutex
	streams map[uuid.UUID][]domain.Event
}

func NewEventStore() *EventStore {
	return &EventStore{streams: make(map[uuid.UUID][]domain.Event)}
}

func (s *EventStore) Append(_ context.Context, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	// Validate the whole batch before touching any stream so a rejected
	// append leaves nothing behind.
	next := make(map[uuid.UUID]int64, len(events))
	for _, e := range events {
		want, ok := next[e.AggregateID]
		if !ok {
			want = int64(len(s.streams[e.AggregateID])) + 1
		}
		if e.Version != want {
			return apperror.ErrEventVersionMismatch(e.AggregateID.String(), want, e.Version)
		}
		next[e.AggregateID] = want + 1
	}
	for _, e := range events {
		s.streams[e.AggregateID] = append(s.streams[e.AggregateID], e)
	}
	return nil
}

func (s *EventStore) GetEvents(_ context.Context, aggregateID uuid.UUID) ([]domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stream := s.streams[aggregateID]
	out := make([]domain.Event, len(stream))
	copy(out, stream)
	return out, nil
}

func (s *EventStore) GetEventsAfterVersion(_ context.Context, aggregateID uuid.UUID, version int64) ([]domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Event
	for _, e := range s.streams[aggregateID] {
		if e.Version > version {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *EventStore) GetCurrentVersion(_ context.Context, aggregateID uuid.UUID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.streams[aggregateID])), nil
}

func (s *EventStore) GetEventsByType(_ context.Context, eventType domain.EventType) ([]domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Event
	for _, stream := range s.streams {
		for _, e := range stream {
			if e.EventType == eventType {
				out = append(out, e)
			}
		}
	}
	return out, nil
}

var _ ports.EventStore = (*EventStore)(nil)
