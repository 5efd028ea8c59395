package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"payment-orchestration-core/internal/core/domain"
	"payment-orchestration-core/pkg/apperror"
)

func testMethod() domain.PaymentMethod {
	return domain.PaymentMethod{
		Type: domain.MethodCard,
		Card: &domain.CardDetails{Last4: "4242", Network: "visa", ExpiryMonth: 12, ExpiryYear: 2030, Token: "tok_abc"},
	}
}

func testPayment(t *testing.T) domain.Payment {
	t.Helper()
	amount, err := domain.NewMoney(10000, "USD")
	require.NoError(t, err)
	p, err := domain.NewPayment("k1", "m1", "c1", amount, testMethod(), map[string]string{"order": "o1"}, time.Now().UTC())
	require.NoError(t, err)
	return p
}

// fakeEventStore is an in-memory append-only log with the same
// contiguity contract as the real stores.
type fakeEventStore struct {
	mu      sync.Mutex
	streams map[uuid.UUID][]domain.Event
}

func newFakeEventStore() *fakeEventStore {
	return &fakeEventStore{streams: make(map[uuid.UUID][]domain.Event)}
}

func (s *fakeEventStore) Append(_ context.Context, events []domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range events {
		stream := s.streams[e.AggregateID]
		want := int64(len(stream)) + 1
		if e.Version != want {
			return apperror.ErrEventVersionMismatch(e.AggregateID.String(), want, e.Version)
		}
		s.streams[e.AggregateID] = append(stream, e)
	}
	return nil
}

func (s *fakeEventStore) GetEvents(_ context.Context, aggregateID uuid.UUID) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stream := s.streams[aggregateID]
	out := make([]domain.Event, len(stream))
	copy(out, stream)
	return out, nil
}

func (s *fakeEventStore) GetEventsAfterVersion(_ context.Context, aggregateID uuid.UUID, version int64) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Event
	for _, e := range s.streams[aggregateID] {
		if e.Version > version {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *fakeEventStore) GetCurrentVersion(_ context.Context, aggregateID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.streams[aggregateID])), nil
}

func (s *fakeEventStore) GetEventsByType(_ context.Context, eventType domain.EventType) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
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

// eventTypes flattens a stream's types for assertions.
func eventTypes(events []domain.Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = string(e.EventType)
	}
	return out
}

