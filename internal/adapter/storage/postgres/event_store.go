package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"payment-orchestration-core/internal/core/domain"
	"payment-orchestration-core/internal/core/ports"
	"payment-orchestration-core/pkg/apperror"
)

// EventStore implements ports.EventStore on PostgreSQL. The table's
// (aggregate_id, version) unique constraint is the last line of defense
// for contiguity; the in-transaction check gives callers a precise error.
type EventStore struct {
	pool Pool
}

// NewEventStore creates a new EventStore.
func NewEventStore(pool Pool) *EventStore {
	return &EventStore{pool: pool}
}

const eventColumns = `event_id, event_type, aggregate_id, version, timestamp, payload`

// Append atomically appends the batch, rejecting non-contiguous versions.
func (s *EventStore) Append(ctx context.Context, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback(ctx)

	next := make(map[uuid.UUID]int64, 1)
	for _, e := range events {
		want, ok := next[e.AggregateID]
		if !ok {
			var current int64
			err := tx.QueryRow(ctx,
				`SELECT COALESCE(MAX(version), 0) FROM payment_events WHERE aggregate_id = $1`,
				e.AggregateID,
			).Scan(&current)
			if err != nil {
				return fmt.Errorf("read current version: %w", err)
			}
			want = current + 1
		}
		if e.Version != want {
			return apperror.ErrEventVersionMismatch(e.AggregateID.String(), want, e.Version)
		}
		next[e.AggregateID] = want + 1

		_, err := tx.Exec(ctx,
			`INSERT INTO payment_events (`+eventColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
			e.EventID, e.EventType, e.AggregateID, e.Version, e.Timestamp, e.Payload,
		)
		if err != nil {
			if isUniqueViolation(err) {
				// A concurrent writer claimed the version first.
				return apperror.ErrEventVersionMismatch(e.AggregateID.String(), want, e.Version)
			}
			return fmt.Errorf("insert event: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}
	return nil
}

// GetEvents returns an aggregate's full stream in version order.
func (s *EventStore) GetEvents(ctx context.Context, aggregateID uuid.UUID) ([]domain.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM payment_events
		WHERE aggregate_id = $1 ORDER BY version ASC`
	return s.queryEvents(ctx, query, aggregateID)
}

// GetEventsAfterVersion returns the stream suffix strictly after version.
func (s *EventStore) GetEventsAfterVersion(ctx context.Context, aggregateID uuid.UUID, version int64) ([]domain.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM payment_events
		WHERE aggregate_id = $1 AND version > $2 ORDER BY version ASC`
	return s.queryEvents(ctx, query, aggregateID, version)
}

// GetCurrentVersion returns the highest version, 0 for an empty stream.
func (s *EventStore) GetCurrentVersion(ctx context.Context, aggregateID uuid.UUID) (int64, error) {
	var version int64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM payment_events WHERE aggregate_id = $1`,
		aggregateID,
	).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("get current version: %w", err)
	}
	return version, nil
}

// GetEventsByType returns all events of one type across aggregates.
func (s *EventStore) GetEventsByType(ctx context.Context, eventType domain.EventType) ([]domain.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM payment_events
		WHERE event_type = $1 ORDER BY timestamp ASC`
	return s.queryEvents(ctx, query, eventType)
}

func (s *EventStore) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.EventID, &e.EventType, &e.AggregateID, &e.Version, &e.Timestamp, &e.Payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

var _ ports.EventStore = (*EventStore)(nil)
