package ports

import (
	"context"
	"time"

	"github.com/google/uuid"

	"payment-orchestration-core/internal/core/domain"
)

// IdempotencyStore persists idempotency records. Get returns nil, nil for a
// missing (or expired) key. Put must be an atomic insert-if-absent for the
// scoped-key keyspace and fail with apperror.CodeDuplicateRecord when the
// key already exists.
type IdempotencyStore interface {
	Get(ctx context.Context, scopedKey string) (*domain.IdempotencyRecord, error)
	Put(ctx context.Context, record *domain.IdempotencyRecord) error
	// CAS replaces the record only while its stored status equals expected.
	// Returns false when the status moved underneath the caller.
	CAS(ctx context.Context, record *domain.IdempotencyRecord, expected domain.IdempotencyStatus) (bool, error)
	Delete(ctx context.Context, scopedKey string) error
	// ExpireBefore removes records whose expiry is before ts and reports
	// how many were removed.
	ExpireBefore(ctx context.Context, ts time.Time) (int, error)
}

// EventStore is the append-only log, partitioned by aggregate id.
// Append is atomic per call and rejects non-contiguous versions with
// apperror.CodeEventVersionMismatch.
type EventStore interface {
	Append(ctx context.Context, events []domain.Event) error
	GetEvents(ctx context.Context, aggregateID uuid.UUID) ([]domain.Event, error)
	GetEventsAfterVersion(ctx context.Context, aggregateID uuid.UUID, version int64) ([]domain.Event, error)
	GetCurrentVersion(ctx context.Context, aggregateID uuid.UUID) (int64, error)
	GetEventsByType(ctx context.Context, eventType domain.EventType) ([]domain.Event, error)
}

// PaymentRepository stores payment snapshots with optimistic locking.
// Update succeeds only when the stored version equals entity.Version-1;
// otherwise it fails with apperror.CodeOptimisticLock. FindByID returns
// nil, nil when absent.
type PaymentRepository interface {
	Insert(ctx context.Context, p domain.Payment) error
	Update(ctx context.Context, p domain.Payment) error
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error)
	FindByCustomer(ctx context.Context, customerID string) ([]domain.Payment, error)
	FindAll(ctx context.Context) ([]domain.Payment, error)
}

// Lease is a held named lock. It auto-expires at ExpiresAt.
type Lease struct {
	Name      string
	Owner     string
	ExpiresAt time.Time
}

// Remaining returns the lease time left at now.
func (l *Lease) Remaining(now time.Time) time.Duration {
	return l.ExpiresAt.Sub(now)
}

// LockManager provides named mutual-exclusion leases with TTL.
// Acquire returns nil, nil when the lock is held by someone else; callers
// poll. Release and Extend are owner-checked no-ops after expiry.
type LockManager interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (*Lease, error)
	Release(ctx context.Context, lease *Lease) error
	Extend(ctx context.Context, lease *Lease, ttl time.Duration) (*Lease, error)
}
