package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"payment-orchestration-core/internal/core/domain"
	"payment-orchestration-core/internal/core/ports"
	"payment-orchestration-core/pkg/apperror"
)

// IdempotencyStore implements ports.IdempotencyStore on PostgreSQL.
type IdempotencyStore struct {
	pool  Pool
	clock ports.Clock
}

// NewIdempotencyStore creates a new IdempotencyStore.
func NewIdempotencyStore(pool Pool, clock ports.Clock) *IdempotencyStore {
	if clock == nil {
		clock = ports.RealClock{}
	}
	return &IdempotencyStore{pool: pool, clock: clock}
}

const idempotencyColumns = `scoped_key, fingerprint, status, result, error_code, error_message, created_at, expires_at`

// Get fetches a live record by scoped key. Expired rows are invisible.
func (s *IdempotencyStore) Get(ctx context.Context, scopedKey string) (*domain.IdempotencyRecord, error) {
	query := `SELECT ` + idempotencyColumns + ` FROM idempotency_records
		WHERE scoped_key = $1 AND expires_at > $2`

	record := &domain.IdempotencyRecord{}
	err := s.pool.QueryRow(ctx, query, scopedKey, s.clock.Now()).Scan(
		&record.ScopedKey, &record.Fingerprint, &record.Status, &record.Result,
		&record.ErrorCode, &record.ErrorMessage, &record.CreatedAt, &record.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get idempotency record: %w", err)
	}
	return record, nil
}

// Put inserts the record if its key is absent or only held by an expired
// row. A live duplicate fails with CodeDuplicateRecord.
func (s *IdempotencyStore) Put(ctx context.Context, record *domain.IdempotencyRecord) error {
	query := `INSERT INTO idempotency_records (` + idempotencyColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (scoped_key) DO UPDATE SET
			fingerprint = EXCLUDED.fingerprint,
			status = EXCLUDED.status,
			result = EXCLUDED.result,
			error_code = EXCLUDED.error_code,
			error_message = EXCLUDED.error_message,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at
		WHERE idempotency_records.expires_at <= $9`

	tag, err := s.pool.Exec(ctx, query,
		record.ScopedKey, record.Fingerprint, record.Status, record.Result,
		record.ErrorCode, record.ErrorMessage, record.CreatedAt, record.ExpiresAt,
		s.clock.Now(),
	)
	if err != nil {
		return fmt.Errorf("insert idempotency record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.ErrDuplicateRecord(record.ScopedKey)
	}
	return nil
}

// CAS replaces the record only while its stored status equals expected.
func (s *IdempotencyStore) CAS(ctx context.Context, record *domain.IdempotencyRecord, expected domain.IdempotencyStatus) (bool, error) {
	query := `UPDATE idempotency_records SET
			status = $1, result = $2, error_code = $3, error_message = $4
		WHERE scoped_key = $5 AND status = $6 AND expires_at > $7`

	tag, err := s.pool.Exec(ctx, query,
		record.Status, record.Result, record.ErrorCode, record.ErrorMessage,
		record.ScopedKey, expected, s.clock.Now(),
	)
	if err != nil {
		return false, fmt.Errorf("cas idempotency record: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Delete removes the record.
func (s *IdempotencyStore) Delete(ctx context.Context, scopedKey string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM idempotency_records WHERE scoped_key = $1`, scopedKey)
	if err != nil {
		return fmt.Errorf("delete idempotency record: %w", err)
	}
	return nil
}

// ExpireBefore bulk-removes records whose expiry is before ts.
func (s *IdempotencyStore) ExpireBefore(ctx context.Context, ts time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM idempotency_records WHERE expires_at < $1`, ts)
	if err != nil {
		return 0, fmt.Errorf("expire idempotency records: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

var _ ports.IdempotencyStore = (*IdempotencyStore)(nil)
