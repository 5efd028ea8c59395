package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"payment-orchestration-core/internal/core/domain"
	"payment-orchestration-core/internal/core/ports"
	"payment-orchestration-core/pkg/apperror"
)

// PaymentRepository implements ports.PaymentRepository on PostgreSQL with
// version-column optimistic locking.
type PaymentRepository struct {
	pool Pool
}

// NewPaymentRepository creates a new PaymentRepository.
func NewPaymentRepository(pool Pool) *PaymentRepository {
	return &PaymentRepository{pool: pool}
}

const paymentColumns = `id, idempotency_key, merchant_id, customer_id, state, amount, currency,
		method, metadata, gateway_type, gateway_transaction_id, failure_reason,
		refunded_amount, refunded_currency, retry_count, version, created_at, updated_at`

// Insert persists a fresh payment snapshot.
func (r *PaymentRepository) Insert(ctx context.Context, p domain.Payment) error {
	method, metadata, err := marshalPaymentJSON(p)
	if err != nil {
		return err
	}
	query := `INSERT INTO payments (` + paymentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`

	refAmount, refCurrency := refundColumns(p)
	_, err = r.pool.Exec(ctx, query,
		p.ID, p.IdempotencyKey, p.MerchantID, p.CustomerID, p.State, p.Amount.Amount, p.Amount.Currency,
		method, metadata, p.GatewayType, p.GatewayTransactionID, p.FailureReason,
		refAmount, refCurrency, p.RetryCount, p.Version, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.ErrDuplicateRecord(p.ID.String())
		}
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

// Update persists the snapshot only when the stored version equals
// entity.Version-1; anything else is a lost-update conflict.
func (r *PaymentRepository) Update(ctx context.Context, p domain.Payment) error {
	method, metadata, err := marshalPaymentJSON(p)
	if err != nil {
		return err
	}
	query := `UPDATE payments SET
			state = $1, method = $2, metadata = $3, gateway_type = $4,
			gateway_transaction_id = $5, failure_reason = $6,
			refunded_amount = $7, refunded_currency = $8,
			retry_count = $9, version = $10, updated_at = $11
		WHERE id = $12 AND version = $13`

	refAmount, refCurrency := refundColumns(p)
	tag, err := r.pool.Exec(ctx, query,
		p.State, method, metadata, p.GatewayType,
		p.GatewayTransactionID, p.FailureReason,
		refAmount, refCurrency,
		p.RetryCount, p.Version, p.UpdatedAt,
		p.ID, p.Version-1,
	)
	if err != nil {
		return fmt.Errorf("update payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.ErrOptimisticLockConflict(p.ID.String(), p.Version-1)
	}
	return nil
}

// FindByID fetches a payment snapshot, nil when absent.
func (r *PaymentRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`
	p, err := r.scanPayment(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}

// FindByCustomer lists a customer's payments, most recent first.
func (r *PaymentRepository) FindByCustomer(ctx context.Context, customerID string) ([]domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments
		WHERE customer_id = $1 ORDER BY created_at DESC`
	return r.queryPayments(ctx, query, customerID)
}

// FindAll lists every payment, most recent first.
func (r *PaymentRepository) FindAll(ctx context.Context) ([]domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments ORDER BY created_at DESC`
	return r.queryPayments(ctx, query)
}

func (r *PaymentRepository) queryPayments(ctx context.Context, query string, args ...any) ([]domain.Payment, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query payments: %w", err)
	}
	defer rows.Close()

	var out []domain.Payment
	for rows.Next() {
		p, err := r.scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payments: %w", err)
	}
	return out, nil
}

func (r *PaymentRepository) scanPayment(row pgx.Row) (*domain.Payment, error) {
	var (
		p           domain.Payment
		method      []byte
		metadata    []byte
		refAmount   *int64
		refCurrency *string
	)
	err := row.Scan(
		&p.ID, &p.IdempotencyKey, &p.MerchantID, &p.CustomerID, &p.State, &p.Amount.Amount, &p.Amount.Currency,
		&method, &metadata, &p.GatewayType, &p.GatewayTransactionID, &p.FailureReason,
		&refAmount, &refCurrency, &p.RetryCount, &p.Version, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(method, &p.Method); err != nil {
		return nil, fmt.Errorf("unmarshal payment method: %w", err)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &p.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal payment metadata: %w", err)
		}
	}
	if refAmount != nil && refCurrency != nil {
		refunded, err := domain.NewMoney(*refAmount, *refCurrency)
		if err != nil {
			return nil, fmt.Errorf("rebuild refunded amount: %w", err)
		}
		p.RefundedAmount = &refunded
	}
	return &p, nil
}

func marshalPaymentJSON(p domain.Payment) (method, metadata []byte, err error) {
	method, err = json.Marshal(p.Method)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal payment method: %w", err)
	}
	if p.Metadata != nil {
		metadata, err = json.Marshal(p.Metadata)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal payment metadata: %w", err)
		}
	}
	return method, metadata, nil
}

func refundColumns(p domain.Payment) (*int64, *string) {
	if p.RefundedAmount == nil {
		return nil, nil
	}
	return &p.RefundedAmount.Amount, &p.RefundedAmount.Currency
}

var _ ports.PaymentRepository = (*PaymentRepository)(nil)
