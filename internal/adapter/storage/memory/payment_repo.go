package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"payment-orchestration-core/internal/core/domain"
	"payment-orchestration-core/internal/core/ports"
	"payment-orchestration-core/pkg/apperror"
)

// PaymentRepository stores payment snapshots with optimistic locking on
// the version column.
type PaymentRepository struct {
	mu       sync.RWMutex
	payments map[uuid.UUID]domain.Payment
}

func NewPaymentRepository() *PaymentRepository {
	return &PaymentRepository{payments: make(map[uuid.UUID]domain.Payment)}
}

func (r *PaymentRepository) Insert(_ context.Context, p domain.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.payments[p.ID]; ok {
		return apperror.ErrDuplicateRecord(p.ID.String())
	}
	r.payments[p.ID] = p
	return nil
}

func (r *PaymentRepository) Update(_ context.Context, p domain.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.payments[p.ID]
	if !ok {
		return apperror.ErrNotFound("payment")
	}
	if current.Version != p.Version-1 {
		return apperror.ErrOptimisticLockConflict(p.ID.String(), p.Version-1)
	}
	r.payments[p.ID] = p
	return nil
}

func (r *PaymentRepository) FindByID(_ context.Context, id uuid.UUID) (*domain.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.payments[id]
	if !ok {
		return nil, nil
	}
	cp := p
	return &cp, nil
}

func (r *PaymentRepository) FindByCustomer(_ context.Context, customerID string) ([]domain.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Payment
	for _, p := range r.payments {
		if p.CustomerID == customerID {
			out = append(out, p)
		}
	}
	sortByCreatedAt(out)
	return out, nil
}

func (r *PaymentRepository) FindAll(_ context.Context) ([]domain.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Payment, 0, len(r.payments))
	for _, p := range r.payments {
		out = append(out, p)
	}
	sortByCreatedAt(out)
	return out, nil
}

// sortByCreatedAt gives listings a stable most-recent-first order.
func sortByCreatedAt(payments []domain.Payment) {
	sort.Slice(payments, func(i, j int) bool {
		if !payments[i].CreatedAt.Equal(payments[j].CreatedAt) {
			return payments[i].CreatedAt.After(payments[j].CreatedAt)
		}
		return payments[i].ID.String() < payments[j].ID.String()
	})
}

var _ ports.PaymentRepository = (*PaymentRepository)(nil)
