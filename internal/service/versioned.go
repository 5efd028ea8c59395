package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"payment-orchestration-core/config"
	"payment-orchestration-core/internal/core/domain"
	"payment-orchestration-core/internal/core/ports"
	"payment-orchestration-core/pkg/apperror"
	"payment-orchestration-core/pkg/logger"
)

// MutateFunc transforms the stored payment into its next version.
type MutateFunc func(domain.Payment) (domain.Payment, error)

// VersionedPaymentService wraps the payment repository's optimistic lock
// with a bounded retry loop. On a version conflict it re-reads the fresh
// snapshot and reapplies the mutation; semantic errors are never retried.
type VersionedPaymentService struct {
	repo  ports.PaymentRepository
	cfg   config.OptimisticLockConfig
	rand  ports.RandSource
	sleep ports.SleepFunc
	log   zerolog.Logger
}

func NewVersionedPaymentService(repo ports.PaymentRepository, cfg config.OptimisticLockConfig, rnd ports.RandSource, log zerolog.Logger) *VersionedPaymentService {
	return &VersionedPaymentService{
		repo:  repo,
		cfg:   cfg,
		rand:  rnd,
		sleep: ports.Sleep,
		log:   logger.ForComponent(log, "versioned_repo"),
	}
}

// Create persists a fresh payment snapshot.
func (s *VersionedPaymentService) Create(ctx context.Context, p domain.Payment) error {
	return s.repo.Insert(ctx, p)
}

// Update applies mutate to the current stored snapshot and persists the
// result. Version conflicts trigger up to MaxRetries re-read/reapply
// rounds with jittered backoff.
func (s *VersionedPaymentService) Update(ctx context.Context, id uuid.UUID, mutate MutateFunc) (domain.Payment, error) {
	var lastErr error
	for attempt := 0; attempt <= s.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := computeBackoff(s.cfg.InitialBackoff, s.cfg.MaxBackoff, s.cfg.BackoffMultiplier, s.cfg.JitterFactor, attempt-1, s.rand)
			s.log.Debug().
				Str("payment_id", id.String()).
				Int("attempt", attempt).
				Dur("delay", delay).
				Msg("retrying after version conflict")
			if err := s.sleep(ctx, delay); err != nil {
				return domain.Payment{}, err
			}
		}

		current, err := s.repo.FindByID(ctx, id)
		if err != nil {
			return domain.Payment{}, err
		}
		if current == nil {
			return domain.Payment{}, apperror.ErrNotFound("payment")
		}

		next, err := mutate(*current)
		if err != nil {
			return domain.Payment{}, err
		}

		if err := s.repo.Update(ctx, next); err != nil {
			if apperror.IsCode(err, apperror.CodeOptimisticLock) {
				lastErr = err
				continue
			}
			return domain.Payment{}, err
		}
		return next, nil
	}
	return domain.Payment{}, lastErr
}

// Get returns the stored snapshot or a not-found error.
func (s *VersionedPaymentService) Get(ctx context.Context, id uuid.UUID) (domain.Payment, error) {
	p, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return domain.Payment{}, err
	}
	if p == nil {
		return domain.Payment{}, apperror.ErrNotFound("payment")
	}
	return *p, nil
}

// ByCustomer lists a customer's payments.
func (s *VersionedPaymentService) ByCustomer(ctx context.Context, customerID string) ([]domain.Payment, error) {
	return s.repo.FindByCustomer(ctx, customerID)
}
