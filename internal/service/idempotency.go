package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"

	"github.com/rs/zerolog"

	"payment-orchestration-core/config"
	"payment-orchestration-core/internal/core/domain"
	"payment-orchestration-core/internal/core/ports"
	"payment-orchestration-core/pkg/apperror"
	"payment-orchestration-core/pkg/logger"
)

// WorkFunc executes the guarded operation and returns its serialized result.
type WorkFunc func(ctx context.Context) ([]byte, error)

// IdempotencyEngine guarantees exactly-one execution per scoped key.
// Admission is serialized through a named lease; concurrent duplicates
// either poll the winner's record or get the cached outcome back.
type IdempotencyEngine struct {
	cfg   config.IdempotencyConfig
	store ports.IdempotencyStore
	locks ports.LockManager
	clock ports.Clock
	sleep ports.SleepFunc
	log   zerolog.Logger

	cacheHits atomic.Int64
	conflicts atomic.Int64
}

func NewIdempotencyEngine(
	cfg config.IdempotencyConfig,
	store ports.IdempotencyStore,
	locks ports.LockManager,
	clock ports.Clock,
	log zerolog.Logger,
) *IdempotencyEngine {
	if clock == nil {
		clock = ports.RealClock{}
	}
	return &IdempotencyEngine{
		cfg:   cfg,
		store: store,
		locks: locks,
		clock: clock,
		sleep: ports.Sleep,
		log:   logger.ForComponent(log, "idempotency"),
	}
}

// Execute runs work at most once per {merchant, operation, key} scope.
//
// The first caller to admit a key stores a PROCESSING record and runs the
// work; its outcome is cached under the record for the TTL. Concurrent
// callers with the same key and an identical body fingerprint wait for
// that record to turn terminal. A matching key with a different body is
// rejected outright.
func (e *IdempotencyEngine) Execute(
	ctx context.Context,
	merchantID, operation, callerKey string,
	body any,
	work WorkFunc,
) ([]byte, error) {
	scopedKey := domain.BuildScopedKey(merchantID, operation, callerKey)
	fingerprint, err := domain.Fingerprint(body)
	if err != nil {
		return nil, apperror.Validation("request body is not fingerprintable: " + err.Error())
	}
	log := e.log.With().Str("scoped_key", scopedKey).Logger()

	// Fast path: terminal record already cached.
	if record, err := e.lookup(ctx, scopedKey, fingerprint); err != nil {
		return nil, err
	} else if record != nil {
		if record.IsTerminal() {
			e.cacheHits.Add(1)
			log.Debug().Str("status", string(record.Status)).Msg("idempotent replay from cache")
			return cachedOutcome(record)
		}
		return e.awaitWinner(ctx, scopedKey, fingerprint, log)
	}

	admitted, record, err := e.admit(ctx, scopedKey, fingerprint, log)
	if err != nil {
		return nil, err
	}
	if !admitted {
		if record != nil && record.IsTerminal() {
			e.cacheHits.Add(1)
			return cachedOutcome(record)
		}
		return e.awaitWinner(ctx, scopedKey, fingerprint, log)
	}

	return e.run(ctx, record, work, log)
}

// lookup fetches the record and enforces the fingerprint match.
func (e *IdempotencyEngine) lookup(ctx context.Context, scopedKey, fingerprint string) (*domain.IdempotencyRecord, error) {
	record, err := e.store.Get(ctx, scopedKey)
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	if record == nil || record.IsExpired(e.clock.Now()) {
		return nil, nil
	}
	if record.Fingerprint != fingerprint {
		e.conflicts.Add(1)
		return nil, apperror.ErrFingerprintMismatch(scopedKey)
	}
	return record, nil
}

// admit serializes the insert of the PROCESSING record behind a lease.
// Returns admitted=false with the competing record when another caller
// won the race.
func (e *IdempotencyEngine) admit(
	ctx context.Context,
	scopedKey, fingerprint string,
	log zerolog.Logger,
) (bool, *domain.IdempotencyRecord, error) {
	lockName := "idemp:" + scopedKey
	deadline := e.clock.Now().Add(e.cfg.LockTimeout)

	var lease *ports.Lease
	for {
		var err error
		lease, err = e.locks.Acquire(ctx, lockName, e.cfg.LockTimeout)
		if err != nil {
			return false, nil, apperror.InternalError(err)
		}
		if lease != nil {
			break
		}
		if !e.clock.Now().Before(deadline) {
			e.conflicts.Add(1)
			return false, nil, apperror.ErrLockTimeout(scopedKey)
		}
		if err := e.sleep(ctx, e.cfg.PollInterval); err != nil {
			return false, nil, err
		}
	}
	defer func() {
		if err := e.locks.Release(ctx, lease); err != nil {
			log.Warn().Err(err).Msg("failed to release admission lease")
		}
	}()

	// Re-check under the lease: another caller may have admitted the key
	// between our lookup and the acquire.
	record, err := e.lookup(ctx, scopedKey, fingerprint)
	if err != nil {
		return false, nil, err
	}
	if record != nil {
		return false, record, nil
	}

	now := e.clock.Now()
	record = &domain.IdempotencyRecord{
		ScopedKey:   scopedKey,
		Fingerprint: fingerprint,
		Status:      domain.IdempotencyStatusProcessing,
		CreatedAt:   now,
		ExpiresAt:   now.Add(e.cfg.TTL),
	}
	if err := e.store.Put(ctx, record); err != nil {
		if apperror.IsCode(err, apperror.CodeDuplicateRecord) {
			current, lerr := e.lookup(ctx, scopedKey, fingerprint)
			if lerr != nil {
				return false, nil, lerr
			}
			return false, current, nil
		}
		return false, nil, apperror.InternalError(err)
	}
	log.Debug().Msg("key admitted")
	return true, record, nil
}

// run executes the admitted work and caches its outcome.
func (e *IdempotencyEngine) run(
	ctx context.Context,
	record *domain.IdempotencyRecord,
	work WorkFunc,
	log zerolog.Logger,
) ([]byte, error) {
	result, workErr := work(ctx)

	updated := *record
	if workErr != nil {
		updated.Status = domain.IdempotencyStatusFailed
		updated.ErrorCode = apperror.CodeInternal
		updated.ErrorMessage = workErr.Error()
		var appErr *apperror.AppError
		if errors.As(workErr, &appErr) {
			updated.ErrorCode = appErr.Code
			updated.ErrorMessage = appErr.Message
		}
		if gwErr, ok := ports.AsGatewayError(workErr); ok {
			if raw, merr := json.Marshal(gwErr); merr == nil {
				updated.GatewayError = raw
			}
		}
	} else {
		updated.Status = domain.IdempotencyStatusCompleted
		updated.Result = result
	}

	swapped, err := e.store.CAS(ctx, &updated, domain.IdempotencyStatusProcessing)
	if err != nil {
		log.Error().Err(err).Msg("failed to cache outcome")
		if workErr != nil {
			return nil, workErr
		}
		return nil, apperror.InternalError(err)
	}
	if !swapped {
		// The record moved out of PROCESSING underneath us, which only
		// happens when recovery reaped an expired record. The work ran;
		// its outcome still stands.
		log.Warn().Msg("idempotency record moved during execution")
	}
	return result, workErr
}

// awaitWinner polls an in-flight record until it turns terminal.
func (e *IdempotencyEngine) awaitWinner(
	ctx context.Context,
	scopedKey, fingerprint string,
	log zerolog.Logger,
) ([]byte, error) {
	for i := 0; i < e.cfg.MaxPolls; i++ {
		if err := e.sleep(ctx, e.cfg.PollInterval); err != nil {
			return nil, err
		}
		record, err := e.lookup(ctx, scopedKey, fingerprint)
		if err != nil {
			return nil, err
		}
		if record == nil {
			// The winner's record expired before completing. Give up
			// rather than re-executing on behalf of a stale caller.
			return nil, apperror.ErrLockTimeout(scopedKey)
		}
		if record.IsTerminal() {
			e.cacheHits.Add(1)
			log.Debug().Str("status", string(record.Status)).Int("polls", i+1).Msg("winner finished")
			return cachedOutcome(record)
		}
	}
	e.conflicts.Add(1)
	return nil, apperror.ErrLockTimeout(scopedKey)
}

// Cleanup removes expired records. Run periodically.
func (e *IdempotencyEngine) Cleanup(ctx context.Context) (int, error) {
	removed, err := e.store.ExpireBefore(ctx, e.clock.Now())
	if err != nil {
		return 0, apperror.InternalError(err)
	}
	if removed > 0 {
		e.log.Info().Int("removed", removed).Msg("expired idempotency records removed")
	}
	return removed, nil
}

// CacheHits reports how many calls were served from cached outcomes.
func (e *IdempotencyEngine) CacheHits() int64 { return e.cacheHits.Load() }

// Conflicts reports fingerprint mismatches and admission timeouts.
func (e *IdempotencyEngine) Conflicts() int64 { return e.conflicts.Load() }

// cachedOutcome converts a terminal record back to the original outcome.
func cachedOutcome(record *domain.IdempotencyRecord) ([]byte, error) {
	if record.Status == domain.IdempotencyStatusFailed {
		if len(record.GatewayError) > 0 {
			var gwErr ports.GatewayError
			if err := json.Unmarshal(record.GatewayError, &gwErr); err == nil {
				return nil, &gwErr
			}
		}
		return nil, apperror.New(record.ErrorCode, record.ErrorMessage, apperror.StatusForCode(record.ErrorCode))
	}
	return record.Result, nil
}
