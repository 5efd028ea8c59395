package service

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"payment-orchestration-core/config"
	"payment-orchestration-core/internal/core/ports"
)

// computeBackoff returns the delay before retry attempt k (0-indexed):
// min(initial * multiplier^k, max) with symmetric jitter of up to
// delay * jitterFactor in either direction.
func computeBackoff(initial, max time.Duration, multiplier, jitterFactor float64, attempt int, rnd ports.RandSource) time.Duration {
	delay := float64(initial)
	for i := 0; i < attempt; i++ {
		delay *= multiplier
		if delay >= float64(max) {
			break
		}
	}
	if delay > float64(max) {
		delay = float64(max)
	}
	if jitterFactor > 0 && rnd != nil {
		// rnd in [0,1) mapped to [-1,1) keeps the jitter symmetric.
		jitter := delay * jitterFactor * (2*rnd.Float64() - 1)
		delay += jitter
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// RetryPolicy retries an operation with exponential backoff and jitter.
// Non-retryable errors short-circuit immediately.
type RetryPolicy struct {
	cfg   config.RetryConfig
	rand  ports.RandSource
	sleep ports.SleepFunc
	log   zerolog.Logger

	totalRetries atomic.Int64
}

// NewRetryPolicy creates a RetryPolicy. rnd may be nil to disable jitter.
func NewRetryPolicy(cfg config.RetryConfig, rnd ports.RandSource, log zerolog.Logger) *RetryPolicy {
	return &RetryPolicy{
		cfg:   cfg,
		rand:  rnd,
		sleep: ports.Sleep,
		log:   log.With().Str("component", "retry").Logger(),
	}
}

// Execute runs op at most MaxRetries+1 times. isRetryable decides whether a
// failure is worth another attempt; nil means IsRetryableError.
func (p *RetryPolicy) Execute(ctx context.Context, op func(ctx context.Context) error, isRetryable func(error) bool) error {
	if isRetryable == nil {
		isRetryable = IsRetryableError
	}

	var lastErr error
	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := computeBackoff(p.cfg.InitialDelay, p.cfg.MaxDelay, p.cfg.BackoffMultiplier, p.cfg.JitterFactor, attempt-1, p.rand)
			p.log.Debug().
				Int("attempt", attempt).
				Dur("delay", delay).
				Err(lastErr).
				Msg("retrying after backoff")
			if err := p.sleep(ctx, delay); err != nil {
				return err
			}
			p.totalRetries.Add(1)
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !isRetryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

// TotalRetries reports how many retry sleeps this policy has performed.
func (p *RetryPolicy) TotalRetries() int64 {
	return p.totalRetries.Load()
}

// IsRetryableError is the domain classification: network, timeout,
// rate-limit and generic gateway errors are retryable; declines, invalid
// cards and auth failures are not.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if gwErr, ok := ports.AsGatewayError(err); ok {
		return gwErr.Retryable
	}
	return false
}
