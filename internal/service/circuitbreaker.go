package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"payment-orchestration-core/config"
	"payment-orchestration-core/internal/core/ports"
	"payment-orchestration-core/pkg/apperror"
)

// CircuitState is the breaker's admission state.
type CircuitState string

const (
	CircuitClosed   CircuitState = "CLOSED"
	CircuitOpen     CircuitState = "OPEN"
	CircuitHalfOpen CircuitState = "HALF_OPEN"
)

// healthAlpha is the EWMA weight for the most recent outcome.
const healthAlpha = 0.2

// latencyTarget is the latency at which a success stops counting as fully
// healthy; slower successes degrade the health score proportionally.
const latencyTarget = 500 * time.Millisecond

// BreakerHealth is the published health snapshot.
type BreakerHealth struct {
	Gateway              string       `json:"gateway"`
	State                CircuitState `json:"state"`
	HealthScore          float64      `json:"health_score"`
	SuccessRate          float64      `json:"success_rate"`
	ConsecutiveSuccesses int          `json:"consecutive_successes"`
	ConsecutiveFailures  int          `json:"consecutive_failures"`
	OpenCount            int          `json:"open_count"`
	TotalSuccesses       int64        `json:"total_successes"`
	TotalFailures        int64        `json:"total_failures"`
}

// CircuitBreaker tracks one gateway's health and fast-fails while OPEN.
// State is process-local; counters are mutex-protected.
type CircuitBreaker struct {
	gateway string
	cfg     config.CircuitBreakerConfig
	clock   ports.Clock
	log     zerolog.Logger

	mu             sync.Mutex
	state          CircuitState
	window         []bool // rolling outcome window, true = success
	consecSuccess  int
	consecFailure  int
	openedAt       time.Time
	openCount      int
	halfOpenInUse  int
	healthScore    float64
	totalSuccesses int64
	totalFailures  int64
}

// NewCircuitBreaker creates a CLOSED breaker for one gateway.
func NewCircuitBreaker(gateway string, cfg config.CircuitBreakerConfig, clock ports.Clock, log zerolog.Logger) *CircuitBreaker {
	if clock == nil {
		clock = ports.RealClock{}
	}
	return &CircuitBreaker{
		gateway:     gateway,
		cfg:         cfg,
		clock:       clock,
		log:         log.With().Str("component", "circuit_breaker").Str("gateway", gateway).Logger(),
		state:       CircuitClosed,
		healthScore: 1.0,
	}
}

// Execute admits op through the breaker and records its outcome.
func (b *CircuitBreaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	if err := b.Allow(); err != nil {
		return err
	}
	start := b.clock.Now()
	err := op(ctx)
	latency := b.clock.Now().Sub(start)
	if err != nil {
		b.RecordFailure()
		return err
	}
	b.RecordSuccess(latency)
	return nil
}

// Allow reserves admission. While OPEN it fails fast; in HALF_OPEN it
// admits at most HalfOpenMaxAttempts concurrent probes.
func (b *CircuitBreaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitClosed:
		return nil
	case CircuitOpen:
		if b.clock.Now().Sub(b.openedAt) < b.cfg.OpenTimeout {
			return apperror.ErrCircuitOpen(b.gateway)
		}
		b.toHalfOpenLocked()
		b.halfOpenInUse = 1
		return nil
	case CircuitHalfOpen:
		if b.halfOpenInUse >= b.cfg.HalfOpenMaxAttempts {
			return apperror.ErrCircuitOpen(b.gateway)
		}
		b.halfOpenInUse++
		return nil
	}
	return nil
}

// RecordSuccess records an admitted call that succeeded.
func (b *CircuitBreaker) RecordSuccess(latency time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalSuccesses++
	b.consecSuccess++
	b.consecFailure = 0
	b.pushOutcomeLocked(true)
	b.updateHealthLocked(true, latency)

	if b.state == CircuitHalfOpen {
		if b.halfOpenInUse > 0 {
			b.halfOpenInUse--
		}
		if b.consecSuccess >= b.cfg.SuccessThreshold {
			b.toClosedLocked()
		}
	}
}

// RecordFailure records an admitted call that failed.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalFailures++
	b.consecFailure++
	b.consecSuccess = 0
	b.pushOutcomeLocked(false)
	b.updateHealthLocked(false, 0)

	switch b.state {
	case CircuitHalfOpen:
		if b.halfOpenInUse > 0 {
			b.halfOpenInUse--
		}
		// Any probe failure reopens and restarts the open timeout.
		b.toOpenLocked()
	case CircuitClosed:
		if b.shouldOpenLocked() {
			b.toOpenLocked()
		}
	}
}

// State returns the current admission state, applying the OPEN -> HALF_OPEN
// timeout transition lazily.
func (b *CircuitBreaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == CircuitOpen && b.clock.Now().Sub(b.openedAt) >= b.cfg.OpenTimeout {
		return CircuitHalfOpen
	}
	return b.state
}

// Health publishes the breaker's health snapshot.
func (b *CircuitBreaker) Health() BreakerHealth {
	b.mu.Lock()
	defer b.mu.Unlock()

	state := b.state
	if state == CircuitOpen && b.clock.Now().Sub(b.openedAt) >= b.cfg.OpenTimeout {
		state = CircuitHalfOpen
	}
	return BreakerHealth{
		Gateway:              b.gateway,
		State:                state,
		HealthScore:          b.healthScore,
		SuccessRate:          b.windowSuccessRateLocked(),
		ConsecutiveSuccesses: b.consecSuccess,
		ConsecutiveFailures:  b.consecFailure,
		OpenCount:            b.openCount,
		TotalSuccesses:       b.totalSuccesses,
		TotalFailures:        b.totalFailures,
	}
}

func (b *CircuitBreaker) shouldOpenLocked() bool {
	failureThreshold := b.cfg.FailureThreshold
	rateThreshold := b.cfg.FailureRateThreshold
	if b.cfg.AdaptiveThresholds && b.healthScore < 1 {
		// Lower health tightens thresholds.
		scaled := int(float64(b.cfg.FailureThreshold) * b.healthScore)
		if scaled < 1 {
			scaled = 1
		}
		failureThreshold = scaled
		rateThreshold = b.cfg.FailureRateThreshold * b.healthScore
	}

	if b.consecFailure >= failureThreshold {
		return true
	}
	if len(b.window) >= b.cfg.MinSampleSize {
		if 1-b.windowSuccessRateLocked() >= rateThreshold {
			return true
		}
	}
	return false
}

func (b *CircuitBreaker) pushOutcomeLocked(success bool) {
	size := b.cfg.MinSampleSize * 2
	if size < 10 {
		size = 10
	}
	b.window = append(b.window, success)
	if len(b.window) > size {
		b.window = b.window[len(b.window)-size:]
	}
}

func (b *CircuitBreaker) windowSuccessRateLocked() float64 {
	if len(b.window) == 0 {
		return 1.0
	}
	succ := 0
	for _, ok := range b.window {
		if ok {
			succ++
		}
	}
	return float64(succ) / float64(len(b.window))
}

// updateHealthLocked maintains the EWMA health score. Slow successes count
// as partially healthy.
func (b *CircuitBreaker) updateHealthLocked(success bool, latency time.Duration) {
	instant := 0.0
	if success {
		instant = 1.0
		if latency > latencyTarget {
			instant = float64(latencyTarget) / float64(latency)
		}
	}
	b.healthScore = healthAlpha*instant + (1-healthAlpha)*b.healthScore
}

func (b *CircuitBreaker) toOpenLocked() {
	b.state = CircuitOpen
	b.openedAt = b.clock.Now()
	b.openCount++
	b.halfOpenInUse = 0
	b.log.Warn().
		Int("open_count", b.openCount).
		Float64("health_score", b.healthScore).
		Msg("circuit opened")
}

func (b *CircuitBreaker) toHalfOpenLocked() {
	b.state = CircuitHalfOpen
	b.consecSuccess = 0
	b.halfOpenInUse = 0
	b.log.Info().Msg("circuit half-open, admitting probes")
}

func (b *CircuitBreaker) toClosedLocked() {
	b.state = CircuitClosed
	b.consecFailure = 0
	b.consecSuccess = 0
	b.window = nil
	b.halfOpenInUse = 0
	b.log.Info().Msg("circuit closed")
}
