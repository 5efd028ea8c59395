package service

import (
	"sync"

	"github.com/rs/zerolog"

	"payment-orchestration-core/config"
	"payment-orchestration-core/internal/core/ports"
)

// BreakerRegistry lazily creates one circuit breaker per gateway, all
// sharing the same configuration and clock.
type BreakerRegistry struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	cfg      config.CircuitBreakerConfig
	clock    ports.Clock
	log      zerolog.Logger
}

func NewBreakerRegistry(cfg config.CircuitBreakerConfig, clock ports.Clock, log zerolog.Logger) *BreakerRegistry {
	return &BreakerRegistry{
		breakers: make(map[string]*CircuitBreaker),
		cfg:      cfg,
		clock:    clock,
		log:      log,
	}
}

// Get returns the breaker for a gateway, creating it on first use.
func (r *BreakerRegistry) Get(gateway string) *CircuitBreaker {
	r.mu.RLock()
	b, ok := r.breakers[gateway]
	r.mu.RUnlock()
	if ok {
		return b
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok = r.breakers[gateway]; ok {
		return b
	}
	b = NewCircuitBreaker(gateway, r.cfg, r.clock, r.log)
	r.breakers[gateway] = b
	return b
}

// HealthSummary reports every tracked breaker's health snapshot.
func (r *BreakerRegistry) HealthSummary() map[string]BreakerHealth {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]BreakerHealth, len(r.breakers))
	for name, b := range r.breakers {
		out[name] = b.Health()
	}
	return out
}
