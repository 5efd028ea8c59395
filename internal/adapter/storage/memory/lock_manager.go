package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"payment-orchestration-core/internal/core/ports"
)

// LockManager provides named TTL leases backed by process memory.
// Expired leases are reclaimed on the next Acquire.
type LockManager struct {
	mu    sync.Mutex
	locks map[string]ports.Lease
	clock ports.Clock
}

func NewLockManager(clock ports.Clock) *LockManager {
	if clock == nil {
		clock = ports.RealClock{}
	}
	return &LockManager{locks: make(map[string]ports.Lease), clock: clock}
}

func (m *LockManager) Acquire(_ context.Context, name string, ttl time.Duration) (*ports.Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	if current, ok := m.locks[name]; ok && current.ExpiresAt.After(now) {
		return nil, nil
	}
	lease := ports.Lease{
		Name:      name,
		Owner:     uuid.NewString(),
		ExpiresAt: now.Add(ttl),
	}
	m.locks[name] = lease
	return &lease, nil
}

func (m *LockManager) Release(_ context.Context, lease *ports.Lease) error {
	if lease == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.locks[lease.Name]; ok && current.Owner == lease.Owner {
		delete(m.locks, lease.Name)
	}
	return nil
}

func (m *LockManager) Extend(_ context.Context, lease *ports.Lease, ttl time.Duration) (*ports.Lease, error) {
	if lease == nil {
		return nil, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	current, ok := m.locks[lease.Name]
	if !ok || current.Owner != lease.Owner || !current.ExpiresAt.After(now) {
		return nil, nil
	}
	current.ExpiresAt = now.Add(ttl)
	m.locks[lease.Name] = current
	cp := current
	return &cp, nil
}

var _ ports.LockManager = (*LockManager)(nil)
