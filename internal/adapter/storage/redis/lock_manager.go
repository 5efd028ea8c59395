package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"payment-orchestration-core/internal/core/ports"
)

// releaseScript deletes the lock only when the caller still owns it, so a
// process that lost its lease cannot evict the current holder.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript refreshes the TTL only for the current owner.
var extendScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// LockManager implements ports.LockManager with Redis SET NX leases.
type LockManager struct {
	client *goredis.Client
	clock  ports.Clock
	prefix string
}

// NewLockManager creates a Redis-backed lock manager.
func NewLockManager(client *goredis.Client, clock ports.Clock) *LockManager {
	return &LockManager{
		client: client,
		clock:  clock,
		prefix: "lock:",
	}
}

// Acquire attempts to take the named lock. Returns nil, nil when the lock
// is already held; expired locks are reclaimed by Redis itself.
func (m *LockManager) Acquire(ctx context.Context, name string, ttl time.Duration) (*ports.Lease, error) {
	owner := uuid.NewString()
	ok, err := m.client.SetNX(ctx, m.prefix+name, owner, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lock acquire: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return &ports.Lease{
		Name:      name,
		Owner:     owner,
		ExpiresAt: m.clock.Now().Add(ttl),
	}, nil
}

// Release frees the lease if the caller still owns it. Releasing a lease
// that expired and was reclaimed is a no-op.
func (m *LockManager) Release(ctx context.Context, lease *ports.Lease) error {
	if lease == nil {
		return nil
	}
	if err := releaseScript.Run(ctx, m.client, []string{m.prefix + lease.Name}, lease.Owner).Err(); err != nil {
		return fmt.Errorf("redis lock release: %w", err)
	}
	return nil
}

// Extend pushes the lease expiry out by ttl from now, owner-checked.
func (m *LockManager) Extend(ctx context.Context, lease *ports.Lease, ttl time.Duration) (*ports.Lease, error) {
	if lease == nil {
		return nil, fmt.Errorf("redis lock extend: nil lease")
	}
	key := m.prefix + lease.Name
	n, err := extendScript.Run(ctx, m.client, []string{key}, lease.Owner, ttl.Milliseconds()).Int()
	if err != nil {
		return nil, fmt.Errorf("redis lock extend: %w", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("redis lock extend: lease on %q expired or lost", lease.Name)
	}
	return &ports.Lease{
		Name:      lease.Name,
		Owner:     lease.Owner,
		ExpiresAt: m.clock.Now().Add(ttl),
	}, nil
}
