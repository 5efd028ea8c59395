package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"payment-orchestration-core/internal/core/domain"
	"payment-orchestration-core/internal/core/ports"
	"payment-orchestration-core/pkg/apperror"
)

// casScript swaps the record only while the stored status matches, in one
// round trip so two writers cannot both win.
var casScript = goredis.NewScript(`
local raw = redis.call("GET", KEYS[1])
if not raw then
	return 0
end
local rec = cjson.decode(raw)
if rec.status ~= ARGV[1] then
	return 0
end
redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
return 1
`)

// IdempotencyStore implements ports.IdempotencyStore on Redis. Records are
// stored as JSON under their scoped key with a TTL, so expiry is enforced
// by Redis itself.
type IdempotencyStore struct {
	client *goredis.Client
	clock  ports.Clock
	prefix string
}

// NewIdempotencyStore creates a Redis-backed idempotency store.
func NewIdempotencyStore(client *goredis.Client, clock ports.Clock) *IdempotencyStore {
	return &IdempotencyStore{
		client: client,
		clock:  clock,
		prefix: "idemp:",
	}
}

// Get retrieves a record by scoped key. Returns nil, nil when the key is
// missing or its TTL has fired.
func (s *IdempotencyStore) Get(ctx context.Context, scopedKey string) (*domain.IdempotencyRecord, error) {
	raw, err := s.client.Get(ctx, s.prefix+scopedKey).Bytes()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis idempotency get: %w", err)
	}
	var record domain.IdempotencyRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("redis idempotency decode: %w", err)
	}
	if record.IsExpired(s.clock.Now()) {
		return nil, nil
	}
	return &record, nil
}

// Put inserts a record if the scoped key is absent. A live record under the
// same key fails with CodeDuplicateRecord; expired records have already been
// evicted by Redis.
func (s *IdempotencyStore) Put(ctx context.Context, record *domain.IdempotencyRecord) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("redis idempotency encode: %w", err)
	}
	ttl := record.ExpiresAt.Sub(s.clock.Now())
	if ttl <= 0 {
		return fmt.Errorf("redis idempotency put: record for %q already expired", record.ScopedKey)
	}
	ok, err := s.client.SetNX(ctx, s.prefix+record.ScopedKey, raw, ttl).Result()
	if err != nil {
		return fmt.Errorf("redis idempotency put: %w", err)
	}
	if !ok {
		return apperror.ErrDuplicateRecord(record.ScopedKey)
	}
	return nil
}

// CAS replaces the record only while its stored status equals expected.
func (s *IdempotencyStore) CAS(ctx context.Context, record *domain.IdempotencyRecord, expected domain.IdempotencyStatus) (bool, error) {
	raw, err := json.Marshal(record)
	if err != nil {
		return false, fmt.Errorf("redis idempotency encode: %w", err)
	}
	ttl := record.ExpiresAt.Sub(s.clock.Now())
	if ttl <= 0 {
		return false, nil
	}
	n, err := casScript.Run(ctx, s.client,
		[]string{s.prefix + record.ScopedKey},
		string(expected), raw, ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("redis idempotency cas: %w", err)
	}
	return n == 1, nil
}

// Delete removes a record unconditionally.
func (s *IdempotencyStore) Delete(ctx context.Context, scopedKey string) error {
	if err := s.client.Del(ctx, s.prefix+scopedKey).Err(); err != nil {
		return fmt.Errorf("redis idempotency delete: %w", err)
	}
	return nil
}

// ExpireBefore removes records whose expiry is before ts. Redis evicts on
// TTL by itself; this sweep exists for the maintenance path, which reports
// how many records it removed.
func (s *IdempotencyStore) ExpireBefore(ctx context.Context, ts time.Time) (int, error) {
	var (
		cursor  uint64
		removed int
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.prefix+"*", 100).Result()
		if err != nil {
			return removed, fmt.Errorf("redis idempotency scan: %w", err)
		}
		for _, key := range keys {
			raw, err := s.client.Get(ctx, key).Bytes()
			if err != nil {
				if err == goredis.Nil {
					continue
				}
				return removed, fmt.Errorf("redis idempotency get: %w", err)
			}
			var record domain.IdempotencyRecord
			if err := json.Unmarshal(raw, &record); err != nil {
				return removed, fmt.Errorf("redis idempotency decode: %w", err)
			}
			if record.ExpiresAt.Before(ts) {
				if err := s.client.Del(ctx, key).Err(); err != nil {
					return removed, fmt.Errorf("redis idempotency delete: %w", err)
				}
				removed++
			}
		}
		cursor = next
		if cursor == 0 {
			return removed, nil
		}
	}
}
