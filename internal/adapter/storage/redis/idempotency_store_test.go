package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payment-orchestration-core/internal/core/domain"
	"payment-orchestration-core/internal/core/ports"
	"payment-orchestration-core/pkg/apperror"
)

func newIdempotencyStore(t *testing.T) (*IdempotencyStore, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	return NewIdempotencyStore(client, ports.RealClock{}), s
}

func processingRecord(scopedKey string, ttl time.Duration) *domain.IdempotencyRecord {
	now := time.Now().UTC()
	return &domain.IdempotencyRecord{
		ScopedKey:   scopedKey,
		Fingerprint: "fp-1",
		Status:      domain.IdempotencyStatusProcessing,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
}

func TestIdempotencyStore_PutGet(t *testing.T) {
	store, _ := newIdempotencyStore(t)
	ctx := context.Background()

	record := processingRecord("m1:payment:k1", time.Hour)
	require.NoError(t, store.Put(ctx, record))

	got, err := store.Get(ctx, "m1:payment:k1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, record.Fingerprint, got.Fingerprint)
	assert.Equal(t, domain.IdempotencyStatusProcessing, got.Status)
}

func TestIdempotencyStore_GetMissing(t *testing.T) {
	store, _ := newIdempotencyStore(t)

	got, err := store.Get(context.Background(), "m1:payment:absent")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestIdempotencyStore_PutDuplicate(t *testing.T) {
	store, _ := newIdempotencyStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, processingRecord("m1:payment:k1", time.Hour)))

	err := store.Put(ctx, processingRecord("m1:payment:k1", time.Hour))
	assert.True(t, apperror.IsCode(err, apperror.CodeDuplicateRecord))
}

func TestIdempotencyStore_ExpiryFreesKey(t *testing.T) {
	store, s := newIdempotencyStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, processingRecord("m1:payment:k1", time.Second)))

	s.FastForward(2 * time.Second)

	got, err := store.Get(ctx, "m1:payment:k1")
	require.NoError(t, err)
	assert.Nil(t, got)

	// The key is reusable once the old record expired.
	require.NoError(t, store.Put(ctx, processingRecord("m1:payment:k1", time.Hour)))
}

func TestIdempotencyStore_CAS(t *testing.T) {
	store, _ := newIdempotencyStore(t)
	ctx := context.Background()

	record := processingRecord("m1:payment:k1", time.Hour)
	require.NoError(t, store.Put(ctx, record))

	done := *record
	done.Status = domain.IdempotencyStatusCompleted
	done.Result = []byte(`{"ok":true}`)

	swapped, err := store.CAS(ctx, &done, domain.IdempotencyStatusProcessing)
	require.NoError(t, err)
	assert.True(t, swapped)

	got, err := store.Get(ctx, "m1:payment:k1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, domain.IdempotencyStatusCompleted, got.Status)
	assert.JSONEq(t, `{"ok":true}`, string(got.Result))
}

func TestIdempotencyStore_CASLosesWhenStatusMoved(t *testing.T) {
	store, _ := newIdempotencyStore(t)
	ctx := context.Background()

	record := processingRecord("m1:payment:k1", time.Hour)
	require.NoError(t, store.Put(ctx, record))

	done := *record
	done.Status = domain.IdempotencyStatusCompleted
	swapped, err := store.CAS(ctx, &done, domain.IdempotencyStatusProcessing)
	require.NoError(t, err)
	require.True(t, swapped)

	// A second writer expecting PROCESSING loses.
	late := *record
	late.Status = domain.IdempotencyStatusFailed
	swapped, err = store.CAS(ctx, &late, domain.IdempotencyStatusProcessing)
	require.NoError(t, err)
	assert.False(t, swapped)
}

func TestIdempotencyStore_Delete(t *testing.T) {
	store, _ := newIdempotencyStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, processingRecord("m1:payment:k1", time.Hour)))
	require.NoError(t, store.Delete(ctx, "m1:payment:k1"))

	got, err := store.Get(ctx, "m1:payment:k1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestIdempotencyStore_ExpireBefore(t *testing.T) {
	store, _ := newIdempotencyStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, processingRecord("m1:payment:soon", time.Minute)))
	require.NoError(t, store.Put(ctx, processingRecord("m1:payment:later", time.Hour)))

	removed, err := store.ExpireBefore(ctx, time.Now().UTC().Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	got, err := store.Get(ctx, "m1:payment:soon")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = store.Get(ctx, "m1:payment:later")
	require.NoError(t, err)
	assert.NotNil(t, got)
}
