package ports

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Clock abstracts wall time so tests control it.
type Clock interface {
	Now() time.Time
}

// RealClock is the production Clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now().UTC() }

// RandSource abstracts randomness (backoff jitter) so tests are deterministic.
type RandSource interface {
	Float64() float64
}

// NewSeededRand returns a mutex-guarded RandSource from a seed.
func NewSeededRand(seed int64) RandSource {
	return &lockedRand{r: rand.New(rand.NewSource(seed))}
}

type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func (l *lockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the production SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// HealthChecker reports connectivity of an infrastructure dependency.
type HealthChecker interface {
	Ping(ctx context.Context) error
	Name() string
}
