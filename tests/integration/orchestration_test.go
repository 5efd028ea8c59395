package integration

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payment-orchestration-core/config"
	"payment-orchestration-core/internal/adapter/gateway"
	"payment-orchestration-core/internal/adapter/storage/memory"
	redisStorage "payment-orchestration-core/internal/adapter/storage/redis"
	"payment-orchestration-core/internal/core/domain"
	"payment-orchestration-core/internal/core/ports"
	"payment-orchestration-core/internal/service"
	"payment-orchestration-core/pkg/apperror"

	"github.com/rs/zerolog"
)

// testClock is a manually advanced clock shared by every component, so
// breaker timeouts move only when a test says so.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Now().UTC()}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// stack is the full orchestration core over in-memory snapshot and event
// storage, miniredis-backed admission state, and simulated processors.
type stack struct {
	orch     *service.Orchestrator
	engine   *service.IdempotencyEngine
	sourcing *service.SourcingCoordinator
	repo     *memory.PaymentRepository
	events   *memory.EventStore
	gateways map[string]*gateway.SimulatedGateway
	clock    *testClock
}

func testConfig() *config.Config {
	return &config.Config{
		Routing: config.RoutingConfig{
			Strategy:   "weighted",
			Weights:    config.WeightsConfig{Success: 0.4, Latency: 0.2, Cost: 0.2, Health: 0.2},
			MinSamples: 10,
		},
		Retry: config.RetryConfig{
			MaxRetries:        2,
			InitialDelay:      time.Millisecond,
			MaxDelay:          5 * time.Millisecond,
			BackoffMultiplier: 2,
			JitterFactor:      0,
		},
		CircuitBreaker: config.CircuitBreakerConfig{
			FailureThreshold:     3,
			FailureRateThreshold: 0.5,
			SuccessThreshold:     2,
			OpenTimeout:          30 * time.Second,
			HalfOpenTimeout:      10 * time.Second,
			HalfOpenMaxAttempts:  1,
			MinSampleSize:        10,
			MinHealthScore:       0.3,
		},
		Idempotency: config.IdempotencyConfig{
			TTL:          24 * time.Hour,
			LockTimeout:  2 * time.Second,
			PollInterval: time.Millisecond,
			MaxPolls:     500,
		},
		OptimisticLock: config.OptimisticLockConfig{
			MaxRetries:        3,
			InitialBackoff:    time.Millisecond,
			MaxBackoff:        5 * time.Millisecond,
			BackoffMultiplier: 2,
			JitterFactor:      0,
		},
	}
}

func newStack(t *testing.T, gatewayNames ...string) *stack {
	t.Helper()
	cfg := testConfig()
	clock := newTestClock()
	log := zerolog.Nop()

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})

	idempStore := redisStorage.NewIdempotencyStore(rdb, clock)
	locks := redisStorage.NewLockManager(rdb, clock)
	repo := memory.NewPaymentRepository()
	events := memory.NewEventStore()

	rnd := ports.NewSeededRand(1)
	engine := service.NewIdempotencyEngine(cfg.Idempotency, idempStore, locks, clock, log)
	payments := service.NewVersionedPaymentService(repo, cfg.OptimisticLock, rnd, log)
	registry := service.NewGatewayRegistry()
	breakers := service.NewBreakerRegistry(cfg.CircuitBreaker, clock, log)
	retry := service.NewRetryPolicy(cfg.Retry, rnd, log)
	metrics := service.NewMetricsCollector()
	router := service.NewRouter(cfg.Routing, metrics, breakers, log)
	hooks := service.NewHookRegistry(log)
	sourcing := service.NewSourcingCoordinator(events, repo, registry, clock, log)

	orch := service.NewOrchestrator(cfg, engine, events, payments, registry, breakers, retry, router, hooks, metrics, clock, log)

	gws := make(map[string]*gateway.SimulatedGateway, len(gatewayNames))
	for i, name := range gatewayNames {
		gw := gateway.NewSimulatedGateway(name, log)
		require.NoError(t, orch.RegisterGateway(name, gw, service.GatewayConfig{
			Timeout:    5 * time.Second,
			CostPerTxn: 0.020 + float64(i)*0.005,
		}))
		gws[name] = gw
	}

	return &stack{
		orch:     orch,
		engine:   engine,
		sourcing: sourcing,
		repo:     repo,
		events:   events,
		gateways: gws,
		clock:    clock,
	}
}

func cardMethod(token string) domain.PaymentMethod {
	return domain.PaymentMethod{
		Type: domain.MethodCard,
		Card: &domain.CardDetails{Last4: "4242", Network: "visa", ExpiryMonth: 12, ExpiryYear: 2030, Token: token},
	}
}

func createRequest(key string) service.CreatePaymentRequest {
	return service.CreatePaymentRequest{
		IdempotencyKey: key,
		MerchantID:     "m1",
		CustomerID:     "c1",
		Amount:         10000,
		Currency:       "USD",
		Method:         cardMethod("tok_ok"),
		Metadata:       map[string]string{"order": "o1"},
	}
}

func eventTypes(events []domain.Event) []domain.EventType {
	out := make([]domain.EventType, 0, len(events))
	for _, e := range events {
		out = append(out, e.EventType)
	}
	return out
}

func TestHappyPathProducesContiguousStream(t *testing.T) {
	s := newStack(t, "alpha")
	ctx := context.Background()

	payment, err := s.orch.CreatePayment(ctx, createRequest("key-happy"))
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentStateSuccess, payment.State)
	assert.Equal(t, int64(4), payment.Version)
	assert.Equal(t, "alpha", payment.GatewayType)
	assert.NotEmpty(t, payment.GatewayTransactionID)

	events, err := s.orch.GetPaymentEvents(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, []domain.EventType{
		domain.EventPaymentInitiated,
		domain.EventPaymentAuthenticated,
		domain.EventPaymentProcessing,
		domain.EventPaymentSucceeded,
	}, eventTypes(events))
	for i, e := range events {
		assert.Equal(t, int64(i+1), e.Version)
	}
}

func TestConcurrentSameKeyExecutesOnce(t *testing.T) {
	s := newStack(t, "alpha")
	ctx := context.Background()
	req := createRequest("key-race")

	var wg sync.WaitGroup
	results := make([]domain.Payment, 3)
	errs := make([]error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = s.orch.CreatePayment(ctx, req)
		}(i)
	}
	wg.Wait()

	for i := 0; i < 3; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, domain.PaymentStateSuccess, results[i].State)
		assert.Equal(t, results[0].ID, results[i].ID)
	}

	// Exactly one payment was created no matter how the race resolved.
	all, err := s.repo.FindAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
	assert.Equal(t, int64(2), s.engine.CacheHits())
}

func TestTamperedReplayIsRejected(t *testing.T) {
	s := newStack(t, "alpha")
	ctx := context.Background()

	_, err := s.orch.CreatePayment(ctx, createRequest("key-tamper"))
	require.NoError(t, err)

	tampered := createRequest("key-tamper")
	tampered.Amount = 99999
	_, err = s.orch.CreatePayment(ctx, tampered)
	assert.True(t, apperror.IsCode(err, apperror.CodeFingerprintMismatch))
}

func TestTransientTimeoutsAreRetriedOnSameGateway(t *testing.T) {
	s := newStack(t, "alpha")
	ctx := context.Background()

	s.gateways["alpha"].Enqueue(gateway.OpProcess, ports.GatewayErrTimeout)
	s.gateways["alpha"].Enqueue(gateway.OpProcess, ports.GatewayErrTimeout)

	payment, err := s.orch.CreatePayment(ctx, createRequest("key-retry"))
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentStateSuccess, payment.State)
	assert.Equal(t, "alpha", payment.GatewayType)
	// Both timeouts were absorbed by same-gateway retries, not a fallback.
	assert.Equal(t, 0, payment.RetryCount)
	assert.Equal(t, int64(2), s.orch.TotalRetries())
}

func TestFallbackToAlternateGateway(t *testing.T) {
	s := newStack(t, "alpha", "beta")
	ctx := context.Background()

	// Alpha burns through every same-gateway retry at the authenticate
	// step, forcing a fallback while the payment is still INITIATED.
	for i := 0; i < 3; i++ {
		s.gateways["alpha"].Enqueue(gateway.OpAuthenticate, ports.GatewayErrNetwork)
	}

	payment, err := s.orch.CreatePayment(ctx, createRequest("key-fallback"))
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentStateSuccess, payment.State)
	assert.Equal(t, "beta", payment.GatewayType)
	assert.Equal(t, 1, payment.RetryCount)

	events, err := s.orch.GetPaymentEvents(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, []domain.EventType{
		domain.EventPaymentInitiated,
		domain.EventPaymentRetryAttempted,
		domain.EventPaymentAuthenticated,
		domain.EventPaymentProcessing,
		domain.EventPaymentSucceeded,
	}, eventTypes(events))
}

func TestBreakerOpensAndRecovers(t *testing.T) {
	s := newStack(t, "alpha")
	ctx := context.Background()

	s.gateways["alpha"].SetDown(true)

	// Three consecutive failures trip the breaker during the first payment.
	payment, err := s.orch.CreatePayment(ctx, createRequest("key-down-1"))
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStateFailure, payment.State)

	summary := s.orch.GetHealthSummary()
	require.Contains(t, summary, "alpha")
	assert.Equal(t, service.CircuitOpen, summary["alpha"].State)

	// While OPEN the gateway is not even attempted.
	payment, err = s.orch.CreatePayment(ctx, createRequest("key-down-2"))
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStateFailure, payment.State)

	// Past the open timeout a healthy gateway closes the breaker again.
	s.gateways["alpha"].SetDown(false)
	s.clock.Advance(31 * time.Second)

	payment, err = s.orch.CreatePayment(ctx, createRequest("key-recovered"))
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStateSuccess, payment.State)

	summary = s.orch.GetHealthSummary()
	assert.Equal(t, service.CircuitClosed, summary["alpha"].State)
}

func TestCrashRecoverySettlesFromGatewayStatus(t *testing.T) {
	s := newStack(t, "alpha")
	ctx := context.Background()
	now := s.clock.Now()

	// Rebuild the state a crashed process left behind: three events, a
	// PROCESSING snapshot, and a transaction the processor settled.
	amount, err := domain.NewMoney(10000, "USD")
	require.NoError(t, err)
	p, err := domain.NewPayment("key-crash", "m1", "c1", amount, cardMethod("tok_ok"), nil, now)
	require.NoError(t, err)
	e1, err := domain.NewEvent(domain.EventPaymentInitiated, p, domain.PaymentInitiatedPayload{Payment: p}, now)
	require.NoError(t, err)

	p, err = p.Authenticate("alpha", now)
	require.NoError(t, err)
	e2, err := domain.NewEvent(domain.EventPaymentAuthenticated, p, domain.PaymentAuthenticatedPayload{GatewayType: "alpha"}, now)
	require.NoError(t, err)

	initResp, err := s.gateways["alpha"].Initiate(ctx, ports.GatewayRequest{PaymentID: p.ID, MerchantID: "m1", Amount: amount, Method: p.Method})
	require.NoError(t, err)
	p, err = p.StartProcessing(initResp.GatewayTransactionID, now)
	require.NoError(t, err)
	e3, err := domain.NewEvent(domain.EventPaymentProcessing, p, domain.PaymentProcessingPayload{GatewayType: "alpha", GatewayTransactionID: p.GatewayTransactionID}, now)
	require.NoError(t, err)

	require.NoError(t, s.events.Append(ctx, []domain.Event{e1, e2, e3}))
	require.NoError(t, s.repo.Insert(ctx, p))

	// The processor captured the funds; the caller never saw the response.
	s.gateways["alpha"].Settle(initResp.GatewayTransactionID, ports.GatewayStatusSuccess)

	report, err := s.sourcing.RecoverInFlight(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.InFlight)
	assert.Equal(t, 1, report.Recovered)

	recovered, err := s.orch.GetPayment(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStateSuccess, recovered.State)
	assert.Equal(t, int64(4), recovered.Version)

	events, err := s.events.GetEvents(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, events, 4)
	assert.Equal(t, domain.EventPaymentSucceeded, events[3].EventType)
}

func TestRefundEndToEnd(t *testing.T) {
	s := newStack(t, "alpha")
	ctx := context.Background()

	payment, err := s.orch.CreatePayment(ctx, createRequest("key-refund"))
	require.NoError(t, err)
	require.Equal(t, domain.PaymentStateSuccess, payment.State)

	refunded, err := s.orch.RefundPayment(ctx, service.RefundRequest{
		IdempotencyKey: "refund-1",
		MerchantID:     "m1",
		PaymentID:      payment.ID,
		Amount:         4000,
		Currency:       "USD",
	})
	require.NoError(t, err)
	require.NotNil(t, refunded.RefundedAmount)
	assert.Equal(t, int64(4000), refunded.RefundedAmount.Amount)

	// Replaying the refund key must not refund twice.
	again, err := s.orch.RefundPayment(ctx, service.RefundRequest{
		IdempotencyKey: "refund-1",
		MerchantID:     "m1",
		PaymentID:      payment.ID,
		Amount:         4000,
		Currency:       "USD",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(4000), again.RefundedAmount.Amount)

	events, err := s.events.GetEvents(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EventPaymentRefunded, events[len(events)-1].EventType)
}
