package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payment-orchestration-core/internal/core/domain"
	"payment-orchestration-core/pkg/apperror"
)

func TestHookRegistry_HigherPriorityRunsFirst(t *testing.T) {
	r := NewHookRegistry(zerolog.Nop())
	var order []string

	r.RegisterPreValidation("low", 1, func(context.Context, domain.Payment) error {
		order = append(order, "low")
		return nil
	})
	r.RegisterPreValidation("high", 100, func(context.Context, domain.Payment) error {
		order = append(order, "high")
		return nil
	})

	require.NoError(t, r.RunPreValidation(context.Background(), testPayment(t)))
	assert.Equal(t, []string{"high", "low"}, order)
}

func TestHookRegistry_ValidationStopsOnError(t *testing.T) {
	r := NewHookRegistry(zerolog.Nop())
	reached := false

	r.RegisterPostValidation("rejector", 20, func(context.Context, domain.Payment) error {
		return apperror.Validation("amount too large")
	})
	r.RegisterPostValidation("unreached", 10, func(context.Context, domain.Payment) error {
		reached = true
		return nil
	})

	err := r.RunPostValidation(context.Background(), testPayment(t))
	assert.True(t, apperror.IsCode(err, apperror.CodeValidation))
	assert.False(t, reached)
}

func TestHookRegistry_FraudCheckShortCircuits(t *testing.T) {
	r := NewHookRegistry(zerolog.Nop())
	reached := false

	r.RegisterFraudCheck("blocker", 20, func(context.Context, domain.Payment) (FraudDecision, error) {
		return FraudDecision{Allowed: false, Reason: "velocity limit exceeded", Score: 0.93}, nil
	})
	r.RegisterFraudCheck("unreached", 10, func(context.Context, domain.Payment) (FraudDecision, error) {
		reached = true
		return FraudDecision{Allowed: true}, nil
	})

	err := r.RunFraudChecks(context.Background(), testPayment(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "velocity limit exceeded")
	assert.False(t, reached)
}

func TestHookRegistry_FraudCheckAllowsClean(t *testing.T) {
	r := NewHookRegistry(zerolog.Nop())

	r.RegisterFraudCheck("screen", 10, func(context.Context, domain.Payment) (FraudDecision, error) {
		return FraudDecision{Allowed: true, Score: 0.1}, nil
	})

	assert.NoError(t, r.RunFraudChecks(context.Background(), testPayment(t)))
}

func TestHookRegistry_RoutingConfidenceThreshold(t *testing.T) {
	r := NewHookRegistry(zerolog.Nop())
	candidates := []string{"stripe", "razorpay"}

	r.RegisterRouting("hesitant", 20, func(context.Context, domain.Payment, []string) (RoutingSuggestion, error) {
		return RoutingSuggestion{Gateway: "stripe", Confidence: 0.5}, nil
	})
	r.RegisterRouting("confident", 10, func(context.Context, domain.Payment, []string) (RoutingSuggestion, error) {
		return RoutingSuggestion{Gateway: "razorpay", Confidence: 0.9}, nil
	})

	gateway, ok := r.SuggestRoute(context.Background(), testPayment(t), candidates)
	assert.True(t, ok)
	assert.Equal(t, "razorpay", gateway)
}

func TestHookRegistry_RoutingIgnoresUnknownGateway(t *testing.T) {
	r := NewHookRegistry(zerolog.Nop())

	r.RegisterRouting("confused", 10, func(context.Context, domain.Payment, []string) (RoutingSuggestion, error) {
		return RoutingSuggestion{Gateway: "not-registered", Confidence: 0.99}, nil
	})

	_, ok := r.SuggestRoute(context.Background(), testPayment(t), []string{"stripe"})
	assert.False(t, ok)
}

func TestHookRegistry_RoutingNoSuggestion(t *testing.T) {
	r := NewHookRegistry(zerolog.Nop())

	_, ok := r.SuggestRoute(context.Background(), testPayment(t), []string{"stripe"})
	assert.False(t, ok)
}

func TestHookRegistry_EnrichmentThreadsPayment(t *testing.T) {
	r := NewHookRegistry(zerolog.Nop())

	r.RegisterEnrichment("tagger", 20, func(_ context.Context, p domain.Payment) (domain.Payment, error) {
		if p.Metadata == nil {
			p.Metadata = map[string]string{}
		}
		p.Metadata["channel"] = "web"
		return p, nil
	})
	r.RegisterEnrichment("region", 10, func(_ context.Context, p domain.Payment) (domain.Payment, error) {
		p.Metadata["region"] = "us-east"
		return p, nil
	})

	enriched, err := r.RunEnrichment(context.Background(), testPayment(t))
	require.NoError(t, err)
	assert.Equal(t, "web", enriched.Metadata["channel"])
	assert.Equal(t, "us-east", enriched.Metadata["region"])
}

func TestHookRegistry_EventListenersAllRun(t *testing.T) {
	r := NewHookRegistry(zerolog.Nop())
	var mu sync.Mutex
	seen := map[string]bool{}

	for _, name := range []string{"audit", "webhook", "analytics"} {
		name := name
		r.RegisterEventListener(name, 10, func(context.Context, domain.Event) error {
			mu.Lock()
			seen[name] = true
			mu.Unlock()
			return nil
		})
	}

	p := testPayment(t)
	event, err := domain.NewEvent(domain.EventPaymentInitiated, p, domain.PaymentInitiatedPayload{Payment: p}, time.Now().UTC())
	require.NoError(t, err)
	r.EmitEvent(context.Background(), event)

	assert.Len(t, seen, 3)
}

func TestHookRegistry_EventListenerFailureIsIsolated(t *testing.T) {
	r := NewHookRegistry(zerolog.Nop())
	var mu sync.Mutex
	ran := false

	r.RegisterEventListener("broken", 10, func(context.Context, domain.Event) error {
		return errors.New("downstream unavailable")
	})
	r.RegisterEventListener("panicky", 15, func(context.Context, domain.Event) error {
		panic("listener bug")
	})
	r.RegisterEventListener("healthy", 20, func(context.Context, domain.Event) error {
		mu.Lock()
		ran = true
		mu.Unlock()
		return nil
	})

	p := testPayment(t)
	event, err := domain.NewEvent(domain.EventPaymentInitiated, p, domain.PaymentInitiatedPayload{Payment: p}, time.Now().UTC())
	require.NoError(t, err)
	r.EmitEvent(context.Background(), event)

	assert.True(t, ran)
}

func TestHookRegistry_DisabledHookSkipped(t *testing.T) {
	r := NewHookRegistry(zerolog.Nop())
	calls := 0

	r.RegisterPreValidation("toggle", 10, func(context.Context, domain.Payment) error {
		calls++
		return nil
	})

	require.True(t, r.SetEnabled("toggle", false))
	require.NoError(t, r.RunPreValidation(context.Background(), testPayment(t)))
	assert.Zero(t, calls)

	require.True(t, r.SetEnabled("toggle", true))
	require.NoError(t, r.RunPreValidation(context.Background(), testPayment(t)))
	assert.Equal(t, 1, calls)

	assert.False(t, r.SetEnabled("missing", true))
}

func TestHookRegistry_ErrorHandlersObserveFailure(t *testing.T) {
	r := NewHookRegistry(zerolog.Nop())
	var got error

	r.RegisterErrorHandler("alerter", 10, func(_ context.Context, _ domain.Payment, err error) {
		got = err
	})

	failure := apperror.ErrCircuitOpen("stripe")
	r.RunErrorHandlers(context.Background(), testPayment(t), failure)
	assert.Equal(t, failure, got)
}
