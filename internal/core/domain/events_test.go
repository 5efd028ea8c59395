package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payment-orchestration-core/pkg/apperror"
)

// buildStream drives a payment through the happy path and returns the
// events exactly as the orchestrator would append them.
func buildStream(t *testing.T) (Payment, []Event) {
	t.Helper()
	now := time.Now().UTC()
	p := testPayment(t)

	e1, err := NewEvent(EventPaymentInitiated, p, PaymentInitiatedPayload{Payment: p}, now)
	require.NoError(t, err)

	p2, _ := p.Authenticate("stripe", now.Add(time.Second))
	e2, err := NewEvent(EventPaymentAuthenticated, p2, PaymentAuthenticatedPayload{GatewayType: "stripe"}, now.Add(time.Second))
	require.NoError(t, err)

	p3, _ := p2.StartProcessing("gw_tx_1", now.Add(2*time.Second))
	e3, err := NewEvent(EventPaymentProcessing, p3, PaymentProcessingPayload{GatewayType: "stripe", GatewayTransactionID: "gw_tx_1"}, now.Add(2*time.Second))
	require.NoError(t, err)

	p4, _ := p3.MarkSuccess(now.Add(3 * time.Second))
	e4, err := NewEvent(EventPaymentSucceeded, p4, PaymentSucceededPayload{GatewayType: "stripe", GatewayTransactionID: "gw_tx_1", Amount: p.Amount}, now.Add(3*time.Second))
	require.NoError(t, err)

	return p4, []Event{e1, e2, e3, e4}
}

func TestNewEvent_VersionTracksPayment(t *testing.T) {
	final, events := buildStream(t)
	assert.Equal(t, int64(4), final.Version)
	for i, e := range events {
		assert.Equal(t, int64(i+1), e.Version)
		assert.Equal(t, final.ID, e.AggregateID)
	}
	assert.True(t, events[3].IsTerminal())
	assert.False(t, events[0].IsTerminal())
}

func TestReplayPayment_HappyPath(t *testing.T) {
	final, events := buildStream(t)

	replayed, err := ReplayPayment(final.ID, events)
	require.NoError(t, err)
	assert.Equal(t, PaymentStateSuccess, replayed.State)
	assert.Equal(t, final.Version, replayed.Version)
	assert.Equal(t, final.GatewayTransactionID, replayed.GatewayTransactionID)
	assert.Equal(t, final.Amount, replayed.Amount)
}

func TestReplayPayment_FailureStream(t *testing.T) {
	now := time.Now().UTC()
	p := testPayment(t)
	e1, _ := NewEvent(EventPaymentInitiated, p, PaymentInitiatedPayload{Payment: p}, now)
	p2, _ := p.MarkFailure("card declined", now)
	e2, _ := NewEvent(EventPaymentFailed, p2, PaymentFailedPayload{Reason: "card declined", CanRetry: true}, now)

	replayed, err := ReplayPayment(p.ID, []Event{e1, e2})
	require.NoError(t, err)
	assert.Equal(t, PaymentStateFailure, replayed.State)
	assert.Equal(t, "card declined", replayed.FailureReason)
}

func TestReplayPayment_GapDetected(t *testing.T) {
	final, events := buildStream(t)

	// Drop v2: stream 1,3,4 is not contiguous.
	gapped := []Event{events[0], events[2], events[3]}
	_, err := ReplayPayment(final.ID, gapped)
	assert.True(t, apperror.IsCode(err, apperror.CodeEventContinuity))
}

func TestReplayPayment_WrongAggregate(t *testing.T) {
	final, events := buildStream(t)
	events[1].AggregateID = uuid.New()
	_, err := ReplayPayment(final.ID, events)
	assert.True(t, apperror.IsCode(err, apperror.CodeEventContinuity))
}

func TestReplayPayment_Empty(t *testing.T) {
	_, err := ReplayPayment(uuid.New(), nil)
	assert.True(t, apperror.IsCode(err, apperror.CodeNotFound))
}

func TestValidateContinuity(t *testing.T) {
	final, events := buildStream(t)
	assert.NoError(t, ValidateContinuity(final.ID, events))
	assert.Error(t, ValidateContinuity(final.ID, events[1:]))
}
