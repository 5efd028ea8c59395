package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"payment-orchestration-core/pkg/apperror"
)

// EventType enumerates the payment event stream vocabulary.
type EventType string

const (
	EventPaymentInitiated      EventType = "PAYMENT_INITIATED"
	EventPaymentAuthenticated  EventType = "PAYMENT_AUTHENTICATED"
	EventPaymentProcessing     EventType = "PAYMENT_PROCESSING"
	EventPaymentSucceeded      EventType = "PAYMENT_SUCCEEDED"
	EventPaymentFailed         EventType = "PAYMENT_FAILED"
	EventPaymentRetryAttempted EventType = "PAYMENT_RETRY_ATTEMPTED"
	EventPaymentRefunded       EventType = "PAYMENT_REFUNDED"
)

// Event is one entry in an aggregate's append-only stream. Versions for one
// aggregate are strictly contiguous starting at 1. The JSON shape is a
// public contract.
type Event struct {
	EventID     uuid.UUID       `json:"event_id"`
	EventType   EventType       `json:"event_type"`
	AggregateID uuid.UUID       `json:"aggregate_id"`
	Version     int64           `json:"version"`
	Timestamp   time.Time       `json:"timestamp"`
	Payload     json.RawMessage `json:"payload"`
}

// IsTerminal reports whether the event ends the lifecycle.
func (e Event) IsTerminal() bool {
	return e.EventType == EventPaymentSucceeded || e.EventType == EventPaymentFailed
}

// Event payloads, one struct per type.

type PaymentInitiatedPayload struct {
	Payment Payment `json:"payment"`
}

type PaymentAuthenticatedPayload struct {
	GatewayType string `json:"gateway_type"`
}

type PaymentProcessingPayload struct {
	GatewayType          string `json:"gateway_type"`
	GatewayTransactionID string `json:"gateway_transaction_id"`
}

type PaymentSucceededPayload struct {
	GatewayType          string `json:"gateway_type"`
	GatewayTransactionID string `json:"gateway_transaction_id"`
	Amount               Money  `json:"amount"`
}

type PaymentFailedPayload struct {
	Reason   string `json:"reason"`
	CanRetry bool   `json:"can_retry"`
}

type PaymentRetryAttemptedPayload struct {
	RetryCount       int    `json:"retry_count"`
	PreviousGateway  string `json:"previous_gateway,omitempty"`
	FallbackGateway  string `json:"fallback_gateway,omitempty"`
	TriggeringReason string `json:"triggering_reason,omitempty"`
}

type PaymentRefundedPayload struct {
	Amount        Money  `json:"amount"`
	RefundedTotal Money  `json:"refunded_total"`
	GatewayRefID  string `json:"gateway_ref_id,omitempty"`
}

// NewEvent builds an event for the payment's current version. The payload
// must be JSON-marshalable.
func NewEvent(eventType EventType, p Payment, payload any, now time.Time) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Event{
		EventID:     uuid.New(),
		EventType:   eventType,
		AggregateID: p.ID,
		Version:     p.Version,
		Timestamp:   now,
		Payload:     raw,
	}, nil
}

// ValidateContinuity checks that events form versions 1..n in order.
func ValidateContinuity(aggregateID uuid.UUID, events []Event) error {
	for i, e := range events {
		want := int64(i + 1)
		if e.Version != want {
			return apperror.ErrEventContinuity(aggregateID.String(),
				fmt.Sprintf("position %d has version %d, want %d", i, e.Version, want))
		}
		if e.AggregateID != aggregateID {
			return apperror.ErrEventContinuity(aggregateID.String(),
				fmt.Sprintf("event %s belongs to aggregate %s", e.EventID, e.AggregateID))
		}
	}
	return nil
}

// ReplayPayment reconstructs a payment by left-folding its ordered event
// stream starting from the empty state. The stream must be contiguous.
func ReplayPayment(aggregateID uuid.UUID, events []Event) (Payment, error) {
	if len(events) == 0 {
		return Payment{}, apperror.ErrNotFound("payment event stream")
	}
	if err := ValidateContinuity(aggregateID, events); err != nil {
		return Payment{}, err
	}

	var state Payment
	for _, e := range events {
		next, err := applyEvent(state, e)
		if err != nil {
			return Payment{}, err
		}
		state = next
	}
	return state, nil
}

// applyEvent is the type-dispatched reducer used by ReplayPayment.
func applyEvent(state Payment, e Event) (Payment, error) {
	switch e.EventType {
	case EventPaymentInitiated:
		var p PaymentInitiatedPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return Payment{}, fmt.Errorf("unmarshal %s payload: %w", e.EventType, err)
		}
		return p.Payment, nil

	case EventPaymentAuthenticated:
		var p PaymentAuthenticatedPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return Payment{}, fmt.Errorf("unmarshal %s payload: %w", e.EventType, err)
		}
		return state.Authenticate(p.GatewayType, e.Timestamp)

	case EventPaymentProcessing:
		var p PaymentProcessingPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return Payment{}, fmt.Errorf("unmarshal %s payload: %w", e.EventType, err)
		}
		return state.StartProcessing(p.GatewayTransactionID, e.Timestamp)

	case EventPaymentSucceeded:
		return state.MarkSuccess(e.Timestamp)

	case EventPaymentFailed:
		var p PaymentFailedPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return Payment{}, fmt.Errorf("unmarshal %s payload: %w", e.EventType, err)
		}
		return state.MarkFailure(p.Reason, e.Timestamp)

	case EventPaymentRetryAttempted:
		return state.WithRetryAttempt(e.Timestamp)

	case EventPaymentRefunded:
		var p PaymentRefundedPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return Payment{}, fmt.Errorf("unmarshal %s payload: %w", e.EventType, err)
		}
		return state.WithRefund(p.Amount, e.Timestamp)

	default:
		return Payment{}, fmt.Errorf("unknown event type %q at version %d", e.EventType, e.Version)
	}
}
