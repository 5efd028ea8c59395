package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"payment-orchestration-core/pkg/apperror"
)

// PaymentState represents the lifecycle state of a payment.
type PaymentState string

const (
	PaymentStateInitiated     PaymentState = "INITIATED"
	PaymentStateAuthenticated PaymentState = "AUTHENTICATED"
	PaymentStateProcessing    PaymentState = "PROCESSING"
	PaymentStateSuccess       PaymentState = "SUCCESS"
	PaymentStateFailure       PaymentState = "FAILURE"
)

// transitions is the authoritative table. Anything not listed is invalid.
var transitions = map[PaymentState][]PaymentState{
	PaymentStateInitiated:     {PaymentStateAuthenticated, PaymentStateFailure},
	PaymentStateAuthenticated: {PaymentStateProcessing, PaymentStateFailure},
	PaymentStateProcessing:    {PaymentStateSuccess, PaymentStateFailure},
	PaymentStateSuccess:       {},
	PaymentStateFailure:       {},
}

// CanTransition reports whether from -> to is in the transition table.
func CanTransition(from, to PaymentState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminalState reports whether the state permits no further transitions.
func IsTerminalState(s PaymentState) bool {
	return s == PaymentStateSuccess || s == PaymentStateFailure
}

// Payment is the aggregate. It is immutable: every mutator returns a new
// value with Version incremented and UpdatedAt advanced. In-place mutation
// would break the optimistic-lock and event-version guarantees.
type Payment struct {
	ID                   uuid.UUID         `json:"id"`
	IdempotencyKey       string            `json:"idempotency_key"`
	MerchantID           string            `json:"merchant_id"`
	CustomerID           string            `json:"customer_id"`
	State                PaymentState      `json:"state"`
	Amount               Money             `json:"amount"`
	Method               PaymentMethod     `json:"method"`
	Metadata             map[string]string `json:"metadata,omitempty"`
	GatewayType          string            `json:"gateway_type,omitempty"`
	GatewayTransactionID string            `json:"gateway_transaction_id,omitempty"`
	FailureReason        string            `json:"failure_reason,omitempty"`
	RefundedAmount       *Money            `json:"refunded_amount,omitempty"`
	RetryCount           int               `json:"retry_count"`
	Version              int64             `json:"version"`
	CreatedAt            time.Time         `json:"created_at"`
	UpdatedAt            time.Time         `json:"updated_at"`
}

// NewPayment constructs a payment in INITIATED at version 1.
func NewPayment(idempotencyKey, merchantID, customerID string, amount Money, method PaymentMethod, metadata map[string]string, now time.Time) (Payment, error) {
	if idempotencyKey == "" {
		return Payment{}, fmt.Errorf("idempotency key must not be empty")
	}
	if merchantID == "" {
		return Payment{}, fmt.Errorf("merchant id must not be empty")
	}
	if err := method.Validate(); err != nil {
		return Payment{}, err
	}
	return Payment{
		ID:             uuid.New(),
		IdempotencyKey: idempotencyKey,
		MerchantID:     merchantID,
		CustomerID:     customerID,
		State:          PaymentStateInitiated,
		Amount:         amount,
		Method:         method,
		Metadata:       metadata,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// IsTerminal reports whether the payment is in a final state.
func (p Payment) IsTerminal() bool {
	return IsTerminalState(p.State)
}

// CanRetry reports whether another orchestration attempt is permitted.
func (p Payment) CanRetry(maxRetries int) bool {
	return p.RetryCount < maxRetries
}

func (p Payment) transitionTo(to PaymentState, now time.Time) (Payment, error) {
	if !CanTransition(p.State, to) {
		return Payment{}, apperror.ErrInvalidTransition(string(p.State), string(to))
	}
	next := p
	next.State = to
	next.Version++
	next.UpdatedAt = now
	return next, nil
}

// Authenticate moves INITIATED -> AUTHENTICATED, recording the selected gateway.
func (p Payment) Authenticate(gatewayType string, now time.Time) (Payment, error) {
	if gatewayType == "" {
		return Payment{}, fmt.Errorf("gateway type must not be empty")
	}
	next, err := p.transitionTo(PaymentStateAuthenticated, now)
	if err != nil {
		return Payment{}, err
	}
	next.GatewayType = gatewayType
	return next, nil
}

// StartProcessing moves AUTHENTICATED -> PROCESSING, recording the gateway
// transaction id.
func (p Payment) StartProcessing(gatewayTransactionID string, now time.Time) (Payment, error) {
	if gatewayTransactionID == "" {
		return Payment{}, fmt.Errorf("gateway transaction id must not be empty")
	}
	next, err := p.transitionTo(PaymentStateProcessing, now)
	if err != nil {
		return Payment{}, err
	}
	next.GatewayTransactionID = gatewayTransactionID
	return next, nil
}

// MarkSuccess moves PROCESSING -> SUCCESS.
func (p Payment) MarkSuccess(now time.Time) (Payment, error) {
	return p.transitionTo(PaymentStateSuccess, now)
}

// MarkFailure moves any non-terminal state -> FAILURE with a reason.
func (p Payment) MarkFailure(reason string, now time.Time) (Payment, error) {
	if reason == "" {
		reason = "unknown failure"
	}
	next, err := p.transitionTo(PaymentStateFailure, now)
	if err != nil {
		return Payment{}, err
	}
	next.FailureReason = reason
	return next, nil
}

// WithRetryAttempt records an orchestration-level retry (e.g. gateway
// fallback). State is unchanged; the version bump pairs with the
// RETRY_ATTEMPTED event.
func (p Payment) WithRetryAttempt(now time.Time) (Payment, error) {
	if p.IsTerminal() {
		return Payment{}, apperror.ErrInvalidTransition(string(p.State), string(p.State))
	}
	next := p
	next.RetryCount++
	next.Version++
	next.UpdatedAt = now
	return next, nil
}

// WithRefund records a refund against a successful payment. SUCCESS stays
// terminal; the refund lives in events and the refunded amount.
func (p Payment) WithRefund(amount Money, now time.Time) (Payment, error) {
	if p.State != PaymentStateSuccess {
		return Payment{}, apperror.ErrNotRefundable(string(p.State))
	}
	total := amount
	if p.RefundedAmount != nil {
		var err error
		total, err = p.RefundedAmount.Add(amount)
		if err != nil {
			return Payment{}, err
		}
	}
	if exceeds, err := p.Amount.LessThan(total); err != nil {
		return Payment{}, err
	} else if exceeds {
		return Payment{}, fmt.Errorf("refund total %s exceeds payment amount %s", total, p.Amount)
	}
	next := p
	next.RefundedAmount = &total
	next.Version++
	next.UpdatedAt = now
	return next, nil
}
