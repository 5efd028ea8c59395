package dto

import (
	"payment-orchestration-core/internal/core/domain"
)

// CreatePaymentRequest is the request body for payment creation.
type CreatePaymentRequest struct {
	IdempotencyKey string               `json:"idempotency_key" binding:"required,max=100"`
	CustomerID     string               `json:"customer_id" binding:"required,max=100"`
	Amount         int64                `json:"amount" binding:"required,gt=0"`
	Currency       string               `json:"currency" binding:"required,len=3"`
	Method         domain.PaymentMethod `json:"method" binding:"required"`
	Metadata       map[string]string    `json:"metadata,omitempty"`
}

// RefundRequest is the request body for refunds.
type RefundRequest struct {
	IdempotencyKey string `json:"idempotency_key" binding:"required,max=100"`
	Amount         int64  `json:"amount" binding:"required,gt=0"`
	Currency       string `json:"currency" binding:"required,len=3"`
}

// PaymentResponse is the response body for payment state.
type PaymentResponse struct {
	ID                   string            `json:"id"`
	State                string            `json:"state"`
	Amount               int64             `json:"amount"`
	Currency             string            `json:"currency"`
	CustomerID           string            `json:"customer_id"`
	GatewayType          string            `json:"gateway_type,omitempty"`
	GatewayTransactionID string            `json:"gateway_transaction_id,omitempty"`
	FailureReason        string            `json:"failure_reason,omitempty"`
	RefundedAmount       *int64            `json:"refunded_amount,omitempty"`
	RetryCount           int               `json:"retry_count"`
	Version              int64             `json:"version"`
	Metadata             map[string]string `json:"metadata,omitempty"`
	CreatedAt            string            `json:"created_at"`
	UpdatedAt            string            `json:"updated_at"`
}

// EventResponse is one entry of a payment's event stream.
type EventResponse struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	Version   int64  `json:"version"`
	Timestamp string `json:"timestamp"`
	Payload   any    `json:"payload,omitempty"`
}

// RecoveryResponse reports the outcome of an in-flight recovery sweep.
type RecoveryResponse struct {
	Scanned    int `json:"scanned"`
	InFlight   int `json:"in_flight"`
	Recovered  int `json:"recovered"`
	StillOpen  int `json:"still_open"`
	Unresolved int `json:"unresolved"`
}

// CleanupResponse reports how many idempotency records a sweep removed.
type CleanupResponse struct {
	Removed int `json:"removed"`
}
