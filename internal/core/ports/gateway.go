package ports

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"payment-orchestration-core/internal/core/domain"
)

// GatewayErrorCode classifies processor failures.
type GatewayErrorCode string

const (
	GatewayErrNetwork           GatewayErrorCode = "NETWORK_ERROR"
	GatewayErrTimeout           GatewayErrorCode = "TIMEOUT"
	GatewayErrAuthFailed        GatewayErrorCode = "AUTH_FAILED"
	GatewayErrInsufficientFunds GatewayErrorCode = "INSUFFICIENT_FUNDS"
	GatewayErrInvalidCard       GatewayErrorCode = "INVALID_CARD"
	GatewayErrCardDeclined      GatewayErrorCode = "CARD_DECLINED"
	GatewayErrFraudDetected     GatewayErrorCode = "FRAUD_DETECTED"
	GatewayErrGateway           GatewayErrorCode = "GATEWAY_ERROR"
	GatewayErrInvalidRequest    GatewayErrorCode = "INVALID_REQUEST"
	GatewayErrRateLimit         GatewayErrorCode = "RATE_LIMIT_EXCEEDED"
	GatewayErrUnknown           GatewayErrorCode = "UNKNOWN"
)

// GatewayError is the failure half of every gateway result.
type GatewayError struct {
	Code      GatewayErrorCode `json:"code"`
	Message   string           `json:"message"`
	Gateway   string           `json:"gateway"`
	Retryable bool             `json:"retryable"`
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway %s: [%s] %s", e.Gateway, e.Code, e.Message)
}

// NewGatewayError builds a GatewayError with the retryable flag derived
// from the code. Network, timeout, rate-limit and generic gateway errors
// are retryable; declines and auth failures are not.
func NewGatewayError(gateway string, code GatewayErrorCode, message string) *GatewayError {
	retryable := false
	switch code {
	case GatewayErrNetwork, GatewayErrTimeout, GatewayErrRateLimit, GatewayErrGateway:
		retryable = true
	}
	return &GatewayError{Code: code, Message: message, Gateway: gateway, Retryable: retryable}
}

// AsGatewayError unwraps err into a *GatewayError if possible.
func AsGatewayError(err error) (*GatewayError, bool) {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr, true
	}
	return nil, false
}

// GatewayStatus is the processor's view of a transaction.
type GatewayStatus string

const (
	GatewayStatusPending GatewayStatus = "PENDING"
	GatewayStatusSuccess GatewayStatus = "SUCCESS"
	GatewayStatusFailed  GatewayStatus = "FAILED"
)

// GatewayRequest carries everything a processor needs for one call.
type GatewayRequest struct {
	PaymentID            uuid.UUID
	MerchantID           string
	Amount               domain.Money
	Method               domain.PaymentMethod
	Metadata             map[string]string
	GatewayTransactionID string // set for process/refund/status calls
}

// GatewayResponse is the success half of every gateway result.
type GatewayResponse struct {
	GatewayTransactionID string
	Status               GatewayStatus
	Message              string
}

// PaymentGateway is the uniform contract over external processors.
// Implementations return (*GatewayResponse, nil) or (nil, *GatewayError).
type PaymentGateway interface {
	Name() string
	Initiate(ctx context.Context, req GatewayRequest) (*GatewayResponse, error)
	Authenticate(ctx context.Context, req GatewayRequest) (*GatewayResponse, error)
	Process(ctx context.Context, req GatewayRequest) (*GatewayResponse, error)
	Refund(ctx context.Context, req GatewayRequest) (*GatewayResponse, error)
	GetStatus(ctx context.Context, gatewayTransactionID string) (*GatewayResponse, error)
	HealthCheck(ctx context.Context) error
}
