package handler

import (
	"context"
	"encoding/json"
	"time"

	"payment-orchestration-core/internal/adapter/http/dto"
	"payment-orchestration-core/internal/adapter/http/middleware"
	"payment-orchestration-core/internal/core/domain"
	"payment-orchestration-core/internal/service"
	"payment-orchestration-core/pkg/apperror"
	"payment-orchestration-core/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// PaymentOrchestrator is the slice of the orchestration service the payment
// endpoints need.
type PaymentOrchestrator interface {
	CreatePayment(ctx context.Context, req service.CreatePaymentRequest) (domain.Payment, error)
	ProcessPayment(ctx context.Context, id uuid.UUID) (domain.Payment, error)
	RefundPayment(ctx context.Context, req service.RefundRequest) (domain.Payment, error)
	GetPayment(ctx context.Context, id uuid.UUID) (domain.Payment, error)
	GetCustomerPayments(ctx context.Context, customerID string) ([]domain.Payment, error)
	GetPaymentEvents(ctx context.Context, id uuid.UUID) ([]domain.Event, error)
}

// PaymentHandler handles merchant payment endpoints.
type PaymentHandler struct {
	orch PaymentOrchestrator
}

// NewPaymentHandler creates a new PaymentHandler.
func NewPaymentHandler(orch PaymentOrchestrator) *PaymentHandler {
	return &PaymentHandler{orch: orch}
}

func merchantID(c *gin.Context) (string, bool) {
	id, ok := c.Get(middleware.CtxMerchantID)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return "", false
	}
	return id.(string), true
}

// CreatePayment handles POST /api/v1/payments.
func (h *PaymentHandler) CreatePayment(c *gin.Context) {
	merchant, ok := merchantID(c)
	if !ok {
		return
	}

	var req dto.CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	payment, err := h.orch.CreatePayment(c.Request.Context(), service.CreatePaymentRequest{
		IdempotencyKey: req.IdempotencyKey,
		MerchantID:     merchant,
		CustomerID:     req.CustomerID,
		Amount:         req.Amount,
		Currency:       req.Currency,
		Method:         req.Method,
		Metadata:       req.Metadata,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, toPaymentResponse(payment))
}

// ProcessPayment handles POST /api/v1/payments/:id/process.
func (h *PaymentHandler) ProcessPayment(c *gin.Context) {
	merchant, ok := merchantID(c)
	if !ok {
		return
	}

	paymentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid payment id"))
		return
	}

	current, err := h.orch.GetPayment(c.Request.Context(), paymentID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if current.MerchantID != merchant {
		response.Error(c, apperror.ErrNotFound("payment"))
		return
	}

	payment, err := h.orch.ProcessPayment(c.Request.Context(), paymentID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, toPaymentResponse(payment))
}

// RefundPayment handles POST /api/v1/payments/:id/refund.
func (h *PaymentHandler) RefundPayment(c *gin.Context) {
	merchant, ok := merchantID(c)
	if !ok {
		return
	}

	paymentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid payment id"))
		return
	}

	var req dto.RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	payment, err := h.orch.RefundPayment(c.Request.Context(), service.RefundRequest{
		IdempotencyKey: req.IdempotencyKey,
		MerchantID:     merchant,
		PaymentID:      paymentID,
		Amount:         req.Amount,
		Currency:       req.Currency,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, toPaymentResponse(payment))
}

// GetPayment handles GET /api/v1/payments/:id.
func (h *PaymentHandler) GetPayment(c *gin.Context) {
	merchant, ok := merchantID(c)
	if !ok {
		return
	}

	paymentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid payment id"))
		return
	}

	payment, err := h.orch.GetPayment(c.Request.Context(), paymentID)
	if err != nil {
		response.Error(c, err)
		return
	}
	// Cross-merchant reads look like a missing payment.
	if payment.MerchantID != merchant {
		response.Error(c, apperror.ErrNotFound("payment"))
		return
	}

	response.OK(c, toPaymentResponse(payment))
}

// ListCustomerPayments handles GET /api/v1/customers/:id/payments.
func (h *PaymentHandler) ListCustomerPayments(c *gin.Context) {
	merchant, ok := merchantID(c)
	if !ok {
		return
	}

	payments, err := h.orch.GetCustomerPayments(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	out := make([]dto.PaymentResponse, 0, len(payments))
	for _, p := range payments {
		if p.MerchantID != merchant {
			continue
		}
		out = append(out, toPaymentResponse(p))
	}
	response.OK(c, out)
}

// GetPaymentEvents handles GET /api/v1/payments/:id/events.
func (h *PaymentHandler) GetPaymentEvents(c *gin.Context) {
	merchant, ok := merchantID(c)
	if !ok {
		return
	}

	paymentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid payment id"))
		return
	}

	payment, err := h.orch.GetPayment(c.Request.Context(), paymentID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if payment.MerchantID != merchant {
		response.Error(c, apperror.ErrNotFound("payment"))
		return
	}

	events, err := h.orch.GetPaymentEvents(c.Request.Context(), paymentID)
	if err != nil {
		response.Error(c, err)
		return
	}

	out := make([]dto.EventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, toEventResponse(e))
	}
	response.OK(c, out)
}

// toPaymentResponse converts domain.Payment to its DTO.
func toPaymentResponse(p domain.Payment) dto.PaymentResponse {
	resp := dto.PaymentResponse{
		ID:                   p.ID.String(),
		State:                string(p.State),
		Amount:               p.Amount.Amount,
		Currency:             p.Amount.Currency,
		CustomerID:           p.CustomerID,
		GatewayType:          p.GatewayType,
		GatewayTransactionID: p.GatewayTransactionID,
		FailureReason:        p.FailureReason,
		RetryCount:           p.RetryCount,
		Version:              p.Version,
		Metadata:             p.Metadata,
		CreatedAt:            p.CreatedAt.Format(time.RFC3339),
		UpdatedAt:            p.UpdatedAt.Format(time.RFC3339),
	}
	if p.RefundedAmount != nil {
		amount := p.RefundedAmount.Amount
		resp.RefundedAmount = &amount
	}
	return resp
}

func toEventResponse(e domain.Event) dto.EventResponse {
	resp := dto.EventResponse{
		EventID:   e.EventID.String(),
		EventType: string(e.EventType),
		Version:   e.Version,
		Timestamp: e.Timestamp.Format(time.RFC3339),
	}
	if len(e.Payload) > 0 {
		var payload any
		if err := json.Unmarshal(e.Payload, &payload); err == nil {
			resp.Payload = payload
		}
	}
	return resp
}
