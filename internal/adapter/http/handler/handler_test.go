package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payment-orchestration-core/config"
	"payment-orchestration-core/internal/adapter/http/dto"
	"payment-orchestration-core/internal/core/domain"
	"payment-orchestration-core/internal/service"
	"payment-orchestration-core/pkg/apperror"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var testJWT = config.JWTConfig{Secret: "test-secret", Issuer: "payment-core-test"}

// fakeOrchestrator satisfies PaymentOrchestrator and AdminOrchestrator with
// canned responses.
type fakeOrchestrator struct {
	payment     domain.Payment
	events      []domain.Event
	createErr   error
	processErr  error
	refundErr   error
	lastCreate  service.CreatePaymentRequest
	lastProcess uuid.UUID
	lastRefund  service.RefundRequest
}

func (f *fakeOrchestrator) CreatePayment(_ context.Context, req service.CreatePaymentRequest) (domain.Payment, error) {
	f.lastCreate = req
	if f.createErr != nil {
		return domain.Payment{}, f.createErr
	}
	return f.payment, nil
}

func (f *fakeOrchestrator) ProcessPayment(_ context.Context, id uuid.UUID) (domain.Payment, error) {
	f.lastProcess = id
	if f.processErr != nil {
		return domain.Payment{}, f.processErr
	}
	return f.payment, nil
}

func (f *fakeOrchestrator) RefundPayment(_ context.Context, req service.RefundRequest) (domain.Payment, error) {
	f.lastRefund = req
	if f.refundErr != nil {
		return domain.Payment{}, f.refundErr
	}
	return f.payment, nil
}

func (f *fakeOrchestrator) GetPayment(_ context.Context, id uuid.UUID) (domain.Payment, error) {
	if id != f.payment.ID {
		return domain.Payment{}, apperror.ErrNotFound("payment")
	}
	return f.payment, nil
}

func (f *fakeOrchestrator) GetCustomerPayments(context.Context, string) ([]domain.Payment, error) {
	return []domain.Payment{f.payment}, nil
}

func (f *fakeOrchestrator) GetPaymentEvents(context.Context, uuid.UUID) ([]domain.Event, error) {
	return f.events, nil
}

func (f *fakeOrchestrator) GetMetrics() map[string]service.GatewayMetrics {
	return map[string]service.GatewayMetrics{}
}

func (f *fakeOrchestrator) GetHealthSummary() map[string]service.BreakerHealth {
	return map[string]service.BreakerHealth{}
}

func (f *fakeOrchestrator) TotalRetries() int64 { return 0 }

type fakeRecoverer struct{ report service.RecoveryReport }

func (f *fakeRecoverer) RecoverInFlight(context.Context) (service.RecoveryReport, error) {
	return f.report, nil
}

type fakeCleaner struct{ removed int }

func (f *fakeCleaner) Cleanup(context.Context) (int, error) { return f.removed, nil }

func settledPayment(t *testing.T, merchantID string) domain.Payment {
	t.Helper()
	amount, err := domain.NewMoney(10000, "USD")
	require.NoError(t, err)
	method := domain.PaymentMethod{
		Type: domain.MethodCard,
		Card: &domain.CardDetails{Last4: "4242", Network: "visa", ExpiryMonth: 12, ExpiryYear: 2030, Token: "tok_abc"},
	}
	now := time.Now().UTC()
	p, err := domain.NewPayment("key-1", merchantID, "c1", amount, method, nil, now)
	require.NoError(t, err)
	p, err = p.Authenticate("alpha", now)
	require.NoError(t, err)
	p, err = p.StartProcessing("sim_alpha_1", now)
	require.NoError(t, err)
	p, err = p.MarkSuccess(now)
	require.NoError(t, err)
	return p
}

func signToken(t *testing.T, merchantID string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"merchant_id": merchantID,
		"iss":         testJWT.Issuer,
		"exp":         time.Now().Add(time.Hour).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWT.Secret))
	require.NoError(t, err)
	return token
}

func newTestRouter(orch *fakeOrchestrator) *gin.Engine {
	return SetupRouter(RouterDeps{
		Orchestrator: orch,
		Recoverer:    &fakeRecoverer{report: service.RecoveryReport{Scanned: 3, Recovered: 1}},
		Cleaner:      &fakeCleaner{removed: 5},
		JWT:          testJWT,
		Logger:       zerolog.Nop(),
	})
}

func doJSON(t *testing.T, r *gin.Engine, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreatePayment_Success(t *testing.T) {
	orch := &fakeOrchestrator{payment: settledPayment(t, "m1")}
	r := newTestRouter(orch)

	w := doJSON(t, r, http.MethodPost, "/api/v1/payments", signToken(t, "m1"), dto.CreatePaymentRequest{
		IdempotencyKey: "key-1",
		CustomerID:     "c1",
		Amount:         10000,
		Currency:       "USD",
		Method:         orch.payment.Method,
	})

	assert.Equal(t, http.StatusCreated, w.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp["data"].(map[string]any)
	assert.Equal(t, "SUCCESS", data["state"])
	assert.Equal(t, float64(10000), data["amount"])

	// The merchant id comes from the token, never the body.
	assert.Equal(t, "m1", orch.lastCreate.MerchantID)
	assert.NotEmpty(t, resp["request_id"])
}

func TestCreatePayment_BindingError(t *testing.T) {
	orch := &fakeOrchestrator{payment: settledPayment(t, "m1")}
	r := newTestRouter(orch)

	w := doJSON(t, r, http.MethodPost, "/api/v1/payments", signToken(t, "m1"), gin.H{"amount": -5})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, apperror.CodeValidation, resp["error_code"])
}

func TestCreatePayment_RequiresToken(t *testing.T) {
	orch := &fakeOrchestrator{payment: settledPayment(t, "m1")}
	r := newTestRouter(orch)

	w := doJSON(t, r, http.MethodPost, "/api/v1/payments", "", dto.CreatePaymentRequest{})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, r, http.MethodPost, "/api/v1/payments", "not-a-jwt", dto.CreatePaymentRequest{})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGetPayment_CrossMerchantLooksMissing(t *testing.T) {
	orch := &fakeOrchestrator{payment: settledPayment(t, "m1")}
	r := newTestRouter(orch)

	w := doJSON(t, r, http.MethodGet, "/api/v1/payments/"+orch.payment.ID.String(), signToken(t, "m2"), nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, apperror.CodeNotFound, resp["error_code"])
}

func TestGetPayment_InvalidID(t *testing.T) {
	orch := &fakeOrchestrator{payment: settledPayment(t, "m1")}
	r := newTestRouter(orch)

	w := doJSON(t, r, http.MethodGet, "/api/v1/payments/not-a-uuid", signToken(t, "m1"), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRefundPayment_Success(t *testing.T) {
	orch := &fakeOrchestrator{payment: settledPayment(t, "m1")}
	r := newTestRouter(orch)

	w := doJSON(t, r, http.MethodPost, "/api/v1/payments/"+orch.payment.ID.String()+"/refund", signToken(t, "m1"), dto.RefundRequest{
		IdempotencyKey: "refund-1",
		Amount:         4000,
		Currency:       "USD",
	})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, orch.payment.ID, orch.lastRefund.PaymentID)
	assert.Equal(t, int64(4000), orch.lastRefund.Amount)
	assert.Equal(t, "m1", orch.lastRefund.MerchantID)
}

func TestProcessPayment_Success(t *testing.T) {
	orch := &fakeOrchestrator{payment: settledPayment(t, "m1")}
	r := newTestRouter(orch)

	w := doJSON(t, r, http.MethodPost, "/api/v1/payments/"+orch.payment.ID.String()+"/process", signToken(t, "m1"), nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, orch.payment.ID, orch.lastProcess)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp["data"].(map[string]any)
	assert.Equal(t, "SUCCESS", data["state"])
}

func TestProcessPayment_CrossMerchantLooksMissing(t *testing.T) {
	orch := &fakeOrchestrator{payment: settledPayment(t, "m1")}
	r := newTestRouter(orch)

	w := doJSON(t, r, http.MethodPost, "/api/v1/payments/"+orch.payment.ID.String()+"/process", signToken(t, "m2"), nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, uuid.Nil, orch.lastProcess)
}

func TestProcessPayment_TerminalConflict(t *testing.T) {
	orch := &fakeOrchestrator{
		payment:    settledPayment(t, "m1"),
		processErr: apperror.ErrInvalidTransition("SUCCESS", "AUTHENTICATED"),
	}
	r := newTestRouter(orch)

	w := doJSON(t, r, http.MethodPost, "/api/v1/payments/"+orch.payment.ID.String()+"/process", signToken(t, "m1"), nil)

	assert.Equal(t, http.StatusConflict, w.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, apperror.CodeInvalidTransition, resp["error_code"])
}

func TestGetPaymentEvents(t *testing.T) {
	payment := settledPayment(t, "m1")
	orch := &fakeOrchestrator{
		payment: payment,
		events: []domain.Event{
			{EventID: uuid.New(), EventType: domain.EventPaymentInitiated, AggregateID: payment.ID, Version: 1, Timestamp: time.Now().UTC(), Payload: json.RawMessage(`{"amount":10000}`)},
		},
	}
	r := newTestRouter(orch)

	w := doJSON(t, r, http.MethodGet, "/api/v1/payments/"+payment.ID.String()+"/events", signToken(t, "m1"), nil)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp["data"].([]any)
	require.Len(t, data, 1)
	event := data[0].(map[string]any)
	assert.Equal(t, string(domain.EventPaymentInitiated), event["event_type"])
	assert.Equal(t, float64(1), event["version"])
}

func TestAdminEndpoints(t *testing.T) {
	orch := &fakeOrchestrator{payment: settledPayment(t, "m1")}
	r := newTestRouter(orch)
	token := signToken(t, "ops")

	w := doJSON(t, r, http.MethodPost, "/api/v1/admin/recovery", token, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp["data"].(map[string]any)
	assert.Equal(t, float64(3), data["scanned"])
	assert.Equal(t, float64(1), data["recovered"])

	w = doJSON(t, r, http.MethodPost, "/api/v1/admin/cleanup", token, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data = resp["data"].(map[string]any)
	assert.Equal(t, float64(5), data["removed"])

	w = doJSON(t, r, http.MethodGet, "/api/v1/admin/metrics", token, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHealthEndpoint(t *testing.T) {
	orch := &fakeOrchestrator{payment: settledPayment(t, "m1")}
	r := newTestRouter(orch)

	w := doJSON(t, r, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp["status"])
}
