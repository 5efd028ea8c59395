package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"payment-orchestration-core/config"
	"payment-orchestration-core/internal/core/domain"
	"payment-orchestration-core/internal/core/ports"
	"payment-orchestration-core/pkg/apperror"
	"payment-orchestration-core/pkg/logger"
)

const (
	opPayment = "payment"
	opRefund  = "refund"
)

// CreatePaymentRequest is the orchestrator's inbound payment contract.
// Amount is in minor units.
type CreatePaymentRequest struct {
	IdempotencyKey string               `json:"idempotency_key"`
	MerchantID     string               `json:"merchant_id"`
	CustomerID     string               `json:"customer_id"`
	Amount         int64                `json:"amount"`
	Currency       string               `json:"currency"`
	Method         domain.PaymentMethod `json:"method"`
	Metadata       map[string]string    `json:"metadata,omitempty"`
}

// RefundRequest asks for a partial or full refund of a settled payment.
type RefundRequest struct {
	IdempotencyKey string    `json:"idempotency_key"`
	MerchantID     string    `json:"merchant_id"`
	PaymentID      uuid.UUID `json:"payment_id"`
	Amount         int64     `json:"amount"`
	Currency       string    `json:"currency"`
}

// Orchestrator drives a payment from admission to settlement: idempotent
// intake, hook pipeline, weighted routing, breaker-and-retry guarded
// gateway calls, event append and snapshot update per step.
type Orchestrator struct {
	cfg      *config.Config
	engine   *IdempotencyEngine
	events   ports.EventStore
	payments *VersionedPaymentService
	gateways *GatewayRegistry
	breakers *BreakerRegistry
	retry    *RetryPolicy
	router   *Router
	hooks    *HookRegistry
	metrics  *MetricsCollector
	clock    ports.Clock
	log      zerolog.Logger
}

func NewOrchestrator(
	cfg *config.Config,
	engine *IdempotencyEngine,
	events ports.EventStore,
	payments *VersionedPaymentService,
	gateways *GatewayRegistry,
	breakers *BreakerRegistry,
	retry *RetryPolicy,
	router *Router,
	hooks *HookRegistry,
	metrics *MetricsCollector,
	clock ports.Clock,
	log zerolog.Logger,
) *Orchestrator {
	if clock == nil {
		clock = ports.RealClock{}
	}
	return &Orchestrator{
		cfg:      cfg,
		engine:   engine,
		events:   events,
		payments: payments,
		gateways: gateways,
		breakers: breakers,
		retry:    retry,
		router:   router,
		hooks:    hooks,
		metrics:  metrics,
		clock:    clock,
		log:      logger.ForComponent(log, "orchestrator"),
	}
}

// RegisterGateway adds a gateway to the routing pool.
func (o *Orchestrator) RegisterGateway(name string, gw ports.PaymentGateway, cfg GatewayConfig) error {
	if err := o.gateways.Register(name, gw, cfg); err != nil {
		return err
	}
	o.metrics.SetCost(name, cfg.CostPerTxn)
	o.log.Info().Str("gateway", name).Msg("gateway registered")
	return nil
}

// CreatePayment admits, creates and fully orchestrates a payment. Replays
// under the same idempotency key return the settled payment without
// re-execution; the returned payment may be in FAILURE when the gateway
// declined.
func (o *Orchestrator) CreatePayment(ctx context.Context, req CreatePaymentRequest) (domain.Payment, error) {
	if err := o.validateCreate(req); err != nil {
		return domain.Payment{}, err
	}

	result, err := o.engine.Execute(ctx, req.MerchantID, opPayment, req.IdempotencyKey, req,
		func(ctx context.Context) ([]byte, error) {
			payment, err := o.createAndProcess(ctx, req)
			if err != nil {
				return nil, err
			}
			return json.Marshal(payment)
		})
	if err != nil {
		return domain.Payment{}, err
	}

	var payment domain.Payment
	if err := json.Unmarshal(result, &payment); err != nil {
		return domain.Payment{}, apperror.InternalError(fmt.Errorf("unmarshal cached payment: %w", err))
	}
	return payment, nil
}

// ProcessPayment drives a previously created, non-terminal payment through
// the gateway pipeline to a terminal state. Unknown payments return
// PAY_002; settled ones return PAY_001.
func (o *Orchestrator) ProcessPayment(ctx context.Context, id uuid.UUID) (domain.Payment, error) {
	payment, err := o.payments.Get(ctx, id)
	if err != nil {
		return domain.Payment{}, err
	}
	if payment.IsTerminal() {
		return domain.Payment{}, apperror.ErrInvalidTransition(string(payment.State), string(domain.PaymentStateAuthenticated))
	}
	return o.process(ctx, payment, nil)
}

func (o *Orchestrator) validateCreate(req CreatePaymentRequest) error {
	if req.IdempotencyKey == "" {
		return apperror.Validation("idempotency_key is required")
	}
	if req.MerchantID == "" {
		return apperror.Validation("merchant_id is required")
	}
	if req.Amount <= 0 {
		return apperror.Validation("amount must be positive")
	}
	if err := req.Method.Validate(); err != nil {
		return apperror.Validation(err.Error())
	}
	if _, err := domain.NewMoney(req.Amount, req.Currency); err != nil {
		return apperror.Validation(err.Error())
	}
	return nil
}

// createAndProcess is the admitted (exactly-once) body of CreatePayment.
func (o *Orchestrator) createAndProcess(ctx context.Context, req CreatePaymentRequest) (domain.Payment, error) {
	amount, err := domain.NewMoney(req.Amount, req.Currency)
	if err != nil {
		return domain.Payment{}, apperror.Validation(err.Error())
	}
	now := o.clock.Now()
	payment, err := domain.NewPayment(req.IdempotencyKey, req.MerchantID, req.CustomerID, amount, req.Method, req.Metadata, now)
	if err != nil {
		return domain.Payment{}, apperror.Validation(err.Error())
	}

	if err := o.hooks.RunPreValidation(ctx, payment); err != nil {
		return domain.Payment{}, err
	}
	if err := o.hooks.RunPostValidation(ctx, payment); err != nil {
		return domain.Payment{}, err
	}
	if err := o.hooks.RunFraudChecks(ctx, payment); err != nil {
		return domain.Payment{}, err
	}
	payment, err = o.hooks.RunEnrichment(ctx, payment)
	if err != nil {
		return domain.Payment{}, err
	}

	if err := o.payments.Create(ctx, payment); err != nil {
		return domain.Payment{}, err
	}
	if err := o.appendAndEmit(ctx, domain.EventPaymentInitiated, payment, domain.PaymentInitiatedPayload{Payment: payment}); err != nil {
		return domain.Payment{}, err
	}

	return o.process(ctx, payment, nil)
}

// process drives the INITIATED payment to a terminal state. excluded names
// gateways already tried in this orchestration.
func (o *Orchestrator) process(ctx context.Context, payment domain.Payment, excluded map[string]struct{}) (domain.Payment, error) {
	gatewayName, err := o.selectGateway(ctx, payment, excluded)
	if err != nil {
		return o.fail(ctx, payment, err.Error(), false)
	}
	gw, _ := o.gateways.Get(gatewayName)
	log := o.log.With().Str("payment_id", payment.ID.String()).Str("gateway", gatewayName).Logger()

	gwReq := ports.GatewayRequest{
		PaymentID:  payment.ID,
		MerchantID: payment.MerchantID,
		Amount:     payment.Amount,
		Method:     payment.Method,
		Metadata:   payment.Metadata,
	}

	// Authentication step.
	if _, err := o.callGateway(ctx, gatewayName, gw.Authenticate, gwReq); err != nil {
		return o.stepFailed(ctx, payment, gatewayName, err, excluded, log)
	}
	payment, err = o.transition(ctx, payment, func(p domain.Payment) (domain.Payment, error) {
		return p.Authenticate(gatewayName, o.clock.Now())
	})
	if err != nil {
		return domain.Payment{}, err
	}
	if err := o.appendAndEmit(ctx, domain.EventPaymentAuthenticated, payment, domain.PaymentAuthenticatedPayload{GatewayType: gatewayName}); err != nil {
		return domain.Payment{}, err
	}

	// Initiation step establishes the gateway transaction.
	initResp, err := o.callGateway(ctx, gatewayName, gw.Initiate, gwReq)
	if err != nil {
		return o.stepFailed(ctx, payment, gatewayName, err, excluded, log)
	}
	payment, err = o.transition(ctx, payment, func(p domain.Payment) (domain.Payment, error) {
		return p.StartProcessing(initResp.GatewayTransactionID, o.clock.Now())
	})
	if err != nil {
		return domain.Payment{}, err
	}
	if err := o.appendAndEmit(ctx, domain.EventPaymentProcessing, payment, domain.PaymentProcessingPayload{
		GatewayType:          gatewayName,
		GatewayTransactionID: payment.GatewayTransactionID,
	}); err != nil {
		return domain.Payment{}, err
	}

	// Capture step. Past this point the gateway holds the transaction, so
	// failures settle the payment instead of falling back.
	gwReq.GatewayTransactionID = payment.GatewayTransactionID
	if _, err := o.callGateway(ctx, gatewayName, gw.Process, gwReq); err != nil {
		return o.fail(ctx, payment, err.Error(), IsRetryableError(err))
	}

	payment, err = o.transition(ctx, payment, func(p domain.Payment) (domain.Payment, error) {
		return p.MarkSuccess(o.clock.Now())
	})
	if err != nil {
		return domain.Payment{}, err
	}
	if err := o.appendAndEmit(ctx, domain.EventPaymentSucceeded, payment, domain.PaymentSucceededPayload{
		GatewayType:          payment.GatewayType,
		GatewayTransactionID: payment.GatewayTransactionID,
		Amount:               payment.Amount,
	}); err != nil {
		return domain.Payment{}, err
	}

	log.Info().Int64("version", payment.Version).Msg("payment settled")
	return payment, nil
}

// selectGateway consults routing hooks first, then the weighted router.
func (o *Orchestrator) selectGateway(ctx context.Context, payment domain.Payment, excluded map[string]struct{}) (string, error) {
	candidates := make([]string, 0)
	for _, name := range o.gateways.Names() {
		if _, skip := excluded[name]; skip {
			continue
		}
		candidates = append(candidates, name)
	}
	if len(candidates) == 0 {
		return "", apperror.ErrGateway("no gateways available for payment", nil)
	}

	if gateway, ok := o.hooks.SuggestRoute(ctx, payment, candidates); ok {
		if o.breakers.Get(gateway).State() != CircuitOpen {
			return gateway, nil
		}
	}

	decision, err := o.router.Select(candidates)
	if err != nil {
		return "", err
	}
	return decision.Gateway, nil
}

// callGateway runs one gateway call under its breaker and the retry
// policy, recording metrics per attempt.
func (o *Orchestrator) callGateway(
	ctx context.Context,
	gatewayName string,
	call func(ctx context.Context, req ports.GatewayRequest) (*ports.GatewayResponse, error),
	req ports.GatewayRequest,
) (*ports.GatewayResponse, error) {
	breaker := o.breakers.Get(gatewayName)
	timeout := o.gatewayTimeout(gatewayName)

	var resp *ports.GatewayResponse
	err := o.retry.Execute(ctx, func(ctx context.Context) error {
		return breaker.Execute(ctx, func(ctx context.Context) error {
			callCtx := ctx
			if timeout > 0 {
				var cancel context.CancelFunc
				callCtx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			start := o.clock.Now()
			r, err := call(callCtx, req)
			o.metrics.Record(gatewayName, err == nil, o.clock.Now().Sub(start))
			if err != nil {
				return err
			}
			if r.Status == ports.GatewayStatusFailed {
				return ports.NewGatewayError(gatewayName, ports.GatewayErrGateway, r.Message)
			}
			resp = r
			return nil
		})
	}, nil)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (o *Orchestrator) gatewayTimeout(gatewayName string) (timeout time.Duration) {
	if cfg, ok := o.gateways.Config(gatewayName); ok {
		timeout = cfg.Timeout
	}
	return timeout
}

// stepFailed handles a pre-capture failure: fall back to another gateway
// when the error class permits and attempts remain, else settle FAILURE.
func (o *Orchestrator) stepFailed(
	ctx context.Context,
	payment domain.Payment,
	gatewayName string,
	cause error,
	excluded map[string]struct{},
	log zerolog.Logger,
) (domain.Payment, error) {
	retryable := IsRetryableError(cause) || apperror.IsCode(cause, apperror.CodeCircuitOpen)
	if !retryable || !payment.CanRetry(o.cfg.Retry.MaxRetries) {
		return o.fail(ctx, payment, cause.Error(), retryable)
	}
	// Fallback re-runs the pipeline from authentication, which only
	// INITIATED permits.
	if payment.State != domain.PaymentStateInitiated {
		return o.fail(ctx, payment, cause.Error(), retryable)
	}

	if excluded == nil {
		excluded = make(map[string]struct{})
	}
	excluded[gatewayName] = struct{}{}

	fallbackAvailable := false
	for _, name := range o.gateways.Names() {
		if _, skip := excluded[name]; !skip {
			fallbackAvailable = true
			break
		}
	}
	if !fallbackAvailable {
		return o.fail(ctx, payment, cause.Error(), retryable)
	}

	var err error
	payment, err = o.transition(ctx, payment, func(p domain.Payment) (domain.Payment, error) {
		return p.WithRetryAttempt(o.clock.Now())
	})
	if err != nil {
		return domain.Payment{}, err
	}
	if err := o.appendAndEmit(ctx, domain.EventPaymentRetryAttempted, payment, domain.PaymentRetryAttemptedPayload{
		RetryCount:       payment.RetryCount,
		PreviousGateway:  gatewayName,
		TriggeringReason: cause.Error(),
	}); err != nil {
		return domain.Payment{}, err
	}

	log.Warn().Err(cause).Int("retry_count", payment.RetryCount).Msg("falling back to alternate gateway")
	return o.process(ctx, payment, excluded)
}

// fail settles the payment in FAILURE and notifies error handlers.
// can_retry requires both a retryable error class and remaining budget.
func (o *Orchestrator) fail(ctx context.Context, payment domain.Payment, reason string, canRetry bool) (domain.Payment, error) {
	canRetry = canRetry && payment.CanRetry(o.cfg.Retry.MaxRetries)
	failed, err := o.transition(ctx, payment, func(p domain.Payment) (domain.Payment, error) {
		return p.MarkFailure(reason, o.clock.Now())
	})
	if err != nil {
		return domain.Payment{}, err
	}
	if err := o.appendAndEmit(ctx, domain.EventPaymentFailed, failed, domain.PaymentFailedPayload{
		Reason:   reason,
		CanRetry: canRetry,
	}); err != nil {
		return domain.Payment{}, err
	}
	o.hooks.RunErrorHandlers(ctx, failed, apperror.ErrGateway(reason, nil))
	o.log.Warn().
		Str("payment_id", failed.ID.String()).
		Str("reason", reason).
		Bool("can_retry", canRetry).
		Msg("payment failed")
	return failed, nil
}

// transition applies mutate through the versioned repository so the
// snapshot and the event stream share one version sequence.
func (o *Orchestrator) transition(ctx context.Context, payment domain.Payment, mutate MutateFunc) (domain.Payment, error) {
	return o.payments.Update(ctx, payment.ID, mutate)
}

// appendAndEmit appends the lifecycle event and fans it out to listeners.
func (o *Orchestrator) appendAndEmit(ctx context.Context, eventType domain.EventType, payment domain.Payment, payload any) error {
	event, err := domain.NewEvent(eventType, payment, payload, o.clock.Now())
	if err != nil {
		return apperror.InternalError(err)
	}
	if err := o.events.Append(ctx, []domain.Event{event}); err != nil {
		return err
	}
	o.hooks.EmitEvent(ctx, event)
	return nil
}

// RefundPayment idempotently refunds part or all of a settled payment.
func (o *Orchestrator) RefundPayment(ctx context.Context, req RefundRequest) (domain.Payment, error) {
	if req.IdempotencyKey == "" {
		return domain.Payment{}, apperror.Validation("idempotency_key is required")
	}
	if req.MerchantID == "" {
		return domain.Payment{}, apperror.Validation("merchant_id is required")
	}
	amount, err := domain.NewMoney(req.Amount, req.Currency)
	if err != nil {
		return domain.Payment{}, apperror.Validation(err.Error())
	}

	result, err := o.engine.Execute(ctx, req.MerchantID, opRefund, req.IdempotencyKey, req,
		func(ctx context.Context) ([]byte, error) {
			payment, err := o.refund(ctx, req, amount)
			if err != nil {
				return nil, err
			}
			return json.Marshal(payment)
		})
	if err != nil {
		return domain.Payment{}, err
	}

	var payment domain.Payment
	if err := json.Unmarshal(result, &payment); err != nil {
		return domain.Payment{}, apperror.InternalError(fmt.Errorf("unmarshal cached refund: %w", err))
	}
	return payment, nil
}

func (o *Orchestrator) refund(ctx context.Context, req RefundRequest, amount domain.Money) (domain.Payment, error) {
	payment, err := o.payments.Get(ctx, req.PaymentID)
	if err != nil {
		return domain.Payment{}, err
	}
	if payment.MerchantID != req.MerchantID {
		return domain.Payment{}, apperror.ErrNotFound("payment")
	}
	// Domain-level refundability check before touching the gateway.
	if _, err := payment.WithRefund(amount, o.clock.Now()); err != nil {
		return domain.Payment{}, err
	}

	gw, ok := o.gateways.Get(payment.GatewayType)
	if !ok {
		return domain.Payment{}, apperror.ErrGateway("gateway "+payment.GatewayType+" not registered", nil)
	}
	gwReq := ports.GatewayRequest{
		PaymentID:            payment.ID,
		MerchantID:           payment.MerchantID,
		Amount:               amount,
		Method:               payment.Method,
		GatewayTransactionID: payment.GatewayTransactionID,
	}
	refResp, err := o.callGateway(ctx, payment.GatewayType, gw.Refund, gwReq)
	if err != nil {
		return domain.Payment{}, err
	}

	refunded, err := o.transition(ctx, payment, func(p domain.Payment) (domain.Payment, error) {
		return p.WithRefund(amount, o.clock.Now())
	})
	if err != nil {
		return domain.Payment{}, err
	}
	if err := o.appendAndEmit(ctx, domain.EventPaymentRefunded, refunded, domain.PaymentRefundedPayload{
		Amount:        amount,
		RefundedTotal: *refunded.RefundedAmount,
		GatewayRefID:  refResp.GatewayTransactionID,
	}); err != nil {
		return domain.Payment{}, err
	}
	o.log.Info().
		Str("payment_id", refunded.ID.String()).
		Str("amount", amount.String()).
		Msg("payment refunded")
	return refunded, nil
}

// GetPayment returns the stored snapshot.
func (o *Orchestrator) GetPayment(ctx context.Context, id uuid.UUID) (domain.Payment, error) {
	return o.payments.Get(ctx, id)
}

// GetCustomerPayments lists a customer's payments.
func (o *Orchestrator) GetCustomerPayments(ctx context.Context, customerID string) ([]domain.Payment, error) {
	return o.payments.ByCustomer(ctx, customerID)
}

// GetPaymentEvents returns a payment's full event stream.
func (o *Orchestrator) GetPaymentEvents(ctx context.Context, id uuid.UUID) ([]domain.Event, error) {
	return o.events.GetEvents(ctx, id)
}

// GetMetrics snapshots per-gateway performance counters.
func (o *Orchestrator) GetMetrics() map[string]GatewayMetrics {
	return o.metrics.All()
}

// GetGatewayMetrics snapshots one gateway's counters.
func (o *Orchestrator) GetGatewayMetrics(gateway string) GatewayMetrics {
	return o.metrics.Snapshot(gateway)
}

// GetHealthSummary reports every circuit breaker's state and health.
func (o *Orchestrator) GetHealthSummary() map[string]BreakerHealth {
	return o.breakers.HealthSummary()
}

// TotalRetries reports gateway-call retry telemetry.
func (o *Orchestrator) TotalRetries() int64 {
	return o.retry.TotalRetries()
}
