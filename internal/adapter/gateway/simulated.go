// Package gateway provides processor adapters. The simulated gateway is a
// deterministic in-process processor used by local runs and tests: outcomes
// are scripted per operation, and transaction status survives for GetStatus
// so recovery paths can be exercised.
package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"payment-orchestration-core/internal/core/ports"
	"payment-orchestration-core/pkg/logger"
)

// Operation names accepted by Enqueue.
const (
	OpAuthenticate = "authenticate"
	OpInitiate     = "initiate"
	OpProcess      = "process"
	OpRefund       = "refund"
	OpStatus       = "status"
)

// Card tokens with fixed outcomes, so request data alone can drive a
// decline without scripting.
const (
	TokenDeclined     = "tok_declined"
	TokenInsufficient = "tok_insufficient"
	TokenTimeout      = "tok_timeout"
)

type simulatedTxn struct {
	status   ports.GatewayStatus
	refunded bool
}

// SimulatedGateway implements ports.PaymentGateway in memory.
type SimulatedGateway struct {
	name    string
	latency time.Duration
	sleep   ports.SleepFunc
	log     zerolog.Logger

	mu       sync.Mutex
	scripted map[string][]*ports.GatewayError
	txns     map[string]*simulatedTxn
	down     bool
}

// NewSimulatedGateway creates a simulated processor that succeeds on every
// call until scripted otherwise.
func NewSimulatedGateway(name string, log zerolog.Logger) *SimulatedGateway {
	return &SimulatedGateway{
		name:     name,
		sleep:    ports.Sleep,
		log:      logger.ForComponent(log, "gateway."+name),
		scripted: make(map[string][]*ports.GatewayError),
		txns:     make(map[string]*simulatedTxn),
	}
}

// Name returns the gateway identifier.
func (g *SimulatedGateway) Name() string { return g.name }

// SetLatency adds a fixed delay to every call.
func (g *SimulatedGateway) SetLatency(d time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.latency = d
}

// SetDown makes HealthCheck and every operation fail with a network error
// until cleared.
func (g *SimulatedGateway) SetDown(down bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.down = down
}

// Enqueue scripts the next call to op to fail with code. Calls consume
// scripted failures in FIFO order, then revert to success.
func (g *SimulatedGateway) Enqueue(op string, code ports.GatewayErrorCode) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.scripted[op] = append(g.scripted[op], ports.NewGatewayError(g.name, code, "scripted "+string(code)))
}

func (g *SimulatedGateway) nextScripted(op string) *ports.GatewayError {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.down {
		return ports.NewGatewayError(g.name, ports.GatewayErrNetwork, "gateway unreachable")
	}
	queue := g.scripted[op]
	if len(queue) == 0 {
		return nil
	}
	g.scripted[op] = queue[1:]
	return queue[0]
}

func (g *SimulatedGateway) delay(ctx context.Context) error {
	g.mu.Lock()
	d := g.latency
	g.mu.Unlock()
	return g.sleep(ctx, d)
}

func (g *SimulatedGateway) tokenFailure(req ports.GatewayRequest) *ports.GatewayError {
	if req.Method.Card == nil {
		return nil
	}
	switch req.Method.Card.Token {
	case TokenDeclined:
		return ports.NewGatewayError(g.name, ports.GatewayErrCardDeclined, "card declined")
	case TokenInsufficient:
		return ports.NewGatewayError(g.name, ports.GatewayErrInsufficientFunds, "insufficient funds")
	case TokenTimeout:
		return ports.NewGatewayError(g.name, ports.GatewayErrTimeout, "processor timed out")
	}
	return nil
}

// Authenticate verifies the payment method.
func (g *SimulatedGateway) Authenticate(ctx context.Context, req ports.GatewayRequest) (*ports.GatewayResponse, error) {
	if err := g.delay(ctx); err != nil {
		return nil, ports.NewGatewayError(g.name, ports.GatewayErrTimeout, err.Error())
	}
	if gwErr := g.nextScripted(OpAuthenticate); gwErr != nil {
		return nil, gwErr
	}
	return &ports.GatewayResponse{Status: ports.GatewayStatusSuccess, Message: "authenticated"}, nil
}

// Initiate opens a gateway transaction and returns its id.
func (g *SimulatedGateway) Initiate(ctx context.Context, req ports.GatewayRequest) (*ports.GatewayResponse, error) {
	if err := g.delay(ctx); err != nil {
		return nil, ports.NewGatewayError(g.name, ports.GatewayErrTimeout, err.Error())
	}
	if gwErr := g.nextScripted(OpInitiate); gwErr != nil {
		return nil, gwErr
	}

	txnID := "sim_" + g.name + "_" + uuid.NewString()
	g.mu.Lock()
	g.txns[txnID] = &simulatedTxn{status: ports.GatewayStatusPending}
	g.mu.Unlock()

	g.log.Debug().Str("payment_id", req.PaymentID.String()).Str("gateway_txn_id", txnID).Msg("transaction initiated")
	return &ports.GatewayResponse{GatewayTransactionID: txnID, Status: ports.GatewayStatusPending}, nil
}

// Process captures the funds for an initiated transaction.
func (g *SimulatedGateway) Process(ctx context.Context, req ports.GatewayRequest) (*ports.GatewayResponse, error) {
	if err := g.delay(ctx); err != nil {
		return nil, ports.NewGatewayError(g.name, ports.GatewayErrTimeout, err.Error())
	}
	if gwErr := g.nextScripted(OpProcess); gwErr != nil {
		g.settle(req.GatewayTransactionID, ports.GatewayStatusFailed)
		return nil, gwErr
	}
	if gwErr := g.tokenFailure(req); gwErr != nil {
		g.settle(req.GatewayTransactionID, ports.GatewayStatusFailed)
		return nil, gwErr
	}

	g.settle(req.GatewayTransactionID, ports.GatewayStatusSuccess)
	return &ports.GatewayResponse{
		GatewayTransactionID: req.GatewayTransactionID,
		Status:               ports.GatewayStatusSuccess,
		Message:              "captured",
	}, nil
}

// Refund reverses part or all of a settled transaction.
func (g *SimulatedGateway) Refund(ctx context.Context, req ports.GatewayRequest) (*ports.GatewayResponse, error) {
	if err := g.delay(ctx); err != nil {
		return nil, ports.NewGatewayError(g.name, ports.GatewayErrTimeout, err.Error())
	}
	if gwErr := g.nextScripted(OpRefund); gwErr != nil {
		return nil, gwErr
	}

	g.mu.Lock()
	txn, ok := g.txns[req.GatewayTransactionID]
	if ok && txn.status == ports.GatewayStatusSuccess {
		txn.refunded = true
	}
	g.mu.Unlock()
	if !ok {
		return nil, ports.NewGatewayError(g.name, ports.GatewayErrInvalidRequest, "unknown transaction")
	}

	return &ports.GatewayResponse{
		GatewayTransactionID: "ref_" + uuid.NewString(),
		Status:               ports.GatewayStatusSuccess,
		Message:              "refunded",
	}, nil
}

// GetStatus reports the recorded outcome of a transaction. Recovery uses
// this after a crash to learn whether an in-flight payment settled.
func (g *SimulatedGateway) GetStatus(ctx context.Context, gatewayTransactionID string) (*ports.GatewayResponse, error) {
	if err := g.delay(ctx); err != nil {
		return nil, ports.NewGatewayError(g.name, ports.GatewayErrTimeout, err.Error())
	}
	if gwErr := g.nextScripted(OpStatus); gwErr != nil {
		return nil, gwErr
	}

	g.mu.Lock()
	txn, ok := g.txns[gatewayTransactionID]
	g.mu.Unlock()
	if !ok {
		return nil, ports.NewGatewayError(g.name, ports.GatewayErrInvalidRequest, "unknown transaction")
	}
	return &ports.GatewayResponse{GatewayTransactionID: gatewayTransactionID, Status: txn.status}, nil
}

// HealthCheck reports gateway availability.
func (g *SimulatedGateway) HealthCheck(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.down {
		return ports.NewGatewayError(g.name, ports.GatewayErrNetwork, "gateway unreachable")
	}
	return nil
}

// Settle forces a transaction's recorded status, for crash scenarios where
// the processor settled but the caller never saw the response.
func (g *SimulatedGateway) Settle(gatewayTransactionID string, status ports.GatewayStatus) {
	g.settle(gatewayTransactionID, status)
}

func (g *SimulatedGateway) settle(txnID string, status ports.GatewayStatus) {
	if txnID == "" {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if txn, ok := g.txns[txnID]; ok {
		txn.status = status
	}
}
