package service

import (
	"sort"
	"sync"
	"time"

	"payment-orchestration-core/internal/core/ports"
	"payment-orchestration-core/pkg/apperror"
)

// GatewayConfig carries per-gateway credentials and tuning.
type GatewayConfig struct {
	APIKey           string            `json:"-"`
	APISecret        string            `json:"-"`
	WebhookSecret    string            `json:"-"`
	BaseURL          string            `json:"base_url"`
	Timeout          time.Duration     `json:"timeout"`
	RetryAttempts    int               `json:"retry_attempts"`
	CostPerTxn       float64           `json:"cost_per_txn"`
	AdditionalConfig map[string]string `json:"additional_config,omitempty"`
}

type gatewayEntry struct {
	gateway ports.PaymentGateway
	cfg     GatewayConfig
}

// GatewayRegistry holds the configured payment gateways by name.
type GatewayRegistry struct {
	mu      sync.RWMutex
	entries map[string]gatewayEntry
}

func NewGatewayRegistry() *GatewayRegistry {
	return &GatewayRegistry{entries: make(map[string]gatewayEntry)}
}

// Register adds or replaces a gateway under its name.
func (r *GatewayRegistry) Register(name string, gw ports.PaymentGateway, cfg GatewayConfig) error {
	if name == "" || gw == nil {
		return apperror.Validation("gateway registration requires a name and an implementation")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[name] = gatewayEntry{gateway: gw, cfg: cfg}
	return nil
}

// Get returns the gateway registered under name.
func (r *GatewayRegistry) Get(name string) (ports.PaymentGateway, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e.gateway, ok
}

// Config returns the registration config for name.
func (r *GatewayRegistry) Config(name string) (GatewayConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e.cfg, ok
}

// Names lists registered gateways in sorted order.
func (r *GatewayRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
