package service

import (
	"sort"
	"sync"
	"time"
)

// latencyWindowSize bounds per-gateway latency memory.
const latencyWindowSize = 256

// GatewayMetrics is a point-in-time snapshot of one gateway's rolling
// performance counters.
type GatewayMetrics struct {
	Gateway            string        `json:"gateway"`
	SuccessCount       int64         `json:"success_count"`
	FailureCount       int64         `json:"failure_count"`
	Samples            int           `json:"samples"`
	SuccessRate        float64       `json:"success_rate"`
	AvgLatency         time.Duration `json:"avg_latency"`
	P95Latency         time.Duration `json:"p95_latency"`
	CostPerTransaction float64       `json:"cost_per_transaction"`
}

type gatewayWindow struct {
	mu        sync.Mutex
	latencies [latencyWindowSize]time.Duration
	idx       int
	filled    int
	successes int64
	failures  int64
	cost      float64
}

// MetricsCollector tracks rolling outcome and latency windows per gateway.
type MetricsCollector struct {
	mu      sync.RWMutex
	windows map[string]*gatewayWindow
}

// NewMetricsCollector creates an empty collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{windows: make(map[string]*gatewayWindow)}
}

func (c *MetricsCollector) window(gateway string) *gatewayWindow {
	c.mu.RLock()
	w, ok := c.windows[gateway]
	c.mu.RUnlock()
	if ok {
		return w
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if w, ok = c.windows[gateway]; ok {
		return w
	}
	w = &gatewayWindow{}
	c.windows[gateway] = w
	return w
}

// Record adds one outcome. Latency is recorded only for successes; failed
// calls would skew the latency picture toward timeouts.
func (c *MetricsCollector) Record(gateway string, success bool, latency time.Duration) {
	w := c.window(gateway)
	w.mu.Lock()
	defer w.mu.Unlock()
	if success {
		w.successes++
		w.latencies[w.idx] = latency
		w.idx = (w.idx + 1) % latencyWindowSize
		if w.filled < latencyWindowSize {
			w.filled++
		}
	} else {
		w.failures++
	}
}

// SetCost sets the configured per-transaction cost for a gateway.
func (c *MetricsCollector) SetCost(gateway string, cost float64) {
	w := c.window(gateway)
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cost = cost
}

// Snapshot computes the current metrics for one gateway.
func (c *MetricsCollector) Snapshot(gateway string) GatewayMetrics {
	w := c.window(gateway)
	w.mu.Lock()
	defer w.mu.Unlock()

	m := GatewayMetrics{
		Gateway:            gateway,
		SuccessCount:       w.successes,
		FailureCount:       w.failures,
		Samples:            int(w.successes + w.failures),
		CostPerTransaction: w.cost,
	}
	if m.Samples > 0 {
		m.SuccessRate = float64(w.successes) / float64(m.Samples)
	}
	if w.filled > 0 {
		// Percentiles from a sorted copy on demand.
		sorted := make([]time.Duration, w.filled)
		copy(sorted, w.latencies[:w.filled])
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		var sum time.Duration
		for _, d := range sorted {
			sum += d
		}
		m.AvgLatency = sum / time.Duration(w.filled)

		p95idx := (95 * w.filled) / 100
		if p95idx >= w.filled {
			p95idx = w.filled - 1
		}
		m.P95Latency = sorted[p95idx]
	}
	return m
}

// All returns snapshots for every tracked gateway.
func (c *MetricsCollector) All() map[string]GatewayMetrics {
	c.mu.RLock()
	names := make([]string, 0, len(c.windows))
	for name := range c.windows {
		names = append(names, name)
	}
	c.mu.RUnlock()

	out := make(map[string]GatewayMetrics, len(names))
	for _, name := range names {
		out[name] = c.Snapshot(name)
	}
	return out
}
