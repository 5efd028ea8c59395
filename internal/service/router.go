package service

import (
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"payment-orchestration-core/config"
	"payment-orchestration-core/pkg/apperror"
	"payment-orchestration-core/pkg/logger"
)

// neutralSuccessPrior is used for gateways with too few samples to trust
// their observed success rate.
const neutralSuccessPrior = 0.5

// RoutingDecision explains why a gateway was chosen.
type RoutingDecision struct {
	Gateway string             `json:"gateway"`
	Score   float64            `json:"score"`
	Reason  string             `json:"reason"`
	Scores  map[string]float64 `json:"scores"`
}

// Router selects a gateway by weighted scoring over success rate,
// latency, cost and breaker health. Gateways with an open breaker are
// excluded outright.
type Router struct {
	cfg      config.RoutingConfig
	metrics  *MetricsCollector
	breakers *BreakerRegistry
	log      zerolog.Logger
}

func NewRouter(cfg config.RoutingConfig, metrics *MetricsCollector, breakers *BreakerRegistry, log zerolog.Logger) *Router {
	return &Router{
		cfg:      cfg,
		metrics:  metrics,
		breakers: breakers,
		log:      logger.ForComponent(log, "router"),
	}
}

type candidateStats struct {
	name    string
	success float64
	latency time.Duration
	cost    float64
	health  float64
}

// Select picks the best eligible gateway among candidates. Returns an
// error when no candidate has a non-open breaker.
func (r *Router) Select(candidates []string) (RoutingDecision, error) {
	if len(candidates) == 0 {
		return RoutingDecision{}, apperror.Validation("no candidate gateways configured")
	}

	eligible := make([]candidateStats, 0, len(candidates))
	for _, name := range candidates {
		b := r.breakers.Get(name)
		if b.State() == CircuitOpen {
			continue
		}
		m := r.metrics.Snapshot(name)
		cs := candidateStats{
			name:    name,
			success: neutralSuccessPrior,
			latency: m.AvgLatency,
			cost:    m.CostPerTransaction,
			health:  b.Health().HealthScore,
		}
		if m.Samples >= r.cfg.MinSamples {
			cs.success = m.SuccessRate
		}
		eligible = append(eligible, cs)
	}
	if len(eligible) == 0 {
		return RoutingDecision{}, apperror.ErrGateway("no eligible gateway: all circuit breakers open", nil)
	}

	// Deterministic iteration order so equal scores break ties by name.
	sort.Slice(eligible, func(i, j int) bool { return eligible[i].name < eligible[j].name })

	normLatency := normalizeLatencies(eligible)
	normCost := normalizeCosts(eligible)

	w := r.cfg.Weights
	scores := make(map[string]float64, len(eligible))
	best := -1.0
	var chosen candidateStats
	for i, c := range eligible {
		score := w.Success*c.success +
			w.Latency*(1-normLatency[i]) +
			w.Cost*(1-normCost[i]) +
			w.Health*c.health
		scores[c.name] = score
		if score > best {
			best = score
			chosen = c
		}
	}

	decision := RoutingDecision{
		Gateway: chosen.name,
		Score:   best,
		Reason: fmt.Sprintf("weighted score %.3f (success=%.2f latency=%s cost=%.4f health=%.2f)",
			best, chosen.success, chosen.latency, chosen.cost, chosen.health),
		Scores: scores,
	}
	r.log.Debug().
		Str("gateway", decision.Gateway).
		Float64("score", decision.Score).
		Int("eligible", len(eligible)).
		Msg("gateway selected")
	return decision, nil
}

// normalizeLatencies min-max normalizes candidate latencies to [0,1].
// When all candidates share one latency the distance is zero for all.
func normalizeLatencies(cs []candidateStats) []float64 {
	min, max := cs[0].latency, cs[0].latency
	for _, c := range cs[1:] {
		if c.latency < min {
			min = c.latency
		}
		if c.latency > max {
			max = c.latency
		}
	}
	out := make([]float64, len(cs))
	if max == min {
		return out
	}
	span := float64(max - min)
	for i, c := range cs {
		out[i] = float64(c.latency-min) / span
	}
	return out
}

func normalizeCosts(cs []candidateStats) []float64 {
	min, max := cs[0].cost, cs[0].cost
	for _, c := range cs[1:] {
		if c.cost < min {
			min = c.cost
		}
		if c.cost > max {
			max = c.cost
		}
	}
	out := make([]float64, len(cs))
	if max == min {
		return out
	}
	span := max - min
	for i, c := range cs {
		out[i] = (c.cost - min) / span
	}
	return out
}
