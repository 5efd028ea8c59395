package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"payment-orchestration-core/internal/core/domain"
	"payment-orchestration-core/pkg/apperror"
	"payment-orchestration-core/pkg/logger"
)

// routingConfidenceThreshold is the minimum confidence for a routing hook
// to override the weighted router.
const routingConfidenceThreshold = 0.7

// eventHookTimeout bounds each event listener invocation.
const eventHookTimeout = 5 * time.Second

// eventHookConcurrency bounds parallel event listener fan-out.
const eventHookConcurrency = 4

// ValidationHook inspects a payment before or after core validation.
// Returning an error aborts the pipeline.
type ValidationHook func(ctx context.Context, p domain.Payment) error

// FraudDecision is a fraud hook's verdict.
type FraudDecision struct {
	Allowed bool    `json:"allowed"`
	Reason  string  `json:"reason,omitempty"`
	Score   float64 `json:"score"`
}

// FraudCheckHook screens a payment. A disallowed decision short-circuits
// the remaining fraud hooks and fails the payment.
type FraudCheckHook func(ctx context.Context, p domain.Payment) (FraudDecision, error)

// RoutingSuggestion is a routing hook's preferred gateway.
type RoutingSuggestion struct {
	Gateway    string  `json:"gateway"`
	Confidence float64 `json:"confidence"`
}

// RoutingHook proposes a gateway for the payment. Suggestions below the
// confidence threshold are ignored.
type RoutingHook func(ctx context.Context, p domain.Payment, candidates []string) (RoutingSuggestion, error)

// EnrichmentHook augments the payment (metadata, derived fields) before
// orchestration. It must return the updated value.
type EnrichmentHook func(ctx context.Context, p domain.Payment) (domain.Payment, error)

// EventHook observes lifecycle events. Best effort: failures are logged,
// never propagated.
type EventHook func(ctx context.Context, e domain.Event) error

// ErrorHook observes orchestration failures.
type ErrorHook func(ctx context.Context, p domain.Payment, err error)

type hookEntry[H any] struct {
	name     string
	priority int
	enabled  bool
	fn       H
}

type hookList[H any] struct {
	mu      sync.RWMutex
	entries []hookEntry[H]
}

func (l *hookList[H]) add(name string, priority int, fn H) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, hookEntry[H]{name: name, priority: priority, enabled: true, fn: fn})
	sort.SliceStable(l.entries, func(i, j int) bool {
		if l.entries[i].priority != l.entries[j].priority {
			return l.entries[i].priority > l.entries[j].priority
		}
		return l.entries[i].name < l.entries[j].name
	})
}

func (l *hookList[H]) setEnabled(name string, enabled bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.entries {
		if l.entries[i].name == name {
			l.entries[i].enabled = enabled
			return true
		}
	}
	return false
}

// active returns enabled entries in priority order.
func (l *hookList[H]) active() []hookEntry[H] {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]hookEntry[H], 0, len(l.entries))
	for _, e := range l.entries {
		if e.enabled {
			out = append(out, e)
		}
	}
	return out
}

// HookRegistry holds the extension points of the orchestration pipeline.
// Higher-priority hooks run first; names break ties.
type HookRegistry struct {
	preValidation  hookList[ValidationHook]
	postValidation hookList[ValidationHook]
	fraudChecks    hookList[FraudCheckHook]
	routing        hookList[RoutingHook]
	enrichment     hookList[EnrichmentHook]
	eventListeners hookList[EventHook]
	errorHandlers  hookList[ErrorHook]
	log            zerolog.Logger
}

func NewHookRegistry(log zerolog.Logger) *HookRegistry {
	return &HookRegistry{log: logger.ForComponent(log, "hooks")}
}

func (r *HookRegistry) RegisterPreValidation(name string, priority int, h ValidationHook) {
	r.preValidation.add(name, priority, h)
}

func (r *HookRegistry) RegisterPostValidation(name string, priority int, h ValidationHook) {
	r.postValidation.add(name, priority, h)
}

func (r *HookRegistry) RegisterFraudCheck(name string, priority int, h FraudCheckHook) {
	r.fraudChecks.add(name, priority, h)
}

func (r *HookRegistry) RegisterRouting(name string, priority int, h RoutingHook) {
	r.routing.add(name, priority, h)
}

func (r *HookRegistry) RegisterEnrichment(name string, priority int, h EnrichmentHook) {
	r.enrichment.add(name, priority, h)
}

func (r *HookRegistry) RegisterEventListener(name string, priority int, h EventHook) {
	r.eventListeners.add(name, priority, h)
}

func (r *HookRegistry) RegisterErrorHandler(name string, priority int, h ErrorHook) {
	r.errorHandlers.add(name, priority, h)
}

// SetEnabled toggles a hook by name across all stages. Returns false when
// no hook with that name exists.
func (r *HookRegistry) SetEnabled(name string, enabled bool) bool {
	found := r.preValidation.setEnabled(name, enabled)
	found = r.postValidation.setEnabled(name, enabled) || found
	found = r.fraudChecks.setEnabled(name, enabled) || found
	found = r.routing.setEnabled(name, enabled) || found
	found = r.enrichment.setEnabled(name, enabled) || found
	found = r.eventListeners.setEnabled(name, enabled) || found
	found = r.errorHandlers.setEnabled(name, enabled) || found
	return found
}

// RunPreValidation runs the pre-validation chain, stopping on the first
// error.
func (r *HookRegistry) RunPreValidation(ctx context.Context, p domain.Payment) error {
	return r.runValidation(ctx, &r.preValidation, p)
}

// RunPostValidation runs the post-validation chain.
func (r *HookRegistry) RunPostValidation(ctx context.Context, p domain.Payment) error {
	return r.runValidation(ctx, &r.postValidation, p)
}

func (r *HookRegistry) runValidation(ctx context.Context, list *hookList[ValidationHook], p domain.Payment) error {
	for _, e := range list.active() {
		if err := e.fn(ctx, p); err != nil {
			r.log.Debug().Str("hook", e.name).Err(err).Msg("validation hook rejected payment")
			return err
		}
	}
	return nil
}

// RunFraudChecks screens the payment. The first disallowed decision wins
// and the remaining hooks do not run.
func (r *HookRegistry) RunFraudChecks(ctx context.Context, p domain.Payment) error {
	for _, e := range r.fraudChecks.active() {
		decision, err := e.fn(ctx, p)
		if err != nil {
			return err
		}
		if !decision.Allowed {
			r.log.Info().
				Str("hook", e.name).
				Str("payment_id", p.ID.String()).
				Str("reason", decision.Reason).
				Float64("score", decision.Score).
				Msg("payment blocked by fraud check")
			reason := decision.Reason
			if reason == "" {
				reason = "blocked by fraud screening"
			}
			return apperror.Validation(reason)
		}
	}
	return nil
}

// SuggestRoute asks routing hooks for a gateway. The first suggestion at
// or above the confidence threshold whose gateway is among the candidates
// wins; otherwise ok is false and the weighted router decides.
func (r *HookRegistry) SuggestRoute(ctx context.Context, p domain.Payment, candidates []string) (string, bool) {
	candidateSet := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		candidateSet[c] = struct{}{}
	}
	for _, e := range r.routing.active() {
		suggestion, err := e.fn(ctx, p, candidates)
		if err != nil {
			r.log.Warn().Str("hook", e.name).Err(err).Msg("routing hook failed")
			continue
		}
		if suggestion.Confidence < routingConfidenceThreshold {
			continue
		}
		if _, ok := candidateSet[suggestion.Gateway]; !ok {
			r.log.Warn().
				Str("hook", e.name).
				Str("gateway", suggestion.Gateway).
				Msg("routing hook suggested an unknown gateway")
			continue
		}
		return suggestion.Gateway, true
	}
	return "", false
}

// RunEnrichment threads the payment through the enrichment chain.
func (r *HookRegistry) RunEnrichment(ctx context.Context, p domain.Payment) (domain.Payment, error) {
	current := p
	for _, e := range r.enrichment.active() {
		next, err := e.fn(ctx, current)
		if err != nil {
			return domain.Payment{}, err
		}
		current = next
	}
	return current, nil
}

// EmitEvent fans an event out to listeners in parallel with bounded
// concurrency and a per-hook timeout. Listener failures are logged only.
func (r *HookRegistry) EmitEvent(ctx context.Context, event domain.Event) {
	listeners := r.eventListeners.active()
	if len(listeners) == 0 {
		return
	}

	sem := make(chan struct{}, eventHookConcurrency)
	var wg sync.WaitGroup
	for _, e := range listeners {
		wg.Add(1)
		sem <- struct{}{}
		go func(e hookEntry[EventHook]) {
			defer wg.Done()
			defer func() { <-sem }()
			defer func() {
				if rec := recover(); rec != nil {
					r.log.Error().
						Str("hook", e.name).
						Interface("panic", rec).
						Msg("event listener panicked")
				}
			}()
			hookCtx, cancel := context.WithTimeout(ctx, eventHookTimeout)
			defer cancel()
			if err := e.fn(hookCtx, event); err != nil {
				r.log.Warn().
					Str("hook", e.name).
					Str("event_type", string(event.EventType)).
					Err(err).
					Msg("event listener failed")
			}
		}(e)
	}
	wg.Wait()
}

// RunErrorHandlers notifies error handlers of an orchestration failure.
func (r *HookRegistry) RunErrorHandlers(ctx context.Context, p domain.Payment, failure error) {
	for _, e := range r.errorHandlers.active() {
		e.fn(ctx, p, failure)
	}
}
