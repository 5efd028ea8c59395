package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"payment-orchestration-core/internal/core/domain"
	"payment-orchestration-core/internal/core/ports"
	"payment-orchestration-core/pkg/apperror"
	"payment-orchestration-core/pkg/logger"
)

// SourcingCoordinator rebuilds payments from their event streams and
// reconciles in-flight payments left behind by a crash.
type SourcingCoordinator struct {
	events   ports.EventStore
	repo     ports.PaymentRepository
	gateways *GatewayRegistry
	clock    ports.Clock
	log      zerolog.Logger
}

func NewSourcingCoordinator(
	events ports.EventStore,
	repo ports.PaymentRepository,
	gateways *GatewayRegistry,
	clock ports.Clock,
	log zerolog.Logger,
) *SourcingCoordinator {
	if clock == nil {
		clock = ports.RealClock{}
	}
	return &SourcingCoordinator{
		events:   events,
		repo:     repo,
		gateways: gateways,
		clock:    clock,
		log:      logger.ForComponent(log, "event_sourcing"),
	}
}

// Replay reconstructs a payment purely from its event stream.
func (c *SourcingCoordinator) Replay(ctx context.Context, aggregateID uuid.UUID) (domain.Payment, error) {
	events, err := c.events.GetEvents(ctx, aggregateID)
	if err != nil {
		return domain.Payment{}, err
	}
	return domain.ReplayPayment(aggregateID, events)
}

// VerifySnapshot replays the stream and compares it with the stored
// snapshot. A mismatch means the snapshot drifted from the log.
func (c *SourcingCoordinator) VerifySnapshot(ctx context.Context, aggregateID uuid.UUID) (bool, error) {
	replayed, err := c.Replay(ctx, aggregateID)
	if err != nil {
		return false, err
	}
	stored, err := c.repo.FindByID(ctx, aggregateID)
	if err != nil {
		return false, err
	}
	if stored == nil {
		return false, apperror.ErrNotFound("payment snapshot")
	}
	match := stored.Version == replayed.Version && stored.State == replayed.State
	if !match {
		c.log.Warn().
			Str("payment_id", aggregateID.String()).
			Int64("snapshot_version", stored.Version).
			Int64("replayed_version", replayed.Version).
			Msg("snapshot drifted from event stream")
	}
	return match, nil
}

// RecoveryReport summarizes one RecoverInFlight pass.
type RecoveryReport struct {
	Scanned    int `json:"scanned"`
	InFlight   int `json:"in_flight"`
	Recovered  int `json:"recovered"`
	StillOpen  int `json:"still_open"`
	Unresolved int `json:"unresolved"`
}

// RecoverInFlight finds payments whose last event is non-terminal and
// reconciles them against the gateway's source of truth. Payments the
// gateway settled get their terminal event appended and snapshot updated;
// genuinely pending payments are left alone.
func (c *SourcingCoordinator) RecoverInFlight(ctx context.Context) (RecoveryReport, error) {
	var report RecoveryReport

	initiated, err := c.events.GetEventsByType(ctx, domain.EventPaymentInitiated)
	if err != nil {
		return report, err
	}

	for _, start := range initiated {
		report.Scanned++
		recovered, open, err := c.recoverOne(ctx, start.AggregateID)
		if err != nil {
			report.Unresolved++
			c.log.Error().Err(err).
				Str("payment_id", start.AggregateID.String()).
				Msg("recovery failed for payment")
			continue
		}
		if recovered {
			report.InFlight++
			report.Recovered++
		} else if open {
			report.InFlight++
			report.StillOpen++
		}
	}

	c.log.Info().
		Int("scanned", report.Scanned).
		Int("recovered", report.Recovered).
		Int("still_open", report.StillOpen).
		Int("unresolved", report.Unresolved).
		Msg("recovery pass complete")
	return report, nil
}

// recoverOne reconciles a single aggregate. Returns (recovered, stillOpen).
func (c *SourcingCoordinator) recoverOne(ctx context.Context, aggregateID uuid.UUID) (bool, bool, error) {
	payment, err := c.Replay(ctx, aggregateID)
	if err != nil {
		return false, false, err
	}
	if payment.IsTerminal() {
		return false, false, nil
	}

	if payment.GatewayTransactionID == "" {
		// Crashed before the gateway call was recorded. Nothing was
		// charged; fail the payment so the caller can retry cleanly.
		if err := c.settle(ctx, payment, false, "interrupted before gateway processing"); err != nil {
			return false, true, err
		}
		return true, false, nil
	}

	gw, ok := c.gateways.Get(payment.GatewayType)
	if !ok {
		return false, true, apperror.ErrGateway("gateway "+payment.GatewayType+" not registered", nil)
	}
	status, err := gw.GetStatus(ctx, payment.GatewayTransactionID)
	if err != nil {
		return false, true, err
	}

	switch status.Status {
	case ports.GatewayStatusSuccess:
		if err := c.settle(ctx, payment, true, ""); err != nil {
			return false, true, err
		}
		return true, false, nil
	case ports.GatewayStatusFailed:
		if err := c.settle(ctx, payment, false, "gateway reported failure during recovery"); err != nil {
			return false, true, err
		}
		return true, false, nil
	default:
		return false, true, nil
	}
}

// settle appends the terminal event and updates the snapshot.
func (c *SourcingCoordinator) settle(ctx context.Context, payment domain.Payment, success bool, reason string) error {
	now := c.clock.Now()

	var (
		next  domain.Payment
		event domain.Event
		err   error
	)
	if success {
		next, err = payment.MarkSuccess(now)
		if err != nil {
			return err
		}
		event, err = domain.NewEvent(domain.EventPaymentSucceeded, next, domain.PaymentSucceededPayload{
			GatewayType:          next.GatewayType,
			GatewayTransactionID: next.GatewayTransactionID,
			Amount:               next.Amount,
		}, now)
	} else {
		next, err = payment.MarkFailure(reason, now)
		if err != nil {
			return err
		}
		event, err = domain.NewEvent(domain.EventPaymentFailed, next, domain.PaymentFailedPayload{
			Reason:   reason,
			CanRetry: false,
		}, now)
	}
	if err != nil {
		return err
	}

	if err := c.events.Append(ctx, []domain.Event{event}); err != nil {
		return err
	}
	if err := c.repo.Update(ctx, next); err != nil {
		// The event is already the source of truth; a stale snapshot
		// will be caught by VerifySnapshot.
		c.log.Warn().Err(err).
			Str("payment_id", next.ID.String()).
			Msg("snapshot update failed after recovery append")
	}
	c.log.Info().
		Str("payment_id", next.ID.String()).
		Str("state", string(next.State)).
		Msg("in-flight payment settled by recovery")
	return nil
}
