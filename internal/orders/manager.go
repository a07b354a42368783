// Package orders owns the submit-then-poll lifecycle of spread orders: it
// hands orders to the broker, records them, and walks each one through the
// order state machine until a terminal state or the poll budget runs out.
package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mfinley/vertigo/internal/broker"
	"github.com/mfinley/vertigo/internal/models"
	"github.com/mfinley/vertigo/internal/storage"
)

// ErrAuthExpired is returned when submission still fails authentication after
// the broker client's one token refresh and retry. Callers must stand down
// for the cycle instead of looping on it.
var ErrAuthExpired = errors.New("order submission failed authentication after token refresh")

// Config contains configuration for the order manager.
type Config struct {
	PollInterval time.Duration
	PollTimeout  time.Duration
	CallTimeout  time.Duration
}

// DefaultConfig is the default configuration for the order manager.
var DefaultConfig = Config{
	PollInterval: 5 * time.Second,
	PollTimeout:  5 * time.Minute,
	CallTimeout:  5 * time.Second,
}

// Manager handles order submission and status polling.
type Manager struct {
	broker  broker.Broker
	storage storage.Interface
	logger  *logrus.Logger
	config  Config
}

// NewManager creates a new order manager instance. Nil dependencies are
// programmer errors and panic immediately rather than surfacing later as
// nil dereferences mid-cycle.
func NewManager(
	b broker.Broker,
	store storage.Interface,
	logger *logrus.Logger,
	config ...Config,
) *Manager {
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0]
	}

	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig.PollInterval
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultConfig.PollTimeout
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultConfig.CallTimeout
	}

	if b == nil {
		panic("orders.NewManager: broker must not be nil")
	}
	if store == nil {
		panic("orders.NewManager: storage must not be nil")
	}
	if logger == nil {
		panic("orders.NewManager: logger must not be nil")
	}

	return &Manager{
		broker:  b,
		storage: store,
		logger:  logger,
		config:  cfg,
	}
}

// Submit validates the spread, sends it to the broker, and persists the
// resulting record under a fresh client-side ID. Broker rejections are not
// errors here: the returned record carries the rejected state and the
// broker's verbatim reason in BrokerStatus. Transport failures and
// post-refresh auth failures return an error with nothing persisted.
func (m *Manager) Submit(ctx context.Context, order models.SpreadOrder, sig models.TradeSignal) (*models.OrderRecord, error) {
	if err := order.Validate(); err != nil {
		return nil, fmt.Errorf("refusing to submit invalid order: %w", err)
	}

	id := uuid.New().String()
	now := time.Now().UTC()

	result, err := m.broker.SubmitOrder(ctx, order)
	if err != nil {
		return nil, fmt.Errorf("submit order: %w", err)
	}
	if result == nil {
		return nil, errors.New("broker returned nil order result")
	}

	rec := models.OrderRecord{
		ID:            id,
		BrokerOrderID: result.OrderID,
		Order:         order,
		Signal:        sig,
		SubmittedAt:   now,
		UpdatedAt:     now,
	}

	switch result.Outcome {
	case broker.OutcomeAccepted:
		rec.State = models.OrderPending
		rec.BrokerStatus = result.Status
		if state, ok := models.OrderStateFromBroker(result.Status); ok {
			rec.State = state
		}
	case broker.OutcomeAuthExpired:
		return nil, ErrAuthExpired
	case broker.OutcomeRejected:
		rec.State = models.OrderRejected
		rec.BrokerStatus = result.Body
	default:
		return nil, fmt.Errorf("unknown order outcome %q", result.Outcome)
	}

	if err := m.storage.RecordOrder(rec); err != nil {
		return nil, fmt.Errorf("record order %s: %w", id, err)
	}

	m.logger.WithFields(logrus.Fields{
		"order_id":        id,
		"broker_order_id": rec.BrokerOrderID,
		"state":           rec.State,
		"limit_price":     order.LimitPrice,
		"price_effect":    order.PriceEffect,
	}).Info("Recorded submitted order")
	return &rec, nil
}

// PollToTerminal polls the broker until the order reaches a terminal state or
// the poll budget runs out, persisting every state transition. Exhausting the
// budget cancels the order record locally under the poll_timeout condition.
// A cancelled parent context (shutdown) returns ctx.Err() with the order left
// in its last observed state.
func (m *Manager) PollToTerminal(ctx context.Context, rec *models.OrderRecord) (models.OrderState, error) {
	if rec == nil {
		return "", errors.New("nil order record")
	}
	if rec.State.IsTerminal() {
		return rec.State, nil
	}
	if rec.BrokerOrderID == "" {
		return rec.State, fmt.Errorf("order %s has no broker order ID to poll", rec.ID)
	}

	log := m.logger.WithFields(logrus.Fields{
		"order_id":        rec.ID,
		"broker_order_id": rec.BrokerOrderID,
	})
	log.WithField("state", rec.State).Info("Polling order until terminal state")

	sm := models.NewOrderStateMachineAt(rec.State)

	pollCtx, cancel := context.WithTimeout(ctx, m.config.PollTimeout)
	defer cancel()

	ticker := time.NewTicker(m.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-pollCtx.Done():
			if ctx.Err() != nil {
				log.WithField("state", sm.GetCurrentState()).Warn("Shutdown during order polling")
				return sm.GetCurrentState(), ctx.Err()
			}
			return m.cancelOnPollTimeout(rec, sm, log)
		case <-ticker.C:
			statusCtx, statusCancel := context.WithTimeout(pollCtx, m.config.CallTimeout)
			status, err := m.broker.GetOrderStatus(statusCtx, rec.BrokerOrderID)
			statusCancel()

			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
					log.Warn("Order status call timed out")
					continue
				}
				log.WithError(err).Warn("Order status check failed")
				continue
			}
			if status == "" {
				log.Warn("Broker returned an empty order status")
				continue
			}

			observed, ok := models.OrderStateFromBroker(status)
			if !ok {
				log.WithField("broker_status", status).Warn("Untracked broker order status, continuing to poll")
				continue
			}
			if observed == sm.GetCurrentState() {
				continue
			}

			if err := sm.AdvanceTo(observed); err != nil {
				log.WithError(err).WithFields(logrus.Fields{
					"current":  sm.GetCurrentState(),
					"observed": observed,
				}).Warn("Ignoring out-of-order broker state")
				continue
			}

			rec.State = observed
			rec.BrokerStatus = status
			rec.UpdatedAt = time.Now().UTC()
			if err := m.storage.UpdateOrderStatus(rec.ID, observed, status); err != nil {
				log.WithError(err).Error("Failed to persist order state transition")
			}
			log.WithFields(logrus.Fields{
				"state":         observed,
				"broker_status": status,
			}).Info("Order state advanced")

			if observed.IsTerminal() {
				return observed, nil
			}
		}
	}
}

// cancelOnPollTimeout marks an order cancelled after the poll budget is
// spent. The broker may still fill it afterwards; reconciliation against
// broker history is an operator concern, not this loop's.
func (m *Manager) cancelOnPollTimeout(
	rec *models.OrderRecord,
	sm *models.OrderStateMachine,
	log *logrus.Entry,
) (models.OrderState, error) {
	log.WithFields(logrus.Fields{
		"state":        sm.GetCurrentState(),
		"poll_timeout": m.config.PollTimeout,
	}).Warn("Poll budget exhausted without a terminal state, cancelling order record")

	if err := sm.AdvanceTo(models.OrderCancelled); err != nil {
		return sm.GetCurrentState(), fmt.Errorf("cancel timed-out order %s: %w", rec.ID, err)
	}

	rec.State = models.OrderCancelled
	rec.BrokerStatus = "poll_timeout"
	rec.UpdatedAt = time.Now().UTC()
	if err := m.storage.UpdateOrderStatus(rec.ID, models.OrderCancelled, "poll_timeout"); err != nil {
		log.WithError(err).Error("Failed to persist poll-timeout cancellation")
	}
	return models.OrderCancelled, nil
}

// IsOrderTerminal checks whether the broker reports the order in a terminal
// state, without touching the state machine.
func (m *Manager) IsOrderTerminal(ctx context.Context, brokerOrderID string) (bool, error) {
	statusCtx, cancel := context.WithTimeout(ctx, m.config.CallTimeout)
	defer cancel()

	status, err := m.broker.GetOrderStatus(statusCtx, brokerOrderID)
	if err != nil {
		return false, fmt.Errorf("failed to get order status: %w", err)
	}
	state, ok := models.OrderStateFromBroker(status)
	if !ok {
		return false, fmt.Errorf("untracked broker order status %q", status)
	}
	return state.IsTerminal(), nil
}
