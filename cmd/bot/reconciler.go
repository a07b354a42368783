package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mfinley/vertigo/internal/broker"
	"github.com/mfinley/vertigo/internal/models"
)

// statusProbeTimeout bounds each broker call during the startup sweep so a
// slow broker cannot stall the scheduler.
const statusProbeTimeout = 8 * time.Second

// reconcileOrders re-checks order records an earlier run left non-terminal.
// A crash or shutdown mid-poll strands records in pending, routed, or live
// while the broker moves on without us. Each stale record gets one status
// probe: an observed transition is persisted, an order the broker no longer
// knows is cancelled locally, and anything still working is left for the
// normal polling machinery.
func (b *Bot) reconcileOrders(ctx context.Context) {
	stale := 0
	for _, rec := range b.storage.GetOrders() {
		if rec.State.IsTerminal() {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		stale++
		b.reconcileOrder(ctx, rec)
	}
	if stale > 0 {
		b.logger.WithField("orders", stale).Info("Reconciled in-flight orders against broker")
	}
}

func (b *Bot) reconcileOrder(ctx context.Context, rec models.OrderRecord) {
	log := b.logger.WithFields(logrus.Fields{
		"order_id":        shortID(rec.ID),
		"broker_order_id": rec.BrokerOrderID,
		"state":           rec.State,
	})

	// No broker ID means submission never produced one; there is nothing
	// to poll, now or ever.
	if rec.BrokerOrderID == "" {
		if err := b.storage.UpdateOrderStatus(rec.ID, models.OrderCancelled, "never_routed"); err != nil {
			log.WithError(err).Error("Failed to cancel untracked order record")
			return
		}
		log.Warn("Cancelled order record with no broker order ID")
		return
	}

	probeCtx, cancel := context.WithTimeout(ctx, statusProbeTimeout)
	status, err := b.broker.GetOrderStatus(probeCtx, rec.BrokerOrderID)
	cancel()
	if err != nil {
		var apiErr *broker.APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			if uerr := b.storage.UpdateOrderStatus(rec.ID, models.OrderCancelled, "not_found"); uerr != nil {
				log.WithError(uerr).Error("Failed to cancel unknown order record")
				return
			}
			log.Warn("Broker no longer knows this order, cancelled locally")
			return
		}
		log.WithError(err).Warn("Order status probe failed, leaving record unchanged")
		return
	}

	observed, ok := models.OrderStateFromBroker(status)
	if !ok {
		log.WithField("broker_status", status).Warn("Untracked broker status during reconciliation")
		return
	}
	if observed == rec.State {
		return
	}

	sm := models.NewOrderStateMachineAt(rec.State)
	if err := sm.AdvanceTo(observed); err != nil {
		log.WithError(err).WithField("observed", observed).Warn("Ignoring out-of-order broker state")
		return
	}

	if err := b.storage.UpdateOrderStatus(rec.ID, observed, status); err != nil {
		log.WithError(err).Error("Failed to persist reconciled order state")
		return
	}
	log.WithFields(logrus.Fields{
		"observed":      observed,
		"broker_status": status,
	}).Info("Order record reconciled with broker")
}
