package worker

import (
	"context"
	"errors"
	"fmt"

	"wholesale-market/internal/apperr"
	"wholesale-market/internal/broker"
	"wholesale-market/internal/models"
	"wholesale-market/internal/service"
	"wholesale-market/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PaymentOrders finds the orders a payment produced.
type PaymentOrders interface {
	GetOrdersByPaymentKey(ctx context.Context, paymentKey string) ([]models.Order, error)
}

// Settler re-enters the ledger for one order.
type Settler interface {
	EnsureSettlement(ctx context.Context, orderID uuid.UUID, trigger string) (*service.LedgerResult, error)
}

// PaymentWebhookWorker consumes relayed gateway webhooks and makes sure every
// order of a completed payment has its settlement.
type PaymentWebhookWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	orders       PaymentOrders
	ledger       Settler
	logger       *zap.Logger
}

// NewPaymentWebhookWorker creates a new webhook worker. consumer may be nil
// when only HandlePaymentWebhook is used.
func NewPaymentWebhookWorker(consumer *broker.Consumer, orders PaymentOrders, ledger Settler) *PaymentWebhookWorker {
	w := &PaymentWebhookWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		orders:       orders,
		ledger:       ledger,
		logger:       util.GetLogger(),
	}
	w.eventHandler.OnPaymentWebhook(w.HandlePaymentWebhook)
	return w
}

// Start starts the worker
func (w *PaymentWebhookWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting payment webhook worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *PaymentWebhookWorker) Stop() error {
	w.logger.Info("Stopping payment webhook worker")
	return w.consumer.Close()
}

// HandlePaymentWebhook settles every order of a DONE payment. Deliveries may
// repeat; settling an already settled order is a no-op.
func (w *PaymentWebhookWorker) HandlePaymentWebhook(ctx context.Context, event *models.PaymentWebhookEvent) error {
	ctx, span := util.StartSpan(ctx, "PaymentWebhookWorker.HandlePaymentWebhook")
	defer span.End()

	util.WebhookEventsTotal.WithLabelValues(event.Status).Inc()

	switch event.Status {
	case models.PaymentStatusDone:
	case models.PaymentStatusCanceled:
		w.logger.Warn("Payment cancelled at the gateway, needs manual follow-up",
			zap.String("payment_key", event.PaymentKey),
			zap.String("order_group_id", event.OrderID))
		return nil
	default:
		w.logger.Debug("Ignoring payment webhook",
			zap.String("payment_key", event.PaymentKey),
			zap.String("status", event.Status))
		return nil
	}

	orders, err := w.orders.GetOrdersByPaymentKey(ctx, event.PaymentKey)
	if err != nil {
		util.RecordError(span, err)
		return fmt.Errorf("failed to load orders for payment %s: %w", event.PaymentKey, err)
	}
	if len(orders) == 0 {
		// Not materialized yet; the confirmation call settles its own orders.
		w.logger.Info("Webhook for payment without orders",
			zap.String("payment_key", event.PaymentKey))
		return nil
	}

	var errs []error
	for _, order := range orders {
		res, err := w.ledger.EnsureSettlement(ctx, order.ID, service.TriggerWebhook)
		switch {
		case apperr.IsKind(err, apperr.KindIllegalTransition):
			w.logger.Info("Skipping settlement for order",
				zap.String("order_id", order.ID.String()),
				zap.String("reason", err.Error()))
		case err != nil:
			errs = append(errs, err)
		case res.PaymentErr != nil:
			errs = append(errs, res.PaymentErr)
		case res.Created:
			w.logger.Info("Settlement created from webhook",
				zap.String("order_id", order.ID.String()),
				zap.String("settlement_id", res.Settlement.ID.String()))
		}
	}
	return errors.Join(errs...)
}
