package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"wholesale-market/internal/models"
	"wholesale-market/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher handles publishing domain events
type EventPublisher struct {
	orders   *Producer
	webhooks *Producer
}

// NewEventPublisher creates a new event publisher. webhooks may be nil when
// this instance does not relay gateway webhooks.
func NewEventPublisher(orders, webhooks *Producer) *EventPublisher {
	return &EventPublisher{orders: orders, webhooks: webhooks}
}

// PublishOrderPlaced publishes OrderPlaced, keyed by order group
func (ep *EventPublisher) PublishOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error {
	return ep.orders.PublishEvent(ctx, "group-"+event.OrderGroupID, event)
}

// PublishOrderCancelled publishes OrderCancelled
func (ep *EventPublisher) PublishOrderCancelled(ctx context.Context, event *models.OrderCancelledEvent) error {
	return ep.orders.PublishEvent(ctx, "order-"+event.OrderID.String(), event)
}

// PublishOrderStatusChanged publishes OrderStatusChanged
func (ep *EventPublisher) PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error {
	return ep.orders.PublishEvent(ctx, "order-"+event.OrderID.String(), event)
}

// PublishSettlementCreated publishes SettlementCreated
func (ep *EventPublisher) PublishSettlementCreated(ctx context.Context, event *models.SettlementCreatedEvent) error {
	return ep.orders.PublishEvent(ctx, "order-"+event.OrderID.String(), event)
}

// PublishPaymentWebhook relays a gateway webhook, keyed by payment key
func (ep *EventPublisher) PublishPaymentWebhook(ctx context.Context, event *models.PaymentWebhookEvent) error {
	if ep.webhooks == nil {
		return fmt.Errorf("webhook relay is not configured")
	}
	return ep.webhooks.PublishEvent(ctx, "payment-"+event.PaymentKey, event)
}

// EventHandler handles incoming events
type EventHandler struct {
	onPaymentWebhook func(context.Context, *models.PaymentWebhookEvent) error
	logger           *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnPaymentWebhook registers a handler for relayed gateway webhooks
func (eh *EventHandler) OnPaymentWebhook(handler func(context.Context, *models.PaymentWebhookEvent) error) {
	eh.onPaymentWebhook = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	eh.logger.Debug("Handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("event_id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypePaymentStatusChange:
		if eh.onPaymentWebhook != nil {
			var event models.PaymentWebhookEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal PaymentWebhook event: %w", err)
			}
			return eh.onPaymentWebhook(ctx, &event)
		}

	default:
		eh.logger.Debug("Unhandled event type", zap.String("type", baseEvent.EventType))
	}

	return nil
}
