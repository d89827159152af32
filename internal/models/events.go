package models

import (
	"time"

	"github.com/google/uuid"
)

// Event types
const (
	EventTypeOrderPlaced         = "ORDER_PLACED"
	EventTypeOrderCancelled      = "ORDER_CANCELLED"
	EventTypeOrderStatusChanged  = "ORDER_STATUS_CHANGED"
	EventTypeSettlementCreated   = "SETTLEMENT_CREATED"
	EventTypePaymentStatusChange = "PAYMENT_STATUS_CHANGED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// NewBaseEvent stamps a fresh event id and time.
func NewBaseEvent(eventType string) BaseEvent {
	return BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
	}
}

// OrderPlacedEvent is published once per confirmed payment.
type OrderPlacedEvent struct {
	BaseEvent
	OrderGroupID string      `json:"order_group_id"`
	PaymentKey   string      `json:"payment_key"`
	BuyerID      uuid.UUID   `json:"buyer_id"`
	OrderIDs     []uuid.UUID `json:"order_ids"`
	TotalAmount  int64       `json:"total_amount"`
}

// OrderCancelledEvent is published after stock was restored and the status written.
type OrderCancelledEvent struct {
	BaseEvent
	OrderID   uuid.UUID `json:"order_id"`
	ProductID uuid.UUID `json:"product_id"`
	Quantity  int       `json:"quantity"`
}

// OrderStatusChangedEvent covers the seller-side transitions.
type OrderStatusChangedEvent struct {
	BaseEvent
	OrderID uuid.UUID `json:"order_id"`
	From    string    `json:"from"`
	To      string    `json:"to"`
}

// SettlementCreatedEvent is published when a settlement row is first written.
type SettlementCreatedEvent struct {
	BaseEvent
	SettlementID      uuid.UUID `json:"settlement_id"`
	OrderID           uuid.UUID `json:"order_id"`
	SellerID          uuid.UUID `json:"seller_id"`
	SellerAmount      int64     `json:"seller_amount"`
	ScheduledPayoutAt time.Time `json:"scheduled_payout_at"`
}

// PaymentWebhookEvent is a gateway webhook delivery relayed onto the bus.
// Deliveries can repeat; consumers must be idempotent.
type PaymentWebhookEvent struct {
	BaseEvent
	PaymentKey string `json:"payment_key"`
	OrderID    string `json:"order_id"`
	Status     string `json:"status"`
}

// GatewayWebhook is the body the payment gateway posts to us.
type GatewayWebhook struct {
	EventType string `json:"eventType"`
	CreatedAt string `json:"createdAt"`
	Data      struct {
		PaymentKey string `json:"paymentKey"`
		OrderID    string `json:"orderId"`
		Status     string `json:"status"`
	} `json:"data"`
}
