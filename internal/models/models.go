package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Product is a seller's listing; StockQuantity is only changed through the inventory adjuster.
type Product struct {
	ID            uuid.UUID `db:"id" json:"id"`
	SellerID      uuid.UUID `db:"seller_id" json:"seller_id"`
	Name          string    `db:"name" json:"name"`
	Price         int64     `db:"price" json:"price"`
	StockQuantity int       `db:"stock_quantity" json:"stock_quantity"`
	IsActive      bool      `db:"is_active" json:"is_active"`
	ShippingFee   int64     `db:"shipping_fee" json:"shipping_fee"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// ValidatedLine is a cart line after reconciliation against the product row.
type ValidatedLine struct {
	ProductID     uuid.UUID `json:"product_id"`
	ProductName   string    `json:"product_name"`
	SellerID      uuid.UUID `json:"seller_id"`
	Quantity      int       `json:"quantity"`
	UnitPrice     int64     `json:"server_unit_price"`
	ShippingFee   int64     `json:"shipping_fee"`
	StockSnapshot int       `json:"stock_snapshot"`
}

// LineTotal is the product amount of the line without shipping.
func (l ValidatedLine) LineTotal() int64 {
	return l.UnitPrice * int64(l.Quantity)
}

// Order is one product line of a checkout.
type Order struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	OrderNumber     string     `db:"order_number" json:"order_number"`
	OrderGroupID    string     `db:"order_group_id" json:"order_group_id"`
	BuyerID         uuid.UUID  `db:"buyer_id" json:"buyer_id"`
	SellerID        uuid.UUID  `db:"seller_id" json:"seller_id"`
	ProductID       uuid.UUID  `db:"product_id" json:"product_id"`
	Quantity        int        `db:"quantity" json:"quantity"`
	UnitPrice       int64      `db:"unit_price" json:"unit_price"`
	ShippingFee     int64      `db:"shipping_fee" json:"shipping_fee"`
	TotalAmount     int64      `db:"total_amount" json:"total_amount"`
	PaidAmount      int64      `db:"paid_amount" json:"paid_amount"`
	DeliveryOption  string     `db:"delivery_option" json:"delivery_option"`
	DeliveryAddress string     `db:"delivery_address" json:"delivery_address"`
	PaymentKey      *string    `db:"payment_key" json:"payment_key,omitempty"`
	PaymentMethod   string     `db:"payment_method" json:"payment_method"`
	PaidAt          *time.Time `db:"paid_at" json:"paid_at,omitempty"`
	Status          string     `db:"status" json:"status"`
	CancelledAt     *time.Time `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

// ComputeTotal returns unit price times quantity plus shipping.
func (o *Order) ComputeTotal() int64 {
	return o.UnitPrice*int64(o.Quantity) + o.ShippingFee
}

// Settlement splits one order's amount between platform and seller.
type Settlement struct {
	ID                uuid.UUID       `db:"id" json:"id"`
	OrderID           uuid.UUID       `db:"order_id" json:"order_id"`
	SellerID          uuid.UUID       `db:"seller_id" json:"seller_id"`
	OrderAmount       int64           `db:"order_amount" json:"order_amount"`
	PlatformFeeRate   decimal.Decimal `db:"platform_fee_rate" json:"platform_fee_rate"`
	PlatformFee       int64           `db:"platform_fee" json:"platform_fee"`
	SellerAmount      int64           `db:"seller_amount" json:"seller_amount"`
	Status            string          `db:"status" json:"status"`
	ScheduledPayoutAt time.Time       `db:"scheduled_payout_at" json:"scheduled_payout_at"`
	CompletedAt       *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
}

// Payment is the durable record of a gateway transaction for one order.
type Payment struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	OrderID      uuid.UUID  `db:"order_id" json:"order_id"`
	SettlementID uuid.UUID  `db:"settlement_id" json:"settlement_id"`
	PaymentKey   string     `db:"payment_key" json:"payment_key"`
	Method       string     `db:"method" json:"method"`
	Amount       int64      `db:"amount" json:"amount"`
	Status       string     `db:"status" json:"status"`
	PaidAt       *time.Time `db:"paid_at" json:"paid_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
}

// CartItem is a persisted pre-checkout line.
type CartItem struct {
	ID        uuid.UUID  `db:"id" json:"id"`
	BuyerID   uuid.UUID  `db:"buyer_id" json:"buyer_id"`
	ProductID uuid.UUID  `db:"product_id" json:"product_id"`
	VariantID *uuid.UUID `db:"variant_id" json:"variant_id,omitempty"`
	Quantity  int        `db:"quantity" json:"quantity"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
}

// Settlement statuses
const (
	SettlementStatusPending   = "pending"
	SettlementStatusCompleted = "completed"
)

// Payment statuses, as reported by the gateway
const (
	PaymentStatusDone     = "DONE"
	PaymentStatusCanceled = "CANCELED"
)

// Delivery options
const (
	DeliveryOptionParcel = "parcel"
	DeliveryOptionPickup = "pickup"
)

// IsValidDeliveryOption reports whether option is a known delivery option.
func IsValidDeliveryOption(option string) bool {
	return option == DeliveryOptionParcel || option == DeliveryOptionPickup
}
