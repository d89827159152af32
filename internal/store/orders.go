package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"wholesale-market/internal/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// CreateOrder inserts one order line. A clash on order_number yields ErrDuplicate.
func (s *Store) CreateOrder(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (order_number, order_group_id, buyer_id, seller_id, product_id, quantity,
			unit_price, shipping_fee, total_amount, paid_amount, delivery_option, delivery_address,
			payment_key, payment_method, paid_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING id, created_at, updated_at`

	err := s.db.GetContext(ctx, order, query,
		order.OrderNumber, order.OrderGroupID, order.BuyerID, order.SellerID, order.ProductID, order.Quantity,
		order.UnitPrice, order.ShippingFee, order.TotalAmount, order.PaidAmount, order.DeliveryOption, order.DeliveryAddress,
		order.PaymentKey, order.PaymentMethod, order.PaidAt, order.Status)
	if isUniqueViolation(err) {
		return fmt.Errorf("order %s: %w", order.OrderNumber, ErrDuplicate)
	}
	return err
}

// GetOrderByID retrieves an order by ID
func (s *Store) GetOrderByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// orderNumberSort puts "G-2" before "G-10". Numbers in one group share a
// prefix, so sorting by length first gives line order.
const orderNumberSort = "ORDER BY length(order_number), order_number"

// GetOrdersByPaymentKey returns every order paid with key, in line order.
// An empty result means the payment has not been materialized yet.
func (s *Store) GetOrdersByPaymentKey(ctx context.Context, paymentKey string) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE payment_key = $1 "+orderNumberSort, paymentKey)
	return orders, err
}

// GetOrdersByGroupID returns the orders of one checkout.
func (s *Store) GetOrdersByGroupID(ctx context.Context, groupID string) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE order_group_id = $1 "+orderNumberSort, groupID)
	return orders, err
}

// GetOrdersByBuyerID retrieves orders for a buyer
func (s *Store) GetOrdersByBuyerID(ctx context.Context, buyerID uuid.UUID, limit, offset int) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE buyer_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3",
		buyerID, limit, offset)
	return orders, err
}

// UpdateOrderStatus moves an order to status only if it is currently in one of from.
// It reports whether a row changed.
func (s *Store) UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, from []string, status string) (bool, error) {
	query := `
		UPDATE orders
		   SET status = $1::text,
		       cancelled_at = CASE WHEN $1::text = 'cancelled' THEN NOW() ELSE cancelled_at END,
		       updated_at = NOW()
		 WHERE id = $2 AND status = ANY($3)`

	res, err := s.db.ExecContext(ctx, query, status, orderID, pq.Array(from))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
