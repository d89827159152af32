package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"wholesale-market/internal/models"

	"github.com/google/uuid"
)

// GetSettlementByOrderID returns nil, nil when the order has no settlement yet.
func (s *Store) GetSettlementByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Settlement, error) {
	var st models.Settlement
	err := s.db.GetContext(ctx, &st, "SELECT * FROM settlements WHERE order_id = $1", orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// CreateSettlement inserts a settlement; a second row for the same order yields ErrDuplicate.
func (s *Store) CreateSettlement(ctx context.Context, st *models.Settlement) error {
	query := `
		INSERT INTO settlements (order_id, seller_id, order_amount, platform_fee_rate, platform_fee,
			seller_amount, status, scheduled_payout_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`

	err := s.db.GetContext(ctx, st, query,
		st.OrderID, st.SellerID, st.OrderAmount, st.PlatformFeeRate, st.PlatformFee,
		st.SellerAmount, st.Status, st.ScheduledPayoutAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("settlement for order %s: %w", st.OrderID, ErrDuplicate)
	}
	return err
}

// GetPaymentByOrderID returns nil, nil when no payment row exists.
func (s *Store) GetPaymentByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.GetContext(ctx, &payment,
		"SELECT * FROM payments WHERE order_id = $1", orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// CreatePayment creates a new payment record; one order has at most one.
func (s *Store) CreatePayment(ctx context.Context, payment *models.Payment) error {
	query := `
		INSERT INTO payments (order_id, settlement_id, payment_key, method, amount, status, paid_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`

	err := s.db.GetContext(ctx, payment, query,
		payment.OrderID, payment.SettlementID, payment.PaymentKey, payment.Method,
		payment.Amount, payment.Status, payment.PaidAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("payment for order %s: %w", payment.OrderID, ErrDuplicate)
	}
	return err
}
