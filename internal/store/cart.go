package store

import (
	"context"

	"wholesale-market/internal/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// UpsertCartItem adds a line, merging quantities with an existing
// (buyer, product, variant) row. item is updated with the stored row.
func (s *Store) UpsertCartItem(ctx context.Context, item *models.CartItem) error {
	query := `
		INSERT INTO cart_items (buyer_id, product_id, variant_id, quantity)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT ON CONSTRAINT cart_items_buyer_product_variant_key
		DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity, updated_at = NOW()
		RETURNING id, quantity, created_at, updated_at`

	return s.db.GetContext(ctx, item, query, item.BuyerID, item.ProductID, item.VariantID, item.Quantity)
}

// ListCartItems returns a buyer's cart, oldest first.
func (s *Store) ListCartItems(ctx context.Context, buyerID uuid.UUID) ([]models.CartItem, error) {
	var items []models.CartItem
	err := s.db.SelectContext(ctx, &items,
		"SELECT * FROM cart_items WHERE buyer_id = $1 ORDER BY created_at", buyerID)
	return items, err
}

// UpdateCartItemQuantity sets a quantity; false means no such item for the buyer.
func (s *Store) UpdateCartItemQuantity(ctx context.Context, buyerID, itemID uuid.UUID, quantity int) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE cart_items SET quantity = $1, updated_at = NOW() WHERE id = $2 AND buyer_id = $3",
		quantity, itemID, buyerID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// DeleteCartItem removes one item; false means no such item for the buyer.
func (s *Store) DeleteCartItem(ctx context.Context, buyerID, itemID uuid.UUID) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM cart_items WHERE id = $1 AND buyer_id = $2", itemID, buyerID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// DeleteCartItemsByProducts clears purchased products from a buyer's cart.
func (s *Store) DeleteCartItemsByProducts(ctx context.Context, buyerID uuid.UUID, productIDs []uuid.UUID) (int64, error) {
	if len(productIDs) == 0 {
		return 0, nil
	}

	query, args, err := sqlx.In("DELETE FROM cart_items WHERE buyer_id = ? AND product_id IN (?)", buyerID, productIDs)
	if err != nil {
		return 0, err
	}

	res, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
