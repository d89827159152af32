package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"wholesale-market/internal/apperr"
	"wholesale-market/internal/models"
	"wholesale-market/internal/store"
	"wholesale-market/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CartStore persists cart lines.
type CartStore interface {
	UpsertCartItem(ctx context.Context, item *models.CartItem) error
	ListCartItems(ctx context.Context, buyerID uuid.UUID) ([]models.CartItem, error)
	UpdateCartItemQuantity(ctx context.Context, buyerID, itemID uuid.UUID, quantity int) (bool, error)
	DeleteCartItem(ctx context.Context, buyerID, itemID uuid.UUID) (bool, error)
	DeleteCartItemsByProducts(ctx context.Context, buyerID uuid.UUID, productIDs []uuid.UUID) (int64, error)
}

// AddCartItemRequest represents a request to put a product in the cart
type AddCartItemRequest struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id,omitempty"`
	Quantity  int    `json:"quantity"`
}

// CartService manages buyers' carts. Prices are never stored in the cart.
type CartService struct {
	store    CartStore
	products ProductReader
	logger   *zap.Logger
}

// NewCartService creates a new cart service
func NewCartService(store CartStore, products ProductReader) *CartService {
	return &CartService{
		store:    store,
		products: products,
		logger:   util.GetLogger(),
	}
}

// AddItem adds a product to the cart; adding a product that is already there
// increases its quantity.
func (s *CartService) AddItem(ctx context.Context, buyerID uuid.UUID, req *AddCartItemRequest) (*models.CartItem, error) {
	ctx, span := util.StartSpan(ctx, "CartService.AddItem")
	defer span.End()

	productID, err := uuid.Parse(strings.TrimSpace(req.ProductID))
	if err != nil {
		return nil, apperr.Validation(fmt.Sprintf("malformed product id %q", req.ProductID))
	}
	if req.Quantity < 1 {
		return nil, apperr.Validation("quantity must be at least 1")
	}

	item := &models.CartItem{BuyerID: buyerID, ProductID: productID, Quantity: req.Quantity}
	if req.VariantID != "" {
		variantID, err := uuid.Parse(req.VariantID)
		if err != nil {
			return nil, apperr.Validation(fmt.Sprintf("malformed variant id %q", req.VariantID))
		}
		item.VariantID = &variantID
	}

	product, err := s.products.GetProductByID(ctx, productID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("product %s not found", productID)
	}
	if err != nil {
		return nil, apperr.Persistence(err, "failed to load product")
	}
	if !product.IsActive {
		return nil, apperr.Newf(apperr.KindInactiveProduct, "product %q is no longer on sale", product.Name)
	}

	if err := s.store.UpsertCartItem(ctx, item); err != nil {
		util.RecordError(span, err)
		return nil, apperr.Persistence(err, "failed to add cart item")
	}
	return item, nil
}

// UpdateQuantity overwrites the quantity of one cart item.
func (s *CartService) UpdateQuantity(ctx context.Context, buyerID, itemID uuid.UUID, quantity int) error {
	ctx, span := util.StartSpan(ctx, "CartService.UpdateQuantity")
	defer span.End()

	if quantity < 1 {
		return apperr.Validation("quantity must be at least 1")
	}
	ok, err := s.store.UpdateCartItemQuantity(ctx, buyerID, itemID, quantity)
	if err != nil {
		return apperr.Persistence(err, "failed to update cart item")
	}
	if !ok {
		return apperr.NotFound("cart item %s not found", itemID)
	}
	return nil
}

// RemoveItem deletes one cart item.
func (s *CartService) RemoveItem(ctx context.Context, buyerID, itemID uuid.UUID) error {
	ctx, span := util.StartSpan(ctx, "CartService.RemoveItem")
	defer span.End()

	ok, err := s.store.DeleteCartItem(ctx, buyerID, itemID)
	if err != nil {
		return apperr.Persistence(err, "failed to remove cart item")
	}
	if !ok {
		return apperr.NotFound("cart item %s not found", itemID)
	}
	return nil
}

// ListItems returns the buyer's cart.
func (s *CartService) ListItems(ctx context.Context, buyerID uuid.UUID) ([]models.CartItem, error) {
	ctx, span := util.StartSpan(ctx, "CartService.ListItems")
	defer span.End()

	items, err := s.store.ListCartItems(ctx, buyerID)
	if err != nil {
		return nil, apperr.Persistence(err, "failed to list cart")
	}
	if items == nil {
		items = []models.CartItem{}
	}
	return items, nil
}

// RemovePurchased drops every cart line for the given products.
func (s *CartService) RemovePurchased(ctx context.Context, buyerID uuid.UUID, productIDs []uuid.UUID) error {
	ctx, span := util.StartSpan(ctx, "CartService.RemovePurchased")
	defer span.End()

	n, err := s.store.DeleteCartItemsByProducts(ctx, buyerID, productIDs)
	if err != nil {
		return apperr.Persistence(err, "failed to clear purchased cart items")
	}
	s.logger.Debug("Purchased items removed from cart",
		zap.String("buyer_id", buyerID.String()),
		zap.Int64("removed", n))
	return nil
}
