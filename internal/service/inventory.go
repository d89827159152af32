package service

import (
	"context"
	"errors"
	"fmt"

	"wholesale-market/internal/apperr"
	"wholesale-market/internal/store"
	"wholesale-market/internal/util"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Inventory modes
const (
	InventoryModeAuto     = "auto"
	InventoryModeAtomic   = "atomic"
	InventoryModeFallback = "fallback"
)

const (
	directionIncrement = "increment"
	directionDecrement = "decrement"
)

// StockStore is the product stock persistence used by the adjuster.
type StockStore interface {
	DecrementStockAtomic(ctx context.Context, productID uuid.UUID, quantity int) (int, error)
	IncrementStockAtomic(ctx context.Context, productID uuid.UUID, quantity int) (int, error)
	GetStockQuantity(ctx context.Context, productID uuid.UUID) (int, error)
	SetStockQuantity(ctx context.Context, productID uuid.UUID, quantity int) error
}

// InventoryAdjuster changes product stock. The primary path runs the stored
// stock functions; the fallback reads, computes and writes back, and can lose
// concurrent updates.
type InventoryAdjuster struct {
	store  StockStore
	mode   string
	logger *zap.Logger
}

// NewInventoryAdjuster creates an adjuster for one of the inventory modes.
func NewInventoryAdjuster(store StockStore, mode string) (*InventoryAdjuster, error) {
	switch mode {
	case "":
		mode = InventoryModeAuto
	case InventoryModeAuto, InventoryModeAtomic, InventoryModeFallback:
	default:
		return nil, apperr.Configuration(fmt.Sprintf("unknown inventory mode %q", mode))
	}

	return &InventoryAdjuster{
		store:  store,
		mode:   mode,
		logger: util.GetLogger(),
	}, nil
}

// Mode returns the configured mode.
func (ia *InventoryAdjuster) Mode() string {
	return ia.mode
}

// Increment adds quantity to the product's stock and returns the new stock.
// It is not idempotent.
func (ia *InventoryAdjuster) Increment(ctx context.Context, productID uuid.UUID, quantity int) (int, error) {
	ctx, span := util.StartSpan(ctx, "InventoryAdjuster.Increment",
		attribute.String("product_id", productID.String()),
		attribute.Int("quantity", quantity))
	defer span.End()

	stock, err := ia.adjust(ctx, directionIncrement, productID, quantity)
	if err != nil {
		util.RecordError(span, err)
	}
	return stock, err
}

// Decrement removes quantity from the product's stock, never going below zero,
// and returns the new stock.
func (ia *InventoryAdjuster) Decrement(ctx context.Context, productID uuid.UUID, quantity int) (int, error) {
	ctx, span := util.StartSpan(ctx, "InventoryAdjuster.Decrement",
		attribute.String("product_id", productID.String()),
		attribute.Int("quantity", quantity))
	defer span.End()

	stock, err := ia.adjust(ctx, directionDecrement, productID, quantity)
	if err != nil {
		util.RecordError(span, err)
	}
	return stock, err
}

func (ia *InventoryAdjuster) adjust(ctx context.Context, direction string, productID uuid.UUID, quantity int) (int, error) {
	if quantity <= 0 {
		return 0, apperr.Validation("quantity must be positive")
	}

	if ia.mode != InventoryModeFallback {
		stock, err := ia.atomic(ctx, direction, productID, quantity)
		if err == nil {
			util.InventoryAdjustmentsTotal.WithLabelValues(direction, "atomic").Inc()
			return stock, nil
		}
		if !errors.Is(err, store.ErrStockFunctionMissing) {
			return 0, ia.fail(direction, productID, err)
		}
		if ia.mode == InventoryModeAtomic {
			return 0, ia.fail(direction, productID, apperr.Wrap(apperr.KindConfiguration, err, "stock functions are not installed"))
		}
		ia.logger.Warn("Stock functions unavailable, using read-modify-write fallback",
			zap.String("product_id", productID.String()),
			zap.String("direction", direction))
	}

	stock, err := ia.readModifyWrite(ctx, direction, productID, quantity)
	if err != nil {
		return 0, ia.fail(direction, productID, err)
	}
	util.InventoryAdjustmentsTotal.WithLabelValues(direction, "fallback").Inc()
	return stock, nil
}

func (ia *InventoryAdjuster) atomic(ctx context.Context, direction string, productID uuid.UUID, quantity int) (int, error) {
	if direction == directionIncrement {
		return ia.store.IncrementStockAtomic(ctx, productID, quantity)
	}
	return ia.store.DecrementStockAtomic(ctx, productID, quantity)
}

func (ia *InventoryAdjuster) readModifyWrite(ctx context.Context, direction string, productID uuid.UUID, quantity int) (int, error) {
	util.InventoryFallbackTotal.Inc()

	current, err := ia.store.GetStockQuantity(ctx, productID)
	if err != nil {
		return 0, err
	}

	next := current + quantity
	if direction == directionDecrement {
		next = current - quantity
		if next < 0 {
			next = 0
		}
	}

	if err := ia.store.SetStockQuantity(ctx, productID, next); err != nil {
		return 0, err
	}

	ia.logger.Warn("Stock adjusted without atomic update",
		zap.String("product_id", productID.String()),
		zap.String("direction", direction),
		zap.Int("from", current),
		zap.Int("to", next))
	return next, nil
}

func (ia *InventoryAdjuster) fail(direction string, productID uuid.UUID, err error) error {
	util.InventoryAdjustmentFailures.WithLabelValues(direction).Inc()
	if apperr.As(err) != nil {
		return err
	}
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFound("product %s not found", productID)
	}
	return apperr.Persistence(err, fmt.Sprintf("failed to %s stock", direction))
}
