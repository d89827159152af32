package service

import (
	"context"
	"errors"
	"fmt"

	"wholesale-market/internal/apperr"
	"wholesale-market/internal/models"
	"wholesale-market/internal/store"
	"wholesale-market/internal/util"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const maxListLimit = 100

// OrderStore reads orders and writes their status.
type OrderStore interface {
	GetOrderByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	GetOrdersByGroupID(ctx context.Context, groupID string) ([]models.Order, error)
	GetOrdersByBuyerID(ctx context.Context, buyerID uuid.UUID, limit, offset int) ([]models.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, from []string, status string) (bool, error)
}

// OrderService drives orders through their lifecycle after checkout.
type OrderService struct {
	store     OrderStore
	inventory StockAdjuster
	ledger    SettlementEnsurer
	publisher Publisher
	logger    *zap.Logger
}

// NewOrderService creates a new order service
func NewOrderService(store OrderStore, inventory StockAdjuster, ledger SettlementEnsurer, publisher Publisher) *OrderService {
	return &OrderService{
		store:     store,
		inventory: inventory,
		ledger:    ledger,
		publisher: publisher,
		logger:    util.GetLogger(),
	}
}

// CancelOrder cancels a pending or confirmed order and puts its quantity back
// into stock. A cancelled order cannot be cancelled again.
func (s *OrderService) CancelOrder(ctx context.Context, buyerID, orderID uuid.UUID) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CancelOrder",
		attribute.String("order_id", orderID.String()))
	defer span.End()

	order, err := s.loadOwned(ctx, orderID, func(o *models.Order) bool { return o.BuyerID == buyerID })
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	if order.Status == models.OrderStatusCancelled {
		return nil, apperr.IllegalTransition("order already cancelled")
	}
	if !models.CanTransition(order.Status, models.OrderStatusCancelled) {
		return nil, apperr.IllegalTransition("order already shipped or delivered")
	}

	if _, err := s.inventory.Increment(ctx, order.ProductID, order.Quantity); err != nil {
		util.RecordError(span, err)
		s.logger.Error("Failed to restore stock, order not cancelled",
			zap.String("order_id", order.ID.String()),
			zap.Error(err))
		return nil, err
	}

	ok, err := s.store.UpdateOrderStatus(ctx, order.ID, models.SourcesFor(models.OrderStatusCancelled), models.OrderStatusCancelled)
	if err != nil || !ok {
		// The status write lost; take the restored units back out.
		if _, decErr := s.inventory.Decrement(ctx, order.ProductID, order.Quantity); decErr != nil {
			s.logger.Error("Failed to undo stock restoration",
				zap.String("order_id", order.ID.String()),
				zap.Int("quantity", order.Quantity),
				zap.Error(decErr))
		}
		if err != nil {
			return nil, apperr.Persistence(err, "failed to cancel order")
		}
		return nil, apperr.IllegalTransition("order changed while cancelling, please retry")
	}

	util.OrdersCancelledTotal.Inc()
	util.OrderTransitionsTotal.WithLabelValues(models.OrderStatusCancelled).Inc()
	s.logger.Info("Order cancelled",
		zap.String("order_id", order.ID.String()),
		zap.String("from", order.Status),
		zap.Int("restored", order.Quantity))

	event := &models.OrderCancelledEvent{
		BaseEvent: models.NewBaseEvent(models.EventTypeOrderCancelled),
		OrderID:   order.ID,
		ProductID: order.ProductID,
		Quantity:  order.Quantity,
	}
	if err := s.publisher.PublishOrderCancelled(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderCancelled event", zap.Error(err))
	}

	order.Status = models.OrderStatusCancelled
	return order, nil
}

// ConfirmOrder is the seller accepting a pending order.
func (s *OrderService) ConfirmOrder(ctx context.Context, sellerID, orderID uuid.UUID) (*models.Order, error) {
	return s.sellerTransition(ctx, sellerID, orderID, models.OrderStatusConfirmed)
}

// ShipOrder marks a confirmed order as shipped.
func (s *OrderService) ShipOrder(ctx context.Context, sellerID, orderID uuid.UUID) (*models.Order, error) {
	return s.sellerTransition(ctx, sellerID, orderID, models.OrderStatusShipped)
}

// CompleteOrder marks a shipped order as delivered.
func (s *OrderService) CompleteOrder(ctx context.Context, sellerID, orderID uuid.UUID) (*models.Order, error) {
	return s.sellerTransition(ctx, sellerID, orderID, models.OrderStatusCompleted)
}

func (s *OrderService) sellerTransition(ctx context.Context, sellerID, orderID uuid.UUID, to string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.Transition",
		attribute.String("order_id", orderID.String()),
		attribute.String("to", to))
	defer span.End()

	order, err := s.loadOwned(ctx, orderID, func(o *models.Order) bool { return o.SellerID == sellerID })
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	from := order.Status
	if from == to {
		return nil, apperr.IllegalTransition("order already " + to)
	}
	if !models.CanTransition(from, to) {
		return nil, apperr.IllegalTransition(fmt.Sprintf("order cannot move from %s to %s", from, to))
	}

	ok, err := s.store.UpdateOrderStatus(ctx, order.ID, []string{from}, to)
	if err != nil {
		return nil, apperr.Persistence(err, "failed to update order status")
	}
	if !ok {
		return nil, apperr.IllegalTransition("order changed concurrently, please retry")
	}

	util.OrderTransitionsTotal.WithLabelValues(to).Inc()
	s.logger.Info("Order status changed",
		zap.String("order_id", order.ID.String()),
		zap.String("from", from),
		zap.String("to", to))

	event := &models.OrderStatusChangedEvent{
		BaseEvent: models.NewBaseEvent(models.EventTypeOrderStatusChanged),
		OrderID:   order.ID,
		From:      from,
		To:        to,
	}
	if err := s.publisher.PublishOrderStatusChanged(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderStatusChanged event", zap.Error(err))
	}

	order.Status = to
	return order, nil
}

// ConfirmPurchase is the buyer confirming receipt of a delivered order, which
// settles it.
func (s *OrderService) ConfirmPurchase(ctx context.Context, buyerID, orderID uuid.UUID) (*LedgerResult, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ConfirmPurchase",
		attribute.String("order_id", orderID.String()))
	defer span.End()

	order, err := s.loadOwned(ctx, orderID, func(o *models.Order) bool { return o.BuyerID == buyerID })
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}
	if order.Status != models.OrderStatusCompleted {
		return nil, apperr.IllegalTransition("order not delivered yet")
	}

	result, err := s.ledger.EnsureSettlement(ctx, order.ID, TriggerPurchaseConfirmation)
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}
	return result, nil
}

// GetOrder returns an order visible to userID as its buyer or seller.
func (s *OrderService) GetOrder(ctx context.Context, userID, orderID uuid.UUID) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.GetOrder")
	defer span.End()

	return s.loadOwned(ctx, orderID, func(o *models.Order) bool {
		return o.BuyerID == userID || o.SellerID == userID
	})
}

// ListBuyerOrders pages through a buyer's orders, newest first.
func (s *OrderService) ListBuyerOrders(ctx context.Context, buyerID uuid.UUID, limit, offset int) ([]models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ListBuyerOrders")
	defer span.End()

	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	orders, err := s.store.GetOrdersByBuyerID(ctx, buyerID, limit, offset)
	if err != nil {
		return nil, apperr.Persistence(err, "failed to list orders")
	}
	return orders, nil
}

// ListOrdersByGroup returns the orders of one checkout placed by buyerID.
func (s *OrderService) ListOrdersByGroup(ctx context.Context, buyerID uuid.UUID, groupID string) ([]models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ListOrdersByGroup")
	defer span.End()

	orders, err := s.store.GetOrdersByGroupID(ctx, groupID)
	if err != nil {
		return nil, apperr.Persistence(err, "failed to list orders")
	}
	if len(orders) == 0 || orders[0].BuyerID != buyerID {
		return nil, apperr.NotFound("order group %s not found", groupID)
	}
	return orders, nil
}

// loadOwned loads an order and hides it from users it does not belong to.
func (s *OrderService) loadOwned(ctx context.Context, orderID uuid.UUID, owns func(*models.Order) bool) (*models.Order, error) {
	order, err := s.store.GetOrderByID(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("order %s not found", orderID)
	}
	if err != nil {
		return nil, apperr.Persistence(err, "failed to load order")
	}
	if !owns(order) {
		return nil, apperr.NotFound("order %s not found", orderID)
	}
	return order, nil
}
