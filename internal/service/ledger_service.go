package service

import (
	"context"
	"errors"
	"fmt"

	"wholesale-market/internal/apperr"
	"wholesale-market/internal/models"
	"wholesale-market/internal/settlement"
	"wholesale-market/internal/store"
	"wholesale-market/internal/util"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Settlement triggers
const (
	TriggerPaymentApproval      = "payment_approval"
	TriggerPurchaseConfirmation = "purchase_confirmation"
	TriggerWebhook              = "webhook"
)

// LedgerStore persists settlements and their payment rows.
type LedgerStore interface {
	GetOrderByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	GetSettlementByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Settlement, error)
	CreateSettlement(ctx context.Context, st *models.Settlement) error
	GetPaymentByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Payment, error)
	CreatePayment(ctx context.Context, payment *models.Payment) error
}

// Publisher publishes domain events. Publishing is best effort everywhere.
type Publisher interface {
	PublishOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error
	PublishOrderCancelled(ctx context.Context, event *models.OrderCancelledEvent) error
	PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error
	PublishSettlementCreated(ctx context.Context, event *models.SettlementCreatedEvent) error
}

// LedgerResult is the outcome of EnsureSettlement. A non-nil PaymentErr means
// the settlement stands but its payment row is still missing.
type LedgerResult struct {
	Settlement *models.Settlement
	Payment    *models.Payment
	Created    bool
	PaymentErr error
	Warning    string
}

// LedgerService is the only writer of settlements and payments.
type LedgerService struct {
	store      LedgerStore
	calculator *settlement.Calculator
	publisher  Publisher
	logger     *zap.Logger
}

// NewLedgerService creates a new ledger service
func NewLedgerService(store LedgerStore, calculator *settlement.Calculator, publisher Publisher) *LedgerService {
	return &LedgerService{
		store:      store,
		calculator: calculator,
		publisher:  publisher,
		logger:     util.GetLogger(),
	}
}

// EnsureSettlement creates the settlement and payment rows for an order, or
// returns the existing settlement. Safe to call any number of times from any
// trigger.
func (ls *LedgerService) EnsureSettlement(ctx context.Context, orderID uuid.UUID, trigger string) (*LedgerResult, error) {
	ctx, span := util.StartSpan(ctx, "LedgerService.EnsureSettlement",
		attribute.String("order_id", orderID.String()),
		attribute.String("trigger", trigger))
	defer span.End()

	existing, err := ls.store.GetSettlementByOrderID(ctx, orderID)
	if err != nil {
		util.RecordError(span, err)
		return nil, apperr.Persistence(err, "failed to look up settlement")
	}

	order, err := ls.store.GetOrderByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound("order %s not found", orderID)
		}
		return nil, apperr.Persistence(err, "failed to load order")
	}

	if existing != nil {
		return ls.converge(ctx, order, existing), nil
	}

	if order.Status == models.OrderStatusCancelled {
		return nil, apperr.IllegalTransition("cancelled orders are not settled")
	}

	split, err := ls.calculator.Split(order.TotalAmount)
	if err != nil {
		return nil, err
	}

	st := &models.Settlement{
		OrderID:           order.ID,
		SellerID:          order.SellerID,
		OrderAmount:       split.OrderAmount,
		PlatformFeeRate:   split.PlatformFeeRate,
		PlatformFee:       split.PlatformFee,
		SellerAmount:      split.SellerAmount,
		Status:            models.SettlementStatusPending,
		ScheduledPayoutAt: split.ScheduledPayoutAt,
	}

	if err := ls.store.CreateSettlement(ctx, st); err != nil {
		if !errors.Is(err, store.ErrDuplicate) {
			util.RecordError(span, err)
			return nil, apperr.Persistence(err, "failed to create settlement")
		}
		// Another trigger won the race; its row is the settlement.
		winner, lookupErr := ls.store.GetSettlementByOrderID(ctx, orderID)
		if lookupErr != nil || winner == nil {
			return nil, apperr.Persistence(errors.Join(err, lookupErr), "failed to read concurrent settlement")
		}
		return ls.converge(ctx, order, winner), nil
	}

	util.SettlementsCreatedTotal.WithLabelValues(trigger).Inc()
	ls.logger.Info("Settlement created",
		zap.String("order_id", order.ID.String()),
		zap.String("settlement_id", st.ID.String()),
		zap.Int64("platform_fee", st.PlatformFee),
		zap.Int64("seller_amount", st.SellerAmount),
		zap.Time("scheduled_payout_at", st.ScheduledPayoutAt),
		zap.String("trigger", trigger))

	event := &models.SettlementCreatedEvent{
		BaseEvent:         models.NewBaseEvent(models.EventTypeSettlementCreated),
		SettlementID:      st.ID,
		OrderID:           st.OrderID,
		SellerID:          st.SellerID,
		SellerAmount:      st.SellerAmount,
		ScheduledPayoutAt: st.ScheduledPayoutAt,
	}
	if err := ls.publisher.PublishSettlementCreated(ctx, event); err != nil {
		ls.logger.Error("Failed to publish SettlementCreated event", zap.Error(err))
	}

	result := &LedgerResult{Settlement: st, Created: true}
	ls.writePayment(ctx, order, result)
	return result, nil
}

// converge returns an existing settlement and writes its payment row if an
// earlier call failed to.
func (ls *LedgerService) converge(ctx context.Context, order *models.Order, st *models.Settlement) *LedgerResult {
	result := &LedgerResult{Settlement: st}

	payment, err := ls.store.GetPaymentByOrderID(ctx, order.ID)
	if err != nil {
		result.PaymentErr = err
		result.Warning = "settlement exists; payment record could not be checked"
		return result
	}
	if payment != nil {
		result.Payment = payment
		return result
	}

	ls.logger.Warn("Settlement has no payment record, retrying payment write",
		zap.String("order_id", order.ID.String()),
		zap.String("settlement_id", st.ID.String()))
	ls.writePayment(ctx, order, result)
	return result
}

func (ls *LedgerService) writePayment(ctx context.Context, order *models.Order, result *LedgerResult) {
	payment := &models.Payment{
		OrderID:      order.ID,
		SettlementID: result.Settlement.ID,
		Method:       order.PaymentMethod,
		Amount:       order.PaidAmount,
		Status:       models.PaymentStatusDone,
		PaidAt:       order.PaidAt,
	}
	if order.PaymentKey != nil {
		payment.PaymentKey = *order.PaymentKey
	}

	err := ls.store.CreatePayment(ctx, payment)
	if errors.Is(err, store.ErrDuplicate) {
		existing, lookupErr := ls.store.GetPaymentByOrderID(ctx, order.ID)
		if lookupErr == nil && existing != nil {
			result.Payment = existing
			return
		}
		err = errors.Join(err, lookupErr)
	}
	if err != nil {
		util.LedgerPaymentWriteFailures.Inc()
		ls.logger.Error("Failed to write payment record, settlement kept",
			zap.String("order_id", order.ID.String()),
			zap.String("settlement_id", result.Settlement.ID.String()),
			zap.Error(err))
		result.PaymentErr = fmt.Errorf("write payment for order %s: %w", order.ID, err)
		result.Warning = "settlement created but payment record failed; it will be retried on the next settlement call"
		return
	}
	result.Payment = payment
}
