package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"wholesale-market/internal/apperr"
	"wholesale-market/internal/gateway"
	"wholesale-market/internal/models"
	"wholesale-market/internal/redisclient"
	"wholesale-market/internal/store"
	"wholesale-market/internal/util"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// PaymentGateway confirms authorized payments with the processor.
type PaymentGateway interface {
	Confirm(ctx context.Context, req gateway.ConfirmRequest) (*gateway.Confirmation, error)
}

// Locker hands out short-lived named locks.
type Locker interface {
	AcquireLock(ctx context.Context, name string, ttl time.Duration) (*redisclient.Lock, error)
	ReleaseLock(ctx context.Context, lock *redisclient.Lock) (bool, error)
	ExtendLock(ctx context.Context, lock *redisclient.Lock, ttl time.Duration) (bool, error)
}

// PaymentStore reads what a payment key has already produced.
type PaymentStore interface {
	GetOrdersByPaymentKey(ctx context.Context, paymentKey string) ([]models.Order, error)
	GetSettlementByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Settlement, error)
	GetPaymentByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Payment, error)
}

// CartPurger removes purchased products from a buyer's cart.
type CartPurger interface {
	RemovePurchased(ctx context.Context, buyerID uuid.UUID, productIDs []uuid.UUID) error
}

// ConfirmPaymentRequest represents a request to confirm a payment and place its orders
type ConfirmPaymentRequest struct {
	PaymentKey      string     `json:"payment_key"`
	OrderGroupID    string     `json:"order_group_id"`
	Amount          int64      `json:"amount"`
	Items           []CartLine `json:"items"`
	DeliveryOption  string     `json:"delivery_option"`
	DeliveryAddress string     `json:"delivery_address"`
}

// ConfirmPaymentResponse represents the orders a payment produced
type ConfirmPaymentResponse struct {
	OrderNumbers  []string    `json:"order_numbers"`
	OrderIDs      []uuid.UUID `json:"order_ids"`
	SettlementIDs []uuid.UUID `json:"settlement_ids"`
	PaymentIDs    []uuid.UUID `json:"payment_ids"`
	Duplicate     bool        `json:"duplicate"`
	Warnings      []string    `json:"warnings,omitempty"`
}

// PaymentService confirms payments and turns them into orders exactly once
// per payment key.
type PaymentService struct {
	store     PaymentStore
	checkout  *CheckoutService
	gateway   PaymentGateway
	saga      *CheckoutSaga
	locker    Locker
	cart      CartPurger
	publisher Publisher
	lockTTL   time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

// NewPaymentService creates a new payment service. locker and cart may be nil.
func NewPaymentService(
	store PaymentStore,
	checkout *CheckoutService,
	gw PaymentGateway,
	saga *CheckoutSaga,
	locker Locker,
	cart CartPurger,
	publisher Publisher,
	lockTTL time.Duration,
) *PaymentService {
	return &PaymentService{
		store:     store,
		checkout:  checkout,
		gateway:   gw,
		saga:      saga,
		locker:    locker,
		cart:      cart,
		publisher: publisher,
		lockTTL:   lockTTL,
		now:       time.Now,
		logger:    util.GetLogger(),
	}
}

// ConfirmPayment confirms the payment with the gateway and materializes its
// orders. A payment key that already has orders returns them without calling
// the gateway again.
func (ps *PaymentService) ConfirmPayment(ctx context.Context, buyerID uuid.UUID, req *ConfirmPaymentRequest) (*ConfirmPaymentResponse, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.ConfirmPayment",
		attribute.String("order_group_id", req.OrderGroupID))
	defer span.End()

	resp, err := ps.confirm(ctx, buyerID, req)
	if err != nil {
		util.RecordError(span, err)
		util.PaymentConfirmationsTotal.WithLabelValues(confirmOutcome(err)).Inc()
		ps.logger.Warn("Payment confirmation failed",
			zap.String("order_group_id", req.OrderGroupID),
			zap.Error(err))
		return nil, err
	}

	if resp.Duplicate {
		util.PaymentConfirmationsTotal.WithLabelValues("duplicate").Inc()
	} else {
		util.PaymentConfirmationsTotal.WithLabelValues("confirmed").Inc()
	}
	return resp, nil
}

func (ps *PaymentService) confirm(ctx context.Context, buyerID uuid.UUID, req *ConfirmPaymentRequest) (*ConfirmPaymentResponse, error) {
	req.PaymentKey = strings.TrimSpace(req.PaymentKey)
	req.OrderGroupID = strings.TrimSpace(req.OrderGroupID)
	if req.PaymentKey == "" {
		return nil, apperr.Validation("payment key is required")
	}
	if req.OrderGroupID == "" {
		return nil, apperr.Validation("order group id is required")
	}
	if req.Amount <= 0 {
		return nil, apperr.Validation("amount must be positive")
	}

	if resp, err := ps.existing(ctx, buyerID, req.PaymentKey); resp != nil || err != nil {
		return resp, err
	}

	var lock *redisclient.Lock
	if ps.locker != nil {
		var err error
		lock, err = ps.locker.AcquireLock(ctx, "payment:"+req.PaymentKey, ps.lockTTL)
		switch {
		case err != nil:
			ps.logger.Warn("Payment lock unavailable, continuing without it",
				zap.String("payment_key", req.PaymentKey),
				zap.Error(err))
		case lock == nil:
			return nil, apperr.New(apperr.KindConflict, "payment confirmation already in progress")
		default:
			defer ps.release(lock)

			// The previous holder may have just finished.
			if resp, err := ps.existing(ctx, buyerID, req.PaymentKey); resp != nil || err != nil {
				return resp, err
			}
		}
	}

	deliveryOption := req.DeliveryOption
	if deliveryOption == "" {
		deliveryOption = models.DeliveryOptionParcel
	}

	validated, err := ps.checkout.ValidatePayable(ctx, buyerID, &ValidateCheckoutRequest{
		Items:           req.Items,
		TotalAmount:     req.Amount,
		DeliveryOption:  deliveryOption,
		DeliveryAddress: req.DeliveryAddress,
	})
	if err != nil {
		return nil, err
	}

	start := time.Now()
	conf, err := ps.gateway.Confirm(ctx, gateway.ConfirmRequest{
		PaymentKey: req.PaymentKey,
		OrderID:    req.OrderGroupID,
		Amount:     req.Amount,
	})
	util.PaymentGatewayLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		if apperr.As(err) == nil {
			err = apperr.Wrap(apperr.KindPaymentGateway, err, "payment confirmation failed")
		}
		return nil, err
	}

	if lock != nil {
		// The gateway call may have eaten most of the TTL.
		if ok, err := ps.locker.ExtendLock(ctx, lock, ps.lockTTL); err != nil || !ok {
			ps.logger.Warn("Could not extend payment lock",
				zap.String("payment_key", req.PaymentKey),
				zap.Bool("owned", ok),
				zap.Error(err))
		}
	}

	paidAt := conf.ApprovedAt
	if paidAt.IsZero() {
		paidAt = ps.now()
	}
	captured := conf.TotalAmount
	if captured == 0 {
		captured = req.Amount
	}

	ps.logger.Info("Payment confirmed by gateway",
		zap.String("payment_key", req.PaymentKey),
		zap.String("order_group_id", req.OrderGroupID),
		zap.String("method", conf.Method),
		zap.Int64("amount", captured),
		zap.Int64("payable_total", validated.PayableTotal))

	result, err := ps.saga.Run(ctx, &SagaInput{
		BuyerID:         buyerID,
		OrderGroupID:    req.OrderGroupID,
		PaymentKey:      req.PaymentKey,
		PaymentMethod:   conf.Method,
		PaidAt:          paidAt,
		CapturedAmount:  captured,
		DeliveryOption:  deliveryOption,
		DeliveryAddress: req.DeliveryAddress,
		Lines:           validated.Items,
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) && len(result.Orders) == 0 {
			// A concurrent confirmation inserted the orders first.
			if resp, lookupErr := ps.existing(ctx, buyerID, req.PaymentKey); resp != nil {
				return resp, nil
			} else if lookupErr != nil {
				return nil, lookupErr
			}
		}
		return nil, err
	}

	ps.afterMaterialized(ctx, buyerID, req, result)

	resp := &ConfirmPaymentResponse{
		OrderNumbers:  orderNumbers(result.Orders),
		OrderIDs:      make([]uuid.UUID, len(result.Orders)),
		SettlementIDs: result.SettlementIDs,
		PaymentIDs:    result.PaymentIDs,
		Warnings:      result.Warnings,
	}
	for i := range result.Orders {
		resp.OrderIDs[i] = result.Orders[i].ID
	}
	return resp, nil
}

// existing returns the result of an earlier confirmation of paymentKey, or
// nil when there is none. A key placed by another buyer reads as not found.
func (ps *PaymentService) existing(ctx context.Context, buyerID uuid.UUID, paymentKey string) (*ConfirmPaymentResponse, error) {
	orders, err := ps.store.GetOrdersByPaymentKey(ctx, paymentKey)
	if err != nil {
		return nil, apperr.Persistence(err, "failed to look up orders by payment key")
	}
	if len(orders) == 0 {
		return nil, nil
	}
	for i := range orders {
		if orders[i].BuyerID != buyerID {
			ps.logger.Warn("Payment key replayed by another buyer",
				zap.String("payment_key", paymentKey),
				zap.String("buyer_id", buyerID.String()))
			return nil, apperr.NotFound("payment %s not found", paymentKey)
		}
	}

	ps.logger.Info("Duplicate payment confirmation detected",
		zap.String("payment_key", paymentKey),
		zap.Int("orders", len(orders)))

	resp := &ConfirmPaymentResponse{
		OrderNumbers:  make([]string, 0, len(orders)),
		OrderIDs:      make([]uuid.UUID, 0, len(orders)),
		SettlementIDs: []uuid.UUID{},
		PaymentIDs:    []uuid.UUID{},
		Duplicate:     true,
	}
	for _, order := range orders {
		resp.OrderNumbers = append(resp.OrderNumbers, order.OrderNumber)
		resp.OrderIDs = append(resp.OrderIDs, order.ID)

		st, err := ps.store.GetSettlementByOrderID(ctx, order.ID)
		if err != nil {
			return nil, apperr.Persistence(err, "failed to look up settlement")
		}
		if st != nil {
			resp.SettlementIDs = append(resp.SettlementIDs, st.ID)
		}
		payment, err := ps.store.GetPaymentByOrderID(ctx, order.ID)
		if err != nil {
			return nil, apperr.Persistence(err, "failed to look up payment")
		}
		if payment != nil {
			resp.PaymentIDs = append(resp.PaymentIDs, payment.ID)
		}
	}
	return resp, nil
}

func (ps *PaymentService) afterMaterialized(ctx context.Context, buyerID uuid.UUID, req *ConfirmPaymentRequest, result *SagaResult) {
	productIDs := make([]uuid.UUID, len(result.Orders))
	orderIDs := make([]uuid.UUID, len(result.Orders))
	var total int64
	for i := range result.Orders {
		productIDs[i] = result.Orders[i].ProductID
		orderIDs[i] = result.Orders[i].ID
		total += result.Orders[i].TotalAmount
	}

	if ps.cart != nil {
		if err := ps.cart.RemovePurchased(ctx, buyerID, productIDs); err != nil {
			ps.logger.Warn("Failed to clear purchased items from cart",
				zap.String("buyer_id", buyerID.String()),
				zap.Error(err))
		}
	}

	event := &models.OrderPlacedEvent{
		BaseEvent:    models.NewBaseEvent(models.EventTypeOrderPlaced),
		OrderGroupID: req.OrderGroupID,
		PaymentKey:   req.PaymentKey,
		BuyerID:      buyerID,
		OrderIDs:     orderIDs,
		TotalAmount:  total,
	}
	if err := ps.publisher.PublishOrderPlaced(ctx, event); err != nil {
		ps.logger.Error("Failed to publish OrderPlaced event", zap.Error(err))
	}
}

func (ps *PaymentService) release(lock *redisclient.Lock) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := ps.locker.ReleaseLock(ctx, lock); err != nil {
		ps.logger.Warn("Failed to release payment lock", zap.String("key", lock.Key), zap.Error(err))
	}
}

func confirmOutcome(err error) string {
	switch apperr.KindOf(err) {
	case apperr.KindPaymentGateway:
		return "gateway_error"
	case apperr.KindConflict:
		return "conflict"
	case apperr.KindPersistence, "":
		return "saga_failed"
	default:
		return "rejected"
	}
}
