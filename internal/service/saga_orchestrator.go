package service

import (
	"context"
	"fmt"
	"time"

	"wholesale-market/internal/apperr"
	"wholesale-market/internal/models"
	"wholesale-market/internal/util"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// OrderWriter inserts order rows.
type OrderWriter interface {
	CreateOrder(ctx context.Context, order *models.Order) error
}

// StockAdjuster is the inventory side of the saga and of cancellation.
type StockAdjuster interface {
	Increment(ctx context.Context, productID uuid.UUID, quantity int) (int, error)
	Decrement(ctx context.Context, productID uuid.UUID, quantity int) (int, error)
}

// SettlementEnsurer writes the ledger for one order.
type SettlementEnsurer interface {
	EnsureSettlement(ctx context.Context, orderID uuid.UUID, trigger string) (*LedgerResult, error)
}

// SagaInput is one paid checkout ready to be materialized.
type SagaInput struct {
	BuyerID         uuid.UUID
	OrderGroupID    string
	PaymentKey      string
	PaymentMethod   string
	PaidAt          time.Time
	CapturedAmount  int64
	DeliveryOption  string
	DeliveryAddress string
	Lines           []models.ValidatedLine
}

// SagaResult lists what the saga committed, in line order.
type SagaResult struct {
	Orders        []models.Order
	SettlementIDs []uuid.UUID
	PaymentIDs    []uuid.UUID
	Warnings      []string
}

// CheckoutSaga materializes a paid checkout one line at a time. Each line is
// order insert, stock decrement, then ledger write. There is no rollback:
// lines committed before a failure stay committed.
type CheckoutSaga struct {
	orders    OrderWriter
	inventory StockAdjuster
	ledger    SettlementEnsurer
	logger    *zap.Logger
}

// NewCheckoutSaga creates a new checkout saga
func NewCheckoutSaga(orders OrderWriter, inventory StockAdjuster, ledger SettlementEnsurer) *CheckoutSaga {
	return &CheckoutSaga{
		orders:    orders,
		inventory: inventory,
		ledger:    ledger,
		logger:    util.GetLogger(),
	}
}

// OrderNumber derives the order number of line i (0-based) out of n lines.
func OrderNumber(groupID string, i, n int) string {
	if n == 1 {
		return groupID
	}
	return fmt.Sprintf("%s-%d", groupID, i+1)
}

// Run executes the saga. On error the returned result still lists the lines
// that were committed.
func (so *CheckoutSaga) Run(ctx context.Context, in *SagaInput) (*SagaResult, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutSaga.Run",
		attribute.String("order_group_id", in.OrderGroupID),
		attribute.Int("lines", len(in.Lines)))
	defer span.End()

	result := &SagaResult{}
	paidAt := in.PaidAt
	paymentKey := in.PaymentKey
	paid := allocateCaptured(in.Lines, in.CapturedAmount)

	for i, line := range in.Lines {
		order := &models.Order{
			OrderNumber:     OrderNumber(in.OrderGroupID, i, len(in.Lines)),
			OrderGroupID:    in.OrderGroupID,
			BuyerID:         in.BuyerID,
			SellerID:        line.SellerID,
			ProductID:       line.ProductID,
			Quantity:        line.Quantity,
			UnitPrice:       line.UnitPrice,
			ShippingFee:     line.ShippingFee,
			DeliveryOption:  in.DeliveryOption,
			DeliveryAddress: in.DeliveryAddress,
			PaymentKey:      &paymentKey,
			PaymentMethod:   in.PaymentMethod,
			PaidAt:          &paidAt,
			Status:          models.OrderStatusPending,
		}
		order.TotalAmount = order.ComputeTotal()
		order.PaidAmount = paid[i]

		if err := so.orders.CreateOrder(ctx, order); err != nil {
			util.RecordError(span, err)
			so.logger.Error("Failed to create order, stopping saga",
				zap.String("order_group_id", in.OrderGroupID),
				zap.String("order_number", order.OrderNumber),
				zap.Int("committed_lines", len(result.Orders)),
				zap.Error(err))
			return result, apperr.Persistence(err, fmt.Sprintf("failed to create order %s", order.OrderNumber)).
				WithDetails(map[string]any{"committed_orders": orderNumbers(result.Orders)})
		}
		util.OrdersCreatedTotal.Inc()
		result.Orders = append(result.Orders, *order)

		// A paid order stands even when stock could not be decremented.
		if stock, err := so.inventory.Decrement(ctx, line.ProductID, line.Quantity); err != nil {
			so.logger.Error("Failed to decrement stock for paid order",
				zap.String("order_number", order.OrderNumber),
				zap.String("product_id", line.ProductID.String()),
				zap.Int("quantity", line.Quantity),
				zap.Error(err))
		} else {
			so.logger.Debug("Stock decremented",
				zap.String("product_id", line.ProductID.String()),
				zap.Int("stock", stock))
		}

		ledger, err := so.ledger.EnsureSettlement(ctx, order.ID, TriggerPaymentApproval)
		if err != nil {
			so.logger.Error("Failed to write settlement for paid order",
				zap.String("order_number", order.OrderNumber),
				zap.Error(err))
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("order %s: settlement not recorded yet", order.OrderNumber))
			continue
		}
		result.SettlementIDs = append(result.SettlementIDs, ledger.Settlement.ID)
		if ledger.Payment != nil {
			result.PaymentIDs = append(result.PaymentIDs, ledger.Payment.ID)
		}
		if ledger.Warning != "" {
			result.Warnings = append(result.Warnings, fmt.Sprintf("order %s: %s", order.OrderNumber, ledger.Warning))
		}
	}

	so.logger.Info("Checkout materialized",
		zap.String("order_group_id", in.OrderGroupID),
		zap.Int("orders", len(result.Orders)))
	return result, nil
}

// allocateCaptured splits the captured amount over the lines by their totals.
// The last line absorbs whatever gap the amount tolerance let through.
func allocateCaptured(lines []models.ValidatedLine, captured int64) []int64 {
	paid := make([]int64, len(lines))
	if len(lines) == 0 {
		return paid
	}
	rest := captured
	for i, line := range lines {
		paid[i] = line.LineTotal() + line.ShippingFee
		rest -= paid[i]
	}
	last := len(lines) - 1
	paid[last] += rest
	if paid[last] < 0 {
		paid[last] = 0
	}
	return paid
}

func orderNumbers(orders []models.Order) []string {
	numbers := make([]string, len(orders))
	for i := range orders {
		numbers[i] = orders[i].OrderNumber
	}
	return numbers
}
