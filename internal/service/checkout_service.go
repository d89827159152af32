package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"wholesale-market/internal/apperr"
	"wholesale-market/internal/models"
	"wholesale-market/internal/util"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// AmountTolerance is the largest accepted gap between the server total and
// the total the client claims, in currency units.
const AmountTolerance int64 = 100

// ProductReader loads authoritative product rows.
type ProductReader interface {
	GetProductByID(ctx context.Context, id uuid.UUID) (*models.Product, error)
	GetProductsByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Product, error)
}

// CartLine is one line of a cart as the client submits it.
type CartLine struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

// ValidateCheckoutRequest represents a request to validate a cart before payment
type ValidateCheckoutRequest struct {
	Items           []CartLine `json:"items"`
	TotalAmount     int64      `json:"total_amount"`
	DeliveryOption  string     `json:"delivery_option"`
	DeliveryAddress string     `json:"delivery_address"`
}

// ValidatedCheckout is the server's view of a cart that may be paid for.
// ServerTotal covers goods only; PayableTotal adds shipping and is what the
// buyer is charged.
type ValidatedCheckout struct {
	OrderGroupID  string                 `json:"order_group_id"`
	OrderName     string                 `json:"order_name"`
	ServerTotal   int64                  `json:"server_total"`
	ShippingTotal int64                  `json:"shipping_total"`
	PayableTotal  int64                  `json:"payable_total"`
	Items         []models.ValidatedLine `json:"validated_items"`
}

// CheckoutService re-validates carts against the product table. It never writes.
type CheckoutService struct {
	products ProductReader
	now      func() time.Time
	logger   *zap.Logger
}

// NewCheckoutService creates a new checkout service
func NewCheckoutService(products ProductReader) *CheckoutService {
	return &CheckoutService{
		products: products,
		now:      time.Now,
		logger:   util.GetLogger(),
	}
}

// ValidateCheckout checks every line against stock, status and price and
// returns the lines priced by the server. The claimed total is compared with
// the goods total.
func (s *CheckoutService) ValidateCheckout(ctx context.Context, buyerID uuid.UUID, req *ValidateCheckoutRequest) (*ValidatedCheckout, error) {
	return s.validate(ctx, "CheckoutService.ValidateCheckout", buyerID, req, goodsTotal)
}

// ValidatePayable is ValidateCheckout for an amount about to be charged: the
// claimed total must match goods plus shipping.
func (s *CheckoutService) ValidatePayable(ctx context.Context, buyerID uuid.UUID, req *ValidateCheckoutRequest) (*ValidatedCheckout, error) {
	return s.validate(ctx, "CheckoutService.ValidatePayable", buyerID, req, payableTotal)
}

// totalField picks the total a claimed amount is checked against.
type totalField struct {
	name  string
	value func(*ValidatedCheckout) int64
}

var (
	goodsTotal   = totalField{"server_total", func(c *ValidatedCheckout) int64 { return c.ServerTotal }}
	payableTotal = totalField{"payable_total", func(c *ValidatedCheckout) int64 { return c.PayableTotal }}
)

func (s *CheckoutService) validate(ctx context.Context, spanName string, buyerID uuid.UUID, req *ValidateCheckoutRequest, against totalField) (*ValidatedCheckout, error) {
	ctx, span := util.StartSpan(ctx, spanName,
		attribute.String("buyer_id", buyerID.String()),
		attribute.Int("lines", len(req.Items)))
	defer span.End()

	checkout, err := s.reconcile(ctx, buyerID, req, against)
	if err != nil {
		util.RecordError(span, err)
		util.CheckoutRejectionsTotal.WithLabelValues(rejectionReason(err)).Inc()
		s.logger.Info("Checkout rejected",
			zap.String("buyer_id", buyerID.String()),
			zap.Error(err))
		return nil, err
	}

	util.CheckoutValidationsTotal.Inc()
	return checkout, nil
}

type mergedLine struct {
	productID uuid.UUID
	quantity  int
}

func (s *CheckoutService) reconcile(ctx context.Context, buyerID uuid.UUID, req *ValidateCheckoutRequest, against totalField) (*ValidatedCheckout, error) {
	if buyerID == uuid.Nil {
		return nil, apperr.Validation("buyer id is required")
	}
	if len(req.Items) == 0 {
		return nil, apperr.Validation("cart is empty")
	}
	if req.TotalAmount <= 0 {
		return nil, apperr.Validation("total amount must be positive")
	}
	if req.DeliveryOption != "" && !models.IsValidDeliveryOption(req.DeliveryOption) {
		return nil, apperr.Validation(fmt.Sprintf("unknown delivery option %q", req.DeliveryOption))
	}

	lines, err := mergeLines(req.Items)
	if err != nil {
		return nil, err
	}

	ids := make([]uuid.UUID, len(lines))
	for i, line := range lines {
		ids[i] = line.productID
	}

	products, err := s.products.GetProductsByIDs(ctx, ids)
	if err != nil {
		return nil, apperr.Persistence(err, "failed to load products")
	}
	if len(products) != len(ids) {
		return nil, apperr.NotFound("%d of %d products not found", len(ids)-len(products), len(ids))
	}

	byID := make(map[uuid.UUID]*models.Product, len(products))
	for i := range products {
		byID[products[i].ID] = &products[i]
	}

	validated := make([]models.ValidatedLine, 0, len(lines))
	var serverTotal, shippingTotal int64
	for _, line := range lines {
		product, ok := byID[line.productID]
		if !ok {
			return nil, apperr.NotFound("product %s not found", line.productID)
		}
		if !product.IsActive {
			return nil, apperr.Newf(apperr.KindInactiveProduct, "product %q is no longer on sale", product.Name).
				WithDetails(map[string]any{"product_id": product.ID})
		}
		if product.StockQuantity < line.quantity {
			return nil, apperr.Newf(apperr.KindInsufficientStock,
				"product %q has %d in stock, %d requested", product.Name, product.StockQuantity, line.quantity).
				WithDetails(map[string]any{"product_id": product.ID, "available": product.StockQuantity})
		}

		vl := models.ValidatedLine{
			ProductID:     product.ID,
			ProductName:   product.Name,
			SellerID:      product.SellerID,
			Quantity:      line.quantity,
			UnitPrice:     product.Price,
			ShippingFee:   product.ShippingFee,
			StockSnapshot: product.StockQuantity,
		}
		serverTotal += vl.LineTotal()
		shippingTotal += vl.ShippingFee
		validated = append(validated, vl)
	}

	checkout := &ValidatedCheckout{
		OrderName:     orderName(validated),
		ServerTotal:   serverTotal,
		ShippingTotal: shippingTotal,
		PayableTotal:  serverTotal + shippingTotal,
		Items:         validated,
	}

	expected := against.value(checkout)
	if diff := expected - req.TotalAmount; diff > AmountTolerance || diff < -AmountTolerance {
		return nil, apperr.Newf(apperr.KindAmountMismatch,
			"%s %d differs from claimed total %d", strings.ReplaceAll(against.name, "_", " "), expected, req.TotalAmount).
			WithDetails(map[string]any{
				"server_total":   serverTotal,
				"shipping_total": shippingTotal,
				"payable_total":  checkout.PayableTotal,
				"claimed_total":  req.TotalAmount,
			})
	}

	groupID, err := newOrderGroupID(s.now())
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, err, "failed to generate order group id")
	}

	checkout.OrderGroupID = groupID
	return checkout, nil
}

// mergeLines parses product ids and folds repeated products into one line,
// keeping first-seen order. Claimed unit prices are not trusted and dropped.
func mergeLines(items []CartLine) ([]mergedLine, error) {
	merged := make([]mergedLine, 0, len(items))
	index := make(map[uuid.UUID]int, len(items))

	for i, item := range items {
		id, err := uuid.Parse(strings.TrimSpace(item.ProductID))
		if err != nil {
			return nil, apperr.Validation(fmt.Sprintf("items[%d]: malformed product id %q", i, item.ProductID))
		}
		if item.Quantity < 1 {
			return nil, apperr.Validation(fmt.Sprintf("items[%d]: quantity must be at least 1", i))
		}
		if pos, seen := index[id]; seen {
			merged[pos].quantity += item.Quantity
			continue
		}
		index[id] = len(merged)
		merged = append(merged, mergedLine{productID: id, quantity: item.Quantity})
	}
	return merged, nil
}

func orderName(lines []models.ValidatedLine) string {
	if len(lines) == 0 {
		return ""
	}
	if len(lines) == 1 {
		return lines[0].ProductName
	}
	return fmt.Sprintf("%s +%d more", lines[0].ProductName, len(lines)-1)
}

// newOrderGroupID returns ORD, a UTC timestamp and six random hex digits.
func newOrderGroupID(now time.Time) (string, error) {
	buf := make([]byte, 3)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "ORD" + now.UTC().Format("20060102150405") + strings.ToUpper(hex.EncodeToString(buf)), nil
}

func rejectionReason(err error) string {
	if kind := apperr.KindOf(err); kind != "" {
		return strings.ToLower(string(kind))
	}
	return "internal"
}
