package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"
	"time"

	"wholesale-market/internal/apperr"
	"wholesale-market/internal/models"
	"wholesale-market/internal/service"
	"wholesale-market/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	userIDHeader        = "X-User-ID"
	userIDKey           = "user_id"
	webhookSecretHeader = "X-Webhook-Secret"
)

// Pinger is a dependency checked by the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// WebhookRelay puts gateway webhooks on the bus.
type WebhookRelay interface {
	PublishPaymentWebhook(ctx context.Context, event *models.PaymentWebhookEvent) error
}

// Services bundles what the handlers call. Gateway webhooks are refused
// while WebhookSecret is empty.
type Services struct {
	Checkout      *service.CheckoutService
	Payments      *service.PaymentService
	Orders        *service.OrderService
	Cart          *service.CartService
	Relay         WebhookRelay
	WebhookSecret string
	Checks        map[string]Pinger
}

// Handler contains HTTP handlers
type Handler struct {
	svc    Services
	logger *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(svc Services) *Handler {
	return &Handler{svc: svc, logger: util.GetLogger()}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/api/v1/webhooks/payments", requireWebhookSecret(h.svc.WebhookSecret), h.paymentWebhook)

	v1 := router.Group("/api/v1", requireUser())
	{
		v1.POST("/checkout/validate", h.validateCheckout)
		v1.POST("/payments/confirm", h.confirmPayment)

		v1.GET("/orders", h.listOrders)
		v1.GET("/orders/:id", h.getOrder)
		v1.POST("/orders/:id/cancel", h.cancelOrder)
		v1.POST("/orders/:id/purchase-confirm", h.confirmPurchase)
		v1.POST("/orders/:id/confirm", h.sellerTransition(models.OrderStatusConfirmed))
		v1.POST("/orders/:id/ship", h.sellerTransition(models.OrderStatusShipped))
		v1.POST("/orders/:id/complete", h.sellerTransition(models.OrderStatusCompleted))

		v1.GET("/cart/items", h.listCart)
		v1.POST("/cart/items", h.addCartItem)
		v1.PATCH("/cart/items/:id", h.updateCartItem)
		v1.DELETE("/cart/items/:id", h.removeCartItem)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := gin.H{}
	ready := true
	for name, p := range h.svc.Checks {
		if err := p.Ping(ctx); err != nil {
			h.logger.Warn("Readiness check failed", zap.String("dependency", name), zap.Error(err))
			checks[name] = err.Error()
			ready = false
			continue
		}
		checks[name] = "ok"
	}

	status, code := "ready", http.StatusOK
	if !ready {
		status, code = "not ready", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status": status,
		"checks": checks,
		"time":   time.Now().Unix(),
	})
}

func (h *Handler) validateCheckout(c *gin.Context) {
	var req service.ValidateCheckoutRequest
	if !h.bind(c, &req) {
		return
	}

	out, err := h.svc.Checkout.ValidateCheckout(c.Request.Context(), userID(c), &req)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) confirmPayment(c *gin.Context) {
	var req service.ConfirmPaymentRequest
	if !h.bind(c, &req) {
		return
	}

	resp, err := h.svc.Payments.ConfirmPayment(c.Request.Context(), userID(c), &req)
	if err != nil {
		h.renderError(c, err)
		return
	}

	code := http.StatusCreated
	if resp.Duplicate {
		code = http.StatusOK
	}
	c.JSON(code, resp)
}

func (h *Handler) listOrders(c *gin.Context) {
	if group := c.Query("group_id"); group != "" {
		orders, err := h.svc.Orders.ListOrdersByGroup(c.Request.Context(), userID(c), group)
		if err != nil {
			h.renderError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"orders": orders})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	orders, err := h.svc.Orders.ListBuyerOrders(c.Request.Context(), userID(c), limit, offset)
	if err != nil {
		h.renderError(c, err)
		return
	}
	if orders == nil {
		orders = []models.Order{}
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	orderID, ok := h.pathID(c)
	if !ok {
		return
	}

	order, err := h.svc.Orders.GetOrder(c.Request.Context(), userID(c), orderID)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order})
}

func (h *Handler) cancelOrder(c *gin.Context) {
	orderID, ok := h.pathID(c)
	if !ok {
		return
	}

	order, err := h.svc.Orders.CancelOrder(c.Request.Context(), userID(c), orderID)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "order": order})
}

func (h *Handler) confirmPurchase(c *gin.Context) {
	orderID, ok := h.pathID(c)
	if !ok {
		return
	}

	res, err := h.svc.Orders.ConfirmPurchase(c.Request.Context(), userID(c), orderID)
	if err != nil {
		h.renderError(c, err)
		return
	}

	body := gin.H{"success": true, "settlement_id": res.Settlement.ID}
	if res.Payment != nil {
		body["payment_id"] = res.Payment.ID
	}
	if res.Warning != "" {
		body["warning"] = res.Warning
	}
	c.JSON(http.StatusOK, body)
}

func (h *Handler) sellerTransition(to string) gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID, ok := h.pathID(c)
		if !ok {
			return
		}

		var (
			order *models.Order
			err   error
		)
		switch to {
		case models.OrderStatusConfirmed:
			order, err = h.svc.Orders.ConfirmOrder(c.Request.Context(), userID(c), orderID)
		case models.OrderStatusShipped:
			order, err = h.svc.Orders.ShipOrder(c.Request.Context(), userID(c), orderID)
		default:
			order, err = h.svc.Orders.CompleteOrder(c.Request.Context(), userID(c), orderID)
		}
		if err != nil {
			h.renderError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "order": order})
	}
}

func (h *Handler) listCart(c *gin.Context) {
	items, err := h.svc.Cart.ListItems(c.Request.Context(), userID(c))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h *Handler) addCartItem(c *gin.Context) {
	var req service.AddCartItemRequest
	if !h.bind(c, &req) {
		return
	}

	item, err := h.svc.Cart.AddItem(c.Request.Context(), userID(c), &req)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, item)
}

func (h *Handler) updateCartItem(c *gin.Context) {
	itemID, ok := h.pathID(c)
	if !ok {
		return
	}
	var req struct {
		Quantity int `json:"quantity"`
	}
	if !h.bind(c, &req) {
		return
	}

	if err := h.svc.Cart.UpdateQuantity(c.Request.Context(), userID(c), itemID, req.Quantity); err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) removeCartItem(c *gin.Context) {
	itemID, ok := h.pathID(c)
	if !ok {
		return
	}

	if err := h.svc.Cart.RemoveItem(c.Request.Context(), userID(c), itemID); err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// paymentWebhook relays gateway webhooks to the webhook worker
func (h *Handler) paymentWebhook(c *gin.Context) {
	if h.svc.Relay == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "webhook relay disabled"})
		return
	}

	var body models.GatewayWebhook
	if !h.bind(c, &body) {
		return
	}
	if strings.TrimSpace(body.Data.PaymentKey) == "" {
		h.renderError(c, apperr.Validation("paymentKey is required"))
		return
	}

	event := &models.PaymentWebhookEvent{
		BaseEvent:  models.NewBaseEvent(models.EventTypePaymentStatusChange),
		PaymentKey: body.Data.PaymentKey,
		OrderID:    body.Data.OrderID,
		Status:     body.Data.Status,
	}
	if err := h.svc.Relay.PublishPaymentWebhook(c.Request.Context(), event); err != nil {
		h.logger.Error("Failed to relay payment webhook",
			zap.String("payment_key", event.PaymentKey),
			zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "webhook could not be queued"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"accepted": true})
}

func (h *Handler) bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		h.renderError(c, apperr.Validation("invalid request body: "+err.Error()))
		return false
	}
	return true
}

func (h *Handler) pathID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.renderError(c, apperr.Validation("invalid id"))
		return uuid.Nil, false
	}
	return id, true
}

// renderError writes {success:false, error:{...}} with the status of the error's kind.
func (h *Handler) renderError(c *gin.Context, err error) {
	typed := apperr.As(err)
	if typed == nil {
		typed = apperr.Persistence(err, "unexpected error")
	}
	meta := apperr.MetadataFor(typed.Kind)

	body := gin.H{
		"code":    typed.Kind,
		"message": typed.PublicMessage(),
	}
	if meta.HTTPStatus < http.StatusInternalServerError {
		body["reason"] = typed.Message
	}
	if typed.Code != "" {
		body["gateway_code"] = typed.Code
		body["reason"] = typed.Message
	}
	if typed.Details != nil {
		body["details"] = typed.Details
	}
	if meta.Retryable {
		body["retryable"] = true
	}

	if meta.HTTPStatus >= http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.String("kind", string(typed.Kind)),
			zap.Error(err))
	}

	c.AbortWithStatusJSON(meta.HTTPStatus, gin.H{"success": false, "error": body})
}

// requireWebhookSecret checks the shared secret the gateway sends with
// every webhook.
func requireWebhookSecret(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "webhook secret not configured"})
			return
		}
		got := c.GetHeader(webhookSecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   gin.H{"code": "UNAUTHORIZED", "message": "invalid webhook secret"},
			})
			return
		}
		c.Next()
	}
}

// requireUser reads the caller set by the auth proxy
func requireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.GetHeader(userIDHeader))
		if err != nil || id == uuid.Nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   gin.H{"code": "UNAUTHENTICATED", "message": "missing or invalid " + userIDHeader},
			})
			return
		}
		c.Set(userIDKey, id)
		c.Next()
	}
}

func userID(c *gin.Context) uuid.UUID {
	return c.MustGet(userIDKey).(uuid.UUID)
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		util.HTTPRequestDuration.WithLabelValues(c.Request.Method, path, status).Observe(duration)
		util.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
	}
}
