package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CheckoutValidationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkout_validations_total",
		Help: "Total number of carts that passed checkout validation",
	})

	CheckoutRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_rejections_total",
		Help: "Total number of carts rejected at checkout validation",
	}, []string{"reason"})

	ConsumerDeadLettersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "consumer_dead_letters_total",
		Help: "Messages forwarded to a dead-letter topic after exhausting retries",
	}, []string{"topic"})

	OrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Total number of order lines materialized",
	})

	OrdersCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_cancelled_total",
		Help: "Total number of cancelled orders",
	})

	OrderTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_transitions_total",
		Help: "Total number of order status transitions",
	}, []string{"to"})

	PaymentConfirmationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_confirmations_total",
		Help: "Payment confirmation outcomes",
	}, []string{"outcome"})

	PaymentGatewayLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "payment_gateway_latency_seconds",
		Help:    "Latency of payment gateway confirmation calls",
		Buckets: prometheus.DefBuckets,
	})

	InventoryAdjustmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_adjustments_total",
		Help: "Total number of stock adjustments",
	}, []string{"direction", "path"})

	InventoryFallbackTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inventory_fallback_total",
		Help: "Stock adjustments that used the non-atomic read-modify-write path",
	})

	InventoryAdjustmentFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_adjustment_failures_total",
		Help: "Stock adjustments that failed",
	}, []string{"direction"})

	SettlementsCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlements_created_total",
		Help: "Settlements written, by trigger",
	}, []string{"trigger"})

	LedgerPaymentWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_payment_write_failures_total",
		Help: "Payment rows that failed to write after their settlement was created",
	})

	WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_webhook_events_total",
		Help: "Payment webhook deliveries processed, by gateway status",
	}, []string{"status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
