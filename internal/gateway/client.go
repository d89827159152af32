// Package gateway talks to the external payment processor. It is the single
// place where a payment is established as real.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"wholesale-market/internal/apperr"
	"wholesale-market/internal/util"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const confirmPath = "/v1/payments/confirm"

// ConfirmRequest is what the processor needs to approve an authorized payment.
type ConfirmRequest struct {
	PaymentKey string `json:"paymentKey"`
	OrderID    string `json:"orderId"`
	Amount     int64  `json:"amount"`
}

// Confirmation is the processor's answer for an approved payment.
type Confirmation struct {
	PaymentKey  string    `json:"paymentKey"`
	OrderID     string    `json:"orderId"`
	Status      string    `json:"status"`
	Method      string    `json:"method"`
	TotalAmount int64     `json:"totalAmount"`
	ApprovedAt  time.Time `json:"approvedAt"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Config holds the processor endpoint and credentials.
type Config struct {
	BaseURL    string
	SecretKey  string
	Timeout    time.Duration
	RetryCount int
}

// Client calls the payment processor's confirmation endpoint.
type Client struct {
	http   *resty.Client
	logger *zap.Logger
}

// NewClient builds a client; the secret key is sent as the basic-auth user with an empty password.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, apperr.Configuration("payment gateway secret key is required")
	}
	if cfg.BaseURL == "" {
		return nil, apperr.Configuration("payment gateway base url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	rc := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetBasicAuth(cfg.SecretKey, "").
		SetHeader("Content-Type", "application/json").
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(200 * time.Millisecond).
		// only transport failures are retried; a 4xx/5xx answer is final
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil
		})

	return &Client{http: rc, logger: util.GetLogger()}, nil
}

// Confirm approves a payment. Any non-2xx answer becomes a PaymentGatewayError
// carrying the processor's code and message verbatim.
func (c *Client) Confirm(ctx context.Context, req ConfirmRequest) (*Confirmation, error) {
	ctx, span := util.StartSpan(ctx, "gateway.Confirm")
	defer span.End()

	var ok Confirmation
	var fail errorBody

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&ok).
		SetError(&fail).
		Post(confirmPath)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, apperr.PaymentGateway("TIMEOUT", "payment confirmation timed out")
		}
		c.logger.Error("Payment gateway unreachable",
			zap.String("order_id", req.OrderID),
			zap.Error(err))
		return nil, apperr.PaymentGateway("NETWORK_ERROR", err.Error())
	}

	if resp.IsError() {
		code, message := fail.Code, fail.Message
		if code == "" {
			code = fmt.Sprintf("GATEWAY_HTTP_%d", resp.StatusCode())
			message = http.StatusText(resp.StatusCode())
		}
		c.logger.Warn("Payment confirmation rejected",
			zap.String("order_id", req.OrderID),
			zap.Int("http_status", resp.StatusCode()),
			zap.String("code", code))
		return nil, apperr.PaymentGateway(code, message)
	}

	if ok.TotalAmount != 0 && ok.TotalAmount != req.Amount {
		return nil, apperr.PaymentGateway("AMOUNT_MISMATCH",
			fmt.Sprintf("gateway approved %d, expected %d", ok.TotalAmount, req.Amount))
	}

	return &ok, nil
}
