package worker

import (
	"context"
	"errors"
	"testing"

	"wholesale-market/internal/apperr"
	"wholesale-market/internal/models"
	"wholesale-market/internal/service"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubOrders struct {
	orders []models.Order
	err    error
}

func (s *stubOrders) GetOrdersByPaymentKey(ctx context.Context, paymentKey string) ([]models.Order, error) {
	return s.orders, s.err
}

type stubSettler struct {
	calls   []uuid.UUID
	results map[uuid.UUID]error
}

func (s *stubSettler) EnsureSettlement(ctx context.Context, orderID uuid.UUID, trigger string) (*service.LedgerResult, error) {
	s.calls = append(s.calls, orderID)
	if err := s.results[orderID]; err != nil {
		return nil, err
	}
	return &service.LedgerResult{Settlement: &models.Settlement{ID: uuid.New(), OrderID: orderID}, Created: true}, nil
}

func webhook(status string) *models.PaymentWebhookEvent {
	return &models.PaymentWebhookEvent{
		BaseEvent:  models.NewBaseEvent(models.EventTypePaymentStatusChange),
		PaymentKey: "pay_1",
		OrderID:    "ORD1",
		Status:     status,
	}
}

func TestHandlePaymentWebhook_SettlesEveryOrder(t *testing.T) {
	a, b := models.Order{ID: uuid.New()}, models.Order{ID: uuid.New()}
	settler := &stubSettler{}
	w := NewPaymentWebhookWorker(nil, &stubOrders{orders: []models.Order{a, b}}, settler)

	require.NoError(t, w.HandlePaymentWebhook(context.Background(), webhook(models.PaymentStatusDone)))
	assert.Equal(t, []uuid.UUID{a.ID, b.ID}, settler.calls)
}

func TestHandlePaymentWebhook_CanceledIsOnlyLogged(t *testing.T) {
	settler := &stubSettler{}
	w := NewPaymentWebhookWorker(nil, &stubOrders{orders: []models.Order{{ID: uuid.New()}}}, settler)

	require.NoError(t, w.HandlePaymentWebhook(context.Background(), webhook(models.PaymentStatusCanceled)))
	assert.Empty(t, settler.calls)
}

func TestHandlePaymentWebhook_Errors(t *testing.T) {
	cancelled, broken := models.Order{ID: uuid.New()}, models.Order{ID: uuid.New()}
	boom := errors.New("db down")
	settler := &stubSettler{results: map[uuid.UUID]error{
		cancelled.ID: apperr.IllegalTransition("cancelled orders are not settled"),
		broken.ID:    boom,
	}}
	w := NewPaymentWebhookWorker(nil, &stubOrders{orders: []models.Order{cancelled, broken}}, settler)

	err := w.HandlePaymentWebhook(context.Background(), webhook(models.PaymentStatusDone))
	assert.ErrorIs(t, err, boom)
	assert.Len(t, settler.calls, 2)

	w = NewPaymentWebhookWorker(nil, &stubOrders{err: boom}, settler)
	assert.ErrorIs(t, w.HandlePaymentWebhook(context.Background(), webhook(models.PaymentStatusDone)), boom)
}
