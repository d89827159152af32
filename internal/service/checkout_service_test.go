package service

import (
	"context"
	"regexp"
	"testing"
	"time"

	"wholesale-market/internal/apperr"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateCheckout_ServerPriceWins(t *testing.T) {
	env := newTestEnv(nil)
	p := env.store.addProduct("Napa cabbage 10kg", 32000, 10)

	out, err := env.checkout.ValidateCheckout(context.Background(), uuid.New(), &ValidateCheckoutRequest{
		Items:          []CartLine{{ProductID: p.ID.String(), Quantity: 2, UnitPrice: 30000}},
		TotalAmount:    64000,
		DeliveryOption: "parcel",
	})
	require.NoError(t, err)

	assert.Equal(t, int64(64000), out.ServerTotal)
	require.Len(t, out.Items, 1)
	assert.Equal(t, int64(32000), out.Items[0].UnitPrice)
	assert.Equal(t, 2, out.Items[0].Quantity)
	assert.Equal(t, "Napa cabbage 10kg", out.OrderName)
	assert.Regexp(t, regexp.MustCompile(`^ORD\d{14}[0-9A-F]{6}$`), out.OrderGroupID)
}

func TestValidateCheckout_Tolerance(t *testing.T) {
	env := newTestEnv(nil)
	p := env.store.addProduct("Radish", 1000, 10)
	line := []CartLine{{ProductID: p.ID.String(), Quantity: 3}}

	_, err := env.checkout.ValidateCheckout(context.Background(), uuid.New(), &ValidateCheckoutRequest{Items: line, TotalAmount: 2900})
	assert.NoError(t, err)

	_, err = env.checkout.ValidateCheckout(context.Background(), uuid.New(), &ValidateCheckoutRequest{Items: line, TotalAmount: 2899})
	assert.True(t, apperr.IsKind(err, apperr.KindAmountMismatch))
}

func TestValidateCheckout_Rejections(t *testing.T) {
	env := newTestEnv(nil)
	active := env.store.addProduct("Apples", 5000, 2)
	inactive := env.store.addProduct("Pears", 5000, 2)
	inactive.IsActive = false
	buyer := uuid.New()

	tests := []struct {
		name string
		req  ValidateCheckoutRequest
		kind apperr.Kind
	}{
		{"empty cart", ValidateCheckoutRequest{TotalAmount: 1000}, apperr.KindValidation},
		{"malformed id", ValidateCheckoutRequest{Items: []CartLine{{ProductID: "42", Quantity: 1}}, TotalAmount: 5000}, apperr.KindValidation},
		{"zero total", ValidateCheckoutRequest{Items: []CartLine{{ProductID: active.ID.String(), Quantity: 1}}}, apperr.KindValidation},
		{"zero quantity", ValidateCheckoutRequest{Items: []CartLine{{ProductID: active.ID.String()}}, TotalAmount: 5000}, apperr.KindValidation},
		{"bad delivery", ValidateCheckoutRequest{Items: []CartLine{{ProductID: active.ID.String(), Quantity: 1}}, TotalAmount: 5000, DeliveryOption: "drone"}, apperr.KindValidation},
		{"unknown product", ValidateCheckoutRequest{Items: []CartLine{{ProductID: uuid.NewString(), Quantity: 1}}, TotalAmount: 5000}, apperr.KindNotFound},
		{"inactive", ValidateCheckoutRequest{Items: []CartLine{{ProductID: inactive.ID.String(), Quantity: 1}}, TotalAmount: 5000}, apperr.KindInactiveProduct},
		{"stock", ValidateCheckoutRequest{Items: []CartLine{{ProductID: active.ID.String(), Quantity: 3}}, TotalAmount: 15000}, apperr.KindInsufficientStock},
		{"merged stock", ValidateCheckoutRequest{Items: []CartLine{
			{ProductID: active.ID.String(), Quantity: 2},
			{ProductID: active.ID.String(), Quantity: 1},
		}, TotalAmount: 15000}, apperr.KindInsufficientStock},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			_, err := env.checkout.ValidateCheckout(context.Background(), buyer, &req)
			require.Error(t, err)
			assert.Equal(t, tt.kind, apperr.KindOf(err))
		})
	}
}

func TestValidateCheckout_NoWrites(t *testing.T) {
	env := newTestEnv(nil)
	p := env.store.addProduct("Leeks", 2000, 4)
	req := &ValidateCheckoutRequest{Items: []CartLine{{ProductID: p.ID.String(), Quantity: 4}}, TotalAmount: 8000}

	for i := 0; i < 3; i++ {
		_, err := env.checkout.ValidateCheckout(context.Background(), uuid.New(), req)
		require.NoError(t, err)
	}
	assert.Equal(t, 4, env.store.stock(p.ID))
	assert.Zero(t, env.store.orderCount())
}

func TestOrderNameAndGroupID(t *testing.T) {
	env := newTestEnv(nil)
	a := env.store.addProduct("Carrots", 1000, 5)
	b := env.store.addProduct("Potatoes", 2000, 5)
	c := env.store.addProduct("Beets", 3000, 5)

	out, err := env.checkout.ValidateCheckout(context.Background(), uuid.New(), &ValidateCheckoutRequest{
		Items: []CartLine{
			{ProductID: a.ID.String(), Quantity: 1},
			{ProductID: b.ID.String(), Quantity: 1},
			{ProductID: c.ID.String(), Quantity: 1},
		},
		TotalAmount: 6000,
	})
	require.NoError(t, err)
	assert.Equal(t, "Carrots +2 more", out.OrderName)
	assert.Equal(t, a.ID, out.Items[0].ProductID)
	assert.Equal(t, c.ID, out.Items[2].ProductID)

	id, err := newOrderGroupID(time.Date(2026, 10, 19, 8, 30, 5, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "ORD20261019083005", id[:17])
	assert.Len(t, id, 23)
}

func TestValidatePayable_IncludesShipping(t *testing.T) {
	env := newTestEnv(nil)
	p := env.store.addProduct("Watermelons", 10000, 10)
	p.ShippingFee = 3000
	req := func(total int64) *ValidateCheckoutRequest {
		return &ValidateCheckoutRequest{Items: []CartLine{{ProductID: p.ID.String(), Quantity: 2}}, TotalAmount: total}
	}

	out, err := env.checkout.ValidateCheckout(context.Background(), uuid.New(), req(20000))
	require.NoError(t, err)
	assert.Equal(t, int64(20000), out.ServerTotal)
	assert.Equal(t, int64(3000), out.ShippingTotal)
	assert.Equal(t, int64(23000), out.PayableTotal)

	_, err = env.checkout.ValidatePayable(context.Background(), uuid.New(), req(20000))
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindAmountMismatch))
	assert.Equal(t, int64(23000), apperr.As(err).Details.(map[string]any)["payable_total"])

	out, err = env.checkout.ValidatePayable(context.Background(), uuid.New(), req(23000))
	require.NoError(t, err)
	assert.Equal(t, int64(23000), out.PayableTotal)
}
