package service

import (
	"context"
	"testing"

	"wholesale-market/internal/apperr"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCart_AddMergesQuantity(t *testing.T) {
	env := newTestEnv(nil)
	p := env.store.addProduct("Green onions", 3000, 10)
	buyer := uuid.New()
	ctx := context.Background()

	first, err := env.cart.AddItem(ctx, buyer, &AddCartItemRequest{ProductID: p.ID.String(), Quantity: 2})
	require.NoError(t, err)
	second, err := env.cart.AddItem(ctx, buyer, &AddCartItemRequest{ProductID: p.ID.String(), Quantity: 3})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 5, second.Quantity)

	variant := uuid.NewString()
	_, err = env.cart.AddItem(ctx, buyer, &AddCartItemRequest{ProductID: p.ID.String(), VariantID: variant, Quantity: 1})
	require.NoError(t, err)

	items, err := env.cart.ListItems(ctx, buyer)
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestCart_Rejections(t *testing.T) {
	env := newTestEnv(nil)
	p := env.store.addProduct("Green onions", 3000, 10)
	p.IsActive = false
	buyer := uuid.New()
	ctx := context.Background()

	_, err := env.cart.AddItem(ctx, buyer, &AddCartItemRequest{ProductID: p.ID.String(), Quantity: 1})
	assert.True(t, apperr.IsKind(err, apperr.KindInactiveProduct))

	_, err = env.cart.AddItem(ctx, buyer, &AddCartItemRequest{ProductID: uuid.NewString(), Quantity: 1})
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))

	_, err = env.cart.AddItem(ctx, buyer, &AddCartItemRequest{ProductID: "x", Quantity: 1})
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))

	assert.True(t, apperr.IsKind(env.cart.UpdateQuantity(ctx, buyer, uuid.New(), 2), apperr.KindNotFound))
	assert.True(t, apperr.IsKind(env.cart.UpdateQuantity(ctx, buyer, uuid.New(), 0), apperr.KindValidation))
	assert.True(t, apperr.IsKind(env.cart.RemoveItem(ctx, buyer, uuid.New()), apperr.KindNotFound))
}

func TestCart_UpdateAndRemove(t *testing.T) {
	env := newTestEnv(nil)
	p := env.store.addProduct("Garlic", 7000, 10)
	buyer := uuid.New()
	ctx := context.Background()

	item, err := env.cart.AddItem(ctx, buyer, &AddCartItemRequest{ProductID: p.ID.String(), Quantity: 1})
	require.NoError(t, err)

	require.NoError(t, env.cart.UpdateQuantity(ctx, buyer, item.ID, 4))
	assert.True(t, apperr.IsKind(env.cart.RemoveItem(ctx, uuid.New(), item.ID), apperr.KindNotFound))
	require.NoError(t, env.cart.RemoveItem(ctx, buyer, item.ID))

	items, err := env.cart.ListItems(ctx, buyer)
	require.NoError(t, err)
	assert.Empty(t, items)
}
