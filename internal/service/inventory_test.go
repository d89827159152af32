package service

import (
	"context"
	"testing"

	"wholesale-market/internal/apperr"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInventoryAdjuster_StockNeverBelowZero(t *testing.T) {
	for _, mode := range []string{InventoryModeAtomic, InventoryModeFallback} {
		t.Run(mode, func(t *testing.T) {
			st := newMemStore()
			p := st.addProduct("Cabbage box", 12000, 5)
			adj, err := NewInventoryAdjuster(st, mode)
			require.NoError(t, err)

			ctx := context.Background()
			stock, err := adj.Decrement(ctx, p.ID, 3)
			require.NoError(t, err)
			assert.Equal(t, 2, stock)

			stock, err = adj.Decrement(ctx, p.ID, 10)
			require.NoError(t, err)
			assert.Equal(t, 0, stock)
			assert.Equal(t, 0, st.stock(p.ID))

			stock, err = adj.Increment(ctx, p.ID, 4)
			require.NoError(t, err)
			assert.Equal(t, 4, stock)
		})
	}
}

func TestInventoryAdjuster_AutoFallsBackWhenFunctionsMissing(t *testing.T) {
	st := newMemStore()
	st.stockFunctions = false
	p := st.addProduct("Onions 20kg", 30000, 8)

	adj, err := NewInventoryAdjuster(st, "")
	require.NoError(t, err)
	assert.Equal(t, InventoryModeAuto, adj.Mode())

	stock, err := adj.Decrement(context.Background(), p.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, 5, stock)
	assert.Equal(t, 5, st.stock(p.ID))
}

func TestInventoryAdjuster_AtomicModeDoesNotFallBack(t *testing.T) {
	st := newMemStore()
	st.stockFunctions = false
	p := st.addProduct("Onions 20kg", 30000, 8)

	adj, err := NewInventoryAdjuster(st, InventoryModeAtomic)
	require.NoError(t, err)

	_, err = adj.Decrement(context.Background(), p.ID, 3)
	assert.True(t, apperr.IsKind(err, apperr.KindConfiguration))
	assert.Equal(t, 8, st.stock(p.ID))
}

func TestInventoryAdjuster_Errors(t *testing.T) {
	st := newMemStore()
	p := st.addProduct("Garlic", 9000, 1)
	adj, err := NewInventoryAdjuster(st, InventoryModeAuto)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = adj.Decrement(ctx, p.ID, 0)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))

	_, err = adj.Increment(ctx, uuid.New(), 1)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))

	st.decrementErr = errStoreDown
	_, err = adj.Decrement(ctx, p.ID, 1)
	assert.True(t, apperr.IsKind(err, apperr.KindPersistence))
	assert.ErrorIs(t, err, errStoreDown)

	_, err = NewInventoryAdjuster(st, "optimistic")
	assert.True(t, apperr.IsKind(err, apperr.KindConfiguration))
}
