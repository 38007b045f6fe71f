package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func TestCurrentStockApplyWeightsAverageCost(t *testing.T) {
	stock := &CurrentStock{}

	running, err := stock.Apply(d("100"), d("10"))
	require.NoError(t, err)
	assert.True(t, running.Equal(d("100")))
	assert.True(t, stock.AverageUnitCost.Equal(d("10")))

	_, err = stock.Apply(d("100"), d("20"))
	require.NoError(t, err)
	assert.True(t, stock.AverageUnitCost.Equal(d("15")), stock.AverageUnitCost.String())
	assert.True(t, stock.TotalValue.Equal(d("3000")))

	_, err = stock.Apply(d("-50"), d("15"))
	require.NoError(t, err)
	assert.True(t, stock.AverageUnitCost.Equal(d("15")))
	assert.True(t, stock.AvailableQuantity.Equal(d("150")))
}

func TestCurrentStockRejectsNegativeAndBelowReserved(t *testing.T) {
	stock := &CurrentStock{}
	_, err := stock.Apply(d("10"), d("1"))
	require.NoError(t, err)

	_, err = stock.Apply(d("-11"), d("1"))
	assert.ErrorIs(t, err, ErrNegativeBalance)

	require.NoError(t, stock.Reserve(d("6")))
	_, err = stock.Apply(d("-5"), d("1"))
	assert.ErrorIs(t, err, ErrBelowReserved)
	assert.True(t, stock.CurrentQuantity.Equal(d("10")))
}

func TestCurrentStockReserveRelease(t *testing.T) {
	stock := &CurrentStock{}
	_, err := stock.Apply(d("8"), d("2"))
	require.NoError(t, err)

	require.NoError(t, stock.Reserve(d("8")))
	assert.True(t, stock.AvailableQuantity.IsZero())
	assert.ErrorIs(t, stock.Reserve(d("0.0001")), ErrInsufficientStock)

	require.NoError(t, stock.Release(d("3")))
	assert.True(t, stock.AvailableQuantity.Equal(d("3")))
	assert.ErrorIs(t, stock.Release(d("6")), ErrReleaseExceedsReserved)
}

func TestDriftConsistent(t *testing.T) {
	drift := Drift{LedgerBalance: d("5"), SnapshotBalance: d("5"), LastRunning: d("5"), AvailableOK: true}
	assert.True(t, drift.Consistent())

	drift.SnapshotBalance = d("4")
	assert.False(t, drift.Consistent())
}
