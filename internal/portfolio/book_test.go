package portfolio

import (
	"context"
	"sync"
	"testing"

	"tribune/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startBook(t *testing.T, value, cap float64) *Book {
	t.Helper()
	b := NewBook(value, func() float64 { return cap }, nil)
	b.Start()
	t.Cleanup(b.Stop)
	return b
}

func TestApplyFillWeightedAverage(t *testing.T) {
	b := startBook(t, 100000, 1.0)
	ctx := context.Background()

	require.NoError(t, b.ApplyFill(ctx, Fill{Symbol: "aapl", Side: types.ActionBuy, Quantity: 10, Price: 100, Sector: "Technology"}))
	require.NoError(t, b.ApplyFill(ctx, Fill{Symbol: "AAPL", Side: types.ActionBuy, Quantity: 10, Price: 200}))

	snap := b.Snapshot()
	pos := snap.Positions["AAPL"]
	assert.Equal(t, 20.0, pos.Quantity)
	assert.InDelta(t, 150.0, pos.AvgPrice, 1e-9)
	assert.Equal(t, "Technology", pos.Sector)
	assert.InDelta(t, 3000.0, snap.Exposure, 1e-9)
	assert.InDelta(t, 0.03, snap.SectorExposure["Technology"], 1e-9)
}

func TestApplyFillSellRemovesPosition(t *testing.T) {
	b := startBook(t, 100000, 1.0)
	ctx := context.Background()
	require.NoError(t, b.ApplyFill(ctx, Fill{Symbol: "MSFT", Side: types.ActionBuy, Quantity: 5, Price: 300, Sector: "Technology"}))
	require.NoError(t, b.ApplyFill(ctx, Fill{Symbol: "MSFT", Side: types.ActionSell, Quantity: 2, Price: 310}))
	assert.Equal(t, 3.0, b.Snapshot().Positions["MSFT"].Quantity)

	require.NoError(t, b.ApplyFill(ctx, Fill{Symbol: "MSFT", Side: types.ActionSell, Quantity: 3, Price: 310}))
	_, ok := b.Snapshot().Positions["MSFT"]
	assert.False(t, ok)
	assert.Zero(t, b.Snapshot().Exposure)
}

func TestApplyFillRejectsExposureCap(t *testing.T) {
	b := startBook(t, 10000, 0.5)
	ctx := context.Background()
	require.NoError(t, b.ApplyFill(ctx, Fill{Symbol: "AAPL", Side: types.ActionBuy, Quantity: 20, Price: 200}))
	before := b.Snapshot()

	err := b.ApplyFill(ctx, Fill{Symbol: "MSFT", Side: types.ActionBuy, Quantity: 10, Price: 200})
	assert.ErrorIs(t, err, ErrExposureCap)
	assert.True(t, types.IsInvariant(err))

	after := b.Snapshot()
	assert.Equal(t, before.Positions, after.Positions)
	assert.Equal(t, before.Version, after.Version)
}

func TestSnapshotIsACopy(t *testing.T) {
	b := startBook(t, 100000, 1.0)
	require.NoError(t, b.ApplyFill(context.Background(), Fill{Symbol: "AAPL", Side: types.ActionBuy, Quantity: 1, Price: 100}))
	snap := b.Snapshot()
	delete(snap.Positions, "AAPL")
	_, ok := b.Snapshot().Positions["AAPL"]
	assert.True(t, ok)
}

func TestConcurrentFillsAreNotLost(t *testing.T) {
	b := startBook(t, 1e9, 1.0)
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, b.ApplyFill(ctx, Fill{Symbol: "AAPL", Side: types.ActionBuy, Quantity: 1, Price: 10}))
		}()
	}
	wg.Wait()
	assert.Equal(t, 50.0, b.Snapshot().Positions["AAPL"].Quantity)
}

func TestSyncPositionsAndTotalValue(t *testing.T) {
	b := startBook(t, 1000, 1.0)
	ctx := context.Background()
	require.NoError(t, b.SetTotalValue(ctx, 50000))
	require.NoError(t, b.SyncPositions(ctx, []types.Position{
		{Symbol: "btcusdt", Quantity: 0.5, AvgPrice: 20000, Sector: "Crypto"},
		{Symbol: "ZERO", Quantity: 0},
	}))
	snap := b.Snapshot()
	assert.Equal(t, 50000.0, snap.TotalValue)
	assert.Len(t, snap.Positions, 1)
	assert.InDelta(t, 0.2, snap.SectorExposure["Crypto"], 1e-9)
}

func TestStoppedBookRejects(t *testing.T) {
	b := NewBook(1000, nil, nil)
	b.Start()
	b.Stop()
	assert.ErrorIs(t, b.SetTotalValue(context.Background(), 1), ErrStopped)
}
