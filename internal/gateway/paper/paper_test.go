package paper

import (
	"context"
	"testing"
	"time"

	"tribune/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedPrice(px float64) PriceFunc {
	return func(context.Context, string) (float64, error) { return px, nil }
}

func TestPaperBuySell(t *testing.T) {
	b := New(Config{Cash: 10000}, fixedPrice(100))
	ctx := context.Background()

	res, err := b.PlaceOrder(ctx, types.Order{Symbol: "AAPL", Side: types.ActionBuy, Quantity: 10, Type: types.OrderTypeMarket})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 100.0, res.FillPrice)
	assert.NotEmpty(t, res.BrokerOrderID)

	positions, _ := b.GetPositions(ctx)
	require.Len(t, positions, 1)
	assert.Equal(t, 10.0, positions[0].Quantity)

	acct, _ := b.GetAccount(ctx)
	assert.Equal(t, 9000.0, acct.Cash)
	assert.Equal(t, 10000.0, acct.Equity)

	res, err = b.PlaceOrder(ctx, types.Order{Symbol: "AAPL", Side: types.ActionSell, Quantity: 10})
	require.NoError(t, err)
	assert.True(t, res.Success)
	positions, _ = b.GetPositions(ctx)
	assert.Empty(t, positions)
}

func TestPaperRejections(t *testing.T) {
	b := New(Config{Cash: 100, RejectSymbols: []string{"gme"}}, fixedPrice(50))
	ctx := context.Background()

	res, err := b.PlaceOrder(ctx, types.Order{Symbol: "GME", Side: types.ActionBuy, Quantity: 1})
	require.NoError(t, err)
	assert.False(t, res.Success)

	res, err = b.PlaceOrder(ctx, types.Order{Symbol: "AAPL", Side: types.ActionBuy, Quantity: 3})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "insufficient balance")

	res, err = b.PlaceOrder(ctx, types.Order{Symbol: "AAPL", Side: types.ActionSell, Quantity: 1})
	require.NoError(t, err)
	assert.Contains(t, res.Error, "insufficient position")
}

func TestPaperLimitUsesLimitPrice(t *testing.T) {
	b := New(Config{Cash: 1000}, fixedPrice(100))
	res, err := b.PlaceOrder(context.Background(), types.Order{Symbol: "AAPL", Side: types.ActionBuy, Quantity: 1, Type: types.OrderTypeLimit, LimitPrice: 95})
	require.NoError(t, err)
	assert.Equal(t, 95.0, res.FillPrice)
}

func TestPaperLatencyHonoursContext(t *testing.T) {
	b := New(Config{Cash: 1000, Latency: time.Second}, fixedPrice(1))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := b.PlaceOrder(ctx, types.Order{Symbol: "AAPL", Side: types.ActionBuy, Quantity: 1})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
