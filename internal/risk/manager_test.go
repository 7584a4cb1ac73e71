package risk

import (
	"context"
	"testing"

	"tribune/internal/config"
	"tribune/internal/portfolio"
	"tribune/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockBook struct {
	mock.Mock
}

func (m *mockBook) ApplyFill(ctx context.Context, fill portfolio.Fill) error {
	args := m.Called(ctx, fill)
	return args.Error(0)
}

func newManager(t *testing.T, book Confirmer) *Manager {
	t.Helper()
	store, err := config.NewTunableStore(config.TunablesFromConfig(config.Default()))
	require.NoError(t, err)
	return NewManager(store, Precision{Equity: 0, Crypto: 6}, book)
}

func buy(sym string) types.ConsensusDecision {
	return types.ConsensusDecision{Symbol: sym, Action: types.ActionBuy, Confidence: 1}
}

func emptyPortfolio(total float64) types.PortfolioSnapshot {
	return types.PortfolioSnapshot{TotalValue: total, Positions: map[string]types.Position{}, SectorExposure: map[string]float64{}}
}

func TestAssessSizesWithinCap(t *testing.T) {
	m := newManager(t, nil)
	out := m.Assess(buy("AAPL"), emptyPortfolio(100000), types.Quote{Symbol: "AAPL", Price: 150, Sector: "Technology"})
	require.True(t, out.Approved, out.Reason)
	// 1% of 100k at 150 = 6.67 -> 6 shares
	assert.Equal(t, 6.0, out.SuggestedQuantity)
	assert.LessOrEqual(t, out.Notional, 10000.0)
	assert.InDelta(t, 147.0, out.StopLoss, 1e-9)
}

func TestAssessRejectsHold(t *testing.T) {
	m := newManager(t, nil)
	out := m.Assess(types.ConsensusDecision{Symbol: "AAPL", Action: types.ActionHold}, emptyPortfolio(100000), types.Quote{Price: 10})
	assert.False(t, out.Approved)
	assert.Equal(t, "no actionable consensus", out.Reason)
}

func TestAssessOversizedSuggestsLimit(t *testing.T) {
	m := newManager(t, nil)
	quote := types.Quote{Symbol: "AAPL", Price: 150, Sector: "Technology"}
	out := m.AssessQuantity(buy("AAPL"), 100, emptyPortfolio(100000), quote)
	assert.False(t, out.Approved)
	assert.Contains(t, out.Reason, "15.0%")
	assert.Contains(t, out.Reason, "10.0%")
	assert.Equal(t, 66.0, out.SuggestedQuantity)
	assert.LessOrEqual(t, out.SuggestedQuantity*quote.Price, 10000.0)

	retry := m.AssessQuantity(buy("AAPL"), out.SuggestedQuantity, emptyPortfolio(100000), quote)
	assert.True(t, retry.Approved, retry.Reason)
}

func TestAssessCryptoPrecision(t *testing.T) {
	m := newManager(t, nil)
	out := m.AssessQuantity(buy("BTC/USDT"), 1, emptyPortfolio(100000), types.Quote{Symbol: "BTC/USDT", Price: 30000, Sector: "Crypto"})
	assert.False(t, out.Approved)
	assert.InDelta(t, 0.333333, out.SuggestedQuantity, 1e-9)
}

func TestAssessSectorLimit(t *testing.T) {
	m := newManager(t, nil)
	snap := emptyPortfolio(100000)
	snap.SectorExposure["Technology"] = 0.24
	snap.Exposure = 24000
	out := m.AssessQuantity(buy("MSFT"), 10, snap, types.Quote{Symbol: "MSFT", Price: 300, Sector: "Technology"})
	assert.False(t, out.Approved)
	assert.Zero(t, out.SuggestedQuantity)
	assert.Contains(t, out.Reason, "27.0%")
}

func TestAssessAggregateLimit(t *testing.T) {
	m := newManager(t, nil)
	snap := emptyPortfolio(100000)
	snap.Exposure = 99500
	out := m.AssessQuantity(buy("XOM"), 10, snap, types.Quote{Symbol: "XOM", Price: 100, Sector: "Energy"})
	assert.False(t, out.Approved)
	assert.Contains(t, out.Reason, "aggregate exposure")
}

func TestAssessSellNeedsPosition(t *testing.T) {
	m := newManager(t, nil)
	sell := types.ConsensusDecision{Symbol: "AAPL", Action: types.ActionSell, Confidence: 1}
	out := m.Assess(sell, emptyPortfolio(100000), types.Quote{Price: 100})
	assert.False(t, out.Approved)

	snap := emptyPortfolio(100000)
	snap.Positions["AAPL"] = types.Position{Symbol: "AAPL", Quantity: 40, AvgPrice: 90}
	out = m.Assess(sell, snap, types.Quote{Symbol: "AAPL", Price: 100})
	require.True(t, out.Approved, out.Reason)
	assert.Equal(t, 40.0, out.SuggestedQuantity)
}

func TestAssessIsSideEffectFree(t *testing.T) {
	book := &mockBook{}
	m := newManager(t, book)
	m.Assess(buy("AAPL"), emptyPortfolio(100000), types.Quote{Price: 100})
	book.AssertNotCalled(t, "ApplyFill", mock.Anything, mock.Anything)
}

func TestConfirmDelegatesToBook(t *testing.T) {
	book := &mockBook{}
	fill := portfolio.Fill{Symbol: "AAPL", Side: types.ActionBuy, Quantity: 1, Price: 100}
	book.On("ApplyFill", mock.Anything, fill).Return(nil).Once()
	m := newManager(t, book)
	require.NoError(t, m.Confirm(context.Background(), fill))
	book.AssertExpectations(t)
}

func TestStopLossPrice(t *testing.T) {
	assert.InDelta(t, 98.0, StopLossPrice(100, 0.02), 1e-9)
	assert.Zero(t, StopLossPrice(0, 0.02))
}

func TestPortfolioMetrics(t *testing.T) {
	snap := emptyPortfolio(10000)
	snap.Positions["A"] = types.Position{Symbol: "A", Quantity: 10, AvgPrice: 100}
	snap.Positions["B"] = types.Position{Symbol: "B", Quantity: 5, AvgPrice: 100}
	m := PortfolioMetrics(snap)
	assert.Equal(t, 1500.0, m.TotalExposure)
	assert.InDelta(t, 0.15, m.ExposurePct, 1e-9)
	assert.Equal(t, "A", m.LargestPosition)
	assert.InDelta(t, 0.1, m.PositionExposure["A"], 1e-9)
}
