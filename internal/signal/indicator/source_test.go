package indicator

import (
	"context"
	"errors"
	"testing"

	"tribune/internal/market"
	"tribune/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCandles struct {
	closes []float64
	err    error
}

func (f fakeCandles) FetchHistory(_ context.Context, _, _ string, _ int) ([]market.Candle, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]market.Candle, len(f.closes))
	for i, c := range f.closes {
		out[i] = market.Candle{OpenTime: int64(i) * 3600000, Close: c}
	}
	return out, nil
}

func series(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

func TestFallingMarketIsOversoldBuy(t *testing.T) {
	s := New(Config{}, fakeCandles{closes: series(120, 200, -1)})
	sigs, err := s.GenerateSignals(context.Background(), "aapl")
	require.NoError(t, err)
	require.Len(t, sigs, 1)
	assert.Equal(t, types.ActionBuy, sigs[0].Action)
	assert.Equal(t, "AAPL", sigs[0].Symbol)
	assert.Equal(t, "indicator", sigs[0].Source)
	assert.NoError(t, sigs[0].Validate())
	assert.GreaterOrEqual(t, sigs[0].Confidence, 0.5)
}

func TestRisingMarketIsOverboughtSell(t *testing.T) {
	s := New(Config{Name: "ta"}, fakeCandles{closes: series(120, 100, 1)})
	sigs, err := s.GenerateSignals(context.Background(), "BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, types.ActionSell, sigs[0].Action)
	assert.NoError(t, sigs[0].Validate())
}

func TestVoteTrendFollowing(t *testing.T) {
	s := New(Config{}, nil)
	action, conf := s.vote(55, 101, 100)
	assert.Equal(t, types.ActionBuy, action)
	assert.Equal(t, 0.55, conf)
	action, _ = s.vote(45, 99, 100)
	assert.Equal(t, types.ActionSell, action)
	action, _ = s.vote(55, 99, 100)
	assert.Equal(t, types.ActionHold, action)
}

func TestErrors(t *testing.T) {
	_, err := New(Config{}, fakeCandles{closes: series(10, 1, 1)}).GenerateSignals(context.Background(), "AAPL")
	assert.ErrorContains(t, err, "insufficient")

	_, err = New(Config{}, fakeCandles{err: errors.New("down")}).GenerateSignals(context.Background(), "AAPL")
	assert.Error(t, err)

	_, err = New(Config{}, nil).GenerateSignals(context.Background(), "AAPL")
	assert.Error(t, err)
}
