package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"tribune/internal/pkg/circuit"
	"tribune/internal/pkg/retry"
	"tribune/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockBroker struct {
	mock.Mock
	name string
}

func (m *mockBroker) Name() string { return m.name }

func (m *mockBroker) PlaceOrder(ctx context.Context, order types.Order) (PlaceResult, error) {
	args := m.Called(ctx, order)
	return args.Get(0).(PlaceResult), args.Error(1)
}

func (m *mockBroker) CancelOrder(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *mockBroker) GetPositions(ctx context.Context) ([]types.Position, error) {
	args := m.Called(ctx)
	list, _ := args.Get(0).([]types.Position)
	return list, args.Error(1)
}

func TestRouterPrecedence(t *testing.T) {
	equities := &mockBroker{name: "rest"}
	crypto := &mockBroker{name: "binance"}
	paper := &mockBroker{name: "paper"}
	r, err := NewRouter([]Broker{equities, crypto, paper}, "rest", "binance", map[string]string{"tsla": "paper", "ETHUSDT": "paper"})
	require.NoError(t, err)

	assert.Same(t, equities, r.Route("AAPL"))
	assert.Same(t, crypto, r.Route("BTC/USDT"))
	assert.Same(t, crypto, r.Route("solusdc"))
	assert.Same(t, paper, r.Route("TSLA"))
	assert.Same(t, paper, r.Route("ETH/USDT"), "explicit route beats crypto detection")
	assert.Same(t, r.Route("AAPL"), r.Route("aapl"))
}

func TestRouterCryptoDetection(t *testing.T) {
	equities := &mockBroker{name: "rest"}
	crypto := &mockBroker{name: "binance"}
	r, err := NewRouter([]Broker{equities, crypto}, "rest", "binance", nil)
	require.NoError(t, err)

	cases := map[string]Broker{
		"SETH":    equities,
		"BETH":    equities,
		"BRK-B":   equities,
		"BTC-USD": crypto,
		"ETH-USD": crypto,
		"BTCUSD":  crypto,
		"ETHUSDT": crypto,
	}
	for sym, want := range cases {
		assert.Same(t, want, r.Route(sym), sym)
	}
}

func TestRouterValidation(t *testing.T) {
	b := &mockBroker{name: "paper"}
	_, err := NewRouter([]Broker{b}, "missing", "paper", nil)
	assert.Error(t, err)
	_, err = NewRouter([]Broker{b}, "paper", "paper", map[string]string{"AAPL": "ghost"})
	assert.Error(t, err)
	_, err = NewRouter([]Broker{b, &mockBroker{name: "paper"}}, "paper", "paper", nil)
	assert.Error(t, err)

	r, err := NewRouter([]Broker{b}, "paper", "none", nil)
	require.NoError(t, err)
	assert.Same(t, b, r.Route("BTCUSDT"), "crypto falls back to default")
}

func fastPolicy() retry.Policy {
	return retry.Policy{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}
}

func TestGuardedPlaceOrderDoesNotRetry(t *testing.T) {
	inner := &mockBroker{name: "x"}
	inner.On("PlaceOrder", mock.Anything, mock.Anything).Return(PlaceResult{}, errors.New("timeout")).Once()
	g := NewGuarded(inner, circuit.NewCircuitBreaker("x", 5, time.Minute), fastPolicy())

	_, err := g.PlaceOrder(context.Background(), types.Order{ID: "1"})
	assert.Error(t, err)
	inner.AssertNumberOfCalls(t, "PlaceOrder", 1)
}

func TestGuardedRetriesReads(t *testing.T) {
	inner := &mockBroker{name: "x"}
	inner.On("GetPositions", mock.Anything).Return(nil, errors.New("reset")).Once()
	inner.On("GetPositions", mock.Anything).Return([]types.Position{{Symbol: "AAPL", Quantity: 1}}, nil).Once()
	g := NewGuarded(inner, circuit.NewCircuitBreaker("x", 5, time.Minute), fastPolicy())

	list, err := g.GetPositions(context.Background())
	require.NoError(t, err)
	assert.Len(t, list, 1)
	inner.AssertNumberOfCalls(t, "GetPositions", 2)
}

func TestGuardedOpenCircuitFailsFast(t *testing.T) {
	inner := &mockBroker{name: "x"}
	inner.On("PlaceOrder", mock.Anything, mock.Anything).Return(PlaceResult{}, errors.New("down"))
	g := NewGuarded(inner, circuit.NewCircuitBreaker("x", 1, time.Minute), fastPolicy())

	_, _ = g.PlaceOrder(context.Background(), types.Order{ID: "1"})
	_, err := g.PlaceOrder(context.Background(), types.Order{ID: "2"})
	assert.ErrorIs(t, err, types.ErrBrokerFailure)
	assert.ErrorIs(t, err, circuit.ErrOpen)
	inner.AssertNumberOfCalls(t, "PlaceOrder", 1)
}

func TestGuardedRejectionIsNotAFailure(t *testing.T) {
	inner := &mockBroker{name: "x"}
	inner.On("PlaceOrder", mock.Anything, mock.Anything).Return(PlaceResult{Success: false, Error: "insufficient funds"}, nil)
	cb := circuit.NewCircuitBreaker("x", 1, time.Minute)
	g := NewGuarded(inner, cb, fastPolicy())

	for i := 0; i < 3; i++ {
		res, err := g.PlaceOrder(context.Background(), types.Order{})
		require.NoError(t, err)
		assert.False(t, res.Success)
	}
	assert.Equal(t, circuit.StateClosed, cb.State())
}

func TestGuardedCallerCancelDoesNotTrip(t *testing.T) {
	inner := &mockBroker{name: "x"}
	inner.On("PlaceOrder", mock.Anything, mock.Anything).Return(PlaceResult{}, context.Canceled)
	cb := circuit.NewCircuitBreaker("x", 1, time.Minute)
	g := NewGuarded(inner, cb, fastPolicy())

	_, err := g.PlaceOrder(context.Background(), types.Order{ID: "1"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, circuit.StateClosed, cb.State())
}
