package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"tribune/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(Config{Name: "equities", BaseURL: srv.URL + "/v1", APIKey: "k", APISecret: "s", RateLimitPerSecond: 100, Burst: 10})
	require.NoError(t, err)
	return c
}

func TestNewRequiresBaseURL(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestPlaceOrderFilled(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/orders", r.URL.Path)
		assert.Equal(t, "k", r.Header.Get("X-API-KEY"))
		var req orderRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "AAPL", req.Symbol)
		assert.Equal(t, "buy", req.Side)
		assert.Equal(t, "limit", req.Type)
		assert.Equal(t, 150.0, req.LimitPrice)
		assert.Equal(t, "ioc", req.TimeInForce)
		_ = json.NewEncoder(w).Encode(orderResponse{ID: "B-1", Status: "filled", FilledAvgPrice: 149.9})
	})

	res, err := c.PlaceOrder(context.Background(), types.Order{
		ID: "o-1", Symbol: "aapl", Side: types.ActionBuy, Quantity: 10,
		Type: types.OrderTypeLimit, LimitPrice: 150,
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "B-1", res.BrokerOrderID)
	assert.Equal(t, 149.9, res.FillPrice)
}

func TestPlaceOrderRejections(t *testing.T) {
	t.Run("status rejected", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(orderResponse{ID: "B-2", Status: "rejected", Reason: "insufficient buying power"})
		})
		res, err := c.PlaceOrder(context.Background(), types.Order{ID: "o", Symbol: "AAPL", Side: types.ActionBuy, Quantity: 1, Type: types.OrderTypeMarket})
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Equal(t, "insufficient buying power", res.Error)
	})
	t.Run("4xx is a venue rejection", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "market closed", http.StatusUnprocessableEntity)
		})
		res, err := c.PlaceOrder(context.Background(), types.Order{ID: "o", Symbol: "AAPL", Side: types.ActionSell, Quantity: 1, Type: types.OrderTypeMarket})
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Equal(t, "market closed", res.Error)
	})
	t.Run("5xx is a transport error", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		})
		_, err := c.PlaceOrder(context.Background(), types.Order{ID: "o", Symbol: "AAPL", Side: types.ActionBuy, Quantity: 1, Type: types.OrderTypeMarket})
		var se *StatusError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, http.StatusBadGateway, se.StatusCode)
	})
	t.Run("bad side never reaches the venue", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("unexpected request")
		})
		res, err := c.PlaceOrder(context.Background(), types.Order{ID: "o", Symbol: "AAPL", Side: types.ActionHold, Quantity: 1})
		require.NoError(t, err)
		assert.False(t, res.Success)
	})
}

func TestPlaceOrderUnfilledAckIsNotBookedAsFill(t *testing.T) {
	for _, status := range []string{"accepted", "new", "partially_filled"} {
		t.Run(status, func(t *testing.T) {
			var cancelled []string
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.Method == http.MethodDelete {
					cancelled = append(cancelled, r.URL.Path)
					w.WriteHeader(http.StatusNoContent)
					return
				}
				_ = json.NewEncoder(w).Encode(orderResponse{ID: "B-9", Status: status})
			})
			res, err := c.PlaceOrder(context.Background(), types.Order{ID: "o", Symbol: "AAPL", Side: types.ActionBuy, Quantity: 5, Type: types.OrderTypeMarket})
			require.NoError(t, err)
			assert.False(t, res.Success)
			assert.Equal(t, "B-9", res.BrokerOrderID)
			assert.Contains(t, res.Error, status)
			assert.Equal(t, []string{"/v1/orders/B-9"}, cancelled)
		})
	}
}

func TestPlaceOrderStopNeverReachesVenue(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("unexpected request")
	})
	res, err := c.PlaceOrder(context.Background(), types.Order{ID: "o", Symbol: "AAPL", Side: types.ActionSell, Quantity: 1, Type: types.OrderTypeStop, StopPrice: 90})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "not supported")
}

func TestCancelOrder(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		if r.URL.Path == "/v1/orders/B-1" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		http.NotFound(w, r)
	})
	ok, err := c.CancelOrder(context.Background(), "B-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.CancelOrder(context.Background(), "B-404")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReadEndpoints(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/positions":
			_ = json.NewEncoder(w).Encode([]positionResponse{
				{Symbol: "msft", Qty: 5, AvgEntryPrice: 300, Sector: "Technology"},
				{Symbol: "IBM", Qty: 0},
			})
		case "/v1/quotes/MSFT":
			_ = json.NewEncoder(w).Encode(quoteResponse{Symbol: "MSFT", Price: 310.5})
		case "/v1/account":
			_ = json.NewEncoder(w).Encode(accountResponse{Equity: 50000, Cash: 20000, BuyingPower: 40000})
		default:
			http.NotFound(w, r)
		}
	})
	ctx := context.Background()

	positions, err := c.GetPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, types.Position{Symbol: "MSFT", Quantity: 5, AvgPrice: 300, Sector: "Technology"}, positions[0])

	px, err := c.GetPrice(ctx, "msft")
	require.NoError(t, err)
	assert.Equal(t, 310.5, px)

	acct, err := c.GetAccount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 50000.0, acct.Equity)
	assert.Equal(t, 40000.0, acct.BuyingPower)
}

func TestRateLimitHonoursContext(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.GetPrice(ctx, "AAPL")
	assert.Error(t, err)
}
