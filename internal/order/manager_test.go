package order

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tribune/internal/gateway/broker"
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

func (m *mockBroker) PlaceOrder(ctx context.Context, order types.Order) (broker.PlaceResult, error) {
	args := m.Called(ctx, order)
	return args.Get(0).(broker.PlaceResult), args.Error(1)
}

func (m *mockBroker) CancelOrder(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *mockBroker) GetPositions(ctx context.Context) ([]types.Position, error) {
	return nil, nil
}

type staticRouter struct{ b broker.Broker }

func (r staticRouter) Route(string) broker.Broker { return r.b }

func (r staticRouter) Get(name string) (broker.Broker, bool) {
	if r.b != nil && r.b.Name() == name {
		return r.b, true
	}
	return nil, false
}

type memStore struct {
	mu     sync.Mutex
	orders map[string]types.Order
	events []string
	failOn types.OrderStatus
	// beforeSave 在写入前调用，可用来模拟写入途中调用方取消。
	beforeSave func(types.Order)
}

func newMemStore() *memStore { return &memStore{orders: map[string]types.Order{}} }

func (s *memStore) SaveOrder(ctx context.Context, o types.Order, from types.OrderStatus) error {
	if s.beforeSave != nil {
		s.beforeSave(o)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOn != "" && o.Status == s.failOn {
		return errors.New("disk full")
	}
	s.orders[o.ID] = o
	s.events = append(s.events, string(from)+">"+string(o.Status))
	return nil
}

func (s *memStore) ListOpenOrders(context.Context) ([]types.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.Order
	for _, o := range s.orders {
		if !o.Status.IsTerminal() {
			out = append(out, o)
		}
	}
	return out, nil
}

func newManager(t *testing.T, b broker.Broker, store Store) *Manager {
	t.Helper()
	opts := []Option{WithSubmitTimeout(time.Second)}
	if store != nil {
		opts = append(opts, WithStore(store))
	}
	return NewManager(staticRouter{b: b}, opts...)
}

func buyReq() Request {
	return Request{Symbol: "aapl", Side: types.ActionBuy, Quantity: 10, Type: types.OrderTypeMarket}
}

func TestNewOrderValidation(t *testing.T) {
	m := newManager(t, nil, nil)
	ctx := context.Background()

	o, err := m.NewOrder(ctx, buyReq())
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusPending, o.Status)
	assert.Equal(t, "AAPL", o.Symbol)
	assert.NotEmpty(t, o.ID)

	_, err = m.NewOrder(ctx, Request{Symbol: "AAPL", Side: types.ActionHold, Quantity: 1})
	assert.Error(t, err)
	_, err = m.NewOrder(ctx, Request{Symbol: "AAPL", Side: types.ActionBuy, Quantity: 0})
	assert.Error(t, err)
	_, err = m.NewOrder(ctx, Request{Symbol: "AAPL", Side: types.ActionBuy, Quantity: 1, Type: types.OrderTypeLimit})
	assert.Error(t, err)
	_, err = m.NewOrder(ctx, Request{Symbol: "AAPL", Side: types.ActionBuy, Quantity: 1, Type: types.OrderTypeStop})
	assert.Error(t, err)
}

func TestSubmitFilled(t *testing.T) {
	b := &mockBroker{name: "paper"}
	b.On("PlaceOrder", mock.Anything, mock.MatchedBy(func(o types.Order) bool {
		return o.Status == types.OrderStatusSubmitted && o.Broker == "paper"
	})).Return(broker.PlaceResult{Success: true, BrokerOrderID: "B-1", FillPrice: 101}, nil).Once()
	store := newMemStore()
	m := newManager(t, b, store)
	ctx := context.Background()

	o, err := m.NewOrder(ctx, buyReq())
	require.NoError(t, err)
	done, err := m.SubmitOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusFilled, done.Status)
	assert.Equal(t, "B-1", done.BrokerRef)
	assert.Equal(t, 101.0, done.FillPrice)
	assert.Equal(t, types.OrderStatusFilled, m.GetOrderStatus(o.ID))
	assert.Equal(t, []string{">PENDING", "PENDING>SUBMITTED", "SUBMITTED>FILLED"}, store.events)
	b.AssertExpectations(t)

	_, err = m.SubmitOrder(ctx, o.ID)
	assert.ErrorIs(t, err, types.ErrInvalidTransition)
	assert.True(t, types.IsInvariant(err))
}

func TestSubmitFailuresBecomeRejected(t *testing.T) {
	cases := []struct {
		name   string
		setup  func(b *mockBroker)
		reason string
	}{
		{"venue rejection", func(b *mockBroker) {
			b.On("PlaceOrder", mock.Anything, mock.Anything).Return(broker.PlaceResult{Error: "insufficient funds"}, nil)
		}, "insufficient funds"},
		{"transport error", func(b *mockBroker) {
			b.On("PlaceOrder", mock.Anything, mock.Anything).Return(broker.PlaceResult{}, errors.New("connection reset"))
		}, "broker error: connection reset"},
		{"panic", func(b *mockBroker) {
			b.On("PlaceOrder", mock.Anything, mock.Anything).Run(func(mock.Arguments) { panic("boom") })
		}, "broker error: panic in broker paper: boom"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := &mockBroker{name: "paper"}
			tc.setup(b)
			m := newManager(t, b, nil)
			o, err := m.NewOrder(context.Background(), buyReq())
			require.NoError(t, err)
			done, err := m.SubmitOrder(context.Background(), o.ID)
			require.NoError(t, err)
			assert.Equal(t, types.OrderStatusRejected, done.Status)
			assert.Equal(t, tc.reason, done.Reason)
		})
	}
}

func TestSubmitTimeoutRejects(t *testing.T) {
	b := &mockBroker{name: "slow"}
	b.On("PlaceOrder", mock.Anything, mock.Anything).Return(broker.PlaceResult{}, context.DeadlineExceeded).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		})
	m := NewManager(staticRouter{b: b}, WithSubmitTimeout(20*time.Millisecond))
	o, err := m.NewOrder(context.Background(), buyReq())
	require.NoError(t, err)
	done, err := m.SubmitOrder(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusRejected, done.Status)
	assert.Contains(t, done.Reason, "deadline exceeded")
}

func TestSubmitCancelledContextNeverCallsBroker(t *testing.T) {
	b := &mockBroker{name: "paper"}
	m := newManager(t, b, nil)
	o, err := m.NewOrder(context.Background(), buyReq())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	done, err := m.SubmitOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusCancelled, done.Status)
	b.AssertNotCalled(t, "PlaceOrder", mock.Anything, mock.Anything)
}

func TestSubmitSurvivesCancelDuringSubmittedSave(t *testing.T) {
	b := &mockBroker{name: "paper"}
	b.On("PlaceOrder", mock.Anything, mock.Anything).Return(broker.PlaceResult{Success: true, BrokerOrderID: "B-1", FillPrice: 10}, nil).Once()
	store := newMemStore()
	m := newManager(t, b, store)
	o, err := m.NewOrder(context.Background(), buyReq())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store.beforeSave = func(o types.Order) {
		if o.Status == types.OrderStatusSubmitted {
			cancel()
		}
	}
	done, err := m.SubmitOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusFilled, done.Status)
	assert.Equal(t, "B-1", done.BrokerRef)
	b.AssertExpectations(t)
}

func TestSubmitWithoutBrokerRejects(t *testing.T) {
	m := NewManager(staticRouter{})
	o, err := m.NewOrder(context.Background(), buyReq())
	require.NoError(t, err)
	done, err := m.SubmitOrder(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusRejected, done.Status)
	assert.Contains(t, done.Reason, "no broker")
}

func TestSubmitPersistFailureRejectsBeforeBroker(t *testing.T) {
	b := &mockBroker{name: "paper"}
	store := newMemStore()
	store.failOn = types.OrderStatusSubmitted
	m := newManager(t, b, store)
	o, err := m.NewOrder(context.Background(), buyReq())
	require.NoError(t, err)
	done, err := m.SubmitOrder(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusRejected, done.Status)
	b.AssertNotCalled(t, "PlaceOrder", mock.Anything, mock.Anything)
}

func TestUnknownOrder(t *testing.T) {
	m := newManager(t, nil, nil)
	assert.Equal(t, types.OrderStatusNotFound, m.GetOrderStatus("nope"))
	_, ok := m.Get("nope")
	assert.False(t, ok)
	_, err := m.SubmitOrder(context.Background(), "nope")
	assert.ErrorIs(t, err, types.ErrOrderNotFound)
	assert.False(t, m.CancelOrder(context.Background(), "nope"))
}

func TestCancelPendingAndTerminal(t *testing.T) {
	b := &mockBroker{name: "paper"}
	b.On("PlaceOrder", mock.Anything, mock.Anything).Return(broker.PlaceResult{Success: true, BrokerOrderID: "B-1"}, nil)
	m := newManager(t, b, nil)
	ctx := context.Background()

	pending, err := m.NewOrder(ctx, buyReq())
	require.NoError(t, err)
	assert.True(t, m.CancelOrder(ctx, pending.ID))
	assert.Equal(t, types.OrderStatusCancelled, m.GetOrderStatus(pending.ID))
	assert.False(t, m.CancelOrder(ctx, pending.ID))

	filled, err := m.NewOrder(ctx, buyReq())
	require.NoError(t, err)
	_, err = m.SubmitOrder(ctx, filled.ID)
	require.NoError(t, err)
	assert.False(t, m.CancelOrder(ctx, filled.ID))
	b.AssertNotCalled(t, "CancelOrder", mock.Anything, mock.Anything)
}

func TestRecoverAndCancelSubmitted(t *testing.T) {
	b := &mockBroker{name: "rest"}
	b.On("CancelOrder", mock.Anything, "B-7").Return(true, nil).Once()
	store := newMemStore()
	now := time.Now()
	store.orders["o-1"] = types.Order{ID: "o-1", Symbol: "AAPL", Side: types.ActionBuy, Quantity: 1,
		Status: types.OrderStatusSubmitted, Broker: "rest", BrokerRef: "B-7", CreatedAt: now, UpdatedAt: now}
	store.orders["o-2"] = types.Order{ID: "o-2", Symbol: "MSFT", Side: types.ActionBuy, Quantity: 1,
		Status: types.OrderStatusFilled, CreatedAt: now, UpdatedAt: now}

	m := newManager(t, b, store)
	n, err := m.Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, types.OrderStatusSubmitted, m.GetOrderStatus("o-1"))
	assert.Equal(t, types.OrderStatusNotFound, m.GetOrderStatus("o-2"))

	assert.True(t, m.CancelOrder(context.Background(), "o-1"))
	assert.Equal(t, types.OrderStatusCancelled, m.GetOrderStatus("o-1"))
	b.AssertExpectations(t)
}

func TestCancelSubmittedWithoutBrokerRefStaysSubmitted(t *testing.T) {
	b := &mockBroker{name: "rest"}
	store := newMemStore()
	store.orders["o-1"] = types.Order{ID: "o-1", Symbol: "AAPL", Side: types.ActionBuy, Quantity: 1,
		Status: types.OrderStatusSubmitted, Broker: "rest"}
	m := newManager(t, b, store)
	_, err := m.Recover(context.Background())
	require.NoError(t, err)

	assert.False(t, m.CancelOrder(context.Background(), "o-1"))
	assert.Equal(t, types.OrderStatusSubmitted, m.GetOrderStatus("o-1"))
	assert.Equal(t, types.OrderStatusSubmitted, store.orders["o-1"].Status)
	b.AssertNotCalled(t, "CancelOrder", mock.Anything, mock.Anything)
}

func TestCancelSubmittedRefusedByBroker(t *testing.T) {
	b := &mockBroker{name: "rest"}
	b.On("CancelOrder", mock.Anything, "B-8").Return(false, nil).Once()
	store := newMemStore()
	store.orders["o-1"] = types.Order{ID: "o-1", Symbol: "AAPL", Side: types.ActionBuy, Quantity: 1,
		Status: types.OrderStatusSubmitted, Broker: "rest", BrokerRef: "B-8"}
	m := newManager(t, b, store)
	_, err := m.Recover(context.Background())
	require.NoError(t, err)

	assert.False(t, m.CancelOrder(context.Background(), "o-1"))
	assert.Equal(t, types.OrderStatusSubmitted, m.GetOrderStatus("o-1"))
}

func TestCancelInFlightRefused(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	b := &mockBroker{name: "paper"}
	b.On("PlaceOrder", mock.Anything, mock.Anything).Return(broker.PlaceResult{Success: true, BrokerOrderID: "B-1"}, nil).
		Run(func(mock.Arguments) {
			close(started)
			<-release
		})
	m := newManager(t, b, nil)
	o, err := m.NewOrder(context.Background(), buyReq())
	require.NoError(t, err)

	result := make(chan types.Order, 1)
	go func() {
		done, _ := m.SubmitOrder(context.Background(), o.ID)
		result <- done
	}()
	<-started
	assert.False(t, m.CancelOrder(context.Background(), o.ID))
	close(release)
	assert.Equal(t, types.OrderStatusFilled, (<-result).Status)
}

func TestStatusNeverRegresses(t *testing.T) {
	b := &mockBroker{name: "paper"}
	b.On("PlaceOrder", mock.Anything, mock.Anything).Return(broker.PlaceResult{Success: true}, nil)
	m := newManager(t, b, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		o, err := m.NewOrder(ctx, buyReq())
		require.NoError(t, err)
		wg.Add(2)
		go func() { defer wg.Done(); _, _ = m.SubmitOrder(ctx, o.ID) }()
		go func() { defer wg.Done(); _ = m.CancelOrder(ctx, o.ID) }()
	}
	wg.Wait()
	for _, o := range m.List() {
		assert.True(t, o.Status.IsTerminal(), "order %s stuck in %s", o.ID, o.Status)
	}
}

func TestPurgeTerminal(t *testing.T) {
	m := newManager(t, nil, nil)
	ctx := context.Background()
	o, err := m.NewOrder(ctx, buyReq())
	require.NoError(t, err)
	require.True(t, m.CancelOrder(ctx, o.ID))
	open, err := m.NewOrder(ctx, buyReq())
	require.NoError(t, err)

	n, err := m.Purge(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, types.OrderStatusPending, m.GetOrderStatus(open.ID))
}
