package compliance

import (
	"context"
	"sync"
	"testing"
	"time"

	"tribune/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockHistoryStore struct {
	mock.Mock
}

func (m *mockHistoryStore) AppendTrade(ctx context.Context, rec types.TradeRecord) error {
	return m.Called(ctx, rec).Error(0)
}

func (m *mockHistoryStore) ListTradesSince(ctx context.Context, since time.Time) ([]types.TradeRecord, error) {
	args := m.Called(ctx, since)
	list, _ := args.Get(0).([]types.TradeRecord)
	return list, args.Error(1)
}

func TestHistoryDayTradeCounterResets(t *testing.T) {
	clock := now
	h := NewHistory(nil, func() time.Duration { return 5 * 24 * time.Hour })
	h.now = func() time.Time { return clock }

	ctx := context.Background()
	h.RecordTrade(ctx, types.TradeRecord{Symbol: "A", Timestamp: clock, IsDayTrade: true})
	h.RecordTrade(ctx, types.TradeRecord{Symbol: "B", Timestamp: clock.Add(time.Hour), IsDayTrade: true})
	h.RecordTrade(ctx, types.TradeRecord{Symbol: "C", Timestamp: clock.Add(2 * time.Hour)})
	clock = clock.Add(3 * time.Hour)
	assert.Equal(t, 2, h.DayTradeCount())

	clock = now.Add(6 * 24 * time.Hour)
	assert.Equal(t, 0, h.DayTradeCount())
}

func TestHistoryConcurrentAppends(t *testing.T) {
	h := NewHistory(nil, nil)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.RecordTrade(context.Background(), types.TradeRecord{Symbol: "X", IsDayTrade: true})
		}()
	}
	wg.Wait()
	assert.Len(t, h.All(), 100)
	assert.Equal(t, 100, h.DayTradeCount())
}

func TestHistoryPersistsAndLoads(t *testing.T) {
	store := &mockHistoryStore{}
	rec := types.TradeRecord{Symbol: "AAPL", Action: types.ActionSell, Timestamp: now}
	store.On("AppendTrade", mock.Anything, rec).Return(nil).Once()
	store.On("ListTradesSince", mock.Anything, mock.Anything).Return([]types.TradeRecord{rec}, nil).Once()

	h := NewHistory(store, nil)
	h.RecordTrade(context.Background(), rec)

	loaded := NewHistory(store, nil)
	require.NoError(t, loaded.Load(context.Background(), now.Add(-time.Hour)))
	assert.Equal(t, []types.TradeRecord{rec}, loaded.Since(now.Add(-time.Minute)))
	store.AssertExpectations(t)
}
