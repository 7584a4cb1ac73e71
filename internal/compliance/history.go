package compliance

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"tribune/internal/logger"
	"tribune/internal/types"
)

// HistoryStore 持久化交易历史。
type HistoryStore interface {
	AppendTrade(ctx context.Context, rec types.TradeRecord) error
	ListTradesSince(ctx context.Context, since time.Time) ([]types.TradeRecord, error)
}

// History 是只追加的交易记录；写入串行，读取返回副本。
type History struct {
	mu      sync.RWMutex
	records []types.TradeRecord
	store   HistoryStore
	window  func() time.Duration
	now     func() time.Time

	dayTrades   int
	windowStart time.Time
}

// NewHistory window 返回日内交易计数器的跟踪窗口。
func NewHistory(store HistoryStore, window func() time.Duration) *History {
	if window == nil {
		window = func() time.Duration { return 5 * 24 * time.Hour }
	}
	return &History{store: store, window: window, now: time.Now}
}

// Load 从存储回放 since 之后的记录。
func (h *History) Load(ctx context.Context, since time.Time) error {
	if h.store == nil {
		return nil
	}
	list, err := h.store.ListTradesSince(ctx, since)
	if err != nil {
		return fmt.Errorf("load trade history failed: %w", err)
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].Timestamp.Before(list[j].Timestamp) })
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, list...)
	cutoff := h.now().Add(-h.window())
	for _, rec := range list {
		if rec.IsDayTrade && rec.Timestamp.After(cutoff) {
			h.bumpLocked(rec.Timestamp)
		}
	}
	logger.Infof("Compliance: loaded %d trade records", len(list))
	return nil
}

// RecordTrade 追加记录；存储失败只记日志，内存记录仍然生效。
func (h *History) RecordTrade(ctx context.Context, rec types.TradeRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = h.now()
	}
	h.mu.Lock()
	h.records = append(h.records, rec)
	if rec.IsDayTrade {
		h.bumpLocked(rec.Timestamp)
	}
	h.mu.Unlock()
	if h.store != nil {
		if err := h.store.AppendTrade(ctx, rec); err != nil {
			logger.Warnf("Compliance: persist trade %s failed: %v", rec.Symbol, err)
		}
	}
}

func (h *History) bumpLocked(at time.Time) {
	if h.windowStart.IsZero() || at.Sub(h.windowStart) >= h.window() {
		h.windowStart = at
		h.dayTrades = 0
	}
	h.dayTrades++
}

// DayTradeCount 返回当前跟踪窗口内的计数，窗口过期后归零。
func (h *History) DayTradeCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.windowStart.IsZero() || h.now().Sub(h.windowStart) >= h.window() {
		return 0
	}
	return h.dayTrades
}

func (h *History) All() []types.TradeRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]types.TradeRecord(nil), h.records...)
}

// Since 返回 t 之后（含）的记录副本。
func (h *History) Since(t time.Time) []types.TradeRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]types.TradeRecord, 0)
	for _, rec := range h.records {
		if !rec.Timestamp.Before(t) {
			out = append(out, rec)
		}
	}
	return out
}
