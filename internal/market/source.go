package market

import (
	"context"

	"tribune/internal/types"
)

// CandleSource 提供历史 K 线（指标信号源使用）。
type CandleSource interface {
	FetchHistory(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)
}

type PriceSource interface {
	GetPrice(ctx context.Context, symbol string) (float64, error)
}

type AccountSource interface {
	GetAccount(ctx context.Context) (types.Account, error)
}

// StaticPrices 固定报价表，常用于 paper 模式与测试。
type StaticPrices map[string]float64

func (s StaticPrices) GetPrice(_ context.Context, symbol string) (float64, error) {
	px, ok := s[symbol]
	if !ok || px <= 0 {
		return 0, ErrNoPrice
	}
	return px, nil
}
