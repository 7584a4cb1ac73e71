// Package broker defines the venue-independent capability set used by the
// order manager, plus routing and fault isolation around concrete venues.
package broker

import (
	"context"

	"tribune/internal/types"
)

// Broker 是交易场所的能力集合，每个场所一个实现。
type Broker interface {
	Name() string

	// PlaceOrder 返回场所的受理结果；error 只表示传输层失败（可重试）。
	PlaceOrder(ctx context.Context, order types.Order) (PlaceResult, error)

	CancelOrder(ctx context.Context, brokerOrderID string) (bool, error)

	GetPositions(ctx context.Context) ([]types.Position, error)
}

// PlaceResult 场所对一次下单的答复。Success=false 时 Error 给出拒单原因。
type PlaceResult struct {
	Success       bool    `json:"success"`
	BrokerOrderID string  `json:"broker_order_id,omitempty"`
	FillPrice     float64 `json:"fill_price,omitempty"`
	Error         string  `json:"error,omitempty"`
}

// QuoteProvider 可选能力：场所同时提供报价。
type QuoteProvider interface {
	GetPrice(ctx context.Context, symbol string) (float64, error)
}

// AccountProvider 可选能力：场所同时提供账户资金。
type AccountProvider interface {
	GetAccount(ctx context.Context) (types.Account, error)
}
