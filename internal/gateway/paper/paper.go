// Package paper 提供内存撮合的模拟券商，用于演练与测试。
package paper

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"tribune/internal/gateway/broker"
	"tribune/internal/pkg/symbol"
	"tribune/internal/types"
)

// PriceFunc 提供市价单的成交价。
type PriceFunc func(ctx context.Context, symbol string) (float64, error)

type Config struct {
	Name          string
	Cash          float64
	RejectSymbols []string
	Latency       time.Duration
}

type holding struct {
	qty  float64
	cost float64
}

// Broker 按市价立即成交；现金不足或持仓不足时拒单。
type Broker struct {
	name    string
	price   PriceFunc
	latency time.Duration
	reject  map[string]struct{}
	seq     atomic.Int64

	mu        sync.Mutex
	cash      float64
	positions map[string]*holding
	orders    map[string]types.Order
}

var _ broker.Broker = (*Broker)(nil)

func New(cfg Config, price PriceFunc) *Broker {
	name := cfg.Name
	if name == "" {
		name = "paper"
	}
	b := &Broker{
		name:      name,
		price:     price,
		latency:   cfg.Latency,
		reject:    make(map[string]struct{}, len(cfg.RejectSymbols)),
		cash:      cfg.Cash,
		positions: make(map[string]*holding),
		orders:    make(map[string]types.Order),
	}
	for _, s := range cfg.RejectSymbols {
		b.reject[symbol.Key(s)] = struct{}{}
	}
	return b
}

func (b *Broker) Name() string { return b.name }

func (b *Broker) PlaceOrder(ctx context.Context, order types.Order) (broker.PlaceResult, error) {
	if b.latency > 0 {
		timer := time.NewTimer(b.latency)
		select {
		case <-ctx.Done():
			timer.Stop()
			return broker.PlaceResult{}, ctx.Err()
		case <-timer.C:
		}
	}
	key := symbol.Key(order.Symbol)
	if _, ok := b.reject[key]; ok {
		return broker.PlaceResult{Success: false, Error: fmt.Sprintf("%s not tradable on %s", key, b.name)}, nil
	}
	if order.Quantity <= 0 {
		return broker.PlaceResult{Success: false, Error: "quantity must be positive"}, nil
	}
	px, err := b.fillPrice(ctx, order)
	if err != nil {
		return broker.PlaceResult{}, err
	}
	if px <= 0 {
		return broker.PlaceResult{Success: false, Error: "no price available"}, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	cost := px * order.Quantity
	h := b.positions[key]
	switch order.Side {
	case types.ActionBuy:
		if b.cash < cost {
			return broker.PlaceResult{Success: false, Error: fmt.Sprintf("insufficient balance: have %.2f, need %.2f", b.cash, cost)}, nil
		}
		b.cash -= cost
		if h == nil {
			h = &holding{}
			b.positions[key] = h
		}
		h.qty += order.Quantity
		h.cost += cost
	case types.ActionSell:
		if h == nil || h.qty < order.Quantity {
			have := 0.0
			if h != nil {
				have = h.qty
			}
			return broker.PlaceResult{Success: false, Error: fmt.Sprintf("insufficient position: have %.4f, need %.4f", have, order.Quantity)}, nil
		}
		avg := h.cost / h.qty
		h.qty -= order.Quantity
		h.cost -= avg * order.Quantity
		b.cash += cost
		if h.qty <= 0 {
			delete(b.positions, key)
		}
	default:
		return broker.PlaceResult{Success: false, Error: fmt.Sprintf("unsupported side %q", order.Side)}, nil
	}

	id := fmt.Sprintf("P-%d", b.seq.Add(1))
	filled := order
	filled.BrokerRef = id
	filled.FillPrice = px
	filled.Status = types.OrderStatusFilled
	b.orders[id] = filled
	return broker.PlaceResult{Success: true, BrokerOrderID: id, FillPrice: px}, nil
}

func (b *Broker) fillPrice(ctx context.Context, order types.Order) (float64, error) {
	switch order.Type {
	case types.OrderTypeLimit:
		if order.LimitPrice > 0 {
			return order.LimitPrice, nil
		}
	case types.OrderTypeStop:
		if order.StopPrice > 0 {
			return order.StopPrice, nil
		}
	}
	if b.price == nil {
		return order.LimitPrice, nil
	}
	return b.price(ctx, order.Symbol)
}

// CancelOrder 模拟成交都是即时的，已成交的订单无法撤销。
func (b *Broker) CancelOrder(_ context.Context, brokerOrderID string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.orders[brokerOrderID]; !ok {
		return false, fmt.Errorf("unknown order %s", brokerOrderID)
	}
	return false, nil
}

func (b *Broker) GetPositions(context.Context) ([]types.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]types.Position, 0, len(b.positions))
	for sym, h := range b.positions {
		out = append(out, types.Position{Symbol: sym, Quantity: h.qty, AvgPrice: h.cost / h.qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

// GetAccount 持仓按成本计入权益。
func (b *Broker) GetAccount(context.Context) (types.Account, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	equity := b.cash
	for _, h := range b.positions {
		equity += h.cost
	}
	return types.Account{Equity: equity, Cash: b.cash, BuyingPower: b.cash, UpdatedAt: time.Now()}, nil
}
