// Package order owns the order lifecycle:
//
//	PENDING --submit--> SUBMITTED --ack ok--> FILLED
//	                              --ack failure--> REJECTED
//	PENDING/SUBMITTED --cancel--> CANCELLED
//
// The Manager is the only writer of order state; every other component
// receives copies.
package order

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"tribune/internal/gateway/broker"
	"tribune/internal/logger"
	"tribune/internal/pkg/symbol"
	"tribune/internal/types"

	"github.com/google/uuid"
)

// Store 持久化订单与状态流转。
type Store interface {
	SaveOrder(ctx context.Context, order types.Order, from types.OrderStatus) error
	ListOpenOrders(ctx context.Context) ([]types.Order, error)
}

// Purger 可选能力：清理历史终态订单。
type Purger interface {
	PurgeOrders(ctx context.Context, before time.Time) (int64, error)
}

// Router 选择下单场所；Get 用于按名称找回已恢复订单的场所。
type Router interface {
	Route(symbol string) broker.Broker
	Get(name string) (broker.Broker, bool)
}

// Request 描述一笔待创建的订单。
type Request struct {
	Symbol     string
	Side       types.Action
	Quantity   float64
	Type       types.OrderType
	LimitPrice float64
	StopPrice  float64
	TraceID    string
}

var transitions = map[types.OrderStatus][]types.OrderStatus{
	types.OrderStatusPending:   {types.OrderStatusSubmitted, types.OrderStatusCancelled},
	types.OrderStatusSubmitted: {types.OrderStatusFilled, types.OrderStatusRejected, types.OrderStatusCancelled},
}

func canTransition(from, to types.OrderStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type Manager struct {
	router        Router
	store         Store
	submitTimeout time.Duration

	mu       sync.Mutex
	orders   map[string]*types.Order
	inflight map[string]struct{}

	now   func() time.Time
	newID func() string
}

type Option func(*Manager)

func WithStore(s Store) Option {
	return func(m *Manager) { m.store = s }
}

func WithSubmitTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.submitTimeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func NewManager(router Router, opts ...Option) *Manager {
	m := &Manager{
		router:        router,
		submitTimeout: 10 * time.Second,
		orders:        make(map[string]*types.Order),
		inflight:      make(map[string]struct{}),
		now:           time.Now,
		newID:         uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NewOrder 校验请求并创建 PENDING 订单。
func (m *Manager) NewOrder(ctx context.Context, req Request) (types.Order, error) {
	sym := symbol.Key(req.Symbol)
	if sym == "" {
		return types.Order{}, fmt.Errorf("order symbol is required")
	}
	if req.Side != types.ActionBuy && req.Side != types.ActionSell {
		return types.Order{}, fmt.Errorf("order side must be BUY or SELL, got %q", req.Side)
	}
	if !(req.Quantity > 0) {
		return types.Order{}, fmt.Errorf("order quantity must be > 0, got %v", req.Quantity)
	}
	typ := req.Type
	if typ == "" {
		typ = types.OrderTypeMarket
	}
	switch typ {
	case types.OrderTypeMarket:
	case types.OrderTypeLimit:
		if !(req.LimitPrice > 0) {
			return types.Order{}, fmt.Errorf("limit order requires limit price")
		}
	case types.OrderTypeStop:
		if !(req.StopPrice > 0) {
			return types.Order{}, fmt.Errorf("stop order requires stop price")
		}
	default:
		return types.Order{}, fmt.Errorf("unknown order type %q", typ)
	}

	now := m.now()
	o := &types.Order{
		ID:         m.newID(),
		Symbol:     sym,
		Side:       req.Side,
		Quantity:   req.Quantity,
		Type:       typ,
		LimitPrice: req.LimitPrice,
		StopPrice:  req.StopPrice,
		Status:     types.OrderStatusPending,
		TraceID:    req.TraceID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	m.mu.Lock()
	m.orders[o.ID] = o
	snapshot := *o
	m.mu.Unlock()

	m.persist(ctx, snapshot, "")
	logger.Infof("[order] created %s %s %s qty=%v type=%s trace=%s", o.ID, o.Side, o.Symbol, o.Quantity, o.Type, o.TraceID)
	return snapshot, nil
}

// SubmitOrder 把 PENDING 订单送往场所，返回终态订单。
// 场所失败、超时或 panic 都折叠为 REJECTED；只有未知 id 或非法流转返回 error。
func (m *Manager) SubmitOrder(ctx context.Context, id string) (types.Order, error) {
	m.mu.Lock()
	o, ok := m.orders[id]
	if !ok {
		m.mu.Unlock()
		return types.Order{}, fmt.Errorf("%w: %s", types.ErrOrderNotFound, id)
	}
	if o.Status != types.OrderStatusPending {
		from := o.Status
		m.mu.Unlock()
		return m.invalid(id, from, types.OrderStatusSubmitted)
	}
	if err := ctx.Err(); err != nil {
		snap := m.applyLocked(o, types.OrderStatusCancelled, func(o *types.Order) {
			o.Reason = "cancelled before submit: " + err.Error()
		})
		m.mu.Unlock()
		m.persist(context.WithoutCancel(ctx), snap, types.OrderStatusPending)
		return snap, nil
	}
	var venue broker.Broker
	if m.router != nil {
		venue = m.router.Route(o.Symbol)
	}
	if venue == nil {
		snap := m.applyLocked(o, types.OrderStatusSubmitted, nil)
		m.mu.Unlock()
		m.persist(context.WithoutCancel(ctx), snap, types.OrderStatusPending)
		return m.finish(ctx, id, types.OrderStatusRejected, func(o *types.Order) {
			o.Reason = "no broker for symbol " + o.Symbol
		})
	}
	snap := m.applyLocked(o, types.OrderStatusSubmitted, func(o *types.Order) {
		o.Broker = venue.Name()
	})
	m.inflight[id] = struct{}{}
	m.mu.Unlock()

	// 已通过取消检查，落盘不再受调用方取消影响
	if err := m.save(context.WithoutCancel(ctx), snap, types.OrderStatusPending); err != nil {
		// 未落盘的 SUBMITTED 不能送出，否则重启后无法对账
		return m.finish(ctx, id, types.OrderStatusRejected, func(o *types.Order) {
			o.Reason = "persist submitted state: " + err.Error()
		})
	}

	// 已送出的订单不随调用方取消而中断，只受提交超时约束。
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.submitTimeout)
	res, err := placeSafely(callCtx, venue, snap)
	cancel()

	switch {
	case err != nil:
		logger.Warnf("[order] %s submit via %s failed: %v", id, venue.Name(), err)
		return m.finish(ctx, id, types.OrderStatusRejected, func(o *types.Order) {
			o.Reason = "broker error: " + err.Error()
		})
	case !res.Success:
		reason := res.Error
		if reason == "" {
			reason = "rejected by broker"
		}
		return m.finish(ctx, id, types.OrderStatusRejected, func(o *types.Order) {
			o.BrokerRef = res.BrokerOrderID
			o.Reason = reason
		})
	default:
		return m.finish(ctx, id, types.OrderStatusFilled, func(o *types.Order) {
			o.BrokerRef = res.BrokerOrderID
			o.FillPrice = res.FillPrice
			o.Reason = ""
		})
	}
}

func placeSafely(ctx context.Context, venue broker.Broker, o types.Order) (res broker.PlaceResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in broker %s: %v", venue.Name(), r)
		}
	}()
	return venue.PlaceOrder(ctx, o)
}

// finish 结束一次提交：清除 inflight 并写入终态。
func (m *Manager) finish(ctx context.Context, id string, to types.OrderStatus, mutate func(*types.Order)) (types.Order, error) {
	m.mu.Lock()
	delete(m.inflight, id)
	o, ok := m.orders[id]
	if !ok {
		m.mu.Unlock()
		return types.Order{}, fmt.Errorf("%w: %s", types.ErrOrderNotFound, id)
	}
	if !canTransition(o.Status, to) {
		from := o.Status
		m.mu.Unlock()
		return m.invalid(id, from, to)
	}
	snap := m.applyLocked(o, to, mutate)
	m.mu.Unlock()
	m.persist(context.WithoutCancel(ctx), snap, types.OrderStatusSubmitted)
	logger.Infof("[order] %s %s %s -> %s broker=%s ref=%s reason=%s", snap.ID, snap.Side, snap.Symbol, snap.Status, snap.Broker, snap.BrokerRef, snap.Reason)
	return snap, nil
}

// CancelOrder 只作用于 PENDING/SUBMITTED；未知或终态订单返回 false。
// 正在提交中的订单无法取消；SUBMITTED 但没有场所单号的订单结果未知，保留待对账。
func (m *Manager) CancelOrder(ctx context.Context, id string) bool {
	m.mu.Lock()
	o, ok := m.orders[id]
	if !ok || o.Status.IsTerminal() {
		m.mu.Unlock()
		return false
	}
	if _, busy := m.inflight[id]; busy {
		m.mu.Unlock()
		logger.Warnf("[order] cancel %s refused: submit in flight", id)
		return false
	}
	from := o.Status
	ref, brokerName := o.BrokerRef, o.Broker
	m.mu.Unlock()

	if from == types.OrderStatusSubmitted {
		if ref == "" {
			logger.Warnf("[order] cancel %s refused: submitted via %q without broker ref, outcome unknown, reconcile with venue", id, brokerName)
			return false
		}
		venue, ok := m.lookupBroker(brokerName)
		if !ok {
			logger.Warnf("[order] cancel %s: broker %q not available", id, brokerName)
			return false
		}
		cancelled, err := venue.CancelOrder(ctx, ref)
		if err != nil || !cancelled {
			logger.Warnf("[order] cancel %s via %s refused: ok=%v err=%v", id, brokerName, cancelled, err)
			return false
		}
	}

	m.mu.Lock()
	o, ok = m.orders[id]
	if !ok || o.Status != from {
		m.mu.Unlock()
		return false
	}
	snap := m.applyLocked(o, types.OrderStatusCancelled, func(o *types.Order) {
		o.Reason = "cancelled"
	})
	m.mu.Unlock()
	m.persist(context.WithoutCancel(ctx), snap, from)
	logger.Infof("[order] %s cancelled (was %s)", id, from)
	return true
}

func (m *Manager) lookupBroker(name string) (broker.Broker, bool) {
	if m.router == nil || name == "" {
		return nil, false
	}
	return m.router.Get(name)
}

// GetOrderStatus 未知 id 返回 OrderStatusNotFound。
func (m *Manager) GetOrderStatus(id string) types.OrderStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return types.OrderStatusNotFound
	}
	return o.Status
}

func (m *Manager) Get(id string) (types.Order, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return types.Order{}, false
	}
	return *o, true
}

// List 返回所有订单副本，按创建时间排序。
func (m *Manager) List() []types.Order {
	m.mu.Lock()
	out := make([]types.Order, 0, len(m.orders))
	for _, o := range m.orders {
		out = append(out, *o)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Recover 从存储恢复未结订单。SUBMITTED 订单的场所结果未知，保持原状等待人工对账。
func (m *Manager) Recover(ctx context.Context) (int, error) {
	if m.store == nil {
		return 0, nil
	}
	open, err := m.store.ListOpenOrders(ctx)
	if err != nil {
		return 0, fmt.Errorf("load open orders: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range open {
		o := open[i]
		if o.Status == types.OrderStatusSubmitted {
			logger.Warnf("[order] recovered %s %s %s as SUBMITTED, outcome unknown (broker=%s ref=%s)", o.ID, o.Side, o.Symbol, o.Broker, o.BrokerRef)
		}
		m.orders[o.ID] = &o
	}
	if len(open) > 0 {
		logger.Infof("[order] recovered %d open orders", len(open))
	}
	return len(open), nil
}

// Purge 从内存和存储中移除早于 before 的终态订单。
func (m *Manager) Purge(ctx context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	removed := 0
	for id, o := range m.orders {
		if o.Status.IsTerminal() && o.UpdatedAt.Before(before) {
			delete(m.orders, id)
			removed++
		}
	}
	m.mu.Unlock()
	if p, ok := m.store.(Purger); ok {
		if _, err := p.PurgeOrders(ctx, before); err != nil {
			return removed, fmt.Errorf("purge stored orders: %w", err)
		}
	}
	return removed, nil
}

// applyLocked 调用方持有 m.mu 且已确认流转合法。
func (m *Manager) applyLocked(o *types.Order, to types.OrderStatus, mutate func(*types.Order)) types.Order {
	if mutate != nil {
		mutate(o)
	}
	o.Status = to
	o.UpdatedAt = m.now()
	return *o
}

func (m *Manager) invalid(id string, from, to types.OrderStatus) (types.Order, error) {
	err := fmt.Errorf("%w: order %s %s -> %s", types.ErrInvalidTransition, id, from, to)
	logger.Errorf("[order] %v", err)
	snap, _ := m.Get(id)
	return snap, err
}

func (m *Manager) save(ctx context.Context, o types.Order, from types.OrderStatus) error {
	if m.store == nil {
		return nil
	}
	return m.store.SaveOrder(ctx, o, from)
}

func (m *Manager) persist(ctx context.Context, o types.Order, from types.OrderStatus) {
	if err := m.save(ctx, o, from); err != nil {
		logger.Errorf("[order] persist %s (%s -> %s): %v", o.ID, from, o.Status, err)
	}
}
