package portfolio

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"tribune/internal/logger"
	"tribune/internal/pkg/symbol"
	"tribune/internal/types"

	"github.com/shopspring/decimal"
)

var ErrStopped = errors.New("portfolio book is stopped")

// ErrExposureCap 表示成交会使总敞口超过上限，状态保持不变。
var ErrExposureCap = fmt.Errorf("%w: aggregate exposure cap exceeded", types.ErrInvariant)

// PositionStore 持久化持仓，用于重启后恢复。
type PositionStore interface {
	ListPositions(ctx context.Context) ([]types.Position, error)
	SavePosition(ctx context.Context, pos types.Position) error
	DeletePosition(ctx context.Context, symbol string) error
}

// Limits 由调用方在每次写入时读取，允许热更新。
type Limits func() (maxAggregateExposure float64)

// Book 是组合状态的唯一写入者。
//
// 所有修改都经由 msgCh 串行处理；读取方通过 Snapshot 获取
// atomic.Value 中的不可变副本，可能略旧但不会丢失写入。
type Book struct {
	store  PositionStore
	limits Limits

	msgCh  chan EventEnvelope
	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once

	state    *state
	snapshot atomic.Value
	version  uint64
}

type state struct {
	totalValue decimal.Decimal
	positions  map[string]*types.Position
}

func NewBook(initialValue float64, limits Limits, store PositionStore) *Book {
	if limits == nil {
		limits = func() float64 { return 1.0 }
	}
	b := &Book{
		store:  store,
		limits: limits,
		msgCh:  make(chan EventEnvelope, 64),
		stopCh: make(chan struct{}),
		state: &state{
			totalValue: decimal.NewFromFloat(initialValue),
			positions:  make(map[string]*types.Position),
		},
	}
	b.refreshSnapshot()
	return b
}

// Recover 从存储加载持仓，需在 Start 之前调用。
func (b *Book) Recover(ctx context.Context) error {
	if b.store == nil {
		return nil
	}
	list, err := b.store.ListPositions(ctx)
	if err != nil {
		return fmt.Errorf("load positions failed: %w", err)
	}
	for _, pos := range list {
		if pos.Quantity <= 0 {
			continue
		}
		cp := pos
		cp.Symbol = symbol.Key(cp.Symbol)
		b.state.positions[cp.Symbol] = &cp
	}
	b.refreshSnapshot()
	logger.Infof("Portfolio: recovered %d positions", len(b.state.positions))
	return nil
}

func (b *Book) Start() {
	b.wg.Add(1)
	go b.runLoop()
}

func (b *Book) Stop() {
	b.once.Do(func() { close(b.stopCh) })
	b.wg.Wait()
}

func (b *Book) Send(evt EventEnvelope) error {
	select {
	case <-b.stopCh:
		return ErrStopped
	default:
	}
	select {
	case b.msgCh <- evt:
		return nil
	case <-b.stopCh:
		return ErrStopped
	}
}

func (b *Book) SendSync(ctx context.Context, evt EventEnvelope) error {
	if evt.ReplyCh == nil {
		evt.ReplyCh = make(chan error, 1)
	}
	if err := b.Send(evt); err != nil {
		return err
	}
	select {
	case err := <-evt.ReplyCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-b.stopCh:
		return ErrStopped
	}
}

// ApplyFill 同步写入一次成交。
func (b *Book) ApplyFill(ctx context.Context, fill Fill) error {
	return b.SendSync(ctx, EventEnvelope{ID: fill.OrderID, Type: EventApplyFill, Payload: fill})
}

func (b *Book) SetTotalValue(ctx context.Context, value float64) error {
	return b.SendSync(ctx, EventEnvelope{Type: EventSetTotalValue, Payload: totalValuePayload{Value: value}})
}

// SyncPositions 用券商返回的持仓整体替换本地持仓。
func (b *Book) SyncPositions(ctx context.Context, positions []types.Position) error {
	return b.SendSync(ctx, EventEnvelope{Type: EventSyncPositions, Payload: syncPayload{Positions: positions}})
}

func (b *Book) Snapshot() types.PortfolioSnapshot {
	val := b.snapshot.Load()
	if val == nil {
		return types.PortfolioSnapshot{}
	}
	return clone(val.(types.PortfolioSnapshot))
}

func (b *Book) runLoop() {
	defer b.wg.Done()
	logger.Infof("Portfolio actor started")
	for {
		select {
		case evt := <-b.msgCh:
			b.handleEvent(evt)
		case <-b.stopCh:
			logger.Infof("Portfolio actor stopping")
			return
		}
	}
}

func (b *Book) handleEvent(evt EventEnvelope) {
	var err error
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("Portfolio panic handling event %s: %v", evt.Type, r)
			debug.PrintStack()
			err = fmt.Errorf("panic: %v", r)
		}
		if evt.ReplyCh != nil {
			evt.ReplyCh <- err
			close(evt.ReplyCh)
		}
		if dur := time.Since(start); dur > 100*time.Millisecond {
			logger.Warnf("Slow portfolio event %s took %v", evt.Type, dur)
		}
	}()

	switch evt.Type {
	case EventApplyFill:
		fill, ok := evt.Payload.(Fill)
		if !ok {
			err = fmt.Errorf("bad payload for %s", evt.Type)
			return
		}
		err = b.applyFill(fill)
	case EventSetTotalValue:
		p, ok := evt.Payload.(totalValuePayload)
		if !ok || p.Value < 0 {
			err = fmt.Errorf("bad payload for %s", evt.Type)
			return
		}
		b.state.totalValue = decimal.NewFromFloat(p.Value)
	case EventSyncPositions:
		p, ok := evt.Payload.(syncPayload)
		if !ok {
			err = fmt.Errorf("bad payload for %s", evt.Type)
			return
		}
		b.syncPositions(p.Positions)
	default:
		err = fmt.Errorf("unknown portfolio event %s", evt.Type)
		return
	}
	if err != nil {
		logger.Errorf("Portfolio failed to handle %s: %v", evt.Type, err)
		return
	}
	b.refreshSnapshot()
}

func (b *Book) applyFill(fill Fill) error {
	key := symbol.Key(fill.Symbol)
	qty := decimal.NewFromFloat(fill.Quantity)
	price := decimal.NewFromFloat(fill.Price)
	if key == "" || !qty.IsPositive() || !price.IsPositive() {
		return fmt.Errorf("invalid fill %+v", fill)
	}
	cur := b.state.positions[key]
	switch fill.Side {
	case types.ActionBuy:
		next := exposure(b.state.positions).Add(qty.Mul(price))
		limit := b.state.totalValue.Mul(decimal.NewFromFloat(b.limits()))
		if next.GreaterThan(limit) {
			return fmt.Errorf("%w: %s > %s", ErrExposureCap, next.StringFixed(2), limit.StringFixed(2))
		}
		if cur == nil {
			cur = &types.Position{Symbol: key, Sector: fill.Sector}
			b.state.positions[key] = cur
		}
		oldQty := decimal.NewFromFloat(cur.Quantity)
		oldCost := oldQty.Mul(decimal.NewFromFloat(cur.AvgPrice))
		newQty := oldQty.Add(qty)
		cur.AvgPrice, _ = oldCost.Add(qty.Mul(price)).Div(newQty).Float64()
		cur.Quantity, _ = newQty.Float64()
		if fill.Sector != "" {
			cur.Sector = fill.Sector
		}
	case types.ActionSell:
		if cur == nil {
			return fmt.Errorf("sell fill for %s without position", key)
		}
		remaining := decimal.NewFromFloat(cur.Quantity).Sub(qty)
		if !remaining.IsPositive() {
			delete(b.state.positions, key)
			b.persistDelete(key)
			return nil
		}
		cur.Quantity, _ = remaining.Float64()
	default:
		return fmt.Errorf("invalid fill side %q", fill.Side)
	}
	b.persist(*cur)
	return nil
}

func (b *Book) syncPositions(list []types.Position) {
	next := make(map[string]*types.Position, len(list))
	for _, pos := range list {
		if pos.Quantity <= 0 {
			continue
		}
		cp := pos
		cp.Symbol = symbol.Key(cp.Symbol)
		if cp.Sector == "" {
			if prev, ok := b.state.positions[cp.Symbol]; ok {
				cp.Sector = prev.Sector
			}
		}
		next[cp.Symbol] = &cp
	}
	for sym := range b.state.positions {
		if _, ok := next[sym]; !ok {
			b.persistDelete(sym)
		}
	}
	b.state.positions = next
	for _, pos := range next {
		b.persist(*pos)
	}
}

func (b *Book) persist(pos types.Position) {
	if b.store == nil {
		return
	}
	if err := b.store.SavePosition(context.Background(), pos); err != nil {
		logger.Warnf("Portfolio: save position %s failed: %v", pos.Symbol, err)
	}
}

func (b *Book) persistDelete(sym string) {
	if b.store == nil {
		return
	}
	if err := b.store.DeletePosition(context.Background(), sym); err != nil {
		logger.Warnf("Portfolio: delete position %s failed: %v", sym, err)
	}
}

func (b *Book) refreshSnapshot() {
	b.version++
	total, _ := b.state.totalValue.Float64()
	snap := types.PortfolioSnapshot{
		TotalValue:     total,
		Positions:      make(map[string]types.Position, len(b.state.positions)),
		SectorExposure: make(map[string]float64),
		Version:        b.version,
		UpdatedAt:      time.Now(),
	}
	sectors := make(map[string]decimal.Decimal)
	for sym, pos := range b.state.positions {
		snap.Positions[sym] = *pos
		value := decimal.NewFromFloat(pos.Quantity).Mul(decimal.NewFromFloat(pos.AvgPrice))
		sectors[pos.Sector] = sectors[pos.Sector].Add(value)
	}
	snap.Exposure, _ = exposure(b.state.positions).Float64()
	if b.state.totalValue.IsPositive() {
		for sector, value := range sectors {
			snap.SectorExposure[sector], _ = value.Div(b.state.totalValue).Float64()
		}
	}
	b.snapshot.Store(snap)
}

func exposure(positions map[string]*types.Position) decimal.Decimal {
	total := decimal.Zero
	for _, pos := range positions {
		total = total.Add(decimal.NewFromFloat(pos.Quantity).Mul(decimal.NewFromFloat(pos.AvgPrice)))
	}
	return total
}

func clone(s types.PortfolioSnapshot) types.PortfolioSnapshot {
	out := s
	out.Positions = make(map[string]types.Position, len(s.Positions))
	for k, v := range s.Positions {
		out.Positions[k] = v
	}
	out.SectorExposure = make(map[string]float64, len(s.SectorExposure))
	for k, v := range s.SectorExposure {
		out.SectorExposure[k] = v
	}
	return out
}
