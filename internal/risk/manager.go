package risk

import (
	"context"
	"fmt"
	"math"

	"tribune/internal/config"
	"tribune/internal/pkg/symbol"
	"tribune/internal/portfolio"
	"tribune/internal/types"

	"github.com/shopspring/decimal"
)

// Confirmer 接收已确认的成交，由组合账本实现。
type Confirmer interface {
	ApplyFill(ctx context.Context, fill portfolio.Fill) error
}

// Precision 控制下单数量的小数位。
type Precision struct {
	Equity int32
	Crypto int32
}

// Manager 负责仓位计算与敞口检查。Assess 不修改任何状态。
type Manager struct {
	tunables  *config.TunableStore
	precision Precision
	book      Confirmer
}

func NewManager(tunables *config.TunableStore, precision Precision, book Confirmer) *Manager {
	return &Manager{tunables: tunables, precision: precision, book: book}
}

// Assess 按默认规则确定数量后检查。
func (m *Manager) Assess(decision types.ConsensusDecision, snap types.PortfolioSnapshot, quote types.Quote) types.RiskAssessment {
	return m.assess(decision, 0, snap, quote)
}

// AssessQuantity 以指定数量检查，通常用于按建议数量重试。
func (m *Manager) AssessQuantity(decision types.ConsensusDecision, qty float64, snap types.PortfolioSnapshot, quote types.Quote) types.RiskAssessment {
	if qty <= 0 || math.IsNaN(qty) {
		return reject(quote, "invalid quantity", 0)
	}
	return m.assess(decision, qty, snap, quote)
}

func (m *Manager) assess(decision types.ConsensusDecision, qty float64, snap types.PortfolioSnapshot, quote types.Quote) types.RiskAssessment {
	if !decision.Action.Tradable() {
		return reject(quote, "no actionable consensus", 0)
	}
	if quote.Price <= 0 || math.IsNaN(quote.Price) {
		return reject(quote, fmt.Sprintf("no valid price for %s", decision.Symbol), 0)
	}
	if snap.TotalValue <= 0 {
		return reject(quote, "portfolio value is not positive", 0)
	}
	tun := m.tunables.Get()
	places := m.places(decision.Symbol)
	total := decimal.NewFromFloat(snap.TotalValue)
	price := decimal.NewFromFloat(quote.Price)
	maxPos := decimal.NewFromFloat(tun.MaxPositionSize)

	var quantity decimal.Decimal
	switch {
	case qty > 0:
		quantity = decimal.NewFromFloat(qty)
	case decision.QuantityHint > 0:
		quantity = decimal.NewFromFloat(decision.QuantityHint)
	default:
		target := total.Mul(decimal.NewFromFloat(tun.RiskPerTrade))
		quantity = target.Div(price)
		capQty := total.Mul(maxPos).Div(price)
		if quantity.GreaterThan(capQty) {
			quantity = capQty
		}
	}

	if decision.Action == types.ActionSell {
		held, ok := snap.Positions[symbol.Key(decision.Symbol)]
		if !ok || held.Quantity <= 0 {
			return reject(quote, fmt.Sprintf("no position in %s to sell", decision.Symbol), 0)
		}
		heldQty := decimal.NewFromFloat(held.Quantity)
		if qty <= 0 && decision.QuantityHint <= 0 {
			quantity = heldQty
		}
		if quantity.GreaterThan(heldQty) {
			quantity = heldQty
		}
	}

	quantity = quantity.RoundDown(places)
	if !quantity.IsPositive() {
		return reject(quote, "sized quantity rounds to zero", 0)
	}
	notional := quantity.Mul(price)

	// 单笔仓位上限
	positionPct := notional.Div(total)
	if positionPct.GreaterThan(maxPos) {
		suggested := quantity.Mul(maxPos.Div(positionPct)).RoundDown(places)
		out := reject(quote, fmt.Sprintf("position size %s exceeds limit %s",
			pct(positionPct), pct(maxPos)), toFloat(suggested))
		out.Notional = toFloat(notional)
		return out
	}

	if decision.Action == types.ActionBuy {
		sectorValue := decimal.NewFromFloat(snap.SectorValue(quote.Sector))
		sectorPct := sectorValue.Add(notional).Div(total)
		maxSector := decimal.NewFromFloat(tun.MaxSectorExposure)
		if sectorPct.GreaterThan(maxSector) {
			out := reject(quote, fmt.Sprintf("sector %s exposure would reach %s, limit %s",
				quote.Sector, pct(sectorPct), pct(maxSector)), 0)
			out.Notional = toFloat(notional)
			return out
		}
		aggPct := decimal.NewFromFloat(snap.Exposure).Add(notional).Div(total)
		maxAgg := decimal.NewFromFloat(tun.MaxAggregateExposure)
		if aggPct.GreaterThan(maxAgg) {
			out := reject(quote, fmt.Sprintf("aggregate exposure would reach %s, limit %s",
				pct(aggPct), pct(maxAgg)), 0)
			out.Notional = toFloat(notional)
			return out
		}
	}

	return types.RiskAssessment{
		Approved:          true,
		SuggestedQuantity: toFloat(quantity),
		Price:             quote.Price,
		Notional:          toFloat(notional),
		Sector:            quote.Sector,
		StopLoss:          StopLossPrice(quote.Price, tun.StopLossPct),
		Reason:            fmt.Sprintf("approved: %s of portfolio", pct(positionPct)),
	}
}

// Confirm 把成交写入组合；评估阶段不会调用。
func (m *Manager) Confirm(ctx context.Context, fill portfolio.Fill) error {
	if m.book == nil {
		return fmt.Errorf("risk manager has no portfolio book")
	}
	return m.book.ApplyFill(ctx, fill)
}

func (m *Manager) places(sym string) int32 {
	if symbol.IsCryptoPair(sym) {
		return m.precision.Crypto
	}
	return m.precision.Equity
}

// StopLossPrice = entry × (1 − pct)。
func StopLossPrice(entry, pct float64) float64 {
	if entry <= 0 {
		return 0
	}
	out, _ := decimal.NewFromFloat(entry).Mul(decimal.NewFromInt(1).Sub(decimal.NewFromFloat(pct))).Float64()
	return out
}

func reject(quote types.Quote, reason string, suggested float64) types.RiskAssessment {
	return types.RiskAssessment{
		Approved:          false,
		SuggestedQuantity: suggested,
		Price:             quote.Price,
		Sector:            quote.Sector,
		Reason:            reason,
	}
}

func pct(d decimal.Decimal) string {
	return d.Mul(decimal.NewFromInt(100)).StringFixed(1) + "%"
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
