package consensus

import (
	"sort"

	"tribune/internal/logger"
	"tribune/internal/pkg/symbol"
	"tribune/internal/types"
)

// Reduce 对一组信号做多数投票。
//
// 格式错误或标的不符的信号不参与投票，只计入 Malformed。
// HOLD 计入总数但不会单独胜出：BUY 或 SELL 占比达到阈值才可执行，
// 否则返回 HOLD，置信度取两者较大值。没有信号时返回 HOLD/0。
func Reduce(sym string, signals []types.Signal, threshold float64) types.ConsensusDecision {
	decision := types.ConsensusDecision{Symbol: sym, Action: types.ActionHold}
	want := symbol.Key(sym)
	var buyHints, sellHints []float64
	for _, sig := range signals {
		if err := sig.Validate(); err != nil {
			decision.Malformed++
			logger.Errorf("consensus %s: dropping signal: %v", sym, err)
			continue
		}
		if symbol.Key(sig.Symbol) != want {
			decision.Malformed++
			logger.Errorf("consensus %s: dropping signal for %s from %s", sym, sig.Symbol, sig.Source)
			continue
		}
		switch sig.Action {
		case types.ActionBuy:
			decision.BuyVotes++
			if sig.QuantityHint > 0 {
				buyHints = append(buyHints, sig.QuantityHint)
			}
		case types.ActionSell:
			decision.SellVotes++
			if sig.QuantityHint > 0 {
				sellHints = append(sellHints, sig.QuantityHint)
			}
		default:
			decision.HoldVotes++
		}
	}
	total := decision.BuyVotes + decision.SellVotes + decision.HoldVotes
	decision.SignalCount = total
	if total == 0 {
		return decision
	}
	buyPct := float64(decision.BuyVotes) / float64(total)
	sellPct := float64(decision.SellVotes) / float64(total)
	switch {
	case buyPct >= threshold:
		decision.Action = types.ActionBuy
		decision.Confidence = buyPct
		decision.Votes = decision.BuyVotes
		decision.QuantityHint = median(buyHints)
	case sellPct >= threshold:
		decision.Action = types.ActionSell
		decision.Confidence = sellPct
		decision.Votes = decision.SellVotes
		decision.QuantityHint = median(sellHints)
	default:
		decision.Confidence = max(buyPct, sellPct)
		decision.Votes = decision.HoldVotes
	}
	return decision
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
