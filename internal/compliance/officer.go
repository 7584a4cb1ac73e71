package compliance

import (
	"context"
	"fmt"
	"math"
	"time"

	"tribune/internal/config"
	"tribune/internal/pkg/symbol"
	"tribune/internal/types"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Trade 是待校验的交易意图。
type Trade struct {
	Symbol   string
	Action   types.Action
	Quantity float64
	Price    float64
	At       time.Time
}

// Officer 执行监管规则检查；每次调用都基于传入的历史重新计算。
type Officer struct {
	tunables *config.TunableStore
	history  *History
	now      func() time.Time
}

func NewOfficer(tunables *config.TunableStore, history *History) *Officer {
	return &Officer{tunables: tunables, history: history, now: time.Now}
}

func (o *Officer) History() *History { return o.history }

// Validate 使用 Officer 自己的交易历史。
func (o *Officer) Validate(trade Trade, account types.Account) types.ComplianceResult {
	var history []types.TradeRecord
	if o.history != nil {
		tun := o.tunables.Get()
		lookback := max(tun.PDTWindow, tun.WashSaleWindow)
		history = o.history.Since(o.at(trade).Add(-lookback))
	}
	return o.ValidateTrade(trade, account, history)
}

// ValidateTrade 依次检查：限制名单（命中即返回）、基本参数、PDT、洗售提示。
func (o *Officer) ValidateTrade(trade Trade, account types.Account, history []types.TradeRecord) types.ComplianceResult {
	tun := o.tunables.Get()
	res := types.ComplianceResult{Compliant: true, Violations: []string{}, Warnings: []string{}}
	key := symbol.Key(trade.Symbol)

	if tun.IsRestricted(key) {
		res.Compliant = false
		res.Violations = append(res.Violations, "symbol restricted: "+key)
		return res
	}

	if trade.Quantity <= 0 || math.IsNaN(trade.Quantity) {
		res.Violations = append(res.Violations, fmt.Sprintf("invalid quantity: %v", trade.Quantity))
	}
	if !trade.Action.Tradable() {
		res.Violations = append(res.Violations, fmt.Sprintf("invalid side: %q", trade.Action))
	}

	now := o.at(trade)
	if count := CountDayTrades(history, now, tun.PDTWindow); count >= tun.PDTDayTradeLimit && account.Equity < tun.PDTMinEquity {
		res.Violations = append(res.Violations, fmt.Sprintf(
			"pattern day trader: %d day trades in the last %d days requires %s minimum equity (PDT rule), account equity %s",
			count, int(tun.PDTWindow/(24*time.Hour)), usd(tun.PDTMinEquity), usd(account.Equity)))
	}

	if trade.Action == types.ActionBuy {
		if sold, ok := lastSell(history, key, now, tun.WashSaleWindow); ok {
			res.Warnings = append(res.Warnings, fmt.Sprintf(
				"possible wash sale: %s sold on %s, within %d days",
				key, sold.Timestamp.Format("2006-01-02"), int(tun.WashSaleWindow/(24*time.Hour))))
		}
	}

	res.Compliant = len(res.Violations) == 0
	return res
}

// RecordTrade 追加到自身历史。
func (o *Officer) RecordTrade(ctx context.Context, rec types.TradeRecord) {
	if o.history == nil {
		return
	}
	o.history.RecordTrade(ctx, rec)
}

func (o *Officer) at(trade Trade) time.Time {
	if !trade.At.IsZero() {
		return trade.At
	}
	return o.now()
}

// CountDayTrades 统计 (now−window, now] 内的日内交易。
func CountDayTrades(history []types.TradeRecord, now time.Time, window time.Duration) int {
	cutoff := now.Add(-window)
	count := 0
	for _, rec := range history {
		if rec.IsDayTrade && inWindow(rec.Timestamp, cutoff, now) {
			count++
		}
	}
	return count
}

func lastSell(history []types.TradeRecord, key string, now time.Time, window time.Duration) (types.TradeRecord, bool) {
	cutoff := now.Add(-window)
	var found types.TradeRecord
	ok := false
	for _, rec := range history {
		if rec.Action != types.ActionSell || symbol.Key(rec.Symbol) != key {
			continue
		}
		if !inWindow(rec.Timestamp, cutoff, now) {
			continue
		}
		if !ok || rec.Timestamp.After(found.Timestamp) {
			found, ok = rec, true
		}
	}
	return found, ok
}

func inWindow(ts, cutoff, now time.Time) bool {
	return ts.After(cutoff) && !ts.After(now)
}

// usdPrinter 按英文习惯分组千位。
var usdPrinter = message.NewPrinter(language.English)

// usd 格式化为 $25,000 形式，小数部分为零时省略。
func usd(v float64) string {
	sign := ""
	if v < 0 {
		sign, v = "-", -v
	}
	cents := math.Round(v * 100)
	if math.Mod(cents, 100) == 0 {
		return sign + usdPrinter.Sprintf("$%d", int64(cents/100))
	}
	return sign + usdPrinter.Sprintf("$%.2f", cents/100)
}
