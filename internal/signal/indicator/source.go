// Package indicator 是内置的技术指标信号源（RSI + EMA 交叉）。
package indicator

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"tribune/internal/market"
	"tribune/internal/pkg/symbol"
	"tribune/internal/types"

	talib "github.com/markcheno/go-talib"
)

type Config struct {
	Name       string
	Interval   string
	Limit      int
	RSIPeriod  int
	EMAFast    int
	EMASlow    int
	Overbought float64
	Oversold   float64
}

func (c Config) withDefaults() Config {
	out := c
	if strings.TrimSpace(out.Name) == "" {
		out.Name = "indicator"
	}
	out.Interval = strings.ToLower(strings.TrimSpace(out.Interval))
	if out.Interval == "" {
		out.Interval = "1h"
	}
	if out.RSIPeriod <= 0 {
		out.RSIPeriod = 14
	}
	if out.EMAFast <= 0 {
		out.EMAFast = 12
	}
	if out.EMASlow <= 0 {
		out.EMASlow = 26
	}
	if out.Limit <= out.EMASlow {
		out.Limit = out.EMASlow * 4
	}
	if out.Overbought <= 0 {
		out.Overbought = 70
	}
	if out.Oversold <= 0 {
		out.Oversold = 30
	}
	return out
}

type Source struct {
	cfg     Config
	candles market.CandleSource
	now     func() time.Time
}

func New(cfg Config, candles market.CandleSource) *Source {
	return &Source{cfg: cfg.withDefaults(), candles: candles, now: time.Now}
}

func (s *Source) Name() string { return s.cfg.Name }

func (s *Source) GenerateSignals(ctx context.Context, sym string) ([]types.Signal, error) {
	if s.candles == nil {
		return nil, fmt.Errorf("indicator: no candle source")
	}
	key := symbol.Key(sym)
	raw, err := s.candles.FetchHistory(ctx, key, s.cfg.Interval, s.cfg.Limit)
	if err != nil {
		return nil, fmt.Errorf("indicator: fetch %s %s: %w", key, s.cfg.Interval, err)
	}
	closes := market.Candles(raw).Closes()
	need := s.cfg.EMASlow + 1
	if s.cfg.RSIPeriod+1 > need {
		need = s.cfg.RSIPeriod + 1
	}
	if len(closes) < need {
		return nil, fmt.Errorf("indicator: insufficient candles %s need %d got %d", key, need, len(closes))
	}
	rsi := last(talib.Rsi(closes, s.cfg.RSIPeriod))
	fast := last(talib.Ema(closes, s.cfg.EMAFast))
	slow := last(talib.Ema(closes, s.cfg.EMASlow))
	action, conf := s.vote(rsi, fast, slow)
	return []types.Signal{{
		Symbol:     key,
		Action:     action,
		Confidence: conf,
		Reasoning: fmt.Sprintf("rsi(%d)=%.2f ema(%d)=%.4f ema(%d)=%.4f",
			s.cfg.RSIPeriod, rsi, s.cfg.EMAFast, fast, s.cfg.EMASlow, slow),
		Source:     s.cfg.Name,
		ProducedAt: s.now(),
	}}, nil
}

// vote 超买/超卖优先，其次看 EMA 趋势与 RSI 是否同向。
func (s *Source) vote(rsi, fast, slow float64) (types.Action, float64) {
	switch {
	case rsi <= s.cfg.Oversold:
		return types.ActionBuy, clamp(0.5 + 0.5*(s.cfg.Oversold-rsi)/s.cfg.Oversold)
	case rsi >= s.cfg.Overbought:
		return types.ActionSell, clamp(0.5 + 0.5*(rsi-s.cfg.Overbought)/(100-s.cfg.Overbought))
	case fast > slow && rsi > 50:
		return types.ActionBuy, 0.55
	case fast < slow && rsi < 50:
		return types.ActionSell, 0.55
	default:
		return types.ActionHold, 0.5
	}
}

func last(series []float64) float64 {
	if len(series) == 0 {
		return 0
	}
	return series[len(series)-1]
}

func clamp(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
