// Package gate 通过 Gate.io 永续合约公开接口提供加密货币报价与 K 线。
package gate

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"tribune/internal/logger"
	"tribune/internal/market"
	symbolpkg "tribune/internal/pkg/symbol"
	"tribune/internal/scheduler"

	"github.com/antihax/optional"
	gateapi "github.com/gateio/gateapi-go/v7"
)

const defaultCandles = 100

// Client 只读行情客户端，满足 market.HistorySource 与报价查询。
type Client struct {
	cfg Config
	api *gateapi.APIClient
}

func New(cfg Config) (*Client, error) {
	cfg = cfg.normalized()
	hc, err := cfg.httpClient()
	if err != nil {
		return nil, err
	}
	conf := gateapi.NewConfiguration()
	conf.BasePath = cfg.RESTBaseURL
	conf.HTTPClient = hc
	return &Client{cfg: cfg, api: gateapi.NewAPIClient(conf)}, nil
}

// contract 把内部交易对转成合约名；股票代码直接拒绝。
func (c *Client) contract(sym string) (string, error) {
	if !symbolpkg.IsCryptoPair(sym) {
		return "", fmt.Errorf("gate only serves crypto pairs, got %q", sym)
	}
	return symbolpkg.Gate.ToExchange(sym), nil
}

func (c *Client) FetchHistory(ctx context.Context, sym, interval string, limit int) ([]market.Candle, error) {
	contract, err := c.contract(sym)
	if err != nil {
		return nil, err
	}
	interval = strings.ToLower(strings.TrimSpace(interval))
	if interval == "" {
		return nil, fmt.Errorf("interval is required")
	}
	switch {
	case limit <= 0:
		limit = defaultCandles
	case limit > c.cfg.MaxCandles:
		limit = c.cfg.MaxCandles
	}

	rows, _, err := c.api.FuturesApi.ListFuturesCandlesticks(ctx, c.cfg.Settle, contract, &gateapi.ListFuturesCandlesticksOpts{
		Limit:    optional.NewInt32(int32(limit)),
		Interval: optional.NewString(interval),
	})
	if err != nil {
		logger.Ctx(ctx).Warn("gate candles failed", "contract", contract, "interval", interval, "limit", limit, "err", err)
		return nil, fmt.Errorf("gate candles %s: %w", contract, err)
	}

	span, known := scheduler.ParseInterval(interval)
	out := make(market.Candles, 0, len(rows))
	for _, row := range rows {
		k := toCandle(row)
		if known {
			k.CloseTime = k.OpenTime + span.Milliseconds()
		}
		out = append(out, k)
	}
	if !known {
		return out, nil
	}
	return out.Settled(time.Now()), nil
}

// toCandle 合约 K 线的 sum 字段是计价币成交额，这里作为成交量使用。
func toCandle(row gateapi.FuturesCandlestick) market.Candle {
	open := int64(row.T * 1000)
	return market.Candle{
		OpenTime:  open,
		CloseTime: open,
		Open:      num(row.O),
		High:      num(row.H),
		Low:       num(row.L),
		Close:     num(row.C),
		Volume:    num(row.Sum),
	}
}

// GetPrice 取合约最新成交价。
func (c *Client) GetPrice(ctx context.Context, sym string) (float64, error) {
	contract, err := c.contract(sym)
	if err != nil {
		return 0, err
	}
	tickers, _, err := c.api.FuturesApi.ListFuturesTickers(ctx, c.cfg.Settle, &gateapi.ListFuturesTickersOpts{
		Contract: optional.NewString(contract),
	})
	if err != nil {
		return 0, fmt.Errorf("gate ticker %s: %w", contract, err)
	}
	for _, tk := range tickers {
		if !strings.EqualFold(tk.Contract, contract) {
			continue
		}
		px := num(tk.Last)
		if px <= 0 {
			return 0, fmt.Errorf("gate ticker %s: invalid last %q", contract, tk.Last)
		}
		return px, nil
	}
	return 0, fmt.Errorf("gate ticker %s: not found", contract)
}

func num(v string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return f
}
