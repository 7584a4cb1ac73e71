// Package binance 基于 go-binance 现货接口实现加密货币场所与行情源。
package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tribune/internal/gateway/broker"
	"tribune/internal/logger"
	"tribune/internal/market"
	symbolpkg "tribune/internal/pkg/symbol"
	"tribune/internal/types"

	binance "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
)

const maxHistoryLimit = 1000

// Client 同时实现 broker.Broker、报价与 K 线接口。
type Client struct {
	cfg    Config
	client *binance.Client
}

var (
	_ broker.Broker          = (*Client)(nil)
	_ broker.QuoteProvider   = (*Client)(nil)
	_ broker.AccountProvider = (*Client)(nil)
)

func New(cfg Config) *Client {
	final := cfg.withDefaults()
	client := binance.NewClient(final.APIKey, final.SecretKey)
	client.BaseURL = final.RESTBaseURL
	client.HTTPClient = &http.Client{Timeout: final.HTTPTimeout}
	return &Client{cfg: final, client: client}
}

func (c *Client) Name() string { return c.cfg.Name }

func (c *Client) PlaceOrder(ctx context.Context, order types.Order) (broker.PlaceResult, error) {
	sym := symbolpkg.Binance.ToExchange(order.Symbol)
	if sym == "" {
		return broker.PlaceResult{Success: false, Error: fmt.Sprintf("invalid symbol %q", order.Symbol)}, nil
	}
	var side binance.SideType
	switch order.Side {
	case types.ActionBuy:
		side = binance.SideTypeBuy
	case types.ActionSell:
		side = binance.SideTypeSell
	default:
		return broker.PlaceResult{Success: false, Error: fmt.Sprintf("unsupported side %q", order.Side)}, nil
	}

	svc := c.client.NewCreateOrderService().
		Symbol(sym).
		Side(side).
		Quantity(formatQty(order.Quantity)).
		NewClientOrderID(clientOrderID(order.ID))
	switch order.Type {
	case types.OrderTypeLimit:
		if order.LimitPrice <= 0 {
			return broker.PlaceResult{Success: false, Error: "limit order requires limit price"}, nil
		}
		// IOC 保证应答即终态，未成交部分由交易所撤销。
		svc = svc.Type(binance.OrderTypeLimit).
			TimeInForce(binance.TimeInForceTypeIOC).
			Price(formatQty(order.LimitPrice))
	case types.OrderTypeStop:
		return broker.PlaceResult{Success: false, Error: "stop orders are not supported on binance spot"}, nil
	default:
		svc = svc.Type(binance.OrderTypeMarket)
	}

	resp, err := svc.Do(ctx)
	if err != nil {
		var apiErr *common.APIError
		if errors.As(err, &apiErr) {
			return broker.PlaceResult{Success: false, Error: fmt.Sprintf("binance %d: %s", apiErr.Code, apiErr.Message)}, nil
		}
		return broker.PlaceResult{}, fmt.Errorf("binance create order: %w", err)
	}
	ref := fmt.Sprintf("%s:%d", resp.Symbol, resp.OrderID)
	executed := parseFloat(resp.ExecutedQuantity)
	switch resp.Status {
	case binance.OrderStatusTypeFilled, binance.OrderStatusTypePartiallyFilled:
	default:
		if executed <= 0 {
			return broker.PlaceResult{Success: false, BrokerOrderID: ref, Error: fmt.Sprintf("order %s", resp.Status)}, nil
		}
	}
	fillPrice := 0.0
	if executed > 0 {
		fillPrice = parseFloat(resp.CummulativeQuoteQuantity) / executed
	}
	if fillPrice <= 0 {
		fillPrice = averageFill(resp.Fills)
	}
	if executed < order.Quantity {
		logger.Warnf("binance order %s partially filled: %v of %v", ref, executed, order.Quantity)
	}
	return broker.PlaceResult{Success: true, BrokerOrderID: ref, FillPrice: fillPrice}, nil
}

// CancelOrder brokerOrderID 形如 BTCUSDT:12345。
func (c *Client) CancelOrder(ctx context.Context, brokerOrderID string) (bool, error) {
	sym, idStr, ok := strings.Cut(brokerOrderID, ":")
	if !ok {
		return false, fmt.Errorf("malformed binance order ref %q", brokerOrderID)
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return false, fmt.Errorf("malformed binance order id %q: %w", idStr, err)
	}
	_, err = c.client.NewCancelOrderService().Symbol(sym).OrderID(id).Do(ctx)
	if err != nil {
		var apiErr *common.APIError
		if errors.As(err, &apiErr) {
			logger.Warnf("binance cancel %s rejected: %s", brokerOrderID, apiErr.Message)
			return false, nil
		}
		return false, fmt.Errorf("binance cancel order: %w", err)
	}
	return true, nil
}

// GetPositions 把非计价资产余额视为持仓，均价取当前价格。
func (c *Client) GetPositions(ctx context.Context) ([]types.Position, error) {
	acct, err := c.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance account: %w", err)
	}
	prices, err := c.allPrices(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]types.Position, 0)
	for _, bal := range acct.Balances {
		if strings.EqualFold(bal.Asset, c.cfg.QuoteAsset) {
			continue
		}
		qty := parseFloat(bal.Free) + parseFloat(bal.Locked)
		if qty <= 0 {
			continue
		}
		pair := symbolpkg.Symbol{Base: bal.Asset, Quote: c.cfg.QuoteAsset}
		px, ok := prices[pair.Join("")]
		if !ok {
			continue
		}
		out = append(out, types.Position{Symbol: pair.Internal(), Quantity: qty, AvgPrice: px, Sector: "Crypto"})
	}
	return out, nil
}

func (c *Client) GetAccount(ctx context.Context) (types.Account, error) {
	acct, err := c.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return types.Account{}, fmt.Errorf("binance account: %w", err)
	}
	prices, err := c.allPrices(ctx)
	if err != nil {
		return types.Account{}, err
	}
	out := types.Account{UpdatedAt: time.Now()}
	for _, bal := range acct.Balances {
		free := parseFloat(bal.Free)
		total := free + parseFloat(bal.Locked)
		if strings.EqualFold(bal.Asset, c.cfg.QuoteAsset) {
			out.Cash = free
			out.Equity += total
			continue
		}
		if px, ok := prices[strings.ToUpper(bal.Asset)+c.cfg.QuoteAsset]; ok {
			out.Equity += total * px
		}
	}
	out.BuyingPower = out.Cash
	return out, nil
}

func (c *Client) GetPrice(ctx context.Context, sym string) (float64, error) {
	exch := symbolpkg.Binance.ToExchange(sym)
	res, err := c.client.NewListPricesService().Symbol(exch).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("binance price %s: %w", exch, err)
	}
	for _, p := range res {
		if p != nil && strings.EqualFold(p.Symbol, exch) {
			return parseFloat(p.Price), nil
		}
	}
	return 0, fmt.Errorf("binance price %s: not found", exch)
}

func (c *Client) allPrices(ctx context.Context) (map[string]float64, error) {
	res, err := c.client.NewListPricesService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance prices: %w", err)
	}
	out := make(map[string]float64, len(res))
	for _, p := range res {
		if p == nil {
			continue
		}
		out[strings.ToUpper(p.Symbol)] = parseFloat(p.Price)
	}
	return out, nil
}

// FetchHistory 拉取现货 K 线，丢弃尚未收盘的最后一根。
func (c *Client) FetchHistory(ctx context.Context, sym, interval string, limit int) ([]market.Candle, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	clean := symbolpkg.Binance.ToExchange(sym)
	if clean == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	interval = strings.ToLower(strings.TrimSpace(interval))
	if interval == "" {
		return nil, fmt.Errorf("interval is required")
	}
	kls, err := c.client.NewKlinesService().Symbol(clean).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]market.Candle, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		out = append(out, market.Candle{
			OpenTime:  kl.OpenTime,
			CloseTime: kl.CloseTime,
			Open:      parseFloat(kl.Open),
			High:      parseFloat(kl.High),
			Low:       parseFloat(kl.Low),
			Close:     parseFloat(kl.Close),
			Volume:    parseFloat(kl.Volume),
			Trades:    kl.TradeNum,
		})
	}
	return market.Candles(out).Settled(time.Now()), nil
}

func averageFill(fills []*binance.Fill) float64 {
	var qty, notional float64
	for _, f := range fills {
		if f == nil {
			continue
		}
		q := parseFloat(f.Quantity)
		qty += q
		notional += q * parseFloat(f.Price)
	}
	if qty <= 0 {
		return 0
	}
	return notional / qty
}

// clientOrderID 交易所限制 36 个字符，uuid 恰好满足。
func clientOrderID(id string) string {
	if len(id) > 36 {
		return id[:36]
	}
	return id
}

func formatQty(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func parseFloat(v string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return f
}
