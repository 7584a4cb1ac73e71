// Package rest 对接通用 JSON/HTTP 证券券商网关。
package rest

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tribune/internal/gateway/broker"
	"tribune/internal/logger"
	"tribune/internal/pkg/symbol"
	"tribune/internal/pkg/text"
	"tribune/internal/types"

	"golang.org/x/time/rate"
)

// StatusError 网关返回的非 2xx 响应。
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("broker gateway returned %d", e.StatusCode)
	}
	return fmt.Sprintf("broker gateway returned %d: %s", e.StatusCode, text.Truncate(e.Body, 200))
}

// Client 所有请求共用一个令牌桶限流器。
type Client struct {
	cfg        Config
	baseURL    *url.URL
	httpClient *http.Client
	limiter    *rate.Limiter
}

func New(cfg Config) (*Client, error) {
	final := cfg.withDefaults()
	if final.BaseURL == "" {
		return nil, fmt.Errorf("rest broker %s: base_url 不能为空", final.Name)
	}
	parsed, err := url.Parse(final.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("解析 rest broker base_url 失败: %w", err)
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if final.InsecureSkipVerify {
		if transport.TLSClientConfig == nil {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} // #nosec G402
		} else {
			transport.TLSClientConfig.InsecureSkipVerify = true // #nosec G402
		}
	}
	return &Client{
		cfg:        final,
		baseURL:    parsed,
		httpClient: &http.Client{Timeout: final.Timeout, Transport: transport},
		limiter:    rate.NewLimiter(rate.Limit(final.RateLimitPerSecond), final.Burst),
	}, nil
}

// SetHTTPClient sets the HTTP client for testing.
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

func (c *Client) Name() string { return c.cfg.Name }

func (c *Client) PlaceOrder(ctx context.Context, order types.Order) (broker.PlaceResult, error) {
	side := strings.ToLower(string(order.Side))
	if order.Side != types.ActionBuy && order.Side != types.ActionSell {
		return broker.PlaceResult{Error: fmt.Sprintf("unsupported side %q", order.Side)}, nil
	}
	// 只发 IOC：回执即终态，不会在场所留下挂单。STOP 无法即时成交，直接拒绝。
	req := orderRequest{
		ClientOrderID: order.ID,
		Symbol:        symbol.Plain.ToExchange(order.Symbol),
		Side:          side,
		Qty:           order.Quantity,
		Type:          strings.ToLower(string(order.Type)),
		TimeInForce:   "ioc",
	}
	switch order.Type {
	case types.OrderTypeMarket:
	case types.OrderTypeLimit:
		req.LimitPrice = order.LimitPrice
	default:
		return broker.PlaceResult{Error: fmt.Sprintf("order type %q not supported by %s", order.Type, c.cfg.Name)}, nil
	}

	var resp orderResponse
	err := c.doRequest(ctx, http.MethodPost, "/orders", req, &resp)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.StatusCode >= 400 && se.StatusCode < 500 {
			// 4xx 视为场所拒单
			return broker.PlaceResult{Error: se.Body}, nil
		}
		return broker.PlaceResult{}, err
	}
	status := strings.ToLower(strings.TrimSpace(resp.Status))
	switch status {
	case "filled":
		return broker.PlaceResult{
			Success:       true,
			BrokerOrderID: resp.ID,
			FillPrice:     resp.FilledAvgPrice,
		}, nil
	case "rejected", "canceled", "cancelled", "expired":
		reason := resp.Reason
		if reason == "" {
			reason = "order " + status
		}
		return broker.PlaceResult{BrokerOrderID: resp.ID, Error: reason}, nil
	}
	// 未完全成交的回执（accepted/new/partially_filled…）不能记为成交，撤掉剩余部分后按拒单处理。
	cancelled := false
	if resp.ID != "" {
		var cerr error
		if cancelled, cerr = c.CancelOrder(ctx, resp.ID); cerr != nil {
			logger.Errorf("[rest:%s] order %s cancel after status %q failed: %v", c.cfg.Name, order.ID, resp.Status, cerr)
		}
	}
	if status == "partially_filled" {
		logger.Errorf("[rest:%s] order %s partially filled (ref=%s), reconcile positions with the venue", c.cfg.Name, order.ID, resp.ID)
	}
	return broker.PlaceResult{
		BrokerOrderID: resp.ID,
		Error:         fmt.Sprintf("order not filled immediately (status=%s, remainder cancelled=%v)", resp.Status, cancelled),
	}, nil
}

func (c *Client) CancelOrder(ctx context.Context, brokerOrderID string) (bool, error) {
	id := strings.TrimSpace(brokerOrderID)
	if id == "" {
		return false, fmt.Errorf("broker order id 必填")
	}
	err := c.doRequest(ctx, http.MethodDelete, "/orders/"+id, nil, nil)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && (se.StatusCode == http.StatusNotFound || se.StatusCode == http.StatusUnprocessableEntity) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (c *Client) GetPositions(ctx context.Context) ([]types.Position, error) {
	var raw []positionResponse
	if err := c.doRequest(ctx, http.MethodGet, "/positions", nil, &raw); err != nil {
		return nil, err
	}
	out := make([]types.Position, 0, len(raw))
	for _, p := range raw {
		if p.Qty == 0 {
			continue
		}
		out = append(out, types.Position{
			Symbol:   symbol.Plain.FromExchange(p.Symbol),
			Quantity: p.Qty,
			AvgPrice: p.AvgEntryPrice,
			Sector:   p.Sector,
		})
	}
	return out, nil
}

func (c *Client) GetPrice(ctx context.Context, sym string) (float64, error) {
	var q quoteResponse
	if err := c.doRequest(ctx, http.MethodGet, "/quotes/"+symbol.Plain.ToExchange(sym), nil, &q); err != nil {
		return 0, err
	}
	if q.Price <= 0 {
		return 0, fmt.Errorf("rest quote %s: invalid price %v", sym, q.Price)
	}
	return q.Price, nil
}

func (c *Client) GetAccount(ctx context.Context) (types.Account, error) {
	var a accountResponse
	if err := c.doRequest(ctx, http.MethodGet, "/account", nil, &a); err != nil {
		return types.Account{}, err
	}
	return types.Account{
		Equity:      a.Equity,
		Cash:        a.Cash,
		BuyingPower: a.BuyingPower,
		UpdatedAt:   time.Now(),
	}, nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, payload any, out any) error {
	if c == nil {
		return fmt.Errorf("rest broker client 未初始化")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	endpoint, err := c.resolveEndpoint(path)
	if err != nil {
		return err
	}

	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("序列化请求失败: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), body)
	if err != nil {
		return fmt.Errorf("构造请求失败: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("X-API-KEY", c.cfg.APIKey)
		req.Header.Set("X-API-SECRET", c.cfg.APISecret)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("调用 rest broker 失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("解析 rest broker 响应失败: %w", err)
	}
	return nil
}

func (c *Client) resolveEndpoint(path string) (*url.URL, error) {
	if c.baseURL == nil {
		return nil, fmt.Errorf("rest broker 地址未设置")
	}
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		trimmed = "/"
	}
	if !strings.HasPrefix(trimmed, "/") {
		trimmed = "/" + trimmed
	}
	base := *c.baseURL
	base.Path = strings.TrimSuffix(base.Path, "/") + trimmed
	base.RawPath = ""
	base.RawQuery = ""
	base.Fragment = ""
	return &base, nil
}
