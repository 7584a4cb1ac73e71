package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tribune/internal/config"
	"tribune/internal/gateway/binance"
	"tribune/internal/gateway/broker"
	"tribune/internal/gateway/gate"
	"tribune/internal/gateway/paper"
	"tribune/internal/gateway/rest"
	"tribune/internal/logger"
	"tribune/internal/pkg/circuit"
	"tribune/internal/pkg/retry"
)

// venueSet 原始场所客户端；下单走 Guarded 包装，行情可直接复用。
type venueSet struct {
	binance *binance.Client
	rest    *rest.Client
	gate    *gate.Client
}

func buildVenues(cfg *config.Config) (*venueSet, error) {
	out := &venueSet{}
	if bc := cfg.Brokers.Binance; bc.Enabled {
		out.binance = binance.New(binance.Config{
			Name:        bc.Name,
			APIKey:      bc.APIKey,
			SecretKey:   bc.SecretKey,
			RESTBaseURL: bc.BaseURL,
			HTTPTimeout: seconds(bc.TimeoutSeconds),
			QuoteAsset:  bc.QuoteAsset,
		})
		logger.Infof("✓ Binance 场所已启用: %s", out.binance.Name())
	}
	if rc := cfg.Brokers.REST; rc.Enabled {
		client, err := rest.New(rest.Config{
			Name:               rc.Name,
			BaseURL:            rc.BaseURL,
			APIKey:             rc.APIKey,
			APISecret:          rc.APISecret,
			Timeout:            seconds(rc.TimeoutSeconds),
			RateLimitPerSecond: rc.RateLimitPerSecond,
			Burst:              rc.Burst,
			InsecureSkipVerify: rc.InsecureSkipVerify,
		})
		if err != nil {
			return nil, fmt.Errorf("初始化 REST 券商失败: %w", err)
		}
		out.rest = client
		logger.Infof("✓ REST 券商已启用: %s (%s)", client.Name(), rc.BaseURL)
	}
	if gc := cfg.Market.Gate; gc.Enabled {
		client, err := gate.New(gate.Config{
			RESTBaseURL:  gc.BaseURL,
			HTTPTimeout:  seconds(gc.TimeoutSeconds),
			Settle:       gc.Settle,
			ProxyEnabled: gc.ProxyEnabled,
			RESTProxyURL: gc.ProxyURL,
		})
		if err != nil {
			return nil, fmt.Errorf("初始化 Gate 行情失败: %w", err)
		}
		out.gate = client
		logger.Infof("✓ Gate 行情已启用")
	}
	return out, nil
}

type brokerStack struct {
	router  *broker.Router
	guarded []*broker.Guarded
}

// find 按名称查找已包装的场所。
func (s *brokerStack) find(name string) *broker.Guarded {
	for _, g := range s.guarded {
		if g.Name() == name {
			return g
		}
	}
	return nil
}

// buildBrokers 给每个场所套上熔断与重试；onBreaker 可为 nil。
func buildBrokers(cfg *config.Config, venues *venueSet, price paper.PriceFunc, onBreaker func(name string, from, to circuit.State)) (*brokerStack, error) {
	var inner []broker.Broker
	if pc := cfg.Brokers.Paper; pc.Enabled {
		inner = append(inner, paper.New(paper.Config{
			Name:          pc.Name,
			Cash:          pc.Cash,
			RejectSymbols: pc.RejectSymbols,
			Latency:       time.Duration(pc.LatencyMs) * time.Millisecond,
		}, price))
	}
	if venues.binance != nil {
		inner = append(inner, venues.binance)
	}
	if venues.rest != nil {
		inner = append(inner, venues.rest)
	}
	if len(inner) == 0 {
		return nil, fmt.Errorf("brokers: 至少需要启用一个场所")
	}

	policy := retryPolicy(cfg.Brokers.Retry)
	stack := &brokerStack{}
	wrapped := make([]broker.Broker, 0, len(inner))
	for _, b := range inner {
		breaker := circuit.NewCircuitBreaker(b.Name(), cfg.Brokers.Circuit.Threshold, seconds(cfg.Brokers.Circuit.CooldownSeconds))
		breaker.SetStateChangeHandler(func(name string, from, to circuit.State) {
			logger.Warnf("[broker] %s circuit %s -> %s", name, from, to)
			if onBreaker != nil {
				onBreaker(name, from, to)
			}
		})
		if onBreaker != nil {
			onBreaker(b.Name(), circuit.StateClosed, circuit.StateClosed)
		}
		g := broker.NewGuarded(b, breaker, policy)
		stack.guarded = append(stack.guarded, g)
		wrapped = append(wrapped, g)
	}
	router, err := broker.NewRouter(wrapped, cfg.Brokers.Default, cfg.Brokers.Crypto, cfg.Brokers.Routes)
	if err != nil {
		return nil, fmt.Errorf("初始化券商路由失败: %w", err)
	}
	stack.router = router
	names := make([]string, 0, len(wrapped))
	for _, b := range wrapped {
		names = append(names, b.Name())
	}
	logger.Infof("✓ 券商路由: default=%s crypto=%s venues=[%s]", cfg.Brokers.Default, cfg.Brokers.Crypto, strings.Join(names, ", "))
	return stack, nil
}

func retryPolicy(rc config.RetryConfig) retry.Policy {
	p := retry.DefaultPolicy()
	p.MaxRetries = rc.MaxRetries
	if rc.InitialBackoffMs > 0 {
		p.InitialBackoff = time.Duration(rc.InitialBackoffMs) * time.Millisecond
	}
	if rc.MaxBackoffMs > 0 {
		p.MaxBackoff = time.Duration(rc.MaxBackoffMs) * time.Millisecond
	}
	return p
}

func seconds(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}

// syncAccountValue 启动时用默认场所的权益校准组合总值。
func syncAccountValue(ctx context.Context, book interface {
	SetTotalValue(context.Context, float64) error
}, acct broker.AccountProvider) {
	if acct == nil {
		return
	}
	a, err := acct.GetAccount(ctx)
	if err != nil {
		logger.Warnf("读取账户权益失败，沿用初始组合价值: %v", err)
		return
	}
	if a.Equity <= 0 {
		return
	}
	if err := book.SetTotalValue(ctx, a.Equity); err != nil {
		logger.Warnf("校准组合总值失败: %v", err)
		return
	}
	logger.Infof("✓ 组合总值已按账户权益校准: %.2f", a.Equity)
}
