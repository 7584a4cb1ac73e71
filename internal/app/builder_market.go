package app

import (
	"fmt"
	"strings"
	"time"

	"tribune/internal/config"
	"tribune/internal/gateway/broker"
	"tribune/internal/logger"
	"tribune/internal/market"
	"tribune/internal/types"
)

type MarketStack struct {
	Provider *market.Provider
	// Candles 指标信号源使用的 K 线来源，未启用任何行情场所时为 nil。
	Candles market.CandleSource
	Feeds   []string
	closers []func() error
}

func (s *MarketStack) Close() error {
	if s == nil {
		return nil
	}
	var first error
	for _, fn := range s.closers {
		if err := fn(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// buildMarketStack 组装报价链：缓存 → 静态价 → 加密场所 → 股票场所。
// 账户数据取自默认场所，失败时回落到配置值。
func buildMarketStack(cfg *config.Config, tunables *config.TunableStore, venues *venueSet, account broker.AccountProvider) (*MarketStack, error) {
	stack := &MarketStack{}
	ttl := time.Duration(cfg.Market.CacheTTLSeconds) * time.Second
	opts := []market.Option{
		market.WithFallbackAccount(types.Account{
			Equity:      cfg.Market.Account.Equity,
			Cash:        cfg.Market.Account.Cash,
			BuyingPower: cfg.Market.Account.Cash,
		}),
	}

	if rc := cfg.Market.Redis; rc.Enabled {
		cache, err := market.NewRedisCache(market.RedisConfig{
			Addr:     rc.Addr,
			Password: rc.Password,
			DB:       rc.DB,
			Prefix:   rc.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("初始化 Redis 报价缓存失败: %w", err)
		}
		stack.closers = append(stack.closers, cache.Close)
		opts = append(opts, market.WithCache(cache, ttl))
		logger.Infof("✓ 报价缓存: redis %s ttl=%s", rc.Addr, ttl)
	} else {
		opts = append(opts, market.WithCache(market.NewMemoryCache(), ttl))
		logger.Infof("✓ 报价缓存: memory ttl=%s", ttl)
	}

	if len(cfg.Market.StaticPrices) > 0 {
		prices := make(market.StaticPrices, len(cfg.Market.StaticPrices))
		for sym, px := range cfg.Market.StaticPrices {
			prices[strings.ToUpper(strings.TrimSpace(sym))] = px
		}
		opts = append(opts, market.WithPriceSource("static", prices, nil))
		stack.Feeds = append(stack.Feeds, "static")
	}
	if venues.binance != nil {
		opts = append(opts, market.WithPriceSource(venues.binance.Name(), venues.binance, market.CryptoOnly))
		stack.Feeds = append(stack.Feeds, venues.binance.Name())
	}
	if venues.gate != nil {
		opts = append(opts, market.WithPriceSource("gate", venues.gate, market.CryptoOnly))
		stack.Feeds = append(stack.Feeds, "gate")
	}
	if venues.rest != nil {
		opts = append(opts, market.WithPriceSource(venues.rest.Name(), venues.rest, market.EquitiesOnly))
		stack.Feeds = append(stack.Feeds, venues.rest.Name())
	}
	if account != nil {
		opts = append(opts, market.WithAccountSource(cfg.Brokers.Default, account))
	}

	stack.Candles = pickCandleFeed(cfg.Sources.Indicator.Feed, venues)
	stack.Provider = market.NewProvider(tunables, opts...)
	return stack, nil
}

func pickCandleFeed(feed string, venues *venueSet) market.CandleSource {
	switch strings.ToLower(strings.TrimSpace(feed)) {
	case "gate":
		if venues.gate != nil {
			return venues.gate
		}
	default:
		if venues.binance != nil {
			return venues.binance
		}
	}
	if venues.binance != nil {
		return venues.binance
	}
	if venues.gate != nil {
		return venues.gate
	}
	return nil
}
