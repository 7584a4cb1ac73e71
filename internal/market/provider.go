// Package market 提供带缓存的报价、行业分类和账户资金视图。
package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"tribune/internal/config"
	"tribune/internal/logger"
	"tribune/internal/pkg/symbol"
	"tribune/internal/types"
)

var ErrNoPrice = errors.New("no price available")

type priceFeed struct {
	name  string
	src   PriceSource
	match func(symbol string) bool
}

type accountFeed struct {
	name string
	src  AccountSource
}

// Provider 按注册顺序查询报价源，首个成功结果写入缓存。
type Provider struct {
	tunables *config.TunableStore
	cache    QuoteCache
	ttl      time.Duration
	prices   []priceFeed
	accounts []accountFeed
	fallback types.Account
	now      func() time.Time
}

type Option func(*Provider)

func WithCache(c QuoteCache, ttl time.Duration) Option {
	return func(p *Provider) {
		p.cache = c
		p.ttl = ttl
	}
}

// WithPriceSource 注册报价源；match 为空时对所有标的生效。
func WithPriceSource(name string, src PriceSource, match func(string) bool) Option {
	return func(p *Provider) {
		if src == nil {
			return
		}
		p.prices = append(p.prices, priceFeed{name: name, src: src, match: match})
	}
}

func WithAccountSource(name string, src AccountSource) Option {
	return func(p *Provider) {
		if src == nil {
			return
		}
		p.accounts = append(p.accounts, accountFeed{name: name, src: src})
	}
}

// WithFallbackAccount 所有账户源都失败时使用的静态资金。
func WithFallbackAccount(a types.Account) Option {
	return func(p *Provider) { p.fallback = a }
}

func NewProvider(tunables *config.TunableStore, opts ...Option) *Provider {
	p := &Provider{
		tunables: tunables,
		ttl:      60 * time.Second,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.cache == nil {
		p.cache = NewMemoryCache()
	}
	return p
}

// Quote 返回最新价与行业；行业总是取自实时 tunables，不进缓存。
func (p *Provider) Quote(ctx context.Context, sym string) (types.Quote, error) {
	key := symbol.Key(sym)
	if key == "" {
		return types.Quote{}, fmt.Errorf("empty symbol")
	}
	sector := p.tunables.Get().SectorOf(key)

	if raw, ok, err := p.cache.GetBytes(ctx, key); err != nil {
		logger.Warnf("[market] quote cache read %s: %v", key, err)
	} else if ok {
		var q types.Quote
		if err := json.Unmarshal(raw, &q); err == nil && q.Price > 0 {
			q.Sector = sector
			return q, nil
		}
	}

	price, feed, err := p.fetchPrice(ctx, key)
	if err != nil {
		return types.Quote{}, err
	}
	q := types.Quote{Symbol: key, Price: price, Sector: sector, UpdatedAt: p.now()}
	if raw, err := json.Marshal(q); err == nil {
		if err := p.cache.SetBytes(ctx, key, raw, p.ttl); err != nil {
			logger.Warnf("[market] quote cache write %s: %v", key, err)
		}
	}
	logger.Debugf("[market] quote %s=%.6f via %s", key, price, feed)
	return q, nil
}

func (p *Provider) fetchPrice(ctx context.Context, key string) (float64, string, error) {
	var errs []string
	for _, f := range p.prices {
		if f.match != nil && !f.match(key) {
			continue
		}
		px, err := f.src.GetPrice(ctx, key)
		if err == nil && px > 0 {
			return px, f.name, nil
		}
		if err == nil {
			err = fmt.Errorf("non-positive price %v", px)
		}
		if ctx.Err() != nil {
			return 0, "", ctx.Err()
		}
		errs = append(errs, f.name+": "+err.Error())
	}
	if len(errs) == 0 {
		return 0, "", fmt.Errorf("%w: %s", ErrNoPrice, key)
	}
	return 0, "", fmt.Errorf("%w: %s (%s)", ErrNoPrice, key, strings.Join(errs, "; "))
}

// Account 依次尝试账户源，全部失败时返回配置的静态资金。
func (p *Provider) Account(ctx context.Context) types.Account {
	for _, f := range p.accounts {
		acct, err := f.src.GetAccount(ctx)
		if err == nil {
			return acct
		}
		logger.Warnf("[market] account via %s failed: %v", f.name, err)
	}
	out := p.fallback
	if out.UpdatedAt.IsZero() {
		out.UpdatedAt = p.now()
	}
	return out
}

// Sector 直接读取行业映射。
func (p *Provider) Sector(sym string) string {
	return p.tunables.Get().SectorOf(sym)
}

// CryptoOnly 匹配加密货币交易对。
func CryptoOnly(sym string) bool { return symbol.IsCryptoPair(sym) }

// EquitiesOnly 匹配非加密标的。
func EquitiesOnly(sym string) bool { return !symbol.IsCryptoPair(sym) }
