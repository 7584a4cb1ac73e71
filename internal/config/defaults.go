package config

import (
	"strings"

	"tribune/internal/pkg/symbol"
)

// 默认值常量
const (
	defaultAppEnv             = "dev"
	defaultAppLogLevel        = "info"
	defaultAppLogFormat       = "text"
	defaultAppHTTPAddr        = ":9991"
	defaultConsensusThreshold = 0.6
	defaultSourceTimeoutMs    = 3000
	defaultPortfolioValue     = 100000
	defaultRiskPerTrade       = 0.01
	defaultMaxPositionSize    = 0.10
	defaultMaxSectorExposure  = 0.25
	defaultMaxAggregate       = 1.0
	defaultStopLossPct        = 0.02
	defaultCryptoPrecision    = 6
	defaultPDTDayTradeLimit   = 4
	defaultPDTMinEquity       = 25000
	defaultPDTWindowDays      = 5
	defaultWashSaleWindowDays = 30
	defaultOrderType          = "MARKET"
	defaultSubmitTimeoutMs    = 10000
	defaultBrokerName         = "paper"
	defaultBinanceName        = "binance"
	defaultBinanceBaseURL     = "https://api.binance.com"
	defaultBinanceTimeout     = 10
	defaultBinanceQuote       = "USDT"
	defaultRESTName           = "rest"
	defaultRESTTimeout        = 15
	defaultRESTRate           = 5
	defaultRESTBurst          = 5
	defaultCircuitThreshold   = 5
	defaultCircuitCooldown    = 30
	defaultRetryMax           = 2
	defaultRetryInitialMs     = 100
	defaultRetryMaxMs         = 1000
	defaultSector             = "Unknown"
	defaultCacheTTLSeconds    = 60
	defaultRedisPrefix        = "tribune:quote:"
	defaultOrdersDB           = "data/tribune-orders.db"
	defaultDecisionLogDB      = "data/tribune-decisions.db"
	defaultIndicatorInterval  = "1h"
	defaultIndicatorFeed      = "binance"
	defaultGateTimeout        = 15
	defaultGateSettle         = "usdt"
	defaultIndicatorLimit     = 200
	defaultRSIPeriod          = 14
	defaultEMAFast            = 12
	defaultEMASlow            = 26
	defaultSchedulerInterval  = "15m"
	defaultMetricsPath        = "/metrics"
)

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Consensus.applyDefaults(keys)
	c.Risk.applyDefaults(keys)
	c.Compliance.applyDefaults(keys)
	c.Orders.applyDefaults(keys)
	c.Brokers.applyDefaults(keys)
	c.Market.applyDefaults(keys)
	c.Store.applyDefaults(keys)
	c.Sources.Indicator.applyDefaults(keys)
	c.Scheduler.applyDefaults(keys)
	c.Metrics.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.log_format", &a.LogFormat, defaultAppLogFormat),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
	)
}

func (c *ConsensusConfig) applyDefaults(keys keySet) {
	if c == nil {
		return
	}
	applyFieldDefaults(keys,
		floatFieldDefault("consensus.threshold", &c.Threshold, defaultConsensusThreshold),
		intFieldDefault("consensus.source_timeout_ms", &c.SourceTimeoutMs, defaultSourceTimeoutMs),
	)
}

func (r *RiskConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		floatFieldDefault("risk.initial_portfolio_value", &r.InitialPortfolioValue, defaultPortfolioValue),
		floatFieldDefault("risk.risk_per_trade", &r.RiskPerTrade, defaultRiskPerTrade),
		floatFieldDefault("risk.max_position_size", &r.MaxPositionSize, defaultMaxPositionSize),
		floatFieldDefault("risk.max_sector_exposure", &r.MaxSectorExposure, defaultMaxSectorExposure),
		floatFieldDefault("risk.max_aggregate_exposure", &r.MaxAggregateExposure, defaultMaxAggregate),
		floatFieldDefault("risk.stop_loss_pct", &r.StopLossPct, defaultStopLossPct),
		fieldDefault{
			key:   "risk.crypto_quantity_precision",
			need:  func() bool { return r.CryptoQuantityPrecision <= 0 },
			apply: func() { r.CryptoQuantityPrecision = defaultCryptoPrecision },
		},
	)
}

func (c *ComplianceConfig) applyDefaults(keys keySet) {
	if c == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("compliance.pdt_day_trade_limit", &c.PDTDayTradeLimit, defaultPDTDayTradeLimit),
		floatFieldDefault("compliance.pdt_min_equity", &c.PDTMinEquity, defaultPDTMinEquity),
		intFieldDefault("compliance.pdt_window_days", &c.PDTWindowDays, defaultPDTWindowDays),
		intFieldDefault("compliance.wash_sale_window_days", &c.WashSaleWindowDays, defaultWashSaleWindowDays),
	)
}

func (o *OrderConfig) applyDefaults(keys keySet) {
	if o == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("orders.default_type", &o.DefaultType, defaultOrderType),
		intFieldDefault("orders.submit_timeout_ms", &o.SubmitTimeoutMs, defaultSubmitTimeoutMs),
	)
}

func (b *BrokersConfig) applyDefaults(keys keySet) {
	if b == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("brokers.paper.name", &b.Paper.Name, defaultBrokerName),
		stringFieldDefault("brokers.binance.name", &b.Binance.Name, defaultBinanceName),
		stringFieldDefault("brokers.binance.base_url", &b.Binance.BaseURL, defaultBinanceBaseURL),
		stringFieldDefault("brokers.binance.quote_asset", &b.Binance.QuoteAsset, defaultBinanceQuote),
		intFieldDefault("brokers.binance.timeout_seconds", &b.Binance.TimeoutSeconds, defaultBinanceTimeout),
		stringFieldDefault("brokers.rest.name", &b.REST.Name, defaultRESTName),
		intFieldDefault("brokers.rest.timeout_seconds", &b.REST.TimeoutSeconds, defaultRESTTimeout),
		floatFieldDefault("brokers.rest.rate_limit_per_second", &b.REST.RateLimitPerSecond, defaultRESTRate),
		intFieldDefault("brokers.rest.burst", &b.REST.Burst, defaultRESTBurst),
		intFieldDefault("brokers.circuit.threshold", &b.Circuit.Threshold, defaultCircuitThreshold),
		intFieldDefault("brokers.circuit.cooldown_seconds", &b.Circuit.CooldownSeconds, defaultCircuitCooldown),
		intFieldDefault("brokers.retry.max_retries", &b.Retry.MaxRetries, defaultRetryMax),
		intFieldDefault("brokers.retry.initial_backoff_ms", &b.Retry.InitialBackoffMs, defaultRetryInitialMs),
		intFieldDefault("brokers.retry.max_backoff_ms", &b.Retry.MaxBackoffMs, defaultRetryMaxMs),
		fieldDefault{
			key:   "brokers.paper.enabled",
			need:  func() bool { return !b.Binance.Enabled && !b.REST.Enabled },
			apply: func() { b.Paper.Enabled = true },
		},
	)
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "brokers.default",
			need:  func() bool { return strings.TrimSpace(b.Default) == "" },
			apply: func() { b.Default = b.firstEnabled(false) },
		},
		fieldDefault{
			key:   "brokers.crypto",
			need:  func() bool { return strings.TrimSpace(b.Crypto) == "" },
			apply: func() { b.Crypto = b.firstEnabled(true) },
		},
	)
}

// firstEnabled 返回第一个启用的券商名称；crypto=true 时优先 binance。
func (b *BrokersConfig) firstEnabled(crypto bool) string {
	if crypto && b.Binance.Enabled {
		return b.Binance.Name
	}
	if b.REST.Enabled {
		return b.REST.Name
	}
	if b.Paper.Enabled {
		return b.Paper.Name
	}
	if b.Binance.Enabled {
		return b.Binance.Name
	}
	return defaultBrokerName
}

func (m *MarketConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("market.default_sector", &m.DefaultSector, defaultSector),
		intFieldDefault("market.cache_ttl_seconds", &m.CacheTTLSeconds, defaultCacheTTLSeconds),
		stringFieldDefault("market.redis.prefix", &m.Redis.Prefix, defaultRedisPrefix),
		intFieldDefault("market.gate.timeout_seconds", &m.Gate.TimeoutSeconds, defaultGateTimeout),
		stringFieldDefault("market.gate.settle", &m.Gate.Settle, defaultGateSettle),
	)
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("store.orders_db", &s.OrdersDB, defaultOrdersDB),
		stringFieldDefault("store.decision_log_db", &s.DecisionLogDB, defaultDecisionLogDB),
	)
}

func (i *IndicatorSourceConfig) applyDefaults(keys keySet) {
	if i == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("sources.indicator.interval", &i.Interval, defaultIndicatorInterval),
		stringFieldDefault("sources.indicator.feed", &i.Feed, defaultIndicatorFeed),
		intFieldDefault("sources.indicator.limit", &i.Limit, defaultIndicatorLimit),
		intFieldDefault("sources.indicator.rsi_period", &i.RSIPeriod, defaultRSIPeriod),
		intFieldDefault("sources.indicator.ema_fast", &i.EMAFast, defaultEMAFast),
		intFieldDefault("sources.indicator.ema_slow", &i.EMASlow, defaultEMASlow),
	)
}

func (s *SchedulerConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("scheduler.interval", &s.Interval, defaultSchedulerInterval),
	)
}

func (m *MetricsConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("metrics.path", &m.Path, defaultMetricsPath),
	)
}

// normalize 统一大小写，避免运行期重复处理。
func (c *Config) normalize() {
	c.Orders.DefaultType = strings.ToUpper(strings.TrimSpace(c.Orders.DefaultType))
	c.Compliance.RestrictedSymbols = upperList(c.Compliance.RestrictedSymbols)
	c.Scheduler.Symbols = upperList(c.Scheduler.Symbols)
	c.Brokers.Paper.RejectSymbols = upperList(c.Brokers.Paper.RejectSymbols)
	if len(c.Brokers.Routes) > 0 {
		routes := make(map[string]string, len(c.Brokers.Routes))
		for sym, name := range c.Brokers.Routes {
			routes[symbol.Key(sym)] = strings.TrimSpace(name)
		}
		c.Brokers.Routes = routes
	}
	if len(c.Market.Sectors) > 0 {
		sectors := make(map[string]string, len(c.Market.Sectors))
		for sym, sector := range c.Market.Sectors {
			sectors[symbol.Key(sym)] = strings.TrimSpace(sector)
		}
		c.Market.Sectors = sectors
	}
	if len(c.Market.StaticPrices) > 0 {
		prices := make(map[string]float64, len(c.Market.StaticPrices))
		for sym, px := range c.Market.StaticPrices {
			prices[symbol.Key(sym)] = px
		}
		c.Market.StaticPrices = prices
	}
}

func upperList(items []string) []string {
	if len(items) == 0 {
		return nil
	}
	out := make([]string, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		key := symbol.Key(item)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func floatFieldDefault(key string, target *float64, def float64) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
