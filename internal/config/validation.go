package config

import (
	"fmt"
	"strings"

	"tribune/internal/logger"
	"tribune/internal/scheduler"
	"tribune/internal/types"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.App.validate(); err != nil {
		return err
	}
	if err := c.Consensus.validate(); err != nil {
		return err
	}
	if err := c.Risk.validate(); err != nil {
		return err
	}
	if err := c.Compliance.validate(); err != nil {
		return err
	}
	if err := c.Orders.validate(); err != nil {
		return err
	}
	if err := c.Brokers.validate(); err != nil {
		return err
	}
	if err := c.Sources.validate(); err != nil {
		return err
	}
	if err := c.Scheduler.validate(); err != nil {
		return err
	}
	return nil
}

func (a *AppConfig) validate() error {
	if !logger.ValidFormat(a.LogFormat) {
		return fmt.Errorf("app.log_format must be text, json or console, got %q", a.LogFormat)
	}
	if _, err := logger.ParseLevel(a.LogLevel); err != nil {
		return fmt.Errorf("app.log_level: %w", err)
	}
	return nil
}

func (c *ConsensusConfig) validate() error {
	if c.Threshold <= 0 || c.Threshold > 1 {
		return fmt.Errorf("consensus.threshold must be in (0, 1]")
	}
	if c.SourceTimeoutMs <= 0 {
		return fmt.Errorf("consensus.source_timeout_ms must be > 0")
	}
	return nil
}

func (r *RiskConfig) validate() error {
	if r.InitialPortfolioValue < 0 {
		return fmt.Errorf("risk.initial_portfolio_value must be >= 0")
	}
	if err := fraction("risk.risk_per_trade", r.RiskPerTrade); err != nil {
		return err
	}
	if err := fraction("risk.max_position_size", r.MaxPositionSize); err != nil {
		return err
	}
	if err := fraction("risk.max_sector_exposure", r.MaxSectorExposure); err != nil {
		return err
	}
	if r.MaxAggregateExposure <= 0 {
		return fmt.Errorf("risk.max_aggregate_exposure must be > 0")
	}
	if r.StopLossPct <= 0 || r.StopLossPct >= 1 {
		return fmt.Errorf("risk.stop_loss_pct must be in (0, 1)")
	}
	if r.QuantityPrecision < 0 || r.CryptoQuantityPrecision < 0 {
		return fmt.Errorf("risk quantity precision must be >= 0")
	}
	return nil
}

func (c *ComplianceConfig) validate() error {
	if c.PDTDayTradeLimit <= 0 {
		return fmt.Errorf("compliance.pdt_day_trade_limit must be > 0")
	}
	if c.PDTMinEquity < 0 {
		return fmt.Errorf("compliance.pdt_min_equity must be >= 0")
	}
	if c.PDTWindowDays <= 0 || c.WashSaleWindowDays <= 0 {
		return fmt.Errorf("compliance windows must be > 0 days")
	}
	return nil
}

func (o *OrderConfig) validate() error {
	switch types.OrderType(o.DefaultType) {
	case types.OrderTypeMarket, types.OrderTypeLimit, types.OrderTypeStop:
	default:
		return fmt.Errorf("orders.default_type unsupported: %s", o.DefaultType)
	}
	return nil
}

func (b *BrokersConfig) validate() error {
	names := b.enabledNames()
	if len(names) == 0 {
		return fmt.Errorf("brokers requires at least one enabled broker")
	}
	if _, ok := names[b.Default]; !ok {
		return fmt.Errorf("brokers.default %q is not an enabled broker", b.Default)
	}
	if _, ok := names[b.Crypto]; !ok {
		return fmt.Errorf("brokers.crypto %q is not an enabled broker", b.Crypto)
	}
	for sym, name := range b.Routes {
		if _, ok := names[name]; !ok {
			return fmt.Errorf("brokers.routes.%s references unknown broker %q", sym, name)
		}
	}
	if b.REST.Enabled && strings.TrimSpace(b.REST.BaseURL) == "" {
		return fmt.Errorf("brokers.rest.base_url is required when rest broker is enabled")
	}
	if b.Binance.Enabled && (strings.TrimSpace(b.Binance.APIKey) == "" || strings.TrimSpace(b.Binance.SecretKey) == "") {
		return fmt.Errorf("brokers.binance requires api_key and secret_key (or %s_BROKERS_BINANCE_* env)", EnvPrefix)
	}
	return nil
}

func (b *BrokersConfig) enabledNames() map[string]struct{} {
	out := make(map[string]struct{}, 3)
	if b.Paper.Enabled {
		out[b.Paper.Name] = struct{}{}
	}
	if b.Binance.Enabled {
		out[b.Binance.Name] = struct{}{}
	}
	if b.REST.Enabled {
		out[b.REST.Name] = struct{}{}
	}
	return out
}

func (s *SourcesConfig) validate() error {
	seen := make(map[string]struct{}, len(s.Remote))
	for i, r := range s.Remote {
		name := strings.TrimSpace(r.Name)
		if name == "" {
			return fmt.Errorf("sources.remote[%d] missing name", i)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("sources.remote name %q duplicated", name)
		}
		seen[name] = struct{}{}
		if r.Enabled && strings.TrimSpace(r.URL) == "" {
			return fmt.Errorf("sources.remote.%s missing url", name)
		}
	}
	ind := s.Indicator
	if ind.Enabled {
		if !IsValidInterval(ind.Interval) {
			return fmt.Errorf("sources.indicator.interval invalid: %s", ind.Interval)
		}
		switch strings.ToLower(ind.Feed) {
		case "binance", "gate":
		default:
			return fmt.Errorf("sources.indicator.feed must be binance or gate, got %q", ind.Feed)
		}
		if ind.EMAFast >= ind.EMASlow {
			return fmt.Errorf("sources.indicator.ema_fast must be < ema_slow")
		}
		if ind.Limit <= ind.EMASlow {
			return fmt.Errorf("sources.indicator.limit must exceed ema_slow")
		}
	}
	return nil
}

func (s *SchedulerConfig) validate() error {
	if !s.Enabled {
		return nil
	}
	if len(s.Symbols) == 0 {
		return fmt.Errorf("scheduler.symbols required when scheduler is enabled")
	}
	if _, ok := scheduler.ParseInterval(s.Interval); !ok {
		return fmt.Errorf("scheduler.interval invalid: %s", s.Interval)
	}
	return nil
}

func fraction(key string, v float64) error {
	if v <= 0 || v > 1 {
		return fmt.Errorf("%s must be in (0, 1]", key)
	}
	return nil
}

// IsValidInterval 校验交易所 K 线周期写法：数字 + m/h/d/w
func IsValidInterval(s string) bool {
	if len(s) < 2 {
		return false
	}
	suf := s[len(s)-1]
	if suf != 'm' && suf != 'h' && suf != 'd' && suf != 'w' {
		return false
	}
	for i := 0; i < len(s)-1; i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
