package config

import "strings"

// Config 是 tribune 的主配置载体。
type Config struct {
	App        AppConfig        `toml:"app"`
	Consensus  ConsensusConfig  `toml:"consensus"`
	Risk       RiskConfig       `toml:"risk"`
	Compliance ComplianceConfig `toml:"compliance"`
	Orders     OrderConfig      `toml:"orders"`
	Brokers    BrokersConfig    `toml:"brokers"`
	Market     MarketConfig     `toml:"market"`
	Store      StoreConfig      `toml:"store"`
	Sources    SourcesConfig    `toml:"sources"`
	Scheduler  SchedulerConfig  `toml:"scheduler"`
	Metrics    MetricsConfig    `toml:"metrics"`
}

type AppConfig struct {
	Env          string `toml:"env"`
	LogLevel     string `toml:"log_level"`
	LogFormat    string `toml:"log_format"`
	LogPath      string `toml:"log_path"`
	HTTPAddr     string `toml:"http_addr"`
	TunablesPath string `toml:"tunables_path"`
}

// ConsensusConfig 控制多源信号投票。
type ConsensusConfig struct {
	Threshold       float64 `toml:"threshold"`
	SourceTimeoutMs int     `toml:"source_timeout_ms"`
}

// RiskConfig 仓位与敞口限制，均为组合总值的比例。
type RiskConfig struct {
	InitialPortfolioValue   float64 `toml:"initial_portfolio_value"`
	RiskPerTrade            float64 `toml:"risk_per_trade"`
	MaxPositionSize         float64 `toml:"max_position_size"`
	MaxSectorExposure       float64 `toml:"max_sector_exposure"`
	MaxAggregateExposure    float64 `toml:"max_aggregate_exposure"`
	StopLossPct             float64 `toml:"stop_loss_pct"`
	QuantityPrecision       int32   `toml:"quantity_precision"`
	CryptoQuantityPrecision int32   `toml:"crypto_quantity_precision"`
}

// ComplianceConfig 监管规则参数（PDT、洗售、限制名单）。
type ComplianceConfig struct {
	PDTDayTradeLimit   int      `toml:"pdt_day_trade_limit"`
	PDTMinEquity       float64  `toml:"pdt_min_equity"`
	PDTWindowDays      int      `toml:"pdt_window_days"`
	WashSaleWindowDays int      `toml:"wash_sale_window_days"`
	RestrictedSymbols  []string `toml:"restricted_symbols"`
	RestrictedFile     string   `toml:"restricted_file"`
	// FlagFillsAsDayTrades marks every confirmed fill as a day trade when recording history.
	FlagFillsAsDayTrades bool `toml:"flag_fills_as_day_trades"`
}

type OrderConfig struct {
	DefaultType     string `toml:"default_type"`
	SubmitTimeoutMs int    `toml:"submit_timeout_ms"`
}

// BrokersConfig 描述可用券商以及路由规则。
type BrokersConfig struct {
	Default string            `toml:"default"`
	Crypto  string            `toml:"crypto"`
	Routes  map[string]string `toml:"routes"`
	Paper   PaperBrokerConfig `toml:"paper"`
	Binance BinanceConfig     `toml:"binance"`
	REST    RESTBrokerConfig  `toml:"rest"`
	Circuit CircuitConfig     `toml:"circuit"`
	Retry   RetryConfig       `toml:"retry"`
}

type PaperBrokerConfig struct {
	Enabled       bool     `toml:"enabled"`
	Name          string   `toml:"name"`
	Cash          float64  `toml:"cash"`
	RejectSymbols []string `toml:"reject_symbols"`
	LatencyMs     int      `toml:"latency_ms"`
}

type BinanceConfig struct {
	Enabled        bool   `toml:"enabled"`
	Name           string `toml:"name"`
	APIKey         string `toml:"api_key"`
	SecretKey      string `toml:"secret_key"`
	BaseURL        string `toml:"base_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	QuoteAsset     string `toml:"quote_asset"`
}

// RESTBrokerConfig 描述通用 REST 券商网关的访问方式。
type RESTBrokerConfig struct {
	Enabled            bool    `toml:"enabled"`
	Name               string  `toml:"name"`
	BaseURL            string  `toml:"base_url"`
	APIKey             string  `toml:"api_key"`
	APISecret          string  `toml:"api_secret"`
	TimeoutSeconds     int     `toml:"timeout_seconds"`
	RateLimitPerSecond float64 `toml:"rate_limit_per_second"`
	Burst              int     `toml:"burst"`
	InsecureSkipVerify bool    `toml:"insecure_skip_verify"`
}

type CircuitConfig struct {
	Threshold       int `toml:"threshold"`
	CooldownSeconds int `toml:"cooldown_seconds"`
}

type RetryConfig struct {
	MaxRetries       int `toml:"max_retries"`
	InitialBackoffMs int `toml:"initial_backoff_ms"`
	MaxBackoffMs     int `toml:"max_backoff_ms"`
}

// MarketConfig 行情、行业分类与账户数据来源。
type MarketConfig struct {
	SectorsFile     string             `toml:"sectors_file"`
	Sectors         map[string]string  `toml:"sectors"`
	DefaultSector   string             `toml:"default_sector"`
	StaticPrices    map[string]float64 `toml:"static_prices"`
	CacheTTLSeconds int                `toml:"cache_ttl_seconds"`
	Redis           RedisConfig        `toml:"redis"`
	Account         AccountConfig      `toml:"account"`
	Gate            GateMarketConfig   `toml:"gate"`
	// CryptoBases 追加的加密资产代码，使 PEPEUSDT 这类无分隔符写法被识别为交易对。
	CryptoBases []string `toml:"crypto_bases"`
}

// GateMarketConfig Gate.io 合约行情（仅作为加密货币报价与 K 线来源）。
type GateMarketConfig struct {
	Enabled        bool   `toml:"enabled"`
	BaseURL        string `toml:"base_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	Settle         string `toml:"settle"`
	ProxyEnabled   bool   `toml:"proxy_enabled"`
	ProxyURL       string `toml:"proxy_url"`
}

type RedisConfig struct {
	Enabled  bool   `toml:"enabled"`
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
	Prefix   string `toml:"prefix"`
}

// AccountConfig is used when no broker reports account equity.
type AccountConfig struct {
	Equity float64 `toml:"equity"`
	Cash   float64 `toml:"cash"`
}

type StoreConfig struct {
	OrdersDB      string `toml:"orders_db"`
	DecisionLogDB string `toml:"decision_log_db"`
}

// SourcesConfig 注册信号源（远程策略 agent 与内置指标源）。
type SourcesConfig struct {
	Remote    []RemoteSourceConfig  `toml:"remote"`
	Indicator IndicatorSourceConfig `toml:"indicator"`
}

type RemoteSourceConfig struct {
	Name    string            `toml:"name"`
	Enabled bool              `toml:"enabled"`
	URL     string            `toml:"url"`
	APIKey  string            `toml:"api_key"`
	Headers map[string]string `toml:"headers"`
}

type IndicatorSourceConfig struct {
	Enabled bool `toml:"enabled"`
	// Feed 选择 K 线来源：binance 或 gate。
	Feed      string `toml:"feed"`
	Interval  string `toml:"interval"`
	Limit     int    `toml:"limit"`
	RSIPeriod int    `toml:"rsi_period"`
	EMAFast   int    `toml:"ema_fast"`
	EMASlow   int    `toml:"ema_slow"`
}

type SchedulerConfig struct {
	Enabled  bool     `toml:"enabled"`
	Symbols  []string `toml:"symbols"`
	Interval string   `toml:"interval"`
	// RunOnStart 启动后先跑一轮，不等第一个周期边界。
	RunOnStart bool `toml:"run_on_start"`
}

type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
