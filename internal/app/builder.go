package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tribune/internal/compliance"
	"tribune/internal/config"
	cfgloader "tribune/internal/config/loader"
	"tribune/internal/consensus"
	"tribune/internal/gateway/broker"
	"tribune/internal/logger"
	"tribune/internal/market"
	"tribune/internal/metrics"
	"tribune/internal/order"
	"tribune/internal/pipeline"
	"tribune/internal/pkg/circuit"
	"tribune/internal/pkg/symbol"
	"tribune/internal/portfolio"
	"tribune/internal/risk"
	"tribune/internal/store/decisionlog"
	"tribune/internal/store/sqlite"
	livehttp "tribune/internal/transport/http/live"
	"tribune/internal/types"
)

type AppBuilder struct {
	cfg *config.Config

	venuesFn   func(*config.Config) (*venueSet, error)
	liveHTTPFn func(config.AppConfig, config.MetricsConfig, livehttp.RouterDeps, *metrics.Recorder) (*livehttp.Server, error)
}

type AppBuilderOption func(*AppBuilder)

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:        cfg,
		venuesFn:   buildVenues,
		liveHTTPFn: buildLiveHTTPServer,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *AppBuilder) Build(ctx context.Context) (_ *App, err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)
	symbol.RegisterBases(cfg.Market.CryptoBases...)

	a := &App{cfg: cfg}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	tunables, err := config.NewTunableStore(config.TunablesFromConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("初始化运行参数失败: %w", err)
	}
	a.tunables = tunables
	if path := strings.TrimSpace(cfg.App.TunablesPath); path != "" {
		loader, err := cfgloader.NewTunablesLoader(path, tunables)
		if err != nil {
			return nil, fmt.Errorf("加载运行参数文件失败: %w", err)
		}
		a.closers = append(a.closers, loader.Close)
		logger.Infof("✓ 运行参数热更新: %s", loader.Path())
	}

	stores, err := b.resolveStores(cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, stores.orders.Close, stores.decisions.Close)

	venues, err := b.venuesFn(cfg)
	if err != nil {
		return nil, err
	}
	// paper 撮合需要报价，报价链又要读取默认场所的账户，先以闭包占位。
	var recorder *metrics.Recorder
	var onBreaker func(string, circuit.State, circuit.State)
	aggOpts := []consensus.Option{}
	if cfg.Metrics.Enabled {
		recorder = metrics.New()
		onBreaker = recorder.ObserveBreaker
		aggOpts = append(aggOpts, consensus.WithRecorder(recorder))
	}

	var quotes *market.Provider
	priceFn := func(ctx context.Context, sym string) (float64, error) {
		q, err := quotes.Quote(ctx, sym)
		return q.Price, err
	}
	brokers, err := buildBrokers(cfg, venues, priceFn, onBreaker)
	if err != nil {
		return nil, err
	}
	var account broker.AccountProvider
	if g := brokers.find(cfg.Brokers.Default); g != nil {
		account = g
	}
	marketStack, err := buildMarketStack(cfg, tunables, venues, account)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, marketStack.Close)
	quotes = marketStack.Provider

	registry, err := buildSourceRegistry(cfg, marketStack.Candles)
	if err != nil {
		return nil, err
	}
	aggregator := consensus.NewAggregator(registry, tunables, aggOpts...)

	book := portfolio.NewBook(cfg.Risk.InitialPortfolioValue, func() float64 {
		return tunables.Get().MaxAggregateExposure
	}, stores.orders)
	if err := book.Recover(ctx); err != nil {
		return nil, fmt.Errorf("恢复持仓失败: %w", err)
	}
	book.Start()
	a.book = book
	syncAccountValue(ctx, book, account)

	riskMgr := risk.NewManager(tunables, risk.Precision{
		Equity: cfg.Risk.QuantityPrecision,
		Crypto: cfg.Risk.CryptoQuantityPrecision,
	}, book)

	window := func() time.Duration {
		t := tunables.Get()
		return max(t.PDTWindow, t.WashSaleWindow)
	}
	history := compliance.NewHistory(stores.orders, window)
	if err := history.Load(ctx, time.Now().Add(-window())); err != nil {
		return nil, fmt.Errorf("加载交易历史失败: %w", err)
	}
	officer := compliance.NewOfficer(tunables, history)

	orders := order.NewManager(brokers.router,
		order.WithStore(stores.orders),
		order.WithSubmitTimeout(time.Duration(cfg.Orders.SubmitTimeoutMs)*time.Millisecond),
	)
	recovered, err := orders.Recover(ctx)
	if err != nil {
		return nil, fmt.Errorf("恢复订单失败: %w", err)
	}
	a.orders = orders

	deps := pipeline.Deps{
		Consensus:  aggregator,
		Risk:       riskMgr,
		Portfolio:  book,
		Market:     marketStack.Provider,
		Compliance: officer,
		Orders:     orders,
		Audit:      stores.decisions,
		DayTrades:  pipeline.FlagAll(cfg.Compliance.FlagFillsAsDayTrades),
		OrderType:  types.ParseOrderType(cfg.Orders.DefaultType),
	}
	if recorder != nil {
		deps.Recorder = recorder
	}
	runner, err := pipeline.NewRunner(deps)
	if err != nil {
		return nil, err
	}
	a.runner = runner

	a.http, err = b.liveHTTPFn(cfg.App, cfg.Metrics, livehttp.RouterDeps{
		Pipeline:   runner,
		Orders:     orders,
		Events:     stores.orders,
		Portfolio:  book,
		Logs:       stores.decisions,
		RunTimeout: 2 * time.Minute,
	}, recorder)
	if err != nil {
		return nil, err
	}

	a.Summary = &StartupSummary{
		Env:           cfg.App.Env,
		HTTPAddr:      a.http.Addr(),
		Sources:       registry.Names(),
		Brokers:       brokerNames(brokers),
		DefaultBroker: cfg.Brokers.Default,
		CryptoBroker:  cfg.Brokers.Crypto,
		Routes:        cfg.Brokers.Routes,
		PriceFeeds:    marketStack.Feeds,
		Scheduler: SchedulerSummary{
			Enabled:  cfg.Scheduler.Enabled,
			Symbols:  cfg.Scheduler.Symbols,
			Interval: cfg.Scheduler.Interval,
		},
		Tunables:        tunables.Get(),
		RecoveredOrders: recovered,
		OpenPositions:   len(book.Snapshot().Positions),
		MetricsEnabled:  recorder != nil,
	}
	return a, nil
}

type storeSetup struct {
	orders    *sqlite.Store
	decisions *decisionlog.DecisionLogStore
}

func (b *AppBuilder) resolveStores(cfg *config.Config) (storeSetup, error) {
	orders, err := sqlite.Open(cfg.Store.OrdersDB)
	if err != nil {
		return storeSetup{}, fmt.Errorf("初始化订单存储失败: %w", err)
	}
	decisions, err := decisionlog.NewDecisionLogStore(cfg.Store.DecisionLogDB)
	if err != nil {
		_ = orders.Close()
		return storeSetup{}, fmt.Errorf("初始化决策日志失败: %w", err)
	}
	logger.Infof("✓ 存储: orders=%s decisions=%s", cfg.Store.OrdersDB, cfg.Store.DecisionLogDB)
	return storeSetup{orders: orders, decisions: decisions}, nil
}

func buildLiveHTTPServer(cfg config.AppConfig, mc config.MetricsConfig, deps livehttp.RouterDeps, recorder *metrics.Recorder) (*livehttp.Server, error) {
	if strings.TrimSpace(cfg.HTTPAddr) == "" {
		return nil, nil
	}
	sc := livehttp.ServerConfig{Addr: cfg.HTTPAddr, Deps: deps}
	if recorder != nil {
		sc.Metrics = recorder.Handler()
		sc.MetricsPath = mc.Path
	}
	server, err := livehttp.NewServer(sc)
	if err != nil {
		return nil, fmt.Errorf("初始化 HTTP 接口失败: %w", err)
	}
	logger.Infof("✓ HTTP 接口监听 %s", server.Addr())
	return server, nil
}

func brokerNames(s *brokerStack) []string {
	out := make([]string, 0, len(s.guarded))
	for _, g := range s.guarded {
		out = append(out, g.Name())
	}
	return out
}

func WithVenues(fn func(*config.Config) (*venueSet, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.venuesFn = fn
		}
	}
}

func WithLiveHTTP(fn func(config.AppConfig, config.MetricsConfig, livehttp.RouterDeps, *metrics.Recorder) (*livehttp.Server, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.liveHTTPFn = fn
		}
	}
}
