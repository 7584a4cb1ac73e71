package config

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"tribune/internal/logger"
	"tribune/internal/pkg/symbol"
)

// Tunables 是运行期可热更新的参数集合，读取方只拿到不可变快照。
type Tunables struct {
	ConsensusThreshold   float64
	SourceTimeout        time.Duration
	RiskPerTrade         float64
	MaxPositionSize      float64
	MaxSectorExposure    float64
	MaxAggregateExposure float64
	StopLossPct          float64
	PDTDayTradeLimit     int
	PDTMinEquity         float64
	PDTWindow            time.Duration
	WashSaleWindow       time.Duration
	Restricted           map[string]struct{}
	Sectors              map[string]string
	DefaultSector        string
	Version              int64
	LoadedAt             time.Time
}

// IsRestricted reports whether trading the symbol is blocked.
func (t Tunables) IsRestricted(sym string) bool {
	_, ok := t.Restricted[symbol.Key(sym)]
	return ok
}

// SectorOf returns the configured sector or the default bucket.
func (t Tunables) SectorOf(sym string) string {
	if sector, ok := t.Sectors[symbol.Key(sym)]; ok && sector != "" {
		return sector
	}
	return t.DefaultSector
}

func (t Tunables) validate() error {
	if t.ConsensusThreshold <= 0 || t.ConsensusThreshold > 1 {
		return fmt.Errorf("consensus threshold must be in (0, 1], got %v", t.ConsensusThreshold)
	}
	if t.SourceTimeout <= 0 {
		return fmt.Errorf("source timeout must be > 0")
	}
	for key, v := range map[string]float64{
		"risk_per_trade":      t.RiskPerTrade,
		"max_position_size":   t.MaxPositionSize,
		"max_sector_exposure": t.MaxSectorExposure,
	} {
		if err := fraction(key, v); err != nil {
			return err
		}
	}
	if t.MaxAggregateExposure <= 0 {
		return fmt.Errorf("max_aggregate_exposure must be > 0")
	}
	if t.StopLossPct <= 0 || t.StopLossPct >= 1 {
		return fmt.Errorf("stop_loss_pct must be in (0, 1)")
	}
	if t.PDTDayTradeLimit <= 0 || t.PDTWindow <= 0 || t.WashSaleWindow <= 0 {
		return fmt.Errorf("compliance limits must be > 0")
	}
	return nil
}

func (t Tunables) clone() Tunables {
	out := t
	out.Restricted = make(map[string]struct{}, len(t.Restricted))
	for k := range t.Restricted {
		out.Restricted[k] = struct{}{}
	}
	out.Sectors = make(map[string]string, len(t.Sectors))
	for k, v := range t.Sectors {
		out.Sectors[k] = v
	}
	return out
}

// TunablesFromConfig 从静态配置构造初始参数。
func TunablesFromConfig(cfg *Config) Tunables {
	t := Tunables{
		ConsensusThreshold:   cfg.Consensus.Threshold,
		SourceTimeout:        time.Duration(cfg.Consensus.SourceTimeoutMs) * time.Millisecond,
		RiskPerTrade:         cfg.Risk.RiskPerTrade,
		MaxPositionSize:      cfg.Risk.MaxPositionSize,
		MaxSectorExposure:    cfg.Risk.MaxSectorExposure,
		MaxAggregateExposure: cfg.Risk.MaxAggregateExposure,
		StopLossPct:          cfg.Risk.StopLossPct,
		PDTDayTradeLimit:     cfg.Compliance.PDTDayTradeLimit,
		PDTMinEquity:         cfg.Compliance.PDTMinEquity,
		PDTWindow:            days(cfg.Compliance.PDTWindowDays),
		WashSaleWindow:       days(cfg.Compliance.WashSaleWindowDays),
		Restricted:           make(map[string]struct{}, len(cfg.Compliance.RestrictedSymbols)),
		Sectors:              make(map[string]string, len(cfg.Market.Sectors)),
		DefaultSector:        cfg.Market.DefaultSector,
	}
	for _, sym := range cfg.Compliance.RestrictedSymbols {
		t.Restricted[symbol.Key(sym)] = struct{}{}
	}
	for sym, sector := range cfg.Market.Sectors {
		t.Sectors[symbol.Key(sym)] = sector
	}
	return t
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}

// TunablesListener 在参数变更后收到新快照。
type TunablesListener func(Tunables)

// TunableStore 原子保存当前参数；写入经过校验，非法更新整体丢弃。
type TunableStore struct {
	cur atomic.Pointer[Tunables]

	mu        sync.Mutex
	listeners []TunablesListener
}

// NewTunableStore 校验并发布初始参数。
func NewTunableStore(initial Tunables) (*TunableStore, error) {
	if err := initial.validate(); err != nil {
		return nil, err
	}
	s := &TunableStore{}
	snap := initial.clone()
	snap.Version = 1
	snap.LoadedAt = time.Now()
	s.cur.Store(&snap)
	return s, nil
}

// Get 返回当前快照，调用方可以随意读取但不应修改 map。
func (s *TunableStore) Get() Tunables {
	if s == nil {
		return Tunables{}
	}
	if p := s.cur.Load(); p != nil {
		return *p
	}
	return Tunables{}
}

// Update 在副本上应用修改，校验通过后发布并通知监听者。
func (s *TunableStore) Update(fn func(*Tunables)) error {
	s.mu.Lock()
	next := s.Get().clone()
	fn(&next)
	if err := next.validate(); err != nil {
		s.mu.Unlock()
		return err
	}
	next.Version = s.Get().Version + 1
	next.LoadedAt = time.Now()
	s.cur.Store(&next)
	listeners := append([]TunablesListener(nil), s.listeners...)
	s.mu.Unlock()
	for _, fn := range listeners {
		notifyListener(fn, next)
	}
	return nil
}

// Subscribe 注册监听器。
func (s *TunableStore) Subscribe(fn TunablesListener) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

func notifyListener(fn TunablesListener, snap Tunables) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("tunables listener panic: %v", r)
		}
	}()
	fn(snap)
}
