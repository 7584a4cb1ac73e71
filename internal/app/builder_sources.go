package app

import (
	"fmt"
	"strings"
	"time"

	"tribune/internal/config"
	"tribune/internal/consensus"
	"tribune/internal/logger"
	"tribune/internal/market"
	"tribune/internal/signal/indicator"
	"tribune/internal/signal/remote"
)

// buildSourceRegistry 按配置注册远程策略 agent 与内置指标源。
func buildSourceRegistry(cfg *config.Config, candles market.CandleSource) (*consensus.Registry, error) {
	reg, err := consensus.NewRegistry()
	if err != nil {
		return nil, err
	}
	timeout := time.Duration(cfg.Consensus.SourceTimeoutMs) * time.Millisecond
	for _, rc := range cfg.Sources.Remote {
		if !rc.Enabled {
			continue
		}
		src, err := remote.New(remote.Config{
			Name:    rc.Name,
			URL:     rc.URL,
			APIKey:  rc.APIKey,
			Headers: rc.Headers,
			Timeout: 2 * timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("初始化远程信号源 %s 失败: %w", rc.Name, err)
		}
		if err := reg.Register(src); err != nil {
			return nil, err
		}
	}
	if ic := cfg.Sources.Indicator; ic.Enabled {
		if candles == nil {
			return nil, fmt.Errorf("sources.indicator 需要启用 binance 或 gate 行情")
		}
		src := indicator.New(indicator.Config{
			Interval:  ic.Interval,
			Limit:     ic.Limit,
			RSIPeriod: ic.RSIPeriod,
			EMAFast:   ic.EMAFast,
			EMASlow:   ic.EMASlow,
		}, candles)
		if err := reg.Register(src); err != nil {
			return nil, err
		}
	}
	names := reg.Names()
	if len(names) == 0 {
		logger.Warnf("未注册任何信号源，共识将始终为 HOLD")
	} else {
		logger.Infof("✓ 信号源: %s", strings.Join(names, ", "))
	}
	return reg, nil
}
