package loader

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"tribune/internal/config"
	"tribune/internal/logger"
	"tribune/internal/pkg/symbol"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// TunablesFile 是热更新文件的结构；未出现的字段保持当前值。
type TunablesFile struct {
	Consensus struct {
		Threshold       *float64 `mapstructure:"threshold"`
		SourceTimeoutMs *int     `mapstructure:"source_timeout_ms"`
	} `mapstructure:"consensus"`
	Risk struct {
		RiskPerTrade         *float64 `mapstructure:"risk_per_trade"`
		MaxPositionSize      *float64 `mapstructure:"max_position_size"`
		MaxSectorExposure    *float64 `mapstructure:"max_sector_exposure"`
		MaxAggregateExposure *float64 `mapstructure:"max_aggregate_exposure"`
		StopLossPct          *float64 `mapstructure:"stop_loss_pct"`
	} `mapstructure:"risk"`
	Compliance struct {
		PDTDayTradeLimit   *int      `mapstructure:"pdt_day_trade_limit"`
		PDTMinEquity       *float64  `mapstructure:"pdt_min_equity"`
		PDTWindowDays      *int      `mapstructure:"pdt_window_days"`
		WashSaleWindowDays *int      `mapstructure:"wash_sale_window_days"`
		RestrictedSymbols  *[]string `mapstructure:"restricted_symbols"`
	} `mapstructure:"compliance"`
	Sectors map[string]string `mapstructure:"sectors"`
}

// Apply 把文件中出现的字段覆盖到参数副本上。
func (f TunablesFile) Apply(t *config.Tunables) {
	setFloat(&t.ConsensusThreshold, f.Consensus.Threshold)
	if f.Consensus.SourceTimeoutMs != nil {
		t.SourceTimeout = time.Duration(*f.Consensus.SourceTimeoutMs) * time.Millisecond
	}
	setFloat(&t.RiskPerTrade, f.Risk.RiskPerTrade)
	setFloat(&t.MaxPositionSize, f.Risk.MaxPositionSize)
	setFloat(&t.MaxSectorExposure, f.Risk.MaxSectorExposure)
	setFloat(&t.MaxAggregateExposure, f.Risk.MaxAggregateExposure)
	setFloat(&t.StopLossPct, f.Risk.StopLossPct)
	if f.Compliance.PDTDayTradeLimit != nil {
		t.PDTDayTradeLimit = *f.Compliance.PDTDayTradeLimit
	}
	setFloat(&t.PDTMinEquity, f.Compliance.PDTMinEquity)
	if f.Compliance.PDTWindowDays != nil {
		t.PDTWindow = time.Duration(*f.Compliance.PDTWindowDays) * 24 * time.Hour
	}
	if f.Compliance.WashSaleWindowDays != nil {
		t.WashSaleWindow = time.Duration(*f.Compliance.WashSaleWindowDays) * 24 * time.Hour
	}
	if f.Compliance.RestrictedSymbols != nil {
		t.Restricted = make(map[string]struct{}, len(*f.Compliance.RestrictedSymbols))
		for _, sym := range *f.Compliance.RestrictedSymbols {
			if key := symbol.Key(sym); key != "" {
				t.Restricted[key] = struct{}{}
			}
		}
	}
	for sym, sector := range f.Sectors {
		if key := symbol.Key(sym); key != "" {
			t.Sectors[key] = strings.TrimSpace(sector)
		}
	}
}

func setFloat(dst *float64, src *float64) {
	if src != nil {
		*dst = *src
	}
}

// TunablesLoader 读取参数文件并监听热更新，更新结果写入 TunableStore。
// 监听的是文件所在目录，编辑器原子替换（rename）同样能触发。
type TunablesLoader struct {
	path    string
	v       *viper.Viper
	store   *config.TunableStore
	watcher *fsnotify.Watcher
	done    chan struct{}
	stop    sync.Once
}

// NewTunablesLoader 读取配置文件并开始监听 FS 事件；用完需 Close。
func NewTunablesLoader(path string, store *config.TunableStore) (*TunablesLoader, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("tunables loader requires path")
	}
	if store == nil {
		return nil, fmt.Errorf("tunables loader requires store")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read tunables failed: %w", err)
	}
	loader := &TunablesLoader{path: filepath.Clean(path), v: v, store: store, done: make(chan struct{})}
	if err := loader.reload(); err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch tunables failed: %w", err)
	}
	if err := w.Add(filepath.Dir(loader.path)); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watch tunables failed: %w", err)
	}
	loader.watcher = w
	go loader.watch()
	return loader, nil
}

// Path returns the watched file.
func (l *TunablesLoader) Path() string { return l.path }

// Close 停止监听并等待监听协程退出，可重复调用。
func (l *TunablesLoader) Close() error {
	var err error
	l.stop.Do(func() {
		err = l.watcher.Close()
		<-l.done
	})
	return err
}

func (l *TunablesLoader) watch() {
	defer close(l.done)
	for {
		select {
		case evt, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(evt.Name) != l.path || evt.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := l.v.ReadInConfig(); err != nil {
				logger.Warnf("tunables re-read failed (%s): %v", evt.Name, err)
				continue
			}
			if err := l.reload(); err != nil {
				logger.Errorf("tunables reload failed (%s): %v", evt.Name, err)
			}
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			logger.Warnf("tunables watcher error: %v", err)
		}
	}
}

func (l *TunablesLoader) reload() error {
	var file TunablesFile
	if err := l.v.Unmarshal(&file); err != nil {
		return fmt.Errorf("parse tunables failed: %w", err)
	}
	if err := l.store.Update(file.Apply); err != nil {
		return fmt.Errorf("tunables rejected: %w", err)
	}
	snap := l.store.Get()
	logger.Infof("Tunables v%d loaded from %s (threshold=%.2f restricted=%d)",
		snap.Version, filepath.Base(l.path), snap.ConsensusThreshold, len(snap.Restricted))
	return nil
}
