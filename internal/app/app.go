package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tribune/internal/config"
	"tribune/internal/logger"
	"tribune/internal/order"
	"tribune/internal/pipeline"
	"tribune/internal/portfolio"
	"tribune/internal/scheduler"
	livehttp "tribune/internal/transport/http/live"

	"golang.org/x/sync/errgroup"
)

// orderRetention 终态订单在内存与存储中的保留时长。
const orderRetention = 30 * 24 * time.Hour

// App 负责应用级编排：加载配置→初始化依赖→启动 HTTP 与定时流水线。
type App struct {
	cfg      *config.Config
	tunables *config.TunableStore
	runner   *pipeline.Runner
	orders   *order.Manager
	book     *portfolio.Book
	http     *livehttp.Server
	closers  []func() error
	Summary  *StartupSummary
}

// NewApp 根据配置构建应用对象（不启动）
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Run 启动 HTTP 与定时流水线，直到 ctx 结束。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil || a.runner == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.Summary != nil {
		a.Summary.Print()
	}
	sc := a.cfg.Scheduler
	var interval time.Duration
	if sc.Enabled && len(sc.Symbols) > 0 {
		d, ok := scheduler.ParseInterval(sc.Interval)
		if !ok {
			return fmt.Errorf("scheduler.interval invalid: %s", sc.Interval)
		}
		interval = d
	}
	group, ctx := errgroup.WithContext(ctx)

	if a.http != nil {
		group.Go(func() error {
			if err := a.http.Start(ctx); err != nil {
				return fmt.Errorf("http server error: %w", err)
			}
			return nil
		})
	}

	if interval > 0 {
		group.Go(func() error {
			sched := scheduler.NewAligned("pipeline", interval, 0)
			sched.RunImmediately = sc.RunOnStart
			return sched.Run(ctx, func(ctx context.Context) {
				a.runCycle(ctx, sc.Symbols)
			})
		})
	}

	group.Go(func() error {
		return scheduler.NewAligned("housekeeping", 24*time.Hour, 5*time.Minute).Run(ctx, a.purgeOrders)
	})

	return group.Wait()
}

func (a *App) runCycle(ctx context.Context, symbols []string) {
	outs, err := a.runner.RunMany(ctx, symbols)
	filled := 0
	for _, out := range outs {
		if out.Executed() {
			filled++
		}
	}
	logger.Infof("[scheduler] cycle done symbols=%d filled=%d", len(outs), filled)
	if err != nil {
		logger.Errorf("[scheduler] invariant violation during cycle: %v", err)
	}
}

func (a *App) purgeOrders(ctx context.Context) {
	removed, err := a.orders.Purge(ctx, time.Now().Add(-orderRetention))
	if err != nil {
		logger.Warnf("[housekeeping] purge orders failed: %v", err)
		return
	}
	if removed > 0 {
		logger.Infof("[housekeeping] purged %d terminal orders", removed)
	}
}

// Runner exposes the pipeline (for tests and replay harnesses).
func (a *App) Runner() *pipeline.Runner {
	if a == nil {
		return nil
	}
	return a.runner
}

// Close 停止组合写入循环并关闭存储，可重复调用。
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	if a.book != nil {
		a.book.Stop()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
