package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tribune/internal/logger"
)

// Task 单次调度执行的工作；返回后才会等待下一个边界。
type Task func(ctx context.Context)

// Aligned 在每个 Interval 边界（UTC 对齐，再加 Offset）触发一次任务，任务串行执行。
// 一次执行跨过多个边界时，错过的边界直接跳过，不补跑。
type Aligned struct {
	Name           string
	Interval       time.Duration
	Offset         time.Duration
	RunImmediately bool

	now func() time.Time
}

func NewAligned(name string, interval, offset time.Duration) *Aligned {
	return &Aligned{Name: name, Interval: interval, Offset: offset, now: time.Now}
}

func (s *Aligned) validate() error {
	if s.Interval <= 0 {
		return fmt.Errorf("scheduler %s: interval must be > 0, got %s", s.Name, s.Interval)
	}
	if s.Offset < 0 || s.Offset >= s.Interval {
		return fmt.Errorf("scheduler %s: offset %s outside [0, %s)", s.Name, s.Offset, s.Interval)
	}
	return nil
}

// Run 阻塞直到 ctx 结束；ctx 结束时返回 nil，配置非法时立即返回错误。
func (s *Aligned) Run(ctx context.Context, task Task) error {
	if task == nil {
		return errors.New("scheduler: nil task")
	}
	if err := s.validate(); err != nil {
		return err
	}
	if s.now == nil {
		s.now = time.Now
	}
	log := logger.Ctx(ctx).With("scheduler", s.Name)
	log.Info("scheduler started", "interval", s.Interval, "offset", s.Offset, "run_immediately", s.RunImmediately)

	if s.RunImmediately && ctx.Err() == nil {
		s.execute(ctx, task)
	}
	for {
		wakeAt, wait := s.next(s.now())
		log.Debug("next run scheduled", "at", wakeAt.Format(time.RFC3339), "in", wait.Truncate(time.Second))
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Info("scheduler stopped")
			return nil
		case <-timer.C:
		}
		s.execute(ctx, task)
	}
}

func (s *Aligned) execute(ctx context.Context, task Task) {
	began := s.now()
	task(ctx)
	if took := s.now().Sub(began); took > s.Interval {
		logger.Ctx(ctx).Warn("scheduler run overran interval",
			"scheduler", s.Name, "took", took.Truncate(time.Millisecond), "skipped", int(took/s.Interval))
	}
}

// next 返回下一次执行时刻与等待时长；恰好落在边界上时等到下一个边界。
func (s *Aligned) next(now time.Time) (time.Time, time.Duration) {
	now = now.UTC()
	wakeAt := now.Truncate(s.Interval).Add(s.Offset)
	if !wakeAt.After(now) {
		wakeAt = wakeAt.Add(s.Interval)
	}
	return wakeAt, wakeAt.Sub(now)
}
