package consensus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tribune/internal/config"
	"tribune/internal/logger"
	"tribune/internal/pkg/symbol"
	"tribune/internal/types"

	"golang.org/x/sync/errgroup"
)

// Recorder 接收每个信号源的调用结果，用于指标统计。
type Recorder interface {
	ObserveSource(source string, elapsed time.Duration, signals int, err error)
	ObserveDecision(decision types.ConsensusDecision)
}

type nopRecorder struct{}

func (nopRecorder) ObserveSource(string, time.Duration, int, error) {}
func (nopRecorder) ObserveDecision(types.ConsensusDecision)         {}

// Aggregator 并发调用所有信号源并归约成共识决策。
type Aggregator struct {
	registry *Registry
	tunables *config.TunableStore
	recorder Recorder
	now      func() time.Time

	mu     sync.Mutex
	cycles map[string]uint64
}

type Option func(*Aggregator)

func WithRecorder(r Recorder) Option {
	return func(a *Aggregator) {
		if r != nil {
			a.recorder = r
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		if now != nil {
			a.now = now
		}
	}
}

func NewAggregator(registry *Registry, tunables *config.TunableStore, opts ...Option) *Aggregator {
	a := &Aggregator{
		registry: registry,
		tunables: tunables,
		recorder: nopRecorder{},
		now:      time.Now,
		cycles:   make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Aggregator) Registry() *Registry { return a.registry }

// Threshold 返回当前生效的阈值。
func (a *Aggregator) Threshold() float64 {
	return a.tunables.Get().ConsensusThreshold
}

// SetThreshold 更新阈值，取值必须在 (0, 1]。
func (a *Aggregator) SetThreshold(v float64) error {
	if v <= 0 || v > 1 {
		return fmt.Errorf("threshold must be in (0, 1], got %v", v)
	}
	return a.tunables.Update(func(t *config.Tunables) { t.ConsensusThreshold = v })
}

// GetConsensus 使用注册表中的全部信号源。
func (a *Aggregator) GetConsensus(ctx context.Context, sym string) types.ConsensusDecision {
	return a.GetConsensusFrom(ctx, sym, a.registry.Sources())
}

// GetConsensusFrom 对给定信号源做扇出收集。单个源超时、出错或 panic
// 只贡献零条信号并记入 FailedSources，不影响其他源。
func (a *Aggregator) GetConsensusFrom(ctx context.Context, sym string, sources []Source) types.ConsensusDecision {
	tun := a.tunables.Get()
	results := make([][]types.Signal, len(sources))
	failures := make([]error, len(sources))

	var group errgroup.Group
	for i, src := range sources {
		if src == nil {
			continue
		}
		group.Go(func() error {
			start := time.Now()
			sigs, err := collect(ctx, src, sym, tun.SourceTimeout)
			a.recorder.ObserveSource(src.Name(), time.Since(start), len(sigs), err)
			if err != nil {
				failures[i] = err
				logger.Warnf("consensus %s: source %s failed: %v", sym, src.Name(), err)
				return nil
			}
			results[i] = sigs
			return nil
		})
	}
	_ = group.Wait()

	var all []types.Signal
	var failed []string
	for i, sigs := range results {
		if failures[i] != nil {
			failed = append(failed, sources[i].Name())
			continue
		}
		all = append(all, sigs...)
	}

	decision := Reduce(symbol.Key(sym), all, tun.ConsensusThreshold)
	decision.FailedSources = failed
	decision.DecidedAt = a.now()
	decision.Cycle = a.nextCycle(decision.Symbol)
	a.recorder.ObserveDecision(decision)
	logger.Infof("consensus %s cycle=%d: %s conf=%.2f (buy=%d sell=%d hold=%d malformed=%d failed=%d)",
		decision.Symbol, decision.Cycle, decision.Action, decision.Confidence,
		decision.BuyVotes, decision.SellVotes, decision.HoldVotes, decision.Malformed, len(failed))
	return decision
}

func (a *Aggregator) nextCycle(sym string) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cycles[sym]++
	return a.cycles[sym]
}

type sourceResult struct {
	signals []types.Signal
	err     error
}

// collect 在独立 goroutine 中运行信号源，超时后直接返回，
// 不等待不响应 ctx 的实现。
func collect(ctx context.Context, src Source, sym string, timeout time.Duration) ([]types.Signal, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan sourceResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- sourceResult{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		sigs, err := src.GenerateSignals(runCtx, sym)
		done <- sourceResult{signals: sigs, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrSourceFailure, res.err)
		}
		return res.signals, nil
	case <-runCtx.Done():
		return nil, fmt.Errorf("%w: %v", types.ErrSourceFailure, runCtx.Err())
	}
}
